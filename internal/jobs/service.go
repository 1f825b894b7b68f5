package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/framesight/framesight-agent/internal/broker"
	"github.com/framesight/framesight-agent/internal/entity"
)

// Indexer is the slice of the search index the job service needs:
// forgetting deleted videos. Report ingestion happens in the pipeline.
type Indexer interface {
	RemoveVideo(videoID string)
}

// Canceller delivers cooperative cancellation to the worker that owns a
// processing job.
type Canceller interface {
	RequestCancel(videoID string)
}

// Service is the façade over job state shared by the HTTP API and the
// worker pool. All status transitions funnel through here.
type Service struct {
	repo       Repository
	queue      broker.Broker
	layout     *Layout
	staleAfter time.Duration
	logger     *slog.Logger

	index     Indexer
	canceller Canceller
}

func NewService(repo Repository, queue broker.Broker, layout *Layout, staleAfter time.Duration, logger *slog.Logger) *Service {
	return &Service{
		repo:       repo,
		queue:      queue,
		layout:     layout,
		staleAfter: staleAfter,
		logger:     logger,
	}
}

// SetIndexer and SetCanceller wire collaborators that are constructed
// after the service. Both are optional.
func (s *Service) SetIndexer(index Indexer)         { s.index = index }
func (s *Service) SetCanceller(canceller Canceller) { s.canceller = canceller }

// Layout exposes the artifact tree to handlers that serve files.
func (s *Service) Layout() *Layout { return s.layout }

type SubmitRequest struct {
	Filename    string
	IntervalSec int
	Video       io.Reader // uploaded content; nil for URL submissions
	SourceURL   string    // fetched by the worker when Video is nil
	Cookies     io.Reader // optional cookie file for the fetch
	VoiceName   string
	Voice       io.Reader
}

// Submit validates a submission, stores the upload, creates the job row
// and enqueues its task. If the queue is full everything is rolled back
// and broker.ErrQueueFull is returned: from the caller's perspective the
// submission never happened.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Job, error) {
	if req.Filename == "" {
		return nil, fmt.Errorf("%w: filename required", ErrInputInvalid)
	}
	if !IsVideoFile(req.Filename) {
		return nil, fmt.Errorf("%w: unsupported video type %q", ErrInputInvalid, filepath.Ext(req.Filename))
	}
	if req.Video == nil && req.SourceURL == "" {
		return nil, fmt.Errorf("%w: no video content or source url", ErrInputInvalid)
	}
	if req.IntervalSec < 1 {
		req.IntervalSec = 1
	}

	videoID := NewVideoID()
	now := time.Now().UTC()
	job := &Job{
		VideoID:     videoID,
		Filename:    req.Filename,
		IntervalSec: req.IntervalSec,
		SourceURL:   req.SourceURL,
		Status:      StatusQueued,
		StatusText:  "queued",
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if req.Video != nil {
		path := s.layout.VideoPath(videoID, req.Filename)
		if err := writeStream(path, req.Video); err != nil {
			s.discardArtifacts(videoID)
			return nil, fmt.Errorf("%w: store upload: %v", ErrPersistence, err)
		}
		job.VideoPath = path
	}
	if req.Voice != nil && req.VoiceName != "" {
		path := s.layout.VoicePath(videoID, req.VoiceName)
		if err := writeStream(path, req.Voice); err != nil {
			s.discardArtifacts(videoID)
			return nil, fmt.Errorf("%w: store voice file: %v", ErrPersistence, err)
		}
		job.VoiceFile = path
	}
	if req.Cookies != nil && req.SourceURL != "" {
		if err := writeStream(s.layout.CookiesPath(videoID), req.Cookies); err != nil {
			s.discardArtifacts(videoID)
			return nil, fmt.Errorf("%w: store cookie file: %v", ErrPersistence, err)
		}
	}

	if err := s.repo.CreateJob(ctx, job); err != nil {
		s.discardArtifacts(videoID)
		return nil, fmt.Errorf("%w: create job: %v", ErrPersistence, err)
	}

	if err := s.queue.Publish(ctx, broker.Task{VideoID: videoID}); err != nil {
		if _, derr := s.repo.DeleteJob(ctx, videoID, time.Now()); derr != nil {
			s.logger.Error("failed to roll back unqueued job", "video_id", videoID, "error", derr)
		}
		s.discardArtifacts(videoID)
		if errors.Is(err, broker.ErrQueueFull) {
			return nil, err
		}
		return nil, fmt.Errorf("enqueue task: %w", err)
	}

	s.logger.Info("job submitted",
		"video_id", videoID,
		"filename", req.Filename,
		"interval_sec", req.IntervalSec,
		"from_url", req.SourceURL != "")
	return job, nil
}

func (s *Service) Get(ctx context.Context, videoID string) (*Job, error) {
	job, err := s.repo.GetJob(ctx, videoID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrNotFound
	}
	return job, nil
}

var listableStatuses = map[string]bool{
	"":               true,
	StatusQueued:     true,
	StatusProcessing: true,
	StatusCompleted:  true,
	StatusFailed:     true,
}

// List returns one page of jobs, newest first, plus the total count for
// the filter.
func (s *Service) List(ctx context.Context, status string, page, pageSize int) ([]*Job, int, error) {
	if !listableStatuses[status] {
		return nil, 0, fmt.Errorf("%w: unknown status %q", ErrInputInvalid, status)
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	jobs, err := s.repo.ListJobs(ctx, status, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.repo.CountJobs(ctx, status)
	if err != nil {
		return nil, 0, err
	}
	return jobs, total, nil
}

// Report loads the canonical report of a completed job. A job that is
// not yet completed returns ErrNotReady with its current status.
func (s *Service) Report(ctx context.Context, videoID string) (*entity.Report, error) {
	job, err := s.Get(ctx, videoID)
	if err != nil {
		return nil, err
	}
	if job.Status != StatusCompleted {
		return nil, fmt.Errorf("%w: job is %s", ErrNotReady, job.Status)
	}

	path := job.ReportPath
	if path == "" {
		path = s.layout.ReportPath(videoID)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read report: %v", ErrPersistence, err)
	}
	var report entity.Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("%w: decode report: %v", ErrPersistence, err)
	}
	return &report, nil
}

// Delete removes the job row, its artifacts and its search entries. A
// processing job cannot be deleted until its heartbeat has gone stale,
// which recovers jobs abandoned by a crashed worker.
func (s *Service) Delete(ctx context.Context, videoID string) error {
	deleted, err := s.repo.DeleteJob(ctx, videoID, time.Now().Add(-s.staleAfter))
	if err != nil {
		return err
	}
	if !deleted {
		job, gerr := s.repo.GetJob(ctx, videoID)
		if gerr != nil {
			return gerr
		}
		if job == nil {
			return ErrNotFound
		}
		return ErrConflict
	}

	s.discardArtifacts(videoID)
	if s.index != nil {
		s.index.RemoveVideo(videoID)
	}
	s.logger.Info("job deleted", "video_id", videoID)
	return nil
}

// Cancel requests cancellation. A queued job fails immediately; a
// processing job is cancelled cooperatively by its worker at the next
// checkpoint. Terminal jobs return ErrConflict.
func (s *Service) Cancel(ctx context.Context, videoID string) (*Job, error) {
	job, err := s.Get(ctx, videoID)
	if err != nil {
		return nil, err
	}
	if job.Terminal() {
		return nil, fmt.Errorf("%w: job already %s", ErrConflict, job.Status)
	}

	if s.canceller != nil {
		s.canceller.RequestCancel(videoID)
	}
	if job.Status == StatusQueued {
		err := s.repo.MarkFailed(ctx, videoID, ErrCancelled.Error())
		if err != nil && !errors.Is(err, ErrIllegalTransition) {
			return nil, err
		}
		// ErrIllegalTransition means a worker claimed the job between the
		// read and the write; the cancel flag covers that worker.
	}

	s.logger.Info("cancellation requested", "video_id", videoID, "status", job.Status)
	return s.Get(ctx, videoID)
}

// BeginProcessing claims a queued job for a worker.
func (s *Service) BeginProcessing(ctx context.Context, videoID string) error {
	return s.repo.MarkProcessing(ctx, videoID)
}

// Progress records stage, text and clamped-monotonic progress.
func (s *Service) Progress(ctx context.Context, videoID, stage, statusText string, progress int) error {
	return s.repo.UpdateProgress(ctx, videoID, stage, statusText, progress)
}

// Heartbeat keeps a processing job out of the stale sweep while a long
// quiet stage runs.
func (s *Service) Heartbeat(ctx context.Context, videoID string) error {
	return s.repo.TouchProcessing(ctx, videoID)
}

// SetMedia records what extraction learned about the video.
func (s *Service) SetMedia(ctx context.Context, videoID, videoPath, framesDir string, durationSec float64, framesAnalyzed int) error {
	return s.repo.UpdateMedia(ctx, videoID, videoPath, framesDir, durationSec, framesAnalyzed)
}

// Complete finalizes a job with its report.
func (s *Service) Complete(ctx context.Context, videoID string, report *entity.Report) error {
	summary, err := json.Marshal(report.Entities)
	if err != nil {
		return fmt.Errorf("%w: encode entity summary: %v", ErrPersistence, err)
	}
	if err := s.repo.MarkCompleted(ctx, videoID, report.UniqueEntities, string(summary), s.layout.ReportPath(videoID)); err != nil {
		return err
	}
	s.logger.Info("job completed",
		"video_id", videoID,
		"unique_entities", report.UniqueEntities,
		"frames_analyzed", report.FramesAnalyzed)
	return nil
}

// Fail finalizes a job with an error. The message is surfaced verbatim
// on status reads.
func (s *Service) Fail(ctx context.Context, videoID string, cause error) error {
	if err := s.repo.MarkFailed(ctx, videoID, cause.Error()); err != nil {
		return err
	}
	s.logger.Warn("job failed", "video_id", videoID, "error", cause)
	return nil
}

// DiscardDerived removes frames and reports so a re-run starts clean.
func (s *Service) DiscardDerived(videoID string) {
	if err := s.layout.RemoveDerived(videoID); err != nil {
		s.logger.Warn("failed to discard derived artifacts", "video_id", videoID, "error", err)
	}
}

// RecoverStale resets processing jobs whose heartbeat is older than the
// stale window, discards their partial artifacts and re-enqueues them.
// It also re-publishes queued jobs whose tasks appear lost. Returns the
// number of tasks published.
func (s *Service) RecoverStale(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-s.staleAfter)

	stale, err := s.repo.ListStaleProcessing(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	published := 0
	for _, job := range stale {
		err := s.repo.ResetToQueued(ctx, job.VideoID)
		if errors.Is(err, ErrIllegalTransition) {
			continue // finished while we looked
		}
		if err != nil {
			return published, err
		}
		s.DiscardDerived(job.VideoID)
		if err := s.publishExisting(ctx, job.VideoID); err != nil {
			s.logger.Warn("failed to re-enqueue stale job", "video_id", job.VideoID, "error", err)
			continue
		}
		published++
		s.logger.Info("stale job re-queued", "video_id", job.VideoID)
	}

	queued, err := s.repo.ListQueuedBefore(ctx, cutoff)
	if err != nil {
		return published, err
	}
	for _, job := range queued {
		if err := s.publishExisting(ctx, job.VideoID); err != nil {
			if !errors.Is(err, broker.ErrQueueFull) {
				s.logger.Warn("failed to re-publish queued job", "video_id", job.VideoID, "error", err)
			}
			continue
		}
		published++
	}
	return published, nil
}

// publishExisting re-enqueues a job that already has a row and bumps its
// heartbeat so the next sweep does not publish it again.
func (s *Service) publishExisting(ctx context.Context, videoID string) error {
	if err := s.queue.Publish(ctx, broker.Task{VideoID: videoID}); err != nil {
		return err
	}
	if err := s.repo.TouchQueued(ctx, videoID); err != nil && !errors.Is(err, ErrIllegalTransition) {
		s.logger.Warn("failed to touch re-published job", "video_id", videoID, "error", err)
	}
	return nil
}

func (s *Service) discardArtifacts(videoID string) {
	if err := s.layout.RemoveJob(videoID); err != nil {
		s.logger.Warn("failed to remove job artifacts", "video_id", videoID, "error", err)
	}
}

func writeStream(path string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}
