package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/framesight/framesight-agent/internal/aggregate"
	"github.com/framesight/framesight-agent/internal/capability"
	"github.com/framesight/framesight-agent/internal/config"
	"github.com/framesight/framesight-agent/internal/detect"
	"github.com/framesight/framesight-agent/internal/entity"
	"github.com/framesight/framesight-agent/internal/extract"
	"github.com/framesight/framesight-agent/internal/jobs"
	"github.com/framesight/framesight-agent/internal/report"
	"github.com/framesight/framesight-agent/internal/transcript"
)

// Progress writes are debounced: at most one per interval or per burst
// of frames, whichever comes first. Stage milestones bypass the
// debounce.
const (
	progressInterval = 250 * time.Millisecond
	progressBurst    = 5
)

// Fetcher downloads a URL submission into the job's video slot. cookies
// is the stored cookie file content, empty when none was submitted.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL, cookies, destPath string) error
}

// FrameExtractor is the extraction dependency of the driver.
type FrameExtractor interface {
	Extract(ctx context.Context, videoPath, outDir string, opts extract.Options) (*extract.Result, error)
}

// ReportIndexer ingests a finalized report into the search index.
type ReportIndexer interface {
	IngestReport(ctx context.Context, job *jobs.Job, rep *entity.Report) error
}

// Driver walks one job through the stage table. Stage budgets are soft:
// expiry fails the job with stage_timeout:<stage> at the next boundary.
type Driver struct {
	cfg       config.Config
	service   *jobs.Service
	layout    *jobs.Layout
	extractor FrameExtractor
	caps      *capability.Set
	fetcher   Fetcher
	index     ReportIndexer
	registry  *Registry
	timeouts  map[string]time.Duration
	heartbeat time.Duration
	logger    *slog.Logger
}

func NewDriver(cfg config.Config, service *jobs.Service, extractor FrameExtractor, caps *capability.Set, fetcher Fetcher, index ReportIndexer, registry *Registry, logger *slog.Logger) *Driver {
	beat := cfg.StaleAfter() / 3
	if beat > time.Minute {
		beat = time.Minute
	}
	return &Driver{
		cfg:       cfg,
		service:   service,
		layout:    service.Layout(),
		extractor: extractor,
		caps:      caps,
		fetcher:   fetcher,
		index:     index,
		registry:  registry,
		timeouts: map[string]time.Duration{
			jobs.StageExtractingFrames:  cfg.ExtractTimeout(),
			jobs.StageTranscribingAudio: cfg.TranscribeTimeout(),
			jobs.StageDetectingEntities: cfg.DetectTimeout(),
			jobs.StageAggregatingReport: cfg.AggregateTimeout(),
			jobs.StageIndexingSearch:    cfg.IndexTimeout(),
		},
		heartbeat: beat,
		logger:    logger,
	}
}

// Process drives one task to a terminal job state. The returned error
// is for the worker's log only; by the time Process returns, the job
// row reflects the outcome unless the agent itself is shutting down.
func (d *Driver) Process(ctx context.Context, videoID string) error {
	logger := d.logger.With("video_id", videoID)

	job, err := d.service.Get(ctx, videoID)
	if errors.Is(err, jobs.ErrNotFound) {
		d.registry.Forget(videoID)
		logger.Warn("task refers to a deleted job, dropping")
		return nil
	}
	if err != nil {
		return err
	}
	if job.Terminal() {
		d.registry.Forget(videoID)
		logger.Info("task for terminal job acknowledged", "status", job.Status)
		return nil
	}

	if err := d.service.BeginProcessing(ctx, videoID); err != nil {
		if errors.Is(err, jobs.ErrIllegalTransition) {
			logger.Info("job claimed elsewhere, dropping duplicate task")
			return nil
		}
		return err
	}

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	handle := d.registry.Begin(videoID, cancel)
	defer handle.Close()
	go d.heartbeatLoop(jobCtx, videoID)

	if handle.Requested() {
		return d.finalize(videoID, jobs.ErrCancelled, logger)
	}

	started := time.Now()
	if err := d.run(jobCtx, job); err != nil {
		if handle.Requested() {
			return d.finalize(videoID, jobs.ErrCancelled, logger)
		}
		if ctx.Err() != nil {
			// Shutdown, not a job fault: leave the row processing so
			// the stale sweep re-queues it on the next boot.
			logger.Warn("job interrupted by shutdown", "error", err)
			return err
		}
		return d.finalize(videoID, err, logger)
	}

	logger.Info("job pipeline finished", "duration", time.Since(started))
	return nil
}

// finalize records the failure and removes partial derived artifacts.
// The stored video and voice file survive for a re-submission.
func (d *Driver) finalize(videoID string, cause error, logger *slog.Logger) error {
	d.service.DiscardDerived(videoID)
	if err := d.service.Fail(context.Background(), videoID, cause); err != nil {
		logger.Error("failed to record job failure", "cause", cause, "error", err)
		return err
	}
	return nil
}

func (d *Driver) run(ctx context.Context, job *jobs.Job) error {
	ext, videoPath, err := d.extractFrames(ctx, job)
	if err != nil {
		return err
	}

	tr := d.transcribeStage(ctx, job, videoPath)

	det, err := d.detectStage(ctx, job, ext.Frames)
	if err != nil {
		return err
	}

	rep, err := d.assembleStage(ctx, job, ext, det, tr)
	if err != nil {
		return err
	}

	d.progress(ctx, job.VideoID, jobs.StageIndexingSearch, "indexing entities", 95)
	if err := d.service.Complete(ctx, job.VideoID, rep); err != nil {
		return fmt.Errorf("%w: finalize job: %v", jobs.ErrPersistence, err)
	}
	d.indexStage(ctx, job, rep)
	return nil
}

// extractFrames covers the 0-20 budget: resolve the video, downloading
// URL submissions first, sample frames, record what extraction learned.
func (d *Driver) extractFrames(ctx context.Context, job *jobs.Job) (*extract.Result, string, error) {
	videoID := job.VideoID
	videoPath := job.VideoPath
	var res *extract.Result

	err := d.stage(ctx, jobs.StageExtractingFrames, func(sc context.Context) error {
		if videoPath == "" {
			// A crash between download and the media write leaves the
			// file on disk without a recorded path.
			if found, ferr := d.layout.FindVideo(videoID); ferr == nil {
				videoPath = found
			}
		}
		if videoPath == "" {
			if job.SourceURL == "" {
				return fmt.Errorf("%w: job has neither stored video nor source url", jobs.ErrInputInvalid)
			}
			d.progress(sc, videoID, jobs.StageExtractingFrames, "downloading video", 2)
			videoPath = d.layout.VideoPath(videoID, job.Filename)
			if err := d.fetcher.Fetch(sc, job.SourceURL, d.readCookies(videoID), videoPath); err != nil {
				return fmt.Errorf("%w: %v", jobs.ErrExtractionFailed, err)
			}
			os.Remove(d.layout.CookiesPath(videoID))
		}

		d.progress(sc, videoID, jobs.StageExtractingFrames, "extracting frames", 5)
		r, err := d.extractor.Extract(sc, videoPath, d.layout.FramesDir(videoID), extract.Options{
			IntervalSec:   job.IntervalSec,
			SmartSampling: d.cfg.SmartSampling(),
			SceneDiffMin:  d.cfg.SmartSamplingDiffThreshold(),
			MinKeepFrames: d.cfg.SmartSamplingMinKeep(),
		})
		if err != nil {
			return fmt.Errorf("%w: %v", jobs.ErrExtractionFailed, err)
		}
		res = r
		return nil
	})
	if err != nil {
		return nil, "", err
	}

	if err := d.service.SetMedia(ctx, videoID, videoPath, d.layout.FramesDir(videoID), res.DurationSec, len(res.Frames)); err != nil {
		return nil, "", fmt.Errorf("%w: record media: %v", jobs.ErrPersistence, err)
	}
	d.progress(ctx, videoID, jobs.StageExtractingFrames, fmt.Sprintf("extracted %d frames", len(res.Frames)), 20)
	return res, videoPath, nil
}

// transcribeStage runs at the 20-point mark and never fails the job: a
// voice file takes precedence over the speech sidecar, and every
// failure mode lands in the transcript's error field instead.
func (d *Driver) transcribeStage(ctx context.Context, job *jobs.Job, videoPath string) *entity.Transcript {
	videoID := job.VideoID

	if job.VoiceFile == "" && d.caps.Transcriber == nil {
		d.logger.Info("transcriber unavailable, skipping stage", "video_id", videoID)
		return nil
	}
	d.progress(ctx, videoID, jobs.StageTranscribingAudio, "transcribing audio", 20)

	var tr *entity.Transcript
	err := d.stage(ctx, jobs.StageTranscribingAudio, func(sc context.Context) error {
		if job.VoiceFile != "" {
			parsed, perr := transcript.ParseFile(job.VoiceFile)
			if perr != nil {
				return fmt.Errorf("%w: %v", jobs.ErrTranscript, perr)
			}
			tr = parsed
			return nil
		}
		spoken, terr := d.caps.Transcriber.Transcribe(sc, videoPath)
		if terr != nil {
			return fmt.Errorf("%w: %v", jobs.ErrTranscript, terr)
		}
		tr = spoken
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil // cancellation surfaces at the next stage boundary
		}
		d.logger.Warn("transcription failed, continuing without speech",
			"video_id", videoID, "error", err)
		return &entity.Transcript{Segments: []entity.TranscriptSegment{}, Error: err.Error()}
	}
	return tr
}

// detectStage covers the 20-80 budget. Source failures degrade the
// result; a dead object detector is the one fatal case.
func (d *Driver) detectStage(ctx context.Context, job *jobs.Job, frames []entity.Frame) (*detect.Result, error) {
	videoID := job.VideoID
	d.progress(ctx, videoID, jobs.StageDetectingEntities, "analyzing frames", 20)

	engine := detect.NewEngine(d.caps, d.detectParams(), d.logger)
	var det *detect.Result
	thr := &throttle{}

	err := d.stage(ctx, jobs.StageDetectingEntities, func(sc context.Context) error {
		res, err := engine.Run(sc, d.layout.FramesDir(videoID), frames, func(processed, total int) {
			if total == 0 || !thr.allow(processed, total) {
				return
			}
			d.progress(sc, videoID, jobs.StageDetectingEntities,
				fmt.Sprintf("analyzing frames (%d/%d)", processed, total),
				20+processed*60/total)
		})
		det = res
		return err
	})
	if err != nil {
		return nil, err
	}

	if d.caps.Objects != nil {
		if msg := det.SourceErrors[entity.SourceYOLO]; msg != "" {
			return nil, fmt.Errorf("%w: object detector failed on every frame: %s", jobs.ErrCapabilityRuntime, msg)
		}
	}
	d.progress(ctx, videoID, jobs.StageDetectingEntities, "detection finished", 80)
	return det, nil
}

// assembleStage covers 80-95: aggregate detections into entities, trim
// the frame index down to report-consistent detections, draw overlays,
// write the artifacts.
func (d *Driver) assembleStage(ctx context.Context, job *jobs.Job, ext *extract.Result, det *detect.Result, tr *entity.Transcript) (*entity.Report, error) {
	videoID := job.VideoID
	d.progress(ctx, videoID, jobs.StageAggregatingReport, "aggregating entities", 80)

	var rep *entity.Report
	err := d.stage(ctx, jobs.StageAggregatingReport, func(sc context.Context) error {
		entities := aggregate.Build(det.Frames, d.aggregateConfig(det.Confirmed))
		frames := aggregate.FilterDetections(det.Frames, entities, det.Confirmed)

		if d.cfg.AnnotateFrames() {
			report.Annotate(d.layout.FramesDir(videoID), d.layout.AnnotatedDir(videoID), frames, d.logger)
		}

		rep = report.Build(report.Params{
			VideoID:     videoID,
			Filename:    job.Filename,
			DurationSec: ext.DurationSec,
			IntervalSec: job.IntervalSec,
		}, len(det.Frames), entities, tr)

		if err := report.WriteFrames(d.layout.FramesIndexPath(videoID), frames); err != nil {
			return fmt.Errorf("%w: write frame index: %v", jobs.ErrPersistence, err)
		}
		if tr != nil {
			if err := report.WriteTranscript(d.layout.TranscriptPath(videoID), tr); err != nil {
				return fmt.Errorf("%w: write transcript: %v", jobs.ErrPersistence, err)
			}
		}
		if err := report.WriteReport(d.layout.ReportPath(videoID), rep); err != nil {
			return fmt.Errorf("%w: write report: %v", jobs.ErrPersistence, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	d.progress(ctx, videoID, jobs.StageAggregatingReport, "report written", 95)
	return rep, nil
}

// indexStage runs after the job is already completed: a broken index
// never undoes a finished job, and the next rebuild repairs it.
func (d *Driver) indexStage(ctx context.Context, job *jobs.Job, rep *entity.Report) {
	if d.index == nil {
		return
	}
	indexed := *job
	indexed.Status = jobs.StatusCompleted
	err := d.stage(ctx, jobs.StageIndexingSearch, func(sc context.Context) error {
		return d.index.IngestReport(sc, &indexed, rep)
	})
	if err != nil {
		d.logger.Warn("search indexing failed, job remains completed",
			"video_id", job.VideoID, "error", err)
	}
}

// stage runs fn under the stage's soft budget. A budget expiry is
// reported as stage_timeout:<name>; parent-context cancellation passes
// through untouched for the caller to classify.
func (d *Driver) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	stageCtx := ctx
	cancel := context.CancelFunc(func() {})
	if budget := d.timeouts[name]; budget > 0 {
		stageCtx, cancel = context.WithTimeout(ctx, budget)
	}
	defer cancel()

	err := fn(stageCtx)
	if err == nil {
		return nil
	}
	if stageCtx.Err() != nil && ctx.Err() == nil {
		return fmt.Errorf("%w:%s", jobs.ErrStageTimeout, name)
	}
	return err
}

func (d *Driver) progress(ctx context.Context, videoID, stage, text string, pct int) {
	if err := d.service.Progress(ctx, videoID, stage, text, pct); err != nil {
		d.logger.Warn("progress update failed",
			"video_id", videoID, "stage", stage, "error", err)
	}
}

// heartbeatLoop keeps updated_at fresh while a stage runs without
// writing progress, so the stale sweep does not reclaim a live job.
func (d *Driver) heartbeatLoop(ctx context.Context, videoID string) {
	ticker := time.NewTicker(d.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.service.Heartbeat(ctx, videoID); err != nil {
				return
			}
		}
	}
}

// readCookies loads the cookie file stored at submission, empty when
// none exists.
func (d *Driver) readCookies(videoID string) string {
	data, err := os.ReadFile(d.layout.CookiesPath(videoID))
	if err != nil {
		return ""
	}
	return string(data)
}

func (d *Driver) detectParams() detect.Params {
	return detect.Params{
		MinConfidence: d.cfg.MinConfidence(),
		LabelMap:      entity.DefaultLabelMap(),

		DiscoveryEnabled:      d.cfg.DiscoveryEnabled(),
		DiscoveryEveryN:       d.cfg.DiscoveryEveryN(),
		DiscoveryMinScore:     d.cfg.DiscoveryMinScore(),
		DiscoveryMaxPhrases:   d.cfg.DiscoveryMaxPhrases(),
		DiscoveryOnlyMilitary: d.cfg.DiscoveryOnlyMilitary(),

		OpenVocabEnabled:   d.cfg.OpenVocabEnabled(),
		OpenVocabEveryN:    d.cfg.OpenVocabEveryN(),
		OpenVocabThreshold: d.cfg.OpenVocabThreshold(),
		OpenVocabLabels:    d.cfg.OpenVocabLabels(),

		VerifyEnabled:   d.cfg.VerifyEnabled(),
		VerifyEveryN:    d.cfg.VerifyEveryN(),
		VerifyThreshold: d.cfg.VerifyThreshold(),
		VerifyMaxLabels: d.cfg.VerifyMaxLabels(),

		OcrEnabled:       d.cfg.OcrEnabled(),
		OcrEveryN:        d.cfg.OcrEveryN(),
		OcrMinConfidence: d.cfg.OcrMinConfidence(),
	}
}

func (d *Driver) aggregateConfig(confirmed map[string]bool) aggregate.Config {
	return aggregate.Config{
		MinConsecutive: aggregate.DefaultRules(
			d.cfg.MinConsecutive(),
			d.cfg.OpenVocabMinConsecutive(),
			d.cfg.DiscoveryMinConsecutive(),
		),
		EveryN: map[string]int{
			entity.SourceYOLO:      1,
			entity.SourceDiscovery: d.cfg.DiscoveryEveryN(),
			entity.SourceOpenVocab: d.cfg.OpenVocabEveryN(),
			entity.SourceVerify:    d.cfg.VerifyEveryN(),
			entity.SourceOCR:       d.cfg.OcrEveryN(),
		},
		ConfidenceMinScore: d.cfg.ConfidenceMinScore(),
		Confirmed:          confirmed,
	}
}

type throttle struct {
	last     time.Time
	lastUnit int
}

// allow reports whether a progress write for cumulative unit count n
// should go through. The final unit always flushes.
func (t *throttle) allow(n, total int) bool {
	if n >= total || n-t.lastUnit >= progressBurst || time.Since(t.last) >= progressInterval {
		t.last = time.Now()
		t.lastUnit = n
		return true
	}
	return false
}
