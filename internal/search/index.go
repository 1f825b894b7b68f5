// Package search answers entity queries over every completed job. The
// index lives in memory behind a read-write lock and is rebuilt from
// the persisted reports at startup; the per-label embedding cache is
// shared across videos and persisted beside the reports.
package search

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/framesight/framesight-agent/internal/capability"
	"github.com/framesight/framesight-agent/internal/entity"
	"github.com/framesight/framesight-agent/internal/jobs"
	"github.com/framesight/framesight-agent/internal/report"
)

const rebuildPageSize = 200

// JobLister is the slice of the job store a rebuild needs.
type JobLister interface {
	ListJobs(ctx context.Context, status string, limit, offset int) ([]*jobs.Job, error)
}

type labelStats struct {
	presence    float64
	appearances int
	tokens      map[string]bool
}

type videoEntry struct {
	videoID     string
	filename    string
	status      string
	durationSec float64
	createdAt   time.Time
	labels      map[string]labelStats
}

// Index is the in-memory search surface. Queries take the read lock;
// ingesting a finished job briefly takes the write lock to swap in its
// rows.
type Index struct {
	embedder capability.Embedder
	cache    *labelCache
	logger   *slog.Logger

	mu     sync.RWMutex
	videos map[string]*videoEntry
}

// New builds an empty index. The embedder is optional; without it the
// semantic pass falls back to token overlap. cachePath is the shared
// labels.json under the reports root.
func New(cachePath string, embedder capability.Embedder, logger *slog.Logger) *Index {
	ix := &Index{
		embedder: embedder,
		cache:    newLabelCache(cachePath),
		logger:   logger,
		videos:   make(map[string]*videoEntry),
	}
	if err := ix.cache.load(); err != nil {
		logger.Warn("label embedding cache unreadable, starting empty", "path", cachePath, "error", err)
	}
	return ix
}

// IngestReport replaces the index rows for one completed job and embeds
// any labels the cache has not seen. Embedding failures degrade the
// semantic pass but never the ingest.
func (ix *Index) IngestReport(ctx context.Context, job *jobs.Job, rep *entity.Report) error {
	entry := buildEntry(job, rep)

	ix.mu.Lock()
	ix.videos[job.VideoID] = entry
	ix.mu.Unlock()

	labels := make([]string, 0, len(rep.Entities))
	for label := range rep.Entities {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	if err := ix.cache.ensure(ctx, ix.embedder, labels); err != nil {
		ix.logger.Warn("label embedding failed, semantic search degraded",
			"video_id", job.VideoID, "error", err)
		return err
	}
	return nil
}

// RemoveVideo forgets a deleted job. Cached embeddings stay: labels are
// shared across videos and re-embedding them is the expensive part.
func (ix *Index) RemoveVideo(videoID string) {
	ix.mu.Lock()
	delete(ix.videos, videoID)
	ix.mu.Unlock()
}

// Rebuild repopulates the index by walking every completed job and
// loading its persisted report. Jobs whose report is missing or
// unreadable are skipped with a warning. Returns the number of videos
// indexed.
func (ix *Index) Rebuild(ctx context.Context, source JobLister, layout *jobs.Layout) (int, error) {
	videos := make(map[string]*videoEntry)
	labelSet := make(map[string]bool)

	for offset := 0; ; offset += rebuildPageSize {
		page, err := source.ListJobs(ctx, jobs.StatusCompleted, rebuildPageSize, offset)
		if err != nil {
			return 0, err
		}
		for _, job := range page {
			path := job.ReportPath
			if path == "" {
				path = layout.ReportPath(job.VideoID)
			}
			rep, err := report.ReadReport(path)
			if err != nil {
				ix.logger.Warn("skipping unreadable report", "video_id", job.VideoID, "error", err)
				continue
			}
			videos[job.VideoID] = buildEntry(job, rep)
			for label := range rep.Entities {
				labelSet[label] = true
			}
		}
		if len(page) < rebuildPageSize {
			break
		}
	}

	ix.mu.Lock()
	ix.videos = videos
	ix.mu.Unlock()

	labels := make([]string, 0, len(labelSet))
	for label := range labelSet {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	if err := ix.cache.ensure(ctx, ix.embedder, labels); err != nil {
		ix.logger.Warn("label embedding failed during rebuild", "error", err)
	}

	ix.logger.Info("search index rebuilt", "videos", len(videos), "labels", len(labels))
	return len(videos), nil
}

func buildEntry(job *jobs.Job, rep *entity.Report) *videoEntry {
	entry := &videoEntry{
		videoID:     job.VideoID,
		filename:    job.Filename,
		status:      job.Status,
		durationSec: rep.DurationSec,
		createdAt:   job.CreatedAt,
		labels:      make(map[string]labelStats, len(rep.Entities)),
	}
	for label, summary := range rep.Entities {
		entry.labels[label] = labelStats{
			presence:    summary.Presence,
			appearances: summary.Appearances,
			tokens:      tokenSet(label),
		}
	}
	return entry
}

func tokenSet(s string) map[string]bool {
	tokens := make(map[string]bool)
	for _, tok := range strings.Fields(s) {
		tokens[tok] = true
	}
	return tokens
}
