// Package jobs is the single source of truth for job state: the job
// model, its SQLite repository, the service façade the API and the
// worker share, and the on-disk artifact layout of every job.
package jobs

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Pipeline stages in execution order.
const (
	StageExtractingFrames  = "extracting_frames"
	StageTranscribingAudio = "transcribing_audio"
	StageDetectingEntities = "detecting_entities"
	StageAggregatingReport = "aggregating_report"
	StageIndexingSearch    = "indexing_search"
)

type Job struct {
	VideoID        string    `json:"video_id"`
	Filename       string    `json:"filename"`
	IntervalSec    int       `json:"interval_sec"`
	SourceURL      string    `json:"source_url,omitempty"`
	VoiceFile      string    `json:"voice_file,omitempty"`
	Status         string    `json:"status"`
	Stage          string    `json:"stage,omitempty"`
	Progress       int       `json:"progress"`
	StatusText     string    `json:"status_text,omitempty"`
	Error          string    `json:"error,omitempty"`
	DurationSec    float64   `json:"duration_sec,omitempty"`
	FramesAnalyzed int       `json:"frames_analyzed,omitempty"`
	UniqueEntities int       `json:"unique_entities,omitempty"`
	EntitySummary  string    `json:"-"`
	VideoPath      string    `json:"-"`
	FramesDir      string    `json:"-"`
	ReportPath     string    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Terminal reports whether the job has reached a final status. Terminal
// jobs are never mutated again; redelivered tasks for them are dropped.
func (j *Job) Terminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// NewVideoID returns a short opaque job identifier: the first four bytes
// of a random UUID, hex encoded.
func NewVideoID() string {
	u := uuid.New()
	return fmt.Sprintf("%x", u[0:4])
}

var videoExtensions = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".mkv":  true,
	".avi":  true,
	".webm": true,
}

// IsVideoFile reports whether the filename carries a supported video
// extension.
func IsVideoFile(filename string) bool {
	return videoExtensions[strings.ToLower(filepath.Ext(filename))]
}
