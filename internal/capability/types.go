// Package capability executes the framesight_pipelines Python sidecar
// as subprocesses and exposes its model families (object detection,
// captioning, open-vocabulary scoring, OCR, speech, embeddings) behind
// narrow interfaces. Availability is probed once via `doctor`; a missing
// model surfaces as a nil capability, never as a runtime import error.
package capability

import (
	"context"
	"errors"
	"time"

	"github.com/framesight/framesight-agent/internal/entity"
)

// ErrUnavailable marks a capability the sidecar environment cannot
// provide (missing package, missing model weights).
var ErrUnavailable = errors.New("capability unavailable")

// FrameRef names one sampled frame handed to the sidecar.
type FrameRef struct {
	Index int    `json:"index"`
	Path  string `json:"path"`
}

// BoxedDetection is one object-detector hit on a frame.
type BoxedDetection struct {
	Label      string      `json:"label"`
	Confidence float64     `json:"confidence"`
	Box        *entity.Box `json:"box,omitempty"`
}

type ObjectResult struct {
	Index      int              `json:"index"`
	Detections []BoxedDetection `json:"detections"`
}

type CaptionResult struct {
	Index   int     `json:"index"`
	Caption string  `json:"caption"`
	Score   float64 `json:"score"`
}

type LabelScore struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

type VocabResult struct {
	Index  int          `json:"index"`
	Scores []LabelScore `json:"scores"`
}

// OCRToken is one recognised text fragment; confidence is 0..100.
type OCRToken struct {
	Text       string      `json:"text"`
	Confidence float64     `json:"confidence"`
	Box        *entity.Box `json:"box,omitempty"`
}

type OCRResult struct {
	Index  int        `json:"index"`
	Tokens []OCRToken `json:"tokens"`
}

type ObjectDetector interface {
	DetectObjects(ctx context.Context, frames []FrameRef, minConfidence float64) ([]ObjectResult, error)
}

type CaptionModel interface {
	CaptionFrames(ctx context.Context, frames []FrameRef) ([]CaptionResult, error)
}

// VocabScorer scores arbitrary label prompts against frames. It backs
// both the open-vocabulary source and the verification pass.
type VocabScorer interface {
	ScoreLabels(ctx context.Context, frames []FrameRef, labels []string, threshold float64) ([]VocabResult, error)
}

type TextReader interface {
	ReadText(ctx context.Context, frames []FrameRef) ([]OCRResult, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, videoPath string) (*entity.Transcript, error)
}

type Embedder interface {
	EmbedLabels(ctx context.Context, labels []string) (map[string][]float64, error)
}

// Capabilities is the parsed output of `framesight_pipelines doctor`,
// plus derived availability flags.
type Capabilities struct {
	PackageVersion string             `json:"package_version"`
	Python         PythonInfo         `json:"python"`
	Dependencies   map[string]DepInfo `json:"dependencies"`
	Executables    map[string]DepInfo `json:"executables"`
	GPU            GPUInfo            `json:"gpu"`
	Summary        SummaryInfo        `json:"summary"`

	HasObjects    bool      `json:"-"`
	HasCaptions   bool      `json:"-"`
	HasOpenVocab  bool      `json:"-"`
	HasOCR        bool      `json:"-"`
	HasSpeech     bool      `json:"-"`
	HasVAD        bool      `json:"-"`
	HasEmbeddings bool      `json:"-"`
	ProbedAt      time.Time `json:"-"`
}

type PythonInfo struct {
	Version    string `json:"version"`
	Executable string `json:"executable"`
}

// DepInfo represents the availability status of a single dependency.
type DepInfo struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Path      string `json:"path,omitempty"`
	Error     string `json:"error,omitempty"`
}

type GPUInfo struct {
	CUDAAvailable bool   `json:"cuda_available"`
	DeviceCount   int    `json:"device_count,omitempty"`
	Error         string `json:"error,omitempty"`
}

type SummaryInfo struct {
	Available int  `json:"available"`
	Total     int  `json:"total"`
	AllOK     bool `json:"all_ok"`
}

// RunResult is the structured outcome of one sidecar invocation.
type RunResult struct {
	ExitCode   int           `json:"exit_code"`
	OutputPath string        `json:"output_path,omitempty"`
	StderrTail string        `json:"stderr_tail,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// IsSuccess returns true when the subprocess exited cleanly.
func (r RunResult) IsSuccess() bool { return r.ExitCode == 0 }
