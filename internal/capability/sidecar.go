package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/framesight/framesight-agent/internal/entity"
)

const maxStderrBytes = 8 * 1024 // 8 KB tail of stderr kept for diagnostics

// Config holds the sidecar runner's configuration.
type Config struct {
	PythonPath        string        // path to python binary; empty = auto-detect
	ModuleName        string        // default "framesight_pipelines"
	ScratchBase       string        // base dir for request/response files
	DoctorTimeout     time.Duration // timeout for doctor command
	DetectTimeout     time.Duration // timeout per detection invocation
	TranscribeTimeout time.Duration // timeout for speech transcription
	EmbedTimeout      time.Duration // timeout for label embedding
	Logger            *slog.Logger
	DebugPaths        bool // if true, log full file paths; otherwise sanitise
}

// DefaultConfig returns production-ready defaults.
func DefaultConfig(dataDir string, logger *slog.Logger) Config {
	return Config{
		PythonPath:        "", // auto-detect
		ModuleName:        "framesight_pipelines",
		ScratchBase:       filepath.Join(dataDir, "scratch"),
		DoctorTimeout:     30 * time.Second,
		DetectTimeout:     30 * time.Minute,
		TranscribeTimeout: 30 * time.Minute,
		EmbedTimeout:      5 * time.Minute,
		Logger:            logger,
		DebugPaths:        false,
	}
}

// SidecarRunner executes framesight_pipelines commands as subprocesses.
// Every command reads request files and writes one JSON response file;
// stdout is ignored.
type SidecarRunner struct {
	cfg    Config
	python string // resolved python path

	// locks serialize invocations per model family: parallel workers
	// would otherwise spawn processes that each load the same weights.
	locks map[string]*sync.Mutex
}

// NewSidecarRunner creates a runner, resolving the Python binary path.
func NewSidecarRunner(cfg Config) (*SidecarRunner, error) {
	python, err := resolvePython(cfg.PythonPath)
	if err != nil {
		return nil, fmt.Errorf("cannot locate python: %w", err)
	}

	if err := os.MkdirAll(cfg.ScratchBase, 0755); err != nil {
		return nil, fmt.Errorf("cannot create scratch dir: %w", err)
	}

	cfg.Logger.Info("sidecar runner initialised",
		"python", python,
		"module", cfg.ModuleName,
		"scratch_dir", cfg.ScratchBase,
	)

	locks := make(map[string]*sync.Mutex)
	for _, family := range []string{"objects", "captions", "vocab", "ocr", "speech", "embed"} {
		locks[family] = &sync.Mutex{}
	}
	return &SidecarRunner{cfg: cfg, python: python, locks: locks}, nil
}

// serialize takes the model family's lock and returns the release. The
// doctor and other unlisted commands run unserialized.
func (r *SidecarRunner) serialize(family string) func() {
	mu, ok := r.locks[family]
	if !ok {
		return func() {}
	}
	mu.Lock()
	return mu.Unlock
}

// RunDoctor probes the installed sidecar environment and derives the
// availability flags the capability table is built from.
func (r *SidecarRunner) RunDoctor(ctx context.Context) (*Capabilities, error) {
	outPath := filepath.Join(r.cfg.ScratchBase, ".doctor.json")

	ctx, cancel := context.WithTimeout(ctx, r.cfg.DoctorTimeout)
	defer cancel()

	result := r.exec(ctx, outPath, "doctor", "--json", "--out", outPath)
	if !result.IsSuccess() {
		return nil, fmt.Errorf("doctor exited %d: %s", result.ExitCode, result.StderrTail)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("cannot read doctor output: %w", err)
	}

	var caps Capabilities
	if err := json.Unmarshal(data, &caps); err != nil {
		return nil, fmt.Errorf("cannot parse doctor JSON: %w", err)
	}

	caps.HasObjects = isAvailable(caps.Dependencies, "ultralytics")
	caps.HasCaptions = isAvailable(caps.Dependencies, "transformers")
	caps.HasOpenVocab = isAvailable(caps.Dependencies, "transformers") &&
		isAvailable(caps.Dependencies, "torch")
	caps.HasOCR = isAvailable(caps.Dependencies, "easyocr")
	caps.HasSpeech = isAvailable(caps.Dependencies, "whisper") &&
		isAvailable(caps.Executables, "ffmpeg")
	caps.HasVAD = isAvailable(caps.Dependencies, "webrtcvad")
	caps.HasEmbeddings = isAvailable(caps.Dependencies, "sentence_transformers")
	caps.ProbedAt = time.Now()

	r.cfg.Logger.Info("doctor probe complete",
		"objects", caps.HasObjects,
		"captions", caps.HasCaptions,
		"open_vocab", caps.HasOpenVocab,
		"ocr", caps.HasOCR,
		"speech", caps.HasSpeech,
		"embeddings", caps.HasEmbeddings,
		"deps_available", caps.Summary.Available,
		"deps_total", caps.Summary.Total,
	)

	return &caps, nil
}

// DetectObjects runs the YOLO-family detector over the given frames.
func (r *SidecarRunner) DetectObjects(ctx context.Context, frames []FrameRef, minConfidence float64) ([]ObjectResult, error) {
	var out struct {
		Results []ObjectResult `json:"results"`
	}
	err := r.runFramesCommand(ctx, r.cfg.DetectTimeout, frames, &out,
		"objects", "detect",
		"--min-confidence", formatFloat(minConfidence))
	return out.Results, err
}

// CaptionFrames produces a caption per frame for phrase discovery.
func (r *SidecarRunner) CaptionFrames(ctx context.Context, frames []FrameRef) ([]CaptionResult, error) {
	var out struct {
		Results []CaptionResult `json:"results"`
	}
	err := r.runFramesCommand(ctx, r.cfg.DetectTimeout, frames, &out,
		"captions", "generate")
	return out.Results, err
}

// ScoreLabels scores every label prompt against every frame; scores
// below threshold are omitted by the sidecar.
func (r *SidecarRunner) ScoreLabels(ctx context.Context, frames []FrameRef, labels []string, threshold float64) ([]VocabResult, error) {
	labelsPath, cleanupLabels, err := r.writeScratch("labels", struct {
		Labels []string `json:"labels"`
	}{Labels: labels})
	if err != nil {
		return nil, err
	}
	defer cleanupLabels()

	var out struct {
		Results []VocabResult `json:"results"`
	}
	err = r.runFramesCommand(ctx, r.cfg.DetectTimeout, frames, &out,
		"vocab", "score",
		"--labels", labelsPath,
		"--threshold", formatFloat(threshold))
	return out.Results, err
}

// ReadText runs OCR over the given frames.
func (r *SidecarRunner) ReadText(ctx context.Context, frames []FrameRef) ([]OCRResult, error) {
	var out struct {
		Results []OCRResult `json:"results"`
	}
	err := r.runFramesCommand(ctx, r.cfg.DetectTimeout, frames, &out,
		"ocr", "read")
	return out.Results, err
}

// Transcribe extracts and transcribes the audio track of a video.
func (r *SidecarRunner) Transcribe(ctx context.Context, videoPath string) (*entity.Transcript, error) {
	outPath, cleanupOut, err := r.scratchPath("speech")
	if err != nil {
		return nil, err
	}
	defer cleanupOut()

	defer r.serialize("speech")()

	ctx, cancel := context.WithTimeout(ctx, r.cfg.TranscribeTimeout)
	defer cancel()

	result := r.exec(ctx, outPath,
		"speech", "transcribe",
		"--video", videoPath,
		"--out", outPath)
	if !result.IsSuccess() {
		return nil, fmt.Errorf("speech transcribe exited %d: %s", result.ExitCode, result.StderrTail)
	}

	var transcript entity.Transcript
	if err := readJSON(outPath, &transcript); err != nil {
		return nil, err
	}
	return &transcript, nil
}

// EmbedLabels returns one embedding vector per label.
func (r *SidecarRunner) EmbedLabels(ctx context.Context, labels []string) (map[string][]float64, error) {
	labelsPath, cleanupLabels, err := r.writeScratch("labels", struct {
		Labels []string `json:"labels"`
	}{Labels: labels})
	if err != nil {
		return nil, err
	}
	defer cleanupLabels()

	outPath, cleanupOut, err := r.scratchPath("embed")
	if err != nil {
		return nil, err
	}
	defer cleanupOut()

	defer r.serialize("embed")()

	ctx, cancel := context.WithTimeout(ctx, r.cfg.EmbedTimeout)
	defer cancel()

	result := r.exec(ctx, outPath,
		"embed", "labels",
		"--labels", labelsPath,
		"--out", outPath)
	if !result.IsSuccess() {
		return nil, fmt.Errorf("embed labels exited %d: %s", result.ExitCode, result.StderrTail)
	}

	var out struct {
		Labels []struct {
			Label     string    `json:"label"`
			Embedding []float64 `json:"embedding"`
		} `json:"labels"`
	}
	if err := readJSON(outPath, &out); err != nil {
		return nil, err
	}
	embeddings := make(map[string][]float64, len(out.Labels))
	for _, l := range out.Labels {
		embeddings[l.Label] = l.Embedding
	}
	return embeddings, nil
}

// runFramesCommand writes the frame manifest, invokes a sidecar command
// with --frames/--out appended and decodes the response into result.
func (r *SidecarRunner) runFramesCommand(ctx context.Context, timeout time.Duration, frames []FrameRef, result any, args ...string) error {
	manifestPath, cleanupManifest, err := r.writeScratch("frames", struct {
		Frames []FrameRef `json:"frames"`
	}{Frames: frames})
	if err != nil {
		return err
	}
	defer cleanupManifest()

	outPath, cleanupOut, err := r.scratchPath(args[0])
	if err != nil {
		return err
	}
	defer cleanupOut()

	// The budget covers the run itself, not time spent queued behind
	// another worker's call to the same model.
	defer r.serialize(args[0])()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	full := append(args, "--frames", manifestPath, "--out", outPath)
	res := r.exec(ctx, outPath, full...)
	if !res.IsSuccess() {
		return fmt.Errorf("%s exited %d: %s", strings.Join(args[:2], " "), res.ExitCode, res.StderrTail)
	}

	return readJSON(outPath, result)
}

// exec is the core subprocess execution helper.
func (r *SidecarRunner) exec(ctx context.Context, outPath string, args ...string) RunResult {
	start := time.Now()

	if outPath != "" {
		if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
			r.cfg.Logger.Error("cannot create output dir", "error", err)
			return RunResult{ExitCode: -1, StderrTail: err.Error(), Duration: time.Since(start)}
		}
	}

	cmdArgs := append([]string{"-m", r.cfg.ModuleName}, args...)
	cmd := exec.CommandContext(ctx, r.python, cmdArgs...)

	var stderrBuf bytes.Buffer
	cmd.Stderr = io.Writer(&limitedWriter{w: &stderrBuf, limit: maxStderrBytes})
	cmd.Stdout = io.Discard // sidecar writes to --out file, not stdout

	r.cfg.Logger.Debug("executing sidecar command", "args", cmdArgs)

	err := cmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	stderrTail := stderrBuf.String()

	if exitCode != 0 {
		r.cfg.Logger.Warn("sidecar command failed",
			"exit_code", exitCode,
			"duration_ms", elapsed.Milliseconds(),
			"stderr_tail", truncate(stderrTail, 512),
		)
	} else {
		r.cfg.Logger.Debug("sidecar command succeeded",
			"duration_ms", elapsed.Milliseconds(),
			"output", r.safePath(outPath),
		)
	}

	return RunResult{
		ExitCode:   exitCode,
		OutputPath: outPath,
		StderrTail: stderrTail,
		Duration:   elapsed,
	}
}

// writeScratch persists a request payload to a unique scratch file.
func (r *SidecarRunner) writeScratch(kind string, payload any) (string, func(), error) {
	f, err := os.CreateTemp(r.cfg.ScratchBase, kind+"-*.json")
	if err != nil {
		return "", nil, fmt.Errorf("cannot create %s scratch file: %w", kind, err)
	}
	path := f.Name()
	enc := json.NewEncoder(f)
	if err := enc.Encode(payload); err != nil {
		f.Close()
		os.Remove(path)
		return "", nil, fmt.Errorf("cannot write %s scratch file: %w", kind, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", nil, err
	}
	return path, func() { os.Remove(path) }, nil
}

// scratchPath reserves a unique response file path.
func (r *SidecarRunner) scratchPath(kind string) (string, func(), error) {
	f, err := os.CreateTemp(r.cfg.ScratchBase, kind+"-out-*.json")
	if err != nil {
		return "", nil, fmt.Errorf("cannot create %s output file: %w", kind, err)
	}
	path := f.Name()
	f.Close()
	return path, func() { os.Remove(path) }, nil
}

func (r *SidecarRunner) safePath(path string) string {
	if r.cfg.DebugPaths {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Base(path)
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return filepath.Base(path)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("cannot read sidecar output: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("cannot parse sidecar output: %w", err)
	}
	return nil
}

// resolvePython finds a usable python binary.
func resolvePython(preferred string) (string, error) {
	if preferred != "" {
		if p, err := exec.LookPath(preferred); err == nil {
			return p, nil
		}
		return "", fmt.Errorf("configured python %q not found", preferred)
	}
	for _, name := range []string{"python3", "python"} {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no python binary found on PATH (tried python3, python)")
}

func isAvailable(deps map[string]DepInfo, name string) bool {
	d, ok := deps[name]
	return ok && d.Available
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		// Keep only the tail
		b := lw.w.Bytes()
		lw.w.Reset()
		lw.w.Write(b[len(b)-lw.limit:])
	}
	return n, nil
}
