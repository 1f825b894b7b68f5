// Package extract samples still frames from video files with ffmpeg and
// prunes near-duplicate frames before they reach the detectors.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/framesight/framesight-agent/internal/entity"
)

// CommandFunc runs an external command and returns stdout and stderr.
// Injected in tests.
type CommandFunc func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var outBuf, errBuf strings.Builder
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	err := cmd.Run()
	return []byte(outBuf.String()), []byte(errBuf.String()), err
}

type Options struct {
	IntervalSec   int
	SmartSampling bool
	SceneDiffMin  float64 // mean grayscale diff below which a frame is a duplicate
	MinKeepFrames int     // pruning that keeps fewer than this is discarded
}

type Result struct {
	DurationSec float64
	Frames      []entity.Frame
}

type Extractor struct {
	ffmpeg  string
	ffprobe string
	run     CommandFunc
	logger  *slog.Logger
}

// New resolves the ffmpeg and ffprobe binaries. Bare names are looked
// up on PATH; explicit paths are used as given. Extraction is mandatory
// for every job, so a missing binary fails agent startup rather than
// the first submission.
func New(ffmpegPath, ffprobePath string, logger *slog.Logger) (*Extractor, error) {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	ffmpeg, err := exec.LookPath(ffmpegPath)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}
	ffprobe, err := exec.LookPath(ffprobePath)
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found: %w", err)
	}
	logger.Info("frame extractor initialised", "ffmpeg", ffmpeg, "ffprobe", ffprobe)
	return &Extractor{ffmpeg: ffmpeg, ffprobe: ffprobe, run: runCommand, logger: logger}, nil
}

// Duration probes the container duration in seconds, falling back to
// parsing ffmpeg's banner when ffprobe gives nothing usable.
func (e *Extractor) Duration(ctx context.Context, videoPath string) (float64, error) {
	stdout, _, err := e.run(ctx, e.ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		videoPath)
	if err == nil {
		if d, perr := strconv.ParseFloat(strings.TrimSpace(string(stdout)), 64); perr == nil && d > 0 {
			return d, nil
		}
	}

	// ffmpeg -i exits non-zero without an output file but still prints
	// the stream banner with a Duration line.
	_, stderr, _ := e.run(ctx, e.ffmpeg, "-hide_banner", "-i", videoPath)
	if d, ok := parseDurationBanner(string(stderr)); ok {
		return d, nil
	}
	return 0, fmt.Errorf("cannot determine duration of %s", filepath.Base(videoPath))
}

var durationRe = regexp.MustCompile(`Duration:\s*(\d+):(\d+):(\d+(?:\.\d+)?)`)

func parseDurationBanner(stderr string) (float64, bool) {
	m := durationRe.FindStringSubmatch(stderr)
	if m == nil {
		return 0, false
	}
	hours, _ := strconv.Atoi(m[1])
	minutes, _ := strconv.Atoi(m[2])
	seconds, _ := strconv.ParseFloat(m[3], 64)
	d := float64(hours)*3600 + float64(minutes)*60 + seconds
	if d <= 0 {
		return 0, false
	}
	return d, true
}

// Extract samples one frame per interval into outDir and returns the
// surviving frames with dense indices and true video timestamps. Frames
// pruned by smart sampling keep their files on disk but vanish from the
// returned sequence.
func (e *Extractor) Extract(ctx context.Context, videoPath, outDir string, opts Options) (*Result, error) {
	if opts.IntervalSec < 1 {
		opts.IntervalSec = 1
	}

	duration, err := e.Duration(ctx, videoPath)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("create frames dir: %w", err)
	}

	paths, err := e.extractAll(ctx, videoPath, outDir, opts.IntervalSec, duration)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no frames extracted from %s", filepath.Base(videoPath))
	}

	keep := allIndices(len(paths))
	if opts.SmartSampling && len(paths) > 1 {
		keep = selectKeyFrames(paths, opts.SceneDiffMin, opts.MinKeepFrames)
		if dropped := len(paths) - len(keep); dropped > 0 {
			e.logger.Info("smart sampling pruned duplicate frames",
				"extracted", len(paths),
				"kept", len(keep),
				"dropped", dropped)
		}
	}

	frames := make([]entity.Frame, 0, len(keep))
	for dense, idx := range keep {
		frames = append(frames, entity.Frame{
			Index:        dense,
			TimestampSec: float64(idx * opts.IntervalSec),
			Filename:     filepath.Base(paths[idx]),
			Detections:   []entity.Detection{},
		})
	}

	return &Result{DurationSec: duration, Frames: frames}, nil
}

// extractAll runs the single-pass fps filter and falls back to
// per-timestamp seeks when the pass fails or produces nothing.
func (e *Extractor) extractAll(ctx context.Context, videoPath, outDir string, intervalSec int, duration float64) ([]string, error) {
	pattern := filepath.Join(outDir, "frame_%06d.jpg")
	_, stderr, err := e.run(ctx, e.ffmpeg,
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", videoPath,
		"-vf", fmt.Sprintf("fps=1/%d", intervalSec),
		"-q:v", "2",
		pattern)

	paths, globErr := listFrames(outDir)
	if globErr != nil {
		return nil, globErr
	}
	if err == nil && len(paths) > 0 {
		return paths, nil
	}

	e.logger.Warn("fps extraction failed, falling back to per-timestamp seeks",
		"error", err,
		"stderr", strings.TrimSpace(string(stderr)))

	for i := 0; float64(i*intervalSec) < duration; i++ {
		ts := i * intervalSec
		out := filepath.Join(outDir, fmt.Sprintf("frame_%06d.jpg", i+1))
		_, seekErr, runErr := e.run(ctx, e.ffmpeg,
			"-hide_banner", "-loglevel", "error", "-y",
			"-err_detect", "ignore_err",
			"-ss", strconv.Itoa(ts),
			"-i", videoPath,
			"-frames:v", "1",
			"-q:v", "2",
			out)
		if runErr != nil {
			e.logger.Warn("seek extraction failed for timestamp",
				"timestamp_sec", ts,
				"stderr", strings.TrimSpace(string(seekErr)))
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return listFrames(outDir)
}

func listFrames(dir string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "frame_*.jpg"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

func allIndices(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
