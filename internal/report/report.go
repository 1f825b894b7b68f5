// Package report assembles and persists the artifacts of a finished
// job: the canonical report, the frames index beside the stills, and
// the transcript. Every artifact is written whole, temp-file + rename,
// so a concurrent reader never sees a torn JSON document.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/framesight/framesight-agent/internal/entity"
)

// Params carries the job-level header fields of the report.
type Params struct {
	VideoID     string
	Filename    string
	DurationSec float64
	IntervalSec int
}

// Build assembles the canonical report. Seconds are rounded to one
// decimal; the entities map is stored as aggregated.
func Build(p Params, framesAnalyzed int, entities map[string]*entity.Summary, transcript *entity.Transcript) *entity.Report {
	return &entity.Report{
		VideoID:        p.VideoID,
		Filename:       p.Filename,
		DurationSec:    entity.Round1(p.DurationSec),
		IntervalSec:    p.IntervalSec,
		FramesAnalyzed: framesAnalyzed,
		UniqueEntities: len(entities),
		Entities:       entities,
		Transcript:     transcript,
	}
}

// WriteReport persists the canonical report.
func WriteReport(path string, rep *entity.Report) error {
	return WriteJSON(path, rep)
}

// WriteFrames persists the frames index. The index is the aggregator's
// replayable input; callers filter detections before persisting so that
// every stored label exists in the report.
func WriteFrames(path string, frames []entity.Frame) error {
	return WriteJSON(path, &entity.FrameIndex{Frames: frames})
}

// WriteTranscript persists the transcript artifact beside the report.
func WriteTranscript(path string, t *entity.Transcript) error {
	return WriteJSON(path, t)
}

// ReadReport loads a previously written report.
func ReadReport(path string) (*entity.Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rep entity.Report
	if err := json.Unmarshal(data, &rep); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return &rep, nil
}

// ReadFrames loads a previously written frames index.
func ReadFrames(path string) ([]entity.Frame, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var idx entity.FrameIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return idx.Frames, nil
}

// WriteJSON marshals v with two-space indentation and writes it whole:
// temp file in the target directory, then rename over the destination.
func WriteJSON(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
