package report

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/framesight/framesight-agent/internal/entity"
)

func writeFrameJPEG(t *testing.T, dir, name string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.RGBA{128, 128, 128, 255}), image.Point{}, draw.Src)
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := jpeg.Encode(f, img, nil); err != nil {
		t.Fatal(err)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAnnotate(t *testing.T) {
	framesDir := t.TempDir()
	annotatedDir := filepath.Join(framesDir, "annotated")
	writeFrameJPEG(t, framesDir, "frame_000001.jpg")
	writeFrameJPEG(t, framesDir, "frame_000002.jpg")

	frames := []entity.Frame{
		{Index: 0, Filename: "frame_000001.jpg", Detections: []entity.Detection{
			{Label: "tank", Source: entity.SourceYOLO, Confidence: 0.9, Box: &entity.Box{X: 8, Y: 8, W: 32, H: 24}},
			{Label: "convoy", Source: entity.SourceDiscovery, Confidence: 0.7}, // no box, report only
		}},
		{Index: 1, Filename: "frame_000002.jpg", Detections: []entity.Detection{}},
		{Index: 2, Filename: "frame_000003.jpg", Detections: []entity.Detection{}}, // file missing
	}

	Annotate(framesDir, annotatedDir, frames, discardLogger())

	if frames[0].AnnotatedFilename != "frame_000001.jpg" {
		t.Errorf("frame 0 annotated_filename = %q, want frame_000001.jpg", frames[0].AnnotatedFilename)
	}
	if frames[1].AnnotatedFilename != "frame_000002.jpg" {
		t.Errorf("frame 1 annotated_filename = %q, want frame_000002.jpg", frames[1].AnnotatedFilename)
	}
	if frames[2].AnnotatedFilename != "" {
		t.Errorf("frame 2 annotated_filename = %q, want empty for missing source", frames[2].AnnotatedFilename)
	}

	// The boxed frame gets a drawn stroke: strongly red-over-blue on the
	// top edge of the box, untouched grey away from it.
	annotated := decodeJPEG(t, filepath.Join(annotatedDir, "frame_000001.jpg"))
	r, _, b, _ := annotated.At(24, 9).RGBA()
	if int(r>>8)-int(b>>8) < 50 {
		t.Errorf("pixel inside stroke = r%d b%d, want orange", r>>8, b>>8)
	}
	r, _, b, _ = annotated.At(4, 40).RGBA()
	if diff := int(r>>8) - int(b>>8); diff > 30 || diff < -30 {
		t.Errorf("pixel outside box = r%d b%d, want untouched grey", r>>8, b>>8)
	}

	// The box-less frame is copied byte for byte.
	src, err := os.ReadFile(filepath.Join(framesDir, "frame_000002.jpg"))
	if err != nil {
		t.Fatal(err)
	}
	dst, err := os.ReadFile(filepath.Join(annotatedDir, "frame_000002.jpg"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(src, dst) {
		t.Error("frame without boxes should be copied unchanged")
	}
}

func decodeJPEG(t *testing.T, path string) image.Image {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := jpeg.Decode(f)
	if err != nil {
		t.Fatal(err)
	}
	return img
}
