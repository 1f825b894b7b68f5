package report

import (
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/framesight/framesight-agent/internal/entity"
)

var boxColor = color.RGBA{R: 195, G: 134, B: 0, A: 255}

const boxThickness = 2

// Annotate renders detection overlays for every frame into the
// annotated directory and records the overlay filename on the frame.
// Frames without boxed detections are copied through unchanged so the
// overlay set stays complete. Per-frame failures are logged and leave
// AnnotatedFilename empty; the caller treats the whole pass as
// best-effort.
func Annotate(framesDir, annotatedDir string, frames []entity.Frame, logger *slog.Logger) {
	if err := os.MkdirAll(annotatedDir, 0755); err != nil {
		logger.Warn("annotation disabled, cannot create directory", "dir", annotatedDir, "error", err)
		return
	}
	for i := range frames {
		src := filepath.Join(framesDir, frames[i].Filename)
		dst := filepath.Join(annotatedDir, frames[i].Filename)
		if err := annotateFrame(src, dst, frames[i].Detections); err != nil {
			logger.Warn("failed to annotate frame", "frame", frames[i].Filename, "error", err)
			continue
		}
		frames[i].AnnotatedFilename = frames[i].Filename
	}
}

// annotateFrame draws the boxed detections onto a copy of the frame.
// Detections without boxes carry no pixel geometry and are left to the
// report; a frame with none is copied byte for byte.
func annotateFrame(src, dst string, detections []entity.Detection) error {
	boxes := make([]entity.Box, 0, len(detections))
	for _, det := range detections {
		if det.Box != nil {
			boxes = append(boxes, *det.Box)
		}
	}
	if len(boxes) == 0 {
		return copyFile(src, dst)
	}

	f, err := os.Open(src)
	if err != nil {
		return err
	}
	img, err := jpeg.Decode(f)
	f.Close()
	if err != nil {
		return err
	}

	canvas := image.NewRGBA(img.Bounds())
	draw.Draw(canvas, canvas.Bounds(), img, img.Bounds().Min, draw.Src)
	for _, b := range boxes {
		drawBox(canvas, b)
	}

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if err := jpeg.Encode(out, canvas, &jpeg.Options{Quality: 90}); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}

// drawBox strokes the box outline, clipped to the image bounds.
func drawBox(img *image.RGBA, b entity.Box) {
	x1, y1 := int(b.X), int(b.Y)
	x2, y2 := int(b.X+b.W), int(b.Y+b.H)
	src := image.NewUniform(boxColor)
	for _, edge := range []image.Rectangle{
		image.Rect(x1, y1, x2, y1+boxThickness),
		image.Rect(x1, y2-boxThickness, x2, y2),
		image.Rect(x1, y1, x1+boxThickness, y2),
		image.Rect(x2-boxThickness, y1, x2, y2),
	} {
		draw.Draw(img, edge.Intersect(img.Bounds()), src, image.Point{}, draw.Src)
	}
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0644)
}
