package extract

import (
	"image"
	_ "image/jpeg"
	"os"
)

// selectKeyFrames walks the extracted frames in order and keeps a frame
// only when its mean grayscale difference from the last kept frame
// reaches diffMin. The first frame is always kept. If pruning leaves
// fewer than minKeep frames the whole sequence is returned: a static
// video should still be analyzed, not reduced to one frame.
func selectKeyFrames(paths []string, diffMin float64, minKeep int) []int {
	if len(paths) == 0 {
		return nil
	}
	if minKeep < 1 {
		minKeep = 1
	}

	kept := []int{0}
	prev, pw, ph, err := frameLuminance(paths[0])
	if err != nil {
		prev = nil
	}

	for i := 1; i < len(paths); i++ {
		cur, cw, ch, err := frameLuminance(paths[i])
		if err != nil || prev == nil || cw != pw || ch != ph {
			// Unreadable or mismatched frames cannot be compared; keep them.
			kept = append(kept, i)
			if err == nil {
				prev, pw, ph = cur, cw, ch
			}
			continue
		}
		if meanAbsDiff(prev, cur) >= diffMin {
			kept = append(kept, i)
			prev = cur
		}
	}

	if len(kept) < minKeep {
		return allIndices(len(paths))
	}
	return kept
}

// frameLuminance decodes an image into a flat 8-bit luminance plane.
func frameLuminance(path string) ([]uint8, int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, 0, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, 0, 0, err
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	lum := make([]uint8, 0, w*h)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			// Rec. 601 luma from 16-bit channel values.
			gray := (299*r + 587*g + 114*b) / 1000
			lum = append(lum, uint8(gray>>8))
		}
	}
	return lum, w, h, nil
}

// meanAbsDiff returns the normalized [0,1] mean absolute difference of
// two equally sized luminance planes.
func meanAbsDiff(a, b []uint8) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 1
	}
	var sum uint64
	for i := range a {
		d := int(a[i]) - int(b[i])
		if d < 0 {
			d = -d
		}
		sum += uint64(d)
	}
	return float64(sum) / float64(len(a)) / 255.0
}
