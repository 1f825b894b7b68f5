package extract

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTestJPEG(t *testing.T, path string, shade uint8) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 8, 8))
	for i := range img.Pix {
		img.Pix[i] = shade
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	if err := jpeg.Encode(f, img, nil); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
}

func testExtractor(run CommandFunc) *Extractor {
	return &Extractor{
		ffmpeg:  "ffmpeg",
		ffprobe: "ffprobe",
		run:     run,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func hasArg(args []string, want string) bool {
	for _, a := range args {
		if a == want {
			return true
		}
	}
	return false
}

func TestExtract_PrimaryPass(t *testing.T) {
	dir := t.TempDir()
	shades := []uint8{10, 10, 200}

	run := func(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
		if name == "ffprobe" {
			return []byte("15.2\n"), nil, nil
		}
		if hasArg(args, "-vf") {
			for i, shade := range shades {
				writeTestJPEG(t, filepath.Join(dir, fmt.Sprintf("frame_%06d.jpg", i+1)), shade)
			}
			return nil, nil, nil
		}
		t.Fatalf("unexpected command %s %v", name, args)
		return nil, nil, nil
	}

	res, err := testExtractor(run).Extract(context.Background(), "/v/video.mp4", dir, Options{
		IntervalSec:   5,
		SmartSampling: true,
		SceneDiffMin:  0.06,
		MinKeepFrames: 1,
	})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if res.DurationSec != 15.2 {
		t.Errorf("duration = %v, want 15.2", res.DurationSec)
	}
	if len(res.Frames) != 2 {
		t.Fatalf("frames = %d, want 2 (duplicate pruned)", len(res.Frames))
	}
	if res.Frames[0].Index != 0 || res.Frames[0].TimestampSec != 0 || res.Frames[0].Filename != "frame_000001.jpg" {
		t.Errorf("frame 0 = %+v", res.Frames[0])
	}
	if res.Frames[1].Index != 1 || res.Frames[1].TimestampSec != 10 || res.Frames[1].Filename != "frame_000003.jpg" {
		t.Errorf("frame 1 = %+v", res.Frames[1])
	}
}

func TestExtract_MinKeepDisablesPruning(t *testing.T) {
	dir := t.TempDir()

	run := func(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
		if name == "ffprobe" {
			return []byte("15.0"), nil, nil
		}
		for i := 0; i < 3; i++ {
			writeTestJPEG(t, filepath.Join(dir, fmt.Sprintf("frame_%06d.jpg", i+1)), 42)
		}
		return nil, nil, nil
	}

	res, err := testExtractor(run).Extract(context.Background(), "/v/video.mp4", dir, Options{
		IntervalSec:   5,
		SmartSampling: true,
		SceneDiffMin:  0.06,
		MinKeepFrames: 6,
	})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(res.Frames) != 3 {
		t.Errorf("frames = %d, want all 3 when pruning keeps too few", len(res.Frames))
	}
}

func TestExtract_FallbackSeeks(t *testing.T) {
	dir := t.TempDir()
	var seeks []string

	run := func(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
		if name == "ffprobe" {
			return []byte("12.0"), nil, nil
		}
		if hasArg(args, "-vf") {
			return nil, []byte("filter chain failed"), fmt.Errorf("exit status 1")
		}
		for i, a := range args {
			if a == "-ss" {
				seeks = append(seeks, args[i+1])
			}
		}
		out := args[len(args)-1]
		writeTestJPEG(t, out, uint8(40*len(seeks)))
		return nil, nil, nil
	}

	res, err := testExtractor(run).Extract(context.Background(), "/v/video.mp4", dir, Options{IntervalSec: 5})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(res.Frames) != 3 {
		t.Fatalf("frames = %d, want 3", len(res.Frames))
	}
	if strings.Join(seeks, ",") != "0,5,10" {
		t.Errorf("seeks = %v, want 0,5,10", seeks)
	}
	if res.Frames[2].TimestampSec != 10 {
		t.Errorf("frame 2 timestamp = %v", res.Frames[2].TimestampSec)
	}
}

func TestExtract_NoFramesFails(t *testing.T) {
	dir := t.TempDir()

	run := func(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
		if name == "ffprobe" {
			return []byte("0.4"), nil, nil
		}
		return nil, nil, nil // ffmpeg "succeeds" but writes nothing
	}

	_, err := testExtractor(run).Extract(context.Background(), "/v/video.mp4", dir, Options{IntervalSec: 5})
	if err == nil || !strings.Contains(err.Error(), "no frames") {
		t.Errorf("Extract() error = %v, want no-frames failure", err)
	}
}

func TestDuration_BannerFallback(t *testing.T) {
	run := func(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
		if name == "ffprobe" {
			return []byte("N/A"), nil, nil
		}
		return nil, []byte("Input #0\n  Duration: 00:01:30.25, start: 0.000000\n"), fmt.Errorf("exit status 1")
	}

	d, err := testExtractor(run).Duration(context.Background(), "/v/video.mp4")
	if err != nil {
		t.Fatalf("Duration() error = %v", err)
	}
	if d != 90.25 {
		t.Errorf("duration = %v, want 90.25", d)
	}
}

func TestParseDurationBanner(t *testing.T) {
	cases := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"Duration: 00:00:05.00, bitrate", 5, true},
		{"Duration: 01:02:03.5", 3723.5, true},
		{"Duration: N/A", 0, false},
		{"no banner here", 0, false},
	}
	for _, tc := range cases {
		got, ok := parseDurationBanner(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Errorf("parseDurationBanner(%q) = %v, %v", tc.in, got, ok)
		}
	}
}

func TestSelectKeyFrames(t *testing.T) {
	dir := t.TempDir()
	shades := []uint8{0, 0, 255, 255}
	var paths []string
	for i, shade := range shades {
		p := filepath.Join(dir, fmt.Sprintf("frame_%06d.jpg", i+1))
		writeTestJPEG(t, p, shade)
		paths = append(paths, p)
	}

	kept := selectKeyFrames(paths, 0.06, 1)
	if len(kept) != 2 || kept[0] != 0 || kept[1] != 2 {
		t.Errorf("kept = %v, want [0 2]", kept)
	}
}
