package jobs

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLayout_Paths(t *testing.T) {
	l := NewLayout("/data")

	if got := l.VideoPath("ab12cd34", "clip.MOV"); got != filepath.Join("/data", "videos", "ab12cd34", "video.mov") {
		t.Errorf("VideoPath() = %s", got)
	}
	if got := l.VideoPath("ab12cd34", "noext"); got != filepath.Join("/data", "videos", "ab12cd34", "video.mp4") {
		t.Errorf("VideoPath(no ext) = %s", got)
	}
	if got := l.FramesIndexPath("ab12cd34"); got != filepath.Join("/data", "frames", "ab12cd34", "frames.json") {
		t.Errorf("FramesIndexPath() = %s", got)
	}
	if got := l.ReportPath("ab12cd34"); got != filepath.Join("/data", "reports", "ab12cd34", "report.json") {
		t.Errorf("ReportPath() = %s", got)
	}
	if got := l.LabelCachePath(); got != filepath.Join("/data", "reports", "labels.json") {
		t.Errorf("LabelCachePath() = %s", got)
	}
}

func TestLayout_FindVideo(t *testing.T) {
	dir := t.TempDir()
	l := NewLayout(dir)

	if _, err := l.FindVideo("ab12cd34"); err == nil {
		t.Error("FindVideo() on empty layout should fail")
	}

	os.MkdirAll(l.VideoDir("ab12cd34"), 0755)
	want := filepath.Join(l.VideoDir("ab12cd34"), "video.mkv")
	os.WriteFile(want, []byte("x"), 0644)

	got, err := l.FindVideo("ab12cd34")
	if err != nil {
		t.Fatalf("FindVideo() error = %v", err)
	}
	if got != want {
		t.Errorf("FindVideo() = %s, want %s", got, want)
	}
}

func TestSanitizeName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"talk track.srt", "talk_track.srt"},
		{"../../etc/passwd", "passwd"},
		{"совещание.vtt", "_________.vtt"},
		{"ok-file_1.TXT", "ok-file_1.TXT"},
		{"", "file"},
		{"...", "file"},
	}
	for _, tc := range cases {
		if got := SanitizeName(tc.in); got != tc.want {
			t.Errorf("SanitizeName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
