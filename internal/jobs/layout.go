package jobs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Layout maps video IDs onto the agent's on-disk artifact tree:
//
//	<root>/videos/<id>/video.<ext>   original video and voice file
//	<root>/frames/<id>/              sampled frames + frames.json
//	<root>/frames/<id>/annotated/    annotated overlays
//	<root>/reports/<id>/report.json  canonical report
//	<root>/reports/<id>/transcript.json
//	<root>/reports/labels.json       shared label embedding cache
type Layout struct {
	root string
}

func NewLayout(dataDir string) *Layout {
	return &Layout{root: dataDir}
}

func (l *Layout) Root() string { return l.root }

func (l *Layout) VideoDir(videoID string) string {
	return filepath.Join(l.root, "videos", videoID)
}

func (l *Layout) VideoPath(videoID, originalFilename string) string {
	ext := strings.ToLower(filepath.Ext(originalFilename))
	if ext == "" {
		ext = ".mp4"
	}
	return filepath.Join(l.VideoDir(videoID), "video"+ext)
}

func (l *Layout) VoicePath(videoID, originalFilename string) string {
	return filepath.Join(l.VideoDir(videoID), "voice_"+SanitizeName(originalFilename))
}

// CookiesPath is where a URL submission's cookie file is kept until the
// worker downloads the video.
func (l *Layout) CookiesPath(videoID string) string {
	return filepath.Join(l.VideoDir(videoID), "cookies.txt")
}

func (l *Layout) FramesDir(videoID string) string {
	return filepath.Join(l.root, "frames", videoID)
}

func (l *Layout) AnnotatedDir(videoID string) string {
	return filepath.Join(l.FramesDir(videoID), "annotated")
}

func (l *Layout) FramesIndexPath(videoID string) string {
	return filepath.Join(l.FramesDir(videoID), "frames.json")
}

func (l *Layout) ReportsRoot() string {
	return filepath.Join(l.root, "reports")
}

func (l *Layout) ReportDir(videoID string) string {
	return filepath.Join(l.ReportsRoot(), videoID)
}

func (l *Layout) ReportPath(videoID string) string {
	return filepath.Join(l.ReportDir(videoID), "report.json")
}

func (l *Layout) TranscriptPath(videoID string) string {
	return filepath.Join(l.ReportDir(videoID), "transcript.json")
}

func (l *Layout) LabelCachePath() string {
	return filepath.Join(l.ReportsRoot(), "labels.json")
}

// FindVideo locates the stored original for a job regardless of its
// extension. Used after restarts when only the video ID is known.
func (l *Layout) FindVideo(videoID string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(l.VideoDir(videoID), "video.*"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no stored video for %s", videoID)
	}
	return matches[0], nil
}

// RemoveDerived discards everything a re-run will rebuild: frames and
// reports. The stored video and voice file survive.
func (l *Layout) RemoveDerived(videoID string) error {
	if err := os.RemoveAll(l.FramesDir(videoID)); err != nil {
		return err
	}
	return os.RemoveAll(l.ReportDir(videoID))
}

// RemoveJob discards every artifact belonging to a job.
func (l *Layout) RemoveJob(videoID string) error {
	if err := l.RemoveDerived(videoID); err != nil {
		return err
	}
	return os.RemoveAll(l.VideoDir(videoID))
}

// SanitizeName strips path separators and shell-hostile characters from a
// user-supplied filename, leaving something safe to store on disk.
func SanitizeName(name string) string {
	name = filepath.Base(name)
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := b.String()
	if out == "" || strings.Trim(out, "._") == "" {
		return "file"
	}
	return out
}
