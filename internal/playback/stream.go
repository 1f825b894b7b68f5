// Package playback serves stored originals and sampled frame images
// over HTTP. Video responses honor byte-range requests so players can
// scrub a stream without downloading the whole file.
package playback

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/framesight/framesight-agent/internal/jobs"
	"github.com/framesight/framesight-agent/internal/report"
)

type Streamer struct {
	layout *jobs.Layout
	logger *slog.Logger
}

func NewStreamer(layout *jobs.Layout, logger *slog.Logger) *Streamer {
	return &Streamer{layout: layout, logger: logger}
}

// ServeVideo streams a job's stored original. Missing files surface as
// jobs.ErrNotFound before any byte is written, so callers can still
// answer with their error envelope.
func (s *Streamer) ServeVideo(w http.ResponseWriter, r *http.Request, job *jobs.Job) error {
	path := job.VideoPath
	if path == "" {
		found, err := s.layout.FindVideo(job.VideoID)
		if err != nil {
			return fmt.Errorf("%w: no stored video for %s", jobs.ErrNotFound, job.VideoID)
		}
		path = found
	}
	return s.serveFile(w, r, path)
}

// ServeFrame serves one sampled frame image, resolved through the
// frames index because smart sampling leaves gaps in the on-disk
// numbering. With annotated set it prefers the overlay drawn during
// report assembly and falls back to the raw frame when none exists.
func (s *Streamer) ServeFrame(w http.ResponseWriter, r *http.Request, videoID string, index int, annotated bool) error {
	frames, err := report.ReadFrames(s.layout.FramesIndexPath(videoID))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: no frame index for %s", jobs.ErrNotFound, videoID)
		}
		return err
	}

	for _, f := range frames {
		if f.Index != index {
			continue
		}
		path := filepath.Join(s.layout.FramesDir(videoID), f.Filename)
		if annotated && f.AnnotatedFilename != "" {
			path = filepath.Join(s.layout.AnnotatedDir(videoID), f.AnnotatedFilename)
		}
		return s.serveFile(w, r, path)
	}
	return fmt.Errorf("%w: frame %d of %s", jobs.ErrNotFound, index, videoID)
}

// serveFile answers with the whole file, a single partial range, or 416.
// Invalid Range headers are ignored per RFC 7233 and get the full body.
func (s *Streamer) serveFile(w http.ResponseWriter, r *http.Request, path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", jobs.ErrNotFound, filepath.Base(path))
		}
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	size := info.Size()

	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Type", contentType)

	br, err := parseByteRange(r.Header.Get("Range"), size)
	switch {
	case errors.Is(err, errUnsatisfiable):
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return nil
	case errors.Is(err, errInvalidRange):
		br = nil
	case err != nil:
		return err
	}

	if br == nil {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		if _, err := io.Copy(w, f); err != nil {
			s.logger.Debug("stream aborted", "file", filepath.Base(path), "error", err)
		}
		return nil
	}

	if _, err := f.Seek(br.start, io.SeekStart); err != nil {
		return err
	}
	w.Header().Set("Content-Length", strconv.FormatInt(br.length(), 10))
	w.Header().Set("Content-Range", br.contentRange(size))
	w.WriteHeader(http.StatusPartialContent)
	if _, err := io.CopyN(w, f, br.length()); err != nil {
		s.logger.Debug("stream aborted", "file", filepath.Base(path), "error", err)
	}
	return nil
}
