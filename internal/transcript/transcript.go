// Package transcript parses companion voice files into the transcript
// block of a report. Three formats are recognized: SubRip (.srt),
// WebVTT (.vtt), and plain text with "(MM:SS)" speaker markers. A
// supplied voice file takes the place of the speech-to-text sidecar.
package transcript

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/framesight/framesight-agent/internal/entity"
)

// ErrNoSegments is returned when a voice file yields no timestamped
// segments. The stage driver records it without failing the job.
var ErrNoSegments = errors.New("no timestamped segments found in voice file")

// Pattern for speaker markers like "Speaker 1  (00:01)" or "(01:23)".
var voiceStampRe = regexp.MustCompile(`\((\d{2}):(\d{2})\)`)

// ParseFile reads a voice file from disk and parses it.
func ParseFile(path string) (*entity.Transcript, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read voice file: %w", err)
	}
	return Parse(filepath.Base(path), string(data))
}

// Parse picks a format from the filename extension, sniffing the
// content for files uploaded without a useful one.
func Parse(name, content string) (*entity.Transcript, error) {
	body := strings.TrimPrefix(content, "\uFEFF")
	switch strings.ToLower(filepath.Ext(name)) {
	case ".srt", ".vtt":
		return parseCues(body)
	}
	if strings.HasPrefix(strings.TrimSpace(body), "WEBVTT") || strings.Contains(body, "-->") {
		return parseCues(body)
	}
	return parseVoiceText(body)
}

// parseCues handles SubRip and WebVTT alike: any line containing a
// timecode arrow starts a cue, the non-empty lines after it are the cue
// text. Index lines, cue identifiers, and WEBVTT headers carry no arrow
// and fall through.
func parseCues(content string) (*entity.Transcript, error) {
	lines := strings.Split(content, "\n")
	var segments []entity.TranscriptSegment

	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		arrow := strings.Index(line, "-->")
		if arrow < 0 {
			continue
		}
		start, err := parseTimecode(line[:arrow])
		if err != nil {
			continue
		}
		after := strings.Fields(line[arrow+len("-->"):])
		if len(after) == 0 {
			continue
		}
		end, err := parseTimecode(after[0])
		if err != nil {
			continue
		}

		var text []string
		for i+1 < len(lines) {
			body := strings.TrimSpace(lines[i+1])
			if body == "" {
				break
			}
			text = append(text, body)
			i++
		}

		segments = append(segments, entity.TranscriptSegment{
			Start: entity.Round3(start),
			End:   entity.Round3(end),
			Text:  strings.Join(text, " "),
		})
	}

	return finish(segments)
}

// parseVoiceText handles the "(MM:SS) text" export format. A marker
// starts a segment, following lines accumulate into it, and a repeated
// timestamp replaces the earlier segment. Segments without any text are
// dropped. A segment ends where the next one starts.
func parseVoiceText(content string) (*entity.Transcript, error) {
	texts := make(map[int]string)
	current := -1
	var parts []string

	flush := func() {
		if current >= 0 && len(parts) > 0 {
			texts[current] = strings.Join(parts, " ")
		}
	}

	for _, raw := range strings.Split(content, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		m := voiceStampRe.FindStringSubmatchIndex(line)
		if m == nil {
			if current >= 0 {
				parts = append(parts, line)
			}
			continue
		}
		flush()
		mm, _ := strconv.Atoi(line[m[2]:m[3]])
		ss, _ := strconv.Atoi(line[m[4]:m[5]])
		current = mm*60 + ss
		parts = parts[:0]
		if rest := strings.TrimSpace(line[m[1]:]); rest != "" {
			parts = append(parts, rest)
		}
	}
	flush()

	seconds := make([]int, 0, len(texts))
	for s := range texts {
		seconds = append(seconds, s)
	}
	sort.Ints(seconds)

	segments := make([]entity.TranscriptSegment, len(seconds))
	for i, s := range seconds {
		segments[i] = entity.TranscriptSegment{
			Start: float64(s),
			End:   float64(s),
			Text:  texts[s],
		}
		if i > 0 {
			segments[i-1].End = float64(s)
		}
	}

	return finish(segments)
}

func finish(segments []entity.TranscriptSegment) (*entity.Transcript, error) {
	if len(segments) == 0 {
		return nil, ErrNoSegments
	}

	sort.SliceStable(segments, func(i, j int) bool {
		return segments[i].Start < segments[j].Start
	})

	parts := make([]string, 0, len(segments))
	for i := range segments {
		segments[i].SegmentID = i
		if segments[i].Text != "" {
			parts = append(parts, segments[i].Text)
		}
	}

	return &entity.Transcript{
		Text:     strings.Join(parts, " "),
		Segments: segments,
	}, nil
}

// parseTimecode accepts "HH:MM:SS,mmm", "HH:MM:SS.mmm", and the
// hour-less "MM:SS.mmm" WebVTT short form.
func parseTimecode(s string) (float64, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid timecode %q", s)
	}

	var total float64
	for _, part := range parts {
		v, err := strconv.ParseFloat(part, 64)
		if err != nil || v < 0 {
			return 0, fmt.Errorf("invalid timecode %q", s)
		}
		total = total*60 + v
	}
	return total, nil
}
