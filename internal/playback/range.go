package playback

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	errInvalidRange  = errors.New("invalid range header")
	errUnsatisfiable = errors.New("range not satisfiable")
)

// byteRange is one satisfiable byte span of a stored file.
type byteRange struct {
	start int64
	end   int64
}

func (r byteRange) length() int64 { return r.end - r.start + 1 }

func (r byteRange) contentRange(size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.start, r.end, size)
}

// parseByteRange interprets a Range header against a file of the given
// size. A missing header yields (nil, nil): serve the whole file. Only
// the first spec of a multi-range header is honored; video players
// scrub with single ranges.
func parseByteRange(header string, size int64) (*byteRange, error) {
	if header == "" {
		return nil, nil
	}
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return nil, errInvalidRange
	}
	if first, _, multi := strings.Cut(spec, ","); multi {
		spec = strings.TrimSpace(first)
	}

	startPart, endPart, dashed := strings.Cut(spec, "-")
	if !dashed {
		return nil, errInvalidRange
	}

	var start, end int64
	if startPart == "" {
		// Suffix form: the last N bytes.
		n, err := strconv.ParseInt(endPart, 10, 64)
		if err != nil || n <= 0 {
			return nil, errInvalidRange
		}
		start = size - n
		if start < 0 {
			start = 0
		}
		end = size - 1
	} else {
		var err error
		start, err = strconv.ParseInt(startPart, 10, 64)
		if err != nil || start < 0 {
			return nil, errInvalidRange
		}
		end = size - 1
		if endPart != "" {
			end, err = strconv.ParseInt(endPart, 10, 64)
			if err != nil {
				return nil, errInvalidRange
			}
		}
	}

	if start > end || start >= size {
		return nil, errUnsatisfiable
	}
	if end >= size {
		end = size - 1
	}
	return &byteRange{start: start, end: end}, nil
}
