// Package aggregate folds per-frame detections into the report's entity
// map. Build is a pure function: the same frames and config produce
// byte-identical output.
package aggregate

import (
	"math"
	"sort"

	"github.com/framesight/framesight-agent/internal/entity"
)

// Confidence score weights. The score blends how sure the models were,
// how many independent sources agreed, how steadily the entity stayed
// in frame, and whether OCR saw hard textual evidence.
const (
	weightConfidence  = 0.45
	weightDiversity   = 0.25
	weightConsistency = 0.20
	weightOCR         = 0.10
)

// Config carries the per-source consistency rules and the final score
// cutoff. EveryN maps a source to its sampling cadence so that
// "consecutive" is judged over the frames the source actually saw.
type Config struct {
	MinConsecutive     map[string]int
	EveryN             map[string]int
	ConfidenceMinScore float64

	// Confirmed is the verification result: nil when the pass never
	// ran, otherwise the set of confirmed discovery labels. Discovery
	// detections of unconfirmed labels are dropped.
	Confirmed map[string]bool
}

// DefaultRules returns the per-source consistency thresholds: object
// detections must persist for two consecutive samples, single-frame
// hits from the open-vocabulary and discovery models already carry a
// model-side threshold and count from one.
func DefaultRules(minConsecutive, openVocabMinConsecutive, discoveryMinConsecutive int) map[string]int {
	return map[string]int{
		entity.SourceYOLO:      minConsecutive,
		entity.SourceOpenVocab: openVocabMinConsecutive,
		entity.SourceDiscovery: discoveryMinConsecutive,
		entity.SourceVerify:    minConsecutive,
		entity.SourceOCR:       minConsecutive,
	}
}

type labelEvidence struct {
	bySource  map[string][]int // sorted unique frame positions per source
	instances map[int]int      // detections per frame position
	confSum   map[int]float64  // confidence sum per frame position
}

// Build aggregates detections across the ordered frame sequence into
// the entities map of the report. Labels whose runs are zeroed by the
// consistency filter or whose confidence score falls below the cutoff
// are absent from the result.
func Build(frames []entity.Frame, cfg Config) map[string]*entity.Summary {
	entities := make(map[string]*entity.Summary)
	if len(frames) == 0 {
		return entities
	}

	evidence := collect(frames, cfg.Confirmed)

	for label, ev := range evidence {
		kept := make(map[int]bool)
		var sources []string
		for source, positions := range ev.bySource {
			surviving := filterConsecutive(positions, eligiblePositions(source, cfg), minConsecutiveFor(source, cfg))
			if len(surviving) == 0 {
				continue
			}
			sources = append(sources, source)
			for _, p := range surviving {
				kept[p] = true
			}
		}
		if len(kept) == 0 {
			continue
		}

		positions := make([]int, 0, len(kept))
		for p := range kept {
			positions = append(positions, p)
		}
		sort.Ints(positions)

		count := 0
		confSum, confN := 0.0, 0
		for _, p := range positions {
			count += ev.instances[p]
			confSum += ev.confSum[p]
			confN += ev.instances[p]
		}

		appearances := len(positions)
		ranges, longestRun := timeRanges(positions, frames)

		meanConf := 0.0
		if confN > 0 {
			meanConf = confSum / float64(confN)
		}
		diversity := float64(len(sources)) / float64(entity.SourceCount)
		consistency := float64(longestRun) / float64(appearances)
		ocrEvidence := 0.0
		if containsSource(sources, entity.SourceOCR) {
			ocrEvidence = 1.0
		}
		score := weightConfidence*meanConf +
			weightDiversity*diversity +
			weightConsistency*consistency +
			weightOCR*ocrEvidence
		score = math.Max(0, math.Min(1, score))
		if score < cfg.ConfidenceMinScore {
			continue
		}

		sort.Strings(sources)
		entities[label] = &entity.Summary{
			Count:           count,
			Presence:        entity.Round4(float64(appearances) / float64(len(frames))),
			Appearances:     appearances,
			TimeRanges:      ranges,
			ConfidenceScore: entity.Round4(score),
			Sources:         sources,
		}
	}

	return entities
}

// FilterDetections returns frames whose detections are reduced to the
// ones the report can explain: verification-dropped discovery hits are
// removed and so is every label absent from the aggregated entity map.
// Re-running Build on the filtered frames reproduces the same map.
func FilterDetections(frames []entity.Frame, entities map[string]*entity.Summary, confirmed map[string]bool) []entity.Frame {
	out := make([]entity.Frame, len(frames))
	for i, frame := range frames {
		kept := make([]entity.Detection, 0, len(frame.Detections))
		for _, det := range frame.Detections {
			if confirmed != nil && det.Source == entity.SourceDiscovery && !confirmed[det.Label] {
				continue
			}
			if _, ok := entities[det.Label]; !ok {
				continue
			}
			kept = append(kept, det)
		}
		frame.Detections = kept
		out[i] = frame
	}
	return out
}

// collect indexes detections by label. Discovery detections of labels
// the verification pass did not confirm are dropped here.
func collect(frames []entity.Frame, confirmed map[string]bool) map[string]*labelEvidence {
	evidence := make(map[string]*labelEvidence)
	for pos, frame := range frames {
		seen := make(map[string]map[string]bool)
		for _, det := range frame.Detections {
			if det.Label == "" {
				continue
			}
			if confirmed != nil && det.Source == entity.SourceDiscovery && !confirmed[det.Label] {
				continue
			}
			ev := evidence[det.Label]
			if ev == nil {
				ev = &labelEvidence{
					bySource:  make(map[string][]int),
					instances: make(map[int]int),
					confSum:   make(map[int]float64),
				}
				evidence[det.Label] = ev
			}
			bySource := seen[det.Label]
			if bySource == nil {
				bySource = make(map[string]bool)
				seen[det.Label] = bySource
			}
			if !bySource[det.Source] {
				bySource[det.Source] = true
				ev.bySource[det.Source] = append(ev.bySource[det.Source], pos)
			}
			ev.instances[pos]++
			ev.confSum[pos] += det.Confidence
		}
	}
	return evidence
}

// filterConsecutive zeroes runs shorter than minConsecutive. Positions
// are first mapped into the source's eligible sequence (every everyN-th
// frame) so that a cadence-4 source seeing two successive eligible
// frames still counts as a run of two.
func filterConsecutive(positions []int, everyN, minConsecutive int) []int {
	if len(positions) == 0 || minConsecutive <= 1 {
		return positions
	}
	if everyN < 1 {
		everyN = 1
	}

	var kept []int
	run := []int{positions[0]}
	for i := 1; i < len(positions); i++ {
		if positions[i]/everyN == positions[i-1]/everyN+1 {
			run = append(run, positions[i])
		} else {
			if len(run) >= minConsecutive {
				kept = append(kept, run...)
			}
			run = []int{positions[i]}
		}
	}
	if len(run) >= minConsecutive {
		kept = append(kept, run...)
	}
	return kept
}

// timeRanges emits one closed range per maximal run of consecutive
// frame positions. A single-frame gap separates two ranges; it is never
// merged. Returns the ranges and the longest run length in frames.
func timeRanges(positions []int, frames []entity.Frame) ([]entity.TimeRange, int) {
	var ranges []entity.TimeRange
	longest := 0

	start := 0
	for i := 1; i <= len(positions); i++ {
		if i < len(positions) && positions[i] == positions[i-1]+1 {
			continue
		}
		first, last := positions[start], positions[i-1]
		if runLen := i - start; runLen > longest {
			longest = runLen
		}
		ranges = append(ranges, entity.TimeRange{
			StartSec:   frames[first].TimestampSec,
			EndSec:     frames[last].TimestampSec,
			StartLabel: entity.FormatTimestamp(frames[first].TimestampSec),
			EndLabel:   entity.FormatTimestamp(frames[last].TimestampSec),
		})
		start = i
	}
	return ranges, longest
}

func eligiblePositions(source string, cfg Config) int {
	if n, ok := cfg.EveryN[source]; ok && n > 1 {
		return n
	}
	return 1
}

func minConsecutiveFor(source string, cfg Config) int {
	if n, ok := cfg.MinConsecutive[source]; ok && n > 0 {
		return n
	}
	return 1
}

func containsSource(sources []string, want string) bool {
	for _, s := range sources {
		if s == want {
			return true
		}
	}
	return false
}
