// Package detect fuses the detection sources over a sampled frame
// sequence: object detection, caption discovery, open-vocabulary
// scoring, the verification pass and OCR. Each source runs on its own
// cadence; a source failure degrades the job instead of failing it.
package detect

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"

	"github.com/framesight/framesight-agent/internal/capability"
	"github.com/framesight/framesight-agent/internal/entity"
)

// Params carries the per-source cadences and thresholds. A cadence of
// n means the source runs on every n-th frame of the pruned sequence;
// values below 1 are treated as 1.
type Params struct {
	MinConfidence float64
	LabelMap      map[string]string

	DiscoveryEnabled      bool
	DiscoveryEveryN       int
	DiscoveryMinScore     float64
	DiscoveryMaxPhrases   int
	DiscoveryOnlyMilitary bool

	OpenVocabEnabled   bool
	OpenVocabEveryN    int
	OpenVocabThreshold float64
	OpenVocabLabels    []string

	VerifyEnabled   bool
	VerifyEveryN    int
	VerifyThreshold float64
	VerifyMaxLabels int

	OcrEnabled       bool
	OcrEveryN        int
	OcrMinConfidence float64
}

// Progress is called after each source batch with the cumulative number
// of (frame, source) invocations completed.
type Progress func(processed, total int)

// Result is the outcome of the detection stage. Confirmed is nil when
// the verification pass never ran; otherwise it holds the discovery
// labels the open-vocabulary model confirmed, and discovery labels
// outside it are dropped during aggregation. SourceErrors records
// skipped and failed sources by name.
type Result struct {
	Frames       []entity.Frame
	Confirmed    map[string]bool
	SourceErrors map[string]string
}

// Engine runs the detection sources against the capability table.
type Engine struct {
	caps   *capability.Set
	params Params
	logger *slog.Logger
}

func NewEngine(caps *capability.Set, params Params, logger *slog.Logger) *Engine {
	return &Engine{caps: caps, params: params, logger: logger}
}

// Run executes every enabled source over the frame sequence and merges
// the detections into the returned frames. Missing capabilities are
// skipped; a source error is recorded and the remaining sources still
// run. Cancellation is honored between source batches.
func (e *Engine) Run(ctx context.Context, framesDir string, frames []entity.Frame, onProgress Progress) (*Result, error) {
	p := e.params
	res := &Result{Frames: frames, SourceErrors: make(map[string]string)}
	if len(frames) == 0 {
		return res, nil
	}

	refs := make([]capability.FrameRef, len(frames))
	pos := make(map[int]int, len(frames))
	for i, f := range frames {
		refs[i] = capability.FrameRef{Index: f.Index, Path: filepath.Join(framesDir, f.Filename)}
		pos[f.Index] = i
	}

	var yoloRefs, discRefs, vocabRefs, verifyRefs, ocrRefs []capability.FrameRef
	if e.caps.Objects != nil {
		yoloRefs = refs
	} else {
		e.skip(res, entity.SourceYOLO)
	}
	if p.DiscoveryEnabled {
		if e.caps.Captions != nil {
			discRefs = cadence(refs, p.DiscoveryEveryN)
		} else {
			e.skip(res, entity.SourceDiscovery)
		}
	}
	if p.OpenVocabEnabled {
		if e.caps.OpenVocab != nil {
			vocabRefs = cadence(refs, p.OpenVocabEveryN)
		} else {
			e.skip(res, entity.SourceOpenVocab)
		}
	}
	if p.VerifyEnabled && len(discRefs) > 0 {
		if e.caps.Verifier != nil {
			verifyRefs = cadence(refs, p.VerifyEveryN)
		} else {
			e.skip(res, entity.SourceVerify)
		}
	}
	if p.OcrEnabled {
		if e.caps.OCR != nil {
			ocrRefs = cadence(refs, p.OcrEveryN)
		} else {
			e.skip(res, entity.SourceOCR)
		}
	}

	total := len(yoloRefs) + len(discRefs) + len(vocabRefs) + len(verifyRefs) + len(ocrRefs)
	processed := 0
	advance := func(n int) {
		processed += n
		if onProgress != nil {
			onProgress(processed, total)
		}
	}

	batches := []struct {
		source string
		refs   []capability.FrameRef
		run    func(context.Context, []capability.FrameRef) error
	}{
		{entity.SourceYOLO, yoloRefs, func(ctx context.Context, r []capability.FrameRef) error {
			return e.runObjects(ctx, r, res, pos)
		}},
		{entity.SourceDiscovery, discRefs, func(ctx context.Context, r []capability.FrameRef) error {
			return e.runDiscovery(ctx, r, res, pos)
		}},
		{entity.SourceOpenVocab, vocabRefs, func(ctx context.Context, r []capability.FrameRef) error {
			return e.runOpenVocab(ctx, r, res, pos)
		}},
		{entity.SourceVerify, verifyRefs, func(ctx context.Context, r []capability.FrameRef) error {
			return e.runVerify(ctx, r, res, pos)
		}},
		{entity.SourceOCR, ocrRefs, func(ctx context.Context, r []capability.FrameRef) error {
			return e.runOCR(ctx, r, res, pos)
		}},
	}

	for _, b := range batches {
		if len(b.refs) == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := b.run(ctx, b.refs); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			e.logger.Warn("detection source failed",
				"source", b.source,
				"frames", len(b.refs),
				"error", err)
			res.SourceErrors[b.source] = err.Error()
		}
		advance(len(b.refs))
	}

	return res, nil
}

func (e *Engine) skip(res *Result, source string) {
	e.logger.Info("detection source unavailable, skipping", "source", source)
	res.SourceErrors[source] = "unavailable"
}

func (e *Engine) runObjects(ctx context.Context, refs []capability.FrameRef, res *Result, pos map[int]int) error {
	results, err := e.caps.Objects.DetectObjects(ctx, refs, e.params.MinConfidence)
	if err != nil {
		return err
	}
	for _, r := range results {
		i, ok := pos[r.Index]
		if !ok {
			continue
		}
		for _, d := range r.Detections {
			if d.Confidence < e.params.MinConfidence {
				continue
			}
			label := entity.NormalizeLabel(d.Label)
			if label == "" {
				continue
			}
			if mapped, ok := e.params.LabelMap[label]; ok {
				label = mapped
			}
			res.Frames[i].Detections = append(res.Frames[i].Detections, entity.Detection{
				Label:      label,
				Source:     entity.SourceYOLO,
				Confidence: entity.Round4(d.Confidence),
				Box:        d.Box,
			})
		}
	}
	return nil
}

func (e *Engine) runDiscovery(ctx context.Context, refs []capability.FrameRef, res *Result, pos map[int]int) error {
	results, err := e.caps.Captions.CaptionFrames(ctx, refs)
	if err != nil {
		return err
	}
	for _, r := range results {
		i, ok := pos[r.Index]
		if !ok || r.Caption == "" {
			continue
		}
		if r.Score > 0 && r.Score < e.params.DiscoveryMinScore {
			continue
		}
		conf := r.Score
		if conf == 0 {
			conf = 0.5
		}
		seen := make(map[string]bool)
		for _, phrase := range CaptionEntities(r.Caption, e.params.DiscoveryMaxPhrases, e.params.DiscoveryOnlyMilitary) {
			label := entity.CanonicalizeLabel(entity.NormalizeLabel(phrase))
			if label == "" || seen[label] {
				continue
			}
			seen[label] = true
			res.Frames[i].Detections = append(res.Frames[i].Detections, entity.Detection{
				Label:      label,
				Source:     entity.SourceDiscovery,
				Confidence: entity.Round4(conf),
			})
		}
	}
	return nil
}

func (e *Engine) runOpenVocab(ctx context.Context, refs []capability.FrameRef, res *Result, pos map[int]int) error {
	labels := normalizeLabels(e.params.OpenVocabLabels)
	if len(labels) == 0 {
		return nil
	}
	results, err := e.caps.OpenVocab.ScoreLabels(ctx, refs, labels, e.params.OpenVocabThreshold)
	if err != nil {
		return err
	}
	e.mergeScores(results, res, pos, entity.SourceOpenVocab, e.params.OpenVocabThreshold)
	return nil
}

// runVerify re-scores the most frequently discovered labels. Confirmed
// is set to non-nil even when nothing passes: the pass ran, so
// unconfirmed discovery labels must drop.
func (e *Engine) runVerify(ctx context.Context, refs []capability.FrameRef, res *Result, pos map[int]int) error {
	labels := topDiscovered(res.Frames, e.params.VerifyMaxLabels)
	if len(labels) == 0 {
		return nil
	}
	results, err := e.caps.Verifier.ScoreLabels(ctx, refs, labels, e.params.VerifyThreshold)
	if err != nil {
		return err
	}
	res.Confirmed = make(map[string]bool)
	for _, r := range results {
		for _, s := range r.Scores {
			if s.Score >= e.params.VerifyThreshold {
				res.Confirmed[entity.NormalizeLabel(s.Label)] = true
			}
		}
	}
	e.mergeScores(results, res, pos, entity.SourceVerify, e.params.VerifyThreshold)
	return nil
}

func (e *Engine) mergeScores(results []capability.VocabResult, res *Result, pos map[int]int, source string, threshold float64) {
	for _, r := range results {
		i, ok := pos[r.Index]
		if !ok {
			continue
		}
		for _, s := range r.Scores {
			if s.Score < threshold {
				continue
			}
			label := entity.NormalizeLabel(s.Label)
			if label == "" {
				continue
			}
			res.Frames[i].Detections = append(res.Frames[i].Detections, entity.Detection{
				Label:      label,
				Source:     source,
				Confidence: entity.Round4(s.Score),
			})
		}
	}
}

func (e *Engine) runOCR(ctx context.Context, refs []capability.FrameRef, res *Result, pos map[int]int) error {
	results, err := e.caps.OCR.ReadText(ctx, refs)
	if err != nil {
		return err
	}
	for _, r := range results {
		i, ok := pos[r.Index]
		if !ok {
			continue
		}
		for _, tok := range r.Tokens {
			if tok.Confidence < e.params.OcrMinConfidence {
				continue
			}
			marker, ok := MarkerToken(tok.Text)
			if !ok {
				continue
			}
			label := entity.NormalizeLabel(marker)
			if label == "" {
				continue
			}
			res.Frames[i].Detections = append(res.Frames[i].Detections, entity.Detection{
				Label:      label,
				Source:     entity.SourceOCR,
				Confidence: entity.Round4(tok.Confidence / 100.0),
				Box:        tok.Box,
				RawText:    tok.Text,
			})
		}
	}
	return nil
}

// cadence selects the frames a source runs on: sequence positions k
// with k mod everyN == 0, counted over the pruned sequence.
func cadence(refs []capability.FrameRef, everyN int) []capability.FrameRef {
	if everyN <= 1 {
		return refs
	}
	var out []capability.FrameRef
	for k, r := range refs {
		if k%everyN == 0 {
			out = append(out, r)
		}
	}
	return out
}

// topDiscovered ranks discovery labels by the number of frames they
// appear on, ties broken by label order, and returns the top k.
func topDiscovered(frames []entity.Frame, k int) []string {
	counts := make(map[string]int)
	for _, f := range frames {
		seen := make(map[string]bool)
		for _, d := range f.Detections {
			if d.Source == entity.SourceDiscovery && !seen[d.Label] {
				seen[d.Label] = true
				counts[d.Label]++
			}
		}
	}
	labels := make([]string, 0, len(counts))
	for l := range counts {
		labels = append(labels, l)
	}
	sort.Slice(labels, func(i, j int) bool {
		if counts[labels[i]] != counts[labels[j]] {
			return counts[labels[i]] > counts[labels[j]]
		}
		return labels[i] < labels[j]
	})
	if k > 0 && len(labels) > k {
		labels = labels[:k]
	}
	return labels
}

func normalizeLabels(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, l := range raw {
		if n := entity.NormalizeLabel(l); n != "" {
			out = append(out, n)
		}
	}
	return out
}
