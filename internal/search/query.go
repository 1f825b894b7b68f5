package search

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/framesight/framesight-agent/internal/entity"
)

// Query is a parsed search request. Similarity applies to the semantic
// pass; MinPresence and MinFrames filter individual matches.
type Query struct {
	Q           string
	Similarity  float64
	MinPresence float64
	MinFrames   int
}

type MatchedEntity struct {
	Label    string  `json:"label"`
	Presence float64 `json:"presence"`
	Frames   int     `json:"frames"`
}

type VideoResult struct {
	VideoID         string          `json:"video_id"`
	Filename        string          `json:"filename"`
	Status          string          `json:"status"`
	DurationSec     float64         `json:"duration_sec"`
	MatchedEntities []MatchedEntity `json:"matched_entities"`
}

type SimilarEntity struct {
	Label      string  `json:"label"`
	Similarity float64 `json:"similarity"`
}

type Response struct {
	ExactMatchesCount   int             `json:"exact_matches_count"`
	AIEnhancementsCount int             `json:"ai_enhancements_count"`
	TotalUniqueVideos   int             `json:"total_unique_videos"`
	SimilarEntities     []SimilarEntity `json:"similar_entities"`
	Results             []VideoResult   `json:"results"`
}

// Search runs the two-pass query: exact normalized substring, then
// semantic similarity against every distinct label. Results are newest
// video first; matched entities are listed alphabetically.
func (ix *Index) Search(ctx context.Context, q Query) *Response {
	resp := &Response{SimilarEntities: []SimilarEntity{}, Results: []VideoResult{}}
	norm := entity.NormalizeLabel(q.Q)
	if norm == "" {
		return resp
	}
	if q.Similarity < 0.5 {
		q.Similarity = 0.5
	} else if q.Similarity > 1 {
		q.Similarity = 1
	}

	similar := ix.similarLabels(ctx, norm, q.Similarity)
	similarSet := make(map[string]bool, len(similar))
	for _, s := range similar {
		similarSet[s.Label] = true
	}

	exactFound := make(map[string]bool)

	ix.mu.RLock()
	entries := make([]*videoEntry, 0, len(ix.videos))
	for _, e := range ix.videos {
		entries = append(entries, e)
	}
	ix.mu.RUnlock()
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].createdAt.Equal(entries[j].createdAt) {
			return entries[i].createdAt.After(entries[j].createdAt)
		}
		return entries[i].videoID < entries[j].videoID
	})

	for _, e := range entries {
		labels := make([]string, 0, len(e.labels))
		for label := range e.labels {
			labels = append(labels, label)
		}
		sort.Strings(labels)

		var matched []MatchedEntity
		for _, label := range labels {
			exact := strings.Contains(label, norm)
			if !exact && !similarSet[label] {
				continue
			}
			stats := e.labels[label]
			if stats.presence < q.MinPresence || stats.appearances < q.MinFrames {
				continue
			}
			if exact {
				exactFound[label] = true
			}
			matched = append(matched, MatchedEntity{
				Label:    label,
				Presence: stats.presence,
				Frames:   stats.appearances,
			})
		}
		if len(matched) > 0 {
			resp.Results = append(resp.Results, VideoResult{
				VideoID:         e.videoID,
				Filename:        e.filename,
				Status:          e.status,
				DurationSec:     e.durationSec,
				MatchedEntities: matched,
			})
		}
	}

	enhancements := 0
	for _, s := range similar {
		if !strings.Contains(s.Label, norm) {
			enhancements++
		}
	}

	resp.ExactMatchesCount = len(exactFound)
	resp.AIEnhancementsCount = enhancements
	resp.TotalUniqueVideos = len(resp.Results)
	resp.SimilarEntities = similar
	return resp
}

// similarLabels scores every distinct indexed label against the query:
// embedding cosine when an embedder is wired, token-set overlap
// otherwise. Hits are sorted by similarity descending, label ascending.
func (ix *Index) similarLabels(ctx context.Context, norm string, threshold float64) []SimilarEntity {
	tokensByLabel := ix.distinctLabels()
	if len(tokensByLabel) == 0 {
		return []SimilarEntity{}
	}

	scores := ix.embeddingScores(ctx, norm, tokensByLabel)
	if scores == nil {
		scores = jaccardScores(norm, tokensByLabel)
	}

	hits := make([]SimilarEntity, 0, len(scores))
	for label, score := range scores {
		if score >= threshold {
			hits = append(hits, SimilarEntity{Label: label, Similarity: entity.Round4(score)})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].Label < hits[j].Label
	})
	return hits
}

// distinctLabels collects every indexed label with its token set.
func (ix *Index) distinctLabels() map[string]map[string]bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make(map[string]map[string]bool)
	for _, e := range ix.videos {
		for label, stats := range e.labels {
			if _, ok := out[label]; !ok {
				out[label] = stats.tokens
			}
		}
	}
	return out
}

// embeddingScores returns nil when no embedder is wired or the query
// embedding fails, which switches the caller to the token fallback.
// Labels absent from the cache score zero rather than forcing a sidecar
// round trip inside a read path.
func (ix *Index) embeddingScores(ctx context.Context, norm string, tokensByLabel map[string]map[string]bool) map[string]float64 {
	if ix.embedder == nil {
		return nil
	}
	vecs, err := ix.embedder.EmbedLabels(ctx, []string{norm})
	if err != nil || vecs[norm] == nil {
		ix.logger.Warn("query embedding failed, using token overlap", "error", err)
		return nil
	}
	queryVec := vecs[norm]

	cached := ix.cache.snapshot()
	scores := make(map[string]float64, len(tokensByLabel))
	for label := range tokensByLabel {
		if vec := cached[label]; vec != nil {
			scores[label] = cosine(queryVec, vec)
		}
	}
	return scores
}

func jaccardScores(norm string, tokensByLabel map[string]map[string]bool) map[string]float64 {
	queryTokens := tokenSet(norm)
	scores := make(map[string]float64, len(tokensByLabel))
	for label, tokens := range tokensByLabel {
		scores[label] = jaccard(queryTokens, tokens)
	}
	return scores
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for tok := range a {
		if b[tok] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

func cosine(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	denom := math.Sqrt(na) * math.Sqrt(nb)
	if denom == 0 {
		denom = 1
	}
	return dot / denom
}
