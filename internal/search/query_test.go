package search

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/framesight/framesight-agent/internal/entity"
)

func seedIndex(t *testing.T, ix *Index) {
	t.Helper()
	older := completedJob("aaaa1111", "airfield.mp4", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	newer := completedJob("bbbb2222", "column.mp4", time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC))

	repA := reportFor("aaaa1111", map[string]*entity.Summary{
		"fighter jet": summary(0.8, 10),
		"aircraft":    summary(0.4, 5),
	})
	repB := reportFor("bbbb2222", map[string]*entity.Summary{
		"tank": summary(0.2, 2),
	})
	if err := ix.IngestReport(context.Background(), older, repA); err != nil {
		t.Fatal(err)
	}
	if err := ix.IngestReport(context.Background(), newer, repB); err != nil {
		t.Fatal(err)
	}
}

func TestSearch_ExactSubstringPass(t *testing.T) {
	ix := New(filepath.Join(t.TempDir(), "labels.json"), nil, discardLogger())
	seedIndex(t, ix)

	resp := ix.Search(context.Background(), Query{Q: "Jet", Similarity: 0.7})

	if resp.ExactMatchesCount != 1 {
		t.Errorf("exact_matches_count = %d, want 1", resp.ExactMatchesCount)
	}
	if resp.TotalUniqueVideos != 1 {
		t.Fatalf("total_unique_videos = %d, want 1: %+v", resp.TotalUniqueVideos, resp.Results)
	}
	got := resp.Results[0]
	if got.VideoID != "aaaa1111" {
		t.Errorf("video_id = %s, want aaaa1111", got.VideoID)
	}
	if len(got.MatchedEntities) != 1 || got.MatchedEntities[0].Label != "fighter jet" {
		t.Errorf("matched = %+v, want [fighter jet]", got.MatchedEntities)
	}
	if got.MatchedEntities[0].Frames != 10 {
		t.Errorf("frames = %d, want appearances 10", got.MatchedEntities[0].Frames)
	}
}

func TestSearch_TokenOverlapFallback(t *testing.T) {
	ix := New(filepath.Join(t.TempDir(), "labels.json"), nil, discardLogger())
	seedIndex(t, ix)

	// "tank convoy" is not a substring of any label; the token fallback
	// scores "tank" at 1/2 overlap, exactly the threshold.
	resp := ix.Search(context.Background(), Query{Q: "tank convoy", Similarity: 0.5})

	if resp.ExactMatchesCount != 0 {
		t.Errorf("exact_matches_count = %d, want 0", resp.ExactMatchesCount)
	}
	if len(resp.SimilarEntities) != 1 || resp.SimilarEntities[0].Label != "tank" {
		t.Fatalf("similar_entities = %+v, want [tank]", resp.SimilarEntities)
	}
	if resp.SimilarEntities[0].Similarity != 0.5 {
		t.Errorf("similarity = %v, want 0.5", resp.SimilarEntities[0].Similarity)
	}
	if resp.AIEnhancementsCount != 1 {
		t.Errorf("ai_enhancements_count = %d, want 1", resp.AIEnhancementsCount)
	}
	if resp.TotalUniqueVideos != 1 || resp.Results[0].VideoID != "bbbb2222" {
		t.Errorf("results = %+v, want only bbbb2222", resp.Results)
	}
}

func TestSearch_EmbedderCosinePass(t *testing.T) {
	embedder := &fakeEmbedder{vecs: map[string][]float64{
		"jet":         {1, 0},
		"aircraft":    {0.8, 0.6},
		"fighter jet": {0.9, 0.43589},
		"tank":        {0, 1},
	}}
	ix := New(filepath.Join(t.TempDir(), "labels.json"), embedder, discardLogger())
	seedIndex(t, ix)

	resp := ix.Search(context.Background(), Query{Q: "jet", Similarity: 0.75})

	// aircraft scores cos((1,0),(0.8,0.6)) = 0.8; tank scores 0.
	var labels []string
	for _, s := range resp.SimilarEntities {
		labels = append(labels, s.Label)
	}
	found := false
	for _, l := range labels {
		if l == "aircraft" {
			found = true
		}
	}
	if !found {
		t.Fatalf("similar_entities = %v, want aircraft included", labels)
	}
	for _, l := range labels {
		if l == "tank" {
			t.Errorf("tank similar to jet: %+v", resp.SimilarEntities)
		}
	}

	// aaaa1111 matches twice: aircraft semantically, fighter jet exactly.
	if resp.TotalUniqueVideos != 1 {
		t.Fatalf("total_unique_videos = %d, want 1", resp.TotalUniqueVideos)
	}
	matched := resp.Results[0].MatchedEntities
	if len(matched) != 2 || matched[0].Label != "aircraft" || matched[1].Label != "fighter jet" {
		t.Errorf("matched = %+v, want [aircraft, fighter jet]", matched)
	}
}

func TestSearch_FiltersDropWeakMatches(t *testing.T) {
	ix := New(filepath.Join(t.TempDir(), "labels.json"), nil, discardLogger())
	seedIndex(t, ix)

	resp := ix.Search(context.Background(), Query{Q: "tank", Similarity: 0.7, MinPresence: 0.5})
	if resp.TotalUniqueVideos != 0 {
		t.Errorf("total_unique_videos = %d, want 0 with min_presence 0.5", resp.TotalUniqueVideos)
	}
	if resp.ExactMatchesCount != 0 {
		t.Errorf("exact_matches_count = %d, want 0 for filtered-out match", resp.ExactMatchesCount)
	}

	resp = ix.Search(context.Background(), Query{Q: "tank", Similarity: 0.7, MinFrames: 3})
	if resp.TotalUniqueVideos != 0 {
		t.Errorf("total_unique_videos = %d, want 0 with min_frames 3", resp.TotalUniqueVideos)
	}
}

func TestSearch_EmptyQuery(t *testing.T) {
	ix := New(filepath.Join(t.TempDir(), "labels.json"), nil, discardLogger())
	seedIndex(t, ix)

	resp := ix.Search(context.Background(), Query{Q: "   "})
	if resp.TotalUniqueVideos != 0 || len(resp.Results) != 0 || len(resp.SimilarEntities) != 0 {
		t.Errorf("empty query returned %+v, want empty response", resp)
	}
	if resp.Results == nil || resp.SimilarEntities == nil {
		t.Error("response slices must be non-nil for JSON shape")
	}
}
