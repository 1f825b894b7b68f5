package search

import (
	"context"
	"encoding/json"
	"os"
	"sort"
	"sync"

	"github.com/framesight/framesight-agent/internal/capability"
	"github.com/framesight/framesight-agent/internal/report"
)

const cacheVersion = 1

type cacheFile struct {
	Version int          `json:"version"`
	Labels  []cacheEntry `json:"labels"`
}

type cacheEntry struct {
	Label     string    `json:"label"`
	Embedding []float64 `json:"embedding"`
}

// labelCache is the shared label-to-embedding store persisted under the
// reports root. Labels recur across videos, so entries are never
// evicted; the file is rewritten sorted so successive runs diff cleanly.
type labelCache struct {
	path string

	mu   sync.Mutex
	vecs map[string][]float64
}

func newLabelCache(path string) *labelCache {
	return &labelCache{path: path, vecs: make(map[string][]float64)}
}

// load reads the persisted cache. A missing file is an empty cache; a
// corrupt one is discarded and rebuilt on the next ensure.
func (c *labelCache) load() error {
	data, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var file cacheFile
	if err := json.Unmarshal(data, &file); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.vecs = make(map[string][]float64, len(file.Labels))
	for _, e := range file.Labels {
		c.vecs[e.Label] = e.Embedding
	}
	return nil
}

// ensure embeds every label not yet cached and persists the cache when
// it grew. Serialized so concurrent indexing jobs do not duplicate
// sidecar calls.
func (c *labelCache) ensure(ctx context.Context, embedder capability.Embedder, labels []string) error {
	if embedder == nil {
		return nil
	}

	c.mu.Lock()
	var missing []string
	for _, label := range labels {
		if _, ok := c.vecs[label]; !ok && label != "" {
			missing = append(missing, label)
		}
	}
	c.mu.Unlock()
	if len(missing) == 0 {
		return nil
	}

	vecs, err := embedder.EmbedLabels(ctx, missing)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for label, vec := range vecs {
		c.vecs[label] = vec
	}
	return c.saveLocked()
}

func (c *labelCache) get(label string) []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.vecs[label]
}

// snapshot returns a shallow copy for lock-free scoring.
func (c *labelCache) snapshot() map[string][]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string][]float64, len(c.vecs))
	for label, vec := range c.vecs {
		out[label] = vec
	}
	return out
}

func (c *labelCache) saveLocked() error {
	file := cacheFile{Version: cacheVersion, Labels: make([]cacheEntry, 0, len(c.vecs))}
	for label, vec := range c.vecs {
		file.Labels = append(file.Labels, cacheEntry{Label: label, Embedding: vec})
	}
	sort.Slice(file.Labels, func(i, j int) bool { return file.Labels[i].Label < file.Labels[j].Label })
	return report.WriteJSON(c.path, &file)
}
