// Package worker drives queued jobs through the ingestion pipeline:
// frame extraction, transcription, entity detection, aggregation,
// report assembly and search indexing. One worker owns one job at a
// time; everything a worker learns lands in the job store.
package worker

import (
	"context"
	"sync"
)

// Registry delivers cooperative cancellation to the worker that owns a
// job. A request for a job nobody claimed yet is kept pending and
// consumed when a worker begins it; a request for a running job cancels
// its context, which the stages observe at their next boundary.
type Registry struct {
	mu      sync.Mutex
	seq     uint64
	pending map[string]bool
	active  map[string]*Handle
}

// Handle represents one worker's ownership of a job's cancellation
// state. Close releases it; Requested reports whether cancellation was
// asked for at any point, including before the worker began.
type Handle struct {
	videoID   string
	seq       uint64
	registry  *Registry
	cancel    context.CancelFunc
	requested bool
}

func NewRegistry() *Registry {
	return &Registry{
		pending: make(map[string]bool),
		active:  make(map[string]*Handle),
	}
}

// RequestCancel implements jobs.Canceller.
func (r *Registry) RequestCancel(videoID string) {
	r.mu.Lock()
	h := r.active[videoID]
	if h == nil {
		r.pending[videoID] = true
		r.mu.Unlock()
		return
	}
	h.requested = true
	r.mu.Unlock()

	h.cancel()
}

// Begin registers a worker as the owner of videoID and consumes any
// pending request. The caller must Close the handle when the job ends.
func (r *Registry) Begin(videoID string, cancel context.CancelFunc) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	h := &Handle{
		videoID:  videoID,
		seq:      r.seq,
		registry: r,
		cancel:   cancel,
	}
	if r.pending[videoID] {
		delete(r.pending, videoID)
		h.requested = true
	}
	r.active[videoID] = h
	return h
}

// Forget drops a pending request for a job that will never run again,
// such as a redelivered task for a terminal job.
func (r *Registry) Forget(videoID string) {
	r.mu.Lock()
	delete(r.pending, videoID)
	r.mu.Unlock()
}

func (h *Handle) Requested() bool {
	h.registry.mu.Lock()
	defer h.registry.mu.Unlock()
	return h.requested
}

// Close deregisters the handle. A later registration for the same job,
// possible under duplicate task delivery, is left untouched.
func (h *Handle) Close() {
	h.registry.mu.Lock()
	defer h.registry.mu.Unlock()
	if cur := h.registry.active[h.videoID]; cur != nil && cur.seq == h.seq {
		delete(h.registry.active, h.videoID)
	}
}
