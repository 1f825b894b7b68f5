// Package broker carries ingestion tasks from the API to the worker
// pool. Single-node deployments use the in-process channel broker; a
// broker URL switches the agent to a shared etcd queue so several
// agents can drain one backlog.
package broker

import (
	"context"
	"errors"
)

// Task is one unit of work: process the job identified by VideoID.
// Delivery is at-least-once; consumers must tolerate duplicates.
type Task struct {
	VideoID string `json:"video_id"`
}

var (
	// ErrQueueFull is returned by Publish when the queue is at capacity.
	// Submission handlers turn it into backpressure toward the caller.
	ErrQueueFull = errors.New("task queue full")

	// ErrClosed is returned once the broker has shut down.
	ErrClosed = errors.New("broker closed")
)

type Broker interface {
	// Publish enqueues a task without blocking. A full queue returns
	// ErrQueueFull immediately.
	Publish(ctx context.Context, task Task) error

	// Consume blocks until a task is available, the context is done, or
	// the broker closes.
	Consume(ctx context.Context) (Task, error)

	// Len reports the number of tasks currently queued.
	Len(ctx context.Context) (int, error)

	Close() error
}
