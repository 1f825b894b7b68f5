package broker

import (
	"context"
	"sync"
)

// ChannelBroker is the default single-process queue: a bounded channel.
type ChannelBroker struct {
	tasks chan Task
	done  chan struct{}
	once  sync.Once
}

func NewChannelBroker(capacity int) *ChannelBroker {
	if capacity < 1 {
		capacity = 1
	}
	return &ChannelBroker{
		tasks: make(chan Task, capacity),
		done:  make(chan struct{}),
	}
}

func (b *ChannelBroker) Publish(_ context.Context, task Task) error {
	select {
	case <-b.done:
		return ErrClosed
	default:
	}

	select {
	case b.tasks <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

func (b *ChannelBroker) Consume(ctx context.Context) (Task, error) {
	select {
	case task := <-b.tasks:
		return task, nil
	case <-b.done:
		// Drain what is already buffered before reporting closed.
		select {
		case task := <-b.tasks:
			return task, nil
		default:
			return Task{}, ErrClosed
		}
	case <-ctx.Done():
		return Task{}, ctx.Err()
	}
}

func (b *ChannelBroker) Len(_ context.Context) (int, error) {
	return len(b.tasks), nil
}

func (b *ChannelBroker) Close() error {
	b.once.Do(func() { close(b.done) })
	return nil
}
