package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

const (
	etcdDialTimeout = 5 * time.Second
	etcdSessionTTL  = 5
	etcdPollEvery   = 250 * time.Millisecond
)

// EtcdBroker is a shared FIFO queue on etcd for multi-agent deployments.
// The queue is a pair of counters (head, tail) and one key per item;
// both operations run under a distributed mutex. Delivery is
// at-least-once: an agent that dies after popping loses the task, and
// the stale-job sweep re-publishes it.
type EtcdBroker struct {
	cli      *clientv3.Client
	kv       clientv3.KV
	session  *concurrency.Session
	prefix   string
	capacity int
	logger   *slog.Logger
}

// NewEtcdBroker connects to the queue named by a broker URL of the form
// etcd://host:port/prefix.
func NewEtcdBroker(rawURL string, capacity int, logger *slog.Logger) (*EtcdBroker, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse broker url: %w", err)
	}
	if u.Scheme != "etcd" {
		return nil, fmt.Errorf("unsupported broker scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("broker url %q has no host", rawURL)
	}
	prefix := strings.Trim(u.Path, "/")
	if prefix == "" {
		prefix = "framesight/tasks"
	}
	if capacity < 1 {
		capacity = 1
	}

	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   []string{u.Host},
		DialTimeout: etcdDialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("connect etcd: %w", err)
	}

	session, err := concurrency.NewSession(cli, concurrency.WithTTL(etcdSessionTTL))
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("create etcd session: %w", err)
	}

	return &EtcdBroker{
		cli:      cli,
		kv:       clientv3.NewKV(cli),
		session:  session,
		prefix:   prefix,
		capacity: capacity,
		logger:   logger,
	}, nil
}

func (b *EtcdBroker) Publish(ctx context.Context, task Task) error {
	mutex, err := b.lock(ctx)
	if err != nil {
		return fmt.Errorf("lock queue: %w", err)
	}
	defer b.unlock(mutex)

	head, err := b.counter(ctx, "head")
	if err != nil {
		return err
	}
	tail, err := b.counter(ctx, "tail")
	if err != nil {
		return err
	}
	if tail-head >= int64(b.capacity) {
		return ErrQueueFull
	}

	value, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	if _, err := b.kv.Put(ctx, b.itemKey(tail), string(value)); err != nil {
		return fmt.Errorf("put task: %w", err)
	}
	return b.setCounter(ctx, "tail", tail+1)
}

func (b *EtcdBroker) Consume(ctx context.Context) (Task, error) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return Task{}, ctx.Err()
		case <-b.session.Done():
			return Task{}, ErrClosed
		case <-timer.C:
		}

		task, ok, err := b.tryPop(ctx)
		if err != nil {
			return Task{}, err
		}
		if ok {
			return task, nil
		}
		timer.Reset(etcdPollEvery)
	}
}

func (b *EtcdBroker) tryPop(ctx context.Context) (Task, bool, error) {
	mutex, err := b.lock(ctx)
	if err != nil {
		return Task{}, false, fmt.Errorf("lock queue: %w", err)
	}
	defer b.unlock(mutex)

	head, err := b.counter(ctx, "head")
	if err != nil {
		return Task{}, false, err
	}
	tail, err := b.counter(ctx, "tail")
	if err != nil {
		return Task{}, false, err
	}
	if head >= tail {
		return Task{}, false, nil
	}

	key := b.itemKey(head)
	resp, err := b.kv.Get(ctx, key)
	if err != nil {
		return Task{}, false, fmt.Errorf("get task: %w", err)
	}
	if err := b.setCounter(ctx, "head", head+1); err != nil {
		return Task{}, false, err
	}
	if len(resp.Kvs) == 0 {
		if b.logger != nil {
			b.logger.Warn("queue item missing, skipping", "key", key)
		}
		return Task{}, false, nil
	}

	var task Task
	if err := json.Unmarshal(resp.Kvs[0].Value, &task); err != nil {
		if b.logger != nil {
			b.logger.Warn("queue item undecodable, skipping", "key", key, "error", err)
		}
		b.kv.Delete(ctx, key)
		return Task{}, false, nil
	}
	if _, err := b.kv.Delete(ctx, key); err != nil {
		return Task{}, false, fmt.Errorf("delete task: %w", err)
	}
	return task, true, nil
}

func (b *EtcdBroker) Len(ctx context.Context) (int, error) {
	head, err := b.counter(ctx, "head")
	if err != nil {
		return 0, err
	}
	tail, err := b.counter(ctx, "tail")
	if err != nil {
		return 0, err
	}
	return int(tail - head), nil
}

func (b *EtcdBroker) Close() error {
	if err := b.session.Close(); err != nil {
		b.cli.Close()
		return err
	}
	return b.cli.Close()
}

func (b *EtcdBroker) lock(ctx context.Context) (*concurrency.Mutex, error) {
	mutex := concurrency.NewMutex(b.session, "/"+b.prefix+"/lock")
	if err := mutex.Lock(ctx); err != nil {
		return nil, err
	}
	return mutex, nil
}

// unlock uses its own deadline so a cancelled caller context cannot
// strand the lock until the session TTL expires.
func (b *EtcdBroker) unlock(mutex *concurrency.Mutex) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := mutex.Unlock(ctx); err != nil && b.logger != nil {
		b.logger.Warn("failed to unlock queue mutex", "error", err)
	}
}

func (b *EtcdBroker) itemKey(index int64) string {
	return fmt.Sprintf("%s/items/%020d", b.prefix, index)
}

func (b *EtcdBroker) counter(ctx context.Context, name string) (int64, error) {
	resp, err := b.kv.Get(ctx, b.prefix+"/infos/"+name)
	if err != nil {
		return 0, fmt.Errorf("get %s counter: %w", name, err)
	}
	if len(resp.Kvs) == 0 {
		return 0, nil
	}
	return strconv.ParseInt(string(resp.Kvs[0].Value), 10, 64)
}

func (b *EtcdBroker) setCounter(ctx context.Context, name string, value int64) error {
	if _, err := b.kv.Put(ctx, b.prefix+"/infos/"+name, strconv.FormatInt(value, 10)); err != nil {
		return fmt.Errorf("set %s counter: %w", name, err)
	}
	return nil
}
