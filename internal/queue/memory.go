package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"catalogsync/internal/model"
	"catalogsync/pkg/logger"

	"go.uber.org/zap"
)

var ErrClosed = errors.New("queue closed")

// MemoryQueue is an in-process Queue for single-binary deployments and tests.
// Jobs are lost on restart; the reaper re-enqueues queued tasks.
type MemoryQueue struct {
	mu     sync.Mutex
	chans  map[model.TaskKind]chan Job
	size   int
	closed bool
}

func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 1024
	}
	return &MemoryQueue{chans: make(map[model.TaskKind]chan Job), size: size}
}

func (q *MemoryQueue) ch(kind model.TaskKind) (chan Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrClosed
	}
	c, ok := q.chans[kind]
	if !ok {
		c = make(chan Job, q.size)
		q.chans[kind] = c
	}
	return c, nil
}

func (q *MemoryQueue) Publish(ctx context.Context, job Job) error {
	if _, err := job.encode(); err != nil {
		return err
	}
	c, err := q.ch(job.Kind)
	if err != nil {
		return err
	}
	select {
	case c <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Consume(ctx context.Context, kind model.TaskKind, workers int, h Handler) error {
	if workers <= 0 {
		workers = 1
	}
	c, err := q.ch(kind)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-c:
					q.handle(ctx, job, h)
				}
			}
		}()
	}
	wg.Wait()
	return nil
}

func (q *MemoryQueue) handle(ctx context.Context, job Job, h Handler) {
	err := h(ctx, job)
	if err == nil {
		return
	}
	if delay, ok := RetryDelay(err); ok {
		time.AfterFunc(delay, func() {
			if pubErr := q.Publish(context.Background(), job); pubErr != nil {
				logger.Warn("redelivery failed", zap.String("task_id", job.TaskID), zap.Error(pubErr))
			}
		})
		return
	}
	logger.Error("job dropped", zap.String("task_id", job.TaskID), zap.Error(err))
}

// Close rejects further publishes. Pending delayed redeliveries are dropped.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	return nil
}
