package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"catalogsync/internal/model"
	"catalogsync/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.InitLogger("test")
}

func TestMemoryQueue_DeliversByKind(t *testing.T) {
	q := NewMemoryQueue(8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Job, 2)
	go func() {
		_ = q.Consume(ctx, model.KindIngestion, 2, func(_ context.Context, j Job) error {
			got <- j
			return nil
		})
	}()

	require.NoError(t, q.Publish(ctx, Job{TaskID: "t-1", Kind: model.KindIngestion}))
	require.NoError(t, q.Publish(ctx, Job{TaskID: "w-1", Kind: model.KindWebhookDispatch}))

	select {
	case j := <-got:
		assert.Equal(t, "t-1", j.TaskID)
	case <-time.After(time.Second):
		t.Fatal("job not delivered")
	}
	select {
	case j := <-got:
		t.Fatalf("unexpected delivery of %v to ingestion consumer", j)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryQueue_RetryAfterRedelivers(t *testing.T) {
	q := NewMemoryQueue(8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	done := make(chan struct{})
	go func() {
		_ = q.Consume(ctx, model.KindWebhookDispatch, 1, func(_ context.Context, j Job) error {
			if calls.Add(1) < 3 {
				return RetryAfter(5*time.Millisecond, errors.New("busy"))
			}
			close(done)
			return nil
		})
	}()

	require.NoError(t, q.Publish(ctx, Job{TaskID: "w-1", Kind: model.KindWebhookDispatch}))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job was not redelivered")
	}
	assert.Equal(t, int32(3), calls.Load())
}

func TestMemoryQueue_ConsumeStopsOnCancel(t *testing.T) {
	q := NewMemoryQueue(1)
	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = q.Consume(ctx, model.KindIngestion, 3, func(context.Context, Job) error { return nil })
	}()
	cancel()
	wg.Wait()

	require.NoError(t, q.Close())
	assert.ErrorIs(t, q.Publish(context.Background(), Job{TaskID: "x", Kind: model.KindIngestion}), ErrClosed)
}

func TestPublishRejectsEmptyTaskID(t *testing.T) {
	q := NewMemoryQueue(1)
	assert.Error(t, q.Publish(context.Background(), Job{Kind: model.KindIngestion}))
}

func TestRetryDelay(t *testing.T) {
	cause := errors.New("boom")
	err := RetryAfter(time.Minute, cause)

	d, ok := RetryDelay(err)
	assert.True(t, ok)
	assert.Equal(t, time.Minute, d)
	assert.ErrorIs(t, err, cause)

	_, ok = RetryDelay(cause)
	assert.False(t, ok)
}

func TestDecodeJob(t *testing.T) {
	j, err := decodeJob([]byte(`{"task_id":"abc","kind":"ingestion"}`))
	require.NoError(t, err)
	assert.Equal(t, Job{TaskID: "abc", Kind: model.KindIngestion}, j)

	_, err = decodeJob([]byte(`{"kind":"ingestion"}`))
	assert.Error(t, err)
	_, err = decodeJob([]byte(`not json`))
	assert.Error(t, err)
}
