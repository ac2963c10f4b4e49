// Package queue carries job notifications from producers to harness workers.
// Messages only name a task; the task row is the source of truth.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"catalogsync/internal/model"
)

// Job names one task to execute.
type Job struct {
	TaskID string         `json:"task_id"`
	Kind   model.TaskKind `json:"kind"`
}

func (j Job) encode() ([]byte, error) {
	if j.TaskID == "" {
		return nil, errors.New("empty task id")
	}
	return json.Marshal(j)
}

func decodeJob(data []byte) (Job, error) {
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return Job{}, fmt.Errorf("decode job: %w", err)
	}
	if j.TaskID == "" {
		return Job{}, errors.New("decode job: empty task id")
	}
	return j, nil
}

// Handler processes one job. A nil error acknowledges it. An error built
// with RetryAfter schedules redelivery; any other error drops the message.
type Handler func(ctx context.Context, job Job) error

type retryLater struct {
	delay time.Duration
	err   error
}

func (r *retryLater) Error() string { return fmt.Sprintf("retry in %s: %v", r.delay, r.err) }
func (r *retryLater) Unwrap() error { return r.err }

// RetryAfter asks the queue to deliver the job again after delay.
func RetryAfter(delay time.Duration, cause error) error {
	return &retryLater{delay: delay, err: cause}
}

// RetryDelay reports whether err requests redelivery and after how long.
func RetryDelay(err error) (time.Duration, bool) {
	var r *retryLater
	if errors.As(err, &r) {
		return r.delay, true
	}
	return 0, false
}

type Publisher interface {
	Publish(ctx context.Context, job Job) error
}

// Consumer runs workers handlers for one job kind until ctx is done.
type Consumer interface {
	Consume(ctx context.Context, kind model.TaskKind, workers int, h Handler) error
}

type Queue interface {
	Publisher
	Consumer
	Close() error
}
