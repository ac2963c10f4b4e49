// Package harness executes background tasks delivered by the job queue.
//
// Every execution follows the same envelope: take the per-task lock, claim
// the durable task row, run the job under its hard limit (context deadline)
// and soft limit (stop channel), then either finish the task or requeue it
// for a delayed retry. Task state lives only in the TaskStore.
package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"catalogsync/internal/config"
	"catalogsync/internal/model"
	"catalogsync/internal/progress"
	"catalogsync/internal/queue"
	"catalogsync/internal/repository"
	"catalogsync/internal/retry"
	"catalogsync/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var ErrUnknownKind = errors.New("no job registered for task kind")

const (
	reasonSoftLimit = "soft time limit exceeded"
	reasonHardLimit = "hard time limit exceeded"
	reasonCancelled = "cancelled by request"
	reasonExhausted = "retry limit exceeded"
)

// Execution is handed to a running job.
type Execution struct {
	Task    *model.Task
	Attempt int
	// Stop is closed when the job should wind down at its next safe point.
	Stop <-chan struct{}
}

// RunFunc performs one attempt. The returned result is stored with the task
// even on failure. Errors marked with retry.Permanent are not retried.
type RunFunc func(ctx context.Context, exec *Execution) (any, error)

type Job struct {
	Kind   model.TaskKind
	Limits config.JobLimits
	Run    RunFunc
	// TrackProgress makes the harness write retrying and failed progress
	// records for tasks of this kind.
	TrackProgress bool
	// OnFailed runs once after a task of this kind is marked failed.
	OnFailed func(ctx context.Context, task *model.Task, reason string)
}

func (j Job) policy() retry.Policy {
	return retry.Fixed(j.Limits.MaxRetries, j.Limits.RetryDelay)
}

type ProgressStore interface {
	Put(ctx context.Context, rec progress.Record) error
	Get(ctx context.Context, taskID string) (*progress.Record, error)
}

type Observer interface {
	TaskStarted(kind string)
	TaskFinished(kind, outcome string, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) TaskStarted(string)                         {}
func (nopObserver) TaskFinished(string, string, time.Duration) {}

type Options struct {
	// CancelPoll is how often a running task's cancel flag is checked.
	CancelPoll time.Duration
	// Busy is the redelivery delay when the task lock or store is unavailable.
	Busy time.Duration
}

func DefaultOptions() Options {
	return Options{CancelPoll: 2 * time.Second, Busy: 15 * time.Second}
}

type Harness struct {
	tasks    repository.TaskStore
	queue    queue.Queue
	locker   repository.Locker
	progress ProgressStore
	observer Observer
	opts     Options

	mu   sync.RWMutex
	jobs map[model.TaskKind]Job
}

func New(tasks repository.TaskStore, q queue.Queue, locker repository.Locker, prog ProgressStore, opts Options, observer Observer) *Harness {
	def := DefaultOptions()
	if opts.CancelPoll <= 0 {
		opts.CancelPoll = def.CancelPoll
	}
	if opts.Busy <= 0 {
		opts.Busy = def.Busy
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Harness{
		tasks:    tasks,
		queue:    q,
		locker:   locker,
		progress: prog,
		observer: observer,
		opts:     opts,
		jobs:     make(map[model.TaskKind]Job),
	}
}

func (h *Harness) Register(job Job) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.jobs[job.Kind] = job
}

func (h *Harness) job(kind model.TaskKind) (Job, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	j, ok := h.jobs[kind]
	return j, ok
}

// Submit persists task as queued and publishes its job. A failed publish
// is logged, not returned: the task row exists and the reaper republishes
// queued tasks that sit idle.
func (h *Harness) Submit(ctx context.Context, task *model.Task) error {
	if _, ok := h.job(task.Kind); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKind, task.Kind)
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	task.State = model.TaskQueued
	if err := h.tasks.Create(ctx, task); err != nil {
		return fmt.Errorf("create task: %w", err)
	}

	if err := h.queue.Publish(ctx, queue.Job{TaskID: task.ID, Kind: task.Kind}); err != nil {
		logger.Warn("task persisted but not enqueued",
			zap.String("task_id", task.ID), zap.String("kind", string(task.Kind)), zap.Error(err))
	}
	return nil
}

// SubmitOnce submits task unless one with the same ID exists, so a retried
// parent can resubmit its children safely. It reports whether the task was
// new.
func (h *Harness) SubmitOnce(ctx context.Context, task *model.Task) (bool, error) {
	if task.ID != "" {
		existing, err := h.tasks.Get(ctx, task.ID)
		if err != nil {
			return false, fmt.Errorf("look up task: %w", err)
		}
		if existing != nil {
			return false, nil
		}
	}
	if err := h.Submit(ctx, task); err != nil {
		return false, err
	}
	return true, nil
}

// Run consumes every registered kind until ctx is cancelled.
func (h *Harness) Run(ctx context.Context) error {
	h.mu.RLock()
	jobs := make([]Job, 0, len(h.jobs))
	for _, j := range h.jobs {
		jobs = append(jobs, j)
	}
	h.mu.RUnlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, j := range jobs {
		g.Go(func() error {
			return h.queue.Consume(ctx, j.Kind, j.Limits.Workers, h.Execute)
		})
	}
	return g.Wait()
}

// Execute is the queue handler. It returns nil when the message is done
// with, and a queue.RetryAfter error when it must be delivered again.
func (h *Harness) Execute(ctx context.Context, msg queue.Job) error {
	log := logger.With(zap.String("task_id", msg.TaskID), zap.String("kind", string(msg.Kind)))

	job, ok := h.job(msg.Kind)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKind, msg.Kind)
	}

	unlock, err := h.locker.TryLock(ctx, lockName(msg.TaskID))
	if err != nil {
		if errors.Is(err, repository.ErrLockHeld) {
			log.Debug("task is executing elsewhere")
		} else {
			log.Warn("failed to acquire task lock", zap.Error(err))
		}
		return queue.RetryAfter(h.opts.Busy, err)
	}
	defer unlock()

	task, err := h.tasks.Get(ctx, msg.TaskID)
	if err != nil {
		log.Warn("failed to load task", zap.Error(err))
		return queue.RetryAfter(h.opts.Busy, err)
	}
	if task == nil {
		log.Warn("job references unknown task, dropping")
		return nil
	}
	if task.State.Terminal() {
		log.Debug("task already finished", zap.String("state", string(task.State)))
		return nil
	}
	if task.CancelRequested {
		h.fail(ctx, job, task, task.Attempts, nil, reasonCancelled)
		return nil
	}
	if task.Attempts >= job.policy().Attempts() {
		h.fail(ctx, job, task, task.Attempts, nil, reasonExhausted)
		return nil
	}

	claimed, err := h.tasks.Claim(ctx, task.ID)
	if err != nil {
		return queue.RetryAfter(h.opts.Busy, err)
	}
	if !claimed {
		return nil
	}
	task.State = model.TaskRunning
	task.Attempts++

	return h.run(ctx, job, task, log.With(zap.Int("attempt", task.Attempts)))
}

func (h *Harness) run(ctx context.Context, job Job, task *model.Task, log *zap.Logger) error {
	attempt := task.Attempts

	runCtx, cancel := context.WithTimeout(ctx, job.Limits.HardLimit)
	defer cancel()

	stop := newStopper()
	soft := time.AfterFunc(job.Limits.SoftLimit, func() { stop.trigger(reasonSoftLimit) })
	defer soft.Stop()
	go h.watchCancel(runCtx, task.ID, stop)

	kind := string(job.Kind)
	h.observer.TaskStarted(kind)
	log.Info("task started")
	start := time.Now()

	result, runErr := job.Run(runCtx, &Execution{Task: task, Attempt: attempt, Stop: stop.C()})
	elapsed := time.Since(start)

	if runErr == nil {
		if err := h.finish(ctx, task, model.TaskSucceeded, result, nil); err != nil {
			log.Error("failed to record task success", zap.Error(err))
			h.observer.TaskFinished(kind, "retrying", elapsed)
			return queue.RetryAfter(h.opts.Busy, err)
		}
		h.observer.TaskFinished(kind, string(model.TaskSucceeded), elapsed)
		log.Info("task succeeded", zap.Duration("elapsed", elapsed))
		return nil
	}

	// Worker shutdown: requeue for immediate redelivery elsewhere.
	if ctx.Err() != nil {
		h.requeue(task, "worker shutting down", log)
		h.observer.TaskFinished(kind, "interrupted", elapsed)
		return queue.RetryAfter(0, runErr)
	}

	var reason string
	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		reason = reasonHardLimit
	case stop.reason() != "":
		reason = stop.reason()
	case retry.IsPermanent(runErr):
		reason = runErr.Error()
	case attempt < job.policy().Attempts():
		delay := job.policy().Delay(attempt)
		log.Warn("task attempt failed, retrying", zap.Duration("delay", delay), zap.Error(runErr))
		h.requeue(task, runErr.Error(), log)
		h.trackProgress(ctx, job, task, attempt, progress.StateRetrying, runErr.Error())
		h.observer.TaskFinished(kind, "retrying", elapsed)
		return queue.RetryAfter(delay, runErr)
	default:
		reason = fmt.Sprintf("%s: %s", reasonExhausted, runErr.Error())
	}

	log.Warn("task failed", zap.String("reason", reason), zap.Error(runErr))
	h.observer.TaskFinished(kind, string(model.TaskFailed), elapsed)
	h.fail(ctx, job, task, attempt, result, reason)
	return nil
}

func (h *Harness) fail(ctx context.Context, job Job, task *model.Task, attempt int, result any, reason string) {
	ctx = context.WithoutCancel(ctx)
	msg := reason
	if err := h.finish(ctx, task, model.TaskFailed, result, &msg); err != nil {
		logger.Error("failed to record task failure", zap.String("task_id", task.ID), zap.Error(err))
		return
	}
	h.trackProgress(ctx, job, task, attempt, progress.StateFailed, reason)
	if job.OnFailed != nil {
		job.OnFailed(ctx, task, reason)
	}
}

func (h *Harness) finish(ctx context.Context, task *model.Task, state model.TaskState, result any, errMsg *string) error {
	var body string
	if result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		body = string(raw)
	}
	ok, err := h.tasks.Finish(context.WithoutCancel(ctx), task.ID, state, body, errMsg)
	if err != nil {
		return err
	}
	if !ok {
		logger.Warn("task was already finished", zap.String("task_id", task.ID))
	}
	task.State = state
	return nil
}

func (h *Harness) requeue(task *model.Task, reason string, log *zap.Logger) {
	if err := h.tasks.Requeue(context.Background(), task.ID, reason); err != nil {
		log.Error("failed to requeue task", zap.Error(err))
	}
	task.State = model.TaskQueued
}

// trackProgress writes a lifecycle record carrying over the counters of
// the attempt's last record so the snapshot never moves backwards.
func (h *Harness) trackProgress(ctx context.Context, job Job, task *model.Task, attempt int, state progress.State, reason string) {
	if !job.TrackProgress || h.progress == nil {
		return
	}
	rec := progress.Record{TaskID: task.ID, State: state, Attempt: attempt, Error: reason}
	if prev, err := h.progress.Get(ctx, task.ID); err == nil && prev.Attempt == attempt {
		rec.Current = prev.Current
		rec.Total = prev.Total
		rec.Created = prev.Created
		rec.Updated = prev.Updated
		rec.Errors = prev.Errors
		rec.Percent = prev.Percent
	}
	switch state {
	case progress.StateRetrying:
		rec.Message = fmt.Sprintf("attempt %d failed, retrying", attempt)
	case progress.StateFailed:
		rec.Message = "task failed"
	}
	if err := h.progress.Put(ctx, rec); err != nil {
		logger.Warn("progress write failed", zap.String("task_id", task.ID), zap.Error(err))
	}
}

func (h *Harness) watchCancel(ctx context.Context, taskID string, stop *stopper) {
	t := time.NewTicker(h.opts.CancelPoll)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop.C():
			return
		case <-t.C:
			task, err := h.tasks.Get(ctx, taskID)
			if err != nil || task == nil {
				continue
			}
			if task.CancelRequested {
				stop.trigger(reasonCancelled)
				return
			}
		}
	}
}

func lockName(taskID string) string {
	return "tasks/" + taskID
}

// stopper closes its channel once and remembers the first reason.
type stopper struct {
	once sync.Once
	ch   chan struct{}
	mu   sync.Mutex
	why  string
}

func newStopper() *stopper {
	return &stopper{ch: make(chan struct{})}
}

func (s *stopper) trigger(reason string) {
	s.once.Do(func() {
		s.mu.Lock()
		s.why = reason
		s.mu.Unlock()
		close(s.ch)
	})
}

func (s *stopper) C() <-chan struct{} { return s.ch }

func (s *stopper) reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.why
}
