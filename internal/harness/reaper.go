package harness

import (
	"context"
	"errors"
	"time"

	"catalogsync/internal/model"
	"catalogsync/internal/queue"
	"catalogsync/internal/repository"
	"catalogsync/internal/storage"
	"catalogsync/pkg/logger"

	"go.uber.org/zap"
)

type ReaperOptions struct {
	Interval time.Duration
	// Grace is added to a kind's hard limit before a running task with no
	// live lock holder counts as orphaned.
	Grace time.Duration
	// RequeueAfter republishes queued tasks idle for longer than this.
	RequeueAfter time.Duration
	// Retention removes uploads older than this; zero disables cleanup.
	Retention time.Duration
	BatchSize int
}

// Reaper repairs tasks whose worker disappeared and prunes old uploads.
// One instance at a time does the work, guarded by a cluster lock.
type Reaper struct {
	h      *Harness
	files  storage.FileStore
	locker repository.Locker
	opts   ReaperOptions
}

func NewReaper(h *Harness, files storage.FileStore, locker repository.Locker, opts ReaperOptions) *Reaper {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	if opts.RequeueAfter <= 0 {
		opts.RequeueAfter = 15 * time.Minute
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	return &Reaper{h: h, files: files, locker: locker, opts: opts}
}

func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()
	logger.Info("reaper started", zap.Duration("interval", r.opts.Interval))

	for {
		select {
		case <-ctx.Done():
			logger.Info("reaper stopped")
			return
		case <-ticker.C:
			lockCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			unlock, err := r.locker.TryLock(lockCtx, "reaper")
			cancel()
			if err != nil {
				if errors.Is(err, repository.ErrLockHeld) {
					logger.Debug("reap skipped, another instance holds the lock")
				} else {
					logger.Error("failed to acquire reaper lock", zap.Error(err))
				}
				continue
			}
			r.Reap(ctx)
			unlock()
		}
	}
}

// Reap runs one pass.
func (r *Reaper) Reap(ctx context.Context) {
	now := time.Now().UTC()
	recovered := r.recoverOrphans(ctx, now)
	republished := r.republishQueued(ctx, now)

	removed := 0
	if r.files != nil && r.opts.Retention > 0 {
		n, err := r.files.CleanupOlderThan(ctx, now.Add(-r.opts.Retention))
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("upload cleanup failed", zap.Error(err))
		}
		removed = n
	}

	logger.Info("reap finished",
		zap.Int("recovered", recovered),
		zap.Int("republished", republished),
		zap.Int("uploads_removed", removed))
}

func (r *Reaper) recoverOrphans(ctx context.Context, now time.Time) int {
	shortest := time.Duration(0)
	r.h.mu.RLock()
	for _, j := range r.h.jobs {
		if shortest == 0 || j.Limits.HardLimit < shortest {
			shortest = j.Limits.HardLimit
		}
	}
	r.h.mu.RUnlock()
	if shortest == 0 {
		return 0
	}

	stale, err := r.h.tasks.ListStale(ctx, now.Add(-shortest-r.opts.Grace), r.opts.BatchSize)
	if err != nil {
		logger.Error("failed to list stale tasks", zap.Error(err))
		return 0
	}

	n := 0
	for i := range stale {
		task := &stale[i]
		job, ok := r.h.job(task.Kind)
		if !ok || task.StartedAt == nil || now.Sub(*task.StartedAt) < job.Limits.HardLimit+r.opts.Grace {
			continue
		}
		if r.recover(ctx, job, task) {
			n++
		}
	}
	return n
}

// recover requeues or fails one orphaned running task. A held task lock
// means the owner is alive, so the task is left alone.
func (r *Reaper) recover(ctx context.Context, job Job, task *model.Task) bool {
	log := logger.With(zap.String("task_id", task.ID), zap.String("kind", string(task.Kind)))

	unlock, err := r.h.locker.TryLock(ctx, lockName(task.ID))
	if err != nil {
		if !errors.Is(err, repository.ErrLockHeld) {
			log.Warn("failed to lock orphaned task", zap.Error(err))
		}
		return false
	}
	defer unlock()

	if task.Attempts >= job.policy().Attempts() {
		log.Warn("orphaned task out of retries, failing")
		r.h.fail(ctx, job, task, task.Attempts, nil, "worker lost: "+reasonExhausted)
		return true
	}

	log.Warn("requeueing orphaned task", zap.Int("attempts", task.Attempts))
	r.h.requeue(task, "worker lost", log)
	if err := r.h.queue.Publish(ctx, queue.Job{TaskID: task.ID, Kind: task.Kind}); err != nil {
		log.Warn("failed to republish orphaned task", zap.Error(err))
	}
	return true
}

func (r *Reaper) republishQueued(ctx context.Context, now time.Time) int {
	idle, err := r.h.tasks.ListQueuedBefore(ctx, now.Add(-r.opts.RequeueAfter), r.opts.BatchSize)
	if err != nil {
		logger.Error("failed to list idle queued tasks", zap.Error(err))
		return 0
	}
	n := 0
	for _, task := range idle {
		if _, ok := r.h.job(task.Kind); !ok {
			continue
		}
		if err := r.h.queue.Publish(ctx, queue.Job{TaskID: task.ID, Kind: task.Kind}); err != nil {
			logger.Warn("failed to republish queued task", zap.String("task_id", task.ID), zap.Error(err))
			continue
		}
		if err := r.h.tasks.Touch(ctx, task.ID); err != nil {
			logger.Warn("failed to touch queued task", zap.String("task_id", task.ID), zap.Error(err))
		}
		n++
	}
	return n
}
