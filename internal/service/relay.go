package service

import (
	"context"
	"errors"
	"time"

	"catalogsync/internal/events"
	"catalogsync/internal/model"
	"catalogsync/internal/repository"
	"catalogsync/pkg/logger"

	"go.uber.org/zap"
)

const relayMaxRetries = 5

// OutboxRelay turns pending outbox events into webhook dispatch tasks.
// Delivery is at least once: a crash between submit and mark repeats the
// dispatch.
type OutboxRelay struct {
	outbox    repository.OutboxInterface
	submit    TaskSubmitter
	locker    repository.Locker
	interval  time.Duration
	batchSize int
}

func NewOutboxRelay(outbox repository.OutboxInterface, submit TaskSubmitter, locker repository.Locker, interval time.Duration, batchSize int) *OutboxRelay {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 10
	}
	return &OutboxRelay{outbox: outbox, submit: submit, locker: locker, interval: interval, batchSize: batchSize}
}

func (w *OutboxRelay) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	logger.Info("outbox relay started", zap.Duration("interval", w.interval))

	for {
		select {
		case <-ctx.Done():
			logger.Info("outbox relay stopped")
			return
		case <-ticker.C:
			unlock, err := w.locker.TryLock(ctx, "outbox-relay")
			if err != nil {
				if !errors.Is(err, repository.ErrLockHeld) && ctx.Err() == nil {
					logger.Error("failed to acquire relay lock", zap.Error(err))
				}
				continue
			}
			w.ProcessPending(ctx)
			unlock()
		}
	}
}

// ProcessPending relays one batch and returns how many events were handed
// to dispatch.
func (w *OutboxRelay) ProcessPending(ctx context.Context) int {
	rows, err := w.outbox.FetchPending(ctx, w.batchSize)
	if err != nil {
		logger.Error("failed to fetch pending outbox events", zap.Error(err))
		return 0
	}

	relayed := 0
	for _, row := range rows {
		log := logger.With(zap.Int64("outbox_id", row.ID), zap.String("event", row.Event))

		ev, err := events.Decode(row)
		if err != nil {
			log.Error("outbox payload is corrupt", zap.Error(err))
			w.mark(ctx, row.ID, model.StatusFailed, row.RetryCount, err.Error())
			continue
		}

		task := &model.Task{
			Kind:        model.KindWebhookDispatch,
			Payload:     row.Payload,
			InitiatedBy: "outbox",
			TraceID:     ev.TraceID,
		}
		if err := w.submit.Submit(ctx, task); err != nil {
			retries := row.RetryCount + 1
			if retries >= relayMaxRetries {
				log.Error("outbox event max retries reached", zap.Error(err))
				w.mark(ctx, row.ID, model.StatusFailed, retries, err.Error())
			} else {
				log.Warn("failed to submit dispatch task", zap.Int("retry", retries), zap.Error(err))
				w.mark(ctx, row.ID, model.StatusPending, retries, err.Error())
			}
			continue
		}

		w.mark(ctx, row.ID, model.StatusCompleted, row.RetryCount, "")
		log.Debug("outbox event relayed", zap.String("task_id", task.ID))
		relayed++
	}
	return relayed
}

func (w *OutboxRelay) mark(ctx context.Context, id int64, status, retries int, lastErr string) {
	if err := w.outbox.UpdateStatus(ctx, id, status, retries, lastErr); err != nil {
		logger.Error("failed to update outbox event", zap.Int64("outbox_id", id), zap.Error(err))
	}
}
