package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"catalogsync/internal/config"
	"catalogsync/internal/model"
	"catalogsync/internal/progress"
	"catalogsync/internal/retry"
	"catalogsync/pkg/logger"

	"go.uber.org/zap"
)

// ErrBulkDeleteStopped is returned when a stop arrives between batches.
var ErrBulkDeleteStopped = errors.New("bulk delete stopped before completion")

// BulkDeletePayload is stored with a bulk delete task. Total is the product
// count at submission.
type BulkDeletePayload struct {
	Total int64 `json:"total"`
}

// BulkDeleteResult uses the ingestion result's counter names so the status
// view reads both.
type BulkDeleteResult struct {
	TotalRows     int `json:"total_rows"`
	ProcessedRows int `json:"processed_rows"`
	Deleted       int `json:"deleted"`
}

// BatchDeleter removes up to limit products together with their
// entity.deleted events and reports how many it removed.
type BatchDeleter interface {
	DeleteBatch(ctx context.Context, limit int) (int, error)
}

// BulkDeleteJob empties the product table batch by batch. Each batch
// commits on its own, so a stopped or retried task leaves only whole
// batches behind and the next attempt continues the count from the last
// progress record.
func BulkDeleteJob(d BatchDeleter, prog ProgressStore, batchSize int, limits config.JobLimits) Job {
	return Job{
		Kind:          model.KindBulkDelete,
		Limits:        limits,
		TrackProgress: true,
		Run: func(ctx context.Context, exec *Execution) (any, error) {
			var p BulkDeletePayload
			if err := json.Unmarshal([]byte(exec.Task.Payload), &p); err != nil {
				return nil, retry.Permanent(fmt.Errorf("decode bulk delete payload: %w", err))
			}
			bd := &bulkDelete{prog: prog, exec: exec, res: &BulkDeleteResult{TotalRows: int(p.Total)}}
			if prog != nil {
				if prev, err := prog.Get(ctx, exec.Task.ID); err == nil && prev.Attempt < exec.Attempt {
					bd.res.Deleted = prev.Current
				}
			}
			return bd.run(ctx, d, batchSize)
		},
	}
}

type bulkDelete struct {
	prog ProgressStore
	exec *Execution
	res  *BulkDeleteResult
}

func (b *bulkDelete) run(ctx context.Context, d BatchDeleter, batchSize int) (*BulkDeleteResult, error) {
	b.publish(ctx, progress.StateRunning, "deleting products")
	for {
		select {
		case <-b.exec.Stop:
			b.res.ProcessedRows = b.res.Deleted
			return b.res, ErrBulkDeleteStopped
		default:
		}

		n, err := d.DeleteBatch(ctx, batchSize)
		if err != nil {
			b.res.ProcessedRows = b.res.Deleted
			return b.res, fmt.Errorf("delete batch: %w", err)
		}
		if n == 0 {
			break
		}
		b.res.Deleted += n
		b.publish(ctx, progress.StateRunning, "deleting products")
	}

	b.res.ProcessedRows = b.res.Deleted
	// Products written after submission are removed too.
	b.res.TotalRows = max(b.res.TotalRows, b.res.Deleted)
	b.publish(ctx, progress.StateCompleted, fmt.Sprintf("deleted %d products", b.res.Deleted))

	logger.Info("bulk delete finished",
		zap.String("task_id", b.exec.Task.ID),
		zap.Int("deleted", b.res.Deleted),
		zap.String("operator", b.exec.Task.InitiatedBy))
	return b.res, nil
}

func (b *bulkDelete) publish(ctx context.Context, state progress.State, msg string) {
	if b.prog == nil {
		return
	}
	rec := progress.Record{
		TaskID:  b.exec.Task.ID,
		State:   state,
		Attempt: b.exec.Attempt,
		Current: b.res.Deleted,
		Message: msg,
	}
	switch {
	case state == progress.StateCompleted:
		total := b.res.TotalRows
		rec.Total = &total
	case b.res.TotalRows > 0:
		total := b.res.TotalRows
		rec.Total = &total
		pct := math.Min(math.Round(float64(b.res.Deleted)/float64(total)*1000)/10, 99.9)
		rec.Percent = &pct
	}
	if err := b.prog.Put(ctx, rec); err != nil {
		logger.Warn("progress write failed", zap.String("task_id", b.exec.Task.ID), zap.Error(err))
	}
}
