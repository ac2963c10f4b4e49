package harness

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"

	"catalogsync/internal/config"
	"catalogsync/internal/events"
	"catalogsync/internal/ingest"
	"catalogsync/internal/model"
	"catalogsync/internal/retry"
	"catalogsync/internal/storage"
	"catalogsync/pkg/logger"

	"go.uber.org/zap"
)

// IngestionPayload is stored with an ingestion task.
type IngestionPayload struct {
	StorageKey string `json:"storage_key"`
	Filename   string `json:"filename"`
	Size       int64  `json:"size"`
}

type ingestionRunner interface {
	Run(ctx context.Context, req ingest.Request) (*ingest.Result, error)
}

// Ingestion runs uploaded catalog files through the coordinator and emits
// the ingestion lifecycle events.
type Ingestion struct {
	files   storage.FileStore
	coord   ingestionRunner
	emitter events.Emitter
}

func NewIngestion(files storage.FileStore, coord ingestionRunner, emitter events.Emitter) *Ingestion {
	return &Ingestion{files: files, coord: coord, emitter: emitter}
}

func (i *Ingestion) Job(limits config.JobLimits) Job {
	return Job{
		Kind:          model.KindIngestion,
		Limits:        limits,
		Run:           i.Run,
		TrackProgress: true,
		OnFailed:      i.onFailed,
	}
}

func (i *Ingestion) Run(ctx context.Context, exec *Execution) (any, error) {
	var p IngestionPayload
	if err := json.Unmarshal([]byte(exec.Task.Payload), &p); err != nil {
		return nil, retry.Permanent(fmt.Errorf("decode ingestion payload: %w", err))
	}

	if exec.Attempt == 1 {
		i.emit(ctx, exec.Task, events.IngestionStarted, map[string]any{
			"task_id":  exec.Task.ID,
			"filename": p.Filename,
		})
	}

	rc, size, err := i.files.Open(ctx, p.StorageKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, retry.Permanent(fmt.Errorf("upload %s: %w", p.StorageKey, err))
		}
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer rc.Close()
	if size <= 0 {
		size = p.Size
	}

	res, err := i.coord.Run(ctx, ingest.Request{
		TaskID:  exec.Task.ID,
		Attempt: exec.Attempt,
		Source:  rc,
		Size:    size,
		Stop:    exec.Stop,
	})
	if err != nil {
		var pe *csv.ParseError
		if errors.Is(err, ingest.ErrMissingColumns) || errors.Is(err, ingest.ErrNoHeader) ||
			errors.Is(err, ingest.ErrUnterminatedQuote) || errors.As(err, &pe) {
			return res, retry.Permanent(err)
		}
		return res, err
	}

	i.emit(ctx, exec.Task, events.IngestionCompleted, map[string]any{
		"task_id":    exec.Task.ID,
		"filename":   p.Filename,
		"total_rows": res.TotalRows,
		"created":    res.Created,
		"updated":    res.Updated,
		"errors":     res.Errors,
	})
	return res, nil
}

func (i *Ingestion) onFailed(ctx context.Context, task *model.Task, reason string) {
	i.emit(ctx, task, events.IngestionFailed, map[string]any{
		"task_id": task.ID,
		"error":   reason,
	})
}

func (i *Ingestion) emit(ctx context.Context, task *model.Task, name string, data any) {
	if i.emitter == nil {
		return
	}
	ev, err := events.New(name, data)
	if err == nil {
		ev.TraceID = task.TraceID
		err = i.emitter.Emit(context.WithoutCancel(ctx), ev)
	}
	if err != nil {
		logger.Error("failed to emit ingestion event",
			zap.String("task_id", task.ID), zap.String("event", name), zap.Error(err))
	}
}
