// Package status answers "where is my import?" from the volatile progress
// store, falling back to durable task state only when the store is down.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"catalogsync/internal/model"
	"catalogsync/internal/progress"
	v1 "catalogsync/pkg/api/v1"
	"catalogsync/pkg/constraints"
	"catalogsync/pkg/logger"

	"go.uber.org/zap"
)

// ErrStatusUnavailable means neither backing source could be read.
var ErrStatusUnavailable = errors.New("status temporarily unavailable")

type ProgressReader interface {
	Get(ctx context.Context, taskID string) (*progress.Record, error)
}

type TaskReader interface {
	Get(ctx context.Context, id string) (*model.Task, error)
}

type Facade struct {
	progress ProgressReader
	tasks    TaskReader
}

func New(progress ProgressReader, tasks TaskReader) *Facade {
	return &Facade{progress: progress, tasks: tasks}
}

// Status never reports an unknown or expired id as an error; both read as
// Pending.
func (f *Facade) Status(ctx context.Context, taskID string) (v1.ImportStatus, error) {
	rec, err := f.progress.Get(ctx, taskID)
	switch {
	case err == nil:
		return FromRecord(taskID, rec), nil
	case errors.Is(err, progress.ErrNotFound):
		return pending(taskID), nil
	}

	logger.Warn("progress store unreadable, using task state",
		zap.String("task_id", taskID), zap.Error(err))

	task, taskErr := f.tasks.Get(ctx, taskID)
	if taskErr != nil {
		return v1.ImportStatus{}, fmt.Errorf("%w: progress: %v; tasks: %v", ErrStatusUnavailable, err, taskErr)
	}
	if task == nil {
		return pending(taskID), nil
	}
	return fromTask(task), nil
}

func pending(taskID string) v1.ImportStatus {
	return v1.ImportStatus{TaskID: taskID, State: constraints.StatusPending}
}

func mapProgressState(s progress.State) constraints.Status {
	switch s {
	case progress.StateCompleted:
		return constraints.StatusCompleted
	case progress.StateFailed:
		return constraints.StatusFailed
	default:
		return constraints.StatusProcessing
	}
}

func mapTaskState(s model.TaskState) constraints.Status {
	switch s {
	case model.TaskRunning:
		return constraints.StatusProcessing
	case model.TaskSucceeded:
		return constraints.StatusCompleted
	case model.TaskFailed:
		return constraints.StatusFailed
	default:
		return constraints.StatusPending
	}
}

// FromRecord maps a progress record onto the public status view.
func FromRecord(taskID string, rec *progress.Record) v1.ImportStatus {
	st := v1.ImportStatus{
		TaskID:          taskID,
		State:           mapProgressState(rec.State),
		ProgressPercent: rec.Percent,
		Current:         intPtr(rec.Current),
		Total:           rec.Total,
		Created:         intPtr(rec.Created),
		Updated:         intPtr(rec.Updated),
		Errors:          intPtr(rec.Errors),
		Message:         rec.Message,
		Error:           rec.Error,
	}
	if st.State == constraints.StatusCompleted {
		st.ProgressPercent = floatPtr(100)
	}
	return st
}

// taskCounts is the subset of a stored ingestion result the status view uses.
type taskCounts struct {
	TotalRows     int `json:"total_rows"`
	ProcessedRows int `json:"processed_rows"`
	Created       int `json:"created"`
	Updated       int `json:"updated"`
	Errors        int `json:"errors"`
}

func fromTask(task *model.Task) v1.ImportStatus {
	st := v1.ImportStatus{TaskID: task.ID, State: mapTaskState(task.State)}
	if task.Error != nil && task.State == model.TaskFailed {
		st.Error = *task.Error
	}

	var c taskCounts
	if task.Result != "" && json.Unmarshal([]byte(task.Result), &c) == nil {
		st.Current = intPtr(c.ProcessedRows)
		st.Created = intPtr(c.Created)
		st.Updated = intPtr(c.Updated)
		st.Errors = intPtr(c.Errors)
		if task.State == model.TaskSucceeded {
			st.Total = intPtr(c.TotalRows)
		}
	}
	if st.State == constraints.StatusCompleted {
		st.ProgressPercent = floatPtr(100)
	}
	return st
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }
