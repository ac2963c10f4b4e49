package service

import (
	"context"
	"encoding/json"
	"errors"

	"catalogsync/internal/harness"
	"catalogsync/internal/model"
	"catalogsync/internal/repository"
	v1 "catalogsync/pkg/api/v1"
	"catalogsync/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrDeletionNotFound = errors.New("bulk delete not found")

type ProductCounter interface {
	Count(ctx context.Context) (int64, error)
}

// BulkDeleteService queues removal of the whole catalog and reports on it.
type BulkDeleteService struct {
	products ProductCounter
	tasks    repository.TaskStore
	submit   TaskSubmitter
	status   StatusReader
}

func NewBulkDeleteService(products ProductCounter, tasks repository.TaskStore, submit TaskSubmitter, status StatusReader) *BulkDeleteService {
	return &BulkDeleteService{products: products, tasks: tasks, submit: submit, status: status}
}

func (s *BulkDeleteService) Submit(ctx context.Context) (*v1.BulkDeleteAccepted, error) {
	total, err := s.products.Count(ctx)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(harness.BulkDeletePayload{Total: total})
	if err != nil {
		return nil, err
	}
	task := &model.Task{
		ID:          uuid.NewString(),
		Kind:        model.KindBulkDelete,
		Payload:     string(payload),
		InitiatedBy: GetOperator(ctx),
		TraceID:     GetTraceID(ctx),
	}
	if err := s.submit.Submit(ctx, task); err != nil {
		return nil, err
	}

	logger.Info("bulk delete submitted",
		zap.String("task_id", task.ID),
		zap.Int64("total", total),
		zap.String("operator", task.InitiatedBy))
	return &v1.BulkDeleteAccepted{
		TaskID:  task.ID,
		Status:  "submitted",
		Total:   total,
		Message: "Bulk delete submitted. Use the task ID to monitor progress.",
	}, nil
}

// Status reports a bulk delete. Ids of other task kinds are not found; an
// unreadable task store defers to the progress view alone.
func (s *BulkDeleteService) Status(ctx context.Context, taskID string) (v1.BulkDeleteStatus, error) {
	task, err := s.tasks.Get(ctx, taskID)
	switch {
	case err != nil:
		logger.Warn("task store unreadable, skipping kind check", zap.String("task_id", taskID), zap.Error(err))
	case task == nil || task.Kind != model.KindBulkDelete:
		return v1.BulkDeleteStatus{}, ErrDeletionNotFound
	}

	st, err := s.status.Status(ctx, taskID)
	if err != nil {
		return v1.BulkDeleteStatus{}, err
	}
	return v1.BulkDeleteStatus{
		TaskID:          st.TaskID,
		State:           st.State,
		ProgressPercent: st.ProgressPercent,
		Deleted:         st.Current,
		Total:           st.Total,
		Message:         st.Message,
		Error:           st.Error,
	}, nil
}
