package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"catalogsync/internal/harness"
	"catalogsync/internal/model"
	"catalogsync/internal/repository"
	"catalogsync/internal/storage"
	v1 "catalogsync/pkg/api/v1"
	"catalogsync/pkg/constraints"
	"catalogsync/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrUnsupportedFile = errors.New("only .csv and .txt files are accepted")
	ErrEmptyUpload     = errors.New("uploaded file is empty")
	ErrUploadTooLarge  = errors.New("uploaded file exceeds the size limit")
	ErrTaskNotFound    = errors.New("import not found")
	ErrNotFinished     = errors.New("import has not finished")
	ErrAlreadyFinished = errors.New("import already finished")
)

var allowedExtensions = map[string]bool{".csv": true, ".txt": true}

type TaskSubmitter interface {
	Submit(ctx context.Context, task *model.Task) error
}

type StatusReader interface {
	Status(ctx context.Context, taskID string) (v1.ImportStatus, error)
}

type ImportService struct {
	files    storage.FileStore
	tasks    repository.TaskStore
	submit   TaskSubmitter
	status   StatusReader
	maxBytes int64
}

func NewImportService(files storage.FileStore, tasks repository.TaskStore, submit TaskSubmitter, status StatusReader, maxBytes int64) *ImportService {
	return &ImportService{files: files, tasks: tasks, submit: submit, status: status, maxBytes: maxBytes}
}

// Upload is an incoming catalog file. Size may be -1 when unknown.
type Upload struct {
	Filename string
	Size     int64
	Body     io.Reader
}

// Submit stores the upload and queues an ingestion task for it.
func (s *ImportService) Submit(ctx context.Context, up Upload) (*v1.ImportAccepted, error) {
	name := filepath.Base(strings.TrimSpace(up.Filename))
	if !allowedExtensions[strings.ToLower(filepath.Ext(name))] {
		return nil, ErrUnsupportedFile
	}
	if up.Size == 0 {
		return nil, ErrEmptyUpload
	}
	if s.maxBytes > 0 && up.Size > s.maxBytes {
		return nil, ErrUploadTooLarge
	}

	taskID := uuid.NewString()
	key := storage.UploadKey(taskID, name, time.Now())

	body := up.Body
	if s.maxBytes > 0 {
		body = io.LimitReader(up.Body, s.maxBytes+1)
	}
	obj, err := s.files.Save(ctx, key, body, up.Size)
	if err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}
	switch {
	case obj.Size == 0:
		s.discard(key)
		return nil, ErrEmptyUpload
	case s.maxBytes > 0 && obj.Size > s.maxBytes:
		s.discard(key)
		return nil, ErrUploadTooLarge
	}

	payload, err := json.Marshal(harness.IngestionPayload{StorageKey: obj.Key, Filename: name, Size: obj.Size})
	if err != nil {
		s.discard(key)
		return nil, err
	}
	task := &model.Task{
		ID:          taskID,
		Kind:        model.KindIngestion,
		Payload:     string(payload),
		InitiatedBy: GetOperator(ctx),
		TraceID:     GetTraceID(ctx),
	}
	if err := s.submit.Submit(ctx, task); err != nil {
		s.discard(key)
		return nil, err
	}

	logger.Info("import submitted",
		zap.String("task_id", taskID),
		zap.String("filename", name),
		zap.Int64("size", obj.Size),
		zap.String("sha256", obj.SHA256),
		zap.String("operator", task.InitiatedBy))
	return &v1.ImportAccepted{TaskID: taskID, Status: "submitted", Filename: name}, nil
}

func (s *ImportService) discard(key string) {
	if err := s.files.Delete(context.Background(), key); err != nil && !errors.Is(err, storage.ErrNotFound) {
		logger.Warn("failed to remove rejected upload", zap.String("key", key), zap.Error(err))
	}
}

func (s *ImportService) Status(ctx context.Context, taskID string) (v1.ImportStatus, error) {
	return s.status.Status(ctx, taskID)
}

// storedResult mirrors the ingestion result persisted with the task.
type storedResult struct {
	TotalRows     int           `json:"total_rows"`
	ProcessedRows int           `json:"processed_rows"`
	Created       int           `json:"created"`
	Updated       int           `json:"updated"`
	Errors        int           `json:"errors"`
	ErrorDetails  []v1.RowError `json:"error_details"`
	Error         string        `json:"error"`
}

// Result returns the durable outcome of a finished import.
func (s *ImportService) Result(ctx context.Context, taskID string) (*v1.ImportResult, error) {
	task, err := s.importTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !task.State.Terminal() {
		return nil, ErrNotFinished
	}

	out := &v1.ImportResult{TaskID: task.ID, State: constraints.StatusCompleted, ErrorDetails: []v1.RowError{}}
	if task.State == model.TaskFailed {
		out.State = constraints.StatusFailed
	}
	if task.Result != "" {
		var r storedResult
		if err := json.Unmarshal([]byte(task.Result), &r); err != nil {
			return nil, fmt.Errorf("decode result of %s: %w", task.ID, err)
		}
		out.TotalRows = r.TotalRows
		out.ProcessedRows = r.ProcessedRows
		out.Created = r.Created
		out.Updated = r.Updated
		out.Errors = r.Errors
		if r.ErrorDetails != nil {
			out.ErrorDetails = r.ErrorDetails
		}
		out.Error = r.Error
	}
	if task.Error != nil {
		out.Error = *task.Error
	}
	return out, nil
}

// Cancel asks a queued or running import to stop at its next batch boundary.
func (s *ImportService) Cancel(ctx context.Context, taskID string) error {
	if _, err := s.importTask(ctx, taskID); err != nil {
		return err
	}
	ok, err := s.tasks.RequestCancel(ctx, taskID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAlreadyFinished
	}
	logger.Info("import cancel requested", zap.String("task_id", taskID), zap.String("operator", GetOperator(ctx)))
	return nil
}

func (s *ImportService) importTask(ctx context.Context, taskID string) (*model.Task, error) {
	task, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil || task.Kind != model.KindIngestion {
		return nil, ErrTaskNotFound
	}
	return task, nil
}
