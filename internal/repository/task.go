package repository

import (
	"context"
	"errors"
	"time"

	"catalogsync/internal/model"

	"gorm.io/gorm"
)

// TaskStore is the durable task state. Every transition is a conditional
// update so that terminal states are never overwritten.
type TaskStore interface {
	Create(ctx context.Context, task *model.Task) error
	Get(ctx context.Context, id string) (*model.Task, error)
	// Claim moves a queued (or orphaned running) task to running and bumps
	// its attempt counter. It reports false when the task is terminal.
	Claim(ctx context.Context, id string) (bool, error)
	Requeue(ctx context.Context, id string, reason string) error
	Finish(ctx context.Context, id string, state model.TaskState, result string, errMsg *string) (bool, error)
	RequestCancel(ctx context.Context, id string) (bool, error)
	ListStale(ctx context.Context, startedBefore time.Time, limit int) ([]model.Task, error)
	// ListQueuedBefore returns queued tasks untouched since updatedBefore.
	ListQueuedBefore(ctx context.Context, updatedBefore time.Time, limit int) ([]model.Task, error)
	// Touch refreshes updated_at of a queued task.
	Touch(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}

var terminalStates = []model.TaskState{model.TaskSucceeded, model.TaskFailed}

type TaskRepository struct {
	db *gorm.DB
}

func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

func (r *TaskRepository) Create(ctx context.Context, task *model.Task) error {
	if task.State == "" {
		task.State = model.TaskQueued
	}
	return r.db.WithContext(ctx).Create(task).Error
}

func (r *TaskRepository) Get(ctx context.Context, id string) (*model.Task, error) {
	var task model.Task
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &task, nil
}

func (r *TaskRepository) Claim(ctx context.Context, id string) (bool, error) {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&model.Task{}).
		Where("id = ? AND state IN ?", id, []model.TaskState{model.TaskQueued, model.TaskRunning}).
		Updates(map[string]any{
			"state":      model.TaskRunning,
			"attempts":   gorm.Expr("attempts + 1"),
			"started_at": now,
			"updated_at": now,
		})
	return res.RowsAffected > 0, res.Error
}

func (r *TaskRepository) Requeue(ctx context.Context, id string, reason string) error {
	return r.db.WithContext(ctx).Model(&model.Task{}).
		Where("id = ? AND state = ?", id, model.TaskRunning).
		Updates(map[string]any{
			"state":      model.TaskQueued,
			"error":      reason,
			"updated_at": time.Now().UTC(),
		}).Error
}

func (r *TaskRepository) Finish(ctx context.Context, id string, state model.TaskState, result string, errMsg *string) (bool, error) {
	if !state.Terminal() {
		return false, errors.New("finish requires a terminal state")
	}
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&model.Task{}).
		Where("id = ? AND state NOT IN ?", id, terminalStates).
		Updates(map[string]any{
			"state":       state,
			"result":      result,
			"error":       errMsg,
			"finished_at": now,
			"updated_at":  now,
		})
	return res.RowsAffected > 0, res.Error
}

func (r *TaskRepository) RequestCancel(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Task{}).
		Where("id = ? AND state NOT IN ?", id, terminalStates).
		Updates(map[string]any{
			"cancel_requested": true,
			"updated_at":       time.Now().UTC(),
		})
	return res.RowsAffected > 0, res.Error
}

func (r *TaskRepository) ListStale(ctx context.Context, startedBefore time.Time, limit int) ([]model.Task, error) {
	var tasks []model.Task
	err := r.db.WithContext(ctx).
		Where("state = ? AND started_at < ?", model.TaskRunning, startedBefore).
		Order("started_at ASC").
		Limit(limit).
		Find(&tasks).Error
	return tasks, err
}

func (r *TaskRepository) ListQueuedBefore(ctx context.Context, updatedBefore time.Time, limit int) ([]model.Task, error) {
	var tasks []model.Task
	err := r.db.WithContext(ctx).
		Where("state = ? AND updated_at < ?", model.TaskQueued, updatedBefore).
		Order("updated_at ASC").
		Limit(limit).
		Find(&tasks).Error
	return tasks, err
}

func (r *TaskRepository) Touch(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&model.Task{}).
		Where("id = ? AND state = ?", id, model.TaskQueued).
		Update("updated_at", time.Now().UTC()).Error
}

func (r *TaskRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
