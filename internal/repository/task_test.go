package repository

import (
	"context"
	"testing"
	"time"

	"catalogsync/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskLifecycle(t *testing.T) {
	repo := NewTaskRepository(newTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &model.Task{ID: "t-1", Kind: model.KindIngestion}))

	task, err := repo.Get(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, model.TaskQueued, task.State)

	ok, err := repo.Claim(ctx, "t-1")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, repo.Requeue(ctx, "t-1", "storage hiccup"))
	task, _ = repo.Get(ctx, "t-1")
	assert.Equal(t, model.TaskQueued, task.State)

	ok, err = repo.Claim(ctx, "t-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Finish(ctx, "t-1", model.TaskSucceeded, `{"created":1}`, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	task, _ = repo.Get(ctx, "t-1")
	assert.Equal(t, model.TaskSucceeded, task.State)
	assert.Equal(t, 2, task.Attempts)
	assert.NotNil(t, task.FinishedAt)
}

func TestTaskTerminalStateIsFinal(t *testing.T) {
	repo := NewTaskRepository(newTestDB(t))
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, &model.Task{ID: "t-2", Kind: model.KindIngestion}))

	msg := "boom"
	ok, err := repo.Finish(ctx, "t-2", model.TaskFailed, "", &msg)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Finish(ctx, "t-2", model.TaskSucceeded, "", nil)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.Claim(ctx, "t-2")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.RequestCancel(ctx, "t-2")
	require.NoError(t, err)
	assert.False(t, ok)

	task, _ := repo.Get(ctx, "t-2")
	assert.Equal(t, model.TaskFailed, task.State)
	require.NotNil(t, task.Error)
	assert.Equal(t, "boom", *task.Error)
}

func TestTaskGetUnknown(t *testing.T) {
	repo := NewTaskRepository(newTestDB(t))
	task, err := repo.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestListStale(t *testing.T) {
	db := newTestDB(t)
	repo := NewTaskRepository(db)
	ctx := context.Background()

	old := time.Now().UTC().Add(-2 * time.Hour)
	require.NoError(t, repo.Create(ctx, &model.Task{ID: "old", Kind: model.KindIngestion, State: model.TaskRunning, StartedAt: &old}))
	require.NoError(t, repo.Create(ctx, &model.Task{ID: "fresh", Kind: model.KindIngestion}))
	_, err := repo.Claim(ctx, "fresh")
	require.NoError(t, err)

	stale, err := repo.ListStale(ctx, time.Now().UTC().Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "old", stale[0].ID)
}

func TestListQueuedBefore(t *testing.T) {
	repo := NewTaskRepository(newTestDB(t))
	ctx := context.Background()

	old := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, repo.Create(ctx, &model.Task{ID: "stuck", Kind: model.KindWebhookDispatch, CreatedAt: old, UpdatedAt: old}))
	require.NoError(t, repo.Create(ctx, &model.Task{ID: "recent", Kind: model.KindWebhookDispatch}))
	require.NoError(t, repo.Create(ctx, &model.Task{ID: "done", Kind: model.KindWebhookDispatch, State: model.TaskSucceeded, CreatedAt: old, UpdatedAt: old}))

	queued, err := repo.ListQueuedBefore(ctx, time.Now().UTC().Add(-10*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, "stuck", queued[0].ID)
}
