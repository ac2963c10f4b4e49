package service

import (
	"context"
	"encoding/json"
	"testing"

	"catalogsync/internal/harness"
	"catalogsync/internal/model"
	"catalogsync/internal/repository"
	v1 "catalogsync/pkg/api/v1"
	"catalogsync/pkg/constraints"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkDeleteSubmitAndStatus(t *testing.T) {
	db := newTestDB(t)
	products := repository.NewProductRepository(db)
	_, err := products.UpsertBatch(context.Background(), []repository.ProductInput{
		{Identifier: "A", Name: "a", Active: true},
		{Identifier: "B", Name: "b", Active: true},
	})
	require.NoError(t, err)

	tasks := repository.NewTaskRepository(db)
	deleted, total := 1, 2
	svc := NewBulkDeleteService(products, tasks, &storeSubmitter{tasks: tasks}, staticStatus{st: v1.ImportStatus{
		TaskID: "x", State: constraints.StatusProcessing, Current: &deleted, Total: &total,
	}})

	accepted, err := svc.Submit(WithOperator(context.Background(), &OperatorInfo{Name: "ops"}))
	require.NoError(t, err)
	assert.Equal(t, "submitted", accepted.Status)
	assert.EqualValues(t, 2, accepted.Total)

	task, err := tasks.Get(context.Background(), accepted.TaskID)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, model.KindBulkDelete, task.Kind)
	var p harness.BulkDeletePayload
	require.NoError(t, json.Unmarshal([]byte(task.Payload), &p))
	assert.EqualValues(t, 2, p.Total)

	st, err := svc.Status(context.Background(), accepted.TaskID)
	require.NoError(t, err)
	assert.Equal(t, constraints.StatusProcessing, st.State)
	require.NotNil(t, st.Deleted)
	assert.Equal(t, 1, *st.Deleted)
	assert.Equal(t, 2, *st.Total)
}

func TestBulkDeleteStatusRejectsOtherKinds(t *testing.T) {
	db := newTestDB(t)
	tasks := repository.NewTaskRepository(db)
	require.NoError(t, tasks.Create(context.Background(), &model.Task{ID: "imp-1", Kind: model.KindIngestion, State: model.TaskQueued}))
	svc := NewBulkDeleteService(repository.NewProductRepository(db), tasks, &storeSubmitter{tasks: tasks}, staticStatus{})

	_, err := svc.Status(context.Background(), "imp-1")
	assert.ErrorIs(t, err, ErrDeletionNotFound)
	_, err = svc.Status(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrDeletionNotFound)
}
