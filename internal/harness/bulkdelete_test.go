package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"catalogsync/internal/model"
	"catalogsync/internal/progress"
	"catalogsync/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// repoDeleter deletes through the repository and runs after once per batch.
type repoDeleter struct {
	repo  *repository.ProductRepository
	calls int
	after func(call int)
}

func (d *repoDeleter) DeleteBatch(ctx context.Context, limit int) (int, error) {
	batch, err := d.repo.DeleteBatch(ctx, limit)
	d.calls++
	if d.after != nil {
		d.after(d.calls)
	}
	return len(batch), err
}

func seedProducts(t *testing.T, repo *repository.ProductRepository, n int) {
	t.Helper()
	rows := make([]repository.ProductInput, n)
	for i := range rows {
		rows[i] = repository.ProductInput{Identifier: fmt.Sprintf("P-%d", i), Name: "p", Active: true}
	}
	_, err := repo.UpsertBatch(context.Background(), rows)
	require.NoError(t, err)
}

func bulkDeleteTask(t *testing.T, total int64) *model.Task {
	t.Helper()
	body, err := json.Marshal(BulkDeletePayload{Total: total})
	require.NoError(t, err)
	return &model.Task{Kind: model.KindBulkDelete, Payload: string(body)}
}

func TestBulkDelete_RemovesEverythingInBatches(t *testing.T) {
	f := newFixture(t)
	repo := repository.NewProductRepository(f.db)
	seedProducts(t, repo, 5)
	d := &repoDeleter{repo: repo}
	f.h.Register(BulkDeleteJob(d, f.prog, 2, testLimits()))

	task := bulkDeleteTask(t, 5)
	require.NoError(t, f.h.Submit(context.Background(), task))
	require.NoError(t, f.execute(t, task))

	got := f.reload(t, task.ID)
	require.Equal(t, model.TaskSucceeded, got.State)
	var res BulkDeleteResult
	require.NoError(t, json.Unmarshal([]byte(got.Result), &res))
	assert.Equal(t, BulkDeleteResult{TotalRows: 5, ProcessedRows: 5, Deleted: 5}, res)
	assert.Equal(t, 4, d.calls, "three batches and one empty read")

	n, err := repo.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	rec, err := f.prog.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, progress.StateCompleted, rec.State)
	assert.Equal(t, 5, rec.Current)
	require.NotNil(t, rec.Total)
	assert.Equal(t, 5, *rec.Total)
}

func TestBulkDelete_StopKeepsCommittedBatches(t *testing.T) {
	f := newFixture(t)
	repo := repository.NewProductRepository(f.db)
	seedProducts(t, repo, 5)

	stop := make(chan struct{})
	d := &repoDeleter{repo: repo, after: func(call int) {
		if call == 1 {
			close(stop)
		}
	}}
	job := BulkDeleteJob(d, f.prog, 2, testLimits())
	task := bulkDeleteTask(t, 5)
	task.ID = "bulk-1"

	out, err := job.Run(context.Background(), &Execution{Task: task, Attempt: 1, Stop: stop})
	require.ErrorIs(t, err, ErrBulkDeleteStopped)
	assert.Equal(t, 2, out.(*BulkDeleteResult).Deleted)

	n, err := repo.Count(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	rec, err := f.prog.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, progress.StateRunning, rec.State)
	assert.Equal(t, 2, rec.Current)
	require.NotNil(t, rec.Percent)
	assert.InDelta(t, 40.0, *rec.Percent, 0.01)
}

func TestBulkDelete_RetryContinuesCount(t *testing.T) {
	f := newFixture(t)
	repo := repository.NewProductRepository(f.db)
	seedProducts(t, repo, 3)
	require.NoError(t, f.prog.Put(context.Background(), progress.Record{
		TaskID: "bulk-2", State: progress.StateRetrying, Attempt: 1, Current: 2,
	}))

	job := BulkDeleteJob(&repoDeleter{repo: repo}, f.prog, 10, testLimits())
	task := bulkDeleteTask(t, 5)
	task.ID = "bulk-2"
	out, err := job.Run(context.Background(), &Execution{Task: task, Attempt: 2, Stop: make(chan struct{})})
	require.NoError(t, err)
	assert.Equal(t, &BulkDeleteResult{TotalRows: 5, ProcessedRows: 5, Deleted: 5}, out)
}
