package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestCanonicalKey(t *testing.T) {
	assert.Equal(t, CanonicalKey("ABC-1"), CanonicalKey("abc-1"))
	assert.Equal(t, CanonicalKey("  Straße "), CanonicalKey("STRASSE"))
	assert.NotEqual(t, CanonicalKey("abc-1"), CanonicalKey("abc-2"))
}

func TestUpsertBatch_LastWriteWinsWithinBatch(t *testing.T) {
	repo := NewProductRepository(newTestDB(t))
	ctx := context.Background()

	counts, err := repo.UpsertBatch(ctx, []ProductInput{
		{Identifier: "P1", Name: "Widget", Active: true},
		{Identifier: "P1", Name: "Widget Updated", Active: false},
	})
	require.NoError(t, err)
	assert.Equal(t, UpsertCounts{Created: 1, Updated: 1}, counts)

	p, err := repo.GetByIdentifier(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "Widget Updated", p.Name)
	assert.False(t, p.Active)
	assert.Equal(t, "P1", p.Identifier)
}

func TestUpsertBatch_CaseInsensitiveAcrossBatches(t *testing.T) {
	repo := NewProductRepository(newTestDB(t))
	ctx := context.Background()

	counts, err := repo.UpsertBatch(ctx, []ProductInput{
		{Identifier: "ABC-1", Name: "First", Active: true},
		{Identifier: "XYZ-9", Name: "Other", Description: strPtr("kept"), Active: true},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Created)

	before, err := repo.GetByIdentifier(ctx, "ABC-1")
	require.NoError(t, err)

	counts, err = repo.UpsertBatch(ctx, []ProductInput{
		{Identifier: "abc-1", Name: "Second", Active: true},
	})
	require.NoError(t, err)
	assert.Equal(t, UpsertCounts{Created: 0, Updated: 1}, counts)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	after, err := repo.GetByIdentifier(ctx, "Abc-1")
	require.NoError(t, err)
	assert.Equal(t, "Second", after.Name)
	assert.Equal(t, before.ID, after.ID)
	assert.False(t, after.UpdatedAt.Before(before.UpdatedAt))
}

func TestUpsertBatch_Idempotent(t *testing.T) {
	repo := NewProductRepository(newTestDB(t))
	ctx := context.Background()
	rows := []ProductInput{
		{Identifier: "A", Name: "a", Active: true},
		{Identifier: "B", Name: "b", Active: true},
		{Identifier: "C", Name: "c", Active: false},
	}

	first, err := repo.UpsertBatch(ctx, rows)
	require.NoError(t, err)
	assert.Equal(t, UpsertCounts{Created: 3}, first)

	second, err := repo.UpsertBatch(ctx, rows)
	require.NoError(t, err)
	assert.Equal(t, UpsertCounts{Updated: 3}, second)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

func TestUpsertBatch_Empty(t *testing.T) {
	repo := NewProductRepository(newTestDB(t))
	counts, err := repo.UpsertBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, counts)
}

func TestDelete(t *testing.T) {
	repo := NewProductRepository(newTestDB(t))
	ctx := context.Background()
	_, err := repo.UpsertBatch(ctx, []ProductInput{{Identifier: "Gone-1", Name: "x", Active: true}})
	require.NoError(t, err)

	deleted, err := repo.Delete(ctx, "GONE-1")
	require.NoError(t, err)
	require.NotNil(t, deleted)
	assert.Equal(t, "Gone-1", deleted.Identifier)

	again, err := repo.Delete(ctx, "gone-1")
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestUpsertBatch_ChunkedStatementsKeepCounts(t *testing.T) {
	repo := &ProductRepository{db: newTestDB(t), chunk: 2}
	ctx := context.Background()

	_, err := repo.UpsertBatch(ctx, []ProductInput{{Identifier: "E-5", Name: "old", Active: true}})
	require.NoError(t, err)

	rows := []ProductInput{
		{Identifier: "A-1", Name: "a", Active: true},
		{Identifier: "B-2", Name: "b", Active: true},
		{Identifier: "C-3", Name: "c", Active: true},
		{Identifier: "a-1", Name: "a2", Active: true},
		{Identifier: "D-4", Name: "d", Active: true},
		{Identifier: "e-5", Name: "new", Active: false},
	}
	counts, err := repo.UpsertBatch(ctx, rows)
	require.NoError(t, err)
	assert.Equal(t, UpsertCounts{Created: 4, Updated: 2}, counts)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 5, n)

	a, err := repo.GetByIdentifier(ctx, "A-1")
	require.NoError(t, err)
	assert.Equal(t, "a2", a.Name)
	e, err := repo.GetByIdentifier(ctx, "E-5")
	require.NoError(t, err)
	assert.Equal(t, "new", e.Name)
	assert.False(t, e.Active)
}

func TestDeleteBatch(t *testing.T) {
	repo := NewProductRepository(newTestDB(t))
	ctx := context.Background()
	_, err := repo.UpsertBatch(ctx, []ProductInput{
		{Identifier: "A", Name: "a", Active: true},
		{Identifier: "B", Name: "b", Active: true},
		{Identifier: "C", Name: "c", Active: true},
	})
	require.NoError(t, err)

	first, err := repo.DeleteBatch(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, first, 2)

	rest, err := repo.DeleteBatch(ctx, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)

	empty, err := repo.DeleteBatch(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, empty)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
