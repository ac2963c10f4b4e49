package service

import (
	"context"
	"testing"

	"catalogsync/internal/dto/req"
	"catalogsync/internal/events"
	"catalogsync/internal/model"
	"catalogsync/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newProductService(t *testing.T) (*ProductService, *repository.OutboxRepository, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	outbox := repository.NewOutboxRepository(db)
	svc := NewProductService(db, repository.NewProductRepository(db), events.NewOutboxEmitter(outbox))
	return svc, outbox, db
}

func pendingEvents(t *testing.T, outbox *repository.OutboxRepository) []events.Event {
	t.Helper()
	rows, err := outbox.FetchPending(context.Background(), 100)
	require.NoError(t, err)
	out := make([]events.Event, 0, len(rows))
	for _, row := range rows {
		ev, err := events.Decode(row)
		require.NoError(t, err)
		out = append(out, ev)
	}
	return out
}

func TestProductUpsertEmitsEvents(t *testing.T) {
	svc, outbox, _ := newProductService(t)
	ctx := WithTraceID(context.Background(), "trace-1")

	p, created, err := svc.Upsert(ctx, "P1", req.ProductReq{Name: "Widget"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, p.Active, "active defaults to true")

	inactive := false
	desc := "refreshed"
	p2, created, err := svc.Upsert(ctx, "p1", req.ProductReq{Name: "Widget Updated", Active: &inactive, Description: &desc})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, p.ID, p2.ID)
	assert.Equal(t, "Widget Updated", p2.Name)
	assert.False(t, p2.Active)

	evs := pendingEvents(t, outbox)
	require.Len(t, evs, 2)
	assert.Equal(t, events.EntityCreated, evs[0].Name)
	assert.Equal(t, events.EntityUpdated, evs[1].Name)
	assert.Equal(t, "trace-1", evs[1].TraceID)
	assert.JSONEq(t,
		`{"id":1,"identifier":"`+p2.Identifier+`","name":"Widget Updated","description":"refreshed","active":false}`,
		string(evs[1].Data))
}

func TestProductUpsertRejectsInvalid(t *testing.T) {
	svc, outbox, db := newProductService(t)

	_, _, err := svc.Upsert(context.Background(), "P1", req.ProductReq{Name: "   "})
	assert.ErrorIs(t, err, ErrInvalidProduct)

	_, _, err = svc.Upsert(context.Background(), "", req.ProductReq{Name: "Widget"})
	assert.ErrorIs(t, err, ErrInvalidProduct)

	var n int64
	require.NoError(t, db.Model(&model.Product{}).Count(&n).Error)
	assert.Zero(t, n)
	assert.Empty(t, pendingEvents(t, outbox))
}

func TestProductDelete(t *testing.T) {
	svc, outbox, _ := newProductService(t)
	ctx := context.Background()

	assert.ErrorIs(t, svc.Delete(ctx, "nope"), ErrProductNotFound)

	_, _, err := svc.Upsert(ctx, "SKU-9", req.ProductReq{Name: "Gadget"})
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, "sku-9"))

	_, err = svc.Get(ctx, "SKU-9")
	assert.ErrorIs(t, err, ErrProductNotFound)

	evs := pendingEvents(t, outbox)
	require.Len(t, evs, 2)
	assert.Equal(t, events.EntityDeleted, evs[1].Name)
	assert.Contains(t, string(evs[1].Data), `"identifier":"SKU-9"`)
}

func TestProductDeleteBatchEmitsOneEventPerProduct(t *testing.T) {
	svc, outbox, db := newProductService(t)
	ctx := context.Background()
	for _, id := range []string{"A", "B", "C"} {
		_, _, err := svc.Upsert(ctx, id, req.ProductReq{Name: "x"})
		require.NoError(t, err)
	}
	before := len(pendingEvents(t, outbox))

	n, err := svc.DeleteBatch(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	evs := pendingEvents(t, outbox)[before:]
	require.Len(t, evs, 2)
	for _, ev := range evs {
		assert.Equal(t, events.EntityDeleted, ev.Name)
	}

	var left int64
	require.NoError(t, db.Model(&model.Product{}).Count(&left).Error)
	assert.EqualValues(t, 1, left)
}
