package repository

import (
	"context"
	"testing"

	"catalogsync/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListActiveByEvent(t *testing.T) {
	repo := NewWebhookRepository(newTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &model.WebhookSubscription{URL: "http://a", Events: []string{"entity.created"}, Active: true}))
	require.NoError(t, repo.Create(ctx, &model.WebhookSubscription{URL: "http://b", Events: []string{"entity.deleted"}, Active: true}))
	require.NoError(t, repo.Create(ctx, &model.WebhookSubscription{URL: "http://c", Events: []string{"entity.created"}, Active: false}))

	subs, err := repo.ListActiveByEvent(ctx, "entity.created")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "http://a", subs[0].URL)
}

func TestRecordDelivery_UpdatesStats(t *testing.T) {
	repo := NewWebhookRepository(newTestDB(t))
	ctx := context.Background()

	sub := &model.WebhookSubscription{URL: "http://a", Events: []string{"entity.created"}, Active: true}
	require.NoError(t, repo.Create(ctx, sub))

	errText := "HTTP 500: boom"
	require.NoError(t, repo.RecordDelivery(ctx, &model.WebhookDeliveryLog{
		SubscriptionID: sub.ID, Event: "entity.created", Success: false, Error: &errText,
	}, true))

	got, err := repo.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, got.FailureCount)
	require.NotNil(t, got.LastError)
	assert.Equal(t, errText, *got.LastError)
	assert.NotNil(t, got.LastTriggeredAt)

	require.NoError(t, repo.RecordDelivery(ctx, &model.WebhookDeliveryLog{
		SubscriptionID: sub.ID, Event: "entity.created", Success: true,
	}, true))
	got, _ = repo.Get(ctx, sub.ID)
	assert.EqualValues(t, 1, got.SuccessCount)
	assert.Nil(t, got.LastError)

	require.NoError(t, repo.RecordDelivery(ctx, &model.WebhookDeliveryLog{
		SubscriptionID: sub.ID, Event: "entity.created", Success: true, Test: true,
	}, false))
	got, _ = repo.Get(ctx, sub.ID)
	assert.EqualValues(t, 1, got.SuccessCount)

	logs, total, err := repo.ListLogs(ctx, sub.ID, 0, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.True(t, logs[0].Test)
}
