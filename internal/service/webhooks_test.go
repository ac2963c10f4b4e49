package service

import (
	"context"
	"testing"

	"catalogsync/internal/dto/req"
	"catalogsync/internal/model"
	"catalogsync/internal/repository"
	"catalogsync/internal/webhook"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTester struct {
	gotEvent string
	gotData  any
}

func (f *fakeTester) Test(_ context.Context, id uint64, event string, data any) (*webhook.Outcome, error) {
	if id != 1 {
		return nil, webhook.ErrSubscriptionNotFound
	}
	f.gotEvent, f.gotData = event, data
	return &webhook.Outcome{SubscriptionID: id, Success: true, Attempts: 1}, nil
}

func intPtr(v int) *int { return &v }

func TestWebhookCreateDefaults(t *testing.T) {
	store := repository.NewWebhookRepository(newTestDB(t))
	svc := NewWebhookService(store, &fakeTester{})
	ctx := context.Background()

	sub, err := svc.Create(ctx, req.CreateWebhookReq{URL: " https://hooks.example.com/a ", Events: []string{"entity.created"}})
	require.NoError(t, err)
	assert.Equal(t, "https://hooks.example.com/a", sub.URL)
	assert.Equal(t, webhook.DefaultRetryCount, sub.RetryCount)
	assert.Equal(t, webhook.DefaultTimeoutSeconds, sub.TimeoutSeconds)
	assert.True(t, sub.Active)
	assert.Nil(t, sub.Secret)

	off := false
	secret := "s3cret"
	sub, err = svc.Create(ctx, req.CreateWebhookReq{
		URL:        "http://hooks.example.com/b",
		Events:     []string{"ingestion.completed", "ingestion.failed"},
		Active:     &off,
		Secret:     &secret,
		RetryCount: intPtr(0),
		Timeout:    intPtr(5),
	})
	require.NoError(t, err)
	assert.Zero(t, sub.RetryCount)
	assert.Equal(t, 5, sub.TimeoutSeconds)
	assert.False(t, sub.Active)
	require.NotNil(t, sub.Secret)

	got, err := svc.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"ingestion.completed", "ingestion.failed"}, got.Events)
}

func TestWebhookCreateRejectsInvalid(t *testing.T) {
	svc := NewWebhookService(repository.NewWebhookRepository(newTestDB(t)), &fakeTester{})

	_, err := svc.Create(context.Background(), req.CreateWebhookReq{URL: "https://x.example.com", Events: []string{"entity.renamed"}})
	assert.ErrorIs(t, err, webhook.ErrInvalidSubscription)

	_, err = svc.Create(context.Background(), req.CreateWebhookReq{URL: "https://x.example.com", Events: []string{"entity.created"}, RetryCount: intPtr(11)})
	assert.ErrorIs(t, err, webhook.ErrInvalidSubscription)
}

func TestWebhookTestAndLogs(t *testing.T) {
	store := repository.NewWebhookRepository(newTestDB(t))
	tester := &fakeTester{}
	svc := NewWebhookService(store, tester)
	ctx := context.Background()

	sub, err := svc.Create(ctx, req.CreateWebhookReq{URL: "https://hooks.example.com", Events: []string{"entity.updated"}})
	require.NoError(t, err)
	require.Equal(t, uint64(1), sub.ID)

	out, err := svc.Test(ctx, sub.ID, req.TestWebhookReq{})
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Nil(t, tester.gotData, "absent data keeps the canned payload")

	_, err = svc.Test(ctx, 99, req.TestWebhookReq{})
	assert.ErrorIs(t, err, ErrWebhookNotFound)

	for i := 0; i < 3; i++ {
		require.NoError(t, store.RecordDelivery(ctx, &model.WebhookDeliveryLog{SubscriptionID: sub.ID, Event: "entity.updated", Attempts: 1, Success: true}, true))
	}
	page, err := svc.Logs(ctx, sub.ID, req.PageReq{Page: 2, Size: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
	assert.Len(t, page.Data, 1)

	_, err = svc.Logs(ctx, 42, req.PageReq{Page: 1, Size: 20})
	assert.ErrorIs(t, err, ErrWebhookNotFound)
}
