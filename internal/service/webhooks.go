package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"catalogsync/internal/dto/req"
	"catalogsync/internal/dto/resp"
	"catalogsync/internal/model"
	"catalogsync/internal/repository"
	"catalogsync/internal/webhook"
	"catalogsync/pkg/logger"

	"go.uber.org/zap"
)

var ErrWebhookNotFound = errors.New("webhook not found")

type WebhookTester interface {
	Test(ctx context.Context, subscriptionID uint64, event string, data any) (*webhook.Outcome, error)
}

type WebhookService struct {
	store  repository.WebhookStore
	tester WebhookTester
}

func NewWebhookService(store repository.WebhookStore, tester WebhookTester) *WebhookService {
	return &WebhookService{store: store, tester: tester}
}

// Create registers a subscription. Omitted retry count, timeout and active
// flag fall back to 3 retries, 30 seconds and active.
func (s *WebhookService) Create(ctx context.Context, r req.CreateWebhookReq) (*model.WebhookSubscription, error) {
	sub := &model.WebhookSubscription{
		URL:         strings.TrimSpace(r.URL),
		Events:      r.Events,
		Headers:     r.Headers,
		Description: r.Description,
		Active:      true,
		RetryCount:  webhook.DefaultRetryCount,
	}
	if r.Active != nil {
		sub.Active = *r.Active
	}
	if r.RetryCount != nil {
		sub.RetryCount = *r.RetryCount
	}
	if r.Timeout != nil {
		sub.TimeoutSeconds = *r.Timeout
	}
	if r.Secret != nil && *r.Secret != "" {
		secret := *r.Secret
		sub.Secret = &secret
	}
	if err := webhook.Normalize(sub); err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, sub); err != nil {
		return nil, fmt.Errorf("create webhook: %w", err)
	}
	logger.Info("webhook created",
		zap.Uint64("id", sub.ID),
		zap.Strings("events", sub.Events),
		zap.String("operator", GetOperator(ctx)))
	return sub, nil
}

func (s *WebhookService) Get(ctx context.Context, id uint64) (*model.WebhookSubscription, error) {
	sub, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, ErrWebhookNotFound
	}
	return sub, nil
}

// Test sends one delivery to the subscription and logs it as a test.
func (s *WebhookService) Test(ctx context.Context, id uint64, r req.TestWebhookReq) (*webhook.Outcome, error) {
	var data any
	if r.Data != nil {
		data = r.Data
	}
	out, err := s.tester.Test(ctx, id, r.Event, data)
	if errors.Is(err, webhook.ErrSubscriptionNotFound) {
		return nil, ErrWebhookNotFound
	}
	return out, err
}

// Logs pages through the delivery history, newest first.
func (s *WebhookService) Logs(ctx context.Context, id uint64, page req.PageReq) (*resp.DeliveryLogPage, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	logs, total, err := s.store.ListLogs(ctx, id, (page.Page-1)*page.Size, page.Size)
	if err != nil {
		return nil, err
	}
	if logs == nil {
		logs = []model.WebhookDeliveryLog{}
	}
	return &resp.DeliveryLogPage{Data: logs, Total: total, Page: page.Page, Size: page.Size}, nil
}
