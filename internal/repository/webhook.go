package repository

import (
	"context"
	"errors"
	"time"

	"catalogsync/internal/model"

	"gorm.io/gorm"
)

// WebhookStore serves subscriber lookup and post-delivery bookkeeping.
type WebhookStore interface {
	Create(ctx context.Context, sub *model.WebhookSubscription) error
	Get(ctx context.Context, id uint64) (*model.WebhookSubscription, error)
	ListActiveByEvent(ctx context.Context, event string) ([]model.WebhookSubscription, error)
	// RecordDelivery appends the log entry and, when updateStats is set,
	// bumps the subscription counters in the same transaction.
	RecordDelivery(ctx context.Context, log *model.WebhookDeliveryLog, updateStats bool) error
	ListLogs(ctx context.Context, subscriptionID uint64, offset, limit int) ([]model.WebhookDeliveryLog, int64, error)
}

type WebhookRepository struct {
	db *gorm.DB
}

func NewWebhookRepository(db *gorm.DB) *WebhookRepository {
	return &WebhookRepository{db: db}
}

func (r *WebhookRepository) Create(ctx context.Context, sub *model.WebhookSubscription) error {
	return r.db.WithContext(ctx).Create(sub).Error
}

func (r *WebhookRepository) Get(ctx context.Context, id uint64) (*model.WebhookSubscription, error) {
	var sub model.WebhookSubscription
	if err := r.db.WithContext(ctx).First(&sub, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

// ListActiveByEvent filters on the event set in memory; the set is stored
// as a JSON document and the subscription table stays small.
func (r *WebhookRepository) ListActiveByEvent(ctx context.Context, event string) ([]model.WebhookSubscription, error) {
	var subs []model.WebhookSubscription
	if err := r.db.WithContext(ctx).Where("active = ?", true).Order("id ASC").Find(&subs).Error; err != nil {
		return nil, err
	}
	matched := subs[:0]
	for _, s := range subs {
		if s.Subscribes(event) {
			matched = append(matched, s)
		}
	}
	return matched, nil
}

func (r *WebhookRepository) RecordDelivery(ctx context.Context, log *model.WebhookDeliveryLog, updateStats bool) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := NewDeliveryLogRepository(tx).Create(ctx, log); err != nil {
			return err
		}
		if !updateStats {
			return nil
		}

		updates := map[string]any{
			"last_triggered_at": time.Now().UTC(),
		}
		if log.Success {
			updates["success_count"] = gorm.Expr("success_count + 1")
			updates["last_error"] = nil
		} else {
			updates["failure_count"] = gorm.Expr("failure_count + 1")
			updates["last_error"] = log.Error
		}
		return tx.Model(&model.WebhookSubscription{}).
			Where("id = ?", log.SubscriptionID).
			Updates(updates).Error
	})
}

func (r *WebhookRepository) ListLogs(ctx context.Context, subscriptionID uint64, offset, limit int) ([]model.WebhookDeliveryLog, int64, error) {
	return NewDeliveryLogRepository(r.db).ListBySubscription(ctx, subscriptionID, offset, limit)
}
