package resp

import (
	"time"

	"catalogsync/internal/model"
)

type WebhookResp struct {
	ID              uint64            `json:"id"`
	URL             string            `json:"url"`
	Events          []string          `json:"events"`
	HasSecret       bool              `json:"has_secret"`
	Headers         map[string]string `json:"headers,omitempty"`
	Active          bool              `json:"active"`
	RetryCount      int               `json:"retry_count"`
	Timeout         int               `json:"timeout"`
	SuccessCount    int64             `json:"success_count"`
	FailureCount    int64             `json:"failure_count"`
	LastTriggeredAt *time.Time        `json:"last_triggered_at,omitempty"`
	LastError       *string           `json:"last_error,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

func NewWebhookResp(s *model.WebhookSubscription) WebhookResp {
	return WebhookResp{
		ID:              s.ID,
		URL:             s.URL,
		Events:          s.Events,
		HasSecret:       s.Secret != nil && *s.Secret != "",
		Headers:         s.Headers,
		Active:          s.Active,
		RetryCount:      s.RetryCount,
		Timeout:         s.TimeoutSeconds,
		SuccessCount:    s.SuccessCount,
		FailureCount:    s.FailureCount,
		LastTriggeredAt: s.LastTriggeredAt,
		LastError:       s.LastError,
		CreatedAt:       s.CreatedAt,
	}
}

type DeliveryLogPage struct {
	Data  []model.WebhookDeliveryLog `json:"data"`
	Total int64                      `json:"total"`
	Page  int                        `json:"page"`
	Size  int                        `json:"size"`
}
