package model

import "time"

type WebhookSubscription struct {
	ID              uint64            `gorm:"primaryKey" json:"id"`
	URL             string            `gorm:"size:500;not null" json:"url"`
	Events          []string          `gorm:"serializer:json;type:text" json:"events"`
	Active          bool              `gorm:"not null;index" json:"active"`
	Secret          *string           `gorm:"size:255" json:"-"`
	Description     string            `gorm:"type:text" json:"description"`
	Headers         map[string]string `gorm:"serializer:json;type:text" json:"headers"`
	RetryCount      int               `gorm:"not null" json:"retry_count"`
	TimeoutSeconds  int               `gorm:"not null" json:"timeout_seconds"`
	SuccessCount    int64             `gorm:"not null" json:"success_count"`
	FailureCount    int64             `gorm:"not null" json:"failure_count"`
	LastTriggeredAt *time.Time        `json:"last_triggered_at,omitempty"`
	LastError       *string           `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

func (s *WebhookSubscription) Subscribes(event string) bool {
	for _, e := range s.Events {
		if e == event {
			return true
		}
	}
	return false
}

// WebhookDeliveryLog records one delivery attempt sequence, retries included.
type WebhookDeliveryLog struct {
	ID             uint64    `gorm:"primaryKey" json:"id"`
	SubscriptionID uint64    `gorm:"not null;index" json:"subscription_id"`
	Event          string    `gorm:"size:64;not null" json:"event"`
	Payload        string    `gorm:"type:text" json:"payload"`
	StatusCode     *int      `json:"status_code"`
	ResponseBody   *string   `gorm:"type:text" json:"response_body"`
	ElapsedMS      int64     `json:"elapsed_ms"`
	Attempts       int       `json:"attempts"`
	Success        bool      `gorm:"not null" json:"success"`
	Test           bool      `gorm:"not null" json:"test"`
	Error          *string   `gorm:"type:text" json:"error"`
	CreatedAt      time.Time `gorm:"index" json:"created_at"`
}
