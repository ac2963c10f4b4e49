package model

import "time"

// OutboxEvent is a domain event persisted alongside the mutation that
// produced it and relayed to webhook dispatch later.
type OutboxEvent struct {
	ID         int64     `json:"id" gorm:"primaryKey"`
	Event      string    `json:"event" gorm:"size:64;index"`
	Payload    string    `json:"payload" gorm:"type:text"`
	Status     int       `json:"status" gorm:"index"`
	RetryCount int       `json:"retry_count" gorm:"default:0"`
	LastError  string    `json:"last_error" gorm:"type:text"`
	TraceID    string    `json:"trace_id" gorm:"size:64;index"`
	OccurredAt time.Time `json:"occurred_at"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

const (
	StatusPending   = 0
	StatusCompleted = 1
	StatusFailed    = 2
)
