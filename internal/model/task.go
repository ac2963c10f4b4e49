package model

import "time"

type TaskKind string

const (
	KindIngestion       TaskKind = "ingestion"
	KindWebhookDispatch TaskKind = "webhook_dispatch"
	KindWebhookDelivery TaskKind = "webhook_delivery"
	KindBulkDelete      TaskKind = "bulk_delete"
)

type TaskState string

const (
	TaskQueued    TaskState = "queued"
	TaskRunning   TaskState = "running"
	TaskSucceeded TaskState = "succeeded"
	TaskFailed    TaskState = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s TaskState) Terminal() bool {
	return s == TaskSucceeded || s == TaskFailed
}

// Task is the durable lifecycle record of a background job. Payload and
// Result are JSON documents owned by the job handler.
type Task struct {
	ID              string     `gorm:"primaryKey;size:36" json:"id"`
	Kind            TaskKind   `gorm:"size:32;not null;index" json:"kind"`
	State           TaskState  `gorm:"size:16;not null;index" json:"state"`
	Attempts        int        `gorm:"not null" json:"attempts"`
	Error           *string    `gorm:"type:text" json:"error,omitempty"`
	Payload         string     `gorm:"type:text" json:"-"`
	Result          string     `gorm:"type:text" json:"-"`
	CancelRequested bool       `gorm:"not null" json:"cancel_requested"`
	InitiatedBy     string     `gorm:"size:64" json:"initiated_by"`
	TraceID         string     `gorm:"size:64;index" json:"trace_id"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
}
