package v1

import "catalogsync/pkg/constraints"

type BulkDeleteAccepted struct {
	TaskID  string `json:"task_id"`
	Status  string `json:"status"`
	Total   int64  `json:"total"`
	Message string `json:"message"`
}

// BulkDeleteStatus is the polling view of a bulk delete.
type BulkDeleteStatus struct {
	TaskID          string             `json:"task_id"`
	State           constraints.Status `json:"state"`
	ProgressPercent *float64           `json:"progress_percent,omitempty"`
	Deleted         *int               `json:"deleted_count,omitempty"`
	Total           *int               `json:"total,omitempty"`
	Message         string             `json:"message,omitempty"`
	Error           string             `json:"error,omitempty"`
}
