package v1

import "catalogsync/pkg/constraints"

type ImportAccepted struct {
	TaskID   string `json:"task_id"`
	Status   string `json:"status"`
	Filename string `json:"filename"`
}

// ImportStatus is the polling view of an import.
type ImportStatus struct {
	TaskID          string             `json:"task_id"`
	State           constraints.Status `json:"state"`
	ProgressPercent *float64           `json:"progress_percent,omitempty"`
	Current         *int               `json:"current,omitempty"`
	Total           *int               `json:"total,omitempty"`
	Created         *int               `json:"created,omitempty"`
	Updated         *int               `json:"updated,omitempty"`
	Errors          *int               `json:"errors,omitempty"`
	Message         string             `json:"message,omitempty"`
	Error           string             `json:"error,omitempty"`
}

func (s ImportStatus) Terminal() bool {
	return s.State == constraints.StatusCompleted || s.State == constraints.StatusFailed
}

type RowError struct {
	Row     int               `json:"row"`
	Message string            `json:"message"`
	Data    map[string]string `json:"data,omitempty"`
}

// ImportResult is the durable outcome of a finished import.
type ImportResult struct {
	TaskID        string             `json:"task_id"`
	State         constraints.Status `json:"state"`
	TotalRows     int                `json:"total_rows"`
	ProcessedRows int                `json:"processed_rows"`
	Created       int                `json:"created"`
	Updated       int                `json:"updated"`
	Errors        int                `json:"errors"`
	ErrorDetails  []RowError         `json:"error_details"`
	Error         string             `json:"error,omitempty"`
}
