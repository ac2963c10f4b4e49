// Package events defines the domain events emitted by catalog mutations and
// ingestion runs, and the emitter seam that decouples producers from
// webhook delivery.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

const (
	EntityCreated      = "entity.created"
	EntityUpdated      = "entity.updated"
	EntityDeleted      = "entity.deleted"
	IngestionStarted   = "ingestion.started"
	IngestionCompleted = "ingestion.completed"
	IngestionFailed    = "ingestion.failed"
)

// Names is the fixed set of events subscribers may select.
var Names = []string{
	EntityCreated,
	EntityUpdated,
	EntityDeleted,
	IngestionStarted,
	IngestionCompleted,
	IngestionFailed,
}

func Valid(name string) bool {
	for _, n := range Names {
		if n == name {
			return true
		}
	}
	return false
}

type Event struct {
	Name       string          `json:"event"`
	Data       json.RawMessage `json:"data"`
	OccurredAt time.Time       `json:"occurred_at"`
	TraceID    string          `json:"trace_id,omitempty"`
}

// New builds an event stamped with the current UTC time.
func New(name string, data any) (Event, error) {
	if !Valid(name) {
		return Event{}, fmt.Errorf("unknown event %q", name)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s data: %w", name, err)
	}
	return Event{Name: name, Data: raw, OccurredAt: time.Now().UTC()}, nil
}

// Emitter accepts domain events for later delivery.
type Emitter interface {
	Emit(ctx context.Context, ev Event) error
}

type EmitterFunc func(ctx context.Context, ev Event) error

func (f EmitterFunc) Emit(ctx context.Context, ev Event) error { return f(ctx, ev) }
