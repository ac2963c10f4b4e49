package events

import (
	"context"
	"encoding/json"

	"catalogsync/internal/model"
	"catalogsync/internal/repository"

	"gorm.io/gorm"
)

// OutboxEmitter persists events to the outbox table. Bound to a transaction
// with WithTx, the event commits or rolls back with the mutation.
type OutboxEmitter struct {
	repo repository.OutboxInterface
}

func NewOutboxEmitter(repo repository.OutboxInterface) *OutboxEmitter {
	return &OutboxEmitter{repo: repo}
}

func (e *OutboxEmitter) WithTx(tx *gorm.DB) *OutboxEmitter {
	return &OutboxEmitter{repo: e.repo.WithTx(tx)}
}

func (e *OutboxEmitter) Emit(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return e.repo.Create(ctx, &model.OutboxEvent{
		Event:      ev.Name,
		Payload:    string(body),
		Status:     model.StatusPending,
		TraceID:    ev.TraceID,
		OccurredAt: ev.OccurredAt,
	})
}

// Decode restores the event stored in an outbox row.
func Decode(row model.OutboxEvent) (Event, error) {
	var ev Event
	if err := json.Unmarshal([]byte(row.Payload), &ev); err != nil {
		return Event{}, err
	}
	return ev, nil
}
