package events

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/noah-isme/salon-labs/internal/db"
)

// PGStore appends events to the domain_events table.
type PGStore struct {
	DB db.DBTX
}

// InsertDomainEvent implements EventStore.
func (s PGStore) InsertDomainEvent(ctx context.Context, topic, aggregateID string, payload []byte) (Event, error) {
	ev := Event{ID: uuid.NewString(), Topic: topic, AggregateID: aggregateID, Payload: payload}
	err := s.DB.QueryRow(ctx, `INSERT INTO domain_events (id, topic, aggregate_id, payload)
		VALUES ($1, $2, $3, $4)
		RETURNING occurred_at`, ev.ID, topic, aggregateID, payload).Scan(&ev.OccurredAt)
	if err != nil {
		return Event{}, fmt.Errorf("insert domain event: %w", err)
	}
	return ev, nil
}
