// Package events records booking and order milestones and hands them to
// notifiers once they are stored.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrNoStore      = errors.New("events: store not configured")
	ErrUnknownTopic = errors.New("events: unknown topic")
)

// Event is a stored milestone.
type Event struct {
	ID          string          `json:"id"`
	Topic       string          `json:"topic"`
	AggregateID string          `json:"aggregateId"`
	Payload     json.RawMessage `json:"payload"`
	OccurredAt  time.Time       `json:"occurredAt"`
}

// EventStore appends events.
type EventStore interface {
	InsertDomainEvent(ctx context.Context, topic, aggregateID string, payload []byte) (Event, error)
}

// Notifier reacts to a stored event, e.g. by sending an email.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Bus stores each event, then fans it out to every notifier in order.
type Bus struct {
	Store     EventStore
	Notifiers []Notifier
	Logger    zerolog.Logger
}

// Emit stores the event and notifies. Once stored the event stands: notifier
// errors are logged and returned joined, next to the stored event.
func (b *Bus) Emit(ctx context.Context, topic, aggregateID string, payload any) (Event, error) {
	if b == nil || b.Store == nil {
		return Event{}, ErrNoStore
	}
	topic = strings.TrimSpace(topic)
	if !Known(topic) {
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownTopic, topic)
	}
	if strings.TrimSpace(aggregateID) == "" {
		return Event{}, errors.New("events: aggregate id is required")
	}
	body, err := marshalPayload(payload)
	if err != nil {
		return Event{}, fmt.Errorf("events: %s payload: %w", topic, err)
	}
	ev, err := b.Store.InsertDomainEvent(ctx, topic, aggregateID, body)
	if err != nil {
		return Event{}, fmt.Errorf("events: store %s: %w", topic, err)
	}
	return ev, b.dispatch(ctx, ev)
}

func (b *Bus) dispatch(ctx context.Context, ev Event) error {
	var errs []error
	for i, n := range b.Notifiers {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, ev); err != nil {
			b.Logger.Warn().Err(err).
				Int("notifier", i).
				Str("topic", ev.Topic).
				Str("aggregate_id", ev.AggregateID).
				Msg("event notifier failed")
			errs = append(errs, fmt.Errorf("notifier %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// marshalPayload accepts a Go value or pre-encoded JSON. Empty input becomes {}.
func marshalPayload(payload any) ([]byte, error) {
	var raw []byte
	switch v := payload.(type) {
	case nil:
		return []byte("{}"), nil
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	case string:
		raw = []byte(strings.TrimSpace(v))
	default:
		return json.Marshal(v)
	}
	if len(raw) == 0 {
		return []byte("{}"), nil
	}
	if !json.Valid(raw) {
		return nil, errors.New("not valid json")
	}
	return append([]byte(nil), raw...), nil
}
