package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/salon-labs/internal/events"
)

type stubStore struct {
	topic   string
	payload []byte
}

func (s *stubStore) InsertDomainEvent(_ context.Context, topic, aggregateID string, payload []byte) (events.Event, error) {
	s.topic = topic
	s.payload = payload
	return events.Event{ID: "ev-1", Topic: topic, AggregateID: aggregateID, Payload: payload, OccurredAt: time.Now()}, nil
}

type captureNotifier struct {
	events []events.Event
	err    error
}

func (c *captureNotifier) Notify(_ context.Context, event events.Event) error {
	c.events = append(c.events, event)
	return c.err
}

func TestEmitPersistsEvent(t *testing.T) {
	store := &stubStore{}
	notifier := &captureNotifier{}
	bus := events.Bus{Store: store, Notifiers: []events.Notifier{notifier}}

	event, err := bus.Emit(context.Background(), events.TopicBookingPaidInFull, "bk-1", map[string]any{"bookingId": "bk-1"})
	require.NoError(t, err)
	require.Equal(t, events.TopicBookingPaidInFull, store.topic)
	require.JSONEq(t, `{"bookingId":"bk-1"}`, string(store.payload))
	require.Len(t, notifier.events, 1)
	require.Equal(t, event.ID, notifier.events[0].ID)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(event.Payload, &decoded))
	require.Equal(t, "bk-1", decoded["bookingId"])
}

func TestEmitNotifierFailureIsReportedNotFatal(t *testing.T) {
	failing := &captureNotifier{err: errors.New("smtp down")}
	healthy := &captureNotifier{}
	bus := events.Bus{Store: &stubStore{}, Notifiers: []events.Notifier{failing, healthy}}

	event, err := bus.Emit(context.Background(), events.TopicOrderCreated, "ord-1", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "smtp down")
	require.Equal(t, "ev-1", event.ID)
	require.Len(t, healthy.events, 1)
}

func TestEmitRejectsInvalidInput(t *testing.T) {
	bus := events.Bus{Store: &stubStore{}}
	_, err := bus.Emit(context.Background(), " ", "x", nil)
	require.Error(t, err)
	_, err = bus.Emit(context.Background(), events.TopicOrderPaid, "", nil)
	require.Error(t, err)
	_, err = bus.Emit(context.Background(), events.TopicOrderPaid, "x", "{not json")
	require.Error(t, err)
	_, err = bus.Emit(context.Background(), "order.shipped", "x", nil)
	require.ErrorIs(t, err, events.ErrUnknownTopic)
	_, err = (&events.Bus{}).Emit(context.Background(), events.TopicOrderPaid, "x", nil)
	require.ErrorIs(t, err, events.ErrNoStore)
}

func TestEmitAcceptsPreEncodedPayloads(t *testing.T) {
	store := &stubStore{}
	bus := events.Bus{Store: store}

	_, err := bus.Emit(context.Background(), events.TopicBookingCancelled, "bk-2", json.RawMessage(`{"refund":"pending"}`))
	require.NoError(t, err)
	require.JSONEq(t, `{"refund":"pending"}`, string(store.payload))

	_, err = bus.Emit(context.Background(), events.TopicBookingCancelled, "bk-2", "  ")
	require.NoError(t, err)
	require.Equal(t, "{}", string(store.payload))
}

func TestPGStoreInsert(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`INSERT INTO domain_events`).
		WithArgs(pgxmock.AnyArg(), events.TopicOrderPaid, "ord-1", []byte(`{}`)).
		WillReturnRows(pgxmock.NewRows([]string{"occurred_at"}).AddRow(at))

	ev, err := events.PGStore{DB: mock}.InsertDomainEvent(context.Background(), events.TopicOrderPaid, "ord-1", []byte(`{}`))
	require.NoError(t, err)
	require.Equal(t, at, ev.OccurredAt)
	require.NotEmpty(t, ev.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}
