package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/salon-labs/internal/common"
	"github.com/noah-isme/salon-labs/internal/db"
	"github.com/noah-isme/salon-labs/internal/events"
	"github.com/noah-isme/salon-labs/internal/ledger"
	"github.com/noah-isme/salon-labs/internal/lock"
	"github.com/noah-isme/salon-labs/internal/obs"
)

// Locker serialises work on a key across processes. lock.Locker satisfies it.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Emitter publishes domain events. *events.Bus satisfies it.
type Emitter interface {
	Emit(ctx context.Context, topic, aggregateID string, payload any) (events.Event, error)
}

// Outcome is the committed booking plus the side effects that were dispatched.
// NotificationErr reports dispatch failures; the booking change is already durable.
type Outcome struct {
	Booking         ledger.Booking     `json:"booking"`
	Directives      []ledger.Directive `json:"directives,omitempty"`
	NotificationErr error              `json:"-"`
}

// Service applies ledger operations atomically: one lock, one row lock, one commit.
type Service struct {
	Pool    db.Pool
	Lock    Locker
	LockTTL time.Duration
	Events  Emitter
	Policy  ledger.Policy
	Now     func() time.Time
	Logger  zerolog.Logger
}

var directiveTopics = map[ledger.Directive]string{
	ledger.DirectiveAftercare:          events.TopicBookingPaidInFull,
	ledger.DirectiveCancellationNotice: events.TopicBookingCancelled,
	ledger.DirectiveRescheduleNotice:   events.TopicBookingRescheduled,
}

// Create stores a new regular or walk-in booking. A booking paid in full at
// creation gets its aftercare notice straight away.
func (s *Service) Create(ctx context.Context, in ledger.NewBookingInput) (Outcome, error) {
	if s == nil || s.Pool == nil {
		return Outcome{}, errors.New("booking service not configured")
	}
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	b, err := ledger.NewBooking(in, s.Policy, s.now())
	if err != nil {
		return Outcome{}, err
	}
	if err := NewStore(s.Pool).Create(ctx, b); err != nil {
		return Outcome{}, err
	}
	obs.Inc(obs.BookingTransitionsTotal, string(b.Status))
	res := ledger.Result{Booking: b}
	if b.PaidInFullAt != nil {
		res.Directives = []ledger.Directive{ledger.DirectiveAftercare}
	}
	return s.dispatch(ctx, res), nil
}

// Get returns a booking by id.
func (s *Service) Get(ctx context.Context, id string) (ledger.Booking, error) {
	if s == nil || s.Pool == nil {
		return ledger.Booking{}, errors.New("booking service not configured")
	}
	return NewStore(s.Pool).Get(ctx, id)
}

// ListByDate pages through bookings on a calendar day.
func (s *Service) ListByDate(ctx context.Context, date string, page, perPage int) ([]ledger.Booking, int, error) {
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return nil, 0, fmt.Errorf("%w: date must be YYYY-MM-DD", ledger.ErrInvalidInput)
	}
	return NewStore(s.Pool).ListByDate(ctx, date, perPage, common.Offset(page, perPage))
}

// RecordPayment applies a payment against the balance read under the row lock.
func (s *Service) RecordPayment(ctx context.Context, id string, amount ledger.Money, method string) (Outcome, error) {
	out, err := s.mutate(ctx, id, func(b ledger.Booking, now time.Time) (ledger.Result, error) {
		return ledger.RecordPayment(b, amount, method, now)
	})
	result := "ok"
	if err != nil {
		result = resultLabel(err)
	}
	obs.Inc(obs.BookingPaymentsTotal, method, result)
	return out, err
}

// AddService adds an extra service to an open booking.
func (s *Service) AddService(ctx context.Context, id, name string, price ledger.Money) (Outcome, error) {
	return s.mutate(ctx, id, func(b ledger.Booking, now time.Time) (ledger.Result, error) {
		return ledger.AddAdditionalService(b, name, price, now)
	})
}

// AddFine attaches the single permitted fine.
func (s *Service) AddFine(ctx context.Context, id, reason string, amount ledger.Money) (Outcome, error) {
	return s.mutate(ctx, id, func(b ledger.Booking, now time.Time) (ledger.Result, error) {
		return ledger.AddFine(b, reason, amount, now)
	})
}

// Cancel cancels the booking and records the refund outcome.
func (s *Service) Cancel(ctx context.Context, id, reason, by string) (Outcome, error) {
	return s.mutate(ctx, id, func(b ledger.Booking, now time.Time) (ledger.Result, error) {
		return ledger.Cancel(b, reason, by, s.Policy, now)
	})
}

// Reschedule moves the booking to another slot.
func (s *Service) Reschedule(ctx context.Context, id string, in ledger.RescheduleInput) (Outcome, error) {
	return s.mutate(ctx, id, func(b ledger.Booking, now time.Time) (ledger.Result, error) {
		return ledger.Reschedule(b, in, s.Policy, now)
	})
}

// Complete marks the appointment as done.
func (s *Service) Complete(ctx context.Context, id string) (Outcome, error) {
	return s.mutate(ctx, id, func(b ledger.Booking, now time.Time) (ledger.Result, error) {
		return ledger.Complete(b, now)
	})
}

type operation func(b ledger.Booking, now time.Time) (ledger.Result, error)

func (s *Service) mutate(ctx context.Context, id string, op operation) (Outcome, error) {
	if s == nil || s.Pool == nil {
		return Outcome{}, errors.New("booking service not configured")
	}
	var res ledger.Result
	var before ledger.Status
	run := func(ctx context.Context) error {
		return db.WithTx(ctx, s.Pool, func(tx pgx.Tx) error {
			st := NewStore(tx)
			current, err := st.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			before = current.Status
			res, err = op(current, s.now())
			if err != nil {
				return err
			}
			return st.Update(ctx, res.Booking)
		})
	}
	var err error
	if s.Lock != nil {
		err = s.Lock.WithLock(ctx, lock.BookingKey(id), s.LockTTL, run)
	} else {
		err = run(ctx)
	}
	if err != nil {
		return Outcome{}, err
	}
	if res.Booking.Status != before {
		obs.Inc(obs.BookingTransitionsTotal, string(res.Booking.Status))
	}
	return s.dispatch(ctx, res), nil
}

// dispatch runs after commit, so failures only surface on the outcome.
func (s *Service) dispatch(ctx context.Context, res ledger.Result) Outcome {
	out := Outcome{Booking: res.Booking, Directives: res.Directives}
	if s.Events == nil {
		return out
	}
	for _, d := range res.Directives {
		topic, ok := directiveTopics[d]
		if !ok {
			continue
		}
		if _, err := s.Events.Emit(ctx, topic, res.Booking.ID, res.Booking); err != nil {
			s.Logger.Warn().Err(err).Str("booking_id", res.Booking.ID).Str("directive", string(d)).Msg("booking notification failed")
			out.NotificationErr = errors.Join(out.NotificationErr, err)
		}
	}
	return out
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ledger.ErrLimitExceeded):
		return "limit_exceeded"
	case errors.Is(err, ledger.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
