package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/salon-labs/internal/db"
	"github.com/noah-isme/salon-labs/internal/events"
	"github.com/noah-isme/salon-labs/internal/obs"
	"github.com/noah-isme/salon-labs/internal/order"
)

// Emitter publishes domain events.
type Emitter interface {
	Emit(ctx context.Context, topic, aggregateID string, payload any) (events.Event, error)
}

// DefaultPendingWindow is how long an unconfirmed charge blocks a new one.
const DefaultPendingWindow = 30 * time.Minute

// Service charges orders through the configured gateway.
type Service struct {
	Pool    db.Pool
	Gateway Gateway
	Events  Emitter
	// PendingWindow defaults to DefaultPendingWindow.
	PendingWindow time.Duration
	Now           func() time.Time
	Logger        zerolog.Logger
}

// Initiation is returned to the customer after a charge is opened.
type Initiation struct {
	Payment Payment `json:"payment"`
	Handle  Handle  `json:"handle"`
}

// Confirmation reports the state of a payment after verification.
type Confirmation struct {
	Payment Payment      `json:"payment"`
	Order   *order.Order `json:"order,omitempty"`
	Applied bool         `json:"applied"`
	// RefundDue is the settled amount the order could not absorb.
	RefundDue int64 `json:"refundDue,omitempty"`
}

// PaidEvent is the order.paid payload.
type PaidEvent struct {
	Order   order.Order `json:"order"`
	Payment Payment     `json:"payment"`
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) pendingWindow() time.Duration {
	if s.PendingWindow > 0 {
		return s.PendingWindow
	}
	return DefaultPendingWindow
}

// InitiateOrderPayment opens a charge for the order's next instalment: the
// initial payment first, then the remaining balance.
func (s *Service) InitiateOrderPayment(ctx context.Context, orderID, userID, payerRef string) (Initiation, error) {
	if s == nil || s.Pool == nil || s.Gateway == nil {
		return Initiation{}, errors.New("payment service not configured")
	}
	provider := s.Gateway.Name()
	ctx, span := otel.Tracer("payment.Service").Start(ctx, "PaymentService.InitiateOrderPayment")
	defer span.End()
	span.SetAttributes(attribute.String("payment.provider", provider), attribute.String("order.id", orderID))

	start := time.Now()
	result := "error"
	defer func() {
		span.SetAttributes(
			attribute.String("payment.initiate.result", result),
			attribute.Float64("payment.initiate.duration_ms", obs.DurationMillis(time.Since(start))),
		)
		obs.Inc(obs.PaymentInitiationsTotal, provider, result)
	}()

	o, err := order.NewStore(s.Pool).Get(ctx, orderID)
	if err != nil {
		return Initiation{}, err
	}
	if userID != "" && o.UserID != userID {
		return Initiation{}, order.ErrNotFound
	}
	amount := o.NextPayment()
	if o.Status == order.StatusCancelled || o.Status == order.StatusPaid || amount <= 0 {
		result = "nothing_due"
		return Initiation{}, ErrNothingDue
	}
	attempts, err := NewStore(s.Pool).ListByOrder(ctx, o.ID)
	if err != nil {
		return Initiation{}, err
	}
	for _, p := range attempts {
		if p.Status == StatusPending && s.now().Sub(p.CreatedAt) < s.pendingWindow() {
			result = "in_progress"
			return Initiation{}, fmt.Errorf("%w: reference %s", ErrChargeInProgress, p.Reference)
		}
	}
	handle, err := s.Gateway.Initiate(ctx, amount, strings.TrimSpace(payerRef))
	if err != nil {
		span.RecordError(err)
		result = "gateway_error"
		return Initiation{}, err
	}
	now := s.now()
	p := Payment{
		ID:        uuid.NewString(),
		OrderID:   o.ID,
		Provider:  provider,
		Reference: handle.Reference,
		Amount:    amount,
		Status:    StatusPending,
		PayerRef:  strings.TrimSpace(payerRef),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := NewStore(s.Pool).Create(ctx, p); err != nil {
		return Initiation{}, err
	}
	result = "initiated"
	s.Logger.Info().Str("order_id", o.ID).Str("reference", p.Reference).Int64("amount", amount).Str("provider", provider).Msg("payment initiated")
	return Initiation{Payment: p, Handle: handle}, nil
}

// Confirm verifies reference with the gateway and, on success, credits the
// order exactly once. Pending charges are returned unchanged.
func (s *Service) Confirm(ctx context.Context, reference string) (Confirmation, error) {
	if s == nil || s.Pool == nil || s.Gateway == nil {
		return Confirmation{}, errors.New("payment service not configured")
	}
	reference = strings.TrimSpace(reference)
	existing, err := NewStore(s.Pool).GetByReference(ctx, reference)
	if err != nil {
		return Confirmation{}, err
	}
	if existing.Status != StatusPending {
		return Confirmation{Payment: existing}, nil
	}
	res, err := s.Gateway.Verify(ctx, Handle{Provider: existing.Provider, Reference: reference})
	if err != nil {
		return Confirmation{}, err
	}
	if res.Status == StatusPending {
		return Confirmation{Payment: existing}, nil
	}
	if res.Status == StatusSuccess && res.Amount > 0 && res.Amount != existing.Amount {
		s.Logger.Error().Str("reference", reference).Int64("expected", existing.Amount).Int64("settled", res.Amount).Msg("payment amount mismatch")
		return Confirmation{}, fmt.Errorf("%w: expected %d got %d", ErrAmountMismatch, existing.Amount, res.Amount)
	}

	var out Confirmation
	err = db.WithTx(ctx, s.Pool, func(tx pgx.Tx) error {
		payments := NewStore(tx)
		p, err := payments.GetByReferenceForUpdate(ctx, reference)
		if err != nil {
			return err
		}
		out.Payment = p
		if p.Status != StatusPending {
			return nil
		}
		now := s.now()
		if err := payments.UpdateStatus(ctx, p.ID, res.Status, now); err != nil {
			return err
		}
		out.Payment.Status = res.Status
		out.Payment.UpdatedAt = now
		if res.Status != StatusSuccess {
			return nil
		}
		orders := order.NewStore(tx)
		o, err := orders.GetForUpdate(ctx, p.OrderID)
		if err != nil {
			return err
		}
		credited, excess := order.ApplyPayment(o, p.Amount, now)
		out.Order = &credited
		out.RefundDue = excess
		if excess == p.Amount {
			return nil
		}
		if err := orders.SavePayment(ctx, credited); err != nil {
			return err
		}
		out.Applied = true
		return nil
	})
	if err != nil {
		return Confirmation{}, err
	}
	if out.RefundDue > 0 {
		s.Logger.Warn().Str("reference", reference).Str("order_id", out.Payment.OrderID).
			Int64("refund_due", out.RefundDue).Msg("settled charge exceeds order balance")
	}
	if out.Applied && s.Events != nil {
		if _, err := s.Events.Emit(ctx, events.TopicOrderPaid, out.Order.ID, PaidEvent{Order: *out.Order, Payment: out.Payment}); err != nil {
			s.Logger.Warn().Err(err).Str("order_id", out.Order.ID).Msg("order paid notification failed")
		}
	}
	return out, nil
}
