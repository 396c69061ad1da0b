package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/salon-labs/internal/cart"
	"github.com/noah-isme/salon-labs/internal/catalog"
	"github.com/noah-isme/salon-labs/internal/db"
	"github.com/noah-isme/salon-labs/internal/events"
	"github.com/noah-isme/salon-labs/internal/lock"
	"github.com/noah-isme/salon-labs/internal/obs"
	"github.com/noah-isme/salon-labs/internal/order"
	"github.com/noah-isme/salon-labs/internal/pricing"
	"github.com/noah-isme/salon-labs/internal/voucher"
)

// Carts is the cart access checkout needs.
type Carts interface {
	Get(ctx context.Context, id, userID string) (cart.Cart, error)
}

// Catalog reloads current prices. *catalog.Service satisfies it.
type Catalog interface {
	Lookup(ctx context.Context, ids []string) (map[string]catalog.Offering, error)
	NameLookup(ctx context.Context, items []pricing.LineItem) pricing.NameLookup
}

// Emitter publishes domain events.
type Emitter interface {
	Emit(ctx context.Context, topic, aggregateID string, payload any) (events.Event, error)
}

// Locker serialises checkouts.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Input is the checkout request.
type Input struct {
	CartID   string         `json:"cartId" validate:"required"`
	Customer order.Customer `json:"customer"`
}

// Service turns a cart into an order.
type Service struct {
	Pool             db.Pool
	Carts            Carts
	CartStore        cart.Store
	Catalog          Catalog
	Discounts        *voucher.Service
	Events           Emitter
	Lock             Locker
	Fees             cart.FeeConfig
	Policy           pricing.PaymentPolicy
	TaxPercentage    float64
	MinimumCartValue int64
	HighValueLimit   int64
	Currency         string
	Now              func() time.Time
	Logger           zerolog.Logger
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Checkout prices the cart from current catalog rows, redeems any applied
// code and stores the order in one transaction.
func (s *Service) Checkout(ctx context.Context, userID string, in Input) (order.Order, error) {
	if s == nil || s.Pool == nil || s.Carts == nil || s.Catalog == nil {
		return order.Order{}, errors.New("checkout service not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return order.Order{}, errors.New("user is required for checkout")
	}
	var placed order.Order
	run := func(ctx context.Context) error {
		var err error
		placed, err = s.place(ctx, userID, in)
		return err
	}
	var err error
	if s.Lock != nil {
		err = s.Lock.WithLock(ctx, lock.CheckoutKey(userID), 15*time.Second, run)
	} else {
		err = run(ctx)
	}
	obs.Inc(obs.CheckoutOrdersTotal, resultLabel(err))
	if err != nil {
		return order.Order{}, err
	}

	if s.Events != nil {
		if _, err := s.Events.Emit(ctx, events.TopicOrderCreated, placed.ID, placed); err != nil {
			s.Logger.Warn().Err(err).Str("order_id", placed.ID).Msg("order created notification failed")
		}
	}
	if s.CartStore != nil {
		if err := s.CartStore.Delete(ctx, in.CartID); err != nil {
			s.Logger.Warn().Err(err).Str("cart_id", in.CartID).Msg("cart cleanup failed")
		}
	}
	return placed, nil
}

func (s *Service) place(ctx context.Context, userID string, in Input) (order.Order, error) {
	c, err := s.Carts.Get(ctx, in.CartID, userID)
	if err != nil {
		return order.Order{}, err
	}
	if len(c.Items) == 0 {
		return order.Order{}, cart.ErrEmpty
	}
	lines, err := s.reprice(ctx, c.Items)
	if err != nil {
		return order.Order{}, err
	}
	if !c.BundlePrevalidated {
		if err := pricing.CheckRequiredServices(lines, s.Catalog.NameLookup(ctx, lines)); err != nil {
			return order.Order{}, err
		}
	}
	fees := c.Fees(s.Fees)
	subtotal := pricing.Subtotal(lines, fees)
	if subtotal < s.MinimumCartValue {
		return order.Order{}, fmt.Errorf("%w: subtotal %d is below %d", voucher.ErrBelowMinimum, subtotal, s.MinimumCartValue)
	}

	now := s.now()
	o := order.Order{
		ID:        uuid.NewString(),
		UserID:    userID,
		CartID:    c.ID,
		Status:    order.StatusPendingPayment,
		Currency:  s.Currency,
		Customer:  in.Customer,
		Items:     order.ItemsFromLines(lines),
		Fees:      fees,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = db.WithTx(ctx, s.Pool, func(tx pgx.Tx) error {
		var discount int64
		if c.Discount.Applied() {
			if s.Discounts == nil {
				return errors.New("discount service not configured")
			}
			// The identifier typed into an anonymous cart is not trusted at
			// redemption; per-user limits bind to the signed-in account.
			amount, err := s.Discounts.Redeem(ctx, voucher.NewStore(tx), c.Discount.Code, userID, subtotal)
			if err != nil {
				return err
			}
			discount = amount
			o.DiscountCode = c.Discount.Code
		}
		o.Totals = pricing.Compute(subtotal, discount, s.TaxPercentage, s.Policy)
		o.RequiresReview = s.HighValueLimit > 0 && o.Totals.Total > s.HighValueLimit
		return order.NewStore(tx).Create(ctx, o)
	})
	if err != nil {
		return order.Order{}, err
	}
	if o.RequiresReview {
		s.Logger.Info().Str("order_id", o.ID).Int64("total", o.Totals.Total).Msg("high value order flagged for review")
	}
	return o, nil
}

// reprice replaces cart prices with the catalog's current ones.
func (s *Service) reprice(ctx context.Context, items []pricing.LineItem) ([]pricing.LineItem, error) {
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ServiceID)
	}
	byID, err := s.Catalog.Lookup(ctx, ids)
	if err != nil {
		return nil, err
	}
	lines := make([]pricing.LineItem, 0, len(items))
	for _, it := range items {
		o, ok := byID[it.ServiceID]
		if !ok || !o.Active {
			return nil, fmt.Errorf("%w: service %s is no longer available", catalog.ErrNotFound, it.ServiceID)
		}
		line := catalog.ToLineItem(o, it.Quantity)
		if err := line.Validate(); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func resultLabel(err error) string {
	var missing *pricing.MissingServicesError
	switch {
	case err == nil:
		return "created"
	case errors.Is(err, cart.ErrEmpty):
		return "empty"
	case errors.As(err, &missing):
		return "missing_services"
	case errors.Is(err, voucher.ErrBelowMinimum):
		return "below_minimum"
	case voucher.ErrorFor(err) != nil:
		return "discount_rejected"
	default:
		return "error"
	}
}
