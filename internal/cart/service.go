package cart

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/salon-labs/internal/catalog"
	"github.com/noah-isme/salon-labs/internal/lock"
	"github.com/noah-isme/salon-labs/internal/pricing"
	"github.com/noah-isme/salon-labs/internal/voucher"
)

// Catalog is the read side of the Labs catalog. *catalog.Service satisfies it.
type Catalog interface {
	Offering(ctx context.Context, id string) (catalog.Offering, error)
	Bundle(ctx context.Context, slug string) (catalog.Bundle, error)
	NameLookup(ctx context.Context, items []pricing.LineItem) pricing.NameLookup
}

// Discounts validates codes without redeeming them. *voucher.Service satisfies it.
type Discounts interface {
	Validate(ctx context.Context, code, identifier string, subtotal int64) (voucher.Validation, error)
}

// Locker serialises updates to one cart.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Service encapsulates cart domain operations.
type Service struct {
	Store            Store
	Catalog          Catalog
	Discounts        Discounts
	Lock             Locker
	Fees             FeeConfig
	Policy           pricing.PaymentPolicy
	TaxPercentage    float64
	MinimumCartValue int64
	Now              func() time.Time
}

// View is a cart with its computed quote.
type View struct {
	Cart            Cart          `json:"cart"`
	Quote           pricing.Quote `json:"quote"`
	MeetsMinimum    bool          `json:"meetsMinimum"`
	MinimumValue    int64         `json:"minimumValue"`
	MissingServices []string      `json:"missingServices,omitempty"`
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Create opens an empty cart, owned by userID when the caller is signed in.
func (s *Service) Create(ctx context.Context, userID string) (Cart, error) {
	if s == nil || s.Store == nil {
		return Cart{}, errors.New("cart service not configured")
	}
	now := s.now()
	c := Cart{
		ID:        uuid.NewString(),
		UserID:    strings.TrimSpace(userID),
		Items:     []pricing.LineItem{},
		Discount:  DiscountSession{State: StateNoCode},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Store.Save(ctx, c); err != nil {
		return Cart{}, err
	}
	return c, nil
}

// Get loads a cart the caller may see.
func (s *Service) Get(ctx context.Context, id, userID string) (Cart, error) {
	if s == nil || s.Store == nil {
		return Cart{}, errors.New("cart service not configured")
	}
	c, err := s.Store.Load(ctx, id)
	if err != nil {
		return Cart{}, err
	}
	if !c.OwnedBy(userID) {
		return Cart{}, ErrNotFound
	}
	return c, nil
}

// AddService adds qty of an offering, merging with an existing line.
func (s *Service) AddService(ctx context.Context, id, userID, serviceID string, qty int) (Cart, error) {
	if qty < 1 {
		return Cart{}, fmt.Errorf("%w: quantity must be at least 1", ErrInvalidInput)
	}
	o, err := s.Catalog.Offering(ctx, serviceID)
	if err != nil {
		return Cart{}, err
	}
	return s.update(ctx, id, userID, func(c *Cart) error {
		if i := c.indexOf(o.ID); i >= 0 {
			c.Items[i].Quantity += qty
			return nil
		}
		c.Items = append(c.Items, catalog.ToLineItem(o, qty))
		return nil
	})
}

// AddBundle adds every offering of a bundle and marks the cart as pre-validated.
func (s *Service) AddBundle(ctx context.Context, id, userID, slug string) (Cart, error) {
	b, err := s.Catalog.Bundle(ctx, slug)
	if err != nil {
		return Cart{}, err
	}
	return s.update(ctx, id, userID, func(c *Cart) error {
		for _, o := range b.Services {
			if c.indexOf(o.ID) < 0 {
				c.Items = append(c.Items, catalog.ToLineItem(o, 1))
			}
		}
		c.BundlePrevalidated = true
		return nil
	})
}

// RemoveItem drops a line. The cart no longer counts as a complete bundle afterwards.
func (s *Service) RemoveItem(ctx context.Context, id, userID, serviceID string) (Cart, error) {
	return s.update(ctx, id, userID, func(c *Cart) error {
		i := c.indexOf(serviceID)
		if i < 0 {
			return fmt.Errorf("%w: service %s is not in the cart", ErrInvalidInput, serviceID)
		}
		c.Items = append(c.Items[:i], c.Items[i+1:]...)
		c.BundlePrevalidated = false
		return nil
	})
}

// UpdateQty sets the quantity of a line; zero removes it.
func (s *Service) UpdateQty(ctx context.Context, id, userID, serviceID string, qty int) (Cart, error) {
	if qty < 0 {
		return Cart{}, fmt.Errorf("%w: quantity must not be negative", ErrInvalidInput)
	}
	if qty == 0 {
		return s.RemoveItem(ctx, id, userID, serviceID)
	}
	return s.update(ctx, id, userID, func(c *Cart) error {
		i := c.indexOf(serviceID)
		if i < 0 {
			return fmt.Errorf("%w: service %s is not in the cart", ErrInvalidInput, serviceID)
		}
		c.Items[i].Quantity = qty
		return nil
	})
}

// Options are the cart-level add-ons. Nil leaves the current value.
type Options struct {
	Priority  *bool
	NewDomain *bool
}

// SetOptions toggles the priority and new-domain fees.
func (s *Service) SetOptions(ctx context.Context, id, userID string, opts Options) (Cart, error) {
	return s.update(ctx, id, userID, func(c *Cart) error {
		if opts.Priority != nil {
			c.Priority = *opts.Priority
		}
		if opts.NewDomain != nil {
			c.NewDomain = *opts.NewDomain
		}
		return nil
	})
}

// ApplyCode validates code for identifier against the cart subtotal. A rejected
// code is stored on the cart and its error returned.
func (s *Service) ApplyCode(ctx context.Context, id, userID, code, identifier string) (Cart, error) {
	if s.Discounts == nil {
		return Cart{}, errors.New("discount service not configured")
	}
	var rejection error
	c, err := s.update(ctx, id, userID, func(c *Cart) error {
		next, err := c.Discount.Begin(code, identifier)
		if err != nil {
			return err
		}
		res, verr := s.Discounts.Validate(ctx, next.Code, identifier, c.Subtotal(s.Fees))
		if verr != nil && voucher.ErrorFor(verr) == nil {
			return verr
		}
		rejection = verr
		c.Discount = next.Resolve(res.DiscountAmount, reasonFor(verr), verr)
		return nil
	})
	if err != nil {
		return Cart{}, err
	}
	return c, rejection
}

// RemoveCode clears the discount session.
func (s *Service) RemoveCode(ctx context.Context, id, userID string) (Cart, error) {
	return s.update(ctx, id, userID, func(c *Cart) error {
		c.Discount = c.Discount.Remove()
		return nil
	})
}

// Quote prices the cart for display. Missing required services are reported
// rather than failing so the storefront can prompt for them.
func (s *Service) Quote(ctx context.Context, id, userID string) (View, error) {
	c, err := s.Get(ctx, id, userID)
	if err != nil {
		return View{}, err
	}
	return s.Render(ctx, c)
}

// Render prices c for display.
func (s *Service) Render(ctx context.Context, c Cart) (View, error) {
	var discount int64
	if c.Discount.Applied() {
		discount = c.Discount.Amount
	}
	q, err := pricing.BuildQuote(c.Items, c.Fees(s.Fees), discount, s.TaxPercentage, s.Policy, pricing.QuoteOptions{BundlePrevalidated: true})
	if err != nil {
		return View{}, err
	}
	v := View{
		Cart:         c,
		Quote:        q,
		MinimumValue: s.MinimumCartValue,
		MeetsMinimum: q.Totals.Subtotal >= s.MinimumCartValue,
	}
	if !c.BundlePrevalidated && len(c.Items) > 0 {
		var missing *pricing.MissingServicesError
		if err := pricing.CheckRequiredServices(c.Items, s.Catalog.NameLookup(ctx, c.Items)); errors.As(err, &missing) {
			v.MissingServices = missing.Names()
		}
	}
	return v, nil
}

func (s *Service) update(ctx context.Context, id, userID string, fn func(c *Cart) error) (Cart, error) {
	if s == nil || s.Store == nil {
		return Cart{}, errors.New("cart service not configured")
	}
	var out Cart
	run := func(ctx context.Context) error {
		c, err := s.Get(ctx, id, userID)
		if err != nil {
			return err
		}
		hadCode := c.Discount.Applied()
		if err := fn(&c); err != nil {
			return err
		}
		if hadCode && c.Discount.Applied() {
			s.refreshDiscount(ctx, &c)
		}
		c.UpdatedAt = s.now()
		if err := s.Store.Save(ctx, c); err != nil {
			return err
		}
		out = c
		return nil
	}
	if s.Lock != nil {
		if err := s.Lock.WithLock(ctx, lock.CartKey(id), 5*time.Second, run); err != nil {
			return Cart{}, err
		}
		return out, nil
	}
	if err := run(ctx); err != nil {
		return Cart{}, err
	}
	return out, nil
}

// refreshDiscount re-prices an applied code after the cart changed. Falling
// under the minimum drops the code; other failures mark it rejected.
func (s *Service) refreshDiscount(ctx context.Context, c *Cart) {
	if s.Discounts == nil {
		return
	}
	code, identifier := c.Discount.Code, c.Discount.Identifier
	res, err := s.Discounts.Validate(ctx, code, identifier, c.Subtotal(s.Fees))
	switch {
	case err == nil:
		c.Discount.Amount = res.DiscountAmount
	case errors.Is(err, voucher.ErrBelowMinimum):
		c.Discount = c.Discount.Remove()
	case voucher.ErrorFor(err) != nil:
		c.Discount = DiscountSession{State: StateRejected, Code: code, Identifier: identifier, Error: reasonFor(err)}
	}
}

func reasonFor(err error) string {
	if err == nil {
		return ""
	}
	if appErr := voucher.ErrorFor(err); appErr != nil {
		return appErr.Code
	}
	return "INTERNAL"
}
