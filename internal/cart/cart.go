package cart

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/noah-isme/salon-labs/internal/pricing"
)

var (
	// ErrNotFound indicates the requested cart could not be located.
	ErrNotFound = errors.New("cart not found")
	// ErrInvalidInput is returned when the provided payload is invalid.
	ErrInvalidInput = errors.New("invalid input")
	// ErrCodeAlreadyApplied is returned when a second code is applied without removing the first.
	ErrCodeAlreadyApplied = errors.New("a discount code is already applied")
	// ErrValidationInFlight is returned when a code is applied while another is still being checked.
	ErrValidationInFlight = errors.New("a discount code is already being validated")
	// ErrEmpty is returned when pricing or checking out a cart without items.
	ErrEmpty = errors.New("cart is empty")
)

// DiscountState is the lifecycle of the code entered on a cart.
type DiscountState string

const (
	StateNoCode     DiscountState = "no_code"
	StateValidating DiscountState = "validating"
	StateApplied    DiscountState = "applied"
	StateRejected   DiscountState = "rejected"
)

// DiscountSession tracks the single code a cart may carry.
type DiscountSession struct {
	State      DiscountState `json:"state"`
	Code       string        `json:"code,omitempty"`
	Identifier string        `json:"identifier,omitempty"`
	Amount     int64         `json:"amount"`
	Error      string        `json:"error,omitempty"`
}

// Begin moves to validating for code. Only one code may be applied at a time;
// a rejected code can be replaced.
func (d DiscountSession) Begin(code, identifier string) (DiscountSession, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return d, fmt.Errorf("%w: code is required", ErrInvalidInput)
	}
	switch d.state() {
	case StateApplied:
		return d, ErrCodeAlreadyApplied
	case StateValidating:
		return d, ErrValidationInFlight
	}
	return DiscountSession{State: StateValidating, Code: code, Identifier: strings.TrimSpace(identifier)}, nil
}

// Resolve records the validation outcome. reason is the stable error code shown to the customer.
func (d DiscountSession) Resolve(amount int64, reason string, err error) DiscountSession {
	if d.state() != StateValidating {
		return d
	}
	if err != nil {
		return DiscountSession{State: StateRejected, Code: d.Code, Identifier: d.Identifier, Error: reason}
	}
	return DiscountSession{State: StateApplied, Code: d.Code, Identifier: d.Identifier, Amount: amount}
}

// Remove clears any code.
func (d DiscountSession) Remove() DiscountSession {
	return DiscountSession{State: StateNoCode}
}

// Applied reports whether a validated code discounts the cart.
func (d DiscountSession) Applied() bool { return d.state() == StateApplied }

func (d DiscountSession) state() DiscountState {
	if d.State == "" {
		return StateNoCode
	}
	return d.State
}

// FeeConfig prices the optional cart-level fees.
type FeeConfig struct {
	PriorityFee        int64
	NewDomainSetupFee  int64
	NewDomainAnnualFee int64
}

// Cart is a Labs shopping cart.
type Cart struct {
	ID                 string             `json:"id"`
	UserID             string             `json:"userId,omitempty"`
	Items              []pricing.LineItem `json:"items"`
	Priority           bool               `json:"priority"`
	NewDomain          bool               `json:"newDomain"`
	Discount           DiscountSession    `json:"discount"`
	BundlePrevalidated bool               `json:"bundlePrevalidated"`
	CreatedAt          time.Time          `json:"createdAt"`
	UpdatedAt          time.Time          `json:"updatedAt"`
}

// Fees returns the cart-level fees selected by the customer.
func (c Cart) Fees(cfg FeeConfig) []pricing.Fee {
	var fees []pricing.Fee
	if c.Priority {
		fees = append(fees, pricing.PriorityFee(cfg.PriorityFee))
	}
	if c.NewDomain {
		fees = append(fees, pricing.NewDomainFee(cfg.NewDomainSetupFee, cfg.NewDomainAnnualFee))
	}
	return fees
}

// Subtotal is the pre-discount amount codes are validated against.
func (c Cart) Subtotal(cfg FeeConfig) int64 {
	return pricing.Subtotal(c.Items, c.Fees(cfg))
}

func (c Cart) indexOf(serviceID string) int {
	for i, it := range c.Items {
		if it.ServiceID == serviceID {
			return i
		}
	}
	return -1
}

// OwnedBy reports whether userID may act on the cart. Anonymous carts are open to anyone holding the id.
func (c Cart) OwnedBy(userID string) bool {
	return c.UserID == "" || c.UserID == userID
}
