package voucher

import (
	"errors"
	"math"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when no stored code matches, ignoring case.
	ErrNotFound = errors.New("discount code not found")
	// ErrInactive is returned for codes switched off by an admin.
	ErrInactive = errors.New("discount code inactive")
	// ErrExpired is returned once expires_at has passed.
	ErrExpired = errors.New("discount code expired")
	// ErrAlreadyUsedByUser is returned when the identifier already redeemed the code.
	ErrAlreadyUsedByUser = errors.New("discount code already used")
	// ErrExhaustedPool is returned when a shared code has no uses left.
	ErrExhaustedPool = errors.New("discount code usage limit reached")
	// ErrBelowMinimum is returned when the pre-discount subtotal is under the minimum cart value.
	ErrBelowMinimum = errors.New("cart subtotal below minimum")
)

// Type is how a code's value is interpreted.
type Type string

const (
	TypePercentage Type = "percentage"
	TypeFixed      Type = "fixed"
)

// LegacyUnlimitedSentinel is the max-uses value older rows used to mean unlimited.
const LegacyUnlimitedSentinel = 999999

// Code is a stored discount code. MaxUses nil means the pool is unbounded.
type Code struct {
	ID              string     `json:"id"`
	Code            string     `json:"code"`
	Type            Type       `json:"discountType"`
	Value           float64    `json:"discountValue"`
	MaxUses         *int32     `json:"maxUses"`
	UsedCount       int32      `json:"usedCount"`
	UsedBy          []string   `json:"usedBy"`
	IsFirstTimeOnly bool       `json:"isFirstTimeOnly"`
	IsActive        bool       `json:"isActive"`
	ExpiresAt       *time.Time `json:"expiresAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// UsedByUser reports whether identifier already redeemed the code.
func (c Code) UsedByUser(identifier string) bool {
	id := NormalizeIdentifier(identifier)
	if id == "" {
		return false
	}
	for _, u := range c.UsedBy {
		if NormalizeIdentifier(u) == id {
			return true
		}
	}
	return false
}

// Exhausted reports whether a shared pool has no uses left. First-time codes never exhaust.
func (c Code) Exhausted() bool {
	if c.IsFirstTimeOnly || c.MaxUses == nil {
		return false
	}
	return c.UsedCount >= *c.MaxUses
}

// NormalizeIdentifier canonicalises emails and phone-style identifiers for comparison.
func NormalizeIdentifier(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

// NormalizeCode canonicalises a code for case-insensitive matching.
func NormalizeCode(v string) string {
	return strings.ToUpper(strings.TrimSpace(v))
}

// Check evaluates code for identifier against a pre-discount subtotal, in the
// order shoppers see the errors, and returns the discount it would grant.
func Check(c *Code, identifier string, subtotal, minimum int64, now time.Time) (int64, error) {
	if c == nil {
		return 0, ErrNotFound
	}
	if !c.IsActive {
		return 0, ErrInactive
	}
	if c.ExpiresAt != nil && now.After(*c.ExpiresAt) {
		return 0, ErrExpired
	}
	if c.UsedByUser(identifier) {
		return 0, ErrAlreadyUsedByUser
	}
	if c.Exhausted() {
		return 0, ErrExhaustedPool
	}
	if subtotal < minimum {
		return 0, ErrBelowMinimum
	}
	return Compute(subtotal, *c), nil
}

// Compute determines the discount amount for subtotal, capped at the subtotal.
func Compute(subtotal int64, c Code) int64 {
	if subtotal <= 0 || c.Value <= 0 {
		return 0
	}
	var discount int64
	switch c.Type {
	case TypePercentage:
		discount = int64(math.Round(float64(subtotal) * c.Value / 100))
	default:
		discount = int64(math.Round(c.Value))
	}
	if discount > subtotal {
		discount = subtotal
	}
	if discount < 0 {
		return 0
	}
	return discount
}
