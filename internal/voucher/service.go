package voucher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/salon-labs/internal/obs"
)

// Querier captures the lookups the service needs; *Store satisfies it.
type Querier interface {
	GetByCode(ctx context.Context, code string) (Code, error)
}

// Redeemer is implemented by a transaction-bound *Store.
type Redeemer interface {
	Querier
	Redeem(ctx context.Context, code, identifier string) (Code, error)
}

// Validation is the outcome of a read-only check.
type Validation struct {
	Valid          bool   `json:"valid"`
	Code           string `json:"code"`
	DiscountAmount int64  `json:"discountAmount"`
	Error          string `json:"error,omitempty"`
}

// Service evaluates and redeems discount codes.
type Service struct {
	Q                Querier
	Now              func() time.Time
	MinimumCartValue int64
}

// Validate checks code for identifier against the pre-discount subtotal. It never mutates the code.
func (s *Service) Validate(ctx context.Context, code, identifier string, subtotal int64) (Validation, error) {
	if s == nil || s.Q == nil {
		return Validation{}, errors.New("discount service not configured")
	}
	trimmed := strings.TrimSpace(code)
	if trimmed == "" {
		observe(ErrNotFound)
		return Validation{}, ErrNotFound
	}
	stored, err := s.Q.GetByCode(ctx, trimmed)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			observe(ErrNotFound)
		}
		return Validation{}, err
	}
	discount, err := Check(&stored, identifier, subtotal, s.MinimumCartValue, s.now())
	observe(err)
	if err != nil {
		return Validation{}, err
	}
	return Validation{Valid: true, Code: stored.Code, DiscountAmount: discount}, nil
}

// Redeem records the use inside the caller's transaction. When the conditional
// update is rejected the fresh row is re-checked to report why.
func (s *Service) Redeem(ctx context.Context, q Redeemer, code, identifier string, subtotal int64) (int64, error) {
	if q == nil {
		return 0, errors.New("discount redeemer not configured")
	}
	if strings.TrimSpace(identifier) == "" {
		return 0, fmt.Errorf("%w: identifier is required to redeem", ErrAlreadyUsedByUser)
	}
	fresh, err := q.GetByCode(ctx, code)
	if err != nil {
		return 0, err
	}
	discount, err := Check(&fresh, identifier, subtotal, s.MinimumCartValue, s.now())
	if err != nil {
		return 0, err
	}
	if _, err := q.Redeem(ctx, code, identifier); err != nil {
		if !errors.Is(err, ErrRedeemRejected) {
			return 0, err
		}
		latest, getErr := q.GetByCode(ctx, code)
		if getErr != nil {
			return 0, getErr
		}
		if _, checkErr := Check(&latest, identifier, subtotal, s.MinimumCartValue, s.now()); checkErr != nil {
			return 0, checkErr
		}
		return 0, ErrExhaustedPool
	}
	return discount, nil
}

// NewCode prepares a code for insertion.
func NewCode(code string, typ Type, value float64, maxUses *int32, firstTimeOnly bool, expiresAt *time.Time) (Code, error) {
	code = NormalizeCode(code)
	if code == "" {
		return Code{}, errors.New("code is required")
	}
	switch typ {
	case TypePercentage:
		if value <= 0 || value > 100 {
			return Code{}, errors.New("percentage must be between 0 and 100")
		}
	case TypeFixed:
		if value <= 0 {
			return Code{}, errors.New("fixed discount must be positive")
		}
	default:
		return Code{}, fmt.Errorf("unknown discount type %q", typ)
	}
	if maxUses != nil && *maxUses <= 0 {
		return Code{}, errors.New("maxUses must be positive when set")
	}
	return Code{
		ID:              uuid.NewString(),
		Code:            code,
		Type:            typ,
		Value:           value,
		MaxUses:         maxUses,
		UsedBy:          []string{},
		IsFirstTimeOnly: firstTimeOnly,
		IsActive:        true,
		ExpiresAt:       expiresAt,
	}, nil
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func observe(err error) {
	obs.Inc(obs.DiscountValidationsTotal, ResultLabel(err))
}

// ResultLabel maps a validation error to a stable metric label.
func ResultLabel(err error) string {
	switch {
	case err == nil:
		return "valid"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInactive):
		return "inactive"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrAlreadyUsedByUser):
		return "already_used"
	case errors.Is(err, ErrExhaustedPool):
		return "exhausted"
	case errors.Is(err, ErrBelowMinimum):
		return "below_minimum"
	default:
		return "error"
	}
}
