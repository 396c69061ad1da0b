package voucher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/salon-labs/internal/db"
)

// ErrRedeemRejected is returned when the conditional redeem update matched no row.
var ErrRedeemRejected = errors.New("discount code redeem rejected")

const codeColumns = `id, code, discount_type, discount_value, max_uses, used_count, used_by,
	is_first_time_only, is_active, expires_at, created_at, updated_at`

// Store persists discount codes in postgres.
type Store struct {
	db db.DBTX
}

// NewStore wraps a pool or transaction.
func NewStore(d db.DBTX) *Store { return &Store{db: d} }

func scanCode(row pgx.Row) (Code, error) {
	var (
		c       Code
		typ     string
		usedBy  []string
		maxUses *int32
		expires *time.Time
	)
	if err := row.Scan(&c.ID, &c.Code, &typ, &c.Value, &maxUses, &c.UsedCount, &usedBy,
		&c.IsFirstTimeOnly, &c.IsActive, &expires, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return Code{}, err
	}
	c.Type = Type(typ)
	c.UsedBy = usedBy
	if c.UsedBy == nil {
		c.UsedBy = []string{}
	}
	if maxUses != nil && *maxUses < LegacyUnlimitedSentinel {
		v := *maxUses
		c.MaxUses = &v
	}
	c.ExpiresAt = expires
	return c, nil
}

// GetByCode looks a code up ignoring case.
func (s *Store) GetByCode(ctx context.Context, code string) (Code, error) {
	row := s.db.QueryRow(ctx, `SELECT `+codeColumns+` FROM discount_codes WHERE upper(code) = $1`, NormalizeCode(code))
	c, err := scanCode(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Code{}, ErrNotFound
	}
	if err != nil {
		return Code{}, fmt.Errorf("get discount code: %w", err)
	}
	return c, nil
}

// List returns every code, newest first.
func (s *Store) List(ctx context.Context) ([]Code, error) {
	rows, err := s.db.Query(ctx, `SELECT `+codeColumns+` FROM discount_codes ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list discount codes: %w", err)
	}
	defer rows.Close()
	out := []Code{}
	for rows.Next() {
		c, err := scanCode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Create inserts c and returns the stored row.
func (s *Store) Create(ctx context.Context, c Code) (Code, error) {
	row := s.db.QueryRow(ctx, `INSERT INTO discount_codes
		(id, code, discount_type, discount_value, max_uses, is_first_time_only, is_active, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+codeColumns,
		c.ID, NormalizeCode(c.Code), string(c.Type), c.Value, c.MaxUses, c.IsFirstTimeOnly, c.IsActive, c.ExpiresAt)
	out, err := scanCode(row)
	if err != nil {
		return Code{}, fmt.Errorf("create discount code: %w", err)
	}
	return out, nil
}

// Update overwrites the editable fields of the code matching c.Code.
func (s *Store) Update(ctx context.Context, c Code) (Code, error) {
	row := s.db.QueryRow(ctx, `UPDATE discount_codes SET
		discount_type = $2, discount_value = $3, max_uses = $4, is_first_time_only = $5,
		is_active = $6, expires_at = $7, updated_at = now()
		WHERE upper(code) = $1
		RETURNING `+codeColumns,
		NormalizeCode(c.Code), string(c.Type), c.Value, c.MaxUses, c.IsFirstTimeOnly, c.IsActive, c.ExpiresAt)
	out, err := scanCode(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Code{}, ErrNotFound
	}
	if err != nil {
		return Code{}, fmt.Errorf("update discount code: %w", err)
	}
	return out, nil
}

// Redeem atomically records one use by identifier. The WHERE clause re-checks
// the per-user and pool limits so concurrent checkouts cannot overshoot.
func (s *Store) Redeem(ctx context.Context, code, identifier string) (Code, error) {
	row := s.db.QueryRow(ctx, `UPDATE discount_codes SET
		used_count = used_count + 1,
		used_by = array_append(used_by, $2),
		updated_at = now()
		WHERE upper(code) = $1
		  AND is_active
		  AND (expires_at IS NULL OR expires_at > now())
		  AND NOT ($2 = ANY(used_by))
		  AND (is_first_time_only OR max_uses IS NULL OR max_uses >= $3 OR used_count < max_uses)
		RETURNING `+codeColumns,
		NormalizeCode(code), NormalizeIdentifier(identifier), int32(LegacyUnlimitedSentinel))
	out, err := scanCode(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Code{}, ErrRedeemRejected
	}
	if err != nil {
		return Code{}, fmt.Errorf("redeem discount code: %w", err)
	}
	return out, nil
}
