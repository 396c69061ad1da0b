package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/salon-labs/internal/db"
	"github.com/noah-isme/salon-labs/internal/pricing"
)

// ErrNotFound is returned for unknown offerings or bundles.
var ErrNotFound = errors.New("catalog entry not found")

const offeringColumns = `id, slug, name, description, price, discount_percent, discount_amount,
	billing_period, setup_fee, required_services, active`

// Store reads the Labs catalog from postgres.
type Store struct {
	db db.DBTX
}

// NewStore wraps a pool or transaction.
func NewStore(d db.DBTX) *Store { return &Store{db: d} }

func scanOffering(row pgx.Row) (Offering, error) {
	var (
		o       Offering
		billing string
	)
	if err := row.Scan(&o.ID, &o.Slug, &o.Name, &o.Description, &o.Price, &o.DiscountPercent, &o.DiscountAmount,
		&billing, &o.SetupFee, &o.RequiredServices, &o.Active); err != nil {
		return Offering{}, err
	}
	o.Billing = pricing.BillingPeriod(billing)
	if o.RequiredServices == nil {
		o.RequiredServices = []string{}
	}
	return o, nil
}

func collectOfferings(rows pgx.Rows) ([]Offering, error) {
	defer rows.Close()
	out := []Offering{}
	for rows.Next() {
		o, err := scanOffering(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// ListOfferings returns the active catalog ordered by name.
func (s *Store) ListOfferings(ctx context.Context) ([]Offering, error) {
	rows, err := s.db.Query(ctx, `SELECT `+offeringColumns+` FROM labs_services WHERE active ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list offerings: %w", err)
	}
	return collectOfferings(rows)
}

// GetOfferings loads the offerings with the given ids, active or not.
func (s *Store) GetOfferings(ctx context.Context, ids []string) ([]Offering, error) {
	if len(ids) == 0 {
		return []Offering{}, nil
	}
	rows, err := s.db.Query(ctx, `SELECT `+offeringColumns+` FROM labs_services WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("get offerings: %w", err)
	}
	return collectOfferings(rows)
}

// ListBundles returns every bundle without its expanded offerings.
func (s *Store) ListBundles(ctx context.Context) ([]Bundle, error) {
	rows, err := s.db.Query(ctx, `SELECT id, slug, name, service_ids FROM labs_bundles ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list bundles: %w", err)
	}
	defer rows.Close()
	out := []Bundle{}
	for rows.Next() {
		var b Bundle
		if err := rows.Scan(&b.ID, &b.Slug, &b.Name, &b.ServiceIDs); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// GetBundle loads one bundle by slug.
func (s *Store) GetBundle(ctx context.Context, slug string) (Bundle, error) {
	var b Bundle
	err := s.db.QueryRow(ctx, `SELECT id, slug, name, service_ids FROM labs_bundles WHERE slug = $1`, slug).
		Scan(&b.ID, &b.Slug, &b.Name, &b.ServiceIDs)
	if errors.Is(err, pgx.ErrNoRows) {
		return Bundle{}, ErrNotFound
	}
	if err != nil {
		return Bundle{}, fmt.Errorf("get bundle: %w", err)
	}
	return b, nil
}
