package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/salon-labs/internal/db"
)

// Payment is one charge attempt against an order.
type Payment struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"orderId"`
	Provider  string    `json:"provider"`
	Reference string    `json:"reference"`
	Amount    int64     `json:"amount"`
	Status    Status    `json:"status"`
	PayerRef  string    `json:"payerRef"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

const paymentColumns = `id, order_id, provider, reference, amount, status, payer_ref, created_at, updated_at`

// Store persists payment attempts.
type Store struct {
	db db.DBTX
}

// NewStore wraps a pool or transaction.
func NewStore(d db.DBTX) *Store { return &Store{db: d} }

// Create inserts a payment attempt.
func (s *Store) Create(ctx context.Context, p Payment) error {
	_, err := s.db.Exec(ctx, `INSERT INTO payments (`+paymentColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.OrderID, p.Provider, p.Reference, p.Amount, string(p.Status), p.PayerRef, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return fmt.Errorf("payment reference %s already recorded: %w", p.Reference, err)
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

// GetByReference returns the attempt for a gateway reference.
func (s *Store) GetByReference(ctx context.Context, reference string) (Payment, error) {
	return s.get(ctx, `SELECT `+paymentColumns+` FROM payments WHERE reference = $1`, reference)
}

// GetByReferenceForUpdate row-locks the attempt. The store must be bound to a transaction.
func (s *Store) GetByReferenceForUpdate(ctx context.Context, reference string) (Payment, error) {
	return s.get(ctx, `SELECT `+paymentColumns+` FROM payments WHERE reference = $1 FOR UPDATE`, reference)
}

// ListByOrder returns an order's attempts, oldest first.
func (s *Store) ListByOrder(ctx context.Context, orderID string) ([]Payment, error) {
	rows, err := s.db.Query(ctx, `SELECT `+paymentColumns+` FROM payments WHERE order_id = $1 ORDER BY created_at`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()
	out := []Payment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateStatus records the verified outcome.
func (s *Store) UpdateStatus(ctx context.Context, id string, status Status, at time.Time) error {
	tag, err := s.db.Exec(ctx, `UPDATE payments SET status = $2, updated_at = $3 WHERE id = $1`, id, string(status), at)
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) get(ctx context.Context, query, reference string) (Payment, error) {
	p, err := scanPayment(s.db.QueryRow(ctx, query, reference))
	if errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, ErrNotFound
	}
	if err != nil {
		return Payment{}, fmt.Errorf("get payment: %w", err)
	}
	return p, nil
}

func scanPayment(row pgx.Row) (Payment, error) {
	var (
		p      Payment
		status string
	)
	if err := row.Scan(&p.ID, &p.OrderID, &p.Provider, &p.Reference, &p.Amount, &status, &p.PayerRef, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return Payment{}, err
	}
	p.Status = Status(status)
	return p, nil
}
