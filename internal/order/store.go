package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/salon-labs/internal/db"
)

const orderColumns = `id, user_id, cart_id, status, currency, customer_name, customer_email, customer_phone,
	items, fees, discount_code, subtotal, discount, tax_amount, total, initial_payment, remaining_payment,
	amount_paid, requires_review, created_at, updated_at`

// Store persists orders.
type Store struct {
	db db.DBTX
}

// NewStore wraps a pool or transaction.
func NewStore(d db.DBTX) *Store { return &Store{db: d} }

func scanOrder(row pgx.Row, extra ...any) (Order, error) {
	var (
		o           Order
		status      string
		items, fees []byte
	)
	dest := []any{&o.ID, &o.UserID, &o.CartID, &status, &o.Currency, &o.Customer.Name, &o.Customer.Email, &o.Customer.Phone,
		&items, &fees, &o.DiscountCode, &o.Totals.Subtotal, &o.Totals.Discount, &o.Totals.TaxAmount, &o.Totals.Total,
		&o.Totals.InitialPayment, &o.Totals.RemainingPayment, &o.AmountPaid, &o.RequiresReview, &o.CreatedAt, &o.UpdatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return Order{}, err
	}
	o.Status = Status(status)
	if len(items) > 0 {
		if err := json.Unmarshal(items, &o.Items); err != nil {
			return Order{}, fmt.Errorf("decode order items: %w", err)
		}
	}
	if len(fees) > 0 {
		if err := json.Unmarshal(fees, &o.Fees); err != nil {
			return Order{}, fmt.Errorf("decode order fees: %w", err)
		}
	}
	if o.Items == nil {
		o.Items = []Item{}
	}
	return o, nil
}

// Create inserts the order.
func (s *Store) Create(ctx context.Context, o Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("encode order items: %w", err)
	}
	fees, err := json.Marshal(o.Fees)
	if err != nil {
		return fmt.Errorf("encode order fees: %w", err)
	}
	_, err = s.db.Exec(ctx, `INSERT INTO orders (`+orderColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
		o.ID, o.UserID, o.CartID, string(o.Status), o.Currency, o.Customer.Name, o.Customer.Email, o.Customer.Phone,
		items, fees, o.DiscountCode, o.Totals.Subtotal, o.Totals.Discount, o.Totals.TaxAmount, o.Totals.Total,
		o.Totals.InitialPayment, o.Totals.RemainingPayment, o.AmountPaid, o.RequiresReview, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// Get returns one order.
func (s *Store) Get(ctx context.Context, id string) (Order, error) {
	return s.get(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

// GetForUpdate row-locks the order. The store must be bound to a transaction.
func (s *Store) GetForUpdate(ctx context.Context, id string) (Order, error) {
	return s.get(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
}

func (s *Store) get(ctx context.Context, query, id string) (Order, error) {
	o, err := scanOrder(s.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

// ListByUser pages through a customer's orders, newest first.
func (s *Store) ListByUser(ctx context.Context, userID string, limit, offset int) ([]Order, int, error) {
	rows, err := s.db.Query(ctx, `SELECT `+orderColumns+`, count(*) OVER ()
FROM orders WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()
	out := []Order{}
	total := 0
	for rows.Next() {
		var count int64
		o, err := scanOrder(rows, &count)
		if err != nil {
			return nil, 0, err
		}
		total = int(count)
		out = append(out, o)
	}
	return out, total, rows.Err()
}

// SavePayment persists the paid amount and status computed by ApplyPayment.
func (s *Store) SavePayment(ctx context.Context, o Order) error {
	tag, err := s.db.Exec(ctx, `UPDATE orders SET amount_paid = $2, status = $3, updated_at = $4 WHERE id = $1`,
		o.ID, o.AmountPaid, string(o.Status), o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update order payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
