package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/salon-labs/internal/db"
	"github.com/noah-isme/salon-labs/internal/ledger"
)

// ErrNotFound is returned when no booking matches the id.
var ErrNotFound = errors.New("booking not found")

const bookingColumns = `id, client_name, client_email, client_phone, service_name, kind,
	appointment_date, time_slot, appointment_at,
	original_price, discount_percent, final_price, deposit, walk_in_fee, additional_services, fine,
	status, refund_status, paid_in_full_at,
	cancelled_at, cancelled_by, cancellation_reason, completed_at,
	reschedule_history, rescheduled_at, rescheduled_by, payment_history,
	created_at, updated_at`

// Store persists bookings. The JSON-shaped parts of the ledger live in jsonb columns.
type Store struct {
	db db.DBTX
}

// NewStore wraps a pool or transaction.
func NewStore(d db.DBTX) *Store { return &Store{db: d} }

func scanBooking(row pgx.Row, extra ...any) (ledger.Booking, error) {
	var (
		b                          ledger.Booking
		kind, status, refund       string
		services, fine, resched, p []byte
	)
	dest := []any{
		&b.ID, &b.ClientName, &b.ClientEmail, &b.ClientPhone, &b.ServiceName, &kind,
		&b.Date, &b.TimeSlot, &b.AppointmentAt,
		&b.OriginalPrice, &b.DiscountPercent, &b.FinalPrice, &b.Deposit, &b.WalkInFee, &services, &fine,
		&status, &refund, &b.PaidInFullAt,
		&b.CancelledAt, &b.CancelledBy, &b.CancellationReason, &b.CompletedAt,
		&resched, &b.RescheduledAt, &b.RescheduledBy, &p,
		&b.CreatedAt, &b.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return ledger.Booking{}, err
	}
	b.Kind = ledger.Kind(kind)
	b.Status = ledger.Status(status)
	b.RefundStatus = ledger.RefundStatus(refund)
	if err := decodeList(services, &b.AdditionalServices); err != nil {
		return ledger.Booking{}, fmt.Errorf("decode additional_services: %w", err)
	}
	if err := decodeList(resched, &b.RescheduleHistory); err != nil {
		return ledger.Booking{}, fmt.Errorf("decode reschedule_history: %w", err)
	}
	if err := decodeList(p, &b.PaymentHistory); err != nil {
		return ledger.Booking{}, fmt.Errorf("decode payment_history: %w", err)
	}
	if len(fine) > 0 && string(fine) != "null" {
		var f ledger.Fine
		if err := json.Unmarshal(fine, &f); err != nil {
			return ledger.Booking{}, fmt.Errorf("decode fine: %w", err)
		}
		b.Fine = &f
	}
	if b.AdditionalServices == nil {
		b.AdditionalServices = []ledger.AdditionalService{}
	}
	if b.RescheduleHistory == nil {
		b.RescheduleHistory = []ledger.RescheduleEntry{}
	}
	if b.PaymentHistory == nil {
		b.PaymentHistory = []ledger.Payment{}
	}
	return b, nil
}

func decodeList[T any](raw []byte, dst *[]T) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func encodeJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("null")
	}
	return b
}

func mutableArgs(b ledger.Booking) []any {
	var fine []byte
	if b.Fine != nil {
		fine = encodeJSON(b.Fine)
	}
	return []any{
		b.Date, b.TimeSlot, b.AppointmentAt,
		b.OriginalPrice, b.DiscountPercent, b.FinalPrice, b.Deposit, b.WalkInFee,
		encodeJSON(b.AdditionalServices), fine,
		string(b.Status), string(b.RefundStatus), b.PaidInFullAt,
		b.CancelledAt, b.CancelledBy, b.CancellationReason, b.CompletedAt,
		encodeJSON(b.RescheduleHistory), b.RescheduledAt, b.RescheduledBy, encodeJSON(b.PaymentHistory),
		b.UpdatedAt,
	}
}

// Create inserts a new booking.
func (s *Store) Create(ctx context.Context, b ledger.Booking) error {
	args := append([]any{b.ID, b.ClientName, b.ClientEmail, b.ClientPhone, b.ServiceName, string(b.Kind)}, mutableArgs(b)...)
	args = append(args, b.CreatedAt)
	_, err := s.db.Exec(ctx, `INSERT INTO bookings (id, client_name, client_email, client_phone, service_name, kind,
	appointment_date, time_slot, appointment_at,
	original_price, discount_percent, final_price, deposit, walk_in_fee, additional_services, fine,
	status, refund_status, paid_in_full_at,
	cancelled_at, cancelled_by, cancellation_reason, completed_at,
	reschedule_history, rescheduled_at, rescheduled_by, payment_history,
	updated_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
	$21, $22, $23, $24, $25, $26, $27, $28, $29)`, args...)
	if err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

// Get returns the booking without locking it.
func (s *Store) Get(ctx context.Context, id string) (ledger.Booking, error) {
	return s.get(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
}

// GetForUpdate reads and row-locks the booking. The store must be bound to a transaction.
func (s *Store) GetForUpdate(ctx context.Context, id string) (ledger.Booking, error) {
	return s.get(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1 FOR UPDATE`, id)
}

func (s *Store) get(ctx context.Context, query, id string) (ledger.Booking, error) {
	b, err := scanBooking(s.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Booking{}, ErrNotFound
	}
	if err != nil {
		return ledger.Booking{}, fmt.Errorf("get booking: %w", err)
	}
	return b, nil
}

// Update writes every mutable column of b.
func (s *Store) Update(ctx context.Context, b ledger.Booking) error {
	args := append(mutableArgs(b), b.ID)
	tag, err := s.db.Exec(ctx, `UPDATE bookings SET
	appointment_date = $1, time_slot = $2, appointment_at = $3,
	original_price = $4, discount_percent = $5, final_price = $6, deposit = $7, walk_in_fee = $8,
	additional_services = $9, fine = $10,
	status = $11, refund_status = $12, paid_in_full_at = $13,
	cancelled_at = $14, cancelled_by = $15, cancellation_reason = $16, completed_at = $17,
	reschedule_history = $18, rescheduled_at = $19, rescheduled_by = $20, payment_history = $21,
	updated_at = $22
WHERE id = $23`, args...)
	if err != nil {
		return fmt.Errorf("update booking: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByDate returns one page of bookings on date ordered by time, with the total count.
func (s *Store) ListByDate(ctx context.Context, date string, limit, offset int) ([]ledger.Booking, int, error) {
	rows, err := s.db.Query(ctx, `SELECT `+bookingColumns+`, count(*) OVER ()
FROM bookings WHERE appointment_date = $1 ORDER BY appointment_at, created_at LIMIT $2 OFFSET $3`, date, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list bookings: %w", err)
	}
	defer rows.Close()
	out := []ledger.Booking{}
	total := 0
	for rows.Next() {
		var count int64
		b, err := scanBooking(rows, &count)
		if err != nil {
			return nil, 0, err
		}
		total = int(count)
		out = append(out, b)
	}
	return out, total, rows.Err()
}

// BookedSlots lists the time slots already held by open bookings on date.
func (s *Store) BookedSlots(ctx context.Context, date string) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT time_slot FROM bookings
WHERE appointment_date = $1 AND status IN ('confirmed', 'paid') ORDER BY time_slot`, date)
	if err != nil {
		return nil, fmt.Errorf("list booked slots: %w", err)
	}
	defer rows.Close()
	slots := []string{}
	for rows.Next() {
		var slot string
		if err := rows.Scan(&slot); err != nil {
			return nil, err
		}
		slots = append(slots, slot)
	}
	return slots, rows.Err()
}
