package ledger

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Money is expressed in whole KES.
type Money = int64

// MaxAdditionalServices caps the number of add-ons a booking may carry.
const MaxAdditionalServices = 2

// Kind distinguishes scheduled bookings from walk-ins.
type Kind string

const (
	KindRegular Kind = "regular"
	KindWalkIn  Kind = "walk_in"
)

// Status is the booking lifecycle state.
type Status string

const (
	StatusConfirmed Status = "confirmed"
	StatusPaid      Status = "paid"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Open reports whether the booking can still be mutated.
func (s Status) Open() bool {
	return s == StatusConfirmed || s == StatusPaid
}

// RefundStatus is an audit field stamped at cancellation. It never triggers a transfer.
type RefundStatus string

const (
	RefundNotRequired   RefundStatus = "not_required"
	RefundNotApplicable RefundStatus = "not_applicable"
	RefundPending       RefundStatus = "pending"
	RefundRefunded      RefundStatus = "refunded"
	RefundRetained      RefundStatus = "retained"
)

// AdditionalService is an add-on appended to a booking after creation.
type AdditionalService struct {
	Name    string    `json:"name"`
	Price   Money     `json:"price"`
	AddedAt time.Time `json:"addedAt"`
}

// Fine is the single penalty a booking may carry.
type Fine struct {
	Amount  Money     `json:"amount"`
	Reason  string    `json:"reason"`
	AddedAt time.Time `json:"addedAt"`
}

// RescheduleEntry records one move of the appointment.
type RescheduleEntry struct {
	FromDate      string    `json:"fromDate"`
	FromTimeSlot  string    `json:"fromTimeSlot"`
	ToDate        string    `json:"toDate"`
	ToTimeSlot    string    `json:"toTimeSlot"`
	RescheduledAt time.Time `json:"rescheduledAt"`
	RescheduledBy string    `json:"rescheduledBy,omitempty"`
	Notes         string    `json:"notes,omitempty"`
}

// Payment is one entry of the payment history.
type Payment struct {
	Amount     Money     `json:"amount"`
	Method     string    `json:"method"`
	RecordedAt time.Time `json:"recordedAt"`
}

// Booking is the ledger record for a single appointment.
type Booking struct {
	ID          string `json:"id"`
	ClientName  string `json:"clientName"`
	ClientEmail string `json:"clientEmail,omitempty"`
	ClientPhone string `json:"clientPhone,omitempty"`
	ServiceName string `json:"serviceName"`
	Kind        Kind   `json:"kind"`

	Date          string    `json:"date"`
	TimeSlot      string    `json:"timeSlot"`
	AppointmentAt time.Time `json:"appointmentAt"`

	OriginalPrice      Money               `json:"originalPrice"`
	DiscountPercent    float64             `json:"discount,omitempty"`
	FinalPrice         Money               `json:"finalPrice"`
	Deposit            Money               `json:"deposit"`
	WalkInFee          Money               `json:"walkInFee,omitempty"`
	AdditionalServices []AdditionalService `json:"additionalServices"`
	Fine               *Fine               `json:"fine,omitempty"`

	Status       Status       `json:"status"`
	RefundStatus RefundStatus `json:"refundStatus,omitempty"`
	PaidInFullAt *time.Time   `json:"paidInFullAt,omitempty"`

	CancelledAt        *time.Time `json:"cancelledAt,omitempty"`
	CancelledBy        string     `json:"cancelledBy,omitempty"`
	CancellationReason string     `json:"cancellationReason,omitempty"`
	CompletedAt        *time.Time `json:"completedAt,omitempty"`

	RescheduleHistory []RescheduleEntry `json:"rescheduleHistory"`
	RescheduledAt     *time.Time        `json:"rescheduledAt,omitempty"`
	RescheduledBy     string            `json:"rescheduledBy,omitempty"`

	PaymentHistory []Payment `json:"paymentHistory"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// WalkIn reports whether the booking is a walk-in.
func (b Booking) WalkIn() bool { return b.Kind == KindWalkIn }

// Validate rejects records whose fields contradict each other.
func (b Booking) Validate() error {
	switch b.Kind {
	case KindRegular:
		if b.WalkInFee != 0 {
			return fmt.Errorf("%w: walk-in fee on a regular booking", ErrInvalidInput)
		}
	case KindWalkIn:
	default:
		return fmt.Errorf("%w: unknown booking kind %q", ErrInvalidInput, b.Kind)
	}
	if b.OriginalPrice < 0 || b.Deposit < 0 || b.WalkInFee < 0 {
		return fmt.Errorf("%w: negative amount", ErrInvalidAmount)
	}
	if b.DiscountPercent < 0 || b.DiscountPercent > 100 {
		return fmt.Errorf("%w: discount must be between 0 and 100", ErrInvalidInput)
	}
	if len(b.AdditionalServices) > MaxAdditionalServices {
		return ErrLimitExceeded
	}
	return nil
}

// clone returns a deep copy so operations never touch their input.
func (b Booking) clone() Booking {
	out := b
	out.AdditionalServices = append([]AdditionalService(nil), b.AdditionalServices...)
	out.RescheduleHistory = append([]RescheduleEntry(nil), b.RescheduleHistory...)
	out.PaymentHistory = append([]Payment(nil), b.PaymentHistory...)
	if b.Fine != nil {
		f := *b.Fine
		out.Fine = &f
	}
	out.PaidInFullAt = copyTime(b.PaidInFullAt)
	out.CancelledAt = copyTime(b.CancelledAt)
	out.CompletedAt = copyTime(b.CompletedAt)
	out.RescheduledAt = copyTime(b.RescheduledAt)
	return out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// DiscountAmount is the absolute value of the percentage discount on the base price.
func DiscountAmount(b Booking) Money {
	if b.DiscountPercent <= 0 {
		return 0
	}
	return Money(math.Round(float64(b.OriginalPrice) * b.DiscountPercent / 100))
}

// ComputeFinalPrice derives the payable price from its components.
func ComputeFinalPrice(b Booking) Money {
	total := b.OriginalPrice - DiscountAmount(b)
	for _, svc := range b.AdditionalServices {
		total += svc.Price
	}
	if b.Fine != nil {
		total += b.Fine.Amount
	}
	if b.Kind == KindWalkIn {
		total += b.WalkInFee
	}
	if total < 0 {
		return 0
	}
	return total
}

// AppointmentTime parses a YYYY-MM-DD date and HH:MM slot in loc.
func AppointmentTime(date, slot string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	at, err := time.ParseInLocation("2006-01-02 15:04", strings.TrimSpace(date)+" "+strings.TrimSpace(slot), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidSlot, err)
	}
	return at, nil
}
