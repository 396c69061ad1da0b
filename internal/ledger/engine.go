package ledger

import (
	"fmt"
	"strings"
	"time"
)

// Directive asks the caller to perform a side effect after persisting the result.
type Directive string

const (
	DirectiveAftercare          Directive = "send_aftercare"
	DirectiveCancellationNotice Directive = "send_cancellation_notice"
	DirectiveRescheduleNotice   Directive = "send_reschedule_notice"
)

// Result is the updated booking plus any side effects it requires.
type Result struct {
	Booking    Booking
	Directives []Directive
}

// Has reports whether the result carries directive d.
func (r Result) Has(d Directive) bool {
	for _, got := range r.Directives {
		if got == d {
			return true
		}
	}
	return false
}

// Policy holds the configuration consumed by time-dependent operations.
type Policy struct {
	CancellationWindow time.Duration
	Location           *time.Location
}

// DefaultCancellationWindow is the cutoff quoted to clients.
const DefaultCancellationWindow = 10 * time.Hour

func (p Policy) window() time.Duration {
	if p.CancellationWindow <= 0 {
		return DefaultCancellationWindow
	}
	return p.CancellationWindow
}

func (p Policy) location() *time.Location {
	if p.Location == nil {
		return time.UTC
	}
	return p.Location
}

// NewBookingInput describes a booking at submission time.
type NewBookingInput struct {
	ID              string
	ClientName      string
	ClientEmail     string
	ClientPhone     string
	ServiceName     string
	Date            string
	TimeSlot        string
	OriginalPrice   Money
	DiscountPercent float64
	Deposit         Money
	DepositMethod   string
	WalkIn          bool
	WalkInFee       Money
}

// NewBooking builds a booking record. Walk-ins always start with a zero deposit.
func NewBooking(in NewBookingInput, p Policy, now time.Time) (Booking, error) {
	if strings.TrimSpace(in.ClientName) == "" || strings.TrimSpace(in.ServiceName) == "" {
		return Booking{}, fmt.Errorf("%w: client and service name are required", ErrInvalidInput)
	}
	at, err := AppointmentTime(in.Date, in.TimeSlot, p.location())
	if err != nil {
		return Booking{}, err
	}
	b := Booking{
		ID:                 in.ID,
		ClientName:         strings.TrimSpace(in.ClientName),
		ClientEmail:        strings.TrimSpace(in.ClientEmail),
		ClientPhone:        strings.TrimSpace(in.ClientPhone),
		ServiceName:        strings.TrimSpace(in.ServiceName),
		Kind:               KindRegular,
		Date:               in.Date,
		TimeSlot:           in.TimeSlot,
		AppointmentAt:      at,
		OriginalPrice:      in.OriginalPrice,
		DiscountPercent:    in.DiscountPercent,
		Deposit:            in.Deposit,
		AdditionalServices: []AdditionalService{},
		RescheduleHistory:  []RescheduleEntry{},
		PaymentHistory:     []Payment{},
		Status:             StatusConfirmed,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if in.WalkIn {
		b.Kind = KindWalkIn
		b.WalkInFee = in.WalkInFee
		b.Deposit = 0
	}
	if err := b.Validate(); err != nil {
		return Booking{}, err
	}
	b.FinalPrice = ComputeFinalPrice(b)
	if b.Deposit > b.FinalPrice {
		return Booking{}, fmt.Errorf("%w: deposit %d exceeds final price %d", ErrInvalidAmount, b.Deposit, b.FinalPrice)
	}
	if b.Deposit > 0 {
		b.PaymentHistory = append(b.PaymentHistory, Payment{Amount: b.Deposit, Method: in.DepositMethod, RecordedAt: now})
	}
	if b.Deposit >= b.FinalPrice && b.FinalPrice > 0 {
		b.Status = StatusPaid
		b.PaidInFullAt = &now
	}
	return b, nil
}

// Balance is the amount still owed on the booking.
func Balance(b Booking) Money {
	if b.Kind == KindWalkIn && b.Deposit == 0 {
		return b.FinalPrice
	}
	if b.FinalPrice <= b.Deposit {
		return 0
	}
	return b.FinalPrice - b.Deposit
}

// MaxPayment is the largest single payment recordPayment accepts.
func MaxPayment(b Booking) Money {
	switch b.Kind {
	case KindWalkIn:
		// the full price is due after the appointment; anything already paid is netted off
		if b.FinalPrice <= b.Deposit {
			return 0
		}
		return b.FinalPrice - b.Deposit
	default:
		return Balance(b)
	}
}

// RecordPayment adds amount to the deposit. The aftercare directive fires only
// on the first transition into paid.
func RecordPayment(b Booking, amount Money, method string, now time.Time) (Result, error) {
	if b.Status != StatusConfirmed {
		return Result{}, fmt.Errorf("%w: cannot record payment on %s booking", ErrUnauthorized, b.Status)
	}
	if amount <= 0 {
		return Result{}, fmt.Errorf("%w: payment must be positive", ErrInvalidAmount)
	}
	if limit := MaxPayment(b); amount > limit {
		return Result{}, fmt.Errorf("%w: payment %d exceeds maximum %d", ErrInvalidAmount, amount, limit)
	}
	out := b.clone()
	out.Deposit += amount
	out.PaymentHistory = append(out.PaymentHistory, Payment{Amount: amount, Method: strings.TrimSpace(method), RecordedAt: now})
	out.UpdatedAt = now

	res := Result{}
	if out.Deposit >= out.FinalPrice {
		out.Status = StatusPaid
		if out.PaidInFullAt == nil {
			out.PaidInFullAt = &now
			res.Directives = append(res.Directives, DirectiveAftercare)
		}
	}
	res.Booking = out
	return res, nil
}

// AddAdditionalService appends an add-on and reprices the booking.
func AddAdditionalService(b Booking, name string, price Money, now time.Time) (Result, error) {
	if !b.Status.Open() {
		return Result{}, fmt.Errorf("%w: booking is %s", ErrUnauthorized, b.Status)
	}
	if len(b.AdditionalServices) >= MaxAdditionalServices {
		return Result{}, ErrLimitExceeded
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Result{}, fmt.Errorf("%w: service name is required", ErrInvalidInput)
	}
	if price < 0 {
		return Result{}, fmt.Errorf("%w: service price must not be negative", ErrInvalidAmount)
	}
	out := b.clone()
	out.AdditionalServices = append(out.AdditionalServices, AdditionalService{Name: name, Price: price, AddedAt: now})
	reprice(&out, now)
	return Result{Booking: out}, nil
}

// AddFine attaches the booking's one and only fine.
func AddFine(b Booking, reason string, amount Money, now time.Time) (Result, error) {
	if !b.Status.Open() {
		return Result{}, fmt.Errorf("%w: booking is %s", ErrUnauthorized, b.Status)
	}
	if b.Fine != nil {
		return Result{}, ErrAlreadyFined
	}
	if amount <= 0 {
		return Result{}, fmt.Errorf("%w: fine must be positive", ErrInvalidAmount)
	}
	out := b.clone()
	out.Fine = &Fine{Amount: amount, Reason: strings.TrimSpace(reason), AddedAt: now}
	reprice(&out, now)
	return Result{Booking: out}, nil
}

// reprice recomputes the final price and re-derives paid/confirmed.
func reprice(b *Booking, now time.Time) {
	b.FinalPrice = ComputeFinalPrice(*b)
	if b.Deposit >= b.FinalPrice && b.FinalPrice > 0 {
		b.Status = StatusPaid
		if b.PaidInFullAt == nil {
			b.PaidInFullAt = &now
		}
	} else {
		b.Status = StatusConfirmed
	}
	b.UpdatedAt = now
}

// RefundStatusFor decides the audit refund status for a cancellation at now.
func RefundStatusFor(b Booking, p Policy, now time.Time) RefundStatus {
	switch {
	case b.Kind == KindWalkIn:
		return RefundNotApplicable
	case b.Deposit == 0:
		return RefundNotRequired
	case b.AppointmentAt.Sub(now) >= p.window():
		return RefundPending
	default:
		return RefundRetained
	}
}

// Cancel terminates the booking and stamps its refund status.
func Cancel(b Booking, reason, by string, p Policy, now time.Time) (Result, error) {
	if !b.Status.Open() {
		return Result{}, fmt.Errorf("%w: cannot cancel %s booking", ErrUnauthorized, b.Status)
	}
	out := b.clone()
	out.Status = StatusCancelled
	out.RefundStatus = RefundStatusFor(b, p, now)
	out.CancelledAt = &now
	out.CancelledBy = strings.TrimSpace(by)
	out.CancellationReason = strings.TrimSpace(reason)
	out.UpdatedAt = now
	return Result{Booking: out, Directives: []Directive{DirectiveCancellationNotice}}, nil
}

// RescheduleInput names the target slot and who asked for it.
type RescheduleInput struct {
	Date     string
	TimeSlot string
	By       string
	Notes    string
	Notify   bool
}

// Reschedule moves the appointment and appends to the history. The deposit carries over.
func Reschedule(b Booking, in RescheduleInput, p Policy, now time.Time) (Result, error) {
	if !b.Status.Open() {
		return Result{}, fmt.Errorf("%w: cannot reschedule %s booking", ErrUnauthorized, b.Status)
	}
	at, err := AppointmentTime(in.Date, in.TimeSlot, p.location())
	if err != nil {
		return Result{}, err
	}
	if at.Equal(b.AppointmentAt) {
		return Result{}, fmt.Errorf("%w: new slot matches the current slot", ErrInvalidSlot)
	}
	if !at.After(now) {
		return Result{}, fmt.Errorf("%w: new slot is in the past", ErrInvalidSlot)
	}
	out := b.clone()
	out.RescheduleHistory = append(out.RescheduleHistory, RescheduleEntry{
		FromDate:      b.Date,
		FromTimeSlot:  b.TimeSlot,
		ToDate:        in.Date,
		ToTimeSlot:    in.TimeSlot,
		RescheduledAt: now,
		RescheduledBy: strings.TrimSpace(in.By),
		Notes:         strings.TrimSpace(in.Notes),
	})
	out.Date = in.Date
	out.TimeSlot = in.TimeSlot
	out.AppointmentAt = at
	out.RescheduledAt = &now
	out.RescheduledBy = strings.TrimSpace(in.By)
	out.UpdatedAt = now
	res := Result{Booking: out}
	if in.Notify {
		res.Directives = append(res.Directives, DirectiveRescheduleNotice)
	}
	return res, nil
}

// Complete closes out the booking after the appointment.
func Complete(b Booking, now time.Time) (Result, error) {
	if !b.Status.Open() {
		return Result{}, fmt.Errorf("%w: cannot complete %s booking", ErrUnauthorized, b.Status)
	}
	out := b.clone()
	out.Status = StatusCompleted
	out.CompletedAt = &now
	out.UpdatedAt = now
	return Result{Booking: out}, nil
}
