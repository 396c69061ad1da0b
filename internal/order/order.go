package order

import (
	"errors"
	"time"

	"github.com/noah-isme/salon-labs/internal/pricing"
)

// ErrNotFound is returned when no order matches.
var ErrNotFound = errors.New("order not found")

// Status is the payment lifecycle of an order.
type Status string

const (
	StatusPendingPayment Status = "pending_payment"
	StatusPartiallyPaid  Status = "partially_paid"
	StatusPaid           Status = "paid"
	StatusCancelled      Status = "cancelled"
)

// Item is a priced line frozen at checkout.
type Item struct {
	ServiceID    string                `json:"serviceId"`
	Name         string                `json:"name"`
	Quantity     int                   `json:"quantity"`
	UnitPrice    int64                 `json:"unitPrice"`
	FirstPayment int64                 `json:"firstPayment"`
	Billing      pricing.BillingPeriod `json:"billingPeriod"`
	SetupFee     int64                 `json:"setupFee,omitempty"`
	Recurring    *pricing.Recurring    `json:"recurring,omitempty"`
}

// Customer is who the order is billed to.
type Customer struct {
	Name  string `json:"name" validate:"required,max=120"`
	Email string `json:"email" validate:"required,email"`
	Phone string `json:"phone,omitempty" validate:"omitempty,max=32"`
}

// Order is a placed Labs order.
type Order struct {
	ID             string         `json:"id"`
	UserID         string         `json:"userId"`
	CartID         string         `json:"cartId"`
	Status         Status         `json:"status"`
	Currency       string         `json:"currency"`
	Customer       Customer       `json:"customer"`
	Items          []Item         `json:"items"`
	Fees           []pricing.Fee  `json:"fees"`
	DiscountCode   string         `json:"discountCode,omitempty"`
	Totals         pricing.Totals `json:"totals"`
	AmountPaid     int64          `json:"amountPaid"`
	RequiresReview bool           `json:"requiresReview"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// Outstanding is what the customer still owes.
func (o Order) Outstanding() int64 {
	if o.AmountPaid >= o.Totals.Total {
		return 0
	}
	return o.Totals.Total - o.AmountPaid
}

// NextPayment is the amount to request next: the initial payment first, then the remainder.
func (o Order) NextPayment() int64 {
	if o.AmountPaid < o.Totals.InitialPayment {
		return o.Totals.InitialPayment - o.AmountPaid
	}
	return o.Outstanding()
}

// ItemsFromLines freezes priced lines into order items.
func ItemsFromLines(lines []pricing.LineItem) []Item {
	out := make([]Item, 0, len(lines))
	for _, it := range lines {
		item := Item{
			ServiceID:    it.ServiceID,
			Name:         it.Name,
			Quantity:     it.Quantity,
			UnitPrice:    pricing.FinalLineItemPrice(it),
			FirstPayment: pricing.FirstPayment(it),
			Billing:      it.Billing,
			SetupFee:     it.SetupFee,
		}
		if rec, ok := pricing.RecurringCharge(it); ok {
			item.Recurring = &rec
		}
		out = append(out, item)
	}
	return out
}

// ApplyPayment credits amount up to the outstanding balance and derives the
// status. The second result is the part of amount that was not credited.
func ApplyPayment(o Order, amount int64, now time.Time) (Order, int64) {
	if amount <= 0 {
		return o, 0
	}
	due := o.Outstanding()
	if o.Status == StatusCancelled || o.Status == StatusPaid || due == 0 {
		return o, amount
	}
	excess := int64(0)
	if amount > due {
		excess = amount - due
		amount = due
	}
	o.AmountPaid += amount
	switch {
	case o.AmountPaid >= o.Totals.Total:
		o.Status = StatusPaid
	default:
		o.Status = StatusPartiallyPaid
	}
	o.UpdatedAt = now
	return o, excess
}
