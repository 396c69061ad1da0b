package pricing

import "math"

// PaymentPolicy splits large orders into a first payment and a remaining balance.
type PaymentPolicy struct {
	FullPaymentThreshold     Money
	PartialPaymentThreshold  Money
	PartialPaymentPercentage float64
}

// Totals is the checkout summary the storefront renders and the server persists.
type Totals struct {
	Subtotal         Money `json:"subtotal"`
	Discount         Money `json:"discount"`
	TaxAmount        Money `json:"taxAmount"`
	Total            Money `json:"total"`
	InitialPayment   Money `json:"initialPayment"`
	RemainingPayment Money `json:"remainingPayment"`
}

// Compute derives totals from a pre-discount subtotal. The discount is clamped to [0, subtotal].
func Compute(subtotal, discount Money, taxPercentage float64, policy PaymentPolicy) Totals {
	if subtotal < 0 {
		subtotal = 0
	}
	if discount < 0 {
		discount = 0
	}
	if discount > subtotal {
		discount = subtotal
	}
	after := subtotal - discount
	var tax Money
	if taxPercentage > 0 {
		tax = Money(math.Round(float64(after) * taxPercentage / 100))
	}
	total := after + tax
	initial, remaining := Split(total, policy)
	return Totals{
		Subtotal:         subtotal,
		Discount:         discount,
		TaxAmount:        tax,
		Total:            total,
		InitialPayment:   initial,
		RemainingPayment: remaining,
	}
}

// Split returns the first payment and remainder for total. Orders between the
// two thresholds are paid in full.
func Split(total Money, policy PaymentPolicy) (initial, remaining Money) {
	if total <= policy.FullPaymentThreshold {
		return total, 0
	}
	pct := policy.PartialPaymentPercentage
	if total > policy.PartialPaymentThreshold && pct > 0 && pct < 100 {
		initial = Money(math.Round(float64(total) * pct / 100))
		return initial, total - initial
	}
	return total, 0
}

// CheckoutTotal prices items and fees, then applies discount and tax.
func CheckoutTotal(items []LineItem, fees []Fee, discount Money, taxPercentage float64, policy PaymentPolicy) Totals {
	return Compute(Subtotal(items, fees), discount, taxPercentage, policy)
}

// QuoteOptions carries flags that change which gates run.
type QuoteOptions struct {
	// BundlePrevalidated is set when the cart was filled by a guided bundle.
	BundlePrevalidated bool
	Lookup             NameLookup
}

// Quote is the full checkout view.
type Quote struct {
	Lines  []LineBreakdown `json:"lines"`
	Fees   []Fee           `json:"fees,omitempty"`
	Totals Totals          `json:"totals"`
}

// BuildQuote runs the required-service gate and computes the checkout totals.
func BuildQuote(items []LineItem, fees []Fee, discount Money, taxPercentage float64, policy PaymentPolicy, opts QuoteOptions) (Quote, error) {
	for _, it := range items {
		if err := it.Validate(); err != nil {
			return Quote{}, err
		}
	}
	if !opts.BundlePrevalidated {
		if err := CheckRequiredServices(items, opts.Lookup); err != nil {
			return Quote{}, err
		}
	}
	return Quote{
		Lines:  Breakdown(items),
		Fees:   fees,
		Totals: CheckoutTotal(items, fees, discount, taxPercentage, policy),
	}, nil
}
