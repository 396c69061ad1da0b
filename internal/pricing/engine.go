package pricing

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Money is expressed in whole KES.
type Money = int64

// BillingPeriod decides whether a line is charged once or on a cycle.
type BillingPeriod string

const (
	BillingOneTime BillingPeriod = "one-time"
	BillingYearly  BillingPeriod = "yearly"
	BillingMonthly BillingPeriod = "monthly"
)

// ErrInvalidLineItem is returned for line items with contradicting fields.
var ErrInvalidLineItem = errors.New("invalid line item")

// LineItem is a Labs service placed in the cart.
type LineItem struct {
	ServiceID        string        `json:"serviceId"`
	Name             string        `json:"name"`
	Price            Money         `json:"price"`
	DiscountPercent  *float64      `json:"discount,omitempty"`
	DiscountAmount   *Money        `json:"discountAmount,omitempty"`
	Billing          BillingPeriod `json:"billingPeriod"`
	SetupFee         Money         `json:"setupFee,omitempty"`
	Quantity         int           `json:"quantity"`
	RequiredServices []string      `json:"requiredServices,omitempty"`
}

// Validate rejects combinations the storefront cannot sell, such as a setup fee on a monthly plan.
func (it LineItem) Validate() error {
	switch it.Billing {
	case BillingYearly:
	case BillingOneTime, BillingMonthly, "":
		if it.SetupFee != 0 {
			return fmt.Errorf("%w: setup fee only applies to yearly billing (%s)", ErrInvalidLineItem, it.ServiceID)
		}
	default:
		return fmt.Errorf("%w: unknown billing period %q", ErrInvalidLineItem, it.Billing)
	}
	if it.Price < 0 || it.SetupFee < 0 {
		return fmt.Errorf("%w: negative amount on %s", ErrInvalidLineItem, it.ServiceID)
	}
	if it.DiscountPercent != nil && (*it.DiscountPercent < 0 || *it.DiscountPercent > 100) {
		return fmt.Errorf("%w: discount must be between 0 and 100", ErrInvalidLineItem)
	}
	if it.DiscountAmount != nil && *it.DiscountAmount < 0 {
		return fmt.Errorf("%w: negative discount amount", ErrInvalidLineItem)
	}
	if it.Quantity < 1 {
		return fmt.Errorf("%w: quantity must be at least 1", ErrInvalidLineItem)
	}
	return nil
}

func (it LineItem) qty() Money {
	if it.Quantity < 1 {
		return 1
	}
	return Money(it.Quantity)
}

// FinalLineItemPrice applies the item's own discount. An absolute discount wins over a percentage.
func FinalLineItemPrice(it LineItem) Money {
	var price Money
	switch {
	case it.DiscountAmount != nil:
		price = it.Price - *it.DiscountAmount
	case it.DiscountPercent != nil:
		price = Money(math.Round(float64(it.Price) * (1 - *it.DiscountPercent/100)))
	default:
		price = it.Price
	}
	if price < 0 {
		return 0
	}
	return price
}

// FirstPayment is what a single unit costs at checkout: setup fee plus first year for yearly plans.
func FirstPayment(it LineItem) Money {
	if it.Billing == BillingYearly {
		return it.SetupFee + FinalLineItemPrice(it)
	}
	return FinalLineItemPrice(it)
}

// Recurring describes the charge repeated after the first payment.
type Recurring struct {
	Amount Money         `json:"amount"`
	Period BillingPeriod `json:"period"`
}

// RecurringCharge returns the repeating component, if the item has one.
func RecurringCharge(it LineItem) (Recurring, bool) {
	switch it.Billing {
	case BillingYearly, BillingMonthly:
		return Recurring{Amount: FinalLineItemPrice(it), Period: it.Billing}, true
	default:
		return Recurring{}, false
	}
}

// Fee is a flat cart-level charge.
type Fee struct {
	Name   string `json:"name"`
	Amount Money  `json:"amount"`
}

// PriorityFee is charged for urgent timelines.
func PriorityFee(amount Money) Fee {
	return Fee{Name: "Priority delivery", Amount: amount}
}

// NewDomainFee bundles domain registration setup and the first annual renewal.
func NewDomainFee(setup, annual Money) Fee {
	return Fee{Name: "New domain (setup + first year)", Amount: setup + annual}
}

// Subtotal is the pre-discount cart value. Setup fees are counted once per line.
func Subtotal(items []LineItem, fees []Fee) Money {
	var subtotal Money
	for _, it := range items {
		subtotal += FinalLineItemPrice(it) * it.qty()
		if it.Billing == BillingYearly {
			subtotal += it.SetupFee
		}
	}
	for _, f := range fees {
		if f.Amount > 0 {
			subtotal += f.Amount
		}
	}
	return subtotal
}

// LineBreakdown is the per-line view rendered by the storefront.
type LineBreakdown struct {
	ServiceID    string     `json:"serviceId"`
	Name         string     `json:"name"`
	Quantity     int        `json:"quantity"`
	UnitPrice    Money      `json:"unitPrice"`
	FinalPrice   Money      `json:"finalPrice"`
	SetupFee     Money      `json:"setupFee,omitempty"`
	FirstPayment Money      `json:"firstPayment"`
	LineTotal    Money      `json:"lineTotal"`
	Recurring    *Recurring `json:"recurring,omitempty"`
}

// Breakdown computes the per-line view for items.
func Breakdown(items []LineItem) []LineBreakdown {
	out := make([]LineBreakdown, 0, len(items))
	for _, it := range items {
		line := LineBreakdown{
			ServiceID:    it.ServiceID,
			Name:         it.Name,
			Quantity:     int(it.qty()),
			UnitPrice:    it.Price,
			FinalPrice:   FinalLineItemPrice(it),
			FirstPayment: FirstPayment(it),
		}
		line.LineTotal = line.FinalPrice * it.qty()
		if it.Billing == BillingYearly {
			line.SetupFee = it.SetupFee
			line.LineTotal += it.SetupFee
		}
		if rec, ok := RecurringCharge(it); ok {
			line.Recurring = &rec
		}
		out = append(out, line)
	}
	return out
}

// NameLookup resolves a service id to a display name.
type NameLookup func(serviceID string) string

// ErrMissingRequiredService is matched by errors.Is on a *MissingServicesError.
var ErrMissingRequiredService = errors.New("missing required service")

// MissingService names a dependency absent from the cart.
type MissingService struct {
	ServiceID  string `json:"serviceId"`
	Name       string `json:"name"`
	RequiredBy string `json:"requiredBy"`
}

// MissingServicesError lists every unmet dependency in the cart.
type MissingServicesError struct {
	Missing []MissingService
}

func (e *MissingServicesError) Error() string {
	names := make([]string, 0, len(e.Missing))
	for _, m := range e.Missing {
		names = append(names, m.Name)
	}
	return fmt.Sprintf("%s: %s", ErrMissingRequiredService, strings.Join(names, ", "))
}

// Unwrap allows errors.Is(err, ErrMissingRequiredService).
func (e *MissingServicesError) Unwrap() error { return ErrMissingRequiredService }

// Names returns the display names of the missing services.
func (e *MissingServicesError) Names() []string {
	names := make([]string, 0, len(e.Missing))
	for _, m := range e.Missing {
		names = append(names, m.Name)
	}
	return names
}

// CheckRequiredServices verifies every declared dependency is present as a line item.
// Dependencies are never added automatically.
func CheckRequiredServices(items []LineItem, lookup NameLookup) error {
	present := make(map[string]struct{}, len(items))
	for _, it := range items {
		present[it.ServiceID] = struct{}{}
	}
	var missing []MissingService
	reported := map[string]struct{}{}
	for _, it := range items {
		for _, dep := range it.RequiredServices {
			if _, ok := present[dep]; ok {
				continue
			}
			if _, ok := reported[dep]; ok {
				continue
			}
			reported[dep] = struct{}{}
			name := dep
			if lookup != nil {
				if n := strings.TrimSpace(lookup(dep)); n != "" {
					name = n
				}
			}
			missing = append(missing, MissingService{ServiceID: dep, Name: name, RequiredBy: it.Name})
		}
	}
	if len(missing) > 0 {
		return &MissingServicesError{Missing: missing}
	}
	return nil
}
