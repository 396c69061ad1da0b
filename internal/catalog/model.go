package catalog

import (
	"github.com/noah-isme/salon-labs/internal/pricing"
)

// Offering is a Labs web service as sold in the storefront.
type Offering struct {
	ID               string                `json:"id"`
	Slug             string                `json:"slug"`
	Name             string                `json:"name"`
	Description      string                `json:"description,omitempty"`
	Price            int64                 `json:"price"`
	DiscountPercent  *float64              `json:"discount,omitempty"`
	DiscountAmount   *int64                `json:"discountAmount,omitempty"`
	Billing          pricing.BillingPeriod `json:"billingPeriod"`
	SetupFee         int64                 `json:"setupFee,omitempty"`
	RequiredServices []string              `json:"requiredServices"`
	Active           bool                  `json:"active"`
}

// Bundle is a guided set of offerings that satisfy each other's requirements.
type Bundle struct {
	ID         string     `json:"id"`
	Slug       string     `json:"slug"`
	Name       string     `json:"name"`
	ServiceIDs []string   `json:"serviceIds"`
	Services   []Offering `json:"services,omitempty"`
}

// ToLineItem converts an offering to a cart line at the catalog's current price.
func ToLineItem(o Offering, qty int) pricing.LineItem {
	if qty < 1 {
		qty = 1
	}
	it := pricing.LineItem{
		ServiceID:        o.ID,
		Name:             o.Name,
		Price:            o.Price,
		Billing:          o.Billing,
		SetupFee:         o.SetupFee,
		Quantity:         qty,
		RequiredServices: append([]string(nil), o.RequiredServices...),
	}
	if it.Billing == "" {
		it.Billing = pricing.BillingOneTime
	}
	if o.DiscountPercent != nil {
		v := *o.DiscountPercent
		it.DiscountPercent = &v
	}
	if o.DiscountAmount != nil {
		v := *o.DiscountAmount
		it.DiscountAmount = &v
	}
	return it
}
