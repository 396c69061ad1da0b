package cart

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/salon-labs/internal/pricing"
	"github.com/noah-isme/salon-labs/internal/voucher"
)

func TestDiscountSessionTransitions(t *testing.T) {
	var d DiscountSession

	v, err := d.Begin(" karibu15 ", "amina@example.com")
	require.NoError(t, err)
	require.Equal(t, StateValidating, v.State)
	require.Equal(t, "KARIBU15", v.Code)

	_, err = v.Begin("OTHER", "")
	require.ErrorIs(t, err, ErrValidationInFlight)

	applied := v.Resolve(3000, "", nil)
	require.True(t, applied.Applied())
	require.Equal(t, int64(3000), applied.Amount)

	_, err = applied.Begin("OTHER", "")
	require.ErrorIs(t, err, ErrCodeAlreadyApplied)

	cleared := applied.Remove()
	require.Equal(t, StateNoCode, cleared.State)
	require.Zero(t, cleared.Amount)
}

func TestRejectedSessionCanRetry(t *testing.T) {
	v, err := DiscountSession{}.Begin("EXPIRED", "")
	require.NoError(t, err)
	rejected := v.Resolve(0, "DISCOUNT_EXPIRED", voucher.ErrExpired)
	require.Equal(t, StateRejected, rejected.State)
	require.Equal(t, "DISCOUNT_EXPIRED", rejected.Error)
	require.False(t, rejected.Applied())

	retry, err := rejected.Begin("KARIBU15", "")
	require.NoError(t, err)
	require.Equal(t, StateValidating, retry.State)
	require.Empty(t, retry.Error)
}

func TestResolveOutsideValidatingIsNoop(t *testing.T) {
	d := DiscountSession{State: StateApplied, Code: "A", Amount: 10}
	require.Equal(t, d, d.Resolve(99, "", nil))
}

func TestCartFeesAndSubtotal(t *testing.T) {
	c := Cart{
		Items: []pricing.LineItem{
			{ServiceID: "hosting", Price: 12000, Billing: pricing.BillingYearly, SetupFee: 2000, Quantity: 1},
			{ServiceID: "site", Price: 45000, Billing: pricing.BillingOneTime, Quantity: 1},
		},
		Priority:  true,
		NewDomain: true,
	}
	cfg := FeeConfig{PriorityFee: 5000, NewDomainSetupFee: 1500, NewDomainAnnualFee: 1500}
	require.Len(t, c.Fees(cfg), 2)
	require.Equal(t, int64(12000+2000+45000+5000+3000), c.Subtotal(cfg))
}

func TestOwnedBy(t *testing.T) {
	require.True(t, Cart{}.OwnedBy("anyone"))
	require.True(t, Cart{UserID: "u1"}.OwnedBy("u1"))
	require.False(t, Cart{UserID: "u1"}.OwnedBy("u2"))
}
