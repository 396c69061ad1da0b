package cart_test

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/salon-labs/internal/cart"
	"github.com/noah-isme/salon-labs/internal/catalog"
	"github.com/noah-isme/salon-labs/internal/pricing"
	"github.com/noah-isme/salon-labs/internal/voucher"
)

var now = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

type fakeCatalog struct {
	offerings map[string]catalog.Offering
	bundles   map[string]catalog.Bundle
}

func (f fakeCatalog) Offering(_ context.Context, id string) (catalog.Offering, error) {
	o, ok := f.offerings[id]
	if !ok {
		return catalog.Offering{}, catalog.ErrNotFound
	}
	return o, nil
}

func (f fakeCatalog) Bundle(_ context.Context, slug string) (catalog.Bundle, error) {
	b, ok := f.bundles[slug]
	if !ok {
		return catalog.Bundle{}, catalog.ErrNotFound
	}
	return b, nil
}

func (f fakeCatalog) NameLookup(context.Context, []pricing.LineItem) pricing.NameLookup {
	return func(id string) string {
		if o, ok := f.offerings[id]; ok {
			return o.Name
		}
		return id
	}
}

type codeTable map[string]voucher.Code

func (t codeTable) GetByCode(_ context.Context, code string) (voucher.Code, error) {
	c, ok := t[voucher.NormalizeCode(code)]
	if !ok {
		return voucher.Code{}, voucher.ErrNotFound
	}
	return c, nil
}

func newCartService(t *testing.T) *cart.Service {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	hosting := catalog.Offering{ID: "hosting", Name: "Managed hosting", Price: 12000, Billing: pricing.BillingYearly, SetupFee: 2000, Active: true}
	site := catalog.Offering{ID: "site", Name: "Business website", Price: 45000, Billing: pricing.BillingOneTime, RequiredServices: []string{"hosting"}, Active: true}
	logo := catalog.Offering{ID: "logo", Name: "Logo design", Price: 8000, Billing: pricing.BillingOneTime, Active: true}
	cat := fakeCatalog{
		offerings: map[string]catalog.Offering{"hosting": hosting, "site": site, "logo": logo},
		bundles:   map[string]catalog.Bundle{"launch": {Slug: "launch", Services: []catalog.Offering{site, hosting}}},
	}
	codes := codeTable{
		"KARIBU15": {Code: "KARIBU15", Type: voucher.TypePercentage, Value: 15, IsActive: true, UsedBy: []string{}},
		"OLD":      {Code: "OLD", Type: voucher.TypeFixed, Value: 1000, IsActive: false, UsedBy: []string{}},
	}
	return &cart.Service{
		Store:            cart.RedisStore{Client: client, TTL: time.Hour},
		Catalog:          cat,
		Discounts:        &voucher.Service{Q: codes, Now: func() time.Time { return now }, MinimumCartValue: 20000},
		Fees:             cart.FeeConfig{PriorityFee: 5000, NewDomainSetupFee: 1500, NewDomainAnnualFee: 1500},
		Policy:           pricing.PaymentPolicy{FullPaymentThreshold: 50000, PartialPaymentThreshold: 50000, PartialPaymentPercentage: 50},
		MinimumCartValue: 20000,
		Now:              func() time.Time { return now },
	}
}

func TestAddServiceMergesLines(t *testing.T) {
	svc := newCartService(t)
	ctx := context.Background()
	c, err := svc.Create(ctx, "u1")
	require.NoError(t, err)

	_, err = svc.AddService(ctx, c.ID, "u1", "logo", 1)
	require.NoError(t, err)
	c, err = svc.AddService(ctx, c.ID, "u1", "logo", 2)
	require.NoError(t, err)
	require.Len(t, c.Items, 1)
	require.Equal(t, 3, c.Items[0].Quantity)

	_, err = svc.AddService(ctx, c.ID, "u2", "logo", 1)
	require.ErrorIs(t, err, cart.ErrNotFound)
	_, err = svc.AddService(ctx, c.ID, "u1", "ghost", 1)
	require.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestQuoteReportsMissingRequiredServices(t *testing.T) {
	svc := newCartService(t)
	ctx := context.Background()
	c, err := svc.Create(ctx, "")
	require.NoError(t, err)
	_, err = svc.AddService(ctx, c.ID, "", "site", 1)
	require.NoError(t, err)

	v, err := svc.Quote(ctx, c.ID, "")
	require.NoError(t, err)
	require.Equal(t, []string{"Managed hosting"}, v.MissingServices)
	require.Equal(t, int64(45000), v.Quote.Totals.Total)
	require.True(t, v.MeetsMinimum)
}

func TestBundleSkipsGateUntilItemRemoved(t *testing.T) {
	svc := newCartService(t)
	ctx := context.Background()
	c, err := svc.Create(ctx, "")
	require.NoError(t, err)

	c, err = svc.AddBundle(ctx, c.ID, "", "launch")
	require.NoError(t, err)
	require.True(t, c.BundlePrevalidated)
	require.Len(t, c.Items, 2)

	v, err := svc.Quote(ctx, c.ID, "")
	require.NoError(t, err)
	require.Empty(t, v.MissingServices)
	require.Equal(t, int64(45000+12000+2000), v.Quote.Totals.Subtotal)
	require.Equal(t, int64(29500), v.Quote.Totals.InitialPayment)

	c, err = svc.RemoveItem(ctx, c.ID, "", "hosting")
	require.NoError(t, err)
	require.False(t, c.BundlePrevalidated)
	v, err = svc.Quote(ctx, c.ID, "")
	require.NoError(t, err)
	require.Equal(t, []string{"Managed hosting"}, v.MissingServices)
}

func TestApplyCodeLifecycle(t *testing.T) {
	svc := newCartService(t)
	ctx := context.Background()
	c, err := svc.Create(ctx, "u1")
	require.NoError(t, err)
	_, err = svc.AddService(ctx, c.ID, "u1", "logo", 3)
	require.NoError(t, err)

	c, err = svc.ApplyCode(ctx, c.ID, "u1", "old", "u1")
	require.ErrorIs(t, err, voucher.ErrInactive)
	require.Equal(t, cart.StateRejected, c.Discount.State)
	require.Equal(t, "DISCOUNT_INACTIVE", c.Discount.Error)

	c, err = svc.ApplyCode(ctx, c.ID, "u1", "karibu15", "u1")
	require.NoError(t, err)
	require.True(t, c.Discount.Applied())
	require.Equal(t, int64(3600), c.Discount.Amount)

	_, err = svc.ApplyCode(ctx, c.ID, "u1", "OLD", "u1")
	require.ErrorIs(t, err, cart.ErrCodeAlreadyApplied)

	// more items re-price the applied code
	c, err = svc.UpdateQty(ctx, c.ID, "u1", "logo", 4)
	require.NoError(t, err)
	require.Equal(t, int64(4800), c.Discount.Amount)

	// dropping under the minimum removes it
	c, err = svc.UpdateQty(ctx, c.ID, "u1", "logo", 1)
	require.NoError(t, err)
	require.Equal(t, cart.StateNoCode, c.Discount.State)

	v, err := svc.Quote(ctx, c.ID, "u1")
	require.NoError(t, err)
	require.Zero(t, v.Quote.Totals.Discount)
	require.False(t, v.MeetsMinimum)
}

func TestSetOptionsAddsFees(t *testing.T) {
	svc := newCartService(t)
	ctx := context.Background()
	c, err := svc.Create(ctx, "")
	require.NoError(t, err)
	_, err = svc.AddService(ctx, c.ID, "", "logo", 1)
	require.NoError(t, err)

	yes := true
	c, err = svc.SetOptions(ctx, c.ID, "", cart.Options{Priority: &yes, NewDomain: &yes})
	require.NoError(t, err)
	v, err := svc.Render(ctx, c)
	require.NoError(t, err)
	require.Len(t, v.Quote.Fees, 2)
	require.Equal(t, int64(8000+5000+3000), v.Quote.Totals.Subtotal)
}

func TestRedisStoreExpiryAndDelete(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := cart.RedisStore{Client: client, TTL: time.Minute}
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, cart.Cart{ID: "c1", Items: []pricing.LineItem{}}))
	got, err := store.Load(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, "c1", got.ID)

	mr.FastForward(2 * time.Minute)
	_, err = store.Load(ctx, "c1")
	require.ErrorIs(t, err, cart.ErrNotFound)

	require.NoError(t, store.Save(ctx, cart.Cart{ID: "c2"}))
	require.NoError(t, store.Delete(ctx, "c2"))
	_, err = store.Load(ctx, "c2")
	require.ErrorIs(t, err, cart.ErrNotFound)
}
