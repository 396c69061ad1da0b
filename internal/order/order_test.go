package order

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/salon-labs/internal/common"
	"github.com/noah-isme/salon-labs/internal/pricing"
)

var clock = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

var orderCols = []string{"id", "user_id", "cart_id", "status", "currency", "customer_name", "customer_email", "customer_phone",
	"items", "fees", "discount_code", "subtotal", "discount", "tax_amount", "total", "initial_payment", "remaining_payment",
	"amount_paid", "requires_review", "created_at", "updated_at"}

func sampleOrder() Order {
	return Order{
		ID:        "o-1",
		UserID:    "u-1",
		CartID:    "c-1",
		Status:    StatusPendingPayment,
		Currency:  "KES",
		Customer:  Customer{Name: "Amina", Email: "amina@example.com"},
		Items:     []Item{{ServiceID: "site", Name: "Business website", Quantity: 1, UnitPrice: 80000, FirstPayment: 80000, Billing: pricing.BillingOneTime}},
		Totals:    pricing.Totals{Subtotal: 80000, Total: 80000, InitialPayment: 40000, RemainingPayment: 40000},
		CreatedAt: clock,
		UpdatedAt: clock,
	}
}

func orderRow(o Order) []any {
	return []any{o.ID, o.UserID, o.CartID, string(o.Status), o.Currency, o.Customer.Name, o.Customer.Email, o.Customer.Phone,
		[]byte(`[{"serviceId":"site","name":"Business website","quantity":1,"unitPrice":80000,"firstPayment":80000,"billingPeriod":"one-time"}]`),
		[]byte(`[]`), o.DiscountCode, o.Totals.Subtotal, o.Totals.Discount, o.Totals.TaxAmount, o.Totals.Total,
		o.Totals.InitialPayment, o.Totals.RemainingPayment, o.AmountPaid, o.RequiresReview, o.CreatedAt, o.UpdatedAt}
}

func TestApplyPaymentMovesThroughStatuses(t *testing.T) {
	o := sampleOrder()
	require.Equal(t, int64(40000), o.NextPayment())

	o, excess := ApplyPayment(o, 40000, clock)
	require.Zero(t, excess)
	require.Equal(t, StatusPartiallyPaid, o.Status)
	require.Equal(t, int64(40000), o.NextPayment())
	require.Equal(t, int64(40000), o.Outstanding())

	o, excess = ApplyPayment(o, 40000, clock)
	require.Zero(t, excess)
	require.Equal(t, StatusPaid, o.Status)
	require.Zero(t, o.Outstanding())

	cancelled := sampleOrder()
	cancelled.Status = StatusCancelled
	got, excess := ApplyPayment(cancelled, 100, clock)
	require.Equal(t, cancelled, got)
	require.Equal(t, int64(100), excess)
}

func TestApplyPaymentNeverCreditsPastTotal(t *testing.T) {
	paid := sampleOrder()
	paid.Status, paid.AmountPaid = StatusPaid, 80000
	got, excess := ApplyPayment(paid, 80000, clock.Add(time.Hour))
	require.Equal(t, paid, got)
	require.Equal(t, int64(80000), excess)

	// two charges for the same instalment both settle
	o, _ := ApplyPayment(sampleOrder(), 40000, clock)
	o, excess = ApplyPayment(o, 40000, clock)
	require.Zero(t, excess)
	o, excess = ApplyPayment(o, 40000, clock)
	require.Equal(t, int64(40000), excess)
	require.Equal(t, int64(80000), o.AmountPaid)
	require.Equal(t, StatusPaid, o.Status)
}

func TestItemsFromLinesFreezesRecurring(t *testing.T) {
	items := ItemsFromLines([]pricing.LineItem{
		{ServiceID: "hosting", Name: "Managed hosting", Price: 12000, Billing: pricing.BillingYearly, SetupFee: 2000, Quantity: 1},
	})
	require.Len(t, items, 1)
	require.Equal(t, int64(14000), items[0].FirstPayment)
	require.NotNil(t, items[0].Recurring)
	require.Equal(t, int64(12000), items[0].Recurring.Amount)
}

func TestStoreCreateAndGet(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	o := sampleOrder()
	mock.ExpectExec(`INSERT INTO orders`).
		WithArgs("o-1", "u-1", "c-1", "pending_payment", "KES", "Amina", "amina@example.com", "",
			pgxmock.AnyArg(), pgxmock.AnyArg(), "", int64(80000), int64(0), int64(0), int64(80000),
			int64(40000), int64(40000), int64(0), false, clock, clock).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`SELECT .+ FROM orders WHERE id = \$1$`).WithArgs("o-1").
		WillReturnRows(pgxmock.NewRows(orderCols).AddRow(orderRow(o)...))

	store := NewStore(mock)
	require.NoError(t, store.Create(context.Background(), o))
	got, err := store.Get(context.Background(), "o-1")
	require.NoError(t, err)
	require.Equal(t, o.Items, got.Items)
	require.Equal(t, o.Totals, got.Totals)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandlerHidesOtherCustomersOrders(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	mock.ExpectQuery(`SELECT .+ FROM orders`).WithArgs("o-1").
		WillReturnRows(pgxmock.NewRows(orderCols).AddRow(orderRow(sampleOrder())...))

	h := &Handler{Store: NewStore(mock)}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/o-1", nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", "o-1")
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
	req = req.WithContext(common.WithUserID(ctx, "u-2"))
	rec := httptest.NewRecorder()
	h.Get(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerListRequiresUser(t *testing.T) {
	h := &Handler{}
	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
