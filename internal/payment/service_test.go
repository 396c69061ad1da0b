package payment_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/salon-labs/internal/common"
	"github.com/noah-isme/salon-labs/internal/events"
	"github.com/noah-isme/salon-labs/internal/order"
	"github.com/noah-isme/salon-labs/internal/payment"
)

var clock = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

var orderCols = []string{"id", "user_id", "cart_id", "status", "currency", "customer_name", "customer_email", "customer_phone",
	"items", "fees", "discount_code", "subtotal", "discount", "tax_amount", "total", "initial_payment", "remaining_payment",
	"amount_paid", "requires_review", "created_at", "updated_at"}

var paymentCols = []string{"id", "order_id", "provider", "reference", "amount", "status", "payer_ref", "created_at", "updated_at"}

func orderRows(status order.Status, paid int64) *pgxmock.Rows {
	return pgxmock.NewRows(orderCols).AddRow("o-1", "u-1", "c-1", string(status), "KES", "Amina", "amina@example.com", "",
		[]byte(`[]`), []byte(`[]`), "", int64(80000), int64(0), int64(0), int64(80000), int64(40000), int64(40000),
		paid, false, clock, clock)
}

func paymentRows(status payment.Status) *pgxmock.Rows {
	return paymentRowsAt(status, clock)
}

func paymentRowsAt(status payment.Status, created time.Time) *pgxmock.Rows {
	return pgxmock.NewRows(paymentCols).AddRow("p-1", "o-1", "stub", "ref-1", int64(40000), string(status), "amina@example.com", created, created)
}

func expectAttempts(mock pgxmock.PgxPoolIface, rows *pgxmock.Rows) {
	mock.ExpectQuery(`SELECT .+ FROM payments WHERE order_id = \$1`).WithArgs("o-1").WillReturnRows(rows)
}

type stubGateway struct {
	result    payment.Result
	initiated int64
	parseErr  error
}

func (g *stubGateway) Name() string { return "stub" }

func (g *stubGateway) Initiate(_ context.Context, amount int64, _ string) (payment.Handle, error) {
	g.initiated = amount
	return payment.Handle{Provider: "stub", Reference: "ref-1", AuthorizationURL: "https://pay.example/ref-1"}, nil
}

func (g *stubGateway) Verify(context.Context, payment.Handle) (payment.Result, error) {
	return g.result, nil
}

func (g *stubGateway) ParseWebhook(_ *http.Request, body []byte) (string, error) {
	if g.parseErr != nil {
		return "", g.parseErr
	}
	return strings.TrimSpace(string(body)), nil
}

type topicRecorder struct{ topics []string }

func (r *topicRecorder) Emit(_ context.Context, topic, aggregateID string, _ any) (events.Event, error) {
	r.topics = append(r.topics, topic)
	return events.Event{Topic: topic, AggregateID: aggregateID}, nil
}

func newService(t *testing.T, gw payment.Gateway) (*payment.Service, pgxmock.PgxPoolIface, *topicRecorder) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	rec := &topicRecorder{}
	return &payment.Service{Pool: mock, Gateway: gw, Events: rec, Now: func() time.Time { return clock }}, mock, rec
}

func TestInitiateChargesInitialPayment(t *testing.T) {
	gw := &stubGateway{}
	svc, mock, _ := newService(t, gw)

	mock.ExpectQuery(`SELECT .+ FROM orders WHERE id = \$1`).WithArgs("o-1").
		WillReturnRows(orderRows(order.StatusPendingPayment, 0))
	expectAttempts(mock, pgxmock.NewRows(paymentCols))
	mock.ExpectExec(`INSERT INTO payments`).
		WithArgs(pgxmock.AnyArg(), "o-1", "stub", "ref-1", int64(40000), "pending", "amina@example.com", clock, clock).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	out, err := svc.InitiateOrderPayment(context.Background(), "o-1", "u-1", " amina@example.com ")
	require.NoError(t, err)
	require.Equal(t, int64(40000), gw.initiated)
	require.Equal(t, payment.StatusPending, out.Payment.Status)
	require.Equal(t, "https://pay.example/ref-1", out.Handle.AuthorizationURL)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInitiateChargesRemainderAfterDeposit(t *testing.T) {
	gw := &stubGateway{}
	svc, mock, _ := newService(t, gw)

	mock.ExpectQuery(`FROM orders`).WithArgs("o-1").WillReturnRows(orderRows(order.StatusPartiallyPaid, 40000))
	expectAttempts(mock, paymentRows(payment.StatusSuccess))
	mock.ExpectExec(`INSERT INTO payments`).
		WithArgs(pgxmock.AnyArg(), "o-1", "stub", "ref-1", int64(40000), "pending", "amina@example.com", clock, clock).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	_, err := svc.InitiateOrderPayment(context.Background(), "o-1", "u-1", "amina@example.com")
	require.NoError(t, err)
	require.Equal(t, int64(40000), gw.initiated)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInitiateRefusesWhileChargeIsOpen(t *testing.T) {
	gw := &stubGateway{}
	svc, mock, _ := newService(t, gw)

	mock.ExpectQuery(`FROM orders`).WithArgs("o-1").WillReturnRows(orderRows(order.StatusPendingPayment, 0))
	expectAttempts(mock, paymentRowsAt(payment.StatusPending, clock.Add(-5*time.Minute)))

	_, err := svc.InitiateOrderPayment(context.Background(), "o-1", "u-1", "amina@example.com")
	require.ErrorIs(t, err, payment.ErrChargeInProgress)
	require.Zero(t, gw.initiated)
	require.Equal(t, http.StatusConflict, payment.ErrorFor(err).HTTPStatus)

	// an abandoned charge past the window no longer blocks a retry
	mock.ExpectQuery(`FROM orders`).WithArgs("o-1").WillReturnRows(orderRows(order.StatusPendingPayment, 0))
	expectAttempts(mock, paymentRowsAt(payment.StatusPending, clock.Add(-payment.DefaultPendingWindow)))
	mock.ExpectExec(`INSERT INTO payments`).
		WithArgs(pgxmock.AnyArg(), "o-1", "stub", "ref-1", int64(40000), "pending", "amina@example.com", clock, clock).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	_, err = svc.InitiateOrderPayment(context.Background(), "o-1", "u-1", "amina@example.com")
	require.NoError(t, err)
	require.Equal(t, int64(40000), gw.initiated)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInitiateRejectsPaidAndForeignOrders(t *testing.T) {
	svc, mock, _ := newService(t, &stubGateway{})

	mock.ExpectQuery(`FROM orders`).WithArgs("o-1").WillReturnRows(orderRows(order.StatusPaid, 80000))
	_, err := svc.InitiateOrderPayment(context.Background(), "o-1", "u-1", "amina@example.com")
	require.ErrorIs(t, err, payment.ErrNothingDue)

	mock.ExpectQuery(`FROM orders`).WithArgs("o-1").WillReturnRows(orderRows(order.StatusPendingPayment, 0))
	_, err = svc.InitiateOrderPayment(context.Background(), "o-1", "someone-else", "x@example.com")
	require.ErrorIs(t, err, order.ErrNotFound)
}

func TestConfirmAppliesSuccessfulCharge(t *testing.T) {
	gw := &stubGateway{result: payment.Result{Reference: "ref-1", Status: payment.StatusSuccess, Amount: 40000}}
	svc, mock, rec := newService(t, gw)

	mock.ExpectQuery(`SELECT .+ FROM payments WHERE reference = \$1`).WithArgs("ref-1").WillReturnRows(paymentRows(payment.StatusPending))
	mock.ExpectBegin()
	mock.ExpectQuery(`FROM payments WHERE reference = \$1 FOR UPDATE`).WithArgs("ref-1").WillReturnRows(paymentRows(payment.StatusPending))
	mock.ExpectExec(`UPDATE payments SET status`).WithArgs("p-1", "success", clock).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery(`FROM orders WHERE id = \$1 FOR UPDATE`).WithArgs("o-1").WillReturnRows(orderRows(order.StatusPendingPayment, 0))
	mock.ExpectExec(`UPDATE orders SET amount_paid`).WithArgs("o-1", int64(40000), "partially_paid", clock).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	out, err := svc.Confirm(context.Background(), "ref-1")
	require.NoError(t, err)
	require.True(t, out.Applied)
	require.Equal(t, payment.StatusSuccess, out.Payment.Status)
	require.Equal(t, order.StatusPartiallyPaid, out.Order.Status)
	require.Equal(t, []string{events.TopicOrderPaid}, rec.topics)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConfirmDoesNotCreditSettledOrder(t *testing.T) {
	gw := &stubGateway{result: payment.Result{Reference: "ref-1", Status: payment.StatusSuccess, Amount: 40000}}
	svc, mock, rec := newService(t, gw)

	mock.ExpectQuery(`FROM payments WHERE reference = \$1`).WithArgs("ref-1").WillReturnRows(paymentRows(payment.StatusPending))
	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WithArgs("ref-1").WillReturnRows(paymentRows(payment.StatusPending))
	mock.ExpectExec(`UPDATE payments SET status`).WithArgs("p-1", "success", clock).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery(`FROM orders WHERE id = \$1 FOR UPDATE`).WithArgs("o-1").WillReturnRows(orderRows(order.StatusPaid, 80000))
	mock.ExpectCommit()

	out, err := svc.Confirm(context.Background(), "ref-1")
	require.NoError(t, err)
	require.False(t, out.Applied)
	require.Equal(t, int64(40000), out.RefundDue)
	require.Equal(t, int64(80000), out.Order.AmountPaid)
	require.Empty(t, rec.topics)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConfirmCapsCreditAtOutstanding(t *testing.T) {
	gw := &stubGateway{result: payment.Result{Reference: "ref-1", Status: payment.StatusSuccess, Amount: 40000}}
	svc, mock, rec := newService(t, gw)

	mock.ExpectQuery(`FROM payments WHERE reference = \$1`).WithArgs("ref-1").WillReturnRows(paymentRows(payment.StatusPending))
	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WithArgs("ref-1").WillReturnRows(paymentRows(payment.StatusPending))
	mock.ExpectExec(`UPDATE payments SET status`).WithArgs("p-1", "success", clock).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery(`FROM orders WHERE id = \$1 FOR UPDATE`).WithArgs("o-1").WillReturnRows(orderRows(order.StatusPartiallyPaid, 70000))
	mock.ExpectExec(`UPDATE orders SET amount_paid`).WithArgs("o-1", int64(80000), "paid", clock).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	out, err := svc.Confirm(context.Background(), "ref-1")
	require.NoError(t, err)
	require.True(t, out.Applied)
	require.Equal(t, int64(30000), out.RefundDue)
	require.Equal(t, order.StatusPaid, out.Order.Status)
	require.Equal(t, []string{events.TopicOrderPaid}, rec.topics)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConfirmLeavesPendingChargeAlone(t *testing.T) {
	svc, mock, rec := newService(t, &stubGateway{result: payment.Result{Status: payment.StatusPending}})

	mock.ExpectQuery(`FROM payments`).WithArgs("ref-1").WillReturnRows(paymentRows(payment.StatusPending))

	out, err := svc.Confirm(context.Background(), "ref-1")
	require.NoError(t, err)
	require.False(t, out.Applied)
	require.Empty(t, rec.topics)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConfirmRecordsFailureWithoutCrediting(t *testing.T) {
	svc, mock, rec := newService(t, &stubGateway{result: payment.Result{Status: payment.StatusFailure}})

	mock.ExpectQuery(`FROM payments`).WithArgs("ref-1").WillReturnRows(paymentRows(payment.StatusPending))
	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WithArgs("ref-1").WillReturnRows(paymentRows(payment.StatusPending))
	mock.ExpectExec(`UPDATE payments SET status`).WithArgs("p-1", "failure", clock).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	out, err := svc.Confirm(context.Background(), "ref-1")
	require.NoError(t, err)
	require.Equal(t, payment.StatusFailure, out.Payment.Status)
	require.Nil(t, out.Order)
	require.Empty(t, rec.topics)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConfirmRejectsAmountMismatch(t *testing.T) {
	svc, mock, _ := newService(t, &stubGateway{result: payment.Result{Status: payment.StatusSuccess, Amount: 100}})

	mock.ExpectQuery(`FROM payments`).WithArgs("ref-1").WillReturnRows(paymentRows(payment.StatusPending))

	_, err := svc.Confirm(context.Background(), "ref-1")
	require.ErrorIs(t, err, payment.ErrAmountMismatch)
}

func TestConfirmIsIdempotentOnceSettled(t *testing.T) {
	svc, mock, rec := newService(t, &stubGateway{result: payment.Result{Status: payment.StatusSuccess, Amount: 40000}})

	mock.ExpectQuery(`FROM payments`).WithArgs("ref-1").WillReturnRows(paymentRows(payment.StatusSuccess))

	out, err := svc.Confirm(context.Background(), "ref-1")
	require.NoError(t, err)
	require.False(t, out.Applied)
	require.Empty(t, rec.topics)
}

func webhookRouter(h payment.Webhook) http.Handler {
	r := chi.NewRouter()
	r.Post("/payments/webhook/{provider}", h.Handle)
	return r
}

func TestWebhookReplayIsRejected(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	svc, mock, _ := newService(t, &stubGateway{})
	router := webhookRouter(payment.Webhook{Svc: svc, Replay: rdb, ReplayTTL: time.Minute})

	mock.ExpectQuery(`FROM payments`).WithArgs("ref-1").WillReturnRows(paymentRows(payment.StatusSuccess))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/payments/webhook/stub", strings.NewReader("ref-1")))
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/payments/webhook/stub", strings.NewReader("ref-1")))
	require.Equal(t, http.StatusConflict, rec.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhookFailureAllowsRedelivery(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	svc, mock, _ := newService(t, &stubGateway{})
	router := webhookRouter(payment.Webhook{Svc: svc, Replay: rdb, ReplayTTL: time.Minute})

	mock.ExpectQuery(`FROM payments`).WithArgs("ghost").WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`FROM payments`).WithArgs("ghost").WillReturnError(pgx.ErrNoRows)

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/payments/webhook/stub", strings.NewReader("ghost")))
		require.Equal(t, http.StatusNotFound, rec.Code)
	}
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhookSignatureAndProvider(t *testing.T) {
	svc, _, _ := newService(t, &stubGateway{parseErr: payment.ErrInvalidSignature})
	router := webhookRouter(payment.Webhook{Svc: svc})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/payments/webhook/stub", strings.NewReader("ref-1")))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/payments/webhook/paypal", strings.NewReader("ref-1")))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInitiateHandlerRequiresPayer(t *testing.T) {
	svc, _, _ := newService(t, &stubGateway{})
	h := &payment.Handler{Svc: svc}
	r := chi.NewRouter()
	r.Post("/orders/{id}/payments", h.Initiate)

	req := httptest.NewRequest(http.MethodPost, "/orders/o-1/payments", strings.NewReader(`{}`))
	req = req.WithContext(common.WithUserID(req.Context(), "u-1"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var body map[string]map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Equal(t, "VALIDATION_FAILED", body["error"]["code"])
}
