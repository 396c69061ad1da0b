package booking

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/salon-labs/internal/ledger"
)

type envelope struct {
	Data struct {
		ID         string `json:"id"`
		Status     string `json:"status"`
		Deposit    int64  `json:"deposit"`
		Balance    int64  `json:"balance"`
		MaxPayment int64  `json:"maxPayment"`
	} `json:"data"`
	Meta struct {
		Directives []string `json:"directives"`
	} `json:"meta"`
	Error struct {
		Code string `json:"code"`
	} `json:"error"`
}

func withID(r *http.Request, id string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", id)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func TestHandlerRecordPayment(t *testing.T) {
	svc, mock, _, _ := newService(t)
	h := &Handler{Svc: svc}
	b := sample(t)

	expectLockedRead(t, mock, b)
	expectUpdate(mock, updateArgs("bk-1", ledger.StatusPaid), 1)
	mock.ExpectCommit()

	req := withID(httptest.NewRequest(http.MethodPost, "/api/v1/bookings/bk-1/payments", strings.NewReader(`{"amount":10000,"method":"cash"}`)), "bk-1")
	rec := httptest.NewRecorder()
	h.RecordPayment(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	env := decode(t, rec)
	require.Equal(t, "paid", env.Data.Status)
	require.Zero(t, env.Data.Balance)
	require.Equal(t, []string{"send_aftercare"}, env.Meta.Directives)
}

func TestHandlerRecordPaymentOverBalance(t *testing.T) {
	svc, mock, _, _ := newService(t)
	h := &Handler{Svc: svc}
	expectLockedRead(t, mock, sample(t))

	req := withID(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":20000,"method":"cash"}`)), "bk-1")
	rec := httptest.NewRecorder()
	h.RecordPayment(rec, req)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "INVALID_AMOUNT", decode(t, rec).Error.Code)
}

func TestHandlerRejectsUnknownMethod(t *testing.T) {
	svc, _, _, _ := newService(t)
	h := &Handler{Svc: svc}

	req := withID(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":100,"method":"cheque"}`)), "bk-1")
	rec := httptest.NewRecorder()
	h.RecordPayment(rec, req)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "VALIDATION_FAILED", decode(t, rec).Error.Code)
}

func TestHandlerGetReportsWalkInBalance(t *testing.T) {
	svc, mock, _, _ := newService(t)
	h := &Handler{Svc: svc}
	b := sample(t)
	b.Kind = "walk_in"
	b.Deposit = 0
	b.FinalPrice = 8000
	b.PaymentHistory = nil

	mock.ExpectQuery(`SELECT .+ FROM bookings WHERE id = \$1$`).WithArgs("bk-1").WillReturnRows(bookingRows(t, b))

	rec := httptest.NewRecorder()
	h.Get(rec, withID(httptest.NewRequest(http.MethodGet, "/", nil), "bk-1"))

	require.Equal(t, http.StatusOK, rec.Code)
	env := decode(t, rec)
	require.Equal(t, int64(8000), env.Data.Balance)
	require.Equal(t, int64(8000), env.Data.MaxPayment)
}

func TestHandlerCompleteCancelledBookingConflicts(t *testing.T) {
	svc, mock, _, _ := newService(t)
	h := &Handler{Svc: svc}
	b := sample(t)
	b.Status = "cancelled"
	expectLockedRead(t, mock, b)

	rec := httptest.NewRecorder()
	h.Complete(rec, withID(httptest.NewRequest(http.MethodPost, "/", nil), "bk-1"))

	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "UNAUTHORIZED", decode(t, rec).Error.Code)
}
