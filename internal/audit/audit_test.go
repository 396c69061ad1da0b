package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/salon-labs/internal/common"
	"github.com/noah-isme/salon-labs/internal/obs"
)

var clock = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

type memStore struct {
	entries []Entry
	filter  Filter
}

func (m *memStore) Insert(_ context.Context, e Entry) error {
	m.entries = append(m.entries, e)
	return nil
}

func (m *memStore) List(_ context.Context, f Filter) ([]Entry, error) {
	m.filter = f
	return m.entries, nil
}

func TestServiceRecordDerivesActionAndResource(t *testing.T) {
	store := &memStore{}
	svc := Service{Store: store, Enabled: true, Now: func() time.Time { return clock }}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/bookings/bk-1/fine?source=desk", nil)
	req.Header.Set("X-Request-ID", "req-123")
	req.RemoteAddr = "10.0.0.2:54321"
	req = req.WithContext(obs.WithRoutePattern(req.Context(), "/api/v1/admin/bookings/{id}/fine"))

	err := svc.Record(req.Context(), Actor{UserID: "admin-1", Role: "admin"}, "", "", "bk-1", req, http.StatusOK, nil)
	require.NoError(t, err)
	require.Len(t, store.entries, 1)
	e := store.entries[0]
	require.Equal(t, "POST /api/v1/admin/bookings/{id}/fine", e.Action)
	require.Equal(t, "admin.bookings.fine", e.ResourceType)
	require.Equal(t, "bk-1", e.ResourceID)
	require.Equal(t, "10.0.0.2", e.IP)
	require.Equal(t, "req-123", e.RequestID)
	require.Equal(t, clock, e.CreatedAt)
	require.JSONEq(t, `{"query":"source=desk"}`, string(e.Metadata))
}

func TestServiceRecordDisabled(t *testing.T) {
	store := &memStore{}
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	require.NoError(t, Service{Store: store}.Record(req.Context(), Actor{}, "", "", "", req, http.StatusOK, nil))
	require.Empty(t, store.entries)
}

func TestMiddlewareRecordsWritesOnly(t *testing.T) {
	store := &memStore{}
	rec := HTTPRecorder{Service: &Service{Store: store, Enabled: true}}

	r := chi.NewRouter()
	r.With(rec.Middleware(HTTPConfig{
		Action:          "booking.cancel",
		ResourceType:    "booking",
		ResourceIDParam: "id",
		MetadataFunc: func(_ *http.Request, status int) map[string]any {
			return map[string]any{"status": status}
		},
	})).Post("/bookings/{id}/cancel", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})
	r.With(rec.Middleware(HTTPConfig{ResourceType: "booking"})).Get("/bookings/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/bookings/bk-9/cancel", nil)
	req = req.WithContext(common.WithRole(common.WithUserID(req.Context(), "admin-1"), common.RoleAdmin))
	r.ServeHTTP(httptest.NewRecorder(), req)
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/bookings/bk-9", nil))

	require.Len(t, store.entries, 1)
	e := store.entries[0]
	require.Equal(t, "booking.cancel", e.Action)
	require.Equal(t, "bk-9", e.ResourceID)
	require.Equal(t, http.StatusConflict, e.Status)
	require.Equal(t, "admin-1", e.ActorID)
	require.Equal(t, common.RoleAdmin, e.ActorRole)
	require.JSONEq(t, `{"status":409}`, string(e.Metadata))
}

func TestPGStoreInsertAndList(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store := PGStore{DB: mock}

	e := Entry{ID: "a-1", ActorID: "admin-1", ActorRole: "admin", Action: "booking.fine", ResourceType: "booking",
		ResourceID: "bk-1", Method: "POST", Route: "/api/v1/admin/bookings/{id}/fine", Status: 200, CreatedAt: clock}
	mock.ExpectExec(`INSERT INTO admin_audit_logs`).
		WithArgs("a-1", "admin-1", "admin", "booking.fine", "booking", "bk-1", "POST", e.Route,
			int32(200), "", "", pgxmock.AnyArg(), clock).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, store.Insert(context.Background(), e))

	cols := []string{"id", "actor_id", "actor_role", "action", "resource_type", "resource_id", "method", "route",
		"status", "ip", "request_id", "metadata", "created_at"}
	mock.ExpectQuery(`FROM admin_audit_logs WHERE resource_type = \$1 AND resource_id = \$2 ORDER BY created_at DESC LIMIT \$3 OFFSET \$4`).
		WithArgs("booking", "bk-1", 20, 40).
		WillReturnRows(pgxmock.NewRows(cols).AddRow("a-1", "admin-1", "admin", "booking.fine", "booking", "bk-1",
			"POST", e.Route, int32(200), "", "", []byte(`{"amount":500}`), clock))

	got, err := store.List(context.Background(), Filter{ResourceType: "booking", ResourceID: "bk-1", Limit: 20, Offset: 40})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, 200, got[0].Status)
	require.JSONEq(t, `{"amount":500}`, string(got[0].Metadata))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandlerListPaginates(t *testing.T) {
	store := &memStore{entries: []Entry{{ID: "a-1", Action: "booking.cancel"}}}
	h := Handler{Svc: &Service{Store: store}}

	rr := httptest.NewRecorder()
	h.List(rr, httptest.NewRequest(http.MethodGet, "/admin/audit-logs?page=3&limit=25&resourceType=booking", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, Filter{ResourceType: "booking", Limit: 25, Offset: 50}, store.filter)

	var body struct {
		Data []Entry `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)

	rr = httptest.NewRecorder()
	Handler{}.List(rr, httptest.NewRequest(http.MethodGet, "/admin/audit-logs", nil))
	require.Equal(t, http.StatusInternalServerError, rr.Code)
}
