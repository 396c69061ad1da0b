package obs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestHTTPMetricsUseMatchedRoute(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewHTTPMetrics("salon", []float64{10, 1}, reg)

	r := chi.NewRouter()
	r.Use(HTTPObs{Metrics: metrics}.Middleware)
	r.Get("/api/v1/carts/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/carts/c-1", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/carts/c-2", nil))

	require.Equal(t, 2.0, testutil.ToFloat64(metrics.ReqTotal.WithLabelValues(http.MethodGet, "/api/v1/carts/{id}", "204")))
	require.Equal(t, 1, testutil.CollectAndCount(metrics.ReqDur))
	require.Equal(t, 0.0, testutil.ToFloat64(metrics.InFlight.WithLabelValues("carts")))

	again := NewHTTPMetrics("salon", nil, reg)
	require.Same(t, metrics.ReqTotal, again.ReqTotal)
}

func TestAreaAndBuckets(t *testing.T) {
	require.Equal(t, "admin", Area("/api/v1/admin/bookings/{id}"))
	require.Equal(t, "carts", Area("/api/v1/carts"))
	require.Equal(t, "health", Area("/health/ready"))
	require.Equal(t, "other", Area("/metrics"))
	require.Equal(t, []float64{5, 12.5}, ParseBucketsCSV("5, x, -1, 12.5,"))
	require.Nil(t, ParseBucketsCSV(""))
}

func TestRequestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "json", "debug")

	r := chi.NewRouter()
	r.Use(RequestLogger{Logger: logger, Quiet: []string{"/health/live"}}.Middleware)
	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {})
	r.Post("/api/v1/checkout", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	})
	r.Get("/api/v1/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	levels := func() []map[string]any {
		var out []map[string]any
		dec := json.NewDecoder(&buf)
		for dec.More() {
			var m map[string]any
			require.NoError(t, dec.Decode(&m))
			out = append(out, m)
		}
		return out
	}

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health/live", nil))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", nil)
	req.Header.Set("Idempotency-Key", "k-1")
	r.ServeHTTP(httptest.NewRecorder(), req)
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/orders/o-1", nil))

	lines := levels()
	require.Len(t, lines, 3)
	require.Equal(t, "debug", lines[0]["level"])
	require.Equal(t, "warn", lines[1]["level"])
	require.Equal(t, "k-1", lines[1]["idempotency_key"])
	require.Equal(t, "checkout", lines[1]["area"])
	require.Equal(t, "error", lines[2]["level"])
	require.Equal(t, "/api/v1/orders/{id}", lines[2]["route"])
	require.Equal(t, "salon-labs", lines[2]["service"])
}

func TestNewLoggerDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "json", "nonsense")
	require.Equal(t, zerolog.InfoLevel, logger.GetLevel())
}

func withRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return sr
}

func TestTracingMiddlewareNamesSpanAfterRouting(t *testing.T) {
	sr := withRecorder(t)

	r := chi.NewRouter()
	r.Use(TracingMiddleware)
	r.Post("/api/v1/payments/webhook/{provider}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook/mpesa", nil))

	spans := sr.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, "POST /api/v1/payments/webhook/{provider}", spans[0].Name())
	require.Equal(t, codes.Error, spans[0].Status().Code)
}

func TestPGXTracerRecordsOutcome(t *testing.T) {
	sr := withRecorder(t)
	tracer := PGXTracer{}

	ctx := tracer.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "  update bookings set status = $1 where id = $2", Args: []any{"cancelled", "bk-1"}})
	tracer.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{CommandTag: pgconn.NewCommandTag("UPDATE 1")})

	ctx = tracer.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "SELECT 1"})
	tracer.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{Err: errors.New("boom")})

	spans := sr.Ended()
	require.Len(t, spans, 2)
	require.Equal(t, "pg UPDATE", spans[0].Name())
	require.Equal(t, codes.Unset, spans[0].Status().Code)
	require.Equal(t, "pg SELECT", spans[1].Name())
	require.Equal(t, codes.Error, spans[1].Status().Code)
}

func TestDomainCountersAreOptional(t *testing.T) {
	Inc(nil, "x")
	reg := prometheus.NewRegistry()
	vec := counterVec(reg, "salon", "test_total", "test", "result")
	Inc(vec, "ok")
	require.Equal(t, 1.0, testutil.ToFloat64(vec.WithLabelValues("ok")))
}
