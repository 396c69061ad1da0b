package security

import (
	"crypto/tls"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func okHandler(status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	})
}

func TestBodyLimitAllowsWithinLimit(t *testing.T) {
	var captured string
	handler := BodyLimit{Max: 10}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		captured = string(data)
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/payload", strings.NewReader("hello")))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "hello", captured)
}

func TestBodyLimitRejectsOversized(t *testing.T) {
	handler := BodyLimit{Max: 5}.Middleware(okHandler(http.StatusOK))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/payload", strings.NewReader("excessive")))
	require.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	require.Contains(t, rr.Body.String(), "PAYLOAD_TOO_LARGE")

	req := httptest.NewRequest(http.MethodPost, "/payload", io.NopCloser(strings.NewReader("excessive")))
	req.ContentLength = -1
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestHeaders(t *testing.T) {
	handler := Headers{HSTS: true, HSTSMaxAge: 24 * time.Hour, TrustProxy: true}.Middleware(okHandler(http.StatusOK))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	require.Equal(t, "no-store", rr.Header().Get("Cache-Control"))
	require.Empty(t, rr.Header().Get("Strict-Transport-Security"))

	req.TLS = &tls.ConnectionState{}
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, "max-age=86400; includeSubDomains", rr.Header().Get("Strict-Transport-Security"))

	proxied := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	proxied.Header.Set("X-Forwarded-Proto", "https")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, proxied)
	require.NotEmpty(t, rr.Header().Get("Strict-Transport-Security"))

	rr = httptest.NewRecorder()
	Headers{HSTS: true}.Middleware(okHandler(http.StatusOK)).ServeHTTP(rr, proxied)
	require.Empty(t, rr.Header().Get("Strict-Transport-Security"), "proxy header ignored unless trusted")
}

func TestCSRFOnlyGuardsCookieSessions(t *testing.T) {
	handler := CSRF{Header: "X-CSRF-Token", SessionCookie: "access_token"}.Middleware(okHandler(http.StatusAccepted))

	anonymous := httptest.NewRecorder()
	handler.ServeHTTP(anonymous, httptest.NewRequest(http.MethodPost, "/api/v1/carts", nil))
	require.Equal(t, http.StatusAccepted, anonymous.Code)

	bearer := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", nil)
	bearer.Header.Set("Authorization", "Bearer abc.def")
	bearer.AddCookie(&http.Cookie{Name: "access_token", Value: "tok"})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, bearer)
	require.Equal(t, http.StatusAccepted, rr.Code)

	missing := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", nil)
	missing.AddCookie(&http.Cookie{Name: "access_token", Value: "tok"})
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, missing)
	require.Equal(t, http.StatusForbidden, rr.Code)
	require.Contains(t, rr.Body.String(), "CSRF_REQUIRED")

	mismatch := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", nil)
	mismatch.AddCookie(&http.Cookie{Name: "access_token", Value: "tok"})
	mismatch.AddCookie(&http.Cookie{Name: "X-CSRF-Token", Value: "abc"})
	mismatch.Header.Set("X-CSRF-Token", "abd")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, mismatch)
	require.Equal(t, http.StatusForbidden, rr.Code)

	valid := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", nil)
	valid.AddCookie(&http.Cookie{Name: "access_token", Value: "tok"})
	valid.AddCookie(&http.Cookie{Name: "X-CSRF-Token", Value: "abc"})
	valid.Header.Set("X-CSRF-Token", "abc")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, valid)
	require.Equal(t, http.StatusAccepted, rr.Code)
}

func TestBasicAuth(t *testing.T) {
	h := BasicAuth{User: "ops", Pass: "s3cret"}.Middleware(okHandler(http.StatusOK))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Equal(t, `Basic realm="restricted"`, rr.Header().Get("WWW-Authenticate"))

	req := httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil)
	req.SetBasicAuth("ops", "wrong")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	req.SetBasicAuth("ops", "s3cret")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	BasicAuth{}.Middleware(okHandler(http.StatusNoContent)).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusNoContent, rr.Code)
}
