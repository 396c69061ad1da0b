package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/salon-labs/internal/common"
)

var clock = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func newVerifier(t *testing.T) *Verifier {
	t.Helper()
	v, err := NewVerifier(Config{Secret: "test-secret", Issuer: "salon-idp", Audience: "salon-api", ClockSkew: time.Second})
	require.NoError(t, err)
	v.WithNow(func() time.Time { return clock })
	return v
}

func TestVerifierRoundTrip(t *testing.T) {
	v := newVerifier(t)
	token, err := v.Sign("u-1", "Admin", time.Hour)
	require.NoError(t, err)

	claims, err := v.Parse(token)
	require.NoError(t, err)
	require.Equal(t, Claims{UserID: "u-1", Role: "admin"}, claims)
}

func TestVerifierRejectsExpiredAndForeignTokens(t *testing.T) {
	v := newVerifier(t)
	token, err := v.Sign("u-1", "", time.Minute)
	require.NoError(t, err)

	v.WithNow(func() time.Time { return clock.Add(2 * time.Minute) })
	_, err = v.Parse(token)
	require.ErrorIs(t, err, ErrInvalidToken)

	other, err := NewVerifier(Config{Secret: "test-secret", Issuer: "someone-else", Audience: "salon-api"})
	require.NoError(t, err)
	other.WithNow(func() time.Time { return clock })
	foreign, err := other.Sign("u-1", "", time.Hour)
	require.NoError(t, err)
	v.WithNow(func() time.Time { return clock })
	_, err = v.Parse(foreign)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifierRejectsWrongKeyAndAlgorithm(t *testing.T) {
	v := newVerifier(t)
	tok, err := jwt.NewBuilder().Subject("u-1").Issuer("salon-idp").Audience([]string{"salon-api"}).Expiration(clock.Add(time.Hour)).Build()
	require.NoError(t, err)

	wrongKey, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, []byte("not-the-secret")))
	require.NoError(t, err)
	_, err = v.Parse(string(wrongKey))
	require.ErrorIs(t, err, ErrInvalidToken)

	hs512, err := jwt.Sign(tok, jwt.WithKey(jwa.HS512, []byte("test-secret")))
	require.NoError(t, err)
	_, err = v.Parse(string(hs512))
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = v.Parse("")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewVerifierRequiresSecret(t *testing.T) {
	_, err := NewVerifier(Config{Secret: "  "})
	require.Error(t, err)
}

func TestMiddlewareGates(t *testing.T) {
	v := newVerifier(t)
	m := Middleware{Verifier: v, AccessCookie: "access_token"}
	var seenUser, seenRole string
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenUser, _ = common.UserID(r.Context())
		seenRole = common.Role(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	adminOnly := m.RequireAuth(RequireRole(common.RoleAdmin)(final))

	rec := httptest.NewRecorder()
	adminOnly.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	customer, err := v.Sign("u-2", "", time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+customer)
	rec = httptest.NewRecorder()
	adminOnly.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	admin, err := v.Sign("u-1", common.RoleAdmin, time.Hour)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "access_token", Value: admin})
	rec = httptest.NewRecorder()
	adminOnly.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "u-1", seenUser)
	require.Equal(t, common.RoleAdmin, seenRole)
}

func TestAuthenticateIsOptional(t *testing.T) {
	m := Middleware{Verifier: newVerifier(t)}
	called := false
	h := m.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		_, ok := common.UserID(r.Context())
		require.False(t, ok)
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.True(t, called)
}
