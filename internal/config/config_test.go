package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func baseEnv() map[string]string {
	return map[string]string{
		"DATABASE_URL":     "postgres://localhost:5432/salon",
		"REDIS_URL":        "redis://localhost:6379/0",
		"JWT_SECRET":       "secret",
		"PAYMENT_PROVIDER": "",
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadMap(baseEnv())
	require.NoError(t, err)
	require.Equal(t, int64(20000), cfg.Pricing.MinimumCartValue)
	require.Equal(t, int64(50000), cfg.Pricing.FullPaymentThreshold)
	require.Equal(t, int64(50000), cfg.Pricing.PartialPaymentThreshold)
	require.Equal(t, float64(50), cfg.Pricing.PartialPaymentPercentage)
	require.Equal(t, 10*time.Hour, cfg.Pricing.CancellationWindow)
	require.Equal(t, int64(5000), cfg.Pricing.PriorityFee)
	require.Equal(t, "sandbox", cfg.Payments.Provider)
	require.Equal(t, ":8080", cfg.HTTPAddr())
	require.Equal(t, "Africa/Nairobi", cfg.Pricing.Location().String())
}

func TestLoadOverrides(t *testing.T) {
	env := baseEnv()
	env["PRICING_PARTIAL_PAYMENT_THRESHOLD"] = "80000"
	env["PRICING_PARTIAL_PAYMENT_PERCENTAGE"] = "40"
	env["BOOKING_CANCELLATION_WINDOW_HOURS"] = "24"
	env["CORS_ALLOWED_ORIGINS"] = "https://a.example, https://b.example"
	env["PORT"] = ":9090"

	cfg, err := LoadMap(env)
	require.NoError(t, err)
	require.Equal(t, int64(80000), cfg.Pricing.PartialPaymentThreshold)
	require.Equal(t, float64(40), cfg.Pricing.PartialPaymentPercentage)
	require.Equal(t, 24*time.Hour, cfg.Pricing.CancellationWindow)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
	require.Equal(t, ":9090", cfg.HTTPAddr())
}

func TestLoadRejectsInvalidPricing(t *testing.T) {
	env := baseEnv()
	env["PRICING_PARTIAL_PAYMENT_PERCENTAGE"] = "150"
	_, err := LoadMap(env)
	require.Error(t, err)

	env = baseEnv()
	env["PRICING_PARTIAL_PAYMENT_THRESHOLD"] = "1000"
	_, err = LoadMap(env)
	require.Error(t, err)
}

func TestLoadRequiresProviderKeys(t *testing.T) {
	env := baseEnv()
	env["PAYMENT_PROVIDER"] = "paystack"
	env["PAYSTACK_SECRET_KEY"] = ""
	_, err := LoadMap(env)
	require.Error(t, err)

	env["PAYSTACK_SECRET_KEY"] = "sk_test"
	cfg, err := LoadMap(env)
	require.NoError(t, err)
	require.Equal(t, "paystack", cfg.Payments.Provider)

	env["PAYMENT_PROVIDER"] = "midtrans"
	_, err = LoadMap(env)
	require.Error(t, err)
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	env := baseEnv()
	env["DATABASE_URL"] = ""
	_, err := LoadMap(env)
	require.Error(t, err)
}

func TestLoadMapReportsEveryBadValue(t *testing.T) {
	env := baseEnv()
	env["CART_TTL"] = "a week"
	env["PRICING_PRIORITY_FEE"] = "5k"
	env["AUDIT_ENABLED"] = "maybe"
	env["JWT_SECRET"] = ""

	_, err := LoadMap(env)
	require.Error(t, err)
	for _, key := range []string{"CART_TTL", "PRICING_PRIORITY_FEE", "AUDIT_ENABLED", "JWT_SECRET"} {
		require.Contains(t, err.Error(), key)
	}
}

func TestLoadMapSwitches(t *testing.T) {
	env := baseEnv()
	env["AUDIT_ENABLED"] = "off"
	env["NOTIFY_EMAIL_ENABLED"] = "yes"
	env["PRICING_CURRENCY"] = "usd"

	cfg, err := LoadMap(env)
	require.NoError(t, err)
	require.False(t, cfg.AuditEnabled)
	require.True(t, cfg.Notify.Enabled)
	require.Equal(t, "USD", cfg.Pricing.Currency)
}

func TestLoadMapOps(t *testing.T) {
	env := baseEnv()
	env["OBS_ENABLE_TRACING"] = "false"
	env["HEALTH_READY_DB_TIMEOUT"] = "750ms"
	env["HTTP_MAX_BODY_BYTES"] = "2048"

	cfg, err := LoadMap(env)
	require.NoError(t, err)
	require.False(t, cfg.Ops.TracingEnabled)
	require.True(t, cfg.Ops.MetricsEnabled)
	require.Equal(t, 750*time.Millisecond, cfg.Ops.ReadyDBTimeout)
	require.Equal(t, int64(2048), cfg.Ops.MaxBodyBytes)
	require.Equal(t, "salon", cfg.Ops.MetricsNamespace)

	env["APP_ENV"] = "production"
	env["OBS_ENABLE_PPROF"] = "true"
	_, err = LoadMap(env)
	require.ErrorContains(t, err, "SECURE_PPROF_BASIC_AUTH_USER")
}
