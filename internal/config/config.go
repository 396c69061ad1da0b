package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Pricing holds the numeric knobs consumed by the pricing and ledger engines.
type Pricing struct {
	Currency                 string
	MinimumCartValue         int64
	FullPaymentThreshold     int64
	PartialPaymentThreshold  int64
	PartialPaymentPercentage float64
	TaxPercentage            float64
	PriorityFee              int64
	HighValueOrderLimit      int64
	NewDomainSetupFee        int64
	NewDomainAnnualFee       int64
	CancellationWindow       time.Duration
	SalonTimezone            string
}

// Payments configures the gateway used for Labs orders.
type Payments struct {
	Provider          string
	CallbackBaseURL   string
	PaystackSecretKey string
	PaystackBaseURL   string
	MPesaBaseURL      string
	MPesaConsumerKey  string
	MPesaConsumerSec  string
	MPesaShortcode    string
	MPesaPasskey      string
	GatewayTimeout    time.Duration
	RetryMaxAttempts  int
	RetryBase         time.Duration
	WebhookReplayTTL  time.Duration
	PendingWindow     time.Duration
}

// Notify configures outbound email.
type Notify struct {
	Enabled        bool
	From           string
	FromName       string
	SendGridAPIKey string
}

// Ops holds process-level switches for logging, telemetry and the HTTP edge.
type Ops struct {
	LogFormat          string
	LogLevel           string
	MetricsEnabled     bool
	MetricsNamespace   string
	MetricsBucketsMS   string
	TracingEnabled     bool
	TracingExporter    string
	OTLPEndpoint       string
	TracingSampleRatio float64
	PprofEnabled       bool
	PprofUser          string
	PprofPass          string
	MigrateOnStart     bool
	TrustProxy         bool
	MaxBodyBytes       int64
	ReadyDBTimeout     time.Duration
	ReadyRedisTimeout  time.Duration
	ShutdownTimeout    time.Duration
}

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	JWTSecret          string
	JWTIssuer          string
	JWTAudience        string
	CORSAllowedOrigins []string

	CartTTL             time.Duration
	IdempotencyTTL      time.Duration
	LockTTL             time.Duration
	LockRetryBackoff    time.Duration
	CatalogCacheTTL     time.Duration
	CurrencyRateTTL     time.Duration
	DiscountRateMax     int
	DiscountRateWindow  time.Duration
	APIRateLimit        string
	MigrationsPath      string
	AuditEnabled        bool

	Pricing  Pricing
	Payments Payments
	Notify   Notify
	Ops      Ops
}

// Load reads configuration from the process environment, after merging an
// optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}
	return build(k)
}

// LoadMap builds a Config from vals alone, ignoring the process environment.
func LoadMap(vals map[string]string) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(mapProvider(vals), nil); err != nil {
		return nil, fmt.Errorf("load map: %w", err)
	}
	return build(k)
}

func build(k *koanf.Koanf) (*Config, error) {
	r := &reader{k: k}
	cfg := &Config{
		AppEnv:             r.str("APP_ENV", "development"),
		Port:               r.str("PORT", "8080"),
		DatabaseURL:        r.str("DATABASE_URL", ""),
		RedisURL:           r.str("REDIS_URL", ""),
		JWTSecret:          r.str("JWT_SECRET", ""),
		JWTIssuer:          r.str("JWT_ISSUER", "salon-labs"),
		JWTAudience:        r.str("JWT_AUDIENCE", "salon-labs-api"),
		CORSAllowedOrigins: r.list("CORS_ALLOWED_ORIGINS"),

		CartTTL:            get(r, "CART_TTL", 168*time.Hour, time.ParseDuration),
		IdempotencyTTL:     get(r, "IDEMPOTENCY_TTL", 24*time.Hour, time.ParseDuration),
		LockTTL:            get(r, "LOCK_TTL", 10*time.Second, time.ParseDuration),
		LockRetryBackoff:   get(r, "LOCK_RETRY_BACKOFF", 50*time.Millisecond, time.ParseDuration),
		CatalogCacheTTL:    get(r, "CATALOG_CACHE_TTL", 5*time.Minute, time.ParseDuration),
		CurrencyRateTTL:    get(r, "CURRENCY_RATE_TTL", 6*time.Hour, time.ParseDuration),
		DiscountRateMax:    get(r, "DISCOUNT_VALIDATE_RATE_MAX", 10, strconv.Atoi),
		DiscountRateWindow: get(r, "DISCOUNT_VALIDATE_RATE_WINDOW", time.Minute, time.ParseDuration),
		APIRateLimit:       r.str("API_RATE_LIMIT", "300-M"),
		MigrationsPath:     r.str("MIGRATIONS_PATH", "file://migrations"),
		AuditEnabled:       get(r, "AUDIT_ENABLED", true, parseSwitch),

		Pricing: Pricing{
			Currency:                 strings.ToUpper(r.str("PRICING_CURRENCY", "KES")),
			MinimumCartValue:         get(r, "PRICING_MINIMUM_CART_VALUE", int64(20000), parseInt64),
			FullPaymentThreshold:     get(r, "PRICING_FULL_PAYMENT_THRESHOLD", int64(50000), parseInt64),
			PartialPaymentThreshold:  get(r, "PRICING_PARTIAL_PAYMENT_THRESHOLD", int64(50000), parseInt64),
			PartialPaymentPercentage: get(r, "PRICING_PARTIAL_PAYMENT_PERCENTAGE", 50.0, parseFloat),
			TaxPercentage:            get(r, "PRICING_TAX_PERCENTAGE", 0.0, parseFloat),
			PriorityFee:              get(r, "PRICING_PRIORITY_FEE", int64(5000), parseInt64),
			HighValueOrderLimit:      get(r, "PRICING_HIGH_VALUE_ORDER_LIMIT", int64(500000), parseInt64),
			NewDomainSetupFee:        get(r, "PRICING_NEW_DOMAIN_SETUP_FEE", int64(1500), parseInt64),
			NewDomainAnnualFee:       get(r, "PRICING_NEW_DOMAIN_ANNUAL_FEE", int64(1500), parseInt64),
			CancellationWindow:       time.Duration(get(r, "BOOKING_CANCELLATION_WINDOW_HOURS", 10, strconv.Atoi)) * time.Hour,
			SalonTimezone:            r.str("SALON_TIMEZONE", "Africa/Nairobi"),
		},
		Payments: Payments{
			Provider:          strings.ToLower(r.str("PAYMENT_PROVIDER", "sandbox")),
			CallbackBaseURL:   r.str("PAYMENT_CALLBACK_BASE_URL", ""),
			PaystackSecretKey: r.str("PAYSTACK_SECRET_KEY", ""),
			PaystackBaseURL:   r.str("PAYSTACK_BASE_URL", "https://api.paystack.co"),
			MPesaBaseURL:      r.str("MPESA_BASE_URL", "https://sandbox.safaricom.co.ke"),
			MPesaConsumerKey:  r.str("MPESA_CONSUMER_KEY", ""),
			MPesaConsumerSec:  r.str("MPESA_CONSUMER_SECRET", ""),
			MPesaShortcode:    r.str("MPESA_SHORTCODE", ""),
			MPesaPasskey:      r.str("MPESA_PASSKEY", ""),
			GatewayTimeout:    get(r, "GATEWAY_TIMEOUT", 15*time.Second, time.ParseDuration),
			RetryMaxAttempts:  get(r, "RETRY_MAX_ATTEMPTS", 3, strconv.Atoi),
			RetryBase:         get(r, "RETRY_BASE", 200*time.Millisecond, time.ParseDuration),
			WebhookReplayTTL:  get(r, "PAYMENT_WEBHOOK_REPLAY_TTL", 48*time.Hour, time.ParseDuration),
			PendingWindow:     get(r, "PAYMENT_PENDING_WINDOW", 30*time.Minute, time.ParseDuration),
		},
		Notify: Notify{
			Enabled:        get(r, "NOTIFY_EMAIL_ENABLED", false, parseSwitch),
			From:           r.str("NOTIFY_EMAIL_FROM", "bookings@example.com"),
			FromName:       r.str("NOTIFY_EMAIL_FROM_NAME", "Salon Labs"),
			SendGridAPIKey: r.str("SENDGRID_API_KEY", ""),
		},
		Ops: Ops{
			LogFormat:          r.str("OBS_LOG_FORMAT", "json"),
			LogLevel:           r.str("OBS_LOG_LEVEL", "info"),
			MetricsEnabled:     get(r, "OBS_ENABLE_PROMETHEUS", true, parseSwitch),
			MetricsNamespace:   r.str("OBS_METRICS_NAMESPACE", "salon"),
			MetricsBucketsMS:   r.str("OBS_METRICS_BUCKETS_MS", ""),
			TracingEnabled:     get(r, "OBS_ENABLE_TRACING", true, parseSwitch),
			TracingExporter:    r.str("OBS_TRACING_EXPORTER", "otlp"),
			OTLPEndpoint:       r.str("OBS_OTLP_ENDPOINT", ""),
			TracingSampleRatio: get(r, "OBS_TRACING_SAMPLING_RATIO", 1.0, parseFloat),
			PprofEnabled:       get(r, "OBS_ENABLE_PPROF", false, parseSwitch),
			PprofUser:          r.str("SECURE_PPROF_BASIC_AUTH_USER", ""),
			PprofPass:          r.str("SECURE_PPROF_BASIC_AUTH_PASS", ""),
			MigrateOnStart:     get(r, "MIGRATE_ON_START", false, parseSwitch),
			TrustProxy:         get(r, "HTTP_TRUST_PROXY", true, parseSwitch),
			MaxBodyBytes:       get(r, "HTTP_MAX_BODY_BYTES", int64(1<<20), parseInt64),
			ReadyDBTimeout:     get(r, "HEALTH_READY_DB_TIMEOUT", 500*time.Millisecond, time.ParseDuration),
			ReadyRedisTimeout:  get(r, "HEALTH_READY_REDIS_TIMEOUT", 300*time.Millisecond, time.ParseDuration),
			ShutdownTimeout:    get(r, "HTTP_SHUTDOWN_TIMEOUT", 15*time.Second, time.ParseDuration),
		},
	}

	for key, v := range map[string]string{"DATABASE_URL": cfg.DatabaseURL, "REDIS_URL": cfg.RedisURL, "JWT_SECRET": cfg.JWTSecret} {
		if v == "" {
			r.errs = append(r.errs, fmt.Errorf("%s is required", key))
		}
	}
	r.check(cfg.Pricing.validate())
	r.check(cfg.Payments.validate())
	if cfg.Ops.PprofEnabled && cfg.AppEnv == "production" && cfg.Ops.PprofUser == "" {
		r.errs = append(r.errs, errors.New("SECURE_PPROF_BASIC_AUTH_USER is required to expose pprof in production"))
	}
	if err := errors.Join(r.errs...); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func (p Payments) validate() error {
	switch p.Provider {
	case "sandbox":
	case "paystack":
		if p.PaystackSecretKey == "" {
			return errors.New("PAYSTACK_SECRET_KEY is required for the paystack provider")
		}
	case "mpesa":
		if p.MPesaConsumerKey == "" || p.MPesaShortcode == "" {
			return errors.New("MPESA_CONSUMER_KEY and MPESA_SHORTCODE are required for the mpesa provider")
		}
	default:
		return fmt.Errorf("unsupported PAYMENT_PROVIDER %q", p.Provider)
	}
	return nil
}

func (p Pricing) validate() error {
	if p.PartialPaymentPercentage < 0 || p.PartialPaymentPercentage > 100 {
		return errors.New("PRICING_PARTIAL_PAYMENT_PERCENTAGE must be between 0 and 100")
	}
	if p.TaxPercentage < 0 {
		return errors.New("PRICING_TAX_PERCENTAGE must not be negative")
	}
	if p.PartialPaymentThreshold < p.FullPaymentThreshold {
		return errors.New("PRICING_PARTIAL_PAYMENT_THRESHOLD must not be below PRICING_FULL_PAYMENT_THRESHOLD")
	}
	if _, err := time.LoadLocation(p.SalonTimezone); err != nil {
		return fmt.Errorf("SALON_TIMEZONE: %w", err)
	}
	return nil
}

// Location returns the salon's time zone.
func (p Pricing) Location() *time.Location {
	loc, err := time.LoadLocation(p.SalonTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// reader pulls typed values out of koanf and collects every bad one, so a
// misconfigured deploy reports all its mistakes at once.
type reader struct {
	k    *koanf.Koanf
	errs []error
}

func (r *reader) str(key, def string) string {
	if v := strings.TrimSpace(r.k.String(key)); v != "" {
		return v
	}
	return def
}

func (r *reader) list(key string) []string {
	var out []string
	for _, part := range strings.Split(r.k.String(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (r *reader) check(err error) {
	if err != nil {
		r.errs = append(r.errs, err)
	}
}

// get parses key with parse, falling back to def when the key is unset.
func get[T any](r *reader, key string, def T, parse func(string) (T, error)) T {
	raw := strings.TrimSpace(r.k.String(key))
	if raw == "" {
		return def
	}
	v, err := parse(raw)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: invalid value %q", key, raw))
		return def
	}
	return v
}

func parseInt64(s string) (int64, error)   { return strconv.ParseInt(s, 10, 64) }
func parseFloat(s string) (float64, error) { return strconv.ParseFloat(s, 64) }

func parseSwitch(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("not a switch: %q", s)
}

type mapProvider map[string]string

func (m mapProvider) ReadBytes() ([]byte, error) {
	return nil, errors.New("config: map provider does not support bytes")
}

func (m mapProvider) Read() (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out, nil
}
