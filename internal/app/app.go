// Package app is the composition root shared by the API process and tools.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/salon-labs/internal/audit"
	"github.com/noah-isme/salon-labs/internal/auth"
	"github.com/noah-isme/salon-labs/internal/booking"
	"github.com/noah-isme/salon-labs/internal/cart"
	"github.com/noah-isme/salon-labs/internal/catalog"
	"github.com/noah-isme/salon-labs/internal/checkout"
	"github.com/noah-isme/salon-labs/internal/common"
	"github.com/noah-isme/salon-labs/internal/config"
	"github.com/noah-isme/salon-labs/internal/currency"
	"github.com/noah-isme/salon-labs/internal/db"
	"github.com/noah-isme/salon-labs/internal/events"
	"github.com/noah-isme/salon-labs/internal/ledger"
	"github.com/noah-isme/salon-labs/internal/lock"
	"github.com/noah-isme/salon-labs/internal/notify"
	"github.com/noah-isme/salon-labs/internal/obs"
	"github.com/noah-isme/salon-labs/internal/order"
	"github.com/noah-isme/salon-labs/internal/payment"
	"github.com/noah-isme/salon-labs/internal/pricing"
	"github.com/noah-isme/salon-labs/internal/voucher"
)

// App holds the wired services. Handlers are built from it in cmd/api.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Pool   db.Pool
	Redis  *redis.Client

	Verifier     *auth.Verifier
	Bus          *events.Bus
	Bookings     *booking.Service
	BookingStore *booking.Store
	Vouchers     *voucher.Service
	VoucherStore *voucher.Store
	Catalog      *catalog.Service
	Carts        *cart.Service
	Checkout     *checkout.Service
	Orders       *order.Store
	Payments     *payment.Service
	Rates        currency.RateCache
	Audit        *audit.Service
}

// Connections are the process-wide clients opened by Open.
type Connections struct {
	Pool  *pgxpool.Pool
	Redis *redis.Client
}

// Close releases both clients.
func (c Connections) Close() error {
	var errs []error
	if c.Redis != nil {
		errs = append(errs, c.Redis.Close())
	}
	if c.Pool != nil {
		c.Pool.Close()
	}
	return errors.Join(errs...)
}

// Open connects to postgres and redis with tracing attached and pings both.
func Open(ctx context.Context, cfg *config.Config, appName string, redisMetrics bool) (Connections, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return Connections{}, fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = appName

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return Connections{}, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return Connections{}, fmt.Errorf("ping database: %w", err)
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		pool.Close()
		return Connections{}, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(rdb); err != nil {
		_ = rdb.Close()
		pool.Close()
		return Connections{}, fmt.Errorf("instrument redis tracing: %w", err)
	}
	if redisMetrics {
		if err := redisotel.InstrumentMetrics(rdb); err != nil {
			_ = rdb.Close()
			pool.Close()
			return Connections{}, fmt.Errorf("instrument redis metrics: %w", err)
		}
	}
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		pool.Close()
		return Connections{}, fmt.Errorf("ping redis: %w", err)
	}
	return Connections{Pool: pool, Redis: rdb}, nil
}

// Wire builds every service on top of pool and rdb.
func Wire(cfg *config.Config, logger zerolog.Logger, pool db.Pool, rdb *redis.Client) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	verifier, err := auth.NewVerifier(auth.Config{
		Secret:    cfg.JWTSecret,
		Issuer:    cfg.JWTIssuer,
		Audience:  cfg.JWTAudience,
		ClockSkew: 30 * time.Second,
	})
	if err != nil {
		return nil, err
	}
	gateway, err := NewGateway(cfg.Payments)
	if err != nil {
		return nil, err
	}

	location := cfg.Pricing.Location()
	locker := lock.Locker{R: rdb, RetryBackoff: cfg.LockRetryBackoff, MaxWait: cfg.LockTTL}
	policy := pricing.PaymentPolicy{
		FullPaymentThreshold:     cfg.Pricing.FullPaymentThreshold,
		PartialPaymentThreshold:  cfg.Pricing.PartialPaymentThreshold,
		PartialPaymentPercentage: cfg.Pricing.PartialPaymentPercentage,
	}
	fees := cart.FeeConfig{
		PriorityFee:        cfg.Pricing.PriorityFee,
		NewDomainSetupFee:  cfg.Pricing.NewDomainSetupFee,
		NewDomainAnnualFee: cfg.Pricing.NewDomainAnnualFee,
	}

	var mailer common.EmailSender = common.NopEmailSender{}
	if cfg.Notify.Enabled {
		if sg := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.Notify.SendGridAPIKey,
			FromEmail: cfg.Notify.From,
			FromName:  cfg.Notify.FromName,
		}, logger); sg != nil {
			mailer = sg
		} else {
			logger.Warn().Msg("email notifications enabled without SENDGRID_API_KEY; emails are dropped")
		}
	}
	bus := &events.Bus{
		Store: events.PGStore{DB: pool},
		Notifiers: []events.Notifier{notify.EmailNotifier{
			Mail:      mailer,
			Enabled:   cfg.Notify.Enabled,
			SalonName: cfg.Notify.FromName,
			Location:  location,
			Logger:    logger.With().Str("component", "notify").Logger(),
		}},
		Logger: logger.With().Str("component", "events").Logger(),
	}

	catalogSvc, err := catalog.NewService(catalog.ServiceConfig{
		Repository: catalog.NewStore(pool),
		Cache:      catalog.NewCache(rdb, cfg.CatalogCacheTTL),
		Logger:     logger.With().Str("component", "catalog").Logger(),
	})
	if err != nil {
		return nil, err
	}
	voucherStore := voucher.NewStore(pool)
	voucherSvc := &voucher.Service{Q: voucherStore, MinimumCartValue: cfg.Pricing.MinimumCartValue}
	cartStore := cart.RedisStore{Client: rdb, TTL: cfg.CartTTL}
	cartSvc := &cart.Service{
		Store:            cartStore,
		Catalog:          catalogSvc,
		Discounts:        voucherSvc,
		Lock:             locker,
		Fees:             fees,
		Policy:           policy,
		TaxPercentage:    cfg.Pricing.TaxPercentage,
		MinimumCartValue: cfg.Pricing.MinimumCartValue,
	}

	return &App{
		Config:       cfg,
		Logger:       logger,
		Pool:         pool,
		Redis:        rdb,
		Verifier:     verifier,
		Bus:          bus,
		BookingStore: booking.NewStore(pool),
		Bookings: &booking.Service{
			Pool:    pool,
			Lock:    locker,
			LockTTL: cfg.LockTTL,
			Events:  bus,
			Policy:  ledger.Policy{CancellationWindow: cfg.Pricing.CancellationWindow, Location: location},
			Logger:  logger.With().Str("component", "booking").Logger(),
		},
		Vouchers:     voucherSvc,
		VoucherStore: voucherStore,
		Catalog:      catalogSvc,
		Carts:        cartSvc,
		Checkout: &checkout.Service{
			Pool:             pool,
			Carts:            cartSvc,
			CartStore:        cartStore,
			Catalog:          catalogSvc,
			Discounts:        voucherSvc,
			Events:           bus,
			Lock:             locker,
			Fees:             fees,
			Policy:           policy,
			TaxPercentage:    cfg.Pricing.TaxPercentage,
			MinimumCartValue: cfg.Pricing.MinimumCartValue,
			HighValueLimit:   cfg.Pricing.HighValueOrderLimit,
			Currency:         cfg.Pricing.Currency,
			Logger:           logger.With().Str("component", "checkout").Logger(),
		},
		Orders: order.NewStore(pool),
		Payments: &payment.Service{
			Pool:          pool,
			Gateway:       gateway,
			Events:        bus,
			PendingWindow: cfg.Payments.PendingWindow,
			Logger:        logger.With().Str("component", "payment").Logger(),
		},
		Rates: currency.RateCache{R: rdb, TTL: cfg.CurrencyRateTTL},
		Audit: &audit.Service{Store: audit.PGStore{DB: pool}, Enabled: cfg.AuditEnabled},
	}, nil
}

// NewGateway returns the configured payment gateway.
func NewGateway(cfg config.Payments) (payment.Gateway, error) {
	opts := payment.HTTPOptions{
		Timeout:     cfg.GatewayTimeout,
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseBackoff: cfg.RetryBase,
	}
	callbackBase := strings.TrimRight(cfg.CallbackBaseURL, "/")
	switch cfg.Provider {
	case "", "sandbox":
		return payment.NewSandbox(), nil
	case "paystack":
		return &payment.Paystack{
			SecretKey:   cfg.PaystackSecretKey,
			BaseURL:     cfg.PaystackBaseURL,
			Currency:    "KES",
			CallbackURL: joinURL(callbackBase, "/payments/complete"),
			HTTP:        payment.NewHTTPClient("paystack", opts),
		}, nil
	case "mpesa":
		return &payment.MPesa{
			BaseURL:        cfg.MPesaBaseURL,
			ConsumerKey:    cfg.MPesaConsumerKey,
			ConsumerSecret: cfg.MPesaConsumerSec,
			Shortcode:      cfg.MPesaShortcode,
			Passkey:        cfg.MPesaPasskey,
			CallbackURL:    joinURL(callbackBase, "/api/v1/payments/webhook/mpesa"),
			HTTP:           payment.NewHTTPClient("mpesa", opts),
		}, nil
	default:
		return nil, fmt.Errorf("app: unsupported payment provider %q", cfg.Provider)
	}
}

func joinURL(base, path string) string {
	if base == "" {
		return ""
	}
	return base + path
}
