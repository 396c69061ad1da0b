package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/noah-isme/salon-labs/internal/app"
	"github.com/noah-isme/salon-labs/internal/audit"
	"github.com/noah-isme/salon-labs/internal/auth"
	"github.com/noah-isme/salon-labs/internal/booking"
	"github.com/noah-isme/salon-labs/internal/cart"
	"github.com/noah-isme/salon-labs/internal/catalog"
	"github.com/noah-isme/salon-labs/internal/checkout"
	"github.com/noah-isme/salon-labs/internal/common"
	"github.com/noah-isme/salon-labs/internal/config"
	"github.com/noah-isme/salon-labs/internal/currency"
	"github.com/noah-isme/salon-labs/internal/health"
	"github.com/noah-isme/salon-labs/internal/obs"
	"github.com/noah-isme/salon-labs/internal/order"
	"github.com/noah-isme/salon-labs/internal/payment"
	"github.com/noah-isme/salon-labs/internal/ratelimit"
	"github.com/noah-isme/salon-labs/internal/security"
	"github.com/noah-isme/salon-labs/internal/voucher"
)

const accessCookie = "access_token"

type routerDeps struct {
	cfg     *config.Config
	logger  zerolog.Logger
	conns   app.Connections
	app     *app.App
	tracing bool
}

func newRouter(d routerDeps) (http.Handler, *health.Handler, error) {
	cfg, ops, a, rdb := d.cfg, d.cfg.Ops, d.app, d.conns.Redis
	logger := d.logger

	apiLimit, err := ratelimit.NewAPILimiter(rdb, cfg.APIRateLimit, "salon:api")
	if err != nil {
		return nil, nil, fmt.Errorf("api rate limiter: %w", err)
	}
	discountLimit := ratelimit.Handler{
		Limiter: ratelimit.Limiter{Client: rdb, Prefix: "rl:"},
		Config: ratelimit.Config{
			Key:    ratelimit.ByUserOrIP("discount-validate"),
			Window: cfg.DiscountRateWindow,
			Max:    cfg.DiscountRateMax,
		},
		OnError: func(err error) { logger.Warn().Err(err).Msg("discount rate limiter unavailable") },
	}

	authn := auth.Middleware{Verifier: a.Verifier, AccessCookie: accessCookie}
	idem := common.Idem{R: rdb, TTL: cfg.IdempotencyTTL}
	auditRec := audit.HTTPRecorder{
		Service: a.Audit,
		OnError: func(err error) { logger.Warn().Err(err).Msg("record admin audit entry") },
	}

	bookings := &booking.Handler{Svc: a.Bookings, Slots: a.BookingStore}
	labs := catalog.NewHandler(catalog.HandlerConfig{Service: a.Catalog})
	discounts := &voucher.Handler{Store: a.VoucherStore, Svc: a.Vouchers}
	carts := &cart.Handler{Svc: a.Carts}
	checkouts := &checkout.Handler{Svc: a.Checkout}
	orders := &order.Handler{Store: a.Orders}
	payments := &payment.Handler{Svc: a.Payments}
	webhooks := payment.Webhook{Svc: a.Payments, Replay: rdb, ReplayTTL: cfg.Payments.WebhookReplayTTL}
	fx := currency.Handler{Rates: a.Rates}
	auditLogs := audit.Handler{Svc: a.Audit}

	ready := &health.Handler{Probes: []health.Probe{
		health.PingProbe("db", d.conns.Pool, ops.ReadyDBTimeout),
		{
			Name:    "redis",
			Timeout: ops.ReadyRedisTimeout,
			Check:   func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		},
	}}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	if d.tracing {
		r.Use(obs.TracingMiddleware)
	}
	if ops.MetricsEnabled {
		m := obs.NewHTTPMetrics(ops.MetricsNamespace, obs.ParseBucketsCSV(ops.MetricsBucketsMS), nil)
		r.Use(obs.HTTPObs{Metrics: m}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger, Quiet: []string{"/health/live", "/health/ready", "/metrics"}}.Middleware)
	r.Use(security.Headers{HSTS: cfg.AppEnv == "production", TrustProxy: ops.TrustProxy}.Middleware)
	r.Use(cors.Handler(corsOptions(cfg)))

	// chi rejects middleware added after the first route.
	if ops.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if ops.PprofEnabled {
		r.Mount("/debug/pprof", security.BasicAuth{User: ops.PprofUser, Pass: ops.PprofPass}.Middleware(obs.PprofHandler()))
	}
	r.Get("/health/live", ready.Live)
	r.Get("/health/ready", ready.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(apiLimit, security.BodyLimit{Max: ops.MaxBodyBytes}.Middleware)

		// Provider callbacks carry no session and are authenticated by signature.
		v.Post("/payments/webhook/{provider}", webhooks.Handle)

		v.Group(func(api chi.Router) {
			api.Use(security.CSRF{Header: "X-CSRF-Token", SessionCookie: accessCookie}.Middleware)
			api.Use(authn.Authenticate)

			api.Get("/labs/services", labs.Services)
			api.Get("/labs/bundles", labs.Bundles)
			api.Get("/labs/bundles/{slug}", labs.Bundle)
			api.Get("/fx/convert", fx.Convert)
			api.With(discountLimit.Middleware).Post("/discounts/validate", discounts.Validate)

			api.Route("/carts", func(c chi.Router) {
				c.Get("/{id}", carts.Get)
				c.Group(func(g chi.Router) {
					g.Use(idem.Middleware)
					g.Post("/", carts.Create)
					g.Post("/{id}/items", carts.AddItem)
					g.Patch("/{id}/items/{serviceId}", carts.UpdateItem)
					g.Delete("/{id}/items/{serviceId}", carts.RemoveItem)
					g.Post("/{id}/bundle", carts.AddBundle)
					g.Put("/{id}/options", carts.SetOptions)
					g.Post("/{id}/discount", carts.ApplyDiscount)
					g.Delete("/{id}/discount", carts.RemoveDiscount)
				})
			})

			api.Group(func(me chi.Router) {
				me.Use(authn.RequireAuth)
				me.With(idem.Middleware).Post("/checkout", checkouts.Checkout)
				me.Get("/orders", orders.List)
				me.Get("/orders/{id}", orders.Get)
				me.With(idem.Middleware).Post("/orders/{id}/payments", payments.Initiate)
				me.Post("/payments/{reference}/confirm", payments.Confirm)
			})

			api.Route("/admin", func(admin chi.Router) {
				admin.Use(authn.RequireAuth, auth.RequireRole(common.RoleAdmin))
				admin.Get("/audit-logs", auditLogs.List)

				admin.Route("/bookings", func(b chi.Router) {
					b.Use(auditRec.Middleware(audit.HTTPConfig{ResourceType: "booking", ResourceIDParam: "id"}))
					b.Get("/", bookings.List)
					b.Get("/slots", bookings.BookedSlots)
					b.With(idem.Middleware).Post("/", bookings.Create)
					b.With(idem.Middleware).Post("/walk-in", bookings.CreateWalkIn)
					b.Route("/{id}", func(one chi.Router) {
						one.Get("/", bookings.Get)
						one.With(idem.Middleware).Post("/payments", bookings.RecordPayment)
						one.Post("/services", bookings.AddService)
						one.Post("/fine", bookings.AddFine)
						one.Post("/cancel", bookings.Cancel)
						one.Post("/reschedule", bookings.Reschedule)
						one.Post("/complete", bookings.Complete)
					})
				})

				admin.Route("/discounts", func(dc chi.Router) {
					dc.Use(auditRec.Middleware(audit.HTTPConfig{ResourceType: "discount_code", ResourceIDParam: "code"}))
					dc.Get("/", discounts.List)
					dc.Post("/", discounts.Create)
					dc.Put("/{code}", discounts.Update)
					dc.Delete("/{code}", discounts.Deactivate)
				})

				admin.With(auditRec.Middleware(audit.HTTPConfig{ResourceType: "fx_rate", ResourceIDParam: "code"})).
					Put("/fx/{code}", fx.PutRate)
				admin.With(auditRec.Middleware(audit.HTTPConfig{ResourceType: "labs_catalog"})).
					Delete("/labs/cache", labs.InvalidateCache)
			})
		})
	})
	return r, ready, nil
}

func corsOptions(cfg *config.Config) cors.Options {
	origins := cfg.CORSAllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-CSRF-Token"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}
}
