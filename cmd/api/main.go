// Command api serves the salon booking ledger and the Labs storefront.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/salon-labs/internal/app"
	"github.com/noah-isme/salon-labs/internal/config"
	"github.com/noah-isme/salon-labs/internal/obs"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := obs.NewLogger(cfg.Ops.LogFormat, cfg.Ops.LogLevel).With().Str("env", cfg.AppEnv).Logger()
	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("api exited")
	}
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ops := cfg.Ops
	obs.MustRegisterDomainMetrics(ops.MetricsNamespace, nil)

	tracing := ops.TracingEnabled
	if tracing {
		flush, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "salon-labs-api",
			Endpoint:      ops.OTLPEndpoint,
			Exporter:      ops.TracingExporter,
			SamplingRatio: ops.TracingSampleRatio,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			// serve without spans rather than refuse traffic
			logger.Error().Err(err).Msg("initialise tracing")
			tracing = false
		} else {
			defer func() {
				if err := flush(context.Background()); err != nil {
					logger.Error().Err(err).Msg("flush tracer")
				}
			}()
		}
	}

	if ops.MigrateOnStart {
		version, _, err := app.RunMigrations(cfg.MigrationsPath, cfg.DatabaseURL, app.MigrateCommand{Name: "up"})
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		logger.Info().Uint("version", version).Msg("migrations applied")
	}

	openCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	conns, err := app.Open(openCtx, cfg, "salon-labs-api", ops.MetricsEnabled)
	cancel()
	if err != nil {
		return fmt.Errorf("open connections: %w", err)
	}
	defer func() {
		if err := conns.Close(); err != nil {
			logger.Error().Err(err).Msg("close connections")
		}
	}()

	a, err := app.Wire(cfg, logger, conns.Pool, conns.Redis)
	if err != nil {
		return fmt.Errorf("wire services: %w", err)
	}
	handler, ready, err := newRouter(routerDeps{cfg: cfg, logger: logger, conns: conns, app: a, tracing: tracing})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	served := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Str("payment_provider", a.Payments.Gateway.Name()).Msg("server starting")
		served <- srv.ListenAndServe()
	}()

	select {
	case err := <-served:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-sigCtx.Done():
	}

	ready.Drain()
	logger.Info().Dur("timeout", ops.ShutdownTimeout).Msg("draining")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), ops.ShutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}
