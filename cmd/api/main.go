package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/struktura-ai/kbsearch/internal/adapters/http"
	"github.com/struktura-ai/kbsearch/internal/bootstrap"
	"github.com/struktura-ai/kbsearch/internal/config"
	"github.com/struktura-ai/kbsearch/internal/core/ports"
	"github.com/struktura-ai/kbsearch/internal/observability/logging"
)

func main() {
	cfg := config.Load()
	slog.SetDefault(logging.NewJSONLogger("kbsearch-api", cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	if app.Events != nil {
		go func() {
			err := app.Events.SubscribeTenantConfigChanged(ctx, func(handlerCtx context.Context, tenantID string) error {
				invErr := app.Search.InvalidateTenant(handlerCtx, tenantID)
				app.Metrics.RecordInvalidation("api", invErr)
				return invErr
			})
			if err != nil && ctx.Err() == nil {
				slog.Error("config_change_subscription_failed", "error", err)
			}
		}()
	}

	// A nil *nats.Events must stay a nil interface for the router's checks.
	var events ports.ConfigEvents
	if app.Events != nil {
		events = app.Events
	}

	router := httpadapter.NewRouter(
		app.Search,
		app.Vectors,
		app.Store,
		app.Search,
		events,
		app.Metrics,
		httpadapter.Config{
			Service:          "api",
			RateLimitRPS:     cfg.APIRateLimitRPS,
			RateLimitBurst:   cfg.APIRateLimitBurst,
			MaxInFlight:      cfg.APIMaxInFlight,
			BackpressureWait: time.Duration(cfg.APIBackpressureWaitMs) * time.Millisecond,
		},
	)
	server := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      router.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("api_listening", "port", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("api_server_failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeoutSeconds)*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("api_shutdown_failed", "error", err)
	}
}
