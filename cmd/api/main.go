package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	httpadapter "github.com/docuflow/review-engine/internal/adapters/http"
	"github.com/docuflow/review-engine/internal/bootstrap"
	"github.com/docuflow/review-engine/internal/config"
	"github.com/docuflow/review-engine/internal/observability/logging"
	"github.com/docuflow/review-engine/internal/observability/metrics"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger := logging.NewJSONLogger("api", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	serverMetrics := metrics.NewHTTPServerMetrics("api")
	router := httpadapter.NewRouter(
		app.IngestUC,
		app.RouteUC,
		app.ReviewUC,
		app.ReportUC,
		serverMetrics,
		httpadapter.WithTrafficControl(cfg.APIRateLimitRPS, cfg.APIRateLimitBurst, cfg.APIMaxConcurrent),
	)

	server := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      router.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go runClaimSweeper(ctx, app, serverMetrics, cfg.SweepInterval)

	go func() {
		slog.Info("api_listening", "port", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("api_server_failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("api_shutdown_failed", "error", err)
	}
}

// runClaimSweeper periodically releases lapsed review claims so
// abandoned documents become claimable without waiting for the next
// reviewer interaction.
func runClaimSweeper(ctx context.Context, app *bootstrap.App, serverMetrics *metrics.HTTPServerMetrics, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, err := app.Queue.ExpireClaims(ctx, time.Now().UTC())
			if err != nil {
				slog.Error("claim_sweep_failed", "error", err)
				continue
			}
			if expired > 0 {
				slog.Info("claims_expired", "count", expired)
				serverMetrics.RecordClaimsExpired(expired)
			}
			if size, err := app.Queue.Size(ctx); err == nil {
				serverMetrics.SetQueueDepth(size)
			}
		}
	}
}
