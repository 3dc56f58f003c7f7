package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	httpadapter "github.com/kirillkom/docimport/internal/adapters/http"
	"github.com/kirillkom/docimport/internal/bootstrap"
	"github.com/kirillkom/docimport/internal/config"
	"github.com/kirillkom/docimport/internal/observability/logging"
	"github.com/kirillkom/docimport/internal/observability/metrics"
)

const (
	serviceName  = "api"
	drainTimeout = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_load_failed", "error", err)
		os.Exit(1)
	}
	logger := logging.NewJSONLogger(serviceName, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, logger); err != nil {
		logger.Error("api_stopped", "error", err)
		os.Exit(1)
	}
}

// serve runs the HTTP API until ctx is cancelled, then drains in-flight
// requests for at most drainTimeout.
func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	httpMetrics := metrics.NewHTTPServerMetrics(serviceName)
	app, err := bootstrap.New(ctx, cfg, logger, httpMetrics)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer app.Close()

	handler := httpadapter.NewRouter(cfg, httpadapter.Services{
		Classifier: app.Classifier,
		Resolver:   app.Resolver,
		Committer:  app.Committer,
		Batch:      app.Batch,
		Ingestor:   app.IngestUC,
		Documents:  app.Repo,
		History:    app.History,
		Metrics:    httpMetrics,
	}).WithLogger(logger).Handler()

	server := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       time.Minute,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("api_listening", "port", cfg.APIPort, "extractor", cfg.ExtractorBackend)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		if err := server.Shutdown(drainCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		logger.Info("api_drained")
		return nil
	})
	return group.Wait()
}
