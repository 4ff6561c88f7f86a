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

	"github.com/sujun1972/stock-analysis-sub008/internal/bootstrap"
	"github.com/sujun1972/stock-analysis-sub008/internal/circuitbreaker"
	"github.com/sujun1972/stock-analysis-sub008/internal/config"
	"github.com/sujun1972/stock-analysis-sub008/internal/logging"
	"github.com/sujun1972/stock-analysis-sub008/internal/worker"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := bootstrap.OpenHealthRepository(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := repo.Close(); err != nil {
			logger.Warn("failed to close health store", zap.Error(err))
		}
	}()

	checker, err := bootstrap.NewChecker(cfg, repo, logger)
	if err != nil {
		return err
	}

	// The admin API reports and resets these breakers, so provider calls made
	// by this process must go through the same registry.
	breakers := circuitbreaker.NewManager(logger)

	if cfg.ProbeURLTemplate != "" {
		w, exec, err := bootstrap.NewProbeWorker("server-probe", cfg, checker, breakers,
			worker.HTTPProbe(nil, cfg.ProbeURLTemplate), logger)
		if err != nil {
			return err
		}
		defer func() { _ = exec.Close() }()

		go w.Start(ctx)
		defer w.Stop()
	} else {
		logger.Warn("PROBE_URL_TEMPLATE not set, breakers only track calls made by this process")
	}

	go startMetricsCollector(ctx, checker, logger)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           bootstrap.AdminHandler(checker, breakers, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("port", cfg.Port),
			zap.String("health_backend", cfg.HealthBackend),
			zap.Strings("providers", cfg.Providers))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return server.Shutdown(shutdownCtx)
}
