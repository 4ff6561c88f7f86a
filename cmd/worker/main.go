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
		fmt.Fprintf(os.Stderr, "worker: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	if cfg.ProbeURLTemplate == "" {
		return fmt.Errorf("%w: PROBE_URL_TEMPLATE is required", config.ErrInvalid)
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

	workerID := os.Getenv("WORKER_ID")
	if workerID == "" {
		workerID = fmt.Sprintf("worker-%d", time.Now().Unix())
	}

	breakers := circuitbreaker.NewManager(logger)

	w, exec, err := bootstrap.NewProbeWorker(workerID, cfg, checker, breakers,
		worker.HTTPProbe(nil, cfg.ProbeURLTemplate), logger)
	if err != nil {
		return err
	}
	defer func() { _ = exec.Close() }()

	// Breaker state and executor metrics live in this process, so it serves
	// its own admin API and /metrics.
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           bootstrap.AdminHandler(checker, breakers, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("worker admin listening", zap.String("port", cfg.Port))
		errCh <- server.ListenAndServe()
	}()

	go w.Start(ctx)

	select {
	case err = <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down worker")
	w.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if shutdownErr := server.Shutdown(shutdownCtx); err == nil {
		err = shutdownErr
	}

	return err
}
