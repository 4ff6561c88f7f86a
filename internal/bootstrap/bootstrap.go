// Package bootstrap wires the components shared by the server and worker
// binaries from a loaded Config.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sujun1972/stock-analysis-sub008/internal/alert"
	"github.com/sujun1972/stock-analysis-sub008/internal/api"
	"github.com/sujun1972/stock-analysis-sub008/internal/circuitbreaker"
	"github.com/sujun1972/stock-analysis-sub008/internal/config"
	"github.com/sujun1972/stock-analysis-sub008/internal/executor"
	"github.com/sujun1972/stock-analysis-sub008/internal/gate"
	"github.com/sujun1972/stock-analysis-sub008/internal/health"
	"github.com/sujun1972/stock-analysis-sub008/internal/logging"
	"github.com/sujun1972/stock-analysis-sub008/internal/middleware"
	"github.com/sujun1972/stock-analysis-sub008/internal/repository"
	"github.com/sujun1972/stock-analysis-sub008/internal/repository/postgres"
	"github.com/sujun1972/stock-analysis-sub008/internal/repository/redis"
	"github.com/sujun1972/stock-analysis-sub008/internal/worker"
	"go.uber.org/zap"
)

// OpenHealthRepository connects the configured health store. The postgres
// store has its schema created when missing.
func OpenHealthRepository(ctx context.Context, cfg config.Config, logger *zap.Logger) (repository.HealthRepository, error) {
	logger = logging.OrNop(logger)

	switch cfg.HealthBackend {
	case config.HealthBackendPostgres:
		repo, err := postgres.NewPostgresHealthRepository(cfg.PostgresDSN, logger)
		if err != nil {
			return nil, err
		}
		if err := repo.EnsureSchema(ctx); err != nil {
			_ = repo.Close()
			return nil, err
		}
		logger.Info("health store ready", zap.String("backend", cfg.HealthBackend))
		return repo, nil

	case config.HealthBackendRedis:
		repo, err := redis.NewRedisHealthRepository(cfg.RedisAddr, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("health store ready", zap.String("backend", cfg.HealthBackend), zap.String("addr", cfg.RedisAddr))
		return repo, nil

	default:
		return nil, fmt.Errorf("%w: HEALTH_BACKEND %q", config.ErrInvalid, cfg.HealthBackend)
	}
}

// NewChecker builds the health checker, e-mailing degradation and recovery
// events when alerts are configured.
func NewChecker(cfg config.Config, repo repository.HealthRepository, logger *zap.Logger) (*health.Checker, error) {
	logger = logging.OrNop(logger)
	opts := []health.Option{health.WithLogger(logger)}

	if cfg.Alert != nil {
		notifier, err := alert.NewSendGridNotifier(*cfg.Alert, logger)
		if err != nil {
			return nil, err
		}
		opts = append(opts, health.WithEventSink(notifier))
		logger.Info("health alerts enabled", zap.Strings("recipients", cfg.Alert.To))
	}

	return health.NewChecker(repo, cfg.Health, opts...), nil
}

// AdminHandler serves the admin API and Prometheus metrics. breakers must be
// the registry the process calls through: breaker state is process-local.
func AdminHandler(checker *health.Checker, breakers *circuitbreaker.Manager, logger *zap.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", middleware.MetricsMiddleware(api.NewAPI(checker, breakers, logger)))

	return mux
}

// NewProbeWorker builds the provider probe loop on breakers. The returned
// executor must be closed after the worker stops.
func NewProbeWorker(id string, cfg config.Config, checker *health.Checker, breakers *circuitbreaker.Manager, probe worker.ProbeFunc, logger *zap.Logger) (*worker.Worker, *executor.Executor, error) {
	exec, err := executor.New(cfg.Executor, logger)
	if err != nil {
		return nil, nil, err
	}

	g := gate.New(breakers, checker, cfg.Breaker, logger)
	w := worker.NewWorker(id, g, exec, cfg.Providers, probe, logger)
	w.SetPollInterval(cfg.ProbeInterval)

	return w, exec, nil
}
