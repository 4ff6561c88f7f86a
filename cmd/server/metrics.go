package main

import (
	"context"
	"time"

	"github.com/sujun1972/stock-analysis-sub008/internal/health"
	"github.com/sujun1972/stock-analysis-sub008/internal/metrics"
	"go.uber.org/zap"
)

// The worker process writes most health updates, so the server refreshes its
// provider gauges from the shared store.
func startMetricsCollector(ctx context.Context, checker *health.Checker, logger *zap.Logger) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		updateHealthMetrics(ctx, checker, logger)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func updateHealthMetrics(ctx context.Context, checker *health.Checker, logger *zap.Logger) {
	stats := checker.AllHealthStats(ctx)
	for provider, s := range stats {
		metrics.UpdateProviderHealth(provider, s.HealthScore, s.IsAvailable)
	}

	logger.Debug("provider health metrics refreshed", zap.Int("providers", len(stats)))
}
