package bootstrap

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/sujun1972/stock-analysis-sub008/internal/alert"
	"github.com/sujun1972/stock-analysis-sub008/internal/circuitbreaker"
	"github.com/sujun1972/stock-analysis-sub008/internal/config"
	"github.com/sujun1972/stock-analysis-sub008/internal/gate"
	"github.com/sujun1972/stock-analysis-sub008/internal/health"
	"github.com/sujun1972/stock-analysis-sub008/internal/repository"
	"github.com/sujun1972/stock-analysis-sub008/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestOpenHealthRepository_Redis(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg, err := config.Load(func(key string) string {
		if key == "REDIS_ADDR" {
			return mr.Addr()
		}
		return ""
	})
	require.NoError(t, err)

	repo, err := OpenHealthRepository(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer func() { _ = repo.Close() }()

	checker, err := NewChecker(cfg, repo, zap.NewNop())
	require.NoError(t, err)

	checker.RecordFailure(context.Background(), "tushare", "timeout")
	assert.Equal(t, 90.0, checker.HealthScore(context.Background(), "tushare"))
}

func TestOpenHealthRepository_UnknownBackend(t *testing.T) {
	_, err := OpenHealthRepository(context.Background(), config.Config{HealthBackend: "sqlite"}, zap.NewNop())
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestNewChecker_InvalidAlertConfig(t *testing.T) {
	cfg := config.Config{Alert: &alert.Config{APIKey: "SG.key"}}

	_, err := NewChecker(cfg, repository.NewMockHealthRepository(), zap.NewNop())
	assert.ErrorIs(t, err, alert.ErrMissingConfig)
}

func TestAdminHandler_ServesBreakersTrippedByProbes(t *testing.T) {
	cfg, err := config.Load(func(string) string { return "" })
	require.NoError(t, err)
	cfg.Providers = []string{"admin-tushare", "admin-akshare"}
	cfg.Breaker = circuitbreaker.Config{FailureThreshold: 2, RecoveryTimeout: time.Hour, HalfOpenMaxCalls: 1}
	cfg.Health.ConsecutiveFailureThreshold = 10

	checker := health.NewChecker(repository.NewMockHealthRepository(), cfg.Health)
	breakers := circuitbreaker.NewManager(nil)

	probe := func(_ context.Context, provider string) (worker.ProbeResult, error) {
		if provider == "admin-akshare" {
			return worker.ProbeResult{}, errors.New("connection refused")
		}
		return worker.ProbeResult{StatusCode: http.StatusOK}, nil
	}

	w, exec, err := NewProbeWorker("admin-test", cfg, checker, breakers, probe, nil)
	require.NoError(t, err)
	defer func() { _ = exec.Close() }()

	ctx := context.Background()
	for range 2 {
		_, err := w.RunOnce(ctx)
		require.NoError(t, err)
	}

	round, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, gate.SkipBreakerOpen, round.Results[1].Skipped)

	server := httptest.NewServer(AdminHandler(checker, breakers, nil))
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/breakers")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats map[string]circuitbreaker.Metrics
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, circuitbreaker.StateOpen, stats["admin-akshare"].State)
	assert.Equal(t, 1, stats["admin-akshare"].RejectedCalls)
	assert.Equal(t, circuitbreaker.StateClosed, stats["admin-tushare"].State)

	metricsResp, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = metricsResp.Body.Close() }()
	body, err := io.ReadAll(metricsResp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `quant_circuit_breaker_transitions_total{breaker="admin-akshare",from="closed",to="open"}`)
	assert.Contains(t, string(body), `quant_gate_skipped_total{provider="admin-akshare",reason="breaker_open"}`)

	reset, err := http.Post(server.URL+"/api/breakers/admin-akshare/reset", "application/json", nil)
	require.NoError(t, err)
	_ = reset.Body.Close()
	assert.Equal(t, http.StatusOK, reset.StatusCode)

	breaker, ok := breakers.Get("admin-akshare")
	require.True(t, ok)
	assert.Equal(t, circuitbreaker.StateClosed, breaker.State())
}
