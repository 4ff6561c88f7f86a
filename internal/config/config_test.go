package config

import (
	"testing"
	"time"

	"github.com/sujun1972/stock-analysis-sub008/internal/executor"
	"github.com/sujun1972/stock-analysis-sub008/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envFrom(m map[string]string) func(string) string {
	return func(key string) string { return m[key] }
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(envFrom(nil))
	require.NoError(t, err)

	assert.Equal(t, logging.EnvironmentProduction, cfg.Environment)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, HealthBackendRedis, cfg.HealthBackend)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, []string{"tushare", "akshare", "baostock"}, cfg.Providers)
	assert.Equal(t, 30*time.Second, cfg.ProbeInterval)

	assert.True(t, cfg.Executor.Enabled)
	assert.Equal(t, executor.AutoWorkers, cfg.Executor.WorkerCount)
	assert.Equal(t, executor.BackendThread, cfg.Executor.Backend)

	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 60*time.Second, cfg.Breaker.RecoveryTimeout)
	assert.Equal(t, 3, cfg.Breaker.HalfOpenMaxCalls)

	assert.Equal(t, 5.0, cfg.Health.SuccessReward)
	assert.Equal(t, 10.0, cfg.Health.FailurePenalty)
	assert.Equal(t, 3, cfg.Health.ConsecutiveFailureThreshold)
	assert.Equal(t, 300*time.Second, cfg.Health.RecoveryTime)
	assert.False(t, cfg.Health.RecordAllEvents)

	assert.Nil(t, cfg.Alert)
}

func TestLoad_Overrides(t *testing.T) {
	cfg, err := Load(envFrom(map[string]string{
		"ENVIRONMENT":                 "staging",
		"LOG_LEVEL":                   "warn",
		"HEALTH_BACKEND":              "Postgres",
		"POSTGRES_DSN":                "postgres://localhost/health?sslmode=disable",
		"EXECUTOR_BACKEND":            "process",
		"EXECUTOR_WORKERS":            "4",
		"EXECUTOR_TIMEOUT":            "90s",
		"EXECUTOR_MIN_PARALLEL_ITEMS": "20",
		"BREAKER_FAILURE_THRESHOLD":   "3",
		"BREAKER_RECOVERY_TIMEOUT":    "30s",
		"HEALTH_FAILURE_PENALTY":      "12.5",
		"HEALTH_RECORD_ALL_EVENTS":    "true",
		"PROVIDERS":                   " tushare , ,akshare ",
		"PROBE_INTERVAL":              "1m",
		"SENDGRID_API_KEY":            "SG.key",
		"ALERT_FROM_ADDRESS":          "alerts@example.com",
		"ALERT_TO":                    "a@example.com,b@example.com",
	}))
	require.NoError(t, err)

	assert.Equal(t, logging.EnvironmentStaging, cfg.Environment)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, HealthBackendPostgres, cfg.HealthBackend)
	assert.Equal(t, executor.BackendProcess, cfg.Executor.Backend)
	assert.Equal(t, 4, cfg.Executor.WorkerCount)
	assert.Equal(t, 90*time.Second, cfg.Executor.Timeout)
	assert.Equal(t, 20, cfg.Executor.MinParallelItems)
	assert.Equal(t, 3, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.Breaker.RecoveryTimeout)
	assert.Equal(t, 12.5, cfg.Health.FailurePenalty)
	assert.True(t, cfg.Health.RecordAllEvents)
	assert.Equal(t, []string{"tushare", "akshare"}, cfg.Providers)
	assert.Equal(t, time.Minute, cfg.ProbeInterval)

	require.NotNil(t, cfg.Alert)
	assert.Equal(t, "SG.key", cfg.Alert.APIKey)
	assert.Equal(t, "Data Provider Monitor", cfg.Alert.FromName)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, cfg.Alert.To)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantMsg string
	}{
		{
			name:    "bad integer",
			env:     map[string]string{"EXECUTOR_WORKERS": "many"},
			wantMsg: "EXECUTOR_WORKERS",
		},
		{
			name:    "bad duration",
			env:     map[string]string{"HEALTH_RECOVERY_TIME": "5 minutes"},
			wantMsg: "HEALTH_RECOVERY_TIME",
		},
		{
			name:    "bad bool",
			env:     map[string]string{"EXECUTOR_ENABLED": "sometimes"},
			wantMsg: "EXECUTOR_ENABLED",
		},
		{
			name:    "unknown executor backend",
			env:     map[string]string{"EXECUTOR_BACKEND": "gpu"},
			wantMsg: "EXECUTOR_BACKEND",
		},
		{
			name:    "unknown health backend",
			env:     map[string]string{"HEALTH_BACKEND": "sqlite"},
			wantMsg: "HEALTH_BACKEND",
		},
		{
			name:    "postgres without dsn",
			env:     map[string]string{"HEALTH_BACKEND": "postgres"},
			wantMsg: "POSTGRES_DSN",
		},
		{
			name:    "non-positive probe interval",
			env:     map[string]string{"PROBE_INTERVAL": "0s"},
			wantMsg: "PROBE_INTERVAL",
		},
		{
			name:    "alert without recipients",
			env:     map[string]string{"SENDGRID_API_KEY": "SG.key", "ALERT_FROM_ADDRESS": "alerts@example.com"},
			wantMsg: "ALERT_TO",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(envFrom(tt.env))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}
