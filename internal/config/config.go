// Package config reads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sujun1972/stock-analysis-sub008/internal/alert"
	"github.com/sujun1972/stock-analysis-sub008/internal/circuitbreaker"
	"github.com/sujun1972/stock-analysis-sub008/internal/executor"
	"github.com/sujun1972/stock-analysis-sub008/internal/health"
	"github.com/sujun1972/stock-analysis-sub008/internal/logging"
)

const (
	HealthBackendPostgres = "postgres"
	HealthBackendRedis    = "redis"
)

var ErrInvalid = errors.New("config: invalid value")

type Config struct {
	Environment logging.Environment
	LogLevel    string
	Port        string

	HealthBackend string
	PostgresDSN   string
	RedisAddr     string

	Executor executor.Config
	Breaker  circuitbreaker.Config
	Health   health.Config

	Providers        []string
	ProbeURLTemplate string
	ProbeInterval    time.Duration

	// Alert is nil when no SendGrid key is configured.
	Alert *alert.Config
}

// Load reads the configuration through getenv, usually os.Getenv.
func Load(getenv func(string) string) (Config, error) {
	r := reader{getenv: getenv}

	cfg := Config{
		Environment:      logging.Environment(r.str("ENVIRONMENT", string(logging.EnvironmentProduction))),
		LogLevel:         r.str("LOG_LEVEL", ""),
		Port:             r.str("PORT", "8080"),
		HealthBackend:    strings.ToLower(r.str("HEALTH_BACKEND", HealthBackendRedis)),
		PostgresDSN:      r.str("POSTGRES_DSN", ""),
		RedisAddr:        r.str("REDIS_ADDR", "localhost:6379"),
		Providers:        r.list("PROVIDERS", []string{"tushare", "akshare", "baostock"}),
		ProbeURLTemplate: r.str("PROBE_URL_TEMPLATE", ""),
		ProbeInterval:    r.duration("PROBE_INTERVAL", 30*time.Second),
	}

	exec := executor.DefaultConfig()
	exec.Enabled = r.boolean("EXECUTOR_ENABLED", exec.Enabled)
	exec.WorkerCount = r.integer("EXECUTOR_WORKERS", exec.WorkerCount)
	exec.ChunkSize = r.integer("EXECUTOR_CHUNK_SIZE", exec.ChunkSize)
	exec.ShowProgress = r.boolean("EXECUTOR_SHOW_PROGRESS", exec.ShowProgress)
	exec.Timeout = r.duration("EXECUTOR_TIMEOUT", exec.Timeout)
	exec.MinParallelItems = r.integer("EXECUTOR_MIN_PARALLEL_ITEMS", exec.MinParallelItems)
	if name := r.str("EXECUTOR_BACKEND", ""); name != "" {
		backend, err := executor.ParseBackend(name)
		if err != nil {
			r.fail("EXECUTOR_BACKEND", err)
		}
		exec.Backend = backend
	}
	cfg.Executor = exec

	breaker := circuitbreaker.DefaultConfig()
	breaker.FailureThreshold = r.integer("BREAKER_FAILURE_THRESHOLD", breaker.FailureThreshold)
	breaker.RecoveryTimeout = r.duration("BREAKER_RECOVERY_TIMEOUT", breaker.RecoveryTimeout)
	breaker.HalfOpenMaxCalls = r.integer("BREAKER_HALF_OPEN_MAX_CALLS", breaker.HalfOpenMaxCalls)
	cfg.Breaker = breaker

	hc := health.DefaultConfig()
	hc.SuccessReward = r.float("HEALTH_SUCCESS_REWARD", hc.SuccessReward)
	hc.FailurePenalty = r.float("HEALTH_FAILURE_PENALTY", hc.FailurePenalty)
	hc.ConsecutiveFailureThreshold = r.integer("HEALTH_FAILURE_THRESHOLD", hc.ConsecutiveFailureThreshold)
	hc.RecoveryTime = r.duration("HEALTH_RECOVERY_TIME", hc.RecoveryTime)
	hc.RecoveredScore = r.float("HEALTH_RECOVERED_SCORE", hc.RecoveredScore)
	hc.RecordAllEvents = r.boolean("HEALTH_RECORD_ALL_EVENTS", hc.RecordAllEvents)
	cfg.Health = hc

	if key := r.str("SENDGRID_API_KEY", ""); key != "" {
		cfg.Alert = &alert.Config{
			APIKey:      key,
			FromName:    r.str("ALERT_FROM_NAME", "Data Provider Monitor"),
			FromAddress: r.str("ALERT_FROM_ADDRESS", ""),
			To:          r.list("ALERT_TO", nil),
		}
	}

	if err := errors.Join(r.errs...); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) validate() error {
	switch c.HealthBackend {
	case HealthBackendRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("%w: REDIS_ADDR is required for the redis health backend", ErrInvalid)
		}
	case HealthBackendPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("%w: POSTGRES_DSN is required for the postgres health backend", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: HEALTH_BACKEND %q", ErrInvalid, c.HealthBackend)
	}

	if c.ProbeInterval <= 0 {
		return fmt.Errorf("%w: PROBE_INTERVAL must be positive", ErrInvalid)
	}

	if c.Alert != nil && (c.Alert.FromAddress == "" || len(c.Alert.To) == 0) {
		return fmt.Errorf("%w: ALERT_FROM_ADDRESS and ALERT_TO are required with SENDGRID_API_KEY", ErrInvalid)
	}

	return nil
}

// FromEnv loads the configuration from the process environment.
func FromEnv() (Config, error) {
	return Load(os.Getenv)
}

type reader struct {
	getenv func(string) string
	errs   []error
}

func (r *reader) fail(key string, err error) {
	r.errs = append(r.errs, fmt.Errorf("%w: %s: %v", ErrInvalid, key, err))
}

func (r *reader) str(key, def string) string {
	if v := strings.TrimSpace(r.getenv(key)); v != "" {
		return v
	}
	return def
}

func (r *reader) integer(key string, def int) int {
	raw := r.str(key, "")
	if raw == "" {
		return def
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return v
}

func (r *reader) float(key string, def float64) float64 {
	raw := r.str(key, "")
	if raw == "" {
		return def
	}

	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return v
}

func (r *reader) boolean(key string, def bool) bool {
	raw := r.str(key, "")
	if raw == "" {
		return def
	}

	v, err := strconv.ParseBool(raw)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return v
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	raw := r.str(key, "")
	if raw == "" {
		return def
	}

	v, err := time.ParseDuration(raw)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return v
}

func (r *reader) list(key string, def []string) []string {
	raw := r.str(key, "")
	if raw == "" {
		return def
	}

	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
