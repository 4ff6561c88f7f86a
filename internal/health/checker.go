// Package health keeps a durable 0-100 reliability score per data provider
// and decides whether a provider should currently be called.
//
// The score is advisory. Availability is driven by consecutive failures: once
// ConsecutiveFailureThreshold failures happen in a row the provider is marked
// unavailable until RecoveryTime has passed since its last failure, at which
// point the next CheckHealth restores it with a partial score.
//
// Store errors never reach the caller. They are logged and a conservative
// default is returned instead.
package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sujun1972/stock-analysis-sub008/internal/logging"
	"github.com/sujun1972/stock-analysis-sub008/internal/metrics"
	"github.com/sujun1972/stock-analysis-sub008/internal/repository"
	"github.com/sujun1972/stock-analysis-sub008/internal/repository/models"
	"go.uber.org/zap"
)

// EventSink receives degraded and recovered events. Notify runs on its own
// goroutine and must not assume the caller waits for it.
type EventSink interface {
	Notify(ctx context.Context, event models.HealthEvent) error
}

type Option func(*Checker)

func WithLogger(logger *zap.Logger) Option {
	return func(c *Checker) {
		c.logger = logging.OrNop(logger)
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Checker) {
		if now != nil {
			c.now = now
		}
	}
}

func WithEventSink(sink EventSink) Option {
	return func(c *Checker) {
		c.sink = sink
	}
}

type Checker struct {
	repo   repository.HealthRepository
	config Config
	logger *zap.Logger
	now    func() time.Time
	sink   EventSink
}

func NewChecker(repo repository.HealthRepository, config Config, opts ...Option) *Checker {
	c := &Checker{
		repo:   repo,
		config: config.withDefaults(),
		logger: zap.NewNop(),
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *Checker) Config() Config {
	return c.config
}

// RecordSuccess returns the new score, or MaxHealthScore if the store failed.
func (c *Checker) RecordSuccess(ctx context.Context, provider string) float64 {
	rec, err := c.repo.RecordSuccess(ctx, provider, c.config.SuccessReward, c.now())
	if err != nil {
		c.logger.Error("failed to record provider success", zap.String("provider", provider), zap.Error(err))
		return models.MaxHealthScore
	}

	c.observe(rec)
	if c.config.RecordAllEvents {
		c.appendEvent(ctx, rec, models.EventSuccess, "")
	}

	return rec.HealthScore
}

// RecordFailure returns the new score, or MinHealthScore if the store failed.
func (c *Checker) RecordFailure(ctx context.Context, provider, message string) float64 {
	rec, err := c.repo.RecordFailure(ctx, provider, models.FailureUpdate{
		Penalty:   c.config.FailurePenalty,
		Threshold: int64(c.config.ConsecutiveFailureThreshold),
		Message:   message,
		At:        c.now(),
	})
	if err != nil {
		c.logger.Error("failed to record provider failure", zap.String("provider", provider), zap.Error(err))
		return models.MinHealthScore
	}

	c.observe(rec)
	if c.config.RecordAllEvents {
		c.appendEvent(ctx, rec, models.EventFailure, message)
	}

	// Exactly at the threshold, so a provider degrades once per failure streak.
	if rec.ConsecutiveFailures == int64(c.config.ConsecutiveFailureThreshold) {
		c.logger.Warn("provider degraded",
			zap.String("provider", provider),
			zap.Int64("consecutive_failures", rec.ConsecutiveFailures),
			zap.Float64("health_score", rec.HealthScore),
			zap.String("last_error", message))

		event := c.appendEvent(ctx, rec, models.EventDegraded,
			fmt.Sprintf("%d consecutive failures: %s", rec.ConsecutiveFailures, message))
		c.notify(event)
	}

	return rec.HealthScore
}

// CheckHealth reports whether provider should be called. Unknown providers
// are available. An unavailable provider whose last failure is at least
// RecoveryTime old is recovered by this call.
func (c *Checker) CheckHealth(ctx context.Context, provider string) bool {
	rec, err := c.repo.Get(ctx, provider)
	if errors.Is(err, repository.ErrNotFound) {
		return true
	}
	if err != nil {
		c.logger.Error("failed to read provider health", zap.String("provider", provider), zap.Error(err))
		return true
	}

	if rec.IsAvailable {
		return true
	}

	now := c.now()
	if rec.LastFailureAt == nil || now.Sub(*rec.LastFailureAt) < c.config.RecoveryTime {
		return false
	}

	recovered, ok, err := c.repo.Recover(ctx, provider, models.Recovery{
		Score:        c.config.RecoveredScore,
		FailedBefore: now.Add(-c.config.RecoveryTime),
		At:           now,
	})
	if err != nil {
		c.logger.Error("failed to recover provider", zap.String("provider", provider), zap.Error(err))
		return true
	}

	if !ok {
		// Another caller recovered it first, or it failed again meanwhile.
		current, err := c.repo.Get(ctx, provider)
		if err != nil {
			return true
		}
		return current.IsAvailable
	}

	c.observe(recovered)
	c.logger.Info("provider auto-recovered",
		zap.String("provider", provider),
		zap.Duration("since_last_failure", now.Sub(*rec.LastFailureAt)),
		zap.Float64("health_score", recovered.HealthScore))

	event := c.appendEvent(ctx, recovered, models.EventRecovered,
		fmt.Sprintf("auto recovery after %s", c.config.RecoveryTime))
	c.notify(event)

	return true
}

// HealthScore returns the stored score, MaxHealthScore for unknown providers
// or when the store cannot be read.
func (c *Checker) HealthScore(ctx context.Context, provider string) float64 {
	rec, err := c.repo.Get(ctx, provider)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			c.logger.Error("failed to read provider health", zap.String("provider", provider), zap.Error(err))
		}
		return models.MaxHealthScore
	}

	return rec.HealthScore
}

// Stats returns the record of one provider with its success rate.
func (c *Checker) Stats(ctx context.Context, provider string) (models.HealthStats, error) {
	rec, err := c.repo.Get(ctx, provider)
	if err != nil {
		return models.HealthStats{}, err
	}

	return models.StatsOf(*rec), nil
}

// AllHealthStats returns every known provider keyed by name. It returns an
// empty map when the store cannot be read.
func (c *Checker) AllHealthStats(ctx context.Context) map[string]models.HealthStats {
	records, err := c.repo.List(ctx)
	if err != nil {
		c.logger.Error("failed to list provider health", zap.Error(err))
		return map[string]models.HealthStats{}
	}

	stats := make(map[string]models.HealthStats, len(records))
	for _, rec := range records {
		stats[rec.ProviderName] = models.StatsOf(rec)
	}

	return stats
}

// ResetProvider restores full trust in provider and logs a recovered event.
func (c *Checker) ResetProvider(ctx context.Context, provider string) bool {
	rec, err := c.repo.Reset(ctx, provider, c.now())
	if err != nil {
		c.logger.Error("failed to reset provider", zap.String("provider", provider), zap.Error(err))
		return false
	}

	c.observe(rec)
	c.logger.Info("provider reset", zap.String("provider", provider))

	event := c.appendEvent(ctx, rec, models.EventRecovered, "manual reset")
	c.notify(event)

	return true
}

// Events returns the newest events of provider first. A limit of zero or
// less means DefaultEventLimit.
func (c *Checker) Events(ctx context.Context, provider string, limit int) ([]models.HealthEvent, error) {
	if limit <= 0 {
		limit = DefaultEventLimit
	}

	return c.repo.Events(ctx, provider, limit)
}

func (c *Checker) observe(rec *models.HealthRecord) {
	metrics.UpdateProviderHealth(rec.ProviderName, rec.HealthScore, rec.IsAvailable)
}

func (c *Checker) appendEvent(ctx context.Context, rec *models.HealthRecord, eventType models.EventType, message string) models.HealthEvent {
	event := models.HealthEvent{
		ID:           uuid.NewString(),
		ProviderName: rec.ProviderName,
		EventType:    eventType,
		HealthScore:  rec.HealthScore,
		Message:      message,
		Timestamp:    c.now(),
	}

	metrics.RecordHealthEvent(rec.ProviderName, string(eventType))

	if err := c.repo.AppendEvent(ctx, event); err != nil {
		c.logger.Error("failed to append health event",
			zap.String("provider", rec.ProviderName),
			zap.String("event_type", string(eventType)),
			zap.Error(err))
	}

	return event
}

func (c *Checker) notify(event models.HealthEvent) {
	if c.sink == nil {
		return
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("health event sink panicked", zap.Any("panic", r))
			}
		}()

		if err := c.sink.Notify(context.Background(), event); err != nil {
			c.logger.Warn("failed to deliver health event",
				zap.String("provider", event.ProviderName),
				zap.String("event_type", string(event.EventType)),
				zap.Error(err))
		}
	}()
}
