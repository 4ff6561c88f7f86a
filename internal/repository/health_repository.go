// Package repository defines durable storage for provider health.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/sujun1972/stock-analysis-sub008/internal/repository/models"
)

var ErrNotFound = errors.New("health record not found")

// HealthRepository stores one HealthRecord per provider plus its event trail.
// Counter updates are applied by the store as single atomic expressions, so
// concurrent writers from several processes never lose increments.
type HealthRepository interface {
	// RecordSuccess and RecordFailure create the record with defaults when the
	// provider is unseen and return the record after the update.
	RecordSuccess(ctx context.Context, provider string, reward float64, at time.Time) (*models.HealthRecord, error)
	RecordFailure(ctx context.Context, provider string, update models.FailureUpdate) (*models.HealthRecord, error)

	// Recover marks an unavailable provider available again. It reports false
	// when the conditions in r do not hold, so only one concurrent caller wins.
	Recover(ctx context.Context, provider string, r models.Recovery) (*models.HealthRecord, bool, error)

	// Reset restores the defaults of a provider, creating it if needed.
	Reset(ctx context.Context, provider string, at time.Time) (*models.HealthRecord, error)

	Get(ctx context.Context, provider string) (*models.HealthRecord, error)
	List(ctx context.Context) ([]models.HealthRecord, error)

	AppendEvent(ctx context.Context, event models.HealthEvent) error
	// Events returns the newest events of a provider first.
	Events(ctx context.Context, provider string, limit int) ([]models.HealthEvent, error)

	Close() error
}
