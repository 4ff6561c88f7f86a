// Package postgres provides PostgreSQL-backed implementations of repository interfaces.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/sujun1972/stock-analysis-sub008/internal/logging"
	"github.com/sujun1972/stock-analysis-sub008/internal/repository"
	"github.com/sujun1972/stock-analysis-sub008/internal/repository/models"
	"go.uber.org/zap"
)

// Schema creates the health tables if they do not exist.
const Schema = `
CREATE TABLE IF NOT EXISTS data_source_health (
	provider_name        TEXT PRIMARY KEY,
	health_score         DOUBLE PRECISION NOT NULL DEFAULT 100,
	is_available         BOOLEAN NOT NULL DEFAULT TRUE,
	total_requests       BIGINT NOT NULL DEFAULT 0,
	success_count        BIGINT NOT NULL DEFAULT 0,
	failure_count        BIGINT NOT NULL DEFAULT 0,
	consecutive_failures BIGINT NOT NULL DEFAULT 0,
	last_success_at      TIMESTAMPTZ,
	last_failure_at      TIMESTAMPTZ,
	last_error_message   TEXT,
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS data_source_health_events (
	id            UUID PRIMARY KEY,
	provider_name TEXT NOT NULL,
	event_type    TEXT NOT NULL CHECK (event_type IN ('success', 'failure', 'degraded', 'recovered')),
	health_score  DOUBLE PRECISION NOT NULL,
	message       TEXT,
	event_time    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_health_events_provider_time
	ON data_source_health_events (provider_name, event_time DESC);
`

const recordColumns = `
	provider_name, health_score, is_available,
	total_requests, success_count, failure_count, consecutive_failures,
	last_success_at, last_failure_at, COALESCE(last_error_message, ''), updated_at
`

type PostgresHealthRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresHealthRepository(connectionString string, logger *zap.Logger) (*PostgresHealthRepository, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgresHealthRepository{db: db, logger: logging.OrNop(logger)}, nil
}

// EnsureSchema applies Schema.
func (r *PostgresHealthRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create health schema: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.HealthRecord, error) {
	var rec models.HealthRecord
	if err := row.Scan(
		&rec.ProviderName,
		&rec.HealthScore,
		&rec.IsAvailable,
		&rec.TotalRequests,
		&rec.SuccessCount,
		&rec.FailureCount,
		&rec.ConsecutiveFailures,
		&rec.LastSuccessAt,
		&rec.LastFailureAt,
		&rec.LastErrorMessage,
		&rec.UpdatedAt,
	); err != nil {
		return nil, err
	}

	return &rec, nil
}

func (r *PostgresHealthRepository) RecordSuccess(ctx context.Context, provider string, reward float64, at time.Time) (*models.HealthRecord, error) {
	query := `
		INSERT INTO data_source_health (
			provider_name, health_score, is_available, total_requests,
			success_count, failure_count, consecutive_failures,
			last_success_at, updated_at
		) VALUES ($1, LEAST(100 + $2::double precision, 100), TRUE, 1, 1, 0, 0, $3, $3)
		ON CONFLICT (provider_name) DO UPDATE SET
			health_score = LEAST(data_source_health.health_score + $2::double precision, 100),
			is_available = TRUE,
			total_requests = data_source_health.total_requests + 1,
			success_count = data_source_health.success_count + 1,
			consecutive_failures = 0,
			last_success_at = $3,
			updated_at = $3
		RETURNING` + recordColumns

	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, provider, reward, at))
	if err != nil {
		return nil, fmt.Errorf("failed to record success for %s: %w", provider, err)
	}

	return rec, nil
}

func (r *PostgresHealthRepository) RecordFailure(ctx context.Context, provider string, update models.FailureUpdate) (*models.HealthRecord, error) {
	query := `
		INSERT INTO data_source_health (
			provider_name, health_score, is_available, total_requests,
			success_count, failure_count, consecutive_failures,
			last_failure_at, last_error_message, updated_at
		) VALUES ($1, GREATEST(100 - $2::double precision, 0), 1 < $3::bigint, 1, 0, 1, 1, $5, $4, $5)
		ON CONFLICT (provider_name) DO UPDATE SET
			health_score = GREATEST(data_source_health.health_score - $2::double precision, 0),
			is_available = CASE
				WHEN data_source_health.consecutive_failures + 1 >= $3::bigint THEN FALSE
				ELSE data_source_health.is_available
			END,
			total_requests = data_source_health.total_requests + 1,
			failure_count = data_source_health.failure_count + 1,
			consecutive_failures = data_source_health.consecutive_failures + 1,
			last_failure_at = $5,
			last_error_message = $4,
			updated_at = $5
		RETURNING` + recordColumns

	var message any
	if update.Message != "" {
		message = update.Message
	}

	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, provider, update.Penalty, update.Threshold, message, update.At))
	if err != nil {
		return nil, fmt.Errorf("failed to record failure for %s: %w", provider, err)
	}

	return rec, nil
}

func (r *PostgresHealthRepository) Recover(ctx context.Context, provider string, rec models.Recovery) (*models.HealthRecord, bool, error) {
	query := `
		UPDATE data_source_health
		SET is_available = TRUE,
		    consecutive_failures = 0,
		    health_score = $2,
		    updated_at = $4
		WHERE provider_name = $1
		  AND is_available = FALSE
		  AND last_failure_at <= $3
		RETURNING` + recordColumns

	recovered, err := scanRecord(r.db.QueryRowContext(ctx, query, provider, rec.Score, rec.FailedBefore, rec.At))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to recover %s: %w", provider, err)
	}

	return recovered, true, nil
}

func (r *PostgresHealthRepository) Reset(ctx context.Context, provider string, at time.Time) (*models.HealthRecord, error) {
	query := `
		INSERT INTO data_source_health (provider_name, health_score, is_available, consecutive_failures, updated_at)
		VALUES ($1, 100, TRUE, 0, $2)
		ON CONFLICT (provider_name) DO UPDATE SET
			health_score = 100,
			is_available = TRUE,
			consecutive_failures = 0,
			updated_at = $2
		RETURNING` + recordColumns

	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, provider, at))
	if err != nil {
		return nil, fmt.Errorf("failed to reset %s: %w", provider, err)
	}

	return rec, nil
}

func (r *PostgresHealthRepository) Get(ctx context.Context, provider string) (*models.HealthRecord, error) {
	query := `SELECT` + recordColumns + `FROM data_source_health WHERE provider_name = $1`

	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, provider))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return rec, nil
}

func (r *PostgresHealthRepository) List(ctx context.Context) ([]models.HealthRecord, error) {
	query := `SELECT` + recordColumns + `FROM data_source_health ORDER BY provider_name`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.Warn("failed to close rows", zap.Error(err))
		}
	}()

	records := make([]models.HealthRecord, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}

	return records, rows.Err()
}

func (r *PostgresHealthRepository) AppendEvent(ctx context.Context, event models.HealthEvent) error {
	query := `
		INSERT INTO data_source_health_events (
			id, provider_name, event_type, health_score, message, event_time
		) VALUES ($1, $2, $3, $4, $5, $6)
	`

	var message any
	if event.Message != "" {
		message = event.Message
	}

	_, err := r.db.ExecContext(
		ctx,
		query,
		event.ID,
		event.ProviderName,
		string(event.EventType),
		event.HealthScore,
		message,
		event.Timestamp,
	)

	return err
}

func (r *PostgresHealthRepository) Events(ctx context.Context, provider string, limit int) ([]models.HealthEvent, error) {
	query := `
		SELECT id, provider_name, event_type, health_score, COALESCE(message, ''), event_time
		FROM data_source_health_events
		WHERE provider_name = $1
		ORDER BY event_time DESC
		LIMIT $2
	`

	var limitVal any
	if limit > 0 {
		limitVal = limit
	}

	rows, err := r.db.QueryContext(ctx, query, provider, limitVal)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.Warn("failed to close rows", zap.Error(err))
		}
	}()

	events := make([]models.HealthEvent, 0)
	for rows.Next() {
		var e models.HealthEvent
		var eventType string
		if err := rows.Scan(
			&e.ID,
			&e.ProviderName,
			&eventType,
			&e.HealthScore,
			&e.Message,
			&e.Timestamp,
		); err != nil {
			return nil, err
		}

		e.EventType = models.EventType(eventType)
		events = append(events, e)
	}

	return events, rows.Err()
}

func (r *PostgresHealthRepository) DB() *sql.DB {
	return r.db
}

func (r *PostgresHealthRepository) Close() error {
	return r.db.Close()
}

var _ repository.HealthRepository = (*PostgresHealthRepository)(nil)
