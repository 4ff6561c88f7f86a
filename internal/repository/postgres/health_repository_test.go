package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sujun1972/stock-analysis-sub008/internal/repository"
	"github.com/sujun1972/stock-analysis-sub008/internal/repository/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var healthColumns = []string{
	"provider_name", "health_score", "is_available",
	"total_requests", "success_count", "failure_count", "consecutive_failures",
	"last_success_at", "last_failure_at", "last_error_message", "updated_at",
}

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *PostgresHealthRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	repo := &PostgresHealthRepository{db: db, logger: zap.NewNop()}
	return db, mock, repo
}

func TestNewPostgresHealthRepository(t *testing.T) {
	t.Run("successful connection", func(t *testing.T) {
		t.Skip("Integration test - requires real database")
	})

	t.Run("connection failure", func(t *testing.T) {
		_, err := NewPostgresHealthRepository("invalid connection string", nil)
		assert.Error(t, err)
	})
}

func TestEnsureSchema(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer func() { _ = db.Close() }()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS data_source_health").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordSuccess(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer func() { _ = db.Close() }()

	ctx := context.Background()
	now := time.Now()

	t.Run("upserts and returns the updated record", func(t *testing.T) {
		rows := sqlmock.NewRows(healthColumns).AddRow(
			"tushare", 95.0, true,
			11, 8, 3, 0,
			now, now.Add(-time.Hour), "timeout", now,
		)

		mock.ExpectQuery("INSERT INTO data_source_health.*ON CONFLICT \\(provider_name\\) DO UPDATE.*consecutive_failures = 0.*RETURNING").
			WithArgs("tushare", 5.0, now).
			WillReturnRows(rows)

		rec, err := repo.RecordSuccess(ctx, "tushare", 5, now)
		require.NoError(t, err)
		assert.Equal(t, "tushare", rec.ProviderName)
		assert.Equal(t, 95.0, rec.HealthScore)
		assert.True(t, rec.IsAvailable)
		assert.Equal(t, int64(11), rec.TotalRequests)
		require.NotNil(t, rec.LastSuccessAt)
		require.NotNil(t, rec.LastFailureAt)
		assert.Equal(t, "timeout", rec.LastErrorMessage)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("database error", func(t *testing.T) {
		mock.ExpectQuery("INSERT INTO data_source_health").
			WithArgs("tushare", 5.0, now).
			WillReturnError(errors.New("connection reset"))

		_, err := repo.RecordSuccess(ctx, "tushare", 5, now)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to record success for tushare")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRecordFailure(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer func() { _ = db.Close() }()

	ctx := context.Background()
	now := time.Now()

	t.Run("passes threshold and message", func(t *testing.T) {
		rows := sqlmock.NewRows(healthColumns).AddRow(
			"akshare", 70.0, false,
			3, 0, 3, 3,
			nil, now, "502 bad gateway", now,
		)

		mock.ExpectQuery("INSERT INTO data_source_health.*ON CONFLICT.*consecutive_failures \\+ 1 >=.*RETURNING").
			WithArgs("akshare", 10.0, int64(3), "502 bad gateway", now).
			WillReturnRows(rows)

		rec, err := repo.RecordFailure(ctx, "akshare", models.FailureUpdate{
			Penalty: 10, Threshold: 3, Message: "502 bad gateway", At: now,
		})
		require.NoError(t, err)
		assert.False(t, rec.IsAvailable)
		assert.Equal(t, int64(3), rec.ConsecutiveFailures)
		assert.Nil(t, rec.LastSuccessAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty message is stored as NULL", func(t *testing.T) {
		rows := sqlmock.NewRows(healthColumns).AddRow(
			"akshare", 90.0, true,
			1, 0, 1, 1,
			nil, now, "", now,
		)

		mock.ExpectQuery("INSERT INTO data_source_health").
			WithArgs("akshare", 10.0, int64(3), nil, now).
			WillReturnRows(rows)

		rec, err := repo.RecordFailure(ctx, "akshare", models.FailureUpdate{Penalty: 10, Threshold: 3, At: now})
		require.NoError(t, err)
		assert.Empty(t, rec.LastErrorMessage)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRecover(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer func() { _ = db.Close() }()

	ctx := context.Background()
	now := time.Now()
	cutoff := now.Add(-5 * time.Minute)

	t.Run("recovers an eligible provider", func(t *testing.T) {
		rows := sqlmock.NewRows(healthColumns).AddRow(
			"baostock", 50.0, true,
			5, 2, 3, 0,
			nil, cutoff.Add(-time.Minute), "timeout", now,
		)

		mock.ExpectQuery("UPDATE data_source_health SET is_available = TRUE.*WHERE provider_name = \\$1 AND is_available = FALSE AND last_failure_at <= \\$3").
			WithArgs("baostock", 50.0, cutoff, now).
			WillReturnRows(rows)

		rec, ok, err := repo.Recover(ctx, "baostock", models.Recovery{Score: 50, FailedBefore: cutoff, At: now})
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 50.0, rec.HealthScore)
		assert.Equal(t, int64(0), rec.ConsecutiveFailures)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no eligible row", func(t *testing.T) {
		mock.ExpectQuery("UPDATE data_source_health").
			WithArgs("baostock", 50.0, cutoff, now).
			WillReturnRows(sqlmock.NewRows(healthColumns))

		rec, ok, err := repo.Recover(ctx, "baostock", models.Recovery{Score: 50, FailedBefore: cutoff, At: now})
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, rec)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestReset(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer func() { _ = db.Close() }()

	now := time.Now()
	rows := sqlmock.NewRows(healthColumns).AddRow(
		"tushare", 100.0, true,
		40, 20, 20, 0,
		now, now, "old error", now,
	)

	mock.ExpectQuery("INSERT INTO data_source_health.*ON CONFLICT.*health_score = 100").
		WithArgs("tushare", now).
		WillReturnRows(rows)

	rec, err := repo.Reset(context.Background(), "tushare", now)
	require.NoError(t, err)
	assert.Equal(t, 100.0, rec.HealthScore)
	assert.Equal(t, int64(40), rec.TotalRequests, "counters survive a reset")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGet(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer func() { _ = db.Close() }()

	ctx := context.Background()
	now := time.Now()

	t.Run("found", func(t *testing.T) {
		rows := sqlmock.NewRows(healthColumns).AddRow(
			"tushare", 80.0, true,
			10, 8, 2, 0,
			now, now, "", now,
		)

		mock.ExpectQuery("SELECT.*FROM data_source_health WHERE provider_name").
			WithArgs("tushare").
			WillReturnRows(rows)

		rec, err := repo.Get(ctx, "tushare")
		require.NoError(t, err)
		assert.Equal(t, 80.0, rec.HealthScore)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery("SELECT.*FROM data_source_health WHERE provider_name").
			WithArgs("nonexistent").
			WillReturnError(sql.ErrNoRows)

		_, err := repo.Get(ctx, "nonexistent")
		assert.ErrorIs(t, err, repository.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestList(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer func() { _ = db.Close() }()

	ctx := context.Background()
	now := time.Now()

	t.Run("returns all records", func(t *testing.T) {
		rows := sqlmock.NewRows(healthColumns).
			AddRow("akshare", 60.0, true, 10, 6, 4, 1, now, now, "rate limited", now).
			AddRow("tushare", 0.0, false, 10, 0, 10, 10, nil, now, "timeout", now)

		mock.ExpectQuery("SELECT.*FROM data_source_health ORDER BY provider_name").
			WillReturnRows(rows)

		records, err := repo.List(ctx)
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, "akshare", records[0].ProviderName)
		assert.False(t, records[1].IsAvailable)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty table", func(t *testing.T) {
		mock.ExpectQuery("SELECT.*FROM data_source_health").
			WillReturnRows(sqlmock.NewRows(healthColumns))

		records, err := repo.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, records)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("query error", func(t *testing.T) {
		mock.ExpectQuery("SELECT.*FROM data_source_health").
			WillReturnError(errors.New("database error"))

		_, err := repo.List(ctx)
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAppendEvent(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer func() { _ = db.Close() }()

	now := time.Now()

	mock.ExpectExec("INSERT INTO data_source_health_events").
		WithArgs("evt-1", "tushare", "degraded", 70.0, "3 consecutive failures", now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.AppendEvent(context.Background(), models.HealthEvent{
		ID:           "evt-1",
		ProviderName: "tushare",
		EventType:    models.EventDegraded,
		HealthScore:  70,
		Message:      "3 consecutive failures",
		Timestamp:    now,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEvents(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer func() { _ = db.Close() }()

	ctx := context.Background()
	now := time.Now()
	columns := []string{"id", "provider_name", "event_type", "health_score", "message", "event_time"}

	t.Run("newest first with limit", func(t *testing.T) {
		rows := sqlmock.NewRows(columns).
			AddRow("evt-2", "tushare", "recovered", 50.0, "auto recovery", now).
			AddRow("evt-1", "tushare", "degraded", 70.0, "", now.Add(-time.Hour))

		mock.ExpectQuery("SELECT.*FROM data_source_health_events WHERE provider_name = \\$1 ORDER BY event_time DESC LIMIT \\$2").
			WithArgs("tushare", 10).
			WillReturnRows(rows)

		events, err := repo.Events(ctx, "tushare", 10)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, models.EventRecovered, events[0].EventType)
		assert.Equal(t, models.EventDegraded, events[1].EventType)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no limit", func(t *testing.T) {
		mock.ExpectQuery("SELECT.*FROM data_source_health_events").
			WithArgs("tushare", nil).
			WillReturnRows(sqlmock.NewRows(columns))

		events, err := repo.Events(ctx, "tushare", 0)
		require.NoError(t, err)
		assert.Empty(t, events)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDBAndClose(t *testing.T) {
	t.Run("DB returns database instance", func(t *testing.T) {
		db, _, repo := setupMockDB(t)
		defer func() { _ = db.Close() }()

		assert.Equal(t, db, repo.DB())
	})

	t.Run("Close closes database connection", func(t *testing.T) {
		_, mock, repo := setupMockDB(t)

		mock.ExpectClose()

		err := repo.Close()
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
