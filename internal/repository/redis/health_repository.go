// Package redis provides a Redis-backed HealthRepository. Every counter update
// runs as one Lua script so concurrent writers never interleave.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sujun1972/stock-analysis-sub008/internal/logging"
	"github.com/sujun1972/stock-analysis-sub008/internal/repository"
	"github.com/sujun1972/stock-analysis-sub008/internal/repository/models"
	"go.uber.org/zap"
)

const (
	keyPrefix    = "health:"
	providersKey = keyPrefix + "providers"
	maxEvents    = 1000
)

func recordKey(provider string) string { return keyPrefix + "provider:" + provider }
func eventsKey(provider string) string { return keyPrefix + "events:" + provider }

// initRecord creates a missing record with defaults. KEYS[1] is the record,
// KEYS[2] the provider set and ARGV[#ARGV] the provider name.
const initRecord = `
if redis.call('EXISTS', KEYS[1]) == 0 then
	redis.call('HSET', KEYS[1],
		'health_score', '100', 'is_available', '1',
		'total_requests', '0', 'success_count', '0', 'failure_count', '0',
		'consecutive_failures', '0')
	redis.call('SADD', KEYS[2], ARGV[#ARGV])
end
`

var recordSuccessScript = redis.NewScript(initRecord + `
local score = tonumber(redis.call('HGET', KEYS[1], 'health_score')) + tonumber(ARGV[1])
if score > 100 then score = 100 end
redis.call('HINCRBY', KEYS[1], 'total_requests', 1)
redis.call('HINCRBY', KEYS[1], 'success_count', 1)
redis.call('HSET', KEYS[1],
	'health_score', tostring(score), 'is_available', '1', 'consecutive_failures', '0',
	'last_success_at', ARGV[2], 'updated_at', ARGV[2])
return redis.call('HGETALL', KEYS[1])
`)

var recordFailureScript = redis.NewScript(initRecord + `
local score = tonumber(redis.call('HGET', KEYS[1], 'health_score')) - tonumber(ARGV[1])
if score < 0 then score = 0 end
redis.call('HINCRBY', KEYS[1], 'total_requests', 1)
redis.call('HINCRBY', KEYS[1], 'failure_count', 1)
local consecutive = redis.call('HINCRBY', KEYS[1], 'consecutive_failures', 1)
redis.call('HSET', KEYS[1],
	'health_score', tostring(score), 'last_error_message', ARGV[3],
	'last_failure_at', ARGV[4], 'updated_at', ARGV[4])
if consecutive >= tonumber(ARGV[2]) then
	redis.call('HSET', KEYS[1], 'is_available', '0')
end
return redis.call('HGETALL', KEYS[1])
`)

var recoverScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return false end
if redis.call('HGET', KEYS[1], 'is_available') == '1' then return false end
local failedAt = redis.call('HGET', KEYS[1], 'last_failure_at')
if not failedAt or tonumber(failedAt) > tonumber(ARGV[2]) then return false end
redis.call('HSET', KEYS[1],
	'is_available', '1', 'consecutive_failures', '0',
	'health_score', ARGV[1], 'updated_at', ARGV[3])
return redis.call('HGETALL', KEYS[1])
`)

var resetScript = redis.NewScript(initRecord + `
redis.call('HSET', KEYS[1],
	'health_score', '100', 'is_available', '1', 'consecutive_failures', '0',
	'updated_at', ARGV[1])
return redis.call('HGETALL', KEYS[1])
`)

type RedisHealthRepository struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedisHealthRepository(redisAddr string, logger *zap.Logger) (*RedisHealthRepository, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisHealthRepository{client: client, logger: logging.OrNop(logger)}, nil
}

func (r *RedisHealthRepository) RecordSuccess(ctx context.Context, provider string, reward float64, at time.Time) (*models.HealthRecord, error) {
	fields, err := recordSuccessScript.Run(ctx, r.client,
		[]string{recordKey(provider), providersKey},
		formatFloat(reward), formatTime(at), provider,
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to record success for %s: %w", provider, err)
	}

	return parseRecord(provider, pairs(fields))
}

func (r *RedisHealthRepository) RecordFailure(ctx context.Context, provider string, update models.FailureUpdate) (*models.HealthRecord, error) {
	fields, err := recordFailureScript.Run(ctx, r.client,
		[]string{recordKey(provider), providersKey},
		formatFloat(update.Penalty), strconv.FormatInt(update.Threshold, 10), update.Message, formatTime(update.At), provider,
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to record failure for %s: %w", provider, err)
	}

	return parseRecord(provider, pairs(fields))
}

func (r *RedisHealthRepository) Recover(ctx context.Context, provider string, rec models.Recovery) (*models.HealthRecord, bool, error) {
	fields, err := recoverScript.Run(ctx, r.client,
		[]string{recordKey(provider)},
		formatFloat(rec.Score), formatTime(rec.FailedBefore), formatTime(rec.At),
	).StringSlice()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to recover %s: %w", provider, err)
	}

	recovered, err := parseRecord(provider, pairs(fields))
	if err != nil {
		return nil, false, err
	}

	return recovered, true, nil
}

func (r *RedisHealthRepository) Reset(ctx context.Context, provider string, at time.Time) (*models.HealthRecord, error) {
	fields, err := resetScript.Run(ctx, r.client,
		[]string{recordKey(provider), providersKey},
		formatTime(at), provider,
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to reset %s: %w", provider, err)
	}

	return parseRecord(provider, pairs(fields))
}

func (r *RedisHealthRepository) Get(ctx context.Context, provider string) (*models.HealthRecord, error) {
	fields, err := r.client.HGetAll(ctx, recordKey(provider)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, repository.ErrNotFound
	}

	return parseRecord(provider, fields)
}

func (r *RedisHealthRepository) List(ctx context.Context) ([]models.HealthRecord, error) {
	providers, err := r.client.SMembers(ctx, providersKey).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(providers)

	cmds := make([]*redis.MapStringStringCmd, len(providers))
	_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, p := range providers {
			cmds[i] = pipe.HGetAll(ctx, recordKey(p))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	records := make([]models.HealthRecord, 0, len(providers))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}

		rec, err := parseRecord(providers[i], fields)
		if err != nil {
			r.logger.Warn("skipping unreadable health record", zap.String("provider", providers[i]), zap.Error(err))
			continue
		}
		records = append(records, *rec)
	}

	return records, nil
}

func (r *RedisHealthRepository) AppendEvent(ctx context.Context, event models.HealthEvent) error {
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return err
	}

	key := eventsKey(event.ProviderName)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, eventJSON)
		pipe.LTrim(ctx, key, 0, maxEvents-1)
		return nil
	})

	return err
}

func (r *RedisHealthRepository) Events(ctx context.Context, provider string, limit int) ([]models.HealthEvent, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}

	raw, err := r.client.LRange(ctx, eventsKey(provider), 0, stop).Result()
	if err != nil {
		return nil, err
	}

	events := make([]models.HealthEvent, 0, len(raw))
	for _, item := range raw {
		var e models.HealthEvent
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			r.logger.Warn("skipping unreadable health event", zap.String("provider", provider), zap.Error(err))
			continue
		}
		events = append(events, e)
	}

	return events, nil
}

func (r *RedisHealthRepository) Client() *redis.Client {
	return r.client
}

func (r *RedisHealthRepository) Close() error {
	return r.client.Close()
}

var _ repository.HealthRepository = (*RedisHealthRepository)(nil)

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Timestamps are stored as Unix microseconds, which Lua compares exactly.
func formatTime(t time.Time) string {
	return strconv.FormatInt(t.UnixMicro(), 10)
}

func pairs(flat []string) map[string]string {
	m := make(map[string]string, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		m[flat[i]] = flat[i+1]
	}
	return m
}

func parseRecord(provider string, fields map[string]string) (*models.HealthRecord, error) {
	rec := models.HealthRecord{
		ProviderName:     provider,
		IsAvailable:      fields["is_available"] == "1",
		LastErrorMessage: fields["last_error_message"],
	}

	var err error
	if rec.HealthScore, err = strconv.ParseFloat(fields["health_score"], 64); err != nil {
		return nil, fmt.Errorf("invalid health_score for %s: %w", provider, err)
	}

	counters := []struct {
		field string
		dst   *int64
	}{
		{"total_requests", &rec.TotalRequests},
		{"success_count", &rec.SuccessCount},
		{"failure_count", &rec.FailureCount},
		{"consecutive_failures", &rec.ConsecutiveFailures},
	}
	for _, c := range counters {
		if *c.dst, err = strconv.ParseInt(fields[c.field], 10, 64); err != nil {
			return nil, fmt.Errorf("invalid %s for %s: %w", c.field, provider, err)
		}
	}

	if rec.LastSuccessAt, err = parseTime(fields["last_success_at"]); err != nil {
		return nil, err
	}
	if rec.LastFailureAt, err = parseTime(fields["last_failure_at"]); err != nil {
		return nil, err
	}
	if updated, err := parseTime(fields["updated_at"]); err != nil {
		return nil, err
	} else if updated != nil {
		rec.UpdatedAt = *updated
	}

	return &rec, nil
}

func parseTime(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}

	micros, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp %q: %w", raw, err)
	}

	t := time.UnixMicro(micros)
	return &t, nil
}
