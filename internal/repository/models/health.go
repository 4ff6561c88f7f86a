// Package models contains data structures used by the health repository layer.
package models

import "time"

const (
	MaxHealthScore = 100.0
	MinHealthScore = 0.0
)

type EventType string

const (
	EventSuccess   EventType = "success"
	EventFailure   EventType = "failure"
	EventDegraded  EventType = "degraded"
	EventRecovered EventType = "recovered"
)

// HealthRecord is the durable reliability state of one provider.
type HealthRecord struct {
	ProviderName        string     `json:"provider_name"`
	HealthScore         float64    `json:"health_score"`
	IsAvailable         bool       `json:"is_available"`
	TotalRequests       int64      `json:"total_requests"`
	SuccessCount        int64      `json:"success_count"`
	FailureCount        int64      `json:"failure_count"`
	ConsecutiveFailures int64      `json:"consecutive_failures"`
	LastSuccessAt       *time.Time `json:"last_success_at,omitempty"`
	LastFailureAt       *time.Time `json:"last_failure_at,omitempty"`
	LastErrorMessage    string     `json:"last_error_message,omitempty"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// NewHealthRecord returns the record of a provider that has never been seen.
func NewHealthRecord(provider string) HealthRecord {
	return HealthRecord{
		ProviderName: provider,
		HealthScore:  MaxHealthScore,
		IsAvailable:  true,
	}
}

func (r HealthRecord) SuccessRate() float64 {
	return float64(r.SuccessCount) / float64(max(1, r.TotalRequests))
}

type HealthStats struct {
	HealthRecord
	SuccessRate float64 `json:"success_rate"`
}

func StatsOf(r HealthRecord) HealthStats {
	return HealthStats{HealthRecord: r, SuccessRate: r.SuccessRate()}
}

// HealthEvent is an append-only audit entry.
type HealthEvent struct {
	ID           string    `json:"id"`
	ProviderName string    `json:"provider_name"`
	EventType    EventType `json:"event_type"`
	HealthScore  float64   `json:"health_score"`
	Message      string    `json:"message,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// FailureUpdate carries the parameters of one recorded failure.
type FailureUpdate struct {
	Penalty   float64
	Threshold int64 // consecutive failures that mark the provider unavailable
	Message   string
	At        time.Time
}

// Recovery carries the parameters of an auto-recovery attempt. The provider
// is recovered only if it is unavailable and its last failure is not after
// FailedBefore.
type Recovery struct {
	Score        float64
	FailedBefore time.Time
	At           time.Time
}
