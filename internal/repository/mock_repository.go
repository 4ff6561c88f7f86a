package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sujun1972/stock-analysis-sub008/internal/repository/models"
)

// MockHealthRepository is an in-memory HealthRepository for tests and local
// runs. Set the *Error fields to make the matching method fail.
type MockHealthRepository struct {
	mu                 sync.Mutex
	Records            map[string]*models.HealthRecord
	EventLog           []models.HealthEvent
	RecordSuccessCalls []string
	RecordFailureCalls []RecordFailureCall
	RecoverCalls       []string
	ResetCalls         []string
	Closed             bool

	RecordSuccessError error
	RecordFailureError error
	RecoverError       error
	ResetError         error
	GetError           error
	ListError          error
	AppendEventError   error
	EventsError        error
}

type RecordFailureCall struct {
	Provider string
	Update   models.FailureUpdate
}

func NewMockHealthRepository() *MockHealthRepository {
	return &MockHealthRepository{
		Records:  make(map[string]*models.HealthRecord),
		EventLog: make([]models.HealthEvent, 0),
	}
}

func (m *MockHealthRepository) record(provider string) *models.HealthRecord {
	r, ok := m.Records[provider]
	if !ok {
		fresh := models.NewHealthRecord(provider)
		r = &fresh
		m.Records[provider] = r
	}
	return r
}

func (m *MockHealthRepository) RecordSuccess(ctx context.Context, provider string, reward float64, at time.Time) (*models.HealthRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.RecordSuccessCalls = append(m.RecordSuccessCalls, provider)

	if m.RecordSuccessError != nil {
		return nil, m.RecordSuccessError
	}

	r := m.record(provider)
	r.TotalRequests++
	r.SuccessCount++
	r.ConsecutiveFailures = 0
	r.HealthScore = min(r.HealthScore+reward, models.MaxHealthScore)
	r.IsAvailable = true
	r.LastSuccessAt = &at
	r.UpdatedAt = at

	recordCopy := *r
	return &recordCopy, nil
}

func (m *MockHealthRepository) RecordFailure(ctx context.Context, provider string, update models.FailureUpdate) (*models.HealthRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.RecordFailureCalls = append(m.RecordFailureCalls, RecordFailureCall{Provider: provider, Update: update})

	if m.RecordFailureError != nil {
		return nil, m.RecordFailureError
	}

	at := update.At
	r := m.record(provider)
	r.TotalRequests++
	r.FailureCount++
	r.ConsecutiveFailures++
	r.HealthScore = max(r.HealthScore-update.Penalty, models.MinHealthScore)
	if r.ConsecutiveFailures >= update.Threshold {
		r.IsAvailable = false
	}
	r.LastFailureAt = &at
	r.LastErrorMessage = update.Message
	r.UpdatedAt = at

	recordCopy := *r
	return &recordCopy, nil
}

func (m *MockHealthRepository) Recover(ctx context.Context, provider string, rec models.Recovery) (*models.HealthRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.RecoverCalls = append(m.RecoverCalls, provider)

	if m.RecoverError != nil {
		return nil, false, m.RecoverError
	}

	r, ok := m.Records[provider]
	if !ok || r.IsAvailable || r.LastFailureAt == nil || r.LastFailureAt.After(rec.FailedBefore) {
		return nil, false, nil
	}

	r.IsAvailable = true
	r.ConsecutiveFailures = 0
	r.HealthScore = rec.Score
	r.UpdatedAt = rec.At

	recordCopy := *r
	return &recordCopy, true, nil
}

func (m *MockHealthRepository) Reset(ctx context.Context, provider string, at time.Time) (*models.HealthRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ResetCalls = append(m.ResetCalls, provider)

	if m.ResetError != nil {
		return nil, m.ResetError
	}

	r := m.record(provider)
	r.HealthScore = models.MaxHealthScore
	r.IsAvailable = true
	r.ConsecutiveFailures = 0
	r.UpdatedAt = at

	recordCopy := *r
	return &recordCopy, nil
}

func (m *MockHealthRepository) Get(ctx context.Context, provider string) (*models.HealthRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.GetError != nil {
		return nil, m.GetError
	}

	r, ok := m.Records[provider]
	if !ok {
		return nil, ErrNotFound
	}

	recordCopy := *r
	return &recordCopy, nil
}

func (m *MockHealthRepository) List(ctx context.Context) ([]models.HealthRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ListError != nil {
		return nil, m.ListError
	}

	out := make([]models.HealthRecord, 0, len(m.Records))
	for _, r := range m.Records {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProviderName < out[j].ProviderName })

	return out, nil
}

func (m *MockHealthRepository) AppendEvent(ctx context.Context, event models.HealthEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.AppendEventError != nil {
		return m.AppendEventError
	}

	m.EventLog = append(m.EventLog, event)
	return nil
}

func (m *MockHealthRepository) Events(ctx context.Context, provider string, limit int) ([]models.HealthEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.EventsError != nil {
		return nil, m.EventsError
	}

	out := make([]models.HealthEvent, 0)
	for i := len(m.EventLog) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if m.EventLog[i].ProviderName == provider {
			out = append(out, m.EventLog[i])
		}
	}

	return out, nil
}

// EventTypes returns the event types recorded for provider in insertion order.
func (m *MockHealthRepository) EventTypes(provider string) []models.EventType {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.EventType
	for _, e := range m.EventLog {
		if e.ProviderName == provider {
			out = append(out, e.EventType)
		}
	}
	return out
}

func (m *MockHealthRepository) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Closed = true
	return nil
}

var _ HealthRepository = (*MockHealthRepository)(nil)
