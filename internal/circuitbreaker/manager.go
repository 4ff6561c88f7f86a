package circuitbreaker

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sujun1972/stock-analysis-sub008/internal/logging"
	"go.uber.org/zap"
)

// Manager is the registry of named breakers for a process. Construct one at
// startup and pass it to the call sites that need it.
type Manager struct {
	breakers  map[string]*CircuitBreaker
	listeners []StateChangeListener
	mu        sync.RWMutex
	logger    *zap.Logger
	now       func() time.Time
}

type ManagerOption func(*Manager)

// WithManagerClock sets the clock handed to every breaker the manager creates.
func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func NewManager(logger *zap.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		breakers: make(map[string]*CircuitBreaker),
		logger:   logging.OrNop(logger),
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// GetOrCreate returns the breaker registered under name, creating it with config
// on first use. Later calls ignore config: the first creation wins.
func (m *Manager) GetOrCreate(name string, config Config) *CircuitBreaker {
	m.mu.RLock()
	breaker, exists := m.breakers[name]
	m.mu.RUnlock()

	if exists {
		return breaker
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock
	if breaker, exists = m.breakers[name]; exists {
		return breaker
	}

	breaker = New(name, config,
		WithLogger(m.logger),
		WithClock(m.now),
		withStateChangeHook(m.handleStateChange),
	)
	m.breakers[name] = breaker

	cfg := breaker.Config()
	m.logger.Info("created circuit breaker",
		zap.String("breaker", name),
		zap.Int("failure_threshold", cfg.FailureThreshold),
		zap.Duration("recovery_timeout", cfg.RecoveryTimeout),
		zap.Int("half_open_max_calls", cfg.HalfOpenMaxCalls))

	return breaker
}

func (m *Manager) Get(name string) (*CircuitBreaker, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	breaker, exists := m.breakers[name]
	return breaker, exists
}

// Execute runs fn through the breaker registered under name.
func (m *Manager) Execute(name string, fn func() error) error {
	breaker, exists := m.Get(name)
	if !exists {
		return fmt.Errorf("%w: %s (call GetOrCreate first)", ErrNotFound, name)
	}

	return breaker.Execute(fn)
}

// Names returns the registered breaker names in sorted order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	names := make([]string, 0, len(m.breakers))
	for name := range m.breakers {
		names = append(names, name)
	}
	m.mu.RUnlock()

	sort.Strings(names)
	return names
}

// Stats returns a metrics snapshot of every registered breaker.
func (m *Manager) Stats() map[string]Metrics {
	m.mu.RLock()
	breakers := make([]*CircuitBreaker, 0, len(m.breakers))
	for _, b := range m.breakers {
		breakers = append(breakers, b)
	}
	m.mu.RUnlock()

	stats := make(map[string]Metrics, len(breakers))
	for _, b := range breakers {
		stats[b.Name()] = b.Metrics()
	}

	return stats
}

// Reset force-closes one breaker. It reports whether the name was registered.
func (m *Manager) Reset(name string) bool {
	breaker, exists := m.Get(name)
	if !exists {
		return false
	}

	breaker.Reset()
	m.logger.Info("circuit breaker reset", zap.String("breaker", name))

	return true
}

// ResetAll force-closes every registered breaker.
func (m *Manager) ResetAll() {
	names := m.Names()
	for _, name := range names {
		if breaker, ok := m.Get(name); ok {
			breaker.Reset()
		}
	}

	m.logger.Info("all circuit breakers reset", zap.Int("count", len(names)))
}

// RegisterStateChangeListener registers a listener for state change notifications
func (m *Manager) RegisterStateChangeListener(listener StateChangeListener) {
	if listener == nil {
		m.logger.Warn("attempted to register a nil state change listener")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.listeners = append(m.listeners, listener)
}

func (m *Manager) handleStateChange(name string, from, to State) {
	m.mu.RLock()
	listeners := make([]StateChangeListener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.RUnlock()

	for _, listener := range listeners {
		// Notify in goroutine to avoid blocking breaker bookkeeping
		go func(l StateChangeListener) {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("circuit breaker state change listener panicked",
						zap.String("breaker", name), zap.Any("panic", r))
				}
			}()

			l.OnStateChange(name, from, to)
		}(listener)
	}
}
