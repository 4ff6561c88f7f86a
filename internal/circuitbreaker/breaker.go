package circuitbreaker

import (
	"sync"
	"time"

	"github.com/sujun1972/stock-analysis-sub008/internal/logging"
	"github.com/sujun1972/stock-analysis-sub008/internal/metrics"
	"go.uber.org/zap"
)

const maxTransitionHistory = 100

type Option func(*CircuitBreaker)

func WithLogger(logger *zap.Logger) Option {
	return func(cb *CircuitBreaker) {
		cb.logger = logging.OrNop(logger)
	}
}

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(cb *CircuitBreaker) {
		if now != nil {
			cb.now = now
		}
	}
}

func withStateChangeHook(hook func(name string, from, to State)) Option {
	return func(cb *CircuitBreaker) {
		cb.onStateChange = hook
	}
}

// CircuitBreaker guards a single named resource. The mutex is only held for
// admission and bookkeeping, never while the wrapped function runs.
type CircuitBreaker struct {
	name          string
	config        Config
	logger        *zap.Logger
	now           func() time.Time
	onStateChange func(name string, from, to State)

	mu            sync.Mutex
	state         State
	failureCount  int
	successCount  int
	totalCalls    int
	rejectedCalls int
	halfOpenCalls int
	generation    uint64
	lastFailure   time.Time
	lastChange    time.Time
	transitions   []Transition
}

// New creates a CLOSED breaker. Most callers should go through a Manager so
// breakers are shared per resource name.
func New(name string, config Config, opts ...Option) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:   name,
		config: config.withDefaults(),
		logger: zap.NewNop(),
		now:    time.Now,
		state:  StateClosed,
	}

	for _, opt := range opts {
		opt(cb)
	}

	return cb
}

func (cb *CircuitBreaker) Name() string {
	return cb.name
}

func (cb *CircuitBreaker) Config() Config {
	return cb.config
}

// Execute runs fn if the breaker admits the call. Errors that do not count as
// failures under Config are returned untouched and leave the state machine alone.
// A panic in fn is classified like an error wrapping ErrPanicked and then
// re-raised.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	generation, err := cb.admit()
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			if cb.config.countsAsFailure(panicError(r)) {
				cb.record(generation, true)
			} else {
				cb.release(generation)
			}
			panic(r)
		}
	}()

	err = fn()

	if err != nil && !cb.config.countsAsFailure(err) {
		cb.release(generation)
		return err
	}

	cb.record(generation, err != nil)

	return err
}

// Call runs fn through cb and returns its value.
func Call[T any](cb *CircuitBreaker, fn func() (T, error)) (T, error) {
	var out T

	err := cb.Execute(func() error {
		var err error
		out, err = fn()

		return err
	})

	return out, err
}

// State returns the current state. It does not move an expired OPEN breaker to
// HALF_OPEN; only a call attempt does.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return cb.state
}

func (cb *CircuitBreaker) Metrics() Metrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	m := Metrics{
		Name:             cb.name,
		State:            cb.state,
		FailureCount:     cb.failureCount,
		SuccessCount:     cb.successCount,
		TotalCalls:       cb.totalCalls,
		RejectedCalls:    cb.rejectedCalls,
		StateTransitions: append([]Transition(nil), cb.transitions...),
	}
	if !cb.lastFailure.IsZero() {
		t := cb.lastFailure
		m.LastFailureTime = &t
	}
	if !cb.lastChange.IsZero() {
		t := cb.lastChange
		m.LastStateChange = &t
	}

	return m
}

// Reset force-closes the breaker and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	var changes []Transition
	if cb.state != StateClosed {
		changes = append(changes, cb.transition(StateClosed, cb.now()))
	}
	cb.failureCount = 0
	cb.successCount = 0
	cb.halfOpenCalls = 0
	cb.mu.Unlock()

	cb.notify(changes)
}

func (cb *CircuitBreaker) admit() (uint64, error) {
	cb.mu.Lock()
	var changes []Transition
	defer func() {
		cb.mu.Unlock()
		cb.notify(changes)
	}()

	now := cb.now()

	if cb.state == StateOpen {
		elapsed := now.Sub(cb.lastFailure)
		if elapsed < cb.config.RecoveryTimeout {
			return 0, cb.reject(StateOpen, cb.config.RecoveryTimeout-elapsed)
		}

		changes = append(changes, cb.transition(StateHalfOpen, now))
	}

	if cb.state == StateHalfOpen {
		if cb.halfOpenCalls >= cb.config.HalfOpenMaxCalls {
			return 0, cb.reject(StateHalfOpen, 0)
		}
		cb.halfOpenCalls++
	}

	cb.totalCalls++

	return cb.generation, nil
}

// reject must be called with mu held.
func (cb *CircuitBreaker) reject(state State, retryAfter time.Duration) error {
	cb.rejectedCalls++
	metrics.RecordBreakerRejection(cb.name)

	return &OpenError{Name: cb.name, State: state, RetryAfter: retryAfter}
}

// release frees a half-open trial slot for a call whose error is not circuit
// relevant.
func (cb *CircuitBreaker) release(generation uint64) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen && generation == cb.generation {
		cb.halfOpenCalls--
	}
}

func (cb *CircuitBreaker) record(generation uint64, failed bool) {
	cb.mu.Lock()
	var changes []Transition
	defer func() {
		cb.mu.Unlock()
		cb.notify(changes)
	}()

	trial := cb.state == StateHalfOpen && generation == cb.generation
	if trial {
		cb.halfOpenCalls--
	}

	now := cb.now()

	if !failed {
		cb.successCount++
		metrics.RecordBreakerCall(cb.name, "success")

		switch {
		case trial:
			changes = append(changes, cb.transition(StateClosed, now))
		case cb.state == StateClosed && cb.failureCount > 0:
			cb.failureCount = 0
		}

		return
	}

	cb.failureCount++
	cb.lastFailure = now
	metrics.RecordBreakerCall(cb.name, "failure")

	switch cb.state {
	case StateClosed:
		if cb.failureCount >= cb.config.FailureThreshold {
			changes = append(changes, cb.transition(StateOpen, now))
		}
	case StateHalfOpen:
		changes = append(changes, cb.transition(StateOpen, now))
	}
}

// transition must be called with mu held. Every transition starts a new
// generation so calls admitted before it cannot release trial slots after it.
func (cb *CircuitBreaker) transition(to State, now time.Time) Transition {
	t := Transition{From: cb.state, To: to, At: now}

	cb.state = to
	cb.lastChange = now
	cb.halfOpenCalls = 0
	cb.generation++

	if to == StateClosed {
		cb.failureCount = 0
		cb.successCount = 0
	}

	cb.transitions = append(cb.transitions, t)
	if len(cb.transitions) > maxTransitionHistory {
		cb.transitions = cb.transitions[len(cb.transitions)-maxTransitionHistory:]
	}

	return t
}

func (cb *CircuitBreaker) notify(changes []Transition) {
	for _, t := range changes {
		metrics.RecordBreakerTransition(cb.name, string(t.From), string(t.To))

		switch t.To {
		case StateOpen:
			cb.logger.Error("circuit breaker opened, calls will fast-fail",
				zap.String("breaker", cb.name), zap.String("from", string(t.From)),
				zap.Duration("recovery_timeout", cb.config.RecoveryTimeout))
		case StateHalfOpen:
			cb.logger.Info("circuit breaker half-open, admitting trial calls",
				zap.String("breaker", cb.name), zap.Int("max_trial_calls", cb.config.HalfOpenMaxCalls))
		case StateClosed:
			cb.logger.Info("circuit breaker closed", zap.String("breaker", cb.name), zap.String("from", string(t.From)))
		}

		if cb.onStateChange != nil {
			cb.onStateChange(cb.name, t.From, t.To)
		}
	}
}
