package circuitbreaker

import (
	"errors"
	"time"
)

// State represents circuit breaker state
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// Config holds circuit breaker configuration. Zero fields take the values of
// DefaultConfig.
type Config struct {
	FailureThreshold int           // Consecutive failures that open the circuit
	RecoveryTimeout  time.Duration // Cooldown after the last failure before a trial call
	HalfOpenMaxCalls int           // Concurrent trial calls allowed while half-open

	// ExpectedErrors lists the errors (matched with errors.Is) that count as
	// dependency failures. Empty means every non-nil error counts.
	ExpectedErrors []error

	// IsFailure, when set, replaces ExpectedErrors matching.
	IsFailure func(err error) bool
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = def.FailureThreshold
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = def.RecoveryTimeout
	}
	if c.HalfOpenMaxCalls <= 0 {
		c.HalfOpenMaxCalls = def.HalfOpenMaxCalls
	}

	return c
}

// countsAsFailure reports whether err should move the state machine.
func (c Config) countsAsFailure(err error) bool {
	if err == nil {
		return false
	}
	if c.IsFailure != nil {
		return c.IsFailure(err)
	}
	if len(c.ExpectedErrors) == 0 {
		return true
	}

	for _, expected := range c.ExpectedErrors {
		if errors.Is(err, expected) {
			return true
		}
	}

	return false
}

// Transition is one recorded state change.
type Transition struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
}

// Metrics is a point-in-time snapshot of a breaker.
type Metrics struct {
	Name             string       `json:"name"`
	State            State        `json:"state"`
	FailureCount     int          `json:"failure_count"`
	SuccessCount     int          `json:"success_count"`
	TotalCalls       int          `json:"total_calls"`
	RejectedCalls    int          `json:"rejected_calls"`
	LastFailureTime  *time.Time   `json:"last_failure_time,omitempty"`
	LastStateChange  *time.Time   `json:"last_state_change,omitempty"`
	StateTransitions []Transition `json:"state_transitions"`
}

// StateChangeListener is notified when a managed circuit breaker changes state
type StateChangeListener interface {
	OnStateChange(name string, from State, to State)
}
