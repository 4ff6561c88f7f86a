package circuitbreaker

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrOpen matches every rejection made by a breaker, see OpenError.
	ErrOpen = errors.New("circuitbreaker: circuit open")
	// ErrNotFound is returned by Manager.Execute for unknown breaker names.
	ErrNotFound = errors.New("circuitbreaker: breaker not found")
	// ErrPanicked wraps a panic value when it is classified against Config.
	ErrPanicked = errors.New("circuitbreaker: wrapped call panicked")
)

// panicError turns a recovered value into an error for failure classification.
func panicError(r any) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("%w: %w", ErrPanicked, err)
	}

	return fmt.Errorf("%w: %v", ErrPanicked, r)
}

// OpenError is returned when a call is rejected without running the wrapped
// function, either because the circuit is open or because the half-open trial
// slots are taken.
type OpenError struct {
	Name       string
	State      State
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	if e.State == StateHalfOpen {
		return fmt.Sprintf("circuit breaker %q is half-open: too many trial calls", e.Name)
	}

	return fmt.Sprintf("circuit breaker %q is open (retry after %s)", e.Name, e.RetryAfter.Round(time.Millisecond))
}

func (e *OpenError) Is(target error) bool {
	return target == ErrOpen
}
