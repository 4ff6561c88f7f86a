// Package circuitbreaker protects call sites from dependencies that keep failing.
//
// A CircuitBreaker is a CLOSED / OPEN / HALF_OPEN state machine guarding one named
// resource. Use a Manager to share breakers between unrelated call sites that
// talk to the same dependency, then run calls through CircuitBreaker.Execute or
// the generic Call helper. Rejected calls fail immediately with an *OpenError
// (matching ErrOpen) without invoking the wrapped function.
//
// Breaker state is process-local and never persisted; a restart always starts
// from CLOSED.
package circuitbreaker
