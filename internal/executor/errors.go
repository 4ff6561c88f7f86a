package executor

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedBackend = errors.New("executor: unsupported backend")
	ErrInvalidConfig      = errors.New("executor: invalid config")
	ErrNotSupported       = errors.New("executor: operation not supported by the serial backend")
	ErrExecutorClosed     = errors.New("executor: closed")
	ErrTimeout            = errors.New("executor: map timed out")
	ErrTaskPanicked       = errors.New("executor: task panicked")
	ErrLossyTransfer      = errors.New("executor: value changes when copied to a process worker")
)

// TaskError identifies the input that aborted a fail-fast map call.
type TaskError struct {
	Label string
	Index int
	Err   error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("executor: %s: task %d failed: %v", e.Label, e.Index, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// SerializationError reports a value that cannot cross to a process worker.
// Index is -1 for values passed to Submit.
type SerializationError struct {
	Index int
	Err   error
}

func (e *SerializationError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("executor: value is not transferable to a process worker: %v", e.Err)
	}

	return fmt.Sprintf("executor: input %d is not transferable to a process worker: %v", e.Index, e.Err)
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}
