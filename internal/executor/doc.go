// Package executor runs a function over an ordered batch of independent inputs
// on a selectable worker backend and returns the outputs in input order.
//
// Three backends are available, fixed for the lifetime of an Executor:
//
//   - BackendProcess: a fixed pool of long-lived workers that share no memory
//     with the caller. Inputs are JSON-encoded before dispatch and outputs are
//     JSON-encoded by the worker, so every value must survive that round trip.
//     Values that cannot be encoded fail before any work starts with a
//     *SerializationError.
//   - BackendThread: goroutines sharing memory with the caller, bounded by the
//     worker count. Suited to I/O-bound work.
//   - BackendSerial: inputs run one at a time in the calling goroutine. This is
//     also the fallback when the executor is disabled, has a single worker, or
//     the batch is smaller than Config.MinParallelItems.
//
// Executors hold worker resources; release them with Close, or use With to
// scope an executor to a function.
package executor
