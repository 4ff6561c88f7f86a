package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sujun1972/stock-analysis-sub008/internal/logging"
	"github.com/sujun1972/stock-analysis-sub008/internal/metrics"
	"go.uber.org/zap"
)

// ErrorPolicy decides what a failing task does to its map call.
type ErrorPolicy int

const (
	// FailFast aborts the call on the first failure.
	FailFast ErrorPolicy = iota
	// Permissive logs failures and drops them from the results.
	Permissive
)

func (p ErrorPolicy) String() string {
	if p == Permissive {
		return "permissive"
	}
	return "fail_fast"
}

type Executor struct {
	config Config
	pool   pool
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
	active sync.WaitGroup

	statsMu sync.Mutex
	stats   Stats
}

// New validates config and starts the worker pool it describes.
func New(config Config, logger *zap.Logger) (*Executor, error) {
	resolved, err := config.resolve(detectCPUs())
	if err != nil {
		return nil, err
	}

	e := &Executor{
		config: resolved,
		pool:   newPool(resolved.effectiveBackend(), resolved.WorkerCount),
		logger: logging.OrNop(logger),
	}

	e.logger.Debug("executor started",
		zap.String("backend", string(e.pool.backend())),
		zap.Int("workers", resolved.WorkerCount),
		zap.Int("chunk_size", resolved.ChunkSize))

	return e, nil
}

// With runs fn with a fresh executor and closes it on every return path.
func With(config Config, logger *zap.Logger, fn func(*Executor) error) error {
	e, err := New(config, logger)
	if err != nil {
		return err
	}
	defer func() { _ = e.Close() }()

	return fn(e)
}

// Config returns the resolved configuration.
func (e *Executor) Config() Config {
	return e.config
}

// Backend returns the backend in use, which is BackendSerial when the
// configured backend was disabled.
func (e *Executor) Backend() Backend {
	return e.pool.backend()
}

// Stats returns the statistics of the last Map call.
func (e *Executor) Stats() Stats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()

	return e.stats
}

// Close waits for running work and releases the worker pool. Later calls to
// Map or Submit fail with ErrExecutorClosed.
func (e *Executor) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.active.Wait()
	e.pool.close()
	e.logger.Debug("executor closed", zap.String("backend", string(e.pool.backend())))

	return nil
}

func (e *Executor) acquire() error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return ErrExecutorClosed
	}
	e.active.Add(1)

	return nil
}

// taskOutcome is what a single index produced.
type taskOutcome[Out any] struct {
	value Out
	err   error
}

// Map runs fn over inputs and returns the outputs in input order. Under
// FailFast the first failure cancels the remaining work and is returned as a
// *TaskError. Under Permissive failures are logged and left out of the result,
// so callers that need to correlate outputs with inputs must carry the index in
// the output.
func Map[In, Out any](ctx context.Context, e *Executor, fn func(context.Context, In) (Out, error), inputs []In, policy ErrorPolicy, label string) ([]Out, error) {
	if err := e.acquire(); err != nil {
		return nil, err
	}

	if label == "" {
		label = "map"
	}

	n := len(inputs)
	p := e.poolFor(n)
	backend := string(p.backend())
	run := newMapRun[Out](e, label, backend, n, policy)

	task, err := buildTask(p.backend(), fn, inputs)
	if err != nil {
		e.active.Done()
		run.finish(0, 0)
		metrics.RecordTasksSkipped(backend, label, n)
		return nil, err
	}

	deadlineCtx := ctx
	if e.config.Timeout > 0 {
		var cancelDeadline context.CancelFunc
		deadlineCtx, cancelDeadline = context.WithTimeout(ctx, e.config.Timeout)
		defer cancelDeadline()
	}

	runCtx, cancel := context.WithCancel(deadlineCtx)
	defer cancel()
	run.cancel = cancel

	indexFn := func(ctx context.Context, i int) {
		started := time.Now()
		value, err := task(ctx, i)
		run.done(i, taskOutcome[Out]{value: value, err: err}, time.Since(started))
	}

	finished := make(chan struct{})
	dispatch := func() {
		defer e.active.Done()
		defer close(finished)
		p.run(runCtx, n, e.config.ChunkSize, indexFn)
	}

	if p.backend() == BackendSerial {
		dispatch()
	} else {
		go dispatch()
	}

	timedOut := false
	select {
	case <-finished:
	case <-deadlineCtx.Done():
		// Workers that ignore cancellation are abandoned; their results are dropped.
		select {
		case <-finished:
		default:
			timedOut = true
		}
	}

	completed, executed := run.seal()
	run.finish(completed, executed)
	metrics.RecordTasksSkipped(backend, label, n-executed)

	if timedOut || (completed < n && deadlineCtx.Err() != nil) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		e.logger.Error("map timed out",
			zap.String("label", label),
			zap.Duration("timeout", e.config.Timeout),
			zap.Int("completed", completed),
			zap.Int("total", n))

		return nil, fmt.Errorf("%w: %s after %s (%d/%d tasks completed)", ErrTimeout, label, e.config.Timeout, completed, n)
	}

	if err := run.firstError(); err != nil {
		return nil, err
	}

	return run.results(), nil
}

// poolFor picks the pool for a batch of n inputs; small batches run serially.
func (e *Executor) poolFor(n int) pool {
	if n < e.config.MinParallelItems {
		return serialPool{}
	}

	return e.pool
}

// buildTask adapts fn to index-based dispatch. For process workers every input
// is encoded up front, so a non-transferable input fails before any work runs.
func buildTask[In, Out any](b Backend, fn func(context.Context, In) (Out, error), inputs []In) (func(context.Context, int) (Out, error), error) {
	if b != BackendProcess {
		return func(ctx context.Context, i int) (Out, error) {
			return safeCall(ctx, fn, inputs[i])
		}, nil
	}

	payloads := make([][]byte, len(inputs))
	for i, in := range inputs {
		raw, _, err := roundTrip(in)
		if err != nil {
			return nil, &SerializationError{Index: i, Err: err}
		}
		payloads[i] = raw
	}

	return func(ctx context.Context, i int) (Out, error) {
		return isolatedCall(ctx, fn, payloads[i])
	}, nil
}

// isolatedCall decodes a private copy of the input, runs fn and hands back a
// decoded copy of its output.
func isolatedCall[In, Out any](ctx context.Context, fn func(context.Context, In) (Out, error), payload []byte) (Out, error) {
	var zero Out

	var in In
	if err := json.Unmarshal(payload, &in); err != nil {
		return zero, &SerializationError{Index: -1, Err: err}
	}

	out, err := safeCall(ctx, fn, in)
	if err != nil {
		return zero, err
	}

	_, decoded, err := roundTrip(out)
	if err != nil {
		return zero, &SerializationError{Index: -1, Err: fmt.Errorf("output: %w", err)}
	}

	return decoded, nil
}

func safeCall[In, Out any](ctx context.Context, fn func(context.Context, In) (Out, error), in In) (out Out, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrTaskPanicked, r)
		}
	}()

	return fn(ctx, in)
}

// mapRun collects the outcomes of one Map call.
type mapRun[Out any] struct {
	e        *Executor
	runID    string
	label    string
	backend  string
	total    int
	policy   ErrorPolicy
	started  time.Time
	progress *progressReporter
	cancel   context.CancelFunc

	mu        sync.Mutex
	sealed    bool
	values    []Out
	ok        []bool
	completed int
	failed    int
	taskTime  time.Duration
	err       error
}

func newMapRun[Out any](e *Executor, label, backend string, n int, policy ErrorPolicy) *mapRun[Out] {
	r := &mapRun[Out]{
		e:       e,
		runID:   uuid.NewString(),
		label:   label,
		backend: backend,
		total:   n,
		policy:  policy,
		started: time.Now(),
		values:  make([]Out, n),
		ok:      make([]bool, n),
	}

	if e.config.ShowProgress {
		r.progress = newProgressReporter(e.config.OnProgress, e.logger)
	}

	e.logger.Debug("map started",
		zap.String("run_id", r.runID),
		zap.String("label", label),
		zap.String("backend", backend),
		zap.String("policy", policy.String()),
		zap.Int("tasks", n))

	return r
}

func (r *mapRun[Out]) done(i int, outcome taskOutcome[Out], elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return
	}

	r.taskTime += elapsed

	if outcome.err == nil {
		r.values[i] = outcome.value
		r.ok[i] = true
		r.completed++
		metrics.RecordTaskCompleted(r.backend, r.label, elapsed)
	} else {
		r.failed++
		metrics.RecordTaskFailed(r.backend, r.label, elapsed)

		switch {
		case r.policy == FailFast && r.err == nil:
			r.err = &TaskError{Label: r.label, Index: i, Err: outcome.err}
			if r.cancel != nil {
				r.cancel()
			}
		case r.policy == Permissive:
			r.e.logger.Warn("task failed",
				zap.String("run_id", r.runID),
				zap.String("label", r.label),
				zap.Int("index", i),
				zap.Error(outcome.err))
		}
	}

	r.progress.tick(Progress{RunID: r.runID, Label: r.label, Done: r.completed + r.failed, Total: r.total})
}

// seal stops accepting outcomes and reports how many tasks completed and how
// many ran at all.
func (r *mapRun[Out]) seal() (completed, executed int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sealed = true
	return r.completed, r.completed + r.failed
}

func (r *mapRun[Out]) firstError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *mapRun[Out]) finish(completed, executed int) {
	r.progress.stop()

	stats := Stats{
		RunID:          r.runID,
		Label:          r.label,
		Backend:        Backend(r.backend),
		TotalTasks:     r.total,
		CompletedTasks: completed,
		FailedTasks:    r.total - completed,
		TotalTime:      time.Since(r.started),
	}
	if executed > 0 {
		r.mu.Lock()
		stats.AvgTaskTime = r.taskTime / time.Duration(executed)
		r.mu.Unlock()
	}

	r.e.statsMu.Lock()
	r.e.stats = stats
	r.e.statsMu.Unlock()

	outcome := "ok"
	if stats.FailedTasks > 0 {
		outcome = "partial"
	}
	if r.err != nil || (completed == 0 && r.total > 0) {
		outcome = "failed"
	}
	metrics.RecordMap(r.backend, outcome, stats.TotalTime)

	r.e.logger.Debug("map finished",
		zap.String("run_id", r.runID),
		zap.String("label", r.label),
		zap.Int("total", stats.TotalTasks),
		zap.Int("completed", stats.CompletedTasks),
		zap.Int("failed", stats.FailedTasks),
		zap.Duration("total_time", stats.TotalTime))
}

func (r *mapRun[Out]) results() []Out {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Out, 0, r.completed)
	for i, ok := range r.ok {
		if ok {
			out = append(out, r.values[i])
		}
	}

	return out
}

// Future is the handle of a single submitted task.
type Future[T any] struct {
	id    string
	done  chan struct{}
	value T
	err   error
}

func (f *Future[T]) ID() string {
	return f.id
}

// Done is closed when the task has finished.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Result blocks until the task finishes or ctx is done.
func (f *Future[T]) Result(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Submit schedules fn(input) on the worker pool and returns immediately. It
// fails with ErrExecutorClosed after Close and with ErrNotSupported on a
// serial executor.
func Submit[In, Out any](ctx context.Context, e *Executor, fn func(context.Context, In) (Out, error), input In) (*Future[Out], error) {
	if err := e.acquire(); err != nil {
		return nil, err
	}

	if e.pool.backend() == BackendSerial {
		e.active.Done()
		return nil, ErrNotSupported
	}

	task := func(ctx context.Context) (Out, error) { return safeCall(ctx, fn, input) }
	if e.pool.backend() == BackendProcess {
		payload, _, err := roundTrip(input)
		if err != nil {
			e.active.Done()
			return nil, &SerializationError{Index: -1, Err: err}
		}
		task = func(ctx context.Context) (Out, error) { return isolatedCall(ctx, fn, payload) }
	}

	f := &Future[Out]{id: uuid.NewString(), done: make(chan struct{})}

	err := e.pool.goAsync(func() {
		defer e.active.Done()
		defer close(f.done)
		f.value, f.err = task(ctx)
	})
	if err != nil {
		e.active.Done()
		return nil, err
	}

	return f, nil
}
