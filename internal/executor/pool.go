package executor

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// indexFunc processes input i of a batch.
type indexFunc func(ctx context.Context, i int)

// pool is the concurrency mechanism behind an Executor. It is chosen once in
// New and never switched per call.
type pool interface {
	backend() Backend

	// run calls fn for every index in [0, n), chunkSize indices per dispatch,
	// and returns once every dispatched chunk has finished. Indices not yet
	// dispatched are skipped once ctx is done.
	run(ctx context.Context, n, chunkSize int, fn indexFunc)

	// goAsync schedules fn outside of any batch.
	goAsync(fn func()) error

	close()
}

func newPool(b Backend, workers int) pool {
	switch b {
	case BackendProcess:
		return newProcessPool(workers)
	case BackendThread:
		return newThreadPool(workers)
	default:
		return serialPool{}
	}
}

func runChunk(ctx context.Context, start, end int, fn indexFunc) {
	for i := start; i < end; i++ {
		if ctx.Err() != nil {
			return
		}
		fn(ctx, i)
	}
}

type serialPool struct{}

func (serialPool) backend() Backend { return BackendSerial }

func (serialPool) run(ctx context.Context, n, _ int, fn indexFunc) {
	runChunk(ctx, 0, n, fn)
}

func (serialPool) goAsync(func()) error { return ErrNotSupported }

func (serialPool) close() {}

// threadPool spawns a goroutine per chunk, at most workers at a time.
type threadPool struct {
	workers int
	async   *semaphore.Weighted
	wg      sync.WaitGroup
}

func newThreadPool(workers int) *threadPool {
	return &threadPool{
		workers: workers,
		async:   semaphore.NewWeighted(int64(workers)),
	}
}

func (p *threadPool) backend() Backend { return BackendThread }

func (p *threadPool) run(ctx context.Context, n, chunkSize int, fn indexFunc) {
	var g errgroup.Group
	g.SetLimit(p.workers)

	for start := 0; start < n; start += chunkSize {
		if ctx.Err() != nil {
			break
		}

		end := min(start+chunkSize, n)
		g.Go(func() error {
			runChunk(ctx, start, end, fn)
			return nil
		})
	}

	_ = g.Wait()
}

func (p *threadPool) goAsync(fn func()) error {
	p.wg.Add(1)

	go func() {
		defer p.wg.Done()

		// Acquire with a background context never fails.
		_ = p.async.Acquire(context.Background(), 1)
		defer p.async.Release(1)

		fn()
	}()

	return nil
}

func (p *threadPool) close() {
	p.wg.Wait()
}

// processPool keeps a fixed set of long-lived workers fed through a channel.
// Batch callers hand it closures over encoded payloads only, see Map.
type processPool struct {
	jobs    chan func()
	workers sync.WaitGroup
	pending sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func newProcessPool(workers int) *processPool {
	p := &processPool{jobs: make(chan func())}

	for range workers {
		p.workers.Add(1)
		go p.workerLoop()
	}

	return p
}

func (p *processPool) workerLoop() {
	defer p.workers.Done()

	for job := range p.jobs {
		job()
	}
}

func (p *processPool) backend() Backend { return BackendProcess }

func (p *processPool) run(ctx context.Context, n, chunkSize int, fn indexFunc) {
	var wg sync.WaitGroup

dispatch:
	for start := 0; start < n; start += chunkSize {
		end := min(start+chunkSize, n)

		wg.Add(1)
		job := func() {
			defer wg.Done()
			runChunk(ctx, start, end, fn)
		}

		select {
		case p.jobs <- job:
		case <-ctx.Done():
			wg.Done()
			break dispatch
		}
	}

	wg.Wait()
}

func (p *processPool) goAsync(fn func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrExecutorClosed
	}

	p.pending.Add(1)
	go func() {
		defer p.pending.Done()
		p.jobs <- fn
	}()

	return nil
}

func (p *processPool) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.pending.Wait()
	close(p.jobs)
	p.workers.Wait()
}
