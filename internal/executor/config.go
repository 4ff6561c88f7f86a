package executor

import (
	"fmt"
	"runtime"
	"strings"
	"time"
)

type Backend string

const (
	BackendProcess Backend = "process"
	BackendThread  Backend = "thread"
	BackendSerial  Backend = "serial"
)

const (
	// AutoWorkers resolves to one less than the number of logical CPUs.
	AutoWorkers = -1

	DefaultMinParallelItems = 10
)

// ParseBackend maps a backend name to a Backend.
func ParseBackend(name string) (Backend, error) {
	b := Backend(strings.ToLower(strings.TrimSpace(name)))
	switch b {
	case BackendProcess, BackendThread, BackendSerial:
		return b, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedBackend, name)
	}
}

// Config is the worker backend configuration of one Executor. Build a new
// Executor to change it.
type Config struct {
	Enabled      bool
	WorkerCount  int // AutoWorkers or a positive count
	Backend      Backend
	ChunkSize    int           // inputs handed to a worker per dispatch
	ShowProgress bool          // emit progress ticks while a map call runs
	Timeout      time.Duration // per map call, 0 disables

	// MinParallelItems is the smallest batch dispatched to workers; smaller
	// batches run serially. Zero means DefaultMinParallelItems.
	MinParallelItems int

	// OnProgress receives progress ticks when ShowProgress is set. Nil logs them.
	OnProgress func(p Progress)
}

func DefaultConfig() Config {
	return Config{
		Enabled:     true,
		WorkerCount: AutoWorkers,
		Backend:     BackendThread,
		ChunkSize:   1,
	}
}

// resolve validates c and fills in derived values.
func (c Config) resolve(numCPU int) (Config, error) {
	switch c.Backend {
	case BackendProcess, BackendThread, BackendSerial:
	default:
		return c, fmt.Errorf("%w: %q", ErrUnsupportedBackend, c.Backend)
	}

	if c.ChunkSize <= 0 {
		return c, fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidConfig, c.ChunkSize)
	}

	switch {
	case c.WorkerCount == AutoWorkers:
		c.WorkerCount = max(1, numCPU-1)
	case c.WorkerCount <= 0:
		return c, fmt.Errorf("%w: worker count must be positive or %d, got %d", ErrInvalidConfig, AutoWorkers, c.WorkerCount)
	}

	if c.Timeout < 0 {
		return c, fmt.Errorf("%w: timeout must not be negative", ErrInvalidConfig)
	}

	if c.MinParallelItems < 0 {
		return c, fmt.Errorf("%w: min parallel items must not be negative", ErrInvalidConfig)
	}
	if c.MinParallelItems == 0 {
		c.MinParallelItems = DefaultMinParallelItems
	}

	return c, nil
}

// effectiveBackend is the backend the executor pool is built for.
func (c Config) effectiveBackend() Backend {
	if !c.Enabled || c.WorkerCount == 1 {
		return BackendSerial
	}

	return c.Backend
}

func detectCPUs() int {
	return runtime.NumCPU()
}
