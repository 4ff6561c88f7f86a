package executor

import (
	"go.uber.org/zap"
)

// Progress is one progress tick of a map call.
type Progress struct {
	RunID string
	Label string
	Done  int
	Total int
}

const progressBuffer = 64

// progressReporter delivers ticks on its own goroutine. Ticks are dropped
// rather than queued when the consumer falls behind, so reporting never
// blocks result collection.
type progressReporter struct {
	ticks    chan Progress
	finished chan struct{}
}

func newProgressReporter(sink func(Progress), logger *zap.Logger) *progressReporter {
	if sink == nil {
		sink = func(p Progress) {
			logger.Info("map progress",
				zap.String("run_id", p.RunID),
				zap.String("label", p.Label),
				zap.Int("done", p.Done),
				zap.Int("total", p.Total))
		}
	}

	r := &progressReporter{
		ticks:    make(chan Progress, progressBuffer),
		finished: make(chan struct{}),
	}

	go func() {
		defer close(r.finished)
		for p := range r.ticks {
			sink(p)
		}
	}()

	return r
}

func (r *progressReporter) tick(p Progress) {
	if r == nil {
		return
	}

	select {
	case r.ticks <- p:
	default:
	}
}

// stop must be called once, after the last tick.
func (r *progressReporter) stop() {
	if r == nil {
		return
	}

	close(r.ticks)
	<-r.finished
}
