// Package worker periodically probes every data provider through the gate so
// provider health and breaker state stay current between real workloads.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/sujun1972/stock-analysis-sub008/internal/executor"
	"github.com/sujun1972/stock-analysis-sub008/internal/gate"
	"github.com/sujun1972/stock-analysis-sub008/internal/logging"
	"go.uber.org/zap"
)

const defaultPollInterval = 30 * time.Second

// ProbeFunc checks one provider and returns what it observed.
type ProbeFunc func(ctx context.Context, provider string) (ProbeResult, error)

type ProbeResult struct {
	StatusCode int           `json:"status_code"`
	Latency    time.Duration `json:"latency"`
}

// Round is the outcome of one probe pass over every provider.
type Round struct {
	StartedAt time.Time                  `json:"started_at"`
	Results   []gate.Result[ProbeResult] `json:"results"`
	Summary   gate.Summary               `json:"summary"`
}

type Worker struct {
	id           string
	gate         *gate.Gate
	exec         *executor.Executor
	providers    []string
	probe        ProbeFunc
	pollInterval time.Duration
	logger       *zap.Logger

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func NewWorker(id string, g *gate.Gate, exec *executor.Executor, providers []string, probe ProbeFunc, logger *zap.Logger) *Worker {
	return &Worker{
		id:           id,
		gate:         g,
		exec:         exec,
		providers:    append([]string(nil), providers...),
		probe:        probe,
		pollInterval: defaultPollInterval,
		logger:       logging.OrNop(logger).With(zap.String("worker_id", id)),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

func (w *Worker) SetPollInterval(d time.Duration) {
	if d > 0 {
		w.pollInterval = d
	}
}

// Start probes immediately and then once per poll interval until Stop is
// called or ctx ends.
func (w *Worker) Start(ctx context.Context) {
	defer close(w.done)

	w.logger.Info("worker started",
		zap.Strings("providers", w.providers),
		zap.Duration("poll_interval", w.pollInterval))

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("probe round failed", zap.Error(err))
		}

		select {
		case <-w.stop:
			w.logger.Info("worker stopped")
			return
		case <-ctx.Done():
			w.logger.Info("worker stopped", zap.Error(ctx.Err()))
			return
		case <-ticker.C:
		}
	}
}

// RunOnce probes every provider once.
func (w *Worker) RunOnce(ctx context.Context) (Round, error) {
	round := Round{StartedAt: time.Now()}

	requests := make([]gate.Request[struct{}], len(w.providers))
	for i, p := range w.providers {
		requests[i] = gate.Request[struct{}]{Provider: p}
	}

	results, err := gate.FanOut(ctx, w.gate, w.exec, requests,
		func(ctx context.Context, provider string, _ struct{}) (ProbeResult, error) {
			return w.probe(ctx, provider)
		}, "provider_probe")
	if err != nil {
		return round, err
	}

	round.Results = results
	round.Summary = gate.Summarize(results)

	for _, r := range results {
		switch {
		case r.Skipped != "":
			w.logger.Info("provider probe skipped", zap.String("provider", r.Provider), zap.String("reason", r.Skipped))
		case r.Error != "":
			w.logger.Warn("provider probe failed", zap.String("provider", r.Provider), zap.String("error", r.Error))
		default:
			w.logger.Debug("provider probe ok",
				zap.String("provider", r.Provider),
				zap.Int("status", r.Value.StatusCode),
				zap.Duration("latency", r.Value.Latency))
		}
	}

	w.logger.Info("probe round finished",
		zap.Int("succeeded", round.Summary.Succeeded),
		zap.Int("failed", round.Summary.Failed),
		zap.Int("skipped", round.Summary.Skipped),
		zap.Duration("elapsed", time.Since(round.StartedAt)))

	return round, nil
}

// Stop ends Start and waits for the current round to finish. It is safe to
// call more than once, but only after Start has been launched.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	<-w.done
}
