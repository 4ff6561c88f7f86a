// Package gate is the call path for work against external data providers:
// a health check decides whether to call at all, a per-provider circuit
// breaker guards the call, and the outcome feeds back into provider health.
package gate

import (
	"context"
	"errors"
	"fmt"

	"github.com/sujun1972/stock-analysis-sub008/internal/circuitbreaker"
	"github.com/sujun1972/stock-analysis-sub008/internal/executor"
	"github.com/sujun1972/stock-analysis-sub008/internal/health"
	"github.com/sujun1972/stock-analysis-sub008/internal/logging"
	"github.com/sujun1972/stock-analysis-sub008/internal/metrics"
	"go.uber.org/zap"
)

var ErrProviderUnavailable = errors.New("gate: provider unavailable")

const (
	SkipUnhealthy   = "unhealthy"
	SkipBreakerOpen = "breaker_open"
)

type Gate struct {
	breakers      *circuitbreaker.Manager
	health        *health.Checker
	breakerConfig circuitbreaker.Config
	logger        *zap.Logger
}

// New builds a Gate. A nil checker disables health gating and bookkeeping.
func New(breakers *circuitbreaker.Manager, checker *health.Checker, breakerConfig circuitbreaker.Config, logger *zap.Logger) *Gate {
	return &Gate{
		breakers:      breakers,
		health:        checker,
		breakerConfig: breakerConfig,
		logger:        logging.OrNop(logger),
	}
}

// Guard calls fn for provider unless the provider is unhealthy or its breaker
// rejects the call. Skipped calls return ErrProviderUnavailable or an error
// matching circuitbreaker.ErrOpen and are not recorded as provider failures.
func Guard[T any](ctx context.Context, g *Gate, provider string, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	if g.health != nil && !g.health.CheckHealth(ctx, provider) {
		metrics.RecordGateSkipped(provider, SkipUnhealthy)
		g.logger.Debug("skipping unhealthy provider", zap.String("provider", provider))
		return zero, fmt.Errorf("%w: %s", ErrProviderUnavailable, provider)
	}

	breaker := g.breakers.GetOrCreate(provider, g.breakerConfig)
	value, err := circuitbreaker.Call(breaker, func() (T, error) { return fn(ctx) })

	switch {
	case errors.Is(err, circuitbreaker.ErrOpen):
		metrics.RecordGateSkipped(provider, SkipBreakerOpen)
		return zero, err
	case g.health == nil:
	case err == nil:
		g.health.RecordSuccess(ctx, provider)
	case ctx.Err() != nil:
		// Cancelled by the caller, which says nothing about the provider.
	default:
		g.health.RecordFailure(ctx, provider, err.Error())
	}

	return value, err
}

// Request binds one unit of work to the provider it calls.
type Request[In any] struct {
	Provider string `json:"provider"`
	Input    In     `json:"input"`
}

// Result is the outcome of one Request. Errors are carried as text so results
// survive the process backend.
type Result[Out any] struct {
	Index    int    `json:"index"`
	Provider string `json:"provider"`
	Value    Out    `json:"value"`
	Error    string `json:"error,omitempty"`
	Skipped  string `json:"skipped,omitempty"`
}

func (r Result[Out]) OK() bool {
	return r.Error == "" && r.Skipped == ""
}

type indexedRequest[In any] struct {
	Index   int         `json:"index"`
	Request Request[In] `json:"request"`
}

// FanOut runs every request through Guard on exec and returns one Result per
// request in request order. Provider failures are reported in the results, so
// the returned error is only set when the executor itself fails.
func FanOut[In, Out any](ctx context.Context, g *Gate, exec *executor.Executor, requests []Request[In], fn func(ctx context.Context, provider string, in In) (Out, error), label string) ([]Result[Out], error) {
	items := make([]indexedRequest[In], len(requests))
	for i, r := range requests {
		items[i] = indexedRequest[In]{Index: i, Request: r}
	}

	work := func(ctx context.Context, item indexedRequest[In]) (Result[Out], error) {
		provider := item.Request.Provider
		res := Result[Out]{Index: item.Index, Provider: provider}

		value, err := Guard(ctx, g, provider, func(ctx context.Context) (Out, error) {
			return fn(ctx, provider, item.Request.Input)
		})

		switch {
		case errors.Is(err, ErrProviderUnavailable):
			res.Skipped = SkipUnhealthy
		case errors.Is(err, circuitbreaker.ErrOpen):
			res.Skipped = SkipBreakerOpen
		case err != nil:
			res.Error = err.Error()
		default:
			res.Value = value
		}

		return res, nil
	}

	return executor.Map(ctx, exec, work, items, executor.FailFast, label)
}

// Summary counts FanOut results by outcome.
type Summary struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

func Summarize[Out any](results []Result[Out]) Summary {
	var s Summary
	for _, r := range results {
		switch {
		case r.Skipped != "":
			s.Skipped++
		case r.Error != "":
			s.Failed++
		default:
			s.Succeeded++
		}
	}
	return s
}
