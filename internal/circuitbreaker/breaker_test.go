package circuitbreaker

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUpstream = errors.New("upstream failure")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 9, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func fail() error    { return errUpstream }
func succeed() error { return nil }

func TestCircuitBreaker_InitialState(t *testing.T) {
	cb := New("quotes", DefaultConfig())

	assert.Equal(t, StateClosed, cb.State())
	m := cb.Metrics()
	assert.Equal(t, "quotes", m.Name)
	assert.Zero(t, m.FailureCount)
	assert.Nil(t, m.LastFailureTime)
	assert.Empty(t, m.StateTransitions)
}

func TestCircuitBreaker_ZeroConfigUsesDefaults(t *testing.T) {
	cb := New("quotes", Config{})
	assert.Equal(t, DefaultConfig().FailureThreshold, cb.Config().FailureThreshold)
	assert.Equal(t, DefaultConfig().RecoveryTimeout, cb.Config().RecoveryTimeout)
	assert.Equal(t, DefaultConfig().HalfOpenMaxCalls, cb.Config().HalfOpenMaxCalls)
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	clock := newFakeClock()
	cb := New("quotes", Config{FailureThreshold: 3, RecoveryTimeout: time.Minute}, WithClock(clock.Now))

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, cb.Execute(fail), errUpstream)
		assert.Equal(t, StateClosed, cb.State())
	}

	assert.ErrorIs(t, cb.Execute(fail), errUpstream)
	assert.Equal(t, StateOpen, cb.State())

	invoked := false
	err := cb.Execute(func() error {
		invoked = true
		return nil
	})

	assert.False(t, invoked, "wrapped function must not run while open")
	assert.ErrorIs(t, err, ErrOpen)

	var openErr *OpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, "quotes", openErr.Name)
	assert.Equal(t, StateOpen, openErr.State)
	assert.Equal(t, time.Minute, openErr.RetryAfter)
	assert.Equal(t, 1, cb.Metrics().RejectedCalls)
}

func TestCircuitBreaker_RecoveryScenario(t *testing.T) {
	clock := newFakeClock()
	cb := New("fundamentals", Config{FailureThreshold: 3, RecoveryTimeout: time.Second}, WithClock(clock.Now))

	for i := 0; i < 3; i++ {
		_ = cb.Execute(fail)
	}
	require.Equal(t, StateOpen, cb.State())

	clock.Advance(500 * time.Millisecond)
	assert.ErrorIs(t, cb.Execute(succeed), ErrOpen)
	assert.Equal(t, StateOpen, cb.State())

	clock.Advance(600 * time.Millisecond)
	invoked := false
	err := cb.Execute(func() error {
		invoked = true
		return nil
	})

	require.NoError(t, err)
	assert.True(t, invoked)
	assert.Equal(t, StateClosed, cb.State())
	assert.Zero(t, cb.Metrics().FailureCount)
	assert.Zero(t, cb.Metrics().SuccessCount)
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := newFakeClock()
	cb := New("fundamentals", Config{FailureThreshold: 2, RecoveryTimeout: time.Second}, WithClock(clock.Now))

	_ = cb.Execute(fail)
	_ = cb.Execute(fail)
	require.Equal(t, StateOpen, cb.State())

	clock.Advance(2 * time.Second)
	assert.ErrorIs(t, cb.Execute(fail), errUpstream)
	assert.Equal(t, StateOpen, cb.State())

	m := cb.Metrics()
	require.NotNil(t, m.LastFailureTime)
	assert.Equal(t, clock.Now(), *m.LastFailureTime)

	// the cooldown restarts from the failed trial
	assert.ErrorIs(t, cb.Execute(succeed), ErrOpen)
}

func TestCircuitBreaker_SuccessResetsConsecutiveFailures(t *testing.T) {
	cb := New("quotes", Config{FailureThreshold: 5, RecoveryTimeout: time.Minute})

	_ = cb.Execute(fail)
	_ = cb.Execute(fail)
	assert.Equal(t, 2, cb.Metrics().FailureCount)

	require.NoError(t, cb.Execute(succeed))
	assert.Zero(t, cb.Metrics().FailureCount)

	for i := 0; i < 3; i++ {
		_ = cb.Execute(fail)
	}

	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 3, cb.Metrics().FailureCount)
	assert.Equal(t, 6, cb.Metrics().TotalCalls)
}

func TestCircuitBreaker_UnexpectedErrorsDoNotTrip(t *testing.T) {
	errTimeout := errors.New("timeout")
	errBadArgs := errors.New("bad arguments")

	cb := New("quotes", Config{
		FailureThreshold: 2,
		RecoveryTimeout:  time.Minute,
		ExpectedErrors:   []error{errTimeout},
	})

	for i := 0; i < 5; i++ {
		err := cb.Execute(func() error { return errBadArgs })
		assert.ErrorIs(t, err, errBadArgs)
	}

	assert.Equal(t, StateClosed, cb.State())
	assert.Zero(t, cb.Metrics().FailureCount)

	wrapped := func() error { return errors.Join(errors.New("fetch bars"), errTimeout) }
	_ = cb.Execute(wrapped)
	_ = cb.Execute(wrapped)
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_IsFailureOverride(t *testing.T) {
	cb := New("quotes", Config{
		FailureThreshold: 1,
		IsFailure:        func(err error) bool { return false },
	})

	_ = cb.Execute(fail)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenLimitsTrialCalls(t *testing.T) {
	clock := newFakeClock()
	cb := New("bars", Config{FailureThreshold: 1, RecoveryTimeout: time.Second, HalfOpenMaxCalls: 2}, WithClock(clock.Now))

	_ = cb.Execute(fail)
	require.Equal(t, StateOpen, cb.State())
	clock.Advance(time.Second)

	release := make(chan struct{})
	started := make(chan struct{}, 2)
	var wg sync.WaitGroup

	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = cb.Execute(func() error {
				started <- struct{}{}
				<-release
				return nil
			})
		}()
	}

	<-started
	<-started
	assert.Equal(t, StateHalfOpen, cb.State())

	err := cb.Execute(succeed)
	var openErr *OpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, StateHalfOpen, openErr.State)

	close(release)
	wg.Wait()

	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_UnexpectedErrorReleasesTrialSlot(t *testing.T) {
	clock := newFakeClock()
	errBadArgs := errors.New("bad arguments")
	cb := New("bars", Config{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Second,
		HalfOpenMaxCalls: 1,
		ExpectedErrors:   []error{errUpstream},
	}, WithClock(clock.Now))

	_ = cb.Execute(fail)
	clock.Advance(time.Second)

	assert.ErrorIs(t, cb.Execute(func() error { return errBadArgs }), errBadArgs)
	assert.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Execute(succeed))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_PanicCountsAsFailure(t *testing.T) {
	cb := New("bars", Config{FailureThreshold: 1, RecoveryTimeout: time.Minute})

	assert.PanicsWithValue(t, "boom", func() {
		_ = cb.Execute(func() error { panic("boom") })
	})

	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_PanicOutsideExpectedErrors(t *testing.T) {
	clock := newFakeClock()
	cb := New("bars", Config{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Minute,
		HalfOpenMaxCalls: 1,
		ExpectedErrors:   []error{errUpstream},
	}, WithClock(clock.Now))

	assert.Panics(t, func() {
		_ = cb.Execute(func() error { panic("nil map write") })
	})
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Metrics().FailureCount)

	_ = cb.Execute(fail)
	require.Equal(t, StateOpen, cb.State())
	clock.Advance(time.Minute)

	assert.Panics(t, func() {
		_ = cb.Execute(func() error { panic("nil map write") })
	})
	assert.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Execute(succeed), "the trial slot must be released")
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_PanicMatchedByIsFailure(t *testing.T) {
	cb := New("bars", Config{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Minute,
		IsFailure:        func(err error) bool { return errors.Is(err, ErrPanicked) },
	})

	assert.Panics(t, func() {
		_ = cb.Execute(func() error { panic(errUpstream) })
	})

	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_RecordsTransitions(t *testing.T) {
	clock := newFakeClock()
	cb := New("bars", Config{FailureThreshold: 1, RecoveryTimeout: time.Second}, WithClock(clock.Now))

	_ = cb.Execute(fail)
	clock.Advance(time.Second)
	require.NoError(t, cb.Execute(succeed))

	m := cb.Metrics()
	require.Len(t, m.StateTransitions, 3)
	assert.Equal(t, Transition{From: StateClosed, To: StateOpen, At: clock.Now().Add(-time.Second)}, m.StateTransitions[0])
	assert.Equal(t, StateOpen, m.StateTransitions[1].From)
	assert.Equal(t, StateHalfOpen, m.StateTransitions[1].To)
	assert.Equal(t, StateHalfOpen, m.StateTransitions[2].From)
	assert.Equal(t, StateClosed, m.StateTransitions[2].To)
	require.NotNil(t, m.LastStateChange)
	assert.Equal(t, clock.Now(), *m.LastStateChange)
}

func TestCircuitBreaker_TransitionHistoryIsBounded(t *testing.T) {
	cb := New("bars", Config{FailureThreshold: 1, RecoveryTimeout: time.Hour})

	for i := 0; i < maxTransitionHistory; i++ {
		_ = cb.Execute(fail)
		cb.Reset()
	}

	assert.Len(t, cb.Metrics().StateTransitions, maxTransitionHistory)
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := New("bars", Config{FailureThreshold: 1, RecoveryTimeout: time.Hour})

	_ = cb.Execute(fail)
	require.Equal(t, StateOpen, cb.State())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	assert.Zero(t, cb.Metrics().FailureCount)
	require.NoError(t, cb.Execute(succeed))
}

func TestCall(t *testing.T) {
	cb := New("bars", DefaultConfig())

	price, err := Call(cb, func() (float64, error) { return 101.25, nil })
	require.NoError(t, err)
	assert.Equal(t, 101.25, price)

	_, err = Call(cb, func() (float64, error) { return 0, errUpstream })
	assert.ErrorIs(t, err, errUpstream)
}

func TestCircuitBreaker_ConcurrentCalls(t *testing.T) {
	cb := New("bars", DefaultConfig())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = cb.Execute(succeed)
		}()
	}
	wg.Wait()

	m := cb.Metrics()
	assert.Equal(t, 50, m.TotalCalls)
	assert.Equal(t, 50, m.SuccessCount)
	assert.Equal(t, StateClosed, m.State)
}
