package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// ---------------------------------------------------------------------------
// DefaultConfig
// ---------------------------------------------------------------------------

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 5, cfg.FailureThreshold)
	assert.Equal(t, 60*time.Second, cfg.OpenTimeout)
	assert.Nil(t, cfg.OnStateChange)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	assert.Error(t, (&Config{FailureThreshold: 0, OpenTimeout: time.Second}).Validate())
	assert.Error(t, (&Config{FailureThreshold: 3, OpenTimeout: 0}).Validate())
	assert.NoError(t, (&Config{FailureThreshold: 3, OpenTimeout: time.Second}).Validate())
}

// ---------------------------------------------------------------------------
// NewCircuitBreaker
// ---------------------------------------------------------------------------

func TestNewCircuitBreaker(t *testing.T) {
	tests := []struct {
		name            string
		cfg             *Config
		wantThreshold   int
		wantOpenTimeout time.Duration
	}{
		{
			name:            "nil config uses defaults",
			cfg:             nil,
			wantThreshold:   5,
			wantOpenTimeout: 60 * time.Second,
		},
		{
			name: "zero values corrected to defaults",
			cfg: &Config{
				FailureThreshold: 0,
				OpenTimeout:      0,
			},
			wantThreshold:   5,
			wantOpenTimeout: 60 * time.Second,
		},
		{
			name: "custom values preserved",
			cfg: &Config{
				FailureThreshold: 3,
				OpenTimeout:      10 * time.Second,
			},
			wantThreshold:   3,
			wantOpenTimeout: 10 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb := NewCircuitBreaker(tt.cfg, zap.NewNop())
			require.NotNil(t, cb)
			assert.Equal(t, StateClosed, cb.State())

			b := cb.(*breaker)
			assert.Equal(t, tt.wantThreshold, b.config.FailureThreshold)
			assert.Equal(t, tt.wantOpenTimeout, b.config.OpenTimeout)
		})
	}
}

// ---------------------------------------------------------------------------
// State.String()
// ---------------------------------------------------------------------------

func TestState_String(t *testing.T) {
	assert.Equal(t, "Closed", StateClosed.String())
	assert.Equal(t, "Open", StateOpen.String())
	assert.Equal(t, "HalfOpen", StateHalfOpen.String())
	assert.Equal(t, "Unknown", State(99).String())
}

// ---------------------------------------------------------------------------
// Closed -> Open exactly on the Nth consecutive failure
// ---------------------------------------------------------------------------

func TestBreaker_ClosedToOpen(t *testing.T) {
	threshold := 3
	cb := NewCircuitBreaker(&Config{
		FailureThreshold: threshold,
		OpenTimeout:      1 * time.Hour,
	}, zap.NewNop())

	errFail := errors.New("fail")

	// Fail threshold-1 times: still closed
	for i := 0; i < threshold-1; i++ {
		err := cb.Call(context.Background(), func(ctx context.Context) error { return errFail })
		assert.ErrorIs(t, err, errFail)
		assert.Equal(t, StateClosed, cb.State())
		assert.Equal(t, i+1, cb.Snapshot().ConsecutiveFailures)
	}

	// One more failure trips the breaker
	err := cb.Call(context.Background(), func(ctx context.Context) error { return errFail })
	assert.ErrorIs(t, err, errFail)
	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.Snapshot().LastFailureTime.IsZero(), "open state must carry a failure time")
}

// ---------------------------------------------------------------------------
// Open rejects calls with ErrCircuitOpen and never contacts the provider
// ---------------------------------------------------------------------------

func TestBreaker_OpenRejectsCalls(t *testing.T) {
	cb := NewCircuitBreaker(&Config{
		FailureThreshold: 1,
		OpenTimeout:      1 * time.Hour,
	}, zap.NewNop())

	var calls atomic.Int64

	// Trip the breaker
	_ = cb.Call(context.Background(), func(ctx context.Context) error {
		calls.Add(1)
		return errors.New("fail")
	})
	require.Equal(t, StateOpen, cb.State())
	require.Equal(t, int64(1), calls.Load())

	// Subsequent calls rejected without invoking the function
	for i := 0; i < 3; i++ {
		err := cb.Call(context.Background(), func(ctx context.Context) error {
			calls.Add(1)
			return nil
		})
		assert.ErrorIs(t, err, ErrCircuitOpen)
		assert.True(t, IsOpen(err))
	}
	assert.Equal(t, int64(1), calls.Load(), "provider must not be contacted while open")
}

// ---------------------------------------------------------------------------
// Open -> HalfOpen (after open timeout) -> Closed on trial success
// ---------------------------------------------------------------------------

func TestBreaker_OpenToHalfOpen(t *testing.T) {
	cb := NewCircuitBreaker(&Config{
		FailureThreshold: 1,
		OpenTimeout:      50 * time.Millisecond,
	}, zap.NewNop())

	// Trip the breaker
	_ = cb.Call(context.Background(), func(ctx context.Context) error { return errors.New("fail") })
	require.Equal(t, StateOpen, cb.State())

	// Wait for the open timeout
	time.Sleep(80 * time.Millisecond)

	// Next call should transition to HalfOpen and execute
	var reached bool
	err := cb.Call(context.Background(), func(ctx context.Context) error {
		reached = true
		return nil
	})
	assert.NoError(t, err)
	assert.True(t, reached, "post-timeout trial must reach the provider")
	// After success in half-open, should be closed with counters reset
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Snapshot().ConsecutiveFailures)
}

// ---------------------------------------------------------------------------
// HalfOpen admits exactly one trial call
// ---------------------------------------------------------------------------

func TestBreaker_HalfOpenSingleTrial(t *testing.T) {
	cb := NewCircuitBreaker(&Config{
		FailureThreshold: 1,
		OpenTimeout:      50 * time.Millisecond,
	}, zap.NewNop())

	_ = cb.Call(context.Background(), func(ctx context.Context) error { return errors.New("fail") })
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(80 * time.Millisecond)

	var calls atomic.Int64
	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	// Hold the trial call in flight
	go func() {
		done <- cb.Call(context.Background(), func(ctx context.Context) error {
			calls.Add(1)
			close(entered)
			<-release
			return nil
		})
	}()

	<-entered
	require.Equal(t, StateHalfOpen, cb.State())

	// A concurrent call during the trial must not reach the provider
	err := cb.Call(context.Background(), func(ctx context.Context) error {
		calls.Add(1)
		return nil
	})
	assert.ErrorIs(t, err, ErrTrialInFlight)
	assert.True(t, IsOpen(err))
	assert.Equal(t, int64(1), calls.Load(), "only one trial call admitted")

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, cb.State())
}

// ---------------------------------------------------------------------------
// HalfOpen -> Open (trial failure resets the failure time)
// ---------------------------------------------------------------------------

func TestBreaker_HalfOpenToOpen(t *testing.T) {
	cb := NewCircuitBreaker(&Config{
		FailureThreshold: 1,
		OpenTimeout:      50 * time.Millisecond,
	}, zap.NewNop())

	_ = cb.Call(context.Background(), func(ctx context.Context) error { return errors.New("fail") })
	require.Equal(t, StateOpen, cb.State())
	firstFailure := cb.Snapshot().LastFailureTime

	time.Sleep(80 * time.Millisecond)

	// Fail in half-open
	err := cb.Call(context.Background(), func(ctx context.Context) error { return errors.New("fail again") })
	assert.Error(t, err)
	assert.Equal(t, StateOpen, cb.State())
	assert.True(t, cb.Snapshot().LastFailureTime.After(firstFailure), "reopening must reset the failure time")
}

// ---------------------------------------------------------------------------
// Cancellation mutates nothing
// ---------------------------------------------------------------------------

func TestBreaker_CancellationNeutral(t *testing.T) {
	cb := NewCircuitBreaker(&Config{
		FailureThreshold: 3,
		OpenTimeout:      1 * time.Hour,
	}, zap.NewNop())

	// Establish a pre-attempt failure count
	_ = cb.Call(context.Background(), func(ctx context.Context) error { return errors.New("f") })
	require.Equal(t, 1, cb.Snapshot().ConsecutiveFailures)

	// Cancel an in-flight attempt
	ctx, cancel := context.WithCancel(context.Background())
	err := cb.Call(ctx, func(ctx context.Context) error {
		cancel()
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)

	// Neither success nor failure: count unchanged, state unchanged
	assert.Equal(t, 1, cb.Snapshot().ConsecutiveFailures)
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreaker_CancelledTrialReleasesSlot(t *testing.T) {
	cb := NewCircuitBreaker(&Config{
		FailureThreshold: 1,
		OpenTimeout:      50 * time.Millisecond,
	}, zap.NewNop())

	_ = cb.Call(context.Background(), func(ctx context.Context) error { return errors.New("fail") })
	time.Sleep(80 * time.Millisecond)

	// Trial attempt gets cancelled mid-flight
	ctx, cancel := context.WithCancel(context.Background())
	err := cb.Call(ctx, func(ctx context.Context) error {
		cancel()
		<-ctx.Done()
		return ctx.Err()
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, StateHalfOpen, cb.State())

	// The slot must be free for the next trial
	err = cb.Call(context.Background(), func(ctx context.Context) error { return nil })
	assert.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

// ---------------------------------------------------------------------------
// Reset
// ---------------------------------------------------------------------------

func TestBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(&Config{
		FailureThreshold: 1,
		OpenTimeout:      1 * time.Hour,
	}, zap.NewNop())

	// Trip the breaker
	_ = cb.Call(context.Background(), func(ctx context.Context) error { return errors.New("fail") })
	require.Equal(t, StateOpen, cb.State())

	// Reset
	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Snapshot().ConsecutiveFailures)

	// Should accept calls again
	err := cb.Call(context.Background(), func(ctx context.Context) error { return nil })
	assert.NoError(t, err)
}

// ---------------------------------------------------------------------------
// OnStateChange callback
// ---------------------------------------------------------------------------

func TestBreaker_OnStateChange(t *testing.T) {
	var mu sync.Mutex
	var transitions []struct{ from, to State }

	cb := NewCircuitBreaker(&Config{
		FailureThreshold: 2,
		OpenTimeout:      50 * time.Millisecond,
	}, zap.NewNop())

	b := cb.(*breaker)
	b.config.OnStateChange = func(from, to State) {
		mu.Lock()
		transitions = append(transitions, struct{ from, to State }{from, to})
		mu.Unlock()
	}

	// Trip: Closed -> Open
	_ = cb.Call(context.Background(), func(ctx context.Context) error { return errors.New("f") })
	_ = cb.Call(context.Background(), func(ctx context.Context) error { return errors.New("f") })

	// Wait for open timeout, then trigger HalfOpen -> Closed
	time.Sleep(80 * time.Millisecond)
	_ = cb.Call(context.Background(), func(ctx context.Context) error { return nil })

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(transitions) >= 2
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	// First transition: Closed -> Open
	assert.Equal(t, StateClosed, transitions[0].from)
	assert.Equal(t, StateOpen, transitions[0].to)
}

// ---------------------------------------------------------------------------
// CallWithResult
// ---------------------------------------------------------------------------

func TestBreaker_CallWithResult(t *testing.T) {
	cb := NewCircuitBreaker(&Config{
		FailureThreshold: 5,
	}, zap.NewNop())

	result, err := cb.CallWithResult(context.Background(), func(ctx context.Context) (any, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, result)
}

// ---------------------------------------------------------------------------
// Success resets failure count in Closed state
// ---------------------------------------------------------------------------

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(&Config{
		FailureThreshold: 3,
	}, zap.NewNop())

	// Fail twice
	_ = cb.Call(context.Background(), func(ctx context.Context) error { return errors.New("f") })
	_ = cb.Call(context.Background(), func(ctx context.Context) error { return errors.New("f") })

	// Succeed (resets count)
	_ = cb.Call(context.Background(), func(ctx context.Context) error { return nil })
	assert.Equal(t, 0, cb.Snapshot().ConsecutiveFailures)

	// Fail twice more — should still be closed (count was reset)
	_ = cb.Call(context.Background(), func(ctx context.Context) error { return errors.New("f") })
	_ = cb.Call(context.Background(), func(ctx context.Context) error { return errors.New("f") })
	assert.Equal(t, StateClosed, cb.State())
}

// ---------------------------------------------------------------------------
// Concurrent safety
// ---------------------------------------------------------------------------

func TestBreaker_ConcurrentSafety(t *testing.T) {
	cb := NewCircuitBreaker(&Config{
		FailureThreshold: 100,
		OpenTimeout:      50 * time.Millisecond,
	}, zap.NewNop())

	var wg sync.WaitGroup
	var successCount atomic.Int64

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := cb.Call(context.Background(), func(ctx context.Context) error { return nil })
			if err == nil {
				successCount.Add(1)
			}
		}()
	}

	wg.Wait()
	assert.Equal(t, int64(50), successCount.Load())
	assert.Equal(t, StateClosed, cb.State())
}
