package circuitbreaker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"
)

// genThreshold generates a realistic failure threshold.
func genThreshold() *rapid.Generator[int] {
	return rapid.IntRange(1, 20)
}

// TestProperty_Breaker_OpensExactlyAtThreshold verifies the breaker trips on
// the Nth consecutive failure, not before, for any threshold N.
func TestProperty_Breaker_OpensExactlyAtThreshold(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		threshold := genThreshold().Draw(rt, "threshold")

		cb := NewCircuitBreaker(&Config{
			FailureThreshold: threshold,
			OpenTimeout:      1 * time.Hour,
		}, zap.NewNop())

		errFail := errors.New("fail")

		for i := 0; i < threshold-1; i++ {
			_ = cb.Call(context.Background(), func(ctx context.Context) error { return errFail })
			require.Equal(t, StateClosed, cb.State(),
				"breaker must stay closed before the threshold is reached")
		}

		_ = cb.Call(context.Background(), func(ctx context.Context) error { return errFail })
		require.Equal(t, StateOpen, cb.State(),
			"breaker must open exactly on the Nth consecutive failure")

		// While open, the provider function is never invoked.
		var calls atomic.Int64
		err := cb.Call(context.Background(), func(ctx context.Context) error {
			calls.Add(1)
			return nil
		})
		assert.ErrorIs(t, err, ErrCircuitOpen)
		assert.Equal(t, int64(0), calls.Load())
	})
}

// TestProperty_Breaker_SuccessInterruptsStreak verifies a success anywhere in
// the failure sequence resets the consecutive count, so the breaker never
// opens on non-consecutive failures.
func TestProperty_Breaker_SuccessInterruptsStreak(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		threshold := rapid.IntRange(2, 10).Draw(rt, "threshold")

		cb := NewCircuitBreaker(&Config{
			FailureThreshold: threshold,
			OpenTimeout:      1 * time.Hour,
		}, zap.NewNop())

		errFail := errors.New("fail")

		for round := 0; round < 3; round++ {
			for i := 0; i < threshold-1; i++ {
				_ = cb.Call(context.Background(), func(ctx context.Context) error { return errFail })
			}
			_ = cb.Call(context.Background(), func(ctx context.Context) error { return nil })
			require.Equal(t, StateClosed, cb.State(),
				"a success must reset the consecutive failure count")
			require.Equal(t, 0, cb.Snapshot().ConsecutiveFailures)
		}
	})
}
