package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BaSui01/failover/types"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 1*time.Second, cfg.BaseDelay)
	assert.Equal(t, 60*time.Second, cfg.MaxDelay)
	assert.Equal(t, 2.0, cfg.Multiplier)
	assert.Equal(t, 0.1, cfg.JitterFraction)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: time.Minute, Multiplier: 2, JitterFraction: 0.1}, false},
		{"zero attempts", Config{MaxAttempts: 0, BaseDelay: time.Second, MaxDelay: time.Minute, Multiplier: 2}, true},
		{"zero base delay", Config{MaxAttempts: 1, BaseDelay: 0, MaxDelay: time.Minute, Multiplier: 2}, true},
		{"max below base", Config{MaxAttempts: 1, BaseDelay: time.Minute, MaxDelay: time.Second, Multiplier: 2}, true},
		{"multiplier below one", Config{MaxAttempts: 1, BaseDelay: time.Second, MaxDelay: time.Minute, Multiplier: 0.5}, true},
		{"jitter out of range", Config{MaxAttempts: 1, BaseDelay: time.Second, MaxDelay: time.Minute, Multiplier: 2, JitterFraction: 1.0}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				assert.True(t, types.IsConfiguration(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBackoffRetryer_Success(t *testing.T) {
	logger := zap.NewNop()
	config := &Config{
		MaxAttempts: 3,
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    100 * time.Millisecond,
		Multiplier:  2.0,
	}

	retryer := NewBackoffRetryer(config, logger)
	ctx := context.Background()

	callCount := 0
	err := retryer.Do(ctx, func(ctx context.Context) error {
		callCount++
		return nil // 第一次就成功
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, callCount, "应该只调用一次")
}

func TestBackoffRetryer_RetryAndSuccess(t *testing.T) {
	logger := zap.NewNop()
	config := &Config{
		MaxAttempts: 4,
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    100 * time.Millisecond,
		Multiplier:  2.0,
	}

	retryer := NewBackoffRetryer(config, logger)
	ctx := context.Background()

	callCount := 0
	testErr := errors.New("temporary error")

	err := retryer.Do(ctx, func(ctx context.Context) error {
		callCount++
		if callCount < 3 {
			return testErr // 前两次失败
		}
		return nil // 第三次成功
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, callCount, "应该调用三次")
}

func TestBackoffRetryer_AttemptBudgetIsHardCeiling(t *testing.T) {
	logger := zap.NewNop()
	config := &Config{
		MaxAttempts: 3,
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    100 * time.Millisecond,
		Multiplier:  2.0,
	}

	retryer := NewBackoffRetryer(config, logger)
	ctx := context.Background()

	callCount := 0
	testErr := errors.New("persistent error")

	err := retryer.Do(ctx, func(ctx context.Context) error {
		callCount++
		return testErr // 始终失败
	})

	assert.Error(t, err)
	assert.ErrorIs(t, err, testErr)
	assert.Contains(t, err.Error(), "尝试 3 次后仍失败")
	assert.Equal(t, 3, callCount, "总尝试次数含首次调用，不得超过上限")
}

func TestBackoffRetryer_PermanentErrorAbortsImmediately(t *testing.T) {
	logger := zap.NewNop()
	config := &Config{
		MaxAttempts: 5,
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    100 * time.Millisecond,
		Multiplier:  2.0,
	}

	retryer := NewBackoffRetryer(config, logger)
	ctx := context.Background()

	callCount := 0
	permanent := types.NewError(types.ErrAuthentication, "bad key").WithRetryable(false)

	err := retryer.Do(ctx, func(ctx context.Context) error {
		callCount++
		return permanent
	})

	assert.Error(t, err)
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, callCount, "永久错误不应重试")
}

func TestBackoffRetryer_ContextCanceled(t *testing.T) {
	logger := zap.NewNop()
	config := &Config{
		MaxAttempts: 6,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    1 * time.Second,
		Multiplier:  2.0,
	}

	retryer := NewBackoffRetryer(config, logger)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	callCount := 0
	testErr := errors.New("error")

	err := retryer.Do(ctx, func(ctx context.Context) error {
		callCount++
		return testErr
	})

	assert.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "重试被取消")
	assert.Equal(t, 1, callCount, "取消发生在退避等待期间，只调用一次")
}

func TestBackoffRetryer_CustomClassifier(t *testing.T) {
	logger := zap.NewNop()
	sentinel := errors.New("special")
	config := &Config{
		MaxAttempts: 3,
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    100 * time.Millisecond,
		Multiplier:  2.0,
		Classify:    func(err error) bool { return errors.Is(err, sentinel) },
	}

	retryer := NewBackoffRetryer(config, logger)
	ctx := context.Background()

	// 分类器认定为瞬时：重试到上限
	callCount := 0
	_ = retryer.Do(ctx, func(ctx context.Context) error {
		callCount++
		return sentinel
	})
	assert.Equal(t, 3, callCount)

	// 分类器认定为永久：立即中止
	callCount = 0
	other := errors.New("other")
	err := retryer.Do(ctx, func(ctx context.Context) error {
		callCount++
		return other
	})
	assert.ErrorIs(t, err, other)
	assert.Equal(t, 1, callCount)
}

func TestBackoffRetryer_OnRetryCallback(t *testing.T) {
	logger := zap.NewNop()

	var attempts []int
	var delays []time.Duration
	config := &Config{
		MaxAttempts: 3,
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    100 * time.Millisecond,
		Multiplier:  2.0,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			attempts = append(attempts, attempt)
			delays = append(delays, delay)
		},
	}

	retryer := NewBackoffRetryer(config, logger)
	testErr := errors.New("fail")
	_ = retryer.Do(context.Background(), func(ctx context.Context) error { return testErr })

	assert.Equal(t, []int{1, 2}, attempts, "回调应在每次重试前触发")
	for _, d := range delays {
		assert.Greater(t, d, time.Duration(0))
	}
}

func TestConfig_Delay_NoJitterExactAndMonotonic(t *testing.T) {
	cfg := &Config{
		MaxAttempts: 10,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    2 * time.Second,
		Multiplier:  2.0,
	}

	// 无抖动时延迟精确等于 min(MaxDelay, Base·Mult^i)
	assert.Equal(t, 100*time.Millisecond, cfg.Delay(0))
	assert.Equal(t, 200*time.Millisecond, cfg.Delay(1))
	assert.Equal(t, 400*time.Millisecond, cfg.Delay(2))
	assert.Equal(t, 800*time.Millisecond, cfg.Delay(3))
	assert.Equal(t, 1600*time.Millisecond, cfg.Delay(4))
	assert.Equal(t, 2*time.Second, cfg.Delay(5), "达到上限后封顶")
	assert.Equal(t, 2*time.Second, cfg.Delay(9))

	// 单调不减
	prev := time.Duration(0)
	for i := 0; i < 10; i++ {
		d := cfg.Delay(i)
		assert.GreaterOrEqual(t, d, prev)
		prev = d
	}
}

func TestDoWithResultTyped(t *testing.T) {
	retryer := NewBackoffRetryer(&Config{
		MaxAttempts: 2,
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    50 * time.Millisecond,
		Multiplier:  2.0,
	}, zap.NewNop())

	val, err := DoWithResultTyped[string](retryer, context.Background(), func(ctx context.Context) (string, error) {
		return "ok", nil
	})
	assert.NoError(t, err)
	assert.Equal(t, "ok", val)
}
