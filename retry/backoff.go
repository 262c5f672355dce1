package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/BaSui01/failover/types"
	"go.uber.org/zap"
)

// Config 定义重试策略配置
// 不可变，可在同一能力的多个提供者之间共享
type Config struct {
	MaxAttempts    int                                               // 总尝试次数上限（含首次调用，>= 1）
	BaseDelay      time.Duration                                     // 初始延迟时间
	MaxDelay       time.Duration                                     // 最大延迟时间
	Multiplier     float64                                           // 延迟时间倍增因子（指数退避）
	JitterFraction float64                                           // 随机抖动比例，取值 [0,1)（防止雪崩）
	Classify       func(err error) bool                              // 瞬时错误判定（为空则使用 types.Transient）
	OnRetry        func(attempt int, err error, delay time.Duration) // 重试回调
}

// DefaultConfig 返回默认的重试策略
// 适用于大部分上游 API 调用场景
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:    3,
		BaseDelay:      1 * time.Second,
		MaxDelay:       60 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
	}
}

// Validate 校验配置；配置来自外部文件/环境变量时在启动期调用
func (c *Config) Validate() error {
	if c.MaxAttempts < 1 {
		return types.NewError(types.ErrConfiguration, "retry: max_attempts must be >= 1")
	}
	if c.BaseDelay <= 0 {
		return types.NewError(types.ErrConfiguration, "retry: base_delay must be > 0")
	}
	if c.MaxDelay < c.BaseDelay {
		return types.NewError(types.ErrConfiguration, "retry: max_delay must be >= base_delay")
	}
	if c.Multiplier < 1.0 {
		return types.NewError(types.ErrConfiguration, "retry: multiplier must be >= 1")
	}
	if c.JitterFraction < 0 || c.JitterFraction >= 1 {
		return types.NewError(types.ErrConfiguration, "retry: jitter_fraction must be in [0,1)")
	}
	return nil
}

// Delay 计算第 attempt 次尝试（0 起）结束后、下一次尝试前的延迟：
// delay(i) = min(MaxDelay, BaseDelay·Multiplier^i) · (1 + uniform(0, JitterFraction))
func (c *Config) Delay(attempt int) time.Duration {
	delay := float64(c.BaseDelay) * math.Pow(c.Multiplier, float64(attempt))

	// 先封顶再抖动
	if delay > float64(c.MaxDelay) {
		delay = float64(c.MaxDelay)
	}

	if c.JitterFraction > 0 {
		delay *= 1 + rand.Float64()*c.JitterFraction
	}

	return time.Duration(delay)
}

// Retryer 重试器接口
// 提供统一的重试能力
type Retryer interface {
	// Do 执行函数，瞬时失败时根据策略重试
	Do(ctx context.Context, fn func(ctx context.Context) error) error

	// DoWithResult 执行函数并返回结果，瞬时失败时根据策略重试
	DoWithResult(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error)
}

// backoffRetryer 基于指数退避的重试器实现
type backoffRetryer struct {
	config *Config
	logger *zap.Logger
}

// NewBackoffRetryer 创建指数退避重试器
func NewBackoffRetryer(config *Config, logger *zap.Logger) Retryer {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// 参数校验
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = 1 * time.Second
	}
	if config.MaxDelay < config.BaseDelay {
		config.MaxDelay = 60 * time.Second
	}
	if config.Multiplier < 1.0 {
		config.Multiplier = 2.0
	}
	if config.JitterFraction < 0 || config.JitterFraction >= 1 {
		config.JitterFraction = 0.1
	}

	return &backoffRetryer{
		config: config,
		logger: logger,
	}
}

// Do 实现 Retryer.Do
func (r *backoffRetryer) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := r.DoWithResult(ctx, func(ctx context.Context) (any, error) {
		return nil, fn(ctx)
	})
	return err
}

// DoWithResult 实现 Retryer.DoWithResult
// 核心重试逻辑：指数退避 + 随机抖动 + 瞬时错误过滤
// MaxAttempts 为硬上限（含首次调用）；永久错误立即中止重试循环
func (r *backoffRetryer) DoWithResult(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	var lastErr error
	var result any

	for attempt := 0; attempt < r.config.MaxAttempts; attempt++ {
		// 第一次执行不延迟
		if attempt > 0 {
			delay := r.config.Delay(attempt - 1)

			// 日志记录
			r.logger.Debug("重试中",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", r.config.MaxAttempts),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)

			// 调用回调
			if r.config.OnRetry != nil {
				r.config.OnRetry(attempt, lastErr, delay)
			}

			// 等待延迟，仅挂起当前调用方，同时监听 context 取消
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("重试被取消: %w", ctx.Err())
			case <-time.After(delay):
				// 继续重试
			}
		}

		// 执行函数
		result, lastErr = fn(ctx)

		// 成功，直接返回
		if lastErr == nil {
			if attempt > 0 {
				r.logger.Info("重试成功",
					zap.Int("attempt", attempt),
				)
			}
			return result, nil
		}

		// 永久错误不重试
		if !r.classify(lastErr) {
			r.logger.Debug("错误不可重试",
				zap.Error(lastErr),
			)
			return nil, lastErr
		}
	}

	// 所有尝试都失败了
	r.logger.Warn("重试次数耗尽",
		zap.Int("attempts", r.config.MaxAttempts),
		zap.Error(lastErr),
	)

	return nil, fmt.Errorf("尝试 %d 次后仍失败: %w", r.config.MaxAttempts, lastErr)
}

// classify 判定错误是否为瞬时错误
func (r *backoffRetryer) classify(err error) bool {
	if r.config.Classify != nil {
		return r.config.Classify(err)
	}
	return types.Transient(err)
}
