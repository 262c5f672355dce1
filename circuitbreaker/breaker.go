package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/failover/types"
	"go.uber.org/zap"
)

// State 熔断器状态
type State int

const (
	// StateClosed 关闭状态（正常工作）
	StateClosed State = iota
	// StateOpen 打开状态（熔断中）
	StateOpen
	// StateHalfOpen 半开状态（试探性恢复）
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "Closed"
	case StateOpen:
		return "Open"
	case StateHalfOpen:
		return "HalfOpen"
	default:
		return "Unknown"
	}
}

// Config 熔断器配置
type Config struct {
	// FailureThreshold 连续失败次数阈值（触发熔断）
	FailureThreshold int

	// OpenTimeout 熔断恢复等待时间（从 Open -> HalfOpen）
	OpenTimeout time.Duration

	// OnStateChange 状态变更回调
	OnStateChange func(from State, to State)
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		FailureThreshold: 5,
		OpenTimeout:      60 * time.Second,
	}
}

// Validate 校验配置合法性
func (c *Config) Validate() error {
	if c.FailureThreshold < 1 {
		return types.NewError(types.ErrConfiguration, "circuitbreaker: failure_threshold must be >= 1")
	}
	if c.OpenTimeout <= 0 {
		return types.NewError(types.ErrConfiguration, "circuitbreaker: open_timeout must be > 0")
	}
	return nil
}

// Snapshot 熔断器状态快照，供健康聚合只读消费
type Snapshot struct {
	State               State
	ConsecutiveFailures int
	LastFailureTime     time.Time
}

// CircuitBreaker 熔断器接口
type CircuitBreaker interface {
	// Call 执行调用，如果熔断器打开则返回错误
	Call(ctx context.Context, fn func(ctx context.Context) error) error

	// CallWithResult 执行调用并返回结果
	CallWithResult(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error)

	// State 获取当前状态
	State() State

	// Snapshot 获取状态快照
	Snapshot() Snapshot

	// Reset 重置熔断器（手动恢复）
	Reset()
}

// breaker 熔断器实现
type breaker struct {
	config *Config
	logger *zap.Logger

	mu               sync.RWMutex
	state            State
	failureCount     int       // 连续失败次数
	lastFailureTime  time.Time // 最后失败时间；不变式：Open 状态下必非零
	halfOpenInFlight bool      // 半开状态下是否已放行试探调用
}

// NewCircuitBreaker 创建熔断器
func NewCircuitBreaker(config *Config, logger *zap.Logger) CircuitBreaker {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// 参数校验
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.OpenTimeout <= 0 {
		config.OpenTimeout = 60 * time.Second
	}

	return &breaker{
		config: config,
		logger: logger,
		state:  StateClosed,
	}
}

// Call 实现 CircuitBreaker.Call
func (b *breaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := b.CallWithResult(ctx, func(ctx context.Context) (any, error) {
		return nil, fn(ctx)
	})
	return err
}

// CallWithResult 实现 CircuitBreaker.CallWithResult
// 核心逻辑：状态机转换 + 失败计数；每次调用结果恰好触发一次状态变更。
// 调用方取消（ctx 已失效）视为既非成功也非失败，不改变任何计数。
func (b *breaker) CallWithResult(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	// 检查熔断器状态
	if err := b.beforeCall(); err != nil {
		return nil, err
	}

	// 执行调用；超时控制属于调用方与上游集成，熔断器不自设时限
	result, err := fn(ctx)

	// 调用被取消：不计成功也不计失败
	if err != nil && ctx.Err() != nil {
		b.releaseTrial()
		return nil, err
	}

	b.afterCall(err == nil)

	if err != nil {
		return nil, err
	}
	return result, nil
}

// beforeCall 调用前检查
func (b *breaker) beforeCall() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		// 关闭状态，允许调用
		return nil

	case StateOpen:
		// 检查是否可以进入半开状态
		if time.Since(b.lastFailureTime) >= b.config.OpenTimeout {
			b.setState(StateHalfOpen)
			b.halfOpenInFlight = true
			b.logger.Info("熔断器进入半开状态")
			return nil
		}

		// 仍在熔断中
		return ErrCircuitOpen

	case StateHalfOpen:
		// 半开状态只放行一个试探调用
		if b.halfOpenInFlight {
			return ErrTrialInFlight
		}
		b.halfOpenInFlight = true
		return nil

	default:
		return fmt.Errorf("未知的熔断器状态: %v", b.state)
	}
}

// releaseTrial 取消场景下归还半开试探名额
func (b *breaker) releaseTrial() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.halfOpenInFlight = false
	}
}

// afterCall 调用后处理
func (b *breaker) afterCall(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		// 调用成功
		b.onSuccess()
	} else {
		// 调用失败
		b.onFailure()
	}
}

// onSuccess 处理成功调用
func (b *breaker) onSuccess() {
	switch b.state {
	case StateClosed:
		// 关闭状态，重置失败计数
		b.failureCount = 0

	case StateHalfOpen:
		// 半开状态，试探成功后恢复到关闭状态
		b.logger.Info("熔断器恢复正常")
		b.setState(StateClosed)
		b.failureCount = 0
		b.halfOpenInFlight = false

	case StateOpen:
		// 打开状态不应该有调用
		b.logger.Warn("熔断器打开状态收到成功响应")
	}
}

// onFailure 处理失败调用
func (b *breaker) onFailure() {
	b.failureCount++
	b.lastFailureTime = time.Now()

	switch b.state {
	case StateClosed:
		// 关闭状态，检查是否达到阈值
		if b.failureCount >= b.config.FailureThreshold {
			b.logger.Warn("熔断器打开",
				zap.Int("failure_count", b.failureCount),
				zap.Int("threshold", b.config.FailureThreshold),
			)
			b.setState(StateOpen)
		}

	case StateHalfOpen:
		// 半开状态，试探失败后重新打开并重置熔断计时
		b.logger.Warn("熔断器半开状态试探失败，重新打开")
		b.setState(StateOpen)
		b.halfOpenInFlight = false

	case StateOpen:
		// 打开状态不应该有调用
		b.logger.Warn("熔断器打开状态收到失败响应")
	}
}

// setState 设置状态并触发回调
func (b *breaker) setState(newState State) {
	oldState := b.state
	b.state = newState

	if b.config.OnStateChange != nil {
		go b.config.OnStateChange(oldState, newState)
	}
}

// State 实现 CircuitBreaker.State
func (b *breaker) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Snapshot 实现 CircuitBreaker.Snapshot
func (b *breaker) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Snapshot{
		State:               b.state,
		ConsecutiveFailures: b.failureCount,
		LastFailureTime:     b.lastFailureTime,
	}
}

// Reset 实现 CircuitBreaker.Reset
func (b *breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	oldState := b.state
	b.state = StateClosed
	b.failureCount = 0
	b.halfOpenInFlight = false

	b.logger.Info("熔断器已重置",
		zap.String("from_state", oldState.String()),
	)

	if b.config.OnStateChange != nil {
		go b.config.OnStateChange(oldState, StateClosed)
	}
}

// 错误定义
var (
	ErrCircuitOpen   = errors.New("熔断器已打开")
	ErrTrialInFlight = errors.New("半开状态试探调用进行中")
)

// IsOpen 判断错误是否为熔断拒绝（未接触提供者）
func IsOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrTrialInFlight)
}
