package invoker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/failover/circuitbreaker"
	"github.com/BaSui01/failover/idempotency"
	"github.com/BaSui01/failover/internal/ctxkeys"
	"github.com/BaSui01/failover/provider"
	"github.com/BaSui01/failover/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Invoker 统一调用入口
// 调用方只面对能力标签与载荷，不感知具体提供方
type Invoker interface {
	// Invoke 对指定能力发起一次调用，按 rank 依次尝试候选提供方，
	// 返回第一个有效响应；全部失败时返回聚合错误
	Invoke(ctx context.Context, capability string, payload any) (any, error)
}

// Result 一次成功调用的响应与元数据
type Result struct {
	// Response 提供方返回的业务响应
	Response any
	// Provider 胜出提供方名称；命中幂等缓存时为空
	Provider string
	// CacheHit 结果是否来自幂等缓存，未接触任何提供方
	CacheHit bool
	// FailedBefore 胜出前已经失败的候选数量
	FailedBefore int
}

// DetailedInvoker 在 Invoker 之上额外暴露调用元数据，
// 供 HTTP 层装配响应与写审计记录使用
type DetailedInvoker interface {
	Invoker

	// InvokeDetailed 语义与 Invoke 一致，成功时附带胜出提供方等元数据
	InvokeDetailed(ctx context.Context, capability string, payload any) (*Result, error)
}

// Config 调用器配置
type Config struct {
	// Idempotency 可选的结果缓存。nil 表示关闭：相同载荷的两次调用
	// 各自独立执行，互不影响
	Idempotency idempotency.Manager

	// IdempotencyTTL 缓存结果的保留时间，<= 0 时使用管理器默认值
	IdempotencyTTL time.Duration
}

// fallbackInvoker 按序降级的调用器实现
// 每个提供方的调用都包在它自己的熔断器里，重试发生在熔断器内部：
// 一次逻辑调用对一个提供方至多产生一次熔断计数
type fallbackInvoker struct {
	registry *provider.Registry
	config   *Config
	logger   *zap.Logger
}

// NewFallbackInvoker 创建按序降级调用器
// registry 由调用方持有并保证生命周期长于调用器
func NewFallbackInvoker(registry *provider.Registry, config *Config, logger *zap.Logger) DetailedInvoker {
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &fallbackInvoker{
		registry: registry,
		config:   config,
		logger:   logger,
	}
}

// Invoke 实现 Invoker.Invoke
func (i *fallbackInvoker) Invoke(ctx context.Context, capability string, payload any) (any, error) {
	res, err := i.InvokeDetailed(ctx, capability, payload)
	if err != nil {
		return nil, err
	}
	return res.Response, nil
}

// InvokeDetailed 实现 DetailedInvoker.InvokeDetailed
func (i *fallbackInvoker) InvokeDetailed(ctx context.Context, capability string, payload any) (*Result, error) {
	tracer := otel.Tracer("failover/invoker")
	ctx, span := tracer.Start(ctx, "invoke "+capability,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("failover.capability", capability)),
	)
	defer span.End()

	start := time.Now()

	// 幂等缓存命中时直接短路，不接触任何提供方
	idemKey := i.idempotencyKey(ctx, capability, payload)
	if idemKey != "" {
		if cached, found, err := i.config.Idempotency.Get(ctx, idemKey); err != nil {
			i.logger.Warn("幂等缓存读取失败，继续正常调用",
				zap.String("capability", capability),
				zap.Error(err),
			)
		} else if found {
			span.SetAttributes(attribute.String("failover.cache", "hit"))
			observeInvocation(capability, outcomeCacheHit, time.Since(start))
			return &Result{Response: cached, CacheHit: true}, nil
		}
	}

	candidates := i.registry.ListFor(capability)
	if len(candidates) == 0 {
		err := types.NewError(types.ErrEmptyChain,
			fmt.Sprintf("no providers registered for capability %q", capability))
		span.SetAttributes(attribute.String("error", err.Error()))
		observeInvocation(capability, outcomeConfigError, time.Since(start))
		return nil, err
	}

	failures := make([]types.ProviderFailure, 0, len(candidates))

	for _, d := range candidates {
		result, err := i.invokeOne(ctx, d, payload)
		if err == nil {
			i.logger.Debug("调用成功",
				zap.String("capability", capability),
				zap.String("provider", d.Name),
				zap.Int("rank", d.Rank),
				zap.Int("failed_before", len(failures)),
			)
			span.SetAttributes(
				attribute.String("failover.provider", d.Name),
				attribute.Int("failover.failed_before", len(failures)),
			)
			observeProviderAttempt(d.Name, capability, outcomeSuccess)
			observeInvocation(capability, outcomeSuccess, time.Since(start))

			i.storeIdempotent(ctx, idemKey, capability, result)
			return &Result{
				Response:     result,
				Provider:     d.Name,
				FailedBefore: len(failures),
			}, nil
		}

		failures = append(failures, types.ProviderFailure{
			Provider: d.Name,
			Err:      i.classifyFailure(d.Name, err),
		})

		if circuitbreaker.IsOpen(err) {
			// 熔断拒绝：未接触提供方，只计入降级链失败
			i.logger.Debug("熔断器打开，跳过提供方",
				zap.String("capability", capability),
				zap.String("provider", d.Name),
			)
			observeProviderAttempt(d.Name, capability, outcomeCircuitOpen)
		} else {
			i.logger.Warn("提供方调用失败，尝试下一候选",
				zap.String("capability", capability),
				zap.String("provider", d.Name),
				zap.Int("rank", d.Rank),
				zap.Error(err),
			)
			observeProviderAttempt(d.Name, capability, outcomeFailure)
		}

		// 调用方已取消时不再尝试后续候选
		if ctx.Err() != nil {
			span.SetAttributes(attribute.String("error", ctx.Err().Error()))
			observeInvocation(capability, outcomeCancelled, time.Since(start))
			return nil, fmt.Errorf("调用已取消（已尝试 %d 个提供方）: %w", len(failures), ctx.Err())
		}
	}

	err := &types.AllProvidersFailedError{
		Capability: capability,
		Failures:   failures,
	}
	i.logger.Error("全部提供方失败",
		zap.String("capability", capability),
		zap.Int("providers", len(failures)),
		zap.Error(err),
	)
	span.SetAttributes(attribute.String("error", err.Error()))
	observeInvocation(capability, outcomeFailure, time.Since(start))
	return nil, err
}

// invokeOne 对单个提供方执行一次带重试的调用
// 重试在熔断器内部展开：熔断器看到的是重试序列的最终结果
func (i *fallbackInvoker) invokeOne(ctx context.Context, d *provider.Descriptor, payload any) (any, error) {
	cb, err := i.registry.Breaker(d.Name)
	if err != nil {
		return nil, err
	}
	retryer, err := i.registry.Retryer(d.Name)
	if err != nil {
		return nil, err
	}

	return cb.CallWithResult(ctx, func(ctx context.Context) (any, error) {
		return retryer.DoWithResult(ctx, func(ctx context.Context) (any, error) {
			resp, err := d.Invoke(ctx, payload)
			if err != nil {
				return nil, err
			}
			// 校验失败等同调用失败：计入熔断并推进降级
			if d.Validate != nil {
				if verr := d.Validate(resp); verr != nil {
					return nil, invalidResponse(d.Name, verr)
				}
			}
			return resp, nil
		})
	})
}

// classifyFailure 将底层错误整理为失败清单中的条目
func (i *fallbackInvoker) classifyFailure(providerName string, err error) error {
	if circuitbreaker.IsOpen(err) {
		return types.NewError(types.ErrCircuitOpen,
			fmt.Sprintf("provider %q skipped: circuit breaker open", providerName)).
			WithProvider(providerName).
			WithCause(err)
	}
	return err
}

// idempotencyKey 派生幂等键；缓存未启用或载荷不可序列化时返回空串。
// 调用方可通过 ctxkeys.WithIdempotencyKey 显式指定，优先于哈希派生。
func (i *fallbackInvoker) idempotencyKey(ctx context.Context, capability string, payload any) string {
	if i.config.Idempotency == nil {
		return ""
	}
	if explicit, ok := ctxkeys.IdempotencyKey(ctx); ok {
		return explicit
	}
	key, err := idempotency.KeyFor(capability, payload)
	if err != nil {
		i.logger.Debug("载荷无法派生幂等键，跳过缓存",
			zap.String("capability", capability),
			zap.Error(err),
		)
		return ""
	}
	return key
}

// storeIdempotent 尽力写入结果缓存，失败只记日志不影响返回
func (i *fallbackInvoker) storeIdempotent(ctx context.Context, key, capability string, result any) {
	if key == "" {
		return
	}
	if err := i.config.Idempotency.Set(ctx, key, result, i.config.IdempotencyTTL); err != nil {
		i.logger.Warn("幂等缓存写入失败",
			zap.String("capability", capability),
			zap.Error(err),
		)
	}
}

// invalidResponse 包装响应校验错误
// 已经是类型化错误时保留原有的可重试性判定
func invalidResponse(providerName string, err error) error {
	var te *types.Error
	if errors.As(err, &te) {
		return err
	}
	return types.NewError(types.ErrInvalidResponse,
		fmt.Sprintf("响应校验失败: %v", err)).
		WithProvider(providerName).
		WithCause(err)
}
