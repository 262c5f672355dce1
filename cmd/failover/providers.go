package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/failover/catalog"
	"github.com/BaSui01/failover/circuitbreaker"
	"github.com/BaSui01/failover/config"
	"github.com/BaSui01/failover/provider"
	"github.com/BaSui01/failover/providers/finnhub"
	"github.com/BaSui01/failover/providers/openaicompat"
	"github.com/BaSui01/failover/providers/tushare"
	"github.com/BaSui01/failover/retry"
	"github.com/BaSui01/failover/types"
)

// =============================================================================
// 🔌 提供方装配
// =============================================================================
// 提供方有两个来源：配置文件的声明式清单和数据库目录表。
// 两路都按 Kind 分派到具体集成的 Descriptor 工厂，
// Routes 覆盖只作用于配置声明的能力链。

// 支持的集成类型
const (
	kindOpenAICompat = "openai-compat"
	kindFinnhub      = "finnhub"
	kindTushare      = "tushare"
)

// buildConfigDescriptors 把配置声明的提供方清单转换为描述符。
// Routes 中出现的能力以路由为准：按名单顺序重排 rank 并裁掉未列出的候选。
func buildConfigDescriptors(cfg *config.Config, logger *zap.Logger) ([]*provider.Descriptor, error) {
	descs := make([]*provider.Descriptor, 0, len(cfg.Providers))
	for i := range cfg.Providers {
		pc := cfg.Providers[i]
		desc, err := descriptorFromConfig(pc, logger)
		if err != nil {
			return nil, err
		}
		desc.Retry = retryOverride(pc.Retry)
		desc.Breaker = breakerOverride(pc.Breaker)
		descs = append(descs, desc)
	}
	return applyRoutes(descs, cfg.Routes), nil
}

// descriptorFromConfig 按 Kind 构造单个提供方描述符
func descriptorFromConfig(pc config.ProviderConfig, logger *zap.Logger) (*provider.Descriptor, error) {
	switch pc.Kind {
	case kindOpenAICompat:
		client, err := openaicompat.New(openaicompat.Config{
			Name:      pc.Name,
			APIKey:    pc.APIKey,
			BaseURL:   pc.BaseURL,
			Model:     pc.Model,
			Timeout:   pc.Timeout,
			RateRPS:   pc.RateRPS,
			RateBurst: pc.RateBurst,
		}, logger.Named(pc.Name))
		if err != nil {
			return nil, err
		}
		return client.Descriptor(pc.Name, pc.Capability, pc.Rank), nil

	case kindFinnhub:
		client, err := finnhub.New(finnhub.Config{
			Name:      pc.Name,
			APIKey:    pc.APIKey,
			BaseURL:   pc.BaseURL,
			Timeout:   pc.Timeout,
			RateRPS:   pc.RateRPS,
			RateBurst: pc.RateBurst,
		}, logger.Named(pc.Name))
		if err != nil {
			return nil, err
		}
		return client.Descriptor(pc.Name, pc.Capability, pc.Rank), nil

	case kindTushare:
		client, err := tushare.New(tushare.Config{
			Name:      pc.Name,
			APIKey:    pc.APIKey,
			BaseURL:   pc.BaseURL,
			Timeout:   pc.Timeout,
			RateRPS:   pc.RateRPS,
			RateBurst: pc.RateBurst,
		}, logger.Named(pc.Name))
		if err != nil {
			return nil, err
		}
		return client.Descriptor(pc.Name, pc.Capability, pc.Rank), nil

	default:
		return nil, types.NewError(types.ErrConfiguration,
			fmt.Sprintf("unknown provider kind %q", pc.Kind)).
			WithProvider(pc.Name)
	}
}

// applyRoutes 对配置了路由的能力重排候选链。
// 路由名单中的顺序即 rank；名单外的同能力提供方被裁掉；
// 未配置路由的能力保持声明顺序不变。
func applyRoutes(descs []*provider.Descriptor, routes map[string][]string) []*provider.Descriptor {
	if len(routes) == 0 {
		return descs
	}

	byName := make(map[string]*provider.Descriptor, len(descs))
	for _, d := range descs {
		byName[d.Name] = d
	}

	routed := make(map[string]bool)
	out := make([]*provider.Descriptor, 0, len(descs))
	for capability, names := range routes {
		for i, name := range names {
			d, ok := byName[name]
			if !ok || d.Capability != capability {
				continue
			}
			d.Rank = i
			routed[name] = true
			out = append(out, d)
		}
	}

	for _, d := range descs {
		if routed[d.Name] {
			continue
		}
		// 路由覆盖了该能力但没点名这个提供方：裁掉
		if _, hasRoute := routes[d.Capability]; hasRoute {
			continue
		}
		out = append(out, d)
	}
	return out
}

// catalogBuilders 返回目录装载用的 Kind → 工厂映射。
// Name/Capability/Rank 与熔断、重试覆盖由 catalog 加载器统一套用。
func catalogBuilders(logger *zap.Logger) map[string]catalog.Builder {
	return map[string]catalog.Builder{
		kindOpenAICompat: func(rec catalog.ProviderRecord) (*provider.Descriptor, error) {
			client, err := openaicompat.New(openaicompat.Config{
				Name:      rec.Name,
				APIKey:    rec.APIKey,
				BaseURL:   rec.BaseURL,
				Model:     rec.Model,
				Timeout:   rec.Timeout,
				RateRPS:   rec.RateRPS,
				RateBurst: rec.RateBurst,
			}, logger.Named(rec.Name))
			if err != nil {
				return nil, err
			}
			return client.Descriptor(rec.Name, rec.Capability, rec.Rank), nil
		},
		kindFinnhub: func(rec catalog.ProviderRecord) (*provider.Descriptor, error) {
			client, err := finnhub.New(finnhub.Config{
				Name:      rec.Name,
				APIKey:    rec.APIKey,
				BaseURL:   rec.BaseURL,
				Timeout:   rec.Timeout,
				RateRPS:   rec.RateRPS,
				RateBurst: rec.RateBurst,
			}, logger.Named(rec.Name))
			if err != nil {
				return nil, err
			}
			return client.Descriptor(rec.Name, rec.Capability, rec.Rank), nil
		},
		kindTushare: func(rec catalog.ProviderRecord) (*provider.Descriptor, error) {
			client, err := tushare.New(tushare.Config{
				Name:      rec.Name,
				APIKey:    rec.APIKey,
				BaseURL:   rec.BaseURL,
				Timeout:   rec.Timeout,
				RateRPS:   rec.RateRPS,
				RateBurst: rec.RateBurst,
			}, logger.Named(rec.Name))
			if err != nil {
				return nil, err
			}
			return client.Descriptor(rec.Name, rec.Capability, rec.Rank), nil
		},
	}
}

// retryOverride 把配置覆盖转换为重试配置，nil 表示继承进程默认值
func retryOverride(rc *config.RetryConfig) *retry.Config {
	if rc == nil {
		return nil
	}
	return &retry.Config{
		MaxAttempts:    rc.MaxAttempts,
		BaseDelay:      rc.BaseDelay,
		MaxDelay:       rc.MaxDelay,
		Multiplier:     rc.Multiplier,
		JitterFraction: rc.JitterFraction,
	}
}

// breakerOverride 把配置覆盖转换为熔断配置，nil 表示继承进程默认值
func breakerOverride(bc *config.BreakerConfig) *circuitbreaker.Config {
	if bc == nil {
		return nil
	}
	return &circuitbreaker.Config{
		FailureThreshold: bc.FailureThreshold,
		OpenTimeout:      bc.OpenTimeout,
	}
}
