package catalog

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/failover/provider"
	"github.com/BaSui01/failover/types"
)

// Builder 按 Kind 把目录记录绑定为可调用的提供方描述符
// 构造器负责填充 Invoke/Validate/Probe 与密钥等接入参数；
// Name/Capability/Rank 和熔断、重试覆盖以目录记录为准，加载时统一套用
type Builder func(rec ProviderRecord) (*provider.Descriptor, error)

// LoadIntoRegistry 把启用的目录记录注册进 registry，返回注册数量
// 未知 Kind 立即报错，宁可启动失败也不静默丢提供方
func (s *Store) LoadIntoRegistry(ctx context.Context, reg *provider.Registry, builders map[string]Builder) (int, error) {
	recs, err := s.ListEnabledProviders(ctx)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, rec := range recs {
		build, ok := builders[rec.Kind]
		if !ok {
			return n, types.NewError(types.ErrConfiguration,
				fmt.Sprintf("no builder for provider kind %q", rec.Kind)).
				WithProvider(rec.Name)
		}

		desc, err := build(rec)
		if err != nil {
			return n, err
		}

		// 目录记录是权威来源
		desc.Name = rec.Name
		desc.Capability = rec.Capability
		desc.Rank = rec.Rank
		if desc.Breaker == nil {
			desc.Breaker = rec.BreakerOverride()
		}
		if desc.Retry == nil {
			desc.Retry = rec.RetryOverride()
		}

		if err := reg.Register(desc); err != nil {
			return n, err
		}
		n++

		s.logger.Info("provider loaded from catalog",
			zap.String("provider", rec.Name),
			zap.String("kind", rec.Kind),
			zap.String("capability", rec.Capability),
			zap.Int("rank", rec.Rank),
		)
	}
	return n, nil
}
