package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BaSui01/failover/circuitbreaker"
	"github.com/BaSui01/failover/provider"
	"github.com/BaSui01/failover/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newTestRegistry(t *testing.T, threshold int) *provider.Registry {
	t.Helper()
	return provider.NewRegistry(&provider.Options{
		DefaultBreaker: &circuitbreaker.Config{
			FailureThreshold: threshold,
			OpenTimeout:      time.Minute,
		},
	}, zap.NewNop())
}

func registerProvider(t *testing.T, reg *provider.Registry, name string, probe provider.ProbeFunc) {
	t.Helper()
	require.NoError(t, reg.Register(&provider.Descriptor{
		Name:       name,
		Capability: "llm.quick",
		Rank:       1,
		Invoke: func(ctx context.Context, payload any) (any, error) {
			return "ok", nil
		},
		Probe: probe,
	}))
}

// tripBreaker 连续失败直至熔断打开
func tripBreaker(t *testing.T, reg *provider.Registry, name string, times int) {
	t.Helper()
	cb, err := reg.Breaker(name)
	require.NoError(t, err)
	for i := 0; i < times; i++ {
		_ = cb.Call(context.Background(), func(ctx context.Context) error {
			return types.FromHTTPStatus(name, 500, "boom")
		})
	}
	require.Equal(t, circuitbreaker.StateOpen, cb.State())
}

// ---------------------------------------------------------------------------
// Config
// ---------------------------------------------------------------------------

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 60*time.Second, cfg.Interval)
	assert.Equal(t, 10*time.Second, cfg.ProbeTimeout)
	assert.Equal(t, 5*time.Minute, cfg.GracePeriod)
}

func TestWorse(t *testing.T) {
	assert.Equal(t, StatusOpen, worse(StatusHealthy, StatusOpen))
	assert.Equal(t, StatusDegraded, worse(StatusOpen, StatusDegraded))
	assert.Equal(t, StatusUnhealthy, worse(StatusDegraded, StatusUnhealthy))
	assert.Equal(t, StatusUnhealthy, worse(StatusUnhealthy, StatusHealthy))
}

// ---------------------------------------------------------------------------
// Check
// ---------------------------------------------------------------------------

func TestAggregator_AllHealthy(t *testing.T) {
	reg := newTestRegistry(t, 5)
	registerProvider(t, reg, "p1", nil)
	registerProvider(t, reg, "p2", nil)

	a := NewAggregator(reg, nil, zap.NewNop())
	t.Cleanup(a.Stop)

	snap := a.Check(context.Background())
	assert.Equal(t, StatusHealthy, snap.Overall)
	require.Len(t, snap.Providers, 2)
	for _, p := range snap.Providers {
		assert.Equal(t, StatusHealthy, p.Status)
		assert.Equal(t, "Closed", p.BreakerState)
		assert.Empty(t, p.ProbeError)
	}
}

func TestAggregator_OpenWithinGrace(t *testing.T) {
	reg := newTestRegistry(t, 2)
	registerProvider(t, reg, "p1", nil)
	tripBreaker(t, reg, "p1", 2)

	a := NewAggregator(reg, &Config{
		Interval:     time.Hour, // 轮询不参与本测试
		ProbeTimeout: time.Second,
		GracePeriod:  time.Minute,
	}, zap.NewNop())
	t.Cleanup(a.Stop)

	snap := a.Check(context.Background())
	require.Len(t, snap.Providers, 1)
	assert.Equal(t, StatusOpen, snap.Providers[0].Status)
	assert.Equal(t, StatusOpen, snap.Overall)
	assert.False(t, snap.Providers[0].OpenSince.IsZero(), "打开状态必须带有时间戳")
}

func TestAggregator_OpenBeyondGraceIsDegraded(t *testing.T) {
	reg := newTestRegistry(t, 1)
	registerProvider(t, reg, "p1", nil)
	tripBreaker(t, reg, "p1", 1)

	a := NewAggregator(reg, &Config{
		Interval:     time.Hour,
		ProbeTimeout: time.Second,
		GracePeriod:  20 * time.Millisecond,
	}, zap.NewNop())
	t.Cleanup(a.Stop)

	// 等待超过宽限期
	time.Sleep(40 * time.Millisecond)

	snap := a.Check(context.Background())
	require.Len(t, snap.Providers, 1)
	assert.Equal(t, StatusDegraded, snap.Providers[0].Status)
	assert.Equal(t, StatusDegraded, snap.Overall)
}

func TestAggregator_ProbeFailure(t *testing.T) {
	reg := newTestRegistry(t, 5)
	registerProvider(t, reg, "bad", func(ctx context.Context) error {
		return errors.New("connection refused")
	})
	registerProvider(t, reg, "good", func(ctx context.Context) error {
		return nil
	})

	a := NewAggregator(reg, &Config{
		Interval:     time.Hour,
		ProbeTimeout: time.Second,
		GracePeriod:  time.Minute,
	}, zap.NewNop())
	t.Cleanup(a.Stop)

	snap := a.Check(context.Background())
	require.Len(t, snap.Providers, 2)

	// Names() 按字典序：bad 在前
	assert.Equal(t, StatusUnhealthy, snap.Providers[0].Status)
	assert.Contains(t, snap.Providers[0].ProbeError, "connection refused")
	assert.Equal(t, StatusHealthy, snap.Providers[1].Status)
	assert.Equal(t, StatusUnhealthy, snap.Overall, "整体状态取最差值")
}

func TestAggregator_ProbeTimeout(t *testing.T) {
	reg := newTestRegistry(t, 5)
	registerProvider(t, reg, "slow", func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	})

	a := NewAggregator(reg, &Config{
		Interval:     time.Hour,
		ProbeTimeout: 20 * time.Millisecond,
		GracePeriod:  time.Minute,
	}, zap.NewNop())
	t.Cleanup(a.Stop)

	snap := a.Check(context.Background())
	require.Len(t, snap.Providers, 1)
	assert.Equal(t, StatusUnhealthy, snap.Providers[0].Status)
}

func TestAggregator_ProbeDoesNotAffectBreaker(t *testing.T) {
	reg := newTestRegistry(t, 5)
	registerProvider(t, reg, "p1", func(ctx context.Context) error {
		return errors.New("probe down")
	})

	a := NewAggregator(reg, &Config{
		Interval:     time.Hour,
		ProbeTimeout: time.Second,
		GracePeriod:  time.Minute,
	}, zap.NewNop())
	t.Cleanup(a.Stop)

	_ = a.Check(context.Background())

	// 探活失败只影响报告，不影响熔断计数
	cb, err := reg.Breaker("p1")
	require.NoError(t, err)
	assert.Equal(t, circuitbreaker.StateClosed, cb.State())
	assert.Equal(t, 0, cb.Snapshot().ConsecutiveFailures)
}

// ---------------------------------------------------------------------------
// Snapshot 缓存与后台轮询
// ---------------------------------------------------------------------------

func TestAggregator_SnapshotReturnsLastCheck(t *testing.T) {
	reg := newTestRegistry(t, 5)
	registerProvider(t, reg, "p1", nil)

	a := NewAggregator(reg, &Config{
		Interval:     time.Hour,
		ProbeTimeout: time.Second,
		GracePeriod:  time.Minute,
	}, zap.NewNop())
	t.Cleanup(a.Stop)

	checked := a.Check(context.Background())
	cached := a.Snapshot()

	assert.Equal(t, checked.Overall, cached.Overall)
	assert.Equal(t, checked.CheckedAt, cached.CheckedAt)
	require.Len(t, cached.Providers, 1)
}

func TestAggregator_BackgroundLoop(t *testing.T) {
	reg := newTestRegistry(t, 5)
	registerProvider(t, reg, "p1", nil)

	a := NewAggregator(reg, &Config{
		Interval:     20 * time.Millisecond,
		ProbeTimeout: time.Second,
		GracePeriod:  time.Minute,
	}, zap.NewNop())
	t.Cleanup(a.Stop)

	require.Eventually(t, func() bool {
		return !a.Snapshot().CheckedAt.IsZero()
	}, time.Second, 10*time.Millisecond, "后台循环应自动产出快照")
}

func TestAggregator_EmptyRegistry(t *testing.T) {
	reg := newTestRegistry(t, 5)

	a := NewAggregator(reg, nil, zap.NewNop())
	t.Cleanup(a.Stop)

	snap := a.Check(context.Background())
	assert.Equal(t, StatusHealthy, snap.Overall)
	assert.Empty(t, snap.Providers)
}
