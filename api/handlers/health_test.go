package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BaSui01/failover/health"
	"github.com/BaSui01/failover/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 健康检查 Handler 测试
// =============================================================================

// newHealthTestAggregator 构造带两个提供方的聚合器：一个无探活，一个探活失败
func newHealthTestAggregator(t *testing.T, probeErr error) *health.Aggregator {
	t.Helper()

	reg := provider.NewRegistry(nil, zap.NewNop())
	require.NoError(t, reg.Register(&provider.Descriptor{
		Name:       "stable",
		Capability: "llm.quick",
		Rank:       1,
		Invoke:     func(ctx context.Context, payload any) (any, error) { return "ok", nil },
	}))
	require.NoError(t, reg.Register(&provider.Descriptor{
		Name:       "flaky",
		Capability: "llm.quick",
		Rank:       2,
		Invoke:     func(ctx context.Context, payload any) (any, error) { return "ok", nil },
		Probe:      func(ctx context.Context) error { return probeErr },
	}))

	agg := health.NewAggregator(reg, &health.Config{
		Interval:     time.Hour, // 测试中只做同步 Check
		ProbeTimeout: time.Second,
		GracePeriod:  time.Minute,
	}, zap.NewNop())
	t.Cleanup(agg.Stop)
	return agg
}

func TestHandleHealth_NoAggregator(t *testing.T) {
	h := NewHealthHandler(nil, zap.NewNop())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	h.HandleHealth(w, r)

	assert.Equal(t, http.StatusOK, w.Code)

	var status HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	assert.Equal(t, "healthy", status.Status)
	assert.Empty(t, status.Providers)
}

func TestHandleHealth_SurfacesProviderDetail(t *testing.T) {
	agg := newHealthTestAggregator(t, errors.New("probe refused"))
	agg.Check(context.Background())

	h := NewHealthHandler(agg, zap.NewNop())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	h.HandleHealth(w, r)

	// 提供方故障不改变 HTTP 状态：降级链仍可能成功
	assert.Equal(t, http.StatusOK, w.Code)

	var status HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	assert.Equal(t, string(health.StatusUnhealthy), status.Status)
	require.Len(t, status.Providers, 2)

	byName := map[string]health.ProviderHealth{}
	for _, ph := range status.Providers {
		byName[ph.Provider] = ph
	}
	assert.Equal(t, health.StatusHealthy, byName["stable"].Status)
	assert.Equal(t, health.StatusUnhealthy, byName["flaky"].Status)
	assert.Contains(t, byName["flaky"].ProbeError, "probe refused")
}

func TestHandleHealth_AllHealthy(t *testing.T) {
	agg := newHealthTestAggregator(t, nil)
	agg.Check(context.Background())

	h := NewHealthHandler(agg, zap.NewNop())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	h.HandleHealth(w, r)

	var status HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	assert.Equal(t, string(health.StatusHealthy), status.Status)
}

func TestHandleHealthz(t *testing.T) {
	h := NewHealthHandler(nil, zap.NewNop())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	h.HandleHealthz(w, r)

	assert.Equal(t, http.StatusOK, w.Code)

	var status HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	assert.Equal(t, "healthy", status.Status)
}

func TestHandleReady_AllChecksPass(t *testing.T) {
	h := NewHealthHandler(nil, zap.NewNop())
	h.RegisterCheck(NewDatabaseHealthCheck("database", func(ctx context.Context) error {
		return nil
	}))
	h.RegisterCheck(NewRedisHealthCheck("redis", func(ctx context.Context) error {
		return nil
	}))

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/ready", nil)
	h.HandleReady(w, r)

	assert.Equal(t, http.StatusOK, w.Code)

	var status HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	assert.Equal(t, "healthy", status.Status)
	require.Len(t, status.Checks, 2)
	assert.Equal(t, "pass", status.Checks["database"].Status)
	assert.Equal(t, "pass", status.Checks["redis"].Status)
	assert.NotEmpty(t, status.Checks["database"].Latency)
}

func TestHandleReady_FailingCheck(t *testing.T) {
	h := NewHealthHandler(nil, zap.NewNop())
	h.RegisterCheck(NewDatabaseHealthCheck("database", func(ctx context.Context) error {
		return nil
	}))
	h.RegisterCheck(NewRedisHealthCheck("redis", func(ctx context.Context) error {
		return errors.New("connection refused")
	}))

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/ready", nil)
	h.HandleReady(w, r)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var status HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	assert.Equal(t, "unhealthy", status.Status)
	assert.Equal(t, "fail", status.Checks["redis"].Status)
	assert.Contains(t, status.Checks["redis"].Message, "connection refused")
}

func TestHandleVersion(t *testing.T) {
	h := NewHealthHandler(nil, zap.NewNop())
	handler := h.HandleVersion("1.2.3", "2026-01-02T03:04:05Z", "abc1234")

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/version", nil)
	handler(w, r)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.True(t, resp.Success)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "1.2.3", data["version"])
	assert.Equal(t, "abc1234", data["git_commit"])
}
