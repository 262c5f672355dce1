package handlers

import (
	"net/http"
	"time"

	"github.com/BaSui01/failover/health"
	"github.com/BaSui01/failover/provider"
	"github.com/BaSui01/failover/types"
	"go.uber.org/zap"
)

// =============================================================================
// 📇 提供方目录 Handler
// =============================================================================

// ProvidersHandler 提供方目录查询处理器
// 熔断状态实时读取注册表，健康分类取自聚合器的缓存快照
type ProvidersHandler struct {
	registry *provider.Registry
	agg      *health.Aggregator
	logger   *zap.Logger
}

// NewProvidersHandler 创建提供方目录处理器
// agg 可为 nil：此时视图不含健康分类字段
func NewProvidersHandler(registry *provider.Registry, agg *health.Aggregator, logger *zap.Logger) *ProvidersHandler {
	return &ProvidersHandler{
		registry: registry,
		agg:      agg,
		logger:   logger,
	}
}

// ProviderView 单个提供方的对外视图
type ProviderView struct {
	Name                string    `json:"name"`
	Capability          string    `json:"capability"`
	Rank                int       `json:"rank"`
	BreakerState        string    `json:"breaker_state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Health              string    `json:"health,omitempty"`
	ProbeError          string    `json:"probe_error,omitempty"`
	LastCheckAt         time.Time `json:"last_check_at,omitempty"`
}

// ProviderListResponse 提供方列表响应
type ProviderListResponse struct {
	Providers []ProviderView `json:"providers"`
	Count     int            `json:"count"`
}

// CapabilityView 单个能力标签及其降级链
type CapabilityView struct {
	Capability string   `json:"capability"`
	Chain      []string `json:"chain"` // 按 rank 升序
}

// CapabilityListResponse 能力列表响应
type CapabilityListResponse struct {
	Capabilities []CapabilityView `json:"capabilities"`
	Count        int              `json:"count"`
}

// =============================================================================
// 🎯 HTTP 处理程序
// =============================================================================

// HandleList 处理 GET /api/v1/providers
// @Summary 提供方列表
// @Description 列出已注册提供方及其熔断状态与健康分类，可按能力过滤
// @Tags 提供方
// @Produce json
// @Param capability query string false "能力标签过滤"
// @Success 200 {object} Response{data=ProviderListResponse}
// @Router /api/v1/providers [get]
func (h *ProvidersHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	healthByName := h.healthSnapshot()

	var descs []*provider.Descriptor
	if capability := r.URL.Query().Get("capability"); capability != "" {
		descs = h.registry.ListFor(capability)
	} else {
		for _, name := range h.registry.Names() {
			d, err := h.registry.Get(name)
			if err != nil {
				continue // 并发注销窗口，跳过即可
			}
			descs = append(descs, d)
		}
	}

	views := make([]ProviderView, 0, len(descs))
	for _, d := range descs {
		views = append(views, h.view(d, healthByName))
	}

	WriteSuccess(w, r, ProviderListResponse{
		Providers: views,
		Count:     len(views),
	})
}

// HandleGet 处理 GET /api/v1/providers/{name}
// @Summary 提供方详情
// @Description 返回单个提供方的视图，未注册时返回 404
// @Tags 提供方
// @Produce json
// @Success 200 {object} Response{data=ProviderView}
// @Failure 404 {object} Response
// @Router /api/v1/providers/{name} [get]
func (h *ProvidersHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == "" {
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidRequest,
			"provider name is required", h.logger)
		return
	}

	d, err := h.registry.Get(name)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	WriteSuccess(w, r, h.view(d, h.healthSnapshot()))
}

// HandleCapabilities 处理 GET /api/v1/capabilities
// @Summary 能力列表
// @Description 列出所有能力标签及各自的降级链（按 rank 升序）
// @Tags 提供方
// @Produce json
// @Success 200 {object} Response{data=CapabilityListResponse}
// @Router /api/v1/capabilities [get]
func (h *ProvidersHandler) HandleCapabilities(w http.ResponseWriter, r *http.Request) {
	caps := h.registry.Capabilities()
	views := make([]CapabilityView, 0, len(caps))

	for _, capability := range caps {
		descs := h.registry.ListFor(capability)
		chain := make([]string, 0, len(descs))
		for _, d := range descs {
			chain = append(chain, d.Name)
		}
		views = append(views, CapabilityView{
			Capability: capability,
			Chain:      chain,
		})
	}

	WriteSuccess(w, r, CapabilityListResponse{
		Capabilities: views,
		Count:        len(views),
	})
}

// =============================================================================
// 🔧 视图装配
// =============================================================================

// healthSnapshot 把聚合器快照整理成 name → 健康明细 的索引
func (h *ProvidersHandler) healthSnapshot() map[string]health.ProviderHealth {
	byName := make(map[string]health.ProviderHealth)
	if h.agg == nil {
		return byName
	}
	for _, ph := range h.agg.Snapshot().Providers {
		byName[ph.Provider] = ph
	}
	return byName
}

func (h *ProvidersHandler) view(d *provider.Descriptor, healthByName map[string]health.ProviderHealth) ProviderView {
	v := ProviderView{
		Name:       d.Name,
		Capability: d.Capability,
		Rank:       d.Rank,
	}

	// 熔断状态以注册表里的实时快照为准，聚合器快照只补健康分类
	if cb, err := h.registry.Breaker(d.Name); err == nil {
		snap := cb.Snapshot()
		v.BreakerState = snap.State.String()
		v.ConsecutiveFailures = snap.ConsecutiveFailures
	}

	if ph, ok := healthByName[d.Name]; ok {
		v.Health = string(ph.Status)
		v.ProbeError = ph.ProbeError
		v.LastCheckAt = ph.LastCheckAt
	}

	return v
}
