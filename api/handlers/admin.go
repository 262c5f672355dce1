package handlers

import (
	"net/http"

	"github.com/BaSui01/failover/provider"
	"github.com/BaSui01/failover/types"
	"go.uber.org/zap"
)

// =============================================================================
// 🔧 运维操作 Handler
// =============================================================================

// AdminHandler 运维操作处理器
type AdminHandler struct {
	registry *provider.Registry
	logger   *zap.Logger
}

// NewAdminHandler 创建运维操作处理器
func NewAdminHandler(registry *provider.Registry, logger *zap.Logger) *AdminHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminHandler{
		registry: registry,
		logger:   logger,
	}
}

// BreakerResetResponse 熔断器复位结果
type BreakerResetResponse struct {
	Provider string `json:"provider"`
	Before   string `json:"before"`
	After    string `json:"after"`
}

// HandleBreakerReset 处理 POST /api/v1/admin/breakers/{name}/reset
// 人工确认提供方已恢复后强制闭合熔断器，绕过半开试探
// @Summary 熔断器复位
// @Description 将指定提供方的熔断器强制复位为关闭状态并清零失败计数
// @Tags 运维
// @Produce json
// @Success 200 {object} Response{data=BreakerResetResponse}
// @Failure 404 {object} Response "提供方未注册"
// @Router /api/v1/admin/breakers/{name}/reset [post]
func (h *AdminHandler) HandleBreakerReset(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == "" {
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidRequest,
			"provider name is required", h.logger)
		return
	}

	cb, err := h.registry.Breaker(name)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	before := cb.State()
	cb.Reset()

	h.logger.Info("熔断器手动复位",
		zap.String("provider", name),
		zap.String("before", before.String()),
	)

	WriteSuccess(w, r, BreakerResetResponse{
		Provider: name,
		Before:   before.String(),
		After:    cb.State().String(),
	})
}
