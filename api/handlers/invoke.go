package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/BaSui01/failover/catalog"
	"github.com/BaSui01/failover/internal/ctxkeys"
	"github.com/BaSui01/failover/invoker"
	"github.com/BaSui01/failover/types"
	"go.uber.org/zap"
)

// =============================================================================
// 🚀 能力调用 Handler
// =============================================================================

// InvokeHandler 能力调用处理器
// 把 HTTP 请求翻译成一次降级调用：降级、熔断、重试与幂等
// 全部发生在 invoker 内部，这里只做协议转换与审计
type InvokeHandler struct {
	invoker invoker.DetailedInvoker
	store   *catalog.Store
	logger  *zap.Logger
}

// NewInvokeHandler 创建能力调用处理器
// store 可为 nil：此时不落审计记录
func NewInvokeHandler(inv invoker.DetailedInvoker, store *catalog.Store, logger *zap.Logger) *InvokeHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InvokeHandler{
		invoker: inv,
		store:   store,
		logger:  logger,
	}
}

// InvokeRequest 能力调用请求
type InvokeRequest struct {
	// Capability 能力标签，如 "llm.quick"、"data.equity-quote"
	Capability string `json:"capability"`

	// Payload 原样透传给提供方适配层的业务载荷
	Payload json.RawMessage `json:"payload"`

	// IdempotencyKey 可选的显式幂等键，优先于载荷哈希
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// InvokeResponse 能力调用结果
type InvokeResponse struct {
	Capability   string `json:"capability"`
	Provider     string `json:"provider,omitempty"`
	CacheHit     bool   `json:"cache_hit,omitempty"`
	FailedBefore int    `json:"failed_before,omitempty"`
	LatencyMs    int64  `json:"latency_ms"`
	Result       any    `json:"result"`
}

// HandleInvoke 处理 POST /api/v1/invoke
// @Summary 能力调用
// @Description 按能力标签发起一次降级调用，按 rank 依次尝试候选提供方
// @Tags 调用
// @Accept json
// @Produce json
// @Param request body InvokeRequest true "调用请求"
// @Success 200 {object} Response{data=InvokeResponse}
// @Failure 400 {object} Response "请求不合法"
// @Failure 404 {object} Response "能力未注册"
// @Failure 502 {object} Response "全部提供方失败"
// @Router /api/v1/invoke [post]
func (h *InvokeHandler) HandleInvoke(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req InvokeRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.Capability == "" {
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidRequest,
			"capability is required", h.logger)
		return
	}
	if len(req.Payload) == 0 {
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidRequest,
			"payload is required", h.logger)
		return
	}

	ctx := r.Context()
	if req.IdempotencyKey != "" {
		ctx = ctxkeys.WithIdempotencyKey(ctx, req.IdempotencyKey)
	}

	start := time.Now()
	res, err := h.invoker.InvokeDetailed(ctx, req.Capability, req.Payload)
	latency := time.Since(start)

	h.audit(r, req.Capability, res, err, latency)

	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	WriteSuccess(w, r, InvokeResponse{
		Capability:   req.Capability,
		Provider:     res.Provider,
		CacheHit:     res.CacheHit,
		FailedBefore: res.FailedBefore,
		LatencyMs:    latency.Milliseconds(),
		Result:       res.Response,
	})
}

// =============================================================================
// 📝 调用审计
// =============================================================================

// audit 尽力写入调用审计，只记录结果元数据，不落业务载荷。
// 写入失败只记日志，不影响响应。
func (h *InvokeHandler) audit(r *http.Request, capability string, res *invoker.Result, callErr error, latency time.Duration) {
	if h.store == nil {
		return
	}

	rec := &catalog.InvocationRecord{
		Capability: capability,
		Outcome:    "success",
		LatencyMs:  latency.Milliseconds(),
	}
	if id, ok := ctxkeys.RequestID(r.Context()); ok {
		rec.RequestID = id
	}

	if callErr != nil {
		rec.Outcome = "failure"
		rec.ErrorCode = string(errorCodeFor(callErr))
	} else {
		rec.Provider = res.Provider
		if res.CacheHit {
			rec.Outcome = "cache_hit"
		}
	}

	// 请求被取消时审计仍要落盘
	ctx := context.WithoutCancel(r.Context())
	if err := h.store.RecordInvocation(ctx, rec); err != nil {
		h.logger.Warn("调用审计写入失败",
			zap.String("capability", capability),
			zap.Error(err),
		)
	}
}

// errorCodeFor 提取审计用错误码
// 聚合错误要先判定：其 Unwrap 会把链内第一个类型化失败暴露给 errors.As
func errorCodeFor(err error) types.ErrorCode {
	var agg *types.AllProvidersFailedError
	if errors.As(err, &agg) {
		return types.ErrAllProvidersFailed
	}
	return types.GetErrorCode(err)
}
