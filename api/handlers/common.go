package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"time"

	"github.com/BaSui01/failover/internal/ctxkeys"
	"github.com/BaSui01/failover/types"
	"go.uber.org/zap"
)

// =============================================================================
// 📦 通用响应结构
// =============================================================================

// Response 统一 API 响应结构
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	RequestID string     `json:"request_id,omitempty"`
}

// ErrorInfo 错误信息结构
type ErrorInfo struct {
	Code        string        `json:"code"`
	Message     string        `json:"message"`
	Details     string        `json:"details,omitempty"`
	Provider    string        `json:"provider,omitempty"`
	Retryable   bool          `json:"retryable,omitempty"`
	Suggestions []string      `json:"suggestions,omitempty"`
	Failures    []FailureInfo `json:"failures,omitempty"`
	HTTPStatus  int           `json:"-"` // 不序列化到 JSON
}

// FailureInfo 降级链中单个提供方的失败明细
type FailureInfo struct {
	Provider string `json:"provider"`
	Code     string `json:"code,omitempty"`
	Reason   string `json:"reason"`
}

// =============================================================================
// 🎯 响应辅助函数
// =============================================================================

// WriteJSON 写入 JSON 响应
// 先序列化再写头：编码失败时退化为最小错误载荷，客户端总能拿到合法 JSON
func WriteJSON(w http.ResponseWriter, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"success":false,"error":{"code":"INTERNAL","message":"failed to encode response"}}`)
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// newResponse 构造带时间戳与请求 ID 的响应骨架
func newResponse(r *http.Request) Response {
	resp := Response{Timestamp: time.Now()}
	if r != nil {
		if id, ok := ctxkeys.RequestID(r.Context()); ok {
			resp.RequestID = id
		}
	}
	return resp
}

// WriteSuccess 写入成功响应
func WriteSuccess(w http.ResponseWriter, r *http.Request, data any) {
	resp := newResponse(r)
	resp.Success = true
	resp.Data = data
	WriteJSON(w, http.StatusOK, resp)
}

// WriteError 写入错误响应
// 按错误形态分派：聚合错误要先于 types.Error 判定，
// 因为 AllProvidersFailedError.Unwrap 会暴露链内的类型化失败
func WriteError(w http.ResponseWriter, r *http.Request, err error, logger *zap.Logger) {
	var (
		status int
		info   *ErrorInfo
	)

	var agg *types.AllProvidersFailedError
	var te *types.Error
	switch {
	case errors.As(err, &agg):
		status = http.StatusBadGateway
		info = &ErrorInfo{
			Code:     string(types.ErrAllProvidersFailed),
			Message:  fmt.Sprintf("all providers failed for capability %q", agg.Capability),
			Failures: make([]FailureInfo, 0, len(agg.Failures)),
		}
		for _, f := range agg.Failures {
			info.Failures = append(info.Failures, FailureInfo{
				Provider: f.Provider,
				Code:     string(types.GetErrorCode(f.Err)),
				Reason:   f.Reason(),
			})
		}

	case errors.As(err, &te):
		status = mapErrorCodeToHTTPStatus(te.Code)
		info = &ErrorInfo{
			Code:        string(te.Code),
			Message:     te.Message,
			Provider:    te.Provider,
			Retryable:   te.Retryable,
			Suggestions: te.Suggestions,
		}
		if te.Cause != nil {
			info.Details = te.Cause.Error()
		}

	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
		info = &ErrorInfo{
			Code:      string(types.ErrUpstreamTimeout),
			Message:   err.Error(),
			Retryable: true,
		}

	case errors.Is(err, context.Canceled):
		// 499: 客户端在响应完成前断开（nginx 约定）
		status = 499
		info = &ErrorInfo{Code: "CLIENT_CLOSED_REQUEST", Message: err.Error()}

	default:
		status = http.StatusInternalServerError
		info = &ErrorInfo{Code: "INTERNAL", Message: err.Error()}
	}

	if logger != nil {
		logger.Error("API 请求失败",
			zap.String("code", info.Code),
			zap.Int("status", status),
			zap.String("provider", info.Provider),
			zap.Error(err),
		)
	}

	resp := newResponse(r)
	resp.Error = info
	WriteJSON(w, status, resp)
}

// WriteErrorMessage 写入简单错误消息，状态码由调用方显式指定
func WriteErrorMessage(w http.ResponseWriter, r *http.Request, status int, code types.ErrorCode, message string, logger *zap.Logger) {
	if logger != nil {
		logger.Warn("API 请求被拒绝",
			zap.String("code", string(code)),
			zap.Int("status", status),
			zap.String("message", message),
		)
	}

	resp := newResponse(r)
	resp.Error = &ErrorInfo{Code: string(code), Message: message}
	WriteJSON(w, status, resp)
}

// =============================================================================
// 🔄 错误码到 HTTP 状态码映射
// =============================================================================

func mapErrorCodeToHTTPStatus(code types.ErrorCode) int {
	switch code {
	// 4xx 客户端错误
	case types.ErrInvalidRequest:
		return http.StatusBadRequest
	case types.ErrUnsupportedInput:
		return http.StatusUnprocessableEntity
	case types.ErrEmptyChain, types.ErrProviderNotFound:
		return http.StatusNotFound
	case types.ErrDuplicateEntry:
		return http.StatusConflict
	case types.ErrRateLimited:
		return http.StatusTooManyRequests

	// 5xx 服务端与上游错误
	case types.ErrAuthentication:
		// 上游拒绝的是网关自己的凭证，属于配置问题，不向客户端转嫁 401
		return http.StatusBadGateway
	case types.ErrUpstreamTimeout:
		return http.StatusGatewayTimeout
	case types.ErrCircuitOpen, types.ErrProviderOverloaded:
		return http.StatusServiceUnavailable
	case types.ErrUpstreamError, types.ErrConnectionFailed,
		types.ErrInvalidResponse, types.ErrAllProvidersFailed:
		return http.StatusBadGateway
	case types.ErrConfiguration:
		return http.StatusInternalServerError

	// 默认
	default:
		return http.StatusInternalServerError
	}
}

// =============================================================================
// 🛡️ 请求验证辅助函数
// =============================================================================

// maxBodyBytes 请求体上限 1 MB
const maxBodyBytes = 1 << 20

// DecodeJSONBody 解码 JSON 请求体（1 MB 限制 + 严格模式）
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, logger *zap.Logger) error {
	if r.Body == nil {
		err := types.NewError(types.ErrInvalidRequest, "request body is empty")
		WriteError(w, r, err, logger)
		return err
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields() // 严格模式：拒绝未知字段

	if err := decoder.Decode(dst); err != nil {
		apiErr := types.NewError(types.ErrInvalidRequest, "invalid JSON body").WithCause(err)
		WriteError(w, r, apiErr, logger)
		return apiErr
	}

	return nil
}

// ValidateContentType 验证 Content-Type 为 application/json
// 按 MIME 规则解析，charset 参数与大小写不影响判定
func ValidateContentType(w http.ResponseWriter, r *http.Request, logger *zap.Logger) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		WriteErrorMessage(w, r, http.StatusUnsupportedMediaType, types.ErrInvalidRequest,
			"Content-Type must be application/json", logger)
		return false
	}
	return true
}

// =============================================================================
// 📊 响应包装器（用于捕获状态码）
// =============================================================================

// ResponseWriter 包装 http.ResponseWriter 以捕获状态码
type ResponseWriter struct {
	http.ResponseWriter
	StatusCode int
	Written    bool
}

// NewResponseWriter 创建新的 ResponseWriter
func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{
		ResponseWriter: w,
		StatusCode:     http.StatusOK,
	}
}

// WriteHeader 重写 WriteHeader 以捕获状态码
func (rw *ResponseWriter) WriteHeader(code int) {
	if !rw.Written {
		rw.StatusCode = code
		rw.Written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

// Write 重写 Write 以标记已写入
func (rw *ResponseWriter) Write(b []byte) (int, error) {
	if !rw.Written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}
