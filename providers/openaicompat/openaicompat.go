// =============================================================================
// Failover OpenAI-Compatible Chat Integration
// =============================================================================
// Shared client for every OpenAI-compatible chat completion endpoint.
// SiliconFlow, DeepSeek, Qwen and similar vendors differ only in base URL,
// API key and default model, so one client covers them all; the per-vendor
// differences arrive through Config.
// =============================================================================

package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/failover/internal/tlsutil"
	"github.com/BaSui01/failover/types"
)

// Config holds the configuration for one OpenAI-compatible endpoint.
type Config struct {
	// Name is the unique identifier for this backend (e.g. "siliconflow").
	Name string

	// APIKey is the authentication key for the vendor's API.
	APIKey string

	// BaseURL is the base URL of the vendor's API (e.g. "https://api.deepseek.com").
	BaseURL string

	// Model is the model used when the request does not name one.
	Model string

	// Timeout is the HTTP client timeout. Defaults to 30s if zero.
	Timeout time.Duration

	// EndpointPath is the chat completions path. Defaults to "/v1/chat/completions".
	EndpointPath string

	// ModelsPath is the models list path used by the liveness probe.
	// Defaults to "/v1/models".
	ModelsPath string

	// RateRPS enables a client-side request limiter when positive.
	RateRPS float64

	// RateBurst is the limiter burst size. Defaults to ceil(RateRPS).
	RateBurst int

	// BuildHeaders optionally replaces the default
	// "Authorization: Bearer <apiKey>" header set.
	BuildHeaders func(req *http.Request, apiKey string)
}

// Client talks to one OpenAI-compatible chat endpoint.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
	est     tokenEstimator
}

// New creates a client for the configured endpoint.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.Name == "" {
		return nil, types.NewError(types.ErrConfiguration, "openai-compat integration requires a name")
	}
	if cfg.BaseURL == "" {
		return nil, types.NewError(types.ErrConfiguration, "openai-compat integration requires a base URL").
			WithProvider(cfg.Name)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/v1/chat/completions"
	}
	if cfg.ModelsPath == "" {
		cfg.ModelsPath = "/v1/models"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var limiter *rate.Limiter
	if cfg.RateRPS > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = int(cfg.RateRPS + 0.999)
			if burst < 1 {
				burst = 1
			}
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateRPS), burst)
	}

	return &Client{
		cfg:     cfg,
		http:    tlsutil.SecureHTTPClient(timeout),
		limiter: limiter,
		logger:  logger,
	}, nil
}

// Name returns the backend name.
func (c *Client) Name() string { return c.cfg.Name }

// buildHeaders applies headers to the HTTP request.
func (c *Client) buildHeaders(req *http.Request) {
	if c.cfg.BuildHeaders != nil {
		c.cfg.BuildHeaders(req, c.cfg.APIKey)
		return
	}
	// Default: Bearer token auth
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
}

// endpoint builds the full URL for a given path.
func (c *Client) endpoint(path string) string {
	return fmt.Sprintf("%s%s", strings.TrimRight(c.cfg.BaseURL, "/"), path)
}

// Completion performs a non-streaming chat completion.
func (c *Client) Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if req == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "chat request is nil").
			WithProvider(c.cfg.Name)
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	model := req.Model
	if model == "" {
		model = c.cfg.Model
	}
	if model == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "no model configured for chat completion").
			WithProvider(c.cfg.Name)
	}

	if n, ok := c.est.messages(req.Messages); ok {
		llmPromptTokens.WithLabelValues(c.cfg.Name, model).Observe(float64(n))
	}

	body := chatWireRequest{
		Model:       model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.Stop,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "failed to marshal chat request").
			WithProvider(c.cfg.Name).WithCause(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(c.cfg.EndpointPath), bytes.NewReader(payload))
	if err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "failed to create request").
			WithProvider(c.cfg.Name).WithCause(err)
	}
	c.buildHeaders(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(c.cfg.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, types.FromHTTPStatus(c.cfg.Name, resp.StatusCode, readErrorMessage(resp.Body))
	}

	var out ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, types.NewError(types.ErrInvalidResponse, "failed to decode chat response").
			WithProvider(c.cfg.Name).WithCause(err)
	}
	out.Provider = c.cfg.Name

	if out.Usage != nil {
		llmCompletionTokens.WithLabelValues(c.cfg.Name, model).Observe(float64(out.Usage.CompletionTokens))
	} else if len(out.Choices) > 0 {
		if n, ok := c.est.text(out.Choices[0].Message.Content); ok {
			llmCompletionTokens.WithLabelValues(c.cfg.Name, model).Observe(float64(n))
		}
	}
	return &out, nil
}

// HealthCheck verifies the endpoint is reachable via the models listing.
func (c *Client) HealthCheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(c.cfg.ModelsPath), nil)
	if err != nil {
		return types.NewError(types.ErrInvalidRequest, "failed to create request").
			WithProvider(c.cfg.Name).WithCause(err)
	}
	c.buildHeaders(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return classifyTransportError(c.cfg.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.FromHTTPStatus(c.cfg.Name, resp.StatusCode, readErrorMessage(resp.Body))
	}
	return nil
}

// classifyTransportError maps a client transport failure to a classified
// error. Network timeouts and connection failures are both transient;
// context cancellation stays visible through the cause chain.
func classifyTransportError(providerName string, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return types.NewError(types.ErrUpstreamTimeout, "request timed out").
			WithRetryable(true).WithProvider(providerName).WithCause(err)
	}
	return types.NewError(types.ErrConnectionFailed, "request failed").
		WithRetryable(true).WithProvider(providerName).WithCause(err)
}

// readErrorMessage extracts the error message from a vendor error body.
// Falls back to the raw text when the body is not the usual JSON envelope.
func readErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(body)
	if err != nil {
		return "failed to read error response"
	}

	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    any    `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		if errResp.Error.Type != "" {
			return fmt.Sprintf("%s (type: %s)", errResp.Error.Message, errResp.Error.Type)
		}
		return errResp.Error.Message
	}

	return string(data)
}
