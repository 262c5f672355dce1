package finnhub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/failover/internal/tlsutil"
	"github.com/BaSui01/failover/provider"
	"github.com/BaSui01/failover/types"
)

// Config 持有 Finnhub 行情源配置。
type Config struct {
	// Name 进程内唯一标识
	Name string
	// APIKey Finnhub API 密钥（必填）
	APIKey string
	// BaseURL 默认 https://finnhub.io
	BaseURL string
	// Timeout HTTP 超时，默认 10s
	Timeout time.Duration
	// ProbeSymbol 探针使用的股票代码，默认 AAPL
	ProbeSymbol string
	// RateRPS 客户端限速，0 表示不限（免费档 60 次/分钟）
	RateRPS float64
	// RateBurst 限速桶容量，默认 ceil(RateRPS)
	RateBurst int
}

// Quote 一次实时行情快照。
// Finnhub 对未知代码返回 200 与全零字段，由 ValidateQuote 拦截。
type Quote struct {
	Symbol        string  `json:"symbol"`
	Current       float64 `json:"c"`
	Change        float64 `json:"d"`
	PercentChange float64 `json:"dp"`
	High          float64 `json:"h"`
	Low           float64 `json:"l"`
	Open          float64 `json:"o"`
	PreviousClose float64 `json:"pc"`
	Timestamp     int64   `json:"t"`
}

// QuoteRequest 行情查询载荷。
type QuoteRequest struct {
	Symbol string `json:"symbol"`
}

// Client 访问 Finnhub 实时行情接口。
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New 创建 Finnhub 客户端。
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.Name == "" {
		return nil, types.NewError(types.ErrConfiguration, "finnhub integration requires a name")
	}
	if cfg.APIKey == "" {
		return nil, types.NewError(types.ErrConfiguration, "finnhub integration requires an API key").
			WithProvider(cfg.Name).
			WithSuggestions("Get a free key at https://finnhub.io and set it in the provider config")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://finnhub.io"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.ProbeSymbol == "" {
		cfg.ProbeSymbol = "AAPL"
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
		http:    tlsutil.SecureHTTPClient(cfg.Timeout),
		limiter: limiter,
		logger:  logger,
	}, nil
}

// Name 返回数据源名称。
func (c *Client) Name() string { return c.cfg.Name }

// Quote 查询一只股票的实时行情。
func (c *Client) Quote(ctx context.Context, symbol string) (*Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "quote requires a symbol").
			WithProvider(c.cfg.Name)
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	endpoint := fmt.Sprintf("%s/api/v1/quote?symbol=%s",
		strings.TrimRight(c.cfg.BaseURL, "/"), url.QueryEscape(symbol))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "failed to create request").
			WithProvider(c.cfg.Name).WithCause(err)
	}
	httpReq.Header.Set("X-Finnhub-Token", c.cfg.APIKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(c.cfg.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, types.FromHTTPStatus(c.cfg.Name, resp.StatusCode, string(detail))
	}

	var quote Quote
	if err := json.NewDecoder(resp.Body).Decode(&quote); err != nil {
		return nil, types.NewError(types.ErrInvalidResponse, "failed to decode quote").
			WithProvider(c.cfg.Name).WithCause(err)
	}
	quote.Symbol = symbol
	return &quote, nil
}

// HealthCheck 用探针代码拉一次行情验证可用性。
func (c *Client) HealthCheck(ctx context.Context) error {
	quote, err := c.Quote(ctx, c.cfg.ProbeSymbol)
	if err != nil {
		return err
	}
	return ValidateQuote(quote)
}

// Descriptor 将客户端绑定进调用层。
func (c *Client) Descriptor(name, capability string, rank int) *provider.Descriptor {
	return &provider.Descriptor{
		Name:       name,
		Capability: capability,
		Rank:       rank,
		Invoke: func(ctx context.Context, payload any) (any, error) {
			symbol, err := decodeQuotePayload(payload)
			if err != nil {
				return nil, err
			}
			return c.Quote(ctx, symbol)
		},
		Validate: ValidateQuote,
		Probe:    c.HealthCheck,
	}
}

// decodeQuotePayload 从不透明载荷中取出股票代码。
func decodeQuotePayload(payload any) (string, error) {
	switch p := payload.(type) {
	case *QuoteRequest:
		return p.Symbol, nil
	case QuoteRequest:
		return p.Symbol, nil
	case string:
		return p, nil
	case json.RawMessage:
		return unmarshalQuotePayload([]byte(p))
	case []byte:
		return unmarshalQuotePayload(p)
	default:
		return "", types.NewError(types.ErrUnsupportedInput,
			fmt.Sprintf("unsupported quote payload type %T", payload))
	}
}

func unmarshalQuotePayload(data []byte) (string, error) {
	var req QuoteRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return "", types.NewError(types.ErrUnsupportedInput, "cannot decode quote payload").WithCause(err)
	}
	return req.Symbol, nil
}

// ValidateQuote 拦截结构上不可用的行情：未知代码的全零响应
// 与非正价格都按失败处理。
func ValidateQuote(response any) error {
	quote, ok := response.(*Quote)
	if !ok {
		return types.NewError(types.ErrInvalidResponse,
			fmt.Sprintf("unexpected response type %T", response))
	}
	if quote.Timestamp == 0 && quote.Current == 0 {
		return types.NewError(types.ErrInvalidResponse, "quote is empty (unknown symbol or no data)")
	}
	if quote.Current <= 0 {
		return types.NewError(types.ErrInvalidResponse,
			fmt.Sprintf("quote price %v is not positive", quote.Current))
	}
	return nil
}

func classifyTransportError(providerName string, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return types.NewError(types.ErrUpstreamTimeout, "request timed out").
			WithRetryable(true).WithProvider(providerName).WithCause(err)
	}
	return types.NewError(types.ErrConnectionFailed, "request failed").
		WithRetryable(true).WithProvider(providerName).WithCause(err)
}
