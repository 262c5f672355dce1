package tushare

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/failover/internal/tlsutil"
	"github.com/BaSui01/failover/provider"
	"github.com/BaSui01/failover/types"
)

// dailyFields 是日线接口请求的字段清单，与 DailyBar 一一对应。
const dailyFields = "ts_code,trade_date,open,high,low,close,pre_close,change,pct_chg,vol,amount"

// Config 持有 Tushare Pro 数据源配置。
type Config struct {
	// Name 进程内唯一标识
	Name string
	// APIKey Tushare Pro token（必填）
	APIKey string
	// BaseURL 默认 https://api.tushare.pro
	BaseURL string
	// Timeout HTTP 超时，默认 15s
	Timeout time.Duration
	// RateRPS 客户端限速，0 表示不限（积分档位决定每分钟配额）
	RateRPS float64
	// RateBurst 限速桶容量，默认 ceil(RateRPS)
	RateBurst int
}

// DailyRequest 日线行情查询载荷。TradeDate 与区间二选一，
// 均为 YYYYMMDD 格式。
type DailyRequest struct {
	TSCode    string `json:"ts_code"`
	TradeDate string `json:"trade_date,omitempty"`
	StartDate string `json:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty"`
}

// DailyBar 单只股票单个交易日的日线行情。
type DailyBar struct {
	TSCode    string  `json:"ts_code"`
	TradeDate string  `json:"trade_date"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	PreClose  float64 `json:"pre_close"`
	Change    float64 `json:"change"`
	PctChg    float64 `json:"pct_chg"`
	Volume    float64 `json:"vol"`
	Amount    float64 `json:"amount"`
}

// apiRequest 是 Tushare Pro 统一的请求信封。
type apiRequest struct {
	APIName string         `json:"api_name"`
	Token   string         `json:"token"`
	Params  map[string]any `json:"params,omitempty"`
	Fields  string         `json:"fields,omitempty"`
}

// apiResponse 是 Tushare Pro 统一的响应信封。
// code 非 0 表示业务层拒绝，msg 给出原因。
type apiResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data *struct {
		Fields []string `json:"fields"`
		Items  [][]any  `json:"items"`
	} `json:"data"`
}

// Client 访问 Tushare Pro 接口。
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New 创建 Tushare 客户端。
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.Name == "" {
		return nil, types.NewError(types.ErrConfiguration, "tushare integration requires a name")
	}
	if cfg.APIKey == "" {
		return nil, types.NewError(types.ErrConfiguration, "tushare integration requires a token").
			WithProvider(cfg.Name).
			WithSuggestions("Register at https://tushare.pro and set the token in the provider config")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.tushare.pro"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
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

// Daily 查询 A 股日线行情。
func (c *Client) Daily(ctx context.Context, req *DailyRequest) ([]DailyBar, error) {
	if req == nil || strings.TrimSpace(req.TSCode) == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "daily query requires a ts_code").
			WithProvider(c.cfg.Name)
	}

	params := map[string]any{"ts_code": strings.TrimSpace(req.TSCode)}
	if req.TradeDate != "" {
		params["trade_date"] = req.TradeDate
	}
	if req.StartDate != "" {
		params["start_date"] = req.StartDate
	}
	if req.EndDate != "" {
		params["end_date"] = req.EndDate
	}

	resp, err := c.call(ctx, apiRequest{
		APIName: "daily",
		Token:   c.cfg.APIKey,
		Params:  params,
		Fields:  dailyFields,
	})
	if err != nil {
		return nil, err
	}
	if resp.Data == nil {
		return nil, types.NewError(types.ErrInvalidResponse, "daily response carries no data section").
			WithProvider(c.cfg.Name)
	}
	return parseDailyBars(resp.Data.Fields, resp.Data.Items), nil
}

// HealthCheck 查一次交易日历验证 token 与连通性。
// trade_cal 不消耗积分，适合做探针。
func (c *Client) HealthCheck(ctx context.Context) error {
	today := time.Now().Format("20060102")
	_, err := c.call(ctx, apiRequest{
		APIName: "trade_cal",
		Token:   c.cfg.APIKey,
		Params:  map[string]any{"start_date": today, "end_date": today},
	})
	return err
}

// Descriptor 将客户端绑定进调用层。
func (c *Client) Descriptor(name, capability string, rank int) *provider.Descriptor {
	return &provider.Descriptor{
		Name:       name,
		Capability: capability,
		Rank:       rank,
		Invoke: func(ctx context.Context, payload any) (any, error) {
			req, err := decodeDailyPayload(payload)
			if err != nil {
				return nil, err
			}
			return c.Daily(ctx, req)
		},
		Validate: ValidateDaily,
		Probe:    c.HealthCheck,
	}
}

// call 发送统一信封请求并处理两层错误：HTTP 层与业务层 code。
func (c *Client) call(ctx context.Context, req apiRequest) (*apiResponse, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "failed to marshal request").
			WithProvider(c.cfg.Name).WithCause(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(c.cfg.BaseURL, "/"), bytes.NewReader(payload))
	if err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "failed to create request").
			WithProvider(c.cfg.Name).WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(c.cfg.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, types.FromHTTPStatus(c.cfg.Name, resp.StatusCode,
			fmt.Sprintf("tushare returned status %d", resp.StatusCode))
	}

	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, types.NewError(types.ErrInvalidResponse, "failed to decode response").
			WithProvider(c.cfg.Name).WithCause(err)
	}
	if out.Code != 0 {
		return nil, classifyAPIError(c.cfg.Name, out.Code, out.Msg)
	}
	return &out, nil
}

// classifyAPIError 把业务层 code 非 0 的拒绝映射为分类错误。
// token 与权限问题是永久错误，频率限制可重试，其余按请求参数
// 问题处理——网络与服务端故障走 HTTP 状态码路径，不会落到这里。
func classifyAPIError(providerName string, code int, msg string) error {
	detail := fmt.Sprintf("tushare error %d: %s", code, msg)
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "token"):
		return types.NewError(types.ErrAuthentication, detail).
			WithProvider(providerName).
			WithSuggestions("Check that the tushare token is valid and not expired")
	case strings.Contains(msg, "积分") || strings.Contains(msg, "权限"):
		return types.NewError(types.ErrAuthentication, detail).
			WithProvider(providerName).
			WithSuggestions("The account lacks credits or permission for this API")
	case strings.Contains(msg, "频率") || strings.Contains(msg, "每分钟") || strings.Contains(lower, "limit"):
		return types.NewError(types.ErrRateLimited, detail).
			WithRetryable(true).
			WithProvider(providerName).
			WithSuggestions("Reduce request frequency or upgrade the credit tier")
	default:
		return types.NewError(types.ErrInvalidRequest, detail).
			WithProvider(providerName)
	}
}

// decodeDailyPayload 从不透明载荷中还原日线查询。
// 字符串缩写为按代码查询最近行情。
func decodeDailyPayload(payload any) (*DailyRequest, error) {
	switch p := payload.(type) {
	case *DailyRequest:
		return p, nil
	case DailyRequest:
		return &p, nil
	case string:
		return &DailyRequest{TSCode: p}, nil
	case json.RawMessage:
		return unmarshalDailyPayload([]byte(p))
	case []byte:
		return unmarshalDailyPayload(p)
	default:
		return nil, types.NewError(types.ErrUnsupportedInput,
			fmt.Sprintf("unsupported daily payload type %T", payload))
	}
}

func unmarshalDailyPayload(data []byte) (*DailyRequest, error) {
	var req DailyRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, types.NewError(types.ErrUnsupportedInput, "cannot decode daily payload").WithCause(err)
	}
	return &req, nil
}

// ValidateDaily 拦截空结果：非交易日或无效代码会返回零行数据。
func ValidateDaily(response any) error {
	bars, ok := response.([]DailyBar)
	if !ok {
		return types.NewError(types.ErrInvalidResponse,
			fmt.Sprintf("unexpected response type %T", response))
	}
	if len(bars) == 0 {
		return types.NewError(types.ErrInvalidResponse, "daily query returned no rows")
	}
	return nil
}

// parseDailyBars 把字段名/行值矩阵还原为结构化日线。
// 字段顺序由响应中的 fields 决定，不依赖请求时的书写顺序。
func parseDailyBars(fields []string, items [][]any) []DailyBar {
	idx := make(map[string]int, len(fields))
	for i, f := range fields {
		idx[f] = i
	}
	str := func(row []any, name string) string {
		i, ok := idx[name]
		if !ok || i >= len(row) {
			return ""
		}
		if s, ok := row[i].(string); ok {
			return s
		}
		return ""
	}
	num := func(row []any, name string) float64 {
		i, ok := idx[name]
		if !ok || i >= len(row) {
			return 0
		}
		switch v := row[i].(type) {
		case float64:
			return v
		case string:
			f, _ := strconv.ParseFloat(v, 64)
			return f
		default:
			return 0
		}
	}

	bars := make([]DailyBar, 0, len(items))
	for _, row := range items {
		bars = append(bars, DailyBar{
			TSCode:    str(row, "ts_code"),
			TradeDate: str(row, "trade_date"),
			Open:      num(row, "open"),
			High:      num(row, "high"),
			Low:       num(row, "low"),
			Close:     num(row, "close"),
			PreClose:  num(row, "pre_close"),
			Change:    num(row, "change"),
			PctChg:    num(row, "pct_chg"),
			Volume:    num(row, "vol"),
			Amount:    num(row, "amount"),
		})
	}
	return bars
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
