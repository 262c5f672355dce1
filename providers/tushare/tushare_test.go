package tushare

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/failover/types"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := New(Config{Name: "tushare", APIKey: "test-token", BaseURL: baseURL}, zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{APIKey: "k"}, nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrConfiguration, types.GetErrorCode(err))

	_, err = New(Config{Name: "tushare"}, nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrConfiguration, types.GetErrorCode(err))

	c, err := New(Config{Name: "tushare", APIKey: "k"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://api.tushare.pro", c.cfg.BaseURL)
}

func TestClient_Daily_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)

		var req apiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "daily", req.APIName)
		assert.Equal(t, "test-token", req.Token)
		assert.Equal(t, "000001.SZ", req.Params["ts_code"])
		assert.Equal(t, "20250820", req.Params["trade_date"])

		fmt.Fprint(w, `{
			"code": 0,
			"msg": "",
			"data": {
				"fields": ["ts_code","trade_date","open","high","low","close","pre_close","change","pct_chg","vol","amount"],
				"items": [["000001.SZ","20250820",11.5,11.8,11.4,11.72,11.48,0.24,2.09,850000.0,992000.0]]
			}
		}`)
	}))
	t.Cleanup(server.Close)

	c := newTestClient(t, server.URL)
	bars, err := c.Daily(context.Background(), &DailyRequest{TSCode: "000001.SZ", TradeDate: "20250820"})
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, "000001.SZ", bars[0].TSCode)
	assert.Equal(t, "20250820", bars[0].TradeDate)
	assert.Equal(t, 11.72, bars[0].Close)
	assert.Equal(t, 2.09, bars[0].PctChg)
	assert.NoError(t, ValidateDaily(bars))
}

func TestClient_Daily_FieldOrderIndependent(t *testing.T) {
	// 响应字段顺序与请求书写顺序不同也能正确还原
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"code": 0,
			"data": {
				"fields": ["close","ts_code","trade_date"],
				"items": [[9.87,"600519.SH","20250819"]]
			}
		}`)
	}))
	t.Cleanup(server.Close)

	c := newTestClient(t, server.URL)
	bars, err := c.Daily(context.Background(), &DailyRequest{TSCode: "600519.SH"})
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, "600519.SH", bars[0].TSCode)
	assert.Equal(t, 9.87, bars[0].Close)
	assert.Zero(t, bars[0].Open)
}

func TestClient_Daily_MissingTSCode(t *testing.T) {
	c := newTestClient(t, "https://api.tushare.pro")
	_, err := c.Daily(context.Background(), &DailyRequest{})
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))

	_, err = c.Daily(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
}

func TestClient_Daily_APIError(t *testing.T) {
	tests := []struct {
		name          string
		body          string
		wantCode      types.ErrorCode
		wantRetryable bool
	}{
		{
			name:     "invalid token",
			body:     `{"code":2002,"msg":"token无效，请检查"}`,
			wantCode: types.ErrAuthentication,
		},
		{
			name:     "insufficient credits",
			body:     `{"code":-2001,"msg":"抱歉，您的积分不足"}`,
			wantCode: types.ErrAuthentication,
		},
		{
			name:          "rate limited",
			body:          `{"code":-2001,"msg":"抱歉，您每分钟最多访问该接口50次"}`,
			wantCode:      types.ErrRateLimited,
			wantRetryable: true,
		},
		{
			name:     "bad params",
			body:     `{"code":-1,"msg":"参数错误"}`,
			wantCode: types.ErrInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tt.body)
			}))
			t.Cleanup(server.Close)

			c := newTestClient(t, server.URL)
			_, err := c.Daily(context.Background(), &DailyRequest{TSCode: "000001.SZ"})
			require.Error(t, err)
			var typedErr *types.Error
			require.ErrorAs(t, err, &typedErr)
			assert.Equal(t, tt.wantCode, typedErr.Code)
			assert.Equal(t, tt.wantRetryable, typedErr.Retryable)
		})
	}
}

func TestClient_Daily_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)

	c := newTestClient(t, server.URL)
	_, err := c.Daily(context.Background(), &DailyRequest{TSCode: "000001.SZ"})
	require.Error(t, err)
	assert.Equal(t, types.ErrUpstreamError, types.GetErrorCode(err))
	assert.True(t, types.Transient(err))
}

func TestClient_HealthCheck(t *testing.T) {
	var apiName string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req apiRequest
		json.NewDecoder(r.Body).Decode(&req)
		apiName = req.APIName
		fmt.Fprint(w, `{"code":0,"data":{"fields":["cal_date","is_open"],"items":[["20250821",1]]}}`)
	}))
	t.Cleanup(server.Close)

	c := newTestClient(t, server.URL)
	require.NoError(t, c.HealthCheck(context.Background()))
	assert.Equal(t, "trade_cal", apiName)
}

func TestClient_Descriptor(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"code": 0,
			"data": {
				"fields": ["ts_code","trade_date","close"],
				"items": [["000001.SZ","20250820",11.72]]
			}
		}`)
	}))
	t.Cleanup(server.Close)

	c := newTestClient(t, server.URL)
	desc := c.Descriptor("tushare", "data.cn-equity-daily", 0)
	assert.Equal(t, "data.cn-equity-daily", desc.Capability)

	ctx := context.Background()

	resp, err := desc.Invoke(ctx, "000001.SZ")
	require.NoError(t, err)
	require.NoError(t, desc.Validate(resp))

	resp, err = desc.Invoke(ctx, json.RawMessage(`{"ts_code":"000001.SZ","trade_date":"20250820"}`))
	require.NoError(t, err)
	bars, ok := resp.([]DailyBar)
	require.True(t, ok)
	assert.Equal(t, "000001.SZ", bars[0].TSCode)

	_, err = desc.Invoke(ctx, []string{"bad"})
	require.Error(t, err)
	assert.Equal(t, types.ErrUnsupportedInput, types.GetErrorCode(err))
}

func TestValidateDaily(t *testing.T) {
	assert.NoError(t, ValidateDaily([]DailyBar{{TSCode: "000001.SZ"}}))

	err := ValidateDaily([]DailyBar{})
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidResponse, types.GetErrorCode(err))

	err = ValidateDaily("wrong type")
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidResponse, types.GetErrorCode(err))
}

func TestParseDailyBars_SkipsMalformedCells(t *testing.T) {
	bars := parseDailyBars(
		[]string{"ts_code", "close", "vol"},
		[][]any{
			{"000001.SZ", "11.72", 850000.0}, // 字符串价格也能解析
			{"600519.SH", nil, nil},          // null 单元格归零
		},
	)
	require.Len(t, bars, 2)
	assert.Equal(t, 11.72, bars[0].Close)
	assert.Equal(t, 850000.0, bars[0].Volume)
	assert.Zero(t, bars[1].Close)
}
