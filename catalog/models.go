package catalog

import (
	"time"

	"github.com/BaSui01/failover/circuitbreaker"
	"github.com/BaSui01/failover/retry"
)

// ============================================================
// 提供方目录
// ============================================================

// ProviderRecord 提供方目录记录
// 静态字段与 provider.Descriptor 一一对应；函数字段
// （Invoke/Validate/Probe）由 Kind 对应的构造器在加载时绑定
type ProviderRecord struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	Name       string `gorm:"size:100;not null;uniqueIndex" json:"name"`                // 进程内唯一标识
	Kind       string `gorm:"size:50;not null" json:"kind"`                             // 集成类型：openai-compat / finnhub / tushare
	Capability string `gorm:"size:100;not null;index:idx_capability" json:"capability"` // 能力标签，如 llm.quick
	Rank       int    `gorm:"default:0" json:"rank"`                                    // 数字越小越优先
	Enabled    bool   `gorm:"default:true" json:"enabled"`                              // 是否参与注册

	// 接入参数
	BaseURL   string        `gorm:"size:500" json:"base_url"`
	APIKey    string        `gorm:"size:500" json:"-"` // 不随 JSON 外泄
	Model     string        `gorm:"size:100" json:"model"`
	Timeout   time.Duration `gorm:"default:0" json:"timeout"`    // 单次调用超时，0 表示集成默认值
	RateRPS   float64       `gorm:"default:0" json:"rate_rps"`   // 客户端限速，0 表示不限
	RateBurst int           `gorm:"default:0" json:"rate_burst"` // 限速桶容量

	// 熔断覆盖（零值表示继承进程默认值）
	FailureThreshold int           `gorm:"default:0" json:"failure_threshold"`
	OpenTimeout      time.Duration `gorm:"default:0" json:"open_timeout"`

	// 重试覆盖（零值表示继承进程默认值）
	MaxAttempts int           `gorm:"default:0" json:"max_attempts"`
	BaseDelay   time.Duration `gorm:"default:0" json:"base_delay"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (ProviderRecord) TableName() string {
	return "fo_providers"
}

// BreakerOverride 返回记录声明的熔断覆盖配置
// 所有覆盖字段均为零值时返回 nil，即继承进程默认值
func (r *ProviderRecord) BreakerOverride() *circuitbreaker.Config {
	if r.FailureThreshold == 0 && r.OpenTimeout == 0 {
		return nil
	}
	cfg := *circuitbreaker.DefaultConfig()
	if r.FailureThreshold > 0 {
		cfg.FailureThreshold = r.FailureThreshold
	}
	if r.OpenTimeout > 0 {
		cfg.OpenTimeout = r.OpenTimeout
	}
	return &cfg
}

// RetryOverride 返回记录声明的重试覆盖配置
// 所有覆盖字段均为零值时返回 nil，即继承进程默认值
func (r *ProviderRecord) RetryOverride() *retry.Config {
	if r.MaxAttempts == 0 && r.BaseDelay == 0 {
		return nil
	}
	cfg := *retry.DefaultConfig()
	if r.MaxAttempts > 0 {
		cfg.MaxAttempts = r.MaxAttempts
	}
	if r.BaseDelay > 0 {
		cfg.BaseDelay = r.BaseDelay
		if cfg.MaxDelay < cfg.BaseDelay {
			cfg.MaxDelay = cfg.BaseDelay
		}
	}
	return &cfg
}

// ============================================================
// 调用审计
// ============================================================

// InvocationRecord 调用审计记录
// 只保留结果元数据，请求载荷与响应内容一律不落库
type InvocationRecord struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	RequestID  string    `gorm:"size:100;index:idx_request_id" json:"request_id"`
	Capability string    `gorm:"size:100;not null;index:idx_invocation_capability" json:"capability"`
	Provider   string    `gorm:"size:100" json:"provider"` // 成功时为中标提供方，失败时为空
	Outcome    string    `gorm:"size:20;not null" json:"outcome"`
	ErrorCode  string    `gorm:"size:50" json:"error_code"`
	LatencyMs  int64     `gorm:"default:0" json:"latency_ms"`
	CreatedAt  time.Time `gorm:"index:idx_invocation_created" json:"created_at"`
}

func (InvocationRecord) TableName() string {
	return "fo_invocations"
}
