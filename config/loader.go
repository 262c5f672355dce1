// =============================================================================
// 📦 Failover 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("FAILOVER").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 Failover 服务的完整配置结构
type Config struct {
	// Server 服务器配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Retry 进程级重试默认值（可被单个提供方覆盖）
	Retry RetryConfig `yaml:"retry" env:"RETRY"`

	// Breaker 进程级熔断默认值（可被单个提供方覆盖）
	Breaker BreakerConfig `yaml:"breaker" env:"BREAKER"`

	// Health 健康聚合配置
	Health HealthConfig `yaml:"health" env:"HEALTH"`

	// Idempotency 幂等缓存配置
	Idempotency IdempotencyConfig `yaml:"idempotency" env:"IDEMPOTENCY"`

	// Redis 缓存配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Database 数据库配置（提供方目录与调用审计）
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Auth 管理接口认证配置
	Auth AuthConfig `yaml:"auth" env:"AUTH"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`

	// Providers 声明式提供方清单（仅支持 YAML，不支持环境变量）
	Providers []ProviderConfig `yaml:"providers" env:"-"`

	// Routes 能力到提供方名称的有序映射，
	// 可通过 FAILOVER_ROUTE_<CAPABILITY> 环境变量覆盖顺序或子集
	Routes map[string][]string `yaml:"routes" env:"-"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 全局限流 QPS
	RateLimitRPS int `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 全局限流突发量
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// 允许的跨域来源，为空时拒绝跨域请求
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
}

// RetryConfig 重试配置（与 retry.Config 字段一一对应）
type RetryConfig struct {
	// 最大尝试次数（含首次调用）
	MaxAttempts int `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	// 基础延迟
	BaseDelay time.Duration `yaml:"base_delay" env:"BASE_DELAY"`
	// 延迟上限
	MaxDelay time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
	// 指数倍率
	Multiplier float64 `yaml:"multiplier" env:"MULTIPLIER"`
	// 抖动比例 [0,1)
	JitterFraction float64 `yaml:"jitter_fraction" env:"JITTER_FRACTION"`
}

// BreakerConfig 熔断配置（与 circuitbreaker.Config 字段一一对应）
type BreakerConfig struct {
	// 连续失败阈值
	FailureThreshold int `yaml:"failure_threshold" env:"FAILURE_THRESHOLD"`
	// 打开状态持续时长
	OpenTimeout time.Duration `yaml:"open_timeout" env:"OPEN_TIMEOUT"`
}

// HealthConfig 健康聚合配置（与 health.Config 字段一一对应）
type HealthConfig struct {
	// 检查间隔
	Interval time.Duration `yaml:"interval" env:"INTERVAL"`
	// 单次探活超时
	ProbeTimeout time.Duration `yaml:"probe_timeout" env:"PROBE_TIMEOUT"`
	// 熔断打开降级宽限期
	GracePeriod time.Duration `yaml:"grace_period" env:"GRACE_PERIOD"`
}

// IdempotencyConfig 幂等缓存配置
type IdempotencyConfig struct {
	// 是否启用（关闭时重复调用各自独立执行）
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 后端类型: memory, redis
	Backend string `yaml:"backend" env:"BACKEND"`
	// 缓存有效期
	TTL time.Duration `yaml:"ttl" env:"TTL"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, mysql, sqlite
	Driver string `yaml:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// AuthConfig 管理接口认证配置
type AuthConfig struct {
	// JWT 签名密钥，为空时管理接口不启用认证（仅限开发环境）
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// ProviderConfig 单个提供方的声明式配置。
// Retry/Breaker 为 nil 时继承进程级默认值。
type ProviderConfig struct {
	// 名称（进程内唯一）
	Name string `yaml:"name"`
	// 集成类型: openai-compat, finnhub, tushare
	Kind string `yaml:"kind"`
	// 能力标签，如 llm.quick、data.equity-quote
	Capability string `yaml:"capability"`
	// 排序权重，越小越优先
	Rank int `yaml:"rank"`
	// 上游基础 URL
	BaseURL string `yaml:"base_url"`
	// API 密钥
	APIKey string `yaml:"api_key"`
	// 模型名（LLM 集成使用）
	Model string `yaml:"model"`
	// 单次请求超时
	Timeout time.Duration `yaml:"timeout"`
	// 客户端限流 QPS，0 表示不限流
	RateRPS float64 `yaml:"rate_rps"`
	// 客户端限流突发量
	RateBurst int `yaml:"rate_burst"`
	// 重试覆盖
	Retry *RetryConfig `yaml:"retry"`
	// 熔断覆盖
	Breaker *BreakerConfig `yaml:"breaker"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "FAILOVER",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	// 1. 从默认值开始
	cfg := DefaultConfig()

	// 2. 如果指定了配置文件，从文件加载
	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// 3. 从环境变量覆盖
	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// 4. 路由链环境变量覆盖
	l.applyRouteOverrides(cfg)

	// 5. 运行验证器
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// applyRouteOverrides 应用 <PREFIX>_ROUTE_<CAPABILITY> 形式的路由覆盖。
// 能力标签中的 . 和 - 替换为 _ 后大写，如 llm.quick → FAILOVER_ROUTE_LLM_QUICK。
// 覆盖值为逗号分隔的提供方名称，可调整顺序或取子集。
func (l *Loader) applyRouteOverrides(cfg *Config) {
	for capability := range cfg.Routes {
		envValue := os.Getenv(l.routeEnvKey(capability))
		if envValue == "" {
			continue
		}
		parts := strings.Split(envValue, ",")
		names := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				names = append(names, p)
			}
		}
		if len(names) > 0 {
			cfg.Routes[capability] = names
		}
	}
}

// routeEnvKey 计算能力标签对应的路由覆盖环境变量名
func (l *Loader) routeEnvKey(capability string) string {
	normalized := strings.NewReplacer(".", "_", "-", "_").Replace(capability)
	return l.envPrefix + "_ROUTE_" + strings.ToUpper(normalized)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		// 获取 env tag
		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		// 如果是结构体，递归处理
		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		// 获取环境变量值
		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		// 设置字段值
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	// 验证服务器配置
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, "invalid metrics port")
	}

	// 验证重试配置
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, "retry.max_attempts must be >= 1")
	}
	if c.Retry.BaseDelay <= 0 {
		errs = append(errs, "retry.base_delay must be > 0")
	}
	if c.Retry.MaxDelay < c.Retry.BaseDelay {
		errs = append(errs, "retry.max_delay must be >= retry.base_delay")
	}
	if c.Retry.Multiplier < 1 {
		errs = append(errs, "retry.multiplier must be >= 1")
	}
	if c.Retry.JitterFraction < 0 || c.Retry.JitterFraction >= 1 {
		errs = append(errs, "retry.jitter_fraction must be in [0,1)")
	}

	// 验证熔断配置
	if c.Breaker.FailureThreshold < 1 {
		errs = append(errs, "breaker.failure_threshold must be >= 1")
	}
	if c.Breaker.OpenTimeout <= 0 {
		errs = append(errs, "breaker.open_timeout must be > 0")
	}

	// 验证健康检查配置
	if c.Health.Interval <= 0 {
		errs = append(errs, "health.interval must be > 0")
	}
	if c.Health.ProbeTimeout <= 0 {
		errs = append(errs, "health.probe_timeout must be > 0")
	}

	// 验证幂等缓存配置
	if c.Idempotency.Enabled {
		switch c.Idempotency.Backend {
		case "memory", "redis":
		default:
			errs = append(errs, fmt.Sprintf("unknown idempotency backend: %s", c.Idempotency.Backend))
		}
	}

	// 验证提供方声明
	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.Name == "" {
			errs = append(errs, fmt.Sprintf("providers[%d]: name is required", i))
			continue
		}
		if seen[p.Name] {
			errs = append(errs, fmt.Sprintf("providers[%d]: duplicate name %s", i, p.Name))
		}
		seen[p.Name] = true
		if p.Capability == "" {
			errs = append(errs, fmt.Sprintf("provider %s: capability is required", p.Name))
		}
		if p.Kind == "" {
			errs = append(errs, fmt.Sprintf("provider %s: kind is required", p.Name))
		}
		if p.Rank < 0 {
			errs = append(errs, fmt.Sprintf("provider %s: rank must be >= 0", p.Name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
