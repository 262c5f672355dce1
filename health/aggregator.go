package health

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/failover/circuitbreaker"
	"github.com/BaSui01/failover/provider"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Status 单个提供方的健康分类
type Status string

const (
	// StatusHealthy 熔断器关闭且探活通过（或未配置探活）
	StatusHealthy Status = "healthy"
	// StatusOpen 熔断器打开，处于宽限期内的短暂熔断
	StatusOpen Status = "open"
	// StatusDegraded 熔断器打开且超过宽限期：持续性故障
	StatusDegraded Status = "degraded"
	// StatusUnhealthy 主动探活失败
	StatusUnhealthy Status = "unhealthy"
)

// severity 状态严重程度，用于 worst-of 聚合
var severity = map[Status]int{
	StatusHealthy:   0,
	StatusOpen:      1,
	StatusDegraded:  2,
	StatusUnhealthy: 3,
}

// worse 返回两个状态中更严重的一个
func worse(a, b Status) Status {
	if severity[b] > severity[a] {
		return b
	}
	return a
}

// ProviderHealth 单个提供方的健康明细
type ProviderHealth struct {
	Provider            string        `json:"provider"`
	Capability          string        `json:"capability"`
	Status              Status        `json:"status"`
	BreakerState        string        `json:"breaker_state"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	OpenSince           time.Time     `json:"open_since,omitempty"`
	ProbeLatency        time.Duration `json:"probe_latency_ns,omitempty"`
	ProbeError          string        `json:"probe_error,omitempty"`
	LastCheckAt         time.Time     `json:"last_check_at"`
}

// Snapshot 一次健康检查的完整结果，供外部监控只读消费
type Snapshot struct {
	Overall   Status           `json:"overall"`
	Providers []ProviderHealth `json:"providers"`
	CheckedAt time.Time        `json:"checked_at"`
}

// Config 健康聚合配置
type Config struct {
	// Interval 轮询间隔
	Interval time.Duration

	// ProbeTimeout 单次探活的超时
	ProbeTimeout time.Duration

	// GracePeriod 熔断打开超过该时长后报告为 degraded
	// 仅用于报告分类，不反馈回熔断器状态机
	GracePeriod time.Duration
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Interval:     60 * time.Second,
		ProbeTimeout: 10 * time.Second,
		GracePeriod:  5 * time.Minute,
	}
}

// Aggregator 健康聚合器
// 独立于请求路径运行：周期性读取熔断器快照并执行可选探活，
// 只持有读锁，绝不阻塞进行中的调用
type Aggregator struct {
	registry *provider.Registry
	config   *Config
	logger   *zap.Logger

	mu   sync.RWMutex
	last Snapshot

	ctx    context.Context
	cancel context.CancelFunc
}

// NewAggregator 创建健康聚合器并启动后台轮询
func NewAggregator(registry *provider.Registry, config *Config, logger *zap.Logger) *Aggregator {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Interval <= 0 {
		config.Interval = 60 * time.Second
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = 10 * time.Second
	}
	if config.GracePeriod <= 0 {
		config.GracePeriod = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &Aggregator{
		registry: registry,
		config:   config,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}

	// 启动后台健康检查循环
	go a.loop()

	return a
}

// Stop 停止后台轮询
func (a *Aggregator) Stop() {
	a.cancel()
}

// Snapshot 返回最近一次检查的结果（读锁快照，不触发新的探活）
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.last
}

// loop 后台轮询循环：启动时立即做一次检查，之后按固定间隔执行
func (a *Aggregator) loop() {
	a.Check(a.ctx)

	ticker := time.NewTicker(a.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			a.Check(a.ctx)
		}
	}
}

// Check 立即对所有已注册提供方执行一次健康检查并更新缓存快照。
// 探活并发展开，每个探活有独立超时。
func (a *Aggregator) Check(ctx context.Context) Snapshot {
	names := a.registry.Names()
	results := make([]ProviderHealth, len(names))

	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			results[i] = a.checkOne(gctx, name)
			return nil
		})
	}
	_ = g.Wait()

	overall := StatusHealthy
	for _, r := range results {
		overall = worse(overall, r.Status)
	}

	snap := Snapshot{
		Overall:   overall,
		Providers: results,
		CheckedAt: time.Now(),
	}

	a.mu.Lock()
	a.last = snap
	a.mu.Unlock()

	if overall != StatusHealthy {
		a.logger.Warn("健康检查发现异常",
			zap.String("overall", string(overall)),
			zap.Int("providers", len(results)),
		)
	}

	return snap
}

// checkOne 检查单个提供方：读取熔断器快照，按需探活
func (a *Aggregator) checkOne(ctx context.Context, name string) ProviderHealth {
	now := time.Now()
	ph := ProviderHealth{
		Provider:    name,
		Status:      StatusHealthy,
		LastCheckAt: now,
	}

	d, err := a.registry.Get(name)
	if err != nil {
		ph.Status = StatusUnhealthy
		ph.ProbeError = err.Error()
		return ph
	}
	ph.Capability = d.Capability

	cb, err := a.registry.Breaker(name)
	if err != nil {
		ph.Status = StatusUnhealthy
		ph.ProbeError = err.Error()
		return ph
	}

	snap := cb.Snapshot()
	ph.BreakerState = snap.State.String()
	ph.ConsecutiveFailures = snap.ConsecutiveFailures

	if snap.State == circuitbreaker.StateOpen {
		ph.OpenSince = snap.LastFailureTime
		if now.Sub(snap.LastFailureTime) > a.config.GracePeriod {
			ph.Status = StatusDegraded
		} else {
			ph.Status = StatusOpen
		}
	}

	if d.Probe != nil {
		probeCtx, cancel := context.WithTimeout(ctx, a.config.ProbeTimeout)
		defer cancel()

		start := time.Now()
		probeErr := d.Probe(probeCtx)
		ph.ProbeLatency = time.Since(start)

		if probeErr != nil {
			ph.Status = worse(ph.Status, StatusUnhealthy)
			ph.ProbeError = probeErr.Error()
			a.logger.Warn("提供方探活失败",
				zap.String("provider", name),
				zap.Duration("latency", ph.ProbeLatency),
				zap.Error(probeErr),
			)
		}
	}

	observeProviderHealth(name, ph.Status, snap.State, ph.ProbeLatency, ph.ProbeError != "")
	return ph
}
