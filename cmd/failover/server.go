package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/failover/api/handlers"
	"github.com/BaSui01/failover/catalog"
	"github.com/BaSui01/failover/config"
	"github.com/BaSui01/failover/health"
	"github.com/BaSui01/failover/idempotency"
	"github.com/BaSui01/failover/internal/cache"
	"github.com/BaSui01/failover/internal/database"
	"github.com/BaSui01/failover/internal/metrics"
	"github.com/BaSui01/failover/internal/server"
	"github.com/BaSui01/failover/internal/telemetry"
	"github.com/BaSui01/failover/invoker"
	"github.com/BaSui01/failover/provider"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 failover 的主服务器：装配注册表、调用器与健康聚合，
// 并管理 HTTP 管理面和 Metrics 双端口的生命周期
type Server struct {
	cfg    *config.Config
	logger *zap.Logger
	otel   *telemetry.Providers

	// 基础设施
	pool        *database.PoolManager
	redisClient *redis.Client
	store       *catalog.Store

	// 调用层核心
	registry   *provider.Registry
	invoker    invoker.DetailedInvoker
	aggregator *health.Aggregator

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// 指标收集器
	metricsCollector *metrics.Collector

	// Handlers
	healthHandler    *handlers.HealthHandler
	providersHandler *handlers.ProvidersHandler
	invokeHandler    *handlers.InvokeHandler
	adminHandler     *handlers.AdminHandler

	// Rate limiter 生命周期管理
	rateLimiterCancel context.CancelFunc
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger, otelProviders *telemetry.Providers) *Server {
	return &Server{
		cfg:    cfg,
		logger: logger,
		otel:   otelProviders,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有服务
func (s *Server) Start() error {
	// 1. 初始化指标收集器
	s.metricsCollector = metrics.NewCollector("failover", s.logger)

	// 2. 初始化基础设施（数据库目录、Redis 均为可选）
	if err := s.initInfrastructure(); err != nil {
		return fmt.Errorf("failed to init infrastructure: %w", err)
	}

	// 3. 装配调用层核心：注册表 → 调用器 → 健康聚合
	if err := s.initInvocationCore(); err != nil {
		return fmt.Errorf("failed to init invocation core: %w", err)
	}

	// 4. 初始化 Handlers
	s.initHandlers()

	// 5. 启动 HTTP 服务器
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// 6. 启动 Metrics 服务器
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Int("providers", s.registry.Len()),
		zap.Strings("capabilities", s.registry.Capabilities()),
	)

	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initInfrastructure 初始化数据库目录与 Redis。
// 两者都不可用时服务仍能启动：目录装载与调用审计、幂等缓存相应关闭。
func (s *Server) initInfrastructure() error {
	// 数据库：提供方目录 + 调用审计
	db, err := database.Open(s.cfg.Database, s.logger)
	if err != nil {
		s.logger.Warn("Database not available, catalog and audit disabled", zap.Error(err))
	} else {
		pool, err := database.NewPoolManager(db, database.PoolConfig{
			MaxIdleConns:        s.cfg.Database.MaxIdleConns,
			MaxOpenConns:        s.cfg.Database.MaxOpenConns,
			ConnMaxLifetime:     s.cfg.Database.ConnMaxLifetime,
			ConnMaxIdleTime:     s.cfg.Database.ConnMaxLifetime / 2,
			HealthCheckInterval: 30 * time.Second,
		}, s.logger)
		if err != nil {
			return err
		}
		s.pool = pool

		// 连接池统计桥接到 Prometheus
		dbName := s.cfg.Database.Name
		pool.SetStatsHook(func(st database.PoolStats) {
			s.metricsCollector.RecordDBConnections(dbName, st.OpenConnections, st.Idle)
		})

		s.store = catalog.NewStore(pool.DB(), s.logger.Named("catalog"))
		s.store.SetMetrics(s.metricsCollector)
		if err := s.store.Migrate(); err != nil {
			return err
		}
	}

	// Redis：幂等缓存后端
	if s.cfg.Idempotency.Enabled && s.cfg.Idempotency.Backend == "redis" {
		client, err := cache.NewClient(cache.Config{
			Addr:         s.cfg.Redis.Addr,
			Password:     s.cfg.Redis.Password,
			DB:           s.cfg.Redis.DB,
			PoolSize:     s.cfg.Redis.PoolSize,
			MinIdleConns: s.cfg.Redis.MinIdleConns,
		}, s.logger)
		if err != nil {
			return fmt.Errorf("idempotency backend is redis but redis is unreachable: %w", err)
		}
		s.redisClient = client
	}

	return nil
}

// initInvocationCore 装配注册表、调用器与健康聚合
func (s *Server) initInvocationCore() error {
	// 注册表：进程级熔断/重试默认值来自配置
	s.registry = provider.NewRegistry(&provider.Options{
		DefaultBreaker: breakerOverride(&s.cfg.Breaker),
		DefaultRetry:   retryOverride(&s.cfg.Retry),
	}, s.logger)

	// 配置声明的提供方
	descs, err := buildConfigDescriptors(s.cfg, s.logger)
	if err != nil {
		return err
	}
	for _, d := range descs {
		if err := s.registry.Register(d); err != nil {
			return err
		}
	}

	// 数据库目录中的提供方
	if s.store != nil {
		ctx := context.Background()
		n, err := s.store.LoadIntoRegistry(ctx, s.registry, catalogBuilders(s.logger))
		if err != nil {
			return err
		}
		if n > 0 {
			s.logger.Info("providers loaded from catalog", zap.Int("count", n))
		}
	}

	// 幂等缓存
	var idem idempotency.Manager
	if s.cfg.Idempotency.Enabled {
		switch s.cfg.Idempotency.Backend {
		case "redis":
			idem = idempotency.NewRedisManager(s.redisClient, "failover", s.logger)
		default:
			idem = idempotency.NewMemoryManagerWithCleanup(s.logger, s.cfg.Idempotency.TTL)
		}
		s.logger.Info("idempotency cache enabled",
			zap.String("backend", s.cfg.Idempotency.Backend),
			zap.Duration("ttl", s.cfg.Idempotency.TTL),
		)
	}

	// 调用器
	s.invoker = invoker.NewFallbackInvoker(s.registry, &invoker.Config{
		Idempotency:    idem,
		IdempotencyTTL: s.cfg.Idempotency.TTL,
	}, s.logger)

	// 健康聚合（构造即启动后台轮询）
	s.aggregator = health.NewAggregator(s.registry, &health.Config{
		Interval:     s.cfg.Health.Interval,
		ProbeTimeout: s.cfg.Health.ProbeTimeout,
		GracePeriod:  s.cfg.Health.GracePeriod,
	}, s.logger)

	return nil
}

// initHandlers 初始化所有 handlers
func (s *Server) initHandlers() {
	s.healthHandler = handlers.NewHealthHandler(s.aggregator, s.logger)
	s.providersHandler = handlers.NewProvidersHandler(s.registry, s.aggregator, s.logger)
	s.invokeHandler = handlers.NewInvokeHandler(s.invoker, s.store, s.logger)
	s.adminHandler = handlers.NewAdminHandler(s.registry, s.logger)

	// 就绪检查挂接基础设施探测
	if s.pool != nil {
		s.healthHandler.RegisterCheck(handlers.NewDatabaseHealthCheck("database", s.pool.Ping))
	}
	if s.redisClient != nil {
		s.healthHandler.RegisterCheck(handlers.NewRedisHealthCheck("redis", func(ctx context.Context) error {
			return s.redisClient.Ping(ctx).Err()
		}))
	}
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// startHTTPServer 启动 HTTP 管理面
func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	// 健康与版本端点
	mux.HandleFunc("/health", s.healthHandler.HandleHealth)
	mux.HandleFunc("/healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("/ready", s.healthHandler.HandleReady)
	mux.HandleFunc("/readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("/version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	// API 路由
	mux.HandleFunc("POST /api/v1/invoke", s.invokeHandler.HandleInvoke)
	mux.HandleFunc("GET /api/v1/providers", s.providersHandler.HandleList)
	mux.HandleFunc("GET /api/v1/providers/{name}", s.providersHandler.HandleGet)
	mux.HandleFunc("GET /api/v1/capabilities", s.providersHandler.HandleCapabilities)

	// 运维路由（JWT 保护）
	adminAuth := JWTAuth(s.cfg.Auth.JWTSecret, s.logger)
	mux.Handle("POST /api/v1/admin/breakers/{name}/reset",
		adminAuth(http.HandlerFunc(s.adminHandler.HandleBreakerReset)))

	// 中间件链
	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel
	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.metricsCollector),
		OTelTracing(),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		RateLimiter(rateLimiterCtx, float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst, s.logger),
	)

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20, // 1 MB
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)

	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

// startMetricsServer 启动 Metrics 服务器
func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)

	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown 优雅关闭所有服务
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx := context.Background()

	// 1. 停止 rate limiter 清理 goroutine
	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}

	// 2. 停止健康聚合轮询
	if s.aggregator != nil {
		s.aggregator.Stop()
	}

	// 3. 关闭 HTTP 服务器
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	// 4. 关闭 Metrics 服务器
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	// 5. 释放基础设施连接
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.logger.Error("Redis close error", zap.Error(err))
		}
	}
	if s.pool != nil {
		if err := s.pool.Close(); err != nil {
			s.logger.Error("Database pool close error", zap.Error(err))
		}
	}

	// 6. 冲刷遥测
	if s.otel != nil {
		if err := s.otel.Shutdown(ctx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}
