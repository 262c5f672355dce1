package catalog

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/failover/internal/metrics"
	"github.com/BaSui01/failover/types"
)

// Store 提供方目录与调用审计的持久化访问层
type Store struct {
	db      *gorm.DB
	logger  *zap.Logger
	metrics *metrics.Collector
}

// NewStore 创建目录存储
func NewStore(db *gorm.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		db:     db,
		logger: logger.With(zap.String("component", "catalog")),
	}
}

// SetMetrics 注册指标收集器，上报查询耗时
func (s *Store) SetMetrics(c *metrics.Collector) {
	s.metrics = c
}

func (s *Store) observe(operation string, start time.Time) {
	if s.metrics != nil {
		s.metrics.RecordDBQuery("catalog", operation, time.Since(start))
	}
}

// Migrate 自动迁移目录与审计表
// 支持: PostgreSQL, MySQL, SQLite
func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(
		&ProviderRecord{},
		&InvocationRecord{},
	); err != nil {
		return fmt.Errorf("failed to auto migrate: %w", err)
	}
	return nil
}

// SeedExampleData 种子示例目录数据
// 这是可选的，仅用于开发环境；示例记录默认禁用，
// 启用前需人工补齐真实密钥
func (s *Store) SeedExampleData(ctx context.Context) error {
	// 检查数据是否存在
	var count int64
	if err := s.db.WithContext(ctx).Model(&ProviderRecord{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil // Data already seeded
	}

	records := []ProviderRecord{
		{Name: "siliconflow", Kind: "openai-compat", Capability: "llm.quick", Rank: 0, Enabled: false, BaseURL: "https://api.siliconflow.cn/v1", APIKey: "sk-example-siliconflow-key", Model: "Qwen/Qwen2.5-7B-Instruct"},
		{Name: "deepseek", Kind: "openai-compat", Capability: "llm.quick", Rank: 1, Enabled: false, BaseURL: "https://api.deepseek.com/v1", APIKey: "sk-example-deepseek-key", Model: "deepseek-chat"},
		{Name: "finnhub", Kind: "finnhub", Capability: "data.equity-quote", Rank: 0, Enabled: false, BaseURL: "https://finnhub.io/api/v1", APIKey: "example-finnhub-key"},
		{Name: "tushare", Kind: "tushare", Capability: "data.cn-equity-daily", Rank: 0, Enabled: false, BaseURL: "http://api.tushare.pro", APIKey: "example-tushare-token"},
	}

	for _, rec := range records {
		if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
			return fmt.Errorf("failed to seed provider %s: %w", rec.Name, err)
		}
	}
	return nil
}

// ListEnabledProviders 返回启用的目录记录，按能力、rank、ID 排序
func (s *Store) ListEnabledProviders(ctx context.Context) ([]ProviderRecord, error) {
	defer s.observe("list_providers", time.Now())

	var recs []ProviderRecord
	err := s.db.WithContext(ctx).
		Where("enabled = ?", true).
		Order("capability, rank, id").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list providers: %w", err)
	}
	return recs, nil
}

// RecordInvocation 写入一条调用审计记录
func (s *Store) RecordInvocation(ctx context.Context, rec *InvocationRecord) error {
	defer s.observe("record_invocation", time.Now())

	if rec.Capability == "" {
		return types.NewError(types.ErrConfiguration, "invocation record requires a capability")
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("failed to record invocation: %w", err)
	}
	return nil
}

// RecentInvocations 返回最近的审计记录，capability 为空时不过滤，
// limit 非正数时取 50
func (s *Store) RecentInvocations(ctx context.Context, capability string, limit int) ([]InvocationRecord, error) {
	defer s.observe("recent_invocations", time.Now())

	if limit <= 0 {
		limit = 50
	}
	q := s.db.WithContext(ctx).Order("id DESC").Limit(limit)
	if capability != "" {
		q = q.Where("capability = ?", capability)
	}

	var recs []InvocationRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to query invocations: %w", err)
	}
	return recs, nil
}
