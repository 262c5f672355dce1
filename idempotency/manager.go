package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultTTL 缓存结果的默认保留时间
const DefaultTTL = 1 * time.Hour

// KeyFor 根据能力标签与请求载荷派生幂等键。
// 相同的 (capability, payload) 组合永远得到相同的键，
// 载荷以 JSON 规范化后计算 SHA256。
func KeyFor(capability string, payload any) (string, error) {
	if capability == "" {
		return "", errors.New("能力标签不能为空")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("序列化载荷失败: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(capability))
	h.Write([]byte{0})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Manager 幂等性管理器接口
// 缓存成功的调用结果，使相同载荷的重复调用可以直接复用响应
type Manager interface {
	// Get 获取缓存的结果
	Get(ctx context.Context, key string) (json.RawMessage, bool, error)

	// Set 设置缓存结果
	Set(ctx context.Context, key string, result any, ttl time.Duration) error

	// Delete 删除缓存
	Delete(ctx context.Context, key string) error

	// Exists 检查幂等键是否存在
	Exists(ctx context.Context, key string) (bool, error)
}

// redisManager 基于 Redis 的幂等性管理器实现
type redisManager struct {
	redis  *redis.Client
	prefix string // Redis key 前缀
	logger *zap.Logger
}

// NewRedisManager 创建基于 Redis 的幂等性管理器
func NewRedisManager(redis *redis.Client, prefix string, logger *zap.Logger) Manager {
	if prefix == "" {
		prefix = "failover:idem:"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &redisManager{
		redis:  redis,
		prefix: prefix,
		logger: logger,
	}
}

// Get 实现 Manager.Get
func (m *redisManager) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	redisKey := m.prefix + key

	data, err := m.redis.Get(ctx, redisKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("从 Redis 获取失败: %w", err)
	}

	m.logger.Debug("幂等键命中",
		zap.String("key", key),
		zap.Int("data_size", len(data)),
	)

	return data, true, nil
}

// Set 实现 Manager.Set
func (m *redisManager) Set(ctx context.Context, key string, result any, ttl time.Duration) error {
	redisKey := m.prefix + key

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("序列化结果失败: %w", err)
	}

	if ttl <= 0 {
		ttl = DefaultTTL
	}

	if err := m.redis.Set(ctx, redisKey, data, ttl).Err(); err != nil {
		return fmt.Errorf("存储到 Redis 失败: %w", err)
	}

	m.logger.Debug("幂等键已存储",
		zap.String("key", key),
		zap.Duration("ttl", ttl),
		zap.Int("data_size", len(data)),
	)

	return nil
}

// Delete 实现 Manager.Delete
func (m *redisManager) Delete(ctx context.Context, key string) error {
	if err := m.redis.Del(ctx, m.prefix+key).Err(); err != nil {
		return fmt.Errorf("从 Redis 删除失败: %w", err)
	}

	m.logger.Debug("幂等键已删除",
		zap.String("key", key),
	)

	return nil
}

// Exists 实现 Manager.Exists
func (m *redisManager) Exists(ctx context.Context, key string) (bool, error) {
	count, err := m.redis.Exists(ctx, m.prefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("检查 Redis 键失败: %w", err)
	}
	return count > 0, nil
}

// memoryManager 基于内存的幂等性管理器实现
// 适合单进程部署与测试场景
type memoryManager struct {
	cache           map[string]*cacheEntry
	mu              sync.RWMutex
	logger          *zap.Logger
	stopCh          chan struct{}
	cleanupInterval time.Duration
}

type cacheEntry struct {
	Data      json.RawMessage
	ExpiresAt time.Time
}

// NewMemoryManager 创建基于内存的幂等性管理器
func NewMemoryManager(logger *zap.Logger) Manager {
	return NewMemoryManagerWithCleanup(logger, 5*time.Minute)
}

// NewMemoryManagerWithCleanup 创建带自定义清理间隔的内存管理器
func NewMemoryManagerWithCleanup(logger *zap.Logger, cleanupInterval time.Duration) Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &memoryManager{
		cache:           make(map[string]*cacheEntry),
		logger:          logger,
		stopCh:          make(chan struct{}),
		cleanupInterval: cleanupInterval,
	}
	// 启动后台清理 goroutine
	go m.cleanupLoop()
	return m
}

// cleanupLoop 定期清理过期条目
func (m *memoryManager) cleanupLoop() {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.cleanup()
		case <-m.stopCh:
			return
		}
	}
}

// cleanup 清理所有过期条目
func (m *memoryManager) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	expired := 0
	for key, entry := range m.cache {
		if now.After(entry.ExpiresAt) {
			delete(m.cache, key)
			expired++
		}
	}

	if expired > 0 {
		m.logger.Debug("清理过期幂等条目",
			zap.Int("expired", expired),
			zap.Int("remaining", len(m.cache)))
	}
}

// Close 停止清理 goroutine
func (m *memoryManager) Close() {
	close(m.stopCh)
}

// Get 实现 Manager.Get
func (m *memoryManager) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	m.mu.RLock()
	entry, exists := m.cache[key]
	m.mu.RUnlock()

	if !exists {
		return nil, false, nil
	}

	// 惰性过期
	if time.Now().After(entry.ExpiresAt) {
		m.mu.Lock()
		delete(m.cache, key)
		m.mu.Unlock()
		return nil, false, nil
	}

	return entry.Data, true, nil
}

// Set 实现 Manager.Set
func (m *memoryManager) Set(ctx context.Context, key string, result any, ttl time.Duration) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("序列化结果失败: %w", err)
	}

	if ttl <= 0 {
		ttl = DefaultTTL
	}

	m.mu.Lock()
	m.cache[key] = &cacheEntry{
		Data:      data,
		ExpiresAt: time.Now().Add(ttl),
	}
	m.mu.Unlock()

	return nil
}

// Delete 实现 Manager.Delete
func (m *memoryManager) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.cache, key)
	m.mu.Unlock()
	return nil
}

// Exists 实现 Manager.Exists
func (m *memoryManager) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	entry, exists := m.cache[key]
	m.mu.RUnlock()

	if !exists {
		return false, nil
	}

	if time.Now().After(entry.ExpiresAt) {
		m.mu.Lock()
		delete(m.cache, key)
		m.mu.Unlock()
		return false, nil
	}

	return true, nil
}
