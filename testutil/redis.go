// =============================================================================
// 🔴 Redis 测试辅助
// =============================================================================
// 启动进程内 miniredis 并返回已连接的 go-redis 客户端，
// 自动注册 Cleanup 释放资源
// =============================================================================
package testutil

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// NewMiniRedis 启动 miniredis 并返回服务端与已连接的客户端。
// 两者都在测试结束时自动关闭。
func NewMiniRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return mr, client
}
