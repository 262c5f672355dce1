// 版权所有 2025 Failover Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 提供 Redis 客户端工厂。

# 概述

本包封装 go-redis 客户端的创建与连接验证，为上层业务提供
可直接使用的 *redis.Client。缓存语义（键前缀、TTL、序列化）
由调用方自行定义，幂等结果缓存即在 idempotency 包中实现。

# 核心类型

  - Config：连接配置，包含地址、密码、数据库编号、
    重试次数与连接池参数。

# 主要能力

  - 连接验证：NewClient 创建客户端后立即 Ping，失败即报错，
    避免半初始化状态流入运行期。
  - 连接池管理：通过 PoolSize 与 MinIdleConns 控制连接复用。
*/
package cache
