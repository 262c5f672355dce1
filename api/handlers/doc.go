// Copyright (c) Failover Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 Failover HTTP API 的请求处理器实现。

# 概述

handlers 包实现了所有 HTTP 端点的请求处理逻辑，包括能力调用、
提供方目录查询、熔断器运维以及健康检查。处理器只做协议转换：
降级、熔断、重试与幂等全部发生在 invoker 与 provider 层。
所有 Handler 均遵循标准 net/http 接口，通过 Swagger 注解生成 API 文档。

# 核心类型

  - InvokeHandler    — 能力调用（POST /api/v1/invoke），附带调用审计
  - ProvidersHandler — 提供方目录、能力降级链查询
  - AdminHandler     — 熔断器手动复位等运维操作
  - HealthHandler    — 服务健康检查（/health, /healthz, /ready, /version）
  - Response         — 统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo        — 结构化错误信息，含 code、provider、retryable、suggestions
  - ResponseWriter   — 包装 http.ResponseWriter 以捕获状态码
  - HealthCheck      — 可插拔健康检查接口（Database、Redis 等）

# 主要能力

  - 统一响应格式：WriteSuccess / WriteError / WriteJSON 辅助函数
  - 请求验证：DecodeJSONBody（1 MB 限制 + 严格模式）、ValidateContentType
  - ErrorCode → HTTP 状态码自动映射（4xx/5xx），聚合错误展开为逐提供方明细
  - 降级链全军覆没时返回 502 与 failures 列表，便于定位故障提供方
  - 可扩展健康检查：RegisterCheck 注册自定义 HealthCheck 实现
*/
package handlers
