// Copyright (c) Failover Authors.
// Licensed under the MIT License.

/*
Package main 提供 failover 服务端程序入口。

# 概述

cmd/failover 是弹性调用层的可执行入口，提供 HTTP 管理面、
数据库迁移、健康检查和版本查询等子命令。程序支持 YAML 配置文件 +
环境变量加载、结构化日志（zap）、Prometheus 指标采集与 OTel 追踪。

# 核心类型

  - Server         — 主服务器，装配注册表/调用器/健康聚合并管理 HTTP、Metrics 双端口
  - Middleware     — HTTP 中间件函数签名 func(http.Handler) http.Handler
  - responseWriter — 包装 http.ResponseWriter 以捕获状态码

# 主要能力

  - 子命令：serve（启动服务）、migrate（目录表迁移/种子数据）、version、health
  - 提供方装配：配置声明 + 数据库目录两路装载，按 Kind 绑定集成实现
  - 路由覆盖：FAILOVER_ROUTE_<CAPABILITY> 环境变量重排/裁剪能力链
  - 中间件链：Recovery、RequestID、SecurityHeaders、RequestLogger、
    MetricsMiddleware、OTelTracing、CORS、RateLimiter（基于 IP）、
    JWTAuth（仅保护 /api/v1/admin/ 前缀）
  - Metrics 服务器：独立端口暴露 /metrics（Prometheus）
  - 优雅关闭：信号监听 → 停止健康聚合 → 关闭 HTTP → 关闭 Metrics → 释放连接
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
