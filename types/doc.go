// Copyright (c) Failover Authors.
// Licensed under the MIT License.

/*
Package types 提供 failover 核心的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 circuitbreaker、retry、
provider、invoker、health 等上层模块提供统一的错误契约。所有跨包共享的
错误码、结构化错误和失败聚合类型均定义于此，以避免循环依赖。

# 核心类型

  - Error / ErrorCode        — 结构化错误体系，含 HTTP 状态码、Retryable、Provider、Suggestions
  - AllProvidersFailedError  — 整条回退链耗尽后的终态错误，按链序携带各提供者失败原因
  - ProviderFailure          — 单个提供者在回退链中的失败记录

# 错误分类

错误码按四类组织：配置错误（不重试、立即失败）、瞬时提供者错误（可重试、
计入熔断）、永久提供者错误（不重试、仍计入熔断、推进回退）、链级错误
（CIRCUIT_OPEN 计入链失败但不计入熔断）。

# 主要能力

  - 错误工具链：NewError + WithCause / WithHTTPStatus / WithRetryable / WithProvider / WithSuggestions
  - 分类判定：Transient / IsRetryable / IsConfiguration / GetErrorCode
  - 上游映射：FromHTTPStatus 将供应商 HTTP 状态翻译为带修复建议的分类错误
*/
package types
