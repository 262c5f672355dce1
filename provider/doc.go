// Copyright (c) Failover Authors.
// Licensed under the MIT License.

/*
Package provider 提供能力目录：描述后端提供方并按能力组织候选序列。

# 概述

provider 包实现 Failover 的提供方注册表。每个后端以 Descriptor 描述
（名称、能力标签、优先级 rank、绑定的调用函数），注册表按能力聚合
候选并为每个后端持有独立的熔断器与重试器。注册表在进程启动时由外部
配置一次性构建，之后以只读方式被调用层与健康聚合层借用。

# 核心接口与类型

  - Descriptor — 单个后端的不可变描述（Name / Capability / Rank /
    Invoke / Validate / Probe，及可选的 Retry、Breaker 覆盖配置）
  - Registry   — 线程安全的能力目录（Register / Get / ListFor /
    Breaker / Retryer / Names / Capabilities）
  - Options    — 注册表级默认配置（默认熔断与重试参数）

# 主要能力

  - 注册去重：重复名称注册直接报错，绝不静默覆盖
  - 稳定排序：ListFor 按 rank 升序返回候选，同 rank 保持注册顺序
  - 熔断器归属：每个后端的熔断器由注册表独占持有，供调用层与
    健康聚合层共享读取
  - 配置继承：Descriptor 未覆盖时继承 Options 的默认重试与熔断配置
*/
package provider
