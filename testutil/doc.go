// Copyright (c) Failover Authors.
// Licensed under the MIT License.

/*
Package testutil 提供 failover 测试的共享工具和辅助函数。

# 概述

testutil 包为整个项目的单元测试提供统一的辅助能力，
避免各包重复实现相似的测试基础设施。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 异步断言: AssertEventuallyTrue / AssertEventuallyEqual，
    支持超时轮询等待条件满足
  - 数据工具: MustJSON / MustParseJSON
  - 脚本化提供方: ScriptedProvider 按预设脚本逐次返回结果并统计调用次数，
    用于熔断/重试/回退路径测试
  - Redis 辅助: NewMiniRedis 启动进程内 miniredis 并返回已连接的客户端

# 使用示例

	ctx := testutil.TestContext(t)
	p := testutil.NewScriptedProvider("primary", "chat",
		testutil.Fail(errors.New("boom")),
		testutil.Succeed("recovered"),
	)
	resp, err := p.Descriptor().Invoke(ctx, "payload")
*/
package testutil
