// =============================================================================
// 🎭 脚本化测试提供方
// =============================================================================
// ScriptedProvider 按预设脚本逐次返回调用结果并统计调用次数，
// 用于验证熔断、重试与回退链的行为
//
// 使用方法:
//
//	p := testutil.NewScriptedProvider("primary", "chat",
//		testutil.Fail(errors.New("boom")),
//		testutil.Fail(errors.New("boom")),
//		testutil.Succeed("recovered"),
//	)
//	desc := p.Descriptor()
// =============================================================================
package testutil

import (
	"context"
	"sync"

	"github.com/BaSui01/failover/provider"
)

// Step 是脚本中的一步：一次调用的返回值
type Step struct {
	Response any
	Err      error
}

// Succeed 构造一个成功步骤
func Succeed(response any) Step {
	return Step{Response: response}
}

// Fail 构造一个失败步骤
func Fail(err error) Step {
	return Step{Err: err}
}

// ScriptedProvider 按脚本逐次返回结果的假提供方。
// 脚本耗尽后重复最后一步；脚本为空时所有调用返回 nil, nil。
// 并发安全。
type ScriptedProvider struct {
	name       string
	capability string

	mu       sync.Mutex
	script   []Step
	calls    int
	probeErr error
	payloads []any
}

// NewScriptedProvider 创建脚本化提供方
func NewScriptedProvider(name, capability string, script ...Step) *ScriptedProvider {
	return &ScriptedProvider{
		name:       name,
		capability: capability,
		script:     script,
	}
}

// WithProbeError 设置健康探针的返回错误，nil 表示探针总是成功
func (p *ScriptedProvider) WithProbeError(err error) *ScriptedProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.probeErr = err
	return p
}

// Append 在脚本末尾追加步骤
func (p *ScriptedProvider) Append(steps ...Step) *ScriptedProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.script = append(p.script, steps...)
	return p
}

// Calls 返回 Invoke 被调用的次数
func (p *ScriptedProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Payloads 返回历次调用收到的 payload
func (p *ScriptedProvider) Payloads() []any {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]any, len(p.payloads))
	copy(out, p.payloads)
	return out
}

// Invoke 执行脚本中的下一步
func (p *ScriptedProvider) Invoke(ctx context.Context, payload any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	idx := p.calls
	p.calls++
	p.payloads = append(p.payloads, payload)

	if len(p.script) == 0 {
		return nil, nil
	}
	if idx >= len(p.script) {
		idx = len(p.script) - 1
	}
	step := p.script[idx]
	return step.Response, step.Err
}

// Probe 返回 WithProbeError 设置的错误
func (p *ScriptedProvider) Probe(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.probeErr
}

// Descriptor 返回可注册到 Registry 的描述符，rank 为 0
func (p *ScriptedProvider) Descriptor() *provider.Descriptor {
	return p.DescriptorAt(0)
}

// DescriptorAt 返回指定 rank 的描述符
func (p *ScriptedProvider) DescriptorAt(rank int) *provider.Descriptor {
	return &provider.Descriptor{
		Name:       p.name,
		Capability: p.capability,
		Rank:       rank,
		Invoke:     p.Invoke,
		Probe:      p.Probe,
	}
}
