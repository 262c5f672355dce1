package openaicompat

import (
	"context"

	"github.com/BaSui01/failover/provider"
)

// Descriptor binds the client into the invocation layer for one
// capability: the bound call, the structural response check, and the
// models-endpoint liveness probe.
func (c *Client) Descriptor(name, capability string, rank int) *provider.Descriptor {
	return &provider.Descriptor{
		Name:       name,
		Capability: capability,
		Rank:       rank,
		Invoke: func(ctx context.Context, payload any) (any, error) {
			req, err := decodeChatPayload(payload)
			if err != nil {
				return nil, err
			}
			return c.Completion(ctx, req)
		},
		Validate: ValidateResponse,
		Probe:    c.HealthCheck,
	}
}
