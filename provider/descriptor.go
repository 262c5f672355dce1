package provider

import (
	"context"

	"github.com/BaSui01/failover/circuitbreaker"
	"github.com/BaSui01/failover/retry"
	"github.com/BaSui01/failover/types"
)

// InvokeFunc is the bound call function supplied by integration code.
// The payload and response are opaque to the core; vendor-specific
// HTTP or SDK work happens entirely inside the function.
type InvokeFunc func(ctx context.Context, payload any) (any, error)

// ValidateFunc inspects a response that carried no error and reports
// whether it is usable. A non-nil return marks the attempt as failed
// for both fallback and circuit-breaker accounting.
type ValidateFunc func(response any) error

// ProbeFunc is an optional cheap liveness probe used by the health
// aggregator. It must be side-effect free and respect the context
// deadline.
type ProbeFunc func(ctx context.Context) error

// Descriptor identifies one backend able to serve a capability.
// Descriptors are immutable after registration: the registry stores
// its own copy, and callers must not mutate the fields afterwards.
type Descriptor struct {
	// Name is the stable, process-unique identifier of the backend.
	Name string

	// Capability is the logical function tag this backend serves,
	// e.g. "llm.deep-think" or "data.equity-quote".
	Capability string

	// Rank orders candidates within a capability. Lower is preferred;
	// ties are broken by registration order.
	Rank int

	// Invoke performs one call against the backend.
	Invoke InvokeFunc

	// Validate optionally rejects structurally broken responses.
	Validate ValidateFunc

	// Probe optionally checks backend liveness outside the request path.
	Probe ProbeFunc

	// Retry overrides the registry's default retry configuration for
	// this provider. Nil means inherit the default.
	Retry *retry.Config

	// Breaker overrides the registry's default circuit-breaker
	// configuration for this provider. Nil means inherit the default.
	Breaker *circuitbreaker.Config
}

// validate reports whether the descriptor is complete enough to register.
func (d *Descriptor) validate() error {
	if d == nil {
		return types.NewError(types.ErrConfiguration, "provider descriptor is nil")
	}
	if d.Name == "" {
		return types.NewError(types.ErrConfiguration, "provider name is required")
	}
	if d.Capability == "" {
		return types.NewError(types.ErrConfiguration, "provider capability is required").WithProvider(d.Name)
	}
	if d.Invoke == nil {
		return types.NewError(types.ErrConfiguration, "provider invoke function is required").WithProvider(d.Name)
	}
	if d.Retry != nil {
		if err := d.Retry.Validate(); err != nil {
			return err
		}
	}
	if d.Breaker != nil {
		if err := d.Breaker.Validate(); err != nil {
			return err
		}
	}
	return nil
}
