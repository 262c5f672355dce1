// Package failover provides a top-level convenience entry point for building
// a resilient invocation stack with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/failover"
//
//	stack, err := failover.New(
//		failover.WithProvider(primary),
//		failover.WithProvider(backup),
//	)
//	defer stack.Close()
//
//	result, err := stack.Invoker.Invoke(ctx, "chat-completion", payload)
//
// A Stack bundles the provider registry, the fallback invoker, and an
// optional background health aggregator. For full control (catalog loading,
// idempotency backends, per-provider overrides), construct the pieces from
// the provider, invoker, and health packages directly — the cmd/failover
// server does exactly that.
package failover

import (
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/failover/circuitbreaker"
	"github.com/BaSui01/failover/health"
	"github.com/BaSui01/failover/idempotency"
	"github.com/BaSui01/failover/invoker"
	"github.com/BaSui01/failover/provider"
	"github.com/BaSui01/failover/retry"
)

// Stack is a fully wired invocation stack: registry, invoker, and optional
// health aggregation. Create one with [New].
type Stack struct {
	Registry *provider.Registry
	Invoker  invoker.DetailedInvoker
	Health   *health.Aggregator
}

// Close stops the background health aggregator, if one is running.
func (s *Stack) Close() {
	if s.Health != nil {
		s.Health.Stop()
	}
}

type options struct {
	logger         *zap.Logger
	descriptors    []*provider.Descriptor
	defaultRetry   *retry.Config
	defaultBreaker *circuitbreaker.Config
	idempotency    idempotency.Manager
	idempotencyTTL time.Duration
	healthConfig   *health.Config
	disableHealth  bool
}

// Option configures the stack created by [New].
type Option func(*options)

// WithLogger sets a custom zap logger. Defaults to zap.NewNop().
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithProvider registers a provider descriptor. Call once per provider;
// candidates for the same capability are ordered by their Rank.
func WithProvider(desc *provider.Descriptor) Option {
	return func(o *options) { o.descriptors = append(o.descriptors, desc) }
}

// WithDefaultRetry sets the process-wide retry policy for providers that
// do not carry their own override.
func WithDefaultRetry(cfg *retry.Config) Option {
	return func(o *options) { o.defaultRetry = cfg }
}

// WithDefaultBreaker sets the process-wide circuit breaker settings for
// providers that do not carry their own override.
func WithDefaultBreaker(cfg *circuitbreaker.Config) Option {
	return func(o *options) { o.defaultBreaker = cfg }
}

// WithIdempotency enables response caching keyed by idempotency key.
// Results served from the cache skip the provider chain entirely.
func WithIdempotency(mgr idempotency.Manager, ttl time.Duration) Option {
	return func(o *options) {
		o.idempotency = mgr
		o.idempotencyTTL = ttl
	}
}

// WithHealth overrides the background health aggregation settings.
func WithHealth(cfg *health.Config) Option {
	return func(o *options) { o.healthConfig = cfg }
}

// WithoutHealth disables the background health aggregator. Stack.Health
// will be nil; breaker states remain observable via Registry.Breaker.
func WithoutHealth() Option {
	return func(o *options) { o.disableHealth = true }
}

// New builds a [Stack] from the given options. At least one provider must
// be registered via [WithProvider].
func New(opts ...Option) (*Stack, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	registry := provider.NewRegistry(&provider.Options{
		DefaultBreaker: o.defaultBreaker,
		DefaultRetry:   o.defaultRetry,
	}, o.logger)

	for _, desc := range o.descriptors {
		if err := registry.Register(desc); err != nil {
			return nil, err
		}
	}

	inv := invoker.NewFallbackInvoker(registry, &invoker.Config{
		Idempotency:    o.idempotency,
		IdempotencyTTL: o.idempotencyTTL,
	}, o.logger)

	var agg *health.Aggregator
	if !o.disableHealth {
		agg = health.NewAggregator(registry, o.healthConfig, o.logger)
	}

	return &Stack{
		Registry: registry,
		Invoker:  inv,
		Health:   agg,
	}, nil
}
