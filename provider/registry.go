package provider

import (
	"fmt"
	"sort"
	"sync"

	"github.com/BaSui01/failover/circuitbreaker"
	"github.com/BaSui01/failover/retry"
	"github.com/BaSui01/failover/types"
	"go.uber.org/zap"
)

// Options carries the registry-wide defaults applied to providers that do
// not override them. It is built once at startup from external
// configuration and never mutated afterwards.
type Options struct {
	// DefaultBreaker is the circuit-breaker configuration used when a
	// descriptor does not carry its own. Nil means the package default.
	DefaultBreaker *circuitbreaker.Config

	// DefaultRetry is the retry configuration used when a descriptor
	// does not carry its own. Nil means the package default.
	DefaultRetry *retry.Config
}

// entry binds a descriptor to the breaker and retryer the registry built
// for it at registration time.
type entry struct {
	desc    *Descriptor
	breaker circuitbreaker.CircuitBreaker
	retryer retry.Retryer
}

// Registry is a thread-safe catalog of providers grouped by capability.
// It exclusively owns every Descriptor and CircuitBreaker for the process
// lifetime; the invoker and the health aggregator only borrow references.
//
// The registry is read-mostly: providers are registered once at startup
// and never replaced. Hot-reloading registrations is intentionally not
// supported.
type Registry struct {
	mu           sync.RWMutex
	entries      map[string]*entry
	byCapability map[string][]*Descriptor // 保持注册顺序，排序时用作同 rank 的次序
	opts         Options
	logger       *zap.Logger
}

// NewRegistry creates an empty Registry with the given defaults.
// A nil opts or logger falls back to package defaults.
func NewRegistry(opts *Options, logger *zap.Logger) *Registry {
	if opts == nil {
		opts = &Options{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		entries:      make(map[string]*entry),
		byCapability: make(map[string][]*Descriptor),
		opts:         *opts,
		logger:       logger,
	}
}

// Register adds a provider to the registry.
// The registry stores its own copy of the descriptor and builds the
// provider's circuit breaker and retryer from the descriptor overrides or
// the registry defaults. Registering a name that is already present fails
// with a duplicate-entry error — never a silent overwrite.
func (r *Registry) Register(d *Descriptor) error {
	if err := d.validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[d.Name]; ok {
		return types.NewError(types.ErrDuplicateEntry,
			fmt.Sprintf("provider %q already registered for capability %q", d.Name, existing.desc.Capability)).
			WithProvider(d.Name)
	}

	desc := *d

	breakerCfg := r.opts.DefaultBreaker
	if desc.Breaker != nil {
		breakerCfg = desc.Breaker
	}
	if breakerCfg == nil {
		breakerCfg = circuitbreaker.DefaultConfig()
	}
	bc := *breakerCfg

	retryCfg := r.opts.DefaultRetry
	if desc.Retry != nil {
		retryCfg = desc.Retry
	}
	if retryCfg == nil {
		retryCfg = retry.DefaultConfig()
	}
	rc := *retryCfg

	r.entries[desc.Name] = &entry{
		desc:    &desc,
		breaker: circuitbreaker.NewCircuitBreaker(&bc, r.logger.Named(desc.Name)),
		retryer: retry.NewBackoffRetryer(&rc, r.logger.Named(desc.Name)),
	}
	r.byCapability[desc.Capability] = append(r.byCapability[desc.Capability], &desc)

	r.logger.Debug("provider registered",
		zap.String("provider", desc.Name),
		zap.String("capability", desc.Capability),
		zap.Int("rank", desc.Rank),
	)
	return nil
}

// Get retrieves a descriptor by name.
// Returns a not-found error if the name is not registered.
func (r *Registry) Get(name string) (*Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, notFound(name)
	}
	return e.desc, nil
}

// ListFor returns the candidate providers for a capability ordered by
// ascending rank; providers with equal rank keep their registration
// order. An unknown capability yields an empty slice.
func (r *Registry) ListFor(capability string) []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	regs := r.byCapability[capability]
	out := make([]*Descriptor, len(regs))
	copy(out, regs)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Rank < out[j].Rank
	})
	return out
}

// Breaker returns the circuit breaker owned by the registry for the
// named provider.
func (r *Registry) Breaker(name string) (circuitbreaker.CircuitBreaker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, notFound(name)
	}
	return e.breaker, nil
}

// Retryer returns the retryer built for the named provider.
func (r *Registry) Retryer(name string) (retry.Retryer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, notFound(name)
	}
	return e.retryer, nil
}

// Names returns the sorted names of all registered providers.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Capabilities returns the sorted capability tags that have at least one
// registered provider.
func (r *Registry) Capabilities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	caps := make([]string, 0, len(r.byCapability))
	for c := range r.byCapability {
		caps = append(caps, c)
	}
	sort.Strings(caps)
	return caps
}

// Len returns the number of registered providers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func notFound(name string) error {
	return types.NewError(types.ErrProviderNotFound,
		fmt.Sprintf("provider %q not found in registry", name)).
		WithProvider(name)
}
