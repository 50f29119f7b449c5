package registry

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/glimte/interpose/contracts"
	"github.com/glimte/interpose/interceptors"
)

// Registry maps operation identities to interceptors and memoizes the merged
// chain of each identity. Create one per process (or per test) and pass it to
// the code that registers and runs operations.
type Registry struct {
	mu sync.RWMutex
	// raw registrations per identity, in registration order
	filters map[Identity][]interceptors.Interceptor
	// merged chains, keyed by the instance identity when the instance has its
	// own interceptors and by the type identity otherwise
	chains map[Identity]*interceptors.Chain
	// instance id -> type name, for collision checks
	instances map[string]string

	logger *slog.Logger
	stats  counters
}

// Option configures a Registry
type Option func(*Registry)

// WithLogger sets the logger used for registry debug output
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// New creates an empty registry
func New(opts ...Option) *Registry {
	r := &Registry{
		filters:   make(map[Identity][]interceptors.Interceptor),
		chains:    make(map[Identity]*interceptors.Chain),
		instances: make(map[string]string),
		logger:    slog.Default(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Register appends interceptors to an owner's operation. Registering the same
// interceptor twice makes it run twice. Cached chains built from the
// identity are evicted; runs already in flight keep their chain.
func (r *Registry) Register(owner contracts.Owner, operation string, ics ...interceptors.Interceptor) error {
	typeID, instID, isInstance, err := identities(owner, operation)
	if err != nil {
		return configError("register", owner, operation, err)
	}
	for _, ic := range ics {
		if ic == nil {
			return configError("register", owner, operation, contracts.ErrNilInterceptor)
		}
	}
	if len(ics) == 0 {
		return nil
	}

	id := typeID
	if isInstance {
		id = instID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if isInstance {
		if typeName, known := r.instances[instID.Owner.InstanceID]; known && typeName != instID.Owner.TypeName {
			return configError("register", owner, operation, contracts.ErrIdentityCollision)
		}
		r.instances[instID.Owner.InstanceID] = instID.Owner.TypeName
	}

	r.filters[id] = append(r.filters[id], ics...)
	r.invalidate(id)

	r.logger.Debug("interceptors registered",
		"identity", id.String(),
		"added", len(ics),
		"total", len(r.filters[id]),
	)

	return nil
}

// MustRegister is like Register but panics on error
func (r *Registry) MustRegister(owner contracts.Owner, operation string, ics ...interceptors.Interceptor) {
	if err := r.Register(owner, operation, ics...); err != nil {
		panic(err)
	}
}

// HasRegistered reports whether any interceptor applies to the owner's
// operation, at type level or, for instances, at instance level
func (r *Registry) HasRegistered(owner contracts.Owner, operation string) bool {
	typeID, instID, isInstance, err := identities(owner, operation)
	if err != nil {
		return false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.filters[typeID]) > 0 {
		return true
	}
	return isInstance && len(r.filters[instID]) > 0
}

// Run executes impl for the owner's operation. With no interceptors
// registered it calls impl directly and builds nothing. Errors from
// interceptors and impl are returned unmodified.
func (r *Registry) Run(ctx context.Context, owner contracts.Owner, operation string, params *contracts.Params, impl interceptors.Implementation) (any, error) {
	if impl == nil {
		return nil, configError("run", owner, operation, contracts.ErrNilImplementation)
	}

	typeID, instID, isInstance, err := identities(owner, operation)
	if err != nil {
		return nil, configError("run", owner, operation, err)
	}

	chain := r.chainFor(typeID, instID, isInstance)
	if chain == nil {
		r.stats.fastPathRuns.Add(1)
		return impl(ctx, params)
	}

	runID := typeID
	if isInstance {
		runID = instID
	}

	r.stats.chainRuns.Add(1)
	return chain.Run(interceptors.WithOperation(ctx, runID.operation()), params, impl)
}

// chainFor returns the merged chain for a run, building and caching it on
// first use, or nil when nothing is registered
func (r *Registry) chainFor(typeID, instID Identity, isInstance bool) *interceptors.Chain {
	r.mu.RLock()
	cacheKey, ok := r.cacheKeyLocked(typeID, instID, isInstance)
	if !ok {
		r.mu.RUnlock()
		return nil
	}
	if chain, cached := r.chains[cacheKey]; cached {
		r.mu.RUnlock()
		return chain
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Registrations may have changed while unlocked
	cacheKey, ok = r.cacheKeyLocked(typeID, instID, isInstance)
	if !ok {
		return nil
	}
	if chain, cached := r.chains[cacheKey]; cached {
		return chain
	}

	var instanceLevel []interceptors.Interceptor
	if cacheKey == instID {
		instanceLevel = r.filters[instID]
	}
	chain := interceptors.NewChain(mergeInterceptors(r.filters[typeID], instanceLevel)...)
	r.chains[cacheKey] = chain
	r.stats.chainsBuilt.Add(1)

	r.logger.Debug("chain built",
		"identity", cacheKey.String(),
		"interceptors", chain.Len(),
	)

	return chain
}

// cacheKeyLocked picks the identity a run's chain is cached under. It
// returns false when no interceptor applies.
func (r *Registry) cacheKeyLocked(typeID, instID Identity, isInstance bool) (Identity, bool) {
	if isInstance && len(r.filters[instID]) > 0 {
		return instID, true
	}
	if len(r.filters[typeID]) > 0 {
		return typeID, true
	}
	return Identity{}, false
}

// invalidate evicts every cached chain merged from id's raw list. A type
// identity also feeds the merged chains of its instances.
func (r *Registry) invalidate(id Identity) {
	evicted := 0
	if _, ok := r.chains[id]; ok {
		delete(r.chains, id)
		evicted++
	}

	if id.Owner.Scope == ScopeType {
		for cached := range r.chains {
			if cached.Owner.Scope == ScopeInstance &&
				cached.Owner.TypeName == id.Owner.TypeName &&
				cached.Operation == id.Operation {
				delete(r.chains, cached)
				evicted++
			}
		}
	}

	if evicted > 0 {
		r.stats.invalidations.Add(uint64(evicted))
	}
}

// Clear removes registrations. A nil owner and empty operation clear
// everything; an owner alone clears all of that exact owner's operations;
// both clear exactly that identity. An operation without an owner is
// rejected as ambiguous.
func (r *Registry) Clear(owner contracts.Owner, operation string) error {
	if owner == nil {
		if operation != "" {
			return &contracts.ConfigError{Op: "clear", Operation: operation, Err: contracts.ErrAmbiguousClear}
		}

		r.mu.Lock()
		defer r.mu.Unlock()

		r.stats.invalidations.Add(uint64(len(r.chains)))
		r.filters = make(map[Identity][]interceptors.Interceptor)
		r.chains = make(map[Identity]*interceptors.Chain)
		r.instances = make(map[string]string)
		r.logger.Debug("registry cleared")
		return nil
	}

	key, err := ownerKeyOf(owner)
	if err != nil {
		return configError("clear", owner, operation, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if key.Scope == ScopeInstance {
		if typeName, known := r.instances[key.InstanceID]; known && typeName != key.TypeName {
			return configError("clear", owner, operation, contracts.ErrIdentityCollision)
		}
	}

	var cleared []Identity
	if operation != "" {
		id := Identity{Owner: key, Operation: operation}
		if _, ok := r.filters[id]; ok {
			cleared = append(cleared, id)
		}
	} else {
		for id := range r.filters {
			if id.Owner == key {
				cleared = append(cleared, id)
			}
		}
	}

	for _, id := range cleared {
		delete(r.filters, id)
		r.invalidate(id)
	}

	if key.Scope == ScopeInstance && !r.hasInstanceLocked(key) {
		delete(r.instances, key.InstanceID)
	}

	r.logger.Debug("registrations cleared",
		"owner", key.String(),
		"operation", operation,
		"identities", len(cleared),
	)

	return nil
}

// hasInstanceLocked reports whether any registration remains for an instance
func (r *Registry) hasInstanceLocked(key OwnerKey) bool {
	for id := range r.filters {
		if id.Owner == key {
			return true
		}
	}
	return false
}

// Interceptors returns the merged interceptors that would run for the
// owner's operation, outermost first
func (r *Registry) Interceptors(owner contracts.Owner, operation string) []interceptors.Interceptor {
	typeID, instID, isInstance, err := identities(owner, operation)
	if err != nil {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var instanceLevel []interceptors.Interceptor
	if isInstance {
		instanceLevel = r.filters[instID]
	}
	return mergeInterceptors(r.filters[typeID], instanceLevel)
}

// Identities lists every identity with registrations, sorted by type name,
// scope, instance id and operation
func (r *Registry) Identities() []Identity {
	r.mu.RLock()
	ids := make([]Identity, 0, len(r.filters))
	for id := range r.filters {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool {
		a, b := ids[i], ids[j]
		if a.Owner.TypeName != b.Owner.TypeName {
			return a.Owner.TypeName < b.Owner.TypeName
		}
		if a.Owner.Scope != b.Owner.Scope {
			return a.Owner.Scope < b.Owner.Scope
		}
		if a.Owner.InstanceID != b.Owner.InstanceID {
			return a.Owner.InstanceID < b.Owner.InstanceID
		}
		return a.Operation < b.Operation
	})
	return ids
}

// Stats is a snapshot of registry counters
type Stats struct {
	// ChainsBuilt counts merged chains constructed
	ChainsBuilt uint64
	// FastPathRuns counts runs that called the implementation directly
	FastPathRuns uint64
	// ChainRuns counts runs that went through a chain
	ChainRuns uint64
	// Invalidations counts cached chains evicted
	Invalidations uint64
	// CachedChains is the number of chains currently cached
	CachedChains int
}

type counters struct {
	chainsBuilt   atomic.Uint64
	fastPathRuns  atomic.Uint64
	chainRuns     atomic.Uint64
	invalidations atomic.Uint64
}

// Stats returns the current counters
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	cached := len(r.chains)
	r.mu.RUnlock()

	return Stats{
		ChainsBuilt:   r.stats.chainsBuilt.Load(),
		FastPathRuns:  r.stats.fastPathRuns.Load(),
		ChainRuns:     r.stats.chainRuns.Load(),
		Invalidations: r.stats.invalidations.Load(),
		CachedChains:  cached,
	}
}

// configError builds a ConfigError naming the owner as far as it is known
func configError(op string, owner contracts.Owner, operation string, err error) error {
	cfgErr := &contracts.ConfigError{Op: op, Operation: operation, Err: err}
	if owner != nil {
		cfgErr.Owner = owner.OwnerType()
		if inst, ok := owner.(contracts.Instance); ok && inst.InstanceID() != "" {
			cfgErr.Owner += "#" + inst.InstanceID()
		}
	}
	return cfgErr
}
