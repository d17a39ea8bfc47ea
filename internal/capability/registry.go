package capability

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Registry is the authoritative name-to-implementation map. It is built once
// at startup and read-only afterward; Resolve is the only lookup path from a
// pattern to a capability. For hot-reload, build a fresh Registry and swap
// the reference wholesale rather than mutating in place.
type Registry struct {
	mu   sync.RWMutex
	caps map[string]*Capability
	log  *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		caps: make(map[string]*Capability),
		log:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger attaches a logger for registration events.
func WithLogger(log *zap.Logger) RegistryOption {
	return func(r *Registry) {
		if log != nil {
			r.log = log
		}
	}
}

// Register binds a capability under its contract name. It fails with
// ErrInvalidContract on a malformed definition and ErrDuplicateCapability if
// the name is already bound.
func (r *Registry) Register(c *Capability) error {
	if err := c.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	name := c.Contract.Name
	if _, exists := r.caps[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateCapability, name)
	}
	r.caps[name] = c

	r.log.Debug("registered capability",
		zap.String("name", name),
		zap.Int("required_args", len(c.Contract.RequiredArgs)),
		zap.Bool("retry_safe", c.Contract.RetrySafe))
	return nil
}

// MustRegister registers a capability and panics on error. Use for static
// registration at startup where a failure is a programming defect.
func (r *Registry) MustRegister(c *Capability) {
	if err := r.Register(c); err != nil {
		panic(fmt.Sprintf("capability: register %s: %v", c.Contract.Name, err))
	}
}

// Resolve returns the implementation bound under name. It fails with
// ErrUnknownCapability when absent; pattern load-time validation guarantees
// this never happens for an activated pattern.
func (r *Registry) Resolve(name string) (*Capability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.caps[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCapability, name)
	}
	return c, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.caps[name]
	return ok
}

// Names enumerates all registered capability names, sorted. Used by pattern
// load-time validation and the CLI listing.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.caps))
	for name := range r.caps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Contracts returns every registered contract, sorted by name.
func (r *Registry) Contracts() []Contract {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Contract, 0, len(r.caps))
	for _, c := range r.caps {
		out = append(out, c.Contract)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Count returns the number of registered capabilities.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.caps)
}
