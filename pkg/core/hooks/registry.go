package hooks

import (
	"sync"

	"github.com/stellarlinkco/hookflow/pkg/core/events"
)

// Registry is the scope-partitioned handler index. Patterns are compiled
// exactly once, at registration; resolution is read-only and never fails.
// Every mutation bumps the version so callers can observe reloads.
type Registry struct {
	mu      sync.RWMutex
	version uint64
	scopes  map[Scope]*scopePartition
}

// scopePartition holds one scope's handlers in registration order plus the
// one-shot consumption marks for the partition's lifetime. Replacing the
// partition starts a new lifetime: the marks reset with it.
type scopePartition struct {
	specs    []*compiledSpec
	consumed map[string]bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{scopes: make(map[Scope]*scopePartition)}
}

// ReplaceScope atomically swaps one scope's handlers. All specs must compile
// or the whole replacement is rejected and the previous partition stays in
// place. One-shot marks for the scope reset.
func (r *Registry) ReplaceScope(scope Scope, specs []HandlerSpec) error {
	part := &scopePartition{consumed: make(map[string]bool)}
	for i, spec := range specs {
		cs, err := compileSpec(scope, i, spec)
		if err != nil {
			return err
		}
		cs.part = part
		part.specs = append(part.specs, cs)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.scopes[scope] = part
	r.version++
	return nil
}

// RemoveScope drops a scope and everything registered from it. Used when a
// component's active lifetime ends.
func (r *Registry) RemoveScope(scope Scope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.scopes[scope]; !ok {
		return
	}
	delete(r.scopes, scope)
	r.version++
}

// Version reports the registry generation, bumped on every mutation.
func (r *Registry) Version() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// resolve returns the ordered, deduplicated set of handlers matching one
// occurrence: scopes concatenated in priority order, registration order
// within a scope, duplicates collapsed keeping the first, consumed one-shot
// handlers excluded.
func (r *Registry) resolve(kind events.Kind, matchField string) []*compiledSpec {
	policy, ok := events.PolicyFor(kind)
	if !ok {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*compiledSpec
	seen := make(map[string]struct{})
	for _, scope := range scopeOrder {
		part := r.scopes[scope]
		if part == nil {
			continue
		}
		for _, cs := range part.specs {
			if cs.Kind != kind {
				continue
			}
			if cs.Once && part.consumed[cs.key] {
				continue
			}
			if !cs.matches(policy, matchField) {
				continue
			}
			if _, dup := seen[cs.key]; dup {
				continue
			}
			seen[cs.key] = struct{}{}
			out = append(out, cs)
		}
	}
	return out
}

// markConsumed flags a one-shot handler after its first successful
// completion. The mark is tied to the partition the spec came from: if the
// scope was replaced while the handler ran, the new lifetime is unaffected.
func (r *Registry) markConsumed(cs *compiledSpec) {
	if cs == nil || !cs.Once {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.scopes[cs.scope] != cs.part {
		return
	}
	cs.part.consumed[cs.key] = true
	r.version++
}

// RegisteredHandler is the public, read-only view of one registry entry.
type RegisteredHandler struct {
	Scope    Scope
	ID       string
	Kind     events.Kind
	Pattern  string
	Type     HandlerType
	Target   string
	Timeout  string
	Async    bool
	Once     bool
	Consumed bool
}

// Handlers snapshots the registry in resolution order for display.
func (r *Registry) Handlers() []RegisteredHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []RegisteredHandler
	for _, scope := range scopeOrder {
		part := r.scopes[scope]
		if part == nil {
			continue
		}
		for _, cs := range part.specs {
			out = append(out, RegisteredHandler{
				Scope:    scope,
				ID:       cs.ID,
				Kind:     cs.Kind,
				Pattern:  cs.Pattern,
				Type:     cs.Type,
				Target:   normalizeTarget(cs.Target()),
				Timeout:  cs.Timeout.String(),
				Async:    cs.Async,
				Once:     cs.Once,
				Consumed: cs.Once && part.consumed[cs.key],
			})
		}
	}
	return out
}
