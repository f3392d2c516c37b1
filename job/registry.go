package job

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/triagehq/triage"
)

// HandlerFunc is a type-erased job handler. It receives the raw JSON
// payload and returns the raw JSON result. The typed Definition[T, R] is
// converted to a HandlerFunc at registration time by closing over JSON
// (un)marshal + the typed handler.
type HandlerFunc func(ctx context.Context, payload []byte) ([]byte, error)

// Registry maps job type names to type-erased handler functions.
//
// Registration happens at process start; the engine calls Seal before
// workers begin dispatching, after which Register fails and lookups take
// no lock. This keeps dispatch O(1) with no data race on the hot path.
type Registry struct {
	mu       sync.RWMutex
	sealed   bool
	handlers map[string]HandlerFunc
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]HandlerFunc),
	}
}

// Register binds a handler to a job type name. It fails with
// [triage.ErrRegistrySealed] after Seal and [triage.ErrDuplicateHandler]
// if the name is taken.
func (r *Registry) Register(name string, fn HandlerFunc) error {
	if name == "" {
		return fmt.Errorf("triage: empty job type name")
	}
	if fn == nil {
		return fmt.Errorf("triage: nil handler for job type %q", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return fmt.Errorf("%w: cannot register %q", triage.ErrRegistrySealed, name)
	}
	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("%w: %q", triage.ErrDuplicateHandler, name)
	}
	r.handlers[name] = fn
	return nil
}

// RegisterDefinition registers a typed job definition. The generic handler
// is wrapped in a closure that JSON-unmarshals the payload into T before
// the call and JSON-marshals the R result after it.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T, R any](r *Registry, def *Definition[T, R]) error {
	handler := func(ctx context.Context, payload []byte) ([]byte, error) {
		var in T
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &in); err != nil {
				return nil, fmt.Errorf("unmarshal payload for job %q: %w", def.Name, err)
			}
		}

		out, err := def.Handler(ctx, in)
		if err != nil {
			return nil, err
		}

		result, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("marshal result for job %q: %w", def.Name, err)
		}
		return result, nil
	}

	return r.Register(def.Name, handler)
}

// Seal makes the registry read-only. Idempotent.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
}

// Sealed reports whether the registry has been sealed.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Get returns the handler for the given job type name.
// Returns false if no handler is registered.
func (r *Registry) Get(name string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Has reports whether a handler is registered for the given type name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[name]
	return ok
}

// Names returns all registered job type names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}
