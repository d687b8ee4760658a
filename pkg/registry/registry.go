package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/aretw0/sluice/pkg/domain"
)

// HandlerFunc is the signature of a service task implementation. It
// receives the instance-scoped execution context, performs its side
// effect and returns variable updates to merge into the executing token.
// A returned error fails the owning process instance; retries, if
// wanted, are the handler's own business.
type HandlerFunc func(ctx context.Context, ec *domain.ExecutionContext) (map[string]any, error)

// Registry maps service task identifiers to handlers. Identifiers an
// engine cannot resolve fall back to a no-op, so an unregistered service
// task passes through without effect.
type Registry struct {
	mu         sync.RWMutex
	handlers   map[string]HandlerFunc
	middleware []Middleware
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		handlers: make(map[string]HandlerFunc),
	}
}

// Register adds a handler under the given identifier. Registering the
// same identifier again overwrites the previous handler.
func (r *Registry) Register(name string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// Lookup returns the handler registered under name, wrapped in the
// installed middleware chain.
func (r *Registry) Lookup(name string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	if !ok {
		return nil, false
	}
	return r.wrap(name, h), true
}

// Names returns the registered identifiers in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
