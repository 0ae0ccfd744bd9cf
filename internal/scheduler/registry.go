package scheduler

import (
	"context"
	"sort"
	"sync"
)

// Handler performs the work of a schedule. It receives the schedule's
// action_config verbatim and must honour ctx cancellation.
type Handler func(ctx context.Context, config map[string]any) (any, error)

// Registry maps action types to handlers.
type Registry struct {
	handlers map[string]Handler
	mu       sync.RWMutex
}

// NewRegistry creates an empty action registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register binds actionType to handler, replacing any previous binding.
func (r *Registry) Register(actionType string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[actionType] = handler
}

// Resolve returns the handler for actionType.
func (r *Registry) Resolve(actionType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handler, ok := r.handlers[actionType]
	return handler, ok
}

// Types returns the registered action types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]string, 0, len(r.handlers))
	for actionType := range r.handlers {
		result = append(result, actionType)
	}
	sort.Strings(result)
	return result
}
