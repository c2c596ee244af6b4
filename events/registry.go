package events

import (
	"context"
	"strings"
	"sync"
)

// Handler processes one event. Handlers must be idempotent: delivery is
// at-least-once and replay re-runs them.
type Handler interface {
	// Name identifies the handler; consumer endpoints reference it as
	// "Name" or "Name::detail".
	Name() string
	// CanHandle reports whether the handler claims the event name.
	CanHandle(eventName string) bool
	// Handle processes the event. A returned error reschedules the
	// consumer with backoff.
	Handle(ctx context.Context, ev *Event) error
}

// Registry maps event names to ordered handler lists. Registration happens
// at boot only; lookups afterwards are read-mostly.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string][]Handler)}
}

// Register subscribes the handler to an event name. Registration is
// additive; the same handler may claim several names.
func (r *Registry) Register(eventName string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[eventName] = append(r.handlers[eventName], h)
}

// HandlersFor returns the ordered handlers registered for the event name.
func (r *Registry) HandlersFor(eventName string) []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	hs := r.handlers[eventName]
	out := make([]Handler, len(hs))
	copy(out, hs)
	return out
}

// Endpoints returns the endpoint names to fan an event out to: one per
// handler that claims the event name.
func (r *Registry) Endpoints(eventName string) []string {
	var out []string
	for _, h := range r.HandlersFor(eventName) {
		if h.CanHandle(eventName) {
			out = append(out, h.Name())
		}
	}
	return out
}

// Resolve finds the handler a consumer endpoint refers to, intersected with
// the handlers registered for the event name. Endpoints carry an optional
// "::detail" suffix which does not participate in matching.
func (r *Registry) Resolve(endpoint, eventName string) (Handler, bool) {
	name := endpoint
	if i := strings.Index(endpoint, "::"); i >= 0 {
		name = endpoint[:i]
	}
	for _, h := range r.HandlersFor(eventName) {
		if h.Name() == name && h.CanHandle(eventName) {
			return h, true
		}
	}
	return nil, false
}
