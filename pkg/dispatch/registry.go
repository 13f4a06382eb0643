// Package dispatch routes authenticated commands to backend service
// handlers and owns the error taxonomy between the two: every handler
// failure leaves here as a typed envelope error, and the dispatcher's trap
// is the only place a panic becomes a response.
package dispatch

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Handler is one backend service: a pure (action, params) capability.
// Handlers must not write audit entries or read secrets outside the config
// accessor, and they report domain failures as values, never panics.
type Handler interface {
	Handle(ctx context.Context, action string, params map[string]any) (any, error)
	// Actions lists the action names the handler accepts, for health
	// listing.
	Actions() []string
}

// Registry maps lowercased service names to handlers. It is populated once
// during startup and read-only afterwards, so lookups need no lock.
// Register panics on a duplicate: a wiring mistake should kill the boot,
// not surface per request.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler under service. The name is lowercased.
func (r *Registry) Register(service string, h Handler) {
	key := strings.ToLower(strings.TrimSpace(service))
	if key == "" {
		panic("dispatch: register with empty service name")
	}
	if h == nil {
		panic(fmt.Sprintf("dispatch: register %q with nil handler", key))
	}
	if _, dup := r.handlers[key]; dup {
		panic(fmt.Sprintf("dispatch: duplicate service %q", key))
	}
	r.handlers[key] = h
}

// Resolve looks up the handler for service (case-insensitive).
func (r *Registry) Resolve(service string) (Handler, bool) {
	h, ok := r.handlers[strings.ToLower(strings.TrimSpace(service))]
	return h, ok
}

// Services returns the registered service names, sorted.
func (r *Registry) Services() []string {
	out := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
