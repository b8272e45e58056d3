// Package registry implements the per-stream action→handler map consulted
// by the processor on every dispatch.
package registry

import (
	"sync"

	"github.com/rivulex/rivulex-go/internal/event"
)

// Handler processes one delivered event. It returns an error to signal a
// failed attempt.
type Handler func(ctx event.Context, e event.Event) error

// Registry maps stream -> action -> handler. Registration is last-writer-
// wins. Lookup is exact-match only; there is no wildcard semantics —
// deliberately unsupported.
//
// Registration is expected to happen before Listen; Lookup and ActionsFor
// are safe for concurrent use with concurrent Register calls regardless,
// and the subscriber supervisor hands its consumers a copy taken at Listen
// time.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]map[string]Handler
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{handlers: make(map[string]map[string]Handler)}
}

// Register binds action on stream to h, replacing any previous handler for
// the same (stream, action) pair.
func (r *Registry) Register(stream, action string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	actions, ok := r.handlers[stream]
	if !ok {
		actions = make(map[string]Handler)
		r.handlers[stream] = actions
	}
	actions[action] = h
}

// Lookup returns the handler registered for (stream, action), if any.
func (r *Registry) Lookup(stream, action string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	actions, ok := r.handlers[stream]
	if !ok {
		return nil, false
	}
	h, ok := actions[action]
	return h, ok
}

// Streams returns the set of streams with at least one registered handler.
func (r *Registry) Streams() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	streams := make([]string, 0, len(r.handlers))
	for s := range r.handlers {
		streams = append(streams, s)
	}
	return streams
}

// ActionsFor returns a snapshot copy of the action->handler map registered
// for stream, for handing to a consumer loop.
func (r *Registry) ActionsFor(stream string) map[string]Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src := r.handlers[stream]
	dst := make(map[string]Handler, len(src))
	for action, h := range src {
		dst[action] = h
	}
	return dst
}
