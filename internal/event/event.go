// Package event defines the in-memory event representation handed to user
// handlers, including the one-shot ack capability bound to its delivery.
package event

import "context"

// Event is the in-memory representation of one delivered record. Headers
// and Payload are decoded by internal/codec; Ack is bound to this specific
// delivery's (stream, group, id) by the processor before the handler runs.
type Event struct {
	ID      string
	Stream  string
	Action  string
	Attempt int
	Headers map[string]string
	Payload []byte

	// Ack acknowledges this delivery. It is idempotent: the first call
	// performs xack; later calls are no-ops.
	Ack func() error
}

// Context is passed to handlers alongside the Event. A timed-out handler
// is never cancelled; Context.Done() fires only when the owning
// subscriber is stopped entirely, never on a per-event process timeout.
// The processor sets no per-event deadline on it, so Deadline() does not
// report the process timeout.
type Context struct {
	context.Context
}

// NewContext wraps ctx for delivery to a handler.
func NewContext(ctx context.Context) Context {
	return Context{Context: ctx}
}
