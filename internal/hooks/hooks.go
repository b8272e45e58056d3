// Package hooks implements the in-process lifecycle event bus used by the
// publisher (published, failed) and the subscriber (confirmed, rejected,
// timeout, failed): a typed registry of named listener slots in place of a
// dynamic event emitter.
package hooks

import (
	"log"
	"sync"
)

// Name identifies a lifecycle hook.
type Name string

const (
	Published Name = "published"
	Failed    Name = "failed"
	Confirmed Name = "confirmed"
	Rejected  Name = "rejected"
	Timeout   Name = "timeout"
)

// Listener receives a hook payload. The payload's concrete type is
// documented per Name by the emitting package (publisher.PublishedPayload,
// processor.ConfirmedPayload, and so on); listeners type-assert as needed.
type Listener func(payload interface{})

// Bus is a named in-process publish/subscribe registry. Construct it with
// New; the zero value has no listener map and is not usable. A Bus is safe
// for concurrent registration and emission:
// emission takes a snapshot of the listener slice under lock before
// invoking it, so Subscribers registered mid-emission are never a race.
type Bus struct {
	mu        sync.RWMutex
	listeners map[Name][]Listener
	logger    *log.Logger
}

// New returns a ready-to-use Bus. logger may be nil, in which case
// log.Default() is used for listener-panic diagnostics.
func New(logger *log.Logger) *Bus {
	if logger == nil {
		logger = log.Default()
	}
	return &Bus{listeners: make(map[Name][]Listener), logger: logger}
}

// On registers l to be called whenever name is emitted. Listeners
// registered before Listen/Publish are guaranteed to observe all
// subsequent emissions.
func (b *Bus) On(name Name, l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners[name] = append(b.listeners[name], l)
}

// Emit delivers payload synchronously, in registration order, to every
// listener registered for name. A listener that panics is recovered and
// logged; it never reaches the engine that triggered the emission.
func (b *Bus) Emit(name Name, payload interface{}) {
	b.mu.RLock()
	snapshot := make([]Listener, len(b.listeners[name]))
	copy(snapshot, b.listeners[name])
	b.mu.RUnlock()

	for _, l := range snapshot {
		b.invoke(name, l, payload)
	}
}

func (b *Bus) invoke(name Name, l Listener, payload interface{}) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Printf("ERROR: hook listener for %q panicked: %v", name, r)
		}
	}()
	l(payload)
}
