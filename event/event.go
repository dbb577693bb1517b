// Package event implements the publish/subscribe Observer surface used by
// tasks, jobs, and the scheduler: a subscriber registers a callback under
// an event name, handlers for a given event fire serially in
// registration order, and a handler may detach itself mid-dispatch without
// disturbing the iteration because the handler list is snapshotted before
// dispatch.
package event

import "sync"

// Handler receives the payload of a single emitted event.
type Handler func(payload any)

// Emitter is a minimal, mutex-protected pub/sub hub. The zero value is not
// usable; construct with New.
type Emitter struct {
	mu       sync.Mutex
	handlers map[string][]Handler
}

// New returns a ready-to-use Emitter.
func New() *Emitter {
	return &Emitter{handlers: make(map[string][]Handler)}
}

// On registers handler to be invoked whenever name is emitted.
func (e *Emitter) On(name string, handler Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[name] = append(e.handlers[name], handler)
}

// Off removes every handler registered for name. There is no per-handler
// detach by design: callers that need that distinguish themselves by
// closing over a "detached" flag checked at the top of the handler, the way
// the scheduler does when it tears down per-task listeners.
func (e *Emitter) Off(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.handlers, name)
}

// Clear removes every handler for every event name.
func (e *Emitter) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = make(map[string][]Handler)
}

// Emit dispatches payload to every handler registered for name, in
// registration order. The handler slice is copied under the lock so a
// handler that calls On/Off/Clear during its own execution never mutates
// the slice being iterated.
func (e *Emitter) Emit(name string, payload any) {
	e.mu.Lock()
	snapshot := make([]Handler, len(e.handlers[name]))
	copy(snapshot, e.handlers[name])
	e.mu.Unlock()

	for _, h := range snapshot {
		h(payload)
	}
}
