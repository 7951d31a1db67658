package events

import (
	"sync"

	"capsupply/core/types"
)

// Event represents a structured state change emitted by the engine.
type Event interface {
	EventType() string
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. the audit log).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// MultiEmitter fans each event out to every wrapped emitter in order.
type MultiEmitter []Emitter

// Emit implements the Emitter interface.
func (m MultiEmitter) Emit(e Event) {
	for _, emitter := range m {
		if emitter != nil {
			emitter.Emit(e)
		}
	}
}

// Recorder keeps every emitted event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []types.Event
}

// Emit implements the Emitter interface.
func (r *Recorder) Emit(e Event) {
	if r == nil || e == nil {
		return
	}
	rendered := e.Event()
	if rendered == nil {
		return
	}
	r.mu.Lock()
	r.events = append(r.events, *rendered)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType filters the recorded events by type.
func (r *Recorder) OfType(kind string) []types.Event {
	var out []types.Event
	for _, evt := range r.Events() {
		if evt.Type == kind {
			out = append(out, evt)
		}
	}
	return out
}
