// Package realtime is the push side of the console: a handler registry keyed
// by event name, the decoder that turns loose payloads into typed events, and
// the websocket channel that feeds them.
package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/example/driver-console-sync/internal/observability"
)

type Handler func(Event)

// HandlerID identifies one registration so it can be removed on its own.
type HandlerID uint64

type registration struct {
	id HandlerID
	fn Handler
}

type Router struct {
	mu       sync.RWMutex
	handlers map[string][]registration
	next     HandlerID
	logger   *slog.Logger
}

func NewRouter(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{handlers: make(map[string][]registration), logger: logger}
}

// On registers h for event and returns its id.
func (r *Router) On(event string, h Handler) HandlerID {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.handlers[event] = append(r.handlers[event], registration{id: r.next, fn: h})
	return r.next
}

// Off removes the given handlers for event, or every handler for event when
// no ids are given.
func (r *Router) Off(event string, ids ...HandlerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(ids) == 0 {
		delete(r.handlers, event)
		return
	}
	drop := make(map[HandlerID]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := r.handlers[event][:0:0]
	for _, reg := range r.handlers[event] {
		if !drop[reg.id] {
			kept = append(kept, reg)
		}
	}
	if len(kept) == 0 {
		delete(r.handlers, event)
		return
	}
	r.handlers[event] = kept
}

func (r *Router) Count(event string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[event])
}

// Dispatch decodes one inbound event and runs its handlers in registration
// order. A payload that cannot be decoded is dropped without reaching any
// handler.
func (r *Router) Dispatch(name string, data json.RawMessage) {
	r.mu.RLock()
	regs := append([]registration(nil), r.handlers[name]...)
	r.mu.RUnlock()
	observability.EventsReceived.WithLabelValues(name).Inc()
	if len(regs) == 0 {
		return
	}
	ev, err := Decode(name, data)
	if err != nil {
		observability.RecordsDropped.WithLabelValues("malformed_event").Inc()
		r.logger.Debug("dropping event", "event", name, "error", err)
		return
	}
	for _, reg := range regs {
		r.call(name, reg, ev)
	}
}

func (r *Router) call(name string, reg registration, ev Event) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("event handler panicked", "event", name, "handler", reg.id, "panic", p)
		}
	}()
	reg.fn(ev)
}
