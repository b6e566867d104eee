package app

import (
	"sync"

	"marketplace_chat/internal/chat/repository"
)

// HandlerRegistry remembers every event subscription independently of
// any physical transport. Subscription membership is the durable fact;
// attachment to a transport instance is a derived, idempotent side
// effect replayed after each (re)connect. Go funcs are not comparable,
// so idempotency is keyed by a caller-chosen subscription key.
type HandlerRegistry struct {
	mu       sync.Mutex
	handlers map[string]map[string]repository.EventHandler
}

// NewHandlerRegistry creates an empty registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		handlers: make(map[string]map[string]repository.EventHandler),
	}
}

// Add registers a handler under (event, key). Returns false for a
// duplicate registration, which is a no-op.
func (r *HandlerRegistry) Add(event, key string, h repository.EventHandler) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handlers[event] == nil {
		r.handlers[event] = make(map[string]repository.EventHandler)
	}
	if _, exists := r.handlers[event][key]; exists {
		return false
	}
	r.handlers[event][key] = h
	return true
}

// Remove drops a handler and prunes the event entry when no handlers
// remain for it.
func (r *HandlerRegistry) Remove(event, key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	hs, ok := r.handlers[event]
	if !ok {
		return false
	}
	if _, exists := hs[key]; !exists {
		return false
	}
	delete(hs, key)
	if len(hs) == 0 {
		delete(r.handlers, event)
	}
	return true
}

// AttachAll binds every registered handler to a fresh transport
// instance. Transports do not preserve listeners across a reconnect.
func (r *HandlerRegistry) AttachAll(t repository.Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for event, hs := range r.handlers {
		for key, h := range hs {
			t.On(event, key, h)
		}
	}
}

// Clear drops every subscription.
func (r *HandlerRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = make(map[string]map[string]repository.EventHandler)
}

// Len reports the number of registered handlers across all events.
func (r *HandlerRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, hs := range r.handlers {
		n += len(hs)
	}
	return n
}
