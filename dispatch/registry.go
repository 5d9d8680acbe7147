package dispatch

import (
	"sync"

	"github.com/fenmoor/agentcore/event"
)

// HandlerFunc is the callable a handler registers for a topic. sync lets
// the handler cooperate with preemption (ShouldSuspend/ConfirmSuspended)
// and mark itself as the origin of a shutdown syscall.
type HandlerFunc func(e event.Event, sync *HandlerSync)

// Registry maps a topic to at most one handler. It is
// mutated only during agent setup and plugin enable/disable; the
// dispatcher only reads it, so reads and writes both take the same mutex
// to guarantee visibility across goroutines.
type Registry struct {
	mu       sync.RWMutex
	handlers map[event.Topic]HandlerFunc
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[event.Topic]HandlerFunc)}
}

// Subscribe replaces any existing handler for topic.
func (r *Registry) Subscribe(topic event.Topic, h HandlerFunc) {
	r.mu.Lock()
	r.handlers[topic] = h
	r.mu.Unlock()
}

// Unsubscribe clears the handler for topic. A no-op if none was set.
func (r *Registry) Unsubscribe(topic event.Topic) {
	r.mu.Lock()
	delete(r.handlers, topic)
	r.mu.Unlock()
}

// Lookup returns the handler registered for topic, if any.
func (r *Registry) Lookup(topic event.Topic) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[topic]
	return h, ok
}

// Topics returns every topic with a handler currently registered.
func (r *Registry) Topics() []event.Topic {
	r.mu.RLock()
	defer r.mu.RUnlock()
	topics := make([]event.Topic, 0, len(r.handlers))
	for t := range r.handlers {
		topics = append(topics, t)
	}
	return topics
}
