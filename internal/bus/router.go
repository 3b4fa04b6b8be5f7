package bus

import (
	"context"
	"sync"
)

// Handler is a unit of pipeline work bound to one topic. Handle returns the
// follow-up messages to publish; errors are returned, never panicked, so the
// runtime can decide whether the pipeline continues.
type Handler interface {
	Name() string
	Handle(ctx context.Context, msg Message) ([]Message, error)
}

// Router maps topics to registered handlers. Registration happens at startup;
// lookups are safe for concurrent use.
type Router struct {
	mu       sync.RWMutex
	handlers map[Topic][]Handler
}

// NewRouter creates an empty Router.
func NewRouter() *Router {
	return &Router{handlers: make(map[Topic][]Handler)}
}

// Register adds a handler for a topic. Multiple handlers per topic are
// allowed and all are invoked on publish, in registration order.
func (r *Router) Register(topic Topic, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[topic] = append(r.handlers[topic], h)
}

// HandlersFor returns the handlers registered for a topic.
func (r *Router) HandlersFor(topic Topic) []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[topic]
}

// Topics returns all topics with at least one handler.
func (r *Router) Topics() []Topic {
	r.mu.RLock()
	defer r.mu.RUnlock()
	topics := make([]Topic, 0, len(r.handlers))
	for t := range r.handlers {
		topics = append(topics, t)
	}
	return topics
}
