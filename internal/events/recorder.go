package events

import (
	"context"
	"sync"
)

// Message is one publish captured by a Recorder.
type Message struct {
	RoutingKey string
	Body       interface{}
}

// Recorder keeps published messages in memory. Tests use it to observe what
// the services emit.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

func (r *Recorder) Publish(ctx context.Context, routingKey string, body interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, Message{RoutingKey: routingKey, Body: body})
	return nil
}

func (r *Recorder) Close() {}

func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

// Keys returns the routing keys in publish order.
func (r *Recorder) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.messages))
	for _, m := range r.messages {
		keys = append(keys, m.RoutingKey)
	}
	return keys
}
