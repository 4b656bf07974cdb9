package port

import (
	"sync"

	"github.com/wbjohnston/matchbook/internal/message"
)

// registry is the participant channel map from spec.md §5: a readers-writer
// lock protects it, with the multicast RX loop as the sole reader (one
// lookup per incoming message) and session handlers as the sole writers
// (insert at logon, remove at teardown), grounded on the teacher's
// SubscriptionSet RWMutex pattern in connection.go.
type registry struct {
	mu       sync.RWMutex
	channels map[string]chan message.Message
}

func newRegistry() *registry {
	return &registry{channels: make(map[string]chan message.Message)}
}

func (r *registry) register(topic string, ch chan message.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[topic] = ch
}

func (r *registry) remove(topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.channels, topic)
}

func (r *registry) lookup(topic string) (chan message.Message, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[topic]
	return ch, ok
}
