// Package retained implements the broker's retained-message store
// (C6): an exact-topic map with last-writer-wins semantics and
// delete-on-empty-payload, queried by filter at subscribe time.
package retained

import (
	"sync"

	"github.com/goqttd/goqttd/internal/packet"
	"github.com/goqttd/goqttd/internal/topic"
)

// Store holds one retained message per exact topic name.
type Store struct {
	mu       sync.RWMutex
	messages map[string]*packet.ApplicationMessage
}

func NewStore() *Store {
	return &Store{messages: make(map[string]*packet.ApplicationMessage)}
}

// Set applies a publish with the RETAIN flag set: an empty payload
// deletes any retained message for the topic, otherwise it replaces
// whatever was retained there.
func (s *Store) Set(msg *packet.ApplicationMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(msg.Payload) == 0 {
		delete(s.messages, msg.Topic)
		return
	}
	cp := *msg
	cp.Payload = append([]byte(nil), msg.Payload...)
	s.messages[msg.Topic] = &cp
}

// Match returns every retained message whose topic matches filter,
// for delivery immediately after a SUBSCRIBE is accepted.
func (s *Store) Match(filter string) []*packet.ApplicationMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*packet.ApplicationMessage
	for name, msg := range s.messages {
		if topic.Matches(filter, name) {
			out = append(out, msg)
		}
	}
	return out
}

// Get returns the retained message for an exact topic name, if any.
func (s *Store) Get(name string) (*packet.ApplicationMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.messages[name]
	return msg, ok
}

// Len reports the number of topics currently holding a retained
// message.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}
