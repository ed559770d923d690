package pubsub

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type topicKey struct {
	kind Kind
	name string
}

type memorySub struct {
	id      string
	key     topicKey
	handler Handler
}

// MemorySource implements Source with in-process maps.
//
// Delivery is synchronous: handlers run on the publisher's goroutine,
// in the exact call context that produced the occurrence. A handler
// that needs to defer work must arrange that itself.
type MemorySource struct {
	mu     sync.RWMutex
	closed bool
	topics map[topicKey]map[string]*memorySub // (kind, name) -> subID -> sub
	subs   map[string]*memorySub              // subID -> sub, for fast unsubscribe
}

// NewMemorySource creates a new in-memory occurrence source.
func NewMemorySource() *MemorySource {
	return &MemorySource{
		topics: make(map[topicKey]map[string]*memorySub),
		subs:   make(map[string]*memorySub),
	}
}

// Subscribe registers handler for occurrences of name within kind.
func (m *MemorySource) Subscribe(ctx context.Context, kind Kind, name string, handler Handler) (string, error) {
	if name == "" {
		return "", ErrEmptyName
	}
	if handler == nil {
		return "", ErrNilHandler
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return "", ErrClosed
	}

	sub := &memorySub{
		id:      uuid.NewString(),
		key:     topicKey{kind: kind, name: name},
		handler: handler,
	}
	if _, ok := m.topics[sub.key]; !ok {
		m.topics[sub.key] = make(map[string]*memorySub)
	}
	m.topics[sub.key][sub.id] = sub
	m.subs[sub.id] = sub

	log.Debug().Str("subscription_id", sub.id).Str("kind", kind.String()).Str("name", name).Msg("subscription created")
	return sub.id, nil
}

// Unsubscribe removes a subscription. Unknown IDs are a no-op.
func (m *MemorySource) Unsubscribe(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subs[id]
	if !ok {
		return nil // already gone
	}
	delete(m.subs, id)
	if topicSubs, ok := m.topics[sub.key]; ok {
		delete(topicSubs, id)
		if len(topicSubs) == 0 {
			delete(m.topics, sub.key)
		}
	}

	log.Debug().Str("subscription_id", id).Str("kind", sub.key.kind.String()).Str("name", sub.key.name).Msg("subscription removed")
	return nil
}

// Publish delivers one occurrence to every subscriber of (kind, name).
// Handlers are invoked one after another on the calling goroutine.
func (m *MemorySource) Publish(ctx context.Context, kind Kind, name string, arg any) error {
	if name == "" {
		return ErrEmptyName
	}

	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	topicSubs := m.topics[topicKey{kind: kind, name: name}]
	handlers := make([]Handler, 0, len(topicSubs))
	for _, sub := range topicSubs {
		handlers = append(handlers, sub.handler)
	}
	m.mu.RUnlock() // release before invoking handlers, they may re-subscribe

	for _, h := range handlers {
		h(arg)
	}
	return nil
}

// Close shuts the source down. Subsequent Subscribe and Publish calls
// fail with ErrClosed.
func (m *MemorySource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	m.topics = make(map[topicKey]map[string]*memorySub)
	m.subs = make(map[string]*memorySub)

	log.Info().Msg("memory occurrence source closed")
	return nil
}

// Ensure MemorySource implements the Source interface.
var _ Source = (*MemorySource)(nil)
