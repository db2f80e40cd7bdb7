// Package broker fans engagement events out to the connections watching a user.
package broker

import (
	"context"
	"sync"

	"discover-engine/internal/wire"
)

// Handler receives events for one user. It must not block.
type Handler func(wire.EngagementEvent)

// Broker publishes engagement events and delivers them to subscribers.
type Broker interface {
	// Publish delivers ev to every handler subscribed to ev.UserID.
	Publish(ctx context.Context, ev wire.EngagementEvent) error
	// Subscribe registers h for userID until the returned cancel is called.
	Subscribe(userID string, h Handler) (cancel func())
	Close() error
}

// Memory is an in-process Broker.
type Memory struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[string]map[uint64]Handler // keyed by user id
	closed bool
}

// NewMemory creates an in-process broker.
func NewMemory() *Memory {
	return &Memory{subs: make(map[string]map[uint64]Handler)}
}

// Compile-time interface check.
var _ Broker = (*Memory)(nil)

// Publish delivers ev synchronously to the user's handlers.
func (m *Memory) Publish(_ context.Context, ev wire.EngagementEvent) error {
	m.deliver(ev)
	return nil
}

func (m *Memory) deliver(ev wire.EngagementEvent) {
	m.mu.RLock()
	handlers := make([]Handler, 0, len(m.subs[ev.UserID]))
	for _, h := range m.subs[ev.UserID] {
		handlers = append(handlers, h)
	}
	m.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}

// Subscribe registers h for userID. Subscribing after Close is a no-op.
func (m *Memory) Subscribe(userID string, h Handler) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return func() {}
	}

	m.nextID++
	id := m.nextID
	if m.subs[userID] == nil {
		m.subs[userID] = make(map[uint64]Handler)
	}
	m.subs[userID][id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.subs[userID], id)
			if len(m.subs[userID]) == 0 {
				delete(m.subs, userID)
			}
		})
	}
}

// Subscribers returns the number of handlers registered for userID.
func (m *Memory) Subscribers(userID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs[userID])
}

// Close drops every subscription.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.subs = make(map[string]map[uint64]Handler)
	return nil
}
