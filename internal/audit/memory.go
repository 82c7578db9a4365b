package audit

import (
	"context"
	"slices"
	"sync"
)

// MemorySink keeps events in process. Used in development and tests.
type MemorySink struct {
	mu     sync.RWMutex
	events []Event
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (m *MemorySink) Append(_ context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

// ListByClient returns the events recorded for one client, oldest first.
func (m *MemorySink) ListByClient(_ context.Context, clientID string) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Event
	for _, e := range m.events {
		if e.ClientID == clientID {
			out = append(out, e)
		}
	}
	return out
}

// All returns a copy of every recorded event.
func (m *MemorySink) All() []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.events)
}
