package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/spotlabs/spot-sagas/internal/pkg/storage"
)

// Memory is the in-memory Store used by tests. It ignores the Querier since
// there is no transaction to join.
type Memory struct {
	mu     sync.Mutex
	nextID int64
	events []Event
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Append(_ context.Context, _ storage.Querier, topic string, payload any) error {
	body, err := marshalPayload(topic, payload)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.events = append(m.events, Event{
		ID:        m.nextID,
		Topic:     topic,
		Payload:   body,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (m *Memory) Pending(_ context.Context, limit int) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, ev := range m.events {
		if ev.PublishedAt == nil {
			out = append(out, ev)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) MarkPublished(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	for i := range m.events {
		if m.events[i].ID == id {
			m.events[i].PublishedAt = &now
		}
	}
	return nil
}

func (m *Memory) DeletePublishedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.events[:0]
	var removed int64
	for _, ev := range m.events {
		if ev.PublishedAt != nil && ev.PublishedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, ev)
	}
	m.events = kept
	return removed, nil
}

// All returns every stored event; test helper.
func (m *Memory) All() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}
