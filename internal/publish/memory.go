package publish

import (
	"context"
	"fmt"
	"sync"
)

// Event is one captured publication.
type Event struct {
	Topic   string
	Payload any
}

// Memory records events in process, for development and tests.
type Memory struct {
	mu     sync.Mutex
	events []Event
	seq    int
}

// NewMemory constructs an empty recorder.
func NewMemory() *Memory { return &Memory{} }

// Publish records the event and returns a synthetic message ID.
func (m *Memory) Publish(_ context.Context, topic string, payload any) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	m.events = append(m.events, Event{Topic: topic, Payload: payload})
	return fmt.Sprintf("mem-%d", m.seq), nil
}

// Events returns a copy of everything published so far.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }
