package mocks

import (
	"context"
	"sync"

	"github.com/RezaEskandarii/taskrelay/types"
)

type PushedEvent struct {
	ConnectionID string
	Event        types.PushEvent
}

// MockResultPusher records every push. PushFunc, when set, decides the returned error.
type MockResultPusher struct {
	PushFunc func(ctx context.Context, connectionID string, event types.PushEvent) error

	mu     sync.Mutex
	pushed []PushedEvent
}

func (m *MockResultPusher) Push(ctx context.Context, connectionID string, event types.PushEvent) error {
	m.mu.Lock()
	m.pushed = append(m.pushed, PushedEvent{ConnectionID: connectionID, Event: event})
	m.mu.Unlock()
	if m.PushFunc != nil {
		return m.PushFunc(ctx, connectionID, event)
	}
	return nil
}

func (m *MockResultPusher) Pushed() []PushedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PushedEvent(nil), m.pushed...)
}
