package analytics

import (
	"context"
	"sync"
)

var (
	_ Recorder = (*Analytics)(nil)
	_ Recorder = (*MockAnalytics)(nil)
)

// MockAnalytics is an in-memory Recorder for tests.
type MockAnalytics struct {
	mu     sync.Mutex
	events []Event
	// Err, when set, is returned by RecordServed instead of storing.
	Err error
}

// NewMockAnalytics creates a new mock analytics instance
func NewMockAnalytics() *MockAnalytics {
	return &MockAnalytics{}
}

// RecordServed stores the events in memory.
func (m *MockAnalytics) RecordServed(_ context.Context, events []Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.events = append(m.events, events...)
	return nil
}

// Events returns a copy of everything recorded so far.
func (m *MockAnalytics) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}
