package mock

import (
	"context"
	"sync"

	"github.com/poiesic/vitae/ai"
)

// MockCompleter is a test double for ai.Completer.
// It allows custom behavior injection via function fields and records
// every request it receives for later assertions.
type MockCompleter struct {
	// CompleteFunc is called by Complete if set.
	// If nil, Complete returns Response unchanged.
	CompleteFunc func(ctx context.Context, req ai.Request) (string, error)

	// Response is the canned reply used when CompleteFunc is nil.
	Response string

	mu        sync.Mutex
	callCount int
	requests  []ai.Request
}

var _ ai.Completer = (*MockCompleter)(nil)

// NewMockCompleter creates a mock completer that replies with an empty
// JSON object by default.
// Note: Returns concrete type to allow test assertions.
func NewMockCompleter() *MockCompleter {
	return &MockCompleter{Response: "{}"}
}

// Complete records the request and returns the configured response.
func (m *MockCompleter) Complete(ctx context.Context, req ai.Request) (string, error) {
	m.mu.Lock()
	m.callCount++
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, req)
	}
	return m.Response, nil
}

// CallCount returns the number of times Complete was called.
func (m *MockCompleter) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// Requests returns a copy of every request received, in order.
func (m *MockCompleter) Requests() []ai.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ai.Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// Reset clears recorded calls and custom functions.
func (m *MockCompleter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount = 0
	m.requests = nil
	m.CompleteFunc = nil
}
