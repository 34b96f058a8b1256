package llm

import (
	"context"
	"sync"
)

// MockClient is a CompletionClient for tests and offline operation.
// Responses are consumed in order; the last one repeats. A non-nil Err makes
// every call fail, which exercises the deterministic fallback paths.
type MockClient struct {
	mu        sync.Mutex
	Responses []string
	Err       error
	calls     int
}

var _ CompletionClient = (*MockClient)(nil)

// NewMockClient creates a mock that always returns response.
func NewMockClient(response string) *MockClient {
	return &MockClient{Responses: []string{response}}
}

// Complete returns the next scripted response.
func (m *MockClient) Complete(ctx context.Context, system, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	if len(m.Responses) == 0 {
		return "[MOCK] no scripted response", nil
	}
	i := m.calls
	if i >= len(m.Responses) {
		i = len(m.Responses) - 1
	}
	m.calls++
	return m.Responses[i], nil
}

// Calls reports how many completions were requested.
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
