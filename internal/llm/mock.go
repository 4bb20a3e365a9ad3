package llm

import "context"

// MockClient allows tests without calling a real LLM.
type MockClient struct {
	Response  string
	Err       error
	LastInput ChatInput
	Calls     int
}

func (m *MockClient) Chat(_ context.Context, input ChatInput) (string, error) {
	m.LastInput = input
	m.Calls++
	return m.Response, m.Err
}
