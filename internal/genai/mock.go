package genai

import (
	"context"
	"sync"

	"github.com/openai/openai-go"
)

// MockClient implements ClientInterface for tests. Responses are returned
// in order; when the list is exhausted, Response is returned.
type MockClient struct {
	mu        sync.Mutex
	Response  string
	Responses []string
	Err       error
	Prompts   []string
	calls     int
}

// GeneratePrompt records the prompts and returns the scripted response.
func (m *MockClient) GeneratePrompt(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Prompts = append(m.Prompts, systemPrompt, userPrompt)
	return m.nextLocked()
}

// GenerateWithMessages returns the scripted response.
func (m *MockClient) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextLocked()
}

func (m *MockClient) nextLocked() (string, error) {
	if m.Err != nil {
		return "", m.Err
	}
	defer func() { m.calls++ }()
	if m.calls < len(m.Responses) {
		return m.Responses[m.calls], nil
	}
	return m.Response, nil
}

// Calls returns how many generations were requested.
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
