package mocks

import (
	"context"
	"strings"
	"sync"

	"lessonforge/pkg/agent/llm"
)

// MockLLMClient implements llm.LLMClient for testing.
// It provides configurable behavior for Complete.
//
//nolint:govet // fieldalignment: mock struct layout optimized for readability
type MockLLMClient struct {
	// CompleteFunc is called when Complete is invoked. Override to customize behavior.
	CompleteFunc func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error)

	// CompleteCalls tracks all calls to Complete for verification.
	CompleteCalls []llm.CompletionRequest

	// modelName is the model name returned by GetModelName.
	modelName string

	// mu protects call tracking slices and scripted state
	mu sync.Mutex
}

// NewMockLLMClient creates a new mock LLM client with default behavior.
// Default behavior: Complete returns "Mock response".
func NewMockLLMClient() *MockLLMClient {
	m := &MockLLMClient{
		modelName: "mock-model",
	}
	m.CompleteFunc = func(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
		return llm.CompletionResponse{
			Content:    "Mock response",
			StopReason: "end_turn",
		}, nil
	}
	return m
}

// Complete implements llm.LLMClient.
func (m *MockLLMClient) Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	m.mu.Lock()
	m.CompleteCalls = append(m.CompleteCalls, req)
	fn := m.CompleteFunc
	m.mu.Unlock()
	return fn(ctx, req)
}

// GetModelName implements llm.LLMClient.
func (m *MockLLMClient) GetModelName() string {
	return m.modelName
}

// --- Configuration methods ---

// SetModelName sets the model name returned by GetModelName.
func (m *MockLLMClient) SetModelName(name string) {
	m.modelName = name
}

// OnComplete sets a custom handler for Complete calls.
func (m *MockLLMClient) OnComplete(fn func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CompleteFunc = fn
}

// --- Inspection ---

// CallCount returns the number of Complete calls so far.
func (m *MockLLMClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.CompleteCalls)
}

// Prompts returns the text of the first message of every call, in order.
func (m *MockLLMClient) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.CompleteCalls))
	for i := range m.CompleteCalls {
		if len(m.CompleteCalls[i].Messages) > 0 {
			out = append(out, m.CompleteCalls[i].Messages[0].Content)
		}
	}
	return out
}

// --- Error simulation helpers ---

// FailCompleteWith configures Complete to return the specified error.
func (m *MockLLMClient) FailCompleteWith(err error) {
	m.OnComplete(func(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
		return llm.CompletionResponse{}, err
	})
}

// --- Response helpers ---

// RespondWith configures Complete to return the specified content.
func (m *MockLLMClient) RespondWith(content string) {
	m.OnComplete(func(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
		return llm.CompletionResponse{
			Content:    content,
			StopReason: "end_turn",
		}, nil
	})
}

// RespondWithSequence configures Complete to return different responses for each call.
// Returns the last one for any additional calls.
func (m *MockLLMClient) RespondWithSequence(responses ...string) {
	callIndex := 0
	m.OnComplete(func(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		content := responses[len(responses)-1]
		if callIndex < len(responses) {
			content = responses[callIndex]
			callIndex++
		}
		return llm.CompletionResponse{Content: content, StopReason: "end_turn"}, nil
	})
}

// Rule maps a prompt substring to a canned answer.
type Rule struct {
	Contains string
	Response string
	Err      error
}

// RespondByPrompt answers each call with the first rule whose Contains is a
// substring of the prompt, or fallback when none matches. Safe for
// concurrent callers, which makes it the usual choice for multi-scene tests.
func (m *MockLLMClient) RespondByPrompt(fallback string, rules ...Rule) {
	m.OnComplete(func(_ context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
		var prompt string
		for i := range req.Messages {
			prompt += req.Messages[i].Content + "\n"
		}
		for _, r := range rules {
			if strings.Contains(prompt, r.Contains) {
				if r.Err != nil {
					return llm.CompletionResponse{}, r.Err
				}
				return llm.CompletionResponse{Content: r.Response, StopReason: "end_turn"}, nil
			}
		}
		return llm.CompletionResponse{Content: fallback, StopReason: "end_turn"}, nil
	})
}

// PythonBlock wraps code in the fence the synthesizer extracts.
func PythonBlock(code string) string {
	return "Here is the scene:\n```python\n" + code + "\n```\n"
}
