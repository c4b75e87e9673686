package llm

import (
	"context"
	"encoding/json"
)

// MockClient is a configurable LLM client for testing.
// Set Response to the JSON that should be unmarshaled into out, or set
// Responses to return a different payload per call in order.
type MockClient struct {
	Response  string
	Responses []string
	CallError error

	// Call tracking for assertions
	Calls []MockCall
}

type MockCall struct {
	Prompt string
	Input  string
}

func NewMockClient() *MockClient {
	return &MockClient{Response: "{}"}
}

func (c *MockClient) CallStructured(ctx context.Context, prompt, input string, out any) error {
	c.Calls = append(c.Calls, MockCall{Prompt: prompt, Input: input})
	if c.CallError != nil {
		return c.CallError
	}
	payload := c.Response
	if len(c.Responses) > 0 {
		idx := len(c.Calls) - 1
		if idx >= len(c.Responses) {
			idx = len(c.Responses) - 1
		}
		payload = c.Responses[idx]
	}
	return json.Unmarshal([]byte(payload), out)
}
