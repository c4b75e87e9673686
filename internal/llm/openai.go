package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	openAIChatURL = "https://api.openai.com/v1/chat/completions"
	defaultModel  = "gpt-4o-mini"

	// Total wallclock budget for one structured call, both attempts included.
	callBudget = 30 * time.Second

	strictRetryInstruction = "Your previous reply was not valid JSON for the requested schema. " +
		"Respond again with ONLY the JSON object. No markdown fences, no commentary."
)

type OpenAIClient struct {
	apiKey     string
	model      string
	httpClient *http.Client
}

func NewOpenAIClient(apiKey, model string) *OpenAIClient {
	if model == "" {
		model = defaultModel
	}
	return &OpenAIClient{
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// CallStructured runs one chat completion and unmarshals the reply into out.
// On a parse failure it retries once with a stricter instruction appended.
func (c *OpenAIClient) CallStructured(ctx context.Context, prompt, input string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, callBudget)
	defer cancel()

	messages := []chatMessage{
		{Role: "system", Content: prompt},
		{Role: "user", Content: input},
	}

	raw, err := c.complete(ctx, messages, 0.2)
	if err != nil {
		return fmt.Errorf("structured call: %w", err)
	}

	if err := json.Unmarshal([]byte(stripFences(raw)), out); err == nil {
		return nil
	}

	// Schema violation: one stricter retry.
	messages = append(messages,
		chatMessage{Role: "assistant", Content: raw},
		chatMessage{Role: "user", Content: strictRetryInstruction},
	)
	raw, err = c.complete(ctx, messages, 0)
	if err != nil {
		return fmt.Errorf("structured retry: %w", err)
	}
	if err := json.Unmarshal([]byte(stripFences(raw)), out); err != nil {
		return fmt.Errorf("parse structured result: %w (raw: %s)", err, raw)
	}
	return nil
}

func (c *OpenAIClient) complete(ctx context.Context, messages []chatMessage, temp float32) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: temp,
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, openAIChatURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read chat response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("chat API returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var result chatResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("unmarshal chat response: %w", err)
	}

	if result.Error != nil {
		return "", fmt.Errorf("chat API error: %s", result.Error.Message)
	}

	if len(result.Choices) == 0 {
		return "", fmt.Errorf("chat API returned no choices")
	}

	return strings.TrimSpace(result.Choices[0].Message.Content), nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
