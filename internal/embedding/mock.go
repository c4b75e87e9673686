package embedding

import (
	"context"
	"hash/fnv"
	"math"
)

// MockClient produces deterministic unit vectors derived from the input
// text, so similarity comparisons are stable across test runs.
type MockClient struct {
	// EmbedError, when set, is returned from every call.
	EmbedError error

	// Call tracking for assertions
	EmbedCalls []string
}

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (c *MockClient) Embed(ctx context.Context, text string) ([]float32, error) {
	c.EmbedCalls = append(c.EmbedCalls, text)
	if c.EmbedError != nil {
		return nil, c.EmbedError
	}

	vec := make([]float32, Dim)
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int64(seed>>33))/float32(math.MaxInt32) - 0.5
	}
	return normalize(vec), nil
}
