package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/mnemo-ai/mnemo/internal/domain"
	"github.com/mnemo-ai/mnemo/internal/llm"
)

// RetrievalCategories is the fixed bucket set for structured retrieval.
var RetrievalCategories = []string{
	"emotions", "behaviors", "personal", "professional", "habits",
	"skills_tools", "projects", "relationships", "learning_journal",
	"finance", "other",
}

func validRetrievalCategory(c string) bool {
	for _, rc := range RetrievalCategories {
		if c == rc {
			return true
		}
	}
	return false
}

// Structured retrieves hits and re-buckets them into the fixed category
// set with one LLM call. LLM failure degrades to everything in "other";
// empty input returns empty categories, not an error.
func (s *RetrievalService) Structured(ctx context.Context, userID, query string, limit int) (map[string][]domain.MemoryWithScore, error) {
	hits, err := s.Simple(ctx, userID, query, domain.SearchOpts{Limit: limit})
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return map[string][]domain.MemoryWithScore{}, nil
	}

	var input strings.Builder
	byID := make(map[string]domain.MemoryWithScore, len(hits))
	for _, h := range hits {
		byID[h.ID] = h
		input.WriteString(h.ID)
		input.WriteString(": ")
		input.WriteString(h.Content)
		input.WriteString("\n")
	}

	var resp struct {
		Assignments []struct {
			ID       string `json:"id"`
			Category string `json:"category"`
		} `json:"assignments"`
	}
	categories := map[string][]domain.MemoryWithScore{}
	if err := s.llmClient.CallStructured(ctx, llm.CategorizePrompt, input.String(), &resp); err != nil {
		s.logger.Warn("categorization failed, bucketing all hits as other", zap.Error(err))
		categories["other"] = hits
		return categories, nil
	}

	assigned := map[string]bool{}
	for _, a := range resp.Assignments {
		h, ok := byID[a.ID]
		if !ok || assigned[a.ID] {
			continue
		}
		category := a.Category
		if !validRetrievalCategory(category) {
			category = "other"
		}
		categories[category] = append(categories[category], h)
		assigned[a.ID] = true
	}
	// Anything the model skipped falls into other.
	for _, h := range hits {
		if !assigned[h.ID] {
			categories["other"] = append(categories["other"], h)
		}
	}
	return categories, nil
}
