package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mnemo-ai/mnemo/internal/llm"
)

var ErrNarrativeUnavailable = errors.New("narrative synthesis unavailable")

// ProfileSummarizer supplies the compact profile block narrative uses as
// grounding context when available.
type ProfileSummarizer interface {
	Summary(ctx context.Context, userID string, topN int) (string, error)
}

// Narrative weaves a ranked, deduped hybrid result set into prose with
// one LLM call. Empty retrieval returns an empty narrative, not an error;
// LLM failure maps to ErrNarrativeUnavailable (surfaced as 503).
func (s *RetrievalService) Narrative(ctx context.Context, userID, query string, start, end time.Time, limit int, profiles ProfileSummarizer) (string, error) {
	hits, err := s.Hybrid(ctx, HybridQuery{
		UserID: userID,
		Query:  query,
		Start:  start,
		End:    end,
		Limit:  limit,
	})
	if err != nil {
		return "", err
	}
	if len(hits) == 0 {
		return "", nil
	}

	var input strings.Builder
	if profiles != nil {
		summary, err := profiles.Summary(ctx, userID, 10)
		if err != nil {
			s.logger.Debug("narrative proceeding without profile summary", zap.Error(err))
		} else if summary != "" {
			input.WriteString(summary)
			input.WriteString("\n")
		}
	}
	input.WriteString("MEMORIES (ranked):\n")
	for _, h := range hits {
		input.WriteString("- ")
		input.WriteString(h.Content)
		input.WriteString("\n")
	}

	var resp struct {
		Narrative string `json:"narrative"`
	}
	if err := s.llmClient.CallStructured(ctx, llm.NarrativePrompt, input.String(), &resp); err != nil {
		s.logger.Warn("narrative synthesis failed", zap.Error(err))
		return "", ErrNarrativeUnavailable
	}
	return resp.Narrative, nil
}
