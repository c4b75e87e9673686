package service

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mnemo-ai/mnemo/internal/domain"
	"github.com/mnemo-ai/mnemo/internal/llm"
)

const (
	compactionMinAge    = 7 * 24 * time.Hour
	compactionBatchSize = 1000
	dropThreshold       = 0.05
	clusterThreshold    = 0.88
	minClusterSize      = 3
)

// CompactionService applies Ebbinghaus-style decay and consolidates
// clusters of near-duplicate memories into golden records.
type CompactionService struct {
	vector    domain.VectorStore
	storage   *StorageService
	embedder  domain.EmbeddingClient
	llmClient domain.LLMClient
	cache     domain.Cache
	logger    *zap.Logger

	halfLife time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewCompactionService(vs domain.VectorStore, storage *StorageService, ec domain.EmbeddingClient, lc domain.LLMClient, cache domain.Cache, halfLife time.Duration, logger *zap.Logger) *CompactionService {
	return &CompactionService{
		vector:    vs,
		storage:   storage,
		embedder:  ec,
		llmClient: lc,
		cache:     cache,
		logger:    logger,
		halfLife:  halfLife,
		stopCh:    make(chan struct{}),
	}
}

// CompactionReport summarizes one run.
type CompactionReport struct {
	UserID       string   `json:"user_id"`
	Candidates   int      `json:"candidates"`
	Decayed      int      `json:"decayed"`
	Dropped      int      `json:"dropped"`
	Clusters     int      `json:"clusters"`
	Consolidated int      `json:"consolidated"`
	GoldenIDs    []string `json:"golden_ids,omitempty"`
	DryRun       bool     `json:"dry_run,omitempty"`
}

// Compact runs one per-user pass: decay, drop, cluster, consolidate.
// Dry-run computes everything but skips deletes and writes.
func (s *CompactionService) Compact(ctx context.Context, userID string, dryRun bool) (*CompactionReport, error) {
	if userID == "" {
		return nil, ErrUserIDMissing
	}
	now := time.Now().UTC()
	report := &CompactionReport{UserID: userID, DryRun: dryRun}

	candidates, err := s.vector.ListOlderThan(ctx, userID, now.Add(-compactionMinAge), compactionBatchSize)
	if err != nil {
		return nil, err
	}
	report.Candidates = len(candidates)

	halfLifeDays := s.halfLife.Hours() / 24
	var survivors []domain.Memory
	for _, m := range candidates {
		ageDays := now.Sub(m.Timestamp).Hours() / 24
		decayed := m.Importance * math.Exp(-ageDays/halfLifeDays)

		if decayed < dropThreshold && !m.Pinned() {
			report.Dropped++
			if !dryRun {
				if _, err := s.storage.Delete(ctx, m.ID, userID); err != nil {
					s.logger.Warn("compaction drop failed", zap.String("memory_id", m.ID), zap.Error(err))
				}
			}
			continue
		}

		if decayed != m.Importance {
			report.Decayed++
			if !dryRun {
				if err := s.vector.UpdateImportance(ctx, m.ID, decayed); err != nil {
					s.logger.Warn("decay update failed", zap.String("memory_id", m.ID), zap.Error(err))
				}
			}
			m.Importance = decayed
		}
		survivors = append(survivors, m)
	}

	for _, cluster := range clusterByEmbedding(survivors, clusterThreshold) {
		if len(cluster) < minClusterSize {
			continue
		}
		report.Clusters++
		goldenID, err := s.consolidate(ctx, userID, cluster, dryRun)
		if err != nil {
			s.logger.Warn("consolidation failed", zap.String("user_id", userID), zap.Error(err))
			continue
		}
		report.Consolidated += len(cluster)
		if goldenID != "" {
			report.GoldenIDs = append(report.GoldenIDs, goldenID)
		}
	}

	s.logger.Info("compaction run complete",
		zap.String("user_id", userID),
		zap.Int("candidates", report.Candidates),
		zap.Int("dropped", report.Dropped),
		zap.Int("consolidated", report.Consolidated),
		zap.Bool("dry_run", dryRun))
	return report, nil
}

// consolidate merges one cluster into a golden record: max confidence,
// union tags, earliest timestamp, merged ids in metadata. Originals are
// deleted through the orchestrator so typed stores stay in sync.
func (s *CompactionService) consolidate(ctx context.Context, userID string, cluster []domain.Memory, dryRun bool) (string, error) {
	var input strings.Builder
	for _, m := range cluster {
		input.WriteString("- ")
		input.WriteString(m.Content)
		input.WriteString("\n")
	}
	var resp struct {
		Content string `json:"content"`
	}
	if err := s.llmClient.CallStructured(ctx, llm.ConsolidatePrompt, input.String(), &resp); err != nil {
		return "", err
	}
	if resp.Content == "" {
		resp.Content = cluster[0].Content
	}

	golden := &domain.Memory{
		UserID:    userID,
		Content:   resp.Content,
		Layer:     domain.LayerLongTerm,
		Type:      cluster[0].Type,
		Timestamp: cluster[0].Timestamp,
		Metadata:  map[string]any{},
	}
	var mergedIDs []string
	tagSet := map[string]bool{}
	for _, m := range cluster {
		mergedIDs = append(mergedIDs, m.ID)
		if m.Confidence > golden.Confidence {
			golden.Confidence = m.Confidence
		}
		if m.Importance > golden.Importance {
			golden.Importance = m.Importance
		}
		if m.Timestamp.Before(golden.Timestamp) {
			golden.Timestamp = m.Timestamp
		}
		for _, t := range m.PersonaTags {
			if !tagSet[t] && len(golden.PersonaTags) < domain.MaxPersonaTags {
				tagSet[t] = true
				golden.PersonaTags = append(golden.PersonaTags, t)
			}
		}
	}
	golden.Metadata["merged_ids"] = mergedIDs

	if dryRun {
		return "", nil
	}

	emb, err := s.embedder.Embed(ctx, golden.Content)
	if err != nil {
		return "", err
	}
	golden.Embedding = emb

	if _, err := s.storage.Store(ctx, golden, nil); err != nil {
		return "", err
	}
	for _, id := range mergedIDs {
		if _, err := s.storage.Delete(ctx, id, userID); err != nil {
			s.logger.Warn("failed to delete merged original",
				zap.String("memory_id", id), zap.Error(err))
		}
	}
	return golden.ID, nil
}

// clusterByEmbedding greedily groups memories at cosine >= threshold.
// Input order is oldest-first, so cluster seeds are deterministic.
func clusterByEmbedding(memories []domain.Memory, threshold float64) [][]domain.Memory {
	var clusters [][]domain.Memory
	used := make([]bool, len(memories))
	for i := range memories {
		if used[i] || len(memories[i].Embedding) == 0 {
			continue
		}
		cluster := []domain.Memory{memories[i]}
		used[i] = true
		for j := i + 1; j < len(memories); j++ {
			if used[j] || len(memories[j].Embedding) == 0 {
				continue
			}
			if cosine(memories[i].Embedding, memories[j].Embedding) >= threshold {
				cluster = append(cluster, memories[j])
				used[j] = true
			}
		}
		clusters = append(clusters, cluster)
	}
	return clusters
}

// ForgetReport lists what a forget request removed.
type ForgetReport struct {
	UserID  string   `json:"user_id"`
	Matched int      `json:"matched"`
	Deleted []string `json:"deleted"`
}

// Forget deletes every memory semantically matching the query at or above
// the threshold. Pinned memories survive.
func (s *CompactionService) Forget(ctx context.Context, userID, query string, threshold float64) (*ForgetReport, error) {
	if userID == "" {
		return nil, ErrUserIDMissing
	}
	if query == "" {
		return nil, ErrQueryEmpty
	}
	if threshold <= 0 {
		threshold = clusterThreshold
	}

	emb, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, ErrEmbeddingFail
	}
	hits, err := s.vector.FindSimilar(ctx, userID, emb, threshold, compactionBatchSize)
	if err != nil {
		return nil, err
	}

	report := &ForgetReport{UserID: userID, Matched: len(hits)}
	for _, h := range hits {
		if h.Pinned() {
			continue
		}
		if _, err := s.storage.Delete(ctx, h.ID, userID); err != nil {
			s.logger.Warn("forget delete failed", zap.String("memory_id", h.ID), zap.Error(err))
			continue
		}
		report.Deleted = append(report.Deleted, h.ID)
	}
	return report, nil
}

// CompactAll runs compaction for every user in the given day's activity
// set.
func (s *CompactionService) CompactAll(ctx context.Context, day string, dryRun bool) ([]*CompactionReport, error) {
	users, err := s.cache.ActiveUsers(ctx, day)
	if err != nil {
		return nil, err
	}
	var reports []*CompactionReport
	for _, userID := range users {
		report, err := s.Compact(ctx, userID, dryRun)
		if err != nil {
			s.logger.Warn("compaction failed for user", zap.String("user_id", userID), zap.Error(err))
			continue
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// Start schedules a daily run at 00:00 UTC over the previous day's
// activity set.
func (s *CompactionService) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			now := time.Now().UTC()
			next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
			timer := time.NewTimer(next.Sub(now))
			select {
			case <-timer.C:
				day := time.Now().UTC().AddDate(0, 0, -1).Format("20060102")
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
				if _, err := s.CompactAll(ctx, day, false); err != nil {
					s.logger.Warn("daily compaction failed", zap.String("day", day), zap.Error(err))
				}
				cancel()
			case <-s.stopCh:
				timer.Stop()
				return
			}
		}
	}()
	s.logger.Info("compaction scheduler started")
}

func (s *CompactionService) Stop() {
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("compaction scheduler stopped")
}
