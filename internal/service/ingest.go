package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mnemo-ai/mnemo/internal/domain"
	"github.com/mnemo-ai/mnemo/internal/llm"
)

var ErrTranscriptEmpty = errors.New("transcript is required")

const (
	// existingContextLimit caps how many existing memories ride along in
	// the extraction prompt for duplicate suppression.
	existingContextLimit = 20
	maxParallelEmbeds    = 8
)

// ProfileApplier is the profile storage path; extracted profile updates
// never bypass it.
type ProfileApplier interface {
	Apply(ctx context.Context, userID string, updates []domain.ProfileUpdate) (*domain.UserProfile, error)
}

// IngestService runs the deterministic pipeline
// init -> extract_all -> classify_and_enrich -> build_objects -> store_all -> finalize.
type IngestService struct {
	vector    domain.VectorStore
	storage   *StorageService
	profiles  ProfileApplier
	embedder  domain.EmbeddingClient
	llmClient domain.LLMClient
	logger    *zap.Logger

	confidenceThreshold float64
	dedupThreshold      float64
}

func NewIngestService(vs domain.VectorStore, storage *StorageService, profiles ProfileApplier, ec domain.EmbeddingClient, lc domain.LLMClient, confidenceThreshold, dedupThreshold float64, logger *zap.Logger) *IngestService {
	return &IngestService{
		vector:              vs,
		storage:             storage,
		profiles:            profiles,
		embedder:            ec,
		llmClient:           lc,
		logger:              logger,
		confidenceThreshold: confidenceThreshold,
		dedupThreshold:      dedupThreshold,
	}
}

// IngestResult is the finalize-stage summary.
type IngestResult struct {
	MemoriesCreated int                       `json:"memories_created"`
	MemoryIDs       []string                  `json:"memory_ids"`
	ProfileUpdates  int                       `json:"profile_updates"`
	Summary         string                    `json:"summary"`
	Storage         map[string]*StorageResult `json:"storage,omitempty"`
	Degraded        bool                      `json:"degraded,omitempty"`
}

// extraction is the combined one-call schema: memories plus profile
// updates. Worthiness rules live inside the prompt, not a second pass.
type extraction struct {
	Memories       []extractedMemory      `json:"memories"`
	ProfileUpdates []domain.ProfileUpdate `json:"profile_updates"`
}

type extractedMemory struct {
	Content       string              `json:"content"`
	Layer         string              `json:"layer"`
	Tags          []string            `json:"tags"`
	Entities      map[string][]string `json:"entities"`
	Confidence    float64             `json:"confidence"`
	TimestampType string              `json:"timestamp_type"`
	Timestamp     *time.Time          `json:"timestamp"`

	Event   *extractedEvent   `json:"event"`
	Emotion *extractedEmotion `json:"emotion"`
	Skill   *extractedSkill   `json:"skill"`
	Holding *extractedHolding `json:"holding"`
}

type extractedEvent struct {
	EventTimestamp *time.Time `json:"event_timestamp"`
	EventType      string     `json:"event_type"`
	Location       string     `json:"location"`
	Participants   []string   `json:"participants"`
}

type extractedEmotion struct {
	EmotionalState string  `json:"emotional_state"`
	Valence        float64 `json:"valence"`
	Arousal        float64 `json:"arousal"`
	Intensity      float64 `json:"intensity"`
}

type extractedSkill struct {
	SkillName        string   `json:"skill_name"`
	ProficiencyLevel string   `json:"proficiency_level"`
	Prerequisites    []string `json:"prerequisites"`
}

type extractedHolding struct {
	Ticker    string  `json:"ticker"`
	Shares    float64 `json:"shares"`
	AvgPrice  float64 `json:"avg_price"`
	AssetName string  `json:"asset_name"`
}

// Ingest runs the full pipeline for one transcript. LLM failure returns a
// degraded zero-memory result, never an error past the request boundary.
func (s *IngestService) Ingest(ctx context.Context, userID string, transcript []domain.Turn) (*IngestResult, error) {
	if userID == "" {
		return nil, ErrUserIDMissing
	}
	if len(transcript) == 0 {
		return nil, ErrTranscriptEmpty
	}

	// init: bounded existing-memory context, top by recency + relevance.
	existing, err := s.vector.ListRecent(ctx, userID, existingContextLimit)
	if err != nil {
		s.logger.Warn("failed to load existing memory context", zap.Error(err))
		existing = nil
	}

	// extract_all: one combined LLM call.
	var ext extraction
	if err := s.llmClient.CallStructured(ctx, llm.ExtractAllPrompt, renderExtractionInput(transcript, existing), &ext); err != nil {
		s.logger.Warn("extraction failed, returning zero memories",
			zap.String("user_id", userID), zap.Error(err))
		return &IngestResult{
			Summary:  "extraction unavailable",
			Degraded: true,
		}, nil
	}

	candidates := make([]extractedMemory, 0, len(ext.Memories))
	for _, em := range ext.Memories {
		if em.Content == "" || em.Confidence < s.confidenceThreshold {
			continue
		}
		candidates = append(candidates, em)
	}

	// classify_and_enrich: embed all candidates in parallel. An embed
	// failure skips that item only.
	embeddings := make([][]float32, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelEmbeds)
	for i := range candidates {
		i := i
		g.Go(func() error {
			emb, err := s.embedder.Embed(gctx, candidates[i].Content)
			if err != nil {
				s.logger.Warn("embedding failed, skipping item",
					zap.String("content", candidates[i].Content), zap.Error(err))
				return nil
			}
			embeddings[i] = emb
			return nil
		})
	}
	_ = g.Wait()

	result := &IngestResult{Storage: map[string]*StorageResult{}}
	now := time.Now().UTC()

	for i, em := range candidates {
		if embeddings[i] == nil {
			result.Degraded = true
			continue
		}

		// Semantic echo of an existing memory: drop.
		dup, err := s.vector.FindSimilar(ctx, userID, embeddings[i], s.dedupThreshold, 1)
		if err != nil {
			s.logger.Warn("dedup check failed", zap.Error(err))
		} else if len(dup) > 0 {
			s.logger.Debug("duplicate suppressed",
				zap.String("candidate", em.Content),
				zap.String("existing_id", dup[0].ID))
			continue
		}

		// build_objects.
		m, typed := s.buildMemory(userID, em, embeddings[i], now)

		// store_all.
		sr, err := s.storage.Store(ctx, m, typed)
		if err != nil {
			s.logger.Warn("store failed for extracted memory",
				zap.String("memory_id", m.ID), zap.Error(err))
			result.Degraded = true
			if sr != nil {
				result.Storage[m.ID] = sr
			}
			continue
		}
		result.Storage[m.ID] = sr
		result.MemoryIDs = append(result.MemoryIDs, m.ID)
		result.MemoriesCreated++
	}

	if len(ext.ProfileUpdates) > 0 {
		applied := s.applyProfileUpdates(ctx, userID, ext.ProfileUpdates, result.MemoryIDs)
		result.ProfileUpdates = applied
	}

	// finalize.
	result.Summary = fmt.Sprintf("created %d memories, applied %d profile updates from %d turns",
		result.MemoriesCreated, result.ProfileUpdates, len(transcript))
	return result, nil
}

func (s *IngestService) buildMemory(userID string, em extractedMemory, embedding []float32, now time.Time) (*domain.Memory, *domain.TypedRecords) {
	layer := domain.Layer(em.Layer)
	if !domain.ValidLayer(em.Layer) {
		layer = domain.LayerSemantic
	}
	tags := em.Tags
	if len(tags) > domain.MaxPersonaTags {
		tags = tags[:domain.MaxPersonaTags]
	}

	ts := now
	if em.Timestamp != nil && em.TimestampType != "none" {
		ts = em.Timestamp.UTC()
	}

	m := &domain.Memory{
		ID:          domain.NewMemoryID(),
		UserID:      userID,
		Content:     em.Content,
		Layer:       layer,
		Type:        domain.MemoryTypeExplicit,
		Confidence:  em.Confidence,
		PersonaTags: tags,
		Embedding:   embedding,
		Timestamp:   ts,
		Metadata:    map[string]any{},
	}
	if len(em.Entities) > 0 {
		m.Metadata["entities"] = em.Entities
	}
	if em.TimestampType == "inferred" {
		m.Type = domain.MemoryTypeImplicit
	}

	typed := &domain.TypedRecords{}
	if em.Event != nil && em.Event.EventTimestamp != nil {
		typed.Episodic = &domain.EpisodicRecord{
			EventTimestamp: em.Event.EventTimestamp.UTC(),
			EventType:      em.Event.EventType,
			Content:        em.Content,
			Participants:   em.Event.Participants,
			Tags:           tags,
		}
		if em.Event.Location != "" {
			typed.Episodic.Location = map[string]any{"name": em.Event.Location}
		}
		if em.Emotion != nil {
			typed.Episodic.EmotionalValence = em.Emotion.Valence
			typed.Episodic.EmotionalArousal = em.Emotion.Arousal
		}
	}
	if em.Emotion != nil && em.Emotion.EmotionalState != "" {
		typed.Emotional = &domain.EmotionalRecord{
			Timestamp:      ts,
			EmotionalState: em.Emotion.EmotionalState,
			Valence:        em.Emotion.Valence,
			Arousal:        em.Emotion.Arousal,
			Intensity:      em.Emotion.Intensity,
			Context:        em.Content,
		}
	}
	if em.Skill != nil && em.Skill.SkillName != "" {
		level := domain.ProficiencyLevel(em.Skill.ProficiencyLevel)
		if !domain.ValidProficiency(em.Skill.ProficiencyLevel) {
			level = domain.ProficiencyBeginner
		}
		practiced := ts
		typed.Procedural = &domain.ProceduralRecord{
			SkillName:        em.Skill.SkillName,
			ProficiencyLevel: level,
			Prerequisites:    em.Skill.Prerequisites,
			PracticeCount:    1,
			LastPracticed:    &practiced,
		}
	}
	if em.Holding != nil && em.Holding.Ticker != "" && em.Holding.Shares > 0 {
		typed.Holding = &domain.PortfolioHolding{
			Ticker:    strings.ToUpper(em.Holding.Ticker),
			Shares:    em.Holding.Shares,
			AvgPrice:  em.Holding.AvgPrice,
			AssetName: em.Holding.AssetName,
		}
	}
	return m, typed
}

func (s *IngestService) applyProfileUpdates(ctx context.Context, userID string, updates []domain.ProfileUpdate, memoryIDs []string) int {
	valid := make([]domain.ProfileUpdate, 0, len(updates))
	for _, u := range updates {
		if !domain.ValidProfileCategory(string(u.Category)) || u.FieldName == "" || u.FieldValue == "" {
			continue
		}
		if !domain.ValidSourceType(string(u.SourceType)) {
			u.SourceType = domain.SourceInferred
		}
		if u.SourceMemoryID == "" && len(memoryIDs) > 0 {
			u.SourceMemoryID = memoryIDs[0]
		}
		valid = append(valid, u)
	}
	if len(valid) == 0 {
		return 0
	}
	if _, err := s.profiles.Apply(ctx, userID, valid); err != nil {
		s.logger.Warn("profile updates failed", zap.String("user_id", userID), zap.Error(err))
		return 0
	}
	return len(valid)
}

// renderExtractionInput lays out the transcript and the existing-memory
// context the way the extraction prompt expects.
func renderExtractionInput(transcript []domain.Turn, existing []domain.Memory) string {
	var b strings.Builder
	b.WriteString("CONVERSATION:\n")
	for _, t := range transcript {
		b.WriteString(t.Role)
		b.WriteString(": ")
		b.WriteString(t.Content)
		b.WriteString("\n")
	}
	if len(existing) > 0 {
		b.WriteString("\nEXISTING MEMORIES (do not re-extract):\n")
		for _, m := range existing {
			b.WriteString("- ")
			b.WriteString(m.Content)
			b.WriteString("\n")
		}
	}
	return b.String()
}
