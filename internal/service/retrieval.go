package service

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mnemo-ai/mnemo/internal/domain"
	"github.com/mnemo-ai/mnemo/internal/llm"
)

var (
	ErrQueryEmpty     = errors.New("query is required")
	ErrEmbeddingFail  = errors.New("embedding failed")
	ErrInvalidPersona = errors.New("invalid persona")
)

// timeDecayHalfLifeDays is the half-life of the recency component.
const timeDecayHalfLifeDays = 30.0

// RankWeights are the hybrid fusion weights. They must sum to ~1 but the
// ranking is ordinal, so small drift is harmless.
type RankWeights struct {
	Semantic   float64 `json:"semantic"`
	TimeDecay  float64 `json:"time_decay"`
	Importance float64 `json:"importance"`
	Emotional  float64 `json:"emotional"`
}

var DefaultWeights = RankWeights{Semantic: 0.5, TimeDecay: 0.2, Importance: 0.2, Emotional: 0.1}

// personaWeights are the per-persona overrides applied by persona-aware
// retrieval.
var personaWeights = map[string]RankWeights{
	"casual":  {Semantic: 0.40, TimeDecay: 0.30, Importance: 0.10, Emotional: 0.20},
	"coach":   {Semantic: 0.45, TimeDecay: 0.15, Importance: 0.30, Emotional: 0.10},
	"advisor": {Semantic: 0.50, TimeDecay: 0.10, Importance: 0.35, Emotional: 0.05},
	"analyst": {Semantic: 0.60, TimeDecay: 0.25, Importance: 0.15, Emotional: 0.00},
}

// RetrievalService fuses the vector, time-partitioned, and relational
// stores into one ranked result.
type RetrievalService struct {
	vector     domain.VectorStore
	episodic   domain.EpisodicStore
	procedural domain.ProceduralStore
	embedder   domain.EmbeddingClient
	llmClient  domain.LLMClient
	logger     *zap.Logger
}

func NewRetrievalService(vs domain.VectorStore, es domain.EpisodicStore, ps domain.ProceduralStore, ec domain.EmbeddingClient, lc domain.LLMClient, logger *zap.Logger) *RetrievalService {
	return &RetrievalService{
		vector:     vs,
		episodic:   es,
		procedural: ps,
		embedder:   ec,
		llmClient:  lc,
		logger:     logger,
	}
}

// Simple is a cosine ANN search with metadata filters. Deterministic: a
// frozen store returns identical ordered ids for identical inputs.
func (s *RetrievalService) Simple(ctx context.Context, userID, query string, opts domain.SearchOpts) ([]domain.MemoryWithScore, error) {
	if userID == "" {
		return nil, ErrUserIDMissing
	}
	if query == "" {
		return nil, ErrQueryEmpty
	}
	emb, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, ErrEmbeddingFail
	}
	hits, err := s.vector.Search(ctx, emb, userID, opts)
	if err != nil {
		return nil, err
	}
	s.markUsage(hits)
	return hits, nil
}

// HybridQuery bounds a hybrid retrieval.
type HybridQuery struct {
	UserID  string
	Query   string
	Start   time.Time
	End     time.Time
	Limit   int
	Weights *RankWeights
}

// Hybrid unions semantic, episodic-in-window, and structured hits, dedups
// by id, and ranks by the weighted fusion score.
func (s *RetrievalService) Hybrid(ctx context.Context, q HybridQuery) ([]domain.MemoryWithScore, error) {
	if q.UserID == "" {
		return nil, ErrUserIDMissing
	}
	if q.Query == "" {
		return nil, ErrQueryEmpty
	}
	if q.Limit <= 0 {
		q.Limit = 10
	}
	now := time.Now().UTC()
	if q.End.IsZero() {
		q.End = now
	}
	if q.Start.IsZero() {
		q.Start = q.End.AddDate(0, 0, -timeDecayHalfLifeDays)
	}
	weights := DefaultWeights
	if q.Weights != nil {
		weights = *q.Weights
	}

	emb, err := s.embedder.Embed(ctx, q.Query)
	if err != nil {
		return nil, ErrEmbeddingFail
	}

	// Over-fetch semantic hits so fusion has room to re-rank.
	semantic, err := s.vector.Search(ctx, emb, q.UserID, domain.SearchOpts{Limit: q.Limit * 3})
	if err != nil {
		return nil, err
	}

	episodic, err := s.episodic.GetByTimeRange(ctx, q.UserID, q.Start, q.End, q.Limit*3)
	if err != nil {
		s.logger.Warn("episodic leg failed, continuing without it", zap.Error(err))
		episodic = nil
	}

	skills, err := s.procedural.GetByUser(ctx, q.UserID)
	if err != nil {
		s.logger.Warn("procedural leg failed, continuing without it", zap.Error(err))
		skills = nil
	}
	var progressions []domain.SkillProgression
	if len(skills) > 0 {
		if progressions, err = s.procedural.Progressions(ctx, q.UserID); err != nil {
			s.logger.Warn("progression trail unavailable", zap.Error(err))
			progressions = nil
		}
	}

	hits := fuse(semantic, episodic, matchSkills(skills, progressions, q.Query))
	ranked := rank(hits, weights, now)
	if len(ranked) > q.Limit {
		ranked = ranked[:q.Limit]
	}
	s.markUsage(ranked)
	return ranked, nil
}

// Explainability lists the weights and per-hit sources a persona
// retrieval applied.
type Explainability struct {
	Persona      string            `json:"persona"`
	AutoDetected bool              `json:"auto_detected"`
	Weights      RankWeights       `json:"weights"`
	Sources      map[string]string `json:"sources"`
}

// Persona runs a hybrid retrieval with persona weight overrides. An empty
// persona is auto-detected from the query via the LLM, falling back to
// defaults when detection fails.
func (s *RetrievalService) Persona(ctx context.Context, q HybridQuery, persona string) ([]domain.MemoryWithScore, *Explainability, error) {
	exp := &Explainability{Persona: persona, Weights: DefaultWeights, Sources: map[string]string{}}

	if persona == "" {
		var detected struct {
			Persona    string  `json:"persona"`
			Confidence float64 `json:"confidence"`
		}
		err := s.llmClient.CallStructured(ctx, llm.PersonaSelectPrompt, q.Query, &detected)
		if err != nil {
			s.logger.Warn("persona detection failed, using default weights", zap.Error(err))
		} else if _, ok := personaWeights[detected.Persona]; ok {
			exp.Persona = detected.Persona
			exp.AutoDetected = true
		}
	} else if _, ok := personaWeights[persona]; !ok {
		return nil, nil, ErrInvalidPersona
	}

	if w, ok := personaWeights[exp.Persona]; ok {
		exp.Weights = w
	}
	q.Weights = &exp.Weights

	hits, err := s.Hybrid(ctx, q)
	if err != nil {
		return nil, nil, err
	}
	for _, h := range hits {
		exp.Sources[h.ID] = h.Source
	}
	return hits, exp, nil
}

func (s *RetrievalService) markUsage(hits []domain.MemoryWithScore) {
	for _, h := range hits {
		if h.Source != "semantic" {
			continue
		}
		go func(id string) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := s.vector.IncrementUsage(ctx, id); err != nil {
				s.logger.Debug("usage increment failed", zap.String("memory_id", id), zap.Error(err))
			}
		}(h.ID)
	}
}

// fuse unions the three legs, deduplicating by id with semantic hits
// winning, since they carry the true similarity score.
func fuse(semantic []domain.MemoryWithScore, episodic []domain.EpisodicRecord, skills []domain.MemoryWithScore) []domain.MemoryWithScore {
	seen := map[string]bool{}
	out := make([]domain.MemoryWithScore, 0, len(semantic)+len(episodic)+len(skills))
	for _, h := range semantic {
		seen[h.ID] = true
		out = append(out, h)
	}
	for _, e := range episodic {
		if seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		out = append(out, domain.MemoryWithScore{
			Memory: domain.Memory{
				ID:         e.ID,
				UserID:     e.UserID,
				Content:    e.Content,
				Layer:      domain.LayerSemantic,
				Importance: e.ImportanceScore,
				Timestamp:  e.EventTimestamp,
				Metadata: map[string]any{
					"valence": e.EmotionalValence,
					"arousal": e.EmotionalArousal,
				},
			},
			Source: "episodic",
		})
	}
	for _, sk := range skills {
		if seen[sk.ID] {
			continue
		}
		seen[sk.ID] = true
		out = append(out, sk)
	}
	return out
}

// matchSkills keeps procedural rows whose skill name overlaps the query.
// A skill's most recent level transition, when one exists, rides along in
// the hit metadata.
func matchSkills(skills []domain.ProceduralRecord, progressions []domain.SkillProgression, query string) []domain.MemoryWithScore {
	latest := map[string]domain.SkillProgression{}
	for _, p := range progressions {
		if _, ok := latest[p.SkillID]; !ok {
			latest[p.SkillID] = p
		}
	}

	q := strings.ToLower(query)
	var out []domain.MemoryWithScore
	for _, sk := range skills {
		name := strings.ToLower(sk.SkillName)
		if !strings.Contains(q, name) && !strings.Contains(name, q) {
			continue
		}
		ts := time.Time{}
		if sk.LastPracticed != nil {
			ts = *sk.LastPracticed
		}
		hit := domain.MemoryWithScore{
			Memory: domain.Memory{
				ID:         sk.ID,
				UserID:     sk.UserID,
				Content:    sk.SkillName + " (" + string(sk.ProficiencyLevel) + ")",
				Importance: domain.DefaultImportance,
				Timestamp:  ts,
			},
			Source: "procedural",
		}
		if p, ok := latest[sk.ID]; ok {
			hit.Metadata = map[string]any{
				"progressed_from": string(p.FromLevel),
				"progressed_to":   string(p.ToLevel),
			}
		}
		out = append(out, hit)
	}
	return out
}

// rank scores every hit as
// w_sem*semantic + w_time*exp(-age/half_life) + w_imp*importance + w_emo*emotional
// and sorts descending with a deterministic tie-break: timestamp desc,
// then id asc.
func rank(hits []domain.MemoryWithScore, w RankWeights, now time.Time) []domain.MemoryWithScore {
	for i := range hits {
		h := &hits[i]
		ageDays := now.Sub(h.Timestamp).Hours() / 24
		if ageDays < 0 {
			ageDays = 0
		}
		decay := math.Exp(-ageDays / timeDecayHalfLifeDays)
		h.Score = w.Semantic*semanticComponent(h) +
			w.TimeDecay*decay +
			w.Importance*h.Importance +
			w.Emotional*emotionalComponent(h)
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if !hits[i].Timestamp.Equal(hits[j].Timestamp) {
			return hits[i].Timestamp.After(hits[j].Timestamp)
		}
		return hits[i].ID < hits[j].ID
	})
	return hits
}

func semanticComponent(h *domain.MemoryWithScore) float64 {
	if h.Source == "semantic" {
		return h.Score
	}
	return 0
}

// emotionalComponent reads the valence/arousal carried by episodic hits;
// other sources contribute nothing.
func emotionalComponent(h *domain.MemoryWithScore) float64 {
	if h.Metadata == nil {
		return 0
	}
	valence, _ := h.Metadata["valence"].(float64)
	arousal, _ := h.Metadata["arousal"].(float64)
	return math.Abs(valence) * arousal
}
