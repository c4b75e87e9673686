package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mnemo-ai/mnemo/internal/domain"
	"github.com/mnemo-ai/mnemo/internal/llm"
)

func setupRetrievalTest() (*RetrievalService, *mockVectorStore, *mockEpisodicStore, *mockProceduralStore, *mockLLMClient) {
	vs := newMockVectorStore()
	es := newMockEpisodicStore()
	ps := newMockProceduralStore()
	lc := newMockLLMClient()
	svc := NewRetrievalService(vs, es, ps, newMockEmbeddingClient(), lc, testLogger())
	return svc, vs, es, ps, lc
}

func TestRetrievalService_Simple(t *testing.T) {
	svc, vs, _, _, _ := setupRetrievalTest()
	vs.memories["mem_000000000001"] = &domain.Memory{ID: "mem_000000000001", UserID: "u1", Content: "likes hiking"}
	vs.memories["mem_000000000002"] = &domain.Memory{ID: "mem_000000000002", UserID: "u2", Content: "other user"}

	hits, err := svc.Simple(context.Background(), "u1", "hiking", domain.SearchOpts{Limit: 10})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "mem_000000000001" {
		t.Fatalf("expected only u1's memory, got %+v", hits)
	}
}

func TestRetrievalService_Simple_EmbeddingFailure(t *testing.T) {
	vs := newMockVectorStore()
	ec := newMockEmbeddingClient()
	ec.err = errors.New("provider down")
	svc := NewRetrievalService(vs, newMockEpisodicStore(), newMockProceduralStore(), ec, newMockLLMClient(), testLogger())

	_, err := svc.Simple(context.Background(), "u1", "anything", domain.SearchOpts{})
	if !errors.Is(err, ErrEmbeddingFail) {
		t.Fatalf("expected ErrEmbeddingFail, got %v", err)
	}
}

func TestRetrievalService_Hybrid_FusesEpisodic(t *testing.T) {
	svc, vs, es, _, _ := setupRetrievalTest()
	now := time.Now().UTC()

	vs.memories["mem_00000000000a"] = &domain.Memory{
		ID: "mem_00000000000a", UserID: "u1", Content: "semantic fact",
		Importance: 0.5, Timestamp: now.Add(-time.Hour),
	}
	es.records["mem_00000000000b"] = &domain.EpisodicRecord{
		ID: "mem_00000000000b", UserID: "u1", Content: "engagement",
		EventTimestamp: now.Add(-2 * time.Hour), ImportanceScore: 0.9,
		EmotionalValence: 0.9, EmotionalArousal: 0.8,
	}

	hits, err := svc.Hybrid(context.Background(), HybridQuery{UserID: "u1", Query: "what happened"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 fused hits, got %d", len(hits))
	}
	sources := map[string]string{}
	for _, h := range hits {
		sources[h.ID] = h.Source
	}
	if sources["mem_00000000000a"] != "semantic" || sources["mem_00000000000b"] != "episodic" {
		t.Fatalf("unexpected sources: %v", sources)
	}
}

func TestRetrievalService_Hybrid_DedupSemanticWins(t *testing.T) {
	svc, vs, es, _, _ := setupRetrievalTest()
	now := time.Now().UTC()

	vs.memories["mem_00000000000c"] = &domain.Memory{
		ID: "mem_00000000000c", UserID: "u1", Content: "shared id", Timestamp: now,
	}
	es.records["mem_00000000000c"] = &domain.EpisodicRecord{
		ID: "mem_00000000000c", UserID: "u1", Content: "shared id", EventTimestamp: now,
	}

	hits, err := svc.Hybrid(context.Background(), HybridQuery{UserID: "u1", Query: "shared"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected dedup to one hit, got %d", len(hits))
	}
	if hits[0].Source != "semantic" {
		t.Fatalf("expected semantic hit to win the dedup, got %s", hits[0].Source)
	}
}

func TestRetrievalService_Hybrid_EpisodicLegDegrades(t *testing.T) {
	svc, vs, es, _, _ := setupRetrievalTest()
	es.failAll = true
	vs.memories["mem_00000000000d"] = &domain.Memory{
		ID: "mem_00000000000d", UserID: "u1", Content: "still here", Timestamp: time.Now().UTC(),
	}

	hits, err := svc.Hybrid(context.Background(), HybridQuery{UserID: "u1", Query: "anything"})
	if err != nil {
		t.Fatalf("episodic failure must not fail the hybrid call, got %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected the semantic leg alone, got %d hits", len(hits))
	}
}

func TestRetrievalService_Hybrid_SkillHitCarriesProgression(t *testing.T) {
	svc, _, _, ps, _ := setupRetrievalTest()
	ctx := context.Background()

	if err := ps.Upsert(ctx, &domain.ProceduralRecord{
		ID: "mem_0000000000aa", UserID: "u1",
		SkillName: "sourdough baking", ProficiencyLevel: domain.ProficiencyBeginner,
	}); err != nil {
		t.Fatalf("seed skill: %v", err)
	}
	if err := ps.Upsert(ctx, &domain.ProceduralRecord{
		ID: "mem_0000000000ab", UserID: "u1",
		SkillName: "sourdough baking", ProficiencyLevel: domain.ProficiencyIntermediate,
	}); err != nil {
		t.Fatalf("level up skill: %v", err)
	}

	hits, err := svc.Hybrid(ctx, HybridQuery{UserID: "u1", Query: "how is my sourdough baking going"})
	if err != nil {
		t.Fatalf("hybrid: %v", err)
	}

	var skill *domain.MemoryWithScore
	for i := range hits {
		if hits[i].Source == "procedural" {
			skill = &hits[i]
		}
	}
	if skill == nil {
		t.Fatalf("expected a procedural hit, got %+v", hits)
	}
	if skill.Metadata["progressed_from"] != string(domain.ProficiencyBeginner) ||
		skill.Metadata["progressed_to"] != string(domain.ProficiencyIntermediate) {
		t.Fatalf("expected the latest level transition on the hit, got %v", skill.Metadata)
	}
}

func TestRank_Deterministic_TieBreak(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := ts.Add(24 * time.Hour)
	hits := []domain.MemoryWithScore{
		{Memory: domain.Memory{ID: "mem_bbbbbbbbbbbb", Timestamp: ts, Importance: 0.5}, Source: "semantic", Score: 0.8},
		{Memory: domain.Memory{ID: "mem_aaaaaaaaaaaa", Timestamp: ts, Importance: 0.5}, Source: "semantic", Score: 0.8},
	}

	ranked := rank(hits, DefaultWeights, now)
	if ranked[0].ID != "mem_aaaaaaaaaaaa" {
		t.Fatalf("equal score and timestamp must tie-break by id asc, got %s first", ranked[0].ID)
	}

	// Same inputs again: identical order.
	again := rank([]domain.MemoryWithScore{
		{Memory: domain.Memory{ID: "mem_bbbbbbbbbbbb", Timestamp: ts, Importance: 0.5}, Source: "semantic", Score: 0.8},
		{Memory: domain.Memory{ID: "mem_aaaaaaaaaaaa", Timestamp: ts, Importance: 0.5}, Source: "semantic", Score: 0.8},
	}, DefaultWeights, now)
	if again[0].ID != ranked[0].ID || again[1].ID != ranked[1].ID {
		t.Fatal("expected deterministic output across runs")
	}
}

func TestRank_NewerWinsOnEqualScore(t *testing.T) {
	now := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	old := now.Add(-48 * time.Hour)
	recent := now.Add(-time.Hour)

	// Zero out time decay so only the tie-break sees the timestamps.
	w := RankWeights{Semantic: 1}
	hits := []domain.MemoryWithScore{
		{Memory: domain.Memory{ID: "mem_cccccccccccc", Timestamp: old}, Source: "semantic", Score: 0.7},
		{Memory: domain.Memory{ID: "mem_dddddddddddd", Timestamp: recent}, Source: "semantic", Score: 0.7},
	}
	ranked := rank(hits, w, now)
	if ranked[0].ID != "mem_dddddddddddd" {
		t.Fatalf("expected newer memory first on equal score, got %s", ranked[0].ID)
	}
}

func TestEmotionalComponent(t *testing.T) {
	h := &domain.MemoryWithScore{Memory: domain.Memory{
		Metadata: map[string]any{"valence": -0.8, "arousal": 0.5},
	}}
	got := emotionalComponent(h)
	if got < 0.39 || got > 0.41 {
		t.Fatalf("expected |valence|*arousal = 0.40, got %f", got)
	}
	if emotionalComponent(&domain.MemoryWithScore{}) != 0 {
		t.Fatal("expected zero for hits without affect metadata")
	}
}

func TestRetrievalService_Persona_Invalid(t *testing.T) {
	svc, _, _, _, _ := setupRetrievalTest()

	_, _, err := svc.Persona(context.Background(), HybridQuery{UserID: "u1", Query: "q"}, "pirate")
	if !errors.Is(err, ErrInvalidPersona) {
		t.Fatalf("expected ErrInvalidPersona, got %v", err)
	}
}

func TestRetrievalService_Persona_AutoDetect(t *testing.T) {
	svc, vs, _, _, lc := setupRetrievalTest()
	vs.memories["mem_00000000000e"] = &domain.Memory{
		ID: "mem_00000000000e", UserID: "u1", Content: "portfolio note", Timestamp: time.Now().UTC(),
	}
	lc.responses[llm.PersonaSelectPrompt] = `{"persona":"advisor","confidence":0.9}`

	hits, exp, err := svc.Persona(context.Background(), HybridQuery{UserID: "u1", Query: "how are my investments"}, "")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !exp.AutoDetected || exp.Persona != "advisor" {
		t.Fatalf("expected auto-detected advisor, got %+v", exp)
	}
	if exp.Weights.Importance != 0.35 {
		t.Fatalf("expected advisor importance weight 0.35, got %f", exp.Weights.Importance)
	}
	if exp.Sources["mem_00000000000e"] != "semantic" {
		t.Fatalf("expected per-hit source map, got %v", exp.Sources)
	}
	_ = hits
}

func TestRetrievalService_Persona_DetectionFailureFallsBack(t *testing.T) {
	svc, _, _, _, lc := setupRetrievalTest()
	lc.err = errors.New("llm down")

	_, exp, err := svc.Persona(context.Background(), HybridQuery{UserID: "u1", Query: "q"}, "")
	if err != nil {
		t.Fatalf("detection failure must fall back to defaults, got %v", err)
	}
	if exp.AutoDetected {
		t.Fatal("expected no auto-detection on LLM failure")
	}
	if exp.Weights != DefaultWeights {
		t.Fatalf("expected default weights, got %+v", exp.Weights)
	}
}

func TestRetrievalService_Structured_LeftoversGoToOther(t *testing.T) {
	svc, vs, _, _, lc := setupRetrievalTest()
	vs.memories["mem_00000000000f"] = &domain.Memory{ID: "mem_00000000000f", UserID: "u1", Content: "uses vim", Timestamp: time.Now().UTC()}
	vs.memories["mem_000000000010"] = &domain.Memory{ID: "mem_000000000010", UserID: "u1", Content: "misc", Timestamp: time.Now().UTC()}
	lc.responses[llm.CategorizePrompt] = `{"assignments":[{"id":"mem_00000000000f","category":"skills_tools"}]}`

	categories, err := svc.Structured(context.Background(), "u1", "tools", 10)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(categories["skills_tools"]) != 1 {
		t.Fatalf("expected one skills_tools hit, got %+v", categories)
	}
	found := false
	for _, h := range categories["other"] {
		if h.ID == "mem_000000000010" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected unassigned hit bucketed into other")
	}
}

func TestRetrievalService_Structured_EmptyHits(t *testing.T) {
	svc, _, _, _, _ := setupRetrievalTest()

	categories, err := svc.Structured(context.Background(), "u1", "nothing stored", 10)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(categories) != 0 {
		t.Fatalf("expected empty category map, got %+v", categories)
	}
}
