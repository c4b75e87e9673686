package service

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/mnemo-ai/mnemo/internal/domain"
	"github.com/mnemo-ai/mnemo/internal/llm"
)

func setupCompactionTest(halfLife time.Duration) (*CompactionService, *mockVectorStore, *mockCache, *mockLLMClient, *mockEmbeddingClient) {
	vs := newMockVectorStore()
	es := newMockEpisodicStore()
	ms := newMockEmotionalStore()
	ps := newMockProceduralStore()
	fs := newMockPortfolioStore()
	cache := newMockCache()
	storage := NewStorageService(vs, es, ms, ps, fs, cache, time.Hour, testLogger())

	ec := newMockEmbeddingClient()
	lc := newMockLLMClient()
	svc := NewCompactionService(vs, storage, ec, lc, cache, halfLife, testLogger())
	return svc, vs, cache, lc, ec
}

func agedMemory(id, userID string, ageDays int, importance float64) *domain.Memory {
	return &domain.Memory{
		ID:         id,
		UserID:     userID,
		Content:    "fact " + id,
		Layer:      domain.LayerSemantic,
		Type:       domain.MemoryTypeExplicit,
		Importance: importance,
		Timestamp:  time.Now().UTC().AddDate(0, 0, -ageDays),
	}
}

func TestCompactionService_Compact_DecayAndDrop(t *testing.T) {
	svc, vs, _, _, _ := setupCompactionTest(30 * 24 * time.Hour)

	// 30 days at a 30-day half-life: 0.5*exp(-1) ~ 0.18, survives.
	vs.memories["mem_000000000001"] = agedMemory("mem_000000000001", "u1", 30, 0.5)
	// 200 days old and weak: decays below the drop threshold.
	vs.memories["mem_000000000002"] = agedMemory("mem_000000000002", "u1", 200, 0.1)

	report, err := svc.Compact(context.Background(), "u1", false)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if report.Candidates != 2 {
		t.Fatalf("expected 2 candidates, got %d", report.Candidates)
	}
	if report.Dropped != 1 {
		t.Fatalf("expected 1 drop, got %d", report.Dropped)
	}
	if _, ok := vs.memories["mem_000000000002"]; ok {
		t.Fatal("expected decayed-out memory deleted")
	}

	survivor := vs.memories["mem_000000000001"]
	if survivor == nil {
		t.Fatal("expected survivor retained")
	}
	want := 0.5 * math.Exp(-1)
	if math.Abs(survivor.Importance-want) > 0.01 {
		t.Fatalf("expected importance decayed to ~%.3f, got %.3f", want, survivor.Importance)
	}
}

func TestCompactionService_Compact_PinnedSurvives(t *testing.T) {
	svc, vs, _, _, _ := setupCompactionTest(30 * 24 * time.Hour)

	m := agedMemory("mem_000000000003", "u1", 365, 0.1)
	m.PersonaTags = []string{domain.PinnedTag}
	vs.memories[m.ID] = m

	report, err := svc.Compact(context.Background(), "u1", false)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if report.Dropped != 0 {
		t.Fatalf("pinned memory must never be dropped, got %d drops", report.Dropped)
	}
	if _, ok := vs.memories[m.ID]; !ok {
		t.Fatal("expected pinned memory retained")
	}
}

func TestCompactionService_Compact_ConsolidatesCluster(t *testing.T) {
	svc, vs, _, lc, _ := setupCompactionTest(30 * 24 * time.Hour)
	lc.responses[llm.ConsolidatePrompt] = `{"content":"User is an avid marathon runner"}`

	emb := []float32{1, 0, 0, 0, 0, 0, 0, 0}
	var earliest time.Time
	for i, id := range []string{"mem_00000000000a", "mem_00000000000b", "mem_00000000000c"} {
		m := agedMemory(id, "u1", 10+5*i, 0.9)
		m.Embedding = emb
		m.Confidence = 0.7 + 0.1*float64(i)
		vs.memories[id] = m
		if earliest.IsZero() || m.Timestamp.Before(earliest) {
			earliest = m.Timestamp
		}
	}

	report, err := svc.Compact(context.Background(), "u1", false)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if report.Clusters != 1 || report.Consolidated != 3 {
		t.Fatalf("expected one cluster of 3 consolidated, got %+v", report)
	}
	if len(report.GoldenIDs) != 1 {
		t.Fatalf("expected one golden id, got %v", report.GoldenIDs)
	}

	golden := vs.memories[report.GoldenIDs[0]]
	if golden == nil {
		t.Fatal("expected golden record stored")
	}
	if golden.Content != "User is an avid marathon runner" {
		t.Fatalf("unexpected golden content %q", golden.Content)
	}
	if golden.Layer != domain.LayerLongTerm {
		t.Fatalf("expected golden record in long_term, got %s", golden.Layer)
	}
	if math.Abs(golden.Confidence-0.9) > 0.001 {
		t.Fatalf("expected max confidence carried, got %f", golden.Confidence)
	}
	if !golden.Timestamp.Equal(earliest) {
		t.Fatalf("expected earliest timestamp %v, got %v", earliest, golden.Timestamp)
	}
	merged, _ := golden.Metadata["merged_ids"].([]string)
	if len(merged) != 3 {
		t.Fatalf("expected 3 merged ids in metadata, got %v", golden.Metadata["merged_ids"])
	}
	for _, id := range merged {
		if _, ok := vs.memories[id]; ok {
			t.Fatalf("expected original %s deleted after consolidation", id)
		}
	}
}

func TestCompactionService_Compact_DryRun(t *testing.T) {
	svc, vs, _, _, _ := setupCompactionTest(30 * 24 * time.Hour)
	vs.memories["mem_000000000004"] = agedMemory("mem_000000000004", "u1", 200, 0.1)
	vs.memories["mem_000000000005"] = agedMemory("mem_000000000005", "u1", 30, 0.5)

	report, err := svc.Compact(context.Background(), "u1", true)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !report.DryRun || report.Dropped != 1 {
		t.Fatalf("expected dry-run report with one drop counted, got %+v", report)
	}
	if _, ok := vs.memories["mem_000000000004"]; !ok {
		t.Fatal("dry run must not delete anything")
	}
	if vs.memories["mem_000000000005"].Importance != 0.5 {
		t.Fatal("dry run must not persist decayed importance")
	}
}

func TestCompactionService_Forget(t *testing.T) {
	svc, vs, _, _, _ := setupCompactionTest(30 * 24 * time.Hour)

	plain := agedMemory("mem_000000000006", "u1", 1, 0.5)
	pinned := agedMemory("mem_000000000007", "u1", 1, 0.5)
	pinned.PersonaTags = []string{domain.PinnedTag}
	vs.memories[plain.ID] = plain
	vs.memories[pinned.ID] = pinned
	vs.similar = []domain.MemoryWithScore{
		{Memory: *plain, Score: 0.95},
		{Memory: *pinned, Score: 0.93},
	}

	report, err := svc.Forget(context.Background(), "u1", "the thing to forget", 0.9)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if report.Matched != 2 {
		t.Fatalf("expected 2 matches, got %d", report.Matched)
	}
	if len(report.Deleted) != 1 || report.Deleted[0] != plain.ID {
		t.Fatalf("expected only the unpinned memory deleted, got %v", report.Deleted)
	}
	if _, ok := vs.memories[pinned.ID]; !ok {
		t.Fatal("pinned memory must survive forget")
	}
}

func TestCompactionService_Forget_Validation(t *testing.T) {
	svc, _, _, _, ec := setupCompactionTest(30 * 24 * time.Hour)
	ctx := context.Background()

	if _, err := svc.Forget(ctx, "", "q", 0.9); !errors.Is(err, ErrUserIDMissing) {
		t.Fatalf("expected ErrUserIDMissing, got %v", err)
	}
	if _, err := svc.Forget(ctx, "u1", "", 0.9); !errors.Is(err, ErrQueryEmpty) {
		t.Fatalf("expected ErrQueryEmpty, got %v", err)
	}
	ec.err = errors.New("provider down")
	if _, err := svc.Forget(ctx, "u1", "q", 0.9); !errors.Is(err, ErrEmbeddingFail) {
		t.Fatalf("expected ErrEmbeddingFail, got %v", err)
	}
}

func TestCompactionService_CompactAll(t *testing.T) {
	svc, vs, cache, _, _ := setupCompactionTest(30 * 24 * time.Hour)
	ctx := context.Background()

	day := time.Now().UTC().Format("20060102")
	cache.activity[day] = map[string]bool{"u1": true, "u2": true}
	vs.memories["mem_000000000008"] = agedMemory("mem_000000000008", "u1", 30, 0.5)
	vs.memories["mem_000000000009"] = agedMemory("mem_000000000009", "u2", 30, 0.5)

	reports, err := svc.CompactAll(ctx, day, false)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(reports) != 2 {
		t.Fatalf("expected one report per active user, got %d", len(reports))
	}
	seen := map[string]bool{}
	for _, r := range reports {
		seen[r.UserID] = true
	}
	if !seen["u1"] || !seen["u2"] {
		t.Fatalf("expected both users compacted, got %v", seen)
	}
}
