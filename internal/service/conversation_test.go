package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mnemo-ai/mnemo/internal/domain"
	"github.com/mnemo-ai/mnemo/internal/llm"
)

func setupConversationTest(maxInjections int) (*ConversationService, *mockVectorStore, *mockEmbeddingClient, *mockLLMClient, *ProfileService) {
	vs := newMockVectorStore()
	es := newMockEpisodicStore()
	ms := newMockEmotionalStore()
	pcs := newMockProceduralStore()
	fs := newMockPortfolioStore()
	cache := newMockCache()
	storage := NewStorageService(vs, es, ms, pcs, fs, cache, time.Hour, testLogger())

	ec := newMockEmbeddingClient()
	lc := newMockLLMClient()
	// Background ingests run against this canned empty extraction.
	lc.responses[llm.ExtractAllPrompt] = `{"memories": [], "profile_updates": []}`

	retrieval := NewRetrievalService(vs, es, pcs, ec, lc, testLogger())
	profiles := NewProfileService(newMockProfileStore(), cache, testLogger())
	ingest := NewIngestService(vs, storage, profiles, ec, lc, 0.7, 0.8, testLogger())
	svc := NewConversationService(retrieval, ingest, profiles, ec, maxInjections, 24*time.Hour, testLogger())
	return svc, vs, ec, lc, profiles
}

func TestConversationService_Message_Validation(t *testing.T) {
	svc, _, _, _, _ := setupConversationTest(2)
	defer svc.Stop()
	ctx := context.Background()

	if _, err := svc.Message(ctx, "", "u1", "hi"); !errors.Is(err, ErrConversationIDMissing) {
		t.Fatalf("expected ErrConversationIDMissing, got %v", err)
	}
	if _, err := svc.Message(ctx, "c1", "", "hi"); !errors.Is(err, ErrUserIDMissing) {
		t.Fatalf("expected ErrUserIDMissing, got %v", err)
	}
	if _, err := svc.Message(ctx, "c1", "u1", ""); !errors.Is(err, ErrMessageEmpty) {
		t.Fatalf("expected ErrMessageEmpty, got %v", err)
	}
}

func TestConversationService_Message_Injects(t *testing.T) {
	svc, vs, _, _, _ := setupConversationTest(2)
	defer svc.Stop()

	vs.memories["mem_000000000001"] = &domain.Memory{
		ID: "mem_000000000001", UserID: "u1",
		Content: "User is allergic to shellfish", Timestamp: time.Now().UTC(),
	}

	resp, err := svc.Message(context.Background(), "c1", "u1", "what should I order for dinner?")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(resp.Injections) != 1 || resp.Injections[0].MemoryID != "mem_000000000001" {
		t.Fatalf("expected the stored memory injected, got %+v", resp.Injections)
	}
	if resp.Injections[0].Channel != "conversation" {
		t.Fatalf("unexpected channel %q", resp.Injections[0].Channel)
	}
	if resp.Phase != domain.PhaseFresh {
		t.Fatalf("expected fresh phase on the first turn, got %s", resp.Phase)
	}
}

func TestConversationService_Message_CooldownSuppressesRepeat(t *testing.T) {
	svc, vs, _, _, _ := setupConversationTest(2)
	defer svc.Stop()
	ctx := context.Background()

	vs.memories["mem_000000000002"] = &domain.Memory{
		ID: "mem_000000000002", UserID: "u1", Content: "User lives in Lisbon", Timestamp: time.Now().UTC(),
	}

	first, err := svc.Message(ctx, "c1", "u1", "where should I eat?")
	if err != nil || len(first.Injections) != 1 {
		t.Fatalf("first turn: injections=%d err=%v", len(first.Injections), err)
	}

	second, err := svc.Message(ctx, "c1", "u1", "any other ideas?")
	if err != nil {
		t.Fatalf("second turn: %v", err)
	}
	if len(second.Injections) != 0 {
		t.Fatalf("expected repeat injection suppressed by cooldown, got %+v", second.Injections)
	}
	if second.Phase != domain.PhaseWarm {
		t.Fatalf("expected warm phase on the second turn, got %s", second.Phase)
	}
}

func TestConversationService_Message_CapsInjections(t *testing.T) {
	svc, vs, ec, _, _ := setupConversationTest(2)
	defer svc.Stop()

	contents := []string{"likes hiking", "plays guitar", "studies Portuguese"}
	for i, c := range contents {
		id := "mem_00000000000" + string(rune('a'+i))
		vs.memories[id] = &domain.Memory{ID: id, UserID: "u1", Content: c, Timestamp: time.Now().UTC()}
		// Distinct embeddings so the overlap gate sees three different memories.
		v := make([]float32, 8)
		v[i] = 1
		ec.vectors[c] = v
	}

	resp, err := svc.Message(context.Background(), "c1", "u1", "tell me about my hobbies")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(resp.Injections) != 2 {
		t.Fatalf("expected injections capped at 2, got %d", len(resp.Injections))
	}
}

func TestConversationService_Message_OverlapGate(t *testing.T) {
	svc, vs, _, _, _ := setupConversationTest(5)
	defer svc.Stop()

	// Two near-identical memories: the default mock embedding is shared, so
	// the second candidate overlaps the first injection's ledger entry.
	vs.memories["mem_000000000003"] = &domain.Memory{ID: "mem_000000000003", UserID: "u1", Content: "User runs marathons", Timestamp: time.Now().UTC()}
	vs.memories["mem_000000000004"] = &domain.Memory{ID: "mem_000000000004", UserID: "u1", Content: "User is a marathon runner", Timestamp: time.Now().UTC()}

	resp, err := svc.Message(context.Background(), "c1", "u1", "what do I do for exercise?")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(resp.Injections) != 1 {
		t.Fatalf("expected semantic overlap to gate the duplicate, got %d injections", len(resp.Injections))
	}
}

func TestConversationService_Message_FirstTurnProfileContext(t *testing.T) {
	svc, _, _, _, profiles := setupConversationTest(2)
	defer svc.Stop()
	ctx := context.Background()

	if _, err := profiles.Set(ctx, "u1", domain.CategoryBasics, "name", "Maria", "string"); err != nil {
		t.Fatalf("seed profile: %v", err)
	}

	first, err := svc.Message(ctx, "c1", "u1", "hello")
	if err != nil {
		t.Fatalf("first turn: %v", err)
	}
	if !strings.Contains(first.ProfileContext, "basics/name: Maria") {
		t.Fatalf("expected profile summary on the first turn, got %q", first.ProfileContext)
	}

	second, err := svc.Message(ctx, "c1", "u1", "hello again")
	if err != nil {
		t.Fatalf("second turn: %v", err)
	}
	if second.ProfileContext != "" {
		t.Fatal("profile context must only be injected once per conversation")
	}
}

func TestConversationService_GapQuestionCooldownPerUser(t *testing.T) {
	svc, _, _, _, _ := setupConversationTest(2)
	defer svc.Stop()
	ctx := context.Background()

	first, err := svc.Message(ctx, "c1", "u1", "hello")
	if err != nil {
		t.Fatalf("first conversation: %v", err)
	}
	if first.Question == "" {
		t.Fatal("expected a gap question for a user with no profile")
	}

	// A new conversation for the same user inside the cooldown window stays
	// quiet.
	second, err := svc.Message(ctx, "c2", "u1", "hello")
	if err != nil {
		t.Fatalf("second conversation: %v", err)
	}
	if second.Question != "" {
		t.Fatalf("expected question cooldown to hold across conversations, got %q", second.Question)
	}
}

func TestConversationService_Retrieve(t *testing.T) {
	svc, vs, _, _, _ := setupConversationTest(2)
	defer svc.Stop()

	vs.memories["mem_000000000005"] = &domain.Memory{
		ID: "mem_000000000005", UserID: "u1", Content: "User prefers window seats", Timestamp: time.Now().UTC(),
	}

	resp, err := svc.Retrieve(context.Background(), "c1", "u1", "booking a flight")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(resp.Injections) != 1 {
		t.Fatalf("expected one injection from retrieve, got %d", len(resp.Injections))
	}

	if _, err := svc.Retrieve(context.Background(), "c1", "u1", ""); !errors.Is(err, ErrQueryEmpty) {
		t.Fatalf("expected ErrQueryEmpty, got %v", err)
	}
}

func TestConversationService_Transcript(t *testing.T) {
	svc, vs, _, _, _ := setupConversationTest(2)
	ctx := context.Background()

	vs.memories["mem_000000000006"] = &domain.Memory{
		ID: "mem_000000000006", UserID: "u1", Content: "User is vegetarian", Timestamp: time.Now().UTC(),
	}

	resp, err := svc.Transcript(ctx, "c1", "u1", []domain.Turn{
		{Role: "user", Content: "I need dinner ideas"},
		{Role: "assistant", Content: "What are you in the mood for?"},
		{Role: "user", Content: "something quick"},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(resp.Injections) != 1 {
		t.Fatalf("expected injections for the last user turn, got %d", len(resp.Injections))
	}

	if _, err := svc.Transcript(ctx, "c1", "u1", nil); !errors.Is(err, ErrTranscriptEmpty) {
		t.Fatalf("expected ErrTranscriptEmpty, got %v", err)
	}

	// Stop drains the background ingest kicked off by the transcript.
	svc.Stop()
}

func TestConversationService_CollectedActorRefusesMessage(t *testing.T) {
	svc, _, _, _, _ := setupConversationTest(2)
	ctx := context.Background()

	if _, err := svc.Message(ctx, "c1", "u1", "hello"); err != nil {
		t.Fatalf("message: %v", err)
	}

	// The idle collector can close a mailbox between actor lookup and
	// send; a message racing that window must be refused, not answered
	// with an empty success.
	a := svc.actors["c1"]
	close(a.mailbox)

	resp, err := svc.Message(ctx, "c1", "u1", "anyone there?")
	if !errors.Is(err, ErrOrchestratorStopped) {
		t.Fatalf("expected ErrOrchestratorStopped, got resp=%+v err=%v", resp, err)
	}
	if resp != nil {
		t.Fatal("refused message must not carry a response")
	}

	delete(svc.actors, "c1")
	svc.Stop()
}

func TestConversationService_StoppedRejectsTraffic(t *testing.T) {
	svc, _, _, _, _ := setupConversationTest(2)
	svc.Stop()

	if _, err := svc.Message(context.Background(), "c1", "u1", "hi"); !errors.Is(err, ErrOrchestratorStopped) {
		t.Fatalf("expected ErrOrchestratorStopped, got %v", err)
	}
}
