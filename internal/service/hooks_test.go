package service

import (
	"context"
	"errors"
	"testing"

	"github.com/mnemo-ai/mnemo/internal/domain"
	"github.com/mnemo-ai/mnemo/internal/llm"
)

func setupHookTest() (*HookService, *mockConsentStore, *mockVectorStore, *mockLLMClient) {
	svc, vs, _, _, _, lc := setupIngestTest()
	cs := newMockConsentStore()
	hooks := NewHookService(cs, svc, testLogger())
	return hooks, cs, vs, lc
}

func emailEvent(userID, sourceID, body string) *domain.HookEvent {
	return &domain.HookEvent{
		UserID:          userID,
		Hook:            domain.HookEmail,
		SourceMessageID: sourceID,
		Subject:         "Flight confirmation",
		Body:            body,
	}
}

func TestHookService_Consent_DefaultDenied(t *testing.T) {
	hooks, _, _, _ := setupHookTest()

	c, err := hooks.GetConsent(context.Background(), "u1", domain.HookEmail)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.Granted {
		t.Fatal("consent must default to denied")
	}
}

func TestHookService_SetConsent(t *testing.T) {
	hooks, _, _, _ := setupHookTest()
	ctx := context.Background()

	if _, err := hooks.SetConsent(ctx, "u1", domain.HookEmail, true); err != nil {
		t.Fatalf("set consent: %v", err)
	}
	c, err := hooks.GetConsent(ctx, "u1", domain.HookEmail)
	if err != nil {
		t.Fatalf("get consent: %v", err)
	}
	if !c.Granted {
		t.Fatal("expected consent granted")
	}

	// Revocation sticks.
	if _, err := hooks.SetConsent(ctx, "u1", domain.HookEmail, false); err != nil {
		t.Fatalf("revoke consent: %v", err)
	}
	c, _ = hooks.GetConsent(ctx, "u1", domain.HookEmail)
	if c.Granted {
		t.Fatal("expected consent revoked")
	}
}

func TestHookService_SetConsent_InvalidHook(t *testing.T) {
	hooks, _, _, _ := setupHookTest()

	if _, err := hooks.SetConsent(context.Background(), "u1", "carrier_pigeon", true); !errors.Is(err, ErrInvalidHook) {
		t.Fatalf("expected ErrInvalidHook, got %v", err)
	}
}

func TestHookService_HandleEvent_ConsentGate(t *testing.T) {
	hooks, _, vs, _ := setupHookTest()

	_, err := hooks.HandleEvent(context.Background(), emailEvent("u1", "msg-1", "Your flight to Lisbon is confirmed"))
	if !errors.Is(err, ErrConsentDenied) {
		t.Fatalf("expected ErrConsentDenied without a grant, got %v", err)
	}
	if len(vs.memories) != 0 {
		t.Fatal("nothing may be ingested without consent")
	}
}

func TestHookService_HandleEvent_Ingests(t *testing.T) {
	hooks, _, vs, lc := setupHookTest()
	ctx := context.Background()

	if _, err := hooks.SetConsent(ctx, "u1", domain.HookEmail, true); err != nil {
		t.Fatalf("set consent: %v", err)
	}
	lc.responses[llm.ExtractAllPrompt] = `{
		"memories": [
			{"content": "User is flying to Lisbon on March 3", "layer": "semantic", "confidence": 0.9, "timestamp_type": "none"}
		],
		"profile_updates": []
	}`

	result, err := hooks.HandleEvent(ctx, emailEvent("u1", "msg-1", "Your flight to Lisbon is confirmed"))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.MemoriesCreated != 1 {
		t.Fatalf("expected one memory from the event, got %d", result.MemoriesCreated)
	}
	if len(vs.memories) != 1 {
		t.Fatalf("expected event body ingested, got %d memories", len(vs.memories))
	}
}

func TestHookService_HandleEvent_Dedup(t *testing.T) {
	hooks, _, _, lc := setupHookTest()
	ctx := context.Background()

	if _, err := hooks.SetConsent(ctx, "u1", domain.HookEmail, true); err != nil {
		t.Fatalf("set consent: %v", err)
	}
	lc.responses[llm.ExtractAllPrompt] = `{"memories": [], "profile_updates": []}`

	if _, err := hooks.HandleEvent(ctx, emailEvent("u1", "msg-1", "body")); err != nil {
		t.Fatalf("first event: %v", err)
	}
	if _, err := hooks.HandleEvent(ctx, emailEvent("u1", "msg-1", "body")); !errors.Is(err, ErrDuplicateHookEvent) {
		t.Fatalf("expected ErrDuplicateHookEvent on replay, got %v", err)
	}
	// A different source id is a new event.
	if _, err := hooks.HandleEvent(ctx, emailEvent("u1", "msg-2", "body")); err != nil {
		t.Fatalf("distinct event: %v", err)
	}
}

func TestHookService_HandleEvent_Validation(t *testing.T) {
	hooks, _, _, _ := setupHookTest()
	ctx := context.Background()

	cases := []struct {
		name string
		ev   *domain.HookEvent
		want error
	}{
		{"no user", &domain.HookEvent{Hook: domain.HookEmail, Body: "x"}, ErrUserIDMissing},
		{"bad hook", &domain.HookEvent{UserID: "u1", Hook: "fax", Body: "x"}, ErrInvalidHook},
		{"empty body", &domain.HookEvent{UserID: "u1", Hook: domain.HookEmail}, ErrHookEventEmpty},
	}
	for _, tc := range cases {
		if _, err := hooks.HandleEvent(ctx, tc.ev); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}
