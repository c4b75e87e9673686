package domain

import "time"

// Turn is one transcript entry.
type Turn struct {
	Role      string    `json:"role"` // user, assistant, system
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Injection is a memory surfaced into a conversation turn.
type Injection struct {
	MemoryID string         `json:"memory_id"`
	Content  string         `json:"content"`
	Source   string         `json:"source"`
	Channel  string         `json:"channel"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type ConversationPhase string

const (
	PhaseFresh ConversationPhase = "fresh"
	PhaseWarm  ConversationPhase = "warm"
	PhaseIdle  ConversationPhase = "idle"
)

// HookKind identifies an ingress connector.
type HookKind string

const (
	HookEmail    HookKind = "email"
	HookCalendar HookKind = "calendar"
)

func ValidHookKind(k string) bool {
	switch HookKind(k) {
	case HookEmail, HookCalendar:
		return true
	}
	return false
}

// HookConsent is per-user, per-hook permission to ingest external events.
type HookConsent struct {
	UserID    string    `json:"user_id"`
	Hook      HookKind  `json:"hook"`
	Granted   bool      `json:"granted"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HookEvent is a normalized external event before transcript conversion.
type HookEvent struct {
	UserID          string         `json:"user_id"`
	Hook            HookKind       `json:"hook"`
	SourceMessageID string         `json:"source_message_id"`
	Subject         string         `json:"subject,omitempty"`
	Body            string         `json:"body"`
	OccurredAt      time.Time      `json:"occurred_at"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}
