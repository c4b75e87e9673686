package domain

import (
	"context"
	"time"
)

// SearchOpts filters a vector search.
type SearchOpts struct {
	Limit    int
	Offset   int
	Layer    *Layer
	Type     *MemoryType
	Tags     []string
	MinScore float64
}

// VectorStore is the source of truth for memory existence.
type VectorStore interface {
	Create(ctx context.Context, m *Memory) error
	GetByID(ctx context.Context, id, userID string) (*Memory, error)
	Delete(ctx context.Context, id, userID string) error
	// OwnerOf returns the user that owns the memory, regardless of caller.
	// Lets delete distinguish cross-user access from a missing id.
	OwnerOf(ctx context.Context, id string) (string, error)
	// SetStoredFlags persists the stored_in_* metadata flags on the record.
	SetStoredFlags(ctx context.Context, id string, flags map[string]bool) error
	Search(ctx context.Context, embedding []float32, userID string, opts SearchOpts) ([]MemoryWithScore, error)
	FindSimilar(ctx context.Context, userID string, embedding []float32, threshold float64, limit int) ([]MemoryWithScore, error)
	ListRecent(ctx context.Context, userID string, limit int) ([]Memory, error)
	ListOlderThan(ctx context.Context, userID string, cutoff time.Time, limit int) ([]Memory, error)
	UpdateImportance(ctx context.Context, id string, importance float64) error
	IncrementUsage(ctx context.Context, id string) error
}

type EpisodicStore interface {
	Create(ctx context.Context, r *EpisodicRecord) error
	Delete(ctx context.Context, id, userID string) error
	Exists(ctx context.Context, id string) (bool, error)
	GetByTimeRange(ctx context.Context, userID string, start, end time.Time, limit int) ([]EpisodicRecord, error)
}

type EmotionalStore interface {
	Create(ctx context.Context, r *EmotionalRecord) error
	Delete(ctx context.Context, id, userID string) error
	Exists(ctx context.Context, id string) (bool, error)
	GetByTimeRange(ctx context.Context, userID string, start, end time.Time, limit int) ([]EmotionalRecord, error)
}

type ProceduralStore interface {
	// Upsert folds repeated practice of one (user, skill) pair into a
	// single row, rewrites r.ID to the surviving row's id, and logs
	// proficiency transitions to the progression trail.
	Upsert(ctx context.Context, r *ProceduralRecord) error
	Delete(ctx context.Context, id, userID string) error
	Exists(ctx context.Context, id string) (bool, error)
	GetByUser(ctx context.Context, userID string) ([]ProceduralRecord, error)
	GetBySkillName(ctx context.Context, userID, skillName string) (*ProceduralRecord, error)
	Progressions(ctx context.Context, userID string) ([]SkillProgression, error)
}

type PortfolioStore interface {
	UpsertHolding(ctx context.Context, h *PortfolioHolding) error
	GetHolding(ctx context.Context, userID, ticker string) (*PortfolioHolding, error)
	ListHoldings(ctx context.Context, userID string) ([]PortfolioHolding, error)
	DeleteHolding(ctx context.Context, userID, ticker string) error
	AppendTransaction(ctx context.Context, t *PortfolioTransaction) error
	DeleteTransaction(ctx context.Context, id, userID string) error
	TransactionExists(ctx context.Context, id string) (bool, error)
	ListTransactions(ctx context.Context, userID string, limit int) ([]PortfolioTransaction, error)
	CreateSnapshot(ctx context.Context, s *PortfolioSnapshot) error
	ListSnapshots(ctx context.Context, userID string, start, end time.Time) ([]PortfolioSnapshot, error)
	UpsertPreference(ctx context.Context, p *PortfolioPreference) error
	ListPreferences(ctx context.Context, userID string) ([]PortfolioPreference, error)
}

type ProfileStore interface {
	// UpsertFields runs the full transactional path for each update:
	// ensure user_profiles row, upsert the field, append the source, then
	// recompute the field's confidence and the profile completeness.
	UpsertFields(ctx context.Context, userID string, updates []ProfileUpdate, now time.Time) (*UserProfile, error)
	GetProfile(ctx context.Context, userID string) (*UserProfile, error)
	GetFields(ctx context.Context, userID string) ([]ProfileField, error)
	GetFieldsByCategory(ctx context.Context, userID string, category ProfileCategory) ([]ProfileField, error)
	GetConfidenceScores(ctx context.Context, userID string) ([]ConfidenceScore, error)
	GetSources(ctx context.Context, userID string) ([]ProfileSource, error)
	DeleteField(ctx context.Context, userID string, category ProfileCategory, fieldName string) error
	DeleteProfile(ctx context.Context, userID string) error
}

type IntentStore interface {
	Create(ctx context.Context, i *ScheduledIntent) error
	GetByID(ctx context.Context, id string) (*ScheduledIntent, error)
	ListByUser(ctx context.Context, userID string) ([]ScheduledIntent, error)
	CountActive(ctx context.Context, userID string) (int, error)
	Update(ctx context.Context, i *ScheduledIntent) error
	Delete(ctx context.Context, id, userID string) error
	Pending(ctx context.Context, userID string, limit int, now time.Time, claimWindow time.Duration) ([]PendingIntent, error)
	// Claim locks the row with FOR UPDATE SKIP LOCKED and sets claimed_at.
	Claim(ctx context.Context, id string, now time.Time, claimWindow time.Duration) (*ScheduledIntent, error)
	// Fire persists the post-fire state (next_check, counters, cleared claim).
	Fire(ctx context.Context, i *ScheduledIntent) error
	AppendExecution(ctx context.Context, e *IntentExecution) error
	History(ctx context.Context, intentID string, limit int) ([]IntentExecution, error)
}

type ConsentStore interface {
	Upsert(ctx context.Context, c *HookConsent) error
	Get(ctx context.Context, userID string, hook HookKind) (*HookConsent, error)
	// MarkEventSeen records a source message id; returns false when already seen.
	MarkEventSeen(ctx context.Context, userID string, hook HookKind, sourceMessageID string) (bool, error)
}

// Cache is the ephemeral store: hot profiles, short-term layer, activity
// sets, and the per-user namespace counter used for invalidation.
type Cache interface {
	GetProfile(ctx context.Context, userID string) ([]byte, bool, error)
	SetProfile(ctx context.Context, userID string, payload []byte, ttl time.Duration) error
	BumpNamespace(ctx context.Context, userID string) error
	SetShortTerm(ctx context.Context, m *Memory, ttl time.Duration) error
	DeleteShortTerm(ctx context.Context, userID, memoryID string) error
	TouchActivity(ctx context.Context, userID, day string) error
	ActiveUsers(ctx context.Context, day string) ([]string, error)
	Ping(ctx context.Context) error
}

type EmbeddingClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// LLMClient issues one structured-output call: the response JSON is
// unmarshaled into out; implementations retry once on parse failure.
type LLMClient interface {
	CallStructured(ctx context.Context, prompt, input string, out any) error
}
