package domain

import "time"

// EpisodicRecord is a time-anchored event row, keyed by (ID, EventTimestamp).
type EpisodicRecord struct {
	ID               string         `json:"id"`
	UserID           string         `json:"user_id"`
	EventTimestamp   time.Time      `json:"event_timestamp"`
	EventType        string         `json:"event_type,omitempty"`
	Content          string         `json:"content"`
	Location         map[string]any `json:"location,omitempty"`
	Participants     []string       `json:"participants,omitempty"`
	EmotionalValence float64        `json:"emotional_valence"`
	EmotionalArousal float64        `json:"emotional_arousal"`
	ImportanceScore  float64        `json:"importance_score"`
	Tags             []string       `json:"tags,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// EmotionalRecord is a point-in-time affective state row, keyed by (ID, Timestamp).
type EmotionalRecord struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	Timestamp       time.Time `json:"timestamp"`
	EmotionalState  string    `json:"emotional_state"`
	Valence         float64   `json:"valence"`
	Arousal         float64   `json:"arousal"`
	Dominance       float64   `json:"dominance"`
	Context         string    `json:"context,omitempty"`
	TriggerEvent    string    `json:"trigger_event,omitempty"`
	Intensity       float64   `json:"intensity"`
	DurationMinutes int       `json:"duration_minutes,omitempty"`
}

type ProficiencyLevel string

const (
	ProficiencyBeginner     ProficiencyLevel = "beginner"
	ProficiencyIntermediate ProficiencyLevel = "intermediate"
	ProficiencyAdvanced     ProficiencyLevel = "advanced"
	ProficiencyExpert       ProficiencyLevel = "expert"
)

func ValidProficiency(p string) bool {
	switch ProficiencyLevel(p) {
	case ProficiencyBeginner, ProficiencyIntermediate, ProficiencyAdvanced, ProficiencyExpert:
		return true
	}
	return false
}

// ProceduralRecord tracks a skill and its practice history.
type ProceduralRecord struct {
	ID               string           `json:"id"`
	UserID           string           `json:"user_id"`
	SkillName        string           `json:"skill_name"`
	ProficiencyLevel ProficiencyLevel `json:"proficiency_level"`
	Prerequisites    []string         `json:"prerequisites,omitempty"`
	PracticeCount    int              `json:"practice_count"`
	SuccessRate      float64          `json:"success_rate"`
	LastPracticed    *time.Time       `json:"last_practiced,omitempty"`
}

// SkillProgression is one append-only level transition.
type SkillProgression struct {
	SkillID   string           `json:"skill_id"`
	UserID    string           `json:"user_id"`
	FromLevel ProficiencyLevel `json:"from_level"`
	ToLevel   ProficiencyLevel `json:"to_level"`
	Timestamp time.Time        `json:"timestamp"`
}

// PortfolioHolding is uniquely keyed by (UserID, Ticker).
type PortfolioHolding struct {
	UserID    string    `json:"user_id"`
	Ticker    string    `json:"ticker"`
	Shares    float64   `json:"shares"`
	AvgPrice  float64   `json:"avg_price"`
	AssetName string    `json:"asset_name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type PortfolioTransaction struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Ticker    string    `json:"ticker"`
	Action    string    `json:"action"` // buy, sell
	Shares    float64   `json:"shares"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

type PortfolioSnapshot struct {
	UserID            string         `json:"user_id"`
	SnapshotTimestamp time.Time      `json:"snapshot_timestamp"`
	TotalValue        float64        `json:"total_value"`
	Holdings          map[string]any `json:"holdings"`
}

type PortfolioPreference struct {
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Value     string    `json:"value"`
	ValueType string    `json:"value_type"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TypedRecords carries the optional side-records that travel with one
// logical memory through the storage orchestrator. A nil field means the
// corresponding backend is not targeted.
type TypedRecords struct {
	Episodic   *EpisodicRecord
	Emotional  *EmotionalRecord
	Procedural *ProceduralRecord
	Holding    *PortfolioHolding
}
