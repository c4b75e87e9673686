package domain

import "time"

type ProfileCategory string

const (
	CategoryBasics      ProfileCategory = "basics"
	CategoryPreferences ProfileCategory = "preferences"
	CategoryGoals       ProfileCategory = "goals"
	CategoryInterests   ProfileCategory = "interests"
	CategoryBackground  ProfileCategory = "background"
)

func ValidProfileCategory(c string) bool {
	switch ProfileCategory(c) {
	case CategoryBasics, CategoryPreferences, CategoryGoals, CategoryInterests, CategoryBackground:
		return true
	}
	return false
}

// ProfileTotalFields is the schema-defined field count used for completeness:
// 5 fields across each of the 5 categories.
const ProfileTotalFields = 25

type SourceType string

const (
	SourceExplicit SourceType = "explicit"
	SourceImplicit SourceType = "implicit"
	SourceInferred SourceType = "inferred"
)

func ValidSourceType(s string) bool {
	switch SourceType(s) {
	case SourceExplicit, SourceImplicit, SourceInferred:
		return true
	}
	return false
}

// ExplicitnessScore maps a source type onto the explicitness component scale.
func (s SourceType) ExplicitnessScore() float64 {
	switch s {
	case SourceExplicit:
		return 1.0
	case SourceImplicit:
		return 0.7
	case SourceInferred:
		return 0.4
	default:
		return 0.4
	}
}

type UserProfile struct {
	UserID          string    `json:"user_id"`
	CompletenessPct float64   `json:"completeness_pct"`
	TotalFields     int       `json:"total_fields"`
	PopulatedFields int       `json:"populated_fields"`
	CreatedAt       time.Time `json:"created_at"`
	LastUpdated     time.Time `json:"last_updated"`
}

type ProfileField struct {
	UserID     string          `json:"user_id"`
	Category   ProfileCategory `json:"category"`
	FieldName  string          `json:"field_name"`
	FieldValue string          `json:"field_value"`
	ValueType  string          `json:"value_type"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// ConfidenceScore holds the weighted confidence for one profile field.
// Overall = 0.30*frequency + 0.25*recency + 0.25*explicitness + 0.20*diversity.
type ConfidenceScore struct {
	UserID            string          `json:"user_id"`
	Category          ProfileCategory `json:"category"`
	FieldName         string          `json:"field_name"`
	OverallConfidence float64         `json:"overall_confidence"`
	Frequency         float64         `json:"frequency"`
	Recency           float64         `json:"recency"`
	Explicitness      float64         `json:"explicitness"`
	SourceDiversity   float64         `json:"source_diversity"`
	MentionCount      int             `json:"mention_count"`
	LastMentioned     time.Time       `json:"last_mentioned"`
}

type ProfileSource struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	Category       ProfileCategory `json:"category"`
	FieldName      string          `json:"field_name"`
	SourceMemoryID string          `json:"source_memory_id"`
	SourceType     SourceType      `json:"source_type"`
	ExtractedAt    time.Time       `json:"extracted_at"`
}

// ProfileUpdate is one field assertion produced by extraction or API.
type ProfileUpdate struct {
	Category       ProfileCategory `json:"category"`
	FieldName      string          `json:"field_name"`
	FieldValue     string          `json:"field_value"`
	ValueType      string          `json:"value_type,omitempty"`
	Confidence     float64         `json:"confidence"` // 0-100
	SourceType     SourceType      `json:"source_type"`
	SourceMemoryID string          `json:"source_memory_id,omitempty"`
}
