package domain

import (
	"math"
	"time"
)

// Confidence component weights.
const (
	WeightFrequency    = 0.30
	WeightRecency      = 0.25
	WeightExplicitness = 0.25
	WeightDiversity    = 0.20

	frequencySaturation = 10 // mentions at which frequency maxes out
	recencyWindowDays   = 30
	diversitySaturation = 5 // distinct source memories at which diversity maxes out
)

// ComputeConfidence derives the confidence score for one profile field from
// all of its sources. Scores are on a 0-100 scale.
func ComputeConfidence(userID string, category ProfileCategory, fieldName string, sources []ProfileSource, now time.Time) ConfidenceScore {
	score := ConfidenceScore{
		UserID:       userID,
		Category:     category,
		FieldName:    fieldName,
		MentionCount: len(sources),
	}
	if len(sources) == 0 {
		return score
	}

	score.Frequency = math.Min(float64(len(sources))/frequencySaturation, 1) * 100

	latest := sources[0].ExtractedAt
	explicitSum := 0.0
	distinct := map[string]bool{}
	for _, s := range sources {
		if s.ExtractedAt.After(latest) {
			latest = s.ExtractedAt
		}
		explicitSum += s.SourceType.ExplicitnessScore()
		distinct[s.SourceMemoryID] = true
	}
	score.LastMentioned = latest

	ageDays := now.Sub(latest).Hours() / 24
	score.Recency = math.Max(1-ageDays/recencyWindowDays, 0) * 100
	score.Explicitness = explicitSum / float64(len(sources)) * 100
	score.SourceDiversity = math.Min(float64(len(distinct))/diversitySaturation, 1) * 100

	score.OverallConfidence = WeightFrequency*score.Frequency +
		WeightRecency*score.Recency +
		WeightExplicitness*score.Explicitness +
		WeightDiversity*score.SourceDiversity
	return score
}

// Completeness returns populated/total as a percentage, rounded to 2 places.
func Completeness(populated, total int) float64 {
	if total <= 0 {
		return 0
	}
	pct := float64(populated) / float64(total) * 100
	return math.Round(pct*100) / 100
}
