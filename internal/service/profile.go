package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mnemo-ai/mnemo/internal/domain"
	"github.com/mnemo-ai/mnemo/internal/store"
)

var (
	ErrProfileNotFound     = errors.New("profile not found")
	ErrInvalidCategory     = errors.New("invalid profile category")
	ErrInvalidSourceType   = errors.New("invalid source type")
	ErrProfileFieldMissing = errors.New("field_name and field_value are required")
)

const profileCacheTTL = 300 * time.Second

// ProfileService owns the profile storage path and the versioned cache in
// front of it. Writes go store-first, then bump the cache namespace so the
// next read observes them.
type ProfileService struct {
	profiles domain.ProfileStore
	cache    domain.Cache
	logger   *zap.Logger
}

func NewProfileService(ps domain.ProfileStore, cache domain.Cache, logger *zap.Logger) *ProfileService {
	return &ProfileService{profiles: ps, cache: cache, logger: logger}
}

// ProfileView is the complete cached profile payload.
type ProfileView struct {
	Profile    *domain.UserProfile      `json:"profile"`
	Fields     []domain.ProfileField    `json:"fields"`
	Confidence []domain.ConfidenceScore `json:"confidence"`
}

// Apply validates and persists a batch of field assertions, then
// invalidates the cached profile.
func (s *ProfileService) Apply(ctx context.Context, userID string, updates []domain.ProfileUpdate) (*domain.UserProfile, error) {
	if userID == "" {
		return nil, ErrUserIDMissing
	}
	for _, u := range updates {
		if !domain.ValidProfileCategory(string(u.Category)) {
			return nil, ErrInvalidCategory
		}
		if u.FieldName == "" || u.FieldValue == "" {
			return nil, ErrProfileFieldMissing
		}
		if !domain.ValidSourceType(string(u.SourceType)) {
			return nil, ErrInvalidSourceType
		}
	}

	profile, err := s.profiles.UpsertFields(ctx, userID, updates, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, userID)
	return profile, nil
}

// Set is the manual API edit path: a direct write recorded as an explicit
// source. The caller-visible confidence is 100 by definition.
func (s *ProfileService) Set(ctx context.Context, userID string, category domain.ProfileCategory, fieldName, fieldValue, valueType string) (*domain.UserProfile, error) {
	return s.Apply(ctx, userID, []domain.ProfileUpdate{{
		Category:       category,
		FieldName:      fieldName,
		FieldValue:     fieldValue,
		ValueType:      valueType,
		Confidence:     100,
		SourceType:     domain.SourceExplicit,
		SourceMemoryID: "manual:" + fieldName,
	}})
}

// View returns the full profile, served from cache when hot.
func (s *ProfileService) View(ctx context.Context, userID string) (*ProfileView, error) {
	if payload, ok, err := s.cache.GetProfile(ctx, userID); err != nil {
		s.logger.Warn("profile cache read failed", zap.Error(err))
	} else if ok {
		var view ProfileView
		if err := json.Unmarshal(payload, &view); err == nil {
			return &view, nil
		}
		s.logger.Warn("discarding malformed cached profile", zap.String("user_id", userID))
	}

	view, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}

	if payload, err := json.Marshal(view); err == nil {
		if err := s.cache.SetProfile(ctx, userID, payload, profileCacheTTL); err != nil {
			s.logger.Warn("profile cache write failed", zap.Error(err))
		}
	}
	return view, nil
}

func (s *ProfileService) load(ctx context.Context, userID string) (*ProfileView, error) {
	profile, err := s.profiles.GetProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}
	fields, err := s.profiles.GetFields(ctx, userID)
	if err != nil {
		return nil, err
	}
	confidence, err := s.profiles.GetConfidenceScores(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &ProfileView{Profile: profile, Fields: fields, Confidence: confidence}, nil
}

func (s *ProfileService) Category(ctx context.Context, userID string, category domain.ProfileCategory) ([]domain.ProfileField, error) {
	if !domain.ValidProfileCategory(string(category)) {
		return nil, ErrInvalidCategory
	}
	return s.profiles.GetFieldsByCategory(ctx, userID, category)
}

func (s *ProfileService) Completeness(ctx context.Context, userID string) (*domain.UserProfile, error) {
	p, err := s.profiles.GetProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}
	return p, nil
}

// Audit returns the full source trail.
func (s *ProfileService) Audit(ctx context.Context, userID string) ([]domain.ProfileSource, error) {
	return s.profiles.GetSources(ctx, userID)
}

// Export returns the fields grouped by category for external backup.
func (s *ProfileService) Export(ctx context.Context, userID string) (map[domain.ProfileCategory]map[string]string, error) {
	fields, err := s.profiles.GetFields(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := map[domain.ProfileCategory]map[string]string{}
	for _, f := range fields {
		if out[f.Category] == nil {
			out[f.Category] = map[string]string{}
		}
		out[f.Category][f.FieldName] = f.FieldValue
	}
	return out, nil
}

// Import applies an exported payload as explicit manual edits.
func (s *ProfileService) Import(ctx context.Context, userID string, payload map[domain.ProfileCategory]map[string]string) (*domain.UserProfile, error) {
	var updates []domain.ProfileUpdate
	for category, fields := range payload {
		for name, value := range fields {
			updates = append(updates, domain.ProfileUpdate{
				Category:       category,
				FieldName:      name,
				FieldValue:     value,
				Confidence:     100,
				SourceType:     domain.SourceExplicit,
				SourceMemoryID: "import:" + name,
			})
		}
	}
	if len(updates) == 0 {
		return nil, ErrProfileFieldMissing
	}
	return s.Apply(ctx, userID, updates)
}

func (s *ProfileService) DeleteField(ctx context.Context, userID string, category domain.ProfileCategory, fieldName string) error {
	if !domain.ValidProfileCategory(string(category)) {
		return ErrInvalidCategory
	}
	err := s.profiles.DeleteField(ctx, userID, category, fieldName)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrProfileNotFound
		}
		return err
	}
	s.invalidate(ctx, userID)
	return nil
}

func (s *ProfileService) Delete(ctx context.Context, userID string) error {
	err := s.profiles.DeleteProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrProfileNotFound
		}
		return err
	}
	s.invalidate(ctx, userID)
	return nil
}

func (s *ProfileService) invalidate(ctx context.Context, userID string) {
	if err := s.cache.BumpNamespace(ctx, userID); err != nil {
		s.logger.Warn("namespace bump failed", zap.String("user_id", userID), zap.Error(err))
	}
}

// Summary renders a compact profile block for conversation context,
// capped to the top fields by confidence.
func (s *ProfileService) Summary(ctx context.Context, userID string, topN int) (string, error) {
	view, err := s.View(ctx, userID)
	if err != nil {
		return "", err
	}
	if topN <= 0 {
		topN = 10
	}

	confidence := map[string]float64{}
	for _, c := range view.Confidence {
		confidence[string(c.Category)+"."+c.FieldName] = c.OverallConfidence
	}
	fields := append([]domain.ProfileField(nil), view.Fields...)
	sort.Slice(fields, func(i, j int) bool {
		ci := confidence[string(fields[i].Category)+"."+fields[i].FieldName]
		cj := confidence[string(fields[j].Category)+"."+fields[j].FieldName]
		if ci != cj {
			return ci > cj
		}
		return fields[i].FieldName < fields[j].FieldName
	})
	if len(fields) > topN {
		fields = fields[:topN]
	}

	var b strings.Builder
	b.WriteString("User Profile Summary:\n")
	for _, f := range fields {
		fmt.Fprintf(&b, "- %s/%s: %s\n", f.Category, f.FieldName, f.FieldValue)
	}
	return b.String(), nil
}

// highValueFields are asked about first when gap detection finds them
// missing, one question per conversation at most.
var highValueFields = []struct {
	Category domain.ProfileCategory
	Field    string
	Question string
}{
	{domain.CategoryBasics, "name", "By the way, what should I call you?"},
	{domain.CategoryBasics, "location", "Where are you based these days?"},
	{domain.CategoryGoals, "primary_goal", "What's the main thing you're working toward right now?"},
	{domain.CategoryPreferences, "communication_style", "Do you prefer short answers or detailed explanations?"},
}

// GapQuestion returns one question for the highest-value missing field, or
// empty when the profile covers them all.
func (s *ProfileService) GapQuestion(ctx context.Context, userID string) string {
	fields, err := s.profiles.GetFields(ctx, userID)
	if err != nil {
		s.logger.Debug("gap detection skipped", zap.Error(err))
		return ""
	}
	have := map[string]bool{}
	for _, f := range fields {
		have[string(f.Category)+"."+f.FieldName] = true
	}
	for _, hv := range highValueFields {
		if !have[string(hv.Category)+"."+hv.Field] {
			return hv.Question
		}
	}
	return ""
}
