package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mnemo-ai/mnemo/internal/domain"
)

// ProfileStore keeps the structured user profile: fields, per-field
// confidence scores, and the source trail behind each field.
type ProfileStore struct {
	db *pgxpool.Pool
}

func NewProfileStore(db *pgxpool.Pool) *ProfileStore {
	return &ProfileStore{db: db}
}

// UpsertFields applies a batch of field assertions in one transaction:
// ensure the profile row, upsert each field, append its source, recompute
// the field's confidence from the full source trail, then recompute
// completeness from the populated-field count.
func (s *ProfileStore) UpsertFields(ctx context.Context, userID string, updates []domain.ProfileUpdate, now time.Time) (*domain.UserProfile, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin profile tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO user_profiles (user_id, created_at, last_updated)
		 VALUES ($1, $2, $2)
		 ON CONFLICT (user_id) DO UPDATE SET last_updated = EXCLUDED.last_updated`,
		userID, now,
	)
	if err != nil {
		return nil, fmt.Errorf("ensure profile row: %w", err)
	}

	for _, u := range updates {
		valueType := u.ValueType
		if valueType == "" {
			valueType = "string"
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO profile_fields (user_id, category, field_name, field_value, value_type, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (user_id, category, field_name) DO UPDATE SET
			     field_value = EXCLUDED.field_value,
			     value_type  = EXCLUDED.value_type,
			     updated_at  = EXCLUDED.updated_at`,
			userID, u.Category, u.FieldName, u.FieldValue, valueType, now,
		)
		if err != nil {
			return nil, fmt.Errorf("upsert field %s.%s: %w", u.Category, u.FieldName, err)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO profile_sources (id, user_id, category, field_name, source_memory_id, source_type, extracted_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			uuid.NewString(), userID, u.Category, u.FieldName, u.SourceMemoryID, u.SourceType, now,
		)
		if err != nil {
			return nil, fmt.Errorf("append source: %w", err)
		}

		sources, err := fieldSources(ctx, tx, userID, u.Category, u.FieldName)
		if err != nil {
			return nil, err
		}
		score := domain.ComputeConfidence(userID, u.Category, u.FieldName, sources, now)
		// An explicit edit asserting full confidence is authoritative;
		// the accumulated source trail must not discount it.
		if u.SourceType == domain.SourceExplicit && u.Confidence >= 100 {
			score.OverallConfidence = 100
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO profile_confidence_scores (user_id, category, field_name, overall_confidence, frequency, recency, explicitness, source_diversity, mention_count, last_mentioned)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 ON CONFLICT (user_id, category, field_name) DO UPDATE SET
			     overall_confidence = EXCLUDED.overall_confidence,
			     frequency          = EXCLUDED.frequency,
			     recency            = EXCLUDED.recency,
			     explicitness       = EXCLUDED.explicitness,
			     source_diversity   = EXCLUDED.source_diversity,
			     mention_count      = EXCLUDED.mention_count,
			     last_mentioned     = EXCLUDED.last_mentioned`,
			userID, u.Category, u.FieldName, score.OverallConfidence,
			score.Frequency, score.Recency, score.Explicitness,
			score.SourceDiversity, score.MentionCount, score.LastMentioned,
		)
		if err != nil {
			return nil, fmt.Errorf("upsert confidence: %w", err)
		}
	}

	var populated int
	err = tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM profile_fields WHERE user_id = $1`,
		userID,
	).Scan(&populated)
	if err != nil {
		return nil, fmt.Errorf("count fields: %w", err)
	}

	profile := &domain.UserProfile{UserID: userID}
	err = tx.QueryRow(ctx,
		`UPDATE user_profiles SET
		     populated_fields = $2,
		     completeness_pct = $3,
		     last_updated     = $4
		 WHERE user_id = $1
		 RETURNING completeness_pct, total_fields, populated_fields, created_at, last_updated`,
		userID, populated, domain.Completeness(populated, domain.ProfileTotalFields), now,
	).Scan(&profile.CompletenessPct, &profile.TotalFields,
		&profile.PopulatedFields, &profile.CreatedAt, &profile.LastUpdated)
	if err != nil {
		return nil, fmt.Errorf("update profile summary: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit profile tx: %w", err)
	}
	return profile, nil
}

func fieldSources(ctx context.Context, tx pgx.Tx, userID string, category domain.ProfileCategory, fieldName string) ([]domain.ProfileSource, error) {
	rows, err := tx.Query(ctx,
		`SELECT id, user_id, category, field_name, source_memory_id, source_type, extracted_at
		 FROM profile_sources
		 WHERE user_id = $1 AND category = $2 AND field_name = $3`,
		userID, category, fieldName,
	)
	if err != nil {
		return nil, fmt.Errorf("field sources: %w", err)
	}
	defer rows.Close()
	return scanSources(rows)
}

func scanSources(rows pgx.Rows) ([]domain.ProfileSource, error) {
	var sources []domain.ProfileSource
	for rows.Next() {
		var src domain.ProfileSource
		if err := rows.Scan(&src.ID, &src.UserID, &src.Category, &src.FieldName,
			&src.SourceMemoryID, &src.SourceType, &src.ExtractedAt); err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

func (s *ProfileStore) GetProfile(ctx context.Context, userID string) (*domain.UserProfile, error) {
	p := &domain.UserProfile{}
	err := s.db.QueryRow(ctx,
		`SELECT user_id, completeness_pct, total_fields, populated_fields, created_at, last_updated
		 FROM user_profiles WHERE user_id = $1`,
		userID,
	).Scan(&p.UserID, &p.CompletenessPct, &p.TotalFields, &p.PopulatedFields,
		&p.CreatedAt, &p.LastUpdated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

func (s *ProfileStore) GetFields(ctx context.Context, userID string) ([]domain.ProfileField, error) {
	rows, err := s.db.Query(ctx,
		`SELECT user_id, category, field_name, field_value, value_type, updated_at
		 FROM profile_fields WHERE user_id = $1
		 ORDER BY category, field_name`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list fields: %w", err)
	}
	defer rows.Close()
	return scanFields(rows)
}

func (s *ProfileStore) GetFieldsByCategory(ctx context.Context, userID string, category domain.ProfileCategory) ([]domain.ProfileField, error) {
	rows, err := s.db.Query(ctx,
		`SELECT user_id, category, field_name, field_value, value_type, updated_at
		 FROM profile_fields WHERE user_id = $1 AND category = $2
		 ORDER BY field_name`,
		userID, category,
	)
	if err != nil {
		return nil, fmt.Errorf("list category fields: %w", err)
	}
	defer rows.Close()
	return scanFields(rows)
}

func scanFields(rows pgx.Rows) ([]domain.ProfileField, error) {
	var fields []domain.ProfileField
	for rows.Next() {
		var f domain.ProfileField
		if err := rows.Scan(&f.UserID, &f.Category, &f.FieldName,
			&f.FieldValue, &f.ValueType, &f.UpdatedAt); err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	return fields, rows.Err()
}

func (s *ProfileStore) GetConfidenceScores(ctx context.Context, userID string) ([]domain.ConfidenceScore, error) {
	rows, err := s.db.Query(ctx,
		`SELECT user_id, category, field_name, overall_confidence, frequency, recency, explicitness, source_diversity, mention_count, COALESCE(last_mentioned, 'epoch'::timestamptz)
		 FROM profile_confidence_scores WHERE user_id = $1
		 ORDER BY category, field_name`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list confidence scores: %w", err)
	}
	defer rows.Close()

	var scores []domain.ConfidenceScore
	for rows.Next() {
		var c domain.ConfidenceScore
		if err := rows.Scan(&c.UserID, &c.Category, &c.FieldName,
			&c.OverallConfidence, &c.Frequency, &c.Recency, &c.Explicitness,
			&c.SourceDiversity, &c.MentionCount, &c.LastMentioned); err != nil {
			return nil, err
		}
		scores = append(scores, c)
	}
	return scores, rows.Err()
}

func (s *ProfileStore) GetSources(ctx context.Context, userID string) ([]domain.ProfileSource, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, user_id, category, field_name, source_memory_id, source_type, extracted_at
		 FROM profile_sources WHERE user_id = $1
		 ORDER BY extracted_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()
	return scanSources(rows)
}

func (s *ProfileStore) DeleteField(ctx context.Context, userID string, category domain.ProfileCategory, fieldName string) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin delete tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`DELETE FROM profile_fields WHERE user_id = $1 AND category = $2 AND field_name = $3`,
		userID, category, fieldName,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	_, err = tx.Exec(ctx,
		`DELETE FROM profile_confidence_scores WHERE user_id = $1 AND category = $2 AND field_name = $3`,
		userID, category, fieldName,
	)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx,
		`DELETE FROM profile_sources WHERE user_id = $1 AND category = $2 AND field_name = $3`,
		userID, category, fieldName,
	)
	if err != nil {
		return err
	}

	var populated int
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM profile_fields WHERE user_id = $1`, userID,
	).Scan(&populated); err != nil {
		return err
	}
	_, err = tx.Exec(ctx,
		`UPDATE user_profiles SET populated_fields = $2, completeness_pct = $3, last_updated = NOW()
		 WHERE user_id = $1`,
		userID, populated, domain.Completeness(populated, domain.ProfileTotalFields),
	)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *ProfileStore) DeleteProfile(ctx context.Context, userID string) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM user_profiles WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
