package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mnemo-ai/mnemo/internal/domain"
)

// ProceduralStore tracks skills and their append-only progressions.
type ProceduralStore struct {
	db *pgxpool.Pool
}

func NewProceduralStore(db *pgxpool.Pool) *ProceduralStore {
	return &ProceduralStore{db: db}
}

// Upsert keys on (user_id, skill_name): repeated practice of the same
// skill folds into one row rather than creating duplicates. The record's
// ID is rewritten to the surviving row's id, and a proficiency change
// appends to the skill_progressions log inside the same transaction.
func (s *ProceduralStore) Upsert(ctx context.Context, r *domain.ProceduralRecord) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin skill tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var existingID string
	var prevLevel domain.ProficiencyLevel
	err = tx.QueryRow(ctx,
		`SELECT id, proficiency_level FROM procedural_skills
		 WHERE user_id = $1 AND skill_name = $2 FOR UPDATE`,
		r.UserID, r.SkillName,
	).Scan(&existingID, &prevLevel)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		_, err = tx.Exec(ctx,
			`INSERT INTO procedural_skills (id, user_id, skill_name, proficiency_level, prerequisites, practice_count, success_rate, last_practiced)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			r.ID, r.UserID, r.SkillName, r.ProficiencyLevel, r.Prerequisites,
			r.PracticeCount, r.SuccessRate, r.LastPracticed,
		)
		if err != nil {
			return fmt.Errorf("insert skill: %w", err)
		}
	case err != nil:
		return fmt.Errorf("lock skill: %w", err)
	default:
		err = tx.QueryRow(ctx,
			`UPDATE procedural_skills SET
			     proficiency_level = $3,
			     prerequisites     = $4,
			     practice_count    = practice_count + 1,
			     success_rate      = $5,
			     last_practiced    = $6
			 WHERE id = $1 AND user_id = $2
			 RETURNING practice_count`,
			existingID, r.UserID, r.ProficiencyLevel, r.Prerequisites,
			r.SuccessRate, r.LastPracticed,
		).Scan(&r.PracticeCount)
		if err != nil {
			return fmt.Errorf("update skill: %w", err)
		}
		if prevLevel != r.ProficiencyLevel {
			ts := time.Now().UTC()
			if r.LastPracticed != nil {
				ts = *r.LastPracticed
			}
			_, err = tx.Exec(ctx,
				`INSERT INTO skill_progressions (skill_id, user_id, from_level, to_level, ts)
				 VALUES ($1, $2, $3, $4, $5)`,
				existingID, r.UserID, prevLevel, r.ProficiencyLevel, ts,
			)
			if err != nil {
				return fmt.Errorf("append progression: %w", err)
			}
		}
		r.ID = existingID
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit skill tx: %w", err)
	}
	return nil
}

func (s *ProceduralStore) Delete(ctx context.Context, id, userID string) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM procedural_skills WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *ProceduralStore) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM procedural_skills WHERE id = $1)`,
		id,
	).Scan(&exists)
	return exists, err
}

const skillColumns = `id, user_id, skill_name, proficiency_level, prerequisites, practice_count, success_rate, last_practiced`

func (s *ProceduralStore) GetByUser(ctx context.Context, userID string) ([]domain.ProceduralRecord, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+skillColumns+` FROM procedural_skills WHERE user_id = $1 ORDER BY skill_name`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list skills: %w", err)
	}
	defer rows.Close()

	var records []domain.ProceduralRecord
	for rows.Next() {
		var r domain.ProceduralRecord
		if err := rows.Scan(&r.ID, &r.UserID, &r.SkillName, &r.ProficiencyLevel,
			&r.Prerequisites, &r.PracticeCount, &r.SuccessRate, &r.LastPracticed); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *ProceduralStore) GetBySkillName(ctx context.Context, userID, skillName string) (*domain.ProceduralRecord, error) {
	r := &domain.ProceduralRecord{}
	err := s.db.QueryRow(ctx,
		`SELECT `+skillColumns+` FROM procedural_skills WHERE user_id = $1 AND skill_name = $2`,
		userID, skillName,
	).Scan(&r.ID, &r.UserID, &r.SkillName, &r.ProficiencyLevel,
		&r.Prerequisites, &r.PracticeCount, &r.SuccessRate, &r.LastPracticed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return r, nil
}

// Progressions returns the append-only proficiency trail, newest first.
func (s *ProceduralStore) Progressions(ctx context.Context, userID string) ([]domain.SkillProgression, error) {
	rows, err := s.db.Query(ctx,
		`SELECT skill_id, user_id, from_level, to_level, ts
		 FROM skill_progressions WHERE user_id = $1 ORDER BY ts DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list progressions: %w", err)
	}
	defer rows.Close()

	var trail []domain.SkillProgression
	for rows.Next() {
		var p domain.SkillProgression
		if err := rows.Scan(&p.SkillID, &p.UserID, &p.FromLevel, &p.ToLevel, &p.Timestamp); err != nil {
			return nil, err
		}
		trail = append(trail, p)
	}
	return trail, rows.Err()
}
