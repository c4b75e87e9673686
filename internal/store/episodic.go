package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mnemo-ai/mnemo/internal/domain"
)

// EpisodicStore holds time-anchored event rows keyed (id, event_timestamp).
type EpisodicStore struct {
	db *pgxpool.Pool
}

func NewEpisodicStore(db *pgxpool.Pool) *EpisodicStore {
	return &EpisodicStore{db: db}
}

func (s *EpisodicStore) Create(ctx context.Context, r *domain.EpisodicRecord) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO episodic_events (id, user_id, event_timestamp, event_type, content, location, participants, emotional_valence, emotional_arousal, importance_score, tags, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		r.ID, r.UserID, r.EventTimestamp, r.EventType, r.Content, r.Location,
		r.Participants, r.EmotionalValence, r.EmotionalArousal, r.ImportanceScore,
		r.Tags, r.Metadata,
	)
	if err != nil {
		return fmt.Errorf("insert episodic event: %w", err)
	}
	return nil
}

func (s *EpisodicStore) Delete(ctx context.Context, id, userID string) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM episodic_events WHERE id = $1 AND user_id = $2`,
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

func (s *EpisodicStore) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM episodic_events WHERE id = $1)`,
		id,
	).Scan(&exists)
	return exists, err
}

func (s *EpisodicStore) GetByTimeRange(ctx context.Context, userID string, start, end time.Time, limit int) ([]domain.EpisodicRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx,
		`SELECT id, user_id, event_timestamp, event_type, content, location, participants, emotional_valence, emotional_arousal, importance_score, tags, metadata
		 FROM episodic_events
		 WHERE user_id = $1 AND event_timestamp >= $2 AND event_timestamp <= $3
		 ORDER BY event_timestamp DESC
		 LIMIT $4`,
		userID, start, end, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("episodic range query: %w", err)
	}
	defer rows.Close()

	var records []domain.EpisodicRecord
	for rows.Next() {
		var r domain.EpisodicRecord
		if err := rows.Scan(&r.ID, &r.UserID, &r.EventTimestamp, &r.EventType,
			&r.Content, &r.Location, &r.Participants, &r.EmotionalValence,
			&r.EmotionalArousal, &r.ImportanceScore, &r.Tags, &r.Metadata); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
