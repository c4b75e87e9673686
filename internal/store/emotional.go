package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mnemo-ai/mnemo/internal/domain"
)

// EmotionalStore holds affective state rows keyed (id, ts).
type EmotionalStore struct {
	db *pgxpool.Pool
}

func NewEmotionalStore(db *pgxpool.Pool) *EmotionalStore {
	return &EmotionalStore{db: db}
}

func (s *EmotionalStore) Create(ctx context.Context, r *domain.EmotionalRecord) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO emotional_states (id, user_id, ts, emotional_state, valence, arousal, dominance, context, trigger_event, intensity, duration_minutes)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		r.ID, r.UserID, r.Timestamp, r.EmotionalState, r.Valence, r.Arousal,
		r.Dominance, r.Context, r.TriggerEvent, r.Intensity, r.DurationMinutes,
	)
	if err != nil {
		return fmt.Errorf("insert emotional state: %w", err)
	}
	return nil
}

func (s *EmotionalStore) Delete(ctx context.Context, id, userID string) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM emotional_states WHERE id = $1 AND user_id = $2`,
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

func (s *EmotionalStore) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM emotional_states WHERE id = $1)`,
		id,
	).Scan(&exists)
	return exists, err
}

func (s *EmotionalStore) GetByTimeRange(ctx context.Context, userID string, start, end time.Time, limit int) ([]domain.EmotionalRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx,
		`SELECT id, user_id, ts, emotional_state, valence, arousal, dominance, context, trigger_event, intensity, duration_minutes
		 FROM emotional_states
		 WHERE user_id = $1 AND ts >= $2 AND ts <= $3
		 ORDER BY ts DESC
		 LIMIT $4`,
		userID, start, end, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("emotional range query: %w", err)
	}
	defer rows.Close()

	var records []domain.EmotionalRecord
	for rows.Next() {
		var r domain.EmotionalRecord
		if err := rows.Scan(&r.ID, &r.UserID, &r.Timestamp, &r.EmotionalState,
			&r.Valence, &r.Arousal, &r.Dominance, &r.Context, &r.TriggerEvent,
			&r.Intensity, &r.DurationMinutes); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
