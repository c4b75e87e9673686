package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/mnemo-ai/mnemo/internal/domain"
)

// VectorStore persists memories in the pgvector-backed index. It is the
// source of truth for memory existence.
type VectorStore struct {
	db *pgxpool.Pool
}

func NewVectorStore(db *pgxpool.Pool) *VectorStore {
	return &VectorStore{db: db}
}

const memoryColumns = `id, user_id, content, layer, type, importance, confidence,
	relevance_score, usage_count, persona_tags, ts, metadata`

func scanMemory(row pgx.Row, m *domain.Memory) error {
	return row.Scan(&m.ID, &m.UserID, &m.Content, &m.Layer, &m.Type,
		&m.Importance, &m.Confidence, &m.RelevanceScore, &m.UsageCount,
		&m.PersonaTags, &m.Timestamp, &m.Metadata)
}

func (s *VectorStore) Create(ctx context.Context, m *domain.Memory) error {
	var embedding *pgvector.Vector
	if len(m.Embedding) > 0 {
		v := pgvector.NewVector(m.Embedding)
		embedding = &v
	}

	_, err := s.db.Exec(ctx,
		`INSERT INTO memories (id, user_id, content, layer, type, importance, confidence, relevance_score, usage_count, persona_tags, embedding, ts, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		m.ID, m.UserID, m.Content, m.Layer, m.Type, m.Importance, m.Confidence,
		m.RelevanceScore, m.UsageCount, m.PersonaTags, embedding, m.Timestamp, m.Metadata,
	)
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

func (s *VectorStore) GetByID(ctx context.Context, id, userID string) (*domain.Memory, error) {
	m := &domain.Memory{}
	err := scanMemory(s.db.QueryRow(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE id = $1 AND user_id = $2`,
		id, userID,
	), m)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return m, nil
}

func (s *VectorStore) Delete(ctx context.Context, id, userID string) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM memories WHERE id = $1 AND user_id = $2`,
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

func (s *VectorStore) OwnerOf(ctx context.Context, id string) (string, error) {
	var owner string
	err := s.db.QueryRow(ctx,
		`SELECT user_id FROM memories WHERE id = $1`,
		id,
	).Scan(&owner)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return owner, nil
}

func (s *VectorStore) SetStoredFlags(ctx context.Context, id string, flags map[string]bool) error {
	patch := make(map[string]any, len(flags))
	for k, v := range flags {
		patch[k] = v
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE memories SET metadata = metadata || $2 WHERE id = $1`,
		id, patch,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *VectorStore) Search(ctx context.Context, embedding []float32, userID string, opts domain.SearchOpts) ([]domain.MemoryWithScore, error) {
	if opts.Limit <= 0 {
		opts.Limit = 10
	}

	vec := pgvector.NewVector(embedding)

	var conditions []string
	var args []any

	conditions = append(conditions, fmt.Sprintf("user_id = $%d", len(args)+1))
	args = append(args, userID)

	conditions = append(conditions, "embedding IS NOT NULL")

	if opts.Layer != nil {
		conditions = append(conditions, fmt.Sprintf("layer = $%d", len(args)+1))
		args = append(args, string(*opts.Layer))
	}

	if opts.Type != nil {
		conditions = append(conditions, fmt.Sprintf("type = $%d", len(args)+1))
		args = append(args, string(*opts.Type))
	}

	if len(opts.Tags) > 0 {
		conditions = append(conditions, fmt.Sprintf("persona_tags && $%d", len(args)+1))
		args = append(args, opts.Tags)
	}

	embeddingParam := len(args) + 1
	args = append(args, vec)

	if opts.MinScore > 0 {
		conditions = append(conditions, fmt.Sprintf("1 - (embedding <=> $%d) >= $%d", embeddingParam, len(args)+1))
		args = append(args, opts.MinScore)
	}

	limitParam := len(args) + 1
	args = append(args, opts.Limit)
	offsetParam := len(args) + 1
	args = append(args, opts.Offset)

	// Ties sort by ts desc then id asc so identical queries return
	// identical order.
	query := fmt.Sprintf(
		`SELECT `+memoryColumns+`, 1 - (embedding <=> $%d) AS score
		 FROM memories
		 WHERE %s
		 ORDER BY score DESC, ts DESC, id ASC
		 LIMIT $%d OFFSET $%d`,
		embeddingParam,
		strings.Join(conditions, " AND "),
		limitParam, offsetParam,
	)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search query: %w", err)
	}
	defer rows.Close()

	return scanScored(rows)
}

func (s *VectorStore) FindSimilar(ctx context.Context, userID string, embedding []float32, threshold float64, limit int) ([]domain.MemoryWithScore, error) {
	if limit <= 0 {
		limit = 20
	}
	vec := pgvector.NewVector(embedding)

	rows, err := s.db.Query(ctx,
		`SELECT `+memoryColumns+`, 1 - (embedding <=> $1) AS score
		 FROM memories
		 WHERE user_id = $2 AND embedding IS NOT NULL AND 1 - (embedding <=> $1) >= $3
		 ORDER BY score DESC, ts DESC, id ASC
		 LIMIT $4`,
		vec, userID, threshold, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("find similar query: %w", err)
	}
	defer rows.Close()

	return scanScored(rows)
}

func scanScored(rows pgx.Rows) ([]domain.MemoryWithScore, error) {
	var results []domain.MemoryWithScore
	for rows.Next() {
		var ms domain.MemoryWithScore
		err := rows.Scan(&ms.ID, &ms.UserID, &ms.Content, &ms.Layer, &ms.Type,
			&ms.Importance, &ms.Confidence, &ms.RelevanceScore, &ms.UsageCount,
			&ms.PersonaTags, &ms.Timestamp, &ms.Metadata, &ms.Score)
		if err != nil {
			return nil, fmt.Errorf("scan scored row: %w", err)
		}
		ms.Source = "semantic"
		results = append(results, ms)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scored rows: %w", err)
	}
	return results, nil
}

func (s *VectorStore) ListRecent(ctx context.Context, userID string, limit int) ([]domain.Memory, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(ctx,
		`SELECT `+memoryColumns+` FROM memories
		 WHERE user_id = $1
		 ORDER BY relevance_score DESC, ts DESC, id ASC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMemories(rows)
}

// ListOlderThan returns compaction candidates oldest first, embeddings
// included so callers can cluster without re-embedding.
func (s *VectorStore) ListOlderThan(ctx context.Context, userID string, cutoff time.Time, limit int) ([]domain.Memory, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.Query(ctx,
		`SELECT `+memoryColumns+`, embedding FROM memories
		 WHERE user_id = $1 AND ts < $2
		 ORDER BY ts ASC, id ASC
		 LIMIT $3`,
		userID, cutoff, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var memories []domain.Memory
	for rows.Next() {
		var m domain.Memory
		var embedding *pgvector.Vector
		err := rows.Scan(&m.ID, &m.UserID, &m.Content, &m.Layer, &m.Type,
			&m.Importance, &m.Confidence, &m.RelevanceScore, &m.UsageCount,
			&m.PersonaTags, &m.Timestamp, &m.Metadata, &embedding)
		if err != nil {
			return nil, err
		}
		if embedding != nil {
			m.Embedding = embedding.Slice()
		}
		memories = append(memories, m)
	}
	return memories, rows.Err()
}

func scanMemories(rows pgx.Rows) ([]domain.Memory, error) {
	var memories []domain.Memory
	for rows.Next() {
		var m domain.Memory
		err := rows.Scan(&m.ID, &m.UserID, &m.Content, &m.Layer, &m.Type,
			&m.Importance, &m.Confidence, &m.RelevanceScore, &m.UsageCount,
			&m.PersonaTags, &m.Timestamp, &m.Metadata)
		if err != nil {
			return nil, err
		}
		memories = append(memories, m)
	}
	return memories, rows.Err()
}

func (s *VectorStore) UpdateImportance(ctx context.Context, id string, importance float64) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE memories SET importance = $1, relevance_score = $1 WHERE id = $2`,
		importance, id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *VectorStore) IncrementUsage(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE memories SET usage_count = usage_count + 1 WHERE id = $1`,
		id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
