package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mnemo-ai/mnemo/internal/domain"
)

// ConsentStore keeps per-user hook permissions and the seen-event set
// used to deduplicate hook deliveries.
type ConsentStore struct {
	db *pgxpool.Pool
}

func NewConsentStore(db *pgxpool.Pool) *ConsentStore {
	return &ConsentStore{db: db}
}

func (s *ConsentStore) Upsert(ctx context.Context, c *domain.HookConsent) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO hook_consents (user_id, hook, granted, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, hook) DO UPDATE SET
		     granted    = EXCLUDED.granted,
		     updated_at = EXCLUDED.updated_at`,
		c.UserID, c.Hook, c.Granted, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert consent: %w", err)
	}
	return nil
}

func (s *ConsentStore) Get(ctx context.Context, userID string, hook domain.HookKind) (*domain.HookConsent, error) {
	c := &domain.HookConsent{}
	err := s.db.QueryRow(ctx,
		`SELECT user_id, hook, granted, updated_at
		 FROM hook_consents WHERE user_id = $1 AND hook = $2`,
		userID, hook,
	).Scan(&c.UserID, &c.Hook, &c.Granted, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return c, nil
}

// MarkEventSeen inserts the source message id; ON CONFLICT DO NOTHING
// means a zero rows-affected result is "already seen".
func (s *ConsentStore) MarkEventSeen(ctx context.Context, userID string, hook domain.HookKind, sourceMessageID string) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`INSERT INTO hook_events_seen (user_id, hook, source_message_id)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, hook, source_message_id) DO NOTHING`,
		userID, hook, sourceMessageID,
	)
	if err != nil {
		return false, fmt.Errorf("mark event seen: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
