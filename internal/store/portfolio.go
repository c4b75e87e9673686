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

// PortfolioStore keeps current holdings, the append-only transaction
// ledger, daily snapshots, and investment preferences.
type PortfolioStore struct {
	db *pgxpool.Pool
}

func NewPortfolioStore(db *pgxpool.Pool) *PortfolioStore {
	return &PortfolioStore{db: db}
}

func (s *PortfolioStore) UpsertHolding(ctx context.Context, h *domain.PortfolioHolding) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO portfolio_holdings (user_id, ticker, shares, avg_price, asset_name, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $6)
		 ON CONFLICT (user_id, ticker) DO UPDATE SET
		     shares     = EXCLUDED.shares,
		     avg_price  = EXCLUDED.avg_price,
		     asset_name = EXCLUDED.asset_name,
		     updated_at = EXCLUDED.updated_at`,
		h.UserID, h.Ticker, h.Shares, h.AvgPrice, h.AssetName, h.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert holding: %w", err)
	}
	return nil
}

func (s *PortfolioStore) GetHolding(ctx context.Context, userID, ticker string) (*domain.PortfolioHolding, error) {
	h := &domain.PortfolioHolding{}
	err := s.db.QueryRow(ctx,
		`SELECT user_id, ticker, shares, avg_price, asset_name, created_at, updated_at
		 FROM portfolio_holdings WHERE user_id = $1 AND ticker = $2`,
		userID, ticker,
	).Scan(&h.UserID, &h.Ticker, &h.Shares, &h.AvgPrice, &h.AssetName, &h.CreatedAt, &h.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return h, nil
}

func (s *PortfolioStore) ListHoldings(ctx context.Context, userID string) ([]domain.PortfolioHolding, error) {
	rows, err := s.db.Query(ctx,
		`SELECT user_id, ticker, shares, avg_price, asset_name, created_at, updated_at
		 FROM portfolio_holdings WHERE user_id = $1 ORDER BY ticker`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list holdings: %w", err)
	}
	defer rows.Close()

	var holdings []domain.PortfolioHolding
	for rows.Next() {
		var h domain.PortfolioHolding
		if err := rows.Scan(&h.UserID, &h.Ticker, &h.Shares, &h.AvgPrice,
			&h.AssetName, &h.CreatedAt, &h.UpdatedAt); err != nil {
			return nil, err
		}
		holdings = append(holdings, h)
	}
	return holdings, rows.Err()
}

func (s *PortfolioStore) DeleteHolding(ctx context.Context, userID, ticker string) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM portfolio_holdings WHERE user_id = $1 AND ticker = $2`,
		userID, ticker,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendTransaction records one ledger entry. The transaction id is the
// originating memory id, which is what lets a memory delete unwind it.
func (s *PortfolioStore) AppendTransaction(ctx context.Context, t *domain.PortfolioTransaction) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO portfolio_transactions (id, user_id, ticker, action, shares, price, ts)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.UserID, t.Ticker, t.Action, t.Shares, t.Price, t.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("append transaction: %w", err)
	}
	return nil
}

func (s *PortfolioStore) DeleteTransaction(ctx context.Context, id, userID string) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM portfolio_transactions WHERE id = $1 AND user_id = $2`,
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

func (s *PortfolioStore) TransactionExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM portfolio_transactions WHERE id = $1)`,
		id,
	).Scan(&exists)
	return exists, err
}

func (s *PortfolioStore) ListTransactions(ctx context.Context, userID string, limit int) ([]domain.PortfolioTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx,
		`SELECT id, user_id, ticker, action, shares, price, ts
		 FROM portfolio_transactions WHERE user_id = $1
		 ORDER BY ts DESC LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var txs []domain.PortfolioTransaction
	for rows.Next() {
		var t domain.PortfolioTransaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Ticker, &t.Action,
			&t.Shares, &t.Price, &t.Timestamp); err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

func (s *PortfolioStore) CreateSnapshot(ctx context.Context, snap *domain.PortfolioSnapshot) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO portfolio_snapshots (user_id, snapshot_timestamp, total_value, holdings)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, snapshot_timestamp) DO UPDATE SET
		     total_value = EXCLUDED.total_value,
		     holdings    = EXCLUDED.holdings`,
		snap.UserID, snap.SnapshotTimestamp, snap.TotalValue, snap.Holdings,
	)
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	return nil
}

func (s *PortfolioStore) ListSnapshots(ctx context.Context, userID string, start, end time.Time) ([]domain.PortfolioSnapshot, error) {
	rows, err := s.db.Query(ctx,
		`SELECT user_id, snapshot_timestamp, total_value, holdings
		 FROM portfolio_snapshots
		 WHERE user_id = $1 AND snapshot_timestamp >= $2 AND snapshot_timestamp <= $3
		 ORDER BY snapshot_timestamp DESC`,
		userID, start, end,
	)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []domain.PortfolioSnapshot
	for rows.Next() {
		var sn domain.PortfolioSnapshot
		if err := rows.Scan(&sn.UserID, &sn.SnapshotTimestamp, &sn.TotalValue, &sn.Holdings); err != nil {
			return nil, err
		}
		snaps = append(snaps, sn)
	}
	return snaps, rows.Err()
}

func (s *PortfolioStore) UpsertPreference(ctx context.Context, p *domain.PortfolioPreference) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO portfolio_preferences (user_id, name, value, value_type, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id, name) DO UPDATE SET
		     value      = EXCLUDED.value,
		     value_type = EXCLUDED.value_type,
		     updated_at = EXCLUDED.updated_at`,
		p.UserID, p.Name, p.Value, p.ValueType, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert preference: %w", err)
	}
	return nil
}

func (s *PortfolioStore) ListPreferences(ctx context.Context, userID string) ([]domain.PortfolioPreference, error) {
	rows, err := s.db.Query(ctx,
		`SELECT user_id, name, value, value_type, updated_at
		 FROM portfolio_preferences WHERE user_id = $1 ORDER BY name`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list preferences: %w", err)
	}
	defer rows.Close()

	var prefs []domain.PortfolioPreference
	for rows.Next() {
		var p domain.PortfolioPreference
		if err := rows.Scan(&p.UserID, &p.Name, &p.Value, &p.ValueType, &p.UpdatedAt); err != nil {
			return nil, err
		}
		prefs = append(prefs, p)
	}
	return prefs, rows.Err()
}
