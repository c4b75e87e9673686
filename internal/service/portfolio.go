package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mnemo-ai/mnemo/internal/domain"
	"github.com/mnemo-ai/mnemo/internal/store"
)

var (
	ErrHoldingNotFound        = errors.New("holding not found")
	ErrTickerMissing          = errors.New("ticker is required")
	ErrInvalidShares          = errors.New("shares must be positive")
	ErrPreferenceNameMissing  = errors.New("preference name is required")
	ErrPreferenceValueMissing = errors.New("preference value is required")
)

// PortfolioService wraps the holdings tables behind the API surface.
type PortfolioService struct {
	portfolio domain.PortfolioStore
	logger    *zap.Logger
}

func NewPortfolioService(ps domain.PortfolioStore, logger *zap.Logger) *PortfolioService {
	return &PortfolioService{portfolio: ps, logger: logger}
}

// PortfolioSummary is the /summary payload: positions, preferences, and
// the recent ledger.
type PortfolioSummary struct {
	UserID       string                        `json:"user_id"`
	TotalValue   float64                       `json:"total_value"`
	Holdings     []domain.PortfolioHolding     `json:"holdings"`
	Preferences  []domain.PortfolioPreference  `json:"preferences,omitempty"`
	Transactions []domain.PortfolioTransaction `json:"recent_transactions,omitempty"`
}

func (s *PortfolioService) Summary(ctx context.Context, userID string) (*PortfolioSummary, error) {
	if userID == "" {
		return nil, ErrUserIDMissing
	}
	holdings, err := s.portfolio.ListHoldings(ctx, userID)
	if err != nil {
		return nil, err
	}
	summary := &PortfolioSummary{UserID: userID, Holdings: holdings}
	for _, h := range holdings {
		summary.TotalValue += h.Shares * h.AvgPrice
	}

	if prefs, err := s.portfolio.ListPreferences(ctx, userID); err != nil {
		s.logger.Warn("failed to load preferences", zap.Error(err))
	} else {
		summary.Preferences = prefs
	}
	if txs, err := s.portfolio.ListTransactions(ctx, userID, 10); err != nil {
		s.logger.Warn("failed to load transactions", zap.Error(err))
	} else {
		summary.Transactions = txs
	}
	return summary, nil
}

func (s *PortfolioService) GetHolding(ctx context.Context, userID, ticker string) (*domain.PortfolioHolding, error) {
	if ticker == "" {
		return nil, ErrTickerMissing
	}
	h, err := s.portfolio.GetHolding(ctx, userID, strings.ToUpper(ticker))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrHoldingNotFound
		}
		return nil, err
	}
	return h, nil
}

func (s *PortfolioService) PutHolding(ctx context.Context, h *domain.PortfolioHolding) (*domain.PortfolioHolding, error) {
	if h.UserID == "" {
		return nil, ErrUserIDMissing
	}
	if h.Ticker == "" {
		return nil, ErrTickerMissing
	}
	if h.Shares <= 0 {
		return nil, ErrInvalidShares
	}
	h.Ticker = strings.ToUpper(h.Ticker)
	h.UpdatedAt = time.Now().UTC()
	if err := s.portfolio.UpsertHolding(ctx, h); err != nil {
		return nil, err
	}
	return h, nil
}

func (s *PortfolioService) DeleteHolding(ctx context.Context, userID, ticker string) error {
	if ticker == "" {
		return ErrTickerMissing
	}
	err := s.portfolio.DeleteHolding(ctx, userID, strings.ToUpper(ticker))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrHoldingNotFound
		}
		return err
	}
	return nil
}

// SetPreference upserts one advisory preference (risk tolerance,
// horizon) keyed by name; later writes win.
func (s *PortfolioService) SetPreference(ctx context.Context, p *domain.PortfolioPreference) (*domain.PortfolioPreference, error) {
	if p.UserID == "" {
		return nil, ErrUserIDMissing
	}
	if p.Name == "" {
		return nil, ErrPreferenceNameMissing
	}
	if p.Value == "" {
		return nil, ErrPreferenceValueMissing
	}
	if p.ValueType == "" {
		p.ValueType = "string"
	}
	p.UpdatedAt = time.Now().UTC()
	if err := s.portfolio.UpsertPreference(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Snapshot freezes the current positions into the time-partitioned
// snapshot table.
func (s *PortfolioService) Snapshot(ctx context.Context, userID string) (*domain.PortfolioSnapshot, error) {
	summary, err := s.Summary(ctx, userID)
	if err != nil {
		return nil, err
	}
	holdings := map[string]any{}
	for _, h := range summary.Holdings {
		holdings[h.Ticker] = map[string]any{
			"shares":    h.Shares,
			"avg_price": h.AvgPrice,
		}
	}
	snap := &domain.PortfolioSnapshot{
		UserID:            userID,
		SnapshotTimestamp: time.Now().UTC().Truncate(time.Hour),
		TotalValue:        summary.TotalValue,
		Holdings:          holdings,
	}
	if err := s.portfolio.CreateSnapshot(ctx, snap); err != nil {
		return nil, err
	}
	return snap, nil
}
