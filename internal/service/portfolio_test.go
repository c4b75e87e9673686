package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemo-ai/mnemo/internal/domain"
)

func setupPortfolioTest() (*PortfolioService, *mockPortfolioStore) {
	fs := newMockPortfolioStore()
	svc := NewPortfolioService(fs, testLogger())
	return svc, fs
}

func TestPortfolioService_PutHolding_NormalizesTicker(t *testing.T) {
	svc, _ := setupPortfolioTest()
	ctx := context.Background()

	h, err := svc.PutHolding(ctx, &domain.PortfolioHolding{
		UserID: "u1", Ticker: "acme", Shares: 50, AvgPrice: 12.5,
	})
	require.NoError(t, err)
	assert.Equal(t, "ACME", h.Ticker)

	got, err := svc.GetHolding(ctx, "u1", "Acme")
	require.NoError(t, err, "lookup must be case-insensitive")
	assert.Equal(t, 50.0, got.Shares)
}

func TestPortfolioService_PutHolding_Validation(t *testing.T) {
	svc, _ := setupPortfolioTest()
	ctx := context.Background()

	cases := []struct {
		name string
		h    *domain.PortfolioHolding
		want error
	}{
		{"no user", &domain.PortfolioHolding{Ticker: "ACME", Shares: 1}, ErrUserIDMissing},
		{"no ticker", &domain.PortfolioHolding{UserID: "u1", Shares: 1}, ErrTickerMissing},
		{"zero shares", &domain.PortfolioHolding{UserID: "u1", Ticker: "ACME"}, ErrInvalidShares},
		{"negative shares", &domain.PortfolioHolding{UserID: "u1", Ticker: "ACME", Shares: -5}, ErrInvalidShares},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.PutHolding(ctx, tc.h)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestPortfolioService_GetHolding_NotFound(t *testing.T) {
	svc, _ := setupPortfolioTest()

	_, err := svc.GetHolding(context.Background(), "u1", "GHOST")
	assert.ErrorIs(t, err, ErrHoldingNotFound)
}

func TestPortfolioService_DeleteHolding(t *testing.T) {
	svc, _ := setupPortfolioTest()
	ctx := context.Background()

	_, err := svc.PutHolding(ctx, &domain.PortfolioHolding{UserID: "u1", Ticker: "ACME", Shares: 10, AvgPrice: 5})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteHolding(ctx, "u1", "acme"))
	assert.ErrorIs(t, svc.DeleteHolding(ctx, "u1", "acme"), ErrHoldingNotFound)
}

func TestPortfolioService_Summary(t *testing.T) {
	svc, _ := setupPortfolioTest()
	ctx := context.Background()

	_, err := svc.PutHolding(ctx, &domain.PortfolioHolding{UserID: "u1", Ticker: "ACME", Shares: 10, AvgPrice: 5})
	require.NoError(t, err)
	_, err = svc.PutHolding(ctx, &domain.PortfolioHolding{UserID: "u1", Ticker: "INIT", Shares: 4, AvgPrice: 25})
	require.NoError(t, err)

	summary, err := svc.Summary(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, summary.Holdings, 2)
	assert.Equal(t, 150.0, summary.TotalValue)

	_, err = svc.Summary(ctx, "")
	assert.ErrorIs(t, err, ErrUserIDMissing)
}

func TestPortfolioService_SetPreference(t *testing.T) {
	svc, fs := setupPortfolioTest()
	ctx := context.Background()

	pref, err := svc.SetPreference(ctx, &domain.PortfolioPreference{
		UserID: "u1", Name: "risk_tolerance", Value: "conservative",
	})
	require.NoError(t, err)
	assert.Equal(t, "string", pref.ValueType)
	assert.Len(t, fs.preferences, 1)

	summary, err := svc.Summary(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, summary.Preferences, 1)
	assert.Equal(t, "conservative", summary.Preferences[0].Value)

	// Later writes win.
	_, err = svc.SetPreference(ctx, &domain.PortfolioPreference{
		UserID: "u1", Name: "risk_tolerance", Value: "aggressive",
	})
	require.NoError(t, err)
	summary, err = svc.Summary(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, summary.Preferences, 1)
	assert.Equal(t, "aggressive", summary.Preferences[0].Value)
}

func TestPortfolioService_SetPreference_Validation(t *testing.T) {
	svc, _ := setupPortfolioTest()
	ctx := context.Background()

	cases := []struct {
		name string
		p    *domain.PortfolioPreference
		want error
	}{
		{"no user", &domain.PortfolioPreference{Name: "horizon", Value: "long"}, ErrUserIDMissing},
		{"no name", &domain.PortfolioPreference{UserID: "u1", Value: "long"}, ErrPreferenceNameMissing},
		{"no value", &domain.PortfolioPreference{UserID: "u1", Name: "horizon"}, ErrPreferenceValueMissing},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.SetPreference(ctx, tc.p)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestPortfolioService_Snapshot(t *testing.T) {
	svc, fs := setupPortfolioTest()
	ctx := context.Background()

	_, err := svc.PutHolding(ctx, &domain.PortfolioHolding{UserID: "u1", Ticker: "ACME", Shares: 10, AvgPrice: 5})
	require.NoError(t, err)

	snap, err := svc.Snapshot(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 50.0, snap.TotalValue)
	assert.Contains(t, snap.Holdings, "ACME")
	assert.Len(t, fs.snapshots, 1)
}
