package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/balancecore/internal/balance"
	"github.com/aristath/balancecore/internal/balance/manager"
	"github.com/aristath/balancecore/internal/balance/position"
	"github.com/aristath/balancecore/internal/balance/reservation"
	"github.com/aristath/balancecore/internal/exchange"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "balances.db")
	s, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	account := exchange.AccountID{Exchange: "binance", Account: 1}
	config := balance.ConfigurationDescriptor{ServiceName: "strategy", ConfigKey: "default"}
	key := balance.RequestKey{Config: config, Account: account, Pair: "ETH/BTC", Currency: "ETH"}

	snapshot := manager.Balances{
		Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		RawBalances: []manager.RawBalanceEntry{
			{Account: account, Currency: "ETH", Amount: decimal.NewFromInt(100)},
		},
		VirtualDiffs:    map[balance.RequestKey]decimal.Decimal{key: decimal.NewFromFloat(-5)},
		ReservedAmounts: map[balance.RequestKey]decimal.Decimal{key: decimal.NewFromInt(5)},
		AmountLimits:    map[balance.RequestKey]decimal.Decimal{},
		Positions:       map[balance.MarketAccountID]decimal.Decimal{},
		PositionHistory: map[balance.MarketAccountID][]position.Change{},
		Reservations: map[reservation.ID]*reservation.Reservation{
			1: {
				ID: 1,
				Header: reservation.Header{
					Config: config, Account: account,
					Symbol: exchange.NewSpotSymbol("ETH/BTC", "ETH", "BTC", 8, 8),
					Side:   exchange.SideSell, Price: decimal.NewFromFloat(0.2),
					ReservationCurrencyCode: "ETH",
					OriginalAmount:          decimal.NewFromInt(5),
				},
				UnreservedAmount: decimal.NewFromInt(5),
				ApprovedParts:    map[balance.ClientOrderID]*reservation.ApprovedPart{},
				Cost:             decimal.NewFromInt(5),
				CurrentAmount:    decimal.NewFromInt(5),
			},
		},
	}

	err := s.Save(ctx, "strategy-a", snapshot)
	require.NoError(t, err)

	loaded, ok, err := s.Load(ctx, "strategy-a")
	require.NoError(t, err)
	require.True(t, ok)

	assert.True(t, loaded.Timestamp.Equal(snapshot.Timestamp))
	require.Len(t, loaded.RawBalances, 1)
	assert.True(t, loaded.RawBalances[0].Amount.Equal(decimal.NewFromInt(100)))
	assert.True(t, loaded.VirtualDiffs[key].Equal(decimal.NewFromFloat(-5)))
	require.Contains(t, loaded.Reservations, reservation.ID(1))
	assert.True(t, loaded.Reservations[1].UnreservedAmount.Equal(decimal.NewFromInt(5)))

	_, ok, err = s.Load(ctx, "unknown-instance")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSaveOverwritesPreviousSnapshot(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := manager.Balances{Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	second := manager.Balances{Timestamp: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)}

	require.NoError(t, s.Save(ctx, "strategy-a", first))
	require.NoError(t, s.Save(ctx, "strategy-a", second))

	loaded, ok, err := s.Load(ctx, "strategy-a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, loaded.Timestamp.Equal(second.Timestamp))

	ts, ok, err := s.SnapshotAt(ctx, "strategy-a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, ts.Equal(second.Timestamp))
}
