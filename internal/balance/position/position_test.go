package position

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/balancecore/internal/balance"
	"github.com/aristath/balancecore/internal/exchange"
)

func testMarket() balance.MarketAccountID {
	return balance.MarketAccountID{
		Account: exchange.AccountID{Exchange: "binance", Account: 1},
		Pair:    "BTC/USD",
	}
}

func TestGet_UnknownMarketReturnsFalse(t *testing.T) {
	a := New()
	_, ok := a.Get(testMarket())
	assert.False(t, ok)
}

func TestAdd_CreatesAndAccumulates(t *testing.T) {
	a := New()
	m := testMarket()
	now := time.Now()

	after := a.Add(m, decimal.NewFromInt(1), "order-1", now)
	assert.True(t, after.Equal(decimal.NewFromInt(1)))

	after = a.Add(m, decimal.NewFromInt(-3), "order-2", now.Add(time.Second))
	assert.True(t, after.Equal(decimal.NewFromInt(-2)))

	v, ok := a.Get(m)
	require.True(t, ok)
	assert.True(t, v.Equal(decimal.NewFromInt(-2)))
}

func TestGetLastPositionChangeBeforePeriod(t *testing.T) {
	a := New()
	m := testMarket()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	a.Add(m, decimal.NewFromInt(1), "o1", t0)
	a.Add(m, decimal.NewFromInt(1), "o2", t0.Add(time.Hour))
	a.Add(m, decimal.NewFromInt(1), "o3", t0.Add(2*time.Hour))

	change, ok := a.GetLastPositionChangeBeforePeriod(m, t0.Add(90*time.Minute))
	require.True(t, ok)
	assert.Equal(t, balance.ClientOrderID("o2"), change.ClientOrderID)
	assert.True(t, change.After.Equal(decimal.NewFromInt(2)))
}

func TestGetLastPositionChangeBeforePeriod_NoHistory(t *testing.T) {
	a := New()
	_, ok := a.GetLastPositionChangeBeforePeriod(testMarket(), time.Now())
	assert.False(t, ok)
}

func TestGetLastPositionChangeBeforePeriod_AllEntriesLater(t *testing.T) {
	a := New()
	m := testMarket()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a.Add(m, decimal.NewFromInt(1), "o1", t0)

	_, ok := a.GetLastPositionChangeBeforePeriod(m, t0.Add(-time.Hour))
	assert.False(t, ok)
}

func TestGetSideNormalized_SpotBaseCurrency(t *testing.T) {
	a := New()
	m := testMarket()
	symbol := exchange.NewSpotSymbol("BTC/USD", "BTC", "USD", 8, 2)
	a.Add(m, decimal.NewFromInt(3), "", time.Now())

	// Long 3 BTC; querying the buy side in the base currency should read
	// as a non-negative 3 (already pointing that way).
	got := a.GetSideNormalized(m, symbol, exchange.SideBuy, "BTC")
	assert.True(t, got.Equal(decimal.NewFromInt(3)))
}

func TestGetSideNormalized_OppositeSideFlips(t *testing.T) {
	a := New()
	m := testMarket()
	symbol := exchange.NewSpotSymbol("BTC/USD", "BTC", "USD", 8, 2)
	a.Add(m, decimal.NewFromInt(3), "", time.Now())

	sell := a.GetSideNormalized(m, symbol, exchange.SideSell, "BTC")
	assert.True(t, sell.Equal(decimal.NewFromInt(-3)))
}

func TestClone_Independence(t *testing.T) {
	a := New()
	m := testMarket()
	a.Add(m, decimal.NewFromInt(5), "", time.Now())

	clone := a.Clone()
	a.Add(m, decimal.NewFromInt(5), "", time.Now())

	v, ok := clone.Get(m)
	require.True(t, ok)
	assert.True(t, v.Equal(decimal.NewFromInt(5)))
}
