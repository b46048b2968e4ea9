package tree

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/balancecore/internal/balance"
	"github.com/aristath/balancecore/internal/exchange"
)

func testKey(currency string) balance.RequestKey {
	return balance.RequestKey{
		Config:   balance.ConfigurationDescriptor{ServiceName: "strategy-a", ConfigKey: "main"},
		Account:  exchange.AccountID{Exchange: "binance", Account: 1},
		Pair:     "BTC/USD",
		Currency: exchange.CurrencyCode(currency),
	}
}

func TestTree_AbsenceMeansNotTracked(t *testing.T) {
	tr := New()

	_, ok := tr.Get(testKey("BTC"))
	assert.False(t, ok, "a key nobody set must be absent, not zero")
	assert.True(t, tr.GetOrZero(testKey("BTC")).IsZero())
}

func TestTree_AddInsertsOrAccumulates(t *testing.T) {
	tr := New()
	key := testKey("BTC")

	got := tr.Add(key, decimal.NewFromFloat(1.5))
	assert.True(t, got.Equal(decimal.NewFromFloat(1.5)))

	got = tr.Add(key, decimal.NewFromFloat(-0.5))
	assert.True(t, got.Equal(decimal.NewFromFloat(1.0)))

	v, ok := tr.Get(key)
	require.True(t, ok)
	assert.True(t, v.Equal(decimal.NewFromFloat(1.0)))
}

func TestTree_RemoveDropsTheKeyEntirely(t *testing.T) {
	tr := New()
	key := testKey("BTC")
	tr.Set(key, decimal.NewFromInt(10))

	tr.Remove(key)

	_, ok := tr.Get(key)
	assert.False(t, ok)
}

func TestTree_CloneIsIndependent(t *testing.T) {
	tr := New()
	key := testKey("BTC")
	tr.Set(key, decimal.NewFromInt(10))

	clone := tr.Clone()
	tr.Add(key, decimal.NewFromInt(5))

	v, ok := clone.Get(key)
	require.True(t, ok)
	assert.True(t, v.Equal(decimal.NewFromInt(10)), "mutating the source must not affect the clone")
}

func TestTree_RangeIsDeterministicallyOrdered(t *testing.T) {
	tr := New()
	tr.Set(testKey("ETH"), decimal.NewFromInt(1))
	tr.Set(testKey("BTC"), decimal.NewFromInt(2))
	tr.Set(testKey("ADA"), decimal.NewFromInt(3))

	var seen []string
	tr.Range(func(key balance.RequestKey, value decimal.Decimal) {
		seen = append(seen, string(key.Currency))
	})

	assert.Equal(t, []string{"ADA", "BTC", "ETH"}, seen)
}

func TestTree_LoadMapReplacesContents(t *testing.T) {
	tr := New()
	tr.Set(testKey("BTC"), decimal.NewFromInt(1))

	tr.LoadMap(map[balance.RequestKey]decimal.Decimal{
		testKey("ETH"): decimal.NewFromInt(9),
	})

	_, ok := tr.Get(testKey("BTC"))
	assert.False(t, ok)
	v, ok := tr.Get(testKey("ETH"))
	require.True(t, ok)
	assert.True(t, v.Equal(decimal.NewFromInt(9)))
}
