package holder

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/balancecore/internal/balance"
	"github.com/aristath/balancecore/internal/exchange"
)

func newTestHolder() *Holder {
	return New(zerolog.Nop())
}

func ethKey() balance.RequestKey {
	return balance.RequestKey{
		Config:   balance.ConfigurationDescriptor{ServiceName: "strategy-a", ConfigKey: "main"},
		Account:  exchange.AccountID{Exchange: "binance", Account: 1},
		Pair:     "ETH/BTC",
		Currency: "ETH",
	}
}

func TestGetVirtualBalance_MissingExchangeBalanceReturnsNone(t *testing.T) {
	h := newTestHolder()

	_, ok := h.GetVirtualBalance(ethKey())
	assert.False(t, ok, "a currency the exchange never reported must be 'not tracked', not zero")
}

func TestGetVirtualBalance_RawPlusDiff(t *testing.T) {
	h := newTestHolder()
	key := ethKey()
	h.SetRawBalance(key.Account, key.Currency, decimal.NewFromInt(100))
	h.AddBalance(key, decimal.NewFromInt(-5))

	v, ok := h.GetVirtualBalance(key)
	require.True(t, ok)
	assert.True(t, v.Equal(decimal.NewFromInt(95)), "expected 95, got %s", v)
}

func TestAddBalanceBySymbol_ConvertsThroughSymbol(t *testing.T) {
	h := newTestHolder()
	key := balance.RequestKey{
		Config:   balance.ConfigurationDescriptor{ServiceName: "strategy-a", ConfigKey: "main"},
		Account:  exchange.AccountID{Exchange: "binance", Account: 1},
		Pair:     "ETH/BTC",
		Currency: "BTC",
	}
	h.SetRawBalance(key.Account, key.Currency, decimal.NewFromInt(0))

	symbol := exchange.NewSpotSymbol("ETH/BTC", "ETH", "BTC", 8, 8)
	// Buying 5 ETH at price 0.2 BTC/ETH should debit the BTC balance by 1.
	h.AddBalanceBySymbol(key, symbol, decimal.NewFromInt(-5), decimal.NewFromFloat(0.2))

	v, ok := h.GetVirtualBalance(key)
	require.True(t, ok)
	assert.True(t, v.Equal(decimal.NewFromInt(-1)), "expected -1, got %s", v)
}

func TestReconcileAgainstExchange_FlagsDriftBeyondThreshold(t *testing.T) {
	h := newTestHolder()
	key := ethKey()
	h.SetRawBalance(key.Account, key.Currency, decimal.NewFromInt(100))

	anomalies := h.ReconcileAgainstExchange(map[balance.RequestKey]decimal.Decimal{
		key: decimal.NewFromInt(150),
	}, decimal.NewFromInt(10))

	require.Len(t, anomalies, 1)
	assert.True(t, anomalies[0].Difference.Equal(decimal.NewFromInt(50)))

	v, _ := h.RawBalance(key.Account, key.Currency)
	assert.True(t, v.Equal(decimal.NewFromInt(150)), "raw balance is always updated, even when flagged")
}

func TestReconcileAgainstExchange_IgnoresFirstReport(t *testing.T) {
	h := newTestHolder()
	key := ethKey()

	anomalies := h.ReconcileAgainstExchange(map[balance.RequestKey]decimal.Decimal{
		key: decimal.NewFromInt(150),
	}, decimal.NewFromInt(10))

	assert.Empty(t, anomalies, "first report for a currency has nothing to compare against")
}

func TestClone_IsIndependentOfSource(t *testing.T) {
	h := newTestHolder()
	key := ethKey()
	h.SetRawBalance(key.Account, key.Currency, decimal.NewFromInt(100))
	h.AddBalance(key, decimal.NewFromInt(5))

	clone := h.Clone()
	h.AddBalance(key, decimal.NewFromInt(-5))

	cloneVal, ok := clone.GetVirtualBalance(key)
	require.True(t, ok)
	assert.True(t, cloneVal.Equal(decimal.NewFromInt(105)), "clone must not see the source's later mutation")
}
