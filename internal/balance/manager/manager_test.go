package manager

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/balancecore/internal/balance"
	"github.com/aristath/balancecore/internal/clock"
	"github.com/aristath/balancecore/internal/exchange"
)

func testManager() (*Manager, *exchange.StaticRegistry, *clock.Fake) {
	registry := exchange.NewStaticRegistry(decimal.NewFromFloat(0.05))
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	m := New(registry, fake, zerolog.Nop())
	return m, registry, fake
}

func testConfig() balance.ConfigurationDescriptor {
	return balance.ConfigurationDescriptor{ServiceName: "strategy", ConfigKey: "default"}
}

func testAccount() exchange.AccountID {
	return exchange.AccountID{Exchange: "binance", Account: 1}
}

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

// Scenario 1 (spec §8.1): spot reserve-and-fill.
func TestScenario_SpotReserveAndUnreserve(t *testing.T) {
	m, _, _ := testManager()
	account := testAccount()
	symbol := exchange.NewSpotSymbol("ETH/BTC", "ETH", "BTC", 8, 8)

	m.SetRawBalance(account, "ETH", d(100))

	params := ReserveParams{
		Config:  testConfig(),
		Account: account,
		Symbol:  symbol,
		Side:    exchange.SideSell,
		Price:   d(0.2),
		Amount:  d(5),
	}
	id, ok := m.TryReserve(params)
	require.True(t, ok)

	available := m.GetAvailableBalance(testConfig(), account, symbol, exchange.SideSell, d(0.2), false, false)
	assert.True(t, available.Equal(d(95)), "expected 95, got %s", available)

	ok = m.Unreserve(id, d(5), "")
	require.True(t, ok)

	restored := m.GetAvailableBalance(testConfig(), account, symbol, exchange.SideSell, d(0.2), false, false)
	assert.True(t, restored.Equal(d(100)), "expected 100, got %s", restored)

	_, found := m.storage.Get(id)
	assert.False(t, found, "reservation must be removed after full unreserve")
}

// Scenario 4 & 5 (spec §8.4-8.5): position-limit gate and moving-toward-limit.
func TestScenario_PositionLimitGate(t *testing.T) {
	m, registry, _ := testManager()
	account := testAccount()
	symbol := exchange.NewLinearDerivativeSymbol("BTC/USD", "BTC", "USD", decimal.NewFromInt(1), 8, 2)
	registry.SetLeverage(account, symbol.Pair, decimal.NewFromInt(1))

	m.SetRawBalance(account, "USD", d(100000))
	m.SetTargetAmountLimit(testConfig(), account, symbol, d(2))

	ok := m.CanReserve(ReserveParams{
		Config: testConfig(), Account: account, Symbol: symbol,
		Side: exchange.SideBuy, Price: d(100), Amount: d(2),
	})
	assert.True(t, ok, "reserving up to the limit must be accepted")

	ok = m.CanReserve(ReserveParams{
		Config: testConfig(), Account: account, Symbol: symbol,
		Side: exchange.SideBuy, Price: d(100), Amount: d(2.1),
	})
	assert.False(t, ok, "reserving beyond the limit from flat must be rejected")
}

func TestScenario_MovingTowardLimitException(t *testing.T) {
	m, registry, fake := testManager()
	account := testAccount()
	symbol := exchange.NewLinearDerivativeSymbol("BTC/USD", "BTC", "USD", decimal.NewFromInt(1), 8, 2)
	registry.SetLeverage(account, symbol.Pair, decimal.NewFromInt(1))

	m.SetRawBalance(account, "USD", d(100000))
	m.SetTargetAmountLimit(testConfig(), account, symbol, d(2))

	market := balance.MarketAccountID{Account: account, Pair: symbol.Pair}
	m.positions.Add(market, d(-5), "", fake.Now())

	// Short 5, already 3 past the limit of 2; buying 2 moves the potential
	// position to -3, still past the limit but strictly closer to zero than
	// -5, so the moving-toward-limit exception must admit it.
	ok := m.CanReserve(ReserveParams{
		Config: testConfig(), Account: account, Symbol: symbol,
		Side: exchange.SideBuy, Price: d(100), Amount: d(2),
	})
	assert.True(t, ok, "reducing an over-limit position must be permitted")
}

// Scenario 6 (spec §8.6): clone subtraction.
func TestScenario_CloneSubtractsNotApproved(t *testing.T) {
	m, _, _ := testManager()
	account := testAccount()
	symbol := exchange.NewSpotSymbol("ETH/BTC", "ETH", "BTC", 8, 8)

	m.SetRawBalance(account, "ETH", d(100))

	id, ok := m.TryReserve(ReserveParams{
		Config: testConfig(), Account: account, Symbol: symbol,
		Side: exchange.SideSell, Price: d(0.2), Amount: d(5),
	})
	require.True(t, ok)

	sourceAvailable := m.GetAvailableBalance(testConfig(), account, symbol, exchange.SideSell, d(0.2), false, false)

	clone := m.CloneAndSubtractNotApprovedData(nil)

	cloneAvailable := clone.GetAvailableBalance(testConfig(), account, symbol, exchange.SideSell, d(0.2), false, false)
	assert.True(t, cloneAvailable.GreaterThan(sourceAvailable), "clone must show more available balance once the pending reservation is subtracted")

	_, stillLive := clone.storage.Get(id)
	assert.False(t, stillLive, "clone's reservation must be gone once fully not-approved")

	_, sourceStillLive := m.storage.Get(id)
	assert.True(t, sourceStillLive, "source manager must be untouched by the clone's mutation")
}

// Clone isolation (spec §8 quantified invariant).
func TestCloneIsolation_SourceMutationDoesNotAffectClone(t *testing.T) {
	m, _, _ := testManager()
	account := testAccount()
	m.SetRawBalance(account, "ETH", d(100))

	clone := m.CloneAndSubtractNotApprovedData(nil)

	m.SetRawBalance(account, "ETH", d(50))

	key := balance.RequestKey{Config: testConfig(), Account: account, Pair: "ETH/BTC", Currency: "ETH"}
	cloneBalance, ok := clone.balances.GetVirtualBalance(key)
	require.True(t, ok)
	assert.True(t, cloneBalance.Equal(d(100)), "clone must not observe the source's later balance update")
}

func TestApproveAndCancelApprovedReservation(t *testing.T) {
	m, _, _ := testManager()
	account := testAccount()
	symbol := exchange.NewSpotSymbol("ETH/BTC", "ETH", "BTC", 8, 8)
	m.SetRawBalance(account, "ETH", d(100))

	id, ok := m.TryReserve(ReserveParams{
		Config: testConfig(), Account: account, Symbol: symbol,
		Side: exchange.SideSell, Price: d(0.2), Amount: d(5),
	})
	require.True(t, ok)

	ok = m.ApproveReservation(id, "order-1", d(3))
	require.True(t, ok)

	r, found := m.storage.Get(id)
	require.True(t, found)
	assert.True(t, r.NotApprovedAmount.Equal(d(2)))
	assert.True(t, r.ApprovedParts["order-1"].UnreservedAmount.Equal(d(3)))

	m.CancelApprovedReservation(id, "order-1")
	r, _ = m.storage.Get(id)
	assert.True(t, r.NotApprovedAmount.Equal(d(5)))
	assert.True(t, r.ApprovedParts["order-1"].IsCanceled)

	assert.Panics(t, func() {
		m.CancelApprovedReservation(id, "order-1")
	}, "canceling an already-canceled approved part must panic")
}

func TestTryReserveMultiple_RollsBackOnRejection(t *testing.T) {
	m, _, _ := testManager()
	account := testAccount()
	symbol := exchange.NewSpotSymbol("ETH/BTC", "ETH", "BTC", 8, 8)
	m.SetRawBalance(account, "ETH", d(10))

	params := []ReserveParams{
		{Config: testConfig(), Account: account, Symbol: symbol, Side: exchange.SideSell, Price: d(0.2), Amount: d(5)},
		{Config: testConfig(), Account: account, Symbol: symbol, Side: exchange.SideSell, Price: d(0.2), Amount: d(100)},
	}

	ids, ok := m.TryReserveMultiple(params)
	assert.False(t, ok)
	assert.Nil(t, ids)

	available := m.GetAvailableBalance(testConfig(), account, symbol, exchange.SideSell, d(0.2), false, false)
	assert.True(t, available.Equal(d(10)), "a rejected multi-reserve must leave the ledger untouched, got %s", available)
}

func TestHandlePositionFillAmountChange_SpotDebitsBalance(t *testing.T) {
	m, _, fake := testManager()
	account := testAccount()
	symbol := exchange.NewSpotSymbol("ETH/BTC", "ETH", "BTC", 8, 8)
	m.SetRawBalance(account, "ETH", d(100))

	_, ccy := m.HandlePositionFillAmountChange(testConfig(), account, symbol, exchange.SideSell, d(5), d(0.2), "order-1", fake.Now())
	assert.Equal(t, exchange.CurrencyCode("ETH"), ccy)

	available := m.GetAvailableBalance(testConfig(), account, symbol, exchange.SideSell, d(0.2), false, false)
	assert.True(t, available.Equal(d(95)))

	pos, ok := m.GetPosition(account, symbol.Pair)
	require.True(t, ok)
	assert.True(t, pos.Equal(d(5)))
}
