package manager

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/aristath/balancecore/internal/balance"
	"github.com/aristath/balancecore/internal/balance/position"
	"github.com/aristath/balancecore/internal/balance/tree"
	"github.com/aristath/balancecore/internal/exchange"
)

// SetTargetAmountLimit implements spec §6: it applies limit to both the
// base- and quote-currency keys of symbol, since a position can be measured
// against the limit from either leg depending on which side's reservation
// currency a later query uses.
func (m *Manager) SetTargetAmountLimit(config balance.ConfigurationDescriptor, account exchange.AccountID, symbol exchange.Symbol, limit decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	baseKey := balance.RequestKey{Config: config, Account: account, Pair: symbol.Pair, Currency: symbol.BaseCurrencyCode}
	quoteKey := balance.RequestKey{Config: config, Account: account, Pair: symbol.Pair, Currency: symbol.QuoteCurrencyCode}
	m.limits.Set(baseKey, limit)
	m.limits.Set(quoteKey, limit)
}

// GetPosition passes through to PositionAccounting.Get.
func (m *Manager) GetPosition(account exchange.AccountID, pair string) (decimal.Decimal, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.positions.Get(balance.MarketAccountID{Account: account, Pair: pair})
}

// GetFillAmountPositionPercent reports the side-normalized position as a
// fraction of its configured limit, clamped to [0, 1], or zero if no limit
// is configured for the implied key (original
// balance_reservation_manager.rs:864).
func (m *Manager) GetFillAmountPositionPercent(config balance.ConfigurationDescriptor, account exchange.AccountID, symbol exchange.Symbol, side exchange.Side) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()

	reservationCcy := m.registry.ReservationCurrencyCode(symbol, side)
	key := balance.RequestKey{Config: config, Account: account, Pair: symbol.Pair, Currency: reservationCcy}
	limit, ok := m.limits.Get(key)
	if !ok || limit.IsZero() {
		return decimal.Zero
	}

	market := balance.MarketAccountID{Account: account, Pair: symbol.Pair}
	pos := m.positions.GetSideNormalized(market, symbol, side, reservationCcy)
	fraction := pos.Div(limit)
	return decimal.Min(decimal.NewFromInt(1), decimal.Max(decimal.Zero, fraction))
}

// GetLastPositionChangeBeforePeriod passes through to
// PositionAccounting.GetLastPositionChangeBeforePeriod.
func (m *Manager) GetLastPositionChangeBeforePeriod(account exchange.AccountID, pair string, start time.Time) (position.Change, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.positions.GetLastPositionChangeBeforePeriod(balance.MarketAccountID{Account: account, Pair: pair}, start)
}

// UpdateReservedBalances implements spec §6's update_reserved_balances: it
// rebuilds the reserved_amount_tree wholesale from the live reservations in
// storage, discarding any accumulated drift.
func (m *Manager) UpdateReservedBalances() {
	m.mu.Lock()
	defer m.mu.Unlock()

	fresh := tree.New()
	for _, r := range m.storage.AllRaw() {
		fresh.Add(r.Key(), r.UnreservedAmount)
	}
	m.reservedTree = fresh
}
