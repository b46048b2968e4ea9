package manager

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/aristath/balancecore/internal/balance"
	"github.com/aristath/balancecore/internal/exchange"
)

// HandlePositionFillAmountChange implements spec §4.F.8: it settles the
// virtual-balance effect of a reported fill, appends the fill to position
// history, and returns a change amount in the reservation currency (for the
// caller's downstream commission accounting): the converted fill amount for
// spot symbols, the converted virtual-balance diff for derivatives whose
// amount currency is the reservation currency, and zero otherwise.
func (m *Manager) HandlePositionFillAmountChange(config balance.ConfigurationDescriptor, account exchange.AccountID, symbol exchange.Symbol, side exchange.Side, fillAmount, price decimal.Decimal, clientOrderID balance.ClientOrderID, ts time.Time) (decimal.Decimal, exchange.CurrencyCode) {
	m.mu.Lock()
	defer m.mu.Unlock()

	currencyCode := m.registry.ReservationCurrencyCode(symbol, side)
	key := balance.RequestKey{Config: config, Account: account, Pair: symbol.Pair, Currency: currencyCode}
	market := balance.MarketAccountID{Account: account, Pair: symbol.Pair}

	var changeAmount decimal.Decimal

	switch {
	case !symbol.IsDerivative:
		m.balances.AddBalanceBySymbol(key, symbol, fillAmount.Neg(), price)
		changeAmount = symbol.ConvertAmountFromAmountCurrencyCode(currencyCode, fillAmount, price)
	case symbol.AmountCurrencyCode == currencyCode:
		free := m.positions.GetSideNormalized(market, symbol, side, currencyCode)
		if free.IsNegative() {
			free = decimal.Zero
		}
		move := fillAmount.Abs()
		add := decimal.Min(free, move)
		sub := decimal.Max(decimal.Zero, move.Sub(free))
		leverage := m.leverageOrOne(account, symbol.Pair)
		diff := add.Sub(sub).Div(leverage).Mul(symbol.AmountMultiplier)
		m.balances.AddBalance(key, diff)
		changeAmount = symbol.ConvertAmountFromAmountCurrencyCode(currencyCode, diff, price)
	default:
		changeAmount = decimal.Zero
	}

	positionDelta := fillAmount
	if symbol.IsDerivative && symbol.ReversedDerivative {
		positionDelta = positionDelta.Neg()
	}
	newPosition := m.positions.Add(market, positionDelta, clientOrderID, ts)

	if limit, ok := m.limits.Get(key); ok && newPosition.Abs().GreaterThan(limit) {
		m.log.Warn().
			Str("market", market.String()).
			Str("position", newPosition.String()).
			Str("limit", limit.String()).
			Msg("position exceeded configured limit after fill")
	}

	return changeAmount, currencyCode
}

// HandlePositionFillAmountChangeCommission implements spec §4.F.9: it debits
// a reported commission from the virtual balance, converting into the
// amount currency first when the commission currency differs from the
// symbol's balance currency on a derivative.
func (m *Manager) HandlePositionFillAmountChangeCommission(config balance.ConfigurationDescriptor, account exchange.AccountID, symbol exchange.Symbol, commissionAmount decimal.Decimal, commissionCurrencyCode exchange.CurrencyCode, price decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	leverage := m.leverageOrOne(account, symbol.Pair)

	if !symbol.IsDerivative || symbol.BalanceCurrencyCode == commissionCurrencyCode {
		key := balance.RequestKey{Config: config, Account: account, Pair: symbol.Pair, Currency: commissionCurrencyCode}
		m.balances.AddBalance(key, commissionAmount.Neg().Div(leverage))
		return
	}

	converted := symbol.ConvertAmountIntoAmountCurrencyCode(commissionCurrencyCode, commissionAmount, price)
	key := balance.RequestKey{Config: config, Account: account, Pair: symbol.Pair, Currency: symbol.AmountCurrencyCode}
	m.balances.AddBalance(key, converted.Neg().Div(leverage))
}
