package manager

import (
	"github.com/shopspring/decimal"

	"github.com/aristath/balancecore/internal/balance"
	"github.com/aristath/balancecore/internal/balance/reservation"
	"github.com/aristath/balancecore/internal/exchange"
)

// ReserveParams is the input to TryReserve/CanReserve (spec §4.F.1).
type ReserveParams struct {
	Config balance.ConfigurationDescriptor
	Account exchange.AccountID
	Symbol  exchange.Symbol
	Side    exchange.Side
	Price   decimal.Decimal
	Amount  decimal.Decimal
}

func (p ReserveParams) market() balance.MarketAccountID {
	return balance.MarketAccountID{Account: p.Account, Pair: p.Symbol.Pair}
}

// preset is the intermediate computation of spec §4.F.1 step 1.
type preset struct {
	reservationCcy     exchange.CurrencyCode
	takenFreeAmount    decimal.Decimal
	cost               decimal.Decimal // amount-currency units
	costInReservation  decimal.Decimal // reservation-currency units
}

// unreservedPositionInAmountCurrency returns the magnitude of any existing
// position opposing side, less whatever of it other live reservations on
// the same side have already taken free - the part of a new reservation on
// side that is still "covered" by a position in the other direction and
// therefore free of margin cost (spec §3 glossary "taken free amount").
// Grounded on original_source/core/src/balance/balance_reservation_manager.rs:490-507.
func (m *Manager) unreservedPositionInAmountCurrency(market balance.MarketAccountID, symbol exchange.Symbol, side exchange.Side, reservationCcy exchange.CurrencyCode) decimal.Decimal {
	v := m.positions.GetSideNormalized(market, symbol, side.Opposite(), reservationCcy)
	if v.IsNegative() {
		v = decimal.Zero
	}
	taken := m.sumTakenFreeAmount(side)
	return decimal.Max(decimal.Zero, v.Sub(taken))
}

// sumTakenFreeAmount sums InitialTakenFreeAmount across every live
// reservation on side, so that two reservations on the same side never both
// treat the same slice of an opposing position as free.
func (m *Manager) sumTakenFreeAmount(side exchange.Side) decimal.Decimal {
	total := decimal.Zero
	for _, r := range m.storage.AllRaw() {
		if r.Side != side {
			continue
		}
		total = total.Add(r.InitialTakenFreeAmount)
	}
	return total
}

func (m *Manager) leverageOrOne(account exchange.AccountID, pair string) decimal.Decimal {
	lev := m.registry.Leverage(account, pair)
	if lev.IsZero() {
		return decimal.NewFromInt(1)
	}
	return lev
}

func (m *Manager) computePreset(p ReserveParams) preset {
	reservationCcy := m.registry.ReservationCurrencyCode(p.Symbol, p.Side)

	var cost, takenFree decimal.Decimal
	if !p.Symbol.IsDerivative {
		cost = p.Amount
		takenFree = decimal.Zero
	} else {
		free := m.unreservedPositionInAmountCurrency(p.market(), p.Symbol, p.Side, reservationCcy)
		toPayFor := decimal.Max(decimal.Zero, p.Amount.Sub(free))
		takenFree = p.Amount.Sub(toPayFor)
		leverage := m.leverageOrOne(p.Account, p.Symbol.Pair)
		cost = toPayFor.Mul(p.Symbol.AmountMultiplier).Div(leverage)
	}

	costInReservation := p.Symbol.ConvertAmountFromAmountCurrencyCode(reservationCcy, cost, p.Price)

	return preset{
		reservationCcy:    reservationCcy,
		takenFreeAmount:   takenFree,
		cost:              cost,
		costInReservation: costInReservation,
	}
}

// key builds the RequestKey for params under a given reservation currency.
func (p ReserveParams) key(reservationCcy exchange.CurrencyCode) balance.RequestKey {
	return balance.RequestKey{
		Config:   p.Config,
		Account:  p.Account,
		Pair:     p.Symbol.Pair,
		Currency: reservationCcy,
	}
}

// CanReserve is the pure-check form of TryReserve: it reports whether the
// reservation would be accepted without mutating any state.
func (m *Manager) CanReserve(p ReserveParams) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.canReserveLocked(p)
	return ok
}

func (m *Manager) canReserveLocked(p ReserveParams) (preset, bool) {
	ps := m.computePreset(p)
	key := p.key(ps.reservationCcy)
	market := p.market()

	if !m.canReserveWithLimitLocked(key, market, p.Symbol, p.Side, ps.reservationCcy, p.Amount) {
		return ps, false
	}

	available := m.getAvailableBalanceLocked(key, p.Symbol, p.Price, p.Account, market, p.Side, false, false)
	newBalance := available.Sub(ps.costInReservation)
	if p.Symbol.RoundToRemoveAmountPrecisionError(newBalance).IsNegative() {
		return ps, false
	}
	return ps, true
}

// canReserveWithLimitLocked implements spec §4.F.1 step 3.
func (m *Manager) canReserveWithLimitLocked(key balance.RequestKey, market balance.MarketAccountID, symbol exchange.Symbol, side exchange.Side, reservationCcy exchange.CurrencyCode, amount decimal.Decimal) bool {
	limit, ok := m.limits.Get(key)
	if !ok {
		return true
	}

	reserved := m.reservedTree.GetOrZero(key)
	newReserved := reserved.Add(amount)
	currentPosition := m.positions.GetSideNormalized(market, symbol, side, reservationCcy)
	potentialPosition := currentPosition.Add(newReserved)

	if potentialPosition.Abs().LessThanOrEqual(limit) {
		return true
	}
	return potentialPosition.Abs().LessThan(currentPosition.Abs())
}

// TryReserve implements spec §4.F.1.
func (m *Manager) TryReserve(p ReserveParams) (reservation.ID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ps, ok := m.canReserveLocked(p)
	if !ok {
		m.log.Debug().
			Str("pair", p.Symbol.Pair).
			Str("amount", p.Amount.String()).
			Msg("reservation rejected")
		m.audit(AuditEvent{Type: "RESERVE_REJECTED", Detail: map[string]any{"pair": p.Symbol.Pair, "amount": p.Amount.String()}})
		return 0, false
	}

	id := m.ids.Next()
	r := &reservation.Reservation{
		ID: id,
		Header: reservation.Header{
			Config:                  p.Config,
			Account:                 p.Account,
			Symbol:                  p.Symbol,
			Side:                    p.Side,
			Price:                   p.Price,
			ReservationCurrencyCode: ps.reservationCcy,
			OriginalAmount:          p.Amount,
			InitialTakenFreeAmount:  ps.takenFreeAmount,
			InitialCost:             ps.cost,
		},
		ApprovedParts: make(map[balance.ClientOrderID]*reservation.ApprovedPart),
		CurrentAmount: p.Amount,
	}
	m.storage.Add(r)

	m.addReservedAmount(r, p.Amount, ps.cost, p.Price, true)
	r.NotApprovedAmount = r.UnreservedAmount

	m.log.Info().
		Uint64("reservation_id", uint64(id)).
		Str("pair", p.Symbol.Pair).
		Str("amount", p.Amount.String()).
		Str("cost", ps.cost.String()).
		Msg("reservation accepted")
	m.audit(AuditEvent{
		Type: "RESERVED", ReservationID: id,
		Detail: map[string]any{"pair": p.Symbol.Pair, "amount": p.Amount.String(), "cost": ps.cost.String()},
	})

	return id, true
}

// TryReserveMultiple implements spec §6's all-or-nothing multi-reserve: it
// attempts every params in order and, on the first rejection, rolls back by
// unreserving everything accepted so far (in reverse order).
func (m *Manager) TryReserveMultiple(params []ReserveParams) ([]reservation.ID, bool) {
	ids := make([]reservation.ID, 0, len(params))
	for _, p := range params {
		id, ok := m.TryReserve(p)
		if !ok {
			for i := len(ids) - 1; i >= 0; i-- {
				m.rollbackReservation(ids[i])
			}
			return nil, false
		}
		ids = append(ids, id)
	}
	return ids, true
}

// rollbackReservation fully unreserves a reservation created earlier in the
// same TryReserveMultiple call, as part of its all-or-nothing rollback.
func (m *Manager) rollbackReservation(id reservation.ID) {
	m.mu.Lock()
	r, ok := m.storage.Get(id)
	amount := decimal.Zero
	if ok {
		amount = r.UnreservedAmount
	}
	m.mu.Unlock()
	if ok {
		m.Unreserve(id, amount, "")
	}
}

// addReservedAmount is the shared bookkeeping triad named throughout spec
// §4.F: adjust the virtual balance (if updateBalance), the reservation's
// unreserved_amount and cost, and the reserved_amount_tree - all by the same
// signed amountDelta/costDelta pair so the conservation invariant (spec §8)
// never drifts between the three.
func (m *Manager) addReservedAmount(r *reservation.Reservation, amountDelta, costDelta, price decimal.Decimal, updateBalance bool) {
	key := r.Key()
	if updateBalance {
		m.balances.AddBalanceBySymbol(key, r.Symbol, costDelta.Neg(), price)
	}
	r.UnreservedAmount = r.UnreservedAmount.Add(amountDelta)
	r.Cost = r.Cost.Add(costDelta)
	m.reservedTree.Add(key, amountDelta)
}

// GetAvailableBalance implements spec §4.F.2.
func (m *Manager) GetAvailableBalance(config balance.ConfigurationDescriptor, account exchange.AccountID, symbol exchange.Symbol, side exchange.Side, price decimal.Decimal, includeFreeAmount, isLeveraged bool) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	reservationCcy := m.registry.ReservationCurrencyCode(symbol, side)
	key := balance.RequestKey{Config: config, Account: account, Pair: symbol.Pair, Currency: reservationCcy}
	market := balance.MarketAccountID{Account: account, Pair: symbol.Pair}
	return m.getAvailableBalanceLocked(key, symbol, price, account, market, side, includeFreeAmount, isLeveraged)
}

func (m *Manager) getAvailableBalanceLocked(key balance.RequestKey, symbol exchange.Symbol, price decimal.Decimal, account exchange.AccountID, market balance.MarketAccountID, side exchange.Side, includeFreeAmount, isLeveraged bool) decimal.Decimal {
	raw, ok := m.balances.GetVirtualBalance(key)
	if !ok {
		return decimal.Zero
	}

	leverage := m.leverageOrOne(account, symbol.Pair)

	if symbol.IsDerivative {
		if includeFreeAmount {
			free := m.unreservedPositionInAmountCurrency(market, symbol, side, key.Currency)
			freeInCcy := symbol.ConvertAmountFromAmountCurrencyCode(key.Currency, free, price)
			freeInCcy = freeInCcy.Div(leverage).Mul(symbol.AmountMultiplier)
			raw = raw.Add(freeInCcy)
		}
		untouchable := raw.Mul(m.registry.UntouchableRatio(account))
		raw = raw.Sub(untouchable)
	}

	if limit, ok := m.limits.Get(key); ok {
		raw = m.getBalanceWithAppliedLimits(key, symbol, price, side, leverage, raw, limit, market)
	}

	if isLeveraged {
		raw = raw.Mul(leverage).Div(symbol.AmountMultiplier)
	}

	return decimal.Max(decimal.Zero, raw)
}

// getBalanceWithAppliedLimits implements spec §4.F.2 step 4.
func (m *Manager) getBalanceWithAppliedLimits(key balance.RequestKey, symbol exchange.Symbol, price decimal.Decimal, side exchange.Side, leverage, currentBalance, limit decimal.Decimal, market balance.MarketAccountID) decimal.Decimal {
	pos := m.positions.GetSideNormalized(market, symbol, side, key.Currency)
	reserved := m.reservedTree.GetOrZero(key)
	limitLeft := limit.Sub(reserved.Add(pos))

	scaled := currentBalance.Mul(leverage).Div(symbol.AmountMultiplier)
	inAmountCcy := symbol.ConvertAmountIntoAmountCurrencyCode(key.Currency, scaled, price)
	capped := decimal.Min(inAmountCcy, limitLeft)
	backToCcy := symbol.ConvertAmountFromAmountCurrencyCode(key.Currency, capped, price)
	return backToCcy.Div(leverage).Mul(symbol.AmountMultiplier)
}
