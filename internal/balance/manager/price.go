package manager

import (
	"github.com/shopspring/decimal"

	"github.com/aristath/balancecore/internal/balance/reservation"
)

// TryUpdateReservationPrice implements spec §4.F.7: it recomputes the
// reservation-currency cost of the reservation's remaining amount at
// newPrice, rejects if the resulting available balance would go negative,
// and otherwise commits the price change and the implied cost delta. An
// unknown reservation id is rejected.
func (m *Manager) TryUpdateReservationPrice(id reservation.ID, newPrice decimal.Decimal) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, found := m.storage.Get(id)
	if !found {
		m.log.Warn().Uint64("reservation_id", uint64(id)).Msg("try_update_reservation_price: unknown reservation id")
		return false
	}
	key := r.Key()

	oldCostInReservation := r.Symbol.ConvertAmountFromAmountCurrencyCode(r.ReservationCurrencyCode, r.Cost, r.Price)
	newCostInReservation := r.Symbol.ConvertAmountFromAmountCurrencyCode(r.ReservationCurrencyCode, r.Cost, newPrice)
	diff := newCostInReservation.Sub(oldCostInReservation)

	available := m.getAvailableBalanceLocked(key, r.Symbol, newPrice, r.Account, r.Market(), r.Side, false, false)
	newBalance := available.Sub(diff)
	if r.Symbol.RoundToRemoveAmountPrecisionError(newBalance).IsNegative() {
		m.log.Warn().
			Uint64("reservation_id", uint64(id)).
			Str("new_price", newPrice.String()).
			Msg("try_update_reservation_price: rejected, would drive balance negative")
		return false
	}

	m.balances.AddBalance(key, diff.Neg())
	r.Price = newPrice
	r.NotApprovedAmount = r.UnreservedAmount.Sub(r.SumApprovedUnreserved())

	m.log.Info().
		Uint64("reservation_id", uint64(id)).
		Str("new_price", newPrice.String()).
		Str("cost_diff", diff.String()).
		Msg("reservation price updated")
	return true
}
