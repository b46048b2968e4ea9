package manager

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/aristath/balancecore/internal/balance"
	"github.com/aristath/balancecore/internal/balance/reservation"
)

// moveReservationAmount shifts delta (signed) of unreserved amount into or
// out of a reservation's client-order bookkeeping: if clientOrderID is
// empty it moves not_approved_amount directly; otherwise it moves (or
// creates, or removes) the matching approved part, mirroring unreserve's
// branch logic for the transfer path (spec §4.F.6).
func (m *Manager) moveReservationAmount(r *reservation.Reservation, clientOrderID balance.ClientOrderID, delta decimal.Decimal) {
	if clientOrderID == "" {
		r.NotApprovedAmount = r.NotApprovedAmount.Add(delta)
		return
	}

	part, ok := r.ApprovedParts[clientOrderID]
	if !ok {
		if delta.IsPositive() {
			r.ApprovedParts[clientOrderID] = &reservation.ApprovedPart{
				ClientOrderID:    clientOrderID,
				ApprovedAt:       m.clk.Now(),
				OriginalAmount:   delta,
				UnreservedAmount: delta,
			}
		} else {
			r.NotApprovedAmount = r.NotApprovedAmount.Add(delta)
		}
		return
	}

	part.UnreservedAmount = part.UnreservedAmount.Add(delta)
	if r.Symbol.IsAmountWithinMarginError(part.UnreservedAmount) {
		delete(r.ApprovedParts, clientOrderID)
	}
}

// TryTransferReservation implements spec §4.F.6: it moves amount of
// unreserved quantity from src to dst, which must share
// (config, account, symbol, side) - a mismatch panics, since it indicates a
// caller bug rather than a business-rule rejection. An unknown src or dst
// id is rejected.
func (m *Manager) TryTransferReservation(srcID, dstID reservation.ID, amount decimal.Decimal, clientOrderID balance.ClientOrderID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	src, srcFound := m.storage.Get(srcID)
	dst, dstFound := m.storage.Get(dstID)
	if !srcFound || !dstFound {
		m.log.Warn().Uint64("src_id", uint64(srcID)).Uint64("dst_id", uint64(dstID)).Msg("try_transfer_reservation: unknown reservation id")
		return false
	}

	if src.Config != dst.Config || src.Account != dst.Account || src.Symbol.Pair != dst.Symbol.Pair || src.Side != dst.Side {
		panic(fmt.Sprintf("try_transfer_reservation: reservation %d and %d do not share (config, account, symbol, side)", srcID, dstID))
	}

	rounded := src.Symbol.RoundToRemoveAmountPrecisionError(amount)
	if rounded.IsZero() {
		m.log.Warn().
			Uint64("src_id", uint64(srcID)).
			Uint64("dst_id", uint64(dstID)).
			Msg("try_transfer_reservation: zero amount after rounding")
		return false
	}

	swing := src.ConvertInReservationCurrency(rounded).Sub(dst.ConvertInReservationCurrency(rounded))

	if src.Symbol.IsDerivative && !src.Price.Equal(dst.Price) {
		dstAvailable := m.getAvailableBalanceLocked(dst.Key(), dst.Symbol, dst.Price, dst.Account, dst.Market(), dst.Side, false, false)
		if dstAvailable.Add(swing).IsNegative() {
			m.log.Warn().
				Uint64("src_id", uint64(srcID)).
				Uint64("dst_id", uint64(dstID)).
				Str("swing", swing.String()).
				Msg("try_transfer_reservation: infeasible, destination balance would go negative")
			return false
		}
	}

	srcCostDiff := src.GetProportionalCostAmount(rounded)
	dstCostDiff := dst.GetProportionalCostAmount(rounded)

	m.moveReservationAmount(src, clientOrderID, rounded.Neg())
	src.UnreservedAmount = src.UnreservedAmount.Sub(rounded)
	src.CurrentAmount = src.CurrentAmount.Sub(rounded)
	src.Cost = src.Cost.Sub(srcCostDiff)
	m.reservedTree.Add(src.Key(), rounded.Neg())

	m.moveReservationAmount(dst, clientOrderID, rounded)
	dst.UnreservedAmount = dst.UnreservedAmount.Add(rounded)
	dst.CurrentAmount = dst.CurrentAmount.Add(rounded)
	dst.Cost = dst.Cost.Add(dstCostDiff)
	m.reservedTree.Add(dst.Key(), rounded)

	m.balances.AddBalance(dst.Key(), swing)

	if src.IsEmpty() {
		residual := src.UnreservedAmount
		if !residual.IsZero() {
			m.reservedTree.Add(src.Key(), residual.Neg())
			m.balances.AddBalanceBySymbol(src.Key(), src.Symbol, residual, src.Price)
		}
		m.storage.Remove(srcID)
	}

	m.log.Info().
		Uint64("src_id", uint64(srcID)).
		Uint64("dst_id", uint64(dstID)).
		Str("amount", rounded.String()).
		Str("swing", swing.String()).
		Msg("reservation transfer committed")
	m.audit(AuditEvent{
		Type: "TRANSFERRED", ReservationID: srcID, ClientOrderID: clientOrderID,
		Detail: map[string]any{"dst_id": uint64(dstID), "amount": rounded.String(), "swing": swing.String()},
	})
	return true
}
