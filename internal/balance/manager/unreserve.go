package manager

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/aristath/balancecore/internal/balance"
	"github.com/aristath/balancecore/internal/balance/reservation"
)

// Unreserve implements spec §4.F.3. It returns false only when the caller
// should have supplied a client_order_id (decrementing not_approved_amount
// would go negative while approved parts still exist) or when the
// reservation id is unknown and the manager is not in a clone/zero-amount
// tolerant context.
func (m *Manager) Unreserve(id reservation.ID, amount decimal.Decimal, clientOrderID balance.ClientOrderID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.storage.Get(id)
	if !ok {
		if m.isCallFromClone || amount.IsZero() {
			return true
		}
		m.log.Warn().Uint64("reservation_id", uint64(id)).Msg("unreserve against unknown reservation id")
		return false
	}

	rounded := r.Symbol.RoundToRemoveAmountPrecisionError(amount)
	if rounded.IsZero() {
		return true
	}

	if clientOrderID != "" {
		part, found := r.ApprovedParts[clientOrderID]
		if !found {
			m.log.Warn().
				Uint64("reservation_id", uint64(id)).
				Str("client_order_id", string(clientOrderID)).
				Msg("unreserve: approved part not found, falling back to not_approved_amount")
			r.NotApprovedAmount = r.NotApprovedAmount.Sub(rounded)
		} else {
			next := part.UnreservedAmount.Sub(rounded)
			if next.LessThan(r.Symbol.AmountMarginError().Neg()) {
				panic(fmt.Sprintf("unreserve: approved part %s on reservation %d would go below margin error", clientOrderID, id))
			}
			part.UnreservedAmount = next
		}
	} else {
		next := r.NotApprovedAmount.Sub(rounded)
		if next.IsNegative() && r.UnreservedAmount.GreaterThan(rounded) {
			m.log.Warn().
				Uint64("reservation_id", uint64(id)).
				Msg("unreserve without client_order_id would drive not_approved_amount negative while approved parts remain")
			return false
		}
		r.NotApprovedAmount = next
	}

	proportionalCost := r.GetProportionalCostAmount(rounded)
	m.addReservedAmount(r, rounded.Neg(), proportionalCost.Neg(), r.Price, true)

	if r.UnreservedAmount.IsNegative() || r.IsEmpty() {
		residual := r.UnreservedAmount
		if !residual.IsZero() {
			compensationCost := r.Cost
			m.addReservedAmount(r, residual.Neg(), compensationCost.Neg(), r.Price, true)
			m.log.Warn().
				Uint64("reservation_id", uint64(id)).
				Str("residual", residual.String()).
				Msg("compensated residual precision drift on reservation removal")
		}
		m.storage.Remove(id)
		m.audit(AuditEvent{Type: "RESERVATION_REMOVED", ReservationID: id})
	}

	m.audit(AuditEvent{
		Type: "UNRESERVED", ReservationID: id, ClientOrderID: clientOrderID,
		Detail: map[string]any{"amount": rounded.String()},
	})
	return true
}
