package manager

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/aristath/balancecore/internal/balance"
	"github.com/aristath/balancecore/internal/balance/reservation"
)

// ApproveReservation implements spec §4.F.4: it binds amount of a
// reservation's not-approved portion to a concrete client order. It fails if
// the reservation id is unknown, if clientOrderID is already present, or if
// decrementing not_approved_amount by amount would push it below the
// symbol's margin error.
func (m *Manager) ApproveReservation(id reservation.ID, clientOrderID balance.ClientOrderID, amount decimal.Decimal) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, found := m.storage.Get(id)
	if !found {
		m.log.Warn().Uint64("reservation_id", uint64(id)).Msg("approve_reservation: unknown reservation id")
		return false
	}

	if _, exists := r.ApprovedParts[clientOrderID]; exists {
		m.log.Warn().
			Uint64("reservation_id", uint64(id)).
			Str("client_order_id", string(clientOrderID)).
			Msg("approve_reservation: client order id already approved on this reservation")
		return false
	}

	next := r.NotApprovedAmount.Sub(amount)
	if next.LessThan(r.Symbol.AmountMarginError().Neg()) {
		m.log.Warn().
			Uint64("reservation_id", uint64(id)).
			Str("amount", amount.String()).
			Msg("approve_reservation: would drive not_approved_amount below margin error")
		return false
	}
	r.NotApprovedAmount = next

	r.ApprovedParts[clientOrderID] = &reservation.ApprovedPart{
		ClientOrderID:    clientOrderID,
		ApprovedAt:       m.clk.Now(),
		OriginalAmount:   amount,
		UnreservedAmount: amount,
	}

	m.log.Info().
		Uint64("reservation_id", uint64(id)).
		Str("client_order_id", string(clientOrderID)).
		Str("amount", amount.String()).
		Msg("reservation part approved")
	m.audit(AuditEvent{
		Type: "APPROVED", ReservationID: id, ClientOrderID: clientOrderID,
		Detail: map[string]any{"amount": amount.String()},
	})
	return true
}

// CancelApprovedReservation implements spec §4.F.5: it returns an approved
// part's remaining unreserved_amount back to not_approved_amount and marks
// the part canceled. Panics if the part is already canceled, or if
// clientOrderID has no approved part - both indicate a caller bug, not a
// recoverable condition. An unknown reservation id is logged and ignored.
func (m *Manager) CancelApprovedReservation(id reservation.ID, clientOrderID balance.ClientOrderID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, found := m.storage.Get(id)
	if !found {
		m.log.Warn().Uint64("reservation_id", uint64(id)).Msg("cancel_approved_reservation: unknown reservation id")
		return
	}
	part, ok := r.ApprovedParts[clientOrderID]
	if !ok {
		panic(fmt.Sprintf("cancel_approved_reservation: reservation %d has no approved part for client order %s", id, clientOrderID))
	}
	if part.IsCanceled {
		panic(fmt.Sprintf("cancel_approved_reservation: approved part %s on reservation %d already canceled", clientOrderID, id))
	}

	r.NotApprovedAmount = r.NotApprovedAmount.Add(part.UnreservedAmount)
	part.IsCanceled = true

	m.log.Info().
		Uint64("reservation_id", uint64(id)).
		Str("client_order_id", string(clientOrderID)).
		Msg("approved reservation part canceled")
	m.audit(AuditEvent{Type: "APPROVED_CANCELED", ReservationID: id, ClientOrderID: clientOrderID})
}
