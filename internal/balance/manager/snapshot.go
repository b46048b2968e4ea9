// Snapshot/clone facility (spec §4.F.10, §9): Balances is the flat,
// serializable dump for persistence and warm-restart (component H);
// CloneAndSubtractNotApprovedData is the "what-if" copy (component G) that
// owns independent copies of components A-D, never aliasing the live
// manager's state.
package manager

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/aristath/balancecore/internal/balance"
	"github.com/aristath/balancecore/internal/balance/position"
	"github.com/aristath/balancecore/internal/balance/reservation"
	"github.com/aristath/balancecore/internal/exchange"
)

// Balances is the flat, lossless snapshot of everything the manager owns,
// per spec §4.F.10/§7's persistence contract.
type Balances struct {
	Timestamp       time.Time
	RawBalances     []RawBalanceEntry
	VirtualDiffs    map[balance.RequestKey]decimal.Decimal
	ReservedAmounts map[balance.RequestKey]decimal.Decimal
	AmountLimits    map[balance.RequestKey]decimal.Decimal
	Positions       map[balance.MarketAccountID]decimal.Decimal
	PositionHistory map[balance.MarketAccountID][]position.Change
	Reservations    map[reservation.ID]*reservation.Reservation
}

// RawBalanceEntry mirrors holder.RawBalanceEntry as a top-level exported type
// so the persisted Balances shape doesn't depend on an internal subpackage
// alias surviving msgpack's field-by-name round-trip.
type RawBalanceEntry struct {
	Account  exchange.AccountID
	Currency string
	Amount   decimal.Decimal
}

// GetState implements spec §4.F.10's get_state(): a deep, point-in-time
// consistent snapshot safe to persist or hand to a reporting collaborator.
func (m *Manager) GetState() Balances {
	m.mu.Lock()
	defer m.mu.Unlock()

	positions := make(map[balance.MarketAccountID]decimal.Decimal)
	history := make(map[balance.MarketAccountID][]position.Change)
	for _, mk := range m.positions.AllMarkets() {
		if v, ok := m.positions.Get(mk); ok {
			positions[mk] = v
		}
		history[mk] = m.positions.History(mk)
	}

	reservations := make(map[reservation.ID]*reservation.Reservation, m.storage.Len())
	for id, r := range m.storage.AllRaw() {
		reservations[id] = r.Clone()
	}

	rawEntries := m.balances.RawEntries()
	flat := make([]RawBalanceEntry, 0, len(rawEntries))
	for _, e := range rawEntries {
		flat = append(flat, RawBalanceEntry{
			Account:  e.Account,
			Currency: string(e.Currency),
			Amount:   e.Amount,
		})
	}

	return Balances{
		Timestamp:       m.clk.Now(),
		RawBalances:     flat,
		VirtualDiffs:    m.balances.DiffsTree().AsMap(),
		ReservedAmounts: m.reservedTree.AsMap(),
		AmountLimits:    m.limits.AsMap(),
		Positions:       positions,
		PositionHistory: history,
		Reservations:    reservations,
	}
}

// OrderStatusSource is the narrow hook CloneAndSubtractNotApprovedData calls
// into to learn whether an approved part's client order has actually been
// accepted by the exchange yet (spec §4.F.10). The order pool itself is out
// of this module's scope (spec §1); a nil source is treated as "every
// approved part's order is already Created", i.e. only the not-approved
// portion of each reservation is subtracted.
type OrderStatusSource interface {
	IsCreated(clientOrderID balance.ClientOrderID) bool
}

// CloneAndSubtractNotApprovedData implements spec §4.F.10: it produces an
// independent manager with is_call_from_clone=true, in which every live
// reservation has had its not-approved portion unreserved (and, when
// orderStatus reports a client order as not yet Created, that approved
// part's remainder unreserved too) - the conservative "what if the pending
// orders never land" view.
func (m *Manager) CloneAndSubtractNotApprovedData(orderStatus OrderStatusSource) *Manager {
	m.mu.Lock()

	clone := &Manager{
		reservedTree:    m.reservedTree.Clone(),
		limits:          m.limits.Clone(),
		balances:        m.balances.Clone(),
		positions:       m.positions.Clone(),
		storage:         m.storage.Clone(),
		registry:        m.registry,
		clk:             m.clk,
		ids:             &balance.IDSequence{},
		isCallFromClone: true,
		log:             m.log.With().Bool("clone", true).Logger(),
	}
	clone.ids.Restore(m.ids.Peek())

	m.mu.Unlock()

	for _, id := range clone.storage.AllIDs() {
		r, ok := clone.storage.Get(id)
		if !ok {
			continue
		}

		if amount := r.NotApprovedAmount; !amount.IsZero() {
			clone.Unreserve(id, amount, "")
		}

		if orderStatus == nil {
			continue
		}
		for cid, part := range r.ApprovedParts {
			if part.IsCanceled || orderStatus.IsCreated(cid) {
				continue
			}
			clone.Unreserve(id, part.UnreservedAmount, cid)
		}
	}

	return clone
}
