// Package balance is the Balance Reservation & Accounting Core: the keyed
// types shared by every sub-package (tree, holder, position, reservation,
// manager), plus the ReservationId and ClientOrderId identifiers threaded
// through the whole lifecycle described in spec §3.
package balance

import (
	"fmt"
	"sync/atomic"

	"github.com/aristath/balancecore/internal/exchange"
)

// ConfigurationDescriptor scopes keys to a particular strategy/config, per
// spec §3, so multiple strategies can share one manager without their
// reservations or virtual balances colliding.
type ConfigurationDescriptor struct {
	ServiceName string
	ConfigKey   string
}

func (c ConfigurationDescriptor) String() string {
	return c.ServiceName + "/" + c.ConfigKey
}

// MarketAccountID pairs an exchange account with a traded pair.
type MarketAccountID struct {
	Account exchange.AccountID
	Pair    string
}

func (m MarketAccountID) String() string {
	return m.Account.String() + "@" + m.Pair
}

// RequestKey is the five-level addressing key used throughout components
// A (ServiceValueTree), B (VirtualBalanceHolder) and C (PositionAccounting):
// (config, account, pair, currency).
type RequestKey struct {
	Config   ConfigurationDescriptor
	Account  exchange.AccountID
	Pair     string
	Currency exchange.CurrencyCode
}

func (k RequestKey) String() string {
	return fmt.Sprintf("%s|%s|%s|%s", k.Config, k.Account, k.Pair, k.Currency)
}

// Market returns the (account, pair) projection of the key.
func (k RequestKey) Market() MarketAccountID {
	return MarketAccountID{Account: k.Account, Pair: k.Pair}
}

// ReservationID is a process-unique, monotonically issued reservation
// identifier (spec §3).
type ReservationID uint64

// ClientOrderID identifies the concrete client order an approved part of a
// reservation is bound to.
type ClientOrderID string

// IDSequence issues monotonically increasing ReservationIDs. It is safe for
// concurrent use, though the manager itself serializes all mutating calls
// per spec §5 - this just keeps id generation independently testable.
type IDSequence struct {
	counter uint64
}

// Next returns the next ReservationID, starting at 1.
func (s *IDSequence) Next() ReservationID {
	return ReservationID(atomic.AddUint64(&s.counter, 1))
}

// Peek returns the most recently issued id, or 0 if none has been issued.
func (s *IDSequence) Peek() ReservationID {
	return ReservationID(atomic.LoadUint64(&s.counter))
}

// Restore fast-forwards the sequence so the next Next() call issues at least
// id+1 - used when warm-restarting from a persisted Balances snapshot so
// ids never collide with ones issued before the restart.
func (s *IDSequence) Restore(id ReservationID) {
	for {
		cur := atomic.LoadUint64(&s.counter)
		if uint64(id) <= cur {
			return
		}
		if atomic.CompareAndSwapUint64(&s.counter, cur, uint64(id)) {
			return
		}
	}
}
