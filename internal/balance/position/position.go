// Package position implements PositionAccounting (spec §4.C): the signed
// net position per (account, pair) derived from fill events, plus an
// append-only change history supporting point-in-time queries. Grounded on
// internal/modules/portfolio/position_repository.go's position-storage shape
// and original_source/src/core/misc/derivative_position_info.rs for the
// side-normalization sign rule.
package position

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aristath/balancecore/internal/balance"
	"github.com/aristath/balancecore/internal/exchange"
)

// Change is one entry in a market's append-only position history.
type Change struct {
	Before        decimal.Decimal
	After         decimal.Decimal
	ClientOrderID balance.ClientOrderID // empty if not tied to a specific fill
	Timestamp     time.Time
}

// Accounting is the PositionAccounting component.
type Accounting struct {
	mu      sync.RWMutex
	current map[balance.MarketAccountID]decimal.Decimal
	history map[balance.MarketAccountID][]Change
}

// New creates an empty Accounting.
func New() *Accounting {
	return &Accounting{
		current: make(map[balance.MarketAccountID]decimal.Decimal),
		history: make(map[balance.MarketAccountID][]Change),
	}
}

// Get returns the current signed position for (account, pair), or
// (0, false) if no fill has ever been recorded for that market.
func (a *Accounting) Get(market balance.MarketAccountID) (decimal.Decimal, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	v, ok := a.current[market]
	return v, ok
}

// Add atomically applies delta to the market's position, appending a history
// entry, and creates the entry if it doesn't exist yet (spec §4.C add).
func (a *Accounting) Add(market balance.MarketAccountID, delta decimal.Decimal, clientOrderID balance.ClientOrderID, ts time.Time) decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()

	before := a.current[market]
	after := before.Add(delta)
	a.current[market] = after
	a.history[market] = append(a.history[market], Change{
		Before:        before,
		After:         after,
		ClientOrderID: clientOrderID,
		Timestamp:     ts,
	})
	return after
}

// Set overwrites the position for (account, pair) to newVal, recording
// previous as the history entry's Before value. Used only by explicit
// restore during reconciliation/warm-restart (spec §4.C set) - never by
// ordinary fill handling.
func (a *Accounting) Set(market balance.MarketAccountID, previous, newVal decimal.Decimal, clientOrderID balance.ClientOrderID, ts time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.current[market] = newVal
	a.history[market] = append(a.history[market], Change{
		Before:        previous,
		After:         newVal,
		ClientOrderID: clientOrderID,
		Timestamp:     ts,
	})
}

// GetLastPositionChangeBeforePeriod binary-searches the market's history for
// the latest change whose timestamp is strictly before start, per spec
// §4.C. Returns (Change{}, false) if the market has no history or every
// entry is at or after start.
func (a *Accounting) GetLastPositionChangeBeforePeriod(market balance.MarketAccountID, start time.Time) (Change, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	hist := a.history[market]
	if len(hist) == 0 {
		return Change{}, false
	}

	// hist is append-ordered, hence non-decreasing in time; sort.Search finds
	// the first index whose timestamp is >= start.
	idx := sort.Search(len(hist), func(i int) bool {
		return !hist[i].Timestamp.Before(start)
	})
	if idx == 0 {
		return Change{}, false
	}
	return hist[idx-1], true
}

// History returns a defensive copy of the full change history for a market,
// used by get_state()/snapshot.
func (a *Accounting) History(market balance.MarketAccountID) []Change {
	a.mu.RLock()
	defer a.mu.RUnlock()
	src := a.history[market]
	out := make([]Change, len(src))
	copy(out, src)
	return out
}

// AllMarkets returns every market with a tracked position, sorted by key for
// deterministic snapshotting.
func (a *Accounting) AllMarkets() []balance.MarketAccountID {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]balance.MarketAccountID, 0, len(a.current))
	for m := range a.current {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// GetSideNormalized implements spec §4.C's get_position(account, pair,
// side) helper: it returns the stored position re-signed so that "position
// in the direction of side" is non-negative when the net position already
// points that way. The flip rule is
//
//	invert iff is_derivative XOR (currency_code != base_currency_code)
//
// where currency_code is the reservation currency implied by side; a sell
// side inverts the result once more.
func (a *Accounting) GetSideNormalized(market balance.MarketAccountID, symbol exchange.Symbol, side exchange.Side, reservationCurrency exchange.CurrencyCode) decimal.Decimal {
	pos, ok := a.Get(market)
	if !ok {
		return decimal.Zero
	}

	invert := symbol.IsDerivative != (reservationCurrency != symbol.BaseCurrencyCode)
	if side == exchange.SideSell {
		invert = !invert
	}
	if invert {
		return pos.Neg()
	}
	return pos
}

// Clone returns an independent deep copy of the accounting state, so the
// manager's snapshot facility never aliases the live ledger (spec §9).
func (a *Accounting) Clone() *Accounting {
	a.mu.RLock()
	defer a.mu.RUnlock()

	clone := New()
	for m, v := range a.current {
		clone.current[m] = v
	}
	for m, hist := range a.history {
		cp := make([]Change, len(hist))
		copy(cp, hist)
		clone.history[m] = cp
	}
	return clone
}

// LoadState replaces the accounting state wholesale, used when restoring a
// persisted warm-restart snapshot (the manager's LoadState and
// RestoreFillAmountLimits).
func (a *Accounting) LoadState(current map[balance.MarketAccountID]decimal.Decimal, history map[balance.MarketAccountID][]Change) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.current = make(map[balance.MarketAccountID]decimal.Decimal, len(current))
	for k, v := range current {
		a.current[k] = v
	}
	a.history = make(map[balance.MarketAccountID][]Change, len(history))
	for k, v := range history {
		cp := make([]Change, len(v))
		copy(cp, v)
		a.history[k] = cp
	}
}
