// Package holder implements VirtualBalanceHolder (spec §4.B): the
// authoritative ledger of exchange-reported balances plus the per-strategy
// virtual diffs that represent the unsettled effects of in-flight
// reservations, fills and commissions. Grounded on the teacher's
// "virtual cash" framing in internal/modules/satellites/balance_service.go
// and the reconciliation invariant in reconciliation_service.go, generalized
// from a single bucket/currency total to the five-level keyed tree.
package holder

import (
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/balancecore/internal/balance"
	"github.com/aristath/balancecore/internal/balance/tree"
	"github.com/aristath/balancecore/internal/exchange"
)

type rawKey struct {
	Account  exchange.AccountID
	Currency exchange.CurrencyCode
}

// Holder is the VirtualBalanceHolder.
type Holder struct {
	raw   map[rawKey]decimal.Decimal
	diffs *tree.Tree
	log   zerolog.Logger
}

// New creates an empty Holder.
func New(log zerolog.Logger) *Holder {
	return &Holder{
		raw:   make(map[rawKey]decimal.Decimal),
		diffs: tree.New(),
		log:   log.With().Str("component", "virtual_balance_holder").Logger(),
	}
}

// SetRawBalance records the latest balance reported by the exchange
// collaborator for (account, currency). Called on every fresh balance push;
// it does not touch virtual_diffs.
func (h *Holder) SetRawBalance(account exchange.AccountID, currency exchange.CurrencyCode, amount decimal.Decimal) {
	h.raw[rawKey{Account: account, Currency: currency}] = amount
}

// RawBalance returns the latest exchange-reported balance, if tracked.
func (h *Holder) RawBalance(account exchange.AccountID, currency exchange.CurrencyCode) (decimal.Decimal, bool) {
	v, ok := h.raw[rawKey{Account: account, Currency: currency}]
	return v, ok
}

// GetVirtualBalance implements the contract of spec §4.B: raw exchange
// balance plus the tracked virtual diff, or (0, false) if the currency isn't
// tracked on this exchange at all.
func (h *Holder) GetVirtualBalance(key balance.RequestKey) (decimal.Decimal, bool) {
	raw, ok := h.RawBalance(key.Account, key.Currency)
	if !ok {
		return decimal.Zero, false
	}
	diff := h.diffs.GetOrZero(key)
	return raw.Add(diff), true
}

// Diff returns the currently tracked virtual diff at key (0 if none).
func (h *Holder) Diff(key balance.RequestKey) decimal.Decimal {
	return h.diffs.GetOrZero(key)
}

// AddBalance applies a raw delta, already denominated in key.Currency, to the
// virtual diff tree (spec §4.B add_balance).
func (h *Holder) AddBalance(key balance.RequestKey, delta decimal.Decimal) decimal.Decimal {
	next := h.diffs.Add(key, delta)
	h.log.Debug().
		Str("request_key", key.String()).
		Str("delta", delta.String()).
		Str("new_diff", next.String()).
		Msg("adjusted virtual balance diff")
	return next
}

// AddBalanceBySymbol converts amountDelta (denominated in the symbol's
// amount currency) into key.Currency via the symbol's price-aware
// conversion, then applies it to the virtual diff tree (spec §4.B
// add_balance_by_symbol).
func (h *Holder) AddBalanceBySymbol(key balance.RequestKey, symbol exchange.Symbol, amountDelta, price decimal.Decimal) decimal.Decimal {
	converted := symbol.ConvertAmountFromAmountCurrencyCode(key.Currency, amountDelta, price)
	return h.AddBalance(key, converted)
}

// ReconcileAgainstExchange [ADDED per SPEC_FULL §8.3] compares freshly
// reported raw balances against the previously reported raw balance (the
// virtual diff is not part of the comparison), records the new raw value,
// and logs (never silently repairs) any currency where the absolute
// difference exceeds threshold - the generalized form of the teacher's
// ReconciliationService.CheckInvariant.
func (h *Holder) ReconcileAgainstExchange(latest map[balance.RequestKey]decimal.Decimal, threshold decimal.Decimal) []ReconciliationAnomaly {
	var anomalies []ReconciliationAnomaly
	for key, reportedRaw := range latest {
		previousRaw, hadPrevious := h.RawBalance(key.Account, key.Currency)
		h.SetRawBalance(key.Account, key.Currency, reportedRaw)
		if !hadPrevious {
			continue
		}
		diff := reportedRaw.Sub(previousRaw)
		if diff.Abs().GreaterThan(threshold) {
			anomaly := ReconciliationAnomaly{
				Key:         key,
				PreviousRaw: previousRaw,
				ReportedRaw: reportedRaw,
				Difference:  diff,
				VirtualDiff: h.Diff(key),
			}
			anomalies = append(anomalies, anomaly)
			h.log.Warn().
				Str("request_key", key.String()).
				Str("previous_raw", previousRaw.String()).
				Str("reported_raw", reportedRaw.String()).
				Str("difference", diff.String()).
				Msg("exchange-reported balance drifted beyond reconciliation threshold")
		}
	}
	return anomalies
}

// ReconciliationAnomaly describes one currency whose exchange-reported
// balance moved more than the configured threshold between two reports.
type ReconciliationAnomaly struct {
	Key         balance.RequestKey
	PreviousRaw decimal.Decimal
	ReportedRaw decimal.Decimal
	Difference  decimal.Decimal
	VirtualDiff decimal.Decimal
}

// RawSnapshot returns a deep copy of every tracked raw balance, keyed by
// (account, currency) - used by the manager's get_state()/Clone facility.
func (h *Holder) RawSnapshot() map[rawKey]decimal.Decimal {
	out := make(map[rawKey]decimal.Decimal, len(h.raw))
	for k, v := range h.raw {
		out[k] = v
	}
	return out
}

// DiffsTree exposes the underlying diffs tree for the manager's snapshot and
// restore paths. It is not safe to mutate concurrently with live writers.
func (h *Holder) DiffsTree() *tree.Tree {
	return h.diffs
}

// Clone returns an independent Holder with deep-copied raw balances and
// diffs - no shared mutable state with the source, per spec §9's
// Snapshot re-architecture note.
func (h *Holder) Clone() *Holder {
	clone := &Holder{
		raw:   h.RawSnapshot(),
		diffs: h.diffs.Clone(),
		log:   h.log,
	}
	return clone
}

// LoadRaw replaces raw balances from a (account,currency)->amount map flattened
// for persistence, using the exported RawBalanceEntry type below.
func (h *Holder) LoadRaw(entries []RawBalanceEntry) {
	h.raw = make(map[rawKey]decimal.Decimal, len(entries))
	for _, e := range entries {
		h.raw[rawKey{Account: e.Account, Currency: e.Currency}] = e.Amount
	}
}

// RawEntries flattens the raw balance map into a slice suitable for
// persistence (component H's Balances struct embeds this shape).
func (h *Holder) RawEntries() []RawBalanceEntry {
	out := make([]RawBalanceEntry, 0, len(h.raw))
	for k, v := range h.raw {
		out = append(out, RawBalanceEntry{Account: k.Account, Currency: k.Currency, Amount: v})
	}
	return out
}

// RawBalanceEntry is the flattened, serializable form of one raw balance.
type RawBalanceEntry struct {
	Account  exchange.AccountID
	Currency exchange.CurrencyCode
	Amount   decimal.Decimal
}
