// Package reservation implements BalanceReservation, ApprovedPart and the
// BalanceReservationStorage ledger (spec §3, §4.D). Grounded on
// original_source/src/core/balance_manager/{approved_part,balance_reservation}.rs
// for field shape and other_examples' utxodb.Reserver for the
// keyed-map-of-live-entries storage style.
package reservation

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/aristath/balancecore/internal/balance"
	"github.com/aristath/balancecore/internal/exchange"
)

// ApprovedPart is the portion of a reservation bound to a concrete client
// order (spec §3).
type ApprovedPart struct {
	ClientOrderID    balance.ClientOrderID
	ApprovedAt       time.Time
	OriginalAmount   decimal.Decimal
	UnreservedAmount decimal.Decimal
	IsCanceled       bool
}

// Header is the immutable part of a reservation, fixed at creation time.
type Header struct {
	Config                  balance.ConfigurationDescriptor
	Account                 exchange.AccountID
	Symbol                  exchange.Symbol
	Side                    exchange.Side
	Price                   decimal.Decimal
	ReservationCurrencyCode exchange.CurrencyCode
	OriginalAmount          decimal.Decimal
	InitialTakenFreeAmount  decimal.Decimal
	InitialCost             decimal.Decimal
}

// Reservation is the mutable BalanceReservation of spec §3.
type Reservation struct {
	ID ID

	Header

	UnreservedAmount  decimal.Decimal
	NotApprovedAmount decimal.Decimal
	ApprovedParts     map[balance.ClientOrderID]*ApprovedPart
	Cost              decimal.Decimal
	CurrentAmount     decimal.Decimal
}

// ID is an alias kept local to this package to avoid a needless import of
// the balance package into every signature; it aliases balance.ReservationID.
type ID = balance.ReservationID

// Key returns the RequestKey this reservation contributes to in the
// reserved-amount tree (component A).
func (r *Reservation) Key() balance.RequestKey {
	return balance.RequestKey{
		Config:   r.Config,
		Account:  r.Account,
		Pair:     r.Symbol.Pair,
		Currency: r.ReservationCurrencyCode,
	}
}

// Market returns the (account, pair) this reservation trades on.
func (r *Reservation) Market() balance.MarketAccountID {
	return balance.MarketAccountID{Account: r.Account, Pair: r.Symbol.Pair}
}

// IsEmpty reports whether the reservation's unreserved amount has fallen
// within the symbol's margin error of zero - the removal condition of spec
// §3/§4.G.
func (r *Reservation) IsEmpty() bool {
	return r.Symbol.IsAmountWithinMarginError(r.UnreservedAmount)
}

// SumApprovedUnreserved sums UnreservedAmount across every (non-removed)
// approved part - the right-hand side of the decomposition invariant in
// spec §3/§8.
func (r *Reservation) SumApprovedUnreserved() decimal.Decimal {
	total := decimal.Zero
	for _, p := range r.ApprovedParts {
		total = total.Add(p.UnreservedAmount)
	}
	return total
}

// GetProportionalCostAmount returns the share of r.Cost proportional to
// amount out of r.UnreservedAmount, used by transfer (spec §4.F.6) to move
// cost between two reservations in lock-step with the amount moved.
func (r *Reservation) GetProportionalCostAmount(amount decimal.Decimal) decimal.Decimal {
	if r.UnreservedAmount.IsZero() {
		return decimal.Zero
	}
	return r.Cost.Mul(amount).Div(r.UnreservedAmount)
}

// ConvertInReservationCurrency converts an amount of the reservation's
// symbol-amount-currency into its reservation currency, at the
// reservation's own price - used by the transfer feasibility check (spec
// §4.F.6).
func (r *Reservation) ConvertInReservationCurrency(amount decimal.Decimal) decimal.Decimal {
	return r.Symbol.ConvertAmountFromAmountCurrencyCode(r.ReservationCurrencyCode, amount, r.Price)
}

// Clone returns an independent deep copy of the reservation, including its
// approved parts map, for the manager's snapshot facility.
func (r *Reservation) Clone() *Reservation {
	clone := *r
	clone.ApprovedParts = make(map[balance.ClientOrderID]*ApprovedPart, len(r.ApprovedParts))
	for id, p := range r.ApprovedParts {
		cp := *p
		clone.ApprovedParts[id] = &cp
	}
	return &clone
}
