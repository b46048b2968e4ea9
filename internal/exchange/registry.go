package exchange

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// AccountID identifies an exchange account: the exchange name plus a numeric
// sub-account index, per spec §3's ExchangeAccountId.
type AccountID struct {
	Exchange string
	Account  int64
}

func (a AccountID) String() string {
	return fmt.Sprintf("%s#%d", a.Exchange, a.Account)
}

// Registry is the narrow outbound interface the manager consumes from the
// exchange/symbol-metadata collaborator (spec §6). It intentionally does not
// expose any network or order-placement surface - that lives outside this
// module's scope per spec §1.
type Registry interface {
	// Leverage returns the configured leverage for an account/pair. An
	// implementation may return decimal.Zero if unknown (callers treat zero
	// leverage as "no leverage applied", i.e. margin math defaults to a
	// factor of 1); StaticRegistry returns 1 instead.
	Leverage(account AccountID, pair string) decimal.Decimal

	// ReservationCurrencyCode returns the currency actually debited to fund
	// an order on the given symbol/side.
	ReservationCurrencyCode(symbol Symbol, side Side) CurrencyCode

	// UntouchableRatio returns the fraction of a derivative balance withheld
	// as a safety buffer (spec §4.F.2 step 3b). Per SPEC_FULL §9 this is
	// configurable per exchange rather than a single hard-coded constant.
	UntouchableRatio(account AccountID) decimal.Decimal
}

// StaticRegistry is an in-memory Registry implementation for tests and the
// demo binary: no network calls, just maps populated up front.
type StaticRegistry struct {
	leverage          map[string]decimal.Decimal
	reservationCcy    map[string]CurrencyCode
	untouchableRatio  map[string]decimal.Decimal
	defaultUntouchable decimal.Decimal
}

// NewStaticRegistry creates an empty StaticRegistry. defaultUntouchable is
// used for any account that hasn't been given an explicit override via
// SetUntouchableRatio.
func NewStaticRegistry(defaultUntouchable decimal.Decimal) *StaticRegistry {
	return &StaticRegistry{
		leverage:           make(map[string]decimal.Decimal),
		reservationCcy:     make(map[string]CurrencyCode),
		untouchableRatio:   make(map[string]decimal.Decimal),
		defaultUntouchable: defaultUntouchable,
	}
}

func leverageKey(account AccountID, pair string) string {
	return account.String() + "|" + pair
}

// SetLeverage configures the leverage used for an account/pair.
func (r *StaticRegistry) SetLeverage(account AccountID, pair string, leverage decimal.Decimal) {
	r.leverage[leverageKey(account, pair)] = leverage
}

// Leverage implements Registry.
func (r *StaticRegistry) Leverage(account AccountID, pair string) decimal.Decimal {
	if v, ok := r.leverage[leverageKey(account, pair)]; ok {
		return v
	}
	return decimal.NewFromInt(1)
}

func reservationKey(symbol Symbol, side Side) string {
	return symbol.Pair + "|" + string(side)
}

// SetReservationCurrencyCode configures the reservation currency for a
// symbol/side pairing.
func (r *StaticRegistry) SetReservationCurrencyCode(symbol Symbol, side Side, ccy CurrencyCode) {
	r.reservationCcy[reservationKey(symbol, side)] = ccy
}

// ReservationCurrencyCode implements Registry. Absent an explicit mapping it
// falls back to the spot convention: buying spends the quote currency,
// selling spends the base currency; derivatives spend the balance currency.
func (r *StaticRegistry) ReservationCurrencyCode(symbol Symbol, side Side) CurrencyCode {
	if v, ok := r.reservationCcy[reservationKey(symbol, side)]; ok {
		return v
	}
	if symbol.IsDerivative {
		if symbol.BalanceCurrencyCode != "" {
			return symbol.BalanceCurrencyCode
		}
		return symbol.QuoteCurrencyCode
	}
	if side == SideBuy {
		return symbol.QuoteCurrencyCode
	}
	return symbol.BaseCurrencyCode
}

// SetUntouchableRatio overrides the untouchable buffer ratio for one account.
func (r *StaticRegistry) SetUntouchableRatio(account AccountID, ratio decimal.Decimal) {
	r.untouchableRatio[account.String()] = ratio
}

// UntouchableRatio implements Registry.
func (r *StaticRegistry) UntouchableRatio(account AccountID) decimal.Decimal {
	if v, ok := r.untouchableRatio[account.String()]; ok {
		return v
	}
	return r.defaultUntouchable
}

// DefaultUntouchableRatio is the 5% safety buffer named in spec §4.F.2/§9.
var DefaultUntouchableRatio = decimal.NewFromFloat(0.05)
