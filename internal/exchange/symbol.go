// Package exchange holds the external-collaborator shapes the balance core
// consumes but never owns: symbol metadata and the exchange registry that
// supplies leverage and reservation-currency lookups. Faithful adaptation of
// the spec's §3/§4.E SymbolAdapter and §6 ExchangeRegistry collaborators.
package exchange

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Side is the order direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// BeforeAfter selects which leg of a trade a currency-code lookup refers to,
// per spec §3's get_trade_code(side, BeforeAfter).
type BeforeAfter string

const (
	Before BeforeAfter = "BEFORE"
	After  BeforeAfter = "AFTER"
)

// CurrencyCode is a short asset symbol, e.g. "BTC".
type CurrencyCode string

// Symbol is the sum-type-by-construction shape described in SPEC_FULL §3:
// one struct, three constructors (spot / linear derivative / inverse
// derivative) instead of an interface hierarchy.
type Symbol struct {
	Pair string // e.g. "BTC/USD"

	IsDerivative bool

	// AmountMultiplier is the contract multiplier used to convert an amount
	// of contracts into an amount of the underlying currency.
	AmountMultiplier decimal.Decimal

	// ReversedDerivative is true for inverse-derivative symbols, where the
	// amount currency is the base currency rather than the quote/synthetic
	// currency - it flips the sign convention for position and fill deltas.
	ReversedDerivative bool

	BaseCurrencyCode    CurrencyCode
	QuoteCurrencyCode   CurrencyCode
	AmountCurrencyCode  CurrencyCode
	BalanceCurrencyCode CurrencyCode // optional; empty means "use quote"

	AmountPrecision int32
	PricePrecision  int32
}

// NewSpotSymbol builds a non-derivative symbol. Amount currency is the base
// currency and the contract multiplier is 1.
func NewSpotSymbol(pair string, base, quote CurrencyCode, amountPrecision, pricePrecision int32) Symbol {
	return Symbol{
		Pair:                pair,
		IsDerivative:        false,
		AmountMultiplier:    decimal.NewFromInt(1),
		BaseCurrencyCode:    base,
		QuoteCurrencyCode:   quote,
		AmountCurrencyCode:  base,
		BalanceCurrencyCode: quote,
		AmountPrecision:     amountPrecision,
		PricePrecision:      pricePrecision,
	}
}

// NewLinearDerivativeSymbol builds a derivative symbol whose amount currency
// is the quote currency (the common "USD-margined" shape).
func NewLinearDerivativeSymbol(pair string, base, quote CurrencyCode, multiplier decimal.Decimal, amountPrecision, pricePrecision int32) Symbol {
	return Symbol{
		Pair:                pair,
		IsDerivative:        true,
		AmountMultiplier:    multiplier,
		BaseCurrencyCode:    base,
		QuoteCurrencyCode:   quote,
		AmountCurrencyCode:  quote,
		BalanceCurrencyCode: quote,
		AmountPrecision:     amountPrecision,
		PricePrecision:      pricePrecision,
	}
}

// NewInverseDerivativeSymbol builds a derivative symbol whose amount currency
// is the base currency (the common "coin-margined" shape), which reverses
// the position/fill sign convention relative to the linear case.
func NewInverseDerivativeSymbol(pair string, base, quote CurrencyCode, multiplier decimal.Decimal, amountPrecision, pricePrecision int32) Symbol {
	return Symbol{
		Pair:                pair,
		IsDerivative:        true,
		ReversedDerivative:  true,
		AmountMultiplier:    multiplier,
		BaseCurrencyCode:    base,
		QuoteCurrencyCode:   quote,
		AmountCurrencyCode:  base,
		BalanceCurrencyCode: base,
		AmountPrecision:     amountPrecision,
		PricePrecision:      pricePrecision,
	}
}

// GetTradeCode returns the currency code that a fill on the given side moves,
// viewed either before or after the trade. For spot symbols this is simply
// base (amount leg) or quote (cost leg); BeforeAfter only matters for the
// derivative settlement bookkeeping in the manager.
func (s Symbol) GetTradeCode(side Side, ba BeforeAfter) CurrencyCode {
	if !s.IsDerivative {
		if ba == Before {
			if side == SideBuy {
				return s.QuoteCurrencyCode
			}
			return s.BaseCurrencyCode
		}
		if side == SideBuy {
			return s.BaseCurrencyCode
		}
		return s.QuoteCurrencyCode
	}
	return s.AmountCurrencyCode
}

// epsilonUnit is 10^-precision, the smallest meaningful quantity for amounts
// expressed with AmountPrecision decimal digits.
func (s Symbol) epsilonUnit() decimal.Decimal {
	return decimal.New(1, -s.AmountPrecision)
}

// AmountMarginError is half the smallest representable amount unit - the ε
// used by every "approximately zero"/"approximately equal" decision in the
// manager, per spec §9 ("always derive ε from the symbol").
func (s Symbol) AmountMarginError() decimal.Decimal {
	return s.epsilonUnit().Div(decimal.NewFromInt(2))
}

// IsAmountWithinMarginError reports whether x is close enough to zero to be
// treated as zero given this symbol's precision.
func (s Symbol) IsAmountWithinMarginError(x decimal.Decimal) bool {
	return x.Abs().LessThanOrEqual(s.AmountMarginError())
}

// RoundToRemoveAmountPrecisionError rounds x to the symbol's amount
// precision, collapsing float/decimal noise below the symbol's resolution.
func (s Symbol) RoundToRemoveAmountPrecisionError(x decimal.Decimal) decimal.Decimal {
	return x.Round(s.AmountPrecision)
}

// ConvertAmountFromAmountCurrencyCode converts an amount denominated in the
// symbol's amount currency into targetCcy, using price as the base/quote
// exchange rate. targetCcy must be the base or quote currency of the symbol.
func (s Symbol) ConvertAmountFromAmountCurrencyCode(targetCcy CurrencyCode, amount, price decimal.Decimal) decimal.Decimal {
	if targetCcy == s.AmountCurrencyCode {
		return amount
	}
	return s.convertAcrossPrice(amount, price, targetCcy)
}

// ConvertAmountIntoAmountCurrencyCode is the inverse conversion: an amount in
// sourceCcy back into the symbol's amount currency.
func (s Symbol) ConvertAmountIntoAmountCurrencyCode(sourceCcy CurrencyCode, amount, price decimal.Decimal) decimal.Decimal {
	if sourceCcy == s.AmountCurrencyCode {
		return amount
	}
	// Converting X -> amount currency is the same arithmetic as converting
	// amount currency -> X and then inverting the multiplication/division,
	// which convertAcrossPriceInverse does (mirroring convertAcrossPrice)
	// based on which side of base/quote the amount currency sits on.
	return s.convertAcrossPriceInverse(amount, price, sourceCcy)
}

func (s Symbol) convertAcrossPrice(amount, price decimal.Decimal, targetCcy CurrencyCode) decimal.Decimal {
	if price.IsZero() {
		return decimal.Zero
	}
	switch {
	case s.AmountCurrencyCode == s.BaseCurrencyCode && targetCcy == s.QuoteCurrencyCode:
		return amount.Mul(price)
	case s.AmountCurrencyCode == s.QuoteCurrencyCode && targetCcy == s.BaseCurrencyCode:
		return amount.Div(price)
	default:
		// Reservation currency differs from both base and quote (a
		// synthetic settlement currency): treat it as 1:1 with the amount
		// currency, the conservative default for an unmodelled pairing.
		return amount
	}
}

func (s Symbol) convertAcrossPriceInverse(amount, price decimal.Decimal, sourceCcy CurrencyCode) decimal.Decimal {
	if price.IsZero() {
		return decimal.Zero
	}
	switch {
	case s.AmountCurrencyCode == s.BaseCurrencyCode && sourceCcy == s.QuoteCurrencyCode:
		return amount.Div(price)
	case s.AmountCurrencyCode == s.QuoteCurrencyCode && sourceCcy == s.BaseCurrencyCode:
		return amount.Mul(price)
	default:
		return amount
	}
}

func (s Symbol) String() string {
	return fmt.Sprintf("%s(derivative=%v)", s.Pair, s.IsDerivative)
}
