package reservation

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/balancecore/internal/balance"
	"github.com/aristath/balancecore/internal/exchange"
)

func testReservation(id ID) *Reservation {
	return &Reservation{
		ID: id,
		Header: Header{
			Config:                  balance.ConfigurationDescriptor{ServiceName: "s", ConfigKey: "c"},
			Account:                 exchange.AccountID{Exchange: "binance", Account: 1},
			Symbol:                  exchange.NewSpotSymbol("ETH/BTC", "ETH", "BTC", 8, 8),
			Side:                    exchange.SideSell,
			Price:                   decimal.NewFromFloat(0.2),
			ReservationCurrencyCode: "ETH",
			OriginalAmount:          decimal.NewFromInt(5),
		},
		UnreservedAmount:  decimal.NewFromInt(5),
		NotApprovedAmount: decimal.NewFromInt(5),
		ApprovedParts:     map[balance.ClientOrderID]*ApprovedPart{},
		Cost:              decimal.NewFromInt(5),
		CurrentAmount:     decimal.NewFromInt(5),
	}
}

func TestStorage_AddAndGet(t *testing.T) {
	s := NewStorage()
	r := testReservation(1)
	s.Add(r)

	got, ok := s.Get(1)
	require.True(t, ok)
	assert.Same(t, r, got)
}

func TestStorage_AddDuplicatePanics(t *testing.T) {
	s := NewStorage()
	s.Add(testReservation(1))

	assert.Panics(t, func() {
		s.Add(testReservation(1))
	})
}

func TestStorage_GetExpectedPanicsWhenAbsent(t *testing.T) {
	s := NewStorage()
	assert.Panics(t, func() {
		s.GetExpected(99)
	})
}

func TestStorage_RemoveIsIdempotent(t *testing.T) {
	s := NewStorage()
	s.Add(testReservation(1))
	s.Remove(1)
	s.Remove(1) // must not panic

	_, ok := s.Get(1)
	assert.False(t, ok)
}

func TestStorage_CloneIsIndependent(t *testing.T) {
	s := NewStorage()
	s.Add(testReservation(1))

	clone := s.Clone()
	clone.GetExpected(1).UnreservedAmount = decimal.NewFromInt(999)

	original := s.GetExpected(1)
	assert.True(t, original.UnreservedAmount.Equal(decimal.NewFromInt(5)), "mutating the clone must not affect the source")
}

func TestStorage_AllIDsSorted(t *testing.T) {
	s := NewStorage()
	s.Add(testReservation(3))
	s.Add(testReservation(1))
	s.Add(testReservation(2))

	assert.Equal(t, []ID{1, 2, 3}, s.AllIDs())
}
