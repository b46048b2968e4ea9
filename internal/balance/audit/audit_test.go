package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/balancecore/internal/balance"
)

func openTestLog(t *testing.T) *Log {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.db")
	l, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestRecordAndHistoryOrdering(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, l.Record(ctx, Event{
		Type: EventReserved, Timestamp: base, ReservationID: 1,
		Detail: map[string]any{"amount": "5"},
	}))
	require.NoError(t, l.Record(ctx, Event{
		Type: EventApproved, Timestamp: base.Add(time.Minute), ReservationID: 1, ClientOrderID: "order-1",
		Detail: map[string]any{"amount": "3"},
	}))
	require.NoError(t, l.Record(ctx, Event{
		Type: EventReserved, Timestamp: base, ReservationID: 2,
		Detail: map[string]any{"amount": "1"},
	}))

	history, err := l.History(ctx, 1)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, EventReserved, history[0].Type)
	assert.Equal(t, EventApproved, history[1].Type)
	assert.Equal(t, balance.ClientOrderID("order-1"), history[1].ClientOrderID)
	assert.Equal(t, "3", history[1].Detail["amount"])

	empty, err := l.History(ctx, 999)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
