package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/balancecore/internal/balance/manager"
)

func TestManagerAdapterRecordsThroughToLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	l, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	var auditor manager.Auditor = ManagerAdapter{Log: l}
	err = auditor.Record(context.Background(), manager.AuditEvent{
		Type: "RESERVED", Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		ReservationID: 7, Detail: map[string]any{"amount": "5"},
	})
	require.NoError(t, err)

	history, err := l.History(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, EventReserved, history[0].Type)
	assert.Equal(t, "5", history[0].Detail["amount"])
}
