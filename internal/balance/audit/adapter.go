package audit

import (
	"context"

	"github.com/aristath/balancecore/internal/balance/manager"
)

// ManagerAdapter satisfies manager.Auditor on top of a Log, translating
// manager.AuditEvent into this package's own Event shape so manager.go
// never has to import audit directly.
type ManagerAdapter struct {
	Log *Log
}

// Record implements manager.Auditor.
func (a ManagerAdapter) Record(ctx context.Context, e manager.AuditEvent) error {
	return a.Log.Record(ctx, Event{
		Type:          EventType(e.Type),
		Timestamp:     e.Timestamp,
		ReservationID: e.ReservationID,
		ClientOrderID: e.ClientOrderID,
		Detail:        e.Detail,
	})
}
