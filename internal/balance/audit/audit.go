// Package audit implements an append-only log of reservation-lifecycle
// operations (DESIGN.md §D), for post-incident reconstruction of
// "how did this reservation get into this state". Grounded on
// internal/events/manager.go's EventType/Event shape, generalized from
// log-only emission to a persisted mattn/go-sqlite3-backed table - the
// pack's second sqlite driver, mirrored here the same way the teacher
// pairs modernc.org/sqlite (the warm-restart store) with mattn/go-sqlite3
// elsewhere in its stack.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	_ "github.com/mattn/go-sqlite3" // cgo SQLite driver, used for the append-only audit log

	"github.com/aristath/balancecore/internal/balance"
)

// EventType enumerates the reservation-lifecycle operations the manager
// audits (spec §4.F.1-§4.F.9 plus the clone facility of §4.F.10).
type EventType string

const (
	EventReserved           EventType = "RESERVED"
	EventReserveRejected    EventType = "RESERVE_REJECTED"
	EventUnreserved         EventType = "UNRESERVED"
	EventApproved           EventType = "APPROVED"
	EventApprovedCanceled   EventType = "APPROVED_CANCELED"
	EventTransferred        EventType = "TRANSFERRED"
	EventPriceUpdated       EventType = "PRICE_UPDATED"
	EventFillApplied        EventType = "FILL_APPLIED"
	EventCommissionApplied  EventType = "COMMISSION_APPLIED"
	EventReservationRemoved EventType = "RESERVATION_REMOVED"
	EventNumericAnomaly     EventType = "NUMERIC_ANOMALY"
)

// Event is one audited occurrence.
type Event struct {
	Type          EventType
	Timestamp     time.Time
	ReservationID balance.ReservationID
	ClientOrderID balance.ClientOrderID
	Detail        map[string]any
}

const schema = `
CREATE TABLE IF NOT EXISTS reservation_audit_log (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type      TEXT NOT NULL,
	occurred_at     INTEGER NOT NULL,
	reservation_id  INTEGER NOT NULL,
	client_order_id TEXT NOT NULL DEFAULT '',
	detail          TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reservation_audit_log_reservation_id ON reservation_audit_log(reservation_id);
`

// Log is the append-only audit log.
type Log struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open creates (if needed) and opens the audit database at path.
func Open(path string, log zerolog.Logger) (*Log, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create audit log directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping audit log: %w", err)
	}

	l := &Log{db: db, log: log.With().Str("component", "reservation_audit_log").Logger()}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate audit log: %w", err)
	}
	return l, nil
}

// Close closes the underlying database handle.
func (l *Log) Close() error {
	return l.db.Close()
}

// Record appends one event. Failures to record never interrupt the
// reservation operation that produced them (spec §7's error-kind rules treat
// this as an ambient concern, not a business-rule outcome) - callers should
// log.Warn and continue rather than surface Record's error to the caller of
// the balance operation itself.
func (l *Log) Record(ctx context.Context, e Event) error {
	detailJSON, err := json.Marshal(e.Detail)
	if err != nil {
		return fmt.Errorf("encode audit event detail: %w", err)
	}

	_, err = l.db.ExecContext(ctx, `
		INSERT INTO reservation_audit_log (event_type, occurred_at, reservation_id, client_order_id, detail)
		VALUES (?, ?, ?, ?, ?)
	`, string(e.Type), e.Timestamp.UnixNano(), uint64(e.ReservationID), string(e.ClientOrderID), string(detailJSON))
	if err != nil {
		return fmt.Errorf("write audit event: %w", err)
	}
	return nil
}

// CheckIntegrity runs SQLite's PRAGMA integrity_check against the audit log.
func (l *Log) CheckIntegrity(ctx context.Context) error {
	var result string
	if err := l.db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("audit log integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("audit log integrity check returned: %s", result)
	}
	return nil
}

// History returns every audited event for a reservation, oldest first.
func (l *Log) History(ctx context.Context, id balance.ReservationID) ([]Event, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT event_type, occurred_at, reservation_id, client_order_id, detail
		FROM reservation_audit_log
		WHERE reservation_id = ?
		ORDER BY id ASC
	`, uint64(id))
	if err != nil {
		return nil, fmt.Errorf("query audit history for reservation %d: %w", id, err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			eventType     string
			occurredNano  int64
			reservationID uint64
			clientOrderID string
			detailJSON    string
		)
		if err := rows.Scan(&eventType, &occurredNano, &reservationID, &clientOrderID, &detailJSON); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}

		var detail map[string]any
		if err := json.Unmarshal([]byte(detailJSON), &detail); err != nil {
			return nil, fmt.Errorf("decode audit event detail: %w", err)
		}

		out = append(out, Event{
			Type:          EventType(eventType),
			Timestamp:     time.Unix(0, occurredNano),
			ReservationID: balance.ReservationID(reservationID),
			ClientOrderID: balance.ClientOrderID(clientOrderID),
			Detail:        detail,
		})
	}
	return out, rows.Err()
}
