// Package manager implements BalanceReservationManager (spec §4.F), the
// orchestrator that applies the reservation algorithm, position-limit
// checks, fill settlement, transfer-between-reservations and snapshot
// cloning over components A-D. Grounded on
// internal/modules/satellites/balance_service.go's atomic
// adjust-balance/record-transaction shape, generalized to the full
// reserve/approve/unreserve/transfer/fill state machine described in
// original_source/core/src/balance/balance_reservation_manager.rs.
package manager

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/balancecore/internal/balance"
	"github.com/aristath/balancecore/internal/balance/holder"
	"github.com/aristath/balancecore/internal/balance/position"
	"github.com/aristath/balancecore/internal/balance/reservation"
	"github.com/aristath/balancecore/internal/balance/tree"
	"github.com/aristath/balancecore/internal/clock"
	"github.com/aristath/balancecore/internal/exchange"
)

// Auditor is the narrow outbound interface the manager records
// reservation-lifecycle events to (audit.ManagerAdapter satisfies it). It is optional:
// a nil auditor silently skips recording. Per spec §7's error-kind rules,
// audit recording is an ambient concern - a failure here is logged and never
// affects the outcome of the balance operation that produced it.
type Auditor interface {
	Record(ctx context.Context, e AuditEvent) error
}

// AuditEvent mirrors audit.Event's shape without importing the audit
// package from manager (audit's adapter.go already imports manager for
// Auditor and AuditEvent), keeping the dependency one-directional.
type AuditEvent struct {
	Type          string
	Timestamp     time.Time
	ReservationID reservation.ID
	ClientOrderID balance.ClientOrderID
	Detail        map[string]any
}

// Manager is the BalanceReservationManager. Per spec §5 it is the single
// exclusive writer over components A-D: every mutating method takes mu
// before touching any of them. Queries against a clone produced by
// CloneAndSubtractNotApprovedData (see snapshot.go) take only the clone's
// own lock, never this one, since the clone owns independent copies.
type Manager struct {
	mu sync.Mutex

	reservedTree *tree.Tree // component A: reserved_amount_tree
	limits       *tree.Tree // component A: amount_limits

	balances  *holder.Holder      // component B
	positions *position.Accounting // component C
	storage   *reservation.Storage // component D

	registry exchange.Registry
	clk      clock.Clock
	ids      *balance.IDSequence

	// isCallFromClone relaxes "unknown reservation id" from an error into a
	// silent no-op, per spec §4.F.3 - set only on managers produced by
	// CloneAndSubtractNotApprovedData.
	isCallFromClone bool

	auditor Auditor

	log zerolog.Logger
}

// New constructs an empty Manager.
func New(registry exchange.Registry, clk clock.Clock, log zerolog.Logger) *Manager {
	return &Manager{
		reservedTree: tree.New(),
		limits:       tree.New(),
		balances:     holder.New(log),
		positions:    position.New(),
		storage:      reservation.NewStorage(),
		registry:     registry,
		clk:          clk,
		ids:          &balance.IDSequence{},
		log:          log.With().Str("component", "balance_reservation_manager").Logger(),
	}
}

// SetAuditor attaches the append-only audit log every subsequent mutating
// call records to. Not safe to call concurrently with in-flight operations.
func (m *Manager) SetAuditor(a Auditor) {
	m.auditor = a
}

// audit best-effort records e: a write failure is logged and swallowed,
// never propagated to the caller of the balance operation that triggered it.
func (m *Manager) audit(e AuditEvent) {
	if m.auditor == nil {
		return
	}
	e.Timestamp = m.clk.Now()
	if err := m.auditor.Record(context.Background(), e); err != nil {
		m.log.Warn().Err(err).Str("event_type", e.Type).Msg("failed to record audit event")
	}
}

// SetRawBalance feeds the manager the latest exchange-reported balance for
// (account, currency). This is the entry point for "every fresh balance
// push" mentioned in spec §4.B.
func (m *Manager) SetRawBalance(account exchange.AccountID, currency exchange.CurrencyCode, amount decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances.SetRawBalance(account, currency, amount)
}

// withLock runs fn while holding the manager's single writer lock.
func (m *Manager) withLock(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn()
}
