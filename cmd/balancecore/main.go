// Command balancecore runs the Balance Reservation & Accounting Core as a
// standalone service: an in-memory manager warm-restored from its sqlite
// snapshot store, periodically re-persisted and cold-backed-up, audited to
// an append-only log, and inspectable over a read-only HTTP surface.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/balancecore/internal/balance/audit"
	"github.com/aristath/balancecore/internal/balance/backup"
	"github.com/aristath/balancecore/internal/balance/manager"
	"github.com/aristath/balancecore/internal/balance/store"
	"github.com/aristath/balancecore/internal/clock"
	"github.com/aristath/balancecore/internal/config"
	"github.com/aristath/balancecore/internal/exchange"
	"github.com/aristath/balancecore/internal/scheduler"
	"github.com/aristath/balancecore/internal/server"
	"github.com/aristath/balancecore/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New(logger.Config{Level: "info", Pretty: true}).Fatal().Err(err).Msg("failed to load configuration")
		return
	}
	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode})
	logger.SetGlobalLogger(log)

	log.Info().Msg("starting balancecore")

	registry := exchange.NewStaticRegistry(exchange.DefaultUntouchableRatio)
	mgr := manager.New(registry, clock.System{}, log)

	auditLog, err := audit.Open(cfg.AuditPath, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open audit log")
	}
	defer auditLog.Close()
	mgr.SetAuditor(audit.ManagerAdapter{Log: auditLog})

	balanceStore, err := store.Open(cfg.StorePath, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open balance store")
	}
	defer balanceStore.Close()

	warmRestore(context.Background(), mgr, balanceStore, cfg.InstanceKey, log)

	sched := scheduler.New(log)
	sched.Start()
	defer sched.Stop()

	if err := sched.AddJob(cfg.SnapshotSchedule, scheduler.NewSnapshotJob(log, mgr, balanceStore, cfg.InstanceKey)); err != nil {
		log.Fatal().Err(err).Msg("failed to register snapshot job")
	}
	if err := sched.AddJob(cfg.HealthCheckSchedule, scheduler.NewHealthCheckJob(log, balanceStore, auditLog)); err != nil {
		log.Fatal().Err(err).Msg("failed to register health check job")
	}

	if cfg.BackupEnabled {
		backupSvc, err := buildBackupService(context.Background(), cfg, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to build backup service")
		}
		if err := sched.AddJob(cfg.BackupSchedule, scheduler.NewBackupJob(log, backupSvc, cfg.BackupRetentionDays, cfg.BackupMinKeep)); err != nil {
			log.Fatal().Err(err).Msg("failed to register backup job")
		}
	}

	srv := server.New(server.Config{
		Port:    cfg.Port,
		Log:     log,
		Manager: mgr,
		Symbols: demoSymbols(),
		DevMode: cfg.DevMode,
	})

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("balancecore started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down balancecore")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	if err := balanceStore.Save(ctx, cfg.InstanceKey, mgr.GetState()); err != nil {
		log.Error().Err(err).Msg("failed to persist final balance snapshot")
	}

	log.Info().Msg("balancecore stopped")
}

// warmRestore loads the last persisted snapshot, if any, into mgr via
// LoadState (restore.go). A missing snapshot is the expected first-run case
// and is logged at info rather than treated as an error.
func warmRestore(ctx context.Context, mgr *manager.Manager, st *store.Store, instanceKey string, log zerolog.Logger) {
	state, found, err := st.Load(ctx, instanceKey)
	if err != nil {
		log.Error().Err(err).Msg("failed to load balance snapshot, starting from empty state")
		return
	}
	if !found {
		log.Info().Msg("no prior balance snapshot found, starting from empty state")
		return
	}
	mgr.LoadState(state)
	log.Info().Time("snapshot_at", state.Timestamp).Int("reservations", len(state.Reservations)).Msg("restored balance snapshot")
}

// buildBackupService wires the cold-backup S3-compatible client and service
// from configuration.
func buildBackupService(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*backup.Service, error) {
	client, err := backup.NewClient(ctx, cfg.BackupEndpoint, cfg.BackupRegion, cfg.BackupAccessKey, cfg.BackupSecretKey, cfg.BackupBucket)
	if err != nil {
		return nil, err
	}
	staging := cfg.StorePath + ".backup-staging"
	return backup.NewService(client, cfg.StorePath, staging, cfg.BackupPrefix, log), nil
}

// demoSymbols is the static pair catalog the read-only HTTP surface resolves
// query parameters against. A production deployment would populate this
// from the same configuration source the exchange.Registry is built from;
// this module doesn't own exchange connectivity (spec §1), so it ships a
// minimal catalog sufficient to exercise the inspection endpoints.
func demoSymbols() map[string]exchange.Symbol {
	return map[string]exchange.Symbol{
		"BTC/USD": exchange.NewSpotSymbol("BTC/USD", "BTC", "USD", 8, 2),
	}
}
