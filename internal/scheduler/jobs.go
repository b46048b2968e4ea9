package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/balancecore/internal/balance/backup"
	"github.com/aristath/balancecore/internal/balance/manager"
	"github.com/aristath/balancecore/internal/balance/store"
)

// SnapshotJob persists the manager's current state to the warm-restart
// store on a fixed schedule, per spec §4.F.10/§9.
type SnapshotJob struct {
	log         zerolog.Logger
	mgr         *manager.Manager
	store       *store.Store
	instanceKey string
}

// NewSnapshotJob creates a new snapshot job.
func NewSnapshotJob(log zerolog.Logger, mgr *manager.Manager, st *store.Store, instanceKey string) *SnapshotJob {
	return &SnapshotJob{
		log:         log.With().Str("job", "snapshot").Logger(),
		mgr:         mgr,
		store:       st,
		instanceKey: instanceKey,
	}
}

// Name implements Job.
func (j *SnapshotJob) Name() string {
	return "snapshot"
}

// Run implements Job.
func (j *SnapshotJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	state := j.mgr.GetState()
	return j.store.Save(ctx, j.instanceKey, state)
}

// BackupJob archives the warm-restart store to cold S3-compatible storage
// and rotates out old archives, per spec's cold-backup component.
type BackupJob struct {
	log           zerolog.Logger
	backup        *backup.Service
	retentionDays int
	minKeep       int
}

// NewBackupJob creates a new backup job.
func NewBackupJob(log zerolog.Logger, svc *backup.Service, retentionDays, minKeep int) *BackupJob {
	return &BackupJob{
		log:           log.With().Str("job", "backup").Logger(),
		backup:        svc,
		retentionDays: retentionDays,
		minKeep:       minKeep,
	}
}

// Name implements Job.
func (j *BackupJob) Name() string {
	return "backup"
}

// Run implements Job.
func (j *BackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := j.backup.Run(ctx); err != nil {
		return err
	}

	retention := time.Duration(j.retentionDays) * 24 * time.Hour
	if err := j.backup.Rotate(ctx, retention, j.minKeep); err != nil {
		j.log.Warn().Err(err).Msg("backup rotation failed")
	}
	return nil
}
