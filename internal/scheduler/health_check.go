package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/balancecore/internal/balance/audit"
	"github.com/aristath/balancecore/internal/balance/store"
)

// HealthCheckJob runs SQLite integrity checks against the balance store and
// audit log, plus WAL-checkpoint monitoring of the balance store, the same pair of checks the
// original database health job ran across its own core databases.
type HealthCheckJob struct {
	log   zerolog.Logger
	store *store.Store
	audit *audit.Log
}

// NewHealthCheckJob creates a new health check job.
func NewHealthCheckJob(log zerolog.Logger, st *store.Store, al *audit.Log) *HealthCheckJob {
	return &HealthCheckJob{
		log:   log.With().Str("job", "health_check").Logger(),
		store: st,
		audit: al,
	}
}

// Name implements Job.
func (j *HealthCheckJob) Name() string {
	return "health_check"
}

// Run implements Job.
func (j *HealthCheckJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return j.store.CheckIntegrity(gctx) })
	if j.audit != nil {
		g.Go(func() error { return j.audit.CheckIntegrity(gctx) })
	}
	if err := g.Wait(); err != nil {
		return err
	}

	frames, err := j.store.CheckpointWAL(ctx)
	if err != nil {
		j.log.Warn().Err(err).Msg("failed to checkpoint balance store WAL")
	} else if frames > 1000 {
		j.log.Warn().Int("wal_frames", frames).Msg("balance store WAL is large, checkpoint may be needed")
	}

	j.log.Info().Dur("duration", time.Since(start)).Msg("health check completed successfully")
	return nil
}
