// Package janitor runs the registry's periodic cleanup jobs: garbage
// collecting long-expired lock rows and flipping past-due invites to
// expired. Neither job is load-bearing; reads guard against stale rows on
// their own.
package janitor

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/stardag/stardag/internal/logging"
	"github.com/stardag/stardag/internal/registry/observability"
)

// LockSweeper deletes lock rows that expired before the grace cutoff.
type LockSweeper interface {
	SweepExpired(ctx context.Context, grace time.Duration) (int64, error)
}

// InviteExpirer transitions past-due pending invites.
type InviteExpirer interface {
	ExpirePendingInvites(ctx context.Context, now time.Time) (int64, error)
}

// Config sets the sweep schedule and the lock grace period.
type Config struct {
	Enabled bool
	// Schedule is a five-field cron expression. Defaults to every minute.
	Schedule string
	// LockGrace keeps expired lock rows visible for debugging before the
	// sweep removes them.
	LockGrace time.Duration
	// JobTimeout bounds one sweep run.
	JobTimeout time.Duration
}

// Janitor owns the cron schedule.
type Janitor struct {
	cron    *cron.Cron
	cfg     Config
	locks   LockSweeper
	invites InviteExpirer
	metrics *observability.Metrics
	logger  logging.Logger
}

// New creates the janitor. Overlapping runs are skipped, not queued.
func New(cfg Config, locks LockSweeper, invites InviteExpirer, metrics *observability.Metrics, logger logging.Logger) *Janitor {
	if cfg.Schedule == "" {
		cfg.Schedule = "* * * * *"
	}
	if cfg.LockGrace <= 0 {
		cfg.LockGrace = 5 * time.Minute
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 30 * time.Second
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(
		cron.WithParser(parser),
		cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)),
	)
	return &Janitor{
		cron:    c,
		cfg:     cfg,
		locks:   locks,
		invites: invites,
		metrics: metrics,
		logger:  logging.OrNop(logger),
	}
}

// Start registers the jobs and begins the schedule.
func (j *Janitor) Start() error {
	if !j.cfg.Enabled {
		j.logger.Info("janitor disabled by config")
		return nil
	}
	if _, err := j.cron.AddFunc(j.cfg.Schedule, j.sweep); err != nil {
		return err
	}
	j.cron.Start()
	j.logger.Info("janitor running on schedule %q", j.cfg.Schedule)
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
}

func (j *Janitor) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), j.cfg.JobTimeout)
	defer cancel()

	if n, err := j.locks.SweepExpired(ctx, j.cfg.LockGrace); err != nil {
		j.logger.Error("lock sweep failed: %v", err)
	} else if n > 0 {
		j.metrics.RecordJanitorSweep(ctx, "locks", n)
	}

	if n, err := j.invites.ExpirePendingInvites(ctx, time.Now()); err != nil {
		j.logger.Error("invite sweep failed: %v", err)
	} else if n > 0 {
		j.metrics.RecordJanitorSweep(ctx, "invites", n)
		j.logger.Info("expired %d past-due invites", n)
	}
}
