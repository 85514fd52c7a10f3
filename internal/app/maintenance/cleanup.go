package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/kbguard/internal/monitoring"
	"github.com/charlesng35/kbguard/pkg/logger"
)

const (
	defaultAuditRetentionDays = 90
	defaultSweepSpec          = "@every 1m"
	defaultAuditSpec          = "@daily"
	defaultJobTimeout         = 2 * time.Minute

	JobCacheSweep     = "cache_sweep"
	JobAuditRetention = "audit_retention"
)

// CacheSweeper removes expired permission cache entries.
type CacheSweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// AuditPruner deletes audit records past the retention window.
type AuditPruner interface {
	CleanupOlderThan(ctx context.Context, retentionDays int) (int64, error)
}

// Cleaner schedules the cache sweep and audit retention jobs.
type Cleaner struct {
	sweeper   CacheSweeper
	audit     AuditPruner
	cron      *cron.Cron
	log       *zap.Logger
	retention int
	timeout   time.Duration

	sweepSchedule string
	auditSchedule string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithAuditRetentionDays adjusts how long audit logs are retained before cleanup.
func WithAuditRetentionDays(days int) Option {
	return func(cleaner *Cleaner) {
		if days > 0 {
			cleaner.retention = days
		}
	}
}

// WithSweepSchedule overrides the cron specification for the cache sweep.
func WithSweepSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.sweepSchedule = spec
		}
	}
}

// WithAuditSchedule overrides the cron specification for audit retention enforcement.
func WithAuditSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.auditSchedule = spec
		}
	}
}

// WithJobTimeout bounds a single job execution.
func WithJobTimeout(timeout time.Duration) Option {
	return func(cleaner *Cleaner) {
		if timeout > 0 {
			cleaner.timeout = timeout
		}
	}
}

// NewCleaner constructs a Cleaner. A nil dependency skips the corresponding job.
func NewCleaner(sweeper CacheSweeper, audit AuditPruner, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		sweeper:       sweeper,
		audit:         audit,
		retention:     defaultAuditRetentionDays,
		timeout:       defaultJobTimeout,
		sweepSchedule: defaultSweepSpec,
		auditSchedule: defaultAuditSpec,
		log:           logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger), cron.WithLocation(time.UTC))
	}
	return cleaner
}

// Start registers the jobs and launches the scheduler when at least one job is enabled.
func (c *Cleaner) Start() error {
	registered := 0

	if c.sweeper != nil {
		if _, err := c.cron.AddFunc(c.sweepSchedule, func() { _ = c.runSweep(context.Background()) }); err != nil {
			return err
		}
		registered++
	}

	if c.audit != nil && c.retention > 0 {
		if _, err := c.cron.AddFunc(c.auditSchedule, func() { _ = c.runAuditRetention(context.Background()) }); err != nil {
			return err
		}
		registered++
	}

	if registered == 0 {
		return nil
	}
	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler. The returned context is done once running jobs complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes every configured job sequentially and aggregates their errors.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error
	if c.sweeper != nil {
		errs = multierr.Append(errs, c.runSweep(ctx))
	}
	if c.audit != nil && c.retention > 0 {
		errs = multierr.Append(errs, c.runAuditRetention(ctx))
	}
	return errs
}

func (c *Cleaner) runSweep(ctx context.Context) error {
	return c.run(ctx, JobCacheSweep, c.sweeper.Sweep)
}

func (c *Cleaner) runAuditRetention(ctx context.Context) error {
	return c.run(ctx, JobAuditRetention, func(ctx context.Context) (int64, error) {
		return c.audit.CleanupOlderThan(ctx, c.retention)
	})
}

func (c *Cleaner) run(ctx context.Context, job string, fn func(context.Context) (int64, error)) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	removed, err := fn(ctx)
	duration := time.Since(start)

	run := monitoring.MaintenanceRun{Job: job, Result: "success", Duration: duration, Removed: removed}
	if err != nil {
		run.Result = "failure"
		run.Message = err.Error()
		c.log.Warn("maintenance job failed", zap.String("job", job), zap.Duration("duration", duration), zap.Error(err))
	} else if removed > 0 {
		c.log.Debug("maintenance job completed", zap.String("job", job), zap.Int64("removed", removed))
	}
	monitoring.RecordMaintenanceRun(run)
	return err
}
