package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/restaurant-analysis/internal/cache"
	"github.com/robfig/cron/v3"
)

// LeaseReaper recovers jobs whose lease ran out
type LeaseReaper interface {
	RecoverExpired(ctx context.Context) (int, error)
}

// TerminalPurger deletes finished jobs last updated before a cutoff
type TerminalPurger interface {
	PurgeTerminal(ctx context.Context, before time.Time) (int64, error)
}

// Config holds the periodic housekeeping tasks. A zero interval disables the task.
type Config struct {
	Logger *slog.Logger
	Reaper LeaseReaper
	Cache  cache.Cache
	Store  TerminalPurger

	ReapInterval       time.Duration
	CachePurgeInterval time.Duration
	RetentionInterval  time.Duration
	Retention          time.Duration

	// Now defaults to time.Now
	Now func() time.Time
}

// Scheduler runs housekeeping on a cron schedule. Runs of the same task never overlap.
type Scheduler struct {
	cfg  Config
	now  func() time.Time
	cron *cron.Cron
}

func New(cfg *Config) *Scheduler {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Scheduler{
		cfg: *cfg,
		now: now,
		cron: cron.New(cron.WithChain(
			cron.Recover(cronLogger{cfg.Logger}),
			cron.SkipIfStillRunning(cronLogger{cfg.Logger}),
		)),
	}
}

// Start schedules the enabled tasks and blocks until ctx is done.
// It returns once every running task has finished.
func (s *Scheduler) Start(ctx context.Context) error {
	tasks := []struct {
		name     string
		interval time.Duration
		enabled  bool
		run      func(context.Context)
	}{
		{"lease_reaper", s.cfg.ReapInterval, s.cfg.Reaper != nil, s.ReapExpiredLeases},
		{"cache_purge", s.cfg.CachePurgeInterval, s.cfg.Cache != nil, s.PurgeCache},
		{"retention_purge", s.cfg.RetentionInterval, s.cfg.Store != nil && s.cfg.Retention > 0, s.PurgeRetention},
	}

	for _, task := range tasks {
		if !task.enabled || task.interval <= 0 {
			s.cfg.Logger.Info("Maintenance task disabled", slog.String("task", task.name))
			continue
		}

		run := task.run
		if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", task.interval), func() { run(ctx) }); err != nil {
			return fmt.Errorf("failed to schedule %s: %w", task.name, err)
		}
		s.cfg.Logger.Info("Maintenance task scheduled",
			slog.String("task", task.name),
			slog.Duration("interval", task.interval),
		)
	}

	s.cron.Start()
	<-ctx.Done()

	s.cfg.Logger.Info("Stopping maintenance scheduler")
	<-s.cron.Stop().Done()
	return nil
}

// ReapExpiredLeases moves jobs with expired leases back to Failed or DeadLettered
func (s *Scheduler) ReapExpiredLeases(ctx context.Context) {
	recovered, err := s.cfg.Reaper.RecoverExpired(ctx)
	if err != nil {
		s.cfg.Logger.Error("Lease reaper failed",
			slog.Int("recovered", recovered),
			slog.Any("error", err),
		)
		return
	}
	if recovered > 0 {
		s.cfg.Logger.Info("Lease reaper recovered jobs", slog.Int("recovered", recovered))
	}
}

// PurgeCache drops expired cache entries
func (s *Scheduler) PurgeCache(ctx context.Context) {
	removed, err := s.cfg.Cache.Purge(ctx)
	if err != nil {
		s.cfg.Logger.Error("Cache purge failed", slog.Any("error", err))
		return
	}
	s.cfg.Logger.Debug("Cache purged", slog.Int("removed", removed))
}

// PurgeRetention deletes terminal jobs older than the retention period
func (s *Scheduler) PurgeRetention(ctx context.Context) {
	cutoff := s.now().Add(-s.cfg.Retention)

	removed, err := s.cfg.Store.PurgeTerminal(ctx, cutoff)
	if err != nil {
		s.cfg.Logger.Error("Retention purge failed", slog.Any("error", err))
		return
	}
	if removed > 0 {
		s.cfg.Logger.Info("Purged terminal jobs",
			slog.Int64("removed", removed),
			slog.Time("before", cutoff),
		)
	}
}

// cronLogger routes cron's own messages through slog
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
