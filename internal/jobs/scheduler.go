// Package jobs runs the periodic maintenance work: resetting stuck task
// executions, expiring old share requests and refreshing business gauges.
package jobs

import (
	"context"
	"time"

	cronlib "github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/Winger29/FSDP-Assignment2/internal/logging"
)

const (
	// StaleTaskAge is how long an execution may stay IN_PROGRESS
	StaleTaskAge = 30 * time.Minute
	// ShareRequestTTL is how long a share request stays pending
	ShareRequestTTL = 30 * 24 * time.Hour

	staleTaskSpec    = "@every 5m"
	expireShareSpec  = "@hourly"
	collectGaugeSpec = "@every 1m"
	jobTimeout       = time.Minute
)

// TaskResetter returns stuck executions to PENDING. ResetOrphaned covers the
// runs this instance owned before it restarted.
type TaskResetter interface {
	ResetStale(ctx context.Context, maxAge time.Duration) (int64, error)
	ResetOrphaned(ctx context.Context) (int64, error)
}

// ShareExpirer expires pending share requests older than maxAge
type ShareExpirer interface {
	ExpireStale(ctx context.Context, maxAge time.Duration) (int64, error)
}

// GaugeCollector refreshes business metrics
type GaugeCollector interface {
	Collect(ctx context.Context)
}

// Config holds the scheduler's dependencies. Nil members disable their job.
type Config struct {
	Tasks     TaskResetter
	Shares    ShareExpirer
	Collector GaugeCollector
}

// Scheduler wraps a cron runner with the maintenance jobs
type Scheduler struct {
	cfg  Config
	cron *cronlib.Cron
	ctx  context.Context
}

// NewScheduler creates a scheduler; Start registers and starts the jobs
func NewScheduler(cfg Config) *Scheduler {
	logger := cronLogger{logging.S()}
	return &Scheduler{
		cfg: cfg,
		cron: cronlib.New(
			cronlib.WithLogger(logger),
			cronlib.WithChain(cronlib.Recover(logger), cronlib.SkipIfStillRunning(logger)),
		),
		ctx: context.Background(),
	}
}

// Start resets the tasks this instance was running when it went down, then
// schedules the periodic jobs. Other instances' runs are left to the stale
// task sweep.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx = ctx

	if s.cfg.Tasks != nil {
		n, err := s.cfg.Tasks.ResetOrphaned(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			logging.L().Warn("Reset interrupted task executions", zap.Int64("tasks", n))
		}
		if _, err := s.cron.AddFunc(staleTaskSpec, s.ResetStaleTasks); err != nil {
			return err
		}
	}
	if s.cfg.Shares != nil {
		if _, err := s.cron.AddFunc(expireShareSpec, s.ExpireShares); err != nil {
			return err
		}
	}
	if s.cfg.Collector != nil {
		if _, err := s.cron.AddFunc(collectGaugeSpec, s.CollectGauges); err != nil {
			return err
		}
	}

	s.cron.Start()
	logging.L().Info("Background jobs started", zap.Int("jobs", len(s.cron.Entries())))
	return nil
}

// Stop halts scheduling and waits for running jobs, bounded by ctx
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		logging.L().Warn("Background jobs still running at shutdown")
	}
}

// ResetStaleTasks returns executions stuck for longer than StaleTaskAge to PENDING
func (s *Scheduler) ResetStaleTasks() {
	ctx, cancel := context.WithTimeout(s.ctx, jobTimeout)
	defer cancel()

	n, err := s.cfg.Tasks.ResetStale(ctx, StaleTaskAge)
	if err != nil {
		logging.L().Error("Failed to reset stale tasks", zap.Error(err))
		return
	}
	if n > 0 {
		logging.L().Warn("Reset timed out task executions", zap.Int64("tasks", n))
	}
}

// ExpireShares marks share requests pending for longer than ShareRequestTTL as expired
func (s *Scheduler) ExpireShares() {
	ctx, cancel := context.WithTimeout(s.ctx, jobTimeout)
	defer cancel()

	n, err := s.cfg.Shares.ExpireStale(ctx, ShareRequestTTL)
	if err != nil {
		logging.L().Error("Failed to expire share requests", zap.Error(err))
		return
	}
	if n > 0 {
		logging.L().Info("Expired share requests", zap.Int64("requests", n))
	}
}

func (s *Scheduler) CollectGauges() {
	ctx, cancel := context.WithTimeout(s.ctx, jobTimeout)
	defer cancel()
	s.cfg.Collector.Collect(ctx)
}

// cronLogger adapts zap to the cron library's logger
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
