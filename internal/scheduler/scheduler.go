// Package scheduler wires up the cron job that periodically triggers a
// France Travail sync pass.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"offresync/sync-service/internal/syncer"
)

// Runner executes one sync pass. *syncer.Syncer implements it.
type Runner interface {
	Run(ctx context.Context, opts syncer.Options) (*syncer.Stats, error)
}

// Scheduler wraps robfig/cron and manages the sync loop.
type Scheduler struct {
	cron       *cron.Cron
	runner     Runner
	spec       string
	opts       syncer.Options
	runOnStart bool
	logger     *slog.Logger

	wg sync.WaitGroup
}

// New creates a Scheduler firing runner on the standard 5-field cron spec.
// A tick that lands while the previous pass is still running is skipped.
func New(runner Runner, spec string, lookbackDays int, runOnStart bool, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "scheduler")
	cl := cronLogger{logger}

	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		runner:     runner,
		spec:       spec,
		opts:       syncer.Options{LookbackDays: lookbackDays},
		runOnStart: runOnStart,
		logger:     logger,
	}
}

// Start registers the job and starts the scheduler. With runOnStart, one pass
// also runs immediately so the table is fresh without waiting for the first
// tick.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.spec, func() {
		s.runSync(ctx)
	})
	if err != nil {
		return fmt.Errorf("cron.AddFunc %q: %w", s.spec, err)
	}

	s.cron.Start()
	s.logger.Info("cron started", "spec", s.spec, "lookback_days", s.opts.LookbackDays)

	if s.runOnStart {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runSync(ctx)
		}()
	}

	return nil
}

// Stop halts the scheduler and waits for a running pass to return. Cancel
// the ctx given to Start first to abort that pass.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.logger.Info("cron stopped")
}

func (s *Scheduler) runSync(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	_, err := s.runner.Run(ctx, s.opts)
	switch {
	case errors.Is(err, syncer.ErrSyncInProgress):
		s.logger.Info("sync already running, tick skipped")
	case err != nil:
		s.logger.Error("sync pass failed", "error", err)
	}
}

// cronLogger routes robfig/cron's logging to slog.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}
