package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Default schedules, with a leading seconds field.
const (
	DefaultSweepSchedule  = "*/30 * * * * *"
	DefaultRollupSchedule = "0 0 0 * * *"
)

// Scheduler runs the sweeps on cron schedules in UTC. A sweep that is still
// running when its next tick fires skips that tick.
type Scheduler struct {
	cron *cron.Cron
	ctx  context.Context
	stop context.CancelFunc
}

// NewScheduler registers every sweep of r. Empty specs fall back to the defaults.
func NewScheduler(r *Reconciler, sweepSpec, rollupSpec string) (*Scheduler, error) {
	if sweepSpec == "" {
		sweepSpec = DefaultSweepSchedule
	}
	if rollupSpec == "" {
		rollupSpec = DefaultRollupSchedule
	}

	logger := cronLogger{r.logger}
	c := cron.New(
		cron.WithSeconds(),
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{cron: c, ctx: ctx, stop: cancel}

	entries := []struct {
		spec  string
		sweep func(context.Context) (int, error)
	}{
		{sweepSpec, r.SweepStalePurchases},
		{sweepSpec, r.SweepContractAddresses},
		{sweepSpec, r.SweepLegacyFactories},
		{sweepSpec, r.SweepUnmintedTokens},
		{rollupSpec, r.RollupCRM},
	}
	for _, e := range entries {
		sweep := e.sweep
		if _, err := c.AddFunc(e.spec, func() { _, _ = sweep(s.ctx) }); err != nil {
			cancel()
			return nil, fmt.Errorf("schedule %q: %w", e.spec, err)
		}
	}
	return s, nil
}

// Start begins firing schedules in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels running sweeps and waits for them to return or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.stop()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Entries reports how many schedules are registered.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
