package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Cron expressions, evaluated in the scheduler's location.
const (
	dailySpec   = "0 8 * * *"
	weeklySpec  = "0 8 * * 0"
	monthlySpec = "0 10 * * *"
)

// runTimeout bounds one trigger's full batch, network I/O included.
const runTimeout = 10 * time.Minute

// Scheduler owns the cron registrations and their lifecycle. Nothing is
// registered as a package-level side effect; callers construct, Start and
// Stop it explicitly.
type Scheduler struct {
	cron       *cron.Cron
	dispatcher *Dispatcher
	logger     *zap.Logger
}

// New registers the daily, weekly and monthly triggers in loc. The
// scheduler does not tick until Start is called.
func New(d *Dispatcher, loc *time.Location, logger *zap.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:       cron.New(cron.WithLocation(loc)),
		dispatcher: d,
		logger:     logger,
	}

	jobs := []struct {
		spec string
		name string
		run  func(context.Context)
	}{
		{dailySpec, "daily", d.RunDaily},
		{weeklySpec, "weekly", d.RunWeekly},
		{monthlySpec, "monthly", d.RunMonthlyCheck},
	}
	for _, job := range jobs {
		if _, err := s.cron.AddFunc(job.spec, s.wrap(job.name, job.run)); err != nil {
			return nil, fmt.Errorf("register %s trigger: %w", job.name, err)
		}
	}
	return s, nil
}

// wrap gives each fired trigger its own bounded context and recovers
// panics so one bad run cannot kill the cron goroutine.
func (s *Scheduler) wrap(name string, run func(context.Context)) func() {
	return func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("scheduled run panicked",
					zap.String("trigger", name),
					zap.Any("panic", r))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
		defer cancel()

		s.logger.Info("trigger fired", zap.String("trigger", name))
		run(ctx)
	}
}

// Start begins ticking. Triggers already in flight when Stop is called are
// allowed to finish.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started",
		zap.String("daily", dailySpec),
		zap.String("weekly", weeklySpec),
		zap.String("monthly", monthlySpec))
}

// Stop halts future triggers and waits for running ones to drain, up to
// ctx's deadline.
func (s *Scheduler) Stop(ctx context.Context) error {
	drained := s.cron.Stop()
	select {
	case <-drained.Done():
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}
