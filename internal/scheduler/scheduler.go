package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
)

const (
	// BackupFlushEvery is the interval of the safety-net flush
	BackupFlushEvery = 5 * time.Minute
	// WeekCloseSpec fires at Sunday 23:59:50, before the weekly rollover
	WeekCloseSpec = "50 59 23 * * 0"

	flushTimeout = time.Minute
)

// Flusher commits buffered activity
type Flusher interface {
	Flush(ctx context.Context) error
}

// Scheduler runs the periodic maintenance jobs
type Scheduler struct {
	sched   gocron.Scheduler
	flusher Flusher
	log     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates the scheduler with the flush jobs registered. loc must be an
// IANA location, cron specs resolve it by name
func New(flusher Flusher, clock clockwork.Clock, loc *time.Location, log *slog.Logger) (*Scheduler, error) {
	if loc == nil {
		loc = time.UTC
	}
	sched, err := gocron.NewScheduler(
		gocron.WithClock(clock),
		gocron.WithLocation(loc),
		gocron.WithLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{sched: sched, flusher: flusher, log: log, ctx: ctx, cancel: cancel}

	jobs := []struct {
		name string
		def  gocron.JobDefinition
	}{
		{"backup-flush", gocron.DurationJob(BackupFlushEvery)},
		{"week-close-flush", gocron.CronJob(WeekCloseSpec, true)},
	}
	for _, j := range jobs {
		_, err := sched.NewJob(j.def,
			gocron.NewTask(s.flush, j.name),
			gocron.WithName(j.name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("add job %s: %w", j.name, err)
		}
	}

	return s, nil
}

// Start begins running jobs
func (s *Scheduler) Start() {
	s.sched.Start()
	s.log.Info("scheduler started", "jobs", len(s.sched.Jobs()))
}

// Jobs returns the scheduled jobs
func (s *Scheduler) Jobs() []gocron.Job {
	return s.sched.Jobs()
}

// Shutdown stops all jobs and waits for running ones to finish
func (s *Scheduler) Shutdown() error {
	s.cancel()
	return s.sched.Shutdown()
}

func (s *Scheduler) flush(name string) {
	ctx, cancel := context.WithTimeout(s.ctx, flushTimeout)
	defer cancel()

	if err := s.flusher.Flush(ctx); err != nil {
		s.log.Warn("scheduled flush incomplete", "job", name, "error", err)
		return
	}
	s.log.Debug("scheduled flush", "job", name)
}
