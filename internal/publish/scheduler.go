package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	appLog "schedcal/internal/log"
)

// Job is one scheduled unit of work.
type Job func(ctx context.Context) error

// cronLogger routes cron's own messages to the application log.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}

// Scheduler runs a Job on a cron schedule. Overlapping runs are skipped.
type Scheduler struct {
	spec     string
	schedule cron.Schedule
	name     string
	job      Job
}

// NewScheduler validates spec, a standard 5-field cron line or a
// descriptor such as "@every 15m".
func NewScheduler(spec, name string, job Job) (*Scheduler, error) {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("schedule %q: %w", spec, err)
	}
	return &Scheduler{spec: spec, schedule: sched, name: name, job: job}, nil
}

// Next returns the first activation after t.
func (s *Scheduler) Next(t time.Time) time.Time { return s.schedule.Next(t) }

// Run blocks until ctx is done, running the job on schedule with ctx. A
// job still running at shutdown is waited for.
func (s *Scheduler) Run(ctx context.Context) error {
	logger := cronLogger{}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	c.Schedule(s.schedule, cron.FuncJob(func() {
		start := time.Now()
		if err := s.job(ctx); err != nil {
			appLog.Error("scheduled job failed", err, "job", s.name)
			return
		}
		appLog.Info("scheduled job done", "job", s.name, "took", time.Since(start).String())
	}))

	appLog.Info("scheduler started", "job", s.name, "spec", s.spec, "next", s.Next(time.Now()).Format(time.RFC3339))
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	appLog.Info("scheduler stopped", "job", s.name)
	return nil
}
