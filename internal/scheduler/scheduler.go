// Package scheduler runs CitaBot's periodic jobs.
//
// Jobs are registered with cron expressions in the clinic timezone; the only
// job today is the daily cash report pushed to the admin.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultJobTimeout bounds a single run of a scheduled job.
const DefaultJobTimeout = 30 * time.Second

// ReportSender pushes the day's cash report to the admin.
type ReportSender interface {
	SendCashReport(ctx context.Context) error
}

// Opts holds scheduler settings.
type Opts struct {
	Location   *time.Location
	JobTimeout time.Duration
}

// Option configures a Scheduler.
type Option func(*Opts)

// WithLocation sets the timezone cron expressions are evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(o *Opts) { o.Location = loc }
}

// WithJobTimeout bounds each job run.
func WithJobTimeout(d time.Duration) Option {
	return func(o *Opts) { o.JobTimeout = d }
}

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
	opts Opts
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler(opts ...Option) *Scheduler {
	o := Opts{Location: time.Local, JobTimeout: DefaultJobTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	// Standard 5-field parser (min, hour, dom, month, dow) plus descriptors like @daily
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLocation(o.Location),
		cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
	)
	c.Start()
	slog.Debug("Scheduler started", "location", o.Location.String())
	return &Scheduler{cron: c, opts: o}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	if _, err := s.cron.AddFunc(expr, task); err != nil {
		return fmt.Errorf("failed to schedule job %q: %w", expr, err)
	}
	return nil
}

// ScheduleCashReport pushes the cash report on every tick of expr.
func (s *Scheduler) ScheduleCashReport(expr string, r ReportSender) error {
	if err := s.AddJob(expr, cashReportTask(r, s.opts.JobTimeout)); err != nil {
		return err
	}
	slog.Info("Scheduler cash report scheduled", "schedule", expr)
	return nil
}

func cashReportTask(r ReportSender, timeout time.Duration) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := r.SendCashReport(ctx); err != nil {
			slog.Error("Scheduler cash report failed", "error", err)
			return
		}
		slog.Debug("Scheduler cash report pushed")
	}
}

// Len returns the number of registered jobs.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	slog.Debug("Scheduler stopped")
}
