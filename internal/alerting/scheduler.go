package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const DefaultSchedule = "@every 5m"

// Job is one scheduled pass.
type Job interface {
	Scan(ctx context.Context) (Report, error)
}

// Scheduler runs a Job on a cron schedule. Overlapping runs are skipped and
// a panicking run is recovered and logged.
type Scheduler struct {
	cron    *cron.Cron
	job     Job
	spec    string
	timeout time.Duration
	logger  *slog.Logger
}

// NewScheduler parses spec (standard five-field or @every/@hourly
// descriptors) and binds job to it. timeout bounds each run; zero leaves runs
// unbounded.
func NewScheduler(spec string, job Job, timeout time.Duration, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if spec == "" {
		spec = DefaultSchedule
	}
	cl := cronLogger{logger: logger}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			// Recover sits inside the skip guard so a panicking run still
			// hands back the guard and the next tick proceeds.
			cron.WithChain(cron.SkipIfStillRunning(cl), cron.Recover(cl)),
		),
		job:     job,
		spec:    spec,
		timeout: timeout,
		logger:  logger,
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("alert schedule %q: %w", spec, err)
	}
	return s, nil
}

// Run starts the schedule and blocks until ctx is done, then waits for an
// in-flight run to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.spec, func() { s.runOnce(ctx) }); err != nil {
		return fmt.Errorf("schedule alert scan: %w", err)
	}
	s.cron.Start()
	s.logger.InfoContext(ctx, "alert scheduler started", "schedule", s.spec)
	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.InfoContext(ctx, "alert scheduler stopped")
	return nil
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	report, err := s.job.Scan(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "alert pass incomplete", "error", err)
	}
	s.logger.DebugContext(ctx, "alert pass done",
		"raised_permanence", report.Raised[KindPermanence],
		"raised_clearance_sla", report.Raised[KindClearanceSLA],
		"raised_rejected_entry", report.Raised[KindRejectedEntry],
	)
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
