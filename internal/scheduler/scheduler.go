// Package scheduler runs backup and retention jobs on cron specs in the
// foreground until the process is asked to stop.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"mysql-backup-coordinator/internal/errors"
	"mysql-backup-coordinator/internal/logging"
)

// Job is one scheduled unit of work
type Job func(ctx context.Context) error

// Scheduler wraps a cron runner. A job that is still running when its next
// tick arrives is skipped, and a panicking job is logged and recovered.
type Scheduler struct {
	cron   *cron.Cron
	logger *logging.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID
	jobCtx  context.Context
}

// New creates a scheduler using the standard five-field cron syntax
func New(logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger:  logger,
		entries: make(map[string]cron.EntryID),
		jobCtx:  context.Background(),
	}
}

// ValidateSpec reports whether spec parses as a standard cron spec
func ValidateSpec(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return errors.NewValidationError(fmt.Sprintf("invalid cron spec %q", spec), err)
	}
	return nil
}

// Add registers job under name on spec
func (s *Scheduler) Add(name, spec string, job Job) error {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return errors.NewValidationError(fmt.Sprintf("invalid cron spec %q for %s", spec, name), err)
	}
	return s.add(name, sched, job)
}

func (s *Scheduler) add(name string, sched cron.Schedule, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[name]; ok {
		return errors.NewValidationError(fmt.Sprintf("job %s is already scheduled", name), nil)
	}
	s.entries[name] = s.cron.Schedule(sched, cron.FuncJob(func() { s.run(name, job) }))
	return nil
}

func (s *Scheduler) run(name string, job Job) {
	s.mu.Lock()
	ctx := s.jobCtx
	s.mu.Unlock()

	done := s.logger.LogOperationStart("scheduled_"+name, map[string]interface{}{"job": name})
	err := job(ctx)
	done(err)
}

// Next returns the next activation of the named job, zero if unknown or
// the scheduler is not running.
func (s *Scheduler) Next(name string) time.Time {
	s.mu.Lock()
	id, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}
	}
	return s.cron.Entry(id).Next
}

// Run starts the jobs and blocks until ctx is done. Jobs run with a context
// that is not cancelled with ctx, and Run returns only after any running
// job has finished.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if len(s.entries) == 0 {
		s.mu.Unlock()
		return errors.NewValidationError("no jobs are scheduled", nil)
	}
	s.jobCtx = context.WithoutCancel(ctx)
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	s.mu.Unlock()

	s.cron.Start()
	for _, name := range names {
		s.logger.WithField("job", name).WithField("next_run", s.Next(name).Format(time.RFC3339)).Info("Job scheduled")
	}

	<-ctx.Done()
	s.logger.Info("Stopping scheduler, waiting for running jobs")
	<-s.cron.Stop().Done()
	return nil
}

// cronLogger adapts the structured logger to cron.Logger
type cronLogger struct {
	logger *logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(fields(keysAndValues)).Debug("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	f := fields(keysAndValues)
	f["error"] = fmt.Sprint(err)
	l.logger.WithFields(f).Error("cron: " + msg)
}

func fields(kv []interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(kv)/2+1)
	for i := 0; i+1 < len(kv); i += 2 {
		out[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return out
}
