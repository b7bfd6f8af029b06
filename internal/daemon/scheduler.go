package daemon

import (
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	ferrors "git.home.luguber.info/inful/meterd/internal/foundation/errors"
	"git.home.luguber.info/inful/meterd/internal/logfields"
)

// Scheduler wraps gocron for the daemon's timers. Tasks are expected to do
// nothing but enqueue work on the dispatch queue.
type Scheduler struct {
	scheduler gocron.Scheduler
	clock     clockwork.Clock
	logger    *slog.Logger
}

// NewScheduler creates a scheduler driven by clock.
func NewScheduler(clock clockwork.Clock, logger *slog.Logger) (*Scheduler, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	s, err := gocron.NewScheduler(gocron.WithClock(clock))
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryRuntime, "failed to create scheduler").Build()
	}
	return &Scheduler{scheduler: s, clock: clock, logger: logger}, nil
}

// Start begins running scheduled jobs.
func (s *Scheduler) Start() {
	s.logger.Info("Starting scheduler")
	s.scheduler.Start()
}

// Stop shuts the scheduler down, waiting for running tasks.
func (s *Scheduler) Stop() error {
	s.logger.Info("Stopping scheduler")
	return s.scheduler.Shutdown()
}

// After runs task once after delay.
func (s *Scheduler) After(name string, delay time.Duration, task func()) (uuid.UUID, error) {
	start := gocron.OneTimeJobStartImmediately()
	if delay > 0 {
		start = gocron.OneTimeJobStartDateTime(s.clock.Now().Add(delay))
	}
	job, err := s.scheduler.NewJob(
		gocron.OneTimeJob(start),
		gocron.NewTask(task),
		gocron.WithName(name),
	)
	if err != nil {
		return uuid.Nil, ferrors.WrapError(err, ferrors.CategoryRuntime, "failed to schedule one-time job").
			WithContext("job", name).Build()
	}
	s.logger.Debug("Scheduled one-time job", logfields.JobName(name), logfields.Duration(delay))
	return job.ID(), nil
}

// Every runs task first after first, then every interval. Overlapping runs
// are skipped.
func (s *Scheduler) Every(name string, first, interval time.Duration, task func()) (uuid.UUID, error) {
	if interval <= 0 {
		return uuid.Nil, ferrors.ValidationError("interval must be positive").
			WithContext("job", name).Build()
	}
	opts := []gocron.JobOption{
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	}
	if first > 0 {
		opts = append(opts, gocron.WithStartAt(gocron.WithStartDateTime(s.clock.Now().Add(first))))
	} else {
		opts = append(opts, gocron.WithStartAt(gocron.WithStartImmediately()))
	}
	job, err := s.scheduler.NewJob(gocron.DurationJob(interval), gocron.NewTask(task), opts...)
	if err != nil {
		return uuid.Nil, ferrors.WrapError(err, ferrors.CategoryRuntime, "failed to schedule periodic job").
			WithContext("job", name).Build()
	}
	s.logger.Debug("Scheduled periodic job", logfields.JobName(name), logfields.Duration(interval))
	return job.ID(), nil
}

// Cancel removes a job. Unknown IDs are ignored; a task that already
// started is not interrupted.
func (s *Scheduler) Cancel(id uuid.UUID) {
	if id == uuid.Nil {
		return
	}
	if err := s.scheduler.RemoveJob(id); err != nil {
		s.logger.Debug("Cancel of unknown job ignored", slog.String("job_id", id.String()))
	}
}

// Len returns the number of scheduled jobs.
func (s *Scheduler) Len() int { return len(s.scheduler.Jobs()) }
