package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"

	"material-indexing-platform/internal/logger"
)

// Scheduler runs periodic maintenance jobs. A job never overlaps itself:
// a run that is still going when the next tick fires makes that tick a no-op.
type Scheduler struct {
	scheduler *gocron.Scheduler
	ctx       context.Context
	cancel    context.CancelFunc
}

func NewScheduler() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := gocron.NewScheduler(time.UTC)
	s.TagsUnique()
	s.SingletonModeAll()

	return &Scheduler{
		scheduler: s,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.scheduler.StartAsync()
}

// Stop cancels the context handed to running jobs and stops the scheduler
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.scheduler.Stop()
}

// ScheduleCron runs job on a standard five-field cron expression
func (s *Scheduler) ScheduleCron(tag, cronExpr string, job func(ctx context.Context) error) error {
	_, err := s.scheduler.Cron(cronExpr).Tag(tag).Do(s.wrap(tag, job))
	return err
}

// ScheduleInterval runs job every interval
func (s *Scheduler) ScheduleInterval(tag string, interval time.Duration, job func(ctx context.Context) error) error {
	_, err := s.scheduler.Every(interval).Tag(tag).Do(s.wrap(tag, job))
	return err
}

// RemoveJob removes a scheduled job by tag
func (s *Scheduler) RemoveJob(tag string) error {
	return s.scheduler.RemoveByTag(tag)
}

// Jobs returns the number of scheduled jobs
func (s *Scheduler) Jobs() int {
	return len(s.scheduler.Jobs())
}

func (s *Scheduler) wrap(tag string, job func(ctx context.Context) error) func() {
	return func() {
		start := time.Now()
		if err := job(s.ctx); err != nil {
			logger.Error("Scheduled job failed", "job", tag, "error", err, "duration", time.Since(start))
			return
		}
		logger.Info("Scheduled job finished", "job", tag, "duration", time.Since(start))
	}
}
