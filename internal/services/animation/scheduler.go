// Package animation rotates a profile field through a sequence of frames by
// resubmitting the profile form on a fixed period.
package animation

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/steamanim/internal/interfaces"
	"github.com/ternarybob/steamanim/internal/models"
)

// Scheduler submits one mutated snapshot per tick. Ticks never overlap: a
// tick that comes due while the previous one is still submitting is skipped.
type Scheduler struct {
	submitter interfaces.FormSubmitter
	frames    FrameSource
	field     string
	period    time.Duration
	logger    arbor.ILogger

	forbiddenExpiry bool

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	expired chan struct{}
	once    *sync.Once
	cause   error

	ticks     atomic.Int64
	failures  atomic.Int64
	successes atomic.Int64
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithForbiddenExpiry sets whether a 403 on submit ends the run before any
// submit has succeeded. After a successful submit a 403 always does. Pass
// false for a session opened because of a 403, so a refusal that outlives
// the new login is logged and retried on the next tick instead.
func WithForbiddenExpiry(trust bool) SchedulerOption {
	return func(s *Scheduler) {
		s.forbiddenExpiry = trust
	}
}

// NewScheduler creates a scheduler.
func NewScheduler(submitter interfaces.FormSubmitter, frames FrameSource, field string, period time.Duration, logger arbor.ILogger, opts ...SchedulerOption) *Scheduler {
	if field == "" {
		field = "summary"
	}
	s := &Scheduler{
		submitter:       submitter,
		frames:          frames,
		field:           field,
		period:          period,
		logger:          logger,
		forbiddenExpiry: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start fires the first tick immediately and then one per period until Stop
// is called or ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context, session *models.SessionHandle, base models.FieldSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	if s.period <= 0 {
		return fmt.Errorf("period must be positive")
	}
	if session == nil {
		return fmt.Errorf("session is required")
	}

	tickCtx, cancel := context.WithCancel(ctx)
	logger := cronLogger{logger: s.logger}

	job := cron.NewChain(cron.SkipIfStillRunning(logger)).Then(cron.FuncJob(func() {
		s.tick(tickCtx, session, base)
	}))

	s.cron = cron.New(cron.WithLogger(logger))
	s.cron.Schedule(fixedPeriod{period: s.period}, job)
	s.cancel = cancel
	s.expired = make(chan struct{})
	s.once = &sync.Once{}
	s.cause = nil
	s.running = true

	s.cron.Start()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		job.Run()
	}()

	s.logger.Info().
		Str("field", s.field).
		Dur("period", s.period).
		Int("base_fields", len(base)).
		Msg("Animation started")

	return nil
}

// Stop cancels future ticks and waits for the in-flight one to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	c := s.cron
	s.mu.Unlock()

	cancel()
	<-c.Stop().Done()
	s.wg.Wait()

	s.logger.Info().
		Int64("ticks", s.ticks.Load()).
		Int64("failures", s.failures.Load()).
		Msg("Animation stopped")
}

// Run starts the schedule and blocks until ctx is cancelled (nil) or the
// session is rejected (models.ErrSessionExpired). The scheduler is stopped
// before Run returns.
func (s *Scheduler) Run(ctx context.Context, session *models.SessionHandle, base models.FieldSnapshot) error {
	if err := s.Start(ctx, session, base); err != nil {
		return err
	}

	s.mu.Lock()
	expired := s.expired
	s.mu.Unlock()

	defer s.Stop()

	select {
	case <-ctx.Done():
		return nil
	case <-expired:
		s.logger.Warn().Msg("Web session expired, stopping animation")
		return models.ErrSessionExpired
	}
}

// Ticks returns the number of ticks executed.
func (s *Scheduler) Ticks() int64 {
	return s.ticks.Load()
}

// Failures returns the number of failed submissions.
func (s *Scheduler) Failures() int64 {
	return s.failures.Load()
}

// Successes returns the number of accepted submissions.
func (s *Scheduler) Successes() int64 {
	return s.successes.Load()
}

// ExpiryCause returns the submit error that ended the last run, nil when it
// did not end on expiry.
func (s *Scheduler) ExpiryCause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

func (s *Scheduler) tick(ctx context.Context, session *models.SessionHandle, base models.FieldSnapshot) {
	if ctx.Err() != nil {
		return
	}

	n := s.ticks.Add(1)
	frame := s.frames.Next()
	started := time.Now()

	err := s.submitter.SubmitForm(ctx, session, base.With(s.field, frame))
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.failures.Add(1)
		s.logger.Error().
			Err(err).
			Int64("tick", n).
			Str("frame", frame).
			Str("kind", models.KindOf(err).String()).
			Msg("Failed to update profile")

		if !models.IsKind(err, models.KindSessionExpired) {
			return
		}
		if models.IsForbidden(err) && !s.forbiddenExpiry && s.successes.Load() == 0 {
			s.logger.Warn().
				Int64("tick", n).
				Msg("Profile submit still forbidden after signing in again, keeping the session")
			return
		}
		s.markExpired(err)
		return
	}

	s.successes.Add(1)

	s.logger.Info().
		Int64("tick", n).
		Str("frame", frame).
		Dur("took", time.Since(started)).
		Msg("Profile frame updated")
}

func (s *Scheduler) markExpired(cause error) {
	s.mu.Lock()
	once, expired := s.once, s.expired
	s.mu.Unlock()
	once.Do(func() {
		s.mu.Lock()
		s.cause = cause
		s.mu.Unlock()
		close(expired)
	})
}

// fixedPeriod fires one period after the previous activation. Unlike
// cron.Every it does not round to whole seconds.
type fixedPeriod struct {
	period time.Duration
}

func (f fixedPeriod) Next(t time.Time) time.Time {
	return t.Add(f.period)
}

// cronLogger routes cron's own messages to arbor.
type cronLogger struct {
	logger arbor.ILogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	if msg == "skip" {
		l.logger.Warn().Msg("Previous tick still running, skipping this one")
		return
	}
	l.logger.Debug().Str("fields", fmt.Sprint(keysAndValues...)).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Str("fields", fmt.Sprint(keysAndValues...)).Msg("cron: " + msg)
}
