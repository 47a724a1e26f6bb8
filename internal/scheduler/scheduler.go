// Package scheduler runs a job at every local midnight.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Job is the work run at each tick. Errors are logged and never stop the scheduler.
type Job func(ctx context.Context) error

// Timer is the time source. Tests substitute a fake.
type Timer interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realTimer struct{}

func (realTimer) Now() time.Time                         { return time.Now() }
func (realTimer) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Scheduler invokes a job at the next midnight in its location, then at every midnight after.
type Scheduler struct {
	name     string
	job      Job
	location *time.Location
	timer    Timer
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTimer replaces the wall-clock time source.
func WithTimer(t Timer) Option {
	return func(s *Scheduler) { s.timer = t }
}

// WithLocation sets the time zone that defines midnight. Default time.Local.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.location = loc
		}
	}
}

// New creates a scheduler for job.
func New(name string, job Job, opts ...Option) *Scheduler {
	s := &Scheduler{
		name:     name,
		job:      job,
		location: time.Local,
		timer:    realTimer{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NextMidnight returns the first midnight in loc strictly after now.
// Computed on the calendar, so it stays correct across DST changes.
func NextMidnight(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, loc)
}

// Run blocks until ctx is cancelled, invoking the job at each midnight.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		now := s.timer.Now()
		next := NextMidnight(now, s.location)
		wait := next.Sub(now)

		log.Debug().
			Str("job", s.name).
			Time("next", next).
			Dur("wait", wait).
			Msg("Scheduled next run")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.timer.After(wait):
		}

		s.runOnce(ctx)
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	start := time.Now()
	if err := s.job(ctx); err != nil {
		log.Error().Err(err).Str("job", s.name).Msg("Scheduled job failed")
		return
	}
	log.Info().
		Str("job", s.name).
		Dur("took", time.Since(start)).
		Msg("Scheduled job completed")
}
