// Package reset clears the schedule at the start of every booking week.
package reset

import (
	"context"
	"fmt"
	"time"

	"stirka/internal/events"
	"stirka/internal/metrics"
	"stirka/internal/model"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

type Schedule interface {
	List(ctx context.Context) []model.Booking
	Clear(ctx context.Context) (int64, error)
}

type Recipients interface {
	ListAll() []int64
}

type Notifier interface {
	SendText(ctx context.Context, userID int64, text string) error
}

// Archiver stores the finished week before it is cleared.
type Archiver interface {
	Archive(ctx context.Context, bookings []model.Booking, at time.Time) error
}

type Publisher interface {
	PublishJSON(eventType string, payload any) error
}

// Result summarizes one reset cycle.
type Result struct {
	Cleared  int64
	Notified int
	Failed   int
}

type Service struct {
	schedule   Schedule
	recipients Recipients
	notifier   Notifier
	archiver   Archiver
	bus        Publisher
	boundary   cron.Schedule
	loc        *time.Location
	message    string
	now        func() time.Time
	logger     zerolog.Logger
}

// NewService parses expr as a standard five-field cron expression
// evaluated in loc.
func NewService(
	expr string,
	loc *time.Location,
	message string,
	schedule Schedule,
	recipients Recipients,
	notifier Notifier,
	logger *zerolog.Logger,
) (*Service, error) {
	boundary, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("parse reset schedule %q: %w", expr, err)
	}
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		schedule:   schedule,
		recipients: recipients,
		notifier:   notifier,
		boundary:   boundary,
		loc:        loc,
		message:    message,
		now:        time.Now,
		logger:     logger.With().Str("component", "reset").Logger(),
	}, nil
}

// WithArchiver enables archiving of the schedule before each clear.
func (s *Service) WithArchiver(a Archiver) *Service {
	s.archiver = a
	return s
}

func (s *Service) WithPublisher(p Publisher) *Service {
	s.bus = p
	return s
}

// Next returns the first boundary strictly after t.
func (s *Service) Next(t time.Time) time.Time {
	return s.boundary.Next(t.In(s.loc))
}

// Run blocks until ctx is done, resetting at every boundary.
func (s *Service) Run(ctx context.Context) {
	next := s.Next(s.now())
	timer := time.NewTimer(next.Sub(s.now()))
	defer timer.Stop()
	s.logger.Info().Time("next", next).Msg("next reset scheduled")

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.RunOnce(ctx)

			next = s.Next(s.now())
			timer.Reset(next.Sub(s.now()))
			s.logger.Info().Time("next", next).Msg("next reset scheduled")
		}
	}
}

// RunOnce performs one reset: archive, clear, notify. Notification
// failures are counted and never abort the cycle.
func (s *Service) RunOnce(ctx context.Context) Result {
	var res Result
	at := s.now().In(s.loc)
	snapshot := s.schedule.List(ctx)

	if s.archiver != nil && len(snapshot) > 0 {
		if err := s.archiver.Archive(ctx, snapshot, at); err != nil {
			s.logger.Error().Err(err).Msg("failed to archive schedule")
		}
	}

	cleared, err := s.schedule.Clear(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to clear schedule, skipping notifications")
		return res
	}
	res.Cleared = cleared
	metrics.IncScheduleReset()

	for _, userID := range s.recipients.ListAll() {
		if ctx.Err() != nil {
			break
		}
		if err := s.notifier.SendText(ctx, userID, s.message); err != nil {
			res.Failed++
			s.logger.Warn().Err(err).Int64("user_id", userID).Msg("failed to send reset message")
			continue
		}
		res.Notified++
	}

	s.logger.Info().
		Int64("cleared", res.Cleared).
		Int("notified", res.Notified).
		Int("failed", res.Failed).
		Msg("schedule reset")

	if s.bus != nil {
		payload := events.ClearedPayload{Removed: res.Cleared, Notified: res.Notified, Failed: res.Failed}
		if err := s.bus.PublishJSON(events.ScheduleCleared, payload); err != nil {
			s.logger.Warn().Err(err).Msg("failed to publish reset event")
		}
	}
	return res
}
