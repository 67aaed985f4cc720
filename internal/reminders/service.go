// Package reminders notifies users shortly before their slot starts.
package reminders

import (
	"context"
	"sync"
	"time"

	"stirka/internal/model"

	"github.com/rs/zerolog"
)

type Schedule interface {
	List(ctx context.Context) []model.Booking
	MarkReminderSent(ctx context.Context, b model.Booking) error
}

type Notifier interface {
	SendReminder(ctx context.Context, b model.Booking, minutesLeft int) error
}

// Config holds configuration for the reminder service.
type Config struct {
	// CheckInterval is how often upcoming bookings are scanned. Default: 10 minutes.
	CheckInterval time.Duration

	// Window is how far ahead of a slot start a reminder may go out. Default: 30 minutes.
	Window time.Duration

	// MaxConcurrentNotifications limits parallel sends. Default: 5.
	MaxConcurrentNotifications int
}

func DefaultConfig() *Config {
	return &Config{
		CheckInterval:              10 * time.Minute,
		Window:                     30 * time.Minute,
		MaxConcurrentNotifications: 5,
	}
}

// Service sends at most one reminder per booking.
type Service struct {
	config   *Config
	schedule Schedule
	notifier Notifier
	loc      *time.Location
	now      func() time.Time
	logger   zerolog.Logger
	stopCh   chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
}

func NewService(config *Config, schedule Schedule, notifier Notifier, loc *time.Location, logger *zerolog.Logger) *Service {
	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	if config.CheckInterval <= 0 {
		config.CheckInterval = defaults.CheckInterval
	}
	if config.Window <= 0 {
		config.Window = defaults.Window
	}
	if config.MaxConcurrentNotifications <= 0 {
		config.MaxConcurrentNotifications = defaults.MaxConcurrentNotifications
	}
	if loc == nil {
		loc = time.Local
	}

	return &Service{
		config:   config,
		schedule: schedule,
		notifier: notifier,
		loc:      loc,
		now:      time.Now,
		logger:   logger.With().Str("component", "reminders").Logger(),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the check loop.
func (s *Service) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop()

	s.logger.Info().
		Dur("check_interval", s.config.CheckInterval).
		Dur("window", s.config.Window).
		Msg("reminder service started")
}

// Stop waits for an in-flight check to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info().Msg("reminder service stopped")
}

func (s *Service) loop() {
	defer s.wg.Done()

	s.check()

	ticker := time.NewTicker(s.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.check()
		}
	}
}

func (s *Service) check() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.CheckInterval)
	defer cancel()
	s.CheckNow(ctx)
}

// Due returns the bookings of today whose start is within the window
// after now and which have not been reminded yet.
func (s *Service) Due(bookings []model.Booking, now time.Time) []model.Booking {
	now = now.In(s.loc)
	today := now.Format(model.DateLayout)

	var out []model.Booking
	for _, b := range bookings {
		if b.ReminderSent || b.Date != today {
			continue
		}
		start, err := b.StartsAt(s.loc)
		if err != nil {
			s.logger.Warn().Err(err).Str("date", b.Date).Str("slot", b.TimeSlot).Msg("unparsable booking")
			continue
		}
		left := start.Sub(now)
		if left > 0 && left <= s.config.Window {
			out = append(out, b)
		}
	}
	return out
}

// CheckNow runs one scan and returns how many reminders were delivered.
func (s *Service) CheckNow(ctx context.Context) int {
	now := s.now()
	due := s.Due(s.schedule.List(ctx), now)
	if len(due) == 0 {
		return 0
	}
	s.logger.Debug().Int("count", len(due)).Msg("bookings due for a reminder")

	sem := make(chan struct{}, s.config.MaxConcurrentNotifications)
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		sent int
	)
	for _, b := range due {
		wg.Add(1)
		sem <- struct{}{}

		go func(b model.Booking) {
			defer wg.Done()
			defer func() { <-sem }()

			if s.send(ctx, b, now) {
				mu.Lock()
				sent++
				mu.Unlock()
			}
		}(b)
	}
	wg.Wait()
	return sent
}

func (s *Service) send(ctx context.Context, b model.Booking, now time.Time) bool {
	start, _ := b.StartsAt(s.loc)
	minutesLeft := int(start.Sub(now) / time.Minute)

	if err := s.notifier.SendReminder(ctx, b, minutesLeft); err != nil {
		s.logger.Error().Err(err).
			Int64("user_id", b.UserID).
			Str("date", b.Date).
			Str("slot", b.TimeSlot).
			Msg("failed to send reminder")
		return false
	}

	if err := s.schedule.MarkReminderSent(ctx, b); err != nil {
		s.logger.Error().Err(err).
			Int64("user_id", b.UserID).
			Str("slot", b.TimeSlot).
			Msg("failed to mark reminder as sent (notification was sent)")
	}
	s.logger.Info().Int64("user_id", b.UserID).Str("slot", b.TimeSlot).Msg("reminder sent")
	return true
}
