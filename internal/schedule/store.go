// Package schedule is the single source of truth for bookings.
package schedule

import (
	"context"
	"errors"
	"fmt"

	"stirka/internal/metrics"
	"stirka/internal/model"

	"github.com/rs/zerolog"
)

// ErrStoreUnavailable wraps any backend failure that is not a uniqueness conflict.
var ErrStoreUnavailable = errors.New("schedule store unavailable")

// Backend persists the schedule table. Implementations must enforce
// uniqueness of (date, slot, machine) and of user id.
type Backend interface {
	ListBookings(ctx context.Context) ([]model.Booking, error)
	InsertBooking(ctx context.Context, b model.Booking) error
	DeleteUserBooking(ctx context.Context, userID int64) (bool, error)
	ReplaceUserBooking(ctx context.Context, userID int64, b model.Booking) error
	ClearBookings(ctx context.Context) (int64, error)
	MarkReminderSent(ctx context.Context, b model.Booking) error
}

type Store struct {
	backend Backend
	logger  zerolog.Logger
}

func NewStore(backend Backend, logger *zerolog.Logger) *Store {
	return &Store{
		backend: backend,
		logger:  logger.With().Str("component", "schedule").Logger(),
	}
}

// List returns a snapshot of every booking. A backend read failure is
// logged and yields an empty schedule.
func (s *Store) List(ctx context.Context) []model.Booking {
	bookings, err := s.backend.ListBookings(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to read schedule")
		metrics.IncStoreReadFailure()
		return []model.Booking{}
	}
	if bookings == nil {
		return []model.Booking{}
	}
	return bookings
}

func (s *Store) Insert(ctx context.Context, b model.Booking) error {
	return writeErr("insert", s.backend.InsertBooking(ctx, b))
}

// RemoveByUser deletes the user's booking and reports whether one existed.
func (s *Store) RemoveByUser(ctx context.Context, userID int64) (bool, error) {
	removed, err := s.backend.DeleteUserBooking(ctx, userID)
	return removed, writeErr("remove", err)
}

// Replace atomically drops the user's booking and inserts b.
func (s *Store) Replace(ctx context.Context, userID int64, b model.Booking) error {
	return writeErr("replace", s.backend.ReplaceUserBooking(ctx, userID, b))
}

func (s *Store) Clear(ctx context.Context) (int64, error) {
	n, err := s.backend.ClearBookings(ctx)
	return n, writeErr("clear", err)
}

// FindByUser returns the user's booking from a fresh snapshot.
func (s *Store) FindByUser(ctx context.Context, userID int64) (*model.Booking, bool) {
	for _, b := range s.List(ctx) {
		if b.UserID == userID {
			b := b
			return &b, true
		}
	}
	return nil, false
}

func (s *Store) MarkReminderSent(ctx context.Context, b model.Booking) error {
	return writeErr("mark reminder", s.backend.MarkReminderSent(ctx, b))
}

func writeErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, model.ErrSlotTaken), errors.Is(err, model.ErrUserHasBooking):
		return err
	default:
		return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
	}
}
