package schedule

import (
	"context"
	"sort"
	"sync"

	"stirka/internal/model"
)

// MemoryBackend keeps the schedule in process memory.
type MemoryBackend struct {
	mu   sync.Mutex
	rows []model.Booking
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

func (m *MemoryBackend) ListBookings(_ context.Context) ([]model.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := append([]model.Booking(nil), m.rows...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		if out[i].TimeSlot != out[j].TimeSlot {
			return out[i].TimeSlot < out[j].TimeSlot
		}
		return out[i].Machine < out[j].Machine
	})
	return out, nil
}

func (m *MemoryBackend) InsertBooking(_ context.Context, b model.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(b)
}

func (m *MemoryBackend) DeleteUserBooking(_ context.Context, userID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteLocked(userID), nil
}

func (m *MemoryBackend) ReplaceUserBooking(_ context.Context, userID int64, b model.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	saved := append([]model.Booking(nil), m.rows...)
	m.deleteLocked(userID)
	if err := m.insertLocked(b); err != nil {
		m.rows = saved
		return err
	}
	return nil
}

func (m *MemoryBackend) ClearBookings(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.rows))
	m.rows = nil
	return n, nil
}

func (m *MemoryBackend) MarkReminderSent(_ context.Context, b model.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rows {
		if m.rows[i].Key() == b.Key() && m.rows[i].UserID == b.UserID {
			m.rows[i].ReminderSent = true
		}
	}
	return nil
}

func (m *MemoryBackend) insertLocked(b model.Booking) error {
	for _, r := range m.rows {
		if r.Key() == b.Key() {
			return model.ErrSlotTaken
		}
		if r.UserID == b.UserID {
			return model.ErrUserHasBooking
		}
	}
	m.rows = append(m.rows, b)
	return nil
}

func (m *MemoryBackend) deleteLocked(userID int64) bool {
	for i, r := range m.rows {
		if r.UserID == userID {
			m.rows = append(m.rows[:i], m.rows[i+1:]...)
			return true
		}
	}
	return false
}
