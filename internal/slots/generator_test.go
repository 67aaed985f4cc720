package slots

import (
	"testing"
	"time"

	"stirka/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAll(t *testing.T) {
	all := All()
	require.Len(t, all, SlotCount)
	assert.Equal(t, "14:00", all[0])
	assert.Equal(t, "14:30", all[1])
	assert.Equal(t, "22:30", all[len(all)-1])

	assert.True(t, IsSlot("18:00"))
	assert.False(t, IsSlot("13:30"))
	assert.False(t, IsSlot("23:00"))
	assert.False(t, IsSlot("18:15"))
}

func TestWindow(t *testing.T) {
	now := time.Date(2024, 1, 29, 23, 10, 0, 0, time.Local)
	days := Window(now)
	require.Len(t, days, WindowDays)
	assert.Equal(t, "2024-01-29", days[0].Format(model.DateLayout))
	assert.Equal(t, "2024-02-04", days[6].Format(model.DateLayout))

	assert.True(t, InWindow("2024-01-29", now))
	assert.True(t, InWindow("2024-02-04", now))
	assert.False(t, InWindow("2024-01-28", now))
	assert.False(t, InWindow("2024-02-05", now))
	assert.False(t, InWindow("garbage", now))
}

func TestAvailableSlotsPastFiltering(t *testing.T) {
	// 14:50 today: 14:00 and 14:30 have started, 15:00 is 10 minutes out.
	now := time.Date(2024, 1, 1, 14, 50, 0, 0, time.Local)

	got := AvailableSlots(nil, "2024-01-01", now)
	assert.NotContains(t, got, "14:00")
	assert.NotContains(t, got, "14:30")
	assert.Contains(t, got, "15:00")
	assert.Len(t, got, SlotCount-2)

	tomorrow := AvailableSlots(nil, "2024-01-02", now)
	assert.Len(t, tomorrow, SlotCount)

	yesterday := AvailableSlots(nil, "2023-12-31", now)
	assert.Empty(t, yesterday)
}

func TestAvailableSlotsExactStartExcluded(t *testing.T) {
	now := time.Date(2024, 1, 1, 15, 0, 0, 0, time.Local)
	got := AvailableSlots(nil, "2024-01-01", now)
	assert.NotContains(t, got, "15:00")
	assert.Equal(t, "15:30", got[0])
}

func TestAvailableSlotsNeverReturnsStarted(t *testing.T) {
	base := time.Date(2024, 1, 1, 13, 0, 0, 0, time.Local)
	for i := 0; i < 11*60; i += 7 {
		now := base.Add(time.Duration(i) * time.Minute)
		for _, slot := range AvailableSlots(nil, "2024-01-01", now) {
			start, err := StartOf("2024-01-01", slot, time.Local)
			require.NoError(t, err)
			assert.True(t, start.After(now), "slot %s offered at %s", slot, now.Format("15:04"))
		}
	}
}

func TestAvailability(t *testing.T) {
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.Local)
	bookings := []model.Booking{
		{Date: "2024-01-01", TimeSlot: "15:00", Machine: model.MachineWindow, UserID: 1},
		{Date: "2024-01-01", TimeSlot: "15:00", Machine: model.MachineDoor, UserID: 2},
		{Date: "2024-01-01", TimeSlot: "16:00", Machine: model.MachineDoor, UserID: 3},
		{Date: "2024-01-02", TimeSlot: "15:00", Machine: model.MachineDoor, UserID: 4},
	}

	tests := []struct {
		name     string
		date     string
		slot     string
		machines []model.Machine
		offered  bool
	}{
		{"both taken", "2024-01-01", "15:00", []model.Machine{}, false},
		{"one taken", "2024-01-01", "16:00", []model.Machine{model.MachineWindow}, true},
		{"free", "2024-01-01", "17:00", []model.Machine{model.MachineWindow, model.MachineDoor}, true},
		{"other day", "2024-01-02", "15:00", []model.Machine{model.MachineWindow}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.machines, AvailableMachines(bookings, tt.date, tt.slot))
			assert.Equal(t, tt.offered, Contains(AvailableSlots(bookings, tt.date, now), tt.slot))
		})
	}
}

func TestAvailableSlotsDoesNotMutate(t *testing.T) {
	bookings := []model.Booking{{Date: "2024-01-01", TimeSlot: "15:00", Machine: model.MachineWindow, UserID: 1}}
	snapshot := append([]model.Booking(nil), bookings...)
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.Local)

	_ = AvailableSlots(bookings, "2024-01-01", now)
	_ = AvailableMachines(bookings, "2024-01-01", "15:00")
	assert.Equal(t, snapshot, bookings)
}

func TestWithout(t *testing.T) {
	bookings := []model.Booking{
		{Date: "2024-01-01", TimeSlot: "15:00", Machine: model.MachineWindow, UserID: 1},
		{Date: "2024-01-01", TimeSlot: "15:00", Machine: model.MachineDoor, UserID: 2},
	}
	rest := Without(bookings, 1)
	require.Len(t, rest, 1)
	assert.Equal(t, int64(2), rest[0].UserID)
	assert.Equal(t, []model.Machine{model.MachineWindow}, AvailableMachines(rest, "2024-01-01", "15:00"))
}
