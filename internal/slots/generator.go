// Package slots computes the booking window and slot availability from a
// schedule snapshot. Every function here is pure.
package slots

import (
	"fmt"
	"time"

	"stirka/internal/model"
)

const (
	FirstSlotHour = 14
	SlotDuration  = 30 * time.Minute
	SlotCount     = 18 // 14:00 .. 22:30
	WindowDays    = 7
)

var allSlots = generate()

func generate() []string {
	out := make([]string, 0, SlotCount)
	cursor := time.Date(2000, 1, 1, FirstSlotHour, 0, 0, 0, time.UTC)
	for i := 0; i < SlotCount; i++ {
		out = append(out, cursor.Format(model.SlotLayout))
		cursor = cursor.Add(SlotDuration)
	}
	return out
}

// All returns every slot of a day in ascending order.
func All() []string {
	return append([]string(nil), allSlots...)
}

// IsSlot reports whether s is one of the fixed daily slots.
func IsSlot(s string) bool {
	for _, slot := range allSlots {
		if slot == s {
			return true
		}
	}
	return false
}

// StartOf returns the start instant of slot on date in loc.
func StartOf(date, slot string, loc *time.Location) (time.Time, error) {
	if !IsSlot(slot) {
		return time.Time{}, fmt.Errorf("unknown slot %q", slot)
	}
	return time.ParseInLocation(model.DateLayout+" "+model.SlotLayout, date+" "+slot, loc)
}

// Window returns the bookable days: today and the six following days,
// each at midnight in now's location.
func Window(now time.Time) []time.Time {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	days := make([]time.Time, 0, WindowDays)
	for i := 0; i < WindowDays; i++ {
		days = append(days, today.AddDate(0, 0, i))
	}
	return days
}

// InWindow reports whether date (YYYY-MM-DD) is one of Window(now).
func InWindow(date string, now time.Time) bool {
	for _, d := range Window(now) {
		if d.Format(model.DateLayout) == date {
			return true
		}
	}
	return false
}

// AvailableSlots returns the slots of date that start after now and still
// have at least one free machine.
func AvailableSlots(bookings []model.Booking, date string, now time.Time) []string {
	occupied := make(map[string]int)
	for _, b := range bookings {
		if b.Date == date {
			occupied[b.TimeSlot]++
		}
	}

	out := make([]string, 0, SlotCount)
	for _, slot := range allSlots {
		start, err := StartOf(date, slot, now.Location())
		if err != nil {
			return nil
		}
		if !start.After(now) {
			continue
		}
		if occupied[slot] >= len(model.Machines) {
			continue
		}
		out = append(out, slot)
	}
	return out
}

// AvailableMachines returns the machines free at (date, slot).
func AvailableMachines(bookings []model.Booking, date, slot string) []model.Machine {
	taken := make(map[model.Machine]bool, len(model.Machines))
	for _, b := range bookings {
		if b.Date == date && b.TimeSlot == slot {
			taken[b.Machine] = true
		}
	}

	out := make([]model.Machine, 0, len(model.Machines))
	for _, m := range model.Machines {
		if !taken[m] {
			out = append(out, m)
		}
	}
	return out
}

// Contains reports whether slot is in list.
func Contains(list []string, slot string) bool {
	for _, s := range list {
		if s == slot {
			return true
		}
	}
	return false
}

// Without returns bookings minus the one owned by userID.
func Without(bookings []model.Booking, userID int64) []model.Booking {
	out := make([]model.Booking, 0, len(bookings))
	for _, b := range bookings {
		if b.UserID != userID {
			out = append(out, b)
		}
	}
	return out
}
