package model

import (
	"fmt"
	"time"
)

const (
	DateLayout = "2006-01-02"
	SlotLayout = "15:04"
)

// Machine identifies one of the two washing machines.
type Machine int

const (
	MachineWindow Machine = 1
	MachineDoor   Machine = 2
)

// Machines lists every bookable machine in display order.
var Machines = []Machine{MachineWindow, MachineDoor}

func (m Machine) Valid() bool {
	return m == MachineWindow || m == MachineDoor
}

// Key is the unique identity of a booking cell.
type Key struct {
	Date     string
	TimeSlot string
	Machine  Machine
}

func (k Key) String() string {
	return fmt.Sprintf("%s %s #%d", k.Date, k.TimeSlot, k.Machine)
}

// Booking is one row of the weekly schedule.
type Booking struct {
	Date         string  `json:"date"`      // YYYY-MM-DD
	TimeSlot     string  `json:"time_slot"` // HH:MM
	Machine      Machine `json:"washing_machine"`
	UserID       int64   `json:"user_id"`
	ReminderSent bool    `json:"reminder_sent,omitempty"`
}

func (b Booking) Key() Key {
	return Key{Date: b.Date, TimeSlot: b.TimeSlot, Machine: b.Machine}
}

// StartsAt returns the slot start in loc.
func (b Booking) StartsAt(loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(DateLayout+" "+SlotLayout, b.Date+" "+b.TimeSlot, loc)
}
