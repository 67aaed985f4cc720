package booking

import "errors"

var (
	ErrUnauthorized             = errors.New("user is not in the directory")
	ErrAlreadyBooked            = errors.New("user already has a booking")
	ErrNoExistingBooking        = errors.New("user has no booking to reschedule")
	ErrInvalidSelection         = errors.New("selection is not part of the current prompt")
	ErrSlotNoLongerAvailable    = errors.New("time slot is no longer available")
	ErrMachineNoLongerAvailable = errors.New("machine is no longer available")
	ErrNoSlots                  = errors.New("no free time slots on this day")
	ErrNoMachines               = errors.New("no free machines at this time")
)

// reason returns a short metric label for a flow error.
func reason(err error) string {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrAlreadyBooked):
		return "already_booked"
	case errors.Is(err, ErrNoExistingBooking):
		return "no_existing_booking"
	case errors.Is(err, ErrInvalidSelection):
		return "invalid_selection"
	case errors.Is(err, ErrSlotNoLongerAvailable):
		return "slot_gone"
	case errors.Is(err, ErrMachineNoLongerAvailable):
		return "machine_gone"
	case errors.Is(err, ErrNoSlots):
		return "no_slots"
	case errors.Is(err, ErrNoMachines):
		return "no_machines"
	default:
		return "internal"
	}
}
