package model

import "errors"

// Storage-level conflicts shared by every schedule backend.
var (
	ErrSlotTaken      = errors.New("slot is already taken")
	ErrUserHasBooking = errors.New("user already has a booking")
)
