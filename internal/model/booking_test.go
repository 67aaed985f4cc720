package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMachineValid(t *testing.T) {
	assert.True(t, MachineWindow.Valid())
	assert.True(t, MachineDoor.Valid())
	assert.False(t, Machine(0).Valid())
	assert.False(t, Machine(3).Valid())
}

func TestBookingStartsAt(t *testing.T) {
	loc := time.FixedZone("MSK", 3*60*60)
	b := Booking{Date: "2024-01-01", TimeSlot: "15:30", Machine: MachineDoor, UserID: 7}

	start, err := b.StartsAt(loc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 15, 30, 0, 0, loc), start)
	assert.Equal(t, Key{Date: "2024-01-01", TimeSlot: "15:30", Machine: MachineDoor}, b.Key())

	_, err = Booking{Date: "01.01.2024", TimeSlot: "15:30"}.StartsAt(loc)
	assert.Error(t, err)
}
