package db

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"stirka/internal/model"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := NewDB(filepath.Join(t.TempDir(), "stirka.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func booking(date, slot string, m model.Machine, user int64) model.Booking {
	return model.Booking{Date: date, TimeSlot: slot, Machine: m, UserID: user}
}

func TestInsertAndList(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.InsertBooking(ctx, booking("2024-01-02", "15:00", model.MachineDoor, 2)))
	require.NoError(t, db.InsertBooking(ctx, booking("2024-01-01", "15:00", model.MachineWindow, 1)))

	got, err := db.ListBookings(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, booking("2024-01-01", "15:00", model.MachineWindow, 1), got[0])
	assert.Equal(t, booking("2024-01-02", "15:00", model.MachineDoor, 2), got[1])
}

func TestInsertConflicts(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.InsertBooking(ctx, booking("2024-01-01", "15:00", model.MachineWindow, 1)))

	err := db.InsertBooking(ctx, booking("2024-01-01", "15:00", model.MachineWindow, 2))
	assert.ErrorIs(t, err, model.ErrSlotTaken)

	err = db.InsertBooking(ctx, booking("2024-01-03", "16:00", model.MachineDoor, 1))
	assert.ErrorIs(t, err, model.ErrUserHasBooking)

	// same slot, other machine is fine
	assert.NoError(t, db.InsertBooking(ctx, booking("2024-01-01", "15:00", model.MachineDoor, 2)))
}

func TestReplaceUserBooking(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.InsertBooking(ctx, booking("2024-01-01", "15:00", model.MachineWindow, 1)))
	require.NoError(t, db.InsertBooking(ctx, booking("2024-01-01", "16:00", model.MachineWindow, 2)))

	require.NoError(t, db.ReplaceUserBooking(ctx, 1, booking("2024-01-02", "17:00", model.MachineDoor, 1)))

	got, err := db.ListBookings(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.Booking{
		booking("2024-01-01", "16:00", model.MachineWindow, 2),
		booking("2024-01-02", "17:00", model.MachineDoor, 1),
	}, got)

	// a failed insert rolls the delete back
	err = db.ReplaceUserBooking(ctx, 1, booking("2024-01-01", "16:00", model.MachineWindow, 1))
	assert.ErrorIs(t, err, model.ErrSlotTaken)
	got, err = db.ListBookings(ctx)
	require.NoError(t, err)
	assert.Contains(t, got, booking("2024-01-02", "17:00", model.MachineDoor, 1))
}

func TestDeleteAndClear(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.InsertBooking(ctx, booking("2024-01-01", "15:00", model.MachineWindow, 1)))
	require.NoError(t, db.InsertBooking(ctx, booking("2024-01-01", "15:00", model.MachineDoor, 2)))
	require.NoError(t, db.InsertBooking(ctx, booking("2024-01-01", "15:30", model.MachineDoor, 3)))

	removed, err := db.DeleteUserBooking(ctx, 1)
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = db.DeleteUserBooking(ctx, 1)
	require.NoError(t, err)
	assert.False(t, removed)

	n, err := db.ClearBookings(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	got, err := db.ListBookings(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMarkReminderSent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	b := booking("2024-01-01", "15:00", model.MachineWindow, 1)
	require.NoError(t, db.InsertBooking(ctx, b))

	require.NoError(t, db.MarkReminderSent(ctx, b))

	got, err := db.ListBookings(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].ReminderSent)

	t.Run("other owner untouched", func(t *testing.T) {
		stale := booking("2024-01-02", "16:00", model.MachineDoor, 2)
		require.NoError(t, db.InsertBooking(ctx, booking("2024-01-02", "16:00", model.MachineDoor, 3)))

		require.NoError(t, db.MarkReminderSent(ctx, stale))
		got, err := db.ListBookings(ctx)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.False(t, got[1].ReminderSent)
	})
}

func TestConcurrentInsertSameKey(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	const racers = 8
	errs := make([]error, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = db.InsertBooking(ctx, booking("2024-01-01", "18:00", model.MachineDoor, int64(100+i)))
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, model.ErrSlotTaken)
	}
	assert.Equal(t, 1, wins)
}

func TestBackupAndCleanup(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.InsertBooking(ctx, booking("2024-01-01", "15:00", model.MachineWindow, 1)))

	dir := t.TempDir()
	dest := filepath.Join(dir, "stirka_1.db")
	require.NoError(t, db.Backup(ctx, dest))
	assert.FileExists(t, dest)
	assert.Error(t, db.Backup(ctx, dest), "existing file must not be overwritten")

	old := filepath.Join(dir, "stirka_0.db")
	require.NoError(t, os.WriteFile(old, []byte("x"), 0o600))
	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	deleted, err := db.CleanupBackups(dir, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
	assert.NoFileExists(t, old)
	assert.FileExists(t, dest)
}
