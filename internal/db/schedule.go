package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"stirka/internal/model"

	sq "github.com/Masterminds/squirrel"
	"github.com/mattn/go-sqlite3"
)

var scheduleColumns = []string{"date", "time_slot", "washing_machine", "user_id", "reminder_sent"}

// ListBookings returns every row ordered by date and slot.
func (db *DB) ListBookings(ctx context.Context) ([]model.Booking, error) {
	query, args, err := db.sb.Select(scheduleColumns...).
		From("schedule").
		OrderBy("date", "time_slot", "washing_machine").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: list: %v", ErrBuildQuery, err)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list: %v", ErrExecQuery, err)
	}
	defer rows.Close()

	var out []model.Booking
	for rows.Next() {
		var b model.Booking
		if err := rows.Scan(&b.Date, &b.TimeSlot, &b.Machine, &b.UserID, &b.ReminderSent); err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// InsertBooking adds b; uniqueness violations map to model errors.
func (db *DB) InsertBooking(ctx context.Context, b model.Booking) error {
	return db.insert(ctx, db.DB, b)
}

// DeleteUserBooking removes the booking of userID and reports whether one existed.
func (db *DB) DeleteUserBooking(ctx context.Context, userID int64) (bool, error) {
	n, err := db.deleteUser(ctx, db.DB, userID)
	return n > 0, err
}

// ReplaceUserBooking removes the user's booking and inserts b in one transaction.
func (db *DB) ReplaceUserBooking(ctx context.Context, userID int64, b model.Booking) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := db.deleteUser(ctx, tx, userID); err != nil {
		return err
	}
	if err := db.insert(ctx, tx, b); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace: %w", err)
	}
	return nil
}

// ClearBookings deletes every row and returns how many were removed.
func (db *DB) ClearBookings(ctx context.Context) (int64, error) {
	query, args, err := db.sb.Delete("schedule").ToSql()
	if err != nil {
		return 0, fmt.Errorf("%w: clear: %v", ErrBuildQuery, err)
	}
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%w: clear: %v", ErrExecQuery, err)
	}
	return res.RowsAffected()
}

// MarkReminderSent sets the dedupe marker on b. A row at the same cell
// that now belongs to another user is left alone.
func (db *DB) MarkReminderSent(ctx context.Context, b model.Booking) error {
	query, args, err := db.sb.Update("schedule").
		Set("reminder_sent", true).
		Where(sq.Eq{"date": b.Date, "time_slot": b.TimeSlot, "washing_machine": b.Machine, "user_id": b.UserID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("%w: mark reminder: %v", ErrBuildQuery, err)
	}
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: mark reminder: %v", ErrExecQuery, err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (db *DB) insert(ctx context.Context, ex execer, b model.Booking) error {
	query, args, err := db.sb.Insert("schedule").
		Columns(scheduleColumns...).
		Values(b.Date, b.TimeSlot, b.Machine, b.UserID, b.ReminderSent).
		ToSql()
	if err != nil {
		return fmt.Errorf("%w: insert: %v", ErrBuildQuery, err)
	}
	if _, err := ex.ExecContext(ctx, query, args...); err != nil {
		if conflict := uniqueConflict(err); conflict != nil {
			return conflict
		}
		return fmt.Errorf("%w: insert: %v", ErrExecQuery, err)
	}
	return nil
}

func (db *DB) deleteUser(ctx context.Context, ex execer, userID int64) (int64, error) {
	query, args, err := db.sb.Delete("schedule").Where(sq.Eq{"user_id": userID}).ToSql()
	if err != nil {
		return 0, fmt.Errorf("%w: delete user: %v", ErrBuildQuery, err)
	}
	res, err := ex.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%w: delete user: %v", ErrExecQuery, err)
	}
	return res.RowsAffected()
}

// uniqueConflict maps a UNIQUE violation to the model error it represents.
func uniqueConflict(err error) error {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) || sqliteErr.ExtendedCode != sqlite3.ErrConstraintUnique {
		return nil
	}
	if strings.Contains(sqliteErr.Error(), "schedule.user_id") {
		return model.ErrUserHasBooking
	}
	return model.ErrSlotTaken
}
