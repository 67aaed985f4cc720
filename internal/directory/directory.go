// Package directory holds the fixed list of users allowed to book.
package directory

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

var ErrEmpty = errors.New("directory has no users")

// Entry maps a Telegram user to a display name.
type Entry struct {
	UserID int64  `yaml:"telegram_id"`
	Name   string `yaml:"nickname"`
}

// Directory is immutable once built.
type Directory struct {
	names map[int64]string
	order []int64
}

// New builds a directory. Later duplicates are rejected rather than merged.
func New(entries []Entry) (*Directory, error) {
	d := &Directory{names: make(map[int64]string, len(entries))}
	var errs []error
	for i, e := range entries {
		if e.UserID == 0 {
			errs = append(errs, fmt.Errorf("users[%d]: telegram_id is required", i))
			continue
		}
		if _, dup := d.names[e.UserID]; dup {
			errs = append(errs, fmt.Errorf("users[%d]: duplicate telegram_id %d", i, e.UserID))
			continue
		}
		d.names[e.UserID] = strings.TrimSpace(e.Name)
		d.order = append(d.order, e.UserID)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if len(d.order) == 0 {
		return nil, ErrEmpty
	}
	return d, nil
}

// Lookup returns the display name of userID.
func (d *Directory) Lookup(userID int64) (string, bool) {
	name, ok := d.names[userID]
	return name, ok
}

// Authorized reports whether userID may book.
func (d *Directory) Authorized(userID int64) bool {
	_, ok := d.names[userID]
	return ok
}

// ListAll returns all user ids in load order.
func (d *Directory) ListAll() []int64 {
	return append([]int64(nil), d.order...)
}

func (d *Directory) Len() int {
	return len(d.order)
}

// LoadCSV reads a users file with a telegram_id,nickname header.
func LoadCSV(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open users file: %w", err)
	}
	defer f.Close()
	return ParseCSV(f)
}

// ParseCSV parses users in CSV form. Column order comes from the header.
func ParseCSV(r io.Reader) ([]Entry, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	idCol, nameCol := -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))) {
		case "telegram_id":
			idCol = i
		case "nickname":
			nameCol = i
		}
	}
	if idCol < 0 || nameCol < 0 {
		return nil, fmt.Errorf("header must contain telegram_id and nickname, got %v", header)
	}

	var entries []Entry
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		id, err := strconv.ParseInt(strings.TrimSpace(rec[idCol]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad telegram_id %q", line, rec[idCol])
		}
		entries = append(entries, Entry{UserID: id, Name: rec[nameCol]})
	}
	return entries, nil
}
