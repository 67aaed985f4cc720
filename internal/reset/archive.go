package reset

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"stirka/internal/export"
	"stirka/internal/model"
)

// ExcelArchiver writes each finished week to <dir>/schedule_<date>.xlsx.
type ExcelArchiver struct {
	dir    string
	names  export.Names
	labels map[model.Machine]string
}

func NewExcelArchiver(dir string, names export.Names, labels map[model.Machine]string) *ExcelArchiver {
	return &ExcelArchiver{dir: dir, names: names, labels: labels}
}

func (a *ExcelArchiver) Archive(_ context.Context, bookings []model.Booking, at time.Time) error {
	wb, err := export.NewWorkbook(bookings, a.names, a.labels)
	if err != nil {
		return err
	}
	defer wb.Close()

	path := filepath.Join(a.dir, fmt.Sprintf("schedule_%s.xlsx", at.Format("2006-01-02_1504")))
	if err := wb.Save(path); err != nil {
		return fmt.Errorf("save archive %s: %w", path, err)
	}
	return nil
}
