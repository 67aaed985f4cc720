// Package export renders the schedule as an Excel workbook.
package export

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"stirka/internal/model"

	"github.com/xuri/excelize/v2"
)

const sheetName = "Расписание"

var columns = []string{"Дата", "Время", "Машинка", "Пользователь", "Telegram ID"}

// Names resolves a user id to a display name.
type Names interface {
	Lookup(userID int64) (string, bool)
}

// Workbook is a single-sheet schedule table.
type Workbook struct {
	file *excelize.File
	row  int
}

// NewWorkbook fills a workbook with bookings. labels maps machines to
// the names shown in the third column; unknown users are shown by id only.
func NewWorkbook(bookings []model.Booking, names Names, labels map[model.Machine]string) (*Workbook, error) {
	w := &Workbook{file: excelize.NewFile(), row: 1}
	if err := w.file.SetSheetName("Sheet1", sheetName); err != nil {
		w.file.Close()
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	if err := w.writeHeader(); err != nil {
		w.file.Close()
		return nil, err
	}

	for _, b := range bookings {
		name, _ := names.Lookup(b.UserID)
		label, ok := labels[b.Machine]
		if !ok {
			label = fmt.Sprintf("#%d", b.Machine)
		}
		if err := w.writeRow([]any{b.Date, b.TimeSlot, label, name, b.UserID}); err != nil {
			w.file.Close()
			return nil, err
		}
	}
	_ = w.file.SetColWidth(sheetName, "A", "A", 12)
	_ = w.file.SetColWidth(sheetName, "C", "D", 28)
	return w, nil
}

func (w *Workbook) writeHeader() error {
	if err := w.writeRow(toAny(columns)); err != nil {
		return err
	}
	style, err := w.file.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err == nil {
		end, _ := excelize.CoordinatesToCellName(len(columns), 1)
		_ = w.file.SetCellStyle(sheetName, "A1", end, style)
	}
	return nil
}

func (w *Workbook) writeRow(values []any) error {
	for i, v := range values {
		cell, err := excelize.CoordinatesToCellName(i+1, w.row)
		if err != nil {
			return err
		}
		if err := w.file.SetCellValue(sheetName, cell, v); err != nil {
			return fmt.Errorf("write cell %s: %w", cell, err)
		}
	}
	w.row++
	return nil
}

// Rows is the number of data rows written.
func (w *Workbook) Rows() int {
	return w.row - 2
}

func (w *Workbook) WriteTo(out io.Writer) (int64, error) {
	return w.file.WriteTo(out)
}

// Bytes returns the encoded .xlsx file.
func (w *Workbook) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := w.file.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Save writes the workbook to path, creating parent directories.
func (w *Workbook) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create export directory: %w", err)
	}
	return w.file.SaveAs(path)
}

func (w *Workbook) Close() error {
	return w.file.Close()
}

func toAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
