package export

import (
	"bytes"
	"path/filepath"
	"testing"

	"stirka/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type names map[int64]string

func (n names) Lookup(id int64) (string, bool) {
	name, ok := n[id]
	return name, ok
}

var labels = map[model.Machine]string{
	model.MachineWindow: "Машинка ближе к окну",
	model.MachineDoor:   "Машинка ближе к двери",
}

func TestWorkbookRows(t *testing.T) {
	bookings := []model.Booking{
		{Date: "2024-01-01", TimeSlot: "14:00", Machine: model.MachineWindow, UserID: 1},
		{Date: "2024-01-02", TimeSlot: "22:30", Machine: model.MachineDoor, UserID: 42},
	}
	wb, err := NewWorkbook(bookings, names{1: "alice"}, labels)
	require.NoError(t, err)
	defer wb.Close()
	assert.Equal(t, 2, wb.Rows())

	data, err := wb.Bytes()
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, columns, rows[0])
	assert.Equal(t, []string{"2024-01-01", "14:00", "Машинка ближе к окну", "alice", "1"}, rows[1])
	assert.Equal(t, []string{"2024-01-02", "22:30", "Машинка ближе к двери", "", "42"}, rows[2])
}

func TestWorkbookSave(t *testing.T) {
	wb, err := NewWorkbook(nil, names{}, labels)
	require.NoError(t, err)
	defer wb.Close()
	assert.Equal(t, 0, wb.Rows())

	path := filepath.Join(t.TempDir(), "archive", "week.xlsx")
	require.NoError(t, wb.Save(path))
	assert.FileExists(t, path)
}
