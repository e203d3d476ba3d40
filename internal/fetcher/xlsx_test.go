package fetcher

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func writeTestWorkbook(t *testing.T, sheetName string, rows [][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(sheetName)
	require.NoError(t, err)
	for _, row := range rows {
		r := sheet.AddRow()
		for _, val := range row {
			r.AddCell().SetString(val)
		}
	}
	path := filepath.Join(t.TempDir(), "roster.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestReadXLSX(t *testing.T) {
	path := writeTestWorkbook(t, "Facilities", [][]string{
		{"name1", "city", "state"},
		{"Hope House", "Reno", "NV"},
		{"New Dawn", "Sparks", "NV"},
	})

	rows, err := ReadXLSX(path, XLSXOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Hope House", rows[0]["name1"])
	assert.Equal(t, "Sparks", rows[1]["city"])
}

func TestReadXLSX_ByName(t *testing.T) {
	path := writeTestWorkbook(t, "Roster", [][]string{
		{"name1"},
		{"Hope House"},
	})

	rows, err := ReadXLSX(path, XLSXOptions{SheetName: "Roster"})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	_, err = ReadXLSX(path, XLSXOptions{SheetName: "Missing"})
	assert.Error(t, err)
}

func TestReadXLSX_MissingFile(t *testing.T) {
	_, err := ReadXLSX("/does/not/exist.xlsx", XLSXOptions{})
	assert.Error(t, err)
}
