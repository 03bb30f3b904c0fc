package fetcher

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// parseXLSX reads the first sheet of a workbook. Extra sheets produce a
// warning and are ignored.
func parseXLSX(data []byte) ([][]string, []string, error) {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, nil, eris.Wrap(err, "xlsx: open workbook")
	}

	sheet, err := firstSheet(f)
	if err != nil {
		return nil, nil, err
	}

	var warnings []string
	if len(f.Sheets) > 1 {
		warnings = append(warnings, fmt.Sprintf(
			"Multiple sheets detected (%d); only the first sheet %q was read.", len(f.Sheets), sheet.Name))
	}

	rows := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		if row == nil {
			rows = append(rows, nil)
			continue
		}
		rows = append(rows, rowToStrings(row))
	}
	return rows, warnings, nil
}

func firstSheet(f *xlsx.File) (*xlsx.Sheet, error) {
	if len(f.Sheets) == 0 {
		return nil, eris.New("xlsx: workbook has no sheets")
	}
	return f.Sheets[0], nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		if cell == nil {
			continue
		}
		cells[j] = cell.String()
	}
	return cells
}
