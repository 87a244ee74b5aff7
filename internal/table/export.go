package table

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/elgizali/Covertor/internal/extraction"
)

// ExportFilename is the fixed download name for exported spreadsheets
const ExportFilename = "covertor-table.xlsx"

const exportSheetName = "Sheet1"

// ExportError indicates spreadsheet serialization failed
type ExportError struct {
	Err error
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("exporting spreadsheet: %v", e.Err)
}

func (e *ExportError) Unwrap() error {
	return e.Err
}

// ExportXLSX serializes the table into an xlsx workbook, rows and cells in
// order. Ragged rows are fine: a short row simply populates fewer cells.
func ExportXLSX(t extraction.Table) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	for rowIdx, row := range t {
		for colIdx, cell := range row {
			name, err := excelize.CoordinatesToCellName(colIdx+1, rowIdx+1)
			if err != nil {
				return nil, &ExportError{Err: err}
			}
			if err := f.SetCellValue(exportSheetName, name, cell); err != nil {
				return nil, &ExportError{Err: err}
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, &ExportError{Err: err}
	}
	return buf.Bytes(), nil
}
