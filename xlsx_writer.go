package scf

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

// xlsxSheet is the worksheet the table is written to.
const xlsxSheet = "Sheet1"

// maxXLSXRows is the worksheet row limit, including the header.
const maxXLSXRows = 1048576

// WriteXLSX writes t to path as a single-sheet workbook with a header
// row.  Missing values are left as empty cells.
func WriteXLSX(path string, t *Table) error {

	if t.NumRows()+1 > maxXLSXRows {
		return fmt.Errorf("%d rows exceed the worksheet limit", t.NumRows())
	}

	f := excelize.NewFile()
	defer f.Close()

	sw, err := f.NewStreamWriter(xlsxSheet)
	if err != nil {
		return fmt.Errorf("failed to create stream writer: %w", err)
	}

	cols := t.Columns()
	header := make([]interface{}, len(cols))
	for j, name := range t.Names() {
		header[j] = name
	}
	if err := sw.SetRow("A1", header); err != nil {
		return err
	}

	for i := 0; i < t.NumRows(); i++ {
		row := make([]interface{}, len(cols))
		for j, c := range cols {
			switch {
			case c.IsMissing(i):
				// empty cell
			case c.IsNumeric():
				row[j] = c.data.([]float64)[i]
			default:
				row[j] = c.data.([]string)[i]
			}
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, row); err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
	}

	if err := sw.Flush(); err != nil {
		return err
	}
	return f.SaveAs(path)
}
