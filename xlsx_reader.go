package scf

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

// ReadXLSX reads the first worksheet of a workbook, such as one written
// by WriteXLSX, into a Table.  The first row holds the column names;
// column types are inferred as for CSV files and empty cells are
// missing.
func ReadXLSX(path string) (*Table, error) {

	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open file: %v", ErrFileRead, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: %s has no worksheets", ErrFileRead, path)
	}
	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFileRead, err)
	}

	rdr := &CSVReader{HasHeader: true, records: &rowSource{rows: rows}}
	return ReadAll(rdr)
}
