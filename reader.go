package scf

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// StatfileReader is implemented by the Stata, SAS and CSV readers.
// Read returns up to rows rows (all remaining if rows is negative) and
// io.EOF once the data are exhausted.
type StatfileReader interface {
	ColumnNames() []string
	Read(rows int) ([]*Series, error)
}

// readChunk is the number of rows requested per Read by ReadAll.
const readChunk = 10000

// ReadAll reads the remaining rows of rdr into a Table.  A reader with
// no rows yields an empty table.
func ReadAll(rdr StatfileReader) (*Table, error) {

	var parts []*Table
	for {
		cols, err := rdr.Read(readChunk)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		t, err := NewTableFromSeries(cols)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFileRead, err)
		}
		parts = append(parts, t)
	}

	if len(parts) == 1 {
		return parts[0], nil
	}
	return ConcatRows(parts), nil
}

// ReadTable reads the whole data file at path in the given format.  If
// rawCategoricals is true, Stata value labels are not applied and the
// numeric codes are returned.
func ReadTable(path string, format FileFormat, rawCategoricals bool) (*Table, error) {

	switch format {
	case FormatParquet:
		return ReadParquet(path)
	case FormatXLSX:
		return ReadXLSX(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFileRead, err)
	}
	defer f.Close()

	var rdr StatfileReader
	switch format {
	case FormatStata:
		sr, err := NewStataReader(f)
		if err != nil {
			return nil, err
		}
		sr.InsertCategoryLabels = !rawCategoricals
		rdr = sr
	case FormatSAS:
		sr, err := NewSASReader(f)
		if err != nil {
			return nil, err
		}
		rdr = sr
	case FormatCSV:
		rdr = NewCSVReader(f)
	default:
		return nil, fmt.Errorf("%w: cannot read format %q", ErrInvalidArgument, format)
	}

	return ReadAll(rdr)
}
