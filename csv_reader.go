package scf

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Number of leading records used to infer the column types.
const sniffRows = 100

// A CSVReader specifies how a data set in CSV format can be read from
// a text file.
type CSVReader struct {

	// Rows to discard ahead of the header
	SkipRows int

	// When false, columns are named "Column 1", "Column 2" and so on
	HasHeader bool

	// The column names, in the order that they appear in the
	// file.  Can be set by caller.
	Names []string

	// User-specified data types (maps column name to "float64" or
	// "string").
	TypeHintsName map[string]string

	// The data type for each column, "float64" or "string".
	DataTypes []string

	initRun bool

	// Records read while sniffing, not yet returned.
	lines [][]string

	records recordSource
}

// recordSource yields one record per call and io.EOF at the end.
// *csv.Reader is the usual implementation.
type recordSource interface {
	Read() ([]string, error)
}

// rowSource serves records held in memory.
type rowSource struct {
	rows [][]string
}

func (r *rowSource) Read() ([]string, error) {
	if len(r.rows) == 0 {
		return nil, io.EOF
	}
	row := r.rows[0]
	r.rows = r.rows[1:]
	return row, nil
}

// NewCSVReader returns a CSVReader that reads CSV data from the given
// io.Reader, with type inference and chunking.
func NewCSVReader(r io.Reader) *CSVReader {

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	return &CSVReader{HasHeader: true, records: cr}
}

// ColumnNames returns the column names, which are only known after the
// first Read.
func (rdr *CSVReader) ColumnNames() []string {
	return rdr.Names
}

// init reads the header and the records used to infer column types.
func (rdr *CSVReader) init() error {

	rdr.lines = make([][]string, 0, sniffRows)
	for k := 0; k < sniffRows+rdr.SkipRows+1; k++ {
		v, err := rdr.records.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			return fmt.Errorf("%w: csv: %v", ErrFileRead, err)
		}
		if k >= rdr.SkipRows {
			rdr.lines = append(rdr.lines, v)
		}
	}

	if len(rdr.lines) == 0 {
		return fmt.Errorf("%w: csv: file appears to be empty", ErrFileRead)
	}

	if rdr.HasHeader {
		if rdr.Names == nil {
			rdr.Names = rdr.lines[0]
			if len(rdr.Names) > 0 {
				rdr.Names[0] = strings.TrimPrefix(rdr.Names[0], "\ufeff")
			}
			for j, name := range rdr.Names {
				rdr.Names[j] = strings.TrimSpace(name)
			}
		}
		rdr.lines = rdr.lines[1:]
	}

	// Widen to the longest sniffed record.
	width := 0
	for _, line := range rdr.lines {
		width = max(width, len(line))
	}
	rdr.ensureWidth(width)

	if rdr.DataTypes == nil {
		rdr.sniffTypes()
	}

	rdr.initRun = true
	return nil
}

// ensureWidth adds default names for columns beyond the header.
func (rdr *CSVReader) ensureWidth(w int) {
	for k := len(rdr.Names); k < w; k++ {
		rdr.Names = append(rdr.Names, fmt.Sprintf("Column %d", k+1))
		if rdr.DataTypes != nil {
			rdr.DataTypes = append(rdr.DataTypes, "string")
		}
	}
}

func (rdr *CSVReader) sniffTypes() {

	nFloats, nObs := rdr.countFloats()

	rdr.DataTypes = make([]string, len(rdr.Names))
	for j, col := range rdr.Names {
		if t, ok := rdr.TypeHintsName[col]; ok {
			rdr.DataTypes[j] = t
			continue
		}
		// Columns that are blank throughout the sample are numeric.
		if nFloats[j] == nObs[j] {
			rdr.DataTypes[j] = "float64"
		} else {
			rdr.DataTypes[j] = "string"
		}
	}
}

// countFloats returns the number of non-blank values in each column,
// and the number of those that parse as float64.
func (rdr *CSVReader) countFloats() ([]int, []int) {

	m := len(rdr.Names)
	numFloats := make([]int, m)
	numObs := make([]int, m)

	for _, x := range rdr.lines {
		for j, y := range x {
			y = strings.TrimSpace(y)
			if len(y) == 0 {
				continue
			}
			numObs[j]++
			if _, err := strconv.ParseFloat(y, 64); err == nil {
				numFloats[j]++
			}
		}
	}

	return numFloats, numObs
}

// nextRecord returns the next record, first from the sniffed lines.
func (rdr *CSVReader) nextRecord() ([]string, error) {
	if len(rdr.lines) > 0 {
		line := rdr.lines[0]
		rdr.lines = rdr.lines[1:]
		return line, nil
	}
	return rdr.records.Read()
}

// Read reads up to lines rows of data and returns the results as an
// array of Series objects.  If lines is negative the whole file is
// read.  Data types of the Series objects are inferred from the file;
// use TypeHintsName to control the types directly.  Blank fields and
// numeric fields that do not parse are missing.  Returns (nil, io.EOF)
// when no rows remain.
func (rdr *CSVReader) Read(lines int) ([]*Series, error) {

	if !rdr.initRun {
		if err := rdr.init(); err != nil {
			return nil, err
		}
	}

	fdata := make(map[int][]float64)
	sdata := make(map[int][]string)
	miss := make([][]bool, len(rdr.Names))

	addColumn := func(j, nrows int) {
		miss[j] = make([]bool, nrows, nrows+sniffRows)
		for i := range miss[j] {
			miss[j][i] = true
		}
		if rdr.DataTypes[j] == "float64" {
			fdata[j] = make([]float64, nrows, nrows+sniffRows)
		} else {
			sdata[j] = make([]string, nrows, nrows+sniffRows)
		}
	}
	for j := range rdr.Names {
		addColumn(j, 0)
	}

	nrows := 0
	for lines < 0 || nrows < lines {

		line, err := rdr.nextRecord()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return nil, fmt.Errorf("%w: csv: %v", ErrFileRead, err)
		}

		// A long record adds columns, missing in earlier rows.
		if len(line) > len(rdr.Names) {
			old := len(rdr.Names)
			rdr.ensureWidth(len(line))
			miss = append(miss, make([][]bool, len(rdr.Names)-old)...)
			for j := old; j < len(rdr.Names); j++ {
				addColumn(j, nrows)
			}
		}

		for j := range rdr.Names {
			var v string
			if j < len(line) {
				v = strings.TrimSpace(line[j])
			}
			if rdr.DataTypes[j] == "float64" {
				x, err := strconv.ParseFloat(v, 64)
				fdata[j] = append(fdata[j], x)
				miss[j] = append(miss[j], err != nil)
			} else {
				sdata[j] = append(sdata[j], v)
				miss[j] = append(miss[j], v == "")
			}
		}
		nrows++
	}

	if nrows == 0 {
		return nil, io.EOF
	}

	series := make([]*Series, len(rdr.Names))
	for j, name := range rdr.Names {
		var data interface{}
		if x, ok := fdata[j]; ok {
			data = x
		} else {
			data = sdata[j]
		}
		s, err := NewSeries(name, data, miss[j])
		if err != nil {
			return nil, err
		}
		series[j] = s
	}
	return series, nil
}
