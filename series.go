package scf

import (
	"fmt"
	"math"
	"strconv"
)

// Series is one named column of survey data.  Values are float64 or
// string, and a parallel mask flags the missing ones.
type Series struct {
	Name string

	length int

	// []float64 or []string
	data interface{}

	// nil means nothing is missing
	missing []bool
}

// dataLen returns the length of a []float64 or []string held in data.
func dataLen(data interface{}) (int, error) {
	switch x := data.(type) {
	case []float64:
		return len(x), nil
	case []string:
		return len(x), nil
	default:
		return 0, fmt.Errorf("unsupported series data type %T", data)
	}
}

// NewSeries wraps data, a []float64 or []string, as a Series.  Neither
// data nor missing is copied, and missing may be nil.
func NewSeries(name string, data interface{}, missing []bool) (*Series, error) {

	length, err := dataLen(data)
	if err != nil {
		return nil, err
	}
	if missing != nil && len(missing) != length {
		return nil, fmt.Errorf("series %s: %d values but %d missing indicators",
			name, length, len(missing))
	}

	return &Series{
		Name:    name,
		length:  length,
		data:    data,
		missing: missing,
	}, nil
}

// NewFloatSeries returns a float64 Series in which NaN and infinite
// values are marked as missing.
func NewFloatSeries(name string, x []float64) *Series {
	miss := make([]bool, len(x))
	for i, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			miss[i] = true
		}
	}
	return &Series{Name: name, length: len(x), data: x, missing: miss}
}

// newMissingSeries returns a Series of length n in which every value
// is missing.  The element type is taken from like.
func newMissingSeries(name string, like interface{}, n int) *Series {
	miss := make([]bool, n)
	for i := range miss {
		miss[i] = true
	}
	var data interface{}
	if _, ok := like.([]string); ok {
		data = make([]string, n)
	} else {
		data = make([]float64, n)
	}
	return &Series{Name: name, length: n, data: data, missing: miss}
}

// Data returns the underlying []float64 or []string.
func (ser *Series) Data() interface{} {
	return ser.data
}

// Missing returns the missing value mask, which may be nil.
func (ser *Series) Missing() []bool {
	return ser.missing
}

// Length returns the number of rows.
func (ser *Series) Length() int {
	return ser.length
}

// IsNumeric reports whether the Series holds float64 data.
func (ser *Series) IsNumeric() bool {
	_, ok := ser.data.([]float64)
	return ok
}

// IsMissing reports whether position i holds a missing value.
func (ser *Series) IsMissing(i int) bool {
	return ser.missing != nil && ser.missing[i]
}

// CountMissing returns how many rows are missing.
func (ser *Series) CountMissing() int {
	m := 0
	for _, b := range ser.missing {
		if b {
			m++
		}
	}
	return m
}

// Rename returns a shallow copy of the Series with a new name.
func (ser *Series) Rename(name string) *Series {
	s := *ser
	s.Name = name
	return &s
}

// AllClose compares two series value by value, treating numbers
// within tol as equal and requiring the same missing rows.  On a
// mismatch it returns false with the first differing row, or -1 for
// a length mismatch and -2 for a type mismatch.
func (ser *Series) AllClose(other *Series, tol float64) (bool, int) {

	if ser.length != other.length {
		return false, -1
	}

	switch u := ser.data.(type) {
	case []float64:
		v, ok := other.data.([]float64)
		if !ok {
			return false, -2
		}
		for i := 0; i < ser.length; i++ {
			m1, m2 := ser.IsMissing(i), other.IsMissing(i)
			if m1 != m2 {
				return false, i
			}
			if !m1 && math.Abs(u[i]-v[i]) > tol {
				return false, i
			}
		}
	case []string:
		v, ok := other.data.([]string)
		if !ok {
			return false, -2
		}
		for i := 0; i < ser.length; i++ {
			m1, m2 := ser.IsMissing(i), other.IsMissing(i)
			if m1 != m2 {
				return false, i
			}
			if !m1 && u[i] != v[i] {
				return false, i
			}
		}
	}
	return true, 0
}

// AllEqual is AllClose with zero tolerance.
func (ser *Series) AllEqual(other *Series) (bool, int) {
	return ser.AllClose(other, 0.0)
}

// ForceNumeric parses a string series as numbers.  Values that do not
// parse become missing.  A numeric series is returned as is.
func (ser *Series) ForceNumeric() *Series {

	y, ok := ser.data.([]string)
	if !ok {
		return ser
	}

	n := ser.length
	x := make([]float64, n)
	cmiss := make([]bool, n)
	for i := 0; i < n; i++ {
		if ser.IsMissing(i) {
			cmiss[i] = true
			continue
		}
		if v, err := strconv.ParseFloat(y[i], 64); err == nil {
			x[i] = v
		} else {
			cmiss[i] = true
		}
	}
	return &Series{Name: ser.Name, length: n, data: x, missing: cmiss}
}

// ToString formats a numeric series as strings, using the shortest
// form that parses back to the same value.
func (ser *Series) ToString() *Series {

	y, ok := ser.data.([]float64)
	if !ok {
		return ser
	}

	n := ser.length
	x := make([]string, n)
	cmiss := make([]bool, n)
	for i := 0; i < n; i++ {
		if ser.IsMissing(i) {
			cmiss[i] = true
			continue
		}
		x[i] = strconv.FormatFloat(y[i], 'f', -1, 64)
	}
	return &Series{Name: ser.Name, length: n, data: x, missing: cmiss}
}

// NullStringMissing returns a copy of a string series with empty
// strings marked missing.  Numeric series are returned as is.
func (ser *Series) NullStringMissing() *Series {

	y, ok := ser.data.([]string)
	if !ok {
		return ser
	}

	n := ser.length
	x := make([]string, n)
	copy(x, y)
	cmiss := make([]bool, n)
	for i := 0; i < n; i++ {
		cmiss[i] = ser.IsMissing(i) || len(x[i]) == 0
	}
	return &Series{Name: ser.Name, length: n, data: x, missing: cmiss}
}

// AsFloat64Slice returns the values and the missing mask of a numeric
// series.
func (ser *Series) AsFloat64Slice() ([]float64, []bool, error) {
	x, ok := ser.data.([]float64)
	if !ok {
		return nil, nil, fmt.Errorf("series %s: can't convert %T to []float64", ser.Name, ser.data)
	}
	return x, ser.missing, nil
}

// AsStringSlice is AsFloat64Slice for string series.
func (ser *Series) AsStringSlice() ([]string, []bool, error) {
	x, ok := ser.data.([]string)
	if !ok {
		return nil, nil, fmt.Errorf("series %s: can't convert %T to []string", ser.Name, ser.data)
	}
	return x, ser.missing, nil
}

// appendSeries concatenates the values of the given series.  The
// result is numeric if all inputs are numeric, otherwise numbers are
// formatted as strings.
func appendSeries(name string, parts []*Series) *Series {

	numeric := true
	n := 0
	for _, p := range parts {
		numeric = numeric && p.IsNumeric()
		n += p.length
	}

	miss := make([]bool, 0, n)
	if numeric {
		x := make([]float64, 0, n)
		for _, p := range parts {
			x = append(x, p.data.([]float64)...)
			for i := 0; i < p.length; i++ {
				miss = append(miss, p.IsMissing(i))
			}
		}
		return &Series{Name: name, length: n, data: x, missing: miss}
	}

	x := make([]string, 0, n)
	for _, p := range parts {
		x = append(x, p.ToString().data.([]string)...)
		for i := 0; i < p.length; i++ {
			miss = append(miss, p.IsMissing(i))
		}
	}
	return &Series{Name: name, length: n, data: x, missing: miss}
}

// SeriesArray is a list of columns, as returned by a chunked read.
type SeriesArray []*Series

// AllClose applies Series.AllClose column by column.  On a mismatch it
// returns false with the column index and the row reported for that
// column.  Arrays with different column counts give (false, -1, -1).
func (sa SeriesArray) AllClose(other []*Series, tol float64) (bool, int, int) {
	if len(sa) != len(other) {
		return false, -1, -1
	}
	for j, s := range sa {
		if ok, i := s.AllClose(other[j], tol); !ok {
			return false, j, i
		}
	}
	return true, 0, 0
}

// AllEqual is AllClose with zero tolerance.
func (sa SeriesArray) AllEqual(other []*Series) (bool, int, int) {
	return sa.AllClose(other, 0)
}
