package scf

import (
	"fmt"
	"regexp"
)

// A Table is an ordered collection of equal-length Series with unique
// names.
type Table struct {
	columns []*Series
	index   map[string]int
	rows    int
}

// NewTable returns a Table holding the given columns.  All columns must
// have the same length and distinct names.
func NewTable(cols ...*Series) (*Table, error) {
	t := &Table{index: make(map[string]int)}
	for _, c := range cols {
		if err := t.Add(c); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// NewTableFromSeries wraps the output of a StatfileReader as a Table.
func NewTableFromSeries(cols []*Series) (*Table, error) {
	return NewTable(cols...)
}

// NumRows returns the number of rows.
func (t *Table) NumRows() int {
	return t.rows
}

// NumCols returns the number of columns.
func (t *Table) NumCols() int {
	return len(t.columns)
}

// Names returns the column names in order.
func (t *Table) Names() []string {
	names := make([]string, len(t.columns))
	for j, c := range t.columns {
		names[j] = c.Name
	}
	return names
}

// Columns returns the columns in order.  The slice must not be modified.
func (t *Table) Columns() []*Series {
	return t.columns
}

// Column returns the named column, or nil if there is no such column.
func (t *Table) Column(name string) *Series {
	j, ok := t.index[name]
	if !ok {
		return nil
	}
	return t.columns[j]
}

// Add appends a column to the table.  A column with the same name as
// an existing column replaces it in place.
func (t *Table) Add(s *Series) error {
	if len(t.columns) > 0 && s.Length() != t.rows {
		return fmt.Errorf("column %s has %d rows, table has %d", s.Name, s.Length(), t.rows)
	}
	if len(t.columns) == 0 {
		t.rows = s.Length()
	}
	if j, ok := t.index[s.Name]; ok {
		t.columns[j] = s
		return nil
	}
	t.index[s.Name] = len(t.columns)
	t.columns = append(t.columns, s)
	return nil
}

// Select returns a table holding the columns whose names match re,
// in their original order.  The columns are shared, not copied.
func (t *Table) Select(re *regexp.Regexp) *Table {
	sel := &Table{index: make(map[string]int), rows: t.rows}
	for _, c := range t.columns {
		if re.MatchString(c.Name) {
			sel.index[c.Name] = len(sel.columns)
			sel.columns = append(sel.columns, c)
		}
	}
	return sel
}

// SameColumns reports whether the two tables have the same column
// names, ignoring order.
func (t *Table) SameColumns(other *Table) bool {
	if len(t.columns) != len(other.columns) {
		return false
	}
	for name := range t.index {
		if _, ok := other.index[name]; !ok {
			return false
		}
	}
	return true
}

// ConcatRows stacks the tables vertically.  The result has the union of
// the column sets, ordered by first appearance; rows from a table
// lacking a column are missing in that column.  A column that is
// numeric in every table stays numeric, otherwise it becomes a string
// column.
func ConcatRows(tables []*Table) *Table {

	var names []string
	seen := make(map[string]bool)
	like := make(map[string]interface{})
	for _, t := range tables {
		for _, c := range t.columns {
			if !seen[c.Name] {
				seen[c.Name] = true
				names = append(names, c.Name)
				like[c.Name] = c.data
			}
			if !c.IsNumeric() {
				like[c.Name] = c.data
			}
		}
	}

	out := &Table{index: make(map[string]int)}
	for _, name := range names {
		parts := make([]*Series, 0, len(tables))
		for _, t := range tables {
			c := t.Column(name)
			if c == nil {
				c = newMissingSeries(name, like[name], t.rows)
			}
			parts = append(parts, c)
		}
		out.index[name] = len(out.columns)
		out.columns = append(out.columns, appendSeries(name, parts))
	}
	for _, t := range tables {
		out.rows += t.rows
	}
	return out
}
