package scf

import (
	"bufio"
	"encoding/csv"
	"io"
	"os"
	"strconv"
)

// WriteCSV writes the rows of t to w.  A header row with the column
// names is written first if header is true.  Missing values are
// written as empty fields and numbers in their shortest exact form.
func WriteCSV(w io.Writer, t *Table, header bool) error {

	wtr := csv.NewWriter(w)
	cols := t.Columns()

	if header {
		if err := wtr.Write(t.Names()); err != nil {
			return err
		}
	}

	rec := make([]string, len(cols))
	for i := 0; i < t.NumRows(); i++ {
		for j, c := range cols {
			switch {
			case c.IsMissing(i):
				rec[j] = ""
			case c.IsNumeric():
				rec[j] = strconv.FormatFloat(c.data.([]float64)[i], 'f', -1, 64)
			default:
				rec[j] = c.data.([]string)[i]
			}
		}
		if err := wtr.Write(rec); err != nil {
			return err
		}
	}

	wtr.Flush()
	return wtr.Error()
}

func writeCSVFile(path string, t *Table) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	if err := WriteCSV(bw, t, true); err != nil {
		f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
