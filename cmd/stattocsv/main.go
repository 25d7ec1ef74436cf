// Command stattocsv converts a Stata dta or SAS7BDAT file to CSV.  The
// CSV contents are sent to standard output.  Stata value labels are
// applied where possible; date variables are returned as numeric
// values.
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	scf "github.com/dedwar65/scf-tools"
)

const chunkSize = 1000

func convert(rdr scf.StatfileReader, w io.Writer) error {

	first := true
	for {
		chunk, err := rdr.Read(chunkSize)
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return err
		}

		t, err := scf.NewTableFromSeries(chunk)
		if err != nil {
			return err
		}
		if err := scf.WriteCSV(w, t, first); err != nil {
			return err
		}
		first = false
	}

	if first {
		// No rows, write the header alone.
		return scf.WriteCSV(w, emptyTable(rdr.ColumnNames()), true)
	}
	return nil
}

func emptyTable(names []string) *scf.Table {
	cols := make([]*scf.Series, len(names))
	for j, na := range names {
		cols[j], _ = scf.NewSeries(na, []float64{}, nil)
	}
	t, _ := scf.NewTable(cols...)
	return t
}

func open(fname string, f *os.File, raw bool) (scf.StatfileReader, error) {

	format, err := scf.FormatFromPath(fname)
	if err != nil {
		return nil, err
	}

	switch format {
	case scf.FormatSAS:
		sas, err := scf.NewSASReader(f)
		if err != nil {
			return nil, err
		}
		sas.TrimStrings = true
		return sas, nil
	case scf.FormatStata:
		stata, err := scf.NewStataReader(f)
		if err != nil {
			return nil, err
		}
		stata.InsertCategoryLabels = !raw
		stata.InsertStrls = true
		return stata, nil
	default:
		return nil, fmt.Errorf("%s file cannot be read", fname)
	}
}

func main() {

	raw := flag.Bool("raw", false, "write Stata category codes instead of their labels")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [-raw] filename\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	fname := flag.Arg(0)
	f, err := os.Open(fname)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	rdr, err := open(fname, f, *raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	w := bufio.NewWriter(os.Stdout)
	if err := convert(rdr, w); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	if err := w.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
