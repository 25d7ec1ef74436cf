package scf

import (
	"fmt"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

// parquetSchema returns the CSV-writer metadata describing t: numeric
// columns are optional doubles, string columns optional UTF8 byte
// arrays.
func parquetSchema(t *Table) []string {
	md := make([]string, 0, t.NumCols())
	for _, c := range t.Columns() {
		if c.IsNumeric() {
			md = append(md, fmt.Sprintf("name=%s, type=DOUBLE, repetitiontype=OPTIONAL", c.Name))
		} else {
			md = append(md, fmt.Sprintf("name=%s, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL", c.Name))
		}
	}
	return md
}

// WriteParquet writes t to path as a SNAPPY compressed parquet file.
// Missing values are stored as nulls.
func WriteParquet(path string, t *Table) error {

	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return fmt.Errorf("can't create parquet file: %w", err)
	}

	pw, err := writer.NewCSVWriter(parquetSchema(t), fw, 4)
	if err != nil {
		fw.Close()
		return fmt.Errorf("can't create parquet writer: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024 //128M
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	// Records are buffered until the row group is flushed, so each
	// row needs its own slice.
	cols := t.Columns()
	for i := 0; i < t.NumRows(); i++ {
		rec := make([]interface{}, len(cols))
		for j, c := range cols {
			switch {
			case c.IsMissing(i):
				// null
			case c.IsNumeric():
				rec[j] = c.data.([]float64)[i]
			default:
				rec[j] = c.data.([]string)[i]
			}
		}
		if err := pw.Write(rec); err != nil {
			fw.Close()
			return fmt.Errorf("parquet write error at row %d: %w", i, err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		fw.Close()
		return fmt.Errorf("parquet WriteStop error: %w", err)
	}
	return fw.Close()
}
