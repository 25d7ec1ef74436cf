package scf

import (
	"fmt"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
)

// ReadParquet reads a flat parquet file, such as one written by
// WriteParquet, into a Table.  DOUBLE, FLOAT, INT32 and INT64 columns
// become numeric columns and everything else string columns.  Nulls
// are missing.
func ReadParquet(path string) (*Table, error) {

	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFileRead, err)
	}
	defer fr.Close()

	pr, err := reader.NewParquetColumnReader(fr, 4)
	if err != nil {
		return nil, fmt.Errorf("%w: parquet: %v", ErrFileRead, err)
	}
	defer pr.ReadStop()

	nrows := pr.GetNumRows()
	schema := pr.Footer.GetSchema()

	t := &Table{index: make(map[string]int)}
	for j := 1; j < len(schema); j++ {
		elem := schema[j]
		if elem.GetNumChildren() > 0 {
			return nil, fmt.Errorf("%w: parquet: nested column %s", ErrFileRead, elem.GetName())
		}

		values, _, dls, err := pr.ReadColumnByIndex(int64(j-1), nrows)
		if err != nil {
			return nil, fmt.Errorf("%w: parquet column %s: %v", ErrFileRead, elem.GetName(), err)
		}
		s, err := parquetSeries(elem, values, dls, int(nrows))
		if err != nil {
			return nil, err
		}
		if err := t.Add(s); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFileRead, err)
		}
	}
	return t, nil
}

func parquetSeries(elem *parquet.SchemaElement, values []interface{}, dls []int32, n int) (*Series, error) {

	if len(values) != n {
		return nil, fmt.Errorf("%w: parquet column %s has %d values, expected %d",
			ErrFileRead, elem.GetName(), len(values), n)
	}

	miss := make([]bool, n)
	for i, v := range values {
		miss[i] = v == nil || (i < len(dls) && dls[i] == 0 &&
			elem.GetRepetitionType() == parquet.FieldRepetitionType_OPTIONAL)
	}

	switch elem.GetType() {
	case parquet.Type_DOUBLE, parquet.Type_FLOAT, parquet.Type_INT32, parquet.Type_INT64:
		x := make([]float64, n)
		for i, v := range values {
			switch v := v.(type) {
			case float64:
				x[i] = v
			case float32:
				x[i] = float64(v)
			case int32:
				x[i] = float64(v)
			case int64:
				x[i] = float64(v)
			}
		}
		return NewSeries(elem.GetName(), x, miss)
	default:
		x := make([]string, n)
		for i, v := range values {
			if !miss[i] {
				x[i] = fmt.Sprint(v)
			}
		}
		return NewSeries(elem.GetName(), x, miss)
	}
}
