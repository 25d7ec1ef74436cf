package scf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeYear writes a per-year Stata file with upper case column names,
// as in the published extracts.
func writeYear(t *testing.T, dir, name string, cols map[string][]float64, order []string) {
	t.Helper()
	var series []*Series
	for _, na := range order {
		s, err := NewSeries(na, cols[na], nil)
		require.NoError(t, err)
		series = append(series, s)
	}
	tbl, err := NewTable(series...)
	require.NoError(t, err)
	require.NoError(t, WriteTable(filepath.Join(dir, name), FormatStata, tbl))
}

func newTestMerger(dir string) *Merger {
	return &Merger{
		RawDir:         dir,
		LowercaseNames: true,
		Logger:         discardLogger(),
	}
}

func TestMerge(t *testing.T) {

	dir := t.TempDir()
	writeYear(t, dir, "rscfp1995.dta", map[string][]float64{"AGE": {50, 60}, "NETWORTH": {3, 4}}, []string{"AGE", "NETWORTH"})
	writeYear(t, dir, "rscfp1992.dta", map[string][]float64{"AGE": {30, 40}, "NETWORTH": {1, 2}}, []string{"AGE", "NETWORTH"})

	m := newTestMerger(dir)
	report, err := m.Merge(FormatStata, FormatStata)
	require.NoError(t, err)

	assert.Equal(t, []string{"1992", "1995"}, report.Years)
	assert.Equal(t, 4, report.Rows)
	assert.Equal(t, 3, report.Cols)
	assert.Equal(t, filepath.Join(dir, "scf_merged.dta"), report.Output)
	require.Len(t, report.Files, 2)
	for _, fs := range report.Files {
		assert.Equal(t, StatusRead, fs.Status)
		assert.Equal(t, 2, fs.Rows)
	}

	merged, err := ReadTable(report.Output, FormatStata, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"age", "networth", "year"}, merged.Names())

	expected := make([]*Series, 3)
	expected[0], _ = NewSeries("age", []float64{30, 40, 50, 60}, nil)
	expected[1], _ = NewSeries("networth", []float64{1, 2, 3, 4}, nil)
	expected[2], _ = NewSeries("year", []string{"1992", "1992", "1995", "1995"}, nil)
	ok, j, i := SeriesArray(merged.Columns()).AllEqual(expected)
	assert.True(t, ok, "column %d row %d", j, i)

	// Merging again does not pick up the merged file.
	report, err = m.Merge(FormatStata, FormatStata)
	require.NoError(t, err)
	assert.Len(t, report.Files, 2)
	assert.Equal(t, 4, report.Rows)
}

func TestMergeEmpty(t *testing.T) {

	dir := t.TempDir()
	m := newTestMerger(dir)
	report, err := m.Merge(FormatStata, FormatStata)
	require.NoError(t, err)
	assert.Empty(t, report.Files)
	assert.Empty(t, report.Output)

	_, err = os.Stat(filepath.Join(dir, "scf_merged.dta"))
	assert.True(t, os.IsNotExist(err))

	// A missing directory holds no files either.
	m = newTestMerger(filepath.Join(dir, "absent"))
	report, err = m.Merge(FormatStata, FormatStata)
	require.NoError(t, err)
	assert.Empty(t, report.Files)
}

func TestMergeUnreadableFile(t *testing.T) {

	dir := t.TempDir()
	writeYear(t, dir, "rscfp1992.dta", map[string][]float64{"AGE": {30}}, []string{"AGE"})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rscfp1998.dta"), []byte("garbage"), 0o644))

	report, err := newTestMerger(dir).Merge(FormatStata, FormatStata)
	require.NoError(t, err)
	require.Len(t, report.Files, 2)

	assert.Equal(t, StatusRead, report.Files[0].Status)
	assert.Equal(t, StatusFailed, report.Files[1].Status)
	assert.ErrorIs(t, report.Files[1].Err, ErrFileRead)
	assert.Equal(t, []string{"1992"}, report.Years)
	assert.Equal(t, 1, report.Rows)
}

func TestMergeUnionOfColumns(t *testing.T) {

	dir := t.TempDir()
	writeYear(t, dir, "rscfp1992.dta", map[string][]float64{"A": {1}, "B": {2}}, []string{"A", "B"})
	writeYear(t, dir, "rscfp1995.dta", map[string][]float64{"A": {3}, "C": {4}}, []string{"A", "C"})

	report, err := newTestMerger(dir).Merge(FormatStata, FormatStata)
	require.NoError(t, err)

	merged, err := ReadTable(report.Output, FormatStata, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "year", "c"}, merged.Names())
	assert.Equal(t, []bool{false, true}, merged.Column("b").Missing())
	assert.Equal(t, []bool{true, false}, merged.Column("c").Missing())
}

func TestMergeStrict(t *testing.T) {

	dir := t.TempDir()
	writeYear(t, dir, "rscfp1992.dta", map[string][]float64{"A": {1}, "B": {2}}, []string{"A", "B"})
	writeYear(t, dir, "rscfp1995.dta", map[string][]float64{"A": {3}, "C": {4}}, []string{"A", "C"})

	m := newTestMerger(dir)
	m.StrictSchema = true
	_, err := m.Merge(FormatStata, FormatStata)
	assert.ErrorIs(t, err, ErrSchemaMismatch)

	_, err = os.Stat(filepath.Join(dir, "scf_merged.dta"))
	assert.True(t, os.IsNotExist(err))
}

func TestMergeKeepCase(t *testing.T) {

	dir := t.TempDir()
	writeYear(t, dir, "rscfp2019.dta", map[string][]float64{"AGE": {30}}, []string{"AGE"})

	m := newTestMerger(dir)
	m.LowercaseNames = false
	report, err := m.Merge(FormatStata, FormatCSV)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "scf_merged.csv"), report.Output)

	b, err := os.ReadFile(report.Output)
	require.NoError(t, err)
	assert.Equal(t, "AGE,year\n30,2019\n", string(b))
}

func TestMergeOutputFormats(t *testing.T) {

	for _, format := range []FileFormat{FormatParquet, FormatXLSX, FormatCSV} {
		t.Run(string(format), func(t *testing.T) {

			dir := t.TempDir()
			writeYear(t, dir, "rscfp1992.dta", map[string][]float64{"AGE": {30, 40}}, []string{"AGE"})
			writeYear(t, dir, "rscfp1995.dta", map[string][]float64{"AGE": {50, 60}}, []string{"AGE"})

			report, err := newTestMerger(dir).Merge(FormatStata, format)
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(dir, "scf_merged"+format.Extension()), report.Output)

			merged, err := ReadTable(report.Output, format, false)
			require.NoError(t, err)
			assert.Equal(t, 4, merged.NumRows())
			assert.Equal(t, []string{"age", "year"}, merged.Names())

			age := merged.Column("age").ForceNumeric()
			expected, _ := NewSeries("age", []float64{30, 40, 50, 60}, nil)
			ok, i := age.AllEqual(expected)
			assert.True(t, ok, "row %d", i)

			// Spreadsheet and CSV readers infer the year as a number.
			year := merged.Column("year").ToString()
			expected, _ = NewSeries("year", []string{"1992", "1992", "1995", "1995"}, nil)
			ok, i = year.AllEqual(expected)
			assert.True(t, ok, "row %d", i)
		})
	}
}

func TestMergeCSVInput(t *testing.T) {

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "SCFP2019.csv"), []byte("\ufeffYY1,AGE\n1,45\n2,\n"), 0o644))

	report, err := newTestMerger(dir).Merge(FormatCSV, FormatStata)
	require.NoError(t, err)
	assert.Equal(t, []string{"2019"}, report.Years)

	merged, err := ReadTable(report.Output, FormatStata, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"yy1", "age", "year"}, merged.Names())
	assert.Equal(t, []bool{false, true}, merged.Column("age").Missing())
}

func TestMergeInvalidFormats(t *testing.T) {
	m := newTestMerger(t.TempDir())

	_, err := m.Merge(FormatParquet, FormatStata)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = m.Merge(FormatStata, FormatSAS)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestMergeTables(t *testing.T) {

	a, _ := NewSeries("a", []float64{1}, nil)
	b, _ := NewSeries("b", []float64{2}, nil)
	t1, _ := NewTable(a, b)
	t2, _ := NewTable(a)

	out, err := MergeTables([]*Table{t1, t2}, false)
	require.NoError(t, err)
	assert.Equal(t, 2, out.NumRows())

	_, err = MergeTables([]*Table{t1, t2}, true)
	require.ErrorIs(t, err, ErrSchemaMismatch)
	assert.Contains(t, err.Error(), "lacks [b]")
}

func TestYearFromPath(t *testing.T) {
	assert.Equal(t, "2019", yearFromPath("/x/rscfp2019.dta"))
	assert.Equal(t, "1989", yearFromPath("SCFP1989.csv"))
	assert.True(t, dataFilePattern(FormatStata).MatchString("RSCFP2019.DTA"))
	assert.False(t, dataFilePattern(FormatStata).MatchString("scf_merged.dta"))
}

func TestMergeSASInput(t *testing.T) {

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rscfp1989.sas7bdat"), sas7bdat(t, sasTestRows), 0o644))

	report, err := newTestMerger(dir).Merge(FormatSAS, FormatStata)
	require.NoError(t, err)
	assert.Equal(t, []string{"1989"}, report.Years)
	assert.Equal(t, 3, report.Rows)

	merged, err := ReadTable(report.Output, FormatStata, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"age", "name", "year"}, merged.Names())
	assert.Equal(t, []bool{false, true, false}, merged.Column("age").Missing())
	assert.Equal(t, []string{"ann", "bo", "carla"}, merged.Column("name").Data())
}

func TestMergeCaseCollision(t *testing.T) {

	dir := t.TempDir()
	writeYear(t, dir, "rscfp1992.dta", map[string][]float64{"AGE": {30}}, []string{"AGE"})
	writeYear(t, dir, "rscfp1995.dta", map[string][]float64{"AGE": {50}, "age": {51}}, []string{"AGE", "age"})

	report, err := newTestMerger(dir).Merge(FormatStata, FormatStata)
	require.NoError(t, err)
	require.Len(t, report.Files, 2)
	assert.Equal(t, StatusFailed, report.Files[1].Status)
	assert.ErrorIs(t, report.Files[1].Err, ErrSchemaMismatch)
	assert.Equal(t, []string{"1992"}, report.Years)
	assert.Equal(t, 1, report.Rows)

	// Without lower-casing both columns are kept.
	m := newTestMerger(dir)
	m.LowercaseNames = false
	report, err = m.Merge(FormatStata, FormatStata)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Rows)
	assert.Equal(t, 3, report.Cols)
}
