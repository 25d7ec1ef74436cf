package scf

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"
)

func floatCol(t *testing.T, name string, x ...float64) *Series {
	t.Helper()
	return NewFloatSeries(name, x)
}

func stringCol(t *testing.T, name string, x ...string) *Series {
	t.Helper()
	s, err := NewSeries(name, x, nil)
	require.NoError(t, err)
	return s
}

func TestLabelSeries(t *testing.T) {

	codes := floatCol(t, "hhsex", 1, 2, 9, math.NaN(), 1.5, 0)
	got := labelSeries("hhsex_lbl", "hhsex", codes)

	expected, _ := NewSeries("", []string{"male", "female", "", "", "", "inap."},
		[]bool{false, false, true, true, true, false})
	ok, i := got.AllEqual(expected)
	assert.True(t, ok, "row %d", i)
	assert.Equal(t, "hhsex_lbl", got.Name)

	// Labels already applied when the file was read are kept.
	codes = stringCol(t, "edcl", "Bachelors degree or higher", "2", "junk")
	got = labelSeries("edcl_lbl", "edcl", codes)
	expected, _ = NewSeries("", []string{"Bachelors degree or higher", "high school diploma or GED", ""},
		[]bool{false, false, true})
	ok, i = got.AllEqual(expected)
	assert.True(t, ok, "row %d", i)
}

func TestCategoryLabel(t *testing.T) {

	lab, ok := CategoryLabel("racecl5", 4)
	assert.True(t, ok)
	assert.Equal(t, "Asian", lab)

	_, ok = CategoryLabel("racecl5", 6)
	assert.False(t, ok)

	_, ok = CategoryLabel("networth", 1)
	assert.False(t, ok)
}

func TestAgeGroups(t *testing.T) {

	tests := []struct {
		age  float64
		want string
		ok   bool
	}{
		{20, "", false},
		{20.5, "(21-25]", true},
		{21, "(21-25]", true},
		{25, "(21-25]", true},
		{26, "(26-30]", true},
		{47, "(46-50]", true},
		{95, "(91-95]", true},
		{96, "", false},
		{math.NaN(), "", false},
	}

	for _, tt := range tests {
		got, ok := ageGroupLabel(tt.age)
		assert.Equal(t, tt.ok, ok, "age %v", tt.age)
		assert.Equal(t, tt.want, got, "age %v", tt.age)
	}

	s := ageGroupSeries("age_lbl", floatCol(t, "age", 30, math.NaN(), 18))
	assert.Equal(t, []bool{false, true, true}, s.Missing())
	assert.Equal(t, "(26-30]", s.Data().([]string)[0])
}

func TestRatios(t *testing.T) {

	equity := floatCol(t, "equity", 1, 1, 0, 2, math.NaN())
	fin := floatCol(t, "fin", 2, 0, 0, 4, 1)

	r := divideSeries("equityfin", equity, fin)
	expected, _ := NewSeries("", []float64{0.5, 0, 0, 0.5, 0}, []bool{false, true, true, false, true})
	ok, i := r.AllEqual(expected)
	assert.True(t, ok, "row %d", i)

	m := scaleSeries("finmill", floatCol(t, "fin", 2.5e6, math.NaN()), 1e6)
	expected, _ = NewSeries("", []float64{2.5, 0}, []bool{false, true})
	ok, i = m.AllEqual(expected)
	assert.True(t, ok, "row %d", i)
}

func TestDeciles(t *testing.T) {

	n := 100
	x := make([]float64, n)
	for i := range x {
		x[i] = float64(n - i)
	}
	d := decileSeries("findeciles", floatCol(t, "fin", x...), nil)
	v := d.Data().([]float64)

	// x[i] = 100 - i
	assert.Equal(t, 0.9, v[0])  // 100
	assert.Equal(t, 0.5, v[45]) // 55
	assert.Equal(t, 0.1, v[89]) // 11
	assert.Equal(t, 0.0, v[90]) // 10
	assert.Equal(t, 0.0, v[99]) // 1
	assert.Equal(t, 0, d.CountMissing())

	for i, y := range v {
		assert.GreaterOrEqual(t, y, 0.0)
		assert.LessOrEqual(t, y, 0.9, "row %d", i)
	}
}

func TestDecilesByYear(t *testing.T) {

	var fin []float64
	var years []string
	for i := 1; i <= 10; i++ {
		fin = append(fin, float64(i), float64(100+i))
		years = append(years, "1992", "1995")
	}
	fin = append(fin, math.NaN())
	years = append(years, "1995")

	d := decileSeries("findeciles", floatCol(t, "fin", fin...), stringCol(t, "year", years...))
	v := d.Data().([]float64)

	// Both years have the same ranks.
	for i := 0; i < 20; i += 2 {
		assert.Equal(t, v[i], v[i+1], "row %d", i)
	}
	// Ten distinct values fill all ten bins.
	for k := 0; k < 10; k++ {
		assert.Equal(t, float64(k)/10, v[2*k], "row %d", 2*k)
	}
	assert.True(t, d.IsMissing(20))
}

func TestDecilesCollapsed(t *testing.T) {

	d := decileSeries("findeciles", floatCol(t, "fin", 5, 5, 5, 5), nil)
	assert.Equal(t, []float64{0, 0, 0, 0}, d.Data())

	// Heavy ties leave fewer bins, still scaled by 10.
	x := []float64{0, 0, 0, 0, 0, 0, 0, 0, 0, 1}
	d = decileSeries("findeciles", floatCol(t, "fin", x...), nil)
	v := d.Data().([]float64)
	assert.Equal(t, 0.0, v[0])
	assert.Equal(t, 0.1, v[9])
}

func TestDecilesFirstBin(t *testing.T) {

	x := make([]float64, 15)
	for i := range x {
		x[i] = float64(i + 1)
	}
	d := decileSeries("findeciles", floatCol(t, "fin", x...), nil)
	v := d.Data().([]float64)

	// The first bin is [1, 2.4].
	assert.Equal(t, []float64{0, 0, 0.1}, v[:3])
	assert.Equal(t, 0.9, v[14])
}

func TestDecileEdges(t *testing.T) {

	sorted := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	edges := decileEdges(sorted)
	require.Len(t, edges, 11)
	assert.Equal(t, 1.0, edges[0])
	assert.InDelta(t, 1.9, edges[1], 1e-12)
	assert.InDelta(t, 5.5, edges[5], 1e-12)
	assert.Equal(t, 10.0, edges[10])

	// With the first weight zero, gonum's linear interpolation puts
	// quantile p at position p(n-1) as well.
	x := []float64{-3, 0.5, 2, 2, 7, 11, 40, 41.5, 90, 300, 301, 1e4, 2e4}
	w := make([]float64, len(x))
	for i := 1; i < len(w); i++ {
		w[i] = 1
	}
	edges = decileEdges(x)
	require.Len(t, edges, 11)
	for k, e := range edges {
		want := stat.Quantile(float64(k)/10, stat.LinInterp, x, w)
		assert.InDelta(t, want, e, 1e-9, "p=%v", float64(k)/10)
	}

	assert.Equal(t, []float64{4}, decileEdges([]float64{4, 4, 4}))
}

func TestDecileBin(t *testing.T) {
	edges := []float64{1, 10, 20}
	assert.Equal(t, 0, decileBin(edges, 1))
	assert.Equal(t, 0, decileBin(edges, 10))
	assert.Equal(t, 1, decileBin(edges, 10.5))
	assert.Equal(t, 1, decileBin(edges, 20))
	assert.Equal(t, 0, decileBin([]float64{3}, 3))
}

func processTestTable(t *testing.T) *Table {
	t.Helper()
	tbl, err := NewTable(
		floatCol(t, "yy1", 1, 2, 3),
		floatCol(t, "age", 30, 47, 99),
		floatCol(t, "hhsex", 1, 2, 1),
		stringCol(t, "edcl", "1", "4", "3"),
		floatCol(t, "married", 1, 2, 1),
		floatCol(t, "lf", 0, 1, 0),
		floatCol(t, "racecl4", 1, 2, 3),
		floatCol(t, "race", 1, 2, 4),
		floatCol(t, "fin", 1e6, 2e6, 0),
		floatCol(t, "income", 5e4, 1e5, 0),
		floatCol(t, "equity", 5e5, 0, 0),
		floatCol(t, "networth", 1, 2, 3),
		floatCol(t, "asset", 1, 2, 3),
		floatCol(t, "wgt", 1, 1, 1),
		floatCol(t, "x42001", 1, 1, 1),
		stringCol(t, "year", "2019", "2019", "2022"),
	)
	require.NoError(t, err)
	return tbl
}

func TestProcess(t *testing.T) {

	merged := processTestTable(t)
	p := &Processor{Logger: discardLogger()}
	full, minimal, err := p.Process(merged)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"age", "hhsex", "edcl", "married", "lf", "racecl4", "race", "fin", "income",
		"equity", "networth", "asset", "wgt", "year",
		"hhsex_lbl", "edcl_lbl", "married_lbl", "lf_lbl", "racecl_lbl", "racecl4_lbl",
		"racecl5_lbl", "race_lbl", "age_lbl", "equityfin", "finincome", "finmill",
		"incomemill", "incomethou", "findeciles",
	}, full.Names())
	assert.Equal(t, []string{"age", "edcl", "fin", "income", "networth", "asset", "wgt", "year"}, minimal.Names())
	assert.Equal(t, 3, full.NumRows())

	assert.Equal(t, []string{"male", "female", "male"}, full.Column("hhsex_lbl").Data())
	assert.Equal(t, "Bachelors degree or higher", full.Column("edcl_lbl").Data().([]string)[1])
	assert.Equal(t, "Hispanic or Latino", full.Column("racecl4_lbl").Data().([]string)[2])
	assert.Equal(t, "Asian", full.Column("race_lbl").Data().([]string)[2])

	// Absent categorical columns give missing labels.
	assert.Equal(t, 3, full.Column("racecl_lbl").CountMissing())
	assert.Equal(t, 3, full.Column("racecl5_lbl").CountMissing())

	assert.Equal(t, []bool{false, false, true}, full.Column("age_lbl").Missing())
	assert.Equal(t, []bool{false, false, true}, full.Column("equityfin").Missing())
	assert.Equal(t, 0.5, full.Column("equityfin").Data().([]float64)[0])
	assert.Equal(t, 20.0, full.Column("finincome").Data().([]float64)[1])
	assert.Equal(t, 2.0, full.Column("finmill").Data().([]float64)[1])
	// fillthou matches neither column set.
	assert.Nil(t, full.Column("fillthou"))
	assert.Equal(t, 0.1, full.Column("incomemill").Data().([]float64)[1])
	assert.Equal(t, 50.0, full.Column("incomethou").Data().([]float64)[0])

	// The 2022 row is alone in its year.
	assert.Equal(t, 0.0, full.Column("findeciles").Data().([]float64)[2])

	// The input is not modified.
	assert.Equal(t, 16, merged.NumCols())
}

func TestProcessEmpty(t *testing.T) {
	_, _, err := Process(nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, _, err = Process(&Table{index: map[string]int{}})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestProcessorRun(t *testing.T) {

	dir := t.TempDir()
	input := filepath.Join(dir, "_raw", "scf_merged.parquet")
	require.NoError(t, WriteTable(input, FormatParquet, processTestTable(t)))

	p := &Processor{
		InputPath:   input,
		FullPath:    filepath.Join(dir, "scf_processed.dta"),
		MinimalPath: filepath.Join(dir, "scf_processed_dc.dta"),
		Logger:      discardLogger(),
	}
	full, minimal, err := p.Run()
	require.NoError(t, err)

	gotFull, err := ReadTable(p.FullPath, FormatStata, false)
	require.NoError(t, err)
	assert.Equal(t, full.Names(), gotFull.Names())
	assert.Equal(t, 3, gotFull.NumRows())

	// dta strings have no missing value, missing labels read back empty.
	for _, want := range full.Columns() {
		got := gotFull.Column(want.Name)
		require.NotNil(t, got, want.Name)
		ok, i := got.NullStringMissing().AllEqual(want.NullStringMissing())
		assert.True(t, ok, "column %s row %d", want.Name, i)
	}

	gotMinimal, err := ReadTable(p.MinimalPath, FormatStata, false)
	require.NoError(t, err)
	assert.Equal(t, minimal.Names(), gotMinimal.Names())
}

func TestProcessorRunMissingInput(t *testing.T) {
	p := &Processor{
		InputPath: filepath.Join(t.TempDir(), "scf_merged.dta"),
		Logger:    discardLogger(),
	}
	_, _, err := p.Run()
	assert.ErrorIs(t, err, ErrFileRead)

	p.InputPath = "merged.txt"
	_, _, err = p.Run()
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
