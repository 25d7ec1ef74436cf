package scf

import (
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Columns kept in the full and minimal processed tables.
var (
	fullColumns    = regexp.MustCompile(`age|race|hhsex|edcl|married|lf|fin|inc|equity|networth|asset|year|wgt|savres`)
	minimalColumns = regexp.MustCompile(`age|edcl|fin|inc|networth|asset|year|wgt`)
)

// A Processor derives labelled and transformed columns from the merged
// table and writes the full and minimal processed tables.
type Processor struct {
	// InputPath is the merged table; its format is taken from the
	// extension.
	InputPath string

	FullPath    string
	MinimalPath string

	Logger *slog.Logger
}

// NewProcessor returns a Processor configured from cfg.
func NewProcessor(cfg *Config, logger *slog.Logger) *Processor {
	return &Processor{
		InputPath:   cfg.MergedPath(FileFormat(cfg.MergeOutput)),
		FullPath:    cfg.ProcessedPath(),
		MinimalPath: cfg.ProcessedDCPath(),
		Logger:      logger,
	}
}

// Process derives the processed tables from merged using the default
// logger.  See Processor.Process.
func Process(merged *Table) (full, minimal *Table, err error) {
	return (&Processor{}).Process(merged)
}

// Run reads the merged table, processes it, and writes both processed
// tables in Stata format.
func (p *Processor) Run() (full, minimal *Table, err error) {

	logger := loggerOrDefault(p.Logger)

	format, err := FormatFromPath(p.InputPath)
	if err != nil {
		return nil, nil, err
	}
	merged, err := ReadTable(p.InputPath, format, false)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("read merged data", "path", p.InputPath, "rows", merged.NumRows(), "columns", merged.NumCols())

	if full, minimal, err = p.Process(merged); err != nil {
		return nil, nil, err
	}

	if err := WriteTable(p.FullPath, FormatStata, full); err != nil {
		return nil, nil, err
	}
	logger.Info("processed data written", "path", p.FullPath, "columns", full.NumCols())

	if err := WriteTable(p.MinimalPath, FormatStata, minimal); err != nil {
		return nil, nil, err
	}
	logger.Info("processed data written", "path", p.MinimalPath, "columns", minimal.NumCols())

	return full, minimal, nil
}

// Process adds the category labels, the age group, the ratio and scale
// columns and the within-year wealth deciles to merged.  The full
// table holds the original and derived columns matching the published
// column set; the minimal table holds only original columns.
func (p *Processor) Process(merged *Table) (full, minimal *Table, err error) {

	if merged == nil || merged.NumCols() == 0 {
		return nil, nil, fmt.Errorf("%w: empty merged table", ErrInvalidArgument)
	}
	logger := loggerOrDefault(p.Logger)
	n := merged.NumRows()

	var derived []*Series
	for _, field := range categoricalFields {
		name := field + "_lbl"
		col := merged.Column(field)
		if col == nil {
			logger.Warn("categorical column not found, labels will be missing", "column", field)
			derived = append(derived, newMissingSeries(name, []string{}, n))
			continue
		}
		derived = append(derived, labelSeries(name, field, col))
	}

	num := func(name string) *Series {
		if c := merged.Column(name); c != nil {
			return c.ForceNumeric()
		}
		logger.Warn("column not found, derived values will be missing", "column", name)
		return newMissingSeries(name, []float64{}, n)
	}

	age, fin, income, equity := num("age"), num("fin"), num("income"), num("equity")

	derived = append(derived,
		ageGroupSeries("age_lbl", age),
		divideSeries("equityfin", equity, fin),
		divideSeries("finincome", fin, income),
		scaleSeries("finmill", fin, 1e6),
		scaleSeries("fillthou", fin, 1e3),
		scaleSeries("incomemill", income, 1e6),
		scaleSeries("incomethou", income, 1e3),
	)

	year := merged.Column(YearColumn)
	if year == nil {
		logger.Warn("year column not found, deciles are computed over all rows")
	}
	derived = append(derived, decileSeries("findeciles", fin, year))

	all, err := NewTable(merged.Columns()...)
	if err != nil {
		return nil, nil, err
	}
	for _, s := range derived {
		if err := all.Add(s); err != nil {
			return nil, nil, err
		}
	}

	return all.Select(fullColumns), merged.Select(minimalColumns), nil
}

// labelSeries maps the codes in col to the labels of field.  Codes
// without a label and missing codes give missing labels.  String
// columns are parsed as numbers, except that values which already are
// labels of field are kept.
func labelSeries(name, field string, col *Series) *Series {

	mp := categoryLabels[field]
	known := make(map[string]bool, len(mp))
	for _, lab := range mp {
		known[lab] = true
	}

	n := col.Length()
	out := make([]string, n)
	miss := make([]bool, n)
	x, _ := col.data.([]float64)
	s, _ := col.data.([]string)

	for i := 0; i < n; i++ {
		miss[i] = true
		if col.IsMissing(i) {
			continue
		}

		var v float64
		if x != nil {
			v = x[i]
		} else {
			str := strings.TrimSpace(s[i])
			if known[str] {
				out[i], miss[i] = str, false
				continue
			}
			f, err := strconv.ParseFloat(str, 64)
			if err != nil {
				continue
			}
			v = f
		}

		if math.IsInf(v, 0) || v != math.Trunc(v) {
			continue
		}
		if lab, ok := mp[int(v)]; ok {
			out[i], miss[i] = lab, false
		}
	}

	return &Series{Name: name, length: n, data: out, missing: miss}
}

// ageGroupLabel returns the label of the five year bin holding age, or
// false if age is outside (20, 95].
func ageGroupLabel(age float64) (string, bool) {
	if math.IsNaN(age) || age <= ageBinLow || age > ageBinHigh {
		return "", false
	}
	k := int(math.Ceil((age-ageBinLow)/ageBinWidth)) - 1
	lo := ageBinLow + k*ageBinWidth
	return fmt.Sprintf("(%d-%d]", lo+1, lo+ageBinWidth), true
}

func ageGroupSeries(name string, age *Series) *Series {
	n := age.Length()
	out := make([]string, n)
	miss := make([]bool, n)
	x := age.data.([]float64)
	for i := 0; i < n; i++ {
		if age.IsMissing(i) {
			miss[i] = true
			continue
		}
		lab, ok := ageGroupLabel(x[i])
		out[i], miss[i] = lab, !ok
	}
	return &Series{Name: name, length: n, data: out, missing: miss}
}

// divideSeries returns num/den elementwise.  Missing operands and
// results that are infinite or NaN are missing.
func divideSeries(name string, num, den *Series) *Series {
	a := num.data.([]float64)
	b := den.data.([]float64)
	out := make([]float64, num.Length())
	for i := range out {
		if num.IsMissing(i) || den.IsMissing(i) {
			out[i] = math.NaN()
			continue
		}
		out[i] = a[i] / b[i]
	}
	return NewFloatSeries(name, out)
}

func scaleSeries(name string, x *Series, div float64) *Series {
	a := x.data.([]float64)
	out := make([]float64, x.Length())
	for i := range out {
		if x.IsMissing(i) {
			out[i] = math.NaN()
			continue
		}
		out[i] = a[i] / div
	}
	return NewFloatSeries(name, out)
}

// decileEdges returns the distinct quantiles of the sorted values at
// p = 0, 0.1, ..., 1.  Quantile p sits at position p(n-1), interpolating
// linearly between neighbouring order statistics.
func decileEdges(sorted []float64) []float64 {
	n := len(sorted)
	var edges []float64
	for k := 0; k <= 10; k++ {
		// Position k(n-1)/10 as whole part and tenths, so that whole
		// positions give the order statistic exactly.
		lo, rem := k*(n-1)/10, k*(n-1)%10
		e := sorted[lo]
		if rem > 0 {
			e += float64(rem) / 10 * (sorted[lo+1] - sorted[lo])
		}
		if len(edges) == 0 || e != edges[len(edges)-1] {
			edges = append(edges, e)
		}
	}
	return edges
}

// decileBin returns the index of the right-closed bin holding v.  The
// lowest edge belongs to the first bin.
func decileBin(edges []float64, v float64) int {
	if len(edges) < 2 {
		return 0
	}
	k := sort.SearchFloat64s(edges, v)
	if k == 0 {
		return 0
	}
	if k >= len(edges) {
		k = len(edges) - 1
	}
	return k - 1
}

// decileSeries bins x into deciles within each year and returns the bin
// index divided by 10.  When ties collapse quantile edges there are
// fewer bins, and the indices are still divided by 10.  A year holding
// a single distinct value has no bins at all; its rows get 0 rather
// than missing.  Rows with a missing value or year are missing.
func decileSeries(name string, x, year *Series) *Series {

	n := x.Length()
	vals := x.data.([]float64)

	var keys []string
	if year != nil {
		keys = year.ToString().data.([]string)
	}

	groups := make(map[string][]int)
	for i := 0; i < n; i++ {
		if x.IsMissing(i) || (year != nil && year.IsMissing(i)) {
			continue
		}
		var key string
		if keys != nil {
			key = keys[i]
		}
		groups[key] = append(groups[key], i)
	}

	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}

	for _, rows := range groups {
		sorted := make([]float64, len(rows))
		for k, i := range rows {
			sorted[k] = vals[i]
		}
		sort.Float64s(sorted)
		edges := decileEdges(sorted)
		for _, i := range rows {
			out[i] = float64(decileBin(edges, vals[i])) / 10
		}
	}

	return NewFloatSeries(name, out)
}
