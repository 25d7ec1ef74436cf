package scf

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// YearColumn is the name of the column tagging each merged row with
// its survey year.
const YearColumn = "year"

// FileStatus reports what Merge did with one data file.
type FileStatus struct {
	Path string
	Year string

	// StatusRead, StatusReadRaw if value labels could not be applied
	// and the raw codes were used, or StatusFailed.
	Status Status
	Rows   int
	Err    error
}

// MergeReport summarizes a Merge call.
type MergeReport struct {
	Files []FileStatus

	// Years represented in the output, in file order.
	Years []string

	// Rows and columns of the merged table.
	Rows int
	Cols int

	// Path of the merged file, empty if nothing was written.
	Output string
}

// A Merger combines the per-year data files in RawDir into a single
// table.
type Merger struct {
	RawDir string

	// OutputPath is where the merged table is written.  If empty,
	// RawDir/scf_merged<ext> is used.
	OutputPath string

	// If true, per-year tables must have identical column sets.
	StrictSchema bool

	// If true, column names are lower-cased after reading.
	LowercaseNames bool

	Logger *slog.Logger
}

// NewMerger returns a Merger configured from cfg.
func NewMerger(cfg *Config, logger *slog.Logger) *Merger {
	return &Merger{
		RawDir:         cfg.RawPath(),
		StrictSchema:   cfg.StrictSchema,
		LowercaseNames: cfg.LowercaseNames,
		Logger:         logger,
	}
}

// dataFilePattern matches per-year data files in the given format, e.g.
// rscfp2019.dta.
func dataFilePattern(format FileFormat) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\d{4}` + regexp.QuoteMeta(format.Extension()) + `$`)
}

// yearFromPath returns the last four characters of the file stem.
func yearFromPath(p string) string {
	base := filepath.Base(p)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if len(stem) < 4 {
		return stem
	}
	return stem[len(stem)-4:]
}

// Merge reads the per-year files in format from, adds the year column,
// concatenates them in file name order and writes the result in format
// to.  Unreadable files are logged, marked StatusFailed and left out.
// If no file matches, nothing is written and the report is empty.
func (m *Merger) Merge(from, to FileFormat) (*MergeReport, error) {

	if err := validate.Var(string(from), oneofTag(ArchiveFormats())); err != nil {
		return nil, fmt.Errorf("%w: input format %q, expected %s",
			ErrInvalidArgument, from, formatList(ArchiveFormats()))
	}
	if err := validate.Var(string(to), oneofTag(OutputFormats())); err != nil {
		return nil, fmt.Errorf("%w: output format %q, expected %s",
			ErrInvalidArgument, to, formatList(OutputFormats()))
	}

	logger := loggerOrDefault(m.Logger)
	report := &MergeReport{}

	paths, err := m.dataFiles(from)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		logger.Warn("no data files to merge", "dir", m.RawDir, "format", string(from))
		return report, nil
	}

	var tables []*Table
	for _, p := range paths {
		fs := FileStatus{Path: p, Year: yearFromPath(p)}
		t, status, err := m.readFile(p, from)
		if err != nil {
			logger.Error("failed to read data file", "path", p, "error", err)
			fs.Status = StatusFailed
			fs.Err = err
			report.Files = append(report.Files, fs)
			continue
		}

		if m.LowercaseNames {
			if t, err = lowercaseNames(t); err != nil {
				logger.Error("failed to lower-case column names", "path", p, "error", err)
				fs.Status = StatusFailed
				fs.Err = err
				report.Files = append(report.Files, fs)
				continue
			}
		}
		if err := t.Add(constantStringSeries(YearColumn, fs.Year, t.NumRows())); err != nil {
			return nil, err
		}

		logger.Info("read data file", "path", p, "year", fs.Year, "rows", t.NumRows(), "columns", t.NumCols())
		fs.Status = status
		fs.Rows = t.NumRows()
		report.Files = append(report.Files, fs)
		report.Years = append(report.Years, fs.Year)
		tables = append(tables, t)
	}

	if len(tables) == 0 {
		logger.Warn("no data files could be read", "dir", m.RawDir)
		return report, nil
	}

	if !m.StrictSchema {
		for _, t := range tables[1:] {
			if !t.SameColumns(tables[0]) {
				logger.Warn("column sets differ between years, missing cells will be empty")
				break
			}
		}
	}

	merged, err := MergeTables(tables, m.StrictSchema)
	if err != nil {
		return report, err
	}

	out := m.OutputPath
	if out == "" {
		out = filepath.Join(m.RawDir, MergedFileStem+to.Extension())
	}
	if err := WriteTable(out, to, merged); err != nil {
		return report, err
	}

	report.Rows = merged.NumRows()
	report.Cols = merged.NumCols()
	report.Output = out
	logger.Info("merged data written", "path", out, "rows", report.Rows, "columns", report.Cols)
	return report, nil
}

// dataFiles lists the per-year files in the raw directory, sorted by
// name.  A missing directory holds no files.
func (m *Merger) dataFiles(format FileFormat) ([]string, error) {

	entries, err := os.ReadDir(m.RawDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFileRead, err)
	}

	re := dataFilePattern(format)
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !re.MatchString(e.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(m.RawDir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// readFile reads a data file, applying value labels where possible.
// Files whose labels cannot be applied are read again with raw codes.
func (m *Merger) readFile(p string, format FileFormat) (*Table, Status, error) {
	t, err := ReadTable(p, format, false)
	if errors.Is(err, ErrConversion) {
		loggerOrDefault(m.Logger).Warn("value labels not applied, using raw codes", "path", p, "error", err)
		t, err = ReadTable(p, format, true)
		return t, StatusReadRaw, err
	}
	return t, StatusRead, err
}

// MergeTables concatenates the tables row-wise.  The result has the
// union of the column sets; if strict is true, tables with differing
// column sets are rejected with ErrSchemaMismatch.
func MergeTables(tables []*Table, strict bool) (*Table, error) {
	if strict {
		for k, t := range tables {
			if k > 0 && !t.SameColumns(tables[0]) {
				return nil, fmt.Errorf("%w: table %d adds columns %s and lacks %s",
					ErrSchemaMismatch, k, columnDiff(t, tables[0]), columnDiff(tables[0], t))
			}
		}
	}
	return ConcatRows(tables), nil
}

// columnDiff lists the columns of a that are not in b.
func columnDiff(a, b *Table) string {
	var d []string
	for _, name := range a.Names() {
		if b.Column(name) == nil {
			d = append(d, name)
		}
	}
	if len(d) == 0 {
		return "[]"
	}
	return "[" + strings.Join(d, " ") + "]"
}

// lowercaseNames lower-cases the column names of t.  Names that differ
// only in case are rejected with ErrSchemaMismatch.
func lowercaseNames(t *Table) (*Table, error) {
	out := &Table{index: make(map[string]int)}
	seen := make(map[string]string)
	for _, c := range t.Columns() {
		lc := strings.ToLower(c.Name)
		if prev, ok := seen[lc]; ok {
			return nil, fmt.Errorf("%w: columns %s and %s differ only in case",
				ErrSchemaMismatch, prev, c.Name)
		}
		seen[lc] = c.Name
		if lc != c.Name {
			c = c.Rename(lc)
		}
		if err := out.Add(c); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func constantStringSeries(name, value string, n int) *Series {
	x := make([]string, n)
	for i := range x {
		x[i] = value
	}
	return &Series{Name: name, length: n, data: x, missing: make([]bool, n)}
}
