package scf

import (
	"fmt"
	"path/filepath"
	"strings"
)

// The survey years.  The SCF is fielded every three years.
const (
	FirstYear    = 1989
	LastYear     = 2022
	YearInterval = 3
)

// FileFormat names a file format handled by the package.
type FileFormat string

const (
	FormatStata   FileFormat = "stata"
	FormatSAS     FileFormat = "sas"
	FormatCSV     FileFormat = "csv"
	FormatParquet FileFormat = "parquet"
	FormatXLSX    FileFormat = "xlsx"
)

// archiveSuffix gives the tail of the archive file name for each
// format in which the survey is distributed.
var archiveSuffix = map[FileFormat]string{
	FormatSAS:   ".zip",
	FormatStata: "s.zip",
	FormatCSV:   "excel.zip",
}

// fileExtension gives the data file extension for each format.
var fileExtension = map[FileFormat]string{
	FormatStata:   ".dta",
	FormatSAS:     ".sas7bdat",
	FormatCSV:     ".csv",
	FormatParquet: ".parquet",
	FormatXLSX:    ".xlsx",
}

// ArchiveFormats returns the formats in which the archives are published.
func ArchiveFormats() []FileFormat {
	return []FileFormat{FormatStata, FormatSAS, FormatCSV}
}

// OutputFormats returns the formats the merged table can be written in.
func OutputFormats() []FileFormat {
	return []FileFormat{FormatStata, FormatCSV, FormatParquet, FormatXLSX}
}

// oneofTag returns a validator oneof tag accepting the given formats.
func oneofTag(formats []FileFormat) string {
	names := make([]string, len(formats))
	for i, f := range formats {
		names[i] = string(f)
	}
	return "oneof=" + strings.Join(names, " ")
}

// formatList renders formats for error messages, e.g. "stata, sas or csv".
func formatList(formats []FileFormat) string {
	names := make([]string, len(formats))
	for i, f := range formats {
		names[i] = string(f)
	}
	if len(names) < 2 {
		return strings.Join(names, "")
	}
	return strings.Join(names[:len(names)-1], ", ") + " or " + names[len(names)-1]
}

// SurveyYears returns the survey years in increasing order.
func SurveyYears() []int {
	var years []int
	for y := FirstYear; y <= LastYear; y += YearInterval {
		years = append(years, y)
	}
	return years
}

// ValidYear reports whether year is a survey year.
func ValidYear(year int) bool {
	return year >= FirstYear && year <= LastYear && (year-FirstYear)%YearInterval == 0
}

// Extension returns the data file extension for the format, including
// the leading dot, or "" for an unknown format.
func (f FileFormat) Extension() string {
	return fileExtension[f]
}

// ArchiveName returns the name of the published archive for the given
// year and format, e.g. scfp2019s.zip.
func ArchiveName(year int, format FileFormat) (string, error) {
	if !ValidYear(year) {
		return "", fmt.Errorf("%w: year %d is not a survey year (%d-%d every %d years)",
			ErrInvalidArgument, year, FirstYear, LastYear, YearInterval)
	}
	suffix, ok := archiveSuffix[format]
	if !ok {
		return "", fmt.Errorf("%w: archive format %q, expected %s",
			ErrInvalidArgument, format, formatList(ArchiveFormats()))
	}
	return fmt.Sprintf("scfp%d%s", year, suffix), nil
}

// FormatFromPath guesses the file format from a file name extension.
func FormatFromPath(path string) (FileFormat, error) {
	ext := strings.ToLower(filepath.Ext(path))
	for f, e := range fileExtension {
		if e == ext {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: cannot determine the format of %s", ErrInvalidArgument, path)
}
