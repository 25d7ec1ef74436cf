package scf

import (
	"fmt"
	"os"
	"path/filepath"
)

// writers maps an output format to a function writing a table to a
// file path.
var writers = map[FileFormat]func(string, *Table) error{
	FormatStata:   WriteStata,
	FormatCSV:     writeCSVFile,
	FormatParquet: WriteParquet,
	FormatXLSX:    WriteXLSX,
}

// WriteTable writes t to path in the given output format.  The data
// are written to a temporary file in the same directory, which is
// renamed to path once complete, so a failed write leaves any existing
// file at path untouched.
func WriteTable(path string, format FileFormat, t *Table) error {

	write, ok := writers[format]
	if !ok {
		return fmt.Errorf("%w: cannot write format %q", ErrInvalidArgument, format)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrFileWrite, err)
	}

	// Keep the extension, some writers check it.
	tmp, err := os.CreateTemp(dir, ".scf-*"+format.Extension())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFileWrite, err)
	}
	tmpName := tmp.Name()
	tmp.Close()

	if err := write(tmpName, t); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %s: %v", ErrFileWrite, path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %v", ErrFileWrite, err)
	}
	return nil
}

// WriteStata writes t to path as a dta 118 file.
func WriteStata(path string, t *Table) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := NewStataWriter().Write(f, t); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
