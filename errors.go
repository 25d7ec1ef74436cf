package scf

import "errors"

// Errors reported by the pipeline stages.  Returned errors wrap one of
// these so callers can test for them with errors.Is.
var (
	// ErrInvalidArgument is returned for an unsupported survey year or
	// file format, before any I/O is attempted.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrTransport is returned when an archive cannot be downloaded.
	ErrTransport = errors.New("transport error")

	// ErrArchiveCorrupt marks an archive that is not a readable zip file.
	ErrArchiveCorrupt = errors.New("corrupt archive")

	// ErrFileRead marks a data file that could not be parsed.
	ErrFileRead = errors.New("file read error")

	// ErrFileWrite is returned when an output table cannot be written.
	ErrFileWrite = errors.New("file write error")

	// ErrSchemaMismatch is returned by strict merges when the per-year
	// tables do not share the same columns.
	ErrSchemaMismatch = errors.New("schema mismatch")

	// ErrConversion is returned when stored values cannot be converted
	// as requested, e.g. value labels attached to non-integer data.
	ErrConversion = errors.New("value conversion error")
)
