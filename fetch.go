package scf

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Status is the outcome of one unit of pipeline work.
type Status string

const (
	StatusDownloaded Status = "downloaded"
	StatusCached     Status = "cached"
	StatusExtracted  Status = "extracted"
	StatusSkipped    Status = "skipped"
	StatusFailed     Status = "failed"
	StatusRead       Status = "read"
	StatusReadRaw    Status = "read_raw"
)

// YearStatus reports what Fetch did for one survey year.
type YearStatus struct {
	Year   int
	Format FileFormat

	// Path of the archive in the archive directory.
	Archive string

	// StatusDownloaded, or StatusCached if the archive was already
	// present.
	Download Status

	// StatusExtracted, StatusCached if every entry was already
	// extracted, or StatusSkipped if the archive is unreadable.
	Extract Status

	// Data files written to the raw directory by this call.
	Files []string

	// The reason the year was skipped, wrapping ErrArchiveCorrupt.
	Err error
}

// A Fetcher downloads survey archives and extracts them.
type Fetcher struct {
	// Client is shared by all requests.  If nil, http.DefaultClient is
	// used.
	Client *http.Client

	// BaseURL is the URL prefix of the archives.  If empty,
	// DefaultBaseURL is used.
	BaseURL string

	ArchiveDir string
	RawDir     string
	Logger     *slog.Logger
}

// NewFetcher returns a Fetcher configured from cfg, with a single HTTP
// client for all years.
func NewFetcher(cfg *Config, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		Client:     &http.Client{Timeout: cfg.HTTPTimeout},
		BaseURL:    cfg.BaseURL,
		ArchiveDir: cfg.ArchivePath(),
		RawDir:     cfg.RawPath(),
		Logger:     logger,
	}
}

func (f *Fetcher) archiveURL(name string) string {
	base := f.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	return strings.TrimSuffix(base, "/") + "/" + name
}

// Fetch makes sure the archive for year is present in the archive
// directory and extracted into the raw directory.  Existing archives
// and extracted files are reused.  Invalid arguments are rejected
// before any I/O.  A download failure is returned wrapping
// ErrTransport.  An archive that cannot be opened as a zip file is not
// an error: the returned status is StatusSkipped and records the cause.
func (f *Fetcher) Fetch(ctx context.Context, year int, format FileFormat) (YearStatus, error) {

	st := YearStatus{Year: year, Format: format}

	if err := validate.Var(string(format), oneofTag(ArchiveFormats())); err != nil {
		return st, fmt.Errorf("%w: archive format %q, expected %s",
			ErrInvalidArgument, format, formatList(ArchiveFormats()))
	}
	name, err := ArchiveName(year, format)
	if err != nil {
		return st, err
	}

	logger := loggerOrDefault(f.Logger).With("year", year, "format", string(format))

	for _, dir := range []string{f.ArchiveDir, f.RawDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return st, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	st.Archive = filepath.Join(f.ArchiveDir, name)
	if _, err := os.Stat(st.Archive); err == nil {
		logger.Info("archive already downloaded", "archive", st.Archive)
		st.Download = StatusCached
	} else {
		url := f.archiveURL(name)
		logger.Info("downloading archive", "url", url)
		if err := f.download(ctx, url, st.Archive); err != nil {
			return st, err
		}
		st.Download = StatusDownloaded
	}

	files, existing, err := f.extract(st.Archive)
	switch {
	case errors.Is(err, ErrArchiveCorrupt):
		logger.Warn("skipping unreadable archive", "archive", st.Archive, "error", err)
		st.Extract = StatusSkipped
		st.Err = err
		return st, nil
	case err != nil:
		return st, err
	}

	st.Files = files
	if len(files) == 0 && existing > 0 {
		logger.Info("archive already extracted", "archive", st.Archive)
		st.Extract = StatusCached
	} else {
		logger.Info("archive extracted", "archive", st.Archive, "files", len(files))
		st.Extract = StatusExtracted
	}
	return st, nil
}

// FetchAll fetches every survey year in turn, stopping at the first
// error.  The statuses of the years processed so far are returned in
// either case.
func (f *Fetcher) FetchAll(ctx context.Context, format FileFormat) ([]YearStatus, error) {
	var all []YearStatus
	for _, year := range SurveyYears() {
		if err := ctx.Err(); err != nil {
			return all, err
		}
		st, err := f.Fetch(ctx, year, format)
		if err != nil {
			return all, err
		}
		all = append(all, st)
	}
	return all, nil
}

// download saves the body of a GET request for url to dest.  The body
// goes to a temporary file that is renamed once complete.
func (f *Fetcher) download(ctx context.Context, url, dest string) error {

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: GET %s: %v", ErrTransport, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: GET %s: %s", ErrTransport, url, resp.Status)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".part-*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: GET %s: %v", ErrTransport, url, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

// extract writes the entries of the zip archive into the raw directory,
// flattened to their base names.  Entries whose target already exists
// are left alone.  It returns the files written and the number of
// entries that were already present.  On error the files written by
// this call are removed.
func (f *Fetcher) extract(archive string) ([]string, int, error) {

	r, err := zip.OpenReader(archive)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %s: %v", ErrArchiveCorrupt, archive, err)
	}
	defer r.Close()

	logger := loggerOrDefault(f.Logger)

	var files []string
	existing := 0
	for _, zf := range r.File {
		if zf.FileInfo().IsDir() {
			continue
		}

		base := path.Base(strings.ReplaceAll(zf.Name, "\\", "/"))
		if base == "." || base == ".." || base == "/" {
			logger.Warn("ignoring archive entry outside the raw directory", "entry", zf.Name)
			continue
		}
		target := filepath.Join(f.RawDir, base)
		if rel, err := filepath.Rel(f.RawDir, target); err != nil || strings.HasPrefix(rel, "..") {
			logger.Warn("ignoring archive entry outside the raw directory", "entry", zf.Name)
			continue
		}

		if _, err := os.Stat(target); err == nil {
			existing++
			continue
		}

		if err := extractEntry(zf, target); err != nil {
			// A partly extracted year must not reach the merge.
			for _, fn := range files {
				os.Remove(fn)
			}
			return nil, existing, err
		}
		files = append(files, target)
	}

	return files, existing, nil
}

func extractEntry(zf *zip.File, target string) error {

	rc, err := zf.Open()
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrArchiveCorrupt, zf.Name, err)
	}
	defer rc.Close()

	tmp, err := os.CreateTemp(filepath.Dir(target), filepath.Base(target)+".part-*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, rc); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: %s: %v", ErrArchiveCorrupt, zf.Name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), target)
}
