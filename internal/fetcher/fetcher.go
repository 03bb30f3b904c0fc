// Package fetcher reads contact spreadsheets from local paths, HTTP(S) and
// FTP sources into a header row and data rows.
package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Fetcher downloads a remote file.
type Fetcher interface {
	// Download fetches the URL and returns the body. The caller closes it.
	Download(ctx context.Context, url string) (io.ReadCloser, error)
}

// Format is a supported spreadsheet format.
type Format string

// Supported formats.
const (
	FormatXLSX Format = "xlsx"
	FormatCSV  Format = "csv"
)

var (
	// ErrTooLarge is returned when a file exceeds the size limit.
	ErrTooLarge = eris.New("fetcher: file exceeds size limit")
	// ErrTooManyRows is returned when a file exceeds the row limit.
	ErrTooManyRows = eris.New("fetcher: file exceeds row limit")
	// ErrUnsupportedFormat is returned for extensions other than xlsx and csv.
	ErrUnsupportedFormat = eris.New("fetcher: unsupported file format")
)

// Spreadsheet is a parsed file: the first non-empty row as headers and
// everything after it as data rows.
type Spreadsheet struct {
	Name     string
	Headers  []string
	Rows     [][]string
	Warnings []string
}

// Limits bounds what a Reader accepts. Zero values disable a limit.
type Limits struct {
	MaxBytes int64
	MaxRows  int
}

// ReaderOption configures a Reader.
type ReaderOption func(*Reader)

// WithHTTPFetcher overrides the fetcher used for http and https sources.
func WithHTTPFetcher(f Fetcher) ReaderOption {
	return func(r *Reader) {
		r.http = f
	}
}

// WithFTPFetcher overrides the fetcher used for ftp sources.
func WithFTPFetcher(f Fetcher) ReaderOption {
	return func(r *Reader) {
		r.ftp = f
	}
}

// Reader loads spreadsheets within configured limits.
type Reader struct {
	limits Limits
	http   Fetcher
	ftp    Fetcher
}

// NewReader creates a Reader with default HTTP and FTP fetchers.
func NewReader(limits Limits, opts ...ReaderOption) *Reader {
	r := &Reader{limits: limits}
	for _, opt := range opts {
		opt(r)
	}
	if r.http == nil {
		r.http = NewHTTPFetcher(HTTPOptions{})
	}
	if r.ftp == nil {
		r.ftp = NewFTPFetcher(FTPOptions{})
	}
	return r
}

// ReadSpreadsheet loads source, which is a local path or an http, https or
// ftp URL. The format comes from the file extension.
func (r *Reader) ReadSpreadsheet(ctx context.Context, source string) (*Spreadsheet, error) {
	name, remote := sourceName(source)
	format, err := FormatOf(name)
	if err != nil {
		return nil, err
	}

	var rc io.ReadCloser
	switch remote {
	case "http", "https":
		rc, err = r.http.Download(ctx, source)
	case "ftp":
		rc, err = r.ftp.Download(ctx, source)
	default:
		rc, err = r.openLocal(source)
	}
	if err != nil {
		return nil, err
	}
	defer rc.Close() //nolint:errcheck

	zap.L().Debug("fetcher: reading spreadsheet",
		zap.String("source", source),
		zap.String("format", string(format)),
	)
	return r.parse(ctx, name, format, rc)
}

// ReadFrom parses an already open file such as an upload. name supplies the
// extension.
func (r *Reader) ReadFrom(ctx context.Context, name string, src io.Reader) (*Spreadsheet, error) {
	format, err := FormatOf(name)
	if err != nil {
		return nil, err
	}
	return r.parse(ctx, name, format, src)
}

func (r *Reader) openLocal(p string) (io.ReadCloser, error) {
	info, err := os.Stat(p)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: stat file")
	}
	if info.IsDir() {
		return nil, eris.Errorf("fetcher: %s is a directory", p)
	}
	if r.limits.MaxBytes > 0 && info.Size() > r.limits.MaxBytes {
		return nil, tooLarge(info.Size(), r.limits.MaxBytes)
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: open file")
	}
	return f, nil
}

func (r *Reader) parse(ctx context.Context, name string, format Format, src io.Reader) (*Spreadsheet, error) {
	data, err := readLimited(src, r.limits.MaxBytes)
	if err != nil {
		return nil, err
	}

	var (
		rows     [][]string
		warnings []string
	)
	switch format {
	case FormatXLSX:
		rows, warnings, err = parseXLSX(data)
	case FormatCSV:
		rows, err = parseCSV(ctx, bytes.NewReader(data))
	}
	if err != nil {
		return nil, err
	}

	sheet := &Spreadsheet{Name: name, Warnings: warnings}
	rows = dropLeadingBlank(rows)
	if len(rows) == 0 {
		return sheet, nil
	}
	sheet.Headers = rows[0]
	sheet.Rows = rows[1:]

	if r.limits.MaxRows > 0 && len(sheet.Rows) > r.limits.MaxRows {
		return nil, eris.Wrapf(ErrTooManyRows, "file has %d rows (max %d)", len(sheet.Rows), r.limits.MaxRows)
	}
	return sheet, nil
}

// FormatOf maps a file name to its spreadsheet format.
func FormatOf(name string) (Format, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xlsm":
		return FormatXLSX, nil
	case ".csv":
		return FormatCSV, nil
	default:
		return "", eris.Wrapf(ErrUnsupportedFormat, "%q (expected .xlsx or .csv)", filepath.Ext(name))
	}
}

// sourceName returns the file name of source and its URL scheme, empty for
// local paths.
func sourceName(source string) (string, string) {
	u, err := url.Parse(source)
	if err != nil || u.Host == "" {
		return filepath.Base(source), ""
	}
	switch scheme := strings.ToLower(u.Scheme); scheme {
	case "http", "https", "ftp":
		return path.Base(u.Path), scheme
	default:
		return filepath.Base(source), ""
	}
}

// readLimited reads src fully, failing once more than limit bytes arrive.
func readLimited(src io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		data, err := io.ReadAll(src)
		return data, eris.Wrap(err, "fetcher: read file")
	}
	data, err := io.ReadAll(io.LimitReader(src, limit+1))
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: read file")
	}
	if int64(len(data)) > limit {
		return nil, eris.Wrapf(ErrTooLarge, "more than %s", megabytes(limit))
	}
	return data, nil
}

func tooLarge(size, limit int64) error {
	return eris.Wrapf(ErrTooLarge, "%s (max %s)", megabytes(size), megabytes(limit))
}

func megabytes(n int64) string {
	return fmt.Sprintf("%.1fMB", float64(n)/(1024*1024))
}

func dropLeadingBlank(rows [][]string) [][]string {
	for len(rows) > 0 && blank(rows[0]) {
		rows = rows[1:]
	}
	return rows
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
