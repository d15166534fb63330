package download

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/nao1215/pdfcrawl/internal/config"
	"github.com/nao1215/pdfcrawl/internal/model"
	"github.com/nao1215/pdfcrawl/internal/pdfmeta"
	"golang.org/x/crypto/sha3"
	"golang.org/x/time/rate"
)

const (
	// chunkSize is the buffer size used to stream response bodies to disk.
	chunkSize = 8 * 1024

	// fallbackFilename is used for records without a usable file name.
	fallbackFilename = "document.pdf"
)

// Downloader fetches PDFs over HTTP and writes them to a directory.
// It is safe for concurrent use.
type Downloader struct {
	client    *http.Client
	userAgent string
	timeout   time.Duration
	limiter   *rate.Limiter
	logger    *slog.Logger
	metadata  bool
}

// Option configures a Downloader.
type Option func(*Downloader)

// WithUserAgent sets the User-Agent header of download requests.
func WithUserAgent(ua string) Option {
	return func(d *Downloader) {
		if ua != "" {
			d.userAgent = ua
		}
	}
}

// WithTimeout bounds each download, including reading the body.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Downloader) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithLimiter paces download requests. A nil limiter disables pacing.
func WithLimiter(l *rate.Limiter) Option {
	return func(d *Downloader) {
		d.limiter = l
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Downloader) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithMetadata enables or disables reading document information after a download.
func WithMetadata(on bool) Option {
	return func(d *Downloader) {
		d.metadata = on
	}
}

// New creates a Downloader using client for all requests.
func New(client *http.Client, opts ...Option) *Downloader {
	d := &Downloader{
		client:    client,
		userAgent: config.DefaultUserAgent,
		timeout:   config.DefaultDownloadTimeout,
		logger:    slog.Default(),
		metadata:  true,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Download stores rec in destDir and returns the updated record.
// Failures never escape as errors: they are reported through the
// download_failed status and the record's Error field.
func (d *Downloader) Download(ctx context.Context, rec model.PDFRecord, destDir string) model.PDFRecord {
	out := rec.Clone()
	out.Error = ""

	dir, err := filepath.Abs(destDir)
	if err != nil {
		return failed(out, fmt.Errorf("invalid download directory: %w", err))
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return failed(out, fmt.Errorf("failed to create download directory: %w", err))
	}

	target := filepath.Join(dir, safeName(rec.Filename))
	if _, err := os.Stat(target); err == nil {
		d.logger.Debug("already downloaded", "url", rec.URL, "path", target)
		out.Status = model.StatusAlreadyExists
		out.LocalPath = target
		return out
	}

	result, err := d.Fetch(ctx, rec.URL, target)
	if errors.Is(err, ErrFileExists) {
		out.Status = model.StatusAlreadyExists
		out.LocalPath = target
		return out
	}
	if err != nil {
		return failed(out, err)
	}

	out.Status = model.StatusDownloaded
	out.LocalPath = target
	out.Checksum = result.Checksum
	if out.Size == nil {
		out.Size = model.Int64Ptr(result.Size)
	}

	if d.metadata {
		meta, err := pdfmeta.ExtractFile(target)
		if err != nil {
			d.logger.Debug("no document information", "path", target, "error", err)
		} else {
			out.Metadata = meta
		}
	}

	d.logger.Info("downloaded", "url", rec.URL, "path", target, "bytes", result.Size, "checksum", result.Checksum)
	return out
}

// DownloadAll downloads every found or unverified record in recs, one at a
// time, and returns the records in the same order. Other records are returned
// unchanged. It stops early when ctx is cancelled.
func (d *Downloader) DownloadAll(ctx context.Context, recs []model.PDFRecord, destDir string) []model.PDFRecord {
	out := make([]model.PDFRecord, len(recs))
	for i, rec := range recs {
		if !rec.Status.Downloadable() || ctx.Err() != nil {
			out[i] = rec.Clone()
			continue
		}
		out[i] = d.Download(ctx, rec, destDir)
	}
	return out
}

// Result describes a completed transfer.
type Result struct {
	// Size is the number of bytes written.
	Size int64

	// Checksum is the hex SHA3-256 digest of the bytes written.
	Checksum string
}

// Fetch GETs rawURL and writes the body to target. The file appears under
// its final name only when the transfer succeeded, and an existing file is
// never replaced: ErrFileExists is returned instead.
func (d *Downloader) Fetch(ctx context.Context, rawURL, target string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return Result{}, fmt.Errorf("%w: %w", ErrDownloadFailed, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrDownloadFailed, err)
	}
	req.Header.Set("User-Agent", d.userAgent)
	req.Header.Set("Accept", "application/pdf,*/*;q=0.8")

	resp, err := d.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrDownloadFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, fmt.Errorf("%w: %w: %s", ErrDownloadFailed, ErrUnexpectedStatus, resp.Status)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".*.part")
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrDownloadFailed, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // gone after a successful rename

	h := sha3.New256()
	n, copyErr := io.CopyBuffer(io.MultiWriter(tmp, h), resp.Body, make([]byte, chunkSize))
	closeErr := tmp.Close()
	if copyErr != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrDownloadFailed, copyErr)
	}
	if closeErr != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrDownloadFailed, closeErr)
	}

	if err := publish(tmpName, target); err != nil {
		return Result{}, err
	}
	return Result{Size: n, Checksum: hex.EncodeToString(h.Sum(nil))}, nil
}

// publish moves a finished temporary file to target without replacing an
// existing file. A hard link is tried first because it fails atomically
// when target exists; filesystems without hard links fall back to rename.
func publish(tmpName, target string) error {
	err := os.Link(tmpName, target)
	if err == nil {
		return nil
	}
	if errors.Is(err, fs.ErrExist) {
		return ErrFileExists
	}

	if _, statErr := os.Stat(target); statErr == nil {
		return ErrFileExists
	}
	if err := os.Rename(tmpName, target); err != nil {
		return fmt.Errorf("%w: %w", ErrDownloadFailed, err)
	}
	return nil
}

// safeName strips any directory part from name.
func safeName(name string) string {
	name = filepath.Base(filepath.Clean("/" + name))
	if name == "/" || name == "." || name == "" {
		return fallbackFilename
	}
	return name
}

func failed(rec model.PDFRecord, err error) model.PDFRecord {
	rec.Status = model.StatusDownloadFailed
	rec.LocalPath = ""
	rec.Error = err.Error()
	return rec
}
