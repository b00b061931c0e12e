// Package download fetches release assets into a local directory.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	herrors "github.com/chazuruo/handoff/internal/errors"
	"github.com/chazuruo/handoff/internal/logging"
	"github.com/chazuruo/handoff/internal/release"
)

// ProgressFunc receives the downloaded fraction in [0,1].
type ProgressFunc func(fraction float64)

// partSuffix marks an asset that is still being written.
const partSuffix = ".part"

// Downloader downloads release assets.
type Downloader struct {
	httpClient *http.Client
	maxRetries int
	retryDelay time.Duration
	userAgent  string
	logger     *log.Logger
}

// Option configures a Downloader during construction.
type Option func(*Downloader)

// WithHTTPClient sets the HTTP client (useful for testing).
func WithHTTPClient(c *http.Client) Option {
	return func(d *Downloader) {
		d.httpClient = c
	}
}

// WithTimeout bounds every HTTP request made by the downloader.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Downloader) {
		if timeout > 0 {
			d.httpClient = &http.Client{Timeout: timeout}
		}
	}
}

// WithMaxRetries sets the number of whole-download attempts.
func WithMaxRetries(n int) Option {
	return func(d *Downloader) {
		if n > 0 {
			d.maxRetries = n
		}
	}
}

// WithRetryDelay sets the pause between attempts.
func WithRetryDelay(delay time.Duration) Option {
	return func(d *Downloader) {
		d.retryDelay = delay
	}
}

// WithLogger sets the logger used for download diagnostics.
func WithLogger(l *log.Logger) Option {
	return func(d *Downloader) {
		d.logger = l
	}
}

// New creates a Downloader. By default it makes three attempts one second
// apart using http.DefaultClient.
func New(opts ...Option) *Downloader {
	d := &Downloader{
		httpClient: http.DefaultClient,
		maxRetries: 3,
		retryDelay: time.Second,
		userAgent:  "handoff-updater",
		logger:     logging.Discard(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Download streams the asset of info into destDir and returns the path of
// the finished file, named after the asset. The data is written to a
// ".part" file that is renamed on success and removed on failure.
//
// onProgress (optional) receives received/total while the size is known.
// When it is not, it receives 0 until the transfer completes and then 1.
// Reported values never decrease, even across retries.
func (d *Downloader) Download(ctx context.Context, info *release.ReleaseInfo, destDir string, onProgress ProgressFunc) (string, error) {
	if info == nil || strings.TrimSpace(info.AssetURL) == "" {
		return "", herrors.ErrNothingToDownload
	}

	name := assetFileName(info)
	if name == "" {
		return "", herrors.Wrap(herrors.ErrDownloadFailed, fmt.Errorf("asset name %q is not a file name", info.AssetName))
	}

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", herrors.Wrap(herrors.ErrDownloadFailed, fmt.Errorf("creating download directory: %w", err))
	}

	destPath := filepath.Join(destDir, name)
	partPath := destPath + partSuffix

	report := monotonic(onProgress)

	var lastErr error
	for attempt := 1; attempt <= d.maxRetries; attempt++ {
		if attempt > 1 {
			d.logger.Warn("retrying download", "attempt", attempt, "error", lastErr)
			if err := sleep(ctx, d.retryDelay); err != nil {
				lastErr = err
				break
			}
		}

		lastErr = d.downloadAttempt(ctx, info.AssetURL, partPath, report)
		if lastErr == nil {
			break
		}
		_ = os.Remove(partPath)

		var pe *permanentError
		if ctx.Err() != nil || errors.As(lastErr, &pe) {
			break
		}
	}

	if lastErr != nil {
		_ = os.Remove(partPath)
		return "", herrors.Wrap(herrors.ErrDownloadFailed, lastErr)
	}

	if err := os.Rename(partPath, destPath); err != nil {
		_ = os.Remove(partPath)
		return "", herrors.Wrap(herrors.ErrDownloadFailed, fmt.Errorf("finalizing download: %w", err))
	}

	report(1)
	d.logger.Info("downloaded asset", "asset", name, "path", destPath)

	return destPath, nil
}

// permanentError marks failures that a retry cannot fix.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func permanent(format string, args ...any) error {
	return &permanentError{err: fmt.Errorf(format, args...)}
}

func (d *Downloader) downloadAttempt(ctx context.Context, rawURL, partPath string, report ProgressFunc) error {
	body, total, err := d.open(ctx, rawURL)
	if err != nil {
		return err
	}
	defer func() { _ = body.Close() }()

	f, err := os.OpenFile(partPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return permanent("creating file: %w", err)
	}

	report(0)

	var received int64
	buf := make([]byte, 32*1024)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, writeErr := f.Write(buf[:n]); writeErr != nil {
				_ = f.Close()
				return permanent("writing file: %w", writeErr)
			}
			received += int64(n)
			if total > 0 {
				report(min(float64(received)/float64(total), 1))
			} else {
				report(0)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			_ = f.Close()
			return fmt.Errorf("download interrupted: %w", readErr)
		}
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing file: %w", err)
	}

	if total > 0 && received != total {
		return fmt.Errorf("short download: received %d of %d bytes", received, total)
	}

	return nil
}

// open returns a reader over the asset and its size (-1 when unknown).
func (d *Downloader) open(ctx context.Context, rawURL string) (io.ReadCloser, int64, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, 0, permanent("invalid asset URL %q: %w", rawURL, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "file":
		path := filepath.FromSlash(u.Path)
		if len(path) > 2 && path[0] == filepath.Separator && path[2] == ':' {
			// file:///C:/dir becomes C:\dir on Windows.
			path = path[1:]
		}
		f, err := os.Open(path)
		if err != nil {
			return nil, 0, permanent("opening %s: %w", path, err)
		}
		info, err := f.Stat()
		if err != nil {
			_ = f.Close()
			return nil, 0, err
		}
		return f, info.Size(), nil

	case "http", "https":
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, 0, permanent("creating request: %w", err)
		}
		req.Header.Set("User-Agent", d.userAgent)
		req.Header.Set("Accept", "application/octet-stream")

		resp, err := d.httpClient.Do(req)
		if err != nil {
			return nil, 0, fmt.Errorf("request failed: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			_ = resp.Body.Close()
			err := fmt.Errorf("download failed with status %d", resp.StatusCode)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				err = permanent("%w", err)
			}
			return nil, 0, err
		}
		return resp.Body, resp.ContentLength, nil

	default:
		return nil, 0, permanent("unsupported URL scheme %q", u.Scheme)
	}
}

// assetFileName picks the local file name for the asset: its declared name,
// else the last URL path segment.
func assetFileName(info *release.ReleaseInfo) string {
	name := info.AssetName
	if name == "" {
		if u, err := url.Parse(info.AssetURL); err == nil {
			name = pathBase(u.Path)
		}
	}
	name = filepath.Base(filepath.Clean(name))
	if name == "." || name == ".." || name == string(filepath.Separator) {
		return ""
	}
	return name
}

func pathBase(p string) string {
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}

// monotonic wraps fn so that it never sees a value lower than one it has
// already seen.
func monotonic(fn ProgressFunc) ProgressFunc {
	high := -1.0
	return func(f float64) {
		if fn == nil || f < high {
			return
		}
		if f == high && f != 0 {
			return
		}
		high = f
		fn(f)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
