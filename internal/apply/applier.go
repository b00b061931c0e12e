// Package apply writes the contents of a downloaded release into an
// installation directory.
//
// Writes are additive: files named by the archive are created or replaced,
// everything else in the target directory is left alone. Each file is
// written to a temporary sibling and renamed into place, so an interrupted
// apply never leaves a half-written target file behind.
package apply

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	herrors "github.com/chazuruo/handoff/internal/errors"
	"github.com/chazuruo/handoff/internal/logging"
)

// ProgressFunc receives the applied fraction in [0,1].
type ProgressFunc func(fraction float64)

// Format is the container format of a release asset.
type Format int

const (
	// FormatBare is a single file that is copied as-is.
	FormatBare Format = iota
	// FormatZip is a zip archive.
	FormatZip
	// FormatTarGz is a gzip-compressed tar archive.
	FormatTarGz
)

// String returns the format name.
func (f Format) String() string {
	switch f {
	case FormatZip:
		return "zip"
	case FormatTarGz:
		return "tar.gz"
	default:
		return "bare"
	}
}

// DetectFormat derives the format from the asset file name.
func DetectFormat(name string) Format {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return FormatZip
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return FormatTarGz
	default:
		return FormatBare
	}
}

// Applier extracts release assets into a target directory.
type Applier struct {
	bareName string
	logger   *log.Logger
}

// Option configures an Applier during construction.
type Option func(*Applier)

// WithBareName sets the file name used for non-archive assets. By default
// a bare asset keeps its own name.
func WithBareName(name string) Option {
	return func(a *Applier) {
		a.bareName = name
	}
}

// WithLogger sets the logger used for apply diagnostics.
func WithLogger(l *log.Logger) Option {
	return func(a *Applier) {
		a.logger = l
	}
}

// New creates an Applier.
func New(opts ...Option) *Applier {
	a := &Applier{logger: logging.Discard()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// entry is one regular file to write.
type entry struct {
	rel  string // slash-separated, validated relative path
	mode os.FileMode
	open func() (io.ReadCloser, error)
}

// Apply writes every regular file in archivePath to targetDir. With
// overwrite false, files that already exist are skipped. Entries that would
// land outside targetDir fail the whole apply before anything is written.
// Applying the same archive twice yields the same set of files.
func (a *Applier) Apply(ctx context.Context, targetDir, archivePath string, onProgress ProgressFunc, overwrite bool) error {
	if err := ctx.Err(); err != nil {
		return herrors.Wrap(herrors.ErrApplyFailed, err)
	}

	info, err := os.Stat(targetDir)
	if err != nil {
		return herrors.Wrap(herrors.ErrApplyFailed, fmt.Errorf("target directory: %w", err))
	}
	if !info.IsDir() {
		return herrors.Wrap(herrors.ErrApplyFailed, fmt.Errorf("target %s is not a directory", targetDir))
	}

	format := DetectFormat(archivePath)
	a.logger.Info("applying release", "archive", filepath.Base(archivePath), "format", format, "target", targetDir)

	switch format {
	case FormatZip:
		err = a.applyZip(targetDir, archivePath, onProgress, overwrite)
	case FormatTarGz:
		err = a.applyTarGz(targetDir, archivePath, onProgress, overwrite)
	default:
		err = a.applyBare(targetDir, archivePath, onProgress, overwrite)
	}
	if err != nil {
		return herrors.Wrap(herrors.ErrApplyFailed, err)
	}
	return nil
}

func (a *Applier) applyZip(targetDir, archivePath string, onProgress ProgressFunc, overwrite bool) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("opening zip: %w", err)
	}
	defer r.Close()

	var entries []entry
	for _, f := range r.File {
		mode := f.Mode()
		if mode.IsDir() {
			continue
		}
		rel, err := safeRel(f.Name)
		if err != nil {
			return err
		}
		if !mode.IsRegular() {
			a.logger.Warn("skipping non-regular entry", "entry", f.Name, "mode", mode)
			continue
		}
		entries = append(entries, entry{rel: rel, mode: mode.Perm(), open: f.Open})
	}

	return a.writeAll(targetDir, entries, onProgress, overwrite)
}

func (a *Applier) applyTarGz(targetDir, archivePath string, onProgress ProgressFunc, overwrite bool) error {
	// First pass validates paths and counts files so that progress has a
	// denominator and nothing is written for a hostile archive.
	var total int
	err := walkTarGz(archivePath, func(hdr *tar.Header, _ io.Reader) error {
		if hdr.Typeflag == tar.TypeDir {
			return nil
		}
		if _, err := safeRel(hdr.Name); err != nil {
			return err
		}
		if hdr.Typeflag == tar.TypeReg {
			total++
		}
		return nil
	})
	if err != nil {
		return err
	}

	report := progress(onProgress, total)
	report(0)

	written := 0
	err = walkTarGz(archivePath, func(hdr *tar.Header, body io.Reader) error {
		if hdr.Typeflag == tar.TypeDir {
			return nil
		}
		if hdr.Typeflag != tar.TypeReg {
			a.logger.Warn("skipping non-regular entry", "entry", hdr.Name)
			return nil
		}
		rel, _ := safeRel(hdr.Name)
		if err := a.writeEntry(targetDir, rel, os.FileMode(hdr.Mode).Perm(), body, overwrite); err != nil {
			return err
		}
		written++
		report(written)
		return nil
	})
	if err != nil {
		return err
	}

	if total == 0 {
		report(1)
	}
	return nil
}

func (a *Applier) applyBare(targetDir, assetPath string, onProgress ProgressFunc, overwrite bool) error {
	name := a.bareName
	if name == "" {
		name = filepath.Base(assetPath)
	}
	rel, err := safeRel(name)
	if err != nil {
		return err
	}

	mode := os.FileMode(0755)
	if info, err := os.Stat(assetPath); err == nil {
		mode = info.Mode().Perm() | 0111
	}

	return a.writeAll(targetDir, []entry{{
		rel:  rel,
		mode: mode,
		open: func() (io.ReadCloser, error) { return os.Open(assetPath) },
	}}, onProgress, overwrite)
}

func (a *Applier) writeAll(targetDir string, entries []entry, onProgress ProgressFunc, overwrite bool) error {
	report := progress(onProgress, len(entries))
	report(0)

	for i, e := range entries {
		rc, err := e.open()
		if err != nil {
			return fmt.Errorf("opening %s: %w", e.rel, err)
		}
		err = a.writeEntry(targetDir, e.rel, e.mode, rc, overwrite)
		_ = rc.Close()
		if err != nil {
			return err
		}
		report(i + 1)
	}

	if len(entries) == 0 {
		report(1)
	}
	return nil
}

// writeEntry writes one file via a temporary sibling and a rename.
func (a *Applier) writeEntry(targetDir, rel string, mode os.FileMode, src io.Reader, overwrite bool) error {
	dest := filepath.Join(targetDir, filepath.FromSlash(rel))

	if !overwrite {
		if _, err := os.Lstat(dest); err == nil {
			a.logger.Debug("keeping existing file", "file", rel)
			return nil
		}
	}

	if mode == 0 {
		mode = 0644
	}

	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".handoff-*")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", rel, err)
	}
	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, src); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("writing %s: %w", rel, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("writing %s: %w", rel, err)
	}
	if err := os.Chmod(tmpPath, mode); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("setting mode of %s: %w", rel, err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replacing %s: %w", rel, err)
	}

	a.logger.Debug("wrote file", "file", rel, "mode", mode)
	return nil
}

// safeRel validates an archive entry name and returns it as a clean,
// slash-separated relative path.
func safeRel(name string) (string, error) {
	slashed := strings.ReplaceAll(name, `\`, "/")
	if slashed == "" || strings.HasPrefix(slashed, "/") || filepath.IsAbs(name) || filepath.VolumeName(name) != "" {
		return "", fmt.Errorf("%w: entry %q has an absolute path", herrors.ErrInvalid, name)
	}
	clean := path.Clean(slashed)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: entry %q escapes the target directory", herrors.ErrInvalid, name)
	}
	if len(clean) >= 2 && clean[1] == ':' {
		return "", fmt.Errorf("%w: entry %q has a drive letter", herrors.ErrInvalid, name)
	}
	return clean, nil
}

func walkTarGz(archivePath string, fn func(*tar.Header, io.Reader) error) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	gzr, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("reading gzip: %w", err)
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading tar: %w", err)
		}
		if err := fn(hdr, tr); err != nil {
			return err
		}
	}
}

// progress reports done/total to fn, never going backwards.
func progress(fn ProgressFunc, total int) func(done int) {
	last := -1.0
	return func(done int) {
		if fn == nil {
			return
		}
		f := 1.0
		if total > 0 {
			f = float64(done) / float64(total)
		}
		if f <= last {
			return
		}
		last = f
		fn(f)
	}
}
