// Package testutil provides helper functions for testing.
package testutil

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

// Entry describes one file inside a test archive.
type Entry struct {
	Name string
	Body string
	Mode os.FileMode // 0 means 0644
}

// TempDir creates a temporary directory and registers a cleanup function.
// The directory is automatically deleted when the test completes.
func TempDir(t *testing.T) string {
	t.Helper()

	dir, err := os.MkdirTemp("", "test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	t.Cleanup(func() {
		if err := os.RemoveAll(dir); err != nil {
			t.Errorf("failed to cleanup temp dir %s: %v", dir, err)
		}
	})

	return dir
}

// WriteFiles writes name->content pairs below dir, creating parents.
func WriteFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()

	for name, body := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("failed to create dir for %s: %v", name, err)
		}
		if err := os.WriteFile(path, []byte(body), 0644); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}
}

// ReadTree returns every regular file below dir as slash-separated
// relative path -> content.
func ReadTree(t *testing.T, dir string) map[string]string {
	t.Helper()

	out := map[string]string{}
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		out[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	if err != nil {
		t.Fatalf("failed to read tree %s: %v", dir, err)
	}
	return out
}

// Entries turns a name->content map into archive entries in name order.
func Entries(files map[string]string) []Entry {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make([]Entry, 0, len(names))
	for _, name := range names {
		entries = append(entries, Entry{Name: name, Body: files[name]})
	}
	return entries
}

// MakeZip writes a zip archive at path containing entries.
func MakeZip(t *testing.T, path string, entries []Entry) string {
	t.Helper()

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create zip: %v", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for _, e := range entries {
		hdr := &zip.FileHeader{Name: e.Name, Method: zip.Deflate}
		hdr.SetMode(modeOf(e))
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			t.Fatalf("failed to add %s: %v", e.Name, err)
		}
		if _, err := w.Write([]byte(e.Body)); err != nil {
			t.Fatalf("failed to write %s: %v", e.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("failed to finish zip: %v", err)
	}
	return path
}

// MakeTarGz writes a gzip-compressed tar archive at path containing entries.
func MakeTarGz(t *testing.T, path string, entries []Entry) string {
	t.Helper()

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create tar.gz: %v", err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	for _, e := range entries {
		hdr := &tar.Header{
			Name:     e.Name,
			Mode:     int64(modeOf(e)),
			Size:     int64(len(e.Body)),
			Typeflag: tar.TypeReg,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("failed to add %s: %v", e.Name, err)
		}
		if _, err := tw.Write([]byte(e.Body)); err != nil {
			t.Fatalf("failed to write %s: %v", e.Name, err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("failed to finish tar: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("failed to finish gzip: %v", err)
	}
	return path
}

func modeOf(e Entry) os.FileMode {
	if e.Mode == 0 {
		return 0644
	}
	return e.Mode
}
