package handoff

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Installation is the set of files that must survive the installation
// directory being overwritten: the running executable, files next to it
// that share its base name, and loaded modules from the same directory.
type Installation struct {
	Executable string
	Dir        string
	Files      []string // excluding Executable
}

// Enumerate collects the installation that exe belongs to. Loaded modules
// are included where the platform can list them.
func Enumerate(exe string) (Installation, error) {
	dir := filepath.Dir(exe)
	inst := Installation{Executable: exe, Dir: dir}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return inst, fmt.Errorf("reading installation directory: %w", err)
	}

	stem := strings.ToLower(strings.TrimSuffix(filepath.Base(exe), filepath.Ext(exe)))
	seen := map[string]bool{filepath.Clean(exe): true}

	add := func(path string) {
		path = filepath.Clean(path)
		if seen[path] {
			return
		}
		seen[path] = true
		inst.Files = append(inst.Files, path)
	}

	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if strings.HasPrefix(strings.ToLower(e.Name()), stem) {
			add(filepath.Join(dir, e.Name()))
		}
	}

	for _, m := range loadedModules(dir) {
		add(m)
	}

	sort.Strings(inst.Files)
	return inst, nil
}

// Stage creates a uniquely named scratch directory below root and copies
// the installation into it by base name. The executable is copied first;
// other files are copied only when no file of that name is there yet. On
// failure the scratch directory is removed. Stage returns the scratch
// directory and the path of the copied executable.
func Stage(inst Installation, root, prefix string) (string, string, error) {
	scratch := filepath.Join(root, prefix+uuid.NewString())
	if err := os.Mkdir(scratch, 0700); err != nil {
		return "", "", fmt.Errorf("creating scratch directory: %w", err)
	}

	copiedExe := filepath.Join(scratch, filepath.Base(inst.Executable))
	if err := copyFile(inst.Executable, copiedExe); err != nil {
		_ = os.RemoveAll(scratch)
		return "", "", fmt.Errorf("copying executable: %w", err)
	}

	for _, f := range inst.Files {
		dest := filepath.Join(scratch, filepath.Base(f))
		if _, err := os.Lstat(dest); err == nil {
			continue
		}
		if err := copyFile(f, dest); err != nil {
			_ = os.RemoveAll(scratch)
			return "", "", fmt.Errorf("copying %s: %w", filepath.Base(f), err)
		}
	}

	return scratch, copiedExe, nil
}

// copyFile copies src to a new file dst, keeping the permission bits.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// parseMaps returns the distinct file paths mapped in a /proc/<pid>/maps
// listing that live directly in dir or below it.
func parseMaps(r io.Reader, dir string) []string {
	prefix := filepath.Clean(dir) + string(filepath.Separator)
	seen := map[string]bool{}
	var paths []string

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		path, ok := mapsPath(sc.Text())
		if !ok || seen[path] || !strings.HasPrefix(path, prefix) {
			continue
		}
		seen[path] = true
		paths = append(paths, path)
	}
	return paths
}

// mapsPath extracts the pathname column of one maps line. Anonymous and
// pseudo mappings ("[heap]") and deleted files are rejected.
func mapsPath(line string) (string, bool) {
	rest := line
	// address perms offset dev inode
	for i := 0; i < 5; i++ {
		rest = strings.TrimLeft(rest, " \t")
		j := strings.IndexAny(rest, " \t")
		if j < 0 {
			return "", false
		}
		rest = rest[j:]
	}
	path := strings.TrimLeft(rest, " \t")
	if !strings.HasPrefix(path, "/") || strings.HasSuffix(path, " (deleted)") {
		return "", false
	}
	return path, true
}
