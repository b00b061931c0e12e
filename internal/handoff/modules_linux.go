//go:build linux

package handoff

import "os"

// loadedModules lists shared objects mapped into this process from dir.
func loadedModules(dir string) []string {
	f, err := os.Open("/proc/self/maps")
	if err != nil {
		return nil
	}
	defer f.Close()
	return parseMaps(f, dir)
}
