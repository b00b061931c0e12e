//go:build !linux

package handoff

func loadedModules(string) []string { return nil }
