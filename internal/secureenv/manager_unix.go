//go:build !windows

package secureenv

func discoverWindowsPathsFromRegistry() []string { return nil }
