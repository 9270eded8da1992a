//go:build windows

package secureenv

import (
	"os"
	"strings"

	"golang.org/x/sys/windows/registry"
)

// readRegistryPath combines the user and system PATH from the registry. A
// child started from a shortcut or installer does not inherit them otherwise.
func readRegistryPath() string {
	var paths []string

	if key, err := registry.OpenKey(registry.CURRENT_USER, `Environment`, registry.QUERY_VALUE); err == nil {
		defer key.Close()
		if v, _, err := key.GetStringValue("Path"); err == nil && v != "" {
			paths = append(paths, os.ExpandEnv(v))
		}
	}

	if key, err := registry.OpenKey(registry.LOCAL_MACHINE,
		`SYSTEM\CurrentControlSet\Control\Session Manager\Environment`, registry.QUERY_VALUE); err == nil {
		defer key.Close()
		if v, _, err := key.GetStringValue("Path"); err == nil && v != "" {
			paths = append(paths, os.ExpandEnv(v))
		}
	}

	return strings.Join(paths, ";")
}

func discoverWindowsPathsFromRegistry() []string {
	var existing []string
	for _, p := range strings.Split(readRegistryPath(), ";") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			existing = append(existing, p)
		}
	}
	return existing
}
