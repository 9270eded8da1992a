// Package secureenv builds the environment handed to dev-server children:
// an allow-list of system variables, the profile's own variables, and a PATH
// that still finds node, npx and ngrok when launched from a desktop session.
package secureenv

import (
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strings"
)

const (
	osWindows = "windows"
	osDarwin  = "darwin"
)

// EnvConfig controls which variables reach the child
type EnvConfig struct {
	InheritSystemSafe bool              `json:"inherit_system_safe"`
	AllowedSystemVars []string          `json:"allowed_system_vars"`
	CustomVars        map[string]string `json:"custom_vars"`
	// EnhancePath adds discovered tool directories missing from PATH
	EnhancePath bool `json:"enhance_path"`
}

// DefaultEnvConfig returns the allow-list used for dev servers. Trailing "*"
// matches a prefix.
func DefaultEnvConfig() *EnvConfig {
	return defaultEnvConfig(runtime.GOOS)
}

func defaultEnvConfig(goos string) *EnvConfig {
	allowed := []string{
		"PATH", "HOME", "TMPDIR", "TEMP", "TMP", "SHELL", "TERM", "LANG",
		"USER", "USERNAME", "LC_*",
		// dev tooling
		"NODE_*", "NPM_CONFIG_*", "npm_config_*", "EXPO_*", "REACT_NATIVE_*",
		"NGROK_*", "PYTHON*", "VIRTUAL_ENV", "CI", "NO_COLOR", "FORCE_COLOR",
	}
	if goos == osWindows {
		allowed = append(allowed,
			"USERPROFILE", "APPDATA", "LOCALAPPDATA", "PROGRAMFILES",
			"SYSTEMROOT", "COMSPEC", "PATHEXT", "WINDIR")
	} else {
		allowed = append(allowed,
			"XDG_CONFIG_HOME", "XDG_DATA_HOME", "XDG_CACHE_HOME",
			"XDG_STATE_HOME", "XDG_RUNTIME_DIR")
	}
	return &EnvConfig{
		InheritSystemSafe: true,
		AllowedSystemVars: allowed,
		CustomVars:        make(map[string]string),
		EnhancePath:       true,
	}
}

// SecretRegistrar is told about values that must never reach the logs.
type SecretRegistrar interface {
	RegisterSecret(value string)
}

var secretKey = regexp.MustCompile(`(?i)(token|secret|password|passwd|api_?key|authtoken)`)

// IsSecretKey reports whether a variable name looks like it holds a credential.
func IsSecretKey(key string) bool {
	return secretKey.MatchString(key)
}

// Option customizes a Manager.
type Option func(*Manager)

// WithSecretRegistrar registers secret-looking values as they are added.
func WithSecretRegistrar(r SecretRegistrar) Option {
	return func(m *Manager) { m.secrets = r }
}

// WithSystem replaces the host view used for discovery; for tests.
func WithSystem(goos, home string, environ func() []string) Option {
	return func(m *Manager) {
		m.goos = goos
		m.home = home
		m.environ = environ
	}
}

// Manager builds child environments
type Manager struct {
	config  *EnvConfig
	goos    string
	home    string
	environ func() []string
	secrets SecretRegistrar

	discovered []string
}

// NewManager creates a manager; a nil config means DefaultEnvConfig.
func NewManager(config *EnvConfig, opts ...Option) *Manager {
	m := &Manager{
		goos:    runtime.GOOS,
		environ: os.Environ,
	}
	m.home, _ = os.UserHomeDir()
	for _, opt := range opts {
		opt(m)
	}
	if config == nil {
		config = defaultEnvConfig(m.goos)
	}
	m.config = config
	m.discovered = m.discoverPaths()
	return m
}

// DiscoveredPaths returns the existing tool directories found on this host.
func (m *Manager) DiscoveredPaths() []string {
	return append([]string(nil), m.discovered...)
}

func (m *Manager) discoverPaths() []string {
	var candidates []string
	if m.goos == osWindows {
		if registry := discoverWindowsPathsFromRegistry(); len(registry) > 0 {
			return registry
		}
		candidates = []string{
			`C:\Windows\System32`,
			`C:\Windows`,
			`C:\Program Files\nodejs`,
			`C:\Program Files\Git\cmd`,
		}
		if m.home != "" {
			candidates = append(candidates,
				filepath.Join(m.home, "AppData", "Roaming", "npm"),
				filepath.Join(m.home, "scoop", "shims"),
				filepath.Join(m.home, "AppData", "Local", "Programs", "Python", "Python313"),
				filepath.Join(m.home, "AppData", "Local", "Programs", "Python", "Python312"),
				filepath.Join(m.home, "AppData", "Local", "ngrok"),
			)
		}
	} else {
		candidates = []string{"/usr/local/bin", "/usr/bin", "/bin"}
		if m.goos == osDarwin {
			candidates = append([]string{"/opt/homebrew/bin"}, candidates...)
		}
		if m.home != "" {
			candidates = append(candidates,
				filepath.Join(m.home, ".local", "bin"),
				filepath.Join(m.home, ".npm-global", "bin"),
				filepath.Join(m.home, ".volta", "bin"),
				filepath.Join(m.home, ".nvm", "current", "bin"),
				filepath.Join(m.home, ".yarn", "bin"),
			)
		}
	}

	var existing []string
	for _, p := range candidates {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			existing = append(existing, p)
		}
	}
	return existing
}

// Build returns the child environment as KEY=VALUE pairs sorted by key.
// Profile variables override custom variables, which override inherited ones.
func (m *Manager) Build(profileEnv map[string]string) []string {
	vars := make(map[string]string)

	if m.config.InheritSystemSafe {
		for _, kv := range m.environ() {
			key, value, ok := strings.Cut(kv, "=")
			if !ok || key == "" || !m.isKeyAllowed(key) {
				continue
			}
			vars[key] = value
		}
	}
	for k, v := range m.config.CustomVars {
		vars[k] = v
	}
	for k, v := range profileEnv {
		vars[k] = v
	}

	if m.config.EnhancePath {
		key := m.pathKey(vars)
		vars[key] = m.enhancePath(vars[key])
	}

	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, k := range keys {
		if m.secrets != nil && IsSecretKey(k) {
			m.secrets.RegisterSecret(vars[k])
		}
		env = append(env, k+"="+vars[k])
	}
	return env
}

// pathKey keeps Windows' "Path" spelling when that is what the host uses.
func (m *Manager) pathKey(vars map[string]string) string {
	if m.goos == osWindows {
		for k := range vars {
			if strings.EqualFold(k, "PATH") {
				return k
			}
		}
	}
	return "PATH"
}

// enhancePath appends discovered directories that PATH lacks. A PATH with
// at most two entries is treated as a launchd-style minimal one and the
// discovered directories go first.
func (m *Manager) enhancePath(existing string) string {
	sep := ":"
	if m.goos == osWindows {
		sep = ";"
	}

	var parts []string
	seen := make(map[string]bool)
	for _, p := range strings.Split(existing, sep) {
		if p != "" && !seen[p] {
			seen[p] = true
			parts = append(parts, p)
		}
	}

	var missing []string
	for _, p := range m.discovered {
		if !seen[p] {
			seen[p] = true
			missing = append(missing, p)
		}
	}

	if len(parts) <= 2 {
		return strings.Join(append(missing, parts...), sep)
	}
	return strings.Join(append(parts, missing...), sep)
}

func (m *Manager) isKeyAllowed(key string) bool {
	if _, ok := m.config.CustomVars[key]; ok {
		return true
	}
	for _, allowed := range m.config.AllowedSystemVars {
		if prefix, ok := strings.CutSuffix(allowed, "*"); ok {
			if strings.HasPrefix(key, prefix) {
				return true
			}
		} else if strings.EqualFold(allowed, key) {
			return true
		}
	}
	return false
}
