package tunnel

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvAuthToken is honoured by the ngrok agent in place of a config file.
const EnvAuthToken = "NGROK_AUTHTOKEN"

// agentConfig covers both the v2 (top-level) and v3 (agent section) layouts.
type agentConfig struct {
	AuthToken string `yaml:"authtoken"`
	Agent     struct {
		AuthToken string `yaml:"authtoken"`
	} `yaml:"agent"`
}

// DefaultConfigPaths lists where the ngrok agent keeps its config on goos,
// newest layout first.
func DefaultConfigPaths(goos, home, localAppData string) []string {
	var paths []string
	switch goos {
	case "windows":
		if localAppData == "" && home != "" {
			localAppData = filepath.Join(home, "AppData", "Local")
		}
		if localAppData != "" {
			paths = append(paths, filepath.Join(localAppData, "ngrok", "ngrok.yml"))
		}
	case "darwin":
		if home != "" {
			paths = append(paths, filepath.Join(home, "Library", "Application Support", "ngrok", "ngrok.yml"))
		}
	default:
		if home != "" {
			paths = append(paths, filepath.Join(home, ".config", "ngrok", "ngrok.yml"))
		}
	}
	if home != "" {
		paths = append(paths, filepath.Join(home, ".ngrok2", "ngrok.yml"))
	}
	return paths
}

// AuthToken returns the configured authtoken, from the environment or the
// first config file that has one.
func AuthToken(getenv func(string) string, paths []string) (string, bool) {
	if getenv != nil {
		if v := strings.TrimSpace(getenv(EnvAuthToken)); v != "" {
			return v, true
		}
	}
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		var cfg agentConfig
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			continue
		}
		if v := strings.TrimSpace(cfg.Agent.AuthToken); v != "" {
			return v, true
		}
		if v := strings.TrimSpace(cfg.AuthToken); v != "" {
			return v, true
		}
	}
	return "", false
}

// Authenticated reports whether the tunnel agent has credentials.
func Authenticated(getenv func(string) string, paths []string) bool {
	_, ok := AuthToken(getenv, paths)
	return ok
}
