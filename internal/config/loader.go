package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	DefaultDataDir = ".devlaunch"
	ConfigFileName = "config.json"
	EnvPrefix      = "DEVLAUNCH"
)

// localConfigNames are probed in the working directory, in order.
var localConfigNames = []string{"devlaunch.json", "devlaunch.yaml", "devlaunch.yml", "devlaunch.toml"}

// Load resolves the configuration: defaults, then the config file (path, or
// the first one found in the usual locations), then DEVLAUNCH_* environment
// overrides. The data directory is created when missing.
func Load(path string) (*Config, error) {
	cfg, _, err := LoadWithSource(path)
	return cfg, err
}

// LoadWithSource is Load that also reports which file was read ("" if none).
func LoadWithSource(path string) (*Config, string, error) {
	cfg := DefaultConfig()

	source := path
	if path != "" {
		if err := loadConfigFile(path, cfg); err != nil {
			return nil, "", fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	} else {
		found, location, err := findAndLoadConfigFile(cfg)
		if err != nil && found {
			return nil, "", fmt.Errorf("failed to load config file %s: %w", location, err)
		}
		source = location
	}

	if err := applyEnvOverrides(newViper(), cfg); err != nil {
		return nil, "", err
	}

	if cfg.DataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, "", fmt.Errorf("failed to get user home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(homeDir, DefaultDataDir)
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, "", fmt.Errorf("failed to create data directory %s: %w", cfg.DataDir, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, source, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	// negotiation.max_attempts -> DEVLAUNCH_NEGOTIATION_MAX_ATTEMPTS
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	return v
}

func applyEnvOverrides(v *viper.Viper, cfg *Config) error {
	if v.IsSet("data_dir") {
		cfg.DataDir = v.GetString("data_dir")
	}
	if v.IsSet("profile") {
		cfg.Profile = v.GetString("profile")
	}
	if v.IsSet("negotiation.max_attempts") {
		cfg.Negotiation.MaxAttempts = v.GetInt("negotiation.max_attempts")
	}
	for key, dst := range map[string]*Duration{
		"negotiation.grace_timeout": &cfg.Negotiation.GraceTimeout,
		"negotiation.stall_timeout": &cfg.Negotiation.StallTimeout,
		"negotiation.partial_flush": &cfg.Negotiation.PartialFlush,
		"tunnel.discover_timeout":   &cfg.Tunnel.DiscoverTimeout,
	} {
		if !v.IsSet(key) {
			continue
		}
		if err := dst.UnmarshalText([]byte(v.GetString(key))); err != nil {
			return fmt.Errorf("environment override %s_%s: %w", EnvPrefix, strings.ToUpper(strings.ReplaceAll(key, ".", "_")), err)
		}
	}
	if v.IsSet("tunnel.enabled") {
		cfg.Tunnel.Enabled = v.GetBool("tunnel.enabled")
	}
	if v.IsSet("tunnel.api_url") {
		cfg.Tunnel.APIURL = v.GetString("tunnel.api_url")
	}
	if v.IsSet("status_listen") {
		cfg.StatusListen = v.GetString("status_listen")
	}
	if v.IsSet("metrics_textfile") {
		cfg.MetricsTextfile = v.GetString("metrics_textfile")
	}
	if v.IsSet("notify") {
		cfg.Notify = v.GetBool("notify")
	}
	if v.IsSet("open_browser") {
		cfg.OpenBrowser = v.GetBool("open_browser")
	}
	if v.IsSet("tracing.enabled") {
		cfg.Tracing.Enabled = v.GetBool("tracing.enabled")
	}
	if v.IsSet("tracing.otlp_endpoint") {
		cfg.Tracing.OTLPEndpoint = v.GetString("tracing.otlp_endpoint")
	}
	if v.IsSet("logging.level") {
		if cfg.Logging == nil {
			cfg.Logging = DefaultLogConfig()
		}
		cfg.Logging.Level = v.GetString("logging.level")
	}
	return nil
}

func findAndLoadConfigFile(cfg *Config) (found bool, path string, err error) {
	locations := append([]string(nil), localConfigNames...)
	if homeDir, err := os.UserHomeDir(); err == nil {
		locations = append(locations, filepath.Join(homeDir, DefaultDataDir, ConfigFileName))
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return true, location, loadConfigFile(location, cfg)
		}
	}
	return false, "", nil
}

func loadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// Empty file (including /dev/null) is treated as no configuration
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("failed to parse TOML config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	return nil
}

// SaveConfig writes cfg to path, choosing the format from the extension.
func SaveConfig(cfg *Config, path string) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	case ".toml":
		var buf bytes.Buffer
		err = toml.NewEncoder(&buf).Encode(cfg)
		data = buf.Bytes()
	default:
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GetConfigPath returns the per-user config path under dataDir.
func GetConfigPath(dataDir string) string {
	return filepath.Join(dataDir, ConfigFileName)
}

// DefaultLogConfig returns the default logging configuration
func DefaultLogConfig() *LogConfig {
	return &LogConfig{
		Level:         "info",
		EnableFile:    false,
		EnableConsole: true,
		Filename:      "devlaunch.log",
		MaxSize:       10,
		MaxBackups:    5,
		MaxAge:        30,
		Compress:      true,
		JSONFormat:    false,
	}
}
