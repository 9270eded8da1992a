package config

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	DefaultProfile     = "expo"
	DefaultMaxAttempts = 3
	PortPlaceholder    = "{port}"
)

// Duration is a time.Duration that reads and writes as "5s" in every config
// format.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	*d = Duration(parsed)
	return nil
}

// Config is the complete launcher configuration
type Config struct {
	DataDir         string              `json:"data_dir,omitempty" yaml:"data_dir,omitempty" toml:"data_dir,omitempty"`
	Profile         string              `json:"profile" yaml:"profile" toml:"profile"`
	Profiles        map[string]*Profile `json:"profiles,omitempty" yaml:"profiles,omitempty" toml:"profiles,omitempty"`
	Negotiation     NegotiationConfig   `json:"negotiation" yaml:"negotiation" toml:"negotiation"`
	Tunnel          TunnelConfig        `json:"tunnel" yaml:"tunnel" toml:"tunnel"`
	StatusListen    string              `json:"status_listen,omitempty" yaml:"status_listen,omitempty" toml:"status_listen,omitempty"`
	MetricsTextfile string              `json:"metrics_textfile,omitempty" yaml:"metrics_textfile,omitempty" toml:"metrics_textfile,omitempty"`
	Notify          bool                `json:"notify" yaml:"notify" toml:"notify"`
	OpenBrowser     bool                `json:"open_browser" yaml:"open_browser" toml:"open_browser"`
	Logging         *LogConfig          `json:"logging,omitempty" yaml:"logging,omitempty" toml:"logging,omitempty"`
	Tracing         TracingConfig       `json:"tracing" yaml:"tracing" toml:"tracing"`
	Patterns        PatternConfig       `json:"patterns" yaml:"patterns" toml:"patterns"`
}

// Profile describes how to start one kind of dev server
type Profile struct {
	// Command may contain {port}; otherwise PortArgs are appended
	Command     []string          `json:"command" yaml:"command" toml:"command"`
	PortArgs    []string          `json:"port_args,omitempty" yaml:"port_args,omitempty" toml:"port_args,omitempty"`
	Dir         string            `json:"dir,omitempty" yaml:"dir,omitempty" toml:"dir,omitempty"`
	Env         map[string]string `json:"env,omitempty" yaml:"env,omitempty" toml:"env,omitempty"`
	DefaultPort int               `json:"default_port" yaml:"default_port" toml:"default_port"`
	// Install runs the dependency installer before launching
	Install bool `json:"install,omitempty" yaml:"install,omitempty" toml:"install,omitempty"`
	// Tunnel starts the configured tunnel command once the server is ready
	Tunnel bool `json:"tunnel,omitempty" yaml:"tunnel,omitempty" toml:"tunnel,omitempty"`
	// LocalURL is shown and opened in the browser; {port} is expanded
	LocalURL string `json:"local_url,omitempty" yaml:"local_url,omitempty" toml:"local_url,omitempty"`
	// Tools lists executables checked by doctor for this profile
	Tools []string `json:"tools,omitempty" yaml:"tools,omitempty" toml:"tools,omitempty"`
}

// NegotiationConfig bounds the port negotiation loop
type NegotiationConfig struct {
	MaxAttempts  int      `json:"max_attempts" yaml:"max_attempts" toml:"max_attempts"`
	GraceTimeout Duration `json:"grace_timeout" yaml:"grace_timeout" toml:"grace_timeout"`
	StallTimeout Duration `json:"stall_timeout" yaml:"stall_timeout" toml:"stall_timeout"`
	PartialFlush Duration `json:"partial_flush" yaml:"partial_flush" toml:"partial_flush"`
}

// TunnelConfig configures the optional tunnel process
type TunnelConfig struct {
	Enabled         bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	Command         []string `json:"command" yaml:"command" toml:"command"`
	APIURL          string   `json:"api_url" yaml:"api_url" toml:"api_url"`
	DiscoverTimeout Duration `json:"discover_timeout" yaml:"discover_timeout" toml:"discover_timeout"`
	ConfigPath      string   `json:"config_path,omitempty" yaml:"config_path,omitempty" toml:"config_path,omitempty"`
}

// TracingConfig configures OpenTelemetry export
type TracingConfig struct {
	Enabled      bool    `json:"enabled" yaml:"enabled" toml:"enabled"`
	OTLPEndpoint string  `json:"otlp_endpoint,omitempty" yaml:"otlp_endpoint,omitempty" toml:"otlp_endpoint,omitempty"`
	SampleRate   float64 `json:"sample_rate" yaml:"sample_rate" toml:"sample_rate"`
}

// PatternConfig adds output patterns on top of the built-in ones
type PatternConfig struct {
	ExtraReady    []string `json:"extra_ready,omitempty" yaml:"extra_ready,omitempty" toml:"extra_ready,omitempty"`
	ExtraConflict []string `json:"extra_conflict,omitempty" yaml:"extra_conflict,omitempty" toml:"extra_conflict,omitempty"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level         string `json:"level" yaml:"level" toml:"level"`
	EnableFile    bool   `json:"enable_file" yaml:"enable_file" toml:"enable_file"`
	EnableConsole bool   `json:"enable_console" yaml:"enable_console" toml:"enable_console"`
	Filename      string `json:"filename" yaml:"filename" toml:"filename"`
	LogDir        string `json:"log_dir,omitempty" yaml:"log_dir,omitempty" toml:"log_dir,omitempty"` // Custom log directory
	MaxSize       int    `json:"max_size" yaml:"max_size" toml:"max_size"`                            // MB
	MaxBackups    int    `json:"max_backups" yaml:"max_backups" toml:"max_backups"`                   // number of backup files
	MaxAge        int    `json:"max_age" yaml:"max_age" toml:"max_age"`                               // days
	Compress      bool   `json:"compress" yaml:"compress" toml:"compress"`
	JSONFormat    bool   `json:"json_format" yaml:"json_format" toml:"json_format"`
}

// BuiltinProfiles returns the profiles available without a config file.
func BuiltinProfiles() map[string]*Profile {
	return map[string]*Profile{
		"expo": {
			Command:     []string{"npx", "expo", "start", "--tunnel", "--port", PortPlaceholder},
			DefaultPort: 8081,
			Tools:       []string{"node", "npm", "npx"},
		},
		"web": {
			Command:     []string{"python3", "-m", "http.server", PortPlaceholder},
			Dir:         "web",
			Env:         map[string]string{"PYTHONUNBUFFERED": "1"},
			DefaultPort: 8000,
			LocalURL:    "http://localhost:{port}/",
			Tools:       []string{"python3"},
		},
	}
}

// DefaultConfig returns the configuration used when nothing is overridden
func DefaultConfig() *Config {
	return &Config{
		Profile:  DefaultProfile,
		Profiles: BuiltinProfiles(),
		Negotiation: NegotiationConfig{
			MaxAttempts:  DefaultMaxAttempts,
			GraceTimeout: Duration(5 * time.Second),
			StallTimeout: Duration(3 * time.Second),
			PartialFlush: Duration(500 * time.Millisecond),
		},
		Tunnel: TunnelConfig{
			Command:         []string{"ngrok", "http", PortPlaceholder, "--log", "stdout"},
			APIURL:          "http://127.0.0.1:4040",
			DiscoverTimeout: Duration(15 * time.Second),
		},
		OpenBrowser: true,
		Tracing: TracingConfig{
			OTLPEndpoint: "localhost:4318",
			SampleRate:   1.0,
		},
	}
}

// ActiveProfile returns the selected profile.
func (c *Config) ActiveProfile() (*Profile, error) {
	return c.GetProfile(c.Profile)
}

// GetProfile returns the named profile.
func (c *Config) GetProfile(name string) (*Profile, error) {
	p, ok := c.Profiles[name]
	if !ok || p == nil {
		return nil, fmt.Errorf("unknown profile %q (available: %s)", name, strings.Join(c.ProfileNames(), ", "))
	}
	return p, nil
}

// ProfileNames returns the configured profile names in order.
func (c *Config) ProfileNames() []string {
	names := make([]string, 0, len(c.Profiles))
	for name := range c.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EnvList renders the profile environment as KEY=VALUE pairs in key order.
func (p *Profile) EnvList() []string {
	keys := make([]string, 0, len(p.Env))
	for k := range p.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+p.Env[k])
	}
	return out
}

// Validate checks the configuration for values the launcher cannot use
func (c *Config) Validate() error {
	var errs []string

	if c.Negotiation.MaxAttempts < 1 {
		errs = append(errs, fmt.Sprintf("negotiation.max_attempts must be positive, got %d", c.Negotiation.MaxAttempts))
	}
	if c.Negotiation.GraceTimeout < 0 || c.Negotiation.StallTimeout < 0 || c.Negotiation.PartialFlush < 0 {
		errs = append(errs, "negotiation timeouts must not be negative")
	}
	if _, ok := c.Profiles[c.Profile]; !ok {
		errs = append(errs, fmt.Sprintf("profile %q is not defined", c.Profile))
	}
	for _, name := range c.ProfileNames() {
		p := c.Profiles[name]
		if p == nil || len(p.Command) == 0 || strings.TrimSpace(p.Command[0]) == "" {
			errs = append(errs, fmt.Sprintf("profile %q: command must not be empty", name))
			continue
		}
		if p.DefaultPort < 1 || p.DefaultPort > 65535 {
			errs = append(errs, fmt.Sprintf("profile %q: default_port %d is out of range", name, p.DefaultPort))
		}
	}
	if c.Tunnel.Enabled && len(c.Tunnel.Command) == 0 {
		errs = append(errs, "tunnel.command must not be empty when the tunnel is enabled")
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Sprintf("tracing.sample_rate must be between 0 and 1, got %v", c.Tracing.SampleRate))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
