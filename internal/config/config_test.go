package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points HOME and the working directory at empty temp dirs so no
// real config file is picked up.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)
	work := t.TempDir()
	t.Chdir(work)
	return work
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "expo", cfg.Profile)
	assert.Equal(t, 3, cfg.Negotiation.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.Negotiation.GraceTimeout.Std())
	assert.Equal(t, 3*time.Second, cfg.Negotiation.StallTimeout.Std())
	assert.Equal(t, 500*time.Millisecond, cfg.Negotiation.PartialFlush.Std())
	assert.True(t, cfg.OpenBrowser)
	assert.False(t, cfg.Tunnel.Enabled)
	assert.Equal(t, []string{"expo", "web"}, cfg.ProfileNames())

	expo, err := cfg.ActiveProfile()
	require.NoError(t, err)
	assert.Equal(t, 8081, expo.DefaultPort)
	assert.Contains(t, expo.Command, PortPlaceholder)

	web, err := cfg.GetProfile("web")
	require.NoError(t, err)
	assert.Equal(t, 8000, web.DefaultPort)
	assert.Equal(t, "web", web.Dir)
	assert.Equal(t, []string{"PYTHONUNBUFFERED=1"}, web.EnvList())

	require.NoError(t, cfg.Validate())
}

func TestGetProfile_Unknown(t *testing.T) {
	_, err := DefaultConfig().GetProfile("rails")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expo, web")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"zero attempts", func(c *Config) { c.Negotiation.MaxAttempts = 0 }, "max_attempts"},
		{"negative grace", func(c *Config) { c.Negotiation.GraceTimeout = -1 }, "timeouts"},
		{"missing profile", func(c *Config) { c.Profile = "nope" }, `profile "nope" is not defined`},
		{"empty command", func(c *Config) { c.Profiles["web"].Command = nil }, "command must not be empty"},
		{"bad port", func(c *Config) { c.Profiles["expo"].DefaultPort = 70000 }, "out of range"},
		{"tunnel without command", func(c *Config) {
			c.Tunnel.Enabled = true
			c.Tunnel.Command = nil
		}, "tunnel.command"},
		{"sample rate", func(c *Config) { c.Tracing.SampleRate = 2 }, "sample_rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_Formats(t *testing.T) {
	tests := []struct {
		file    string
		content string
	}{
		{"devlaunch.json", `{
  "profile": "api",
  "negotiation": {"max_attempts": 5, "stall_timeout": "1s"},
  "profiles": {"api": {"command": ["go", "run", "."], "port_args": ["-port", "{port}"], "default_port": 9000}}
}`},
		{"devlaunch.yaml", `profile: api
negotiation:
  max_attempts: 5
  stall_timeout: 1s
profiles:
  api:
    command: [go, run, .]
    port_args: ["-port", "{port}"]
    default_port: 9000
`},
		{"devlaunch.toml", `profile = "api"

[negotiation]
max_attempts = 5
stall_timeout = "1s"

[profiles.api]
command = ["go", "run", "."]
port_args = ["-port", "{port}"]
default_port = 9000
`},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			work := isolate(t)
			t.Setenv("DEVLAUNCH_DATA_DIR", filepath.Join(work, "data"))
			require.NoError(t, os.WriteFile(filepath.Join(work, tt.file), []byte(tt.content), 0600))

			cfg, source, err := LoadWithSource("")
			require.NoError(t, err)
			assert.Equal(t, tt.file, source)
			assert.Equal(t, "api", cfg.Profile)
			assert.Equal(t, 5, cfg.Negotiation.MaxAttempts)
			assert.Equal(t, time.Second, cfg.Negotiation.StallTimeout.Std())
			// untouched values keep their defaults
			assert.Equal(t, 5*time.Second, cfg.Negotiation.GraceTimeout.Std())

			p, err := cfg.ActiveProfile()
			require.NoError(t, err)
			assert.Equal(t, []string{"go", "run", "."}, p.Command)
			assert.Equal(t, []string{"-port", "{port}"}, p.PortArgs)
			assert.Equal(t, 9000, p.DefaultPort)

			// built-in profiles remain available
			_, err = cfg.GetProfile("expo")
			assert.NoError(t, err)
			assert.DirExists(t, filepath.Join(work, "data"))
		})
	}
}

func TestLoad_EmptyFileMeansDefaults(t *testing.T) {
	work := isolate(t)
	path := filepath.Join(work, "empty.json")
	require.NoError(t, os.WriteFile(path, nil, 0600))
	t.Setenv("DEVLAUNCH_DATA_DIR", filepath.Join(work, "data"))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultProfile, cfg.Profile)
}

func TestLoad_DefaultDataDir(t *testing.T) {
	isolate(t)
	home := os.Getenv("HOME")

	cfg, source, err := LoadWithSource("")
	require.NoError(t, err)
	assert.Empty(t, source)
	assert.Equal(t, filepath.Join(home, DefaultDataDir), cfg.DataDir)
}

func TestLoad_EnvOverrides(t *testing.T) {
	work := isolate(t)
	t.Setenv("DEVLAUNCH_DATA_DIR", filepath.Join(work, "data"))
	t.Setenv("DEVLAUNCH_PROFILE", "web")
	t.Setenv("DEVLAUNCH_NEGOTIATION_MAX_ATTEMPTS", "7")
	t.Setenv("DEVLAUNCH_NEGOTIATION_GRACE_TIMEOUT", "250ms")
	t.Setenv("DEVLAUNCH_TUNNEL_ENABLED", "true")
	t.Setenv("DEVLAUNCH_STATUS_LISTEN", "127.0.0.1:0")
	t.Setenv("DEVLAUNCH_LOGGING_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "web", cfg.Profile)
	assert.Equal(t, 7, cfg.Negotiation.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Negotiation.GraceTimeout.Std())
	assert.True(t, cfg.Tunnel.Enabled)
	assert.Equal(t, "127.0.0.1:0", cfg.StatusListen)
	require.NotNil(t, cfg.Logging)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_Errors(t *testing.T) {
	work := isolate(t)
	t.Setenv("DEVLAUNCH_DATA_DIR", filepath.Join(work, "data"))

	_, err := Load(filepath.Join(work, "missing.json"))
	require.Error(t, err)

	bad := filepath.Join(work, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"profile":`), 0600))
	_, err = Load(bad)
	require.Error(t, err)

	invalid := filepath.Join(work, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("negotiation:\n  max_attempts: 0\n"), 0600))
	_, err = Load(invalid)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")

	t.Setenv("DEVLAUNCH_NEGOTIATION_STALL_TIMEOUT", "soon")
	_, err = Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DEVLAUNCH_NEGOTIATION_STALL_TIMEOUT")
}

func TestSaveConfig_RoundTripsThroughLoad(t *testing.T) {
	for _, name := range []string{"out.json", "out.yaml", "out.toml"} {
		t.Run(name, func(t *testing.T) {
			work := isolate(t)
			cfg := DefaultConfig()
			cfg.DataDir = filepath.Join(work, "data")
			cfg.Profile = "web"
			cfg.Negotiation.StallTimeout = Duration(2 * time.Second)

			path := filepath.Join(work, name)
			require.NoError(t, SaveConfig(cfg, path))

			loaded, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, "web", loaded.Profile)
			assert.Equal(t, 2*time.Second, loaded.Negotiation.StallTimeout.Std())
			assert.Equal(t, cfg.Profiles["web"].Env, loaded.Profiles["web"].Env)
		})
	}
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte(" 1m30s ")))
	assert.Equal(t, 90*time.Second, d.Std())
	assert.Equal(t, "1m30s", d.String())
	assert.Error(t, d.UnmarshalText([]byte("ten")))
}
