package secureenv

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingRegistrar struct{ values []string }

func (r *recordingRegistrar) RegisterSecret(v string) { r.values = append(r.values, v) }

func envMap(env []string) map[string]string {
	out := make(map[string]string, len(env))
	for _, kv := range env {
		k, v, _ := strings.Cut(kv, "=")
		out[k] = v
	}
	return out
}

func TestDefaultEnvConfig(t *testing.T) {
	unix := defaultEnvConfig("linux")
	assert.True(t, unix.InheritSystemSafe)
	assert.True(t, unix.EnhancePath)
	assert.Contains(t, unix.AllowedSystemVars, "PATH")
	assert.Contains(t, unix.AllowedSystemVars, "EXPO_*")
	assert.Contains(t, unix.AllowedSystemVars, "XDG_STATE_HOME")
	assert.NotContains(t, unix.AllowedSystemVars, "COMSPEC")

	win := defaultEnvConfig("windows")
	assert.Contains(t, win.AllowedSystemVars, "COMSPEC")
	assert.Contains(t, win.AllowedSystemVars, "PATHEXT")
}

func TestBuild_FiltersAndLayers(t *testing.T) {
	home := t.TempDir()
	host := []string{
		"PATH=/a:/b:/c",
		"HOME=" + home,
		"AWS_SECRET_ACCESS_KEY=nope",
		"EXPO_TOKEN=expo-secret-123",
		"LC_ALL=C",
		"NODE_ENV=production",
		"MALFORMED",
	}
	cfg := defaultEnvConfig("linux")
	cfg.EnhancePath = false
	cfg.CustomVars = map[string]string{"NODE_ENV": "development", "EXTRA": "1"}

	reg := &recordingRegistrar{}
	m := NewManager(cfg, WithSystem("linux", home, func() []string { return host }), WithSecretRegistrar(reg))

	env := m.Build(map[string]string{"EXTRA": "2", "PYTHONUNBUFFERED": "1"})
	got := envMap(env)

	assert.Equal(t, "/a:/b:/c", got["PATH"])
	assert.Equal(t, "C", got["LC_ALL"])
	assert.Equal(t, "development", got["NODE_ENV"], "custom overrides inherited")
	assert.Equal(t, "2", got["EXTRA"], "profile overrides custom")
	assert.Equal(t, "1", got["PYTHONUNBUFFERED"])
	assert.NotContains(t, got, "AWS_SECRET_ACCESS_KEY")
	assert.NotContains(t, got, "MALFORMED")

	assert.True(t, strings.HasPrefix(env[0], "EXPO_TOKEN="), "sorted by key: %v", env)
	assert.Equal(t, []string{"expo-secret-123"}, reg.values)
}

func TestBuild_NoInheritance(t *testing.T) {
	m := NewManager(&EnvConfig{CustomVars: map[string]string{"A": "1"}},
		WithSystem("linux", "", func() []string { return []string{"PATH=/usr/bin"} }))
	assert.Equal(t, []string{"A=1"}, m.Build(nil))
}

func TestEnhancePath(t *testing.T) {
	home := t.TempDir()
	localBin := filepath.Join(home, ".local", "bin")
	require.NoError(t, os.MkdirAll(localBin, 0755))

	m := NewManager(nil, WithSystem("linux", home, func() []string { return nil }))
	require.Contains(t, m.DiscoveredPaths(), localBin)

	t.Run("minimal path gets discovered dirs first", func(t *testing.T) {
		got := strings.Split(m.enhancePath("/usr/bin"), ":")
		assert.Equal(t, "/usr/bin", got[len(got)-1])
		assert.Contains(t, got, localBin)
	})

	t.Run("full path gets missing dirs appended without duplicates", func(t *testing.T) {
		got := strings.Split(m.enhancePath("/x:/y:/z:"+localBin), ":")
		assert.Equal(t, []string{"/x", "/y", "/z", localBin}, got[:4])
		count := 0
		for _, p := range got {
			if p == localBin {
				count++
			}
		}
		assert.Equal(t, 1, count)
	})

	t.Run("empty path", func(t *testing.T) {
		assert.Contains(t, m.enhancePath(""), localBin)
	})
}

func TestPathKey_Windows(t *testing.T) {
	m := NewManager(nil, WithSystem("windows", "", func() []string {
		return []string{`Path=C:\bin;C:\tools;C:\more`}
	}))
	got := envMap(m.Build(nil))
	assert.Contains(t, got, "Path")
	assert.NotContains(t, got, "PATH")
	assert.True(t, strings.HasPrefix(got["Path"], `C:\bin;C:\tools;C:\more`))
}

func TestIsSecretKey(t *testing.T) {
	for _, k := range []string{"EXPO_TOKEN", "NGROK_AUTHTOKEN", "API_KEY", "db_password", "CLIENT_SECRET"} {
		assert.True(t, IsSecretKey(k), k)
	}
	for _, k := range []string{"PATH", "NODE_ENV", "PORT"} {
		assert.False(t, IsSecretKey(k), k)
	}
}

func TestIsKeyAllowed(t *testing.T) {
	m := NewManager(&EnvConfig{
		AllowedSystemVars: []string{"PATH", "LC_*"},
		CustomVars:        map[string]string{"MINE": "x"},
	}, WithSystem("linux", "", func() []string { return nil }))

	tests := []struct {
		key  string
		want bool
	}{
		{"PATH", true},
		{"path", true},
		{"LC_TIME", true},
		{"MINE", true},
		{"HOME", false},
		{"LCX", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, m.isKeyAllowed(tt.key), tt.key)
	}
}
