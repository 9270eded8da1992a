package logs

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"devlaunch/internal/config"
)

func captureConsole(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := consoleOutput
	consoleOutput = &buf
	t.Cleanup(func() { consoleOutput = prev })
	return &buf
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"trace": zap.DebugLevel,
		"debug": zap.DebugLevel,
		"info":  zap.InfoLevel,
		"warn":  zap.WarnLevel,
		"error": zap.ErrorLevel,
		"loud":  zap.InfoLevel,
		"":      zap.InfoLevel,
	}
	for name, want := range tests {
		assert.Equal(t, want, ParseLevel(name), name)
	}
}

func TestSetupLogger_Console(t *testing.T) {
	buf := captureConsole(t)

	logger, err := SetupLogger(&config.LogConfig{Level: "warn", EnableConsole: true})
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("Port conflict detected", zap.Int("port", 8081))
	require.NoError(t, logger.Sync())

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "Port conflict detected")
	assert.Contains(t, out, "8081")
}

func TestSetupLogger_NoOutputs(t *testing.T) {
	_, err := SetupLogger(&config.LogConfig{Level: "info"})
	assert.Error(t, err)
}

func TestSetupLogger_FileJSON(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultLogConfig()
	cfg.EnableConsole = false
	cfg.EnableFile = true
	cfg.JSONFormat = true
	cfg.LogDir = dir

	logger, err := SetupLogger(cfg)
	require.NoError(t, err)
	logger.Info("Dev server ready", zap.Int("port", 8082))
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(filepath.Join(dir, cfg.Filename))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"Dev server ready"`)
	assert.Contains(t, string(data), `"port":8082`)
}

func TestSetupCommandLogger_Levels(t *testing.T) {
	captureConsole(t)

	logger, _, err := SetupCommandLogger(true, "", false, "")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zap.InfoLevel))

	logger, _, err = SetupCommandLogger(false, "", false, "")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zap.InfoLevel))
	assert.True(t, logger.Core().Enabled(zap.WarnLevel))

	logger, _, err = SetupCommandLogger(false, "debug", false, "")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zap.DebugLevel))
}

func TestSetupSanitizedLogger_MasksRegisteredSecret(t *testing.T) {
	buf := captureConsole(t)

	logger, sanitizer, err := SetupSanitizedLogger(&config.LogConfig{Level: "info", EnableConsole: true})
	require.NoError(t, err)
	sanitizer.RegisterSecret("s3cr3t-value-123")
	logger.Info("child env", zap.String("value", "token is s3cr3t-value-123"))
	require.NoError(t, logger.Sync())

	assert.NotContains(t, buf.String(), "s3cr3t-value-123")
	assert.Contains(t, buf.String(), "s3c***23")
}

func TestServerOutputLogger_AndTail(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultLogConfig()
	cfg.LogDir = dir

	logger, err := CreateServerOutputLogger(cfg, "expo")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		logger.Info("Metro waiting on exp://192.168.1.2:8081")
	}
	logger.Info("NGROK_AUTHTOKEN=2abcdefghijklmnopqrstuv")
	require.NoError(t, logger.Sync())

	tail, err := ReadServerLogTail(dir, "expo", 2)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Contains(t, tail[0], "Metro waiting")
	assert.Contains(t, tail[1], "NGROK_AUTHTOKEN=2ab***uv")
	assert.NotContains(t, strings.Join(tail, "\n"), "2abcdefghijklmnopqrstuv")
}

func TestReadServerLogTail_Missing(t *testing.T) {
	tail, err := ReadServerLogTail(t.TempDir(), "web", 10)
	require.NoError(t, err)
	assert.Empty(t, tail)
}

func TestReadServerLogTail_LongLine(t *testing.T) {
	dir := t.TempDir()
	path, err := GetLogFilePathWithDir(dir, ServerLogName("web"))
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	content := strings.Repeat("x", 100*1024) + "\nServing HTTP on :: port 8000\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	tail, err := ReadServerLogTail(dir, "web", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"Serving HTTP on :: port 8000"}, tail)
}
