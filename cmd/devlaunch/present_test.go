package main

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"devlaunch/internal/cli/output"
	"devlaunch/internal/deps"
	"devlaunch/internal/launcher"
	"devlaunch/internal/lines"
	"devlaunch/internal/toolcheck"
)

func TestExpandURL(t *testing.T) {
	assert.Equal(t, "http://localhost:8082", expandURL("", 8082))
	assert.Equal(t, "http://localhost:8000/", expandURL("http://localhost:{port}/", 8000))
	assert.Equal(t, "http://example.test/", expandURL("http://example.test/", 1))
}

func TestBrowserCommand(t *testing.T) {
	url := "http://localhost:8000/"
	assert.Equal(t, []string{"open", url}, browserCommand("darwin", url))
	assert.Equal(t, []string{"rundll32", "url.dll,FileProtocolHandler", url}, browserCommand("windows", url))
	assert.Equal(t, []string{"xdg-open", url}, browserCommand("linux", url))
	assert.Equal(t, []string{"xdg-open", url}, browserCommand("freebsd", url))
}

func TestBanner(t *testing.T) {
	b := banner("web", 8001, "http://localhost:8001/", "")
	assert.Contains(t, b, "port 8001")
	assert.Contains(t, b, "http://localhost:8001/")
	assert.NotContains(t, b, "Public")

	b = banner("expo", 8081, "http://localhost:8081", "https://abc.ngrok-free.app")
	assert.Contains(t, b, "https://abc.ngrok-free.app")
}

func TestConsoleSink(t *testing.T) {
	core, logged := observer.New(zap.DebugLevel)
	var out bytes.Buffer
	sink := newConsoleSink(&out, zap.New(core))

	sink.Line(lines.Line{Text: "Starting Metro Bundler"})
	sink.Line(lines.Line{Err: errors.New("read failed")})
	sink.TunnelLine(lines.Line{Text: "t=1 lvl=info msg=\"started tunnel\""})
	sink.Print("banner")

	assert.Equal(t, "Starting Metro Bundler\nbanner\n", out.String())
	require.Equal(t, 3, logged.Len())
	assert.Equal(t, "Starting Metro Bundler", logged.All()[0].Message)
	assert.Equal(t, "tunnel", logged.All()[2].ContextMap()["source"])
}

func TestStructuredErrorFor(t *testing.T) {
	code := 1
	tests := []struct {
		name     string
		err      error
		code     string
		contains string
		recovery string
	}{
		{
			name:     "exhausted",
			err:      &launcher.Error{Code: launcher.ErrorCodeExhausted, Port: 8083, Attempts: 3},
			code:     output.ErrCodePortsExhausted,
			contains: "3 attempts",
			recovery: "devlaunch start --port 8084",
		},
		{
			name:     "declined",
			err:      &launcher.Error{Code: launcher.ErrorCodeDeclined, Port: 8081, Attempts: 1},
			code:     output.ErrCodeDeclined,
			contains: "declined",
		},
		{
			name:     "spawn failure",
			err:      &launcher.Error{Code: launcher.ErrorCodeSpawnFailure, Port: 8081, Attempts: 1},
			code:     output.ErrCodeSpawnFailure,
			contains: "could not be started",
			recovery: "devlaunch doctor",
		},
		{
			name:     "failed with exit code",
			err:      &launcher.Error{Code: launcher.ErrorCodeFailed, Port: 8081, Attempts: 1, ExitCode: &code},
			code:     output.ErrCodeLaunchFailed,
			contains: "exit code 1",
			recovery: "devlaunch logs",
		},
		{
			name: "aborted",
			err:  fmt.Errorf("launch: %w", &launcher.Error{Code: launcher.ErrorCodeAborted, Port: 8082, Attempts: 2}),
			code: output.ErrCodeInterrupted,
		},
		{
			name:     "install",
			err:      fmt.Errorf("%w: npm exited with code 1", deps.ErrInstallFailed),
			code:     output.ErrCodeInstallFailed,
			contains: "npm exited",
		},
		{
			name: "structured passes through",
			err:  output.NewStructuredError(output.ErrCodeToolMissing, "node missing"),
			code: output.ErrCodeToolMissing,
		},
		{
			name:     "other",
			err:      errors.New("disk full"),
			code:     output.ErrCodeOperationFailed,
			contains: "disk full",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			se := structuredErrorFor(tt.err)
			assert.Equal(t, tt.code, se.Code)
			if tt.contains != "" {
				assert.Contains(t, se.Message, tt.contains)
			}
			if tt.recovery != "" {
				assert.Equal(t, tt.recovery, se.RecoveryCommand)
			}
		})
	}
}

func TestStructuredErrorFor_CarriesPortAndAttempts(t *testing.T) {
	se := structuredErrorFor(&launcher.Error{Code: launcher.ErrorCodeExhausted, Port: 8083, Attempts: 3})
	assert.Equal(t, 8083, se.Context["port"])
	assert.Equal(t, 3, se.Context["attempts"])
}

func TestToolMissingError(t *testing.T) {
	se := toolMissingError([]toolcheck.Result{
		{Name: "node", Status: toolcheck.StatusOutdated, Version: "16.20.0", MinVersion: "18.0.0", Hint: "install Node.js LTS"},
		{Name: "python3", Status: toolcheck.StatusMissing, Hint: "install Python 3"},
	})
	assert.Equal(t, output.ErrCodeToolMissing, se.Code)
	assert.Contains(t, se.Message, "node 16.20.0 (need 18.0.0)")
	assert.Contains(t, se.Message, "python3")
	assert.True(t, strings.Contains(se.Guidance, "Node.js") && strings.Contains(se.Guidance, "Python"))
	assert.Equal(t, "devlaunch doctor", se.RecoveryCommand)
}
