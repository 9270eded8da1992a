package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"devlaunch/internal/cli/output"
	"devlaunch/internal/config"
	"devlaunch/internal/deps"
	"devlaunch/internal/launcher"
	"devlaunch/internal/lines"
	"devlaunch/internal/toolcheck"
	"devlaunch/internal/tui"
)

const defaultLocalURL = "http://localhost:{port}"

// expandURL substitutes port into a URL template.
func expandURL(tmpl string, port int) string {
	if tmpl == "" {
		tmpl = defaultLocalURL
	}
	return strings.ReplaceAll(tmpl, config.PortPlaceholder, strconv.Itoa(port))
}

// browserCommand returns the command that opens url on goos.
func browserCommand(goos, url string) []string {
	switch goos {
	case "darwin":
		return []string{"open", url}
	case "windows":
		return []string{"rundll32", "url.dll,FileProtocolHandler", url}
	default:
		return []string{"xdg-open", url}
	}
}

// openBrowser opens url without waiting for the browser. Failures are logged.
func openBrowser(ctx context.Context, goos, url string, logger *zap.Logger) {
	argv := browserCommand(goos, url)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if err := cmd.Start(); err != nil {
		logger.Warn("Failed to open browser", zap.String("url", url), zap.Error(err))
		return
	}
	go func() { _ = cmd.Wait() }()
}

// banner renders the reachable URLs of a running server.
func banner(profile string, port int, localURL, tunnelURL string) string {
	title := fmt.Sprintf("%s dev server ready on port %d", profile, port)
	return tui.Banner(title, map[string]string{
		"Local":  localURL,
		"Public": tunnelURL,
	}, "Local", "Public")
}

// consoleSink prints child output and copies it into the server log. It is
// shared by the dev server and the tunnel, which write concurrently.
type consoleSink struct {
	mu  sync.Mutex
	out io.Writer
	log *zap.Logger
}

func newConsoleSink(out io.Writer, log *zap.Logger) *consoleSink {
	if log == nil {
		log = zap.NewNop()
	}
	return &consoleSink{out: out, log: log}
}

// Line handles one dev server output line.
func (s *consoleSink) Line(l lines.Line) {
	if l.Err != nil {
		s.log.Warn("output stream failed", zap.Error(l.Err))
		return
	}
	s.log.Info(l.Text, zap.String("source", "server"))
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.out, l.Text)
}

// TunnelLine records tunnel output in the log only.
func (s *consoleSink) TunnelLine(l lines.Line) {
	if l.Err != nil {
		return
	}
	s.log.Debug(l.Text, zap.String("source", "tunnel"))
}

// Print writes a message between output lines.
func (s *consoleSink) Print(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.out, text)
}

// structuredErrorFor maps a command error onto the CLI error model.
func structuredErrorFor(err error) output.StructuredError {
	var se output.StructuredError
	if errors.As(err, &se) {
		return se
	}

	var lerr *launcher.Error
	if errors.As(err, &lerr) {
		return launchError(lerr)
	}

	switch {
	case errors.Is(err, context.Canceled):
		return output.NewStructuredError(output.ErrCodeInterrupted, "interrupted")
	case errors.Is(err, deps.ErrNoManifest):
		return output.FromError(err, output.ErrCodeInstallFailed).
			WithGuidance("Run the install from the project directory or pass --dir")
	case errors.Is(err, deps.ErrInstallFailed):
		return output.FromError(err, output.ErrCodeInstallFailed).
			WithGuidance("Check the package manager output above").
			WithRecoveryCommand("devlaunch doctor")
	}
	return output.FromError(err, output.ErrCodeOperationFailed)
}

func launchError(lerr *launcher.Error) output.StructuredError {
	se := output.NewStructuredError(output.ErrCodeLaunchFailed, lerr.Error()).
		WithContext("port", lerr.Port).
		WithContext("attempts", lerr.Attempts)
	if lerr.ExitCode != nil {
		se = se.WithContext("exit_code", *lerr.ExitCode)
	}
	if lerr.Suggestion != "" {
		se = se.WithGuidance(lerr.Suggestion)
	}

	switch lerr.Code {
	case launcher.ErrorCodeSpawnFailure:
		se.Code = output.ErrCodeSpawnFailure
		se.Message = fmt.Sprintf("dev server could not be started on port %d", lerr.Port)
		if se.Guidance == "" {
			se.Guidance = "The command could not be executed; check that it is installed and on PATH"
		}
		se.RecoveryCommand = "devlaunch doctor"
	case launcher.ErrorCodeExhausted:
		se.Code = output.ErrCodePortsExhausted
		se.Message = fmt.Sprintf("no free port after %d attempts (last tried %d)", lerr.Attempts, lerr.Port)
		se.RecoveryCommand = fmt.Sprintf("devlaunch start --port %d", lerr.Port+1)
	case launcher.ErrorCodeDeclined:
		se.Code = output.ErrCodeDeclined
		se.Message = fmt.Sprintf("alternate port declined; port %d is still in use", lerr.Port)
		se.RecoveryCommand = "devlaunch start --port <free port>"
	case launcher.ErrorCodeAborted:
		se.Code = output.ErrCodeInterrupted
		se.Message = fmt.Sprintf("launch interrupted on attempt %d (port %d)", lerr.Attempts, lerr.Port)
	default:
		se.Message = fmt.Sprintf("dev server failed on port %d after %d attempt(s)", lerr.Port, lerr.Attempts)
		if lerr.ExitCode != nil {
			se.Message += fmt.Sprintf(" with exit code %d", *lerr.ExitCode)
		}
		se.RecoveryCommand = "devlaunch logs"
	}
	return se
}

// toolMissingError describes the tools that block a launch.
func toolMissingError(failed []toolcheck.Result) output.StructuredError {
	names := make([]string, 0, len(failed))
	var hints []string
	for _, r := range failed {
		desc := r.Name
		if r.Status == toolcheck.StatusOutdated {
			desc = fmt.Sprintf("%s %s (need %s)", r.Name, r.Version, r.MinVersion)
		}
		names = append(names, desc)
		if r.Hint != "" {
			hints = append(hints, r.Hint)
		}
	}
	return output.NewStructuredError(output.ErrCodeToolMissing,
		"required tools missing or outdated: "+strings.Join(names, ", ")).
		WithGuidance(strings.Join(hints, "; ")).
		WithRecoveryCommand("devlaunch doctor")
}
