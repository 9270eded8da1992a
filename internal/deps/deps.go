// Package deps installs a project's JavaScript dependencies before the dev
// server starts.
package deps

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"devlaunch/internal/launcher"
	"devlaunch/internal/lines"
)

var (
	// ErrNoManifest means the directory has no package.json.
	ErrNoManifest = errors.New("no package.json found")
	// ErrInstallFailed means the package manager exited non-zero.
	ErrInstallFailed = errors.New("dependency installation failed")
)

const (
	terminateGrace = 5 * time.Second
	exitDrain      = 2 * time.Second
)

// Installer runs the package manager in Dir.
type Installer struct {
	Dir    string
	Env    []string
	Logger *zap.Logger
	// Sink receives every output line
	Sink func(lines.Line)
	// Starter overrides process creation; for tests
	Starter launcher.Starter
}

// lockfiles map to the install command that honours them, in priority order.
var lockfiles = []struct {
	name string
	argv []string
}{
	{"package-lock.json", []string{"npm", "ci"}},
	{"npm-shrinkwrap.json", []string{"npm", "ci"}},
	{"pnpm-lock.yaml", []string{"pnpm", "install", "--frozen-lockfile"}},
	{"yarn.lock", []string{"yarn", "install", "--frozen-lockfile"}},
}

// Command returns the install command for Dir: a clean install when a
// lockfile exists, otherwise npm install.
func (i Installer) Command() []string {
	for _, lf := range lockfiles {
		if fileExists(filepath.Join(i.Dir, lf.name)) {
			return append([]string(nil), lf.argv...)
		}
	}
	return []string{"npm", "install"}
}

// NeedsInstall reports whether Dir has a package.json but no node_modules.
func (i Installer) NeedsInstall() bool {
	return fileExists(filepath.Join(i.Dir, "package.json")) &&
		!fileExists(filepath.Join(i.Dir, "node_modules"))
}

// Run installs dependencies, streaming the output to Sink. Cancelling ctx
// terminates the package manager.
func (i Installer) Run(ctx context.Context) error {
	logger := i.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if !fileExists(filepath.Join(i.Dir, "package.json")) {
		return fmt.Errorf("%w in %s", ErrNoManifest, i.Dir)
	}

	argv := i.Command()
	starter := i.Starter
	if starter == nil {
		starter = launcher.CommandStarter{Argv: argv, Dir: i.Dir, Env: i.Env, Logger: logger}
	}

	logger.Info("Installing dependencies", zap.Strings("command", argv), zap.String("dir", i.Dir))
	started := time.Now()
	proc, err := starter.Start(0)
	if err != nil {
		return fmt.Errorf("failed to start %s: %w", argv[0], err)
	}

	pumpCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	output := lines.Pump(pumpCtx, proc.Output(), lines.Options{})

	for {
		select {
		case <-ctx.Done():
			if err := proc.Terminate(terminateGrace); err != nil {
				logger.Warn("Failed to terminate installer", zap.Error(err))
			}
			return ctx.Err()
		case line, ok := <-output:
			if !ok {
				output = nil
				continue
			}
			if i.Sink != nil {
				i.Sink(line)
			}
			if line.Err == nil {
				logger.Debug("install output", zap.String("line", line.Text))
			}
		case <-proc.Done():
			i.drain(output)
			code, waitErr := proc.Wait()
			// reaps without signalling and releases the pipe
			_ = proc.Terminate(0)
			logger.Info("Dependency installation finished",
				zap.Int("exit_code", code),
				zap.Duration("duration", time.Since(started)))
			if code != 0 {
				return fmt.Errorf("%w: %s exited with code %d", ErrInstallFailed, argv[0], code)
			}
			if waitErr != nil {
				return fmt.Errorf("%w: %w", ErrInstallFailed, waitErr)
			}
			return nil
		}
	}
}

// drain forwards output still buffered after the process exited, bounded in
// case a grandchild keeps the pipe open.
func (i Installer) drain(output <-chan lines.Line) {
	if output == nil {
		return
	}
	timeout := time.NewTimer(exitDrain)
	defer timeout.Stop()
	for {
		select {
		case line, ok := <-output:
			if !ok {
				return
			}
			if i.Sink != nil {
				i.Sink(line)
			}
		case <-timeout.C:
			return
		}
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
