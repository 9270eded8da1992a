// Package process starts one dev-server child at a time and guarantees it is
// gone, together with its process group, when Terminate returns.
package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrSpawnFailure means the executable could not be located or launched.
	ErrSpawnFailure = errors.New("failed to spawn process")
	// ErrAlreadyTerminated is returned by a second Terminate call.
	ErrAlreadyTerminated = errors.New("process already terminated")
)

// forceWait bounds the wait after the forced kill.
const forceWait = 5 * time.Second

// Spec describes the child to start.
type Spec struct {
	Path string
	Args []string
	Dir  string
	// Env is the complete child environment. Nil inherits the parent's.
	Env []string
}

func (s Spec) String() string {
	return strings.TrimSpace(s.Path + " " + strings.Join(s.Args, " "))
}

// Handle owns one started child process.
type Handle struct {
	cmd       *exec.Cmd
	pid       int
	output    *os.File
	logger    *zap.Logger
	startedAt time.Time

	done     chan struct{}
	exitCode int
	waitErr  error

	mu         sync.Mutex
	terminated bool
}

// Start launches spec in its own process group with stdin bound to the null
// device and stdout and stderr combined on a single pipe.
func Start(spec Spec, logger *zap.Logger) (*Handle, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	path, err := lookPath(spec.Path, spec.Env)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrSpawnFailure, spec.Path, err)
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("%w: create output pipe: %w", ErrSpawnFailure, err)
	}

	cmd := exec.Command(path, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env
	cmd.Stdin = nil
	cmd.Stdout = pw
	cmd.Stderr = pw
	configureProcessGroup(cmd)

	startedAt := time.Now()
	if err := cmd.Start(); err != nil {
		_ = pr.Close()
		_ = pw.Close()
		logger.Error("Failed to start process", zap.String("command", spec.String()), zap.Error(err))
		return nil, fmt.Errorf("%w: %s: %w", ErrSpawnFailure, spec.Path, err)
	}
	// The child holds its own copy of the write end.
	_ = pw.Close()

	h := &Handle{
		cmd:       cmd,
		pid:       cmd.Process.Pid,
		output:    pr,
		logger:    logger.With(zap.Int("pid", cmd.Process.Pid)),
		startedAt: startedAt,
		done:      make(chan struct{}),
	}

	h.logger.Info("Process started",
		zap.String("command", spec.String()),
		zap.String("dir", spec.Dir))

	go h.wait()

	return h, nil
}

func (h *Handle) wait() {
	err := h.cmd.Wait()
	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
			err = nil
		} else {
			code = -1
		}
	}

	h.mu.Lock()
	h.exitCode = code
	h.waitErr = err
	h.mu.Unlock()

	h.logger.Debug("Process exited",
		zap.Int("exit_code", code),
		zap.Duration("runtime", time.Since(h.startedAt)))
	close(h.done)
}

// PID returns the child's process id, which is also its process group id.
func (h *Handle) PID() int { return h.pid }

// StartedAt returns when the child was launched.
func (h *Handle) StartedAt() time.Time { return h.startedAt }

// Output returns the combined stdout and stderr stream. Reads fail with
// os.ErrClosed once the handle is terminated.
func (h *Handle) Output() io.Reader { return h.output }

// Done is closed after the child has exited and been reaped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Exited reports whether the child has been reaped.
func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the child exits and returns its exit code. A child
// killed by a signal reports -1.
func (h *Handle) Wait() (int, error) {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitCode, h.waitErr
}

// Terminate stops the child: a graceful signal to the process group, up to
// grace for it to exit, then a forced kill. The output pipe is released
// before returning. Calling it again returns ErrAlreadyTerminated.
func (h *Handle) Terminate(grace time.Duration) error {
	h.mu.Lock()
	if h.terminated {
		h.mu.Unlock()
		return ErrAlreadyTerminated
	}
	h.terminated = true
	h.mu.Unlock()

	defer func() {
		_ = h.output.Close()
	}()

	if h.Exited() {
		sweepGroup(h.pid, h.logger)
		return nil
	}

	h.logger.Info("Stopping process", zap.Duration("grace", grace))
	if err := signalGroup(h.pid, false); err != nil {
		h.logger.Warn("Failed to send graceful stop signal", zap.Error(err))
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-h.done:
		h.logger.Info("Process stopped gracefully")
		sweepGroup(h.pid, h.logger)
		return nil
	case <-timer.C:
	}

	h.logger.Warn("Process did not stop gracefully, force killing")
	if err := signalGroup(h.pid, true); err != nil {
		h.logger.Error("Failed to force kill process group", zap.Error(err))
	}

	select {
	case <-h.done:
		return nil
	case <-time.After(forceWait):
		return fmt.Errorf("process %d still running after force kill", h.pid)
	}
}

// LookPath resolves file the way Start does, against the PATH in env.
func LookPath(file string, env []string) (string, error) {
	return lookPath(file, env)
}

// lookPath resolves file against the PATH in env, falling back to the
// parent's PATH.
func lookPath(file string, env []string) (string, error) {
	if file == "" {
		return "", exec.ErrNotFound
	}
	if strings.ContainsAny(file, `/\`) {
		return exec.LookPath(file)
	}
	if pathList, ok := envValue(env, "PATH"); ok {
		for _, dir := range filepath.SplitList(pathList) {
			if dir == "" {
				continue
			}
			for _, candidate := range candidates(filepath.Join(dir, file), env) {
				if isExecutable(candidate) {
					return candidate, nil
				}
			}
		}
	}
	return exec.LookPath(file)
}

func envValue(env []string, key string) (string, bool) {
	for i := len(env) - 1; i >= 0; i-- {
		k, v, ok := strings.Cut(env[i], "=")
		if !ok {
			continue
		}
		if k == key || (runtime.GOOS == "windows" && strings.EqualFold(k, key)) {
			return v, true
		}
	}
	return "", false
}

func candidates(base string, env []string) []string {
	if runtime.GOOS != "windows" || filepath.Ext(base) != "" {
		return []string{base}
	}
	exts, ok := envValue(env, "PATHEXT")
	if !ok {
		exts = ".COM;.EXE;.BAT;.CMD"
	}
	var out []string
	for _, ext := range strings.Split(exts, ";") {
		if ext != "" {
			out = append(out, base+strings.ToLower(ext))
		}
	}
	return out
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode()&0o111 != 0
}

// NormalizeCommand adapts argv for goos. On Windows the command is joined
// and run through cmd /C so that npm and npx shims resolve; elsewhere argv
// is returned unchanged.
func NormalizeCommand(goos string, argv []string) []string {
	if goos != "windows" || len(argv) == 0 {
		return argv
	}
	quoted := make([]string, len(argv))
	for i, a := range argv {
		if a == "" || strings.ContainsAny(a, " \t\"") {
			quoted[i] = `"` + strings.ReplaceAll(a, `"`, `\"`) + `"`
		} else {
			quoted[i] = a
		}
	}
	return []string{"cmd", "/C", strings.Join(quoted, " ")}
}

// SplitCommand splits a command line on whitespace, honouring double and
// single quotes.
func SplitCommand(s string) []string {
	var (
		out   []string
		cur   strings.Builder
		quote rune
		open  bool
	)
	for _, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '"' || r == '\'':
			quote = r
			open = true
		case r == ' ' || r == '\t' || r == '\n':
			if open || cur.Len() > 0 {
				out = append(out, cur.String())
				cur.Reset()
				open = false
			}
		default:
			cur.WriteRune(r)
		}
	}
	if open || cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}
