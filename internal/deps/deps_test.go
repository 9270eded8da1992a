package deps

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devlaunch/internal/launcher"
	"devlaunch/internal/lines"
)

type scriptedProcess struct {
	out  *io.PipeReader
	w    *io.PipeWriter
	done chan struct{}
	code int
	once sync.Once

	mu         sync.Mutex
	terminated int
}

func newScriptedProcess(code int, output ...string) *scriptedProcess {
	r, w := io.Pipe()
	p := &scriptedProcess{out: r, w: w, done: make(chan struct{}), code: code}
	if output != nil {
		go func() {
			for _, l := range output {
				fmt.Fprintln(w, l)
			}
			p.exit()
		}()
	}
	return p
}

func (p *scriptedProcess) exit() {
	p.once.Do(func() {
		_ = p.w.Close()
		close(p.done)
	})
}

func (p *scriptedProcess) PID() int              { return 1 }
func (p *scriptedProcess) Output() io.Reader     { return p.out }
func (p *scriptedProcess) Done() <-chan struct{} { return p.done }
func (p *scriptedProcess) Wait() (int, error)    { <-p.done; return p.code, nil }
func (p *scriptedProcess) Terminate(time.Duration) error {
	p.mu.Lock()
	p.terminated++
	p.mu.Unlock()
	p.exit()
	return nil
}

func projectDir(t *testing.T, files ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, f := range files {
		require.NoError(t, os.MkdirAll(filepath.Dir(filepath.Join(dir, f)), 0755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, f), []byte("{}"), 0600))
	}
	return dir
}

func TestCommand(t *testing.T) {
	tests := []struct {
		files []string
		want  string
	}{
		{[]string{"package.json"}, "npm install"},
		{[]string{"package.json", "package-lock.json"}, "npm ci"},
		{[]string{"package.json", "npm-shrinkwrap.json"}, "npm ci"},
		{[]string{"package.json", "yarn.lock"}, "yarn install --frozen-lockfile"},
		{[]string{"package.json", "pnpm-lock.yaml", "yarn.lock"}, "pnpm install --frozen-lockfile"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := Installer{Dir: projectDir(t, tt.files...)}.Command()
			assert.Equal(t, tt.want, strings.Join(got, " "))
		})
	}
}

func TestNeedsInstall(t *testing.T) {
	assert.False(t, Installer{Dir: projectDir(t)}.NeedsInstall())
	assert.True(t, Installer{Dir: projectDir(t, "package.json")}.NeedsInstall())
	assert.False(t, Installer{Dir: projectDir(t, "package.json", "node_modules/.package-lock.json")}.NeedsInstall())
}

func TestRun_StreamsOutput(t *testing.T) {
	proc := newScriptedProcess(0, "added 120 packages", "found 0 vulnerabilities")
	var got []string
	inst := Installer{
		Dir: projectDir(t, "package.json"),
		Sink: func(l lines.Line) {
			if l.Err == nil {
				got = append(got, l.Text)
			}
		},
		Starter: launcher.StarterFunc(func(int) (launcher.Process, error) { return proc, nil }),
	}

	require.NoError(t, inst.Run(context.Background()))
	assert.Equal(t, []string{"added 120 packages", "found 0 vulnerabilities"}, got)
	assert.Equal(t, 1, proc.terminated, "handle released after exit")
}

func TestRun_NonZeroExit(t *testing.T) {
	proc := newScriptedProcess(1, "npm ERR! code ERESOLVE")
	inst := Installer{
		Dir:     projectDir(t, "package.json", "package-lock.json"),
		Starter: launcher.StarterFunc(func(int) (launcher.Process, error) { return proc, nil }),
	}
	err := inst.Run(context.Background())
	require.ErrorIs(t, err, ErrInstallFailed)
	assert.Contains(t, err.Error(), "npm exited with code 1")
}

func TestRun_Cancelled(t *testing.T) {
	proc := newScriptedProcess(0)
	inst := Installer{
		Dir:     projectDir(t, "package.json"),
		Starter: launcher.StarterFunc(func(int) (launcher.Process, error) { return proc, nil }),
	}
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	err := inst.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, proc.terminated)
}

func TestRun_NoManifest(t *testing.T) {
	err := Installer{Dir: projectDir(t)}.Run(context.Background())
	assert.ErrorIs(t, err, ErrNoManifest)
}

func TestRun_RealPackageManager(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script fixture")
	}
	bin := t.TempDir()
	script := "#!/bin/sh\necho \"fake npm $*\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(bin, "npm"), []byte(script), 0755))

	var got []string
	inst := Installer{
		Dir:  projectDir(t, "package.json", "package-lock.json"),
		Env:  []string{"PATH=" + bin},
		Sink: func(l lines.Line) { got = append(got, l.Text) },
	}
	require.NoError(t, inst.Run(context.Background()))
	assert.Contains(t, got, "fake npm ci")
}
