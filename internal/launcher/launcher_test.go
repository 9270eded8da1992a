package launcher

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"devlaunch/internal/lines"
	"devlaunch/internal/negotiate"
	"devlaunch/internal/process"
)

// fakeProcess is a child whose output is written by the test.
type fakeProcess struct {
	pid  int
	pr   *io.PipeReader
	pw   *io.PipeWriter
	done chan struct{}
	once sync.Once

	mu         sync.Mutex
	code       int
	terminated int
}

func newFakeProcess(pid int) *fakeProcess {
	pr, pw := io.Pipe()
	return &fakeProcess{pid: pid, pr: pr, pw: pw, done: make(chan struct{})}
}

func (p *fakeProcess) PID() int              { return p.pid }
func (p *fakeProcess) Output() io.Reader     { return p.pr }
func (p *fakeProcess) Done() <-chan struct{} { return p.done }

func (p *fakeProcess) Wait() (int, error) {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.code, nil
}

func (p *fakeProcess) exit(code int) {
	p.once.Do(func() {
		p.mu.Lock()
		p.code = code
		p.mu.Unlock()
		_ = p.pw.Close()
		close(p.done)
	})
}

func (p *fakeProcess) Terminate(time.Duration) error {
	p.mu.Lock()
	p.terminated++
	p.mu.Unlock()
	p.exit(-1)
	_ = p.pr.Close()
	return nil
}

func (p *fakeProcess) Terminated() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated
}

// script is what one attempt prints and whether it then exits.
type script struct {
	lines   []string
	exit    *int
	readErr error
}

func exitWith(code int) *int { return &code }

type fakeStarter struct {
	mu      sync.Mutex
	scripts []script
	ports   []int
	procs   []*fakeProcess
	err     error
}

func (s *fakeStarter) Start(port int) (Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	idx := len(s.ports)
	s.ports = append(s.ports, port)
	sc := s.scripts[len(s.scripts)-1]
	if idx < len(s.scripts) {
		sc = s.scripts[idx]
	}
	p := newFakeProcess(1000 + idx)
	s.procs = append(s.procs, p)
	go func() {
		for _, l := range sc.lines {
			if _, err := p.pw.Write([]byte(l + "\n")); err != nil {
				return
			}
		}
		if sc.readErr != nil {
			_ = p.pw.CloseWithError(sc.readErr)
			return
		}
		if sc.exit != nil {
			p.exit(*sc.exit)
		}
	}()
	return p, nil
}

func (s *fakeStarter) Ports() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.ports...)
}

type fakeGate struct {
	interactive bool
	answers     []bool
	block       bool

	mu    sync.Mutex
	asked []string
}

func (g *fakeGate) IsInteractive() bool { return g.interactive }

func (g *fakeGate) Confirm(ctx context.Context, message string) (bool, error) {
	g.mu.Lock()
	g.asked = append(g.asked, message)
	blocked := g.block
	var answer bool
	if len(g.answers) > 0 {
		answer = g.answers[0]
		g.answers = g.answers[1:]
	}
	g.mu.Unlock()
	if blocked {
		<-ctx.Done()
		return false, ctx.Err()
	}
	return answer, nil
}

type recorder struct {
	transitions []negotiate.Transition
	attempts    []negotiate.Attempt
	result      *negotiate.State
}

func (r *recorder) ObserveTransition(t negotiate.Transition) {
	r.transitions = append(r.transitions, t)
}
func (r *recorder) ObserveAttempt(a negotiate.Attempt) { r.attempts = append(r.attempts, a) }
func (r *recorder) ObserveResult(s negotiate.State, _ time.Duration) {
	r.result = &s
}

var expoConflict = script{lines: []string{
	"Starting project at /app",
	"Port 8081 is being used by another process",
	"Use port 8082 instead?",
	"Input is required, but 'npx expo' is in non-interactive mode.",
}}

var expoReady = script{lines: []string{
	"Starting Metro Bundler",
	"Logs for your project will appear below.",
}}

func baseOptions(t *testing.T, starter Starter, gate *fakeGate) Options {
	return Options{
		InitialPort:  8081,
		MaxAttempts:  3,
		GraceTimeout: 100 * time.Millisecond,
		Starter:      starter,
		Gate:         gate,
		Logger:       zaptest.NewLogger(t),
	}
}

func TestRun_ReadyFirstAttempt(t *testing.T) {
	starter := &fakeStarter{scripts: []script{expoReady}}
	var seen []string
	opts := baseOptions(t, starter, &fakeGate{})
	opts.Sink = func(l lines.Line) { seen = append(seen, l.Text) }

	srv, err := Run(context.Background(), opts)
	require.NoError(t, err)
	defer srv.Stop(time.Second)

	assert.Equal(t, 8081, srv.Port)
	assert.Equal(t, 1, srv.Attempts)
	assert.Equal(t, []int{8081}, starter.Ports())
	assert.Equal(t, expoReady.lines, seen)
	assert.Zero(t, starter.procs[0].Terminated())
}

func TestRun_NonInteractiveRestartsOnSuggestedPort(t *testing.T) {
	starter := &fakeStarter{scripts: []script{expoConflict, expoReady}}
	gate := &fakeGate{interactive: false}

	srv, err := Run(context.Background(), baseOptions(t, starter, gate))
	require.NoError(t, err)
	defer srv.Stop(time.Second)

	assert.Equal(t, 8082, srv.Port)
	assert.Equal(t, 2, srv.Attempts)
	assert.Equal(t, []int{8081, 8082}, starter.Ports())
	assert.Empty(t, gate.asked)
	assert.Equal(t, 1, starter.procs[0].Terminated(), "first child must be stopped before restart")
}

func TestRun_InteractiveAccept(t *testing.T) {
	starter := &fakeStarter{scripts: []script{expoConflict, expoReady}}
	gate := &fakeGate{interactive: true, answers: []bool{true}}

	srv, err := Run(context.Background(), baseOptions(t, starter, gate))
	require.NoError(t, err)
	defer srv.Stop(time.Second)

	assert.Equal(t, 8082, srv.Port)
	require.Len(t, gate.asked, 1)
	assert.Equal(t, "Port 8081 is in use. Use port 8082 instead?", gate.asked[0])
}

func TestRun_InteractiveDecline(t *testing.T) {
	starter := &fakeStarter{scripts: []script{expoConflict}}
	gate := &fakeGate{interactive: true, answers: []bool{false}}

	srv, err := Run(context.Background(), baseOptions(t, starter, gate))
	require.Error(t, err)
	assert.Nil(t, srv)
	assert.ErrorIs(t, err, ErrDeclined)
	assert.NotErrorIs(t, err, ErrExhausted)

	var lerr *Error
	require.True(t, errors.As(err, &lerr))
	assert.Equal(t, 8081, lerr.Port)
	assert.Equal(t, 1, lerr.Attempts)
	assert.Equal(t, 1, starter.procs[0].Terminated())
	assert.Equal(t, []int{8081}, starter.Ports())
}

func TestRun_Exhausted(t *testing.T) {
	conflictEveryTime := script{lines: []string{"OSError: [Errno 98] Address already in use"}, exit: exitWith(1)}
	starter := &fakeStarter{scripts: []script{conflictEveryTime}}
	rec := &recorder{}
	opts := baseOptions(t, starter, &fakeGate{})
	opts.Recorder = rec

	_, err := Run(context.Background(), opts)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExhausted)

	var lerr *Error
	require.True(t, errors.As(err, &lerr))
	assert.Equal(t, 3, lerr.Attempts)
	assert.Equal(t, 8083, lerr.Port)
	assert.Equal(t, []int{8081, 8082, 8083}, starter.Ports())

	require.Len(t, rec.attempts, 3)
	for _, a := range rec.attempts {
		assert.Equal(t, negotiate.OutcomeConflict, a.Outcome)
	}
	require.NotNil(t, rec.result)
	assert.Equal(t, negotiate.PhaseExhausted, rec.result.Phase)
}

func TestRecorders_FanOut(t *testing.T) {
	starter := &fakeStarter{scripts: []script{expoReady}}
	first, second := &recorder{}, &recorder{}
	opts := baseOptions(t, starter, &fakeGate{})
	opts.Recorder = Recorders{first, second}

	srv, err := Run(context.Background(), opts)
	require.NoError(t, err)
	defer srv.Stop(time.Second)

	for _, rec := range []*recorder{first, second} {
		require.NotNil(t, rec.result)
		assert.Equal(t, negotiate.PhaseReady, rec.result.Phase)
		assert.Len(t, rec.attempts, 1)
		assert.NotEmpty(t, rec.transitions)
	}
	assert.Equal(t, first.transitions, second.transitions)
}

func TestRun_ExitAfterConflictWithoutSuggestion(t *testing.T) {
	starter := &fakeStarter{scripts: []script{
		{lines: []string{"Error: listen EADDRINUSE: address already in use :::8081"}, exit: exitWith(1)},
		expoReady,
	}}

	srv, err := Run(context.Background(), baseOptions(t, starter, &fakeGate{}))
	require.NoError(t, err)
	defer srv.Stop(time.Second)
	assert.Equal(t, []int{8081, 8082}, starter.Ports())
}

func TestRun_ExitWithoutConflictFails(t *testing.T) {
	starter := &fakeStarter{scripts: []script{{lines: []string{"SyntaxError: unexpected token"}, exit: exitWith(2)}}}

	_, err := Run(context.Background(), baseOptions(t, starter, &fakeGate{}))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFailed)

	var lerr *Error
	require.True(t, errors.As(err, &lerr))
	require.NotNil(t, lerr.ExitCode)
	assert.Equal(t, 2, *lerr.ExitCode)
	assert.Equal(t, []int{8081}, starter.Ports())
}

func TestRun_ReadErrorAfterConflictRestarts(t *testing.T) {
	starter := &fakeStarter{scripts: []script{
		{
			lines:   []string{"Port 8081 is being used by another process", "Use port 8082 instead?"},
			readErr: errors.New("read |0: broken pipe"),
		},
		expoReady,
	}}

	srv, err := Run(context.Background(), baseOptions(t, starter, &fakeGate{}))
	require.NoError(t, err)
	defer srv.Stop(time.Second)
	assert.Equal(t, 8082, srv.Port)
	assert.Equal(t, 2, srv.Attempts)
	assert.Equal(t, []int{8081, 8082}, starter.Ports())
}

func TestRun_ReadErrorWithoutConflictFails(t *testing.T) {
	starter := &fakeStarter{scripts: []script{
		{lines: []string{"Starting project at /app"}, readErr: errors.New("read |0: broken pipe")},
	}}

	_, err := Run(context.Background(), baseOptions(t, starter, &fakeGate{}))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFailed)
	assert.ErrorIs(t, err, lines.ErrIOFailure)
	assert.Equal(t, []int{8081}, starter.Ports())
	assert.Equal(t, 1, starter.procs[0].Terminated())
}

func TestRun_TunnelURLOfTerminatedAttemptDropped(t *testing.T) {
	starter := &fakeStarter{scripts: []script{
		{lines: []string{
			"Port 8081 is being used by another process",
			"https://dead-attempt.ngrok-free.app",
			"Use port 8082 instead?",
			"Input is required, but 'npx expo' is in non-interactive mode.",
		}},
		expoReady,
	}}

	srv, err := Run(context.Background(), baseOptions(t, starter, &fakeGate{}))
	require.NoError(t, err)
	defer srv.Stop(time.Second)
	assert.Equal(t, 8082, srv.Port)
	assert.Equal(t, 2, srv.Attempts)
	assert.Empty(t, srv.TunnelURL)
	assert.Equal(t, 1, starter.procs[0].Terminated())
}

func TestRun_SpawnFailure(t *testing.T) {
	cause := errors.New("exec: \"npx\": executable file not found in $PATH")
	starter := &fakeStarter{err: errors.Join(process.ErrSpawnFailure, cause)}

	_, err := Run(context.Background(), baseOptions(t, starter, &fakeGate{}))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSpawnFailure)
	assert.ErrorIs(t, err, process.ErrSpawnFailure)

	var lerr *Error
	require.True(t, errors.As(err, &lerr))
	assert.Equal(t, ErrorCodeSpawnFailure, lerr.Code)
	assert.Equal(t, 1, lerr.Attempts)
}

func TestRun_StallResolvesPrompt(t *testing.T) {
	starter := &fakeStarter{scripts: []script{
		{lines: []string{"Port 8081 is being used by another process", "Use port 8085 instead?"}},
		expoReady,
	}}
	opts := baseOptions(t, starter, &fakeGate{})
	opts.StallTimeout = 50 * time.Millisecond

	srv, err := Run(context.Background(), opts)
	require.NoError(t, err)
	defer srv.Stop(time.Second)
	assert.Equal(t, 8085, srv.Port)
}

func TestRun_AbortWhileReading(t *testing.T) {
	starter := &fakeStarter{scripts: []script{{lines: []string{"Starting project"}}}}
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := Run(ctx, baseOptions(t, starter, &fakeGate{}))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAborted)
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, starter.procs, 1)
	assert.Equal(t, 1, starter.procs[0].Terminated(), "terminate must happen before Run returns")
	assert.Equal(t, []int{8081}, starter.Ports(), "no retry after abort")
}

func TestRun_AbortDuringPrompt(t *testing.T) {
	starter := &fakeStarter{scripts: []script{expoConflict}}
	gate := &fakeGate{interactive: true, block: true}
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := Run(ctx, baseOptions(t, starter, gate))
	assert.ErrorIs(t, err, ErrAborted)
	assert.Equal(t, 1, starter.procs[0].Terminated())
}

func TestRun_TunnelURLCaptured(t *testing.T) {
	starter := &fakeStarter{scripts: []script{{lines: []string{
		"Tunnel connected.",
		"› Metro waiting on exp://abc-anonymous-8081.exp.direct",
	}}}}

	srv, err := Run(context.Background(), baseOptions(t, starter, &fakeGate{}))
	require.NoError(t, err)
	defer srv.Stop(time.Second)
	assert.Equal(t, "exp://abc-anonymous-8081.exp.direct", srv.TunnelURL)
}

func TestRun_InvalidOptions(t *testing.T) {
	_, err := Run(context.Background(), Options{InitialPort: 8081})
	assert.Error(t, err)

	_, err = Run(context.Background(), Options{InitialPort: 0, Starter: &fakeStarter{}})
	assert.Error(t, err)
}

func TestLaunch_Defaults(t *testing.T) {
	starter := &fakeStarter{scripts: []script{expoReady}}
	opts := Options{Starter: starter, Gate: &fakeGate{}, Logger: zaptest.NewLogger(t)}

	srv, err := Launch(context.Background(), Params{}, opts)
	require.NoError(t, err)
	defer srv.Stop(time.Second)
	assert.Equal(t, DefaultPort, srv.Port)
	assert.Equal(t, DefaultMaxAttempts, srv.State.MaxAttempts)
}

func TestCommandStarter_Command(t *testing.T) {
	tests := []struct {
		name    string
		starter CommandStarter
		want    []string
	}{
		{
			name:    "placeholder",
			starter: CommandStarter{Argv: []string{"npx", "expo", "start", "--tunnel", "--port", "{port}"}, GOOS: "linux"},
			want:    []string{"npx", "expo", "start", "--tunnel", "--port", "8082"},
		},
		{
			name:    "port args appended",
			starter: CommandStarter{Argv: []string{"npx", "expo", "start"}, PortArgs: []string{"--port", "{port}"}, GOOS: "darwin"},
			want:    []string{"npx", "expo", "start", "--port", "8082"},
		},
		{
			name:    "windows",
			starter: CommandStarter{Argv: []string{"python", "-m", "http.server", "{port}"}, GOOS: "windows"},
			want:    []string{"cmd", "/C", "python -m http.server 8082"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.starter.Command(8082))
		})
	}
}
