// Package launcher runs the port negotiation loop: it starts the dev server,
// classifies its output, and restarts it on another port until it is ready
// or the attempt ceiling is reached.
package launcher

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"devlaunch/internal/classify"
	"devlaunch/internal/lines"
	"devlaunch/internal/negotiate"
	"devlaunch/internal/prompt"
)

const (
	DefaultMaxAttempts  = 3
	DefaultGraceTimeout = 5 * time.Second
	// DefaultStallTimeout is how long a pending conflict with a known
	// suggestion may stay silent before it is treated as a prompt.
	DefaultStallTimeout = 3 * time.Second
	DefaultPartialFlush = 500 * time.Millisecond
	// exitDrain bounds how long output is still read after the child exited.
	exitDrain = 2 * time.Second
)

// Process is a started child as seen by the orchestrator.
type Process interface {
	PID() int
	Output() io.Reader
	Done() <-chan struct{}
	Wait() (int, error)
	Terminate(grace time.Duration) error
}

// Starter starts the dev server on a port.
type Starter interface {
	Start(port int) (Process, error)
}

// StarterFunc adapts a function to Starter.
type StarterFunc func(port int) (Process, error)

func (f StarterFunc) Start(port int) (Process, error) { return f(port) }

// Recorder observes a negotiation. Calls happen on the orchestrator's
// goroutine.
type Recorder interface {
	ObserveTransition(t negotiate.Transition)
	ObserveAttempt(a negotiate.Attempt)
	ObserveResult(s negotiate.State, elapsed time.Duration)
}

// Recorders fans every observation out to each recorder in order.
type Recorders []Recorder

func (rs Recorders) ObserveTransition(t negotiate.Transition) {
	for _, r := range rs {
		r.ObserveTransition(t)
	}
}

func (rs Recorders) ObserveAttempt(a negotiate.Attempt) {
	for _, r := range rs {
		r.ObserveAttempt(a)
	}
}

func (rs Recorders) ObserveResult(s negotiate.State, elapsed time.Duration) {
	for _, r := range rs {
		r.ObserveResult(s, elapsed)
	}
}

// Options configure Run.
type Options struct {
	InitialPort  int
	MaxAttempts  int
	GraceTimeout time.Duration
	StallTimeout time.Duration
	PartialFlush time.Duration

	Starter    Starter
	Gate       prompt.Gate
	Classifier *classify.Classifier
	// Sink receives every output line in order
	Sink     func(lines.Line)
	Recorder Recorder
	Logger   *zap.Logger
	Tracer   trace.Tracer
	// OnMachine is called once with the machine before the first attempt
	OnMachine func(*negotiate.Machine)
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.GraceTimeout <= 0 {
		o.GraceTimeout = DefaultGraceTimeout
	}
	if o.StallTimeout < 0 {
		o.StallTimeout = 0
	}
	if o.Classifier == nil {
		o.Classifier = classify.New()
	}
	if o.Sink == nil {
		o.Sink = func(lines.Line) {}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Tracer == nil {
		o.Tracer = noop.NewTracerProvider().Tracer("devlaunch")
	}
	return o
}

// RunningServer is a dev server that reached ready. The caller owns the
// process and must Stop it.
type RunningServer struct {
	Process   Process
	Port      int
	Attempts  int
	TunnelURL string
	// Output carries the remaining output lines until the child exits
	Output <-chan lines.Line
	State  negotiate.State

	cancel context.CancelFunc
}

// Stop terminates the server and releases its output stream.
func (s *RunningServer) Stop(grace time.Duration) error {
	defer s.cancel()
	return s.Process.Terminate(grace)
}

// attempt is the live child of the current attempt.
type attempt struct {
	proc   Process
	lines  <-chan lines.Line
	cancel context.CancelFunc
	span   trace.Span
}

type runner struct {
	opts    Options
	m       *negotiate.Machine
	logger  *zap.Logger
	cur     *attempt
	cause   error
	emitted int
}

// Run negotiates a port and returns the running server, or an *Error once
// the machine reaches a terminal failure. Cancelling ctx aborts the run; any
// live child is terminated before Run returns.
func Run(ctx context.Context, opts Options) (*RunningServer, error) {
	opts = opts.withDefaults()
	if opts.Starter == nil {
		return nil, fmt.Errorf("launcher: no starter configured")
	}
	if opts.InitialPort < 1 || opts.InitialPort > 65535 {
		return nil, fmt.Errorf("launcher: invalid initial port %d", opts.InitialPort)
	}

	r := &runner{
		opts:   opts,
		m:      negotiate.NewMachine(opts.InitialPort, opts.MaxAttempts, opts.Logger),
		logger: opts.Logger,
	}
	if opts.Recorder != nil {
		r.m.OnTransition(opts.Recorder.ObserveTransition)
	}
	if opts.OnMachine != nil {
		opts.OnMachine(r.m)
	}

	ctx, span := opts.Tracer.Start(ctx, "devlaunch.negotiate", trace.WithAttributes(
		attribute.Int("devlaunch.initial_port", opts.InitialPort),
		attribute.Int("devlaunch.max_attempts", opts.MaxAttempts),
	))
	defer span.End()

	started := time.Now()
	srv, err := r.loop(ctx)

	final := r.m.Snapshot()
	r.flushAttempts(final)
	if opts.Recorder != nil {
		opts.Recorder.ObserveResult(final, time.Since(started))
	}

	span.SetAttributes(
		attribute.String("devlaunch.phase", string(final.Phase)),
		attribute.Int("devlaunch.attempts", final.Attempt.Index),
		attribute.Int("devlaunch.port", final.Attempt.Port),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(final.Phase))
	}
	return srv, err
}

func (r *runner) loop(ctx context.Context) (*RunningServer, error) {
	for {
		r.flushAttempts(r.m.Snapshot())

		switch phase := r.m.Phase(); phase {
		case negotiate.PhaseStarting:
			if ctx.Err() != nil {
				r.m.Abort()
				continue
			}
			r.start(ctx)

		case negotiate.PhaseStreaming, negotiate.PhaseConflictPending:
			r.stream(ctx)

		case negotiate.PhaseAwaitingDecision:
			r.decide(ctx)

		case negotiate.PhaseRestarting:
			r.stopCurrent()
			if ctx.Err() != nil {
				r.m.Abort()
				continue
			}
			r.m.Restart()

		case negotiate.PhaseReady:
			s := r.m.Snapshot()
			r.logger.Info("Dev server ready",
				zap.Int("port", s.Attempt.Port),
				zap.Int("attempt", s.Attempt.Index),
				zap.String("tunnel_url", s.TunnelURL))
			a := r.cur
			r.cur = nil
			a.span.End()
			return &RunningServer{
				Process:   a.proc,
				Port:      s.Attempt.Port,
				Attempts:  s.Attempt.Index,
				TunnelURL: s.TunnelURL,
				Output:    a.lines,
				State:     s,
				cancel:    a.cancel,
			}, nil

		default:
			r.stopCurrent()
			s := r.m.Snapshot()
			cause := r.cause
			if cause == nil {
				cause = r.m.Err()
			}
			if phase == negotiate.PhaseAborted && cause == nil {
				cause = ctx.Err()
			}
			e := errorFromState(s, cause)
			if phase == negotiate.PhaseFailed && r.cause != nil && s.Attempt.StartedAt.IsZero() {
				e.Code = ErrorCodeSpawnFailure
				e.Suggestion = "Run 'devlaunch doctor' to check that the required tools are installed"
			}
			r.logger.Warn("Negotiation ended without a running server",
				zap.String("phase", string(phase)),
				zap.Int("port", s.Attempt.Port),
				zap.Int("attempts", s.Attempt.Index),
				zap.Error(cause))
			return nil, e
		}
	}
}

func (r *runner) start(ctx context.Context) {
	s := r.m.Snapshot()
	attemptCtx, cancel := context.WithCancel(ctx)
	attemptCtx, span := r.opts.Tracer.Start(attemptCtx, "devlaunch.attempt", trace.WithAttributes(
		attribute.Int("devlaunch.attempt", s.Attempt.Index),
		attribute.Int("devlaunch.port", s.Attempt.Port),
	))

	r.logger.Info("Starting dev server",
		zap.Int("attempt", s.Attempt.Index),
		zap.Int("max_attempts", s.MaxAttempts),
		zap.Int("port", s.Attempt.Port))

	proc, err := r.opts.Starter.Start(s.Attempt.Port)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "spawn failed")
		span.End()
		cancel()
		r.cause = err
		r.m.SpawnFailed(err)
		return
	}

	r.cur = &attempt{
		proc: proc,
		lines: lines.Pump(attemptCtx, proc.Output(), lines.Options{
			PartialFlush: r.opts.PartialFlush,
			Buffer:       64,
		}),
		cancel: cancel,
		span:   span,
	}
	span.SetAttributes(attribute.Int("devlaunch.pid", proc.PID()))
	r.m.Launched()
}

// stream consumes output until the phase leaves streaming/conflict_pending.
func (r *runner) stream(ctx context.Context) {
	a := r.cur
	done := a.proc.Done()

	var stall *time.Timer
	var stallC <-chan time.Time
	resetStall := func() {
		if r.opts.StallTimeout <= 0 {
			return
		}
		if stall == nil {
			stall = time.NewTimer(r.opts.StallTimeout)
			stallC = stall.C
			return
		}
		if !stall.Stop() {
			select {
			case <-stall.C:
			default:
			}
		}
		stall.Reset(r.opts.StallTimeout)
	}
	resetStall()
	defer func() {
		if stall != nil {
			stall.Stop()
		}
	}()

	var drain <-chan time.Time
	active := func() bool {
		p := r.m.Phase()
		return p == negotiate.PhaseStreaming || p == negotiate.PhaseConflictPending
	}

	for active() {
		select {
		case <-ctx.Done():
			r.m.Abort()
			return

		case l, ok := <-a.lines:
			if ctx.Err() != nil {
				r.m.Abort()
				return
			}
			if !ok {
				r.m.StreamEnded(r.exitCode(a), nil)
				return
			}
			if l.Err != nil {
				r.logger.Warn("Dev server output failed", zap.Error(l.Err))
				r.m.StreamEnded(r.exitCode(a), l.Err)
				return
			}
			r.opts.Sink(l)
			r.logger.Debug("dev server", zap.String("line", l.Text), zap.Bool("partial", l.Partial))
			for _, sig := range r.opts.Classifier.ClassifyAll(l.Text) {
				r.m.Observe(sig)
			}
			resetStall()

		case <-stallC:
			stallC = nil
			stall = nil
			r.m.Stalled()

		case <-done:
			// Keep reading what is already buffered, bounded in case a
			// grandchild still holds the pipe open.
			done = nil
			drain = time.After(exitDrain)

		case <-drain:
			r.m.StreamEnded(r.exitCode(a), nil)
			return
		}
	}
}

// exitCode waits briefly for the child and returns its exit code, or nil
// when it is still running.
func (r *runner) exitCode(a *attempt) *int {
	select {
	case <-a.proc.Done():
	case <-time.After(r.opts.GraceTimeout):
		return nil
	}
	code, err := a.proc.Wait()
	if err != nil {
		return nil
	}
	return &code
}

func (r *runner) decide(ctx context.Context) {
	s := r.m.Snapshot()
	next := s.CandidatePort()

	if r.opts.Gate == nil || !r.opts.Gate.IsInteractive() {
		r.logger.Info("Port in use, switching automatically",
			zap.Int("conflict_port", s.ConflictPort),
			zap.Int("next_port", next))
		r.m.Decide(true)
		return
	}

	question := fmt.Sprintf("Port %d is in use. Use port %d instead?", s.ConflictPort, next)
	ok, err := r.opts.Gate.Confirm(ctx, question)
	if err != nil {
		if ctx.Err() != nil {
			r.m.Abort()
			return
		}
		r.cause = err
		r.m.Fail(err)
		return
	}
	r.logger.Info("Operator answered port prompt", zap.Bool("accepted", ok), zap.Int("next_port", next))
	r.m.Decide(ok)
}

// stopCurrent terminates the live child, if any, and waits for it to be gone.
func (r *runner) stopCurrent() {
	a := r.cur
	if a == nil {
		return
	}
	r.cur = nil
	if err := a.proc.Terminate(r.opts.GraceTimeout); err != nil {
		r.logger.Warn("Failed to terminate dev server", zap.Int("pid", a.proc.PID()), zap.Error(err))
	}
	a.cancel()
	a.span.End()
}

// flushAttempts reports attempts finished since the last call.
func (r *runner) flushAttempts(s negotiate.State) {
	if r.opts.Recorder == nil {
		return
	}
	for ; r.emitted < len(s.History); r.emitted++ {
		r.opts.Recorder.ObserveAttempt(s.History[r.emitted])
	}
}
