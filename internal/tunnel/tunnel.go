// Package tunnel runs the optional public tunnel next to a ready dev server
// and finds out its public URL.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"devlaunch/internal/classify"
	"devlaunch/internal/launcher"
	"devlaunch/internal/lines"
)

var (
	// ErrExited means the tunnel process ended before a URL was known.
	ErrExited = errors.New("tunnel process exited")
	// ErrDiscoverTimeout means no URL was found within the discover timeout.
	ErrDiscoverTimeout = errors.New("timed out waiting for tunnel URL")
)

const (
	DefaultDiscoverTimeout = 15 * time.Second
	defaultPollInterval    = 500 * time.Millisecond
)

// Options configure Start.
type Options struct {
	// Command may contain {port}
	Command         []string
	Dir             string
	Env             []string
	APIURL          string
	DiscoverTimeout time.Duration
	PollInterval    time.Duration
	Classifier      *classify.Classifier
	// Sink receives the tunnel's output lines
	Sink   func(lines.Line)
	Logger *zap.Logger
	// Starter overrides process creation; for tests
	Starter launcher.Starter
}

// Tunnel is a running tunnel process.
type Tunnel struct {
	proc   launcher.Process
	opts   Options
	agent  *AgentClient
	logger *zap.Logger
	cancel context.CancelFunc

	found chan struct{}
	once  sync.Once
	mu    sync.RWMutex
	url   string
}

// Start launches the tunnel for port and begins watching its output.
func Start(ctx context.Context, port int, opts Options) (*Tunnel, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Classifier == nil {
		opts.Classifier = classify.New()
	}
	if opts.DiscoverTimeout <= 0 {
		opts.DiscoverTimeout = DefaultDiscoverTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	logger := opts.Logger.Named("tunnel")

	starter := opts.Starter
	if starter == nil {
		starter = launcher.CommandStarter{
			Argv:   opts.Command,
			Dir:    opts.Dir,
			Env:    opts.Env,
			Logger: logger,
		}
	}

	proc, err := starter.Start(port)
	if err != nil {
		return nil, fmt.Errorf("failed to start tunnel: %w", err)
	}

	pumpCtx, cancel := context.WithCancel(ctx)
	t := &Tunnel{
		proc:   proc,
		opts:   opts,
		logger: logger,
		cancel: cancel,
		found:  make(chan struct{}),
	}
	if opts.APIURL != "" {
		t.agent = NewAgentClient(opts.APIURL, logger)
	}

	go t.watch(pumpCtx)

	logger.Info("Tunnel started", zap.Int("pid", proc.PID()), zap.Int("port", port))
	return t, nil
}

func (t *Tunnel) watch(ctx context.Context) {
	for line := range lines.Pump(ctx, t.proc.Output(), lines.Options{}) {
		if t.opts.Sink != nil {
			t.opts.Sink(line)
		}
		if line.Err != nil {
			t.logger.Debug("Tunnel output failed", zap.Error(line.Err))
			continue
		}
		t.logger.Debug("tunnel output", zap.String("line", line.Text))
		for _, sig := range t.opts.Classifier.ClassifyAll(line.Text) {
			if sig.Kind == classify.TunnelURL {
				t.setURL(sig.URL)
			}
		}
	}
}

func (t *Tunnel) setURL(url string) {
	t.once.Do(func() {
		t.mu.Lock()
		t.url = url
		t.mu.Unlock()
		close(t.found)
	})
}

// URL returns the public URL, or "" while unknown.
func (t *Tunnel) URL() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.url
}

// PID of the tunnel process.
func (t *Tunnel) PID() int { return t.proc.PID() }

// Done is closed when the tunnel process exits.
func (t *Tunnel) Done() <-chan struct{} { return t.proc.Done() }

// WaitURL blocks until the public URL is seen in the output or reported by
// the agent API, the process exits, or the discover timeout passes.
func (t *Tunnel) WaitURL(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.opts.DiscoverTimeout)
	defer cancel()

	ticker := time.NewTicker(t.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.found:
			return t.URL(), nil
		case <-t.proc.Done():
			if url := t.URL(); url != "" {
				return url, nil
			}
			return "", ErrExited
		case <-ctx.Done():
			if url := t.URL(); url != "" {
				return url, nil
			}
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return "", ErrDiscoverTimeout
			}
			return "", ctx.Err()
		case <-ticker.C:
			if t.agent == nil {
				continue
			}
			url, err := t.agent.PublicURL(ctx)
			if err != nil {
				t.logger.Debug("Tunnel URL not available yet", zap.Error(err))
				continue
			}
			t.setURL(url)
		}
	}
}

// Stop terminates the tunnel process.
func (t *Tunnel) Stop(grace time.Duration) error {
	defer t.cancel()
	return t.proc.Terminate(grace)
}
