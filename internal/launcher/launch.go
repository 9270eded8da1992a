package launcher

import (
	"context"
	"runtime"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"devlaunch/internal/process"
	"devlaunch/internal/prompt"
)

// DefaultPort is the initial port when none is given.
const DefaultPort = 8081

// Params are the front-end inputs of Launch.
type Params struct {
	// InitialPort defaults to DefaultPort when zero
	InitialPort int
	// MaxAttempts defaults to DefaultMaxAttempts when zero
	MaxAttempts int
	// Interactive overrides terminal detection when non-nil
	Interactive *bool
}

// Launch fills defaults from p and runs the negotiation. When opts.Gate is
// nil a console gate honouring p.Interactive is used.
func Launch(ctx context.Context, p Params, opts Options) (*RunningServer, error) {
	if p.InitialPort == 0 {
		p.InitialPort = DefaultPort
	}
	if p.MaxAttempts == 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	opts.InitialPort = p.InitialPort
	opts.MaxAttempts = p.MaxAttempts
	if opts.Gate == nil {
		opts.Gate = prompt.NewConsoleGate(p.Interactive)
	}
	return Run(ctx, opts)
}

// PortPlaceholder is replaced by the attempt's port in command templates.
const PortPlaceholder = "{port}"

// CommandStarter starts a command template through the process package.
type CommandStarter struct {
	// Argv may contain PortPlaceholder in any element
	Argv []string
	// PortArgs are appended when no element of Argv contains the placeholder
	PortArgs []string
	Dir      string
	Env      []string
	Logger   *zap.Logger
	// GOOS selects command normalization; empty means runtime.GOOS
	GOOS string
}

// Command returns the argv for port after placeholder expansion and
// platform normalization.
func (c CommandStarter) Command(port int) []string {
	p := strconv.Itoa(port)
	argv := make([]string, 0, len(c.Argv)+len(c.PortArgs))
	found := false
	for _, a := range c.Argv {
		if strings.Contains(a, PortPlaceholder) {
			found = true
		}
		argv = append(argv, strings.ReplaceAll(a, PortPlaceholder, p))
	}
	if !found {
		for _, a := range c.PortArgs {
			argv = append(argv, strings.ReplaceAll(a, PortPlaceholder, p))
		}
	}
	goos := c.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}
	return process.NormalizeCommand(goos, argv)
}

// Start implements Starter.
func (c CommandStarter) Start(port int) (Process, error) {
	argv := c.Command(port)
	if len(argv) == 0 {
		return nil, process.ErrSpawnFailure
	}
	h, err := process.Start(process.Spec{
		Path: argv[0],
		Args: argv[1:],
		Dir:  c.Dir,
		Env:  c.Env,
	}, c.Logger)
	if err != nil {
		return nil, err
	}
	return h, nil
}
