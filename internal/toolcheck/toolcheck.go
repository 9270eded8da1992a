// Package toolcheck verifies that the executables a profile needs are
// installed and recent enough.
package toolcheck

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"runtime"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/mod/semver"

	"devlaunch/internal/process"
)

// Status of one tool
type Status string

const (
	StatusOK       Status = "ok"
	StatusMissing  Status = "missing"
	StatusOutdated Status = "outdated"
	// StatusUnknown means the tool runs but its version could not be read
	StatusUnknown Status = "unknown"
)

const defaultVersionTimeout = 10 * time.Second

// Requirement describes one tool.
type Requirement struct {
	Name        string
	MinVersion  string
	VersionArgs []string
	// Optional tools do not fail the report when missing
	Optional bool
	Hint     string
}

// Result is the outcome of checking one Requirement.
type Result struct {
	Name       string `json:"name" yaml:"name"`
	Status     Status `json:"status" yaml:"status"`
	Path       string `json:"path,omitempty" yaml:"path,omitempty"`
	Version    string `json:"version,omitempty" yaml:"version,omitempty"`
	MinVersion string `json:"min_version,omitempty" yaml:"min_version,omitempty"`
	Optional   bool   `json:"optional,omitempty" yaml:"optional,omitempty"`
	Error      string `json:"error,omitempty" yaml:"error,omitempty"`
	Hint       string `json:"hint,omitempty" yaml:"hint,omitempty"`
}

// OK reports whether the result does not block a launch.
func (r Result) OK() bool {
	switch r.Status {
	case StatusOK, StatusUnknown:
		return true
	default:
		return r.Optional
	}
}

// Report holds results in the order requested.
type Report struct {
	Results []Result `json:"results" yaml:"results"`
}

// OK reports whether every required tool passed.
func (r Report) OK() bool {
	for _, res := range r.Results {
		if !res.OK() {
			return false
		}
	}
	return true
}

// Failed returns the results that block a launch.
func (r Report) Failed() []Result {
	var out []Result
	for _, res := range r.Results {
		if !res.OK() {
			out = append(out, res)
		}
	}
	return out
}

// DefaultRequirements returns the known tools by name.
func DefaultRequirements() map[string]Requirement {
	return map[string]Requirement{
		"node": {Name: "node", MinVersion: "18.0.0", VersionArgs: []string{"--version"},
			Hint: "install Node.js LTS from https://nodejs.org"},
		"npm": {Name: "npm", MinVersion: "9.0.0", VersionArgs: []string{"--version"},
			Hint: "npm ships with Node.js"},
		"npx": {Name: "npx", VersionArgs: []string{"--version"},
			Hint: "npx ships with Node.js"},
		"python3": {Name: "python3", MinVersion: "3.8.0", VersionArgs: []string{"--version"},
			Hint: "install Python 3 from https://www.python.org"},
		"ngrok": {Name: "ngrok", MinVersion: "3.0.0", VersionArgs: []string{"version"}, Optional: true,
			Hint: "install from https://ngrok.com/download, then run: ngrok config add-authtoken <token>"},
	}
}

// Runner runs path with args and returns its combined output.
type Runner func(ctx context.Context, path string, args ...string) (string, error)

// Checker checks tools against the PATH of a child environment.
type Checker struct {
	logger       *zap.Logger
	env          []string
	requirements map[string]Requirement
	lookPath     func(file string, env []string) (string, error)
	run          Runner
	goos         string
	timeout      time.Duration
}

// Option customizes a Checker.
type Option func(*Checker)

// WithEnv resolves tools against env instead of the parent environment.
func WithEnv(env []string) Option { return func(c *Checker) { c.env = env } }

// WithRunner replaces command execution; for tests.
func WithRunner(run Runner) Option { return func(c *Checker) { c.run = run } }

// WithLookPath replaces executable lookup; for tests.
func WithLookPath(fn func(string, []string) (string, error)) Option {
	return func(c *Checker) { c.lookPath = fn }
}

// WithRequirement adds or replaces a requirement.
func WithRequirement(r Requirement) Option {
	return func(c *Checker) { c.requirements[r.Name] = r }
}

// New creates a checker.
func New(logger *zap.Logger, opts ...Option) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Checker{
		logger:       logger,
		requirements: DefaultRequirements(),
		lookPath:     process.LookPath,
		goos:         runtime.GOOS,
		timeout:      defaultVersionTimeout,
	}
	c.run = c.execRunner
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check checks the named tools concurrently. Unknown names are checked for
// presence only.
func (c *Checker) Check(ctx context.Context, names ...string) Report {
	results := make([]Result, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		req, ok := c.requirements[name]
		if !ok {
			req = Requirement{Name: name, VersionArgs: []string{"--version"}}
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = c.checkOne(ctx, req)
		}()
	}
	wg.Wait()
	return Report{Results: results}
}

func (c *Checker) checkOne(ctx context.Context, req Requirement) Result {
	res := Result{
		Name:       req.Name,
		MinVersion: req.MinVersion,
		Optional:   req.Optional,
		Hint:       req.Hint,
	}

	path, err := c.lookPath(req.Name, c.env)
	if err != nil {
		res.Status = StatusMissing
		res.Error = fmt.Sprintf("%s not found in PATH", req.Name)
		c.logger.Debug("Tool not found", zap.String("tool", req.Name))
		return res
	}
	res.Path = path

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	out, err := c.run(ctx, path, req.VersionArgs...)
	if err != nil {
		res.Status = StatusUnknown
		res.Error = fmt.Sprintf("failed to read version: %v", err)
		c.logger.Debug("Tool version check failed", zap.String("tool", req.Name), zap.Error(err))
		return res
	}

	version, ok := ParseVersion(out)
	if !ok {
		res.Status = StatusUnknown
		return res
	}
	res.Version = strings.TrimPrefix(version, "v")

	if req.MinVersion != "" && !AtLeast(version, req.MinVersion) {
		res.Status = StatusOutdated
		res.Error = fmt.Sprintf("%s %s is older than %s", req.Name, res.Version, req.MinVersion)
		return res
	}
	res.Status = StatusOK
	return res
}

func (c *Checker) execRunner(ctx context.Context, path string, args ...string) (string, error) {
	argv := process.NormalizeCommand(c.goos, append([]string{path}, args...))
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = c.env
	out, err := cmd.CombinedOutput()
	return string(out), err
}

var versionPattern = regexp.MustCompile(`v?(\d+)\.(\d+)(?:\.(\d+))?`)

// ParseVersion extracts the first dotted version from tool output, such as
// "v20.11.1", "Python 3.12.2" or "ngrok version 3.5.0", as canonical semver.
func ParseVersion(out string) (string, bool) {
	m := versionPattern.FindStringSubmatch(out)
	if m == nil {
		return "", false
	}
	patch := m[3]
	if patch == "" {
		patch = "0"
	}
	v := fmt.Sprintf("v%s.%s.%s", m[1], m[2], patch)
	if !semver.IsValid(v) {
		return "", false
	}
	return v, true
}

// AtLeast reports whether version >= minimum. Either may omit the "v".
func AtLeast(version, minimum string) bool {
	return semver.Compare(ensureVPrefix(version), ensureVPrefix(minimum)) >= 0
}

func ensureVPrefix(version string) string {
	if len(version) > 0 && version[0] != 'v' {
		return "v" + version
	}
	return version
}
