// Package classify turns one line of dev-server output into a Signal.
//
// Rules are evaluated in order and the first match wins, so conflict rules
// are listed before suggestion, input, tunnel and readiness rules.
package classify

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Kind identifies the category of a Signal.
type Kind int

const (
	None Kind = iota
	ConflictDetected
	AlternatePortSuggested
	InputRequired
	Ready
	TunnelURL
)

func (k Kind) String() string {
	switch k {
	case None:
		return "none"
	case ConflictDetected:
		return "conflict_detected"
	case AlternatePortSuggested:
		return "alternate_port_suggested"
	case InputRequired:
		return "input_required"
	case Ready:
		return "ready"
	case TunnelURL:
		return "tunnel_url"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Signal is the immutable result of classifying a line.
// Port is set for ConflictDetected and AlternatePortSuggested; a conflict
// with Port 0 refers to the port bound by the current attempt.
// URL is set for TunnelURL.
type Signal struct {
	Kind Kind
	Port int
	URL  string
}

func (s Signal) String() string {
	switch s.Kind {
	case ConflictDetected, AlternatePortSuggested:
		return fmt.Sprintf("%s(%d)", s.Kind, s.Port)
	case TunnelURL:
		return fmt.Sprintf("%s(%s)", s.Kind, s.URL)
	default:
		return s.Kind.String()
	}
}

// Rule maps a pattern to a signal kind. When the kind carries a port the
// first capture group is parsed as the port; for TunnelURL the first capture
// group (or the whole match) becomes the URL.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
	Kind    Kind
	// PortOptional lets a conflict rule match without a numeric group.
	PortOptional bool
}

// Classifier holds an ordered rule table.
type Classifier struct {
	rules []Rule
}

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]|\x1b\][^\x07]*\x07`)

// DefaultRules returns the built-in rule table in evaluation order.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "port-in-use", Kind: ConflictDetected,
			Pattern: regexp.MustCompile(`(?i)\bport\s+(\d+)\s+is\s+(?:being\s+used\s+by\s+another\s+process|already\s+in\s+use)`)},
		{Name: "eaddrinuse", Kind: ConflictDetected,
			Pattern: regexp.MustCompile(`(?i)EADDRINUSE\b.*?:(\d+)\b`)},
		{Name: "address-in-use", Kind: ConflictDetected, PortOptional: true,
			Pattern: regexp.MustCompile(`(?i)address already in use`)},
		{Name: "use-port-instead", Kind: AlternatePortSuggested,
			Pattern: regexp.MustCompile(`(?i)\buse\s+port\s+(\d+)\s+instead\s*\?`)},
		{Name: "input-required", Kind: InputRequired,
			Pattern: regexp.MustCompile(`(?i)input is required`)},
		{Name: "skipping-dev-server", Kind: InputRequired,
			Pattern: regexp.MustCompile(`(?i)skipping dev server`)},
		{Name: "non-interactive", Kind: InputRequired,
			Pattern: regexp.MustCompile(`(?i)\bnon-interactive mode\b`)},
		{Name: "ngrok-log-url", Kind: TunnelURL,
			Pattern: regexp.MustCompile(`\burl=(https://[A-Za-z0-9.-]+\.ngrok(?:-free)?\.(?:io|app|dev)\S*)`)},
		{Name: "tunnel-url", Kind: TunnelURL,
			Pattern: regexp.MustCompile(`((?:exp|https?)://[A-Za-z0-9.-]+\.(?:exp\.direct|ngrok\.io|ngrok-free\.app|ngrok\.app|ngrok-free\.dev)(?::\d+)?(?:/\S*)?)`)},
		{Name: "expo-logs", Kind: Ready,
			Pattern: regexp.MustCompile(`(?i)\blogs for your project\b`)},
		{Name: "metro-waiting", Kind: Ready,
			Pattern: regexp.MustCompile(`(?i)\bmetro waiting on\b`)},
		{Name: "bundler-ready", Kind: Ready,
			Pattern: regexp.MustCompile(`(?i)\bbundler\b.*\bready\b`)},
		{Name: "listening", Kind: Ready,
			Pattern: regexp.MustCompile(`(?i)\blistening\s+(?:on|at)\b`)},
		{Name: "serving-http", Kind: Ready,
			Pattern: regexp.MustCompile(`(?i)\bserving http on\b`)},
		{Name: "tunnel-ready", Kind: Ready,
			Pattern: regexp.MustCompile(`(?i)\btunnel ready\b`)},
	}
}

// New returns a classifier using the default rules followed by extra.
func New(extra ...Rule) *Classifier {
	rules := DefaultRules()
	rules = append(rules, extra...)
	return &Classifier{rules: rules}
}

// NewWithRules returns a classifier using exactly the given rules.
func NewWithRules(rules []Rule) *Classifier {
	return &Classifier{rules: append([]Rule(nil), rules...)}
}

// CompileRules builds rules of one kind from user-supplied regular expressions.
func CompileRules(kind Kind, exprs []string) ([]Rule, error) {
	rules := make([]Rule, 0, len(exprs))
	for i, expr := range exprs {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("invalid %s pattern %q: %w", kind, expr, err)
		}
		rules = append(rules, Rule{
			Name:         fmt.Sprintf("custom-%s-%d", kind, i),
			Pattern:      re,
			Kind:         kind,
			PortOptional: kind == ConflictDetected && re.NumSubexp() == 0,
		})
	}
	return rules, nil
}

// Classify returns the signal for the first rule that matches line.
func (c *Classifier) Classify(line string) Signal {
	clean := StripANSI(line)
	if strings.TrimSpace(clean) == "" {
		return Signal{Kind: None}
	}
	for _, rule := range c.rules {
		if sig, ok := rule.match(clean); ok {
			return sig
		}
	}
	return Signal{Kind: None}
}

// ClassifyAll returns at most one signal per kind, in rule order. Some
// dev servers print the conflict and the suggested port on the same line.
// The result is nil when nothing matches.
func (c *Classifier) ClassifyAll(line string) []Signal {
	clean := StripANSI(line)
	if strings.TrimSpace(clean) == "" {
		return nil
	}
	var out []Signal
	seen := make(map[Kind]bool)
	for _, rule := range c.rules {
		if seen[rule.Kind] {
			continue
		}
		if sig, ok := rule.match(clean); ok {
			seen[rule.Kind] = true
			out = append(out, sig)
		}
	}
	return out
}

func (r Rule) match(line string) (Signal, bool) {
	m := r.Pattern.FindStringSubmatch(line)
	if m == nil {
		return Signal{}, false
	}
	switch r.Kind {
	case ConflictDetected, AlternatePortSuggested:
		if len(m) < 2 || m[1] == "" {
			if r.PortOptional {
				return Signal{Kind: r.Kind}, true
			}
			return Signal{}, false
		}
		port, ok := parsePort(m[1])
		if !ok {
			return Signal{}, false
		}
		return Signal{Kind: r.Kind, Port: port}, true
	case TunnelURL:
		url := m[0]
		if len(m) > 1 && m[1] != "" {
			url = m[1]
		}
		return Signal{Kind: TunnelURL, URL: strings.TrimRight(url, ".,;)'\"")}, true
	default:
		return Signal{Kind: r.Kind}, true
	}
}

var defaultClassifier = New()

// Classify classifies line with the default rule table.
func Classify(line string) Signal {
	return defaultClassifier.Classify(line)
}

// StripANSI removes terminal escape sequences.
func StripANSI(s string) string {
	if !strings.ContainsRune(s, '\x1b') {
		return s
	}
	return ansiEscape.ReplaceAllString(s, "")
}

func parsePort(s string) (int, bool) {
	port, err := strconv.Atoi(s)
	if err != nil || port < 1 || port > 65535 {
		return 0, false
	}
	return port, true
}
