package prompt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Gate decides whether a human is attached and asks them yes/no questions.
type Gate interface {
	// IsInteractive reports whether the operator can answer prompts
	IsInteractive() bool
	// Confirm asks a yes/no question. End of input counts as no.
	Confirm(ctx context.Context, message string) (bool, error)
}

// ConsoleGate implements Gate for a terminal
type ConsoleGate struct {
	in       io.Reader
	out      io.Writer
	fd       int
	override *bool

	once   sync.Once
	reader *bufio.Reader

	mu      sync.Mutex
	pending chan answer
}

type answer struct {
	text string
	err  error
}

// NewConsoleGate creates a gate on stdin and stderr. A non-nil override
// forces the interactive decision instead of detecting a terminal.
func NewConsoleGate(override *bool) *ConsoleGate {
	return &ConsoleGate{
		in:       os.Stdin,
		out:      os.Stderr,
		fd:       int(os.Stdin.Fd()),
		override: override,
	}
}

// NewGate creates a gate on arbitrary streams. It is only interactive when
// override is set to true.
func NewGate(in io.Reader, out io.Writer, override *bool) *ConsoleGate {
	return &ConsoleGate{in: in, out: out, fd: -1, override: override}
}

// IsInteractive reports whether the input is a terminal, unless overridden
func (g *ConsoleGate) IsInteractive() bool {
	if g.override != nil {
		return *g.override
	}
	return g.fd >= 0 && term.IsTerminal(g.fd)
}

// Confirm prints message and reads one line. "y" and "yes" in any case
// accept; anything else, including end of input, declines. When ctx is
// cancelled first it returns ctx.Err() and the read stays outstanding: the
// next Confirm receives that line instead of starting another read. Calls
// must not overlap.
func (g *ConsoleGate) Confirm(ctx context.Context, message string) (bool, error) {
	g.once.Do(func() {
		g.reader = bufio.NewReader(g.in)
	})

	fmt.Fprintf(g.out, "%s [y/N]: ", message)

	g.mu.Lock()
	if g.pending == nil {
		ch := make(chan answer, 1)
		g.pending = ch
		go func() {
			text, err := g.reader.ReadString('\n')
			ch <- answer{text: text, err: err}
		}()
	}
	ch := g.pending
	g.mu.Unlock()

	select {
	case <-ctx.Done():
		fmt.Fprintln(g.out)
		return false, ctx.Err()
	case a := <-ch:
		g.mu.Lock()
		g.pending = nil
		g.mu.Unlock()
		if a.err != nil && !errors.Is(a.err, io.EOF) {
			return false, fmt.Errorf("failed to read confirmation: %w", a.err)
		}
		return IsYes(a.text), nil
	}
}

// IsYes reports whether response is an affirmative answer.
func IsYes(response string) bool {
	response = strings.ToLower(strings.TrimSpace(response))
	return response == "y" || response == "yes"
}
