package output

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	errorStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	hintStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

// TableFormatter formats output as a human-readable table.
type TableFormatter struct {
	NoColor bool
	// Styled enables colors and rules when stdout is a terminal
	Styled bool
	// isTerminal overrides terminal detection; for tests
	isTerminal func() bool
}

// Format renders Tabular data as a table and anything else with %v.
func (f *TableFormatter) Format(data any) (string, error) {
	if t, ok := data.(Tabular); ok {
		return f.FormatTable(t.Headers(), t.Rows())
	}
	if s, ok := data.(fmt.Stringer); ok {
		return s.String(), nil
	}
	return fmt.Sprintf("%v", data), nil
}

// FormatError renders an error in human-readable format.
func (f *TableFormatter) FormatError(err StructuredError) (string, error) {
	var buf bytes.Buffer
	title := fmt.Sprintf("Error: %s", err.Message)
	if f.styled() {
		title = errorStyle.Render(fmt.Sprintf("Error [%s]", err.Code)) + " " + err.Message
	}
	buf.WriteString(title + "\n")
	if err.Guidance != "" {
		fmt.Fprintf(&buf, "  %s\n", err.Guidance)
	}
	if err.RecoveryCommand != "" {
		try := fmt.Sprintf("Try: %s", err.RecoveryCommand)
		if f.styled() {
			try = hintStyle.Render(try)
		}
		fmt.Fprintf(&buf, "  %s\n", try)
	}
	return buf.String(), nil
}

// FormatTable renders tabular data with headers and alignment.
func (f *TableFormatter) FormatTable(headers []string, rows [][]string) (string, error) {
	if len(rows) == 0 {
		return "No results found\n", nil
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	fmt.Fprintln(w, strings.Join(headers, "\t"))
	if f.styled() {
		rules := make([]string, len(headers))
		for i, h := range headers {
			rules[i] = strings.Repeat("─", len(h))
		}
		fmt.Fprintln(w, strings.Join(rules, "\t"))
	}
	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	if err := w.Flush(); err != nil {
		return "", err
	}

	out := buf.String()
	if f.styled() {
		// style after alignment so escape codes do not skew the columns
		first, rest, _ := strings.Cut(out, "\n")
		out = headerStyle.Render(first) + "\n" + rest
	}
	return out, nil
}

func (f *TableFormatter) styled() bool {
	if !f.Styled || f.NoColor {
		return false
	}
	if f.isTerminal != nil {
		return f.isTerminal()
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}
