// Package tui holds the interactive launcher menu and the shared styles used
// to present URLs and errors.
package tui

import (
	"fmt"
	"io"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

// Choice identifies a menu item.
type Choice string

const (
	ChoiceLocalWeb  Choice = "web"
	ChoiceTunnelWeb Choice = "web-tunnel"
	ChoiceExpo      Choice = "expo"
	ChoiceExit      Choice = "exit"
)

// Item is one menu entry.
type Item struct {
	Choice  Choice
	Title   string
	Details []string
	// Warning is shown instead of Details when the item cannot work as is
	Warning string
}

// DefaultItems returns the launcher menu. ngrokReady reports whether the
// tunnel tool is installed and authenticated.
func DefaultItems(ngrokReady bool) []Item {
	tunnel := Item{
		Choice:  ChoiceTunnelWeb,
		Title:   "Public internet (with ngrok)",
		Details: []string{"Access from anywhere on the internet", "Share with others easily"},
	}
	if !ngrokReady {
		tunnel.Warning = "ngrok is not installed or not logged in: https://ngrok.com/download"
	}
	return []Item{
		{
			Choice:  ChoiceLocalWeb,
			Title:   "Local network only (localhost)",
			Details: []string{"Fast and simple", "No internet required"},
		},
		tunnel,
		{
			Choice:  ChoiceExpo,
			Title:   "Expo dev server (mobile)",
			Details: []string{"Scan the QR code with Expo Go"},
		},
		{Choice: ChoiceExit, Title: "Exit"},
	}
}

type model struct {
	title    string
	items    []Item
	cursor   int
	selected Choice
	done     bool
}

func newModel(title string, items []Item) model {
	return model{title: title, items: items}
}

func (m model) Init() tea.Cmd { return nil }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch k := key.String(); k {
	case "ctrl+c", "q", "esc":
		m.selected = ChoiceExit
		m.done = true
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.items)-1 {
			m.cursor++
		}
	case "enter", " ":
		m.selected = m.items[m.cursor].Choice
		m.done = true
		return m, tea.Quit
	default:
		// digits pick an item directly
		if len(k) == 1 && k[0] >= '1' && k[0] <= '9' {
			idx := int(k[0] - '1')
			if idx < len(m.items) {
				m.cursor = idx
				m.selected = m.items[idx].Choice
				m.done = true
				return m, tea.Quit
			}
		}
	}
	return m, nil
}

func (m model) View() string {
	if m.done {
		return ""
	}
	var b strings.Builder
	b.WriteString(TitleStyle.Render(m.title))
	b.WriteString("\n\n")
	for i, item := range m.items {
		line := fmt.Sprintf("  %d) %s", i+1, item.Title)
		if i == m.cursor {
			b.WriteString(SelectedStyle.Render(line))
		} else {
			b.WriteString(ItemStyle.Render(line))
		}
		b.WriteString("\n")
		if item.Warning != "" {
			b.WriteString(WarningStyle.Render("! " + item.Warning))
			b.WriteString("\n")
			continue
		}
		for _, d := range item.Details {
			b.WriteString(DetailStyle.Render("• " + d))
			b.WriteString("\n")
		}
	}
	b.WriteString("\n")
	b.WriteString(HelpStyle.Render(fmt.Sprintf("↑/↓ move · enter select · 1-%d pick · q quit", len(m.items))))
	b.WriteString("\n")
	return b.String()
}

// Run shows the menu on out, reading keys from in, and returns the choice.
// Quitting returns ChoiceExit.
func Run(title string, items []Item, in io.Reader, out io.Writer) (Choice, error) {
	if len(items) == 0 {
		return ChoiceExit, nil
	}
	p := tea.NewProgram(newModel(title, items), tea.WithInput(in), tea.WithOutput(out))
	final, err := p.Run()
	if err != nil {
		return ChoiceExit, fmt.Errorf("menu failed: %w", err)
	}
	m, ok := final.(model)
	if !ok || !m.done {
		return ChoiceExit, nil
	}
	return m.selected, nil
}

// Banner frames the reachable URLs of a running server.
func Banner(title string, urls map[string]string, order ...string) string {
	var b strings.Builder
	b.WriteString(SuccessStyle.Render(title))
	for _, label := range order {
		if u := urls[label]; u != "" {
			fmt.Fprintf(&b, "\n%-8s %s", label+":", u)
		}
	}
	return BoxStyle.Render(b.String())
}
