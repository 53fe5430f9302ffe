// Package dashboard implements plexy's live status TUI: a Bubble Tea +
// Lip Gloss Elm-architecture program (a tickMsg-driven refresh loop
// feeding a single model). It is a read-only view over a running
// daemon's tunnel stats, polled through the same Engine interface the
// control and RPC surfaces use.
package dashboard

import (
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/relaymesh/plexy/internal/tunnelstate"
	"github.com/relaymesh/plexy/internal/util"
)

// Engine is the subset of *daemon.Daemon the dashboard needs.
type Engine interface {
	Status(localText string) (map[string]tunnelstate.TunnelStats, error)
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	localStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	deadStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
)

type tickMsg time.Time

type statsMsg struct {
	stats map[string]tunnelstate.TunnelStats
	err   error
}

// model is the Bubble Tea model backing the dashboard; unexported since
// Run is the only public entry point.
type model struct {
	engine   Engine
	refresh  time.Duration
	stats    map[string]tunnelstate.TunnelStats
	err      error
	quitting bool
}

// Run starts the dashboard and blocks until the user quits (q or Ctrl+C).
func Run(engine Engine, refresh time.Duration) error {
	if refresh <= 0 {
		refresh = time.Second
	}
	m := model{engine: engine, refresh: refresh}
	p := tea.NewProgram(m)
	_, err := p.Run()
	return err
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.fetch(), m.tick())
}

func (m model) tick() tea.Cmd {
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) fetch() tea.Cmd {
	return func() tea.Msg {
		stats, err := m.engine.Status("")
		return statsMsg{stats: stats, err: err}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, m.fetch()
		}
	case tickMsg:
		return m, tea.Batch(m.fetch(), m.tick())
	case statsMsg:
		m.stats = msg.stats
		m.err = msg.err
	}
	return m, nil
}

func (m model) View() string {
	if m.quitting {
		return ""
	}
	var b strings.Builder
	b.WriteString(headerStyle.Render("plexy — live tunnel status"))
	b.WriteString("\n\n")
	if m.err != nil {
		b.WriteString(deadStyle.Render(fmt.Sprintf("error: %v", m.err)))
		b.WriteString("\n")
	}
	if len(m.stats) == 0 {
		b.WriteString(dimStyle.Render("no tunnels registered"))
		b.WriteString("\n")
	}
	for _, local := range sortedKeys(m.stats) {
		t := m.stats[local]
		b.WriteString(localStyle.Render(local))
		b.WriteString(fmt.Sprintf(" [%s]  clients=%d served=%d sent=%d recv=%d\n",
			t.Strategy, t.ClientsConnected, t.ClientsServed, t.BytesSent, t.BytesReceived))
		for _, r := range t.Remotes {
			b.WriteString(fmt.Sprintf("    %-22s open=%-4d pending=%-4d served=%-6d retries=%d errors=%d\n",
				r.Address, r.StreamsOpen, r.StreamsPending, r.StreamsServed, r.Retries, r.Errors))
		}
		for _, r := range t.DeadRemotes {
			b.WriteString(deadStyle.Render(fmt.Sprintf("    %-22s DEAD  last_error=%s\n", r.Address, util.EmptyDash(r.LastError))))
		}
	}
	b.WriteString("\n")
	b.WriteString(dimStyle.Render("r refresh · q quit"))
	return b.String()
}

func sortedKeys(m map[string]tunnelstate.TunnelStats) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
