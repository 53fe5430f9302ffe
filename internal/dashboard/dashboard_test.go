package dashboard

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/relaymesh/plexy/internal/tunnelstate"
)

func TestUpdateAppliesStatsMsg(t *testing.T) {
	m := model{}
	stats := map[string]tunnelstate.TunnelStats{
		"127.0.0.1:3000": {Strategy: "random", ClientsConnected: 1},
	}
	updated, _ := m.Update(statsMsg{stats: stats})
	um := updated.(model)
	if len(um.stats) != 1 {
		t.Fatalf("expected stats to be applied, got %+v", um.stats)
	}
	view := um.View()
	if !strings.Contains(view, "127.0.0.1:3000") {
		t.Fatalf("expected view to mention tunnel address, got:\n%s", view)
	}
}

func TestUpdateQuitsOnQ(t *testing.T) {
	m := model{}
	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	um := updated.(model)
	if !um.quitting {
		t.Fatal("expected quitting to be set")
	}
	if cmd == nil {
		t.Fatal("expected a tea.Quit command")
	}
}

func TestViewShowsEmptyState(t *testing.T) {
	m := model{}
	if !strings.Contains(m.View(), "no tunnels registered") {
		t.Fatalf("expected empty-state message, got:\n%s", m.View())
	}
}
