// Package progress implements a small bubbletea text UI that shows live
// recon-scan progress: probes issued, endpoints found live or dead, and
// an ETA to the configured limit, scaled down from the teacher's
// internal/tui table display to a single status line.
package progress

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Ghost-Zephyr/blues/internal/scanner"
)

// quitKey mirrors the teacher's bubbles/key pattern (internal/tui/help)
// for declaring a single bound key.
var quitKey = key.NewBinding(key.WithKeys("q", "ctrl+c"))

var (
	labelStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("170"))
	liveStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	deadStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
)

// tickMsg drives the periodic redraw; the actual counts arrive out of
// band via snapshotMsg whenever the scanner issues a probe.
type tickMsg time.Time

// snapshotMsg carries the latest scanner.Snapshot into the model.
type snapshotMsg scanner.Snapshot

// Model is the bubbletea model for the recon-progress display.
type Model struct {
	limit     int
	start     time.Time
	last      scanner.Snapshot
	snapshots <-chan scanner.Snapshot
	done      bool
	bar       progress.Model
}

// New creates a Model that reads snapshots from ch until it is closed.
// limit is the configured probe limit (0 means unbounded; the ETA then
// reads "unbounded" and no bar is drawn).
func New(ch <-chan scanner.Snapshot, limit int) *Model {
	return &Model{
		limit:     limit,
		snapshots: ch,
		start:     time.Now(),
		bar:       progress.New(progress.WithDefaultGradient()),
	}
}

// Feed is the Options.Progress callback a caller wires into
// scanner.MassScan: it forwards each snapshot onto the model's channel.
// Callers own the channel's lifetime and must close it once the scan
// finishes so the program can quit.
func Feed(ch chan<- scanner.Snapshot) func(scanner.Snapshot) {
	return func(s scanner.Snapshot) {
		ch <- s
	}
}

// Init starts the tick loop and the first snapshot listen.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.waitForSnapshot(), tick())
}

func tick() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *Model) waitForSnapshot() tea.Cmd {
	return func() tea.Msg {
		s, ok := <-m.snapshots
		if !ok {
			return doneMsg{}
		}
		return snapshotMsg(s)
	}
}

type doneMsg struct{}

// Update handles incoming messages.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if key.Matches(msg, quitKey) {
			return m, tea.Quit
		}
	case tickMsg:
		if m.done {
			return m, nil
		}
		return m, tick()
	case snapshotMsg:
		m.last = scanner.Snapshot(msg)
		var cmd tea.Cmd
		if m.limit > 0 {
			cmd = m.bar.SetPercent(float64(m.last.Issued) / float64(m.limit))
		}
		return m, tea.Batch(cmd, m.waitForSnapshot())
	case doneMsg:
		m.done = true
		return m, tea.Quit
	case progress.FrameMsg:
		model, cmd := m.bar.Update(msg)
		m.bar = model.(progress.Model)
		return m, cmd
	}
	return m, nil
}

// View renders the status line, preceded by the progress bar on its own
// line when a limit is set.
func (m *Model) View() string {
	eta := "unbounded"
	if m.limit > 0 && m.last.Issued > 0 {
		elapsed := time.Since(m.start)
		rate := float64(m.last.Issued) / elapsed.Seconds()
		if rate > 0 {
			remaining := float64(m.limit-m.last.Issued) / rate
			eta = time.Duration(remaining * float64(time.Second)).Round(time.Second).String()
		}
	}

	bar := ""
	if m.limit > 0 {
		bar = m.bar.View() + "\n"
	}

	return bar + fmt.Sprintf(
		"%s %d  %s %d  %s %d  %s %s\n",
		labelStyle.Render("issued"), m.last.Issued,
		liveStyle.Render("live"), m.last.Live,
		deadStyle.Render("dead"), m.last.Dead,
		labelStyle.Render("eta"), eta,
	)
}
