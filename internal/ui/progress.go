// Package ui displays scan progress in the terminal.
package ui

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/term"

	scanprogress "github.com/dsablic/linestat/internal/progress"
)

// IsTTY returns true if stderr is a terminal.
func IsTTY() bool {
	return term.IsTerminal(os.Stderr.Fd())
}

// IsStdoutTTY returns true if stdout is a terminal.
func IsStdoutTTY() bool {
	return term.IsTerminal(os.Stdout.Fd())
}

// --- Plain text fallback ---

// PlainProgress prints progress messages to a callback function.
// Used when stderr is not a TTY (e.g., piped output).
type PlainProgress struct {
	print func(string)
	last  string
}

// NewPlainProgress creates a new PlainProgress with the given print callback.
func NewPlainProgress(print func(string)) *PlainProgress {
	return &PlainProgress{print: print}
}

// Update prints the snapshot unless it repeats the previous line.
func (p *PlainProgress) Update(s scanprogress.Snapshot) {
	line := fmt.Sprintf("[%3.0f%%] %s", s.Percentage, s.Status)
	if s.Details != "" {
		line += ": " + s.Details
	}
	if line == p.last {
		return
	}
	p.last = line
	p.print(line)
}

// Follow prints every snapshot received on ch until the run ends.
func (p *PlainProgress) Follow(ch <-chan scanprogress.Snapshot) scanprogress.Snapshot {
	var s scanprogress.Snapshot
	for s = range ch {
		p.Update(s)
		if !s.Active {
			break
		}
	}
	return s
}

// --- TUI progress ---

// ProgressMsg carries a tracker snapshot to the bubbletea program.
type ProgressMsg struct {
	Snapshot scanprogress.Snapshot
}

// DoneMsg is sent when the run has ended.
type DoneMsg struct {
	Snapshot scanprogress.Snapshot
}

type model struct {
	progress progress.Model
	snap     scanprogress.Snapshot
	done     bool
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	infoStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
)

// NewTUIModel creates a new bubbletea model for the progress TUI.
func NewTUIModel() tea.Model {
	return model{
		progress: progress.New(
			progress.WithDefaultGradient(),
			progress.WithWidth(50),
			progress.WithoutPercentage(),
		),
	}
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.progress.Width = min(msg.Width-10, 60)
	case ProgressMsg:
		m.snap = msg.Snapshot
		return m, m.progress.SetPercent(m.snap.Percentage / 100)
	case DoneMsg:
		m.snap = msg.Snapshot
		m.done = true
		return m, tea.Quit
	case progress.FrameMsg:
		progressModel, cmd := m.progress.Update(msg)
		m.progress = progressModel.(progress.Model)
		return m, cmd
	}
	return m, nil
}

func (m model) View() string {
	if m.done {
		style := titleStyle
		if m.snap.Failed {
			style = errStyle
		}
		return fmt.Sprintf("\n  %s\n  %s\n\n", style.Render(m.snap.Status), infoStyle.Render(m.snap.Details))
	}

	pad := strings.Repeat(" ", 2)
	counter := infoStyle.Render(fmt.Sprintf("%d/%d", m.snap.CurrentRepo, m.snap.TotalRepos))
	status := m.snap.Status
	if status == "" {
		status = "Starting..."
	}

	return "\n" +
		pad + titleStyle.Render(status) + "\n" +
		pad + m.progress.View() + "  " + counter + "\n" +
		pad + infoStyle.Render(m.snap.Details) + "\n\n"
}

// RunTUI creates and returns a bubbletea program for the progress TUI.
// The program outputs to stderr so JSON output on stdout stays clean.
func RunTUI() *tea.Program {
	return tea.NewProgram(NewTUIModel(), tea.WithOutput(os.Stderr))
}

// Forward relays snapshots from ch to p until the run ends.
func Forward(p *tea.Program, ch <-chan scanprogress.Snapshot) {
	for s := range ch {
		if !s.Active {
			p.Send(DoneMsg{Snapshot: s})
			return
		}
		p.Send(ProgressMsg{Snapshot: s})
	}
}
