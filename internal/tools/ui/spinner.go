package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	detailStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).PaddingLeft(2)
)

var frames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

type tickMsg struct{}

type doneMsg struct {
	details []string
	err     error
}

type model struct {
	title   string
	frame   int
	started time.Time
	done    bool
	details []string
	err     error
}

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(time.Time) tea.Msg { return tickMsg{} })
}

func (m model) Init() tea.Cmd { return tick() }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		if m.done {
			return m, nil
		}
		m.frame = (m.frame + 1) % len(frames)
		return m, tick()
	case doneMsg:
		m.done, m.details, m.err = true, msg.details, msg.err
		return m, tea.Quit
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m model) View() string {
	if !m.done {
		return fmt.Sprintf("%s %s %s\n", frames[m.frame], titleStyle.Render(m.title), detailStyle.Render(time.Since(m.started).Round(time.Second).String()))
	}
	var b strings.Builder
	if m.err != nil {
		b.WriteString(failStyle.Render("✗ "+m.title) + "\n")
	} else {
		b.WriteString(okStyle.Render("✓ "+m.title) + "\n")
	}
	for _, d := range m.details {
		b.WriteString(detailStyle.Render(d) + "\n")
	}
	if m.err != nil {
		b.WriteString(detailStyle.Render("error: "+m.err.Error()) + "\n")
	}
	return b.String()
}

// Run executes fn behind a terminal spinner. Ctrl+C cancels fn's context.
func Run(title string, fn func(context.Context) ([]string, error)) ([]string, error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := tea.NewProgram(model{title: title, started: time.Now()})
	result := make(chan doneMsg, 1)
	go func() {
		details, err := fn(ctx)
		msg := doneMsg{details: details, err: err}
		result <- msg
		p.Send(msg)
	}()

	// Without a terminal the program fails to start; fn still runs to the end.
	_, _ = p.Run()
	cancel()
	res := <-result
	return res.details, res.err
}
