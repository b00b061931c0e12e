// Package tui renders update progress in the terminal with Bubble Tea.
package tui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/chazuruo/handoff/internal/status"
)

// StatusMsg is sent when the handoff changes state.
type StatusMsg struct {
	State   status.State
	Message string
}

// ProgressMsg is sent when a phase reports progress.
type ProgressMsg struct {
	Phase    status.Phase
	Fraction float64
}

// finishedMsg is sent once the pipeline has returned.
type finishedMsg struct{}

// ProgressModel is a Bubble Tea model showing the current state, its
// message and a progress bar for the active phase.
type ProgressModel struct {
	// Title is shown above the status line.
	Title string

	// State is the latest reported state.
	State status.State

	// Message is the latest status text.
	Message string

	// Phase is the phase whose progress is shown.
	Phase status.Phase

	// Fraction is the latest progress of Phase.
	Fraction float64

	// Finished is set once the pipeline has returned.
	Finished bool

	hasProgress bool
	bar         progress.Model
	spinner     spinner.Model

	// styles
	titleStyle   lipgloss.Style
	stateStyle   lipgloss.Style
	successStyle lipgloss.Style
	errorStyle   lipgloss.Style
	hintStyle    lipgloss.Style
}

// NewProgressModel creates a progress model.
func NewProgressModel(title string) ProgressModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return ProgressModel{
		Title:        title,
		State:        status.Idle,
		bar:          progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		spinner:      sp,
		titleStyle:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("229")),
		stateStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("yellow")),
		successStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("green")),
		errorStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("red")),
		hintStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("242")),
	}
}

// Init starts the spinner.
func (m ProgressModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles messages.
func (m ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case StatusMsg:
		m.State = msg.State
		m.Message = msg.Message
		if msg.State == status.Downloading || msg.State == status.Applying {
			m.hasProgress = false
			m.Fraction = 0
			return m, m.bar.SetPercent(0)
		}
		return m, nil

	case ProgressMsg:
		m.Phase = msg.Phase
		m.Fraction = msg.Fraction
		m.hasProgress = true
		return m, m.bar.SetPercent(msg.Fraction)

	case finishedMsg:
		m.Finished = true
		return m, tea.Quit

	case tea.WindowSizeMsg:
		m.bar.Width = min(max(msg.Width-8, 10), 60)
		return m, nil

	case tea.KeyMsg:
		// The pipeline cannot be interrupted safely; keys are ignored.
		return m, nil

	case progress.FrameMsg:
		bar, cmd := m.bar.Update(msg)
		if b, ok := bar.(progress.Model); ok {
			m.bar = b
		}
		return m, cmd

	case spinner.TickMsg:
		if m.Finished {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the model.
func (m ProgressModel) View() string {
	var b strings.Builder

	if m.Title != "" {
		b.WriteString(m.titleStyle.Render(m.Title))
		b.WriteString("\n\n")
	}

	switch {
	case m.State == status.Failed:
		b.WriteString(m.errorStyle.Render("✗ " + m.State.Title()))
	case m.State.Terminal():
		b.WriteString(m.successStyle.Render("✓ " + m.State.Title()))
	default:
		b.WriteString(m.spinner.View() + " " + m.stateStyle.Render(m.State.Title()))
	}
	b.WriteString("\n")

	if m.Message != "" {
		b.WriteString("  " + m.Message + "\n")
	}

	if m.hasProgress && !m.State.Terminal() {
		b.WriteString("\n  " + m.bar.ViewAs(m.Fraction) + "\n")
		b.WriteString(m.hintStyle.Render(fmt.Sprintf("  %s %3.0f%%", m.Phase, m.Fraction*100)))
		b.WriteString("\n")
	}

	return b.String()
}

// Sink forwards status events to a running program.
type Sink struct {
	p *tea.Program
}

// Status sends a StatusMsg.
func (s Sink) Status(state status.State, message string) {
	s.p.Send(StatusMsg{State: state, Message: message})
}

// Progress sends a ProgressMsg.
func (s Sink) Progress(phase status.Phase, fraction float64) {
	s.p.Send(ProgressMsg{Phase: phase, Fraction: fraction})
}

// Run shows the progress view on out while fn runs in its own goroutine.
// fn reports through the Sink it is given; the view closes when fn
// returns. Run returns only after fn has returned. Without keyboard input
// (role B runs detached) the program reads nothing from stdin.
func Run(title string, out io.Writer, keyboard bool, fn func(status.Sink)) error {
	opts := []tea.ProgramOption{tea.WithOutput(out)}
	if !keyboard {
		opts = append(opts, tea.WithInput(nil))
	}
	p := tea.NewProgram(NewProgressModel(title), opts...)

	done := make(chan struct{})
	go func() {
		defer close(done)
		fn(Sink{p: p})
		p.Send(finishedMsg{})
	}()

	_, err := p.Run()
	<-done
	return err
}

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
