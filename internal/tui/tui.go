// Package tui provides a Bubble Tea terminal user interface for nfse-downloader.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/handiism/nfse-downloader/internal/config"
	"github.com/handiism/nfse-downloader/internal/download"
	"github.com/handiism/nfse-downloader/internal/fetch"
)

// Styles for the TUI
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF6B6B")).
			MarginBottom(1)

	subtitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#4ECDC4"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#95E1A3"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFE66D"))

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#A8DADC"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6C757D"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#4ECDC4")).
			Padding(1, 2)

	conflictStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F8B500"))
)

// State represents the current UI state.
type State int

const (
	StateInput State = iota
	StateQueued
	StateDownloading
	StateComplete
	StateError
)

// Input fields, in focus order.
const (
	fieldTaxpayer = iota
	fieldFrom
	fieldTo
	fieldCount
)

const (
	maxLogs      = 10
	maxConflicts = 5
)

var errCancelled = errors.New("cancelled by user")

// LogEntry represents a log message in the UI.
type LogEntry struct {
	Message string
	Level   download.ProgressLevel
}

// Model is the Bubble Tea model for the TUI.
type Model struct {
	state    State
	inputs   []textinput.Model
	focus    int
	inputErr error
	spinner  spinner.Model
	progress progress.Model
	settings *config.Settings
	logs     []LogEntry
	err      error

	// Job context
	ctx    context.Context
	cancel context.CancelFunc

	runner *download.Runner
	events <-chan download.ProgressEvent
	job    *download.Job
	snap   download.Snapshot

	verbose bool

	width  int
	height int
}

// NewModel creates a new TUI model. events carries the runner's progress
// events and may be nil.
func NewModel(settings *config.Settings, runner *download.Runner, events <-chan download.ProgressEvent) Model {
	if settings == nil {
		settings = config.DefaultSettings()
	}

	placeholders := [fieldCount]string{"CNPJ/CPF", "from YYYY-MM-DD", "to YYYY-MM-DD"}
	inputs := make([]textinput.Model, fieldCount)
	for i := range inputs {
		ti := textinput.New()
		ti.Placeholder = placeholders[i]
		ti.CharLimit = 18
		ti.Width = 24
		inputs[i] = ti
	}
	inputs[fieldTaxpayer].Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))

	prog := progress.New(progress.WithDefaultGradient())
	prog.Width = 50

	ctx, cancel := context.WithCancel(context.Background())

	return Model{
		state:    StateInput,
		inputs:   inputs,
		spinner:  sp,
		progress: prog,
		settings: settings,
		logs:     make([]LogEntry, 0),
		ctx:      ctx,
		cancel:   cancel,
		runner:   runner,
		events:   events,
	}
}

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, m.waitForEvent())
}

// Message types
type (
	// ProgressMsg is sent when the runner reports progress.
	ProgressMsg struct {
		Event download.ProgressEvent
	}

	// JobDoneMsg is sent when the job reaches a terminal state.
	JobDoneMsg struct {
		Snapshot download.Snapshot
		Err      error
	}

	// TickMsg is for periodic progress updates.
	TickMsg struct{}
)

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.progress.Width = min(max(msg.Width-20, 20), 80)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.cancel()
			return m, tea.Quit

		case "esc":
			if m.state == StateInput {
				return m, tea.Quit
			}
			if m.state == StateQueued || m.state == StateDownloading {
				m.cancel()
				m.state = StateError
				m.err = errCancelled
			}

		case "tab", "down":
			if m.state == StateInput {
				m.setFocus(m.focus + 1)
				return m, nil
			}

		case "shift+tab", "up":
			if m.state == StateInput {
				m.setFocus(m.focus - 1)
				return m, nil
			}

		case "ctrl+o":
			m.verbose = !m.verbose
			return m, nil

		case "enter":
			if m.state == StateInput {
				return m.submit()
			}

		case "q":
			if m.state == StateComplete || m.state == StateError {
				return m, tea.Quit
			}

		case "r":
			if m.state == StateComplete || m.state == StateError {
				m.reset()
				return m, textinput.Blink
			}
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case ProgressMsg:
		cmds = append(cmds, m.waitForEvent())
		if m.job == nil || msg.Event.JobID != m.job.ID() {
			break
		}
		if msg.Event.Level == download.LevelVerbose && !m.verbose {
			break
		}
		m.logs = append(m.logs, LogEntry{
			Message: msg.Event.Message,
			Level:   msg.Event.Level,
		})
		if len(m.logs) > maxLogs {
			m.logs = m.logs[len(m.logs)-maxLogs:]
		}

	case JobDoneMsg:
		m.snap = msg.Snapshot
		switch {
		case m.ctx.Err() != nil:
			m.state = StateError
			m.err = errCancelled
		case msg.Err != nil:
			m.state = StateError
			m.err = msg.Err
		default:
			m.state = StateComplete
		}

	case TickMsg:
		if m.job != nil && (m.state == StateQueued || m.state == StateDownloading) {
			m.snap = m.job.Snapshot()
			if m.snap.Status == download.StateRunning {
				m.state = StateDownloading
			}
			cmds = append(cmds, m.progress.SetPercent(pagePercent(m.snap.Progress)), m.tickProgress())
		}

	case progress.FrameMsg:
		progressModel, cmd := m.progress.Update(msg)
		m.progress = progressModel.(progress.Model)
		cmds = append(cmds, cmd)
	}

	if m.state == StateInput {
		var cmd tea.Cmd
		m.inputs[m.focus], cmd = m.inputs[m.focus].Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m *Model) setFocus(i int) {
	m.inputs[m.focus].Blur()
	m.focus = (i + fieldCount) % fieldCount
	m.inputs[m.focus].Focus()
}

// query builds the job query from the input fields.
func (m Model) query() (fetch.Query, error) {
	from, err := time.Parse(time.DateOnly, strings.TrimSpace(m.inputs[fieldFrom].Value()))
	if err != nil {
		return fetch.Query{}, errors.New("from: expected YYYY-MM-DD")
	}
	to, err := time.Parse(time.DateOnly, strings.TrimSpace(m.inputs[fieldTo].Value()))
	if err != nil {
		return fetch.Query{}, errors.New("to: expected YYYY-MM-DD")
	}
	q := fetch.Query{
		TaxpayerID: strings.TrimSpace(m.inputs[fieldTaxpayer].Value()),
		From:       from,
		To:         to,
	}
	return q, q.Validate()
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	if m.runner == nil {
		m.inputErr = errors.New("no runner configured")
		return m, nil
	}
	q, err := m.query()
	if err != nil {
		m.inputErr = err
		return m, nil
	}

	m.inputErr = nil
	m.inputs[m.focus].Blur()
	m.job = m.runner.Submit(download.Request{TaxpayerID: q.TaxpayerID, From: q.From, To: q.To})
	m.snap = m.job.Snapshot()
	m.state = StateQueued
	return m, tea.Batch(m.runJob(m.ctx, m.job), m.tickProgress(), m.spinner.Tick)
}

func (m *Model) reset() {
	m.state = StateInput
	m.logs = nil
	m.err = nil
	m.inputErr = nil
	m.job = nil
	m.snap = download.Snapshot{}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	for i := range m.inputs {
		m.inputs[i].SetValue("")
	}
	m.focus = fieldTaxpayer
	m.inputs[m.focus].Focus()
}

// tickProgress returns a command to tick progress updates.
func (m Model) tickProgress() tea.Cmd {
	return tea.Tick(200*time.Millisecond, func(_ time.Time) tea.Msg {
		return TickMsg{}
	})
}

// waitForEvent blocks on the next progress event.
func (m Model) waitForEvent() tea.Cmd {
	if m.events == nil {
		return nil
	}
	events := m.events
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return nil
		}
		return ProgressMsg{Event: ev}
	}
}

// runJob executes job in the background.
func (m Model) runJob(ctx context.Context, job *download.Job) tea.Cmd {
	runner := m.runner
	return func() tea.Msg {
		err := runner.Execute(ctx, job)
		return JobDoneMsg{Snapshot: job.Snapshot(), Err: err}
	}
}

func pagePercent(p download.Progress) float64 {
	if p.TotalPages <= 0 {
		return 0
	}
	return min(float64(p.CurrentPage)/float64(p.TotalPages), 1)
}

// View renders the UI.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("NFSe Downloader"))
	b.WriteString("\n")
	b.WriteString(dimStyle.Render("Download and organize service invoices"))
	b.WriteString("\n\n")

	switch m.state {
	case StateInput:
		b.WriteString(m.viewInput())
	case StateQueued:
		b.WriteString(m.viewQueued())
	case StateDownloading:
		b.WriteString(m.viewDownloading())
	case StateComplete:
		b.WriteString(m.viewComplete())
	case StateError:
		b.WriteString(m.viewError())
	}

	b.WriteString("\n")
	b.WriteString(dimStyle.Render(m.getHelpText()))

	return b.String()
}

func (m Model) viewInput() string {
	var b strings.Builder

	b.WriteString(subtitleStyle.Render("Taxpayer and period:"))
	b.WriteString("\n\n")
	labels := [fieldCount]string{"Taxpayer", "From", "To"}
	for i, in := range m.inputs {
		fmt.Fprintf(&b, "  %-9s %s\n", labels[i], in.View())
	}
	b.WriteString("\n")

	if m.inputErr != nil {
		b.WriteString(errorStyle.Render("  " + m.inputErr.Error()))
		b.WriteString("\n\n")
	}

	verboseCheck := "[ ]"
	if m.verbose {
		verboseCheck = "[x]"
	}
	b.WriteString(infoStyle.Render("Options:"))
	b.WriteString("\n")
	fmt.Fprintf(&b, "  %s Verbose output (ctrl+o)\n", verboseCheck)
	b.WriteString("\n")
	b.WriteString(dimStyle.Render(fmt.Sprintf("Download path: %s", m.settings.DownloadsPath)))
	b.WriteString("\n")

	return b.String()
}

func (m Model) viewQueued() string {
	var b strings.Builder

	b.WriteString(m.spinner.View())
	b.WriteString(" ")
	b.WriteString(subtitleStyle.Render(fmt.Sprintf("Fetching the first page for %s...", m.snap.TaxpayerID)))
	b.WriteString("\n\n")
	b.WriteString(m.renderLogs())

	return b.String()
}

func (m Model) viewDownloading() string {
	var b strings.Builder

	p := m.snap.Progress
	b.WriteString(subtitleStyle.Render(fmt.Sprintf("%s  %s to %s",
		m.snap.TaxpayerID, m.snap.From.Format(time.DateOnly), m.snap.To.Format(time.DateOnly))))
	b.WriteString("\n\n")

	b.WriteString(m.progress.ViewAs(pagePercent(p)))
	b.WriteString("\n")
	b.WriteString(infoStyle.Render(fmt.Sprintf(
		"Page: %d/%d | Written: %d | Duplicates: %d | Conflicts: %d",
		p.CurrentPage, p.TotalPages, p.Written, p.SkippedDuplicate, p.Conflicted,
	)))
	b.WriteString("\n")
	if m.snap.Retries > 0 || m.snap.FailedWrites > 0 {
		b.WriteString(warningStyle.Render(fmt.Sprintf("Retries: %d | Failed writes: %d", m.snap.Retries, m.snap.FailedWrites)))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(m.renderLogs())

	return b.String()
}

func (m Model) viewComplete() string {
	var b strings.Builder

	p := m.snap.Progress
	box := boxStyle.Render(fmt.Sprintf(
		"Download Complete!\n\n"+
			"Pages: %d\n"+
			"Written: %d\n"+
			"Duplicates skipped: %d\n"+
			"Conflicts: %d\n"+
			"Failed writes: %d",
		p.TotalPages,
		p.Written,
		p.SkippedDuplicate,
		p.Conflicted,
		m.snap.FailedWrites,
	))
	b.WriteString(box)
	b.WriteString("\n")
	b.WriteString(m.renderConflicts())

	return b.String()
}

func (m Model) viewError() string {
	var b strings.Builder

	b.WriteString(errorStyle.Render("Error occurred:"))
	b.WriteString("\n\n")
	if m.err != nil {
		fmt.Fprintf(&b, "  %s\n", m.err.Error())
	}
	if m.snap.Progress.Written > 0 {
		b.WriteString("\n")
		b.WriteString(dimStyle.Render(fmt.Sprintf("  %d file(s) were written before the failure", m.snap.Progress.Written)))
		b.WriteString("\n")
	}

	return b.String()
}

func (m Model) renderConflicts() string {
	if len(m.snap.Conflicts) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(conflictStyle.Render(fmt.Sprintf("%d conflict(s) need review:", len(m.snap.Conflicts))))
	b.WriteString("\n")
	for i, c := range m.snap.Conflicts {
		if i == maxConflicts {
			b.WriteString(dimStyle.Render(fmt.Sprintf("  ... and %d more", len(m.snap.Conflicts)-maxConflicts)))
			b.WriteString("\n")
			break
		}
		line := "  " + c.Path
		if c.Quarantined != "" {
			line += " -> " + c.Quarantined
		}
		b.WriteString(conflictStyle.Render(line))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderLogs() string {
	var b strings.Builder

	for _, log := range m.logs {
		var style lipgloss.Style
		prefix := "-"
		switch log.Level {
		case download.LevelError:
			style = errorStyle
			prefix = "x"
		case download.LevelWarning:
			style = warningStyle
			prefix = "!"
		case download.LevelSuccess:
			style = successStyle
			prefix = "+"
		case download.LevelInfo:
			style = infoStyle
			prefix = ">"
		default:
			style = dimStyle
		}
		b.WriteString(style.Render(prefix + " " + log.Message))
		b.WriteString("\n")
	}

	return b.String()
}

func (m Model) getHelpText() string {
	switch m.state {
	case StateInput:
		return "enter: start | tab: next field | ctrl+o: verbose | esc: quit"
	case StateQueued, StateDownloading:
		return "esc: cancel | ctrl+o: verbose"
	case StateComplete, StateError:
		return "r: new download | q: quit"
	}
	return ""
}

// Run starts the TUI application.
func Run(settings *config.Settings, runner *download.Runner, events <-chan download.ProgressEvent) error {
	p := tea.NewProgram(NewModel(settings, runner, events), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
