// Package tui provides a Bubble Tea dashboard for the download manager.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/handiism/dlmanager/internal/download"
	"github.com/handiism/dlmanager/internal/model"
	"github.com/handiism/dlmanager/internal/queue"
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

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#F8B500"))
)

// maxLogs is the number of completion messages kept on screen.
const maxLogs = 5

// Manager is the part of download.Manager the dashboard drives.
type Manager interface {
	Tasks() []model.Task
	WaitingKeys() []string
	ActiveKeys() []string
	Download(keys []string, opts ...download.DownloadOption) []string
	Pause(keys []string) []string
	Resume(keys []string) []string
	Stop(keys []string) []string
	Restart(keys []string, keepOldFile bool) []string
	Delete(keys []string, keepFinishedFile bool) []string
	MaxConcurrent() int
	SetMaxConcurrent(n int)
}

type mode int

const (
	modeList mode = iota
	modeAdd
)

// LogEntry is a completion shown below the task list.
type LogEntry struct {
	Message string
	Failed  bool
}

// EventMsg carries a manager event into the program.
type EventMsg struct {
	Event download.Event
}

// Model is the Bubble Tea model for the TUI.
type Model struct {
	mode      mode
	textInput textinput.Model
	spinner   spinner.Model
	progress  progress.Model

	manager Manager
	tasks   []model.Task
	cursor  int
	active  int
	waiting int
	limit   int
	logs    []LogEntry
	status  string

	width  int
	height int
}

// NewModel creates a dashboard over manager.
func NewModel(manager Manager) Model {
	ti := textinput.New()
	ti.Placeholder = "https://example.com/file.iso"
	ti.CharLimit = 2000
	ti.Width = 60

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))

	prog := progress.New(progress.WithDefaultGradient())
	prog.Width = 50

	m := Model{
		mode:      modeList,
		textInput: ti,
		spinner:   sp,
		progress:  prog,
		manager:   manager,
	}
	m.reload()
	return m
}

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

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
		if m.mode == modeAdd {
			return m.updateAdd(msg)
		}
		return m.updateList(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case EventMsg:
		cmds = append(cmds, m.handleEvent(msg.Event))

	case progress.FrameMsg:
		progressModel, cmd := m.progress.Update(msg)
		m.progress = progressModel.(progress.Model)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m Model) updateAdd(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "esc":
		m.mode = modeList
		m.textInput.Blur()
		return m, nil
	case "enter":
		url := strings.TrimSpace(m.textInput.Value())
		if url == "" {
			return m, nil
		}
		if accepted := m.manager.Download([]string{url}); accepted == nil {
			m.status = "not added: " + url
		} else {
			m.status = "added " + url
		}
		m.textInput.SetValue("")
		m.textInput.Blur()
		m.mode = modeList
		m.reload()
		return m, nil
	}
	var cmd tea.Cmd
	m.textInput, cmd = m.textInput.Update(msg)
	return m, cmd
}

func (m Model) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit

	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.tasks)-1 {
			m.cursor++
		}

	case "a":
		m.mode = modeAdd
		m.textInput.Focus()
		return m, textinput.Blink

	case "p":
		m.act("paused", m.manager.Pause)
	case "r":
		m.act("resumed", m.manager.Resume)
	case "s":
		m.act("stopped", m.manager.Stop)
	case "R":
		m.act("restarted", func(keys []string) []string { return m.manager.Restart(keys, false) })
	case "x":
		m.act("deleted", func(keys []string) []string { return m.manager.Delete(keys, false) })
	case "X":
		m.act("deleted, file kept", func(keys []string) []string { return m.manager.Delete(keys, true) })

	case "+":
		if limit := m.manager.MaxConcurrent(); limit != queue.Unlimited {
			m.manager.SetMaxConcurrent(limit + 1)
		}
	case "-":
		switch limit := m.manager.MaxConcurrent(); {
		case limit == queue.Unlimited:
			m.manager.SetMaxConcurrent(max(len(m.manager.ActiveKeys()), 1))
		case limit > 1:
			m.manager.SetMaxConcurrent(limit - 1)
		}
	case "0":
		m.manager.SetMaxConcurrent(queue.Unlimited)
	}
	m.reload()
	return m, nil
}

// act applies op to the selected task and reports the outcome.
func (m *Model) act(verb string, op func(keys []string) []string) {
	key, ok := m.selected()
	if !ok {
		return
	}
	if op([]string{key}) == nil {
		m.status = "nothing to do for " + key
		return
	}
	m.status = verb + " " + key
}

func (m *Model) handleEvent(ev download.Event) tea.Cmd {
	switch ev.Kind {
	case download.EventProgress:
		for i := range m.tasks {
			if m.tasks[i].URL == ev.Key {
				m.tasks[i].ReceivedBytes = ev.Received
				m.tasks[i].ExpectedBytes = ev.Expected
				break
			}
		}
		return nil

	case download.EventAggregate:
		m.active, m.waiting, m.limit = ev.Active, ev.Waiting, ev.Limit
		var percent float64
		if ev.Expected > 0 {
			percent = float64(ev.Received) / float64(ev.Expected)
		}
		return m.progress.SetPercent(percent)

	case download.EventCompleted:
		entry := LogEntry{Message: "finished " + ev.Key}
		switch {
		case errors.Is(ev.Err, download.ErrFileSystem):
			entry = LogEntry{Message: fmt.Sprintf("%s: %v", ev.Key, ev.Err), Failed: true}
		case ev.Err != nil:
			entry = LogEntry{Message: fmt.Sprintf("failed %s: %v", ev.Key, ev.Err), Failed: true}
		}
		m.logs = append(m.logs, entry)
		if len(m.logs) > maxLogs {
			m.logs = m.logs[len(m.logs)-maxLogs:]
		}
	}
	m.reload()
	return nil
}

// reload reads the task list and counters from the manager.
func (m *Model) reload() {
	m.tasks = m.manager.Tasks()
	m.active = len(m.manager.ActiveKeys())
	m.waiting = len(m.manager.WaitingKeys())
	m.limit = m.manager.MaxConcurrent()
	if m.cursor >= len(m.tasks) {
		m.cursor = max(len(m.tasks)-1, 0)
	}
}

func (m Model) selected() (string, bool) {
	if m.cursor < 0 || m.cursor >= len(m.tasks) {
		return "", false
	}
	return m.tasks[m.cursor].URL, true
}

// View renders the UI.
func (m Model) View() string {
	var b strings.Builder

	// Header
	b.WriteString(titleStyle.Render("Download Manager"))
	b.WriteString("\n")
	limit := "unlimited"
	if m.limit != queue.Unlimited {
		limit = fmt.Sprint(m.limit)
	}
	b.WriteString(infoStyle.Render(fmt.Sprintf("Active: %d/%s | Waiting: %d | Tasks: %d", m.active, limit, m.waiting, len(m.tasks))))
	b.WriteString("\n")
	b.WriteString(m.progress.View())
	b.WriteString("\n\n")

	if m.mode == modeAdd {
		b.WriteString(subtitleStyle.Render("Enter URL:"))
		b.WriteString("\n\n")
		b.WriteString(m.textInput.View())
		b.WriteString("\n\n")
	} else {
		b.WriteString(m.renderTasks())
	}

	if m.status != "" {
		b.WriteString("\n")
		b.WriteString(dimStyle.Render(m.status))
		b.WriteString("\n")
	}
	b.WriteString(m.renderLogs())

	// Footer
	b.WriteString("\n")
	b.WriteString(dimStyle.Render(m.getHelpText()))

	return b.String()
}

func (m Model) renderTasks() string {
	if len(m.tasks) == 0 {
		return dimStyle.Render("No downloads yet. Press a to add one.") + "\n"
	}

	var b strings.Builder
	for i, t := range m.tasks {
		marker := "  "
		name := t.Name()
		if i == m.cursor {
			marker = "> "
			name = selectedStyle.Render(name)
		}
		icon := " "
		if t.State == model.StateDownloading {
			icon = m.spinner.View()
		}
		b.WriteString(fmt.Sprintf("%s%s %s %s %s\n",
			marker,
			icon,
			stateStyle(t.State).Render(fmt.Sprintf("%-11s", t.State)),
			name,
			dimStyle.Render(sizeLabel(t)),
		))
	}
	return b.String()
}

func stateStyle(s model.State) lipgloss.Style {
	switch s {
	case model.StateFinished:
		return successStyle
	case model.StateDownloading:
		return infoStyle
	case model.StatePaused, model.StateStopped:
		return warningStyle
	default:
		return dimStyle
	}
}

func sizeLabel(t model.Task) string {
	if t.ExpectedBytes > 0 {
		return fmt.Sprintf("%s / %s (%.0f%%)", humanBytes(t.ReceivedBytes), humanBytes(t.ExpectedBytes), t.Progress()*100)
	}
	if t.ReceivedBytes > 0 {
		return humanBytes(t.ReceivedBytes)
	}
	return ""
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func (m Model) renderLogs() string {
	var b strings.Builder

	for _, log := range m.logs {
		style, prefix := successStyle, "✓"
		if log.Failed {
			style, prefix = errorStyle, "✗"
		}
		b.WriteString(style.Render(prefix + " " + log.Message))
		b.WriteString("\n")
	}

	return b.String()
}

func (m Model) getHelpText() string {
	if m.mode == modeAdd {
		return "enter: add • esc: back"
	}
	return "a: add • p: pause • r: resume • s: stop • R: restart • x/X: delete/keep file • +/-/0: limit • q: quit"
}

// Run starts the dashboard and feeds it the manager's events until the
// user quits or ctx is done.
func Run(ctx context.Context, manager *download.Manager) error {
	p := tea.NewProgram(NewModel(manager), tea.WithAltScreen(), tea.WithContext(ctx))
	sub := manager.Subscribe(func(ev download.Event) {
		p.Send(EventMsg{Event: ev})
	})
	defer sub.Unsubscribe()

	_, err := p.Run()
	return err
}
