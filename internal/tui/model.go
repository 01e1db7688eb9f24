package tui

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/audiolibrelab/memocapture/internal/api"
	"github.com/audiolibrelab/memocapture/internal/events"
	"github.com/audiolibrelab/memocapture/internal/recording"
	"github.com/audiolibrelab/memocapture/internal/tasks"
)

const requestTimeout = 15 * time.Second

// Backend is the part of the server API the window uses
type Backend interface {
	Start(ctx context.Context, title, taskID string) (*api.Response, error)
	Stop(ctx context.Context) (*api.Response, error)
	Cancel(ctx context.Context) error
	Status(ctx context.Context) (events.RecordingStatus, string, error)
	Tasks(ctx context.Context, status tasks.Status) ([]*tasks.Task, error)
	DeleteTask(ctx context.Context, id string) error
	PlayTask(ctx context.Context, id string) error
	OpenTask(ctx context.Context, id string) error
	Quit(ctx context.Context) error
}

// EventMsg carries one server event into the model
type EventMsg events.Event

// DisconnectedMsg signals the event feed is gone
type DisconnectedMsg struct{ Err error }

type statusMsg struct {
	status    events.RecordingStatus
	lastError string
}

type tasksMsg []*tasks.Task

type resultMsg struct {
	notice string
	err    error
}

type quitDoneMsg struct{ err error }

type fetchErrMsg struct{ err error }

type tickMsg time.Time

// Model is the root bubbletea model
type Model struct {
	backend Backend
	// keepServer leaves the server running when the window closes
	keepServer bool
	now        func() time.Time

	status       events.RecordingStatus
	tasks        []*tasks.Task
	cursor       int
	notice       string
	err          string
	disconnected bool
	quitting     bool
	width        int
}

func NewModel(backend Backend, keepServer bool) Model {
	return Model{
		backend:    backend,
		keepServer: keepServer,
		now:        time.Now,
		status:     events.RecordingStatus{State: string(recording.StateIdle)},
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.fetchStatus(), m.fetchTasks(), tick())
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tickMsg:
		return m, tick()

	case statusMsg:
		m.status = msg.status
		if msg.lastError != "" {
			m.err = msg.lastError
		}

	case tasksMsg:
		m.tasks = msg
		if m.cursor >= len(m.tasks) {
			m.cursor = max(0, len(m.tasks)-1)
		}

	case EventMsg:
		switch msg.Type {
		case events.EventStatusChanged:
			if msg.Status != nil {
				m.status = *msg.Status
			}
		case events.EventTaskChanged:
			if strings.HasPrefix(msg.Message, "capture ended unexpectedly") {
				m.err = msg.Message
			}
			return m, m.fetchTasks()
		case events.EventAppQuit:
			m.quitting = true
			return m, tea.Quit
		}

	case DisconnectedMsg:
		m.disconnected = true
		if msg.Err != nil {
			m.err = "connection lost: " + msg.Err.Error()
		}

	case resultMsg:
		m.notice = msg.notice
		m.err = ""
		if msg.err != nil && !recording.IsBenign(msg.err) {
			m.notice = ""
			m.err = msg.err.Error()
		}
		return m, m.fetchTasks()

	case fetchErrMsg:
		m.err = msg.err.Error()

	case quitDoneMsg:
		if msg.err != nil {
			m.quitting = false
			m.err = "quit failed: " + msg.err.Error()
			return m, nil
		}
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	busy := isBusy(m.status.State)

	switch msg.String() {
	case "ctrl+c", "q", "esc":
		m.quitting = true
		if m.keepServer {
			// the tray keeps the app alive
			return m, tea.Quit
		}
		return m, m.quitApp()
	case "Q":
		m.quitting = true
		return m, m.quitApp()
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.tasks)-1 {
			m.cursor++
		}
	case "r", " ":
		if busy {
			return m, nil
		}
		if m.status.IsRecording {
			return m, m.stop()
		}
		return m, m.start("")
	case "s":
		if busy || !m.status.IsRecording {
			return m, nil
		}
		return m, m.stop()
	case "c", "x":
		if busy || !m.status.IsRecording {
			return m, nil
		}
		return m, m.cancel()
	case "enter":
		// record into the selected queued task
		if t := m.selected(); t != nil && t.Status == tasks.StatusQueued && !busy && !m.status.IsRecording {
			return m, m.start(t.ID)
		}
	case "p":
		if t := m.selected(); t != nil {
			return m, m.call("Playing "+t.Title, func(ctx context.Context) error { return m.backend.PlayTask(ctx, t.ID) })
		}
	case "o":
		if t := m.selected(); t != nil {
			return m, m.call("Opened "+t.Title, func(ctx context.Context) error { return m.backend.OpenTask(ctx, t.ID) })
		}
	case "d":
		if t := m.selected(); t != nil {
			return m, m.call("Deleted "+t.Title, func(ctx context.Context) error { return m.backend.DeleteTask(ctx, t.ID) })
		}
	}
	return m, nil
}

func (m Model) selected() *tasks.Task {
	if m.cursor < 0 || m.cursor >= len(m.tasks) {
		return nil
	}
	return m.tasks[m.cursor]
}

func (m Model) start(taskID string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		resp, err := m.backend.Start(ctx, "", taskID)
		if err != nil {
			return resultMsg{err: err}
		}
		return resultMsg{notice: "Recording to " + filepath.Base(resp.Path)}
	}
}

func (m Model) stop() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		resp, err := m.backend.Stop(ctx)
		if err != nil {
			return resultMsg{err: err}
		}
		return resultMsg{notice: fmt.Sprintf("Saved %s (%.1fs)", resp.Path, resp.Duration)}
	}
}

func (m Model) cancel() tea.Cmd {
	return m.call("Recording discarded", m.backend.Cancel)
}

func (m Model) call(notice string, fn func(context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			return resultMsg{err: err}
		}
		return resultMsg{notice: notice}
	}
}

func (m Model) quitApp() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return quitDoneMsg{err: m.backend.Quit(ctx)}
	}
}

func (m Model) fetchStatus() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		st, lastError, err := m.backend.Status(ctx)
		if err != nil {
			return fetchErrMsg{err: err}
		}
		return statusMsg{status: st, lastError: lastError}
	}
}

func (m Model) fetchTasks() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		list, err := m.backend.Tasks(ctx, "")
		if err != nil {
			return fetchErrMsg{err: err}
		}
		return tasksMsg(list)
	}
}

func isBusy(state string) bool {
	switch recording.State(state) {
	case recording.StateStarting, recording.StateStopping, recording.StateCancelling:
		return true
	}
	return false
}

// StatusLine renders the recording state for the header
func StatusLine(st events.RecordingStatus, now time.Time) string {
	switch recording.State(st.State) {
	case recording.StateStarting:
		return BusyStyle.Render("Starting...")
	case recording.StateStopping:
		return BusyStyle.Render("Saving...")
	case recording.StateCancelling:
		return BusyStyle.Render("Discarding...")
	}
	if st.IsRecording {
		d := now.Sub(st.StartedAt)
		if d < 0 {
			d = 0
		}
		secs := int(d.Seconds())
		return RecordingStyle.Render(fmt.Sprintf("● REC %02d:%02d", secs/60, secs%60))
	}
	return IdleStyle.Render("Idle")
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("memocapture") + "  " + StatusLine(m.status, m.now()) + "\n\n")

	if len(m.tasks) == 0 {
		b.WriteString(MutedStyle.Render("No recordings yet. Press r to start.") + "\n")
	}
	for i, t := range m.tasks {
		line := fmt.Sprintf("%-32s %-10s %7s  %s",
			truncate(t.Title, 32), t.Status, formatDuration(t.Duration), t.CreatedAt.Local().Format("2006-01-02 15:04"))
		if i == m.cursor {
			b.WriteString(SelectedStyle.Render("> "+line) + "\n")
		} else {
			b.WriteString("  " + line + "\n")
		}
	}

	b.WriteString("\n")
	switch {
	case m.err != "":
		b.WriteString(ErrorStyle.Render(m.err) + "\n")
	case m.notice != "":
		b.WriteString(MutedStyle.Render(m.notice) + "\n")
	case m.status.LastPath != "":
		b.WriteString(MutedStyle.Render("Last: "+m.status.LastPath) + "\n")
	}
	if m.disconnected {
		b.WriteString(ErrorStyle.Render("disconnected from server") + "\n")
	}

	help := "r start/stop  c cancel  enter record task  p play  o open  d delete  q close  Q quit"
	return lipgloss.JoinVertical(lipgloss.Left, b.String(), StatusBarStyle.Render(help))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func formatDuration(seconds float64) string {
	if seconds <= 0 {
		return "-"
	}
	d := time.Duration(seconds * float64(time.Second)).Round(time.Second)
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}
