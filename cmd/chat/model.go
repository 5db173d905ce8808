package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MegaGrindStone/assistant-web-ui/internal/models"
	"github.com/MegaGrindStone/assistant-web-ui/internal/turn"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

type messageLister interface {
	ListMessages(ctx context.Context, threadID string) ([]models.RemoteMessage, error)
}

type model struct {
	ctx       context.Context
	orch      *turn.Orchestrator
	lister    messageLister
	snapshots <-chan turn.Snapshot

	resumeID   string
	snapshot   turn.Snapshot
	ready      bool
	submitting bool
	startupErr error
	statusLine string
	lastReply  time.Time

	width  int
	height int

	input    textinput.Model
	timeline viewport.Model
	spinner  spinner.Model
	theme    uiTheme
}

type uiTheme struct {
	header      lipgloss.Style
	muted       lipgloss.Style
	status      lipgloss.Style
	errorStatus lipgloss.Style
	user        lipgloss.Style
	assistant   lipgloss.Style
	code        lipgloss.Style
	pending     lipgloss.Style
	inputPanel  lipgloss.Style
}

type threadOpenedMsg struct {
	threadID string
	err      error
}

type turnDoneMsg struct {
	err error
}

type snapshotMsg turn.Snapshot

type tickMsg time.Time

const (
	headerHeight = 1
	inputHeight  = 3
	footerHeight = 1
)

func newTheme() uiTheme {
	blue := lipgloss.Color("#01cdfe")
	mint := lipgloss.Color("#05ffa1")
	pink := lipgloss.Color("#ff71ce")
	muted := lipgloss.Color("#9ca3d8")

	return uiTheme{
		header:      lipgloss.NewStyle().Foreground(mint).Bold(true),
		muted:       lipgloss.NewStyle().Foreground(muted),
		status:      lipgloss.NewStyle().Foreground(blue).Bold(true),
		errorStatus: lipgloss.NewStyle().Foreground(pink).Bold(true),
		user:        lipgloss.NewStyle().Foreground(blue).Bold(true),
		assistant:   lipgloss.NewStyle().Foreground(mint).Bold(true),
		code: lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderLeft(true).
			BorderForeground(muted).
			PaddingLeft(1),
		pending: lipgloss.NewStyle().Foreground(muted).Italic(true),
		inputPanel: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(mint),
	}
}

func newModel(ctx context.Context, orch *turn.Orchestrator, lister messageLister, resumeID string) model {
	input := textinput.New()
	input.Prompt = "❯ "
	input.CharLimit = 4000
	input.Placeholder = "Enter your question"
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Points
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#05ffa1"))

	timeline := viewport.New(0, 0)
	timeline.MouseWheelEnabled = true
	timeline.MouseWheelDelta = 4

	return model{
		ctx:        ctx,
		orch:       orch,
		lister:     lister,
		snapshots:  subscribe(orch),
		resumeID:   resumeID,
		snapshot:   orch.Snapshot(),
		statusLine: "opening thread...",
		input:      input,
		timeline:   timeline,
		spinner:    sp,
		theme:      newTheme(),
	}
}

// subscribe forwards orchestrator snapshots into a channel that only keeps the latest one, so the
// orchestrator never waits on the UI.
func subscribe(orch *turn.Orchestrator) <-chan turn.Snapshot {
	ch := make(chan turn.Snapshot, 1)
	orch.Subscribe(func(s turn.Snapshot) {
		for {
			select {
			case ch <- s:
				return
			default:
			}
			select {
			case <-ch:
			default:
			}
		}
	})
	return ch
}

func waitSnapshot(ch <-chan turn.Snapshot) tea.Cmd {
	return func() tea.Msg {
		s, ok := <-ch
		if !ok {
			return nil
		}
		return snapshotMsg(s)
	}
}

func tickEvery(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.openThreadCmd(),
		waitSnapshot(m.snapshots),
		tickEvery(time.Second),
	)
}

func (m model) openThreadCmd() tea.Cmd {
	ctx, orch, lister, resumeID := m.ctx, m.orch, m.lister, m.resumeID
	return func() tea.Msg {
		if resumeID == "" {
			id, err := orch.OpenThread(ctx)
			return threadOpenedMsg{threadID: id, err: err}
		}

		list, err := lister.ListMessages(ctx, resumeID)
		if err != nil {
			return threadOpenedMsg{err: fmt.Errorf("failed to load thread %s: %w", resumeID, err)}
		}
		msgs := make([]models.Message, 0, len(list))
		for _, rm := range list {
			msgs = append(msgs, models.Message{ID: rm.ID, Role: rm.Role, Text: rm.FirstText()})
		}
		if err := orch.Resume(resumeID, msgs); err != nil {
			return threadOpenedMsg{err: err}
		}
		return threadOpenedMsg{threadID: resumeID}
	}
}

func (m model) submitCmd(text string) tea.Cmd {
	ctx, orch := m.ctx, m.orch
	return func() tea.Msg {
		return turnDoneMsg{err: orch.Submit(ctx, text)}
	}
}

func (m model) resetCmd() tea.Cmd {
	ctx, orch := m.ctx, m.orch
	return func() tea.Msg {
		if err := orch.Reset(); err != nil {
			return threadOpenedMsg{err: err}
		}
		id, err := orch.OpenThread(ctx)
		return threadOpenedMsg{threadID: id, err: err}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	switch msg := msg.(type) {
	case threadOpenedMsg:
		if msg.err != nil {
			m.startupErr = msg.err
			m.statusLine = "could not open a thread"
			return m, nil
		}
		m.startupErr = nil
		m.ready = true
		m.statusLine = "ready"
		m.snapshot = m.orch.Snapshot()
		m.renderTimeline()
	case snapshotMsg:
		m.snapshot = turn.Snapshot(msg)
		if m.snapshot.Flags.InputDisabled {
			m.input.Blur()
		} else {
			m.input.Focus()
		}
		m.renderTimeline()
		cmds = append(cmds, waitSnapshot(m.snapshots))
	case turnDoneMsg:
		m.submitting = false
		switch {
		case errors.Is(msg.err, turn.ErrTurnInFlight):
			m.statusLine = "wait for the reply before sending again"
		case msg.err != nil:
			m.statusLine = msg.err.Error()
		default:
			m.lastReply = time.Now()
			m.statusLine = "ready"
		}
		m.renderTimeline()
	case tickMsg:
		cmds = append(cmds, tickEvery(time.Second))
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		m.renderTimeline()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		if m.snapshot.Flags.Thinking {
			m.renderTimeline()
		}
		cmds = append(cmds, cmd)
	case tea.MouseMsg:
		var cmd tea.Cmd
		m.timeline, cmd = m.timeline.Update(msg)
		cmds = append(cmds, cmd)
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "ctrl+r":
			if m.submitting || m.snapshot.Flags.InputDisabled {
				return m, nil
			}
			m.ready = false
			m.statusLine = "starting a new thread..."
			return m, m.resetCmd()
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.timeline, cmd = m.timeline.Update(msg)
			return m, cmd
		case "enter":
			if m.inputLocked() {
				return m, nil
			}
			text := strings.TrimSpace(m.input.Value())
			if text == "" {
				return m, nil
			}
			m.input.Reset()
			m.submitting = true
			m.statusLine = "sending..."
			return m, m.submitCmd(text)
		}
		if !m.inputLocked() {
			var cmd tea.Cmd
			m.input, cmd = m.input.Update(msg)
			cmds = append(cmds, cmd)
		}
	}
	return m, tea.Batch(cmds...)
}

func (m model) inputLocked() bool {
	return !m.ready || m.submitting || m.snapshot.Flags.InputDisabled
}

func (m *model) resize() {
	m.timeline.Width = m.width
	m.timeline.Height = max(1, m.height-headerHeight-inputHeight-footerHeight)
	m.input.Width = max(10, m.width-len(m.input.Prompt)-4)
}

func (m *model) renderTimeline() {
	width := m.timeline.Width
	if width <= 0 {
		width = 80
	}

	var b strings.Builder
	for i, msg := range m.snapshot.Messages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(m.renderMessage(msg, width))
	}
	m.timeline.SetContent(b.String())
	m.timeline.GotoBottom()
}

func (m model) renderMessage(msg models.Message, width int) string {
	body := lipgloss.NewStyle().Width(max(1, width-2))

	if msg.ID == models.PendingReplyID {
		label := m.theme.assistant.Render("assistant")
		if m.snapshot.Flags.Thinking {
			return label + "\n" + m.spinner.View() + " " + m.theme.pending.Render("thinking")
		}
		return label + "\n" + m.theme.pending.Render(msg.Text)
	}

	switch msg.Role {
	case models.RoleUser:
		return m.theme.user.Render("you") + "\n" + body.Render(msg.Text)
	case models.RoleCode:
		return m.theme.assistant.Render("assistant") + " " + m.theme.muted.Render("code") + "\n" +
			m.theme.code.Render(msg.Text)
	default:
		return m.theme.assistant.Render(string(msg.Role)) + "\n" + body.Render(msg.Text)
	}
}

func (m model) View() string {
	if m.startupErr != nil && !m.ready {
		return m.theme.errorStatus.Render("error: "+m.startupErr.Error()) + "\n" +
			m.theme.muted.Render("ctrl+r retries with a new thread, esc quits") + "\n"
	}

	thread := m.snapshot.ThreadID
	if thread == "" {
		thread = "none"
	}
	header := m.theme.header.Render("assistant chat") + " " + m.theme.muted.Render("thread "+thread)

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		m.timeline.View(),
		m.theme.inputPanel.Render(m.input.View()),
		m.statusView(),
	)
}

func (m model) statusView() string {
	parts := []string{m.theme.status.Render(m.statusLine)}
	if n := len(m.snapshot.Messages); n > 0 {
		parts = append(parts, humanize.Comma(int64(n))+" messages")
	}
	if !m.lastReply.IsZero() {
		parts = append(parts, "last turn "+humanize.Time(m.lastReply))
	}
	parts = append(parts, "enter send · ctrl+r new thread · esc quit")
	return m.theme.muted.Render(strings.Join(parts, " · "))
}
