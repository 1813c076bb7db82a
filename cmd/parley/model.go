package main

import (
	"context"
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"parley/pkg/chat"
	"parley/pkg/session"
)

// updatesMsg is sent whenever the orchestrator signals a state change.
type updatesMsg struct{}

// sendDoneMsg carries the result of an asynchronous send.
type sendDoneMsg struct{ err error }

// selectDoneMsg carries the result of switching conversations.
type selectDoneMsg struct{ err error }

// refreshDoneMsg carries the result of the initial server list fetch.
type refreshDoneMsg struct{ err error }

// actionDoneMsg carries the result of a fire-and-forget action (toggle,
// delete). The orchestrator raises its own notices; only validation errors
// need a local flash.
type actionDoneMsg struct{ err error }

const sidebarWidth = 30

// chatModel is the Bubble Tea model for the interactive chat view.
type chatModel struct {
	orch  *session.Orchestrator
	theme Theme

	snapshot  session.Snapshot
	sessions  []chat.Session
	lastEpoch uint64
	flash     string // one-line transient status, cleared on next update

	viewport viewport.Model
	input    textarea.Model
	spin     spinner.Model

	width  int
	height int
	ready  bool
}

// newChatModel builds the TUI around an orchestrator that is already seeded.
func newChatModel(orch *session.Orchestrator, theme Theme) chatModel {
	ta := textarea.New()
	ta.Placeholder = "Type a message..."
	ta.ShowLineNumbers = false
	ta.SetHeight(3)
	ta.CharLimit = 0
	// Enter sends; ctrl+j inserts a literal newline.
	ta.KeyMap.InsertNewline = key.NewBinding(key.WithKeys("ctrl+j"))
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := chatModel{
		orch:     orch,
		theme:    theme,
		input:    ta,
		spin:     sp,
		viewport: viewport.New(0, 0),
	}
	m.refresh()
	m.lastEpoch = m.snapshot.Epoch
	return m
}

// Init implements tea.Model.
func (m chatModel) Init() tea.Cmd {
	return tea.Batch(
		textarea.Blink,
		m.spin.Tick,
		waitForUpdate(m.orch),
		refreshSessions(m.orch),
	)
}

// waitForUpdate blocks until the orchestrator reports a state change.
func waitForUpdate(orch *session.Orchestrator) tea.Cmd {
	return func() tea.Msg {
		<-orch.Updates()
		return updatesMsg{}
	}
}

// refreshSessions pulls the authoritative conversation list.
func refreshSessions(orch *session.Orchestrator) tea.Cmd {
	return func() tea.Msg {
		return refreshDoneMsg{err: orch.RefreshSessions(context.Background())}
	}
}

func sendMessage(orch *session.Orchestrator, text string) tea.Cmd {
	return func() tea.Msg {
		_, err := orch.Send(context.Background(), text)
		return sendDoneMsg{err: err}
	}
}

func selectSession(orch *session.Orchestrator, id string) tea.Cmd {
	return func() tea.Msg {
		return selectDoneMsg{err: orch.Select(context.Background(), id)}
	}
}

func toggleTool(orch *session.Orchestrator, tool string) tea.Cmd {
	return func() tea.Msg {
		return actionDoneMsg{err: orch.ToggleTool(context.Background(), tool)}
	}
}

func deleteSession(orch *session.Orchestrator, id string) tea.Cmd {
	return func() tea.Msg {
		return actionDoneMsg{err: orch.Delete(context.Background(), id)}
	}
}

func pinSession(orch *session.Orchestrator, id string, pinned bool) tea.Cmd {
	return func() tea.Msg {
		return actionDoneMsg{err: orch.SetPinned(context.Background(), id, pinned)}
	}
}

// refresh re-reads orchestrator state into the model.
func (m *chatModel) refresh() {
	m.snapshot = m.orch.Snapshot()
	m.sessions = m.orch.Sessions()
	for _, n := range m.orch.Notices() {
		m.flash = n.Text
	}
}

// Update implements tea.Model.
func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.layout()
		m.viewport.SetContent(m.renderTranscript())
		m.viewport.GotoBottom()

	case updatesMsg:
		wasBottom := m.viewport.AtBottom()
		m.refresh()
		m.viewport.SetContent(m.renderTranscript())
		if m.snapshot.Epoch != m.lastEpoch {
			// Entering a conversation always lands at the latest
			// message, even when re-entering the same one.
			m.lastEpoch = m.snapshot.Epoch
			m.viewport.GotoBottom()
		} else if wasBottom {
			m.viewport.GotoBottom()
		}
		return m, waitForUpdate(m.orch)

	case sendDoneMsg:
		if msg.err != nil {
			m.flash = sendFlash(msg.err)
		}
		return m, nil

	case selectDoneMsg, refreshDoneMsg:
		// Failures surface through orchestrator notices.
		return m, nil

	case actionDoneMsg:
		var verr *chat.ValidationError
		if errors.As(msg.err, &verr) {
			m.flash = verr.Reason
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	return m, nil
}

// handleKeyPress processes keyboard input.
func (m chatModel) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit

	case "enter":
		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			return m, nil
		}
		if m.snapshot.IsSending {
			m.flash = "still sending, hang on"
			return m, nil
		}
		m.input.Reset()
		return m, sendMessage(m.orch, text)

	case "ctrl+n":
		m.orch.StartDraft(context.Background())
		m.input.Reset()
		return m, nil

	case "ctrl+s":
		m.orch.StopStreaming()
		return m, nil

	case "ctrl+p":
		if s := m.snapshot.Selected; s != nil {
			return m, pinSession(m.orch, s.ID, !s.Pinned)
		}
		return m, nil

	case "tab":
		if id, ok := m.neighborSession(1); ok {
			return m, selectSession(m.orch, id)
		}
		return m, nil

	case "shift+tab":
		if id, ok := m.neighborSession(-1); ok {
			return m, selectSession(m.orch, id)
		}
		return m, nil

	case "ctrl+w":
		return m, toggleTool(m.orch, chat.ToolWebSearch)

	case "ctrl+r":
		return m, toggleTool(m.orch, chat.ToolCodeRunner)

	case "ctrl+x":
		if m.snapshot.Selected != nil {
			return m, deleteSession(m.orch, m.snapshot.Selected.ID)
		}
		return m, nil

	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	// Everything else belongs to the composer.
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	m.mirrorDraftText()
	return m, cmd
}

// mirrorDraftText keeps the draft's pin state in sync with the composer:
// typed text protects an otherwise empty draft from expiring.
func (m *chatModel) mirrorDraftText() {
	if !m.snapshot.Draft.Active {
		return
	}
	if text := m.input.Value(); text != m.snapshot.Draft.Text {
		m.orch.SetDraftText(text)
	}
}

// neighborSession returns the id one step away from the current selection in
// list order, wrapping at the ends.
func (m chatModel) neighborSession(step int) (string, bool) {
	if len(m.sessions) == 0 {
		return "", false
	}
	current := -1
	if m.snapshot.Selected != nil {
		for i, s := range m.sessions {
			if s.ID == m.snapshot.Selected.ID {
				current = i
				break
			}
		}
	}
	if current == -1 {
		// Nothing selected: tab enters the first conversation.
		if step > 0 {
			return m.sessions[0].ID, true
		}
		return m.sessions[len(m.sessions)-1].ID, true
	}
	next := (current + step + len(m.sessions)) % len(m.sessions)
	if next == current {
		return "", false
	}
	return m.sessions[next].ID, true
}

// layout sizes the panes from the terminal dimensions.
func (m *chatModel) layout() {
	contentWidth := m.width - sidebarWidth - 3
	if contentWidth < 20 {
		contentWidth = 20
	}
	inputHeight := 3
	chromeHeight := 5 // header + notice + help + borders
	bodyHeight := m.height - inputHeight - chromeHeight
	if bodyHeight < 3 {
		bodyHeight = 3
	}

	m.viewport.Width = contentWidth
	m.viewport.Height = bodyHeight
	m.input.SetWidth(m.width - 2)
	m.input.SetHeight(inputHeight)
}

func sendFlash(err error) string {
	switch {
	case errors.Is(err, chat.ErrSendInFlight):
		return "still sending, hang on"
	case errors.Is(err, chat.ErrEmptyMessage):
		return "nothing to send"
	default:
		// Terminal send failures already surface as an assistant
		// apology bubble; no flash needed.
		return ""
	}
}
