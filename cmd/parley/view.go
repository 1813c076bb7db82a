package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"parley/pkg/chat"
)

// View implements tea.Model.
func (m chatModel) View() string {
	if !m.ready {
		return "starting parley..."
	}

	header := m.renderHeader()
	body := lipgloss.JoinHorizontal(lipgloss.Top, m.renderSidebar(), " ", m.viewport.View())
	status := m.renderStatusLine()
	composer := m.input.View()
	help := m.renderHelp()

	return lipgloss.JoinVertical(lipgloss.Left, header, body, status, composer, help)
}

// renderHeader renders the one-line conversation header: where the user is,
// which model answers, and which tools are live.
func (m chatModel) renderHeader() string {
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(m.theme.Primary)
	mutedStyle := lipgloss.NewStyle().Foreground(m.theme.Muted)

	var title string
	switch {
	case m.snapshot.Selected != nil:
		title = m.snapshot.Selected.Title
		if title == "" {
			title = m.snapshot.Selected.ID
		}
		if m.snapshot.CreatePending {
			title += mutedStyle.Render(" (creating...)")
		}
	case m.snapshot.Draft.Active:
		title = "New conversation"
		title += mutedStyle.Render(" (draft)")
	default:
		title = "parley"
	}

	parts := []string{titleStyle.Render(title)}
	if model := m.headerModel(); model != "" {
		parts = append(parts, mutedStyle.Render("model: "+model))
	}
	parts = append(parts, mutedStyle.Render("tools: "+toolsSummary(m.orch.Tools())))
	if m.snapshot.IsSending {
		parts = append(parts, m.spin.View()+mutedStyle.Render("waiting for reply"))
	}
	return strings.Join(parts, mutedStyle.Render("  |  "))
}

// headerModel picks the model name for the header from whichever surface is
// active.
func (m chatModel) headerModel() string {
	if m.snapshot.Selected != nil {
		return m.snapshot.Selected.Model
	}
	if m.snapshot.Draft.Active {
		return m.snapshot.Draft.Model
	}
	return ""
}

// toolsSummary lists the enabled tools in a fixed order.
func toolsSummary(tools map[string]bool) string {
	order := []string{chat.ToolWebSearch, chat.ToolFileSearch, chat.ToolCodeRunner}
	enabled := make([]string, 0, len(order))
	for _, tool := range order {
		if tools[tool] {
			enabled = append(enabled, tool)
		}
	}
	if len(enabled) == 0 {
		return "none"
	}
	return strings.Join(enabled, ", ")
}

// renderSidebar renders the conversation list pane.
func (m chatModel) renderSidebar() string {
	paneStyle := lipgloss.NewStyle().
		Width(sidebarWidth).
		Height(m.viewport.Height).
		Padding(0, 1)
	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(m.theme.Secondary)
	selectedStyle := lipgloss.NewStyle().Bold(true).Foreground(m.theme.Primary)
	mutedStyle := lipgloss.NewStyle().Foreground(m.theme.Muted)

	var b strings.Builder
	b.WriteString(headerStyle.Render("Conversations"))
	b.WriteString("\n")

	if m.snapshot.Draft.Active {
		b.WriteString(selectedStyle.Render("> new conversation"))
		b.WriteString("\n")
	}

	if len(m.sessions) == 0 && !m.snapshot.Draft.Active {
		b.WriteString(mutedStyle.Render("no conversations yet"))
		b.WriteString("\n")
	}

	for _, s := range m.sessions {
		marker := "  "
		style := lipgloss.NewStyle()
		if m.snapshot.Selected != nil && s.ID == m.snapshot.Selected.ID {
			marker = "> "
			style = selectedStyle
		}
		pin := ""
		if s.Pinned {
			pin = "* "
		}
		title := s.Title
		if title == "" {
			title = s.ID
		}
		line := marker + pin + title
		b.WriteString(style.Render(truncate(line, sidebarWidth-2)))
		b.WriteString("\n")
	}

	return paneStyle.Render(b.String())
}

// renderTranscript renders the message history for the viewport.
func (m chatModel) renderTranscript() string {
	mutedStyle := lipgloss.NewStyle().Foreground(m.theme.Muted)

	if m.snapshot.ChatNotFound {
		warn := lipgloss.NewStyle().Foreground(m.theme.Warning)
		return warn.Render("This conversation no longer exists on the server.") +
			"\n" + mutedStyle.Render("Press ctrl+n to start a new one or tab to pick another.")
	}

	if m.snapshot.Selected == nil && !m.snapshot.Draft.Active {
		return mutedStyle.Render("Press ctrl+n to start a conversation, or tab to open an existing one.")
	}

	if len(m.snapshot.Messages) == 0 {
		if m.snapshot.IsHydrating {
			return mutedStyle.Render("loading history...")
		}
		return mutedStyle.Render("No messages yet. Say something.")
	}

	blocks := make([]string, 0, len(m.snapshot.Messages))
	for _, msg := range m.snapshot.Messages {
		blocks = append(blocks, m.renderMessage(msg))
	}
	return strings.Join(blocks, "\n\n")
}

// renderMessage renders one transcript entry: a role line followed by the
// wrapped body.
func (m chatModel) renderMessage(msg chat.Message) string {
	mutedStyle := lipgloss.NewStyle().Foreground(m.theme.Muted)
	errorStyle := lipgloss.NewStyle().Foreground(m.theme.Error)

	var label string
	switch msg.Role {
	case chat.RoleUser:
		label = lipgloss.NewStyle().Bold(true).Foreground(m.theme.Success).Render("you")
	case chat.RoleAssistant:
		label = lipgloss.NewStyle().Bold(true).Foreground(m.theme.Secondary).Render("parley")
	default:
		label = mutedStyle.Render(string(msg.Role))
	}
	if !msg.Timestamp.IsZero() {
		label += mutedStyle.Render("  " + msg.Timestamp.Local().Format("15:04"))
	}
	if len(msg.AttachmentIDs) > 0 {
		label += mutedStyle.Render(fmt.Sprintf("  [%d attachment(s)]", len(msg.AttachmentIDs)))
	}

	content := msg.Content
	switch msg.Status {
	case chat.StatusPending:
		if content == "" {
			content = mutedStyle.Render("thinking...")
		}
	case chat.StatusStreaming:
		content += "▌"
	case chat.StatusError:
		label += errorStyle.Render("  ✗ not delivered")
	}

	body := lipgloss.NewStyle().Width(m.viewport.Width - 2).Render(content)
	return label + "\n" + body
}

// renderStatusLine renders the transient one-line status under the transcript.
func (m chatModel) renderStatusLine() string {
	if m.flash != "" {
		return lipgloss.NewStyle().Foreground(m.theme.Warning).Render(m.flash)
	}
	if m.snapshot.IsHydrating {
		return lipgloss.NewStyle().Foreground(m.theme.Muted).Render("refreshing history...")
	}
	return ""
}

// renderHelp renders the key binding footer.
func (m chatModel) renderHelp() string {
	bindings := []string{
		"enter send",
		"ctrl+j newline",
		"ctrl+s stop",
		"ctrl+n new",
		"tab switch",
		"ctrl+w web search",
		"ctrl+r code runner",
		"ctrl+p pin",
		"ctrl+x delete",
		"ctrl+c quit",
	}
	return lipgloss.NewStyle().Foreground(m.theme.Muted).Render(strings.Join(bindings, " | "))
}

// truncate shortens s to max runes, reserving one for the ellipsis.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max < 1 {
		return ""
	}
	return string(runes[:max-1]) + "…"
}
