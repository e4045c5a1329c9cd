package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/go-go-golems/parley/pkg/conversations"
	"github.com/go-go-golems/parley/pkg/views"
	"github.com/rs/zerolog/log"
)

func (m *Model) mainWidth() int {
	if m.showSidebar() {
		return m.width - sidebarWidth - 2
	}
	return m.width
}

func (m *Model) showSidebar() bool {
	return m.width >= 2*sidebarWidth
}

func (m *Model) recomputeSize() {
	w := m.mainWidth()
	if w < 10 {
		w = 10
	}

	if m.renderer == nil {
		m.renderer = newRenderer(m.glamStyle, w-4)
	}

	headerHeight := lipgloss.Height(m.headerView())
	inputHeight := lipgloss.Height(m.inputView())
	statusHeight := lipgloss.Height(m.statusView())
	helpHeight := lipgloss.Height(m.help.View(m.keyMap))

	newHeight := m.height - headerHeight - inputHeight - statusHeight - helpHeight
	if newHeight < 0 {
		newHeight = 0
	}
	m.viewport.Width = w
	m.viewport.Height = newHeight
	m.viewport.YPosition = headerHeight + 1

	h, _ := m.style.FocusedMessage.GetFrameSize()
	m.textArea.SetWidth(w - h)
	m.input.Width = w - 12
	m.help.Width = m.width

	m.viewport.SetContent(m.messageView())
	m.viewport.GotoBottom()
}

func newRenderer(style string, width int) *glamour.TermRenderer {
	opts := []glamour.TermRendererOption{glamour.WithWordWrap(width)}
	if style == "" || style == "auto" {
		opts = append(opts, glamour.WithAutoStyle())
	} else {
		opts = append(opts, glamour.WithStandardStyle(style))
	}
	r, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		log.Warn().Err(err).Str("style", style).Msg("Could not create markdown renderer, falling back to plain text")
		return nil
	}
	return r
}

func (m Model) headerView() string {
	c, ok := m.ws.Selected()
	if !ok {
		return m.style.Header.Render("PARLEY") + m.style.Dim.Render("  no conversation")
	}
	title := c.Title
	if c.Pinned {
		title = "★ " + title
	}
	return m.style.Header.Render(title) +
		m.style.Dim.Render(fmt.Sprintf("  %s · %s · %d messages", c.Folder, views.TimeAgo(c.UpdatedAt, m.now()), c.MessageCount()))
}

func (m Model) messageView() string {
	c, ok := m.ws.Selected()
	width := m.mainWidth() - m.style.UnselectedMessage.GetHorizontalFrameSize()
	if !ok || len(c.Messages) == 0 {
		return m.emptyView(width)
	}

	var b strings.Builder
	for _, msg := range c.Messages {
		label := "You"
		if msg.Role == conversations.RoleAssistant {
			label = "Assistant"
		}
		if msg.Edited() {
			label += " (edited)"
		}
		b.WriteString(m.style.Header.Render(label))
		b.WriteString(m.style.Dim.Render("  " + views.TimeAgo(msg.CreatedAt, m.now())))
		b.WriteString("\n")
		b.WriteString(m.style.UnselectedMessage.Width(width).Render(m.renderContent(msg, width)))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderContent(msg conversations.Message, width int) string {
	if msg.Role == conversations.RoleAssistant && m.renderer != nil {
		out, err := m.renderer.Render(msg.Content)
		if err == nil {
			return strings.Trim(out, "\n")
		}
		log.Debug().Err(err).Str("message_id", msg.ID).Msg("Markdown rendering failed")
	}
	return wrapWords(msg.Content, width)
}

func (m Model) emptyView(width int) string {
	lines := []string{
		m.style.Dim.Render(conversations.PreviewPlaceholder),
		"",
		"Try one of these (esc, then the number):",
	}
	for i, e := range m.ws.Templates().Examples {
		lines = append(lines, fmt.Sprintf("  %d. %s", i+1, e))
	}
	return wrapWords(strings.Join(lines, "\n"), width)
}

func (m Model) sidebarView() string {
	var b strings.Builder
	if m.state == StateSearch || m.state == StateRename {
		b.WriteString(m.input.View())
		b.WriteString("\n\n")
	} else if m.query != "" {
		b.WriteString(m.style.Dim.Render("search: " + m.query))
		b.WriteString("\n\n")
	}

	selectedID := m.ws.SelectedID()
	idx := 0
	section := func(title string, convs []*conversations.Conversation) {
		b.WriteString(m.style.SectionTitle.Render(title))
		b.WriteString("\n")
		if len(convs) == 0 {
			b.WriteString(m.style.Dim.Render("  none"))
			b.WriteString("\n")
		}
		for _, c := range convs {
			marker := "  "
			if c.ID == selectedID {
				marker = "> "
			}
			line := marker + conversations.Truncate(c.Title, sidebarWidth-14) + " " + m.style.Dim.Render(views.TimeAgo(c.UpdatedAt, m.now()))
			if m.state == StateSidebar && idx == m.cursor {
				b.WriteString(m.style.SidebarSelected.Render(line))
			} else {
				b.WriteString(m.style.SidebarItem.Render(line))
			}
			b.WriteString("\n")
			idx++
		}
		b.WriteString("\n")
	}
	section("Pinned", m.sidebar.Pinned)
	section("Recent", m.sidebar.Recent)

	if len(m.sidebar.Folders) > 0 {
		b.WriteString(m.style.SectionTitle.Render("Folders"))
		b.WriteString("\n")
		for _, f := range m.sidebar.Folders {
			b.WriteString(fmt.Sprintf("  %s (%d)\n", f.Name, m.sidebar.FolderCounts[f.Name]))
		}
	}

	return m.style.Sidebar.Width(sidebarWidth).Height(m.height - 1).Render(strings.TrimRight(b.String(), "\n"))
}

func (m Model) inputView() string {
	v := m.textArea.View()
	switch m.state {
	case StateUserInput, StateEditing:
		return m.style.FocusedMessage.Render(v)
	default:
		return m.style.UnselectedMessage.Render(v)
	}
}

func (m Model) statusView() string {
	switch {
	case m.err != nil:
		return m.style.Error.Render(wrapWords(m.err.Error(), m.mainWidth()))
	case m.ws.IsThinking():
		return m.style.Thinking.Render(m.spinner.View() + " Thinking...")
	case m.state == StateEditing:
		return m.style.Dim.Render("editing last message: tab saves, ctrl+r resends, esc cancels")
	case m.notice != "":
		return m.style.Dim.Render(m.notice)
	}
	return ""
}

func (m Model) View() string {
	main := lipgloss.JoinVertical(lipgloss.Left,
		m.headerView(),
		m.viewport.View(),
		m.statusView(),
		m.inputView(),
	)
	if m.showSidebar() {
		main = lipgloss.JoinHorizontal(lipgloss.Top, m.sidebarView(), " ", main)
	} else if m.state == StateSearch || m.state == StateRename {
		main = m.input.View() + "\n" + main
	}
	return main + "\n" + m.help.View(m.keyMap)
}
