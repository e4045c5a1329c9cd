package ui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/go-go-golems/parley/pkg/conversations"
	"github.com/go-go-golems/parley/pkg/helpers"
	"github.com/go-go-golems/parley/pkg/replysync"
	"github.com/go-go-golems/parley/pkg/workspace"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type State string

const (
	StateUserInput State = "user_input"
	StateEditing   State = "editing"
	StateSidebar   State = "sidebar"
	StateSearch    State = "search"
	StateRename    State = "rename"
)

const sidebarWidth = 32

type errMsg error

// RefreshMsg asks the model to reload everything it shows from the workspace.
type RefreshMsg struct{}

// ReplyFinishedMsg is delivered when a reply request the model started ends.
type ReplyFinishedMsg struct {
	Outcome replysync.Outcome
}

type Model struct {
	ctx context.Context
	ws  *workspace.Workspace

	viewport  viewport.Model
	textArea  textarea.Model
	input     textinput.Model
	spinner   spinner.Model
	help      help.Model
	renderer  *glamour.TermRenderer
	glamStyle string

	keyMap KeyMap
	style  *Style
	width  int
	height int

	state  State
	err    error
	notice string

	query     string
	sidebar   workspace.Sidebar
	items     []*conversations.Conversation
	cursor    int
	editingID string
	draft     string
	template  int

	now func() time.Time
}

type ModelOption func(*Model)

// WithGlamourStyle sets the glamour style used for assistant replies. "auto"
// picks one from the terminal background.
func WithGlamourStyle(style string) ModelOption {
	return func(m *Model) {
		m.glamStyle = style
	}
}

func WithClock(now func() time.Time) ModelOption {
	return func(m *Model) {
		m.now = now
	}
}

func WithKeyMap(k KeyMap) ModelOption {
	return func(m *Model) {
		m.keyMap = k
	}
}

func NewModel(ctx context.Context, ws *workspace.Workspace, options ...ModelOption) Model {
	ret := Model{
		ctx:       ctx,
		ws:        ws,
		style:     DefaultStyles(),
		keyMap:    DefaultKeyMap,
		viewport:  viewport.New(0, 0),
		help:      help.New(),
		glamStyle: "auto",
		now:       time.Now,
		state:     StateUserInput,
	}
	for _, o := range options {
		o(&ret)
	}

	ret.textArea = textarea.New()
	ret.textArea.Placeholder = "Ask anything..."
	ret.textArea.ShowLineNumbers = false
	ret.textArea.SetHeight(3)
	ret.textArea.Focus()

	ret.input = textinput.New()

	ret.spinner = spinner.New()
	ret.spinner.Spinner = spinner.Dot

	ret.reload()
	ret.updateKeyBindings()

	return ret
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.spinner.Tick)
}

func (m Model) State() State {
	return m.state
}

func (m Model) Err() error {
	return m.err
}

func (m Model) Query() string {
	return m.query
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		m.err = nil
		if key.Matches(msg, m.keyMap.Quit) {
			return m, tea.Quit
		}
		switch m.state {
		case StateUserInput, StateEditing:
			cmd = m.updateInput(msg)
		case StateSidebar:
			cmd = m.updateSidebar(msg)
		case StateSearch, StateRename:
			cmd = m.updatePrompt(msg)
		}
		m.reload()
		m.updateKeyBindings()
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.renderer = nil
		m.recomputeSize()

	case errMsg:
		m.err = msg
		return m, nil

	case RefreshMsg:
		m.reload()

	case ReplyFinishedMsg:
		if msg.Outcome.Failure != replysync.FailureNone {
			m.notice = "reply failed: " + string(msg.Outcome.Failure)
		} else {
			m.notice = ""
		}
		m.reload()

	case spinner.TickMsg:
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m *Model) updateInput(msg tea.KeyMsg) tea.Cmd {
	var cmd tea.Cmd
	switch {
	case key.Matches(msg, m.keyMap.UnfocusInput):
		if m.state == StateEditing {
			m.stopEditing()
			return nil
		}
		m.textArea.Blur()
		m.state = StateSidebar

	case key.Matches(msg, m.keyMap.SubmitMessage):
		if m.state == StateEditing {
			return m.saveEdit()
		}
		return m.submit()

	case key.Matches(msg, m.keyMap.ResendLast):
		return m.resend()

	case key.Matches(msg, m.keyMap.EditLast):
		m.startEditing()

	case key.Matches(msg, m.keyMap.Pause):
		m.pause()

	case key.Matches(msg, m.keyMap.NewChat):
		m.newChat()

	case key.Matches(msg, m.keyMap.InsertTemplate):
		m.insertTemplate()

	case key.Matches(msg, m.keyMap.ResetChat):
		if _, err := m.ws.ResetSelected(); err != nil {
			m.err = err
		}

	case key.Matches(msg, m.keyMap.ScrollUp), key.Matches(msg, m.keyMap.ScrollDown):
		m.viewport, cmd = m.viewport.Update(msg)

	default:
		m.textArea, cmd = m.textArea.Update(msg)
	}
	return cmd
}

func (m *Model) updateSidebar(msg tea.KeyMsg) tea.Cmd {
	var cmd tea.Cmd
	switch {
	case key.Matches(msg, m.keyMap.SelectPrevConversation):
		m.cursor = clamp(m.cursor-1, 0, len(m.items)-1)

	case key.Matches(msg, m.keyMap.SelectNextConversation):
		m.cursor = clamp(m.cursor+1, 0, len(m.items)-1)

	case key.Matches(msg, m.keyMap.OpenConversation):
		if c := m.cursorConversation(); c != nil {
			if err := m.ws.Select(c.ID); err != nil {
				m.err = err
				return nil
			}
		}
		return m.focusInput()

	case key.Matches(msg, m.keyMap.FocusInput):
		return m.focusInput()

	case key.Matches(msg, m.keyMap.TogglePin):
		if c := m.cursorConversation(); c != nil {
			if _, err := m.ws.TogglePin(c.ID); err != nil {
				m.err = err
			}
		}

	case key.Matches(msg, m.keyMap.Delete):
		if c := m.cursorConversation(); c != nil {
			if err := m.ws.Delete(c.ID); err != nil {
				m.err = err
			}
		}

	case key.Matches(msg, m.keyMap.Rename):
		c, ok := m.ws.Selected()
		if !ok {
			m.err = workspace.ErrNoSelection
			return nil
		}
		m.state = StateRename
		m.input.Prompt = "Title: "
		m.input.SetValue(c.Title)
		m.input.CursorEnd()
		return m.input.Focus()

	case key.Matches(msg, m.keyMap.Search):
		m.state = StateSearch
		m.input.Prompt = "Search: "
		m.input.SetValue(m.query)
		m.input.CursorEnd()
		return m.input.Focus()

	case key.Matches(msg, m.keyMap.Example):
		i := int(msg.Runes[0] - '1')
		req, err := m.ws.SendExample(m.ctx, i)
		if err != nil {
			m.err = err
			return nil
		}
		return m.waitFor(req)

	case key.Matches(msg, m.keyMap.NewChat):
		m.newChat()
		return m.focusInput()

	case key.Matches(msg, m.keyMap.Pause):
		m.pause()

	case key.Matches(msg, m.keyMap.Help):
		m.help.ShowAll = !m.help.ShowAll
		m.recomputeSize()

	case key.Matches(msg, m.keyMap.ScrollUp), key.Matches(msg, m.keyMap.ScrollDown):
		m.viewport, cmd = m.viewport.Update(msg)
	}
	return cmd
}

func (m *Model) updatePrompt(msg tea.KeyMsg) tea.Cmd {
	var cmd tea.Cmd
	switch msg.Type {
	case tea.KeyEnter:
		if m.state == StateRename {
			if _, err := m.ws.RenameSelected(m.input.Value()); err != nil {
				m.err = err
			}
		}
		m.input.Blur()
		m.state = StateSidebar
		return nil

	case tea.KeyEsc:
		if m.state == StateSearch {
			m.query = ""
		}
		m.input.Blur()
		m.state = StateSidebar
		return nil
	}

	m.input, cmd = m.input.Update(msg)
	if m.state == StateSearch {
		m.query = m.input.Value()
		m.cursor = 0
	}
	return cmd
}

func (m *Model) focusInput() tea.Cmd {
	m.state = StateUserInput
	return m.textArea.Focus()
}

func (m *Model) submit() tea.Cmd {
	req, err := m.ws.Send(m.ctx, m.textArea.Value())
	if err != nil {
		if errors.Is(err, conversations.ErrEmptyInput) {
			return nil
		}
		m.err = err
		return nil
	}
	m.textArea.Reset()
	m.viewport.GotoBottom()
	return m.waitFor(req)
}

// startEditing loads the last user message of the selected conversation into
// the input. The current draft comes back when editing stops.
func (m *Model) startEditing() {
	c, ok := m.ws.Selected()
	if !ok {
		m.err = workspace.ErrNoSelection
		return
	}
	msg, ok := c.LastUserMessage()
	if !ok {
		m.err = errors.Wrap(conversations.ErrMessageNotFound, "no message to edit")
		return
	}
	if m.state != StateEditing {
		m.draft = m.textArea.Value()
	}
	m.editingID = msg.ID
	m.textArea.SetValue(msg.Content)
	m.state = StateEditing
}

func (m *Model) stopEditing() {
	m.editingID = ""
	m.textArea.SetValue(m.draft)
	m.draft = ""
	m.state = StateUserInput
}

func (m *Model) saveEdit() tea.Cmd {
	if _, err := m.ws.Edit(m.ctx, m.editingID, m.textArea.Value()); err != nil {
		m.err = err
		return nil
	}
	m.stopEditing()
	return nil
}

// resend re-asks from the last user message. While editing, the edited text
// replaces it first.
func (m *Model) resend() tea.Cmd {
	var newContent *string
	id := m.editingID
	if m.state == StateEditing {
		newContent = helpers.OptionalString(m.textArea.Value())
	} else {
		c, ok := m.ws.Selected()
		if !ok {
			m.err = workspace.ErrNoSelection
			return nil
		}
		msg, ok := c.LastUserMessage()
		if !ok {
			m.err = errors.Wrap(conversations.ErrMessageNotFound, "no message to resend")
			return nil
		}
		id = msg.ID
	}
	req, err := m.ws.Resend(m.ctx, id, newContent)
	if err != nil {
		m.err = err
		return nil
	}
	if m.state == StateEditing {
		m.stopEditing()
	}
	return m.waitFor(req)
}

func (m *Model) pause() {
	if err := m.ws.Pause(); err != nil && !errors.Is(err, replysync.ErrNoPendingRequest) {
		m.err = err
	}
}

func (m *Model) newChat() {
	if _, err := m.ws.NewChat(); err != nil {
		m.err = err
	}
	m.cursor = 0
}

func (m *Model) insertTemplate() {
	names := m.ws.Templates().Names()
	if len(names) == 0 {
		return
	}
	name := names[m.template%len(names)]
	m.template++
	out, err := m.ws.InsertTemplate(name)
	if err != nil {
		m.err = err
		return
	}
	m.textArea.InsertString(out)
}

func (m Model) waitFor(req *replysync.Request) tea.Cmd {
	if req == nil {
		return nil
	}
	return func() tea.Msg {
		o := req.Wait()
		log.Debug().Str("request_id", req.ID).Str("status", string(o.Status)).Msg("Reply finished")
		return ReplyFinishedMsg{Outcome: o}
	}
}

func (m *Model) cursorConversation() *conversations.Conversation {
	if m.cursor < 0 || m.cursor >= len(m.items) {
		return nil
	}
	return m.items[m.cursor]
}

// reload pulls the sidebar and the selected conversation from the workspace.
func (m *Model) reload() {
	m.sidebar = m.ws.Sidebar(m.query)
	m.items = append(append([]*conversations.Conversation{}, m.sidebar.Pinned...), m.sidebar.Recent...)
	if len(m.items) == 0 {
		m.cursor = 0
	} else {
		m.cursor = clamp(m.cursor, 0, len(m.items)-1)
	}
	if m.width > 0 {
		m.viewport.SetContent(m.messageView())
	}
}

func (m *Model) updateKeyBindings() {
	input := m.state == StateUserInput || m.state == StateEditing
	sidebar := m.state == StateSidebar

	m.keyMap.SubmitMessage.SetEnabled(input)
	m.keyMap.UnfocusInput.SetEnabled(input)
	m.keyMap.EditLast.SetEnabled(input)
	m.keyMap.ResendLast.SetEnabled(input)
	m.keyMap.InsertTemplate.SetEnabled(input)
	m.keyMap.ResetChat.SetEnabled(input)

	m.keyMap.SelectPrevConversation.SetEnabled(sidebar)
	m.keyMap.SelectNextConversation.SetEnabled(sidebar)
	m.keyMap.OpenConversation.SetEnabled(sidebar)
	m.keyMap.FocusInput.SetEnabled(sidebar)
	m.keyMap.TogglePin.SetEnabled(sidebar)
	m.keyMap.Rename.SetEnabled(sidebar)
	m.keyMap.Delete.SetEnabled(sidebar)
	m.keyMap.Search.SetEnabled(sidebar)
	m.keyMap.Example.SetEnabled(sidebar)
	m.keyMap.Help.SetEnabled(sidebar)

	m.keyMap.NewChat.SetEnabled(input || sidebar)
	m.keyMap.Pause.SetEnabled(input || sidebar)
}
