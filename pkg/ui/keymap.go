package ui

import "github.com/charmbracelet/bubbles/key"

type KeyMap struct {
	SelectPrevConversation key.Binding
	SelectNextConversation key.Binding
	OpenConversation       key.Binding
	UnfocusInput           key.Binding
	FocusInput             key.Binding
	SubmitMessage          key.Binding
	ScrollUp               key.Binding
	ScrollDown             key.Binding

	NewChat        key.Binding
	Pause          key.Binding
	EditLast       key.Binding
	ResendLast     key.Binding
	InsertTemplate key.Binding
	ResetChat      key.Binding

	TogglePin key.Binding
	Rename    key.Binding
	Delete    key.Binding
	Search    key.Binding
	Example   key.Binding

	Help key.Binding
	Quit key.Binding
}

var DefaultKeyMap = KeyMap{
	SelectPrevConversation: key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "previous")),
	SelectNextConversation: key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "next")),
	OpenConversation:       key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "open")),
	UnfocusInput:           key.NewBinding(key.WithKeys("esc", "ctrl+g"), key.WithHelp("esc", "sidebar")),
	FocusInput:             key.NewBinding(key.WithKeys("i", "tab"), key.WithHelp("i", "write")),
	SubmitMessage:          key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "send")),
	ScrollUp:               key.NewBinding(key.WithKeys("shift+up", "pgup"), key.WithHelp("pgup", "scroll up")),
	ScrollDown:             key.NewBinding(key.WithKeys("shift+down", "pgdown"), key.WithHelp("pgdown", "scroll down")),

	NewChat:        key.NewBinding(key.WithKeys("ctrl+n"), key.WithHelp("ctrl+n", "new chat")),
	Pause:          key.NewBinding(key.WithKeys("ctrl+x"), key.WithHelp("ctrl+x", "pause")),
	EditLast:       key.NewBinding(key.WithKeys("ctrl+e"), key.WithHelp("ctrl+e", "edit last")),
	ResendLast:     key.NewBinding(key.WithKeys("ctrl+r"), key.WithHelp("ctrl+r", "resend")),
	InsertTemplate: key.NewBinding(key.WithKeys("ctrl+t"), key.WithHelp("ctrl+t", "template")),
	ResetChat:      key.NewBinding(key.WithKeys("ctrl+l"), key.WithHelp("ctrl+l", "clear chat")),

	TogglePin: key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "pin")),
	Rename:    key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "rename")),
	Delete:    key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "delete")),
	Search:    key.NewBinding(key.WithKeys("/"), key.WithHelp("/", "search")),
	Example:   key.NewBinding(key.WithKeys("1", "2", "3"), key.WithHelp("1-3", "example")),

	Help: key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
	Quit: key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "quit")),
}

func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.SubmitMessage, k.UnfocusInput, k.FocusInput, k.Pause, k.Help, k.Quit}
}

func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.SubmitMessage, k.NewChat, k.Pause, k.EditLast, k.ResendLast, k.InsertTemplate, k.ResetChat},
		{k.SelectPrevConversation, k.SelectNextConversation, k.OpenConversation, k.TogglePin, k.Rename, k.Delete, k.Search, k.Example},
		{k.UnfocusInput, k.FocusInput, k.ScrollUp, k.ScrollDown, k.Help, k.Quit},
	}
}
