package workspace

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-go-golems/parley/pkg/conversations"
	"github.com/go-go-golems/parley/pkg/replysync"
	"github.com/go-go-golems/parley/pkg/templates"
	"github.com/go-go-golems/parley/pkg/transitions"
	"github.com/go-go-golems/parley/pkg/views"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var (
	ErrNoSelection  = errors.New("no conversation selected")
	ErrNoSuchPrompt = errors.New("no such template or example")
)

// Workspace is the owner of the UI state around the conversation core: the
// selection, the login gate and the template library. It holds no
// conversation data itself.
type Workspace struct {
	store     *conversations.Store
	engine    *transitions.Engine
	ctrl      *replysync.Controller
	templates *templates.Library

	mu         sync.Mutex
	selectedID string
	loggedIn   bool
}

type Option func(*Workspace)

func WithTemplates(l *templates.Library) Option {
	return func(w *Workspace) {
		if l != nil {
			w.templates = l
		}
	}
}

func New(store *conversations.Store, engine *transitions.Engine, ctrl *replysync.Controller, options ...Option) *Workspace {
	w := &Workspace{
		store:     store,
		engine:    engine,
		ctrl:      ctrl,
		templates: templates.Default(),
	}
	for _, o := range options {
		o(w)
	}
	return w
}

func (w *Workspace) Store() *conversations.Store {
	return w.store
}

func (w *Workspace) Templates() *templates.Library {
	return w.templates
}

func (w *Workspace) SelectedID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.selectedID
}

// Selected returns the selected conversation. A selection pointing at a
// conversation that no longer exists counts as no selection.
func (w *Workspace) Selected() (*conversations.Conversation, bool) {
	id := w.SelectedID()
	if id == "" {
		return nil, false
	}
	return w.store.Get(id)
}

func (w *Workspace) Select(id string) error {
	if _, ok := w.store.Get(id); !ok {
		log.Warn().Str("conversation_id", id).Msg("Selecting unknown conversation")
		return errors.Wrapf(conversations.ErrConversationNotFound, "select %q", id)
	}
	w.mu.Lock()
	w.selectedID = id
	w.mu.Unlock()
	return nil
}

// NewChat creates an empty conversation and selects it.
func (w *Workspace) NewChat() (*conversations.Conversation, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.newChatLocked()
}

func (w *Workspace) newChatLocked() (*conversations.Conversation, error) {
	c, err := w.store.CreateConversation()
	if err != nil {
		return nil, err
	}
	w.selectedID = c.ID
	log.Debug().Str("conversation_id", c.ID).Msg("Created conversation")
	return c, nil
}

// EnsureConversation returns the selected conversation, creating and
// selecting a new one if there is none. Calling it again while the selection
// exists never creates another conversation.
func (w *Workspace) EnsureConversation() (*conversations.Conversation, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.selectedID != "" {
		if c, ok := w.store.Get(w.selectedID); ok {
			return c, nil
		}
	}
	return w.newChatLocked()
}

// Send sends content in the selected conversation, creating one first if
// needed. Blank content is rejected before anything is created.
func (w *Workspace) Send(ctx context.Context, content string) (*replysync.Request, error) {
	if strings.TrimSpace(content) == "" {
		return nil, errors.Wrap(conversations.ErrEmptyInput, "send")
	}
	c, err := w.EnsureConversation()
	if err != nil {
		return nil, err
	}
	req, _, err := w.ctrl.Submit(ctx, c.ID, w.engine.SendTransition(content))
	return req, err
}

// SendExample sends the i-th example prompt.
func (w *Workspace) SendExample(ctx context.Context, i int) (*replysync.Request, error) {
	if i < 0 || i >= len(w.templates.Examples) {
		return nil, errors.Wrapf(ErrNoSuchPrompt, "example %d", i)
	}
	return w.Send(ctx, w.templates.Examples[i])
}

func (w *Workspace) Edit(ctx context.Context, messageID string, content string) (*conversations.Conversation, error) {
	id, err := w.requireSelection()
	if err != nil {
		return nil, err
	}
	_, committed, err := w.ctrl.Submit(ctx, id, w.engine.EditTransition(messageID, content))
	return committed, err
}

func (w *Workspace) Resend(ctx context.Context, messageID string, newContent *string) (*replysync.Request, error) {
	id, err := w.requireSelection()
	if err != nil {
		return nil, err
	}
	req, _, err := w.ctrl.Submit(ctx, id, w.engine.ResendTransition(messageID, newContent))
	return req, err
}

// Pause stops the pending reply of the selected conversation.
func (w *Workspace) Pause() error {
	id, err := w.requireSelection()
	if err != nil {
		return err
	}
	return w.ctrl.Cancel(id)
}

// IsThinking reports whether the selected conversation waits for a reply.
func (w *Workspace) IsThinking() bool {
	id := w.SelectedID()
	return id != "" && w.ctrl.IsThinking(id)
}

func (w *Workspace) Busy() bool {
	return w.ctrl.Busy()
}

// ResetSelected clears the messages of the selected conversation, keeping it
// selected. Without a selection it does nothing.
func (w *Workspace) ResetSelected() (*conversations.Conversation, error) {
	id := w.SelectedID()
	if id == "" {
		return nil, nil
	}
	return w.store.Reset(id)
}

func (w *Workspace) RenameSelected(title string) (*conversations.Conversation, error) {
	id, err := w.requireSelection()
	if err != nil {
		return nil, err
	}
	return w.store.Rename(id, title)
}

func (w *Workspace) TogglePin(id string) (*conversations.Conversation, error) {
	return w.store.TogglePin(id)
}

func (w *Workspace) MoveToFolder(id string, folder string) (*conversations.Conversation, error) {
	return w.store.MoveToFolder(id, folder)
}

func (w *Workspace) CreateFolder(name string) (conversations.Folder, error) {
	return w.store.CreateFolder(name)
}

// Delete removes a conversation. A pending reply for it is paused first.
// Deleting the selected conversation moves the selection to the newest
// remaining one.
func (w *Workspace) Delete(id string) error {
	if w.ctrl.IsThinking(id) {
		if err := w.ctrl.Cancel(id); err != nil && !errors.Is(err, replysync.ErrNoPendingRequest) {
			return err
		}
	}
	if err := w.store.Delete(id); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.selectedID == id {
		w.selectedID = ""
		if list := w.store.List(); len(list) > 0 {
			w.selectedID = list[0].ID
		}
	}
	return nil
}

func (w *Workspace) LoggedIn() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.loggedIn
}

// Login opens the gate. When there is no conversation and nothing is selected,
// an initial conversation is created and selected.
func (w *Workspace) Login() (*conversations.Conversation, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.loggedIn = true
	if w.selectedID == "" && w.store.Len() == 0 {
		return w.newChatLocked()
	}
	return nil, nil
}

func (w *Workspace) Logout() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.loggedIn = false
}

// InsertTemplate renders the named template for the selected conversation.
func (w *Workspace) InsertTemplate(name string) (string, error) {
	t, ok := w.templates.Find(name)
	if !ok {
		return "", errors.Wrapf(ErrNoSuchPrompt, "template %q", name)
	}
	data := templates.Data{Now: w.store.Now()}
	if c, ok := w.Selected(); ok {
		data.Title = c.Title
		data.Folder = c.Folder
	}
	return t.Render(data)
}

// Sidebar is the derived view of the conversation list.
type Sidebar struct {
	Pinned       []*conversations.Conversation
	Recent       []*conversations.Conversation
	Folders      []conversations.Folder
	FolderCounts map[string]int
	Query        string
	Now          time.Time
}

func (w *Workspace) Sidebar(query string) Sidebar {
	all := w.store.List()
	folders := w.store.Folders()
	pinned, recent := views.PartitionPinnedRecent(views.FilterByQuery(all, query))
	return Sidebar{
		Pinned:       pinned,
		Recent:       recent,
		Folders:      folders,
		FolderCounts: views.CountByFolder(all, folders),
		Query:        query,
		Now:          time.Now(),
	}
}

func (w *Workspace) requireSelection() (string, error) {
	id := w.SelectedID()
	if id == "" {
		return "", ErrNoSelection
	}
	return id, nil
}
