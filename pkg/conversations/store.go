package conversations

import (
	"reflect"
	"sync"
	"time"

	"github.com/go-go-golems/parley/pkg/ids"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type ChangeKind string

const (
	ChangeCommitted ChangeKind = "committed"
	ChangeDeleted   ChangeKind = "deleted"
	ChangeFolders   ChangeKind = "folders"
)

// Change describes a single committed mutation. Conversation is set for
// commits, Folders for folder changes.
// Listeners share the value and must treat it as read-only.
type Change struct {
	Kind           ChangeKind
	ConversationID string
	Conversation   *Conversation
	Folders        []Folder
}

type Listener func(Change)

// State is the whole collection, handed to transitions that touch more than
// one conversation or the folder list.
type State struct {
	Conversations []*Conversation
	Folders       []Folder
}

// Store owns the canonical, ordered collection of conversations (newest first)
// and the folder list.
//
// Every mutation is a whole-object replacement: callers compute a new
// Conversation from a snapshot and Commit it. A commit is accepted only if it
// was computed against the currently committed version of that conversation.
// Readers always receive deep copies of committed snapshots.
type Store struct {
	mu            sync.RWMutex
	conversations []*Conversation
	folders       []Folder
	closed        bool

	// Changes are queued under mu in commit order and delivered by one
	// drainer at a time, outside mu.
	notifyMu   sync.Mutex
	notifyCond *sync.Cond
	queue      []Change
	queued     uint64
	delivered  uint64
	draining   bool
	listeners  []Listener

	gen           ids.Generator
	now           func() time.Time
	defaultFolder string
}

type StoreOption func(*Store)

func WithIDGenerator(gen ids.Generator) StoreOption {
	return func(s *Store) {
		s.gen = gen
	}
}

func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

func WithDefaultFolder(name string) StoreOption {
	return func(s *Store) {
		s.defaultFolder = name
	}
}

func WithFolders(folders ...Folder) StoreOption {
	return func(s *Store) {
		s.folders = cloneFolders(folders)
	}
}

func NewStore(options ...StoreOption) *Store {
	s := &Store{
		conversations: []*Conversation{},
		folders:       []Folder{},
		gen:           ids.NewCounter(0),
		now:           time.Now,
		defaultFolder: DefaultFolder,
	}
	s.notifyCond = sync.NewCond(&s.notifyMu)
	for _, o := range options {
		o(s)
	}
	return s
}

func (s *Store) IDs() ids.Generator {
	return s.gen
}

func (s *Store) Now() time.Time {
	return s.now()
}

// OnCommit registers a listener called after every successful commit,
// deletion or folder change. Listeners are called in commit order, outside the
// store lock, and may read the store. They must not commit synchronously: a
// commit returns only once its changes were delivered.
func (s *Store) OnCommit(l Listener) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *Store) List() []*Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		out = append(out, c.Clone())
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conversations)
}

func (s *Store) Get(id string) (*Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := indexOf(s.conversations, id)
	if idx < 0 {
		return nil, false
	}
	return s.conversations[idx].Clone(), true
}

func (s *Store) Folders() []Folder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneFolders(s.folders)
}

// Commit replaces (or inserts) a conversation. c.Version must equal the
// committed version, 0 for a conversation that was never committed. The
// returned value is the committed snapshot with its new version.
func (s *Store) Commit(c *Conversation) (*Conversation, error) {
	s.mu.Lock()
	committed, err := s.commitLocked(c)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.unlockAndNotify(Change{Kind: ChangeCommitted, ConversationID: committed.ID, Conversation: committed.Clone()})
	return committed, nil
}

// Update applies fn to a copy of the latest committed version of the
// conversation and commits the result atomically, so the transition can never
// be computed against a stale snapshot. fn runs under the store lock and must
// not block or call back into the store. Returning a nil conversation and nil
// error leaves the conversation untouched.
func (s *Store) Update(id string, fn func(cur *Conversation) (*Conversation, error)) (*Conversation, error) {
	s.mu.Lock()
	if err := s.ensureOpen(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	idx := indexOf(s.conversations, id)
	if idx < 0 {
		s.mu.Unlock()
		return nil, errors.Wrapf(ErrConversationNotFound, "conversation %q", id)
	}
	cur := s.conversations[idx].Clone()
	next, err := fn(cur)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if next == nil {
		s.mu.Unlock()
		return cur, nil
	}
	if next.ID != id {
		s.mu.Unlock()
		return nil, errors.Wrapf(ErrInvalidConversation, "update of %q returned conversation %q", id, next.ID)
	}
	next.Version = s.conversations[idx].Version
	committed, err := s.commitLocked(next)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.unlockAndNotify(Change{Kind: ChangeCommitted, ConversationID: committed.ID, Conversation: committed.Clone()})
	return committed, nil
}

// Snapshot returns a deep copy of the whole collection.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := State{Folders: cloneFolders(s.folders)}
	for _, c := range s.conversations {
		st.Conversations = append(st.Conversations, c.Clone())
	}
	return st
}

// Apply runs fn against a copy of the whole collection and commits the result
// atomically. Conversations that changed get their version bumped under the
// same rules as Commit, new ones start at version 1, missing ones are deleted.
// Listeners see one change per touched conversation, in list order followed by
// deletions.
func (s *Store) Apply(fn func(State) (State, error)) error {
	s.mu.Lock()
	if err := s.ensureOpen(); err != nil {
		s.mu.Unlock()
		return err
	}
	cur := State{Folders: cloneFolders(s.folders)}
	for _, c := range s.conversations {
		cur.Conversations = append(cur.Conversations, c.Clone())
	}
	next, err := fn(cur)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	committed := make([]*Conversation, 0, len(next.Conversations))
	seen := map[string]struct{}{}
	var changes []Change
	for _, c := range next.Conversations {
		if err := Validate(c); err != nil {
			s.mu.Unlock()
			return err
		}
		if _, ok := seen[c.ID]; ok {
			s.mu.Unlock()
			return errors.Wrapf(ErrInvalidConversation, "duplicate conversation id %q", c.ID)
		}
		seen[c.ID] = struct{}{}

		idx := indexOf(s.conversations, c.ID)
		if idx >= 0 && reflect.DeepEqual(s.conversations[idx], c) {
			committed = append(committed, s.conversations[idx])
			continue
		}
		n, err := s.nextVersionLocked(c, idx)
		if err != nil {
			s.mu.Unlock()
			return err
		}
		committed = append(committed, n)
		changes = append(changes, Change{Kind: ChangeCommitted, ConversationID: n.ID, Conversation: n.Clone()})
	}
	for _, c := range s.conversations {
		if _, ok := seen[c.ID]; !ok {
			changes = append(changes, Change{Kind: ChangeDeleted, ConversationID: c.ID})
		}
	}

	s.conversations = committed
	if next.Folders != nil && !reflect.DeepEqual(next.Folders, s.folders) {
		s.folders = cloneFolders(next.Folders)
		changes = append(changes, Change{Kind: ChangeFolders, Folders: cloneFolders(s.folders)})
	}
	s.unlockAndNotify(changes...)
	return nil
}

// CreateConversation commits a new empty conversation at the head of the list.
func (s *Store) CreateConversation() (*Conversation, error) {
	return s.Commit(NewConversation(s.gen, s.now(), s.defaultFolder))
}

func (s *Store) Reset(id string) (*Conversation, error) {
	return s.Update(id, func(cur *Conversation) (*Conversation, error) {
		return Reset(cur, s.now()), nil
	})
}

func (s *Store) Rename(id string, title string) (*Conversation, error) {
	return s.Update(id, func(cur *Conversation) (*Conversation, error) {
		return Rename(cur, title, s.now())
	})
}

func (s *Store) TogglePin(id string) (*Conversation, error) {
	return s.Update(id, func(cur *Conversation) (*Conversation, error) {
		return TogglePin(cur), nil
	})
}

func (s *Store) MoveToFolder(id string, folder string) (*Conversation, error) {
	return s.Update(id, func(cur *Conversation) (*Conversation, error) {
		return MoveToFolder(cur, folder, s.now())
	})
}

func (s *Store) Delete(id string) error {
	s.mu.Lock()
	if err := s.ensureOpen(); err != nil {
		s.mu.Unlock()
		return err
	}
	next, err := Remove(s.conversations, id)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.conversations = next
	s.unlockAndNotify(Change{Kind: ChangeDeleted, ConversationID: id})
	return nil
}

func (s *Store) CreateFolder(name string) (Folder, error) {
	s.mu.Lock()
	if err := s.ensureOpen(); err != nil {
		s.mu.Unlock()
		return Folder{}, err
	}
	next, folder, err := AddFolder(s.folders, name, s.gen)
	if err != nil {
		s.mu.Unlock()
		return Folder{}, err
	}
	s.folders = next
	s.unlockAndNotify(Change{Kind: ChangeFolders, Folders: cloneFolders(next)})
	return folder, nil
}

// SeedFolders creates the named folders in a single commit when the store has
// no folder yet. Names that collide with each other are created once.
func (s *Store) SeedFolders(names ...string) error {
	return s.Apply(func(st State) (State, error) {
		if len(st.Folders) > 0 {
			return st, nil
		}
		for _, name := range names {
			next, _, err := AddFolder(st.Folders, name, s.gen)
			if errors.Is(err, ErrDuplicateFolder) {
				continue
			}
			if err != nil {
				return st, err
			}
			st.Folders = next
		}
		return st, nil
	})
}

// Replace swaps the whole collection, used when loading persisted state.
// Conversations are kept in the given order and their versions are preserved.
func (s *Store) Replace(convs []*Conversation, folders []Folder) error {
	next := make([]*Conversation, 0, len(convs))
	seen := map[string]struct{}{}
	for _, c := range convs {
		if err := Validate(c); err != nil {
			return err
		}
		if _, ok := seen[c.ID]; ok {
			return errors.Wrapf(ErrInvalidConversation, "duplicate conversation id %q", c.ID)
		}
		seen[c.ID] = struct{}{}
		next = append(next, c.Clone())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}
	s.conversations = next
	if folders != nil {
		s.folders = cloneFolders(folders)
	}
	log.Debug().Int("conversations", len(next)).Int("folders", len(s.folders)).Msg("Replaced conversation store contents")
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) commitLocked(c *Conversation) (*Conversation, error) {
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	if err := Validate(c); err != nil {
		return nil, err
	}

	idx := indexOf(s.conversations, c.ID)
	next, err := s.nextVersionLocked(c, idx)
	if err != nil {
		return nil, err
	}
	if idx < 0 {
		s.conversations = append([]*Conversation{next}, s.conversations...)
	} else {
		s.conversations[idx] = next
	}
	return next.Clone(), nil
}

// nextVersionLocked checks c against the committed conversation at idx (-1 if
// none) and returns the value to store, without storing it.
func (s *Store) nextVersionLocked(c *Conversation, idx int) (*Conversation, error) {
	next := c.Clone()
	if next.Messages == nil {
		next.Messages = []Message{}
	}
	next.Preview = PreviewOf(next.Messages)

	if idx < 0 {
		if c.Version != 0 {
			return nil, errors.Wrapf(ErrConversationNotFound, "conversation %q (version %d)", c.ID, c.Version)
		}
		next.Version = 1
		return next, nil
	}

	cur := s.conversations[idx]
	if c.Version != cur.Version {
		return nil, &VersionConflictError{
			ConversationID: c.ID,
			Expected:       c.Version,
			Actual:         cur.Version,
		}
	}
	next.Version = cur.Version + 1
	next.UpdatedAt = LaterOf(cur.UpdatedAt, next.UpdatedAt)
	if !cur.CreatedAt.IsZero() {
		next.CreatedAt = cur.CreatedAt
	}
	return next, nil
}

// unlockAndNotify queues the changes, releases the write lock and returns once
// the changes were delivered to every listener.
func (s *Store) unlockAndNotify(changes ...Change) {
	s.notifyMu.Lock()
	s.queue = append(s.queue, changes...)
	s.queued += uint64(len(changes))
	target := s.queued
	s.notifyMu.Unlock()
	s.mu.Unlock()

	s.deliver(target)
}

// deliver drains the queue until every change up to target was handed to the
// listeners. Only one goroutine drains at a time, the others wait for it.
func (s *Store) deliver(target uint64) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	for s.delivered < target {
		if s.draining {
			s.notifyCond.Wait()
			continue
		}
		s.draining = true
		batch := s.queue
		s.queue = nil
		listeners := append([]Listener(nil), s.listeners...)
		s.notifyMu.Unlock()

		for _, change := range batch {
			for _, l := range listeners {
				l(change)
			}
		}

		s.notifyMu.Lock()
		s.delivered += uint64(len(batch))
		s.draining = false
		s.notifyCond.Broadcast()
	}
}

func (s *Store) ensureOpen() error {
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}
