package conversations

import (
	"strings"
	"time"

	"github.com/go-go-golems/parley/pkg/ids"
	"github.com/pkg/errors"
)

// The functions in this file are pure: they never touch the input value and
// return a new value that the caller commits to the Store.

// NewConversation returns an empty, uncommitted conversation.
func NewConversation(gen ids.Generator, now time.Time, folder string) *Conversation {
	if folder == "" {
		folder = DefaultFolder
	}
	return &Conversation{
		ID:        gen.Next(ids.PrefixConversation),
		Title:     DefaultTitle,
		CreatedAt: now,
		UpdatedAt: now,
		Folder:    folder,
		Messages:  []Message{},
		Preview:   PreviewPlaceholder,
	}
}

// Reset clears all messages but keeps identity, title, pin state and folder.
func Reset(c *Conversation, now time.Time) *Conversation {
	next := c.Clone()
	next.Messages = []Message{}
	next.Preview = PreviewPlaceholder
	next.UpdatedAt = LaterOf(c.UpdatedAt, now)
	return next
}

func Rename(c *Conversation, title string, now time.Time) (*Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, errors.Wrap(ErrEmptyInput, "conversation title")
	}
	next := c.Clone()
	next.Title = title
	next.UpdatedAt = LaterOf(c.UpdatedAt, now)
	return next, nil
}

// TogglePin flips the pin flag. Pinning is not conversational activity, so
// UpdatedAt is left untouched.
func TogglePin(c *Conversation) *Conversation {
	next := c.Clone()
	next.Pinned = !c.Pinned
	return next
}

func MoveToFolder(c *Conversation, folder string, now time.Time) (*Conversation, error) {
	folder = strings.TrimSpace(folder)
	if folder == "" {
		return nil, errors.Wrap(ErrEmptyInput, "folder name")
	}
	next := c.Clone()
	next.Folder = folder
	next.UpdatedAt = LaterOf(c.UpdatedAt, now)
	return next, nil
}

// AddFolder appends a folder with a generated id. Names are compared
// case-insensitively.
func AddFolder(folders []Folder, name string, gen ids.Generator) ([]Folder, Folder, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, Folder{}, errors.Wrap(ErrEmptyInput, "folder name")
	}
	for _, f := range folders {
		if strings.EqualFold(f.Name, name) {
			return nil, Folder{}, &DuplicateFolderError{Name: name, Existing: f.Name}
		}
	}
	folder := Folder{ID: gen.Next(ids.PrefixFolder), Name: name}
	out := make([]Folder, 0, len(folders)+1)
	out = append(out, folders...)
	out = append(out, folder)
	return out, folder, nil
}

// Remove returns the conversations without the one with the given id.
func Remove(convs []*Conversation, id string) ([]*Conversation, error) {
	idx := indexOf(convs, id)
	if idx < 0 {
		return nil, errors.Wrapf(ErrConversationNotFound, "conversation %q", id)
	}
	out := make([]*Conversation, 0, len(convs)-1)
	out = append(out, convs[:idx]...)
	out = append(out, convs[idx+1:]...)
	return out, nil
}

func indexOf(convs []*Conversation, id string) int {
	for i, c := range convs {
		if c != nil && c.ID == id {
			return i
		}
	}
	return -1
}
