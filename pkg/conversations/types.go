package conversations

import (
	"time"

	"github.com/huandu/go-clone"
)

const (
	DefaultTitle       = "New Chat"
	DefaultFolder      = "Work Projects"
	PreviewPlaceholder = "Say hello to start..."
	// PreviewLength is the number of characters of the last message shown as preview.
	PreviewLength = 80
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Message is a single turn in a conversation. Its ID never changes once created.
type Message struct {
	ID        string     `json:"id" yaml:"id"`
	Role      Role       `json:"role" yaml:"role"`
	Content   string     `json:"content" yaml:"content"`
	CreatedAt time.Time  `json:"created_at" yaml:"created_at"`
	EditedAt  *time.Time `json:"edited_at,omitempty" yaml:"edited_at,omitempty"`
}

func (m Message) Edited() bool {
	return m.EditedAt != nil
}

// Conversation is a titled, ordered thread of messages.
//
// Conversations are values: every state transition produces a new Conversation
// that replaces the previous one in the Store as a whole. Version is owned by
// the Store and counts successful commits.
type Conversation struct {
	ID        string    `json:"id" yaml:"id"`
	Title     string    `json:"title" yaml:"title"`
	CreatedAt time.Time `json:"created_at,omitempty" yaml:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
	Pinned    bool      `json:"pinned" yaml:"pinned"`
	Folder    string    `json:"folder" yaml:"folder"`
	Messages  []Message `json:"messages" yaml:"messages"`
	Preview   string    `json:"preview" yaml:"preview"`
	Version   uint64    `json:"version" yaml:"version"`
}

// Folder groups conversations by name. Names are unique case-insensitively.
type Folder struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	return clone.Clone(c).(*Conversation)
}

func (c *Conversation) MessageCount() int {
	if c == nil {
		return 0
	}
	return len(c.Messages)
}

// FindMessage returns the index of the message with the given id, or -1.
func (c *Conversation) FindMessage(id string) int {
	if c == nil {
		return -1
	}
	for i := range c.Messages {
		if c.Messages[i].ID == id {
			return i
		}
	}
	return -1
}

// LastUserMessage returns the most recent user message, the only one the chat
// pane offers edit and resend for.
func (c *Conversation) LastUserMessage() (Message, bool) {
	if c == nil {
		return Message{}, false
	}
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == RoleUser {
			return c.Messages[i], true
		}
	}
	return Message{}, false
}

// PreviewOf computes the preview for a message sequence: the first
// PreviewLength characters of the last message, or the placeholder.
func PreviewOf(messages []Message) string {
	if len(messages) == 0 {
		return PreviewPlaceholder
	}
	p := Truncate(messages[len(messages)-1].Content, PreviewLength)
	if p == "" {
		return PreviewPlaceholder
	}
	return p
}

// Truncate returns at most n runes of s.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// LaterOf returns the later of two timestamps, used to keep UpdatedAt
// non-decreasing.
func LaterOf(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

func cloneFolders(folders []Folder) []Folder {
	if folders == nil {
		return nil
	}
	out := make([]Folder, len(folders))
	copy(out, folders)
	return out
}
