package transitions

import (
	"strings"
	"time"

	"github.com/go-go-golems/parley/pkg/conversations"
	"github.com/go-go-golems/parley/pkg/ids"
	"github.com/pkg/errors"
)

type EffectKind string

const (
	EffectNone         EffectKind = "none"
	EffectRequestReply EffectKind = "request-reply"
)

// Turn is the role+content pair sent to the reply service.
type Turn struct {
	Role    conversations.Role `json:"role"`
	Content string             `json:"content"`
}

// Payload is the body of a reply request.
type Payload struct {
	Messages []Turn `json:"messages"`
}

// Effect is the side effect a transition asks the caller to perform after
// committing the next conversation.
type Effect struct {
	Kind    EffectKind
	Payload Payload
}

func (e Effect) RequestsReply() bool {
	return e.Kind == EffectRequestReply
}

var none = Effect{Kind: EffectNone}

// Transition computes the next conversation from the latest committed one.
type Transition func(cur *conversations.Conversation) (*conversations.Conversation, Effect, error)

// Engine computes message transitions. It holds no conversation state; it
// only needs an id generator and a clock.
type Engine struct {
	ids ids.Generator
	now func() time.Time
}

func NewEngine(gen ids.Generator, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{ids: gen, now: now}
}

// Send appends a user message with the trimmed content and requests a reply
// with the full history.
func (e *Engine) Send(c *conversations.Conversation, content string) (*conversations.Conversation, Effect, error) {
	if c == nil {
		return nil, none, errors.Wrap(conversations.ErrConversationNotFound, "send")
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, none, errors.Wrap(conversations.ErrEmptyInput, "send")
	}

	now := e.now()
	next := c.Clone()
	next.Messages = append(next.Messages, conversations.Message{
		ID:        e.ids.Next(ids.PrefixMessage),
		Role:      conversations.RoleUser,
		Content:   content,
		CreatedAt: now,
	})
	next.Preview = conversations.Truncate(content, conversations.PreviewLength)
	next.UpdatedAt = conversations.LaterOf(c.UpdatedAt, now)

	return next, requestReply(next.Messages), nil
}

// Edit replaces the content of a message in place. Position and role never
// change and no reply is requested.
func (e *Engine) Edit(c *conversations.Conversation, messageID string, newContent string) (*conversations.Conversation, Effect, error) {
	if c == nil {
		return nil, none, errors.Wrap(conversations.ErrConversationNotFound, "edit")
	}
	idx := c.FindMessage(messageID)
	if idx < 0 {
		return nil, none, errors.Wrapf(conversations.ErrMessageNotFound, "edit message %q in %q", messageID, c.ID)
	}
	if strings.TrimSpace(newContent) == "" {
		return nil, none, errors.Wrap(conversations.ErrEmptyInput, "edit")
	}

	now := e.now()
	next := c.Clone()
	next.Messages[idx].Content = newContent
	next.Messages[idx].EditedAt = &now
	next.Preview = conversations.PreviewOf(next.Messages)

	return next, none, nil
}

// Resend drops everything after the given message, optionally replaces its
// content, and requests a reply with the truncated history. A nil or blank
// newContent resends the message unchanged.
func (e *Engine) Resend(c *conversations.Conversation, messageID string, newContent *string) (*conversations.Conversation, Effect, error) {
	if c == nil {
		return nil, none, errors.Wrap(conversations.ErrConversationNotFound, "resend")
	}
	idx := c.FindMessage(messageID)
	if idx < 0 {
		return nil, none, errors.Wrapf(conversations.ErrMessageNotFound, "resend message %q in %q", messageID, c.ID)
	}

	now := e.now()
	next := c.Clone()
	next.Messages = next.Messages[:idx+1]
	if newContent != nil && strings.TrimSpace(*newContent) != "" {
		next.Messages[idx].Content = *newContent
		next.Messages[idx].EditedAt = &now
	}
	next.Preview = conversations.PreviewOf(next.Messages)
	next.UpdatedAt = conversations.LaterOf(c.UpdatedAt, now)

	return next, requestReply(next.Messages), nil
}

func (e *Engine) SendTransition(content string) Transition {
	return func(cur *conversations.Conversation) (*conversations.Conversation, Effect, error) {
		return e.Send(cur, content)
	}
}

func (e *Engine) EditTransition(messageID string, newContent string) Transition {
	return func(cur *conversations.Conversation) (*conversations.Conversation, Effect, error) {
		return e.Edit(cur, messageID, newContent)
	}
}

func (e *Engine) ResendTransition(messageID string, newContent *string) Transition {
	return func(cur *conversations.Conversation) (*conversations.Conversation, Effect, error) {
		return e.Resend(cur, messageID, newContent)
	}
}

// HistoryOf strips messages down to what the reply service needs.
func HistoryOf(messages []conversations.Message) Payload {
	turns := make([]Turn, 0, len(messages))
	for _, m := range messages {
		turns = append(turns, Turn{Role: m.Role, Content: m.Content})
	}
	return Payload{Messages: turns}
}

func requestReply(messages []conversations.Message) Effect {
	return Effect{Kind: EffectRequestReply, Payload: HistoryOf(messages)}
}
