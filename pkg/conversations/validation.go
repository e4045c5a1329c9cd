package conversations

import (
	"github.com/pkg/errors"
)

// Validate checks the structural invariants the store relies on.
func Validate(c *Conversation) error {
	if c == nil {
		return errors.Wrap(ErrInvalidConversation, "conversation is nil")
	}
	if c.ID == "" {
		return errors.Wrap(ErrInvalidConversation, "conversation id is empty")
	}
	seen := make(map[string]struct{}, len(c.Messages))
	for i, m := range c.Messages {
		if m.ID == "" {
			return errors.Wrapf(ErrInvalidConversation, "message %d of %q has no id", i, c.ID)
		}
		if _, ok := seen[m.ID]; ok {
			return errors.Wrapf(ErrInvalidConversation, "duplicate message id %q in %q", m.ID, c.ID)
		}
		seen[m.ID] = struct{}{}
		if !m.Role.Valid() {
			return errors.Wrapf(ErrInvalidConversation, "message %q has invalid role %q", m.ID, m.Role)
		}
	}
	return nil
}
