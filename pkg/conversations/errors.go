package conversations

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyInput           = errors.New("empty input")
	ErrMessageNotFound      = errors.New("message not found")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrDuplicateFolder      = errors.New("folder already exists")
	ErrVersionConflict      = errors.New("version conflict")
	ErrInvalidConversation  = errors.New("invalid conversation")
	ErrStoreClosed          = errors.New("conversation store closed")
)

// VersionConflictError reports a commit computed against a stale snapshot.
type VersionConflictError struct {
	ConversationID string
	Expected       uint64
	Actual         uint64
}

func (e *VersionConflictError) Error() string {
	if e == nil {
		return ErrVersionConflict.Error()
	}
	return fmt.Sprintf("conversation %q version conflict: expected=%d actual=%d", e.ConversationID, e.Expected, e.Actual)
}

func (e *VersionConflictError) Is(target error) bool { return target == ErrVersionConflict }

// DuplicateFolderError is surfaced to the user when a folder name is taken.
type DuplicateFolderError struct {
	Name     string
	Existing string
}

func (e *DuplicateFolderError) Error() string {
	if e == nil {
		return ErrDuplicateFolder.Error()
	}
	return fmt.Sprintf("folder %q already exists (as %q)", e.Name, e.Existing)
}

func (e *DuplicateFolderError) Is(target error) bool { return target == ErrDuplicateFolder }
