package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-go-golems/parley/pkg/conversations"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// TopicConversations carries every event about conversations and replies.
const TopicConversations = "parley.conversations"

type EventType string

const (
	EventTypeConversationCommitted EventType = "conversation-committed"
	EventTypeConversationDeleted   EventType = "conversation-deleted"
	EventTypeThinkingStarted       EventType = "thinking-started"
	EventTypeThinkingStopped       EventType = "thinking-stopped"
	EventTypeReplyFinished         EventType = "reply-finished"
)

type EventMetadata struct {
	ID             uuid.UUID `json:"id"`
	ConversationID string    `json:"conversation_id"`
	RequestID      string    `json:"request_id,omitempty"`
	Time           time.Time `json:"time"`
}

func (em EventMetadata) MarshalZerologObject(e *zerolog.Event) {
	e.Str("id", em.ID.String())
	e.Str("conversation_id", em.ConversationID)
	if em.RequestID != "" {
		e.Str("request_id", em.RequestID)
	}
}

func NewEventMetadata(conversationID, requestID string) EventMetadata {
	return EventMetadata{
		ID:             uuid.New(),
		ConversationID: conversationID,
		RequestID:      requestID,
		Time:           time.Now(),
	}
}

type Event interface {
	Type() EventType
	Metadata() EventMetadata
	Payload() []byte
}

type EventImpl struct {
	Type_     EventType     `json:"type"`
	Metadata_ EventMetadata `json:"meta"`

	// set when the event was decoded by NewEventFromJson
	payload []byte
}

func (e *EventImpl) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("type", string(e.Type_))
	ev.Object("meta", e.Metadata_)
}

func (e *EventImpl) Type() EventType {
	return e.Type_
}

func (e *EventImpl) Metadata() EventMetadata {
	return e.Metadata_
}

func (e *EventImpl) Payload() []byte {
	return e.payload
}

type EventConversationCommitted struct {
	EventImpl
	Conversation *conversations.Conversation `json:"conversation"`
}

func NewConversationCommittedEvent(c *conversations.Conversation) *EventConversationCommitted {
	return &EventConversationCommitted{
		EventImpl: EventImpl{
			Type_:     EventTypeConversationCommitted,
			Metadata_: NewEventMetadata(c.ID, ""),
		},
		Conversation: c,
	}
}

type EventConversationDeleted struct {
	EventImpl
}

func NewConversationDeletedEvent(conversationID string) *EventConversationDeleted {
	return &EventConversationDeleted{
		EventImpl: EventImpl{
			Type_:     EventTypeConversationDeleted,
			Metadata_: NewEventMetadata(conversationID, ""),
		},
	}
}

type EventThinkingStarted struct {
	EventImpl
}

func NewThinkingStartedEvent(conversationID, requestID string) *EventThinkingStarted {
	return &EventThinkingStarted{
		EventImpl: EventImpl{
			Type_:     EventTypeThinkingStarted,
			Metadata_: NewEventMetadata(conversationID, requestID),
		},
	}
}

// Reasons a conversation stops thinking.
const (
	StopReasonFinished = "finished"
	StopReasonPaused   = "paused"
	StopReasonDropped  = "dropped"
)

type EventThinkingStopped struct {
	EventImpl
	Reason string `json:"reason"`
}

func NewThinkingStoppedEvent(conversationID, requestID, reason string) *EventThinkingStopped {
	return &EventThinkingStopped{
		EventImpl: EventImpl{
			Type_:     EventTypeThinkingStopped,
			Metadata_: NewEventMetadata(conversationID, requestID),
		},
		Reason: reason,
	}
}

// EventReplyFinished reports how a reply request ended. Failure is empty for
// successful replies.
type EventReplyFinished struct {
	EventImpl
	Status    string `json:"status"`
	Failure   string `json:"failure,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

func NewReplyFinishedEvent(conversationID, requestID, status, failure, messageID string, err error) *EventReplyFinished {
	ret := &EventReplyFinished{
		EventImpl: EventImpl{
			Type_:     EventTypeReplyFinished,
			Metadata_: NewEventMetadata(conversationID, requestID),
		},
		Status:    status,
		Failure:   failure,
		MessageID: messageID,
	}
	if err != nil {
		ret.Error = err.Error()
	}
	return ret
}

// NewEventFromJson decodes an event published by a WatermillSink.
func NewEventFromJson(b []byte) (Event, error) {
	var hdr struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(b, &hdr); err != nil {
		return nil, err
	}

	var ret Event
	switch hdr.Type {
	case EventTypeConversationCommitted:
		ret = &EventConversationCommitted{}
	case EventTypeConversationDeleted:
		ret = &EventConversationDeleted{}
	case EventTypeThinkingStarted:
		ret = &EventThinkingStarted{}
	case EventTypeThinkingStopped:
		ret = &EventThinkingStopped{}
	case EventTypeReplyFinished:
		ret = &EventReplyFinished{}
	default:
		return nil, fmt.Errorf("unknown event type %q", hdr.Type)
	}
	if err := json.Unmarshal(b, ret); err != nil {
		return nil, err
	}
	if setter, ok := ret.(interface{ setPayload([]byte) }); ok {
		setter.setPayload(b)
	}
	return ret, nil
}

func (e *EventImpl) setPayload(b []byte) {
	e.payload = b
}
