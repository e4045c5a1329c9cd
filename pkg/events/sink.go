package events

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-go-golems/parley/pkg/conversations"
	"github.com/go-go-golems/parley/pkg/helpers"
	"github.com/rs/zerolog/log"
)

// EventSink is a destination for conversation events.
type EventSink interface {
	PublishEvent(event Event) error
}

// NullSink drops every event.
type NullSink struct{}

func (NullSink) PublishEvent(Event) error { return nil }

var _ EventSink = NullSink{}

// WatermillSink publishes events as JSON to a watermill topic.
type WatermillSink struct {
	publisher message.Publisher
	topic     string
}

func NewWatermillSink(publisher message.Publisher, topic string) *WatermillSink {
	return &WatermillSink{
		publisher: publisher,
		topic:     topic,
	}
}

func (w *WatermillSink) PublishEvent(event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal event to JSON")
		return err
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(helpers.ContextWithCorrelation(context.Background(), helpers.Correlation{
		ConversationID: event.Metadata().ConversationID,
		RequestID:      event.Metadata().RequestID,
	}))

	err = w.publisher.Publish(w.topic, msg)
	if err != nil {
		log.Error().Err(err).Str("topic", w.topic).Msg("Failed to publish event to watermill")
		return err
	}

	log.Trace().Str("topic", w.topic).Str("event_type", string(event.Type())).Msg("Published event to watermill")
	return nil
}

var _ EventSink = (*WatermillSink)(nil)

// RecordingSink keeps every published event in memory.
type RecordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (r *RecordingSink) PublishEvent(event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *RecordingSink) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns the recorded events of the given type, in publish order.
func (r *RecordingSink) OfType(t EventType) []Event {
	var ret []Event
	for _, e := range r.Events() {
		if e.Type() == t {
			ret = append(ret, e)
		}
	}
	return ret
}

var _ EventSink = (*RecordingSink)(nil)

// ForwardCommits publishes a committed or deleted event for every change of
// the store.
func ForwardCommits(store *conversations.Store, sink EventSink) {
	store.OnCommit(func(ch conversations.Change) {
		var err error
		switch ch.Kind {
		case conversations.ChangeCommitted:
			err = sink.PublishEvent(NewConversationCommittedEvent(ch.Conversation))
		case conversations.ChangeDeleted:
			err = sink.PublishEvent(NewConversationDeletedEvent(ch.ConversationID))
		}
		if err != nil {
			log.Warn().Err(err).Str("conversation_id", ch.ConversationID).Msg("Could not forward conversation change")
		}
	})
}
