package events

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/parley/pkg/helpers"
)

type EventRouter struct {
	logger     watermill.LoggerAdapter
	Publisher  message.Publisher
	Subscriber message.Subscriber
	router     *message.Router
	verbose    bool
	out        io.Writer
}

type EventRouterOption func(*EventRouter)

func WithLogger(logger watermill.LoggerAdapter) EventRouterOption {
	return func(r *EventRouter) {
		r.logger = logger
	}
}

func WithVerbose(verbose bool) EventRouterOption {
	return func(r *EventRouter) {
		r.verbose = verbose
		level := zerolog.DebugLevel
		if verbose {
			level = zerolog.InfoLevel
		}
		r.logger = helpers.NewWatermill(log.Logger, helpers.WithWatermillInfoLevel(level))
	}
}

// WithDumpWriter sets where DumpRawEvents prints, stdout by default.
func WithDumpWriter(w io.Writer) EventRouterOption {
	return func(r *EventRouter) {
		r.out = w
	}
}

func NewEventRouter(options ...EventRouterOption) (*EventRouter, error) {
	ret := &EventRouter{
		logger: watermill.NopLogger{},
		out:    os.Stdout,
	}

	for _, o := range options {
		o(ret)
	}

	goPubSub := gochannel.NewGoChannel(gochannel.Config{
		BlockPublishUntilSubscriberAck: true,
	}, ret.logger)
	ret.Publisher = helpers.CorrelationPublisherDecorator{Publisher: goPubSub}
	ret.Subscriber = goPubSub

	router, err := message.NewRouter(message.RouterConfig{}, ret.logger)
	if err != nil {
		return nil, err
	}

	ret.router = router

	return ret, nil
}

// Sink returns an EventSink publishing to the conversations topic.
func (e *EventRouter) Sink() *WatermillSink {
	return NewWatermillSink(e.Publisher, TopicConversations)
}

func (e *EventRouter) Close() error {
	log.Debug().Msg("Closing publisher")
	err := e.Publisher.Close()
	if err != nil {
		log.Error().Err(err).Msg("Failed to close pubsub")
	}
	log.Debug().Msg("Publisher closed")

	log.Debug().Msg("Closing router")
	err = e.router.Close()
	if err != nil {
		log.Error().Err(err).Msg("Failed to close router")
	}
	log.Debug().Msg("Router closed")

	return nil
}

func (e *EventRouter) AddHandler(name string, topic string, f func(msg *message.Message) error) {
	e.router.AddNoPublisherHandler(name, topic, e.Subscriber, f)
}

// AddEventHandler decodes every message on the conversations topic and hands
// it to f. Messages that cannot be decoded are logged and acked.
func (e *EventRouter) AddEventHandler(name string, f func(Event) error) {
	e.AddHandler(name, TopicConversations, func(msg *message.Message) error {
		ev, err := NewEventFromJson(msg.Payload)
		if err != nil {
			log.Error().Err(err).Str("message_id", msg.UUID).Msg("Failed to parse conversation event")
			return nil
		}
		return f(ev)
	})
}

func (e *EventRouter) DumpRawEvents(msg *message.Message) error {
	defer msg.Ack()

	var s map[string]interface{}
	err := json.Unmarshal(msg.Payload, &s)
	if err != nil {
		return err
	}
	if !e.verbose {
		if meta, ok := s["meta"].(map[string]interface{}); ok {
			s["conversation_id"] = meta["conversation_id"]
			if rid, ok := meta["request_id"]; ok {
				s["request_id"] = rid
			}
		}
		delete(s, "meta")
		delete(s, "conversation")
	}
	s_, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(e.out, string(s_))
	return err
}

func (e *EventRouter) Running() chan struct{} {
	return e.router.Running()
}

func (e *EventRouter) IsRunning() bool {
	return e.router.IsRunning()
}

func (e *EventRouter) Run(ctx context.Context) error {
	return e.router.Run(ctx)
}
