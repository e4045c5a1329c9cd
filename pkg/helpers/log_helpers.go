package helpers

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/lithammer/shortuuid/v3"
	"github.com/rs/zerolog"
)

// WatermillLogger routes the router and pub/sub logs into zerolog. Watermill
// logs every subscription and handler start at info level, so those go to
// debug unless the router runs verbose.
type WatermillLogger struct {
	logger    zerolog.Logger
	infoLevel zerolog.Level
}

type WatermillLoggerOption func(*WatermillLogger)

// WithWatermillInfoLevel sets the level watermill's info messages are logged at.
func WithWatermillInfoLevel(level zerolog.Level) WatermillLoggerOption {
	return func(w *WatermillLogger) {
		w.infoLevel = level
	}
}

func NewWatermill(logger zerolog.Logger, options ...WatermillLoggerOption) *WatermillLogger {
	ret := &WatermillLogger{
		logger:    logger.With().Str("component", "events").Logger(),
		infoLevel: zerolog.DebugLevel,
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

func (w *WatermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	w.logger.Error().Fields(map[string]interface{}(fields)).Err(err).Msg(msg)
}

func (w *WatermillLogger) Info(msg string, fields watermill.LogFields) {
	w.logger.WithLevel(w.infoLevel).Fields(map[string]interface{}(fields)).Msg(msg)
}

func (w *WatermillLogger) Debug(msg string, fields watermill.LogFields) {
	w.logger.Debug().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (w *WatermillLogger) Trace(msg string, fields watermill.LogFields) {
	w.logger.Trace().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (w *WatermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &WatermillLogger{
		logger:    w.logger.With().Fields(map[string]interface{}(fields)).Logger(),
		infoLevel: w.infoLevel,
	}
}

var _ watermill.LoggerAdapter = &WatermillLogger{}

// Metadata keys set on every published message.
const (
	MetadataConversationID = "conversation_id"
	MetadataRequestID      = "request_id"
	MetadataCorrelationID  = "correlation_id"
)

// Correlation identifies what a published message is about: a conversation,
// and the reply request when there is one.
type Correlation struct {
	ConversationID string
	RequestID      string
}

// ID is the request id if set, else the conversation id.
func (c Correlation) ID() string {
	if c.RequestID != "" {
		return c.RequestID
	}
	return c.ConversationID
}

type correlationKey struct{}

func ContextWithCorrelation(ctx context.Context, c Correlation) context.Context {
	return context.WithValue(ctx, correlationKey{}, c)
}

func CorrelationFromContext(ctx context.Context) (Correlation, bool) {
	c, ok := ctx.Value(correlationKey{}).(Correlation)
	return c, ok
}

// CorrelationPublisherDecorator copies the correlation of a message's context
// into its metadata. Messages without one get a generated "gen_" id so that
// handlers can still tell them apart.
type CorrelationPublisherDecorator struct {
	message.Publisher
}

func (c CorrelationPublisherDecorator) Publish(topic string, messages ...*message.Message) error {
	for _, msg := range messages {
		if msg.Metadata.Get(MetadataCorrelationID) != "" {
			continue
		}
		corr, _ := CorrelationFromContext(msg.Context())
		if corr.ConversationID != "" {
			msg.Metadata.Set(MetadataConversationID, corr.ConversationID)
		}
		if corr.RequestID != "" {
			msg.Metadata.Set(MetadataRequestID, corr.RequestID)
		}
		id := corr.ID()
		if id == "" {
			id = "gen_" + shortuuid.New()
		}
		msg.Metadata.Set(MetadataCorrelationID, id)
	}
	return c.Publisher.Publish(topic, messages...)
}
