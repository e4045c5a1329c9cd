package replysync

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-go-golems/parley/pkg/conversations"
	"github.com/go-go-golems/parley/pkg/events"
	"github.com/go-go-golems/parley/pkg/ids"
	"github.com/go-go-golems/parley/pkg/transitions"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	DefaultFailureDelay = 2 * time.Second
	// DefaultFallbackMessage is appended as the assistant reply when the
	// reply service cannot be reached.
	DefaultFallbackMessage = "죄송합니다. 현재 서버에 연결할 수 없습니다. 잠시 후 다시 시도해주세요."
)

// ReplyService produces the assistant reply for a conversation history.
type ReplyService interface {
	Reply(ctx context.Context, payload transitions.Payload) (string, error)
}

type ReplyServiceFunc func(ctx context.Context, payload transitions.Payload) (string, error)

func (f ReplyServiceFunc) Reply(ctx context.Context, payload transitions.Payload) (string, error) {
	return f(ctx, payload)
}

// Controller keeps at most one reply request in flight per conversation and
// applies replies to the store.
//
// Results are always applied through Store.Update, against the most recently
// committed version of the conversation, so edits made while a reply is
// pending are kept. Lock order is store, then controller.
type Controller struct {
	store   *conversations.Store
	service ReplyService

	requestIDs   ids.Generator
	now          func() time.Time
	failureDelay time.Duration
	fallback     string
	sink         events.EventSink

	mu      sync.Mutex
	pending map[string]*Request
	closed  bool
	wg      sync.WaitGroup
}

type Option func(*Controller)

func WithFailureDelay(d time.Duration) Option {
	return func(c *Controller) {
		c.failureDelay = d
	}
}

func WithFallbackMessage(msg string) Option {
	return func(c *Controller) {
		if strings.TrimSpace(msg) != "" {
			c.fallback = msg
		}
	}
}

func WithEventSink(sink events.EventSink) Option {
	return func(c *Controller) {
		c.sink = sink
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

func WithRequestIDs(gen ids.Generator) Option {
	return func(c *Controller) {
		c.requestIDs = gen
	}
}

func NewController(store *conversations.Store, service ReplyService, options ...Option) *Controller {
	c := &Controller{
		store:        store,
		service:      service,
		requestIDs:   ids.UUID{},
		now:          time.Now,
		failureDelay: DefaultFailureDelay,
		fallback:     DefaultFallbackMessage,
		sink:         events.NullSink{},
		pending:      map[string]*Request{},
	}
	for _, o := range options {
		o(c)
	}
	return c
}

func (c *Controller) FallbackMessage() string {
	return c.fallback
}

// IsThinking reports whether a reply is pending for the conversation.
func (c *Controller) IsThinking(conversationID string) bool {
	_, ok := c.Pending(conversationID)
	return ok
}

func (c *Controller) Pending(conversationID string) (*Request, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.pending[conversationID]
	return r, ok
}

// Busy reports whether any conversation has a reply pending.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending) > 0
}

// Submit applies the transition to the latest committed version of the
// conversation and, if the transition asks for a reply, starts one in the
// background.
//
// A transition requesting a reply while one is pending fails with
// ErrRequestPending and commits nothing. Transitions without an effect (edits)
// are always applied. The returned request is nil when no reply was started.
func (c *Controller) Submit(ctx context.Context, conversationID string, transition transitions.Transition) (*Request, *conversations.Conversation, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var req *Request
	committed, err := c.store.Update(conversationID, func(cur *conversations.Conversation) (*conversations.Conversation, error) {
		next, effect, err := transition(cur)
		if err != nil {
			return nil, err
		}
		if !effect.RequestsReply() {
			return next, nil
		}
		r, err := c.reserve(ctx, conversationID, effect.Payload)
		if err != nil {
			return nil, err
		}
		req = r
		return next, nil
	})
	if err != nil {
		if req != nil {
			c.release(req)
		}
		return nil, nil, err
	}
	if req == nil {
		return nil, committed, nil
	}

	c.started(req)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		reply, err := c.service.Reply(req.Context(), req.Payload)
		c.Complete(req, reply, err)
	}()

	return req, committed, nil
}

// Begin marks the conversation as waiting for a reply to payload. The caller
// is responsible for calling Complete (or Cancel).
func (c *Controller) Begin(ctx context.Context, conversationID string, payload transitions.Payload) (*Request, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := c.store.Get(conversationID); !ok {
		return nil, errors.Wrapf(conversations.ErrConversationNotFound, "conversation %q", conversationID)
	}
	req, err := c.reserve(ctx, conversationID, payload)
	if err != nil {
		return nil, err
	}
	c.started(req)
	return req, nil
}

// Complete applies the result of the reply service. A successful reply is
// appended as one assistant message. Any failure is followed, after the
// failure delay, by one fallback message. Results of paused requests are
// discarded.
func (c *Controller) Complete(req *Request, reply string, replyErr error) Outcome {
	if req == nil {
		return Outcome{Status: StatusDropped, Err: ErrRequestNil}
	}
	logger := log.With().
		Str("conversation_id", req.ConversationID).
		Str("request_id", req.ID).
		Logger()

	if req.isCanceled() {
		logger.Debug().Msg("Discarding result of paused reply request")
		return c.discard(req)
	}

	if replyErr == nil && strings.TrimSpace(reply) == "" {
		replyErr = &MalformedResponseError{Reason: "reply is blank"}
	}

	content := reply
	failure := KindOf(replyErr)
	if replyErr != nil {
		logger.Warn().Err(replyErr).Str("failure", string(failure)).
			Dur("delay", c.failureDelay).
			Msg("Reply request failed, answering with fallback message")
		select {
		case <-time.After(c.failureDelay):
		case <-req.Context().Done():
		}
		if req.Context().Err() != nil {
			logger.Debug().Msg("Reply request stopped during failure delay")
			return c.discard(req)
		}
		content = c.fallback
	}

	var msg conversations.Message
	committed, err := c.store.Update(req.ConversationID, func(cur *conversations.Conversation) (*conversations.Conversation, error) {
		if !c.settle(req) {
			return nil, errDiscarded
		}
		now := c.now()
		msg = conversations.Message{
			ID:        c.store.IDs().Next(ids.PrefixMessage),
			Role:      conversations.RoleAssistant,
			Content:   content,
			CreatedAt: now,
		}
		cur.Messages = append(cur.Messages, msg)
		cur.Preview = conversations.PreviewOf(cur.Messages)
		cur.UpdatedAt = conversations.LaterOf(cur.UpdatedAt, now)
		return cur, nil
	})

	switch {
	case errors.Is(err, errDiscarded):
		logger.Debug().Msg("Discarding late reply")
		return c.discard(req)
	case err != nil:
		// settle did not run, or the commit itself failed
		c.release(req)
		logger.Warn().Err(err).Msg("Dropping reply, conversation is gone")
		o := Outcome{Status: StatusDropped, Failure: failure, Err: err}
		c.finished(req, events.StopReasonDropped, o, "")
		req.finish(o)
		return o
	}

	o := Outcome{
		Status:       StatusReplied,
		Failure:      failure,
		Err:          replyErr,
		Message:      &msg,
		Conversation: committed,
	}
	if replyErr != nil {
		o.Status = StatusFailed
	}
	logger.Debug().Str("status", string(o.Status)).Str("message_id", msg.ID).Msg("Reply request finished")
	c.finished(req, events.StopReasonFinished, o, msg.ID)
	req.finish(o)
	return o
}

// Cancel pauses the pending reply of a conversation. Thinking stops right
// away, the running call is aborted and its result, should it still arrive,
// is discarded.
func (c *Controller) Cancel(conversationID string) error {
	c.mu.Lock()
	req, ok := c.pending[conversationID]
	if ok {
		delete(c.pending, conversationID)
	}
	c.mu.Unlock()
	if !ok {
		return errors.Wrapf(ErrNoPendingRequest, "conversation %q", conversationID)
	}

	req.markCanceled()
	log.Debug().Str("conversation_id", conversationID).Str("request_id", req.ID).Msg("Paused reply request")
	o := Outcome{Status: StatusCanceled}
	c.finished(req, events.StopReasonPaused, o, "")
	req.finish(o)
	return nil
}

// Close pauses every pending request and waits for running calls to return.
func (c *Controller) Close() error {
	c.mu.Lock()
	c.closed = true
	convIDs := make([]string, 0, len(c.pending))
	for id := range c.pending {
		convIDs = append(convIDs, id)
	}
	c.mu.Unlock()

	for _, id := range convIDs {
		if err := c.Cancel(id); err != nil && !errors.Is(err, ErrNoPendingRequest) {
			return err
		}
	}
	c.wg.Wait()
	return nil
}

var errDiscarded = errors.New("reply discarded")

func (c *Controller) reserve(ctx context.Context, conversationID string, payload transitions.Payload) (*Request, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrControllerClosed
	}
	if existing, ok := c.pending[conversationID]; ok {
		return nil, errors.Wrapf(ErrRequestPending, "conversation %q (request %s)", conversationID, existing.ID)
	}
	req := newRequest(ctx, c.requestIDs.Next(""), conversationID, payload, c.now())
	c.pending[conversationID] = req
	return req, nil
}

// release frees the slot without publishing anything.
func (c *Controller) release(req *Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending[req.ConversationID] == req {
		delete(c.pending, req.ConversationID)
	}
}

// settle moves the request to its terminal state if it is still the pending
// one. It runs inside the store update that appends the reply, so a pause
// either wins entirely or not at all.
func (c *Controller) settle(req *Request) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending[req.ConversationID] != req || req.isCanceled() {
		return false
	}
	delete(c.pending, req.ConversationID)
	return true
}

// started announces the request unless it was paused before it got here.
func (c *Controller) started(req *Request) {
	req.eventsMu.Lock()
	defer req.eventsMu.Unlock()
	if req.isCanceled() {
		log.Debug().Str("conversation_id", req.ConversationID).Str("request_id", req.ID).Msg("Reply request paused before it started")
		return
	}
	log.Debug().
		Str("conversation_id", req.ConversationID).
		Str("request_id", req.ID).
		Int("messages", len(req.Payload.Messages)).
		Msg("Reply request started")
	c.publish(events.NewThinkingStartedEvent(req.ConversationID, req.ID))
	req.announced = true
}

// finished publishes the terminal events of a request. thinking-stopped is
// only sent for a request whose start was announced.
func (c *Controller) finished(req *Request, reason string, o Outcome, messageID string) {
	req.eventsMu.Lock()
	defer req.eventsMu.Unlock()
	if req.announced {
		c.publish(events.NewThinkingStoppedEvent(req.ConversationID, req.ID, reason))
	}
	c.publish(events.NewReplyFinishedEvent(req.ConversationID, req.ID, string(o.Status), string(o.Failure), messageID, o.Err))
}

// discard finishes a request whose result must not be applied. If the request
// was never paused explicitly (its parent context ended), it is released here.
func (c *Controller) discard(req *Request) Outcome {
	c.mu.Lock()
	stillPending := c.pending[req.ConversationID] == req
	if stillPending {
		delete(c.pending, req.ConversationID)
	}
	c.mu.Unlock()

	o := Outcome{Status: StatusCanceled}
	if req.finish(o) {
		c.finished(req, events.StopReasonPaused, o, "")
	}
	return req.Wait()
}

func (c *Controller) publish(e events.Event) {
	if err := c.sink.PublishEvent(e); err != nil {
		log.Warn().Err(err).Str("event_type", string(e.Type())).Msg("Could not publish reply event")
	}
}
