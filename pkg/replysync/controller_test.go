package replysync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-go-golems/parley/pkg/conversations"
	"github.com/go-go-golems/parley/pkg/events"
	"github.com/go-go-golems/parley/pkg/ids"
	"github.com/go-go-golems/parley/pkg/transitions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDelay = 20 * time.Millisecond

type fixture struct {
	store  *conversations.Store
	engine *transitions.Engine
	sink   *events.RecordingSink
	ctrl   *Controller
	conv   *conversations.Conversation
}

func newFixture(t *testing.T, service ReplyService) *fixture {
	t.Helper()
	gen := ids.NewCounter(0)
	store := conversations.NewStore(conversations.WithIDGenerator(gen))
	sink := &events.RecordingSink{}
	ctrl := NewController(store, service, WithFailureDelay(testDelay), WithEventSink(sink))
	t.Cleanup(func() {
		_ = ctrl.Close()
	})
	conv, err := store.CreateConversation()
	require.NoError(t, err)
	return &fixture{
		store:  store,
		engine: transitions.NewEngine(gen, nil),
		sink:   sink,
		ctrl:   ctrl,
		conv:   conv,
	}
}

func (f *fixture) get(t *testing.T) *conversations.Conversation {
	t.Helper()
	c, ok := f.store.Get(f.conv.ID)
	require.True(t, ok)
	return c
}

// gatedService blocks every call until release is closed.
type gatedService struct {
	calls   chan transitions.Payload
	release chan struct{}
	reply   string
	err     error
}

func newGatedService(reply string, err error) *gatedService {
	return &gatedService{
		calls:   make(chan transitions.Payload, 8),
		release: make(chan struct{}),
		reply:   reply,
		err:     err,
	}
}

func (g *gatedService) Reply(ctx context.Context, payload transitions.Payload) (string, error) {
	g.calls <- payload
	<-g.release
	return g.reply, g.err
}

func staticService(reply string, err error) ReplyService {
	return ReplyServiceFunc(func(ctx context.Context, payload transitions.Payload) (string, error) {
		return reply, err
	})
}

func TestSubmit_SuccessAppendsOneAssistantMessage(t *testing.T) {
	f := newFixture(t, staticService("Hello! How can I help?", nil))

	req, committed, err := f.ctrl.Submit(context.Background(), f.conv.ID, f.engine.SendTransition("hi"))
	require.NoError(t, err)
	require.NotNil(t, req)
	require.Len(t, committed.Messages, 1)
	assert.Equal(t, []transitions.Turn{{Role: conversations.RoleUser, Content: "hi"}}, req.Payload.Messages)

	o := req.Wait()
	assert.Equal(t, StatusReplied, o.Status)
	assert.Equal(t, FailureNone, o.Failure)
	require.NotNil(t, o.Message)
	assert.Equal(t, conversations.RoleAssistant, o.Message.Role)

	c := f.get(t)
	require.Len(t, c.Messages, 2)
	assert.Equal(t, "Hello! How can I help?", c.Messages[1].Content)
	assert.Equal(t, "Hello! How can I help?", c.Preview)
	assert.False(t, f.ctrl.IsThinking(f.conv.ID))
	assert.False(t, f.ctrl.Busy())

	require.Len(t, f.sink.OfType(events.EventTypeThinkingStarted), 1)
	require.Len(t, f.sink.OfType(events.EventTypeThinkingStopped), 1)
	finished := f.sink.OfType(events.EventTypeReplyFinished)
	require.Len(t, finished, 1)
	assert.Equal(t, string(StatusReplied), finished[0].(*events.EventReplyFinished).Status)
}

func TestSubmit_ServiceErrorAppendsFallbackAfterDelay(t *testing.T) {
	f := newFixture(t, staticService("", &ServiceError{StatusCode: 500}))

	start := time.Now()
	req, _, err := f.ctrl.Submit(context.Background(), f.conv.ID, f.engine.SendTransition("hi"))
	require.NoError(t, err)

	o := req.Wait()
	assert.GreaterOrEqual(t, time.Since(start), testDelay)
	assert.Equal(t, StatusFailed, o.Status)
	assert.Equal(t, FailureService, o.Failure)
	var svcErr *ServiceError
	require.ErrorAs(t, o.Err, &svcErr)
	assert.Equal(t, 500, svcErr.StatusCode)

	c := f.get(t)
	require.Len(t, c.Messages, 2)
	assert.Equal(t, conversations.RoleAssistant, c.Messages[1].Role)
	assert.Equal(t, DefaultFallbackMessage, c.Messages[1].Content)
	assert.False(t, f.ctrl.IsThinking(f.conv.ID))

	finished := f.sink.OfType(events.EventTypeReplyFinished)
	require.Len(t, finished, 1)
	assert.Equal(t, string(FailureService), finished[0].(*events.EventReplyFinished).Failure)
}

func TestSubmit_BlankReplyIsMalformed(t *testing.T) {
	f := newFixture(t, staticService("", nil))

	req, _, err := f.ctrl.Submit(context.Background(), f.conv.ID, f.engine.SendTransition("hi"))
	require.NoError(t, err)

	o := req.Wait()
	assert.Equal(t, StatusFailed, o.Status)
	assert.Equal(t, FailureMalformedResponse, o.Failure)
	c := f.get(t)
	require.Len(t, c.Messages, 2)
	assert.Equal(t, DefaultFallbackMessage, c.Messages[1].Content)
}

func TestSubmit_CustomFallbackMessage(t *testing.T) {
	gen := ids.NewCounter(0)
	store := conversations.NewStore(conversations.WithIDGenerator(gen))
	ctrl := NewController(store,
		staticService("", &NetworkUnavailableError{Err: errors.New("connection refused")}),
		WithFailureDelay(0),
		WithFallbackMessage("Server unreachable."),
	)
	defer func() { _ = ctrl.Close() }()
	conv, err := store.CreateConversation()
	require.NoError(t, err)

	req, _, err := ctrl.Submit(context.Background(), conv.ID, transitions.NewEngine(gen, nil).SendTransition("hi"))
	require.NoError(t, err)
	o := req.Wait()
	assert.Equal(t, FailureNetworkUnavailable, o.Failure)
	assert.Equal(t, "Server unreachable.", o.Message.Content)
}

func TestSubmit_RejectsSecondSendWhilePending(t *testing.T) {
	svc := newGatedService("ok", nil)
	f := newFixture(t, svc)

	req, committed, err := f.ctrl.Submit(context.Background(), f.conv.ID, f.engine.SendTransition("first"))
	require.NoError(t, err)
	<-svc.calls
	assert.True(t, f.ctrl.IsThinking(f.conv.ID))
	assert.True(t, f.ctrl.Busy())

	_, _, err = f.ctrl.Submit(context.Background(), f.conv.ID, f.engine.SendTransition("second"))
	require.ErrorIs(t, err, ErrRequestPending)

	c := f.get(t)
	assert.Len(t, c.Messages, 1)
	assert.Equal(t, committed.Version, c.Version)

	close(svc.release)
	o := req.Wait()
	assert.Equal(t, StatusReplied, o.Status)
	assert.Len(t, f.get(t).Messages, 2)
}

func TestSubmit_EditWhilePendingIsKept(t *testing.T) {
	svc := newGatedService("reply", nil)
	f := newFixture(t, svc)

	req, committed, err := f.ctrl.Submit(context.Background(), f.conv.ID, f.engine.SendTransition("draft"))
	require.NoError(t, err)
	<-svc.calls
	userID := committed.Messages[0].ID

	editReq, edited, err := f.ctrl.Submit(context.Background(), f.conv.ID, f.engine.EditTransition(userID, "final wording"))
	require.NoError(t, err)
	assert.Nil(t, editReq)
	assert.Equal(t, "final wording", edited.Messages[0].Content)
	assert.True(t, f.ctrl.IsThinking(f.conv.ID), "edits do not end thinking")

	close(svc.release)
	req.Wait()

	c := f.get(t)
	require.Len(t, c.Messages, 2)
	assert.Equal(t, "final wording", c.Messages[0].Content)
	assert.True(t, c.Messages[0].Edited())
	assert.Equal(t, "reply", c.Messages[1].Content)
}

func TestCancel_DiscardsLateReply(t *testing.T) {
	svc := newGatedService("too late", nil)
	f := newFixture(t, svc)

	req, _, err := f.ctrl.Submit(context.Background(), f.conv.ID, f.engine.SendTransition("hi"))
	require.NoError(t, err)
	<-svc.calls

	require.NoError(t, f.ctrl.Cancel(f.conv.ID))
	assert.False(t, f.ctrl.IsThinking(f.conv.ID))
	assert.Equal(t, StatusCanceled, req.Wait().Status)
	assert.Error(t, req.Context().Err())

	close(svc.release)
	require.NoError(t, f.ctrl.Close())

	c := f.get(t)
	assert.Len(t, c.Messages, 1, "no assistant message after a pause")
	assert.Len(t, f.sink.OfType(events.EventTypeThinkingStopped), 1)
	finished := f.sink.OfType(events.EventTypeReplyFinished)
	require.Len(t, finished, 1)
	assert.Equal(t, string(StatusCanceled), finished[0].(*events.EventReplyFinished).Status)
}

func TestCancel_BeforeStartAnnouncesNoThinking(t *testing.T) {
	svc := newGatedService("reply", nil)
	f := newFixture(t, svc)
	// pause from the commit notification, before Submit announces the request
	f.store.OnCommit(func(ch conversations.Change) {
		if ch.Kind == conversations.ChangeCommitted && f.ctrl.IsThinking(ch.ConversationID) {
			_ = f.ctrl.Cancel(ch.ConversationID)
		}
	})

	req, _, err := f.ctrl.Submit(context.Background(), f.conv.ID, f.engine.SendTransition("hi"))
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, req.Wait().Status)
	close(svc.release)
	require.NoError(t, f.ctrl.Close())

	assert.Empty(t, f.sink.OfType(events.EventTypeThinkingStarted))
	assert.Empty(t, f.sink.OfType(events.EventTypeThinkingStopped))
	finished := f.sink.OfType(events.EventTypeReplyFinished)
	require.Len(t, finished, 1)
	assert.Equal(t, string(StatusCanceled), finished[0].(*events.EventReplyFinished).Status)
	assert.Len(t, f.get(t).Messages, 1)
}

func TestCancel_AbortsCallThatHonorsContext(t *testing.T) {
	calls := make(chan struct{}, 1)
	f := newFixture(t, ReplyServiceFunc(func(ctx context.Context, payload transitions.Payload) (string, error) {
		calls <- struct{}{}
		<-ctx.Done()
		return "", &NetworkUnavailableError{Err: ctx.Err()}
	}))

	req, _, err := f.ctrl.Submit(context.Background(), f.conv.ID, f.engine.SendTransition("hi"))
	require.NoError(t, err)
	<-calls
	require.NoError(t, f.ctrl.Cancel(f.conv.ID))
	require.NoError(t, f.ctrl.Close())

	assert.Equal(t, StatusCanceled, req.Wait().Status)
	assert.Len(t, f.get(t).Messages, 1)
}

func TestCancel_DuringFailureDelay(t *testing.T) {
	gen := ids.NewCounter(0)
	store := conversations.NewStore(conversations.WithIDGenerator(gen))
	called := make(chan struct{})
	ctrl := NewController(store, ReplyServiceFunc(func(ctx context.Context, payload transitions.Payload) (string, error) {
		close(called)
		return "", &ServiceError{StatusCode: 503}
	}), WithFailureDelay(time.Hour))
	conv, err := store.CreateConversation()
	require.NoError(t, err)

	req, _, err := ctrl.Submit(context.Background(), conv.ID, transitions.NewEngine(gen, nil).SendTransition("hi"))
	require.NoError(t, err)
	<-called

	require.NoError(t, ctrl.Cancel(conv.ID))
	require.NoError(t, ctrl.Close())
	assert.Equal(t, StatusCanceled, req.Wait().Status)

	got, _ := store.Get(conv.ID)
	assert.Len(t, got.Messages, 1)
}

func TestCancel_NothingPending(t *testing.T) {
	f := newFixture(t, staticService("x", nil))
	require.ErrorIs(t, f.ctrl.Cancel(f.conv.ID), ErrNoPendingRequest)
}

func TestComplete_ConversationDeletedMeanwhile(t *testing.T) {
	svc := newGatedService("hello", nil)
	f := newFixture(t, svc)

	req, _, err := f.ctrl.Submit(context.Background(), f.conv.ID, f.engine.SendTransition("hi"))
	require.NoError(t, err)
	<-svc.calls
	require.NoError(t, f.store.Delete(f.conv.ID))

	close(svc.release)
	o := req.Wait()
	assert.Equal(t, StatusDropped, o.Status)
	require.ErrorIs(t, o.Err, conversations.ErrConversationNotFound)
	assert.False(t, f.ctrl.Busy())
}

func TestBeginComplete_Manual(t *testing.T) {
	f := newFixture(t, staticService("unused", nil))
	payload := transitions.Payload{Messages: []transitions.Turn{{Role: conversations.RoleUser, Content: "hi"}}}

	req, err := f.ctrl.Begin(context.Background(), f.conv.ID, payload)
	require.NoError(t, err)
	assert.True(t, f.ctrl.IsThinking(f.conv.ID))

	_, err = f.ctrl.Begin(context.Background(), f.conv.ID, payload)
	require.ErrorIs(t, err, ErrRequestPending)

	o := f.ctrl.Complete(req, "manual reply", nil)
	assert.Equal(t, StatusReplied, o.Status)
	assert.False(t, f.ctrl.IsThinking(f.conv.ID))

	again := f.ctrl.Complete(req, "duplicate", nil)
	assert.Equal(t, o.Message.ID, again.Message.ID)

	c := f.get(t)
	require.Len(t, c.Messages, 1)
	assert.Equal(t, "manual reply", c.Messages[0].Content)

	_, err = f.ctrl.Begin(context.Background(), "chat_404", payload)
	require.ErrorIs(t, err, conversations.ErrConversationNotFound)
}

func TestBusyTracksAllConversations(t *testing.T) {
	svc := newGatedService("ok", nil)
	f := newFixture(t, svc)
	other, err := f.store.CreateConversation()
	require.NoError(t, err)

	r1, _, err := f.ctrl.Submit(context.Background(), f.conv.ID, f.engine.SendTransition("a"))
	require.NoError(t, err)
	r2, _, err := f.ctrl.Submit(context.Background(), other.ID, f.engine.SendTransition("b"))
	require.NoError(t, err)
	<-svc.calls
	<-svc.calls

	assert.True(t, f.ctrl.IsThinking(f.conv.ID))
	assert.True(t, f.ctrl.IsThinking(other.ID))
	require.NoError(t, f.ctrl.Cancel(other.ID))
	assert.True(t, f.ctrl.Busy())
	assert.False(t, f.ctrl.IsThinking(other.ID))

	close(svc.release)
	r1.Wait()
	r2.Wait()
	assert.False(t, f.ctrl.Busy())
}

func TestSubmit_RejectedTransitionCommitsNothing(t *testing.T) {
	f := newFixture(t, staticService("x", nil))
	_, _, err := f.ctrl.Submit(context.Background(), f.conv.ID, f.engine.SendTransition("   "))
	require.ErrorIs(t, err, conversations.ErrEmptyInput)
	assert.False(t, f.ctrl.Busy())
	assert.Equal(t, uint64(1), f.get(t).Version)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, FailureNone, KindOf(nil))
	assert.Equal(t, FailureNetworkUnavailable, KindOf(&NetworkUnavailableError{Err: context.DeadlineExceeded}))
	assert.Equal(t, FailureService, KindOf(&ServiceError{StatusCode: 502}))
	assert.Equal(t, FailureMalformedResponse, KindOf(&MalformedResponseError{Reason: "no reply"}))
	assert.Equal(t, FailureUnknown, KindOf(errors.New("other")))
}
