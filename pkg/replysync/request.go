package replysync

import (
	"context"
	"sync"
	"time"

	"github.com/go-go-golems/parley/pkg/conversations"
	"github.com/go-go-golems/parley/pkg/transitions"
)

type Status string

const (
	// StatusReplied: the reply was appended.
	StatusReplied Status = "replied"
	// StatusFailed: the fallback message was appended.
	StatusFailed Status = "failed"
	// StatusCanceled: the request was paused, nothing was appended.
	StatusCanceled Status = "canceled"
	// StatusDropped: the conversation disappeared before the result could be applied.
	StatusDropped Status = "dropped"
)

// Outcome is the terminal result of a Request.
type Outcome struct {
	Status  Status
	Failure FailureKind
	// Err is the service error for failed requests, or the reason a result was dropped.
	Err error
	// Message is the appended assistant message, nil when nothing was appended.
	Message *conversations.Message
	// Conversation is the committed conversation after the append.
	Conversation *conversations.Conversation
}

// Request is a single in-flight reply for one conversation. It is cancelable
// and waitable.
type Request struct {
	ID             string
	ConversationID string
	Payload        transitions.Payload
	StartedAt      time.Time

	ctx  context.Context
	done chan struct{}

	mu       sync.Mutex
	cancel   context.CancelFunc
	canceled bool
	outcome  Outcome

	// eventsMu orders the thinking events of the request.
	eventsMu  sync.Mutex
	announced bool
}

func newRequest(ctx context.Context, id, conversationID string, payload transitions.Payload, now time.Time) *Request {
	runCtx, cancel := context.WithCancel(ctx)
	return &Request{
		ID:             id,
		ConversationID: conversationID,
		Payload:        payload,
		StartedAt:      now,
		ctx:            runCtx,
		done:           make(chan struct{}),
		cancel:         cancel,
	}
}

// Context is canceled when the request is paused.
func (r *Request) Context() context.Context {
	return r.ctx
}

// markCanceled flags the request so that a late result is discarded, then
// aborts the running call.
func (r *Request) markCanceled() {
	r.mu.Lock()
	r.canceled = true
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (r *Request) isCanceled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.canceled
}

// finish records the outcome once. It reports false if the request was
// already finished.
func (r *Request) finish(o Outcome) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	select {
	case <-r.done:
		return false
	default:
	}
	r.outcome = o
	close(r.done)
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	return true
}

// Wait blocks until the request reaches a terminal state.
func (r *Request) Wait() Outcome {
	if r == nil {
		return Outcome{Status: StatusDropped, Err: ErrRequestNil}
	}
	<-r.done
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcome
}

// Done is closed once the request reaches a terminal state.
func (r *Request) Done() <-chan struct{} {
	return r.done
}

func (r *Request) IsRunning() bool {
	if r == nil {
		return false
	}
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}
