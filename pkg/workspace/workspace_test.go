package workspace

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-go-golems/parley/pkg/conversations"
	"github.com/go-go-golems/parley/pkg/helpers"
	"github.com/go-go-golems/parley/pkg/ids"
	"github.com/go-go-golems/parley/pkg/replysync"
	"github.com/go-go-golems/parley/pkg/transitions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingService struct {
	calls atomic.Int32
	reply string
}

func (s *countingService) Reply(ctx context.Context, payload transitions.Payload) (string, error) {
	s.calls.Add(1)
	return s.reply, nil
}

func newWorkspace(t *testing.T, svc replysync.ReplyService) *Workspace {
	t.Helper()
	gen := ids.NewCounter(0)
	store := conversations.NewStore(conversations.WithIDGenerator(gen))
	ctrl := replysync.NewController(store, svc, replysync.WithFailureDelay(time.Millisecond))
	t.Cleanup(func() {
		_ = ctrl.Close()
	})
	return New(store, transitions.NewEngine(gen, nil), ctrl)
}

func TestSend_WithoutSelectionCreatesOneConversation(t *testing.T) {
	svc := &countingService{reply: "hello"}
	w := newWorkspace(t, svc)

	req, err := w.Send(context.Background(), "hi")
	require.NoError(t, err)
	require.Equal(t, replysync.StatusReplied, req.Wait().Status)

	list := w.Store().List()
	require.Len(t, list, 1)
	c := list[0]
	assert.Equal(t, conversations.DefaultTitle, c.Title)
	assert.Equal(t, c.ID, w.SelectedID())
	require.Len(t, c.Messages, 2)
	assert.Equal(t, "hi", c.Messages[0].Content)
	assert.Equal(t, int32(1), svc.calls.Load())

	req, err = w.Send(context.Background(), "again")
	require.NoError(t, err)
	req.Wait()
	assert.Equal(t, 1, w.Store().Len())
	assert.Equal(t, int32(2), svc.calls.Load())
}

func TestSend_BlankCreatesNothing(t *testing.T) {
	w := newWorkspace(t, &countingService{reply: "x"})
	_, err := w.Send(context.Background(), "   ")
	require.ErrorIs(t, err, conversations.ErrEmptyInput)
	assert.Equal(t, 0, w.Store().Len())
}

func TestEnsureConversation_Idempotent(t *testing.T) {
	w := newWorkspace(t, &countingService{reply: "x"})

	var wg sync.WaitGroup
	got := make([]string, 10)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := w.EnsureConversation()
			assert.NoError(t, err)
			got[i] = c.ID
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, w.Store().Len())
	for _, id := range got {
		assert.Equal(t, got[0], id)
	}
}

func TestEditAndResendOnSelection(t *testing.T) {
	w := newWorkspace(t, &countingService{reply: "answer"})

	_, err := w.Edit(context.Background(), "msg_1", "x")
	require.ErrorIs(t, err, ErrNoSelection)

	req, err := w.Send(context.Background(), "hi")
	require.NoError(t, err)
	req.Wait()
	c, _ := w.Selected()
	userMsg, ok := c.LastUserMessage()
	require.True(t, ok)

	edited, err := w.Edit(context.Background(), userMsg.ID, "hi there")
	require.NoError(t, err)
	assert.Len(t, edited.Messages, 2)
	assert.True(t, edited.Messages[0].Edited())

	req, err = w.Resend(context.Background(), userMsg.ID, helpers.OptionalString("hello"))
	require.NoError(t, err)
	req.Wait()
	c, _ = w.Selected()
	require.Len(t, c.Messages, 2)
	assert.Equal(t, "hello", c.Messages[0].Content)
	assert.Equal(t, "answer", c.Messages[1].Content)
}

func TestPauseAndThinking(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	w := newWorkspace(t, replysync.ReplyServiceFunc(func(ctx context.Context, payload transitions.Payload) (string, error) {
		started <- struct{}{}
		select {
		case <-release:
		case <-ctx.Done():
		}
		return "late", nil
	}))

	require.ErrorIs(t, w.Pause(), ErrNoSelection)

	req, err := w.Send(context.Background(), "hi")
	require.NoError(t, err)
	<-started
	assert.True(t, w.IsThinking())
	assert.True(t, w.Busy())

	_, err = w.Send(context.Background(), "hi again")
	require.ErrorIs(t, err, replysync.ErrRequestPending)

	require.NoError(t, w.Pause())
	assert.False(t, w.IsThinking())
	assert.Equal(t, replysync.StatusCanceled, req.Wait().Status)
	close(release)

	c, _ := w.Selected()
	assert.Len(t, c.Messages, 1)
}

func TestLoginGate(t *testing.T) {
	w := newWorkspace(t, &countingService{reply: "x"})
	assert.False(t, w.LoggedIn())

	c, err := w.Login()
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, c.ID, w.SelectedID())

	w.Logout()
	assert.False(t, w.LoggedIn())
	c, err = w.Login()
	require.NoError(t, err)
	assert.Nil(t, c, "no auto-create while a conversation exists")
	assert.Equal(t, 1, w.Store().Len())
}

func TestDeleteMovesSelection(t *testing.T) {
	w := newWorkspace(t, &countingService{reply: "x"})
	a, err := w.NewChat()
	require.NoError(t, err)
	b, err := w.NewChat()
	require.NoError(t, err)
	assert.Equal(t, b.ID, w.SelectedID())

	require.NoError(t, w.Delete(b.ID))
	assert.Equal(t, a.ID, w.SelectedID())
	require.NoError(t, w.Delete(a.ID))
	assert.Equal(t, "", w.SelectedID())
	_, ok := w.Selected()
	assert.False(t, ok)

	require.ErrorIs(t, w.Delete("chat_404"), conversations.ErrConversationNotFound)
	require.ErrorIs(t, w.Select("chat_404"), conversations.ErrConversationNotFound)
}

func TestResetAndRenameSelected(t *testing.T) {
	w := newWorkspace(t, &countingService{reply: "x"})

	c, err := w.ResetSelected()
	require.NoError(t, err)
	assert.Nil(t, c)

	req, err := w.Send(context.Background(), "hi")
	require.NoError(t, err)
	req.Wait()

	renamed, err := w.RenameSelected("Plans")
	require.NoError(t, err)
	assert.Equal(t, "Plans", renamed.Title)

	reset, err := w.ResetSelected()
	require.NoError(t, err)
	assert.Empty(t, reset.Messages)
	assert.Equal(t, "Plans", reset.Title)
	assert.Equal(t, reset.ID, w.SelectedID())
}

func TestTemplatesAndExamples(t *testing.T) {
	svc := &countingService{reply: "x"}
	w := newWorkspace(t, svc)
	_, err := w.NewChat()
	require.NoError(t, err)
	_, err = w.RenameSelected("Roadmap")
	require.NoError(t, err)

	out, err := w.InsertTemplate("summarize")
	require.NoError(t, err)
	assert.Contains(t, out, `"Roadmap"`)

	_, err = w.InsertTemplate("nope")
	require.ErrorIs(t, err, ErrNoSuchPrompt)

	req, err := w.SendExample(context.Background(), 0)
	require.NoError(t, err)
	req.Wait()
	c, _ := w.Selected()
	assert.Equal(t, w.Templates().Examples[0], c.Messages[0].Content)

	_, err = w.SendExample(context.Background(), 99)
	require.ErrorIs(t, err, ErrNoSuchPrompt)
}

func TestSidebar(t *testing.T) {
	w := newWorkspace(t, &countingService{reply: "x"})
	a, err := w.NewChat()
	require.NoError(t, err)
	_, err = w.NewChat()
	require.NoError(t, err)
	_, err = w.TogglePin(a.ID)
	require.NoError(t, err)
	_, err = w.CreateFolder(conversations.DefaultFolder)
	require.NoError(t, err)

	sb := w.Sidebar("")
	require.Len(t, sb.Pinned, 1)
	assert.Equal(t, a.ID, sb.Pinned[0].ID)
	assert.Len(t, sb.Recent, 1)
	assert.Equal(t, 2, sb.FolderCounts[conversations.DefaultFolder])

	sb = w.Sidebar("nothing matches this")
	assert.Empty(t, sb.Pinned)
	assert.Empty(t, sb.Recent)
}
