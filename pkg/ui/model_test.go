package ui

import (
	"context"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-go-golems/parley/pkg/conversations"
	"github.com/go-go-golems/parley/pkg/ids"
	"github.com/go-go-golems/parley/pkg/replysync"
	"github.com/go-go-golems/parley/pkg/transitions"
	"github.com/go-go-golems/parley/pkg/workspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoService() replysync.ReplyService {
	return replysync.ReplyServiceFunc(func(ctx context.Context, payload transitions.Payload) (string, error) {
		last := payload.Messages[len(payload.Messages)-1]
		return "echo: " + last.Content, nil
	})
}

func newTestModel(t *testing.T, svc replysync.ReplyService) (Model, *workspace.Workspace) {
	t.Helper()
	gen := ids.NewCounter(0)
	store := conversations.NewStore(conversations.WithIDGenerator(gen))
	ctrl := replysync.NewController(store, svc, replysync.WithFailureDelay(time.Millisecond))
	t.Cleanup(func() {
		_ = ctrl.Close()
	})
	ws := workspace.New(store, transitions.NewEngine(gen, nil), ctrl)

	m := NewModel(context.Background(), ws, WithGlamourStyle("notty"))
	m = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})
	return m, ws
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	ret, ok := next.(Model)
	require.True(t, ok)
	return ret
}

func updateCmd(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	ret, ok := next.(Model)
	require.True(t, ok)
	return ret, cmd
}

func typeText(t *testing.T, m Model, s string) Model {
	t.Helper()
	for _, r := range s {
		m = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
	return m
}

func keyType(k tea.KeyType) tea.KeyMsg {
	return tea.KeyMsg{Type: k}
}

func runFinished(t *testing.T, m Model, cmd tea.Cmd) Model {
	t.Helper()
	require.NotNil(t, cmd)
	msg := cmd()
	_, ok := msg.(ReplyFinishedMsg)
	require.True(t, ok, "expected ReplyFinishedMsg, got %T", msg)
	return update(t, m, msg)
}

func TestSubmitCreatesConversationAndShowsReply(t *testing.T) {
	m, ws := newTestModel(t, echoService())

	m = typeText(t, m, "hi")
	m, cmd := updateCmd(t, m, keyType(tea.KeyTab))
	m = runFinished(t, m, cmd)

	require.Equal(t, 1, ws.Store().Len())
	c, ok := ws.Selected()
	require.True(t, ok)
	require.Len(t, c.Messages, 2)
	assert.Equal(t, "echo: hi", c.Messages[1].Content)

	view := m.View()
	assert.Contains(t, view, "echo: hi")
	assert.Contains(t, view, conversations.DefaultTitle)
	assert.Equal(t, "", m.textArea.Value())
}

func TestBlankSubmitIsIgnored(t *testing.T) {
	m, ws := newTestModel(t, echoService())

	m, cmd := updateCmd(t, m, keyType(tea.KeyTab))
	assert.Nil(t, cmd)
	assert.NoError(t, m.Err())
	assert.Equal(t, 0, ws.Store().Len())
}

func TestSidebarPinAndSearch(t *testing.T) {
	m, ws := newTestModel(t, echoService())
	alpha, err := ws.NewChat()
	require.NoError(t, err)
	_, err = ws.RenameSelected("alpha")
	require.NoError(t, err)
	_, err = ws.NewChat()
	require.NoError(t, err)
	_, err = ws.RenameSelected("beta")
	require.NoError(t, err)
	m = update(t, m, RefreshMsg{})

	m = update(t, m, keyType(tea.KeyEsc))
	require.Equal(t, StateSidebar, m.State())

	// cursor starts on the newest conversation
	m = update(t, m, keyType(tea.KeyDown))
	m = typeText(t, m, "p")
	c, ok := ws.Store().Get(alpha.ID)
	require.True(t, ok)
	assert.True(t, c.Pinned)

	m = typeText(t, m, "/")
	require.Equal(t, StateSearch, m.State())
	m = typeText(t, m, "bet")
	assert.Equal(t, "bet", m.Query())
	m = update(t, m, keyType(tea.KeyEnter))
	require.Equal(t, StateSidebar, m.State())
	require.Len(t, m.items, 1)
	assert.Equal(t, "beta", m.items[0].Title)

	m = typeText(t, m, "/")
	m = update(t, m, keyType(tea.KeyEsc))
	assert.Equal(t, "", m.Query())
	assert.Len(t, m.items, 2)
	assert.Equal(t, alpha.ID, m.items[0].ID, "pinned first")

	m = update(t, m, keyType(tea.KeyEnter))
	assert.Equal(t, StateUserInput, m.State())
	assert.Equal(t, alpha.ID, ws.SelectedID())
}

func TestEditAndResendLastMessage(t *testing.T) {
	m, ws := newTestModel(t, echoService())
	req, err := ws.Send(context.Background(), "hi")
	require.NoError(t, err)
	req.Wait()
	m = update(t, m, RefreshMsg{})

	m = update(t, m, keyType(tea.KeyCtrlE))
	require.Equal(t, StateEditing, m.State())
	assert.Equal(t, "hi", m.textArea.Value())

	m = typeText(t, m, " there")
	m = update(t, m, keyType(tea.KeyTab))
	assert.Equal(t, StateUserInput, m.State())
	c, _ := ws.Selected()
	require.Len(t, c.Messages, 2)
	assert.Equal(t, "hi there", c.Messages[0].Content)
	assert.True(t, c.Messages[0].Edited())
	assert.Equal(t, "echo: hi", c.Messages[1].Content)

	m, cmd := updateCmd(t, m, keyType(tea.KeyCtrlR))
	m = runFinished(t, m, cmd)
	c, _ = ws.Selected()
	require.Len(t, c.Messages, 2)
	assert.Equal(t, "echo: hi there", c.Messages[1].Content)
	assert.Contains(t, m.View(), "(edited)")
}

func TestEditCancelRestoresDraft(t *testing.T) {
	m, ws := newTestModel(t, echoService())
	req, err := ws.Send(context.Background(), "hi")
	require.NoError(t, err)
	req.Wait()

	m = typeText(t, m, "draft")
	m = update(t, m, keyType(tea.KeyCtrlE))
	require.Equal(t, StateEditing, m.State())
	m = update(t, m, keyType(tea.KeyEsc))
	assert.Equal(t, StateUserInput, m.State())
	assert.Equal(t, "draft", m.textArea.Value())
}

func TestPauseKeyStopsThinking(t *testing.T) {
	m, ws := newTestModel(t, replysync.ReplyServiceFunc(func(ctx context.Context, payload transitions.Payload) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}))

	m = typeText(t, m, "hi")
	m, cmd := updateCmd(t, m, keyType(tea.KeyTab))
	require.NotNil(t, cmd)
	require.True(t, ws.IsThinking())
	assert.Contains(t, m.View(), "Thinking...")

	m = update(t, m, keyType(tea.KeyCtrlX))
	assert.False(t, ws.IsThinking())

	msg := cmd()
	finished, ok := msg.(ReplyFinishedMsg)
	require.True(t, ok)
	assert.Equal(t, replysync.StatusCanceled, finished.Outcome.Status)
	m = update(t, m, msg)
	assert.NotContains(t, m.View(), "Thinking...")

	c, _ := ws.Selected()
	assert.Len(t, c.Messages, 1)
}

func TestFailedReplyShowsNotice(t *testing.T) {
	m, ws := newTestModel(t, replysync.ReplyServiceFunc(func(ctx context.Context, payload transitions.Payload) (string, error) {
		return "", &replysync.ServiceError{StatusCode: 500}
	}))

	m = typeText(t, m, "hi")
	m, cmd := updateCmd(t, m, keyType(tea.KeyTab))
	m = runFinished(t, m, cmd)

	c, _ := ws.Selected()
	require.Len(t, c.Messages, 2)
	assert.Equal(t, replysync.DefaultFallbackMessage, c.Messages[1].Content)
	assert.Contains(t, m.View(), "reply failed: service-error")
}

func TestRenameFromSidebar(t *testing.T) {
	m, ws := newTestModel(t, echoService())
	_, err := ws.NewChat()
	require.NoError(t, err)

	m = update(t, m, keyType(tea.KeyEsc))
	m = typeText(t, m, "r")
	require.Equal(t, StateRename, m.State())
	assert.Equal(t, conversations.DefaultTitle, m.input.Value())

	m = update(t, m, keyType(tea.KeyCtrlU))
	m = typeText(t, m, "Plans")
	m = update(t, m, keyType(tea.KeyEnter))
	assert.Equal(t, StateSidebar, m.State())

	c, _ := ws.Selected()
	assert.Equal(t, "Plans", c.Title)
}

func TestInsertTemplateAndExamples(t *testing.T) {
	m, ws := newTestModel(t, echoService())

	m = update(t, m, keyType(tea.KeyCtrlT))
	assert.True(t, strings.HasPrefix(m.textArea.Value(), "## Bug report"))
	assert.Contains(t, m.View(), ws.Templates().Examples[0])

	m = update(t, m, keyType(tea.KeyEsc))
	m, cmd := updateCmd(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("2")})
	m = runFinished(t, m, cmd)
	c, ok := ws.Selected()
	require.True(t, ok)
	assert.Equal(t, ws.Templates().Examples[1], c.Messages[0].Content)
	assert.Contains(t, m.View(), "echo: "+ws.Templates().Examples[1])
}

func TestDeleteAndResetFromKeys(t *testing.T) {
	m, ws := newTestModel(t, echoService())
	req, err := ws.Send(context.Background(), "hi")
	require.NoError(t, err)
	req.Wait()
	m = update(t, m, RefreshMsg{})

	m = update(t, m, keyType(tea.KeyCtrlL))
	c, _ := ws.Selected()
	assert.Empty(t, c.Messages)

	m = update(t, m, keyType(tea.KeyEsc))
	m = typeText(t, m, "d")
	assert.Equal(t, 0, ws.Store().Len())
	assert.Empty(t, m.items)
	assert.Contains(t, m.View(), conversations.PreviewPlaceholder)
}
