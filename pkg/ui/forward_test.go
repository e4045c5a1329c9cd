package ui

import (
	"context"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-go-golems/parley/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForwarder_CoalescesWithoutBlocking(t *testing.T) {
	f := NewForwarder()
	for i := 0; i < 5; i++ {
		require.NoError(t, f.HandleEvent(events.NewThinkingStartedEvent("chat_1", "req_1")))
	}

	got := make(chan tea.Msg, 10)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- f.Run(ctx, func(msg tea.Msg) { got <- msg })
	}()

	select {
	case msg := <-got:
		assert.IsType(t, RefreshMsg{}, msg)
	case <-time.After(time.Second):
		t.Fatal("no refresh delivered")
	}

	cancel()
	require.NoError(t, <-done)
	assert.Len(t, got, 0)
}
