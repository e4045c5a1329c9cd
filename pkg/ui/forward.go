package ui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-go-golems/parley/pkg/events"
	"github.com/rs/zerolog/log"
)

// Forwarder turns conversation events from the router into RefreshMsg for a
// running program. Refreshes are coalesced: the router handler never blocks,
// since events are published while the store notifies its listeners.
type Forwarder struct {
	refresh chan struct{}
}

func NewForwarder() *Forwarder {
	return &Forwarder{refresh: make(chan struct{}, 1)}
}

// HandleEvent is registered with EventRouter.AddEventHandler.
func (f *Forwarder) HandleEvent(e events.Event) error {
	log.Trace().Str("type", string(e.Type())).Object("meta", e.Metadata()).Msg("Forwarding event to UI")
	select {
	case f.refresh <- struct{}{}:
	default:
	}
	return nil
}

// Run sends a RefreshMsg for every batch of events until ctx is done.
func (f *Forwarder) Run(ctx context.Context, send func(tea.Msg)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-f.refresh:
			send(RefreshMsg{})
		}
	}
}
