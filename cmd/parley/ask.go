package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/go-go-golems/parley/pkg/events"
	"github.com/go-go-golems/parley/pkg/helpers"
	"github.com/go-go-golems/parley/pkg/replysync"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newAskCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask <text>...",
		Short: "Send one message and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conversationID, _ := cmd.Flags().GetString("conversation")
			printEvents, _ := cmd.Flags().GetBool("print-events")
			return runAsk(cmd.Context(), strings.Join(args, " "), conversationID, printEvents)
		},
	}
	cmd.Flags().String("conversation", "", "Continue this conversation (needs --db)")
	cmd.Flags().Bool("print-events", false, "Print conversation events to stderr")
	return cmd
}

func runAsk(ctx context.Context, text string, conversationID string, printEvents bool) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}

	if !printEvents {
		a, err := newApp(ctx, s)
		if err != nil {
			return err
		}
		defer a.close()
		return ask(ctx, a, text, conversationID)
	}

	router, err := events.NewEventRouter(
		events.WithLogger(helpers.NewWatermill(log.Logger)),
		events.WithDumpWriter(os.Stderr),
	)
	if err != nil {
		return err
	}
	router.AddHandler("dump", events.TopicConversations, router.DumpRawEvents)

	a, err := newApp(ctx, s, withEventSink(router.Sink()))
	if err != nil {
		_ = router.Close()
		return err
	}
	defer a.close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return router.Run(ctx)
	})
	eg.Go(func() error {
		defer func() {
			_ = router.Close()
		}()
		<-router.Running()
		return ask(ctx, a, text, conversationID)
	})
	return eg.Wait()
}

func ask(ctx context.Context, a *app, text string, conversationID string) error {
	if conversationID != "" {
		if err := a.ws.Select(conversationID); err != nil {
			return err
		}
	} else if _, err := a.ws.NewChat(); err != nil {
		return err
	}

	req, err := a.ws.Send(ctx, text)
	if err != nil {
		return err
	}
	o := req.Wait()

	switch o.Status {
	case replysync.StatusReplied, replysync.StatusFailed:
		fmt.Println(o.Message.Content)
	}
	log.Debug().
		Str("conversation_id", req.ConversationID).
		Str("status", string(o.Status)).
		Msg("Ask finished")

	switch o.Status {
	case replysync.StatusReplied:
		return nil
	case replysync.StatusFailed:
		if o.Err != nil {
			return errors.Wrapf(o.Err, "reply failed (%s)", o.Failure)
		}
		return errors.Errorf("reply failed (%s)", o.Failure)
	default:
		return errors.Errorf("no reply: %s", o.Status)
	}
}
