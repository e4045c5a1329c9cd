package main

import (
	"context"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-go-golems/parley/pkg/events"
	"github.com/go-go-golems/parley/pkg/helpers"
	"github.com/go-go-golems/parley/pkg/ui"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

func newChatCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Open the interactive chat",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// the TUI owns the terminal, logs only go to --log-file
			err := InitLogger(&logConfig{
				Level:      viper.GetString("log-level"),
				LogFile:    viper.GetString("log-file"),
				LogFormat:  "text",
				WithCaller: viper.GetBool("with-caller"),
				FileOnly:   true,
			})
			if err != nil {
				return err
			}

			glamourStyle, _ := cmd.Flags().GetString("glamour-style")
			return runChat(cmd.Context(), glamourStyle)
		},
	}
	cmd.Flags().String("glamour-style", "auto", "Markdown style for replies (auto, dark, light, notty, ...)")
	return cmd
}

func runChat(ctx context.Context, glamourStyle string) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}

	router, err := events.NewEventRouter(events.WithLogger(helpers.NewWatermill(log.Logger)))
	if err != nil {
		return err
	}
	defer func() {
		if err := router.Close(); err != nil {
			log.Warn().Err(err).Msg("Could not close event router")
		}
	}()

	a, err := newApp(ctx, s, withEventSink(router.Sink()))
	if err != nil {
		return err
	}
	defer a.close()

	// the chat starts logged in
	if _, err := a.ws.Login(); err != nil {
		return err
	}
	if a.ws.SelectedID() == "" {
		if list := a.ws.Store().List(); len(list) > 0 {
			if err := a.ws.Select(list[0].ID); err != nil {
				return err
			}
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	forwarder := ui.NewForwarder()
	router.AddEventHandler("ui-forward", forwarder.HandleEvent)

	options := []tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}
	if !isatty.IsTerminal(os.Stdin.Fd()) {
		tty, err := ui.OpenTTY()
		if err != nil {
			return err
		}
		defer func() {
			_ = tty.Close()
		}()
		options = append(options, tea.WithInput(tty))
	}
	p := tea.NewProgram(ui.NewModel(ctx, a.ws, ui.WithGlamourStyle(glamourStyle)), options...)

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return router.Run(ctx)
	})
	eg.Go(func() error {
		<-router.Running()
		return forwarder.Run(ctx, p.Send)
	})
	eg.Go(func() error {
		defer cancel()
		if _, err := p.Run(); err != nil && err != tea.ErrProgramKilled {
			return err
		}
		return nil
	})

	return eg.Wait()
}
