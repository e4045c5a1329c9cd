package main

import (
	"github.com/go-go-golems/parley/pkg/replyserver"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newServeStubCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve-stub",
		Short: "Serve a stub /ask reply service that echoes the last message",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			delay, _ := cmd.Flags().GetDuration("delay")
			failStatus, _ := cmd.Flags().GetInt("fail-status")

			options := []replyserver.Option{replyserver.WithDelay(delay)}
			if failStatus != 0 {
				options = append(options, replyserver.WithFailure(failStatus))
			}
			log.Info().Str("addr", addr).Dur("delay", delay).Int("fail_status", failStatus).Msg("Serving stub reply service")
			return replyserver.New(options...).ListenAndServe(cmd.Context(), addr)
		},
	}
	cmd.Flags().String("addr", ":3000", "Listen address")
	cmd.Flags().Duration("delay", 0, "Delay every answer")
	cmd.Flags().Int("fail-status", 0, "Answer every request with this HTTP status")
	return cmd
}
