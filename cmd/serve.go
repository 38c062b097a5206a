package cmd

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tanq16/stager/internal/transfer"
	"github.com/tanq16/stager/internal/trigger"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve [--addr ADDR]",
		Short: "Serve push trigger endpoints for fetches and extractions",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			ctx := cmd.Context()
			svc := newService(ctx, transfer.LogReporter{})
			defer svc.Close()
			if err := trigger.ListenAndServe(ctx, cfg.Serve.Addr, svc); err != nil {
				log.Error().Str("op", "cmd/serve").Err(err).Msg("server stopped")
				svc.Close()
				os.Exit(1)
			}
		},
	}

	cmd.Flags().String("addr", ":8080", "Listen address")
	bind(v, "serve.addr", cmd, "addr")
	return cmd
}
