package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/tanq16/stager/internal/output"
	"github.com/tanq16/stager/internal/transfer"
)

func newExtractCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract [OBJECT_PATH] [--concurrency N]",
		Short: "Expand a stored zip archive into one object per entry",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			ctx := cmd.Context()
			svc := newService(ctx, transfer.LogReporter{})
			defer svc.Close()

			// An empty bucket falls back to the configured or secret one.
			ref := transfer.ObjectRef{Bucket: cfg.Storage.Bucket, Path: args[0]}
			o, err := svc.Extract(ctx, ref)
			if o != nil {
				output.PrintOutcome(o)
			}
			if err != nil {
				if o == nil {
					output.PrintError(err.Error())
				}
				svc.Close()
				os.Exit(1)
			}
			if o.Kind == transfer.FilterSkip {
				output.PrintWarning("Object is not a " + cfg.Extract.Extension + " archive under " + cfg.Extract.Prefix)
			}
		},
	}

	cmd.Flags().Int("concurrency", 0, "Entry commits allowed in flight (default from config)")
	cmd.Flags().String("prefix", "", "Prefix archives must live under (default from config)")
	bind(v, "extract.commit_concurrency", cmd, "concurrency")
	bind(v, "extract.prefix", cmd, "prefix")
	return cmd
}
