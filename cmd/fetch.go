package cmd

import (
	u "net/url"
	"os"

	"github.com/spf13/cobra"
	"github.com/tanq16/stager/internal/output"
	"github.com/tanq16/stager/internal/routing"
	"github.com/tanq16/stager/internal/transfer"
)

func newFetchCmd() *cobra.Command {
	var route string

	cmd := &cobra.Command{
		Use:   "fetch [URL] [--route ROUTE]",
		Short: "Stream a file from a URL into the bucket",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			url := args[0]
			if parsed, err := u.Parse(url); err != nil || parsed.Host == "" {
				output.PrintError("Invalid URL format")
				os.Exit(1)
			}
			ctx := cmd.Context()
			svc := newService(ctx, transfer.LogReporter{})
			defer svc.Close()

			o, err := svc.Fetch(ctx, url, route)
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
		},
	}

	cmd.Flags().StringVarP(&route, "route", "r", routing.DefaultRoute, "Route deciding the destination prefix (eg. fec, irs)")
	return cmd
}
