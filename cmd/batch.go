package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/tanq16/stager/internal/output"
	"github.com/tanq16/stager/internal/scheduler"
	"github.com/tanq16/stager/internal/transfer"
)

func newBatchCmd() *cobra.Command {
	var year int

	cmd := &cobra.Command{
		Use:   "batch [YAML_FILE] [--workers N]",
		Short: "Fetch every URL listed in a YAML manifest",
		Long: `The manifest maps route names to URL lists, for example:

  fec:
    - https://www.fec.gov/files/bulk-downloads/2024/cm24.zip
  irs:
    - https://apps.irs.gov/pub/epostcard/990/xml/{year}/index_{year}.csv

{year} expands to the current year unless --year is given.`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			f, err := os.Open(args[0])
			if err != nil {
				output.PrintError(fmt.Sprintf("Error reading manifest: %v", err))
				os.Exit(1)
			}
			if year == 0 {
				year = time.Now().Year()
			}
			jobs, err := scheduler.ParseManifest(f, year)
			f.Close()
			if err != nil {
				output.PrintError(err.Error())
				os.Exit(1)
			}

			ctx := cmd.Context()
			rec := &transfer.Recorder{}
			svc := newService(ctx, transfer.Reporters{transfer.LogReporter{}, rec})
			defer svc.Close()

			output.PrintHeader(fmt.Sprintf("Fetching %d files with %d workers", len(jobs), cfg.Batch.Workers))
			results := scheduler.Run(ctx, jobs, cfg.Batch.Workers, svc)
			failed := 0
			for _, r := range results {
				if r.Outcome != nil {
					output.PrintOutcome(r.Outcome)
				} else if r.Err != nil {
					output.PrintError(fmt.Sprintf("%s %s: %v", output.StyleSymbols["fail"], r.Job.URL, r.Err))
				}
				if r.Err != nil {
					failed++
				}
			}
			fmt.Println()
			output.Summarize(rec.Outcomes()).Write(os.Stdout)
			if failed > 0 {
				output.PrintError(fmt.Sprintf("Encountered %d failed fetch(es)", failed))
				svc.Close()
				os.Exit(1)
			}
		},
	}

	cmd.Flags().IntP("workers", "w", 4, "Number of files to fetch in parallel")
	cmd.Flags().IntVar(&year, "year", 0, "Year substituted for {year} in manifest links")
	bind(v, "batch.workers", cmd, "workers")
	return cmd
}
