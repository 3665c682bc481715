package commands

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/flexhook/flexhook/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var (
		pkg       string
		batch     string
		limit     int
		olderThan time.Duration
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the recipe apply history",
		Long: `Show the recorded recipe applications, newest first.

Every attempt is recorded, successful or not, together with the batch it
belonged to. Use --prune to delete records older than a duration.`,
		Example: `  # Show the last 20 applications
  flexhook history --limit 20

  # Show everything recorded for one package
  flexhook history --package acme/widget

  # Drop records older than 30 days
  flexhook history --prune 720h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			p, err := loadProject()
			if err != nil {
				return err
			}
			path := p.HistoryPath()
			if path == "" {
				return errors.New("history is disabled in the project config")
			}

			store, err := openHistory(ctx, path)
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()

			if olderThan > 0 {
				n, err := store.Prune(ctx, time.Now().Add(-olderThan))
				if err != nil {
					return err
				}
				log.Debug().Int64("deleted", n).Dur("older_than", olderThan).Msg("Pruned history")
				fmt.Fprintf(out, "Deleted %d record(s)\n", n)
				return nil
			}

			records, err := store.ListHistory(ctx, stores.HistoryFilter{
				Package: pkg,
				BatchID: batch,
				Limit:   limit,
			})
			if err != nil {
				return err
			}

			if jsonOutput {
				return writeJSON(out, records)
			}

			if len(records) == 0 {
				fmt.Fprintln(out, "No recorded applications")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "APPLIED AT\tPACKAGE\tVERSION\tJOB\tSTATUS\tDURATION\tBATCH")
			for _, r := range records {
				status := r.Status
				if r.Error != "" {
					status += ": " + r.Error
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					r.AppliedAt.Local().Format(time.DateTime),
					r.Package, r.Version, r.Job, status,
					r.Duration.Round(time.Millisecond), r.BatchID)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVarP(&pkg, "package", "p", "", "only show records for this package")
	cmd.Flags().StringVar(&batch, "batch", "", "only show records for this batch ID")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum number of records (0 for all)")
	cmd.Flags().DurationVar(&olderThan, "prune", 0, "delete records older than this duration instead of listing")

	return cmd
}
