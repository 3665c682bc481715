package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/flexhook/flexhook/pkg/ledger"
	"github.com/flexhook/flexhook/pkg/recipe"
)

type packageStatus struct {
	Name           string `json:"name"`
	Version        string `json:"version"`
	Applied        bool   `json:"applied"`
	AppliedVersion string `json:"applied_version,omitempty"`
}

func newStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show which recipes the ledger records",
		Long: `List every installed package that embeds a recipe and whether the
ledger records it as applied. Ledger entries for packages that are no longer
installed are listed as orphaned.`,
		Example: `  flexhook status
  flexhook status --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProject()
			if err != nil {
				return err
			}
			repo, err := loadRepository(p)
			if err != nil {
				return err
			}
			l, err := ledger.Open(p.LedgerPath())
			if err != nil {
				return err
			}

			var statuses []packageStatus
			installed := make(map[string]bool)
			for _, pkg := range repo.Packages() {
				installed[pkg.Name] = true
				if _, ok := pkg.ExtraString(recipe.ExtraRecipeDir); !ok {
					continue
				}
				st := packageStatus{Name: pkg.Name, Version: pkg.Version}
				st.AppliedVersion, st.Applied = l.Version(pkg.Name)
				statuses = append(statuses, st)
			}

			var orphaned []ledger.Entry
			for _, e := range l.Entries() {
				if !installed[e.Name] {
					orphaned = append(orphaned, e)
				}
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return writeJSON(out, map[string]interface{}{
					"ledger":   l.Path(),
					"packages": statuses,
					"orphaned": orphaned,
				})
			}
			return printStatus(out, l.Path(), statuses, orphaned)
		},
	}

	return cmd
}

func printStatus(out io.Writer, path string, statuses []packageStatus, orphaned []ledger.Entry) error {
	fmt.Fprintf(out, "Ledger: %s\n\n", path)
	if len(statuses) == 0 {
		fmt.Fprintln(out, "No installed package embeds a recipe")
	} else {
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "PACKAGE\tVERSION\tSTATUS")
		for _, st := range statuses {
			status := "pending"
			switch {
			case st.Applied && st.AppliedVersion != st.Version:
				status = "applied (" + st.AppliedVersion + ")"
			case st.Applied:
				status = "applied"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", st.Name, st.Version, status)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if len(orphaned) > 0 {
		fmt.Fprintln(out, "\nOrphaned ledger entries:")
		for _, e := range orphaned {
			fmt.Fprintf(out, "  %s (%s)\n", e.Name, e.Version)
		}
	}
	return nil
}

func writeJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
