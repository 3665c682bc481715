package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/flexhook/flexhook/pkg/recipe"
)

func newApplyCommand() *cobra.Command {
	var unconfigure bool

	cmd := &cobra.Command{
		Use:   "apply <package[:constraint]>...",
		Short: "Apply the recipes of installed packages",
		Long: `Apply the recipe embedded in each named package, whether or not the
ledger already records it.

Each package is looked up in the installed repository. Packages without a
recipe directory, or whose recipe has no manifest, are reported and skipped.
The ledger is written after every applied recipe.`,
		Example: `  # Re-apply the recipe of a single package
  flexhook apply acme/widget

  # Apply a specific version
  flexhook apply "acme/widget:^1.2"

  # Revert the files a recipe installed
  flexhook apply --unconfigure acme/widget`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWorkspace(cmd)
			if err != nil {
				return err
			}
			defer ws.Close(cmd.Context())

			job := recipe.JobInstall
			if unconfigure {
				job = recipe.JobUninstall
			}

			for _, pkg := range ws.findPackages(args) {
				fmt.Fprintf(ws.out, "%s:\n", pkg.Name)

				if _, ok := pkg.ExtraString(recipe.ExtraRecipeDir); !ok {
					fmt.Fprintf(ws.out, "Recipe was not embedded into %s\n", pkg.Name)
					continue
				}

				r, err := ws.engine.Resolve(pkg, job)
				if err != nil {
					return err
				}
				if r == nil {
					fmt.Fprintln(ws.out, "  - Recipe is not valid")
					continue
				}

				fmt.Fprintln(ws.out, "  - Applying recipe")
				if err := ws.engine.Apply(cmd.Context(), r); err != nil {
					return err
				}

				log.Debug().
					Str("package", pkg.Name).
					Str("version", pkg.Version).
					Str("job", string(job)).
					Msg("Recipe applied")
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&unconfigure, "unconfigure", false, "run the uninstall job instead of install")

	return cmd
}
