package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/flexhook/flexhook/pkg/config"
	"github.com/flexhook/flexhook/pkg/recipe"
	"github.com/flexhook/flexhook/pkg/watch"
)

func newWatchCommand() *cobra.Command {
	var serveMetrics bool

	cmd := &cobra.Command{
		Use:   "watch <package[:constraint]>",
		Short: "Re-apply a recipe whenever its files change",
		Long: `Watch the recipe directory of one installed package and re-apply the
recipe after every change. Target files are overwritten.

The recipe is applied once at start when the ledger does not record it yet.
With --metrics the Prometheus endpoint from the project config is served
while watching.`,
		Example: `  # Iterate on a recipe while developing a package
  flexhook watch acme/widget

  # Also expose apply metrics
  flexhook watch acme/widget --metrics`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWorkspace(cmd, func(p *config.Project) { p.Overwrite = true })
			if err != nil {
				return err
			}
			defer ws.Close(cmd.Context())

			pkgs := ws.findPackages(args)
			if len(pkgs) == 0 {
				return fmt.Errorf("package %s is not installed", args[0])
			}
			pkg := pkgs[0]

			dir, ok := recipe.NewResolver(ws.host, ws.logger).RecipeDir(pkg)
			if !ok {
				return fmt.Errorf("recipe was not embedded into %s", pkg.Name)
			}

			reapply := func(ctx context.Context) error {
				r, err := ws.engine.Resolve(pkg, recipe.JobInstall)
				if err != nil {
					return err
				}
				if r == nil {
					return errors.New("recipe is not valid")
				}
				return ws.engine.Apply(ctx, r)
			}

			if !ws.engine.Ledger().Has(pkg.Name) {
				if err := reapply(cmd.Context()); err != nil {
					return err
				}
			}

			w, err := watch.New(dir, ws.project.WatchDebounce, ws.logger)
			if err != nil {
				return err
			}

			g, ctx := errgroup.WithContext(cmd.Context())
			if serveMetrics {
				g.Go(func() error { return ws.tel.Metrics.Serve(ctx) })
			}
			g.Go(func() error { return w.Run(ctx, reapply) })
			return g.Wait()
		},
	}

	cmd.Flags().BoolVar(&serveMetrics, "metrics", false, "serve Prometheus metrics while watching")

	return cmd
}
