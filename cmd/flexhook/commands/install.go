package commands

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/flexhook/flexhook/pkg/host"
)

func newInstallCommand() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "install [package[:constraint]]...",
		Short: "Replay an install run for installed packages",
		Long: `Replay the host's install lifecycle for the named packages: one
post-package-install event per package followed by post-install-cmd.

Recipes that the ledger already records are skipped, so running install
twice is a no-op the second time.`,
		Example: `  # Configure every installed package that carries a recipe
  flexhook install --all

  # Configure selected packages
  flexhook install acme/widget acme/gadget`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 {
				return errors.New("no packages given (use --all to install every package)")
			}
			return runHost(cmd, host.OperationInstall, args, all)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "install every package in the repository")

	return cmd
}

func newRemoveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <package[:constraint]>...",
		Short: "Replay an uninstall run for installed packages",
		Long: `Replay the host's uninstall lifecycle for the named packages: one
pre-package-uninstall event per package followed by post-update-cmd.

Only packages the ledger records are unconfigured.`,
		Example: `  # Unconfigure a package before deleting it
  flexhook remove acme/widget`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHost(cmd, host.OperationUninstall, args, false)
		},
	}

	return cmd
}

func runHost(cmd *cobra.Command, kind host.OperationKind, args []string, all bool) error {
	ws, err := openWorkspace(cmd)
	if err != nil {
		return err
	}
	defer ws.Close(cmd.Context())

	pkgs := ws.repo.Packages()
	if !all {
		pkgs = ws.findPackages(args)
	}
	if len(pkgs) == 0 {
		fmt.Fprintln(ws.out, "Nothing to do")
		return nil
	}

	log.Debug().
		Str("operation", string(kind)).
		Int("packages", len(pkgs)).
		Msg("Replaying host run")

	return ws.host.Run(cmd.Context(), kind, pkgs)
}
