package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/flexhook/flexhook/pkg/config"
	"github.com/flexhook/flexhook/pkg/configurator"
	"github.com/flexhook/flexhook/pkg/engine"
	"github.com/flexhook/flexhook/pkg/host"
	"github.com/flexhook/flexhook/pkg/stores"
	"github.com/flexhook/flexhook/pkg/telemetry"
)

// Flex is the plugin the CLI host loads. The engine reaches its
// configurator through the same plugin scan it uses inside a real host.
type Flex struct {
	configurator *configurator.FileConfigurator
}

// workspace is everything a command needs to drive the engine for one
// project.
type workspace struct {
	project *config.Project
	logger  zerolog.Logger
	out     io.Writer
	tel     *telemetry.Telemetry
	repo    *host.LocalRepository
	host    *host.LocalHost
	engine  *engine.Engine
	history *stores.SQLiteStore
}

func loadProject() (*config.Project, error) {
	if configPath != "" {
		return config.Load(configPath)
	}
	return config.Find(projectDir)
}

func loadRepository(p *config.Project) (*host.LocalRepository, error) {
	path := p.InstalledPath()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return host.NewLocalRepository(p.VendorPath()), nil
	}
	return host.LoadLocalRepository(path)
}

// projectOption adjusts the loaded project config for one command.
type projectOption func(*config.Project)

func openWorkspace(cmd *cobra.Command, opts ...projectOption) (*workspace, error) {
	ctx := cmd.Context()

	p, err := loadProject()
	if err != nil {
		return nil, err
	}
	for _, opt := range opts {
		opt(p)
	}

	// Telemetry owns exporters that need a shutdown, so it is created after
	// everything that can fail without it.
	repo, err := loadRepository(p)
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.NewTelemetry(&p.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	logger := tel.Logger.Zerolog()
	if verbose {
		logger = logger.Level(zerolog.DebugLevel)
	}

	out := cmd.OutOrStdout()
	h := host.NewLocalHost(repo, logger)
	h.AddPlugin(&Flex{
		configurator: configurator.NewFileConfigurator(p.Dir, logger,
			configurator.WithOverwrite(p.Overwrite),
			configurator.WithTargetDirs(p.TargetDirs),
			configurator.WithOutput(out),
		),
	})
	if verbose {
		configurator.ListenVerbose(h.Dispatcher(), logger, configurator.Decoration{
			Field:   p.Plugin.Field,
			Methods: []string{configurator.MethodInstall, configurator.MethodUnconfigure},
		})
	}

	ws := &workspace{
		project: p,
		logger:  logger,
		out:     out,
		tel:     tel,
		repo:    repo,
		host:    h,
	}

	engineOpts := engine.Options{
		LedgerPath: p.LedgerPath(),
		Locate: configurator.LocateOptions{
			PluginType:  p.Plugin.Type,
			PluginField: p.Plugin.Field,
		},
		FlushPolicy: engine.FlushPolicy(p.FlushPolicy),
		Logger:      logger,
		Output:      out,
		Metrics:     tel.Metrics,
		Tracer:      tel.Tracer,
	}

	if path := p.HistoryPath(); path != "" {
		store, err := openHistory(ctx, path)
		if err != nil {
			ws.Close(ctx)
			return nil, err
		}
		ws.history = store
		engineOpts.History = store
	}

	ws.engine = engine.New(engineOpts)
	if err := ws.engine.Activate(ctx, h); err != nil {
		ws.Close(ctx)
		return nil, err
	}

	return ws, nil
}

func openHistory(ctx context.Context, path string) (*stores.SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}
	store, err := stores.Open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	return store, nil
}

// Close releases the history database and flushes telemetry.
func (w *workspace) Close(ctx context.Context) {
	if w.history != nil {
		if err := w.history.Close(); err != nil {
			w.logger.Warn().Err(err).Msg("Failed to close history")
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := w.tel.Shutdown(shutdownCtx); err != nil {
		w.logger.Warn().Err(err).Msg("Failed to shut down telemetry")
	}
}

// findPackages looks up every argument in the local repository. Arguments
// take the form name or name:constraint. Missing packages are reported on
// the output and skipped.
func (w *workspace) findPackages(args []string) []host.PackageRef {
	var pkgs []host.PackageRef
	for _, arg := range args {
		name, constraint := splitPackageArg(arg)
		pkg, err := w.repo.Find(name, constraint)
		if err != nil {
			fmt.Fprintf(w.out, "Package %s was not found!\n", arg)
			continue
		}
		pkgs = append(pkgs, pkg)
	}
	return pkgs
}

func splitPackageArg(arg string) (name, constraint string) {
	name, constraint, _ = strings.Cut(arg, ":")
	if constraint == "" {
		constraint = "*"
	}
	return name, constraint
}
