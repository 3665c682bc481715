package host

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/flexhook/flexhook/pkg/events"
)

// LocalHost is a minimal Host backed by a LocalRepository. It lets the CLI
// and tests replay a package manager run: one event per package followed by
// the end-of-run event.
type LocalHost struct {
	mu         sync.RWMutex
	repo       *LocalRepository
	dispatcher *events.Dispatcher
	plugins    []interface{}
	logger     zerolog.Logger
}

// NewLocalHost creates a host over repo with a fresh dispatcher.
func NewLocalHost(repo *LocalRepository, logger zerolog.Logger) *LocalHost {
	return &LocalHost{
		repo:       repo,
		dispatcher: events.NewDispatcher(),
		logger:     logger.With().Str("component", "host").Logger(),
	}
}

// Repository returns the installed-package repository.
func (h *LocalHost) Repository() *LocalRepository {
	return h.repo
}

// InstallPath implements Host.
func (h *LocalHost) InstallPath(pkg PackageRef) string {
	if pkg.InstallPath != "" {
		return pkg.InstallPath
	}
	if found, err := h.repo.Find(pkg.Name, pkg.Version); err == nil {
		return found.InstallPath
	}
	return filepath.Join(h.repo.VendorDir(), filepath.FromSlash(pkg.Name))
}

// Plugins implements Host.
func (h *LocalHost) Plugins() []interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]interface{}, len(h.plugins))
	copy(out, h.plugins)
	return out
}

// AddPlugin registers an activated plugin instance.
func (h *LocalHost) AddPlugin(plugin interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.plugins = append(h.plugins, plugin)
}

// Dispatcher implements Host.
func (h *LocalHost) Dispatcher() *events.Dispatcher {
	return h.dispatcher
}

// Run replays a host run of the given kind over pkgs. Installs end with
// post-install-cmd; uninstalls and updates end with post-update-cmd.
func (h *LocalHost) Run(ctx context.Context, kind OperationKind, pkgs []PackageRef) error {
	var perPackage, batch, command string
	switch kind {
	case OperationInstall:
		perPackage, batch, command = EventPostPackageInstall, EventPostInstallCmd, "install"
	case OperationUninstall:
		perPackage, batch, command = EventPrePackageUninstall, EventPostUpdateCmd, "remove"
	case OperationUpdate:
		perPackage, batch, command = EventPostPackageUpdate, EventPostUpdateCmd, "update"
	default:
		return fmt.Errorf("unsupported operation kind: %s", kind)
	}

	h.logger.Debug().
		Str("operation", string(kind)).
		Int("packages", len(pkgs)).
		Msg("Starting host run")

	for _, pkg := range pkgs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if pkg.InstallPath == "" {
			pkg.InstallPath = h.InstallPath(pkg)
		}
		payload := PackageEvent{Operation: kind, Package: pkg}
		if kind == OperationUpdate {
			initial := pkg
			payload.Initial = &initial
		}
		if err := h.dispatcher.Emit(ctx, perPackage, payload, nil); err != nil {
			return fmt.Errorf("failed to dispatch %s for %s: %w", perPackage, pkg.Name, err)
		}
	}

	if err := h.dispatcher.Emit(ctx, batch, BatchEvent{Command: command, Packages: len(pkgs)}, nil); err != nil {
		return fmt.Errorf("failed to dispatch %s: %w", batch, err)
	}

	return nil
}
