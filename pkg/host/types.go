// Package host models the boundary between flexhook and the package manager
// that drives it: package identities, operation kinds, the lifecycle events
// the manager emits, and the installed-package repository.
package host

import (
	"github.com/flexhook/flexhook/pkg/events"
)

// OperationKind is the kind of package operation reported by the host.
type OperationKind string

const (
	// OperationInstall indicates that a package was installed.
	OperationInstall OperationKind = "install"

	// OperationUninstall indicates that a package is about to be removed.
	OperationUninstall OperationKind = "uninstall"

	// OperationUpdate indicates that a package moved between versions.
	OperationUpdate OperationKind = "update"
)

// Lifecycle event names emitted on the host dispatcher.
const (
	EventPostPackageInstall  = "post-package-install"
	EventPrePackageUninstall = "pre-package-uninstall"
	EventPostPackageUpdate   = "post-package-update"
	EventPostInstallCmd      = "post-install-cmd"
	EventPostUpdateCmd       = "post-update-cmd"
)

// PackageRef identifies an installed package.
type PackageRef struct {
	// Name is the package name, for example "acme/widget".
	Name string `json:"name"`

	// Version is the installed version string. It is not required to be semver.
	Version string `json:"version"`

	// Extra holds the package's free-form metadata map.
	Extra map[string]interface{} `json:"extra,omitempty"`

	// InstallPath is the on-disk location of the package, if known.
	InstallPath string `json:"install-path,omitempty"`
}

// String returns "name:version".
func (p PackageRef) String() string {
	if p.Version == "" {
		return p.Name
	}
	return p.Name + ":" + p.Version
}

// ExtraString returns a string-valued extra entry.
func (p PackageRef) ExtraString(key string) (string, bool) {
	if p.Extra == nil {
		return "", false
	}
	v, ok := p.Extra[key].(string)
	return v, ok
}

// PackageEvent is the payload of per-package lifecycle events.
type PackageEvent struct {
	// Operation is the kind of operation being performed.
	Operation OperationKind `json:"operation"`

	// Package is the package the operation applies to. For updates this is
	// the target package.
	Package PackageRef `json:"package"`

	// Initial is the package being replaced by an update.
	Initial *PackageRef `json:"initial,omitempty"`
}

// BatchEvent is the payload of the end-of-run events.
type BatchEvent struct {
	// Command is the host command that finished ("install", "update", ...).
	Command string `json:"command"`

	// Packages is the number of per-package events emitted during the run.
	Packages int `json:"packages"`
}

// Host is the package manager surface flexhook depends on.
type Host interface {
	// InstallPath returns the directory the package is installed in.
	InstallPath(pkg PackageRef) string

	// Plugins returns the plugin instances the host has activated.
	Plugins() []interface{}

	// Dispatcher returns the host event bus.
	Dispatcher() *events.Dispatcher
}
