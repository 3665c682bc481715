package host

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// ErrPackageNotFound is returned when a package is not in the repository.
var ErrPackageNotFound = errors.New("host: package not found")

// LocalRepository is the set of packages installed into a vendor directory,
// loaded from the installed-packages file the host maintains there.
type LocalRepository struct {
	path      string
	vendorDir string
	packages  []PackageRef
}

type installedFile struct {
	Packages []installedPackage `json:"packages"`
}

type installedPackage struct {
	Name        string                 `json:"name"`
	Version     string                 `json:"version"`
	Extra       map[string]interface{} `json:"extra,omitempty"`
	InstallPath string                 `json:"install-path,omitempty"`
}

// LoadLocalRepository reads the installed-packages file at path. Both the
// {"packages": [...]} form and a bare array are accepted. A missing file
// yields an empty repository.
func LoadLocalRepository(path string) (*LocalRepository, error) {
	repo := &LocalRepository{
		path:      path,
		vendorDir: filepath.Dir(path),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return repo, nil
		}
		return nil, fmt.Errorf("failed to read installed packages: %w", err)
	}

	var entries []installedPackage
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("failed to parse installed packages %s: %w", path, err)
		}
	} else {
		var file installedFile
		if err := json.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse installed packages %s: %w", path, err)
		}
		entries = file.Packages
	}

	for _, e := range entries {
		if e.Name == "" {
			continue
		}
		installPath := e.InstallPath
		if installPath == "" {
			installPath = filepath.Join(repo.vendorDir, filepath.FromSlash(e.Name))
		} else if !filepath.IsAbs(installPath) {
			installPath = filepath.Join(repo.vendorDir, filepath.FromSlash(installPath))
		}
		repo.packages = append(repo.packages, PackageRef{
			Name:        e.Name,
			Version:     e.Version,
			Extra:       e.Extra,
			InstallPath: installPath,
		})
	}

	return repo, nil
}

// NewLocalRepository builds an in-memory repository rooted at vendorDir.
func NewLocalRepository(vendorDir string, packages ...PackageRef) *LocalRepository {
	repo := &LocalRepository{vendorDir: vendorDir}
	for _, p := range packages {
		if p.InstallPath == "" {
			p.InstallPath = filepath.Join(vendorDir, filepath.FromSlash(p.Name))
		}
		repo.packages = append(repo.packages, p)
	}
	return repo
}

// Path returns the installed-packages file the repository was loaded from.
func (r *LocalRepository) Path() string {
	return r.path
}

// VendorDir returns the directory packages are installed under.
func (r *LocalRepository) VendorDir() string {
	return r.vendorDir
}

// Packages returns all installed packages in file order.
func (r *LocalRepository) Packages() []PackageRef {
	out := make([]PackageRef, len(r.packages))
	copy(out, r.packages)
	return out
}

// Find returns the first package named name whose version satisfies
// constraint. An empty constraint or "*" matches any version. Versions or
// constraints that are not semver are compared as plain strings.
func (r *LocalRepository) Find(name, constraint string) (PackageRef, error) {
	name = strings.ToLower(name)
	for _, p := range r.packages {
		if strings.ToLower(p.Name) != name {
			continue
		}
		if versionMatches(p.Version, constraint) {
			return p, nil
		}
	}
	if constraint == "" || constraint == "*" {
		return PackageRef{}, fmt.Errorf("%w: %s", ErrPackageNotFound, name)
	}
	return PackageRef{}, fmt.Errorf("%w: %s:%s", ErrPackageNotFound, name, constraint)
}

func versionMatches(version, constraint string) bool {
	if constraint == "" || constraint == "*" {
		return true
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return version == constraint
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return version == constraint
	}
	return c.Check(v)
}
