// Package recipe models the configuration bundle a package embeds and
// resolves it from the package's install directory.
//
// A package opts in through its "recipe-dir" extra. The directory holds a
// manifest whose copy-from-recipe mapping names the files and directories
// that make up the recipe.
package recipe

import (
	"fmt"

	"github.com/flexhook/flexhook/pkg/host"
)

// ExtraRecipeDir is the package extra key naming the embedded recipe directory.
const ExtraRecipeDir = "recipe-dir"

// Job is the transition a recipe describes.
type Job string

const (
	// JobInstall applies the recipe.
	JobInstall Job = "install"

	// JobUninstall reverts the recipe.
	JobUninstall Job = "uninstall"
)

// JobFor maps a host operation to a recipe job. Updates have no job.
func JobFor(op host.OperationKind) (Job, bool) {
	switch op {
	case host.OperationInstall:
		return JobInstall, true
	case host.OperationUninstall:
		return JobUninstall, true
	default:
		return "", false
	}
}

// FileEntry is one file materialized from the recipe directory.
type FileEntry struct {
	// Path is the forward-slash key of the file.
	Path string `json:"path"`

	// Contents is the raw file content.
	Contents []byte `json:"contents"`

	// Executable is always false for embedded recipes.
	Executable bool `json:"executable"`
}

// CopyRule is one source/destination pair of the manifest's
// copy-from-recipe mapping, in manifest order.
type CopyRule struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

// Manifest is the parsed recipe manifest.
type Manifest struct {
	// CopyFromRecipe lists the copy rules in the order they were declared.
	CopyFromRecipe []CopyRule `json:"copy-from-recipe"`

	// Raw is the whole manifest mapping.
	Raw map[string]interface{} `json:"-"`
}

// Recipe is an immutable bundle of files plus a job for one package.
type Recipe struct {
	pkg      host.PackageRef
	job      Job
	manifest Manifest
	files    []FileEntry
}

// New builds a recipe. The slices and maps are copied.
func New(pkg host.PackageRef, job Job, manifest Manifest, files []FileEntry) *Recipe {
	r := &Recipe{
		pkg:      pkg,
		job:      job,
		manifest: copyManifest(manifest),
		files:    make([]FileEntry, len(files)),
	}
	for i, f := range files {
		r.files[i] = copyEntry(f)
	}
	return r
}

// Name returns the package name.
func (r *Recipe) Name() string { return r.pkg.Name }

// Version returns the package version.
func (r *Recipe) Version() string { return r.pkg.Version }

// Package returns the package the recipe was resolved for.
func (r *Recipe) Package() host.PackageRef { return r.pkg }

// Job returns the transition this recipe describes.
func (r *Recipe) Job() Job { return r.job }

// Origin returns the "name:version@self-containing recipe" label.
func (r *Recipe) Origin() string {
	return fmt.Sprintf("%s:%s@self-containing recipe", r.pkg.Name, r.pkg.Version)
}

// Repository returns the display-only repository label.
func (r *Recipe) Repository() string {
	return "flexhook/" + r.pkg.Name
}

// Manifest returns a copy of the parsed manifest.
func (r *Recipe) Manifest() Manifest { return copyManifest(r.manifest) }

// Files returns a copy of the file entries in resolution order.
func (r *Recipe) Files() []FileEntry {
	out := make([]FileEntry, len(r.files))
	for i, f := range r.files {
		out[i] = copyEntry(f)
	}
	return out
}

// File returns the entry keyed by path.
func (r *Recipe) File(path string) (FileEntry, bool) {
	for _, f := range r.files {
		if f.Path == path {
			return copyEntry(f), true
		}
	}
	return FileEntry{}, false
}

// WithJob returns a copy of the recipe with a different job.
func (r *Recipe) WithJob(job Job) *Recipe {
	return New(r.pkg, job, r.manifest, r.files)
}

func copyEntry(f FileEntry) FileEntry {
	contents := make([]byte, len(f.Contents))
	copy(contents, f.Contents)
	f.Contents = contents
	return f
}

func copyManifest(m Manifest) Manifest {
	out := Manifest{
		CopyFromRecipe: make([]CopyRule, len(m.CopyFromRecipe)),
	}
	copy(out.CopyFromRecipe, m.CopyFromRecipe)
	if m.Raw != nil {
		out.Raw = make(map[string]interface{}, len(m.Raw))
		for k, v := range m.Raw {
			out.Raw[k] = v
		}
	}
	return out
}
