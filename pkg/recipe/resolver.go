package recipe

import (
	"errors"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/flexhook/flexhook/pkg/host"
)

// InstallPathResolver returns where a package is installed. host.Host
// satisfies it.
type InstallPathResolver interface {
	InstallPath(pkg host.PackageRef) string
}

// Resolver locates and materializes the recipe embedded in a package.
type Resolver struct {
	paths  InstallPathResolver
	logger zerolog.Logger
}

// NewResolver creates a resolver.
func NewResolver(paths InstallPathResolver, logger zerolog.Logger) *Resolver {
	return &Resolver{
		paths:  paths,
		logger: logger.With().Str("component", "recipe-resolver").Logger(),
	}
}

// RecipeDir returns the absolute, forward-slash recipe directory declared by
// pkg, or false when the package declares none.
func (r *Resolver) RecipeDir(pkg host.PackageRef) (string, bool) {
	dir, ok := pkg.ExtraString(ExtraRecipeDir)
	if !ok {
		return "", false
	}

	base := pkg.InstallPath
	if r.paths != nil {
		base = r.paths.InstallPath(pkg)
	}

	full := base + "/" + strings.Trim(dir, `\/`)
	return strings.ReplaceAll(full, `\`, "/"), true
}

// Resolve returns the recipe embedded in pkg for job, or nil when the
// package carries no usable recipe.
func (r *Resolver) Resolve(pkg host.PackageRef, job Job) *Recipe {
	dir, ok := r.RecipeDir(pkg)
	if !ok {
		r.logger.Debug().Str("package", pkg.Name).Msg("Package declares no recipe directory")
		return nil
	}
	return r.ResolveDir(pkg, dir, job)
}

// ResolveDir resolves a recipe from an explicit recipe directory.
func (r *Resolver) ResolveDir(pkg host.PackageRef, dir string, job Job) *Recipe {
	dir = path.Clean(strings.ReplaceAll(dir, `\`, "/"))
	log := r.logger.With().Str("package", pkg.Name).Str("recipe_dir", dir).Logger()

	manifest, ok := r.readManifest(dir, log)
	if !ok {
		return nil
	}

	files := newFileSet()
	for _, rule := range manifest.CopyFromRecipe {
		source := path.Join(dir, strings.Trim(strings.ReplaceAll(rule.Source, `\`, "/"), "/"))
		if source != dir && !strings.HasPrefix(source, dir+"/") {
			log.Debug().Str("source", rule.Source).Msg("Skipping copy source outside the recipe directory")
			continue
		}
		info, err := os.Stat(filepath.FromSlash(source))
		if err != nil {
			log.Debug().Str("source", rule.Source).Msg("Skipping missing copy source")
			continue
		}

		if info.IsDir() {
			r.collectDir(dir, source, files, log)
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}

		// Single files keep the source name as their key; the destination
		// is left to the configurator.
		contents, err := os.ReadFile(filepath.FromSlash(source))
		if err != nil {
			log.Debug().Err(err).Str("source", rule.Source).Msg("Skipping unreadable recipe file")
			continue
		}
		files.put(FileEntry{
			Path:     strings.ReplaceAll(rule.Source, `\`, "/"),
			Contents: contents,
		})
	}

	log.Debug().Int("files", len(files.entries)).Str("job", string(job)).Msg("Resolved recipe")

	return New(pkg, job, manifest, files.entries)
}

func (r *Resolver) readManifest(dir string, log zerolog.Logger) (Manifest, bool) {
	candidates := []struct {
		name  string
		parse func([]byte) (Manifest, error)
	}{
		{ManifestFile, ParseManifestJSON},
		{ManifestFileYAML, ParseManifestYAML},
		{ManifestFileYML, ParseManifestYAML},
	}

	for _, c := range candidates {
		data, err := os.ReadFile(filepath.FromSlash(dir + "/" + c.name))
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				log.Warn().Err(err).Str("manifest", c.name).Msg("Failed to read recipe manifest")
				return Manifest{}, false
			}
			continue
		}
		m, err := c.parse(data)
		if err != nil {
			log.Info().Err(err).Str("manifest", c.name).Msg("Ignoring recipe with invalid manifest")
			return Manifest{}, false
		}
		return m, true
	}

	log.Debug().Msg("Recipe directory has no manifest")
	return Manifest{}, false
}

// collectDir adds every regular file under source, keyed relative to root.
// Subdirectories are visited before the files of the directory containing
// them; entries are otherwise in name order. Symlinked directories are not
// followed.
func (r *Resolver) collectDir(root, source string, files *fileSet, log zerolog.Logger) {
	entries, err := os.ReadDir(filepath.FromSlash(source))
	if err != nil {
		log.Debug().Err(err).Str("dir", source).Msg("Skipping unreadable recipe directory")
		return
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].IsDir() != entries[j].IsDir() {
			return entries[i].IsDir()
		}
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		full := path.Join(source, entry.Name())
		if entry.IsDir() {
			r.collectDir(root, full, files, log)
			continue
		}

		info, err := os.Stat(filepath.FromSlash(full))
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		contents, err := os.ReadFile(filepath.FromSlash(full))
		if err != nil {
			log.Debug().Err(err).Str("file", full).Msg("Skipping unreadable recipe file")
			continue
		}
		files.put(FileEntry{
			Path:     strings.TrimPrefix(full, path.Clean(root)+"/"),
			Contents: contents,
		})
	}
}

// fileSet keeps entries in first-insertion order; a repeated key replaces the
// earlier contents in place.
type fileSet struct {
	entries []FileEntry
	index   map[string]int
}

func newFileSet() *fileSet {
	return &fileSet{index: make(map[string]int)}
}

func (s *fileSet) put(f FileEntry) {
	if i, ok := s.index[f.Path]; ok {
		s.entries[i] = f
		return
	}
	s.index[f.Path] = len(s.entries)
	s.entries = append(s.entries, f)
}
