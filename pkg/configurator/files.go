package configurator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/flexhook/flexhook/pkg/recipe"
)

// ErrOutsideProject is returned when a copy target escapes the project root.
var ErrOutsideProject = errors.New("configurator: target outside project directory")

// DefaultTargetDirs are the placeholders expanded in copy destinations.
var DefaultTargetDirs = map[string]string{
	"%BIN_DIR%":    "bin",
	"%CONFIG_DIR%": "config",
	"%SRC_DIR%":    "src",
	"%VAR_DIR%":    "var",
	"%PUBLIC_DIR%": "public",
}

// FileOption configures a FileConfigurator.
type FileOption func(*FileConfigurator)

// WithOverwrite makes Install replace files that already exist.
func WithOverwrite(overwrite bool) FileOption {
	return func(c *FileConfigurator) {
		c.overwrite = overwrite
	}
}

// WithTargetDirs replaces the placeholder table used for destinations.
func WithTargetDirs(dirs map[string]string) FileOption {
	return func(c *FileConfigurator) {
		c.targetDirs = dirs
	}
}

// WithOutput sets where per-file progress lines are written.
func WithOutput(w io.Writer) FileOption {
	return func(c *FileConfigurator) {
		c.out = w
	}
}

// FileConfigurator is the built-in Configurator. It copies recipe files
// into the project following the manifest's copy-from-recipe rules and
// removes them again on unconfigure.
type FileConfigurator struct {
	projectDir string
	overwrite  bool
	targetDirs map[string]string
	out        io.Writer
	logger     zerolog.Logger
}

// NewFileConfigurator creates a configurator rooted at projectDir.
func NewFileConfigurator(projectDir string, logger zerolog.Logger, opts ...FileOption) *FileConfigurator {
	c := &FileConfigurator{
		projectDir: filepath.Clean(projectDir),
		targetDirs: DefaultTargetDirs,
		out:        io.Discard,
		logger:     logger.With().Str("component", "file-configurator").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// copyTarget is one file of the recipe mapped to its project location.
type copyTarget struct {
	entry recipe.FileEntry
	dst   string
	rel   string
}

// Install implements Configurator.
func (c *FileConfigurator) Install(ctx context.Context, r *recipe.Recipe) error {
	targets, err := c.targets(r)
	if err != nil {
		return err
	}

	for _, t := range targets {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := os.Stat(t.dst); err == nil && !c.overwrite {
			c.logger.Debug().Str("package", r.Name()).Str("file", t.rel).Msg("File exists, skipping")
			continue
		}

		if err := os.MkdirAll(filepath.Dir(t.dst), 0o755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", t.rel, err)
		}
		perm := os.FileMode(0o644)
		if t.entry.Executable {
			perm = 0o755
		}
		if err := os.WriteFile(t.dst, t.entry.Contents, perm); err != nil {
			return fmt.Errorf("failed to write %s: %w", t.rel, err)
		}
		fmt.Fprintf(c.out, "    Created \"%s\"\n", t.rel)
	}

	return nil
}

// Unconfigure implements Configurator.
func (c *FileConfigurator) Unconfigure(ctx context.Context, r *recipe.Recipe) error {
	targets, err := c.targets(r)
	if err != nil {
		return err
	}

	for _, t := range targets {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := os.Remove(t.dst); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to remove %s: %w", t.rel, err)
		}
		fmt.Fprintf(c.out, "    Removed \"%s\"\n", t.rel)
	}

	return nil
}

// targets maps recipe files to destinations. A rule whose source ends in a
// slash, or that names no file entry, copies every entry under that prefix;
// other rules copy the entry keyed by the source.
func (c *FileConfigurator) targets(r *recipe.Recipe) ([]copyTarget, error) {
	files := r.Files()
	byPath := make(map[string]recipe.FileEntry, len(files))
	for _, f := range files {
		byPath[f.Path] = f
	}

	var out []copyTarget
	for _, rule := range r.Manifest().CopyFromRecipe {
		dest := c.expand(rule.Destination)

		key := strings.ReplaceAll(rule.Source, `\`, "/")
		if f, ok := byPath[key]; ok && !strings.HasSuffix(key, "/") {
			t, err := c.target(f, dest)
			if err != nil {
				return nil, err
			}
			out = append(out, t)
			continue
		}

		prefix := strings.Trim(rule.Source, `\/`) + "/"
		var matched []recipe.FileEntry
		for _, f := range files {
			if strings.HasPrefix(f.Path, prefix) {
				matched = append(matched, f)
			}
		}
		for _, f := range matched {
			t, err := c.target(f, dest+"/"+strings.TrimPrefix(f.Path, prefix))
			if err != nil {
				return nil, err
			}
			out = append(out, t)
		}
	}
	return out, nil
}

func (c *FileConfigurator) target(f recipe.FileEntry, dest string) (copyTarget, error) {
	rel := strings.Trim(path.Clean(strings.ReplaceAll(dest, `\`, "/")), "/")
	dst := filepath.Join(c.projectDir, filepath.FromSlash(rel))
	if rel == "" || rel == "." || !isWithin(dst, c.projectDir) || dst == c.projectDir {
		return copyTarget{}, fmt.Errorf("%w: %q", ErrOutsideProject, dest)
	}
	return copyTarget{entry: f, dst: dst, rel: rel}, nil
}

func (c *FileConfigurator) expand(dest string) string {
	for placeholder, dir := range c.targetDirs {
		dest = strings.ReplaceAll(dest, placeholder, dir)
	}
	return dest
}

func isWithin(path string, root string) bool {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, ".."+string(os.PathSeparator)) && rel != "..")
}
