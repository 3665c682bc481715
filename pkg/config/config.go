package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/flexhook/flexhook/pkg/configurator"
	"github.com/flexhook/flexhook/pkg/ledger"
	"github.com/flexhook/flexhook/pkg/telemetry"
)

// FileNames are the project file names looked up by Find, in order.
var FileNames = []string{"flexhook.yaml", "flexhook.yml", "flexhook.toml"}

var (
	// ErrInvalid is returned when a project file fails validation.
	ErrInvalid = errors.New("config: invalid project configuration")

	// ErrUnsupportedFormat is returned for files that are neither YAML nor TOML.
	ErrUnsupportedFormat = errors.New("config: unsupported file format")
)

// Project is the flexhook configuration of one project.
type Project struct {
	// Dir is the project root. It is the directory holding the project
	// file and is not read from the file itself.
	Dir string `yaml:"-" toml:"-" validate:"required"`

	// LedgerFile is the ledger path, relative to Dir.
	LedgerFile string `yaml:"ledger_file" toml:"ledger_file" validate:"required"`

	// VendorDir is where packages are installed, relative to Dir.
	VendorDir string `yaml:"vendor_dir" toml:"vendor_dir" validate:"required"`

	// InstalledFile lists the installed packages, relative to Dir.
	InstalledFile string `yaml:"installed_file" toml:"installed_file" validate:"required"`

	// FlushPolicy is "incremental" or "batch".
	FlushPolicy string `yaml:"flush_policy" toml:"flush_policy" validate:"required,oneof=incremental batch"`

	// HistoryDB is the SQLite history database, relative to Dir. Empty
	// disables history.
	HistoryDB string `yaml:"history_db" toml:"history_db"`

	// Overwrite lets the file configurator replace existing files.
	Overwrite bool `yaml:"overwrite" toml:"overwrite"`

	// TargetDirs maps destination placeholders to project directories.
	TargetDirs map[string]string `yaml:"target_dirs" toml:"target_dirs" validate:"dive,keys,placeholder,endkeys,required"`

	// Plugin selects the host plugin scanned for a configurator.
	Plugin PluginConfig `yaml:"plugin" toml:"plugin"`

	// WatchDebounce delays re-applying after a recipe change.
	WatchDebounce time.Duration `yaml:"watch_debounce" toml:"watch_debounce" validate:"gte=0"`

	Telemetry telemetry.Config `yaml:"telemetry" toml:"telemetry"`
}

// PluginConfig names the plugin type and field holding a configurator.
type PluginConfig struct {
	Type  string `yaml:"type" toml:"type" validate:"required"`
	Field string `yaml:"field" toml:"field" validate:"required"`
}

// Default returns the configuration used when dir has no project file.
func Default(dir string) *Project {
	targets := make(map[string]string, len(configurator.DefaultTargetDirs))
	for k, v := range configurator.DefaultTargetDirs {
		targets[k] = v
	}
	return &Project{
		Dir:           dir,
		LedgerFile:    ledger.DefaultFileName,
		VendorDir:     "vendor",
		InstalledFile: filepath.Join("vendor", "installed.json"),
		FlushPolicy:   "incremental",
		HistoryDB:     filepath.Join(".flexhook", "history.db"),
		TargetDirs:    targets,
		Plugin: PluginConfig{
			Type:  configurator.DefaultPluginType,
			Field: configurator.DefaultPluginField,
		},
		WatchDebounce: 200 * time.Millisecond,
		Telemetry:     *telemetry.DefaultConfig(),
	}
}

// Find loads the first project file found in dir, or returns the defaults
// when there is none.
func Find(dir string) (*Project, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", dir, err)
	}
	for _, name := range FileNames {
		path := filepath.Join(abs, name)
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	p := Default(abs)
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Load reads a project file. The format follows the file extension.
func Load(path string) (*Project, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	p := Default(filepath.Dir(abs))
	switch strings.ToLower(filepath.Ext(abs)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, p); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", abs, err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), p); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", abs, err)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, abs)
	}
	p.Dir = filepath.Dir(abs)

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("placeholder", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return len(s) > 2 && strings.HasPrefix(s, "%") && strings.HasSuffix(s, "%")
	})
	return v
}

// Validate checks the project and its telemetry settings.
func (p *Project) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := p.Telemetry.Validate(); err != nil {
		return fmt.Errorf("%w: telemetry: %w", ErrInvalid, err)
	}
	return nil
}

// Resolve returns path relative to the project dir unless it is absolute.
func (p *Project) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(p.Dir, path)
}

// LedgerPath returns the absolute ledger path.
func (p *Project) LedgerPath() string { return p.Resolve(p.LedgerFile) }

// VendorPath returns the absolute vendor directory.
func (p *Project) VendorPath() string { return p.Resolve(p.VendorDir) }

// InstalledPath returns the absolute installed-packages file.
func (p *Project) InstalledPath() string { return p.Resolve(p.InstalledFile) }

// HistoryPath returns the absolute history database path, or "" when
// history is disabled.
func (p *Project) HistoryPath() string { return p.Resolve(p.HistoryDB) }
