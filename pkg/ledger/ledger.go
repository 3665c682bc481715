// Package ledger records which packages currently have their recipe applied.
//
// The ledger is an insertion-ordered mapping of package name to applied
// version. It is loaded once, mutated in memory while recipes are applied,
// and persisted with an atomic replace so a crash can never leave a
// truncated file behind.
package ledger

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/Masterminds/semver/v3"
)

// DefaultFileName is the ledger file created next to the project manifest.
const DefaultFileName = "flexhook.lock"

var (
	// ErrCorrupt is returned when an existing ledger file cannot be parsed.
	// It must never be treated as an empty ledger.
	ErrCorrupt = errors.New("ledger: corrupt ledger file")

	// ErrEmptyName is returned when adding an entry without a package name.
	ErrEmptyName = errors.New("ledger: package name is required")
)

// Entry is one applied recipe.
type Entry struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type record struct {
	Version string `json:"version"`
}

// Ledger is the persistent applied-recipe record. It is not safe for
// concurrent use; the lifecycle engine owns it on a single call stack.
type Ledger struct {
	path    string
	entries []Entry
	index   map[string]int
}

// New returns an empty ledger that will be written to path.
func New(path string) *Ledger {
	return &Ledger{
		path:  path,
		index: make(map[string]int),
	}
}

// Open loads the ledger at path. A missing file yields an empty ledger; a
// file that exists but cannot be parsed yields an error wrapping ErrCorrupt.
func Open(path string) (*Ledger, error) {
	l := New(path)

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return l, nil
		}
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	defer f.Close()

	entries, err := decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	for _, e := range entries {
		if err := l.Add(e.Name, e.Version); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
		}
	}

	return l, nil
}

// Path returns the file the ledger persists to.
func (l *Ledger) Path() string {
	return l.path
}

// Has reports whether name has an applied recipe.
func (l *Ledger) Has(name string) bool {
	_, ok := l.index[name]
	return ok
}

// Version returns the applied version recorded for name.
func (l *Ledger) Version(name string) (string, bool) {
	i, ok := l.index[name]
	if !ok {
		return "", false
	}
	return l.entries[i].Version, true
}

// Add inserts or overwrites the entry for name. Overwriting keeps the
// original insertion position.
func (l *Ledger) Add(name, version string) error {
	if name == "" {
		return ErrEmptyName
	}
	if i, ok := l.index[name]; ok {
		l.entries[i].Version = version
		return nil
	}
	l.index[name] = len(l.entries)
	l.entries = append(l.entries, Entry{Name: name, Version: version})
	return nil
}

// Remove deletes the entry for name if present.
func (l *Ledger) Remove(name string) {
	i, ok := l.index[name]
	if !ok {
		return
	}
	l.entries = append(l.entries[:i], l.entries[i+1:]...)
	delete(l.index, name)
	for j := i; j < len(l.entries); j++ {
		l.index[l.entries[j].Name] = j
	}
}

// Entries returns a copy of all entries in insertion order.
func (l *Ledger) Entries() []Entry {
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries.
func (l *Ledger) Len() int {
	return len(l.entries)
}

// IsOlder reports whether the version recorded for name is strictly lower
// than version. It is false when name is absent or either version is not
// semver.
func (l *Ledger) IsOlder(name, version string) bool {
	recorded, ok := l.Version(name)
	if !ok {
		return false
	}
	have, err := semver.NewVersion(recorded)
	if err != nil {
		return false
	}
	want, err := semver.NewVersion(version)
	if err != nil {
		return false
	}
	return have.LessThan(want)
}

// Write replaces the persisted ledger with the in-memory snapshot.
func (l *Ledger) Write() error {
	data, err := l.encode()
	if err != nil {
		return fmt.Errorf("failed to encode ledger: %w", err)
	}
	if err := writeFileAtomicDurable(l.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write ledger %s: %w", l.path, err)
	}
	return nil
}

// encode renders {"name": {"version": "x"}, ...} preserving insertion order.
func (l *Ledger) encode() ([]byte, error) {
	var buf bytes.Buffer
	if len(l.entries) == 0 {
		buf.WriteString("{}\n")
		return buf.Bytes(), nil
	}

	buf.WriteString("{\n")
	for i, e := range l.entries {
		key, err := json.Marshal(e.Name)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(record{Version: e.Version})
		if err != nil {
			return nil, err
		}
		var indented bytes.Buffer
		if err := json.Indent(&indented, value, "    ", "    "); err != nil {
			return nil, err
		}
		buf.WriteString("    ")
		buf.Write(key)
		buf.WriteString(": ")
		buf.Write(indented.Bytes())
		if i < len(l.entries)-1 {
			buf.WriteByte(',')
		}
		buf.WriteByte('\n')
	}
	buf.WriteString("}\n")
	return buf.Bytes(), nil
}

// decode reads an ordered ledger object. Each value is either a
// {"version": string} record or a bare version string; anything else is
// rejected.
func decode(r io.Reader) ([]Entry, error) {
	dec := json.NewDecoder(r)

	tok, err := dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty file")
		}
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected object, got %v", tok)
	}

	var entries []Entry
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		name, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("expected package name, got %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("entry %q: %w", name, err)
		}
		version, err := decodeVersion(raw)
		if err != nil {
			return nil, fmt.Errorf("entry %q: %w", name, err)
		}
		entries = append(entries, Entry{Name: name, Version: version})
	}

	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing content")
	}

	return entries, nil
}

func decodeVersion(raw json.RawMessage) (string, error) {
	if string(bytes.TrimSpace(raw)) == "null" {
		return "", errors.New("null entry")
	}
	var version string
	if err := json.Unmarshal(raw, &version); err == nil {
		return version, nil
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return "", err
	}
	return rec.Version, nil
}

func writeFileAtomicDurable(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := renameFile(tmpName, path); err != nil {
		return err
	}
	committed = true
	return fsyncDir(dir)
}

// renameFile is swapped by tests to interrupt a flush after the temporary
// file has been written.
var renameFile = os.Rename

func fsyncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
