package ledger

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestOpenMissingFile(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), DefaultFileName))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if l.Len() != 0 {
		t.Errorf("expected empty ledger, got %d entries", l.Len())
	}
}

func TestOpenCorrupt(t *testing.T) {
	tests := []struct {
		name     string
		contents string
	}{
		{name: "empty file", contents: ""},
		{name: "truncated", contents: `{"acme/widget": {"version": "1.0`},
		{name: "array", contents: `["acme/widget"]`},
		{name: "null", contents: `null`},
		{name: "number record", contents: `{"acme/widget": 1.0}`},
		{name: "null record", contents: `{"acme/widget": null}`},
		{name: "trailing content", contents: `{} {}`},
		{name: "empty name", contents: `{"": {"version": "1.0"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), DefaultFileName)
			if err := os.WriteFile(path, []byte(tt.contents), 0o644); err != nil {
				t.Fatalf("failed to write ledger: %v", err)
			}
			_, err := Open(path)
			if !errors.Is(err, ErrCorrupt) {
				t.Errorf("expected ErrCorrupt, got %v", err)
			}
		})
	}
}

func TestOpenFlatVersions(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	contents := `{"acme/widget": "2.0", "acme/gadget": {"version": "1.0"}}`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("failed to write ledger: %v", err)
	}

	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	want := []Entry{{Name: "acme/widget", Version: "2.0"}, {Name: "acme/gadget", Version: "1.0"}}
	if got := l.Entries(); !reflect.DeepEqual(got, want) {
		t.Errorf("Entries() = %+v, want %+v", got, want)
	}

	// Writing normalizes to records.
	if err := l.Write(); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"version": "2.0"`) {
		t.Errorf("expected record form, got %s", data)
	}
}

func TestAddHasRemove(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), DefaultFileName))

	if err := l.Add("acme/widget", "1.0.0"); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := l.Add("acme/gadget", "2.0.0"); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if !l.Has("acme/widget") || !l.Has("acme/gadget") {
		t.Fatal("expected both packages to be recorded")
	}

	// Overwrite keeps position.
	if err := l.Add("acme/widget", "1.1.0"); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	entries := l.Entries()
	if entries[0].Name != "acme/widget" || entries[0].Version != "1.1.0" {
		t.Errorf("expected overwritten entry first, got %+v", entries[0])
	}

	l.Remove("acme/widget")
	l.Remove("acme/unknown")
	if l.Has("acme/widget") {
		t.Error("expected acme/widget to be removed")
	}
	if v, ok := l.Version("acme/gadget"); !ok || v != "2.0.0" {
		t.Errorf("expected acme/gadget 2.0.0 to survive removal, got %q %v", v, ok)
	}

	if err := l.Add("", "1.0"); !errors.Is(err, ErrEmptyName) {
		t.Errorf("expected ErrEmptyName, got %v", err)
	}
}

func TestWriteRoundTripPreservesOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	l := New(path)
	names := []string{"zeta/last", "acme/widget", "beta/middle"}
	for _, n := range names {
		if err := l.Add(n, "1.0.0"); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
	}
	if err := l.Write(); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	entries := reopened.Entries()
	if len(entries) != len(names) {
		t.Fatalf("expected %d entries, got %d", len(names), len(entries))
	}
	for i, n := range names {
		if entries[i].Name != n {
			t.Errorf("entry %d: expected %s, got %s", i, n, entries[i].Name)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read ledger: %v", err)
	}
	if !strings.Contains(string(data), `"acme/widget": {`) {
		t.Errorf("unexpected ledger layout:\n%s", data)
	}
}

func TestWriteEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	if err := New(path).Write(); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if l.Len() != 0 {
		t.Errorf("expected empty ledger, got %d", l.Len())
	}
}

func TestWriteReplacesWholly(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	first := New(path)
	_ = first.Add("acme/widget", "1.0.0")
	_ = first.Add("acme/gadget", "1.0.0")
	if err := first.Write(); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	second := New(path)
	_ = second.Add("acme/other", "1.0.0")
	if err := second.Write(); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if l.Len() != 1 || !l.Has("acme/other") {
		t.Errorf("expected only acme/other, got %+v", l.Entries())
	}
}

func TestWriteFailureLeavesPreviousLedger(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultFileName)

	l := New(path)
	_ = l.Add("acme/widget", "1.0.0")
	if err := l.Write(); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read ledger: %v", err)
	}

	renameErr := errors.New("interrupted")
	renameFile = func(oldpath, newpath string) error { return renameErr }
	defer func() { renameFile = os.Rename }()

	_ = l.Add("acme/gadget", "2.0.0")
	l.Remove("acme/widget")
	if err := l.Write(); !errors.Is(err, renameErr) {
		t.Fatalf("expected interrupted write, got %v", err)
	}

	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read ledger: %v", err)
	}
	if string(before) != string(after) {
		t.Errorf("ledger changed after failed write:\nbefore: %s\nafter: %s", before, after)
	}

	leftovers, err := filepath.Glob(filepath.Join(dir, DefaultFileName+".tmp.*"))
	if err != nil {
		t.Fatalf("Glob() error = %v", err)
	}
	if len(leftovers) != 0 {
		t.Errorf("expected temporary files to be cleaned up, found %v", leftovers)
	}
}

func TestIsOlder(t *testing.T) {
	l := New("unused")
	_ = l.Add("acme/widget", "1.2.0")
	_ = l.Add("acme/dev", "dev-main")

	tests := []struct {
		name    string
		pkg     string
		version string
		want    bool
	}{
		{"newer incoming", "acme/widget", "2.0.0", true},
		{"same version", "acme/widget", "1.2.0", false},
		{"older incoming", "acme/widget", "1.0.0", false},
		{"non semver recorded", "acme/dev", "1.0.0", false},
		{"non semver incoming", "acme/widget", "dev-main", false},
		{"absent", "acme/none", "1.0.0", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := l.IsOlder(tt.pkg, tt.version); got != tt.want {
				t.Errorf("IsOlder(%s, %s) = %v, want %v", tt.pkg, tt.version, got, tt.want)
			}
		})
	}
}
