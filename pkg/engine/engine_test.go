package engine

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/flexhook/flexhook/pkg/configurator"
	"github.com/flexhook/flexhook/pkg/host"
	"github.com/flexhook/flexhook/pkg/ledger"
	"github.com/flexhook/flexhook/pkg/recipe"
	"github.com/flexhook/flexhook/pkg/telemetry"
)

// mockConfigurator records every call and fails for the packages in failOn.
type mockConfigurator struct {
	calls  []string
	failOn map[string]error
}

func (m *mockConfigurator) Install(ctx context.Context, r *recipe.Recipe) error {
	m.calls = append(m.calls, "install:"+r.Name())
	return m.failOn[r.Name()]
}

func (m *mockConfigurator) Unconfigure(ctx context.Context, r *recipe.Recipe) error {
	m.calls = append(m.calls, "uninstall:"+r.Name())
	return m.failOn[r.Name()]
}

type mockHistory struct {
	records []HistoryRecord
	err     error
}

func (m *mockHistory) RecordApply(ctx context.Context, rec HistoryRecord) error {
	m.records = append(m.records, rec)
	return m.err
}

type fixture struct {
	t       *testing.T
	dir     string
	vendor  string
	project string
	host    *host.LocalHost
	pkgs    map[string]host.PackageRef
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		t:       t,
		dir:     dir,
		vendor:  filepath.Join(dir, "vendor"),
		project: filepath.Join(dir, "project"),
		pkgs:    make(map[string]host.PackageRef),
	}
	if err := os.MkdirAll(f.project, 0o755); err != nil {
		t.Fatal(err)
	}
	f.host = host.NewLocalHost(host.NewLocalRepository(f.vendor), zerolog.Nop())
	return f
}

// withRecipe installs a package carrying a one-file recipe in the vendor dir.
func (f *fixture) withRecipe(name, version, file, contents string) host.PackageRef {
	f.t.Helper()
	installPath := filepath.Join(f.vendor, filepath.FromSlash(name))
	recipeDir := filepath.Join(installPath, "_recipe")
	manifest := `{"copy-from-recipe": {"` + file + `": "` + file + `"}}`
	writeFile(f.t, filepath.Join(recipeDir, "manifest.json"), manifest)
	writeFile(f.t, filepath.Join(recipeDir, filepath.FromSlash(file)), contents)

	pkg := host.PackageRef{
		Name:        name,
		Version:     version,
		Extra:       map[string]interface{}{recipe.ExtraRecipeDir: "_recipe"},
		InstallPath: installPath,
	}
	f.pkgs[name] = pkg
	return pkg
}

// plain installs a package without a recipe.
func (f *fixture) plain(name string) host.PackageRef {
	pkg := host.PackageRef{Name: name, Version: "1.0.0", InstallPath: filepath.Join(f.vendor, name)}
	f.pkgs[name] = pkg
	return pkg
}

func (f *fixture) run(kind host.OperationKind, names ...string) error {
	f.t.Helper()
	pkgs := make([]host.PackageRef, 0, len(names))
	for _, n := range names {
		pkgs = append(pkgs, f.pkgs[n])
	}
	return f.host.Run(context.Background(), kind, pkgs)
}

func (f *fixture) ledgerPath() string {
	return filepath.Join(f.project, ledger.DefaultFileName)
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
}

func activate(t *testing.T, f *fixture, opts Options) *Engine {
	t.Helper()
	if opts.LedgerPath == "" && opts.Ledger == nil {
		opts.LedgerPath = f.ledgerPath()
	}
	e := New(opts)
	if err := e.Activate(context.Background(), f.host); err != nil {
		t.Fatalf("Activate() error = %v", err)
	}
	return e
}

func diskLedger(t *testing.T, path string) []ledger.Entry {
	t.Helper()
	l, err := ledger.Open(path)
	if err != nil {
		t.Fatalf("ledger.Open() error = %v", err)
	}
	return l.Entries()
}

func TestWidgetInstallEndToEnd(t *testing.T) {
	f := newFixture(t)
	f.withRecipe("acme/widget", "2.0", "config/widget.yaml", "enabled: true")

	var out bytes.Buffer
	fc := configurator.NewFileConfigurator(f.project, zerolog.Nop(), configurator.WithOutput(&out))
	activate(t, f, Options{
		Locate: configurator.LocateOptions{Direct: fc},
		Output: &out,
	})

	if err := f.run(host.OperationInstall, "acme/widget"); err != nil {
		t.Fatalf("install run error = %v", err)
	}

	got, err := os.ReadFile(filepath.Join(f.project, "config", "widget.yaml"))
	if err != nil || string(got) != "enabled: true" {
		t.Fatalf("expected copied recipe file, got %q (%v)", got, err)
	}
	want := "  - Configuring acme/widget\n    Created \"config/widget.yaml\"\n"
	if out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
	if entries := diskLedger(t, f.ledgerPath()); !reflect.DeepEqual(entries, []ledger.Entry{{Name: "acme/widget", Version: "2.0"}}) {
		t.Errorf("ledger = %v", entries)
	}

	out.Reset()
	if err := f.run(host.OperationUninstall, "acme/widget"); err != nil {
		t.Fatalf("uninstall run error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(f.project, "config", "widget.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected recipe file to be removed, stat err = %v", err)
	}
	if !strings.HasPrefix(out.String(), "  - Unconfiguring acme/widget\n") {
		t.Errorf("unexpected uninstall output %q", out.String())
	}
	if entries := diskLedger(t, f.ledgerPath()); len(entries) != 0 {
		t.Errorf("expected empty ledger, got %v", entries)
	}
}

func TestInstallIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.withRecipe("acme/widget", "2.0", "config/widget.yaml", "x")
	mock := &mockConfigurator{}
	activate(t, f, Options{Locate: configurator.LocateOptions{Direct: mock}})

	for i := 0; i < 3; i++ {
		if err := f.run(host.OperationInstall, "acme/widget"); err != nil {
			t.Fatalf("run %d error = %v", i, err)
		}
	}
	if !reflect.DeepEqual(mock.calls, []string{"install:acme/widget"}) {
		t.Errorf("calls = %v", mock.calls)
	}
}

func TestUninstallRequiresLedgerEntry(t *testing.T) {
	f := newFixture(t)
	f.withRecipe("acme/widget", "2.0", "config/widget.yaml", "x")
	mock := &mockConfigurator{}
	activate(t, f, Options{Locate: configurator.LocateOptions{Direct: mock}})

	steps := []struct {
		kind host.OperationKind
	}{
		{host.OperationUninstall},
		{host.OperationInstall},
		{host.OperationUninstall},
		{host.OperationUninstall},
		{host.OperationInstall},
	}
	for _, s := range steps {
		if err := f.run(s.kind, "acme/widget"); err != nil {
			t.Fatalf("%s run error = %v", s.kind, err)
		}
	}

	want := []string{"install:acme/widget", "uninstall:acme/widget", "install:acme/widget"}
	if !reflect.DeepEqual(mock.calls, want) {
		t.Errorf("calls = %v, want %v", mock.calls, want)
	}
}

func TestQueueOrderIsPreserved(t *testing.T) {
	f := newFixture(t)
	f.withRecipe("vendor/c", "1.0", "c.txt", "c")
	f.withRecipe("vendor/a", "1.0", "a.txt", "a")
	f.plain("vendor/none")
	f.withRecipe("vendor/b", "1.0", "b.txt", "b")
	mock := &mockConfigurator{}
	e := activate(t, f, Options{Locate: configurator.LocateOptions{Direct: mock}})

	if err := f.run(host.OperationInstall, "vendor/c", "vendor/a", "vendor/none", "vendor/b"); err != nil {
		t.Fatalf("run error = %v", err)
	}

	want := []string{"install:vendor/c", "install:vendor/a", "install:vendor/b"}
	if !reflect.DeepEqual(mock.calls, want) {
		t.Errorf("calls = %v, want %v", mock.calls, want)
	}
	var names []string
	for _, entry := range e.Ledger().Entries() {
		names = append(names, entry.Name)
	}
	if !reflect.DeepEqual(names, []string{"vendor/c", "vendor/a", "vendor/b"}) {
		t.Errorf("ledger order = %v", names)
	}
}

func TestCollectingState(t *testing.T) {
	f := newFixture(t)
	pkg := f.withRecipe("acme/widget", "2.0", "config/widget.yaml", "x")
	mock := &mockConfigurator{}
	e := activate(t, f, Options{Locate: configurator.LocateOptions{Direct: mock}})

	if e.State() != StateIdle {
		t.Fatalf("expected idle, got %s", e.State())
	}
	ev := host.PackageEvent{Operation: host.OperationInstall, Package: pkg}
	if err := e.HandlePackageEvent(context.Background(), ev); err != nil {
		t.Fatalf("HandlePackageEvent() error = %v", err)
	}
	if err := e.HandlePackageEvent(context.Background(), ev); err != nil {
		t.Fatalf("HandlePackageEvent() error = %v", err)
	}
	if e.State() != StateCollecting {
		t.Errorf("expected collecting, got %s", e.State())
	}
	if pending := e.Pending(); len(pending) != 1 || pending[0].Name() != "acme/widget" {
		t.Errorf("expected one pending recipe, got %d", len(pending))
	}
	if len(mock.calls) != 0 {
		t.Error("expected nothing applied before batch completion")
	}

	if err := e.HandleBatchComplete(context.Background()); err != nil {
		t.Fatalf("HandleBatchComplete() error = %v", err)
	}
	if e.State() != StateIdle || len(e.Pending()) != 0 {
		t.Errorf("expected idle with empty queue, got %s with %d", e.State(), len(e.Pending()))
	}
}

func TestCollectingWithoutEligibleRecipes(t *testing.T) {
	f := newFixture(t)
	pkg := f.withRecipe("acme/widget", "2.0", "config/widget.yaml", "x")
	mock := &mockConfigurator{}
	e := activate(t, f, Options{Locate: configurator.LocateOptions{Direct: mock}})

	// Nothing is recorded, so the uninstall is not due.
	ev := host.PackageEvent{Operation: host.OperationUninstall, Package: pkg}
	if err := e.HandlePackageEvent(context.Background(), ev); err != nil {
		t.Fatalf("HandlePackageEvent() error = %v", err)
	}
	if e.State() != StateCollecting {
		t.Errorf("expected collecting, got %s", e.State())
	}
	if len(e.Pending()) != 0 {
		t.Errorf("expected nothing queued, got %d", len(e.Pending()))
	}

	if err := e.HandleBatchComplete(context.Background()); err != nil {
		t.Fatalf("HandleBatchComplete() error = %v", err)
	}
	if e.State() != StateIdle {
		t.Errorf("expected idle, got %s", e.State())
	}
	if len(mock.calls) != 0 {
		t.Errorf("expected no configurator calls, got %v", mock.calls)
	}
}

func TestUpdateIsIgnored(t *testing.T) {
	f := newFixture(t)
	f.withRecipe("acme/widget", "2.0", "config/widget.yaml", "x")
	mock := &mockConfigurator{}
	e := activate(t, f, Options{Locate: configurator.LocateOptions{Direct: mock}})

	if err := f.run(host.OperationUpdate, "acme/widget"); err != nil {
		t.Fatalf("run error = %v", err)
	}
	if len(mock.calls) != 0 || e.Ledger().Len() != 0 {
		t.Errorf("expected update to be ignored, calls = %v", mock.calls)
	}
}

func TestEmptyBatchWritesNothing(t *testing.T) {
	f := newFixture(t)
	f.plain("vendor/none")
	activate(t, f, Options{Locate: configurator.LocateOptions{Direct: &mockConfigurator{}}})

	if err := f.run(host.OperationInstall, "vendor/none"); err != nil {
		t.Fatalf("run error = %v", err)
	}
	if _, err := os.Stat(f.ledgerPath()); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected no ledger file, stat err = %v", err)
	}
}

func TestVersionDriftDoesNotReapply(t *testing.T) {
	f := newFixture(t)
	f.withRecipe("acme/widget", "2.0.0", "config/widget.yaml", "x")

	l := ledger.New(f.ledgerPath())
	if err := l.Add("acme/widget", "1.0.0"); err != nil {
		t.Fatal(err)
	}
	mock := &mockConfigurator{}
	activate(t, f, Options{Ledger: l, Locate: configurator.LocateOptions{Direct: mock}})

	if err := f.run(host.OperationInstall, "acme/widget"); err != nil {
		t.Fatalf("run error = %v", err)
	}
	if len(mock.calls) != 0 {
		t.Errorf("expected no re-apply, calls = %v", mock.calls)
	}
	if v, _ := l.Version("acme/widget"); v != "1.0.0" {
		t.Errorf("expected recorded version to stay 1.0.0, got %s", v)
	}
}

func scrape(t *testing.T, m *telemetry.Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Result().Body)
	return string(body)
}

func TestFlushPolicies(t *testing.T) {
	tests := []struct {
		policy      FlushPolicy
		wantFlushes string
	}{
		{FlushIncremental, `flexhook_ledger_flushes_total{status="success"} 3`},
		{FlushBatch, `flexhook_ledger_flushes_total{status="success"} 1`},
	}

	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			f := newFixture(t)
			f.withRecipe("vendor/a", "1.0", "a.txt", "a")
			f.withRecipe("vendor/b", "1.0", "b.txt", "b")
			f.withRecipe("vendor/c", "1.0", "c.txt", "c")

			metrics, err := telemetry.NewMetrics(telemetry.DefaultConfig().Metrics)
			if err != nil {
				t.Fatal(err)
			}
			activate(t, f, Options{
				Locate:      configurator.LocateOptions{Direct: &mockConfigurator{}},
				FlushPolicy: tt.policy,
				Metrics:     metrics,
			})

			if err := f.run(host.OperationInstall, "vendor/a", "vendor/b", "vendor/c"); err != nil {
				t.Fatalf("run error = %v", err)
			}
			if entries := diskLedger(t, f.ledgerPath()); len(entries) != 3 {
				t.Errorf("expected 3 ledger entries on disk, got %v", entries)
			}

			body := scrape(t, metrics)
			for _, want := range []string{
				tt.wantFlushes,
				`flexhook_recipes_applied_total{job="install",status="success"} 3`,
				`flexhook_batches_total{status="success"} 1`,
				`flexhook_pending_recipes 0`,
			} {
				if !strings.Contains(body, want) {
					t.Errorf("metrics missing %q", want)
				}
			}
		})
	}
}

func TestFailureAbandonsBatch(t *testing.T) {
	tests := []struct {
		policy     FlushPolicy
		wantOnDisk []ledger.Entry
	}{
		{FlushIncremental, []ledger.Entry{{Name: "vendor/a", Version: "1.0"}}},
		{FlushBatch, []ledger.Entry{}},
	}

	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			f := newFixture(t)
			f.withRecipe("vendor/a", "1.0", "a.txt", "a")
			f.withRecipe("vendor/b", "1.0", "b.txt", "b")
			f.withRecipe("vendor/c", "1.0", "c.txt", "c")

			boom := errors.New("boom")
			mock := &mockConfigurator{failOn: map[string]error{"vendor/b": boom}}
			e := activate(t, f, Options{
				Locate:      configurator.LocateOptions{Direct: mock},
				FlushPolicy: tt.policy,
			})

			err := f.run(host.OperationInstall, "vendor/a", "vendor/b", "vendor/c")
			if !errors.Is(err, boom) {
				t.Fatalf("expected boom, got %v", err)
			}
			ae, ok := AsApplyError(err)
			if !ok {
				t.Fatalf("expected ApplyError, got %T", err)
			}
			if ae.Package != "vendor/b" || ae.Job != recipe.JobInstall || !reflect.DeepEqual(ae.Remaining, []string{"vendor/c"}) {
				t.Errorf("unexpected ApplyError %+v", ae)
			}
			if !IsApplyError(err) {
				t.Error("IsApplyError() = false")
			}

			if !reflect.DeepEqual(mock.calls, []string{"install:vendor/a", "install:vendor/b"}) {
				t.Errorf("calls = %v", mock.calls)
			}
			if e.State() != StateIdle || len(e.Pending()) != 0 {
				t.Errorf("expected idle with empty queue after failure")
			}
			if e.Ledger().Has("vendor/b") {
				t.Error("failed recipe must not be recorded")
			}

			entries := diskLedger(t, f.ledgerPath())
			if len(entries) == 0 {
				entries = []ledger.Entry{}
			}
			if !reflect.DeepEqual(entries, tt.wantOnDisk) {
				t.Errorf("ledger on disk = %v, want %v", entries, tt.wantOnDisk)
			}

			// The next run retries what was dropped.
			mock.failOn = nil
			mock.calls = nil
			if err := f.run(host.OperationInstall, "vendor/a", "vendor/b", "vendor/c"); err != nil {
				t.Fatalf("retry error = %v", err)
			}
			if !reflect.DeepEqual(mock.calls, []string{"install:vendor/b", "install:vendor/c"}) {
				t.Errorf("retry calls = %v", mock.calls)
			}
		})
	}
}

func TestFlushFailureLeavesPreviousLedger(t *testing.T) {
	for _, policy := range []FlushPolicy{FlushIncremental, FlushBatch} {
		t.Run(string(policy), func(t *testing.T) {
			f := newFixture(t)
			f.withRecipe("acme/widget", "2.0", "config/widget.yaml", "x")
			f.withRecipe("acme/gadget", "1.0", "config/gadget.yaml", "y")

			// A non-empty directory in place of the ledger file makes the final
			// rename fail.
			blocked := filepath.Join(f.dir, "blocked.lock")
			writeFile(t, filepath.Join(blocked, "keep"), "")

			activate(t, f, Options{
				Ledger:      ledger.New(blocked),
				Locate:      configurator.LocateOptions{Direct: &mockConfigurator{}},
				FlushPolicy: policy,
			})

			err := f.run(host.OperationInstall, "acme/widget", "acme/gadget")
			if !errors.Is(err, ErrFlush) {
				t.Fatalf("expected ErrFlush, got %v", err)
			}
			ae, ok := AsApplyError(err)
			if !ok {
				t.Fatalf("expected *ApplyError, got %T: %v", err, err)
			}
			want := "acme/gadget"
			if policy == FlushIncremental {
				want = "acme/widget"
			}
			if ae.Package != want || ae.Job != recipe.JobInstall {
				t.Errorf("ApplyError names %s/%s, want %s/install", ae.Package, ae.Job, want)
			}
			if _, err := os.Stat(filepath.Join(blocked, "keep")); err != nil {
				t.Errorf("expected existing content to survive, got %v", err)
			}
		})
	}
}

func TestManualApply(t *testing.T) {
	f := newFixture(t)
	pkg := f.withRecipe("acme/widget", "2.0", "config/widget.yaml", "x")
	mock := &mockConfigurator{}
	history := &mockHistory{}
	e := activate(t, f, Options{
		Locate:      configurator.LocateOptions{Direct: mock},
		FlushPolicy: FlushBatch,
		History:     history,
	})

	r, err := e.Resolve(pkg, recipe.JobInstall)
	if err != nil || r == nil {
		t.Fatalf("Resolve() = %v, %v", r, err)
	}
	// Manual apply does not consult the ledger.
	for i := 0; i < 2; i++ {
		if err := e.Apply(context.Background(), r); err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
	}
	if len(mock.calls) != 2 {
		t.Errorf("expected two installs, got %v", mock.calls)
	}
	if entries := diskLedger(t, f.ledgerPath()); len(entries) != 1 {
		t.Errorf("expected ledger to be flushed, got %v", entries)
	}
	if len(history.records) != 2 || history.records[0].BatchID == history.records[1].BatchID {
		t.Errorf("expected two records with distinct batch ids, got %+v", history.records)
	}

	mock.failOn = map[string]error{"acme/widget": errors.New("denied")}
	err = e.Apply(context.Background(), r.WithJob(recipe.JobUninstall))
	if ae, ok := AsApplyError(err); !ok || ae.Job != recipe.JobUninstall {
		t.Errorf("expected uninstall ApplyError, got %v", err)
	}
	if !e.Ledger().Has("acme/widget") {
		t.Error("failed uninstall must keep the ledger entry")
	}
}

func TestHistoryRecordsBatch(t *testing.T) {
	f := newFixture(t)
	f.withRecipe("vendor/a", "1.0", "a.txt", "a")
	f.withRecipe("vendor/b", "1.0", "b.txt", "b")
	history := &mockHistory{err: errors.New("store unavailable")}
	mock := &mockConfigurator{failOn: map[string]error{"vendor/b": errors.New("nope")}}
	activate(t, f, Options{
		Locate:  configurator.LocateOptions{Direct: mock},
		History: history,
	})

	_ = f.run(host.OperationInstall, "vendor/a", "vendor/b")

	if len(history.records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(history.records))
	}
	a, b := history.records[0], history.records[1]
	if a.BatchID == "" || a.BatchID != b.BatchID {
		t.Errorf("expected a shared batch id, got %q and %q", a.BatchID, b.BatchID)
	}
	if a.Status != telemetry.StatusSuccess || b.Status != telemetry.StatusFailure || b.Error != "nope" {
		t.Errorf("unexpected records %+v %+v", a, b)
	}
}

func TestActivateOnce(t *testing.T) {
	f := newFixture(t)
	f.withRecipe("acme/widget", "2.0", "config/widget.yaml", "x")
	mock := &mockConfigurator{}
	e := activate(t, f, Options{Locate: configurator.LocateOptions{Direct: mock}})

	if err := e.Activate(context.Background(), f.host); err != nil {
		t.Fatalf("second Activate() error = %v", err)
	}
	if err := f.run(host.OperationInstall, "acme/widget"); err != nil {
		t.Fatalf("run error = %v", err)
	}
	if len(mock.calls) != 1 {
		t.Errorf("expected listeners to be registered once, calls = %v", mock.calls)
	}

	failing := New(Options{})
	if err := failing.Activate(context.Background(), nil); !errors.Is(err, ErrNoHost) {
		t.Errorf("expected ErrNoHost, got %v", err)
	}
	if err := failing.Activate(context.Background(), f.host); !errors.Is(err, ErrNoHost) {
		t.Errorf("expected the first activation result to stick, got %v", err)
	}
}

func TestActivateFailures(t *testing.T) {
	f := newFixture(t)
	corrupt := filepath.Join(f.dir, "corrupt.lock")
	writeFile(t, corrupt, "[1, 2]")

	tests := []struct {
		name string
		opts Options
		want error
	}{
		{"corrupt ledger", Options{LedgerPath: corrupt, Locate: configurator.LocateOptions{Direct: &mockConfigurator{}}}, ledger.ErrCorrupt},
		{"no configurator", Options{LedgerPath: f.ledgerPath()}, configurator.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(tt.opts)
			if err := e.Activate(context.Background(), f.host); !errors.Is(err, tt.want) {
				t.Errorf("Activate() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestNotActivated(t *testing.T) {
	e := New(Options{})
	if err := e.HandlePackageEvent(context.Background(), host.PackageEvent{}); !errors.Is(err, ErrNotActivated) {
		t.Errorf("HandlePackageEvent() error = %v", err)
	}
	if err := e.HandleBatchComplete(context.Background()); !errors.Is(err, ErrNotActivated) {
		t.Errorf("HandleBatchComplete() error = %v", err)
	}
	if err := e.Apply(context.Background(), nil); !errors.Is(err, ErrNotActivated) {
		t.Errorf("Apply() error = %v", err)
	}
	if e.Ledger() != nil || e.Configurator() != nil {
		t.Error("expected no ledger or configurator before activation")
	}
}

func TestObserversSeeEveryCall(t *testing.T) {
	f := newFixture(t)
	f.withRecipe("acme/widget", "2.0", "config/widget.yaml", "x")

	var points []string
	obs := configurator.ObserverFunc(func(ctx context.Context, p configurator.Point, r *recipe.Recipe, err error) {
		points = append(points, p.String()+":"+r.Name())
	})
	activate(t, f, Options{
		Locate:    configurator.LocateOptions{Direct: &mockConfigurator{}},
		Observers: []configurator.Observer{obs},
	})

	_ = f.run(host.OperationInstall, "acme/widget")
	_ = f.run(host.OperationUninstall, "acme/widget")

	want := []string{
		"before_install:acme/widget",
		"after_install:acme/widget",
		"before_unconfigure:acme/widget",
		"after_unconfigure:acme/widget",
	}
	if !reflect.DeepEqual(points, want) {
		t.Errorf("points = %v, want %v", points, want)
	}
}
