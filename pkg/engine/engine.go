package engine

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/flexhook/flexhook/pkg/configurator"
	"github.com/flexhook/flexhook/pkg/events"
	"github.com/flexhook/flexhook/pkg/host"
	"github.com/flexhook/flexhook/pkg/ledger"
	"github.com/flexhook/flexhook/pkg/recipe"
	"github.com/flexhook/flexhook/pkg/telemetry"
)

// State is the engine's position in a host run.
type State int

const (
	StateIdle State = iota
	StateCollecting
	StateApplying
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCollecting:
		return "collecting"
	case StateApplying:
		return "applying"
	default:
		return "unknown"
	}
}

// FlushPolicy controls when the ledger is written during a batch.
type FlushPolicy string

const (
	// FlushIncremental writes the ledger after every successful recipe.
	FlushIncremental FlushPolicy = "incremental"

	// FlushBatch writes the ledger once after the whole queue.
	FlushBatch FlushPolicy = "batch"
)

// Options configures an Engine.
type Options struct {
	// LedgerPath is the ledger file. Defaults to ledger.DefaultFileName in
	// the working directory.
	LedgerPath string

	// Ledger is used instead of opening LedgerPath when set.
	Ledger *ledger.Ledger

	// Locate selects how the configurator is obtained. Its Logger is
	// replaced by the engine logger.
	Locate configurator.LocateOptions

	// FlushPolicy defaults to FlushIncremental.
	FlushPolicy FlushPolicy

	// Observers are notified around every configurator call, after the
	// built-in log and metrics observers.
	Observers []configurator.Observer

	// History receives one record per attempted recipe.
	History History

	Logger  zerolog.Logger
	Output  io.Writer
	Metrics *telemetry.Metrics
	Tracer  *telemetry.Tracer
}

// Engine queues recipes during a host run and applies them at batch end.
// Handlers run on the dispatcher's goroutine and must not be re-entered
// from inside a configurator call.
type Engine struct {
	opts   Options
	logger zerolog.Logger
	out    io.Writer

	once        sync.Once
	activateErr error

	mu           sync.Mutex
	activated    bool
	host         host.Host
	ledger       *ledger.Ledger
	resolver     *recipe.Resolver
	configurator configurator.Configurator
	state        State
	queue        []*recipe.Recipe
}

// New creates an engine. It does nothing until Activate is called.
func New(opts Options) *Engine {
	if opts.LedgerPath == "" {
		opts.LedgerPath = ledger.DefaultFileName
	}
	if opts.FlushPolicy == "" {
		opts.FlushPolicy = FlushIncremental
	}
	if opts.Tracer == nil {
		opts.Tracer = telemetry.NoopTracer()
	}
	out := opts.Output
	if out == nil {
		out = io.Discard
	}

	return &Engine{
		opts:   opts,
		logger: opts.Logger.With().Str("component", "engine").Logger(),
		out:    out,
		state:  StateIdle,
	}
}

// Activate binds the engine to h: it opens the ledger, locates the
// configurator and subscribes to the host events. Only the first call does
// any work; later calls return its result.
func (e *Engine) Activate(ctx context.Context, h host.Host) error {
	e.once.Do(func() {
		e.activateErr = e.activate(ctx, h)
	})
	return e.activateErr
}

func (e *Engine) activate(ctx context.Context, h host.Host) error {
	if h == nil {
		return ErrNoHost
	}

	l := e.opts.Ledger
	if l == nil {
		var err error
		l, err = ledger.Open(e.opts.LedgerPath)
		if err != nil {
			return fmt.Errorf("failed to open ledger: %w", err)
		}
	}

	locate := e.opts.Locate
	locate.Logger = e.opts.Logger
	c, err := configurator.Locate(ctx, h, locate)
	if err != nil {
		return fmt.Errorf("failed to locate configurator: %w", err)
	}

	observers := []configurator.Observer{configurator.LogObserver(e.opts.Logger)}
	if e.opts.Metrics != nil {
		observers = append(observers, MetricsObserver(e.opts.Metrics))
	}
	observers = append(observers, e.opts.Observers...)

	e.mu.Lock()
	e.host = h
	e.ledger = l
	e.resolver = recipe.NewResolver(h, e.opts.Logger)
	e.configurator = configurator.Observed(c, observers...)
	e.activated = true
	e.mu.Unlock()

	d := h.Dispatcher()
	d.AddListener(host.EventPostPackageInstall, e.onPackageEvent, 0)
	d.AddListener(host.EventPrePackageUninstall, e.onPackageEvent, 0)
	d.AddListener(host.EventPostPackageUpdate, e.onPackageEvent, 0)
	d.AddListener(host.EventPostInstallCmd, e.onBatchComplete, 0)
	d.AddListener(host.EventPostUpdateCmd, e.onBatchComplete, 0)

	e.logger.Debug().
		Str("ledger", l.Path()).
		Int("entries", l.Len()).
		Str("flush_policy", string(e.opts.FlushPolicy)).
		Msg("Engine activated")
	return nil
}

func (e *Engine) onPackageEvent(ctx context.Context, ev *events.Event) error {
	switch p := ev.Payload.(type) {
	case host.PackageEvent:
		return e.HandlePackageEvent(ctx, p)
	case *host.PackageEvent:
		return e.HandlePackageEvent(ctx, *p)
	default:
		e.logger.Warn().Str("event", ev.Name).Msgf("Unexpected payload %T", ev.Payload)
		return nil
	}
}

func (e *Engine) onBatchComplete(ctx context.Context, _ *events.Event) error {
	return e.HandleBatchComplete(ctx)
}

// HandlePackageEvent queues the package's recipe when its transition is due.
func (e *Engine) HandlePackageEvent(ctx context.Context, ev host.PackageEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.activated {
		return ErrNotActivated
	}

	job, ok := recipe.JobFor(ev.Operation)
	if !ok {
		e.logger.Debug().
			Str("package", ev.Package.Name).
			Str("operation", string(ev.Operation)).
			Msg("Ignoring operation")
		return nil
	}
	if e.state == StateIdle {
		e.state = StateCollecting
	}

	r := e.resolver.Resolve(ev.Package, job)
	if r == nil {
		return nil
	}

	if !e.eligible(r) {
		return nil
	}
	for _, queued := range e.queue {
		if queued.Name() == r.Name() && queued.Job() == r.Job() {
			e.logger.Debug().Str("package", r.Name()).Msg("Recipe already queued")
			return nil
		}
	}

	e.queue = append(e.queue, r)
	e.opts.Metrics.SetPending(len(e.queue))

	e.logger.Debug().
		Str("package", r.Name()).
		Str("version", r.Version()).
		Str("job", string(job)).
		Int("pending", len(e.queue)).
		Msg("Recipe queued")
	return nil
}

// eligible reports whether the ledger says r's transition is due: install
// when the package is not recorded, uninstall when it is.
func (e *Engine) eligible(r *recipe.Recipe) bool {
	recorded := e.ledger.Has(r.Name())
	switch r.Job() {
	case recipe.JobInstall:
		if recorded {
			if v, _ := e.ledger.Version(r.Name()); v != r.Version() {
				log := e.logger.Info().
					Str("package", r.Name()).
					Str("recorded", v).
					Str("version", r.Version())
				if e.ledger.IsOlder(r.Name(), r.Version()) {
					log.Msg("Recipe applied for older version")
				} else {
					log.Msg("Recipe applied for different version")
				}
			}
			return false
		}
		return true
	case recipe.JobUninstall:
		return recorded
	default:
		return false
	}
}

// HandleBatchComplete applies the queued recipes in arrival order.
func (e *Engine) HandleBatchComplete(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.activated {
		return ErrNotActivated
	}
	if len(e.queue) == 0 {
		e.state = StateIdle
		return nil
	}

	queue := e.queue
	e.state = StateApplying
	defer func() {
		e.queue = nil
		e.state = StateIdle
		e.opts.Metrics.SetPending(0)
	}()

	batchID := uuid.New().String()
	timer := telemetry.NewTimer()
	ctx, span := e.opts.Tracer.StartBatchSpan(ctx, batchID, len(queue))
	defer span.End()

	logger := e.logger.With().Str("batch_id", batchID).Logger()
	logger.Debug().Int("recipes", len(queue)).Msg("Applying batch")

	for i, r := range queue {
		if err := ctx.Err(); err != nil {
			return e.abandon(span, timer, queue, i, err)
		}
		if err := e.apply(ctx, batchID, r); err != nil {
			return e.abandon(span, timer, queue, i, err)
		}
		if e.opts.FlushPolicy == FlushIncremental {
			if err := e.flush(); err != nil {
				return e.abandon(span, timer, queue, i, err)
			}
		}
	}

	if e.opts.FlushPolicy == FlushBatch {
		if err := e.flush(); err != nil {
			// The write covers the whole queue; the error names its last recipe.
			return e.abandon(span, timer, queue, len(queue)-1, err)
		}
	}

	telemetry.RecordSuccess(span)
	e.opts.Metrics.RecordBatch(telemetry.StatusSuccess, timer.Duration())
	logger.Debug().Dur("duration", timer.Duration()).Msg("Batch applied")
	return nil
}

// abandon drops the rest of the queue after the recipe at index failed and
// builds the error returned to the host.
func (e *Engine) abandon(span trace.Span, timer *telemetry.Timer, queue []*recipe.Recipe, failed int, err error) error {
	r := queue[failed]
	remaining := make([]string, 0, len(queue)-failed-1)
	for _, q := range queue[failed+1:] {
		remaining = append(remaining, q.Name())
	}

	telemetry.RecordError(span, err)
	e.opts.Metrics.RecordBatch(telemetry.StatusFailure, timer.Duration())
	e.logger.Error().
		Err(err).
		Str("package", r.Name()).
		Str("job", string(r.Job())).
		Strs("skipped", remaining).
		Msg("Batch abandoned")

	return &ApplyError{
		Package:   r.Name(),
		Version:   r.Version(),
		Job:       r.Job(),
		Err:       err,
		Remaining: remaining,
	}
}

// apply runs the configurator for r and updates the in-memory ledger on
// success. The ledger is not written here.
func (e *Engine) apply(ctx context.Context, batchID string, r *recipe.Recipe) error {
	ctx, span := e.opts.Tracer.StartRecipeSpan(ctx, r.Name(), r.Version(), string(r.Job()))
	defer span.End()

	started := time.Now()
	var err error
	switch r.Job() {
	case recipe.JobInstall:
		fmt.Fprintf(e.out, "  - Configuring %s\n", r.Name())
		if err = e.configurator.Install(ctx, r); err == nil {
			err = e.ledger.Add(r.Name(), r.Version())
		}
	case recipe.JobUninstall:
		fmt.Fprintf(e.out, "  - Unconfiguring %s\n", r.Name())
		if err = e.configurator.Unconfigure(ctx, r); err == nil {
			e.ledger.Remove(r.Name())
		}
	default:
		err = fmt.Errorf("unsupported job %q", r.Job())
	}

	e.record(ctx, batchID, r, started, err)
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	telemetry.RecordSuccess(span)
	return nil
}

func (e *Engine) record(ctx context.Context, batchID string, r *recipe.Recipe, started time.Time, err error) {
	if e.opts.History == nil {
		return
	}
	rec := HistoryRecord{
		BatchID:   batchID,
		Package:   r.Name(),
		Version:   r.Version(),
		Job:       r.Job(),
		Status:    telemetry.StatusSuccess,
		AppliedAt: started.UTC(),
		Duration:  time.Since(started),
	}
	if err != nil {
		rec.Status = telemetry.StatusFailure
		rec.Error = err.Error()
	}
	if herr := e.opts.History.RecordApply(ctx, rec); herr != nil {
		e.logger.Warn().Err(herr).Str("package", r.Name()).Msg("Failed to record apply history")
	}
}

func (e *Engine) flush() error {
	if err := e.ledger.Write(); err != nil {
		e.opts.Metrics.RecordFlush(telemetry.StatusFailure)
		return fmt.Errorf("%w: %w", ErrFlush, err)
	}
	e.opts.Metrics.RecordFlush(telemetry.StatusSuccess)
	return nil
}

// Apply runs r immediately, outside of any host run, and writes the ledger.
// It is used by the manual apply command.
func (e *Engine) Apply(ctx context.Context, r *recipe.Recipe) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.activated {
		return ErrNotActivated
	}
	if r == nil {
		return fmt.Errorf("cannot apply nil recipe")
	}

	prev := e.state
	e.state = StateApplying
	defer func() { e.state = prev }()

	batchID := uuid.New().String()
	if err := e.apply(ctx, batchID, r); err != nil {
		return &ApplyError{Package: r.Name(), Version: r.Version(), Job: r.Job(), Err: err}
	}
	if err := e.flush(); err != nil {
		return &ApplyError{Package: r.Name(), Version: r.Version(), Job: r.Job(), Err: err}
	}
	return nil
}

// Resolve resolves the recipe of pkg for job using the activated host.
func (e *Engine) Resolve(pkg host.PackageRef, job recipe.Job) (*recipe.Recipe, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.activated {
		return nil, ErrNotActivated
	}
	return e.resolver.Resolve(pkg, job), nil
}

// Pending returns a copy of the queued recipes.
func (e *Engine) Pending() []*recipe.Recipe {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]*recipe.Recipe, len(e.queue))
	copy(out, e.queue)
	return out
}

// State returns the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Ledger returns the ledger, or nil before activation.
func (e *Engine) Ledger() *ledger.Ledger {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger
}

// Configurator returns the observed configurator, or nil before activation.
func (e *Engine) Configurator() configurator.Configurator {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.configurator
}
