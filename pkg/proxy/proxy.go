// Package proxy forwards method calls and field access to an object whose
// concrete shape is only known at run time.
//
// Members are resolved by name through reflection and cached per proxy.
// A member that does not exist, or a call whose arguments do not fit, is
// logged and degrades to a nil result instead of failing the caller.
// Methods marked with Subscribe are bracketed by pre- and post- events on
// an events.Dispatcher so other components can observe them.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"unsafe"

	"github.com/rs/zerolog"

	"github.com/flexhook/flexhook/pkg/events"
)

var (
	// ErrInvalidTarget is returned when wrapping something that is not a
	// non-nil pointer.
	ErrInvalidTarget = errors.New("proxy: target must be a non-nil pointer")

	// ErrNoDispatcher is returned by Subscribe when no dispatcher is set.
	ErrNoDispatcher = errors.New("proxy: event dispatcher must be set")

	// ErrEmptyNamespace is returned by Subscribe for an empty namespace.
	ErrEmptyNamespace = errors.New("proxy: namespace must not be empty")
)

// Phase distinguishes the two notifications around an observed call.
type Phase string

const (
	PhasePre  Phase = "pre"
	PhasePost Phase = "post"
)

// Event data keys.
const (
	DataArguments = "arguments"
	DataReturn    = "return"
)

// EventName builds the name of the notification emitted for an observed
// call, for example "pre-flex-configurator-Install".
func EventName(phase Phase, namespace, method string) string {
	return string(phase) + "-flex-" + strings.ToLower(namespace) + "-" + method
}

// Option configures a Proxy.
type Option func(*Proxy)

// WithDispatcher sets the bus observed calls are reported on.
func WithDispatcher(d *events.Dispatcher) Option {
	return func(p *Proxy) {
		p.dispatcher = d
	}
}

// WithLogger sets the logger used for degradation diagnostics.
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Proxy) {
		p.logger = logger.With().Str("component", "proxy").Logger()
	}
}

// Proxy is a tolerant, reflective handle on a target object.
type Proxy struct {
	target interface{}
	value  reflect.Value
	elem   reflect.Value

	dispatcher *events.Dispatcher
	logger     zerolog.Logger

	mu        sync.Mutex
	methods   map[string]*methodEntry
	fields    map[string]*fieldEntry
	namespace string
	observed  map[string]bool
}

type methodEntry struct {
	name string
	fn   reflect.Value
}

type fieldEntry struct {
	name  string
	index []int
}

// Wrap creates a proxy around target, which must be a non-nil pointer.
func Wrap(target interface{}, opts ...Option) (*Proxy, error) {
	if p, ok := target.(*Proxy); ok && p != nil {
		return nil, fmt.Errorf("%w: target is already a proxy", ErrInvalidTarget)
	}

	v := reflect.ValueOf(target)
	if !v.IsValid() || v.Kind() != reflect.Ptr || v.IsNil() {
		return nil, fmt.Errorf("%w: got %T", ErrInvalidTarget, target)
	}

	p := &Proxy{
		target:   target,
		value:    v,
		elem:     v.Elem(),
		logger:   zerolog.Nop(),
		methods:  make(map[string]*methodEntry),
		fields:   make(map[string]*fieldEntry),
		observed: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Ensure returns target itself when it already is a proxy, with opts
// applied, and wraps it otherwise.
func Ensure(target interface{}, opts ...Option) (*Proxy, error) {
	if p, ok := target.(*Proxy); ok && p != nil {
		for _, opt := range opts {
			opt(p)
		}
		return p, nil
	}
	return Wrap(target, opts...)
}

// Target returns the wrapped object.
func (p *Proxy) Target() interface{} {
	return p.target
}

// SetDispatcher replaces the event dispatcher.
func (p *Proxy) SetDispatcher(d *events.Dispatcher) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dispatcher = d
}

// Subscribe marks methods as observed under namespace, replacing any
// previous subscription.
func (p *Proxy) Subscribe(namespace string, methods ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.dispatcher == nil {
		return ErrNoDispatcher
	}
	if namespace == "" {
		return ErrEmptyNamespace
	}

	p.namespace = namespace
	p.observed = make(map[string]bool, len(methods))
	for _, m := range methods {
		p.observed[m] = true
	}
	return nil
}

// Observed reports whether calls to method emit notifications.
func (p *Proxy) Observed(method string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.observed[method]
}

// Call invokes method with args and returns its results. A missing method,
// an argument mismatch or a failing observer yields a logged nil result.
func (p *Proxy) Call(method string, args ...interface{}) []interface{} {
	results, err := p.Invoke(context.Background(), method, args...)
	if err != nil {
		p.logger.Warn().Err(err).Str("method", method).Msg("Proxied call failed")
	}
	return results
}

// Invoke is Call with a context for the observers and an error for
// observer failures. Missing members still degrade to a nil result with a
// nil error.
func (p *Proxy) Invoke(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	entry := p.lookupMethod(method)
	if entry == nil {
		return nil, nil
	}

	in, err := buildArgs(entry.fn.Type(), args)
	if err != nil {
		p.logger.Warn().
			Err(err).
			Str("method", method).
			Str("type", p.value.Type().String()).
			Msg("Arguments do not match method signature")
		return nil, nil
	}

	p.mu.Lock()
	dispatcher := p.dispatcher
	observed := p.observed[method] && dispatcher != nil
	namespace := p.namespace
	p.mu.Unlock()

	if observed {
		data := map[string]interface{}{DataArguments: args}
		if err := dispatcher.Emit(ctx, EventName(PhasePre, namespace, method), p, data); err != nil {
			return nil, err
		}
	}

	out := entry.fn.Call(in)
	results := make([]interface{}, len(out))
	for i, v := range out {
		results[i] = v.Interface()
	}

	if observed {
		data := map[string]interface{}{DataArguments: args, DataReturn: results}
		if err := dispatcher.Emit(ctx, EventName(PhasePost, namespace, method), p, data); err != nil {
			return results, err
		}
	}

	return results, nil
}

// HasMethod reports whether method resolves on the target.
func (p *Proxy) HasMethod(method string) bool {
	return p.findMethod(method) != nil
}

// MethodType returns the signature method resolves to, without the receiver.
func (p *Proxy) MethodType(method string) (reflect.Type, bool) {
	entry := p.findMethod(method)
	if entry == nil {
		return nil, false
	}
	return entry.fn.Type(), true
}

// Get returns the value of field, or nil when it does not exist.
func (p *Proxy) Get(field string) interface{} {
	f, ok := p.fieldValue(field)
	if !ok {
		return nil
	}
	return f.Interface()
}

// Set assigns value to field and reports whether it was assigned.
func (p *Proxy) Set(field string, value interface{}) bool {
	f, ok := p.fieldValue(field)
	if !ok {
		return false
	}

	var v reflect.Value
	if value == nil {
		if !nillable(f.Kind()) {
			p.logger.Warn().Str("field", field).Msg("Cannot assign nil to field")
			return false
		}
		v = reflect.Zero(f.Type())
	} else {
		v = reflect.ValueOf(value)
		if !v.Type().AssignableTo(f.Type()) {
			p.logger.Warn().
				Str("field", field).
				Str("want", f.Type().String()).
				Str("got", v.Type().String()).
				Msg("Value does not match field type")
			return false
		}
	}

	f.Set(v)
	return true
}

// Has reports whether field exists on the target.
func (p *Proxy) Has(field string) bool {
	return p.findField(field) != nil
}

// FieldType returns the declared type of field.
func (p *Proxy) FieldType(field string) (reflect.Type, bool) {
	entry := p.findField(field)
	if entry == nil {
		return nil, false
	}
	return p.elem.Type().FieldByIndex(entry.index).Type, true
}

func (p *Proxy) lookupMethod(name string) *methodEntry {
	entry := p.findMethod(name)
	if entry == nil {
		p.logger.Warn().
			Str("method", name).
			Str("type", p.value.Type().String()).
			Msg("Method doesn't exist")
	}
	return entry
}

// findMethod resolves name exactly first, then case-insensitively.
func (p *Proxy) findMethod(name string) *methodEntry {
	p.mu.Lock()
	defer p.mu.Unlock()

	if entry, ok := p.methods[name]; ok {
		return entry
	}

	var entry *methodEntry
	if m := p.value.MethodByName(name); m.IsValid() {
		entry = &methodEntry{name: name, fn: m}
	} else {
		t := p.value.Type()
		for i := 0; i < t.NumMethod(); i++ {
			if strings.EqualFold(t.Method(i).Name, name) {
				entry = &methodEntry{name: t.Method(i).Name, fn: p.value.Method(i)}
				break
			}
		}
	}

	p.methods[name] = entry
	return entry
}

func (p *Proxy) findField(name string) *fieldEntry {
	p.mu.Lock()
	defer p.mu.Unlock()

	if entry, ok := p.fields[name]; ok {
		return entry
	}

	var entry *fieldEntry
	if p.elem.Kind() == reflect.Struct {
		t := p.elem.Type()
		if sf, ok := t.FieldByName(name); ok {
			entry = &fieldEntry{name: sf.Name, index: sf.Index}
		} else if sf, ok := t.FieldByNameFunc(func(n string) bool { return strings.EqualFold(n, name) }); ok {
			entry = &fieldEntry{name: sf.Name, index: sf.Index}
		}
	}

	p.fields[name] = entry
	return entry
}

// fieldValue returns a settable view of field, reaching unexported fields
// through their address.
func (p *Proxy) fieldValue(name string) (reflect.Value, bool) {
	entry := p.findField(name)
	if entry == nil {
		p.logger.Warn().
			Str("field", name).
			Str("type", p.value.Type().String()).
			Msg("Property doesn't exist")
		return reflect.Value{}, false
	}

	f, err := p.elem.FieldByIndexErr(entry.index)
	if err != nil {
		p.logger.Warn().Err(err).Str("field", name).Msg("Property is not reachable")
		return reflect.Value{}, false
	}
	if !f.CanSet() {
		f = reflect.NewAt(f.Type(), unsafe.Pointer(f.UnsafeAddr())).Elem()
	}
	return f, true
}

// buildArgs converts args to call values for a method of type ft.
func buildArgs(ft reflect.Type, args []interface{}) ([]reflect.Value, error) {
	n := ft.NumIn()
	if ft.IsVariadic() {
		if len(args) < n-1 {
			return nil, fmt.Errorf("expected at least %d arguments, got %d", n-1, len(args))
		}
	} else if len(args) != n {
		return nil, fmt.Errorf("expected %d arguments, got %d", n, len(args))
	}

	in := make([]reflect.Value, len(args))
	for i, arg := range args {
		var want reflect.Type
		if ft.IsVariadic() && i >= n-1 {
			want = ft.In(n - 1).Elem()
		} else {
			want = ft.In(i)
		}

		if arg == nil {
			if !nillable(want.Kind()) {
				return nil, fmt.Errorf("argument %d: cannot use nil as %s", i, want)
			}
			in[i] = reflect.Zero(want)
			continue
		}

		v := reflect.ValueOf(arg)
		if !v.Type().AssignableTo(want) {
			return nil, fmt.Errorf("argument %d: cannot use %s as %s", i, v.Type(), want)
		}
		in[i] = v
	}
	return in, nil
}

func nillable(k reflect.Kind) bool {
	switch k {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return true
	default:
		return false
	}
}
