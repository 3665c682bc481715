package configurator

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/rs/zerolog"

	"github.com/flexhook/flexhook/pkg/events"
	"github.com/flexhook/flexhook/pkg/host"
	"github.com/flexhook/flexhook/pkg/proxy"
	"github.com/flexhook/flexhook/pkg/recipe"
)

// Defaults used when scanning host plugins.
const (
	DefaultPluginType  = "Flex"
	DefaultPluginField = "configurator"
	DownloaderField    = "downloader"

	// tmpTypeSuffix marks renamed copies of a plugin type loaded by the host
	// during its own upgrade.
	tmpTypeSuffix = "_composer_tmp"
)

// Method names the capability check requires.
const (
	MethodInstall     = "Install"
	MethodUnconfigure = "Unconfigure"
)

// Factory builds a Configurator for a host.
type Factory func(ctx context.Context, h host.Host) (Configurator, error)

// Decoration names a plugin field to proxy and the methods to observe on it.
type Decoration struct {
	Field   string
	Methods []string
}

// LocateOptions selects the strategies Locate tries, in order: Direct,
// Factory, then a scan of the host's plugins.
type LocateOptions struct {
	// Direct is used as-is when set.
	Direct Configurator

	// Factory is called when Direct is nil.
	Factory Factory

	// PluginType is the plugin type name to scan for. It matches the bare
	// type name, the package-qualified name, or a temporary renamed copy.
	PluginType string

	// PluginField is the plugin field holding the configurator.
	PluginField string

	// Decorations are additional plugin fields to proxy and observe, for
	// example the plugin's downloader.
	Decorations []Decoration

	// Dispatcher receives the observed-call notifications. Defaults to the
	// host dispatcher.
	Dispatcher *events.Dispatcher

	// Logger receives strategy diagnostics.
	Logger zerolog.Logger
}

// Locate obtains a Configurator using the first strategy that succeeds.
func Locate(ctx context.Context, h host.Host, opts LocateOptions) (Configurator, error) {
	logger := opts.Logger.With().Str("component", "configurator-locator").Logger()

	if opts.Direct != nil {
		logger.Debug().Str("strategy", "direct").Msg("Using configured configurator")
		return opts.Direct, nil
	}

	var errs []error
	if opts.Factory != nil {
		c, err := opts.Factory(ctx, h)
		switch {
		case err != nil:
			logger.Debug().Err(err).Str("strategy", "factory").Msg("Factory failed")
			errs = append(errs, fmt.Errorf("factory: %w", err))
		case c == nil:
			errs = append(errs, errors.New("factory: returned nil"))
		default:
			logger.Debug().Str("strategy", "factory").Msg("Using factory configurator")
			return c, nil
		}
	}

	if h != nil {
		c, err := fromPlugins(h, opts, logger)
		if err == nil {
			return c, nil
		}
		errs = append(errs, fmt.Errorf("plugin scan: %w", err))
	}

	if len(errs) == 0 {
		return nil, ErrNotFound
	}
	return nil, fmt.Errorf("%w: %w", ErrNotFound, errors.Join(errs...))
}

func fromPlugins(h host.Host, opts LocateOptions, logger zerolog.Logger) (Configurator, error) {
	typeName := opts.PluginType
	if typeName == "" {
		typeName = DefaultPluginType
	}
	field := opts.PluginField
	if field == "" {
		field = DefaultPluginField
	}
	dispatcher := opts.Dispatcher
	if dispatcher == nil {
		dispatcher = h.Dispatcher()
	}

	plugin := FindPlugin(h.Plugins(), typeName)
	if plugin == nil {
		return nil, fmt.Errorf("no %s plugin loaded", typeName)
	}

	decorations := append([]Decoration{{Field: field, Methods: []string{MethodInstall, MethodUnconfigure}}}, opts.Decorations...)
	proxies, err := Decorate(plugin, dispatcher, opts.Logger, decorations...)
	if err != nil {
		return nil, err
	}
	px, ok := proxies[field]
	if !ok {
		return nil, fmt.Errorf("plugin %T has no usable %q field", plugin, field)
	}

	c, err := Adapt(px)
	if err != nil {
		return nil, err
	}

	logger.Debug().
		Str("strategy", "plugin").
		Str("plugin", fmt.Sprintf("%T", plugin)).
		Str("field", field).
		Msg("Using plugin configurator")
	return c, nil
}

// FindPlugin returns the first plugin whose type matches typeName.
func FindPlugin(plugins []interface{}, typeName string) interface{} {
	for _, p := range plugins {
		if p == nil {
			continue
		}
		if matchesType(reflect.TypeOf(p), typeName) {
			return p
		}
	}
	return nil
}

func matchesType(t reflect.Type, want string) bool {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	name := t.Name()
	qualified := name
	if t.PkgPath() != "" {
		qualified = t.PkgPath() + "." + name
	}
	for _, candidate := range []string{name, qualified} {
		if candidate == want || strings.HasPrefix(candidate, want+tmpTypeSuffix) {
			return true
		}
	}
	return false
}

// Decorate proxies each decorated field of plugin, subscribes the listed
// methods on d, and writes the proxy back into the field when the field's
// type can hold it. Missing or nil fields are skipped.
func Decorate(plugin interface{}, d *events.Dispatcher, logger zerolog.Logger, decorations ...Decoration) (map[string]*proxy.Proxy, error) {
	pluginProxy, err := proxy.Ensure(plugin, proxy.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to wrap plugin: %w", err)
	}

	out := make(map[string]*proxy.Proxy, len(decorations))
	for _, dec := range decorations {
		if !pluginProxy.Has(dec.Field) {
			logger.Debug().Str("field", dec.Field).Msg("Plugin has no such field")
			continue
		}
		value := pluginProxy.Get(dec.Field)
		if value == nil || reflect.ValueOf(value).Kind() == reflect.Ptr && reflect.ValueOf(value).IsNil() {
			logger.Debug().Str("field", dec.Field).Msg("Plugin field is not initialized")
			continue
		}

		opts := []proxy.Option{proxy.WithLogger(logger)}
		if d != nil {
			opts = append(opts, proxy.WithDispatcher(d))
		}
		px, err := proxy.Ensure(value, opts...)
		if err != nil {
			logger.Debug().Err(err).Str("field", dec.Field).Msg("Plugin field cannot be proxied")
			continue
		}
		if d != nil && len(dec.Methods) > 0 {
			if err := px.Subscribe(dec.Field, dec.Methods...); err != nil {
				return nil, fmt.Errorf("failed to subscribe %s: %w", dec.Field, err)
			}
		}

		if ft, ok := pluginProxy.FieldType(dec.Field); ok && reflect.TypeOf(px).AssignableTo(ft) {
			pluginProxy.Set(dec.Field, px)
		}

		out[dec.Field] = px
	}

	return out, nil
}

// Adapt checks once that px exposes Install and Unconfigure with a usable
// signature and returns a Configurator that calls through it. Accepted
// signatures take (context.Context, *recipe.Recipe) or (*recipe.Recipe) and
// return nothing or an error.
func Adapt(px *proxy.Proxy) (Configurator, error) {
	if c, ok := px.Target().(Configurator); ok && !px.Observed(MethodInstall) && !px.Observed(MethodUnconfigure) {
		return c, nil
	}

	install, err := checkMethod(px, MethodInstall)
	if err != nil {
		return nil, err
	}
	unconfigure, err := checkMethod(px, MethodUnconfigure)
	if err != nil {
		return nil, err
	}

	return &proxyConfigurator{px: px, install: install, unconfigure: unconfigure}, nil
}

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	recipeType  = reflect.TypeOf(&recipe.Recipe{})
)

type methodShape struct {
	name        string
	withContext bool
	returnsErr  bool
}

func checkMethod(px *proxy.Proxy, name string) (methodShape, error) {
	mt, ok := px.MethodType(name)
	if !ok {
		return methodShape{}, fmt.Errorf("%w: %T has no %s method", ErrNoCapability, px.Target(), name)
	}

	shape := methodShape{name: name}
	switch mt.NumIn() {
	case 1:
		if !recipeType.AssignableTo(mt.In(0)) {
			return methodShape{}, fmt.Errorf("%w: %T.%s does not accept a recipe", ErrNoCapability, px.Target(), name)
		}
	case 2:
		if !contextType.AssignableTo(mt.In(0)) || !recipeType.AssignableTo(mt.In(1)) {
			return methodShape{}, fmt.Errorf("%w: %T.%s does not accept (context, recipe)", ErrNoCapability, px.Target(), name)
		}
		shape.withContext = true
	default:
		return methodShape{}, fmt.Errorf("%w: %T.%s takes %d arguments", ErrNoCapability, px.Target(), name, mt.NumIn())
	}

	switch {
	case mt.NumOut() == 0:
	case mt.NumOut() == 1 && mt.Out(0).Implements(errorType):
		shape.returnsErr = true
	default:
		return methodShape{}, fmt.Errorf("%w: %T.%s must return nothing or an error", ErrNoCapability, px.Target(), name)
	}

	return shape, nil
}

type proxyConfigurator struct {
	px          *proxy.Proxy
	install     methodShape
	unconfigure methodShape
}

func (c *proxyConfigurator) Install(ctx context.Context, r *recipe.Recipe) error {
	return c.call(ctx, c.install, r)
}

func (c *proxyConfigurator) Unconfigure(ctx context.Context, r *recipe.Recipe) error {
	return c.call(ctx, c.unconfigure, r)
}

func (c *proxyConfigurator) call(ctx context.Context, m methodShape, r *recipe.Recipe) error {
	args := []interface{}{r}
	if m.withContext {
		args = []interface{}{ctx, r}
	}

	results, err := c.px.Invoke(ctx, m.name, args...)
	if err != nil {
		return err
	}
	if m.returnsErr && len(results) == 1 && results[0] != nil {
		if callErr, ok := results[0].(error); ok {
			return callErr
		}
	}
	return nil
}

// ListenVerbose logs the observed-call notifications of decorations at
// debug level.
func ListenVerbose(d *events.Dispatcher, logger zerolog.Logger, decorations ...Decoration) {
	logger = logger.With().Str("component", "configurator").Logger()
	listener := func(ctx context.Context, e *events.Event) error {
		entry := logger.Debug().Str("event", e.Name)
		if args, ok := e.Data[proxy.DataArguments].([]interface{}); ok {
			for _, a := range args {
				if r, ok := a.(*recipe.Recipe); ok {
					entry = entry.Str("package", r.Name())
					break
				}
			}
		}
		entry.Msg("Flex/" + e.Name)
		return nil
	}

	for _, dec := range decorations {
		for _, m := range dec.Methods {
			d.AddListener(proxy.EventName(proxy.PhasePre, dec.Field, m), listener, 0)
			d.AddListener(proxy.EventName(proxy.PhasePost, dec.Field, m), listener, 0)
		}
	}
}
