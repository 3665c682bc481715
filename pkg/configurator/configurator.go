// Package configurator defines the capability flexhook needs from whatever
// performs the file-system side effects of a recipe, and the adapters that
// obtain one.
//
// A Configurator may be supplied directly, built by a factory, or located
// inside a host plugin and reached through a reflective proxy. Whichever
// strategy wins, the required methods are checked once when the adapter is
// built, not on every call.
package configurator

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/flexhook/flexhook/pkg/recipe"
)

var (
	// ErrNoCapability is returned when a located implementation lacks a
	// required method or exposes it with an unusable signature.
	ErrNoCapability = errors.New("configurator: required capability missing")

	// ErrNotFound is returned when no strategy yields an implementation.
	ErrNotFound = errors.New("configurator: no configurator available")
)

// Configurator applies and reverts recipes.
type Configurator interface {
	// Install applies the recipe to the project.
	Install(ctx context.Context, r *recipe.Recipe) error

	// Unconfigure reverts the recipe from the project.
	Unconfigure(ctx context.Context, r *recipe.Recipe) error
}

// Point is a lifecycle point reported to observers.
type Point int

const (
	BeforeInstall Point = iota
	AfterInstall
	BeforeUnconfigure
	AfterUnconfigure
)

// String returns the point name.
func (p Point) String() string {
	switch p {
	case BeforeInstall:
		return "before_install"
	case AfterInstall:
		return "after_install"
	case BeforeUnconfigure:
		return "before_unconfigure"
	case AfterUnconfigure:
		return "after_unconfigure"
	default:
		return "unknown"
	}
}

// Observer is notified around configurator operations. For the After points
// err carries the operation's result.
type Observer interface {
	Observe(ctx context.Context, point Point, r *recipe.Recipe, err error)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, point Point, r *recipe.Recipe, err error)

// Observe implements Observer.
func (f ObserverFunc) Observe(ctx context.Context, point Point, r *recipe.Recipe, err error) {
	f(ctx, point, r, err)
}

// Observed wraps c so every operation is reported to observers. Observers
// cannot change the outcome of the operation.
func Observed(c Configurator, observers ...Observer) Configurator {
	if len(observers) == 0 {
		return c
	}
	return &observed{next: c, observers: observers}
}

type observed struct {
	next      Configurator
	observers []Observer
}

func (o *observed) Install(ctx context.Context, r *recipe.Recipe) error {
	o.notify(ctx, BeforeInstall, r, nil)
	err := o.next.Install(ctx, r)
	o.notify(ctx, AfterInstall, r, err)
	return err
}

func (o *observed) Unconfigure(ctx context.Context, r *recipe.Recipe) error {
	o.notify(ctx, BeforeUnconfigure, r, nil)
	err := o.next.Unconfigure(ctx, r)
	o.notify(ctx, AfterUnconfigure, r, err)
	return err
}

func (o *observed) notify(ctx context.Context, point Point, r *recipe.Recipe, err error) {
	for _, obs := range o.observers {
		obs.Observe(ctx, point, r, err)
	}
}

// LogObserver logs every lifecycle point at debug level, and failures at
// error level.
func LogObserver(logger zerolog.Logger) Observer {
	logger = logger.With().Str("component", "configurator").Logger()
	return ObserverFunc(func(ctx context.Context, point Point, r *recipe.Recipe, err error) {
		if err != nil {
			logger.Error().
				Err(err).
				Str("point", point.String()).
				Str("package", r.Name()).
				Msg("Configurator operation failed")
			return
		}
		logger.Debug().
			Str("point", point.String()).
			Str("package", r.Name()).
			Str("origin", r.Origin()).
			Int("files", len(r.Files())).
			Msg("Configurator lifecycle")
	})
}
