package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/flexhook/flexhook/pkg/recipe"
)

var (
	// ErrNotActivated is returned by operations that need a host binding.
	ErrNotActivated = errors.New("engine: not activated")

	// ErrNoHost is returned when Activate is called without a host.
	ErrNoHost = errors.New("engine: host is required")

	// ErrFlush marks a ledger write failure.
	ErrFlush = errors.New("engine: ledger flush failed")
)

// ApplyError reports a recipe that could not be applied. The batch it
// belonged to was abandoned at that point.
type ApplyError struct {
	// Package is the name of the package whose recipe failed.
	Package string

	// Version is the package version.
	Version string

	// Job is the transition that failed.
	Job recipe.Job

	// Err is the underlying error.
	Err error

	// Remaining lists the packages that were queued after the failed one
	// and were dropped without being attempted.
	Remaining []string
}

// Error implements the error interface.
func (e *ApplyError) Error() string {
	msg := fmt.Sprintf("failed to %s recipe for %s", e.Job, e.Package)
	if e.Version != "" {
		msg = fmt.Sprintf("failed to %s recipe for %s (%s)", e.Job, e.Package, e.Version)
	}
	if len(e.Remaining) > 0 {
		msg += fmt.Sprintf(" [skipped: %s]", strings.Join(e.Remaining, ", "))
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *ApplyError) Unwrap() error {
	return e.Err
}

// IsApplyError reports whether err is or wraps an *ApplyError.
func IsApplyError(err error) bool {
	var ae *ApplyError
	return errors.As(err, &ae)
}

// AsApplyError extracts the *ApplyError from err's chain.
func AsApplyError(err error) (*ApplyError, bool) {
	var ae *ApplyError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}
