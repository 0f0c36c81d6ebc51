package model

import (
	"errors"
	"fmt"
)

// FailureKind classifies why a check could not produce a result.
type FailureKind string

const (
	// EnvironmentError means the browser process failed to start. Fatal,
	// never retried by the engine.
	EnvironmentError FailureKind = "environment_error"
	// NavigationError means the portal was unreachable or never finished
	// loading within bound.
	NavigationError FailureKind = "navigation_error"
	// Timeout means an expected result container or selector never appeared.
	Timeout FailureKind = "timeout"
	// ValidationRejected means the portal itself refused an input (malformed
	// plate, wrong captcha code). Retrying without changing the input is
	// pointless.
	ValidationRejected FailureKind = "validation_rejected"
	// ExtractionError means a result container appeared but its structure
	// matched no known layout; the adapter is out of sync with the portal.
	ExtractionError FailureKind = "extraction_error"
	// SessionExpired means a phase-two request found no retained session for
	// the user; the two-phase flow must restart from phase one.
	SessionExpired FailureKind = "session_expired"
)

// Failure is the engine's error value. It travels by value through adapter
// and coordinator return paths; partial results are never attached to it.
type Failure struct {
	Kind    FailureKind
	Message string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// Retriable reports whether an identical request may legitimately be retried.
func (f *Failure) Retriable() bool {
	switch f.Kind {
	case NavigationError, Timeout:
		return true
	}
	return false
}

func Failuref(kind FailureKind, format string, args ...any) *Failure {
	return &Failure{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// AsFailure unwraps err into the engine's failure value, if it is one.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}
