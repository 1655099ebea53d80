package harvest

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by artifact stores when a key does not exist.
	ErrNotFound = errors.New("artifact not found")
	// ErrWaitTimeout is returned by drivers when an awaited element never appeared.
	ErrWaitTimeout = errors.New("wait timed out")
	// ErrLoginRejected is returned when the sign-in form survives a submit.
	ErrLoginRejected = errors.New("sign-in form still present after submit")
)

// fatal is implemented by errors that abort a run before any subject is processed.
type fatal interface {
	Fatal() bool
}

// IsFatal reports whether err aborts the whole run.
func IsFatal(err error) bool {
	var f fatal
	return errors.As(err, &f) && f.Fatal()
}

// ConfigurationError means the run was refused before any driver call.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string { return "configuration error: " + e.Reason }

// Fatal implements fatal.
func (e *ConfigurationError) Fatal() bool { return true }

// LoginError means the authentication flow failed.
type LoginError struct {
	Step string
	Err  error
}

func (e *LoginError) Error() string { return fmt.Sprintf("login failed at %s: %v", e.Step, e.Err) }

func (e *LoginError) Unwrap() error { return e.Err }

// Fatal implements fatal.
func (e *LoginError) Fatal() bool { return true }

// RosterFormatError means the roster could not be parsed into subjects.
type RosterFormatError struct {
	Source string
	Err    error
}

func (e *RosterFormatError) Error() string {
	return fmt.Sprintf("roster %s: %v", e.Source, e.Err)
}

func (e *RosterFormatError) Unwrap() error { return e.Err }

// Fatal implements fatal.
func (e *RosterFormatError) Fatal() bool { return true }

// DeltaComputationError means the qualifying subject set could not be trusted.
type DeltaComputationError struct {
	Err error
}

func (e *DeltaComputationError) Error() string { return fmt.Sprintf("delta computation: %v", e.Err) }

func (e *DeltaComputationError) Unwrap() error { return e.Err }

// Fatal implements fatal.
func (e *DeltaComputationError) Fatal() bool { return true }

// ExtractionTimeout means the element gating State never appeared.
type ExtractionTimeout struct {
	State    State
	Selector string
	Err      error
}

func (e *ExtractionTimeout) Error() string {
	return fmt.Sprintf("timeout reaching %s waiting for %q: %v", e.State, e.Selector, e.Err)
}

func (e *ExtractionTimeout) Unwrap() error { return e.Err }

// ExtractionMissingData means the page loaded but the expected data was absent.
type ExtractionMissingData struct {
	State State
	What  string
}

func (e *ExtractionMissingData) Error() string {
	return fmt.Sprintf("missing %s reaching %s", e.What, e.State)
}

// StorageError wraps a failed artifact read or write.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage %s %s: %v", e.Op, e.Key, e.Err) }

func (e *StorageError) Unwrap() error { return e.Err }

// failureReason renders the short reason recorded on a Failed result.
func failureReason(target State, err error) string {
	var timeout *ExtractionTimeout
	var missing *ExtractionMissingData
	switch {
	case errors.As(err, &timeout):
		return "timeout:" + timeout.State.String()
	case errors.As(err, &missing):
		return "missing-data:" + missing.State.String()
	default:
		return "error:" + target.String()
	}
}
