// Package daemonerr defines the error-kind taxonomy used throughout lightdmd
// to decide recovery policy: local absorption, retry, or process termination.
package daemonerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for recovery purposes. See spec §7.
type Kind int

const (
	// KindConfig is fatal at startup.
	KindConfig Kind = iota
	// KindSpawn is Display-local; the Display makes up to 3 start attempts.
	KindSpawn
	// KindAuthFailure is reported to the greeter; the Display continues.
	KindAuthFailure
	// KindAuthSystemError is reported to the greeter and logged; the Display continues.
	KindAuthSystemError
	// KindProtocol closes the greeter connection and moves the Display to STOPPING.
	KindProtocol
	// KindChildCrash is handled per the Display's current state.
	KindChildCrash
	// KindPrivilege is fatal: the process can no longer be trusted to continue.
	KindPrivilege
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config_error"
	case KindSpawn:
		return "spawn_error"
	case KindAuthFailure:
		return "auth_failure"
	case KindAuthSystemError:
		return "auth_system_error"
	case KindProtocol:
		return "protocol_error"
	case KindChildCrash:
		return "child_crash"
	case KindPrivilege:
		return "privilege_error"
	default:
		return "unknown_error"
	}
}

// Fatal reports whether an error of this kind should terminate the daemon.
func (k Kind) Fatal() bool {
	return k == KindConfig || k == KindPrivilege
}

// kindError attaches a Kind to a wrapped error.
type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string {
	return fmt.Sprintf("%s: %s", e.kind, e.err)
}

func (e *kindError) Unwrap() error { return e.err }

// Wrap attaches kind to err, producing an error that errors.As(*kindError)
// and Of() can recover the kind from.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: err}
}

// Newf builds a new Kind-tagged error from a format string.
func Newf(kind Kind, format string, args ...any) error {
	return &kindError{kind: kind, err: fmt.Errorf(format, args...)}
}

// Of recovers the Kind attached to err via Wrap/Newf, if any.
func Of(err error) (Kind, bool) {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind, true
	}
	return 0, false
}
