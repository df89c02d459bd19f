// Package backuperr provides a lightweight structured error type for
// category-based classification and fatal/non-fatal propagation across the
// snapshot engine, chain manager, and restore planner.
package backuperr

import "fmt"

// Kind classifies an error per the taxonomy the core components agree on.
type Kind string

const (
	// ConfigInvalid covers malformed or contradictory configuration. Fatal at startup.
	ConfigInvalid Kind = "config_invalid"
	// RepositoryInconsistent covers a metadata/disk mismatch or malformed snapshot name.
	// Non-fatal: triggers a forced full snapshot on the next run.
	RepositoryInconsistent Kind = "repository_inconsistent"
	// ChainCorrupt covers an unreadable delta or a missing full snapshot in the chain.
	// Non-fatal: triggers a forced full snapshot on the next run.
	ChainCorrupt Kind = "chain_corrupt"
	// IOError covers a read/write/copy failure. Aborts the current snapshot job only.
	IOError Kind = "io_error"
	// RestoreUnsatisfiable covers a cutoff with no eligible full snapshot. Fatal for the restore.
	RestoreUnsatisfiable Kind = "restore_unsatisfiable"
	// DeltaFormatError covers a delta that failed to deserialize during apply. Fatal for the restore.
	DeltaFormatError Kind = "delta_format_error"
)

// Fields carries structured context for an Error.
type Fields map[string]any

// Error is the structured error type threaded through the engine.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
	Context Fields
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap enables errors.Is/errors.As against the wrapped cause.
func (e *Error) Unwrap() error { return e.Cause }

// WithContext attaches a structured context field and returns the receiver.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(Fields)
	}
	e.Context[key] = value
	return e
}

// New creates a new Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates a new Error of the given kind wrapping cause.
func Wrap(cause error, kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Fatal reports whether errors of this kind should abort the whole process
// (configuration problems and restore-time failures), as opposed to being
// isolated to a single snapshot job.
func (k Kind) Fatal() bool {
	switch k {
	case ConfigInvalid, RestoreUnsatisfiable, DeltaFormatError:
		return true
	default:
		return false
	}
}

// ForcesFull reports whether an error of this kind should set the
// per-repository force-full flag for the next run.
func (k Kind) ForcesFull() bool {
	switch k {
	case RepositoryInconsistent, ChainCorrupt:
		return true
	default:
		return false
	}
}

// As extracts the nearest *Error in err's chain, mirroring errors.As ergonomics.
func As(err error) (*Error, bool) {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return nil, false
}
