package types

import "github.com/pkg/errors"

// InvariantViolation is returned for programmer errors that the engine
// does not attempt to recover from: primary-key collisions on add,
// pushing a remove/edit for a row that isn't present, fetching from a
// destroyed Input, or consuming a Stream a second time. The caller is
// expected to surface these synchronously, the same way cdc-sink
// treats a LeaseBusyError as a caller-visible, typed condition rather
// than a generic error.
type InvariantViolation struct {
	Reason string
}

func (e *InvariantViolation) Error() string { return "invariant violation: " + e.Reason }

// NewInvariantViolation constructs an InvariantViolation.
func NewInvariantViolation(reason string) error {
	return errors.WithStack(&InvariantViolation{Reason: reason})
}

// IsInvariantViolation reports whether err is (or wraps) an
// InvariantViolation.
func IsInvariantViolation(err error) (violation *InvariantViolation, ok bool) {
	return violation, errors.As(err, &violation)
}

// BuilderError is returned when an AST cannot be turned into an
// operator graph: an unknown table/column/relationship, an unresolved
// Parameter at fetch time, or a call to one() against an outer Format
// that is already an array-of-singular shape mismatch.
type BuilderError struct {
	Reason string
}

func (e *BuilderError) Error() string { return "query builder error: " + e.Reason }

// NewBuilderError constructs a BuilderError.
func NewBuilderError(reason string) error {
	return errors.WithStack(&BuilderError{Reason: reason})
}

// IsBuilderError reports whether err is (or wraps) a BuilderError.
func IsBuilderError(err error) (builderErr *BuilderError, ok bool) {
	return builderErr, errors.As(err, &builderErr)
}

// StorageError wraps a failure surfaced by an operator's backing
// Storage (or, transitively, a persistent KV store implementation of
// it). The engine treats these as fatal to the current transaction:
// the view update in flight is abandoned and the view is left at its
// last consistent snapshot.
type StorageError struct {
	Op    string
	Cause error
}

func (e *StorageError) Error() string { return "storage error during " + e.Op + ": " + e.Cause.Error() }

func (e *StorageError) Unwrap() error { return e.Cause }

// NewStorageError wraps cause as a StorageError naming the failing
// operation.
func NewStorageError(op string, cause error) error {
	if cause == nil {
		return nil
	}
	return errors.WithStack(&StorageError{Op: op, Cause: cause})
}

// ServerAuthError, SchemaVersionMismatch, ClientStateNotFound, and
// ConnectionClosed are delivered asynchronously from the server
// channel. None of them is fatal to the local pipeline: the lifecycle
// manager reports them via its onError callback, but cached data keeps
// serving reads and ResultType simply never advances past "unknown"
// for the affected queries.
type (
	ServerAuthError struct{ Reason string }

	SchemaVersionMismatch struct {
		Expected, Actual string
	}

	ClientStateNotFound struct{ ClientID string }

	ConnectionClosed struct{ Reason string }
)

func (e *ServerAuthError) Error() string { return "server auth error: " + e.Reason }

func (e *SchemaVersionMismatch) Error() string {
	return "schema version mismatch: expected " + e.Expected + ", got " + e.Actual
}

func (e *ClientStateNotFound) Error() string {
	return "client state not found: " + e.ClientID
}

func (e *ConnectionClosed) Error() string { return "connection closed: " + e.Reason }

// TransformError reports a per-query failure ("app") returned by the
// server in response to a transform request for a named (custom)
// query. Only the affected query's completion promise rejects; other
// queries proceed unaffected.
type TransformError struct {
	Name    string
	Details string
}

func (e *TransformError) Error() string {
	return "transform error for " + e.Name + ": " + e.Details
}
