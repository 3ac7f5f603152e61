// Package cherrors defines the error kinds shared across the orchestrator.
//
// Every component returns errors through Error rather than ad hoc sentinel
// values, so the CLI, the runner, and the node handlers can all classify a
// failure the same way: by Kind, not by string matching or type assertion
// on a component-specific error type.
package cherrors

import "fmt"

// Kind identifies the category of a failure. Kinds are not Go types — they
// are the shared vocabulary components use to describe propagation policy.
type Kind string

const (
	// NotFound means a task, job, checkpoint, or other named entity does
	// not exist.
	NotFound Kind = "NotFound"
	// AmbiguousPrefix means a task id prefix matched more than one task.
	AmbiguousPrefix Kind = "AmbiguousPrefix"
	// InvalidStateTransition means a lifecycle command was attempted from
	// a status that does not permit it (e.g. pause on a completed task).
	InvalidStateTransition Kind = "InvalidStateTransition"
	// LockBusy means a FileLock could not be acquired within its retry
	// budget.
	LockBusy Kind = "LockBusy"
	// BackendTimeout means a BackendAdapter invocation exceeded its
	// deadline.
	BackendTimeout Kind = "BackendTimeout"
	// BackendCancelled means a BackendAdapter invocation was cancelled,
	// typically by a task stop or workflow cancellation.
	BackendCancelled Kind = "BackendCancelled"
	// BackendProcess means the external backend process itself failed
	// (nonzero exit, spawn failure).
	BackendProcess Kind = "BackendProcess"
	// BackendConfig means a BackendAdapter was invoked without the
	// configuration it needs (missing API key, unknown model name,
	// unregistered backend name).
	BackendConfig Kind = "BackendConfig"
	// CorruptJSON means a JSON file failed to parse; callers fall back to
	// a default value rather than propagating this upward as fatal.
	CorruptJSON Kind = "CorruptJSON"
	// GraphInvariantViolation means a workflow failed validation: missing
	// node, duplicate id, dangling edge, or an unknown node id referenced
	// from a loop/foreach/switch config.
	GraphInvariantViolation Kind = "GraphInvariantViolation"
	// ConcurrencyConflict means two runners raced for the same lock or
	// resource and this process lost.
	ConcurrencyConflict Kind = "ConcurrencyConflict"
	// Usage means the CLI was invoked with missing or malformed
	// arguments or flags — distinct from InvalidStateTransition, which
	// means the arguments were well-formed but the target task's status
	// rejects the requested operation.
	Usage Kind = "Usage"
)

// ExitCode maps a Kind to the CLI's process exit code.
func (k Kind) ExitCode() int {
	switch k {
	case NotFound:
		return 3
	case AmbiguousPrefix:
		return 4
	case LockBusy, ConcurrencyConflict:
		return 5
	case InvalidStateTransition, GraphInvariantViolation, Usage:
		return 2
	case BackendTimeout, BackendCancelled, BackendProcess, BackendConfig, CorruptJSON:
		return 1
	default:
		return 1
	}
}

// Error is the orchestrator's single error type. Every component returns
// this (or wraps it) instead of inventing component-local error types, so
// catch points upstream (CLI, TaskExecutor, NodeWorker) can classify by
// Kind alone.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes Cause for errors.Is / errors.As.
func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error with no underlying cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds an Error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a Kind and message to an underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err carries the given Kind, unwrapping as needed.
func Is(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if ce, ok := err.(*Error); ok {
			e = ce
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return e != nil && e.Kind == kind
}
