package taylorjet

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind enumerates the error categories the core surfaces to callers, per
// the error handling design.
type Kind int

const (
	// InvalidArg reports a construction-time validation failure: wrong
	// arity, empty name, mismatched sizes.
	InvalidArg Kind = iota
	// NotImplemented reports a missing function capability.
	NotImplemented
	// CyclicSystem reports a decomposition that could not be topologically
	// ordered.
	CyclicSystem
	// OverflowInSum reports a pairwise-sum reduction that outgrew its
	// container.
	OverflowInSum
	// NumericalFailure reports a non-finite stepper output or a
	// non-positive convergence radius estimate.
	NumericalFailure
	// BackendFailure reports a refusal from the JIT host (ir.Builder
	// implementation).
	BackendFailure
)

func (k Kind) String() string {
	switch k {
	case InvalidArg:
		return "InvalidArg"
	case NotImplemented:
		return "NotImplemented"
	case CyclicSystem:
		return "CyclicSystem"
	case OverflowInSum:
		return "OverflowInSum"
	case NumericalFailure:
		return "NumericalFailure"
	case BackendFailure:
		return "BackendFailure"
	default:
		return "Unknown"
	}
}

// Error is the error type returned across the core's package boundaries.
// It carries a Kind, a human-readable message, and — when the failure is
// attributable to a specific named function — that function's display
// name.
type Error struct {
	Kind     Kind
	Func     string // offending function display name, if any
	cause    error
	message  string
}

func (e *Error) Error() string {
	if e.Func != "" {
		return fmt.Sprintf("%s: %s (function %q)", e.Kind, e.message, e.Func)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.message)
}

// Unwrap exposes the wrapped cause, if any, so callers can use errors.Is
// and errors.As across the pkg/errors-produced stack trace.
func (e *Error) Unwrap() error { return e.cause }

// New builds an Error of the given kind with a formatted message. The
// message is wrapped with a stack trace via pkg/errors so that a caller
// inspecting the cause chain (via Unwrap) can see where it originated.
func New(kind Kind, format string, args ...any) *Error {
	msg := fmt.Sprintf(format, args...)
	return &Error{Kind: kind, message: msg, cause: errors.New(msg)}
}

// NewForFunc is New, additionally recording the offending function's
// display name — every NotImplemented error should carry one.
func NewForFunc(kind Kind, funcName, format string, args ...any) *Error {
	e := New(kind, format, args...)
	e.Func = funcName
	return e
}

// Wrap attaches a Kind to an existing error, preserving it as the cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	msg := fmt.Sprintf(format, args...)
	return &Error{Kind: kind, message: msg, cause: errors.Wrap(cause, msg)}
}

// Is reports whether err is a *Error of the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
