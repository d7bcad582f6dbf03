package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase indicates which subsystem produced the error
type Phase string

const (
	PhaseLifecycle Phase = "lifecycle" // thread start/suspend/resume/kill
	PhaseStack     Phase = "stack"     // kernel stack allocation
	PhaseVM        Phase = "vm"        // address space operations
	PhaseSched     Phase = "sched"     // low-level execution contexts
	PhaseException Phase = "exception" // exception exchange
	PhasePort      Phase = "port"      // exception port binding
	PhaseQuery     Phase = "query"     // info and stats
	PhaseRegisters Phase = "registers" // register read/write
	PhaseUsermode  Phase = "usermode"  // user program execution
	PhaseProcess   Phase = "process"   // process membership
)

// Kind categorizes the error
type Kind string

const (
	KindNoResources Kind = "no_resources"
	KindBadState    Kind = "bad_state"
	KindNotFound    Kind = "not_found"
	KindInvalidArgs Kind = "invalid_args"
	KindKilled      Kind = "killed"
	KindUnavailable Kind = "unavailable"
)

// Kind sentinels. Is matches them against any phase.
var (
	ErrNoResources = &Error{Kind: KindNoResources}
	ErrBadState    = &Error{Kind: KindBadState}
	ErrNotFound    = &Error{Kind: KindNotFound}
	ErrInvalidArgs = &Error{Kind: KindInvalidArgs}
	ErrKilled      = &Error{Kind: KindKilled}
	ErrUnavailable = &Error{Kind: KindUnavailable}
)

// Error is the structured error type used throughout the module
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Op     string
	Detail string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	if e.Phase != "" {
		b.WriteByte('[')
		b.WriteString(string(e.Phase))
		b.WriteString("] ")
	}
	b.WriteString(string(e.Kind))

	if e.Op != "" {
		b.WriteString(" in ")
		b.WriteString(e.Op)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error. A target without a phase
// matches on kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Phase == "" {
		return e.Kind == t.Kind
	}
	return e.Phase == t.Phase && e.Kind == t.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is forwards to the standard library so callers need a single import.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As forwards to the standard library so callers need a single import.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Op sets the operation name
func (b *Builder) Op(op string) *Builder {
	b.err.Op = op
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// BadState reports an operation that is invalid for the current state.
func BadState(phase Phase, op string, state any) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindBadState,
		Op:     op,
		Detail: fmt.Sprintf("not permitted in state %v", state),
		Value:  state,
	}
}

// NoResources reports an allocation failure.
func NoResources(phase Phase, op string, cause error) *Error {
	return &Error{
		Phase: phase,
		Kind:  KindNoResources,
		Op:    op,
		Cause: cause,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidArgs creates an invalid-argument error
func InvalidArgs(phase Phase, detail string, args ...any) *Error {
	if len(args) > 0 {
		detail = fmt.Sprintf(detail, args...)
	}
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidArgs,
		Detail: detail,
	}
}

// Killed reports that the calling thread was killed while blocked.
func Killed(phase Phase, op string) *Error {
	return &Error{
		Phase: phase,
		Kind:  KindKilled,
		Op:    op,
	}
}

// Unavailable reports that a peer could not accept the request, e.g. a
// full exception port queue.
func Unavailable(phase Phase, op, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnavailable,
		Op:     op,
		Detail: detail,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}
