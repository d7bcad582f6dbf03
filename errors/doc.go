// Package errors provides structured error types for kernel object operations.
//
// Errors are categorized by Phase (which subsystem rejected the operation) and
// Kind (the status category a caller acts on). The Error type carries a
// human-readable detail, the offending value and an optional cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseLifecycle, errors.KindBadState).
//		Op("start").
//		Detail("thread is %s", state).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.BadState(errors.PhaseLifecycle, "start", "running")
//	err := errors.NoResources(errors.PhaseStack, "create mapping", cause)
//
// Kind sentinels match any error of that kind regardless of phase:
//
//	if errors.Is(err, errors.ErrBadState) { ... }
//
// Invariant violations are not errors: code that detects a broken ownership
// or locking contract panics instead of returning one of these values.
package errors
