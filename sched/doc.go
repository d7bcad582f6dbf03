// Package sched provides low-level execution contexts backed by goroutines.
//
// A Context is created stopped. The first Resume starts its goroutine, which
// runs the entry function with a context.Context that is cancelled when the
// Context is killed. Suspension is cooperative: Suspend records a request
// that takes effect the next time the running goroutine reaches Checkpoint.
//
// Lifecycle callbacks are delivered on the context's own goroutine:
//
//	EventSuspending  the context is about to park in Checkpoint
//	EventResuming    the context has been released from Checkpoint
//	EventExiting     the entry function returned or Exit was called
//
// Work that must not run on an exiting context's goroutine can be handed to
// Scheduler.Defer, which runs it on a pool of worker goroutines.
package sched
