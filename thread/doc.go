// Package thread implements the kernel thread object.
//
// A Thread is a schedulable execution context addressed through a handle.
// It owns its kernel stacks, drives a low-level sched.Context, and blocks
// in a synchronous exchange with an exception port whenever its user
// program faults.
//
// # Lifecycle
//
// A thread moves through six states:
//
//	INITIAL -> INITIALIZED -> RUNNING <-> SUSPENDED -> DYING -> DEAD
//
// Initialize allocates the stacks and the execution context. Start
// registers the thread with its process and begins execution. Suspend,
// Resume and Kill are asynchronous: they return immediately and the state
// changes when the context reports back through its lifecycle callback.
// A thread killed before Start goes back to INITIAL.
//
// # Ownership
//
// References are counted. The creator holds one, the process holds one
// while the thread is a member, and the scheduler holds one from
// Initialize until the context has finished exiting. The scheduler's hold
// is tracked separately (see SchedulerHeld) so the final release of a
// thread that ran always happens on a deferred worker, never on the
// thread's own goroutine.
//
// # Exceptions
//
// When the program faults, HandleException offers the report to the
// debugger port, the thread's own port, the process port and the job
// ports in order. Each offer is one exchange: the thread blocks until the
// handler calls MarkExceptionHandled, the port is unbound, or the thread
// is killed. A kill always wins over a late decision.
//
// # Locking
//
// The lifecycle lock guards state and exchange bookkeeping. The port slot
// has its own lock and is only ever taken after the lifecycle lock. The
// name has a leaf lock of its own.
package thread
