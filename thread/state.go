package thread

import (
	"context"

	"github.com/wippyai/kobject"
	"github.com/wippyai/kobject/exception"
	"github.com/wippyai/kobject/sched"
	"github.com/wippyai/kobject/stack"
	"github.com/wippyai/kobject/vm"
)

// State is the lifecycle state of a thread.
type State uint8

const (
	StateInitial State = iota
	StateInitialized
	StateRunning
	StateSuspended
	StateDying
	StateDead
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "INITIAL"
	case StateInitialized:
		return "INITIALIZED"
	case StateRunning:
		return "RUNNING"
	case StateSuspended:
		return "SUSPENDED"
	case StateDying:
		return "DYING"
	case StateDead:
		return "DEAD"
	default:
		return "UNKNOWN"
	}
}

// InfoState is the externally reported thread state.
type InfoState uint8

const (
	InfoNew InfoState = iota
	InfoRunning
	InfoBlocked
	InfoSuspended
	InfoDying
	InfoDead
)

func (s InfoState) String() string {
	switch s {
	case InfoNew:
		return "NEW"
	case InfoRunning:
		return "RUNNING"
	case InfoBlocked:
		return "BLOCKED"
	case InfoSuspended:
		return "SUSPENDED"
	case InfoDying:
		return "DYING"
	case InfoDead:
		return "DEAD"
	default:
		return "UNKNOWN"
	}
}

// Info is a point-in-time snapshot of a thread.
type Info struct {
	State InfoState

	// WaitExceptionPortType is the type of the port the thread is
	// exchanging with, or PortNone.
	WaitExceptionPortType exception.PortType
}

// MaxNameLen is the longest display name a thread keeps.
const MaxNameLen = 31

// Program is the user-mode code a thread runs.
//
// Run executes from entry with two argument words. yield must be called
// periodically; it parks the caller while the thread is suspended and
// returns an error once the thread is killed. A fault is reported by
// returning an *exception.Fault.
type Program interface {
	Run(ctx context.Context, entry, arg1, arg2 uint64, yield func() error) error
}

// ProgramFunc adapts a function to the Program interface.
type ProgramFunc func(ctx context.Context, entry, arg1, arg2 uint64, yield func() error) error

// Run implements Program.
func (f ProgramFunc) Run(ctx context.Context, entry, arg1, arg2 uint64, yield func() error) error {
	return f(ctx, entry, arg1, arg2, yield)
}

// Process is the task that owns a thread.
//
// AddThread is called with the thread's lifecycle lock held and must not
// call back into the thread's locked methods.
type Process interface {
	Koid() kobject.Koid
	AddThread(t *Thread, initial bool) error
	RemoveThread(t *Thread)
	AddressSpace() *vm.AddressSpace
	DebuggerPort() exception.Port
	ExceptionPorts() []exception.Port
	Program() Program
	OnUnhandledException(t *Thread, report *exception.Report)
}

// Config holds thread construction settings.
type Config struct {
	// Scheduler creates the execution context and runs deferred cleanup.
	Scheduler *sched.Scheduler

	// Space is the kernel address space stacks are allocated in.
	Space stack.Space

	// StackSize is the size of each kernel stack. 0 means stack.DefaultSize.
	StackSize uint64

	// Priority is the base scheduling priority.
	Priority int

	// UnsafeStack allocates a second, unsafe stack next to the safe one.
	UnsafeStack bool
}

// DefaultConfig returns the default thread configuration. Scheduler and
// Space must still be set.
func DefaultConfig() Config {
	return Config{
		StackSize:   stack.DefaultSize,
		Priority:    16,
		UnsafeStack: true,
	}
}
