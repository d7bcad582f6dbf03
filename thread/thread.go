package thread

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/kobject"
	"github.com/wippyai/kobject/arch"
	"github.com/wippyai/kobject/errors"
	"github.com/wippyai/kobject/exception"
	"github.com/wippyai/kobject/sched"
	"github.com/wippyai/kobject/stack"
)

// Thread is the kernel object for one thread of a process.
type Thread struct {
	proc        Process
	ctx         *sched.Context
	stacks      *stack.Set
	excPort     exception.Port
	excReport   *exception.Report
	excArch     *arch.Context
	ports       *exception.Slot
	terminated  chan struct{}
	ev          event
	cfg         Config
	name        string
	regs        arch.Context
	entry       entryParams
	koid        kobject.Koid
	owners      atomic.Int32
	mu          sync.Mutex
	nameMu      sync.Mutex
	state       State
	excStatus   exception.Status
	schedHeld   bool
	everResumed bool
	stacksUsed  bool
	destroyed   bool
}

type entryParams struct {
	pc   uint64
	sp   uint64
	arg1 uint64
	arg2 uint64
}

// Create returns a thread of proc in INITIAL. The caller owns the single
// reference it starts with.
func Create(proc Process, name string, cfg Config) (*Thread, error) {
	if proc == nil {
		return nil, errors.InvalidArgs(errors.PhaseLifecycle, "thread %q has no process", name)
	}
	if cfg.Scheduler == nil || cfg.Space == nil {
		return nil, errors.InvalidArgs(errors.PhaseLifecycle, "thread %q needs a scheduler and a kernel address space", name)
	}
	if cfg.StackSize == 0 {
		cfg.StackSize = stack.DefaultSize
	}
	if cfg.Priority == 0 {
		cfg.Priority = DefaultConfig().Priority
	}

	t := &Thread{
		proc:       proc,
		cfg:        cfg,
		koid:       kobject.NewKoid(),
		terminated: make(chan struct{}),
		ev:         newEvent(),
	}
	t.ports = exception.NewSlot(t.OnExceptionPortRemoval)
	t.owners.Store(1)
	t.setName(name)
	return t, nil
}

// Koid returns the thread's object id.
func (t *Thread) Koid() kobject.Koid { return t.koid }

// Process returns the owning process.
func (t *Thread) Process() Process { return t.proc }

// Name returns the display name.
func (t *Thread) Name() string {
	t.nameMu.Lock()
	defer t.nameMu.Unlock()
	return t.name
}

// SetName replaces the display name, truncated to MaxNameLen bytes.
func (t *Thread) SetName(name string) {
	t.setName(name)
}

func (t *Thread) setName(name string) {
	name = truncateName(name)
	t.nameMu.Lock()
	t.name = name
	t.nameMu.Unlock()
}

func truncateName(name string) string {
	if len(name) > MaxNameLen {
		return name[:MaxNameLen]
	}
	return name
}

// State returns the lifecycle state.
func (t *Thread) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Initialize allocates the stacks and the execution context and moves the
// thread to INITIALIZED. On failure nothing stays allocated and the thread
// remains INITIAL.
func (t *Thread) Initialize(name string) error {
	ctxName := truncateName(name)
	if ctxName == "" {
		ctxName = t.Name()
	}

	t.mu.Lock()
	err := t.initializeLocked(ctxName)
	t.mu.Unlock()
	if err != nil {
		return err
	}

	// The name lock is a leaf; rename only once the transition happened.
	if name != "" {
		t.setName(name)
	}
	return nil
}

func (t *Thread) initializeLocked(ctxName string) error {
	if t.state != StateInitial {
		return errors.BadState(errors.PhaseLifecycle, "initialize", t.state)
	}
	// A thread killed before start keeps its stacks until destruction.
	if t.stacksUsed {
		return errors.BadState(errors.PhaseLifecycle, "initialize", "stacks already allocated")
	}

	stacks, err := stack.AllocateSet(t.cfg.Space, t.cfg.StackSize, t.cfg.UnsafeStack)
	if err != nil {
		Logger().Debug("stack allocation failed",
			zap.Uint64("koid", uint64(t.koid)),
			zap.Error(err))
		return err
	}

	ctx, err := t.cfg.Scheduler.Create(ctxName, t.trampoline, t.cfg.Priority, t.cfg.StackSize)
	if err != nil {
		if rerr := stacks.Release(); rerr != nil {
			Logger().Warn("stack rollback failed",
				zap.Uint64("koid", uint64(t.koid)),
				zap.Error(rerr))
		}
		return errors.NoResources(errors.PhaseLifecycle, "create context", err)
	}

	t.stacks = stacks
	t.stacksUsed = true
	t.ctx = ctx
	ctx.SetCallback(t.onEvent)
	t.schedHeld = true
	t.owners.Add(1)
	if as := t.proc.AddressSpace(); as != nil {
		ctx.SetAddressSpace(as)
	}
	t.setStateLocked(StateInitialized)
	return nil
}

// Start stores the entry parameters, registers the thread with its process
// and begins execution. It requires INITIALIZED.
func (t *Thread) Start(entry, sp, arg1, arg2 uint64, initial bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateInitialized {
		return errors.BadState(errors.PhaseLifecycle, "start", t.state)
	}
	if err := t.proc.AddThread(t, initial); err != nil {
		return err
	}

	t.entry = entryParams{pc: entry, sp: sp, arg1: arg1, arg2: arg2}
	t.regs.SetEntry(entry, sp, arg1, arg2)
	t.ctx.SetIDs(uint64(t.koid), uint64(t.proc.Koid()))
	t.setStateLocked(StateRunning)
	t.everResumed = true
	t.ctx.Resume()
	return nil
}

// Suspend asks the thread to stop at its next safe point. The state
// becomes SUSPENDED once it has.
func (t *Thread) Suspend() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateRunning && t.state != StateSuspended {
		return errors.BadState(errors.PhaseLifecycle, "suspend", t.state)
	}
	return t.ctx.Suspend()
}

// Resume releases a suspended thread or cancels a pending suspend.
func (t *Thread) Resume() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateRunning && t.state != StateSuspended {
		return errors.BadState(errors.PhaseLifecycle, "resume", t.state)
	}
	t.ctx.Resume()
	return nil
}

// Kill terminates the thread. A thread that never started goes back to
// INITIAL; a running or suspended one becomes DYING and finishes exiting
// asynchronously. Kill is a no-op in any other state.
func (t *Thread) Kill() {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state {
	case StateInitialized:
		t.ctx.Forget()
		if t.dropSchedHoldLocked() {
			panic("thread: kill before start dropped the last reference")
		}
		t.setStateLocked(StateInitial)
	case StateRunning, StateSuspended:
		t.ctx.Kill()
		t.setStateLocked(StateDying)
	}
}

// Exit ends the thread. It must be called on the thread's own goroutine
// and does not return on success. Any other caller gets a bad-state error.
func (t *Thread) Exit() error {
	t.mu.Lock()
	if t.state != StateRunning && t.state != StateDying {
		state := t.state
		t.mu.Unlock()
		return errors.BadState(errors.PhaseLifecycle, "exit", state)
	}
	if !t.ctx.Owns() {
		t.mu.Unlock()
		return errors.BadState(errors.PhaseLifecycle, "exit", "foreign goroutine")
	}
	t.setStateLocked(StateDying)
	ctx := t.ctx
	t.mu.Unlock()

	ctx.Exit()
	return nil
}

// Join waits until the thread has finished exiting or ctx is done.
func (t *Thread) Join(ctx context.Context) error {
	t.mu.Lock()
	sc := t.ctx
	t.mu.Unlock()

	if sc == nil {
		return errors.BadState(errors.PhaseLifecycle, "join", StateInitial)
	}
	return sc.Join(ctx)
}

// Terminated is closed when the thread starts its final exit.
func (t *Thread) Terminated() <-chan struct{} { return t.terminated }

// EntryParams returns the parameters given to Start.
func (t *Thread) EntryParams() (pc, sp, arg1, arg2 uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.entry.pc, t.entry.sp, t.entry.arg1, t.entry.arg2
}

// SchedulerHeld reports whether the scheduler holds its reference.
func (t *Thread) SchedulerHeld() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.schedHeld
}

// RefCount returns the number of references, the scheduler's included.
func (t *Thread) RefCount() int {
	return int(t.owners.Load())
}

// Destroyed reports whether the thread has been destroyed.
func (t *Thread) Destroyed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.destroyed
}

// Retain adds a reference.
func (t *Thread) Retain() {
	if t.owners.Add(1) <= 1 {
		panic("thread: retain of released thread")
	}
}

// Release drops a reference and destroys the thread when it was the last.
func (t *Thread) Release() {
	switch n := t.owners.Add(-1); {
	case n == 0:
		t.destroy()
	case n < 0:
		panic("thread: reference count below zero")
	}
}

func (t *Thread) dropSchedHoldLocked() bool {
	if !t.schedHeld {
		panic("thread: scheduler reference dropped twice")
	}
	t.schedHeld = false
	n := t.owners.Add(-1)
	if n < 0 {
		panic("thread: reference count below zero")
	}
	return n == 0
}

func (t *Thread) destroy() {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case t.destroyed:
		panic("thread: destroyed twice")
	case t.schedHeld:
		panic("thread: destroyed with a live execution context")
	case t.state == StateDead:
	case t.state == StateInitial && !t.everResumed:
	default:
		panic("thread: destroyed in state " + t.state.String())
	}

	t.destroyed = true
	if t.stacks != nil {
		if err := t.stacks.Release(); err != nil {
			Logger().Warn("stack release failed",
				zap.Uint64("koid", uint64(t.koid)),
				zap.Error(err))
		}
		t.stacks = nil
	}
	Logger().Debug("thread destroyed", zap.Uint64("koid", uint64(t.koid)))
}

func (t *Thread) setStateLocked(s State) {
	Logger().Debug("thread state",
		zap.Uint64("koid", uint64(t.koid)),
		zap.Stringer("from", t.state),
		zap.Stringer("to", s))
	t.state = s
}
