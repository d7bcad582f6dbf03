package sched

import (
	"context"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/kobject/errors"
)

// RunState is the low-level run state of a context.
type RunState int32

const (
	StateInitial RunState = iota
	StateRunning
	StateBlocked
	StateSuspended
	StateDead
)

func (s RunState) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateRunning:
		return "running"
	case StateBlocked:
		return "blocked"
	case StateSuspended:
		return "suspended"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Event is the tag passed to a lifecycle callback.
type Event uint8

const (
	EventExiting Event = iota
	EventSuspending
	EventResuming
)

func (e Event) String() string {
	switch e {
	case EventExiting:
		return "exiting"
	case EventSuspending:
		return "suspending"
	case EventResuming:
		return "resuming"
	default:
		return "unknown"
	}
}

// Callback receives lifecycle events on the context's own goroutine.
type Callback func(Event)

// AddressSpace is the address space a context executes in.
type AddressSpace interface {
	Name() string
}

// Entry is the function a context runs. ctx is cancelled when the context
// is killed.
type Entry func(ctx context.Context)

// Context is one low-level execution context.
type Context struct {
	runningSince time.Time
	ctx          context.Context
	entry        Entry
	cb           Callback
	space        AddressSpace
	cancel       context.CancelFunc
	s            *Scheduler
	cond         *sync.Cond
	done         chan struct{}
	name         string
	stackSize    uint64
	tid          uint64
	pid          uint64
	goid         uint64
	runtime      time.Duration
	priority     int
	mu           sync.Mutex
	state        RunState
	started      bool
	forgotten    bool
	killed       bool
	suspendReq   bool
	resumeReq    bool
}

func newContext(s *Scheduler, name string, entry Entry, priority int, stackSize uint64) *Context {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Context{
		s:         s,
		name:      name,
		entry:     entry,
		priority:  priority,
		stackSize: stackSize,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Name returns the context name.
func (c *Context) Name() string { return c.name }

// Priority returns the base priority the context was created with.
func (c *Context) Priority() int { return c.priority }

// StackSize returns the kernel stack size the context was created with.
func (c *Context) StackSize() uint64 { return c.stackSize }

// Context returns the cancellation context passed to the entry function.
func (c *Context) Context() context.Context { return c.ctx }

// Done is closed once the context has finished exiting or was forgotten.
func (c *Context) Done() <-chan struct{} { return c.done }

// SetCallback installs the lifecycle callback. It must be called before the
// first Resume.
func (c *Context) SetCallback(cb Callback) {
	c.mu.Lock()
	c.cb = cb
	c.mu.Unlock()
}

// SetAddressSpace attaches the address space the context executes in.
func (c *Context) SetAddressSpace(as AddressSpace) {
	c.mu.Lock()
	c.space = as
	c.mu.Unlock()
}

// AddressSpace returns the attached address space, or nil.
func (c *Context) AddressSpace() AddressSpace {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.space
}

// SetIDs sets the user-visible thread and process ids.
func (c *Context) SetIDs(tid, pid uint64) {
	c.mu.Lock()
	c.tid, c.pid = tid, pid
	c.mu.Unlock()
}

// IDs returns the user-visible thread and process ids.
func (c *Context) IDs() (tid, pid uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tid, c.pid
}

// RunState returns the current run state.
func (c *Context) RunState() RunState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Runtime returns the cumulative time spent running.
func (c *Context) Runtime() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := c.runtime
	if c.state == StateRunning {
		d += time.Since(c.runningSince)
	}
	return d
}

// Resume starts a never-run context, cancels a suspend request that has not
// taken effect yet, or releases a suspended context. It is a no-op on a
// running or dead context.
func (c *Context) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.forgotten || c.state == StateDead:
	case !c.started:
		c.started = true
		c.setRunningLocked()
		go c.run()
	case c.suspendReq:
		c.suspendReq = false
	case c.state == StateSuspended:
		c.resumeReq = true
		c.cond.Broadcast()
	}
}

// Suspend requests that the context park at its next Checkpoint. It returns
// immediately.
func (c *Context) Suspend() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.forgotten || c.state == StateDead {
		return errors.BadState(errors.PhaseSched, "suspend", c.state)
	}
	if c.state == StateSuspended {
		// Parked already; only a pending release needs cancelling.
		c.resumeReq = false
		return nil
	}
	c.suspendReq = true
	return nil
}

// Kill asynchronously terminates the context: its cancellation context is
// cancelled and a suspended context is released so it can exit.
func (c *Context) Kill() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.killed || c.state == StateDead {
		return
	}
	c.killed = true
	c.cancel()
	c.cond.Broadcast()
}

// Killed reports whether Kill has been called.
func (c *Context) Killed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.killed
}

// Forget discards a context that was never resumed. No callback is
// delivered.
func (c *Context) Forget() {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		panic("sched: forget of started context " + c.name)
	}
	if c.forgotten {
		c.mu.Unlock()
		return
	}
	c.forgotten = true
	c.state = StateDead
	c.cancel()
	c.mu.Unlock()

	close(c.done)
	c.s.release()
}

// Join waits until the context has finished exiting or ctx is done.
func (c *Context) Join(ctx context.Context) error {
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(errors.PhaseSched, errors.KindUnavailable, ctx.Err(), "join "+c.name)
	}
}

// Checkpoint is a safe point for the running context. It parks the caller
// while a suspend request is in effect and returns a killed error once the
// context has been killed. It must only be called on the context's own
// goroutine.
func (c *Context) Checkpoint() error {
	c.mu.Lock()
	for {
		if c.killed {
			c.mu.Unlock()
			return errors.Killed(errors.PhaseSched, "checkpoint")
		}
		if !c.suspendReq {
			c.mu.Unlock()
			return nil
		}

		c.suspendReq = false
		c.accountLocked()
		c.state = StateSuspended
		cb := c.cb
		c.mu.Unlock()
		fire(cb, EventSuspending)

		c.mu.Lock()
		for !c.resumeReq && !c.killed {
			c.cond.Wait()
		}
		c.resumeReq = false
		c.setRunningLocked()
		cb = c.cb
		c.mu.Unlock()
		fire(cb, EventResuming)

		c.mu.Lock()
	}
}

// Block marks the context blocked while wait runs. wait receives the
// context's cancellation context so a kill interrupts it.
func (c *Context) Block(wait func(ctx context.Context) error) error {
	c.mu.Lock()
	c.accountLocked()
	c.state = StateBlocked
	c.mu.Unlock()

	err := wait(c.ctx)

	c.mu.Lock()
	c.setRunningLocked()
	c.mu.Unlock()
	return err
}

// Exit terminates the calling goroutine, which must be the context's own.
// It does not return; the exiting callback runs during unwinding.
func (c *Context) Exit() {
	if !c.Owns() {
		panic("sched: exit of " + c.name + " from a foreign goroutine")
	}
	runtime.Goexit()
}

// Owns reports whether the caller is running on the context's own
// goroutine.
func (c *Context) Owns() bool {
	id := goid()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.goid != 0 && c.goid == id
}

func (c *Context) run() {
	c.mu.Lock()
	c.goid = goid()
	c.mu.Unlock()

	defer c.finish()
	c.entry(c.ctx)
}

func (c *Context) finish() {
	c.mu.Lock()
	cb := c.cb
	c.mu.Unlock()

	fire(cb, EventExiting)

	c.mu.Lock()
	c.accountLocked()
	c.state = StateDead
	c.cancel()
	c.mu.Unlock()

	close(c.done)
	c.s.release()
	Logger().Debug("context exited", zap.String("name", c.name))
}

func (c *Context) setRunningLocked() {
	c.state = StateRunning
	c.runningSince = time.Now()
}

func (c *Context) accountLocked() {
	if c.state == StateRunning {
		c.runtime += time.Since(c.runningSince)
	}
}

func fire(cb Callback, ev Event) {
	if cb != nil {
		cb(ev)
	}
}
