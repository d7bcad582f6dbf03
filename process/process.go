package process

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/kobject"
	"github.com/wippyai/kobject/errors"
	"github.com/wippyai/kobject/exception"
	"github.com/wippyai/kobject/handle"
	"github.com/wippyai/kobject/sched"
	"github.com/wippyai/kobject/thread"
	"github.com/wippyai/kobject/vm"
)

// Address space layout used when Config leaves the spaces unset.
const (
	UserBase   = 0x0000_0001_0000
	UserSize   = 1 << 40
	KernelBase = 0xffff_0000_0000_0000
	KernelSize = 1 << 36
)

// State is the lifecycle state of a process.
type State uint8

const (
	StateRunning State = iota
	StateDying
	StateDead
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "RUNNING"
	case StateDying:
		return "DYING"
	case StateDead:
		return "DEAD"
	default:
		return "UNKNOWN"
	}
}

// Config holds process construction settings.
type Config struct {
	// Scheduler runs the process's threads. Required.
	Scheduler *sched.Scheduler

	// Program is the user code threads execute. nil threads idle until
	// killed.
	Program thread.Program

	// KernelSpace holds thread stacks. nil creates a private one.
	KernelSpace *vm.AddressSpace

	// UserSpace is attached to every thread. nil creates one.
	UserSpace *vm.AddressSpace

	// Job is the enclosing job, if any.
	Job *Job

	// Thread configures created threads. The zero value means
	// thread.DefaultConfig().
	Thread thread.Config

	// MaxThreads bounds the number of thread handles. 0 means unlimited.
	MaxThreads int
}

// Process is a task owning threads, a handle table and exception ports.
type Process struct {
	cfg       Config
	handles   *handle.Table
	debugger  *exception.Slot
	ports     *exception.Slot
	threads   map[kobject.Koid]*thread.Thread
	done      chan struct{}
	name      string
	koid      kobject.Koid
	mu        sync.Mutex
	state     State
	hadThread bool
}

// New creates a running process with no threads.
func New(name string, cfg Config) (*Process, error) {
	if cfg.Scheduler == nil {
		return nil, errors.InvalidArgs(errors.PhaseProcess, "process %q has no scheduler", name)
	}
	if cfg.KernelSpace == nil {
		cfg.KernelSpace = vm.NewAddressSpace(name+"-kernel", KernelBase, KernelSize)
	}
	if cfg.UserSpace == nil {
		cfg.UserSpace = vm.NewAddressSpace(name, UserBase, UserSize)
	}
	if cfg.Thread == (thread.Config{}) {
		cfg.Thread = thread.DefaultConfig()
	}
	cfg.Thread.Scheduler = cfg.Scheduler
	cfg.Thread.Space = cfg.KernelSpace

	p := &Process{
		cfg:     cfg,
		name:    name,
		koid:    kobject.NewKoid(),
		handles: handle.NewTable(),
		threads: make(map[kobject.Koid]*thread.Thread),
		done:    make(chan struct{}),
	}
	p.debugger = exception.NewSlot(p.onPortRemoved)
	p.ports = exception.NewSlot(p.onPortRemoved)

	if cfg.Job != nil {
		if err := cfg.Job.addProcess(p); err != nil {
			return nil, err
		}
	}
	Logger().Debug("process created",
		zap.String("name", name),
		zap.Uint64("koid", uint64(p.koid)))
	return p, nil
}

// Koid returns the process's object id.
func (p *Process) Koid() kobject.Koid { return p.koid }

// Name returns the process name.
func (p *Process) Name() string { return p.name }

// Job returns the enclosing job or nil.
func (p *Process) Job() *Job { return p.cfg.Job }

// AddressSpace returns the user address space.
func (p *Process) AddressSpace() *vm.AddressSpace { return p.cfg.UserSpace }

// KernelSpace returns the address space thread stacks live in.
func (p *Process) KernelSpace() *vm.AddressSpace { return p.cfg.KernelSpace }

// Program returns the user program threads run.
func (p *Process) Program() thread.Program { return p.cfg.Program }

// Handles returns the process handle table.
func (p *Process) Handles() *handle.Table { return p.handles }

// State returns the process state.
func (p *Process) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// CreateThread creates and initializes a thread and returns a handle to
// it. The handle holds the caller's reference; close it with CloseHandle.
func (p *Process) CreateThread(name string) (handle.Handle, *thread.Thread, error) {
	p.mu.Lock()
	if p.state != StateRunning {
		state := p.state
		p.mu.Unlock()
		return 0, nil, errors.BadState(errors.PhaseProcess, "create thread", state)
	}
	p.mu.Unlock()

	if limit := p.cfg.MaxThreads; limit > 0 && p.threadHandles() >= limit {
		return 0, nil, errors.New(errors.PhaseProcess, errors.KindNoResources).
			Op("create thread").
			Detail("%d thread handles open", limit).
			Build()
	}

	th, err := thread.Create(p, name, p.cfg.Thread)
	if err != nil {
		return 0, nil, err
	}
	if err := th.Initialize(name); err != nil {
		th.Release()
		return 0, nil, err
	}

	h, err := p.handles.Insert(handle.TypeThread, th)
	if err != nil {
		th.Kill()
		th.Release()
		return 0, nil, errors.Wrap(errors.PhaseProcess, errors.KindBadState, err, "create thread")
	}
	return h, th, nil
}

// GetThread resolves a thread handle.
func (p *Process) GetThread(h handle.Handle) (*thread.Thread, error) {
	obj, ok := p.handles.GetTyped(h, handle.TypeThread)
	if !ok {
		return nil, errors.NotFound(errors.PhaseProcess, "thread handle", handleName(h))
	}
	return obj.(*thread.Thread), nil
}

// CloseHandle closes h and drops the reference it held. A thread that was
// never started is killed first so its execution context is discarded.
func (p *Process) CloseHandle(h handle.Handle) error {
	if obj, ok := p.handles.GetTyped(h, handle.TypeThread); ok {
		if th := obj.(*thread.Thread); th.State() == thread.StateInitialized {
			th.Kill()
		}
	}
	if _, ok := p.handles.Remove(h); !ok {
		return errors.NotFound(errors.PhaseProcess, "handle", handleName(h))
	}
	return nil
}

// AddThread makes t a member. It is called by the thread while starting
// and fails once the process is dying.
func (p *Process) AddThread(t *thread.Thread, initial bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateRunning {
		return errors.BadState(errors.PhaseProcess, "add thread", p.state)
	}
	if initial && p.hadThread {
		return errors.BadState(errors.PhaseProcess, "add initial thread", "process already started")
	}
	t.Retain()
	p.threads[t.Koid()] = t
	p.hadThread = true
	return nil
}

// RemoveThread drops t from the members. The process dies with its last
// member.
func (p *Process) RemoveThread(t *thread.Thread) {
	p.mu.Lock()
	if _, ok := p.threads[t.Koid()]; !ok {
		p.mu.Unlock()
		return
	}
	delete(p.threads, t.Koid())
	died := len(p.threads) == 0 && p.state != StateDead
	if died {
		p.setDeadLocked()
	}
	p.mu.Unlock()

	t.Release()
	if died {
		p.finish()
	}
}

// Threads returns the member threads ordered by koid.
func (p *Process) Threads() []*thread.Thread {
	p.mu.Lock()
	out := make([]*thread.Thread, 0, len(p.threads))
	for _, t := range p.threads {
		out = append(out, t)
	}
	p.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Koid() < out[j].Koid() })
	return out
}

// Kill kills every thread of the process. The process is dead once the
// last member has exited.
func (p *Process) Kill() {
	p.mu.Lock()
	if p.state != StateRunning {
		p.mu.Unlock()
		return
	}
	p.state = StateDying
	members := make([]*thread.Thread, 0, len(p.threads))
	for _, t := range p.threads {
		members = append(members, t)
	}
	died := len(members) == 0
	if died {
		p.setDeadLocked()
	}
	p.mu.Unlock()

	Logger().Debug("process killed",
		zap.Uint64("koid", uint64(p.koid)),
		zap.Int("threads", len(members)))

	// Threads must be killed without the process lock: a starting thread
	// holds its own lock while it calls AddThread.
	for _, t := range members {
		t.Kill()
	}
	p.handles.Each(func(_ handle.Handle, kind handle.Type, obj any) bool {
		if kind == handle.TypeThread {
			obj.(*thread.Thread).Kill()
		}
		return true
	})
	if died {
		p.finish()
	}
}

// Wait blocks until the process is dead or ctx is done.
func (p *Process) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(errors.PhaseProcess, errors.KindUnavailable, ctx.Err(), "wait "+p.name)
	}
}

// Done is closed once the process is dead.
func (p *Process) Done() <-chan struct{} { return p.done }

// Close kills the process, waits for every thread to exit and closes all
// handles. Join failures are combined into the returned error.
func (p *Process) Close(ctx context.Context) error {
	p.Kill()

	var err error
	p.handles.Each(func(_ handle.Handle, kind handle.Type, obj any) bool {
		if kind != handle.TypeThread {
			return true
		}
		th := obj.(*thread.Thread)
		if th.State() == thread.StateInitial {
			return true
		}
		err = multierr.Append(err, th.Join(ctx))
		return true
	})
	err = multierr.Append(err, p.Wait(ctx))
	p.handles.Close()
	p.debugger.Unbind(true)
	p.ports.Unbind(true)
	return err
}

// OnUnhandledException kills the process.
func (p *Process) OnUnhandledException(t *thread.Thread, report *exception.Report) {
	Logger().Warn("unhandled exception",
		zap.Uint64("process", uint64(p.koid)),
		zap.Uint64("thread", uint64(t.Koid())),
		zap.Stringer("type", report.Type),
		zap.Uint64("pc", report.PC))
	p.Kill()
}

// BindDebuggerPort binds the debugger port.
func (p *Process) BindDebuggerPort(port exception.Port) error {
	if err := p.checkAlive(); err != nil {
		return err
	}
	return p.debugger.Bind(port)
}

// UnbindDebuggerPort unbinds the debugger port and reports whether one
// was bound.
func (p *Process) UnbindDebuggerPort(quietly bool) bool {
	return p.debugger.Unbind(quietly)
}

// DebuggerPort returns the bound debugger port or nil.
func (p *Process) DebuggerPort() exception.Port {
	return p.debugger.Get()
}

// BindExceptionPort binds the process exception port.
func (p *Process) BindExceptionPort(port exception.Port) error {
	if err := p.checkAlive(); err != nil {
		return err
	}
	return p.ports.Bind(port)
}

// UnbindExceptionPort unbinds the process exception port and reports
// whether one was bound.
func (p *Process) UnbindExceptionPort(quietly bool) bool {
	return p.ports.Unbind(quietly)
}

// ExceptionPorts returns the process port followed by the bound ports of
// the enclosing jobs, innermost first.
func (p *Process) ExceptionPorts() []exception.Port {
	var ports []exception.Port
	if port := p.ports.Get(); port != nil {
		ports = append(ports, port)
	}
	if p.cfg.Job != nil {
		ports = append(ports, p.cfg.Job.chain()...)
	}
	return ports
}

func (p *Process) checkAlive() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateDead {
		return errors.NotFound(errors.PhaseProcess, "process", p.name)
	}
	return nil
}

func (p *Process) onPortRemoved(port exception.Port) {
	for _, t := range p.Threads() {
		t.OnExceptionPortRemoval(port)
	}
}

func (p *Process) threadHandles() int {
	n := 0
	p.handles.Each(func(_ handle.Handle, kind handle.Type, _ any) bool {
		if kind == handle.TypeThread {
			n++
		}
		return true
	})
	return n
}

func (p *Process) setDeadLocked() {
	p.state = StateDead
	close(p.done)
}

func (p *Process) finish() {
	if p.cfg.Job != nil {
		p.cfg.Job.removeProcess(p)
	}
	Logger().Debug("process dead", zap.Uint64("koid", uint64(p.koid)))
}

func handleName(h handle.Handle) string {
	return strconv.FormatUint(uint64(h), 10)
}
