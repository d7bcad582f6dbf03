package thread

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/wippyai/kobject"
	"github.com/wippyai/kobject/exception"
	"github.com/wippyai/kobject/sched"
	"github.com/wippyai/kobject/vm"
)

const waitTimeout = 5 * time.Second

type fakeProcess struct {
	mu        sync.Mutex
	koid      kobject.Koid
	space     *vm.AddressSpace
	debugger  exception.Port
	ports     []exception.Port
	prog      Program
	threads   map[*Thread]bool
	addErr    error
	unhandled []*exception.Report
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{
		koid:    kobject.NewKoid(),
		space:   vm.NewAddressSpace("user", 0x10_0000, 1<<30),
		threads: make(map[*Thread]bool),
	}
}

func (p *fakeProcess) Koid() kobject.Koid { return p.koid }

func (p *fakeProcess) AddThread(t *Thread, _ bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.addErr != nil {
		return p.addErr
	}
	p.threads[t] = true
	t.Retain()
	return nil
}

func (p *fakeProcess) RemoveThread(t *Thread) {
	p.mu.Lock()
	member := p.threads[t]
	delete(p.threads, t)
	p.mu.Unlock()
	if member {
		t.Release()
	}
}

func (p *fakeProcess) AddressSpace() *vm.AddressSpace { return p.space }

func (p *fakeProcess) DebuggerPort() exception.Port {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.debugger
}

func (p *fakeProcess) ExceptionPorts() []exception.Port {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]exception.Port(nil), p.ports...)
}

func (p *fakeProcess) Program() Program { return p.prog }

func (p *fakeProcess) OnUnhandledException(t *Thread, report *exception.Report) {
	p.mu.Lock()
	p.unhandled = append(p.unhandled, report)
	p.mu.Unlock()
	t.Kill()
}

func (p *fakeProcess) unhandledCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.unhandled)
}

type testEnv struct {
	sched  *sched.Scheduler
	kspace *vm.AddressSpace
	proc   *fakeProcess
}

func newTestEnv(t testing.TB, opts ...vm.Option) *testEnv {
	t.Helper()
	s := sched.New(sched.Config{})
	t.Cleanup(s.Close)
	return &testEnv{
		sched:  s,
		kspace: vm.NewAddressSpace("kernel", 0xffff_0000_0000, 1<<30, opts...),
		proc:   newFakeProcess(),
	}
}

func (e *testEnv) config() Config {
	cfg := DefaultConfig()
	cfg.Scheduler = e.sched
	cfg.Space = e.kspace
	return cfg
}

func (e *testEnv) create(t testing.TB) *Thread {
	t.Helper()
	th, err := Create(e.proc, "worker", e.config())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return th
}

func (e *testEnv) initialized(t testing.TB) *Thread {
	t.Helper()
	th := e.create(t)
	if err := th.Initialize(""); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return th
}

func (e *testEnv) started(t testing.TB) *Thread {
	t.Helper()
	th := e.initialized(t)
	if err := th.Start(0x1000, 0x8000, 1, 2, true); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return th
}

// spin runs until killed, stopping at a safe point every iteration.
func spin(ctx context.Context, _, _, _ uint64, yield func() error) error {
	for {
		if err := yield(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
		case <-time.After(50 * time.Microsecond):
		}
	}
}

// exitOn runs like spin until release is closed, then returns.
func exitOn(release <-chan struct{}) ProgramFunc {
	return func(ctx context.Context, _, _, _ uint64, yield func() error) error {
		for {
			if err := yield(); err != nil {
				return err
			}
			select {
			case <-release:
				return nil
			case <-ctx.Done():
			case <-time.After(50 * time.Microsecond):
			}
		}
	}
}

func waitFor(t testing.TB, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(100 * time.Microsecond)
	}
}

func join(t testing.TB, th *Thread) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	if err := th.Join(ctx); err != nil {
		t.Fatalf("Join: %v", err)
	}
}

// snapshot captures every observable field of a thread.
type snapshot struct {
	state     State
	info      Info
	name      string
	schedHeld bool
	refs      int
	entry     [4]uint64
	port      exception.Port
	excStatus exception.Status
	stacks    bool
	destroyed bool
}

func snap(th *Thread) snapshot {
	pc, sp, a1, a2 := th.EntryParams()
	th.mu.Lock()
	excStatus := th.excStatus
	stacks := th.stacks != nil
	th.mu.Unlock()
	return snapshot{
		state:     th.State(),
		info:      th.Info(),
		name:      th.Name(),
		schedHeld: th.SchedulerHeld(),
		refs:      th.RefCount(),
		entry:     [4]uint64{pc, sp, a1, a2},
		port:      th.ExceptionPort(),
		excStatus: excStatus,
		stacks:    stacks,
		destroyed: th.Destroyed(),
	}
}

// scriptPort is a port whose behavior is set per test.
type scriptPort struct {
	typ      exception.PortType
	sendErr  error
	mu       sync.Mutex
	notes    []exception.Notification
	onNotify func(exception.Notification)
	onSend   func()
	reports  chan *exception.Report
}

func newScriptPort(typ exception.PortType) *scriptPort {
	return &scriptPort{typ: typ, reports: make(chan *exception.Report, 16)}
}

func (p *scriptPort) Type() exception.PortType { return p.typ }

func (p *scriptPort) SendReport(_ exception.Target, r *exception.Report) error {
	if p.sendErr != nil {
		return p.sendErr
	}
	if p.onSend != nil {
		p.onSend()
	}
	p.reports <- r
	return nil
}

func (p *scriptPort) Notify(_ exception.Target, n exception.Notification) {
	p.mu.Lock()
	p.notes = append(p.notes, n)
	fn := p.onNotify
	p.mu.Unlock()
	if fn != nil {
		fn(n)
	}
}

func (p *scriptPort) OnTargetBind(*exception.Slot) {}
func (p *scriptPort) OnTargetUnbind()              {}

func (p *scriptPort) notifications() []exception.Notification {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]exception.Notification(nil), p.notes...)
}

var errRefused = errors.New("refused")
