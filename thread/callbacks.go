package thread

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/kobject/exception"
	"github.com/wippyai/kobject/sched"
)

// onEvent dispatches lifecycle callbacks from the execution context. It
// always runs on the thread's own goroutine.
func (t *Thread) onEvent(ev sched.Event) {
	switch ev {
	case sched.EventExiting:
		t.exiting()
	case sched.EventSuspending:
		t.suspending()
	case sched.EventResuming:
		t.resuming()
	}
}

func (t *Thread) exiting() {
	close(t.terminated)

	t.mu.Lock()
	excPort := t.excPort
	t.mu.Unlock()

	// An exchange is still published when the thread exits during report
	// delivery, which runs on this goroutine.
	if excPort != nil {
		excPort.Notify(t, exception.NotifyExchangeAbandoned)
	}
	// Debuggers reading registers from here on must still see DYING.
	if dbg := t.proc.DebuggerPort(); dbg != nil {
		dbg.Notify(t, exception.NotifyThreadExiting)
	}

	t.mu.Lock()
	if t.state == StateDead {
		t.mu.Unlock()
		panic("thread: exiting twice")
	}
	t.setStateLocked(StateDead)
	t.mu.Unlock()

	t.proc.RemoveThread(t)

	t.mu.Lock()
	last := t.dropSchedHoldLocked()
	t.mu.Unlock()

	if last {
		// This goroutine is about to end; destroy from a worker instead.
		t.cfg.Scheduler.Defer(t.destroy)
	}
}

func (t *Thread) suspending() {
	t.mu.Lock()
	if t.state != StateRunning {
		t.mu.Unlock()
		return
	}
	t.setStateLocked(StateSuspended)
	t.mu.Unlock()

	if dbg := t.proc.DebuggerPort(); dbg != nil {
		dbg.Notify(t, exception.NotifyThreadSuspended)
	}
}

func (t *Thread) resuming() {
	t.mu.Lock()
	if t.state != StateSuspended {
		t.mu.Unlock()
		return
	}
	t.setStateLocked(StateRunning)
	t.mu.Unlock()

	if dbg := t.proc.DebuggerPort(); dbg != nil {
		dbg.Notify(t, exception.NotifyThreadResumed)
	}
}

// trampoline is the entry of the execution context. It runs the user
// program until it returns, is killed, or faults without a handler willing
// to resume it, then exits the thread.
func (t *Thread) trampoline(ctx context.Context) {
	if dbg := t.proc.DebuggerPort(); dbg != nil {
		dbg.Notify(t, exception.NotifyThreadStarting)
	}
	if t.ctx.Checkpoint() == nil {
		t.run(ctx)
	}

	if err := t.Exit(); err != nil {
		panic("thread: exit from trampoline: " + err.Error())
	}
}

func (t *Thread) run(ctx context.Context) {
	prog := t.proc.Program()
	if prog == nil {
		prog = ProgramFunc(idle)
	}

	for {
		t.mu.Lock()
		pc, a1, a2 := t.regs.General.PC, t.regs.General.R[0], t.regs.General.R[1]
		t.mu.Unlock()

		err := prog.Run(ctx, pc, a1, a2, t.ctx.Checkpoint)
		var fault *exception.Fault
		if !errors.As(err, &fault) {
			if err != nil {
				Logger().Debug("program returned",
					zap.Uint64("koid", uint64(t.koid)),
					zap.Error(err))
			}
			return
		}

		status, err := t.HandleException(t.reportFor(fault))
		if err != nil || status != exception.StatusResume {
			return
		}
		// Resumed: continue from the registers the handler left behind.
	}
}

// reportFor builds the report for f and moves the registers to the
// faulting PC, so handlers read and resume from where the fault happened.
func (t *Thread) reportFor(f *exception.Fault) *exception.Report {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.regs.General.PC = f.PC
	return &exception.Report{
		Type:      f.Type,
		Tid:       uint64(t.koid),
		Pid:       uint64(t.proc.Koid()),
		PC:        f.PC,
		SP:        t.regs.General.SP,
		FaultAddr: f.Addr,
	}
}

const idleInterval = time.Millisecond

// idle runs when the process has no program: it parks at safe points until
// the thread is killed.
func idle(ctx context.Context, _, _, _ uint64, yield func() error) error {
	for {
		if err := yield(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
		case <-time.After(idleInterval):
		}
	}
}
