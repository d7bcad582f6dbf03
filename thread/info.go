package thread

import (
	"time"

	"github.com/wippyai/kobject/arch"
	"github.com/wippyai/kobject/errors"
	"github.com/wippyai/kobject/exception"
	"github.com/wippyai/kobject/sched"
)

// Info returns a snapshot of the thread's state.
func (t *Thread) Info() Info {
	t.mu.Lock()
	defer t.mu.Unlock()

	info := Info{WaitExceptionPortType: exception.PortNone}
	if t.excPort != nil {
		info.WaitExceptionPortType = t.excPort.Type()
	}

	switch t.state {
	case StateInitial, StateInitialized:
		info.State = InfoNew
	case StateRunning:
		// An exchange stays in place until the woken thread has retaken
		// the lock, so a decided but unreturned exchange still reads as
		// blocked.
		if t.excPort != nil || t.ctx.RunState() == sched.StateBlocked {
			info.State = InfoBlocked
		} else {
			info.State = InfoRunning
		}
	case StateSuspended:
		info.State = InfoSuspended
	case StateDying:
		info.State = InfoDying
	case StateDead:
		info.State = InfoDead
	default:
		panic("thread: impossible state " + t.state.String())
	}
	return info
}

// Runtime returns the cumulative time the thread has spent running.
func (t *Thread) Runtime() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ctx == nil {
		return 0
	}
	return t.ctx.Runtime()
}

// ExceptionReport returns the encoded report of the exchange in progress.
func (t *Thread) ExceptionReport() ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.excReport == nil {
		return nil, errors.BadState(errors.PhaseQuery, "exception report", "no exchange")
	}
	return t.excReport.MarshalBinary()
}

// ReadState encodes the selected register set into buf. The thread must
// be suspended or in an exception exchange.
func (t *Thread) ReadState(kind arch.RegSet, buf []byte) (int, error) {
	if _, err := arch.Size(kind); err != nil {
		return 0, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	regs, err := t.registersLocked("read state")
	if err != nil {
		return 0, err
	}
	return regs.Read(kind, buf)
}

// WriteState replaces the selected register set from buf. The thread must
// be suspended or in an exception exchange.
func (t *Thread) WriteState(kind arch.RegSet, buf []byte) error {
	if _, err := arch.Size(kind); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	regs, err := t.registersLocked("write state")
	if err != nil {
		return err
	}
	return regs.Write(kind, buf)
}

func (t *Thread) registersLocked(op string) (*arch.Context, error) {
	switch {
	case t.excPort != nil && t.excArch != nil:
		return t.excArch, nil
	case t.state == StateSuspended:
		return &t.regs, nil
	default:
		return nil, errors.BadState(errors.PhaseRegisters, op, t.state)
	}
}
