package thread

import (
	"go.uber.org/zap"

	"github.com/wippyai/kobject/arch"
	"github.com/wippyai/kobject/errors"
	"github.com/wippyai/kobject/exception"
)

// ExchangeException delivers report to port and blocks until a handler
// decides, the port is unbound, or the thread is killed. It must be called
// on the thread's own goroutine.
//
// A report the port does not accept comes back as StatusTryNext without
// blocking. A kill during the wait returns a killed error and no decision.
func (t *Thread) ExchangeException(port exception.Port, report *exception.Report, actx *arch.Context) (exception.Status, error) {
	if port == nil || report == nil {
		return exception.StatusIdle, errors.InvalidArgs(errors.PhaseException, "exchange needs a port and a report")
	}

	t.mu.Lock()
	if t.excPort != nil || t.excStatus != exception.StatusIdle {
		t.mu.Unlock()
		panic("thread: nested exception exchange")
	}
	if t.ev.armed() {
		t.mu.Unlock()
		panic("thread: rendezvous event armed before exchange")
	}
	// Publish before delivery so a handler that reacts immediately finds
	// the exchange in place.
	t.excPort = port
	t.excReport = report
	t.excArch = actx
	t.excStatus = exception.StatusUnprocessed
	sc := t.ctx
	t.mu.Unlock()

	if err := port.SendReport(t, report); err != nil {
		t.mu.Lock()
		t.clearExchangeLocked()
		t.mu.Unlock()
		Logger().Warn("exception report not delivered",
			zap.Uint64("koid", uint64(t.koid)),
			zap.Stringer("port", port.Type()),
			zap.Error(err))
		return exception.StatusTryNext, nil
	}

	werr := sc.Block(t.ev.wait)

	t.mu.Lock()
	status := t.excStatus
	killed := werr != nil || sc.Killed()
	t.clearExchangeLocked()
	t.mu.Unlock()

	if killed {
		Logger().Debug("exception exchange killed",
			zap.Uint64("koid", uint64(t.koid)),
			zap.Stringer("port", port.Type()))
		return exception.StatusIdle, errors.Killed(errors.PhaseException, "exchange")
	}
	Logger().Debug("exception exchange resolved",
		zap.Uint64("koid", uint64(t.koid)),
		zap.Stringer("port", port.Type()),
		zap.Stringer("status", status))
	return status, nil
}

// clearExchangeLocked ends the current exchange. A decision that raced a
// kill leaves the event signalled; draining it here keeps the next
// exchange from skipping its wait.
func (t *Thread) clearExchangeLocked() {
	t.excPort = nil
	t.excReport = nil
	t.excArch = nil
	t.excStatus = exception.StatusIdle
	t.ev.reset()
}

// MarkExceptionHandled records a handler's decision for the exchange in
// progress and wakes the thread. status must be StatusResume or
// StatusTryNext.
func (t *Thread) MarkExceptionHandled(status exception.Status) error {
	if status != exception.StatusResume && status != exception.StatusTryNext {
		return errors.InvalidArgs(errors.PhaseException, "invalid exception decision %s", status)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.excStatus != exception.StatusUnprocessed {
		return errors.BadState(errors.PhaseException, "mark handled", t.excStatus)
	}
	t.excStatus = status
	t.ev.signal()
	return nil
}

// OnExceptionPortRemoval resolves the exchange in progress as
// StatusTryNext if it is waiting on port and undecided. Otherwise it does
// nothing.
func (t *Thread) OnExceptionPortRemoval(port exception.Port) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.excPort == nil || t.excPort != port || t.excStatus != exception.StatusUnprocessed {
		return
	}
	t.excStatus = exception.StatusTryNext
	t.ev.signal()
}

// HandleException offers report to the debugger port, the thread port,
// the process port and the job ports in turn, stopping at the first one
// that resumes the thread. If none does, the process is told the exception
// went unhandled and a not-found error is returned. A kill stops delivery
// with a killed error.
func (t *Thread) HandleException(report *exception.Report) (exception.Status, error) {
	levels := []func() []exception.Port{
		func() []exception.Port { return []exception.Port{t.proc.DebuggerPort()} },
		func() []exception.Port { return []exception.Port{t.ports.Get()} },
		t.proc.ExceptionPorts,
	}

	for _, level := range levels {
		for _, port := range level() {
			if port == nil {
				continue
			}
			status, err := t.ExchangeException(port, report, &t.regs)
			if err != nil {
				return status, err
			}
			if status == exception.StatusResume {
				return status, nil
			}
		}
	}

	Logger().Debug("exception unhandled",
		zap.Uint64("koid", uint64(t.koid)),
		zap.Stringer("type", report.Type))
	t.proc.OnUnhandledException(t, report)
	return exception.StatusTryNext, errors.NotFound(errors.PhaseException, "handler", report.Type.String())
}
