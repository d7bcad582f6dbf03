package thread

import (
	"strconv"

	"github.com/wippyai/kobject/errors"
	"github.com/wippyai/kobject/exception"
)

// BindExceptionPort binds port as the thread's exception port. It fails
// with not-found once the thread is dead and with bad-state if a port is
// already bound.
func (t *Thread) BindExceptionPort(port exception.Port) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == StateDead {
		return errors.NotFound(errors.PhasePort, "thread", strconv.FormatUint(uint64(t.koid), 10))
	}
	return t.ports.Bind(port)
}

// UnbindExceptionPort unbinds the thread's exception port and reports
// whether one was bound. Unless quietly is set, an exchange waiting on the
// port is resolved as StatusTryNext.
func (t *Thread) UnbindExceptionPort(quietly bool) bool {
	return t.ports.Unbind(quietly)
}

// ExceptionPort returns the bound exception port or nil.
func (t *Thread) ExceptionPort() exception.Port {
	return t.ports.Get()
}
