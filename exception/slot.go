package exception

import (
	"sync"

	"github.com/wippyai/kobject/errors"
)

// Slot holds the exception port bound at one level of a task.
type Slot struct {
	port      Port
	onRemoved func(Port)
	mu        sync.Mutex
}

// NewSlot creates an empty slot. onRemoved, if non-nil, runs after a
// non-quiet unbind with the slot unlocked.
func NewSlot(onRemoved func(Port)) *Slot {
	return &Slot{onRemoved: onRemoved}
}

// Bind stores port. It fails with bad-state if a port is already bound.
func (s *Slot) Bind(port Port) error {
	if port == nil {
		return errors.InvalidArgs(errors.PhasePort, "nil port")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port != nil {
		return errors.BadState(errors.PhasePort, "bind", "bound")
	}
	s.port = port
	port.OnTargetBind(s)
	return nil
}

// Unbind clears the bound port and reports whether there was one. The
// port's OnTargetUnbind runs before the slot lock is released, so a
// concurrent Unbind that finds the slot empty can rely on it having run.
func (s *Slot) Unbind(quietly bool) bool {
	return s.unbind(nil, quietly)
}

// UnbindPort unbinds only if port is the one currently bound.
func (s *Slot) UnbindPort(port Port, quietly bool) bool {
	if port == nil {
		return false
	}
	return s.unbind(port, quietly)
}

func (s *Slot) unbind(want Port, quietly bool) bool {
	s.mu.Lock()
	port := s.port
	if port == nil || (want != nil && port != want) {
		s.mu.Unlock()
		return false
	}
	s.port = nil
	port.OnTargetUnbind()
	s.mu.Unlock()

	if !quietly && s.onRemoved != nil {
		s.onRemoved(port)
	}
	return true
}

// Get returns the bound port or nil. The port may be unbound as soon as
// Get returns.
func (s *Slot) Get() Port {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}
