package stack

import (
	"go.uber.org/multierr"
)

// Set holds the stacks of one thread.
type Set struct {
	Safe   *Stack
	Unsafe *Stack
}

// AllocateSet allocates the safe stack and, when unsafe is set, the unsafe
// stack. Nothing survives a failed call.
func AllocateSet(space Space, size uint64, unsafe bool) (*Set, error) {
	safe, err := Allocate(space, size, SafeName)
	if err != nil {
		return nil, err
	}
	set := &Set{Safe: safe}

	if unsafe {
		us, err := Allocate(space, size, UnsafeName)
		if err != nil {
			if rerr := safe.Release(); rerr != nil {
				err = multierr.Append(err, rerr)
			}
			return nil, err
		}
		set.Unsafe = us
	}
	return set, nil
}

// Release frees whichever stacks were allocated. It is safe to call on a
// partially populated set.
func (s *Set) Release() error {
	var err error
	if s.Unsafe != nil {
		err = multierr.Append(err, s.Unsafe.Release())
		s.Unsafe = nil
	}
	if s.Safe != nil {
		err = multierr.Append(err, s.Safe.Release())
		s.Safe = nil
	}
	return err
}
