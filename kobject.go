package kobject

import "sync/atomic"

// Koid is a kernel object id, unique across all objects for the life of
// the program.
type Koid uint64

// KoidInvalid is never assigned to an object.
const KoidInvalid Koid = 0

// koidFirst leaves room below for well-known ids.
const koidFirst = 1024

var nextKoid atomic.Uint64

func init() {
	nextKoid.Store(koidFirst)
}

// NewKoid allocates a fresh koid.
func NewKoid() Koid {
	return Koid(nextKoid.Add(1))
}
