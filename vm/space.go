package vm

import (
	"sync"

	"github.com/wippyai/kobject/errors"
)

// AddressSpace owns a tree of regions and the commit budget shared by every
// memory object allocated from it.
type AddressSpace struct {
	root        *Region
	hook        func(Op, string) error
	name        string
	observers   []Observer
	commitLimit uint64
	committed   uint64
	// mu guards the whole region tree and commit accounting.
	mu sync.Mutex
}

// Option configures an AddressSpace.
type Option func(*AddressSpace)

// WithFaultHook installs a hook consulted before every allocating
// operation. A non-nil return fails the operation with no-resources.
func WithFaultHook(fn func(op Op, name string) error) Option {
	return func(as *AddressSpace) {
		as.hook = fn
	}
}

// WithObserver subscribes o to region and mapping events.
func WithObserver(o Observer) Option {
	return func(as *AddressSpace) {
		as.observers = append(as.observers, o)
	}
}

// WithCommitLimit bounds the number of pages that may be resident at once.
// Zero means unlimited.
func WithCommitLimit(pages uint64) Option {
	return func(as *AddressSpace) {
		as.commitLimit = pages
	}
}

// NewAddressSpace creates an address space whose root region spans
// [base, base+size) with every capability.
func NewAddressSpace(name string, base, size uint64, opts ...Option) *AddressSpace {
	as := &AddressSpace{name: name}
	for _, opt := range opts {
		opt(as)
	}
	as.root = &Region{
		as:    as,
		name:  name,
		base:  base,
		size:  size,
		flags: capabilities,
	}
	return as
}

// Name returns the address space name.
func (as *AddressSpace) Name() string {
	return as.name
}

// Root returns the region spanning the whole address space.
func (as *AddressSpace) Root() *Region {
	return as.root
}

// Committed returns the number of resident pages across all mappings.
func (as *AddressSpace) Committed() uint64 {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.committed
}

// NewMemoryObject allocates a memory object of size bytes, rounded up to
// whole pages. Pages are not committed until a mapping of the object is
// pre-faulted.
func (as *AddressSpace) NewMemoryObject(size uint64) (*MemoryObject, error) {
	if size == 0 {
		return nil, errors.InvalidArgs(errors.PhaseVM, "memory object size must be non-zero")
	}
	if err := as.fault(OpCreateMemoryObject, ""); err != nil {
		return nil, err
	}
	n := pages(size)
	return &MemoryObject{
		as:        as,
		size:      n * PageSize,
		committed: make([]bool, n),
	}, nil
}

func (as *AddressSpace) fault(op Op, name string) error {
	if as.hook == nil {
		return nil
	}
	if err := as.hook(op, name); err != nil {
		return errors.NoResources(errors.PhaseVM, string(op), err)
	}
	return nil
}

func (as *AddressSpace) notify(events []Event) {
	for _, e := range events {
		for _, o := range as.observers {
			o.OnVMEvent(e)
		}
	}
}

// MemoryObject is a page-granular backing store.
type MemoryObject struct {
	as        *AddressSpace
	committed []bool
	size      uint64
	mappings  int
}

// Size returns the object size in bytes.
func (o *MemoryObject) Size() uint64 {
	return o.size
}

// CommittedPages returns the number of pages currently committed.
func (o *MemoryObject) CommittedPages() uint64 {
	o.as.mu.Lock()
	defer o.as.mu.Unlock()
	var n uint64
	for _, c := range o.committed {
		if c {
			n++
		}
	}
	return n
}

// commitLocked commits pages [first, first+count) against the space budget.
func (o *MemoryObject) commitLocked(first, count uint64) error {
	var fresh uint64
	for i := first; i < first+count; i++ {
		if !o.committed[i] {
			fresh++
		}
	}
	as := o.as
	if as.commitLimit != 0 && as.committed+fresh > as.commitLimit {
		return errors.New(errors.PhaseVM, errors.KindNoResources).
			Op(string(OpMapRange)).
			Detail("commit of %d pages exceeds limit %d", fresh, as.commitLimit).
			Build()
	}
	for i := first; i < first+count; i++ {
		o.committed[i] = true
	}
	as.committed += fresh
	return nil
}

// releaseLocked drops every committed page once the last mapping is gone.
func (o *MemoryObject) releaseLocked() {
	if o.mappings > 0 {
		return
	}
	for i, c := range o.committed {
		if c {
			o.committed[i] = false
			o.as.committed--
		}
	}
}
