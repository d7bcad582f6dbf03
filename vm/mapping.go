package vm

import (
	"github.com/wippyai/kobject/errors"
)

// Mapping is a window of a MemoryObject inside a Region.
type Mapping struct {
	region    *Region
	obj       *MemoryObject
	name      string
	mapped    []bool
	base      uint64
	size      uint64
	objOffset uint64
	perms     Perms
	destroyed bool
}

// Name returns the mapping name.
func (m *Mapping) Name() string { return m.name }

// Base returns the absolute start address.
func (m *Mapping) Base() uint64 { return m.base }

// Size returns the mapping size in bytes.
func (m *Mapping) Size() uint64 { return m.size }

// Perms returns the mapping permissions.
func (m *Mapping) Perms() Perms { return m.perms }

// Region returns the region containing the mapping.
func (m *Mapping) Region() *Region { return m.region }

// ResidentPages returns the number of pages currently mapped.
func (m *Mapping) ResidentPages() uint64 {
	m.region.as.mu.Lock()
	defer m.region.as.mu.Unlock()
	return m.residentLocked()
}

func (m *Mapping) residentLocked() uint64 {
	var n uint64
	for _, p := range m.mapped {
		if p {
			n++
		}
	}
	return n
}

// MapRange makes [offset, offset+size) of the mapping resident. With commit
// set, backing pages are committed up front so later accesses never fault.
func (m *Mapping) MapRange(offset, size uint64, commit bool) error {
	if !pageAligned(offset) || size == 0 || offset+size > m.size {
		return errors.InvalidArgs(errors.PhaseVM, "map range [%#x, %#x) outside mapping %q", offset, offset+size, m.name)
	}
	as := m.region.as
	if err := as.fault(OpMapRange, m.name); err != nil {
		return err
	}

	as.mu.Lock()
	defer as.mu.Unlock()
	if m.destroyed {
		return errors.BadState(errors.PhaseVM, "map range", "destroyed")
	}
	first := offset / PageSize
	count := pages(size)
	if commit {
		if err := m.obj.commitLocked(m.objOffset/PageSize+first, count); err != nil {
			return err
		}
	}
	for i := first; i < first+count; i++ {
		m.mapped[i] = true
	}
	return nil
}

// Destroy unmaps the mapping and removes it from its region.
func (m *Mapping) Destroy() error {
	as := m.region.as
	as.mu.Lock()
	if m.destroyed {
		as.mu.Unlock()
		return errors.BadState(errors.PhaseVM, "destroy mapping", "destroyed")
	}
	m.unmapLocked()
	m.region.removeMappingLocked(m)
	as.mu.Unlock()

	as.notify([]Event{{Type: EventMappingDestroyed, Region: m.region, Mapping: m}})
	return nil
}

func (m *Mapping) unmapLocked() {
	for i := range m.mapped {
		m.mapped[i] = false
	}
	m.destroyed = true
	m.obj.mappings--
	m.obj.releaseLocked()
}
