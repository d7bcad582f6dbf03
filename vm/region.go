package vm

import (
	"sort"

	"github.com/wippyai/kobject/errors"
)

// Region is a range of an address space that may contain sub-regions and
// mappings.
type Region struct {
	as        *AddressSpace
	parent    *Region
	name      string
	children  []*Region
	mappings  []*Mapping
	base      uint64
	size      uint64
	flags     Flags
	destroyed bool
}

// Name returns the region name.
func (r *Region) Name() string { return r.name }

// Base returns the absolute start address.
func (r *Region) Base() uint64 { return r.base }

// Size returns the region size in bytes.
func (r *Region) Size() uint64 { return r.size }

// Flags returns the capability flags of the region.
func (r *Region) Flags() Flags { return r.flags }

// Destroyed reports whether the region has been destroyed.
func (r *Region) Destroyed() bool {
	r.as.mu.Lock()
	defer r.as.mu.Unlock()
	return r.destroyed
}

// MappingCount returns the number of live mappings directly inside r.
func (r *Region) MappingCount() int {
	r.as.mu.Lock()
	defer r.as.mu.Unlock()
	return len(r.mappings)
}

// ResidentPages returns the number of resident pages of all mappings in r
// and its sub-regions.
func (r *Region) ResidentPages() uint64 {
	r.as.mu.Lock()
	defer r.as.mu.Unlock()
	return r.residentLocked()
}

func (r *Region) residentLocked() uint64 {
	var n uint64
	for _, m := range r.mappings {
		n += m.residentLocked()
	}
	for _, c := range r.children {
		n += c.residentLocked()
	}
	return n
}

// CreateSubRegion reserves [offset, offset+size) of r as a new region. Without
// FlagSpecific the offset is ignored and the first free range is used. The
// child's capabilities must be a subset of r's.
func (r *Region) CreateSubRegion(offset, size uint64, flags Flags, name string) (*Region, error) {
	if size == 0 || !pageAligned(size) || !pageAligned(offset) {
		return nil, errors.InvalidArgs(errors.PhaseVM, "region %q: unaligned offset %#x or size %#x", name, offset, size)
	}
	if flags&capabilities&^r.flags != 0 {
		return nil, errors.InvalidArgs(errors.PhaseVM, "region %q requests capabilities beyond parent", name)
	}
	if err := r.as.fault(OpCreateRegion, name); err != nil {
		return nil, err
	}

	r.as.mu.Lock()
	if r.destroyed {
		r.as.mu.Unlock()
		return nil, errors.BadState(errors.PhaseVM, "create region", "destroyed")
	}
	off, err := r.placeLocked(offset, size, flags&FlagSpecific != 0)
	if err != nil {
		r.as.mu.Unlock()
		return nil, err
	}
	child := &Region{
		as:     r.as,
		parent: r,
		name:   name,
		base:   r.base + off,
		size:   size,
		flags:  flags & capabilities,
	}
	r.children = append(r.children, child)
	r.as.mu.Unlock()

	r.as.notify([]Event{{Type: EventRegionCreated, Region: child}})
	return child, nil
}

// CreateMapping maps size bytes of obj starting at objOffset into r. The
// requested permissions must be allowed by r's capability flags.
func (r *Region) CreateMapping(offset, size uint64, flags Flags, obj *MemoryObject, objOffset uint64, perms Perms, name string) (*Mapping, error) {
	if obj == nil {
		return nil, errors.InvalidArgs(errors.PhaseVM, "mapping %q: nil memory object", name)
	}
	if size == 0 || !pageAligned(size) || !pageAligned(offset) || !pageAligned(objOffset) {
		return nil, errors.InvalidArgs(errors.PhaseVM, "mapping %q: unaligned range", name)
	}
	if objOffset+size > obj.size {
		return nil, errors.InvalidArgs(errors.PhaseVM, "mapping %q exceeds memory object", name)
	}
	if !perms.allowedBy(r.flags) {
		return nil, errors.InvalidArgs(errors.PhaseVM, "mapping %q: permissions not allowed by region", name)
	}
	if flags&FlagSpecific != 0 && r.flags&FlagCanMapSpecific == 0 {
		return nil, errors.InvalidArgs(errors.PhaseVM, "mapping %q: region does not permit specific placement", name)
	}
	if err := r.as.fault(OpCreateMapping, name); err != nil {
		return nil, err
	}

	r.as.mu.Lock()
	if r.destroyed {
		r.as.mu.Unlock()
		return nil, errors.BadState(errors.PhaseVM, "create mapping", "destroyed")
	}
	off, err := r.placeLocked(offset, size, flags&FlagSpecific != 0)
	if err != nil {
		r.as.mu.Unlock()
		return nil, err
	}
	m := &Mapping{
		region:    r,
		obj:       obj,
		name:      name,
		base:      r.base + off,
		size:      size,
		objOffset: objOffset,
		perms:     perms,
		mapped:    make([]bool, size/PageSize),
	}
	obj.mappings++
	r.mappings = append(r.mappings, m)
	r.as.mu.Unlock()

	r.as.notify([]Event{{Type: EventMappingCreated, Region: r, Mapping: m}})
	return m, nil
}

// Destroy unmaps every mapping and destroys every sub-region inside r, then
// removes r from its parent. Destroying the root region is not permitted.
func (r *Region) Destroy() error {
	if r.parent == nil {
		return errors.BadState(errors.PhaseVM, "destroy region", "root")
	}

	r.as.mu.Lock()
	if r.destroyed {
		r.as.mu.Unlock()
		return errors.BadState(errors.PhaseVM, "destroy region", "destroyed")
	}
	var events []Event
	r.destroyLocked(&events)
	r.parent.removeChildLocked(r)
	r.as.mu.Unlock()

	r.as.notify(events)
	return nil
}

func (r *Region) destroyLocked(events *[]Event) {
	for _, c := range r.children {
		c.destroyLocked(events)
	}
	r.children = nil
	for _, m := range r.mappings {
		m.unmapLocked()
		*events = append(*events, Event{Type: EventMappingDestroyed, Region: r, Mapping: m})
	}
	r.mappings = nil
	r.destroyed = true
	*events = append(*events, Event{Type: EventRegionDestroyed, Region: r})
}

func (r *Region) removeChildLocked(c *Region) {
	for i, child := range r.children {
		if child == c {
			r.children = append(r.children[:i], r.children[i+1:]...)
			return
		}
	}
}

func (r *Region) removeMappingLocked(m *Mapping) {
	for i, mm := range r.mappings {
		if mm == m {
			r.mappings = append(r.mappings[:i], r.mappings[i+1:]...)
			return
		}
	}
}

// placeLocked finds room for size bytes inside r and returns the offset
// relative to r.base.
func (r *Region) placeLocked(offset, size uint64, specific bool) (uint64, error) {
	type span struct{ start, end uint64 }
	used := make([]span, 0, len(r.children)+len(r.mappings))
	for _, c := range r.children {
		used = append(used, span{c.base - r.base, c.base - r.base + c.size})
	}
	for _, m := range r.mappings {
		used = append(used, span{m.base - r.base, m.base - r.base + m.size})
	}

	if specific {
		if offset+size > r.size || offset+size < offset {
			return 0, errors.InvalidArgs(errors.PhaseVM, "range [%#x, %#x) outside region %q", offset, offset+size, r.name)
		}
		for _, u := range used {
			if offset < u.end && u.start < offset+size {
				return 0, errors.NoResources(errors.PhaseVM, "place", nil)
			}
		}
		return offset, nil
	}

	sort.Slice(used, func(i, j int) bool { return used[i].start < used[j].start })
	var cursor uint64
	for _, u := range used {
		if u.start >= cursor+size {
			return cursor, nil
		}
		if u.end > cursor {
			cursor = u.end
		}
	}
	if cursor+size <= r.size {
		return cursor, nil
	}
	return 0, errors.New(errors.PhaseVM, errors.KindNoResources).
		Op("place").
		Detail("no room for %#x bytes in region %q", size, r.name).
		Build()
}
