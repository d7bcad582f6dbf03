package vm

// PageSize is the granule of every region, mapping and commit.
const PageSize = 4096

// Flags describe what a region permits and how a child is placed.
type Flags uint32

const (
	FlagCanRead Flags = 1 << iota
	FlagCanWrite
	FlagCanExecute
	FlagCanMapSpecific
	// FlagSpecific places the child at the requested offset instead of
	// the first free range.
	FlagSpecific
)

// capabilities are the flags a child must inherit from its parent.
const capabilities = FlagCanRead | FlagCanWrite | FlagCanExecute | FlagCanMapSpecific

// Perms are the access permissions of a mapping.
type Perms uint8

const (
	PermRead Perms = 1 << iota
	PermWrite
	PermExecute
)

// Op names an allocating operation for fault hooks.
type Op string

const (
	OpCreateMemoryObject Op = "create-memory-object"
	OpCreateRegion       Op = "create-region"
	OpCreateMapping      Op = "create-mapping"
	OpMapRange           Op = "map-range"
)

// EventType identifies a region or mapping lifecycle event.
type EventType uint8

const (
	EventRegionCreated EventType = iota
	EventRegionDestroyed
	EventMappingCreated
	EventMappingDestroyed
)

// Event represents a region or mapping lifecycle event.
type Event struct {
	Region  *Region
	Mapping *Mapping
	Type    EventType
}

// Observer receives notifications about region and mapping lifecycle events.
type Observer interface {
	OnVMEvent(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

// OnVMEvent implements Observer.
func (f ObserverFunc) OnVMEvent(e Event) { f(e) }

func pageAligned(v uint64) bool {
	return v%PageSize == 0
}

func pages(size uint64) uint64 {
	return (size + PageSize - 1) / PageSize
}

func (p Perms) allowedBy(f Flags) bool {
	if p&PermRead != 0 && f&FlagCanRead == 0 {
		return false
	}
	if p&PermWrite != 0 && f&FlagCanWrite == 0 {
		return false
	}
	if p&PermExecute != 0 && f&FlagCanExecute == 0 {
		return false
	}
	return true
}
