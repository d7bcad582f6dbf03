package handle

// Handle is an opaque reference to an object in a table.
// Handle 0 is reserved and always invalid.
type Handle uint32

// Type identifies the kind of object behind a handle.
type Type uint32

const (
	TypeNone Type = iota
	TypeThread
	TypeProcess
	TypeJob
	TypePort
)

func (t Type) String() string {
	switch t {
	case TypeThread:
		return "thread"
	case TypeProcess:
		return "process"
	case TypeJob:
		return "job"
	case TypePort:
		return "port"
	default:
		return "none"
	}
}

// EventType identifies a handle lifecycle event.
type EventType uint8

const (
	EventCreated EventType = iota
	EventClosed
)

// Event represents a handle lifecycle notification.
type Event struct {
	Object any
	Handle Handle
	Type   EventType
	Kind   Type
}

// Observer receives notifications about handle lifecycle events.
type Observer interface {
	OnHandleEvent(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

// OnHandleEvent implements Observer.
func (f ObserverFunc) OnHandleEvent(e Event) { f(e) }

// Releaser is implemented by objects that hold a reference per handle.
type Releaser interface {
	Release()
}
