package exception

import (
	"github.com/wippyai/kobject"
)

// PortType identifies the level a port is bound at.
type PortType uint8

const (
	PortNone PortType = iota
	PortDebugger
	PortThread
	PortProcess
	PortJob
)

func (t PortType) String() string {
	switch t {
	case PortNone:
		return "NONE"
	case PortDebugger:
		return "DEBUGGER"
	case PortThread:
		return "THREAD"
	case PortProcess:
		return "PROCESS"
	case PortJob:
		return "JOB"
	default:
		return "UNKNOWN"
	}
}

// Status is the state of one exception exchange.
type Status uint8

const (
	// StatusIdle means no exchange is in progress.
	StatusIdle Status = iota
	// StatusUnprocessed means a report was delivered and no decision made.
	StatusUnprocessed
	// StatusTryNext means the handler declined; offer the next port.
	StatusTryNext
	// StatusResume means the handler dealt with the exception.
	StatusResume
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "IDLE"
	case StatusUnprocessed:
		return "UNPROCESSED"
	case StatusTryNext:
		return "TRY_NEXT"
	case StatusResume:
		return "RESUME"
	default:
		return "UNKNOWN"
	}
}

// Notification is a lifecycle event delivered to a port.
type Notification uint8

const (
	NotifyThreadStarting Notification = iota
	NotifyThreadExiting
	NotifyThreadSuspended
	NotifyThreadResumed
	// NotifyExchangeAbandoned tells the port of an in-flight exchange that
	// the thread exited before a decision was made.
	NotifyExchangeAbandoned
)

func (n Notification) String() string {
	switch n {
	case NotifyThreadStarting:
		return "thread-starting"
	case NotifyThreadExiting:
		return "thread-exiting"
	case NotifyThreadSuspended:
		return "thread-suspended"
	case NotifyThreadResumed:
		return "thread-resumed"
	case NotifyExchangeAbandoned:
		return "exchange-abandoned"
	default:
		return "unknown"
	}
}

// Target is the task a report or notification is about.
type Target interface {
	Koid() kobject.Koid
}

// Port receives exception reports and notifications.
type Port interface {
	Type() PortType

	// SendReport queues report for a handler. A non-nil error means the
	// report was not delivered and the sender treats it as TRY_NEXT.
	SendReport(target Target, report *Report) error

	// Notify delivers a lifecycle notification. Delivery is best effort.
	Notify(target Target, n Notification)

	// OnTargetBind is called when the port is bound into slot.
	OnTargetBind(slot *Slot)

	// OnTargetUnbind is called, with the slot locked, when the port is
	// unbound.
	OnTargetUnbind()
}
