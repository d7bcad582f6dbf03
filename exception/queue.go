package exception

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/kobject"
	"github.com/wippyai/kobject/errors"
)

// PacketKind identifies what a Packet carries.
type PacketKind uint8

const (
	PacketException PacketKind = iota
	PacketNotification
)

// Packet is one message received from a QueuePort.
type Packet struct {
	Target       Target
	Report       *Report
	Kind         PacketKind
	Notification Notification
}

// QueuePort is a Port backed by a bounded queue. Reports are rejected,
// not blocked on, when the queue is full.
type QueuePort struct {
	ch      chan Packet
	slot    *Slot
	koid    kobject.Koid
	unbinds atomic.Int32
	mu      sync.Mutex
	typ     PortType
	closed  bool
}

// NewQueuePort creates a port of the given type with room for capacity
// undelivered packets.
func NewQueuePort(typ PortType, capacity int) *QueuePort {
	if capacity <= 0 {
		capacity = 1
	}
	return &QueuePort{
		ch:   make(chan Packet, capacity),
		koid: kobject.NewKoid(),
		typ:  typ,
	}
}

// Koid returns the port's object id.
func (p *QueuePort) Koid() kobject.Koid { return p.koid }

// Type implements Port.
func (p *QueuePort) Type() PortType { return p.typ }

// SendReport implements Port.
func (p *QueuePort) SendReport(target Target, report *Report) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.Unavailable(errors.PhasePort, "send report", "port closed")
	}
	select {
	case p.ch <- Packet{Kind: PacketException, Target: target, Report: report}:
		return nil
	default:
		return errors.Unavailable(errors.PhasePort, "send report", "queue full")
	}
}

// Notify implements Port.
func (p *QueuePort) Notify(target Target, n Notification) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.ch <- Packet{Kind: PacketNotification, Target: target, Notification: n}:
	default:
		Logger().Warn("notification dropped",
			zap.Uint64("port", uint64(p.koid)),
			zap.Stringer("notification", n))
	}
}

// OnTargetBind implements Port.
func (p *QueuePort) OnTargetBind(slot *Slot) {
	p.mu.Lock()
	p.slot = slot
	p.mu.Unlock()
}

// OnTargetUnbind implements Port.
func (p *QueuePort) OnTargetUnbind() {
	p.mu.Lock()
	p.slot = nil
	p.mu.Unlock()
	p.unbinds.Add(1)
}

// UnbindCount returns how many times the port has been unbound.
func (p *QueuePort) UnbindCount() int {
	return int(p.unbinds.Load())
}

// Receive returns the next packet, blocking until one arrives or ctx is
// done.
func (p *QueuePort) Receive(ctx context.Context) (Packet, error) {
	select {
	case pkt := <-p.ch:
		return pkt, nil
	case <-ctx.Done():
		return Packet{}, errors.Wrap(errors.PhasePort, errors.KindUnavailable, ctx.Err(), "receive")
	}
}

// Close stops accepting packets and unbinds the port from its target, as
// when the last handle to a port goes away.
func (p *QueuePort) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	slot := p.slot
	p.mu.Unlock()

	if slot != nil {
		slot.UnbindPort(p, false)
	}
}
