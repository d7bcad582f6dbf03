// Package exception defines exception ports, the reports sent to them and
// the slot that binds a port to a task.
//
// A Port receives reports from faulting threads and lifecycle notifications
// for debuggers. SendReport and Notify are called while the sender holds its
// own locks, so implementations must never block and must never call back
// into the sender.
//
// A Slot holds at most one bound port. Unbinding guarantees that the port's
// OnTargetUnbind has run before any concurrent Unbind caller can observe the
// slot as empty.
//
// QueuePort is a buffered port for handlers running on their own goroutines:
//
//	port := exception.NewQueuePort(exception.PortThread, 16)
//	_ = th.BindExceptionPort(port)
//	go func() {
//	    for {
//	        pkt, err := port.Receive(ctx)
//	        if err != nil {
//	            return
//	        }
//	        if pkt.Kind == exception.PacketException {
//	            _ = th.MarkExceptionHandled(exception.StatusResume)
//	        }
//	    }
//	}()
package exception
