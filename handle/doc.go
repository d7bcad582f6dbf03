// Package handle provides handle tables for kernel objects.
//
// A Table maps integer handles to objects. Inserting an object transfers
// one reference to the table; removing the handle gives it back by calling
// the object's Release method when it implements Releaser.
//
//	table := handle.NewTable()
//	h, err := table.Insert(handle.TypeThread, th)
//	obj, ok := table.GetTyped(h, handle.TypeThread)
//	table.Remove(h) // calls th.Release()
//
// Handle 0 is never valid. Freed handles are reused.
//
// # Observers
//
// Register observers to track handle lifecycle events:
//
//	table.Subscribe(handle.ObserverFunc(func(e handle.Event) {
//	    log.Printf("handle %d: %v", e.Handle, e.Type)
//	}))
package handle
