// Package kobject implements kernel thread objects: handle-addressable
// schedulable execution contexts with a synchronous exception rendezvous.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct responsibilities:
//
//	kobject/           Root package with koid allocation
//	├── thread/        Thread object: lifecycle, exception exchange, info surface
//	├── process/       Process and job objects owning threads and exception ports
//	├── exception/     Exception ports, reports, port slots
//	├── sched/         Low-level execution contexts backed by goroutines
//	├── stack/         Guarded kernel stack allocation
//	├── vm/            Address spaces, regions, memory objects, mappings
//	├── arch/          Register sets and their byte encodings
//	├── handle/        Handle table for kernel objects
//	├── usermode/      User programs executed on wazero
//	├── cmd/threadctl/ CLI and TUI for running and controlling threads
//	└── errors/        Structured error types
//
// # Quick Start
//
// Run a user program on a thread:
//
//	sch := sched.New(sched.Config{})
//	defer sch.Close()
//
//	prog, err := usermode.Load(ctx, usermode.Demo, usermode.Config{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer prog.Close(ctx)
//
//	proc, err := process.New("demo", process.Config{Scheduler: sch, Program: prog})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	h, th, err := proc.CreateThread("worker")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	entry, _ := prog.EntryAddress("count")
//	if err := th.Start(entry, 0, 1000, 0, true); err != nil {
//	    log.Fatal(err)
//	}
//	th.Join(ctx)
//	proc.CloseHandle(h)
//
// # Thread Lifecycle
//
// A thread moves through INITIAL → INITIALIZED → RUNNING ⇄ SUSPENDED →
// DYING → DEAD. Control operations (Start, Suspend, Resume, Kill) never
// block; suspension, resumption and death take effect when the thread's own
// execution context reaches a safe point and reports back.
//
// # Exceptions
//
// A faulting thread offers an exception report to the debugger, thread,
// process and job ports in turn. Each offer blocks the thread until a handler
// marks the exception handled, the port is unbound, or the thread is killed.
package kobject
