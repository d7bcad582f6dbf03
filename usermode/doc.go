// Package usermode runs user programs for kernel threads on wazero.
//
// A Program is a compiled core WebAssembly module. Its exported functions
// are the entry points a thread can start at; EntryAddress maps an export
// name to the address passed to Thread.Start. Each Run instantiates a fresh
// anonymous instance, so any number of threads can run the same program.
//
// Programs may import kernel.checkpoint, a safe point that parks the
// calling thread while it is suspended and terminates the instance once
// the thread is killed. Killing also cancels the run context, which stops
// code that never reaches a checkpoint.
//
// A trap becomes an *exception.Fault, which the thread turns into an
// exception report.
//
//	prog, err := usermode.Load(ctx, usermode.Demo, usermode.Config{})
//	entry, err := prog.EntryAddress("count")
//	err = prog.Run(ctx, entry, 10, 0, yield)
package usermode
