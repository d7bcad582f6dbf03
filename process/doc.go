// Package process implements the task objects that own threads: processes
// and jobs.
//
// A Process owns a user address space, a handle table and the program its
// threads run. Threads are created through the process, which hands back a
// handle to each one. A thread becomes a member of its process when it
// starts and leaves when it exits; the process dies with its last member
// or when it is killed.
//
// Exception ports can be bound at three levels above a thread: the
// process debugger port, the process port and the port of each enclosing
// job. A fault nobody resumes kills the process.
//
//	proc, _ := process.New("app", process.Config{Scheduler: s, Program: prog})
//	h, th, _ := proc.CreateThread("main")
//	_ = th.Start(entry, 0, 0, 0, true)
//	_ = proc.Wait(ctx)
//	_ = proc.CloseHandle(h)
package process
