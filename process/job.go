package process

import (
	"sync"

	"github.com/wippyai/kobject"
	"github.com/wippyai/kobject/errors"
	"github.com/wippyai/kobject/exception"
)

// Job groups processes and carries an exception port for all of them.
type Job struct {
	parent    *Job
	ports     *exception.Slot
	children  []*Job
	processes map[kobject.Koid]*Process
	name      string
	koid      kobject.Koid
	mu        sync.Mutex
}

// NewJob creates a job under parent, which may be nil for a root job.
func NewJob(name string, parent *Job) *Job {
	j := &Job{
		parent:    parent,
		name:      name,
		koid:      kobject.NewKoid(),
		processes: make(map[kobject.Koid]*Process),
	}
	j.ports = exception.NewSlot(j.onPortRemoved)
	if parent != nil {
		parent.mu.Lock()
		parent.children = append(parent.children, j)
		parent.mu.Unlock()
	}
	return j
}

// Koid returns the job's object id.
func (j *Job) Koid() kobject.Koid { return j.koid }

// Name returns the job name.
func (j *Job) Name() string { return j.name }

// Parent returns the enclosing job or nil.
func (j *Job) Parent() *Job { return j.parent }

// BindExceptionPort binds the job's exception port.
func (j *Job) BindExceptionPort(port exception.Port) error {
	return j.ports.Bind(port)
}

// UnbindExceptionPort unbinds the job's exception port and reports whether
// one was bound.
func (j *Job) UnbindExceptionPort(quietly bool) bool {
	return j.ports.Unbind(quietly)
}

// ExceptionPort returns the bound exception port or nil.
func (j *Job) ExceptionPort() exception.Port {
	return j.ports.Get()
}

// Processes returns the processes directly in the job.
func (j *Job) Processes() []*Process {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]*Process, 0, len(j.processes))
	for _, p := range j.processes {
		out = append(out, p)
	}
	return out
}

// Kill kills every process in the job and its child jobs.
func (j *Job) Kill() {
	j.walk(func(p *Process) { p.Kill() })
}

func (j *Job) addProcess(p *Process) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, ok := j.processes[p.koid]; ok {
		return errors.BadState(errors.PhaseProcess, "add process", "already a member")
	}
	j.processes[p.koid] = p
	return nil
}

func (j *Job) removeProcess(p *Process) {
	j.mu.Lock()
	delete(j.processes, p.koid)
	j.mu.Unlock()
}

// chain returns the bound ports from this job up to the root.
func (j *Job) chain() []exception.Port {
	var ports []exception.Port
	for cur := j; cur != nil; cur = cur.parent {
		if port := cur.ports.Get(); port != nil {
			ports = append(ports, port)
		}
	}
	return ports
}

func (j *Job) walk(fn func(*Process)) {
	j.mu.Lock()
	procs := make([]*Process, 0, len(j.processes))
	for _, p := range j.processes {
		procs = append(procs, p)
	}
	children := append([]*Job(nil), j.children...)
	j.mu.Unlock()

	for _, p := range procs {
		fn(p)
	}
	for _, c := range children {
		c.walk(fn)
	}
}

func (j *Job) onPortRemoved(port exception.Port) {
	j.walk(func(p *Process) { p.onPortRemoved(port) })
}
