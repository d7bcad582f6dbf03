package usermode

import (
	"context"
	stderrors "errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tetratelabs/wazero/sys"

	kerrors "github.com/wippyai/kobject/errors"
	"github.com/wippyai/kobject/exception"
	"github.com/wippyai/kobject/process"
	"github.com/wippyai/kobject/sched"
	"github.com/wippyai/kobject/thread"
)

const waitTimeout = 5 * time.Second

func load(t *testing.T, cfg Config) *Program {
	t.Helper()
	ctx := context.Background()
	prog, err := Load(ctx, Demo, cfg)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	t.Cleanup(func() { prog.Close(ctx) })
	return prog
}

func entry(t *testing.T, prog *Program, name string) uint64 {
	t.Helper()
	addr, err := prog.EntryAddress(name)
	if err != nil {
		t.Fatalf("EntryAddress(%q): %v", name, err)
	}
	return addr
}

func noYield() error { return nil }

func TestLoad_Entries(t *testing.T) {
	prog := load(t, Config{})

	want := []string{"count", "fault", "spin", "sum"}
	got := prog.Entries()
	if len(got) != len(want) {
		t.Fatalf("entries = %v, want %v", got, want)
	}
	for i, name := range want {
		if got[i] != name {
			t.Errorf("entries[%d] = %q, want %q", i, got[i], name)
		}
		if addr := entry(t, prog, name); addr != CodeBase+uint64(i)*EntryStride {
			t.Errorf("%s at %#x", name, addr)
		}
	}

	if _, err := prog.EntryAddress("main"); !kerrors.Is(err, kerrors.ErrNotFound) {
		t.Errorf("unknown entry: err = %v, want not found", err)
	}
}

func TestLoad_Invalid(t *testing.T) {
	_, err := Load(context.Background(), []byte("not wasm"), Config{})
	if !kerrors.Is(err, kerrors.ErrInvalidArgs) {
		t.Errorf("err = %v, want invalid args", err)
	}
}

func TestRun(t *testing.T) {
	for _, interp := range []bool{false, true} {
		name := "compiler"
		if interp {
			name = "interpreter"
		}
		t.Run(name, func(t *testing.T) {
			prog := load(t, Config{Interpreter: interp, MemoryLimitPages: 16})
			ctx := context.Background()

			if err := prog.Run(ctx, entry(t, prog, "sum"), 2, 3, noYield); err != nil {
				t.Errorf("sum: %v", err)
			}

			var calls atomic.Int32
			count := func() error { calls.Add(1); return nil }
			if err := prog.Run(ctx, entry(t, prog, "count"), 7, 0, count); err != nil {
				t.Errorf("count: %v", err)
			}
			if calls.Load() != 7 {
				t.Errorf("checkpoints = %d, want 7", calls.Load())
			}

			err := prog.Run(ctx, entry(t, prog, "fault"), 0, 0, noYield)
			var fault *exception.Fault
			if !stderrors.As(err, &fault) {
				t.Fatalf("fault: err = %v, want *exception.Fault", err)
			}
			if fault.Type != exception.ReportUndefinedInstruction || fault.PC != entry(t, prog, "fault") {
				t.Errorf("fault = %+v", fault)
			}
		})
	}
}

func TestRun_UnmappedEntry(t *testing.T) {
	prog := load(t, Config{})
	err := prog.Run(context.Background(), 0x42, 0, 0, noYield)
	var fault *exception.Fault
	if !stderrors.As(err, &fault) {
		t.Fatalf("err = %v, want *exception.Fault", err)
	}
	if fault.Type != exception.ReportFatalPageFault || fault.Addr != 0x42 {
		t.Errorf("fault = %+v", fault)
	}
}

func TestRun_YieldErrorKills(t *testing.T) {
	prog := load(t, Config{})
	var calls atomic.Int32
	yield := func() error {
		if calls.Add(1) == 3 {
			return kerrors.Killed(kerrors.PhaseSched, "checkpoint")
		}
		return nil
	}
	err := prog.Run(context.Background(), entry(t, prog, "spin"), 0, 0, yield)
	if !kerrors.Is(err, kerrors.ErrKilled) {
		t.Errorf("err = %v, want killed", err)
	}
	if calls.Load() != 3 {
		t.Errorf("checkpoints = %d, want 3", calls.Load())
	}
}

func TestRun_ContextCancelKills(t *testing.T) {
	prog := load(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	done := make(chan error, 1)
	go func() { done <- prog.Run(ctx, entry(t, prog, "spin"), 0, 0, noYield) }()
	select {
	case err := <-done:
		if !kerrors.Is(err, kerrors.ErrKilled) {
			t.Errorf("err = %v, want killed", err)
		}
	case <-time.After(waitTimeout):
		t.Fatal("spin did not stop after cancel")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		msg  string
		want exception.ReportType
	}{
		{"wasm error: unreachable", exception.ReportUndefinedInstruction},
		{"wasm error: out of bounds memory access", exception.ReportFatalPageFault},
		{"wasm error: stack overflow", exception.ReportFatalPageFault},
		{"wasm error: invalid table access", exception.ReportFatalPageFault},
		{"wasm error: integer divide by zero", exception.ReportGeneral},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			err := classify(context.Background(), 0x10, "f", stderrors.New(tt.msg))
			var fault *exception.Fault
			if !stderrors.As(err, &fault) {
				t.Fatalf("err = %v, want fault", err)
			}
			if fault.Type != tt.want {
				t.Errorf("type = %v, want %v", fault.Type, tt.want)
			}
		})
	}

	if err := classify(context.Background(), 0x10, "f", sys.NewExitError(exitKilled)); !kerrors.Is(err, kerrors.ErrKilled) {
		t.Errorf("exit error: err = %v, want killed", err)
	}
}

func newProcess(t *testing.T, prog *Program) *process.Process {
	t.Helper()
	s := sched.New(sched.Config{})
	t.Cleanup(s.Close)
	p, err := process.New("demo", process.Config{Scheduler: s, Program: prog})
	if err != nil {
		t.Fatalf("process.New: %v", err)
	}
	return p
}

func waitProcess(t *testing.T, p *process.Process) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	if err := p.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestThread_RunsToCompletion(t *testing.T) {
	prog := load(t, Config{})
	p := newProcess(t, prog)

	_, th, err := p.CreateThread("counter")
	if err != nil {
		t.Fatalf("CreateThread: %v", err)
	}
	if err := th.Start(entry(t, prog, "count"), 0, 100, 0, true); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitProcess(t, p)
	if p.State() != process.StateDead {
		t.Errorf("process state = %v", p.State())
	}
}

func TestThread_SuspendAndKill(t *testing.T) {
	prog := load(t, Config{})
	p := newProcess(t, prog)

	_, th, err := p.CreateThread("spinner")
	if err != nil {
		t.Fatalf("CreateThread: %v", err)
	}
	if err := th.Start(entry(t, prog, "spin"), 0, 0, 0, true); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := th.Suspend(); err != nil {
		t.Fatalf("Suspend: %v", err)
	}
	deadline := time.Now().Add(waitTimeout)
	for th.State() != thread.StateSuspended {
		if time.Now().After(deadline) {
			t.Fatal("thread never parked at a checkpoint")
		}
		time.Sleep(100 * time.Microsecond)
	}
	if err := th.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	p.Kill()
	waitProcess(t, p)
}

func TestThread_UnhandledTrapKillsProcess(t *testing.T) {
	prog := load(t, Config{})
	p := newProcess(t, prog)

	port := exception.NewQueuePort(exception.PortProcess, 4)
	if err := p.BindExceptionPort(port); err != nil {
		t.Fatalf("BindExceptionPort: %v", err)
	}

	_, th, err := p.CreateThread("faulter")
	if err != nil {
		t.Fatalf("CreateThread: %v", err)
	}
	faultPC := entry(t, prog, "fault")
	if err := th.Start(faultPC, 0, 0, 0, true); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	for {
		pkt, err := port.Receive(ctx)
		if err != nil {
			t.Fatalf("Receive: %v", err)
		}
		if pkt.Kind != exception.PacketException {
			continue
		}
		if pkt.Report.Type != exception.ReportUndefinedInstruction || pkt.Report.PC != faultPC {
			t.Errorf("report = %+v", pkt.Report)
		}
		break
	}
	if err := th.MarkExceptionHandled(exception.StatusTryNext); err != nil {
		t.Fatalf("MarkExceptionHandled: %v", err)
	}
	waitProcess(t, p)
}
