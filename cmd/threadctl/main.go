package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/kobject/exception"
	"github.com/wippyai/kobject/process"
	"github.com/wippyai/kobject/sched"
	"github.com/wippyai/kobject/stack"
	"github.com/wippyai/kobject/thread"
	"github.com/wippyai/kobject/usermode"
)

type options struct {
	wasmFile    string
	entry       string
	arg1        uint64
	arg2        uint64
	threads     int
	interpreter bool
	verbose     bool
	interactive bool
}

func main() {
	var opts options
	flag.StringVar(&opts.wasmFile, "wasm", "", "Path to core wasm module (default: built-in demo)")
	flag.StringVar(&opts.entry, "entry", "count", "Exported function to start threads at")
	flag.Uint64Var(&opts.arg1, "arg1", 100000, "First entry argument")
	flag.Uint64Var(&opts.arg2, "arg2", 0, "Second entry argument")
	flag.IntVar(&opts.threads, "threads", 1, "Number of threads to start")
	flag.BoolVar(&opts.interpreter, "interp", false, "Use the wazero interpreter")
	flag.BoolVar(&opts.verbose, "v", false, "Verbose logging")
	flag.BoolVar(&opts.interactive, "i", false, "Interactive mode with TUI")
	flag.Parse()

	if opts.threads < 1 {
		fmt.Fprintln(os.Stderr, "Usage: threadctl [-wasm file.wasm] [-entry name] [-threads n] [-i]")
		os.Exit(1)
	}

	if opts.verbose {
		log, err := zap.NewDevelopment()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer log.Sync()
		setLoggers(log)
	}

	var err error
	if opts.interactive {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			fmt.Fprintln(os.Stderr, "Error: -i needs a terminal")
			os.Exit(1)
		}
		err = runInteractive(opts)
	} else {
		err = run(opts)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setLoggers(log *zap.Logger) {
	exception.SetLogger(log.Named("exception"))
	process.SetLogger(log.Named("process"))
	sched.SetLogger(log.Named("sched"))
	stack.SetLogger(log.Named("stack"))
	thread.SetLogger(log.Named("thread"))
	usermode.SetLogger(log.Named("usermode"))
}

// session is one process running a program on a set of threads, watched
// through a debugger port.
type session struct {
	sched    *sched.Scheduler
	prog     *usermode.Program
	proc     *process.Process
	debugger *exception.QueuePort
	threads  []*thread.Thread
	entry    uint64
}

func newSession(ctx context.Context, opts options) (*session, error) {
	wasm := usermode.Demo
	if opts.wasmFile != "" {
		data, err := os.ReadFile(opts.wasmFile)
		if err != nil {
			return nil, fmt.Errorf("read file: %w", err)
		}
		wasm = data
	}

	prog, err := usermode.Load(ctx, wasm, usermode.Config{Interpreter: opts.interpreter})
	if err != nil {
		return nil, fmt.Errorf("load: %w", err)
	}
	entry, err := prog.EntryAddress(opts.entry)
	if err != nil {
		prog.Close(ctx)
		return nil, fmt.Errorf("entry: %w", err)
	}

	s := &session{
		sched:    sched.New(sched.Config{}),
		prog:     prog,
		debugger: exception.NewQueuePort(exception.PortDebugger, 64),
		entry:    entry,
	}
	s.proc, err = process.New("threadctl", process.Config{Scheduler: s.sched, Program: prog})
	if err != nil {
		s.close(ctx)
		return nil, fmt.Errorf("process: %w", err)
	}
	if err := s.proc.BindDebuggerPort(s.debugger); err != nil {
		s.close(ctx)
		return nil, fmt.Errorf("bind debugger: %w", err)
	}

	for i := 0; i < opts.threads; i++ {
		_, th, err := s.proc.CreateThread(fmt.Sprintf("worker-%d", i))
		if err != nil {
			s.close(ctx)
			return nil, fmt.Errorf("create thread: %w", err)
		}
		s.threads = append(s.threads, th)
	}
	for i, th := range s.threads {
		if err := th.Start(entry, 0, opts.arg1, opts.arg2, i == 0); err != nil {
			s.close(ctx)
			return nil, fmt.Errorf("start %s: %w", th.Name(), err)
		}
	}
	return s, nil
}

func (s *session) close(ctx context.Context) {
	if s.proc != nil {
		s.proc.Kill()
		closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		s.proc.Close(closeCtx)
	}
	s.debugger.Close()
	s.sched.Close()
	s.prog.Close(ctx)
}

func run(opts options) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	s, err := newSession(ctx, opts)
	if err != nil {
		return err
	}
	defer s.close(context.Background())

	fmt.Printf("Process %d: %d thread(s) at %s (%#x)\n", s.proc.Koid(), len(s.threads), opts.entry, s.entry)

	go func() {
		for {
			pkt, err := s.debugger.Receive(ctx)
			if err != nil {
				return
			}
			printPacket(pkt)
		}
	}()

	started := time.Now()
	if err := s.proc.Wait(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Println("\nInterrupted, killing process")
			return nil
		}
		return err
	}

	fmt.Printf("\nProcess exited after %s\n", time.Since(started).Round(time.Millisecond))
	for _, th := range s.threads {
		fmt.Printf("  %-10s %-9s runtime %s\n", th.Name(), th.State(), th.Runtime().Round(time.Microsecond))
	}
	return nil
}

// printPacket reports a debugger packet and passes exceptions on to the
// next handler.
func printPacket(pkt exception.Packet) {
	if pkt.Kind == exception.PacketNotification {
		fmt.Printf("[%d] %s\n", pkt.Target.Koid(), pkt.Notification)
		return
	}
	fmt.Printf("[%d] exception %s at pc %#x\n", pkt.Target.Koid(), pkt.Report.Type, pkt.Report.PC)
	if th, ok := pkt.Target.(*thread.Thread); ok {
		th.MarkExceptionHandled(exception.StatusTryNext)
	}
}
