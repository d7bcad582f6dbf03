package sched

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/wippyai/kobject/errors"
)

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) record(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) snapshot() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func join(t *testing.T, c *Context) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Join(ctx); err != nil {
		t.Fatalf("Join: %v", err)
	}
}

func TestContext_RunToCompletion(t *testing.T) {
	s := New(Config{})
	defer s.Close()

	ran := make(chan struct{})
	c, err := s.Create("worker", func(ctx context.Context) { close(ran) }, 16, 8192)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	log := &eventLog{}
	c.SetCallback(log.record)

	if c.RunState() != StateInitial {
		t.Fatalf("state = %v, want initial", c.RunState())
	}
	c.Resume()
	<-ran
	join(t, c)

	if c.RunState() != StateDead {
		t.Errorf("state = %v, want dead", c.RunState())
	}
	if got := log.snapshot(); len(got) != 1 || got[0] != EventExiting {
		t.Errorf("events = %v, want [exiting]", got)
	}
	if s.Live() != 0 {
		t.Errorf("live = %d, want 0", s.Live())
	}
}

func TestContext_SuspendResumeAtCheckpoint(t *testing.T) {
	s := New(Config{})
	defer s.Close()

	stop := make(chan struct{})
	var c *Context
	c, _ = s.Create("spinner", func(ctx context.Context) {
		for {
			if err := c.Checkpoint(); err != nil {
				return
			}
			select {
			case <-stop:
				return
			default:
				time.Sleep(100 * time.Microsecond)
			}
		}
	}, 16, 8192)
	log := &eventLog{}
	c.SetCallback(log.record)
	c.Resume()

	if err := c.Suspend(); err != nil {
		t.Fatalf("Suspend: %v", err)
	}
	waitFor(t, "suspended", func() bool { return c.RunState() == StateSuspended })

	c.Resume()
	waitFor(t, "running", func() bool { return c.RunState() == StateRunning })

	close(stop)
	join(t, c)

	want := []Event{EventSuspending, EventResuming, EventExiting}
	got := log.snapshot()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestContext_KillReleasesSuspended(t *testing.T) {
	s := New(Config{})
	defer s.Close()

	var c *Context
	var checkpointErr error
	c, _ = s.Create("victim", func(ctx context.Context) {
		for {
			if checkpointErr = c.Checkpoint(); checkpointErr != nil {
				return
			}
			time.Sleep(100 * time.Microsecond)
		}
	}, 16, 8192)
	c.Resume()
	_ = c.Suspend()
	waitFor(t, "suspended", func() bool { return c.RunState() == StateSuspended })

	c.Kill()
	join(t, c)
	if !errors.Is(checkpointErr, errors.ErrKilled) {
		t.Errorf("checkpoint err = %v, want killed", checkpointErr)
	}
	if err := c.Suspend(); !errors.Is(err, errors.ErrBadState) {
		t.Errorf("Suspend on dead context: err = %v", err)
	}
}

func TestContext_KillInterruptsBlock(t *testing.T) {
	s := New(Config{})
	defer s.Close()

	blocked := make(chan struct{})
	var blockErr error
	var c *Context
	c, _ = s.Create("blocker", func(ctx context.Context) {
		blockErr = c.Block(func(ctx context.Context) error {
			close(blocked)
			<-ctx.Done()
			return ctx.Err()
		})
	}, 16, 8192)
	c.Resume()
	<-blocked
	if c.RunState() != StateBlocked {
		t.Errorf("state = %v, want blocked", c.RunState())
	}

	c.Kill()
	join(t, c)
	if blockErr == nil {
		t.Error("Block returned nil after kill")
	}
}

func TestContext_ExitRunsCallback(t *testing.T) {
	s := New(Config{})
	defer s.Close()

	reached := false
	var c *Context
	c, _ = s.Create("exiter", func(ctx context.Context) {
		c.Exit()
		reached = true
	}, 16, 8192)
	log := &eventLog{}
	c.SetCallback(log.record)
	c.Resume()
	join(t, c)

	if reached {
		t.Error("Exit returned")
	}
	if got := log.snapshot(); len(got) != 1 || got[0] != EventExiting {
		t.Errorf("events = %v, want [exiting]", got)
	}
}

func TestContext_Forget(t *testing.T) {
	s := New(Config{})
	defer s.Close()

	c, _ := s.Create("never", func(ctx context.Context) { t.Error("forgotten context ran") }, 16, 8192)
	log := &eventLog{}
	c.SetCallback(log.record)
	c.Forget()
	c.Resume()

	select {
	case <-c.Done():
	default:
		t.Fatal("Done not closed by Forget")
	}
	if len(log.snapshot()) != 0 {
		t.Error("forgotten context delivered callbacks")
	}
	if s.Live() != 0 {
		t.Errorf("live = %d, want 0", s.Live())
	}
}

func TestContext_ForgetStartedPanics(t *testing.T) {
	s := New(Config{})
	defer s.Close()

	release := make(chan struct{})
	c, _ := s.Create("started", func(ctx context.Context) { <-release }, 16, 8192)
	c.Resume()
	defer func() {
		close(release)
		join(t, c)
	}()

	defer func() {
		if recover() == nil {
			t.Error("Forget of started context did not panic")
		}
	}()
	c.Forget()
}

func TestContext_JoinTimeout(t *testing.T) {
	s := New(Config{})
	defer s.Close()

	c, _ := s.Create("idle", func(ctx context.Context) {}, 16, 8192)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := c.Join(ctx); !errors.Is(err, errors.ErrUnavailable) {
		t.Errorf("Join on never-started context: err = %v", err)
	}
	c.Forget()
}

func TestScheduler_MaxContexts(t *testing.T) {
	s := New(Config{MaxContexts: 1})
	defer s.Close()

	c, err := s.Create("one", func(ctx context.Context) {}, 16, 8192)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.Create("two", func(ctx context.Context) {}, 16, 8192); !errors.Is(err, errors.ErrNoResources) {
		t.Errorf("over limit: err = %v, want no resources", err)
	}
	c.Forget()
	if _, err := s.Create("three", func(ctx context.Context) {}, 16, 8192); err != nil {
		t.Errorf("after forget: %v", err)
	}
}

func TestScheduler_Defer(t *testing.T) {
	s := New(Config{DeferredWorkers: 2})

	var wg sync.WaitGroup
	var mu sync.Mutex
	count := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		s.Defer(func() {
			defer wg.Done()
			mu.Lock()
			count++
			mu.Unlock()
		})
	}
	wg.Wait()
	s.Close()

	if count != 10 {
		t.Errorf("ran %d deferred tasks, want 10", count)
	}

	done := make(chan struct{})
	s.Defer(func() { close(done) })
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Defer after Close did not run")
	}
}

func TestContext_Runtime(t *testing.T) {
	s := New(Config{})
	defer s.Close()

	c, _ := s.Create("busy", func(ctx context.Context) {
		time.Sleep(5 * time.Millisecond)
	}, 16, 8192)
	c.Resume()
	join(t, c)
	if c.Runtime() < 5*time.Millisecond {
		t.Errorf("runtime = %v, want at least 5ms", c.Runtime())
	}
}

func TestContext_Owns(t *testing.T) {
	s := New(Config{})
	defer s.Close()

	inside := make(chan bool, 1)
	release := make(chan struct{})
	var c *Context
	c, _ = s.Create("owner", func(ctx context.Context) {
		inside <- c.Owns()
		<-release
	}, 16, 8192)

	if c.Owns() {
		t.Error("unstarted context owned by caller")
	}
	c.Resume()
	if !<-inside {
		t.Error("context does not own its goroutine")
	}
	if c.Owns() {
		t.Error("context owned by a foreign goroutine")
	}

	func() {
		defer func() {
			if recover() == nil {
				t.Error("Exit from a foreign goroutine did not panic")
			}
		}()
		c.Exit()
	}()

	close(release)
	join(t, c)
}

func TestGoid(t *testing.T) {
	id := goid()
	if id == 0 {
		t.Fatal("goid = 0")
	}
	if again := goid(); again != id {
		t.Errorf("goid changed: %d then %d", id, again)
	}
	other := make(chan uint64)
	go func() { other <- goid() }()
	if got := <-other; got == id || got == 0 {
		t.Errorf("other goroutine id = %d, caller %d", got, id)
	}
}
