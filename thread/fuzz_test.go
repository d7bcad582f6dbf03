package thread

import (
	"context"
	"sync"
	"testing"
	"time"

	kerrors "github.com/wippyai/kobject/errors"
	"github.com/wippyai/kobject/exception"
)

const (
	raceMarkResume byte = iota
	raceMarkTryNext
	racePortRemoval
	raceMarkVsRemoval
	raceKillThenMark
	raceMarkVsKill
	raceOps
)

func FuzzExchangeRace(f *testing.F) {
	f.Add([]byte{raceMarkResume, raceMarkTryNext, racePortRemoval, raceMarkVsRemoval})
	f.Add([]byte{raceMarkVsRemoval, raceMarkVsRemoval, raceMarkVsRemoval, raceMarkVsKill})
	f.Add([]byte{raceKillThenMark})
	f.Add([]byte{raceMarkVsKill, raceMarkResume})
	f.Add([]byte{racePortRemoval, racePortRemoval, raceKillThenMark})

	f.Fuzz(func(t *testing.T, ops []byte) {
		if len(ops) > 12 {
			ops = ops[:12]
		}

		env := newTestEnv(t)
		var th *Thread
		next := make(chan struct{})
		results := make(chan exchangeResult)
		env.proc.prog = exchangeLoop(&th, func() exception.Port { return th.ExceptionPort() }, next, results)

		th = env.initialized(t)
		th.Retain()
		defer th.Release()
		port := exception.NewQueuePort(exception.PortThread, 4)
		if err := th.BindExceptionPort(port); err != nil {
			t.Fatalf("Bind: %v", err)
		}
		if err := th.Start(0x1000, 0, 0, 0, true); err != nil {
			t.Fatalf("Start: %v", err)
		}

		rebind := func() {
			port = exception.NewQueuePort(exception.PortThread, 4)
			if err := th.BindExceptionPort(port); err != nil {
				t.Fatalf("rebind: %v", err)
			}
		}

		finished := false
		for _, b := range ops {
			next <- struct{}{}
			receive(t, port)

			switch b % raceOps {
			case raceMarkResume, raceMarkTryNext:
				want := exception.StatusResume
				if b%raceOps == raceMarkTryNext {
					want = exception.StatusTryNext
				}
				if err := th.MarkExceptionHandled(want); err != nil {
					t.Fatalf("mark: %v", err)
				}
				if r := <-results; r.err != nil || r.status != want {
					t.Fatalf("exchange = %+v, want %v", r, want)
				}

			case racePortRemoval:
				if !th.UnbindExceptionPort(false) {
					t.Fatal("nothing to unbind")
				}
				if r := <-results; r.err != nil || r.status != exception.StatusTryNext {
					t.Fatalf("exchange = %+v, want TRY_NEXT", r)
				}
				rebind()

			case raceMarkVsRemoval:
				var (
					wg      sync.WaitGroup
					markErr error
				)
				wg.Add(2)
				go func() {
					defer wg.Done()
					markErr = th.MarkExceptionHandled(exception.StatusResume)
				}()
				go func() {
					defer wg.Done()
					th.UnbindExceptionPort(false)
				}()
				wg.Wait()
				r := <-results
				if r.err != nil {
					t.Fatalf("exchange error: %v", r.err)
				}
				switch {
				case markErr == nil && r.status == exception.StatusResume:
				case kerrors.Is(markErr, kerrors.ErrBadState) && r.status == exception.StatusTryNext:
				default:
					t.Fatalf("mark err = %v, status = %v", markErr, r.status)
				}
				rebind()

			case raceKillThenMark:
				th.Kill()
				_ = th.MarkExceptionHandled(exception.StatusResume)
				if r := <-results; !kerrors.Is(r.err, kerrors.ErrKilled) {
					t.Fatalf("exchange = %+v, want killed", r)
				}
				finished = true

			case raceMarkVsKill:
				var wg sync.WaitGroup
				wg.Add(2)
				go func() {
					defer wg.Done()
					_ = th.MarkExceptionHandled(exception.StatusResume)
				}()
				go func() {
					defer wg.Done()
					th.Kill()
				}()
				wg.Wait()
				r := <-results
				if r.err == nil && r.status != exception.StatusResume {
					t.Fatalf("exchange = %+v", r)
				}
				if r.err != nil && !kerrors.Is(r.err, kerrors.ErrKilled) {
					t.Fatalf("exchange error: %v", r.err)
				}
				finished = true
			}

			th.mu.Lock()
			armed, status, busy := th.ev.armed(), th.excStatus, th.excPort != nil
			th.mu.Unlock()
			if armed || status != exception.StatusIdle || busy {
				t.Fatalf("after exchange: armed = %v, status = %v, port set = %v", armed, status, busy)
			}
			if finished {
				break
			}
		}

		th.Kill()
		close(next)
		join(t, th)
		if th.State() != StateDead {
			t.Fatalf("state = %v", th.State())
		}
	})
}

type lifecycleModel uint8

const (
	modelInitial lifecycleModel = iota
	modelInitialized
	modelActive
	modelDying
)

var allowedEdges = map[State][]State{
	StateInitial:     {StateInitialized},
	StateInitialized: {StateInitial, StateRunning},
	StateRunning:     {StateSuspended, StateDying, StateDead},
	StateSuspended:   {StateRunning, StateDying, StateDead},
	StateDying:       {StateDead},
}

func edgeAllowed(from, to State) bool {
	if from == to {
		return true
	}
	for _, s := range allowedEdges[from] {
		if s == to {
			return true
		}
	}
	return false
}

func FuzzLifecycle(f *testing.F) {
	f.Add([]byte{0, 1, 2, 3, 4})
	f.Add([]byte{0, 4, 0, 1})
	f.Add([]byte{1, 2, 0, 0, 1, 1, 4, 4, 2})
	f.Add([]byte{0, 1, 2, 2, 3, 2, 4, 3})

	f.Fuzz(func(t *testing.T, ops []byte) {
		if len(ops) > 16 {
			ops = ops[:16]
		}

		env := newTestEnv(t)
		env.proc.prog = ProgramFunc(spin)
		th := env.create(t)

		model := modelInitial
		killedBeforeStart := false
		started := false
		prev := th.State()

		for _, b := range ops {
			var err error
			accept := false
			switch b % 5 {
			case 0:
				err = th.Initialize("")
				accept = model == modelInitial && !killedBeforeStart
				if accept {
					model = modelInitialized
				}
			case 1:
				err = th.Start(0x1000, 0, 0, 0, true)
				accept = model == modelInitialized
				if accept {
					model = modelActive
					started = true
				}
			case 2:
				err = th.Suspend()
				accept = model == modelActive
			case 3:
				err = th.Resume()
				accept = model == modelActive
			case 4:
				th.Kill()
				accept = true
				switch model {
				case modelInitialized:
					model = modelInitial
					killedBeforeStart = true
				case modelActive:
					model = modelDying
				}
			}

			if accept && err != nil {
				t.Fatalf("op %d rejected: %v", b%5, err)
			}
			if !accept && !kerrors.Is(err, kerrors.ErrBadState) {
				t.Fatalf("op %d: err = %v, want bad state", b%5, err)
			}

			cur := th.State()
			if !edgeAllowed(prev, cur) {
				t.Fatalf("transition %v -> %v", prev, cur)
			}
			prev = cur

			var ok bool
			switch model {
			case modelInitial:
				ok = cur == StateInitial
			case modelInitialized:
				ok = cur == StateInitialized
			case modelActive:
				ok = cur == StateRunning || cur == StateSuspended
			case modelDying:
				ok = cur == StateDying || cur == StateDead
			}
			if !ok {
				t.Fatalf("state %v does not match model %d", cur, model)
			}
		}

		th.Kill()
		if started {
			join(t, th)
		}
		th.Release()
		waitFor(t, "destruction", th.Destroyed)
		if got := env.kspace.Committed(); got != 0 {
			t.Fatalf("committed = %d after destruction", got)
		}
	})
}

func FuzzSuspendDuringExchange(f *testing.F) {
	f.Add([]byte{0})
	f.Add([]byte{0, 1})
	f.Add([]byte{1, 0, 0})
	f.Add([]byte{})
	f.Add([]byte{0, 1, 1, 0, 1})

	f.Fuzz(func(t *testing.T, ops []byte) {
		if len(ops) > 8 {
			ops = ops[:8]
		}

		env := newTestEnv(t)
		port := exception.NewQueuePort(exception.PortThread, 4)
		var th *Thread
		next := make(chan struct{})
		results := make(chan exchangeResult)
		passed := make(chan struct{}, 1)
		env.proc.prog = ProgramFunc(func(ctx context.Context, e, a1, a2 uint64, yield func() error) error {
			if err := exchangeLoop(&th, func() exception.Port { return port }, next, results)(ctx, e, a1, a2, yield); err != nil {
				return err
			}
			if err := yield(); err != nil {
				return err
			}
			passed <- struct{}{}
			return spin(ctx, e, a1, a2, yield)
		})
		th = env.started(t)
		th.Retain()
		defer th.Release()

		next <- struct{}{}
		receive(t, port)

		suspended := false
		for _, b := range ops {
			if b%2 == 0 {
				if err := th.Suspend(); err != nil {
					t.Fatalf("Suspend: %v", err)
				}
				suspended = true
			} else {
				if err := th.Resume(); err != nil {
					t.Fatalf("Resume: %v", err)
				}
				suspended = false
			}
			if th.State() != StateRunning || th.Info().State != InfoBlocked {
				t.Fatalf("state = %v, info = %v during exchange", th.State(), th.Info().State)
			}
		}

		if err := th.MarkExceptionHandled(exception.StatusResume); err != nil {
			t.Fatalf("mark: %v", err)
		}
		if r := <-results; r.err != nil || r.status != exception.StatusResume {
			t.Fatalf("exchange = %+v", r)
		}
		close(next)

		if suspended {
			waitFor(t, "deferred suspend", func() bool { return th.State() == StateSuspended })
			select {
			case <-passed:
				t.Fatal("ran past safe point while suspended")
			default:
			}
			if err := th.Resume(); err != nil {
				t.Fatalf("Resume: %v", err)
			}
		}
		select {
		case <-passed:
		case <-time.After(waitTimeout):
			t.Fatal("thread did not continue after exchange")
		}
		if suspended && th.State() != StateRunning {
			t.Fatalf("state = %v after resume", th.State())
		}

		th.Kill()
		join(t, th)
	})
}
