package sched

import (
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/kobject/errors"
)

// Config holds scheduler configuration
type Config struct {
	// MaxContexts bounds the number of live contexts. 0 means unlimited.
	MaxContexts int

	// DeferredWorkers is the number of goroutines serving Defer. 0 means 1.
	DeferredWorkers int

	// DeferredQueue is the buffered depth of the deferred queue. 0 means 64.
	DeferredQueue int
}

// Scheduler creates execution contexts and runs deferred work.
type Scheduler struct {
	deferred chan func()
	cfg      Config
	wg       sync.WaitGroup
	mu       sync.Mutex
	live     int
	closed   bool
}

// New creates a scheduler and starts its deferred workers.
func New(cfg Config) *Scheduler {
	if cfg.DeferredWorkers <= 0 {
		cfg.DeferredWorkers = 1
	}
	if cfg.DeferredQueue <= 0 {
		cfg.DeferredQueue = 64
	}
	s := &Scheduler{
		cfg:      cfg,
		deferred: make(chan func(), cfg.DeferredQueue),
	}
	for i := 0; i < cfg.DeferredWorkers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for fn := range s.deferred {
		fn()
	}
}

// Defer queues fn to run on a worker goroutine. After Close, fn runs on a
// fresh goroutine instead.
func (s *Scheduler) Defer(fn func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		go fn()
		return
	}
	// Sending under mu keeps Close from closing the channel mid-send.
	s.deferred <- fn
	s.mu.Unlock()
}

// Close drains the deferred queue and stops the workers. Live contexts are
// not affected.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.deferred)
	s.mu.Unlock()
	s.wg.Wait()
}

// Live returns the number of contexts that have not finished or been
// forgotten.
func (s *Scheduler) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

// Create allocates a stopped context that will run entry once resumed.
func (s *Scheduler) Create(name string, entry Entry, priority int, stackSize uint64) (*Context, error) {
	if entry == nil {
		return nil, errors.InvalidArgs(errors.PhaseSched, "context %q has no entry", name)
	}

	s.mu.Lock()
	if s.cfg.MaxContexts > 0 && s.live >= s.cfg.MaxContexts {
		s.mu.Unlock()
		return nil, errors.New(errors.PhaseSched, errors.KindNoResources).
			Op("create context").
			Detail("%d contexts live", s.cfg.MaxContexts).
			Build()
	}
	s.live++
	s.mu.Unlock()

	c := newContext(s, name, entry, priority, stackSize)
	Logger().Debug("context created",
		zap.String("name", name),
		zap.Int("priority", priority))
	return c, nil
}

func (s *Scheduler) release() {
	s.mu.Lock()
	s.live--
	s.mu.Unlock()
}
