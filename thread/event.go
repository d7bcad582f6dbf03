package thread

import "context"

// event is a single-shot rendezvous. It is signalled at most once per
// exchange and must be drained before the next one begins.
type event struct {
	ch chan struct{}
}

func newEvent() event {
	return event{ch: make(chan struct{}, 1)}
}

func (e event) signal() {
	select {
	case e.ch <- struct{}{}:
	default:
		panic("thread: rendezvous event signalled twice")
	}
}

func (e event) wait(ctx context.Context) error {
	select {
	case <-e.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e event) armed() bool {
	return len(e.ch) > 0
}

func (e event) reset() {
	select {
	case <-e.ch:
	default:
	}
}
