package handle

import (
	"errors"
	"sync"
)

// ErrClosed is returned when inserting into a closed table.
var ErrClosed = errors.New("handle table closed")

type entry struct {
	object any
	kind   Type
	valid  bool
}

// Table maps handles to kernel objects.
type Table struct {
	entries   []entry
	freeList  []Handle
	observers []Observer
	mu        sync.RWMutex
	obsMu     sync.RWMutex
	closed    bool
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{
		entries:  make([]entry, 0, 16),
		freeList: make([]Handle, 0, 4),
	}
}

// Insert adds object and returns its handle. The table takes over one
// reference to the object.
func (t *Table) Insert(kind Type, object any) (Handle, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return 0, ErrClosed
	}

	e := entry{object: object, kind: kind, valid: true}
	var h Handle
	if n := len(t.freeList); n > 0 {
		h = t.freeList[n-1]
		t.freeList = t.freeList[:n-1]
		t.entries[h-1] = e
	} else {
		t.entries = append(t.entries, e)
		h = Handle(len(t.entries))
	}
	t.mu.Unlock()

	t.notify(Event{Type: EventCreated, Handle: h, Kind: kind, Object: object})
	return h, nil
}

// Get retrieves the object behind h.
func (t *Table) Get(h Handle) (any, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.lookupLocked(h)
	if !ok {
		return nil, false
	}
	return e.object, true
}

// GetTyped retrieves the object behind h only if it has the expected kind.
func (t *Table) GetTyped(h Handle, kind Type) (any, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.lookupLocked(h)
	if !ok || e.kind != kind {
		return nil, false
	}
	return e.object, true
}

// Remove closes h, releasing the table's reference to the object.
func (t *Table) Remove(h Handle) (any, bool) {
	t.mu.Lock()
	e, ok := t.lookupLocked(h)
	if !ok {
		t.mu.Unlock()
		return nil, false
	}
	t.entries[h-1] = entry{}
	t.freeList = append(t.freeList, h)
	t.mu.Unlock()

	if r, ok := e.object.(Releaser); ok {
		r.Release()
	}
	t.notify(Event{Type: EventClosed, Handle: h, Kind: e.kind, Object: e.object})
	return e.object, true
}

// Len returns the number of open handles.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries) - len(t.freeList)
}

// Each calls fn for every open handle until fn returns false.
func (t *Table) Each(fn func(Handle, Type, any) bool) {
	t.mu.RLock()
	snapshot := make([]entry, len(t.entries))
	copy(snapshot, t.entries)
	t.mu.RUnlock()

	for i, e := range snapshot {
		if e.valid && !fn(Handle(i+1), e.kind, e.object) {
			return
		}
	}
}

// Close removes every handle and rejects further inserts.
func (t *Table) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()

	var handles []Handle
	t.Each(func(h Handle, _ Type, _ any) bool {
		handles = append(handles, h)
		return true
	})
	for _, h := range handles {
		t.Remove(h)
	}
}

// Subscribe adds an observer for handle events.
func (t *Table) Subscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	t.observers = append(t.observers, o)
}

func (t *Table) lookupLocked(h Handle) (entry, bool) {
	if h == 0 || int(h) > len(t.entries) {
		return entry{}, false
	}
	e := t.entries[h-1]
	return e, e.valid
}

func (t *Table) notify(e Event) {
	t.obsMu.RLock()
	defer t.obsMu.RUnlock()
	for _, o := range t.observers {
		o.OnHandleEvent(e)
	}
}
