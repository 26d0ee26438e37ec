package reconcile

import "sync"

// Origin tells listeners where a change came from.
type Origin string

const (
	OriginLocal    Origin = "local"
	OriginRemote   Origin = "remote"
	OriginResync   Origin = "resync"
	OriginRollback Origin = "rollback"
)

// Change is delivered to collection listeners after every applied mutation.
type Change struct {
	Collection string  `json:"collection"`
	Key        string  `json:"key,omitempty"`
	Op         Op      `json:"op"`
	Outcome    Outcome `json:"outcome"`
	Origin     Origin  `json:"origin"`
}

// Collection is a mutex-guarded keyed store. The tracker and the reconciler
// both mutate it through Reduce under the same lock.
type Collection[T Keyed] struct {
	name  string
	rules Rules[T]

	mu     sync.RWMutex
	state  State[T]
	loaded bool

	// stamps records, per key, the last authoritative write. A local undo
	// captured under an older stamp has been superseded and does nothing.
	stamps map[string]uint64
	floor  uint64
	clock  uint64

	lmu       sync.Mutex
	listeners map[uint64]func(Change)
	nextID    uint64
}

// NewCollection creates an empty collection.
func NewCollection[T Keyed](name string, rules Rules[T]) *Collection[T] {
	return &Collection[T]{
		name:      name,
		rules:     rules,
		state:     NewState[T](nil, rules),
		stamps:    make(map[string]uint64),
		listeners: make(map[uint64]func(Change)),
	}
}

// Name returns the collection name used in change notices and pending keys.
func (c *Collection[T]) Name() string { return c.name }

// Apply reduces ev into the collection. Remote and resync changes are
// authoritative and supersede any local undo pending on the same key.
func (c *Collection[T]) Apply(ev Event[T], origin Origin) Outcome {
	key := ev.key()
	c.mu.Lock()
	next, outcome := Reduce(c.state, ev, c.rules)
	c.state = next
	if outcome != Ignored && (origin == OriginRemote || origin == OriginResync) {
		c.clock++
		c.stamps[key] = c.clock
	}
	c.mu.Unlock()

	if outcome != Ignored {
		c.notify(Change{Collection: c.name, Key: key, Op: ev.Op, Outcome: outcome, Origin: origin})
	}
	return outcome
}

// stamp must be called with mu held.
func (c *Collection[T]) stamp(key string) uint64 {
	if v, ok := c.stamps[key]; ok {
		return v
	}
	return c.floor
}

// ApplyLocal reduces ev and returns a function that reverts it. applied is
// false when the event changed nothing, in which case undo is nil. The undo
// is a no-op once an authoritative row has replaced key.
func (c *Collection[T]) ApplyLocal(ev Event[T]) (undo func(), applied bool) {
	key := ev.key()

	c.mu.Lock()
	prior, existed := c.state.Get(key)
	next, outcome := Reduce(c.state, ev, c.rules)
	c.state = next
	at := c.stamp(key)
	c.mu.Unlock()

	if outcome == Ignored {
		return nil, false
	}
	c.notify(Change{Collection: c.name, Key: key, Op: ev.Op, Outcome: outcome, Origin: OriginLocal})

	var revert Event[T]
	switch {
	case ev.Op == OpPatch && ev.Unpatch != nil:
		revert = Event[T]{Op: OpPatch, Key: key, Patch: ev.Unpatch}
	case existed:
		revert = Event[T]{Op: opReplace, Key: key, Row: prior}
	default:
		revert = Delete[T](key)
	}
	return func() { c.rollback(key, at, revert) }, true
}

func (c *Collection[T]) rollback(key string, at uint64, ev Event[T]) {
	c.mu.Lock()
	if c.stamp(key) != at {
		c.mu.Unlock()
		return
	}
	next, outcome := Reduce(c.state, ev, c.rules)
	c.state = next
	c.mu.Unlock()

	if outcome != Ignored {
		c.notify(Change{Collection: c.name, Key: key, Op: ev.Op, Outcome: outcome, Origin: OriginRollback})
	}
}

// Reset replaces the contents with rows from a full fetch. Keys for which
// keep returns true retain their local presence and value.
func (c *Collection[T]) Reset(rows []T, keep func(key string) bool) {
	c.mu.Lock()
	fresh := NewState(rows, c.rules)
	stamps := make(map[string]uint64)
	if keep != nil {
		merged := make([]T, 0, fresh.Len())
		for _, it := range fresh.items {
			if k := it.Key(); keep(k) {
				stamps[k] = c.stamp(k)
			} else {
				merged = append(merged, it)
			}
		}
		for _, it := range c.state.items {
			if k := it.Key(); keep(k) {
				merged = append(merged, it)
				stamps[k] = c.stamp(k)
			}
		}
		fresh = build(merged, c.rules)
	}
	// every key not kept now holds the fetched row
	c.clock++
	c.floor = c.clock
	c.stamps = stamps
	c.state = fresh
	c.loaded = true
	c.mu.Unlock()

	c.notify(Change{Collection: c.name, Op: OpReset, Outcome: Updated, Origin: OriginResync})
}

// Loaded reports whether at least one full fetch has been applied.
func (c *Collection[T]) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}

// Get returns the row stored under key.
func (c *Collection[T]) Get(key string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Get(key)
}

// Has reports whether key is present.
func (c *Collection[T]) Has(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// Items returns a copy of the rows in display order.
func (c *Collection[T]) Items() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Items()
}

// Len returns the number of rows.
func (c *Collection[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Len()
}

// Filter returns the rows matching pred in display order.
func (c *Collection[T]) Filter(pred func(T) bool) []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []T
	for _, it := range c.state.items {
		if pred(it) {
			out = append(out, it)
		}
	}
	return out
}

// Count returns the number of rows matching pred.
func (c *Collection[T]) Count(pred func(T) bool) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, it := range c.state.items {
		if pred(it) {
			n++
		}
	}
	return n
}

// Subscribe registers fn for change notices. The returned cancel is idempotent.
func (c *Collection[T]) Subscribe(fn func(Change)) (cancel func()) {
	c.lmu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.lmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.lmu.Lock()
			delete(c.listeners, id)
			c.lmu.Unlock()
		})
	}
}

// ListenerCount returns the number of registered listeners.
func (c *Collection[T]) ListenerCount() int {
	c.lmu.Lock()
	defer c.lmu.Unlock()
	return len(c.listeners)
}

func (c *Collection[T]) notify(ch Change) {
	c.lmu.Lock()
	fns := make([]func(Change), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.lmu.Unlock()
	for _, fn := range fns {
		fn(ch)
	}
}

// Staged is a local mutation of a collection waiting to be applied by the
// optimistic tracker.
type Staged[T Keyed] struct {
	coll *Collection[T]
	ev   Event[T]
}

// Stage prepares ev for optimistic application to c.
func Stage[T Keyed](c *Collection[T], ev Event[T]) Staged[T] {
	return Staged[T]{coll: c, ev: ev}
}

// Collection returns the target collection name.
func (s Staged[T]) Collection() string { return s.coll.Name() }

// Key returns the row key the mutation targets.
func (s Staged[T]) Key() string { return s.ev.key() }

// ExpectPresent reports whether the row exists once the mutation is confirmed.
func (s Staged[T]) ExpectPresent() bool { return s.ev.Op != OpDelete }

// Apply applies the mutation locally and returns its undo.
func (s Staged[T]) Apply() (func(), bool) { return s.coll.ApplyLocal(s.ev) }
