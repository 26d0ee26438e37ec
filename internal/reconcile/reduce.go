// Package reconcile merges optimistic local changes and remote change events
// into keyed in-memory collections through one pure reducer.
package reconcile

import "sort"

// Keyed is implemented by every row held in a collection.
type Keyed interface {
	Key() string
}

// Op is a mutation kind understood by the reducer.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
	// OpPatch transforms the existing row with a function. Local only.
	OpPatch Op = "patch"
	// OpReset is reported to listeners after a full resync.
	OpReset Op = "reset"
	// opReplace overwrites without merging. Used to restore snapshots on rollback.
	opReplace Op = "replace"
)

// Event is one mutation fed to the reducer. Key may be left empty for
// inserts and updates; it is then taken from Row.
type Event[T Keyed] struct {
	Op      Op
	Key     string
	Row     T
	Patch   func(T) T
	Unpatch func(T) T
}

// Insert builds an insert event.
func Insert[T Keyed](row T) Event[T] { return Event[T]{Op: OpInsert, Row: row} }

// Update builds an update event.
func Update[T Keyed](row T) Event[T] { return Event[T]{Op: OpUpdate, Row: row} }

// Delete builds a delete event.
func Delete[T Keyed](key string) Event[T] { return Event[T]{Op: OpDelete, Key: key} }

// Patch builds a local patch. When unpatch is set a rollback applies it to
// the current row instead of restoring a snapshot, so counter deltas survive
// concurrent remote updates.
func Patch[T Keyed](key string, patch, unpatch func(T) T) Event[T] {
	return Event[T]{Op: OpPatch, Key: key, Patch: patch, Unpatch: unpatch}
}

func (e Event[T]) key() string {
	if e.Key != "" {
		return e.Key
	}
	switch e.Op {
	case OpInsert, OpUpdate, opReplace:
		return e.Row.Key()
	}
	return ""
}

// Rules are the per-collection merge rules shared by the optimistic path
// and the reconciliation path.
type Rules[T Keyed] struct {
	// Less defines display order. Nil keeps arrival order.
	Less func(a, b T) bool
	// Merge combines the local row with an incoming one. Nil means incoming wins.
	Merge func(local, incoming T) T
	// Keep drops rows that no longer belong in the collection. Nil keeps all.
	Keep func(T) bool
}

func (r Rules[T]) merge(local, incoming T) T {
	if r.Merge == nil {
		return incoming
	}
	return r.Merge(local, incoming)
}

func (r Rules[T]) keep(row T) bool {
	return r.Keep == nil || r.Keep(row)
}

// Outcome describes what the reducer did with an event.
type Outcome string

const (
	Inserted Outcome = "inserted"
	Replaced Outcome = "replaced"
	Updated  Outcome = "updated"
	Removed  Outcome = "removed"
	Ignored  Outcome = "ignored"
)

// State is an immutable ordered snapshot of a collection.
type State[T Keyed] struct {
	items []T
	index map[string]int
}

// NewState builds a state from rows. Later rows win on duplicate keys.
func NewState[T Keyed](rows []T, r Rules[T]) State[T] {
	byKey := make(map[string]int, len(rows))
	items := make([]T, 0, len(rows))
	for _, row := range rows {
		if !r.keep(row) {
			continue
		}
		if i, ok := byKey[row.Key()]; ok {
			items[i] = row
			continue
		}
		byKey[row.Key()] = len(items)
		items = append(items, row)
	}
	return build(items, r)
}

func build[T Keyed](items []T, r Rules[T]) State[T] {
	if r.Less != nil {
		sort.SliceStable(items, func(i, j int) bool { return r.Less(items[i], items[j]) })
	}
	index := make(map[string]int, len(items))
	for i, it := range items {
		index[it.Key()] = i
	}
	return State[T]{items: items, index: index}
}

// Len returns the number of rows.
func (s State[T]) Len() int { return len(s.items) }

// Get returns the row stored under key.
func (s State[T]) Get(key string) (T, bool) {
	if i, ok := s.index[key]; ok {
		return s.items[i], true
	}
	var zero T
	return zero, false
}

// Items returns a copy of the rows in display order.
func (s State[T]) Items() []T {
	out := make([]T, len(s.items))
	copy(out, s.items)
	return out
}

func (s State[T]) put(key string, row T, r Rules[T]) State[T] {
	items := make([]T, len(s.items), len(s.items)+1)
	copy(items, s.items)
	if i, ok := s.index[key]; ok {
		items[i] = row
	} else {
		items = append(items, row)
	}
	return build(items, r)
}

func (s State[T]) remove(key string) State[T] {
	i, ok := s.index[key]
	if !ok {
		return s
	}
	items := make([]T, 0, len(s.items)-1)
	items = append(items, s.items[:i]...)
	items = append(items, s.items[i+1:]...)
	index := make(map[string]int, len(items))
	for j, it := range items {
		index[it.Key()] = j
	}
	return State[T]{items: items, index: index}
}

// Reduce applies ev to s and returns the new state. Inserting an existing key
// merges into it instead of duplicating; updates and patches of absent keys
// and deletes of absent keys are ignored.
func Reduce[T Keyed](s State[T], ev Event[T], r Rules[T]) (State[T], Outcome) {
	key := ev.key()
	if key == "" {
		return s, Ignored
	}
	current, exists := s.Get(key)

	var next T
	outcome := Updated
	switch ev.Op {
	case OpInsert:
		next = ev.Row
		outcome = Inserted
		if exists {
			next = r.merge(current, ev.Row)
			outcome = Replaced
		}
	case OpUpdate:
		if !exists {
			return s, Ignored
		}
		next = r.merge(current, ev.Row)
	case OpPatch:
		if !exists || ev.Patch == nil {
			return s, Ignored
		}
		next = ev.Patch(current)
	case opReplace:
		next = ev.Row
		if !exists {
			outcome = Inserted
		}
	case OpDelete:
		if !exists {
			return s, Ignored
		}
		return s.remove(key), Removed
	default:
		return s, Ignored
	}

	if !r.keep(next) {
		if !exists {
			return s, Ignored
		}
		return s.remove(key), Removed
	}
	return s.put(key, next, r), outcome
}
