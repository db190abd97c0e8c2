package state

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/tailored-agentic-units/observable/namespace"
	"github.com/tailored-agentic-units/observable/observability"
	"github.com/tailored-agentic-units/observable/tree"
)

// Listener receives the value at its subscribed namespace before and after
// a change. Either side is nil when the path did not exist.
type Listener func(oldValue, newValue any)

type listener struct {
	id      string
	ns      namespace.Namespace
	fn      Listener
	removed bool
}

// State wraps a nested data object and notifies listeners when values at or
// below their subscribed namespace change.
//
// State owns the map passed to New: no copy is made, and callers must not
// mutate it through other references afterward. All operations run
// synchronously on the caller's goroutine and listeners fire on the same
// stack as the triggering write. State is not safe for concurrent use.
//
// Writes made while a listener is running start a nested notify pass. Each
// unlocked write diffs against its own snapshot, so nesting never changes
// the old values an outer pass reports, but unbounded recursion is the
// caller's responsibility.
type State struct {
	id        string
	data      map[string]any
	listeners []*listener
	observer  observability.Observer

	locked   bool
	snapshot map[string]any
	touched  []namespace.Namespace
}

// Option configures a State at construction.
type Option func(*State)

// WithObserver routes State events to observer. A nil observer is ignored.
func WithObserver(observer observability.Observer) Option {
	return func(s *State) {
		if observer != nil {
			s.observer = observer
		}
	}
}

// New creates a State that takes ownership of data. A nil map starts empty.
//
// Example:
//
//	s := state.New(map[string]any{
//	    "range":   map[string]any{"start": 1, "end": 5},
//	    "visible": true,
//	})
func New(data map[string]any, opts ...Option) *State {
	if data == nil {
		data = make(map[string]any)
	}

	s := &State{
		id:       uuid.New().String(),
		data:     data,
		observer: observability.NoOpObserver{},
	}
	for _, opt := range opts {
		opt(s)
	}

	s.emit(EventStateCreate, observability.LevelVerbose, map[string]any{
		"keys": len(data),
	})

	return s
}

// ID returns the identifier attached to every event this State emits.
func (s *State) ID() string {
	return s.id
}

// On registers fn for changes at ns or any of its descendants and returns a
// function that removes it. The empty namespace subscribes to every change.
// Listeners fire in registration order. Calling the returned function more
// than once has no further effect.
//
// Example:
//
//	off := s.On("range", func(oldValue, newValue any) {
//	    fmt.Println("range changed", oldValue, "->", newValue)
//	})
//	defer off()
func (s *State) On(ns string, fn Listener) func() {
	l := &listener{
		id: uuid.New().String(),
		ns: namespace.Parse(ns),
		fn: fn,
	}
	s.listeners = append(s.listeners, l)

	s.emit(EventStateListen, observability.LevelVerbose, map[string]any{
		"listener":  l.id,
		"namespace": ns,
	})

	return func() { s.off(l) }
}

func (s *State) off(l *listener) {
	if l.removed {
		return
	}
	l.removed = true
	s.listeners = slices.DeleteFunc(s.listeners, func(x *listener) bool {
		return x.id == l.id
	})

	s.emit(EventStateIgnore, observability.LevelVerbose, map[string]any{
		"listener":  l.id,
		"namespace": l.ns.String(),
	})
}

// Append writes payload at ns and notifies matching listeners. The empty
// namespace merges the keys of payload, which must be a map[string]any,
// into the root object.
//
// Append is a silent no-op while the State is locked; only Set takes part
// in batches.
func (s *State) Append(ns string, payload any) error {
	if s.locked {
		return nil
	}

	path := namespace.Parse(ns)
	old := tree.CloneObject(s.data)
	if err := tree.Set(s.data, path, payload); err != nil {
		s.fail(EventStateAppend, ns, err)
		return err
	}

	notified := s.notify(old, []namespace.Namespace{path})

	s.emit(EventStateAppend, observability.LevelVerbose, map[string]any{
		"namespace":                  ns,
		observability.NotifyCountKey: notified,
	})
	return nil
}

// Data returns the live root object. Changes made through it bypass change
// detection and notify no listener.
func (s *State) Data() map[string]any {
	return s.data
}

// Get returns the value at ns. A missing final segment yields nil; a missing
// intermediate segment fails with tree.ErrMissingSegment.
func (s *State) Get(ns string) (any, error) {
	return tree.Get(s.data, namespace.Parse(ns))
}

// Set writes value at ns.
//
// Unlocked, Set snapshots the data, writes, notifies matching listeners, and
// returns the value stored at ns once every listener has run. Writing a value
// equal to the current one notifies nobody.
//
// Locked, Set only writes and records ns for the notify pass run by Unlock,
// returning value. Use the Batch returned by Lock to chain locked writes.
func (s *State) Set(ns string, value any) (any, error) {
	path := namespace.Parse(ns)

	if s.locked {
		if err := tree.Set(s.data, path, value); err != nil {
			s.fail(EventStateSet, ns, err)
			return nil, err
		}
		s.touched = append(s.touched, path)

		s.emit(EventStateSet, observability.LevelVerbose, map[string]any{
			"namespace": ns,
			"deferred":  true,
		})
		return value, nil
	}

	old := tree.CloneObject(s.data)
	if err := tree.Set(s.data, path, value); err != nil {
		s.fail(EventStateSet, ns, err)
		return nil, err
	}

	notified := s.notify(old, []namespace.Namespace{path})

	s.emit(EventStateSet, observability.LevelVerbose, map[string]any{
		"namespace":                  ns,
		observability.NotifyCountKey: notified,
	})

	return tree.Get(s.data, path)
}

// Locked reports whether a batch is open.
func (s *State) Locked() bool {
	return s.locked
}

// Lock opens a batch: the data is snapshotted once and later Set calls
// defer notification until Unlock. Locking an already locked State keeps
// the original snapshot.
//
// Example:
//
//	err := s.Lock().
//	    Set("range.start", 13).
//	    Set("range.end", 14).
//	    Unlock()
func (s *State) Lock() *Batch {
	if !s.locked {
		s.locked = true
		s.snapshot = tree.CloneObject(s.data)
		s.touched = nil

		s.emit(EventStateLock, observability.LevelVerbose, map[string]any{})
	}
	return &Batch{state: s}
}

// Unlock closes the batch and runs one notify pass over every namespace
// written since Lock, comparing against the snapshot taken by Lock.
// Returns ErrNotLocked when no batch is open.
func (s *State) Unlock() error {
	if !s.locked {
		return ErrNotLocked
	}

	old, touched := s.snapshot, s.touched
	s.locked = false
	s.snapshot = nil
	s.touched = nil

	notified := s.notify(old, touched)

	s.emit(EventStateUnlock, observability.LevelVerbose, map[string]any{
		"touched":                    len(touched),
		observability.NotifyCountKey: notified,
	})
	return nil
}

// notify invokes every listener whose namespace matches touched and whose
// value differs between old and the current data. A path that appears or
// disappears counts as a change even when the value on the other side is
// nil. Listener panics are not recovered and abort the pass.
func (s *State) notify(old map[string]any, touched []namespace.Namespace) int {
	listeners := slices.Clone(s.listeners)
	notified := 0

	for _, l := range listeners {
		if l.removed || !namespace.Matches(touched, l.ns) {
			continue
		}

		oldVal, hadOld, _ := tree.Lookup(old, l.ns)
		newVal, hasNew, _ := tree.Lookup(s.data, l.ns)
		if hadOld == hasNew && tree.Equal(oldVal, newVal) {
			continue
		}

		s.emit(EventStateNotify, observability.LevelVerbose, map[string]any{
			"listener":  l.id,
			"namespace": l.ns.String(),
		})

		l.fn(oldVal, newVal)
		notified++
	}

	return notified
}

func (s *State) fail(op observability.EventType, ns string, err error) {
	s.emit(EventStateError, observability.LevelWarning, map[string]any{
		"op":        string(op),
		"namespace": ns,
		"error":     err.Error(),
	})
}

func (s *State) emit(t observability.EventType, level observability.Level, data map[string]any) {
	data["state"] = s.id
	s.observer.OnEvent(context.Background(), observability.Event{
		Type:      t,
		Level:     level,
		Timestamp: time.Now(),
		Source:    "state",
		Data:      data,
	})
}
