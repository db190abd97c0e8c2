// Package state provides an observable container for nested, JSON-shaped
// data addressed by dot-delimited namespaces.
//
// # Core Components
//
// State - Owns the data object, the listener list, and batch bookkeeping
//
// Listener - Callback receiving the old and new value at its namespace
//
// Batch - Chaining handle for writes made between Lock and Unlock
//
// # Reading and Writing
//
// Namespaces address values by path, with the empty namespace addressing
// the whole object:
//
//	s := state.New(map[string]any{
//	    "range":   map[string]any{"start": 1, "end": 5},
//	    "visible": true,
//	})
//
//	start, _ := s.Get("range.start")            // 1
//	v, _ := s.Set("visible", false)              // false
//	_ = s.Append("range.type", map[string]any{}) // new key under range
//
// Writes never create missing intermediate objects; writing "a.b.c" when
// "a.b" does not exist fails with tree.ErrMissingSegment.
//
// # Listeners
//
// A listener on "range" fires when "range" or any descendant such as
// "range.start" is written, receiving the whole range object before and
// after the write. A listener on "range.start" does not fire for writes to
// "range.end", nor for writes to "range" itself. Listeners whose value did
// not change are skipped.
//
// # Batching
//
// Lock defers notification so several writes produce one notify pass:
//
//	err := s.Lock().
//	    Set("range.start", 13).
//	    Set("range.end", 14).
//	    Unlock()
//
// A "range" listener fires once with {start:1 end:5} and {start:13 end:14}.
// Append is ignored while locked.
//
// # Observer Integration
//
// Every operation emits an observability.Event tagged with the State ID.
// Without WithObserver, events go to observability.NoOpObserver.
package state
