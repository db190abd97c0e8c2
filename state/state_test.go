package state_test

import (
	"context"
	"errors"
	"testing"

	"github.com/tailored-agentic-units/observable/observability"
	"github.com/tailored-agentic-units/observable/state"
	"github.com/tailored-agentic-units/observable/tree"
)

type captureObserver struct {
	events []observability.Event
}

func (c *captureObserver) OnEvent(ctx context.Context, event observability.Event) {
	c.events = append(c.events, event)
}

func (c *captureObserver) ofType(t observability.EventType) []observability.Event {
	var out []observability.Event
	for _, e := range c.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type call struct {
	old any
	new any
}

type recorder struct {
	calls []call
}

func (r *recorder) listen(oldValue, newValue any) {
	r.calls = append(r.calls, call{old: oldValue, new: newValue})
}

func timeline() map[string]any {
	return map[string]any{
		"range":   map[string]any{"start": 1, "end": 5},
		"visible": true,
	}
}

func TestNew(t *testing.T) {
	data := timeline()
	s := state.New(data)

	cs := s.Data()
	if len(cs) != len(data) {
		t.Errorf("Data() has %d keys, want %d", len(cs), len(data))
	}
	if cs["visible"] != true {
		t.Errorf("visible = %v, want true", cs["visible"])
	}
	rng := cs["range"].(map[string]any)
	if rng["start"] != 1 || rng["end"] != 5 {
		t.Errorf("range = %v, want start=1 end=5", rng)
	}
	if s.Locked() {
		t.Error("new State is locked")
	}
}

func TestNew_NilData(t *testing.T) {
	s := state.New(nil)

	if s.Data() == nil {
		t.Fatal("Data() = nil, want empty map")
	}
	if _, err := s.Set("visible", true); err != nil {
		t.Errorf("Set on empty State failed: %v", err)
	}
}

func TestNew_EmitsEvent(t *testing.T) {
	observer := &captureObserver{}
	s := state.New(timeline(), state.WithObserver(observer))

	created := observer.ofType(state.EventStateCreate)
	if len(created) != 1 {
		t.Fatalf("New() emitted %d create events, want 1", len(created))
	}
	if created[0].Data["state"] != s.ID() {
		t.Errorf("event state = %v, want %v", created[0].Data["state"], s.ID())
	}
	if created[0].Source != "state" {
		t.Errorf("event source = %q, want state", created[0].Source)
	}
}

func TestState_AppendNotifiesAncestor(t *testing.T) {
	s := state.New(timeline())
	rec := &recorder{}
	s.On("range", rec.listen)

	if err := s.Append("range.start", 2); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	if len(rec.calls) != 1 {
		t.Fatalf("listener called %d times, want 1", len(rec.calls))
	}
	old := rec.calls[0].old.(map[string]any)
	now := rec.calls[0].new.(map[string]any)
	if old["start"] != 1 {
		t.Errorf("old.start = %v, want 1", old["start"])
	}
	if now["start"] != 2 {
		t.Errorf("new.start = %v, want 2", now["start"])
	}
	if old["end"] != 5 || now["end"] != 5 {
		t.Errorf("end changed: old %v new %v", old["end"], now["end"])
	}
}

func TestState_SetReturnsValue(t *testing.T) {
	s := state.New(timeline())

	v, err := s.Set("visible", false)
	if err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if v != false {
		t.Errorf("Set(visible, false) = %v, want false", v)
	}
}

func TestState_SetAddsKey(t *testing.T) {
	s := state.New(timeline())

	rt, err := s.Set("range.type", map[string]any{"absolute": true})
	if err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if rt.(map[string]any)["absolute"] != true {
		t.Errorf("returned value = %v, want absolute=true", rt)
	}

	cs := s.Data()
	rng := cs["range"].(map[string]any)
	if rng["start"] != 1 || rng["end"] != 5 {
		t.Errorf("range = %v, want start=1 end=5 preserved", rng)
	}
	if cs["visible"] != true {
		t.Errorf("visible = %v, want true", cs["visible"])
	}
	if rng["type"].(map[string]any)["absolute"] != true {
		t.Errorf("range.type.absolute not set: %v", rng["type"])
	}
}

func TestState_GetRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		ns    string
		value any
	}{
		{name: "leaf", ns: "range.end", value: 9},
		{name: "new object", ns: "range.type", value: map[string]any{"absolute": true}},
		{name: "top-level", ns: "label", value: "timeline"},
		{name: "array", ns: "marks", value: []any{1, 2, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := state.New(timeline())
			if _, err := s.Set(tt.ns, tt.value); err != nil {
				t.Fatalf("Set(%q) failed: %v", tt.ns, err)
			}

			got, err := s.Get(tt.ns)
			if err != nil {
				t.Fatalf("Get(%q) failed: %v", tt.ns, err)
			}
			if !tree.Equal(got, tt.value) {
				t.Errorf("Get(%q) = %v, want %v", tt.ns, got, tt.value)
			}
		})
	}
}

func TestState_GetHasNoSideEffects(t *testing.T) {
	observer := &captureObserver{}
	s := state.New(timeline(), state.WithObserver(observer))
	rec := &recorder{}
	s.On("", rec.listen)
	observer.events = nil

	if _, err := s.Get("range.start"); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(rec.calls) != 0 {
		t.Errorf("Get notified %d listeners", len(rec.calls))
	}
	if len(observer.events) != 0 {
		t.Errorf("Get emitted %d events", len(observer.events))
	}
}

func TestState_MissingIntermediate(t *testing.T) {
	s := state.New(timeline())
	rec := &recorder{}
	s.On("", rec.listen)

	if _, err := s.Get("axis.label"); !errors.Is(err, tree.ErrMissingSegment) {
		t.Errorf("Get error = %v, want ErrMissingSegment", err)
	}
	if _, err := s.Set("axis.label", "x"); !errors.Is(err, tree.ErrMissingSegment) {
		t.Errorf("Set error = %v, want ErrMissingSegment", err)
	}
	if err := s.Append("axis.label", "x"); !errors.Is(err, tree.ErrMissingSegment) {
		t.Errorf("Append error = %v, want ErrMissingSegment", err)
	}
	if len(rec.calls) != 0 {
		t.Errorf("failed writes notified %d listeners", len(rec.calls))
	}
	if _, ok := s.Data()["axis"]; ok {
		t.Error("failed write created intermediate object")
	}
}

func TestState_ListenerMatching(t *testing.T) {
	tests := []struct {
		name     string
		listen   string
		write    string
		value    any
		wantCall bool
	}{
		{name: "exact namespace", listen: "visible", write: "visible", value: false, wantCall: true},
		{name: "ancestor namespace", listen: "range", write: "range.start", value: 2, wantCall: true},
		{name: "root listener", listen: "", write: "range.end", value: 7, wantCall: true},
		{name: "sibling", listen: "range.start", write: "range.end", value: 7, wantCall: false},
		{name: "unrelated", listen: "range", write: "visible", value: false, wantCall: false},
		{name: "descendant of written path", listen: "range.start", write: "range", value: map[string]any{"start": 3, "end": 5}, wantCall: false},
		{name: "unchanged value", listen: "visible", write: "visible", value: true, wantCall: false},
		{name: "unchanged object", listen: "range", write: "range", value: map[string]any{"end": 5, "start": 1}, wantCall: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := state.New(timeline())
			rec := &recorder{}
			s.On(tt.listen, rec.listen)

			if _, err := s.Set(tt.write, tt.value); err != nil {
				t.Fatalf("Set(%q) failed: %v", tt.write, err)
			}

			if called := len(rec.calls) > 0; called != tt.wantCall {
				t.Errorf("listener on %q called = %v after write to %q, want %v",
					tt.listen, called, tt.write, tt.wantCall)
			}
		})
	}
}

func TestState_NewSubtreeHasNilOld(t *testing.T) {
	s := state.New(timeline())
	rec := &recorder{}
	s.On("range.type", rec.listen)

	if _, err := s.Set("range.type", map[string]any{"absolute": true}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if len(rec.calls) != 1 {
		t.Fatalf("listener called %d times, want 1", len(rec.calls))
	}
	if rec.calls[0].old != nil {
		t.Errorf("old = %v, want nil", rec.calls[0].old)
	}
	if !tree.Equal(rec.calls[0].new, map[string]any{"absolute": true}) {
		t.Errorf("new = %v, want absolute=true", rec.calls[0].new)
	}
}

func TestState_NilValueChanges(t *testing.T) {
	tests := []struct {
		name     string
		data     map[string]any
		value    any
		wantCall bool
	}{
		{
			name:     "create key holding nil",
			data:     map[string]any{"range": map[string]any{"start": 1}},
			value:    nil,
			wantCall: true,
		},
		{
			name:     "rewrite existing nil",
			data:     map[string]any{"range": map[string]any{"start": 1, "label": nil}},
			value:    nil,
			wantCall: false,
		},
		{
			name:     "replace nil with value",
			data:     map[string]any{"range": map[string]any{"start": 1, "label": nil}},
			value:    "span",
			wantCall: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := state.New(tt.data)
			rec := &recorder{}
			s.On("range.label", rec.listen)

			if _, err := s.Set("range.label", tt.value); err != nil {
				t.Fatalf("Set failed: %v", err)
			}

			if called := len(rec.calls) > 0; called != tt.wantCall {
				t.Errorf("listener called = %v, want %v", called, tt.wantCall)
			}
		})
	}
}

func TestState_LargeIntegerChange(t *testing.T) {
	s := state.New(map[string]any{"id": int64(1 << 53)})
	rec := &recorder{}
	s.On("id", rec.listen)

	if _, err := s.Set("id", int64(1<<53+1)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if len(rec.calls) != 1 {
		t.Fatalf("listener called %d times, want 1", len(rec.calls))
	}
	if rec.calls[0].new != int64(1<<53+1) {
		t.Errorf("new = %v, want %d", rec.calls[0].new, int64(1<<53+1))
	}
}

func TestState_ListenerOrder(t *testing.T) {
	s := state.New(timeline())
	var order []string
	s.On("range", func(_, _ any) { order = append(order, "first") })
	s.On("", func(_, _ any) { order = append(order, "second") })
	s.On("range.start", func(_, _ any) { order = append(order, "third") })

	if _, err := s.Set("range.start", 2); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	want := []string{"first", "second", "third"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order = %v, want %v", order, want)
			break
		}
	}
}

func TestState_Unsubscribe(t *testing.T) {
	s := state.New(timeline())
	rec := &recorder{}
	other := &recorder{}
	off := s.On("range", rec.listen)
	s.On("range", other.listen)

	if _, err := s.Set("range.start", 2); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	off()
	off()
	if _, err := s.Set("range.start", 3); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if len(rec.calls) != 1 {
		t.Errorf("unsubscribed listener called %d times, want 1", len(rec.calls))
	}
	if len(other.calls) != 2 {
		t.Errorf("remaining listener called %d times, want 2", len(other.calls))
	}
}

func TestState_UnsubscribeDuringNotify(t *testing.T) {
	s := state.New(timeline())
	second := &recorder{}
	var offSecond func()
	s.On("range", func(_, _ any) { offSecond() })
	offSecond = s.On("range", second.listen)
	third := &recorder{}
	s.On("range", third.listen)

	if _, err := s.Set("range.start", 2); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if len(second.calls) != 0 {
		t.Errorf("listener removed mid-pass was called %d times", len(second.calls))
	}
	if len(third.calls) != 1 {
		t.Errorf("listener after removed one called %d times, want 1", len(third.calls))
	}
}

func TestState_LockUnlock(t *testing.T) {
	s := state.New(timeline())
	rec := &recorder{}
	s.On("range", rec.listen)

	err := s.Lock().
		Set("range.start", 13).
		Set("range.end", 14).
		Unlock()
	if err != nil {
		t.Fatalf("batch failed: %v", err)
	}

	if !tree.Equal(s.Data()["range"], map[string]any{"start": 13, "end": 14}) {
		t.Errorf("range = %v, want start=13 end=14", s.Data()["range"])
	}
	if len(rec.calls) != 1 {
		t.Fatalf("listener called %d times, want 1", len(rec.calls))
	}
	if !tree.Equal(rec.calls[0].old, map[string]any{"start": 1, "end": 5}) {
		t.Errorf("old = %v, want start=1 end=5", rec.calls[0].old)
	}
	if !tree.Equal(rec.calls[0].new, map[string]any{"start": 13, "end": 14}) {
		t.Errorf("new = %v, want start=13 end=14", rec.calls[0].new)
	}
	if s.Locked() {
		t.Error("State still locked after Unlock")
	}
}

func TestState_LockDefersNotification(t *testing.T) {
	s := state.New(timeline())
	a := &recorder{}
	b := &recorder{}
	s.On("a", a.listen)
	s.On("b", b.listen)

	s.Lock()
	if v, err := s.Set("a", 1); err != nil || v != 1 {
		t.Fatalf("locked Set = (%v, %v), want (1, nil)", v, err)
	}
	if _, err := s.Set("b", 2); err != nil {
		t.Fatalf("locked Set failed: %v", err)
	}
	if _, err := s.Set("a", 3); err != nil {
		t.Fatalf("locked Set failed: %v", err)
	}

	if len(a.calls)+len(b.calls) != 0 {
		t.Fatal("listeners notified while locked")
	}

	if err := s.Unlock(); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}

	if len(a.calls) != 1 || len(b.calls) != 1 {
		t.Fatalf("calls a=%d b=%d, want 1 each", len(a.calls), len(b.calls))
	}
	if a.calls[0].old != nil || a.calls[0].new != 3 {
		t.Errorf("a call = %+v, want nil -> 3", a.calls[0])
	}
	if b.calls[0].new != 2 {
		t.Errorf("b new = %v, want 2", b.calls[0].new)
	}
}

func TestState_BatchRevertedValueDoesNotNotify(t *testing.T) {
	s := state.New(timeline())
	rec := &recorder{}
	s.On("visible", rec.listen)

	err := s.Lock().Set("visible", false).Set("visible", true).Unlock()
	if err != nil {
		t.Fatalf("batch failed: %v", err)
	}
	if len(rec.calls) != 0 {
		t.Errorf("listener called %d times for net-unchanged value", len(rec.calls))
	}
}

func TestState_AppendIgnoredWhileLocked(t *testing.T) {
	s := state.New(timeline())
	rec := &recorder{}
	s.On("", rec.listen)

	s.Lock()
	if err := s.Append("label", "ignored"); err != nil {
		t.Fatalf("Append while locked returned error: %v", err)
	}
	if err := s.Unlock(); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}

	if _, ok := s.Data()["label"]; ok {
		t.Error("Append while locked wrote data")
	}
	if len(rec.calls) != 0 {
		t.Errorf("listener called %d times, want 0", len(rec.calls))
	}
}

func TestState_UnlockWithoutLock(t *testing.T) {
	s := state.New(timeline())

	if err := s.Unlock(); !errors.Is(err, state.ErrNotLocked) {
		t.Errorf("Unlock error = %v, want ErrNotLocked", err)
	}
}

func TestState_RelockKeepsSnapshot(t *testing.T) {
	s := state.New(timeline())
	rec := &recorder{}
	s.On("range.start", rec.listen)

	s.Lock().Set("range.start", 2)
	s.Lock().Set("range.start", 3)
	if err := s.Unlock(); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}

	if len(rec.calls) != 1 {
		t.Fatalf("listener called %d times, want 1", len(rec.calls))
	}
	if rec.calls[0].old != 1 || rec.calls[0].new != 3 {
		t.Errorf("call = %+v, want 1 -> 3", rec.calls[0])
	}
}

func TestBatch_StickyError(t *testing.T) {
	s := state.New(timeline())
	rec := &recorder{}
	s.On("", rec.listen)

	batch := s.Lock().
		Set("range.start", 13).
		Set("axis.label", "x").
		Set("range.end", 14)

	if !errors.Is(batch.Err(), tree.ErrMissingSegment) {
		t.Errorf("Err() = %v, want ErrMissingSegment", batch.Err())
	}

	err := batch.Unlock()
	if !errors.Is(err, tree.ErrMissingSegment) {
		t.Errorf("Unlock() = %v, want ErrMissingSegment", err)
	}
	if s.Locked() {
		t.Error("State still locked after failed batch")
	}

	rng := s.Data()["range"].(map[string]any)
	if rng["start"] != 13 {
		t.Errorf("range.start = %v, want 13 (applied before failure)", rng["start"])
	}
	if rng["end"] != 5 {
		t.Errorf("range.end = %v, want 5 (skipped after failure)", rng["end"])
	}
	if len(rec.calls) != 1 {
		t.Errorf("listener called %d times, want 1", len(rec.calls))
	}
}

func TestState_RootAppendMerges(t *testing.T) {
	s := state.New(timeline())
	root := &recorder{}
	rng := &recorder{}
	s.On("", root.listen)
	s.On("range", rng.listen)

	if err := s.Append("", map[string]any{"label": "timeline"}); err != nil {
		t.Fatalf("Append(root) failed: %v", err)
	}

	if s.Data()["label"] != "timeline" || s.Data()["visible"] != true {
		t.Errorf("root merge result = %v", s.Data())
	}
	if len(root.calls) != 1 {
		t.Errorf("root listener called %d times, want 1", len(root.calls))
	}
	if len(rng.calls) != 0 {
		t.Errorf("range listener called %d times, want 0", len(rng.calls))
	}
}

func TestState_RootAppendRejectsScalar(t *testing.T) {
	s := state.New(timeline())

	if err := s.Append("", 42); !errors.Is(err, tree.ErrNotObject) {
		t.Errorf("Append(root, 42) error = %v, want ErrNotObject", err)
	}
}

func TestState_DataBypassesDetection(t *testing.T) {
	s := state.New(timeline())
	rec := &recorder{}
	s.On("", rec.listen)

	s.Data()["visible"] = false

	if len(rec.calls) != 0 {
		t.Errorf("direct mutation notified %d listeners", len(rec.calls))
	}
	if v, _ := s.Get("visible"); v != false {
		t.Errorf("visible = %v, want false", v)
	}
}

func TestState_ReentrantWrite(t *testing.T) {
	s := state.New(timeline())
	outer := &recorder{}
	visible := &recorder{}

	s.On("range", func(oldValue, newValue any) {
		if _, err := s.Set("visible", false); err != nil {
			t.Errorf("nested Set failed: %v", err)
		}
	})
	s.On("range", outer.listen)
	s.On("visible", visible.listen)

	if _, err := s.Set("range.start", 2); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if len(visible.calls) != 1 {
		t.Errorf("nested write notified visible %d times, want 1", len(visible.calls))
	}
	if len(outer.calls) != 1 {
		t.Fatalf("outer listener called %d times, want 1", len(outer.calls))
	}
	if outer.calls[0].old.(map[string]any)["start"] != 1 {
		t.Errorf("outer old = %v, nested write changed the outer snapshot", outer.calls[0].old)
	}
}

func TestState_ListenerPanicAbortsPass(t *testing.T) {
	s := state.New(timeline())
	after := &recorder{}
	s.On("visible", func(_, _ any) { panic("listener failed") })
	s.On("visible", after.listen)

	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Error("listener panic was swallowed")
			}
		}()
		_, _ = s.Set("visible", false)
	}()

	if len(after.calls) != 0 {
		t.Errorf("listener after panic called %d times, want 0", len(after.calls))
	}
	if v, _ := s.Get("visible"); v != false {
		t.Errorf("visible = %v, want false (write precedes notify)", v)
	}
}

func TestState_Events(t *testing.T) {
	observer := &captureObserver{}
	s := state.New(timeline(), state.WithObserver(observer))
	off := s.On("range", func(_, _ any) {})

	if _, err := s.Set("range.start", 2); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Lock().Set("range.end", 9).Unlock(); err != nil {
		t.Fatalf("batch failed: %v", err)
	}
	_, _ = s.Set("axis.label", "x")
	off()

	tests := []struct {
		eventType observability.EventType
		want      int
	}{
		{eventType: state.EventStateCreate, want: 1},
		{eventType: state.EventStateListen, want: 1},
		{eventType: state.EventStateSet, want: 2},
		{eventType: state.EventStateLock, want: 1},
		{eventType: state.EventStateUnlock, want: 1},
		{eventType: state.EventStateNotify, want: 2},
		{eventType: state.EventStateError, want: 1},
		{eventType: state.EventStateIgnore, want: 1},
	}

	for _, tt := range tests {
		if got := len(observer.ofType(tt.eventType)); got != tt.want {
			t.Errorf("%s emitted %d times, want %d", tt.eventType, got, tt.want)
		}
	}

	unlock := observer.ofType(state.EventStateUnlock)[0]
	if unlock.Data[observability.NotifyCountKey] != 1 {
		t.Errorf("unlock notified = %v, want 1", unlock.Data[observability.NotifyCountKey])
	}
	if unlock.Data["touched"] != 1 {
		t.Errorf("unlock touched = %v, want 1", unlock.Data["touched"])
	}

	failure := observer.ofType(state.EventStateError)[0]
	if failure.Level != observability.LevelWarning {
		t.Errorf("error event level = %v, want %v", failure.Level, observability.LevelWarning)
	}
}
