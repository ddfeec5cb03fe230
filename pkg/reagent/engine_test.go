package reagent

import (
	"sync"
	"testing"
	"time"
)

func TestEnginesAreIsolated(t *testing.T) {
	e1 := newTestEngine(t)
	e2 := newTestEngine(t)

	m := map[string]any{"a": 1}
	c1 := e1.Wrap(m)
	c2 := e2.Wrap(m)

	if c1 == c2 {
		t.Error("engines share wrap registries")
	}

	calls := 0
	e1.Subscribe(c1, "a", func([]string) { calls++ })
	c2.Set("a", 2)
	if calls != 0 {
		t.Errorf("subscription on one engine fired %d times for another engine's write", calls)
	}
}

func TestDefaultEngineAndReset(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	d1 := Default()
	if d1 != Default() {
		t.Error("Default() is not stable between calls")
	}

	c := Wrap(map[string]any{"n": 1})
	calls := 0
	d1.Subscribe(c, "n", func([]string) { calls++ })
	Notify(c, "n")
	if calls != 1 {
		t.Errorf("package-level Notify delivered %d times, want 1", calls)
	}

	Reset()
	if Default() == d1 {
		t.Error("Reset did not replace the default engine")
	}
}

func TestSnapshotReportsGraph(t *testing.T) {
	e := newTestEngine(t)

	c := e.Wrap(map[string]any{"a": 1, "b": 2})
	e.Subscribe(c, "a", func([]string) {})
	e.SubscribeAll(c, func([]string) {})
	e.Context().Set("tenant", "acme", true)
	e.QueueJob(NewJob("pending", func([]any) {}))

	snap := e.Snapshot()

	if len(snap.Cells) != 1 {
		t.Fatalf("snapshot cells = %d, want 1", len(snap.Cells))
	}
	info := snap.Cells[0]
	if info.ID != c.ID() {
		t.Errorf("cell ID = %d, want %d", info.ID, c.ID())
	}
	if !equalStrings(info.Fields, []string{"a", "b"}) {
		t.Errorf("fields = %v, want [a b]", info.Fields)
	}
	if info.Subscriptions["a"] != 1 || info.Subscriptions["*"] != 1 {
		t.Errorf("subscriptions = %v, want a:1 *:1", info.Subscriptions)
	}

	if snap.Queues[LaneMain.String()] != 1 {
		t.Errorf("main queue depth = %d, want 1", snap.Queues[LaneMain.String()])
	}
	if len(snap.ContextTags) != 1 || snap.ContextTags[0] != "tenant" {
		t.Errorf("context tags = %v, want [tenant]", snap.ContextTags)
	}
}

// countingHooks records hook invocations for assertion.
type countingHooks struct {
	mu sync.Mutex

	wrapped    int
	syncNotify int
	batched    int
	opened     int
	closed     int
	queued     int
	executed   int
	failed     int
	flushes    int
}

func (h *countingHooks) CellWrapped() {
	h.mu.Lock()
	h.wrapped++
	h.mu.Unlock()
}

func (h *countingHooks) NotifyDelivered(sync bool) {
	h.mu.Lock()
	if sync {
		h.syncNotify++
	} else {
		h.batched++
	}
	h.mu.Unlock()
}

func (h *countingHooks) SubscriptionOpened() {
	h.mu.Lock()
	h.opened++
	h.mu.Unlock()
}

func (h *countingHooks) SubscriptionClosed() {
	h.mu.Lock()
	h.closed++
	h.mu.Unlock()
}

func (h *countingHooks) JobQueued(Lane, int) {
	h.mu.Lock()
	h.queued++
	h.mu.Unlock()
}

func (h *countingHooks) JobExecuted(Lane) {
	h.mu.Lock()
	h.executed++
	h.mu.Unlock()
}

func (h *countingHooks) JobFailed(Lane) {
	h.mu.Lock()
	h.failed++
	h.mu.Unlock()
}

func (h *countingHooks) FlushStarted() {}

func (h *countingHooks) FlushFinished(time.Duration, int) {
	h.mu.Lock()
	h.flushes++
	h.mu.Unlock()
}

func TestHooksReceiveEngineActivity(t *testing.T) {
	hooks := &countingHooks{}
	e := New(WithManualFlush(), WithHooks(hooks))
	defer e.Close()

	c := e.Wrap(map[string]any{"n": 0})
	sub := e.Subscribe(c, "n", func([]string) {})
	e.Subscribe(c, "n", func([]string) {}, WithFlush(FlushBatched))

	c.Set("n", 1)
	e.QueueJob(NewJob("boom", func([]any) { panic("x") }))
	e.FlushSync()
	sub.Dispose()

	hooks.mu.Lock()
	defer hooks.mu.Unlock()

	if hooks.wrapped != 1 {
		t.Errorf("wrapped = %d, want 1", hooks.wrapped)
	}
	if hooks.opened != 2 || hooks.closed != 1 {
		t.Errorf("opened/closed = %d/%d, want 2/1", hooks.opened, hooks.closed)
	}
	if hooks.syncNotify != 1 || hooks.batched != 1 {
		t.Errorf("sync/batched deliveries = %d/%d, want 1/1", hooks.syncNotify, hooks.batched)
	}
	if hooks.queued != 2 {
		t.Errorf("queued = %d, want 2 (batched delivery + explicit job)", hooks.queued)
	}
	if hooks.executed != 1 || hooks.failed != 1 {
		t.Errorf("executed/failed = %d/%d, want 1/1", hooks.executed, hooks.failed)
	}
	if hooks.flushes != 1 {
		t.Errorf("flushes = %d, want 1", hooks.flushes)
	}
}

// captureSink records emitted events.
type captureSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *captureSink) Emit(ev Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *captureSink) kinds() []EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EventKind, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Kind
	}
	return out
}

func TestEventSinkReceivesLifecycle(t *testing.T) {
	sink := &captureSink{}
	e := New(WithManualFlush(), WithEventSink(sink))
	defer e.Close()

	c := e.Wrap(map[string]any{"n": 0})
	sub := e.Subscribe(c, "n", func([]string) {})
	c.Set("n", 1)
	e.QueueJob(NewJob("work", func([]any) {}))
	e.FlushSync()
	sub.Dispose()

	want := map[EventKind]bool{
		EventWrap:       false,
		EventSubscribe:  false,
		EventNotify:     false,
		EventQueue:      false,
		EventFlushStart: false,
		EventFlushEnd:   false,
		EventDispose:    false,
	}
	for _, k := range sink.kinds() {
		if _, tracked := want[k]; tracked {
			want[k] = true
		}
	}
	for k, seen := range want {
		if !seen {
			t.Errorf("event kind %q never emitted", k)
		}
	}
}

func TestValuesEqual(t *testing.T) {
	cases := []struct {
		name string
		a, b any
		want bool
	}{
		{"equal ints", 1, 1, true},
		{"different ints", 1, 2, false},
		{"int vs int64", 1, int64(1), false},
		{"equal strings", "x", "x", true},
		{"nil vs nil", nil, nil, true},
		{"nil vs value", nil, 0, false},
		{"equal bools", true, true, true},
		{"equal floats", 1.5, 1.5, true},
		{"equal slices", []int{1, 2}, []int{1, 2}, true},
		{"different slices", []int{1, 2}, []int{2, 1}, false},
		{"equal maps", map[string]any{"a": 1}, map[string]any{"a": 1}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := valuesEqual(tc.a, tc.b); got != tc.want {
				t.Errorf("valuesEqual(%v, %v) = %v, want %v", tc.a, tc.b, got, tc.want)
			}
		})
	}
}
