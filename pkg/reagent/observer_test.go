package reagent

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestSyncSubscriptionFiresImmediately(t *testing.T) {
	e := newTestEngine(t)
	c := e.Wrap(map[string]any{"name": "Ada"})

	var got []string
	e.Subscribe(c, "name", func(changed []string) { got = changed })

	c.Set("name", "Grace")
	if !equalStrings(got, []string{"name"}) {
		t.Errorf("changed = %v, want [name]", got)
	}
}

func TestBatchedSubscriptionWaitsForFlush(t *testing.T) {
	e := newTestEngine(t)
	c := e.Wrap(map[string]any{"count": 0})

	calls := 0
	e.Subscribe(c, "count", func([]string) { calls++ },
		WithFlush(FlushBatched))

	c.Set("count", 1)
	c.Set("count", 2)
	if calls != 0 {
		t.Errorf("batched callback ran %d times before flush, want 0", calls)
	}

	e.FlushSync()
	if calls != 1 {
		t.Errorf("batched callback ran %d times after flush, want 1", calls)
	}
}

func TestBatchedSubscriptionCoalescesAcrossDeferredFlush(t *testing.T) {
	e := New() // automatic deferred flush
	defer e.Close()

	c := e.Wrap(map[string]any{"x": 0})
	var calls atomic.Int32
	e.Subscribe(c, "x", func([]string) { calls.Add(1) },
		WithFlush(FlushBatched))

	// Hold the flush open so both notifications land before the
	// batched delivery runs.
	gate := make(chan struct{})
	e.QueueJob(NewJob("gate", func([]any) { <-gate }))

	e.Notify(c, "x")
	e.Notify(c, "x")
	if got := calls.Load(); got != 0 {
		t.Fatalf("batched callback ran %d times before the backlog drained, want 0", got)
	}
	close(gate)

	select {
	case <-e.NextTick(nil):
	case <-time.After(2 * time.Second):
		t.Fatal("deferred backlog never drained")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("batched callback ran %d times after drain, want 1", got)
	}
}

func TestBatchedMultiFieldCoalescesChangedSet(t *testing.T) {
	e := newTestEngine(t)
	c := e.Wrap(map[string]any{"name": "Ada", "email": "a@x"})

	var calls int
	var got []string
	e.SubscribeFields(c, []string{"name", "email"}, func(changed []string) {
		calls++
		got = changed
	}, WithFlush(FlushBatched))

	c.Set("name", "Grace")
	c.Set("email", "g@x")
	c.Set("name", "Grace Hopper") // same field again, still one delivery
	e.FlushSync()

	if calls != 1 {
		t.Fatalf("callback ran %d times, want 1", calls)
	}
	want := []string{"name", "email"}
	if !equalStrings(got, want) {
		t.Errorf("changed = %v, want %v", got, want)
	}
}

func TestSyncMultiFieldDeduplicatesPerNotify(t *testing.T) {
	e := newTestEngine(t)
	c := e.Wrap(map[string]any{"a": 1, "b": 2})

	var calls int
	var got []string
	e.SubscribeFields(c, []string{"a", "b"}, func(changed []string) {
		calls++
		got = changed
	})

	// One Notify carrying both fields must invoke the subscription once
	// with the full changed set.
	e.Notify(c, "a", "b")
	if calls != 1 {
		t.Fatalf("callback ran %d times, want 1", calls)
	}
	if !equalStrings(got, []string{"a", "b"}) {
		t.Errorf("changed = %v, want [a b]", got)
	}
}

func TestSubscribeAllSeesEveryField(t *testing.T) {
	e := newTestEngine(t)
	c := e.Wrap(map[string]any{"a": 1, "b": 2})

	var seen []string
	e.SubscribeAll(c, func(changed []string) {
		seen = append(seen, changed...)
	})

	c.Set("a", 10)
	c.Set("b", 20)
	if !equalStrings(seen, []string{"a", "b"}) {
		t.Errorf("seen = %v, want [a b]", seen)
	}
}

func TestSubscriptionLimitAutoDisposes(t *testing.T) {
	e := newTestEngine(t)
	c := e.Wrap(map[string]any{"n": 0})

	calls := 0
	sub := e.Subscribe(c, "n", func([]string) { calls++ }, WithLimit(2))

	c.Set("n", 1)
	c.Set("n", 2)
	c.Set("n", 3)

	if calls != 2 {
		t.Errorf("callback ran %d times with limit 2, want 2", calls)
	}
	if !sub.IsDisposed() {
		t.Error("subscription should auto-dispose at its limit")
	}
}

func TestPauseSkipsDeliveriesWithoutCounting(t *testing.T) {
	e := newTestEngine(t)
	c := e.Wrap(map[string]any{"n": 0})

	calls := 0
	sub := e.Subscribe(c, "n", func([]string) { calls++ }, WithLimit(2))

	sub.Pause()
	c.Set("n", 1)
	c.Set("n", 2)
	if calls != 0 {
		t.Errorf("paused subscription fired %d times, want 0", calls)
	}
	if sub.IsDisposed() {
		t.Error("paused deliveries must not advance the trigger count")
	}

	sub.Resume()
	c.Set("n", 3)
	if calls != 1 {
		t.Errorf("callback ran %d times after resume, want 1", calls)
	}
}

func TestDisposeIdempotentAndCancelsPending(t *testing.T) {
	e := newTestEngine(t)
	c := e.Wrap(map[string]any{"n": 0})

	calls := 0
	sub := e.Subscribe(c, "n", func([]string) { calls++ },
		WithFlush(FlushBatched))

	c.Set("n", 1) // queued
	sub.Dispose()
	sub.Dispose() // second call is a no-op
	e.FlushSync()

	if calls != 0 {
		t.Errorf("disposed subscription fired %d times, want 0", calls)
	}
	if e.HasSubscribers(c, "n") {
		t.Error("registry still lists the disposed subscription")
	}
}

func TestCallbackPanicDoesNotStopDelivery(t *testing.T) {
	e := newTestEngine(t)
	c := e.Wrap(map[string]any{"n": 0})

	e.Subscribe(c, "n", func([]string) { panic("boom") })
	second := 0
	e.Subscribe(c, "n", func([]string) { second++ })

	c.Set("n", 1)
	if second != 1 {
		t.Errorf("subscription after a panicking one fired %d times, want 1", second)
	}
}

func TestSubscribeDuringDeliveryNotInvokedForSameNotify(t *testing.T) {
	e := newTestEngine(t)
	c := e.Wrap(map[string]any{"n": 0})

	lateCalls := 0
	e.Subscribe(c, "n", func([]string) {
		e.Subscribe(c, "n", func([]string) { lateCalls++ })
	})

	c.Set("n", 1)
	if lateCalls != 0 {
		t.Errorf("subscription added mid-delivery fired %d times for the same notify, want 0", lateCalls)
	}

	c.Set("n", 2)
	if lateCalls != 1 {
		t.Errorf("late subscription fired %d times for the next notify, want 1", lateCalls)
	}
}

func TestHasSubscribers(t *testing.T) {
	e := newTestEngine(t)
	c := e.Wrap(map[string]any{"a": 1})

	if e.HasSubscribers(c) {
		t.Error("fresh cell reports subscribers")
	}

	sub := e.Subscribe(c, "a", func([]string) {})
	if !e.HasSubscribers(c, "a") {
		t.Error("HasSubscribers(a) = false with a live subscription")
	}
	if e.HasSubscribers(c, "b") {
		t.Error("HasSubscribers(b) = true with no subscription on b")
	}

	sub.Dispose()
	if e.HasSubscribers(c) {
		t.Error("HasSubscribers = true after dispose")
	}
}

func TestNotifyWithoutFieldsIsNoOp(t *testing.T) {
	e := newTestEngine(t)
	c := e.Wrap(map[string]any{"a": 1})

	calls := 0
	e.SubscribeAll(c, func([]string) { calls++ })

	e.Notify(c)
	if calls != 0 {
		t.Errorf("Notify with no fields fired %d callbacks, want 0", calls)
	}
}
