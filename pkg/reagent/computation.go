package reagent

import (
	"sync"
	"sync/atomic"
)

// Computation is a long-lived function whose cell reads are tracked,
// and which re-runs when any of its dependencies change. Re-runs are
// batched: a change schedules the computation on the scheduler's main
// queue, so several dependency changes in one tick produce a single
// re-run.
//
// By default the dependency set is recomputed from scratch on every
// run, so it always matches the most recent execution. See StaticDeps
// for the opt-out.
type Computation struct {
	id  uint64
	eng *Engine
	fn  func()

	static bool

	mu    sync.Mutex
	gen   uint64
	edges []Edge
	subs  []*Subscription

	job      *Job
	pending  atomic.Bool
	disposed atomic.Bool
}

// ComputationOption configures a Computation.
type ComputationOption func(*Computation)

// StaticDeps declares the computation's dependency set static: edges
// are collected on the first successful run only, and later runs skip
// recollection. This trades correctness under branch changes (a
// dependency read only on some branches will not be picked up later)
// for lower per-run overhead. Only use it when every run reads the
// same cells.
func StaticDeps() ComputationOption {
	return func(c *Computation) { c.static = true }
}

// NewComputation creates a computation and runs it immediately to
// collect its initial dependency set.
func (e *Engine) NewComputation(fn func(), opts ...ComputationOption) *Computation {
	c := &Computation{
		id:  e.nextID(),
		eng: e,
		fn:  fn,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.job = NewJob("computation", func([]any) {
		c.pending.Store(false)
		c.Run()
	})
	c.Run()
	return c
}

// NewComputation creates a computation on the default engine.
func NewComputation(fn func(), opts ...ComputationOption) *Computation {
	return Default().NewComputation(fn, opts...)
}

// ID returns the unique identifier for this computation.
func (c *Computation) ID() uint64 { return c.id }

// Edges returns the dependency edges of the most recent run.
func (c *Computation) Edges() []Edge {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Edge, len(c.edges))
	copy(out, c.edges)
	return out
}

// Run executes the computation. Unless the dependency set is static,
// all prior edges are torn down first and a fresh set is collected, so
// the subscription graph never accumulates stale edges from earlier
// runs.
func (c *Computation) Run() {
	if c.disposed.Load() {
		return
	}

	if c.static && c.collectedOnce() {
		// Static mode: dependencies are fixed, just run the body.
		_, _, _ = c.eng.Collect(func() any {
			c.fn()
			return nil
		})
		return
	}

	c.teardown()

	_, edges, err := c.eng.Collect(func() any {
		c.fn()
		return nil
	})
	if err != nil && c.static {
		// A failed first run must not freeze an incomplete edge set.
		return
	}

	c.mu.Lock()
	c.gen++
	c.edges = edges.Edges()
	c.mu.Unlock()

	c.resubscribe(edges.Edges())
}

func (c *Computation) collectedOnce() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen > 0
}

// teardown disposes the subscriptions backing the previous run's
// edges.
func (c *Computation) teardown() {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.edges = nil
	c.mu.Unlock()

	for _, s := range subs {
		s.Dispose()
	}
}

// resubscribe attaches a synchronous subscription per dependency edge
// whose only action is to schedule this computation. Scheduling goes
// through the main queue keyed by the computation's job, so multiple
// changed dependencies coalesce into one re-run per flush.
func (c *Computation) resubscribe(edges []Edge) {
	subs := make([]*Subscription, 0, len(edges))
	for _, e := range edges {
		sub := c.eng.Subscribe(e.Cell, e.Field, func([]string) {
			c.schedule()
		})
		subs = append(subs, sub)
	}

	c.mu.Lock()
	c.subs = subs
	c.mu.Unlock()

	if c.disposed.Load() {
		// Disposed while resubscribing.
		for _, s := range subs {
			s.Dispose()
		}
	}
}

func (c *Computation) schedule() {
	if c.disposed.Load() {
		return
	}
	if c.pending.CompareAndSwap(false, true) {
		c.eng.sched.Queue(LaneMain, c.job, nil, nil)
	}
}

// Dispose permanently stops the computation and removes all of its
// dependency edges. Idempotent.
func (c *Computation) Dispose() {
	if c.disposed.Swap(true) {
		return
	}
	c.eng.sched.RemoveFromAll(c.job)
	c.teardown()
}
