package reagent

import (
	"sync"

	"github.com/petermattis/goid"
)

// Edge is a recorded dependency between a computation and a cell
// field, stamped with the generation of the collection run that
// produced it.
type Edge struct {
	Cell  *Cell
	Field string

	// gen is the collection generation the edge was recorded at.
	// Edges from earlier generations are stale once a computation
	// re-collects.
	gen uint64
}

type edgeKey struct {
	cell  uint64
	field string
}

// EdgeSet is the ordered, deduplicated set of dependency edges
// recorded during one collection frame.
type EdgeSet struct {
	list []Edge
	seen map[edgeKey]struct{}
}

func newEdgeSet() *EdgeSet {
	return &EdgeSet{seen: make(map[edgeKey]struct{})}
}

func (s *EdgeSet) add(c *Cell, field string, gen uint64) {
	k := edgeKey{cell: c.ID(), field: field}
	if _, ok := s.seen[k]; ok {
		return
	}
	s.seen[k] = struct{}{}
	s.list = append(s.list, Edge{Cell: c, Field: field, gen: gen})
}

// Edges returns the recorded edges in first-read order.
func (s *EdgeSet) Edges() []Edge {
	out := make([]Edge, len(s.list))
	copy(out, s.list)
	return out
}

// Len returns the number of distinct edges.
func (s *EdgeSet) Len() int { return len(s.list) }

// Has reports whether a (cell, field) edge was recorded.
func (s *EdgeSet) Has(c *Cell, field string) bool {
	_, ok := s.seen[edgeKey{cell: c.ID(), field: field}]
	return ok
}

// collector maintains a stack of active collection frames per
// goroutine. Reads on any cell of the engine report to every frame on
// the current goroutine's stack, so an outer collection also observes
// the reads of helpers it calls synchronously.
type collector struct {
	eng *Engine

	// frames maps goroutine ID to that goroutine's frame stack. Only
	// the owning goroutine pushes and pops its own stack.
	frames sync.Map // int64 -> *frameStack
}

type frameStack struct {
	frames []*frame
}

type frame struct {
	edges *EdgeSet
	gen   uint64
}

func newCollector(e *Engine) *collector {
	return &collector{eng: e}
}

func (col *collector) stack() *frameStack {
	gid := goid.Get()
	if s, ok := col.frames.Load(gid); ok {
		return s.(*frameStack)
	}
	s := &frameStack{}
	col.frames.Store(gid, s)
	return s
}

func (col *collector) push(gen uint64) *frame {
	f := &frame{edges: newEdgeSet(), gen: gen}
	s := col.stack()
	s.frames = append(s.frames, f)
	return f
}

func (col *collector) pop() {
	gid := goid.Get()
	v, ok := col.frames.Load(gid)
	if !ok {
		return
	}
	s := v.(*frameStack)
	if n := len(s.frames); n > 0 {
		s.frames = s.frames[:n-1]
	}
	if len(s.frames) == 0 {
		col.frames.Delete(gid)
	}
}

// track records a (cell, field) read into every active frame on the
// current goroutine. No-op when no collection is active.
func (col *collector) track(c *Cell, field string) {
	gid := goid.Get()
	v, ok := col.frames.Load(gid)
	if !ok {
		return
	}
	s := v.(*frameStack)
	for _, f := range s.frames {
		f.edges.add(c, field, f.gen)
	}
}

// Track registers a (cell, field) dependency with every active
// collection frame on the current goroutine. It is a no-op unless a
// collection is in progress. Cells call this on every Get; hosts that
// read state outside the cell API can call it directly.
func (e *Engine) Track(c *Cell, field string) {
	e.collector.track(c, field)
}

// Collect runs fn inside a fresh collection frame and returns fn's
// result together with the set of (cell, field) edges it read.
//
// Collections nest: an outer Collect also observes reads made inside
// inner ones. A panic in fn is recovered and returned as an error; the
// frame is always torn down, so later collections are unaffected.
func (e *Engine) Collect(fn func() any) (result any, edges *EdgeSet, err error) {
	f := e.collector.push(0)
	defer func() {
		e.collector.pop()
		if r := recover(); r != nil {
			err = panicError(r)
			e.logger.Error("reagent: panic during dependency collection", "err", err)
		}
		edges = f.edges
	}()
	result = fn()
	return result, f.edges, nil
}

// CollectDeferred runs a task that returns a deferred result and
// collects the edges established during its synchronous portion.
// Reads performed after the task suspends (on another goroutine, or
// after returning its channel) are not attributed to this collection;
// re-enter with Collect if edges are needed there.
//
// The returned channel is the task's own settle channel, passed
// through so callers can wait on completion.
func (e *Engine) CollectDeferred(task func() <-chan error) (edges *EdgeSet, settled <-chan error) {
	f := e.collector.push(0)
	defer e.collector.pop()

	defer func() {
		if r := recover(); r != nil {
			err := panicError(r)
			e.logger.Error("reagent: panic during dependency collection", "err", err)
			ch := make(chan error, 1)
			ch <- err
			close(ch)
			settled = ch
		}
		edges = f.edges
	}()

	settled = task()
	return f.edges, settled
}

// Collect runs fn inside a collection frame on the default engine.
func Collect(fn func() any) (any, *EdgeSet, error) {
	return Default().Collect(fn)
}
