package reagent

import (
	"sync"
	"sync/atomic"
	"time"
)

// Lane identifies one of the scheduler's three ordered queues. Within
// one flush, pre-flush jobs complete entirely before any main job
// runs, and all main jobs complete before any post-flush job runs.
type Lane int

const (
	LanePre Lane = iota
	LaneMain
	LanePost
)

// String returns a human-readable name for the lane.
func (l Lane) String() string {
	switch l {
	case LanePre:
		return "pre"
	case LaneMain:
		return "main"
	case LanePost:
		return "post"
	default:
		return "unknown"
	}
}

// lanes in flush order.
var flushOrder = [...]Lane{LanePre, LaneMain, LanePost}

// MergeFunc combines the parameters of a re-enqueued job with the
// parameters already pending for it. next is the newly supplied set,
// prev the stored one.
type MergeFunc func(next, prev []any) []any

// jobIDs is the source of job identities, shared across engines so a
// job handle can safely move between them.
var jobIDs atomic.Uint64

// Job is a schedulable unit with a stable identity. A job appears at
// most once per queue: re-enqueuing replaces (or merges) its pending
// parameters instead of creating a duplicate entry, and the job keeps
// its original queue position.
type Job struct {
	id   uint64
	name string
	fn   func(params []any)
}

// NewJob creates a job handle around fn. The name appears in logs and
// devtools events.
func NewJob(name string, fn func(params []any)) *Job {
	return &Job{
		id:   jobIDs.Add(1),
		name: name,
		fn:   fn,
	}
}

// ID returns the job's unique identity.
func (j *Job) ID() uint64 { return j.id }

// Name returns the job's display name.
func (j *Job) Name() string { return j.name }

type queueEntry struct {
	job     *Job
	params  []any
	removed bool
}

// jobQueue is an ordered queue with at most one pending entry per job
// identity. Removal is lazy so entries keep their positions.
type jobQueue struct {
	order []*queueEntry
	index map[uint64]*queueEntry
}

func newJobQueue() *jobQueue {
	return &jobQueue{index: make(map[uint64]*queueEntry)}
}

// put enqueues the job or, if already pending, updates its parameters
// in place (merged when merge is non-nil, otherwise overwritten).
// Reports whether a new entry was created and the resulting depth.
func (q *jobQueue) put(job *Job, params []any, merge MergeFunc) (isNew bool, depth int) {
	if e, ok := q.index[job.id]; ok {
		if merge != nil {
			e.params = merge(params, e.params)
		} else {
			e.params = params
		}
		return false, len(q.index)
	}
	e := &queueEntry{job: job, params: params}
	q.order = append(q.order, e)
	q.index[job.id] = e
	return true, len(q.index)
}

func (q *jobQueue) remove(job *Job) bool {
	e, ok := q.index[job.id]
	if !ok {
		return false
	}
	e.removed = true
	delete(q.index, job.id)
	return true
}

// drain snapshots the live entries in enqueue order and clears the
// queue. Jobs enqueued while the snapshot runs land in the emptied
// queue and are picked up by the caller's next drain round.
func (q *jobQueue) drain() []*queueEntry {
	if len(q.index) == 0 {
		q.order = nil
		return nil
	}
	out := make([]*queueEntry, 0, len(q.index))
	for _, e := range q.order {
		if !e.removed {
			out = append(out, e)
		}
	}
	q.order = nil
	q.index = make(map[uint64]*queueEntry)
	return out
}

func (q *jobQueue) len() int { return len(q.index) }

// Scheduler state machine: idle -> pending (flush scheduled, not yet
// running) -> flushing -> idle.
const (
	stateIdle int32 = iota
	statePending
	stateFlushing
)

// Scheduler owns the three job queues and the deferred-flush loop.
// The first enqueue after an idle state wakes the loop, which flushes
// all queues as soon as the current synchronous work yields; multiple
// enqueues before that point coalesce into one flush. FlushSync forces
// the same cycle immediately on the calling goroutine.
type Scheduler struct {
	eng *Engine

	mu    sync.Mutex
	lanes [3]*jobQueue
	ticks []tickWaiter

	state atomic.Int32

	wake     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

type tickWaiter struct {
	fn func()
	ch chan struct{}
}

func newScheduler(e *Engine) *Scheduler {
	s := &Scheduler{
		eng:  e,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	for i := range s.lanes {
		s.lanes[i] = newJobQueue()
	}
	return s
}

func (s *Scheduler) start() {
	go s.run()
}

func (s *Scheduler) stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

// run is the deferred-flush loop. It sleeps until an enqueue wakes it,
// then flushes everything pending.
func (s *Scheduler) run() {
	for {
		select {
		case <-s.wake:
			s.FlushSync()
		case <-s.done:
			return
		}
	}
}

// Queue enqueues a job into a lane. If the job is already pending in
// that lane its stored parameters are replaced, or combined via merge
// when one is supplied; the entry keeps its queue position either way.
// Enqueuing schedules a deferred flush if none is pending.
func (s *Scheduler) Queue(lane Lane, job *Job, params []any, merge MergeFunc) {
	if job == nil {
		return
	}
	if s.eng.closed.Load() {
		s.eng.logger.Debug("reagent: job dropped", "job", job.name, "err", ErrEngineClosed)
		return
	}

	s.mu.Lock()
	isNew, depth := s.lanes[lane].put(job, params, merge)
	s.mu.Unlock()

	if isNew {
		s.eng.hooks.JobQueued(lane, depth)
		s.eng.emit(EventQueue, func(ev *Event) {
			ev.Lane = lane.String()
			ev.Job = job.name
		})
	}
	s.schedule()
}

// schedule transitions idle -> pending and wakes the flush loop. While
// pending or flushing there is nothing to do: the running or scheduled
// flush will drain the new work.
func (s *Scheduler) schedule() {
	if s.state.CompareAndSwap(stateIdle, statePending) {
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
}

// Remove cancels a pending job in one lane before it executes.
// Reports whether an entry was removed.
func (s *Scheduler) Remove(lane Lane, job *Job) bool {
	if job == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lanes[lane].remove(job)
}

// RemoveFromAll cancels a pending job in every lane. Reports whether
// any entry was removed.
func (s *Scheduler) RemoveFromAll(job *Job) bool {
	if job == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := false
	for _, q := range s.lanes {
		if q.remove(job) {
			removed = true
		}
	}
	return removed
}

// Pending returns the number of pending jobs in a lane.
func (s *Scheduler) Pending(lane Lane) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lanes[lane].len()
}

// FlushSync runs one full flush cycle synchronously: the pre queue to
// exhaustion, then main, then post. Each queue is drained with a
// snapshot-run-recheck loop, so jobs a queue's own jobs enqueue run
// within the same flush. Re-entrant calls while a flush is running are
// ignored.
//
// A job panic is recovered and logged; remaining jobs still run.
func (s *Scheduler) FlushSync() {
	if !s.state.CompareAndSwap(statePending, stateFlushing) &&
		!s.state.CompareAndSwap(stateIdle, stateFlushing) {
		// Already flushing; nested flushes would break lane ordering.
		return
	}

	s.eng.hooks.FlushStarted()
	s.eng.emit(EventFlushStart, nil)
	start := time.Now()
	executed := 0

	for _, lane := range flushOrder {
		for {
			s.mu.Lock()
			batch := s.lanes[lane].drain()
			s.mu.Unlock()
			if len(batch) == 0 {
				break
			}
			for _, e := range batch {
				executed++
				s.runJob(lane, e)
			}
		}
	}

	s.eng.hooks.FlushFinished(time.Since(start), executed)
	s.eng.emit(EventFlushEnd, nil)
	s.state.Store(stateIdle)

	// Jobs enqueued into an already-drained lane during the flush
	// (e.g. a post job queuing pre work) belong to the next cycle.
	s.mu.Lock()
	left := false
	for _, q := range s.lanes {
		if q.len() > 0 {
			left = true
			break
		}
	}
	var waiters []tickWaiter
	if !left {
		waiters = s.ticks
		s.ticks = nil
	}
	s.mu.Unlock()

	if left {
		s.schedule()
		return
	}
	s.resolveTicks(waiters)
}

func (s *Scheduler) runJob(lane Lane, e *queueEntry) {
	defer func() {
		if r := recover(); r != nil {
			s.eng.hooks.JobFailed(lane)
			s.eng.logger.Error("reagent: job panicked during flush",
				"lane", lane.String(), "job", e.job.name, "err", panicError(r))
			s.eng.emit(EventJobError, func(ev *Event) {
				ev.Lane = lane.String()
				ev.Job = e.job.name
			})
		}
	}()
	e.job.fn(e.params)
	s.eng.hooks.JobExecuted(lane)
}

// NextTick returns a channel that closes once the current
// deferred-flush backlog has drained. If fn is non-nil it runs at that
// point, before the channel closes. When the scheduler is already idle
// with empty queues, fn runs immediately and the returned channel is
// already closed.
func (s *Scheduler) NextTick(fn func()) <-chan struct{} {
	ch := make(chan struct{})

	s.mu.Lock()
	idle := s.state.Load() == stateIdle
	for _, q := range s.lanes {
		if q.len() > 0 {
			idle = false
			break
		}
	}
	if !idle {
		s.ticks = append(s.ticks, tickWaiter{fn: fn, ch: ch})
		s.mu.Unlock()
		return ch
	}
	s.mu.Unlock()

	s.resolveTicks([]tickWaiter{{fn: fn, ch: ch}})
	return ch
}

func (s *Scheduler) resolveTicks(waiters []tickWaiter) {
	for _, w := range waiters {
		if w.fn != nil {
			func() {
				defer func() {
					if r := recover(); r != nil {
						s.eng.logger.Error("reagent: NextTick callback panicked", "err", panicError(r))
					}
				}()
				w.fn()
			}()
		}
		close(w.ch)
	}
}

// =============================================================================
// Engine surface
// =============================================================================

// QueueJob enqueues a job into the main queue with the given
// parameters, overwriting any pending parameters for the same job.
func (e *Engine) QueueJob(job *Job, params ...any) {
	e.sched.Queue(LaneMain, job, params, nil)
}

// QueuePreFlushJob enqueues a job into the pre-flush queue.
func (e *Engine) QueuePreFlushJob(job *Job, params ...any) {
	e.sched.Queue(LanePre, job, params, nil)
}

// QueuePostFlushJob enqueues a job into the post-flush queue.
func (e *Engine) QueuePostFlushJob(job *Job, params ...any) {
	e.sched.Queue(LanePost, job, params, nil)
}

// RemoveJob cancels a pending main-queue job. Reports whether it was
// pending.
func (e *Engine) RemoveJob(job *Job) bool {
	return e.sched.Remove(LaneMain, job)
}

// RemoveJobFromAll cancels a pending job in every queue.
func (e *Engine) RemoveJobFromAll(job *Job) bool {
	return e.sched.RemoveFromAll(job)
}

// FlushSync forces a full synchronous flush cycle.
func (e *Engine) FlushSync() {
	e.sched.FlushSync()
}

// NextTick returns a channel that closes once the current deferred
// backlog has drained, running fn (if non-nil) at that point.
func (e *Engine) NextTick(fn func()) <-chan struct{} {
	return e.sched.NextTick(fn)
}
