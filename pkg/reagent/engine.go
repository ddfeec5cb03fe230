package reagent

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Engine owns all reactive state: the wrap registry, the dependency
// collector, the subscriber registry, the scheduler, and the ambient
// context store. Engines are independent; reactive primitives created
// on one engine never interact with another.
//
// Most applications use the process-wide Default engine through the
// package-level helpers. Tests and embedded hosts create their own
// with New for isolation.
type Engine struct {
	logger *slog.Logger
	hooks  Hooks
	sink   EventSink

	ids atomic.Uint64

	sched     *Scheduler
	registry  *registry
	store     *Store
	collector *collector

	// wrapped maps the identity of an already-wrapped object to its
	// cell, so re-wrapping returns the same wrapper.
	wrapMu  sync.Mutex
	wrapped map[uintptr]*Cell

	manualFlush bool

	closed atomic.Bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used for job panics, collection panics,
// and subscription-limit warnings. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithHooks installs instrumentation hooks. The metrics package
// provides a Prometheus-backed implementation.
func WithHooks(h Hooks) Option {
	return func(e *Engine) {
		if h != nil {
			e.hooks = h
		}
	}
}

// WithEventSink installs a sink that receives engine events (wraps,
// notifications, enqueues, flushes). The devtools package provides a
// sink that streams events to inspector clients.
func WithEventSink(s EventSink) Option {
	return func(e *Engine) {
		e.sink = s
	}
}

// WithManualFlush disables the deferred-flush loop: enqueued jobs run
// only when the host calls FlushSync. Render layers that own their own
// tick use this to decide exactly when flushes happen; it also makes
// queue-state assertions in tests deterministic.
func WithManualFlush() Option {
	return func(e *Engine) {
		e.manualFlush = true
	}
}

// New creates an engine and starts its deferred-flush loop.
// Call Close when the engine is no longer needed.
func New(opts ...Option) *Engine {
	e := &Engine{
		logger:  slog.Default(),
		hooks:   NopHooks{},
		wrapped: make(map[uintptr]*Cell),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.registry = newRegistry(e)
	e.store = newStore(e)
	e.collector = newCollector(e)
	e.sched = newScheduler(e)
	if !e.manualFlush {
		e.sched.start()
	}
	return e
}

// Close stops the engine's deferred-flush loop. Pending jobs that have
// not been flushed are dropped. Close is idempotent.
func (e *Engine) Close() {
	if e.closed.Swap(true) {
		return
	}
	e.sched.stop()
}

// Scheduler returns the engine's scheduler.
func (e *Engine) Scheduler() *Scheduler { return e.sched }

// Context returns the engine's ambient context store.
func (e *Engine) Context() *Store { return e.store }

// Logger returns the engine's logger.
func (e *Engine) Logger() *slog.Logger { return e.logger }

// nextID returns the next unique ID for a reactive primitive owned by
// this engine. IDs are monotonically increasing and never reused.
func (e *Engine) nextID() uint64 {
	return e.ids.Add(1)
}

// emit forwards an event to the configured sink, if any.
func (e *Engine) emit(kind EventKind, f func(*Event)) {
	if e.sink == nil {
		return
	}
	ev := Event{Time: time.Now(), Kind: kind}
	if f != nil {
		f(&ev)
	}
	e.sink.Emit(ev)
}

// =============================================================================
// Instrumentation hooks
// =============================================================================

// Hooks receives counters from the engine's hot paths. Implementations
// must be cheap and must not call back into the engine. The zero-cost
// default is NopHooks.
type Hooks interface {
	// CellWrapped is called when a new cell is created.
	CellWrapped()

	// NotifyDelivered is called per subscription delivery. sync is
	// true for immediate delivery, false for batched.
	NotifyDelivered(sync bool)

	// SubscriptionOpened and SubscriptionClosed track the number of
	// live subscriptions.
	SubscriptionOpened()
	SubscriptionClosed()

	// JobQueued is called when a job is enqueued (not when a pending
	// job's parameters are replaced). pending is the queue depth after
	// the enqueue.
	JobQueued(lane Lane, pending int)

	// JobExecuted and JobFailed are called per job run during a flush.
	JobExecuted(lane Lane)
	JobFailed(lane Lane)

	// FlushStarted and FlushFinished bracket one full flush cycle.
	FlushStarted()
	FlushFinished(d time.Duration, executed int)
}

// NopHooks is a Hooks implementation that does nothing.
type NopHooks struct{}

func (NopHooks) CellWrapped()                     {}
func (NopHooks) NotifyDelivered(bool)             {}
func (NopHooks) SubscriptionOpened()              {}
func (NopHooks) SubscriptionClosed()              {}
func (NopHooks) JobQueued(Lane, int)              {}
func (NopHooks) JobExecuted(Lane)                 {}
func (NopHooks) JobFailed(Lane)                   {}
func (NopHooks) FlushStarted()                    {}
func (NopHooks) FlushFinished(time.Duration, int) {}

// =============================================================================
// Engine events (devtools)
// =============================================================================

// EventKind identifies the type of an engine event.
type EventKind string

const (
	EventWrap       EventKind = "wrap"
	EventNotify     EventKind = "notify"
	EventQueue      EventKind = "queue"
	EventFlushStart EventKind = "flush-start"
	EventFlushEnd   EventKind = "flush-end"
	EventJobError   EventKind = "job-error"
	EventSubscribe  EventKind = "subscribe"
	EventDispose    EventKind = "dispose"
)

// Event is a single observable engine occurrence, delivered to the
// configured EventSink.
type Event struct {
	Time   time.Time `json:"time"`
	Kind   EventKind `json:"kind"`
	Cell   uint64    `json:"cell,omitempty"`
	Fields []string  `json:"fields,omitempty"`
	Lane   string    `json:"lane,omitempty"`
	Job    string    `json:"job,omitempty"`
	Detail string    `json:"detail,omitempty"`
}

// EventSink receives engine events. Emit is called from engine hot
// paths and must not block; sinks that fan out to slow consumers
// should buffer and drop.
type EventSink interface {
	Emit(Event)
}

// =============================================================================
// Default engine
// =============================================================================

var (
	defaultMu     sync.Mutex
	defaultEngine *Engine
)

// Default returns the process-wide engine, creating it on first use.
func Default() *Engine {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultEngine == nil {
		defaultEngine = New()
	}
	return defaultEngine
}

// Reset replaces the process-wide engine with a fresh one and closes
// the previous instance. Intended for test isolation.
func Reset() {
	defaultMu.Lock()
	old := defaultEngine
	defaultEngine = nil
	defaultMu.Unlock()
	if old != nil {
		old.Close()
	}
}
