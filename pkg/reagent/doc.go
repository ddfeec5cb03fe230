// Package reagent implements a reactive dependency-tracking and
// scheduling engine: trackable cells over plain data, automatic
// dependency collection, per-cell/per-field subscriptions, and a
// three-phase job scheduler with deferred and synchronous flushing.
//
// The engine is organized around five cooperating parts:
//
//   - Cell: a tracked unit of mutable state with field-level reads,
//     writes, and deletes. Nested objects are wrapped lazily on first
//     read.
//   - Collector: records which cells and fields a computation reads
//     while it runs, so the computation can re-run when they change.
//   - Subscriptions: per-cell (optionally per-field) callbacks with
//     synchronous or batched delivery, trigger limits, and
//     pause/resume.
//   - Scheduler: three ordered job queues (pre-flush, main,
//     post-flush) with job coalescing, parameter merging, a deferred
//     auto-flush, and a forced synchronous flush.
//   - Store: tag-keyed ambient context that is saved and restored
//     around scoped execution, including across deferred results.
//
// All state belongs to an explicit Engine instance; a process-wide
// default engine is available through Default for applications that
// do not need isolation. Tests use New or Reset for a fresh engine.
//
// The engine assumes a single logical thread of control: cells may be
// read and written from any goroutine, but the dependency graph and
// the ambient store are designed for cooperative scheduling, not for
// parallel mutation by concurrent user computations. Hosts running
// computations on multiple goroutines in parallel must serialize
// access themselves.
package reagent
