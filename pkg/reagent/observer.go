package reagent

import (
	"sync"
)

// FlushMode controls when a subscription's callback runs relative to
// the notification that triggered it.
type FlushMode int

const (
	// FlushSync invokes the callback immediately, inside Notify.
	FlushSync FlushMode = iota

	// FlushBatched hands the callback to the scheduler's main queue.
	// Multiple notifications before the next flush coalesce into one
	// invocation carrying the union of changed fields.
	FlushBatched
)

// fieldAny is the registry key for subscriptions that watch every
// field of a cell.
const fieldAny = "\x00any"

type subOptions struct {
	mode  FlushMode
	limit int
}

// SubscribeOption configures a subscription.
type SubscribeOption func(*subOptions)

// WithFlush sets the delivery mode. Default is FlushSync.
func WithFlush(mode FlushMode) SubscribeOption {
	return func(o *subOptions) { o.mode = mode }
}

// WithLimit caps the number of deliveries; the subscription is
// disposed automatically after the Nth invocation. 0 means unlimited.
// A limit of 1 gives subscribe-once semantics.
func WithLimit(n int) SubscribeOption {
	return func(o *subOptions) {
		if n >= 0 {
			o.limit = n
		}
	}
}

// Subscription is a registered callback interested in changes of one
// or more cell fields. It can be paused (deliveries are skipped but
// the subscription keeps its place), resumed, and disposed.
type Subscription struct {
	id  uint64
	eng *Engine
	cb  func(changed []string)

	mode  FlushMode
	limit int

	// job backs batched delivery; its pending parameters accumulate
	// the union of changed field names until the next flush.
	job *Job

	mu       sync.Mutex
	fired    int
	paused   bool
	disposed bool
	targets  []subTarget
}

type subTarget struct {
	cell  *Cell
	field string
}

// Subscribe registers a callback for changes of one field.
// The callback receives the changed field names (for a single-field
// subscription, a one-element slice).
func (e *Engine) Subscribe(c *Cell, field string, cb func(changed []string), opts ...SubscribeOption) *Subscription {
	return e.subscribe(c, []string{field}, cb, opts)
}

// SubscribeAll registers a callback for changes of any field of the
// cell.
func (e *Engine) SubscribeAll(c *Cell, cb func(changed []string), opts ...SubscribeOption) *Subscription {
	return e.subscribe(c, []string{fieldAny}, cb, opts)
}

// SubscribeFields registers one callback across several fields. With
// batched delivery the callback fires once per flush with the set of
// changed field names, even when multiple subscribed fields changed in
// the same tick.
func (e *Engine) SubscribeFields(c *Cell, fields []string, cb func(changed []string), opts ...SubscribeOption) *Subscription {
	return e.subscribe(c, fields, cb, opts)
}

func (e *Engine) subscribe(c *Cell, fields []string, cb func(changed []string), opts []SubscribeOption) *Subscription {
	o := subOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Subscription{
		id:    e.nextID(),
		eng:   e,
		cb:    cb,
		mode:  o.mode,
		limit: o.limit,
	}
	if s.mode == FlushBatched {
		s.job = NewJob("subscription", func(params []any) {
			s.invoke(paramsToFields(params))
		})
	}

	for _, f := range fields {
		s.targets = append(s.targets, subTarget{cell: c, field: f})
		e.registry.add(c, f, s)
	}

	e.hooks.SubscriptionOpened()
	e.emit(EventSubscribe, func(ev *Event) {
		ev.Cell = c.ID()
		ev.Fields = fields
	})
	return s
}

// ID returns the unique identifier for this subscription.
func (s *Subscription) ID() uint64 { return s.id }

// Pause makes deliveries skip this subscription without removing it.
// The trigger counter does not advance while paused.
func (s *Subscription) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
}

// Resume re-enables deliveries. Counting resumes where it left off.
func (s *Subscription) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
}

// IsPaused reports whether the subscription is paused.
func (s *Subscription) IsPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// IsDisposed reports whether the subscription has been disposed.
func (s *Subscription) IsDisposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

// Dispose permanently removes the subscription from every field it is
// registered under and cancels any pending batched delivery. Safe to
// call more than once.
func (s *Subscription) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	targets := s.targets
	s.targets = nil
	s.mu.Unlock()

	for _, t := range targets {
		s.eng.registry.remove(t.cell.ID(), t.field, s)
	}
	if s.job != nil {
		s.eng.sched.RemoveFromAll(s.job)
	}
	s.eng.hooks.SubscriptionClosed()
	s.eng.emit(EventDispose, func(ev *Event) { ev.Detail = "subscription" })
}

// deliver routes one notification to the subscription: immediately for
// FlushSync, through the scheduler for FlushBatched.
func (s *Subscription) deliver(changed []string) {
	s.mu.Lock()
	if s.disposed || s.paused {
		s.mu.Unlock()
		return
	}
	mode := s.mode
	s.mu.Unlock()

	if mode == FlushBatched {
		s.eng.hooks.NotifyDelivered(false)
		s.eng.sched.Queue(LaneMain, s.job, fieldsToParams(changed), mergeFieldParams)
		return
	}
	s.eng.hooks.NotifyDelivered(true)
	s.invoke(changed)
}

// invoke runs the callback, counts the trigger, and auto-disposes when
// the limit is reached. Callback panics are recovered and logged; they
// never propagate into the notifying writer or the flush loop.
func (s *Subscription) invoke(changed []string) {
	s.mu.Lock()
	if s.disposed || s.paused {
		s.mu.Unlock()
		return
	}
	s.fired++
	fired := s.fired
	limit := s.limit
	s.mu.Unlock()

	func() {
		defer func() {
			if r := recover(); r != nil {
				s.eng.logger.Error("reagent: subscription callback panicked",
					"subscription", s.id, "err", panicError(r))
			}
		}()
		s.cb(changed)
	}()

	if limit > 0 && fired >= limit {
		s.eng.logger.Warn("reagent: subscription reached its trigger limit and was disposed",
			"subscription", s.id, "limit", limit)
		s.Dispose()
	}
}

func fieldsToParams(fields []string) []any {
	params := make([]any, len(fields))
	for i, f := range fields {
		params[i] = f
	}
	return params
}

func paramsToFields(params []any) []string {
	fields := make([]string, 0, len(params))
	for _, p := range params {
		if f, ok := p.(string); ok {
			fields = append(fields, f)
		}
	}
	return fields
}

// mergeFieldParams unions changed field names across coalesced batched
// deliveries, preserving first-seen order.
func mergeFieldParams(next, prev []any) []any {
	seen := make(map[any]struct{}, len(prev))
	out := make([]any, 0, len(prev)+len(next))
	for _, p := range prev {
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	for _, p := range next {
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

// =============================================================================
// Registry
// =============================================================================

// registry maps (cell, field) to the ordered list of interested
// subscriptions. Delivery snapshots the list before invoking anything,
// so callbacks may subscribe, dispose, and pause freely.
type registry struct {
	eng *Engine

	mu     sync.Mutex
	byCell map[uint64]map[string][]*Subscription
}

func newRegistry(e *Engine) *registry {
	return &registry{
		eng:    e,
		byCell: make(map[uint64]map[string][]*Subscription),
	}
}

func (r *registry) add(c *Cell, field string, s *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fields, ok := r.byCell[c.ID()]
	if !ok {
		fields = make(map[string][]*Subscription)
		r.byCell[c.ID()] = fields
	}
	fields[field] = append(fields[field], s)
}

func (r *registry) remove(cellID uint64, field string, s *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fields, ok := r.byCell[cellID]
	if !ok {
		return
	}
	subs := fields[field]
	for i, existing := range subs {
		if existing == s {
			fields[field] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(fields[field]) == 0 {
		delete(fields, field)
	}
	if len(fields) == 0 {
		delete(r.byCell, cellID)
	}
}

// delivery pairs a subscription with the fields that changed for it in
// one notification.
type delivery struct {
	sub     *Subscription
	changed []string
}

// collect snapshots the subscriptions interested in the given fields,
// deduplicated across fields: a subscription registered under several
// changed fields appears once, with all of its changed fields.
func (r *registry) collect(c *Cell, fields []string) []delivery {
	r.mu.Lock()
	defer r.mu.Unlock()

	byField, ok := r.byCell[c.ID()]
	if !ok {
		return nil
	}

	var out []delivery
	index := make(map[uint64]int)

	appendSubs := func(subs []*Subscription, field string) {
		for _, s := range subs {
			if i, ok := index[s.id]; ok {
				out[i].changed = appendUnique(out[i].changed, field)
				continue
			}
			index[s.id] = len(out)
			out = append(out, delivery{sub: s, changed: []string{field}})
		}
	}

	for _, f := range fields {
		appendSubs(byField[f], f)
		appendSubs(byField[fieldAny], f)
	}
	return out
}

func appendUnique(list []string, s string) []string {
	for _, existing := range list {
		if existing == s {
			return list
		}
	}
	return append(list, s)
}

// has reports whether any live subscription exists for the fields
// (or, with no fields, for any field of the cell).
func (r *registry) has(c *Cell, fields []string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	byField, ok := r.byCell[c.ID()]
	if !ok {
		return false
	}
	if len(fields) == 0 {
		return len(byField) > 0
	}
	for _, f := range fields {
		if len(byField[f]) > 0 || len(byField[fieldAny]) > 0 {
			return true
		}
	}
	return false
}

// =============================================================================
// Engine surface
// =============================================================================

// Notify delivers a change notification for one or more fields of a
// cell. Subscriptions registered under several of the changed fields
// are deduplicated and receive the full set of changed names. Cells
// call Notify from Set and Delete; hosts that mutate state outside the
// cell API call it directly.
//
// Callback errors never propagate out of Notify.
func (e *Engine) Notify(c *Cell, fields ...string) {
	if len(fields) == 0 {
		return
	}

	e.emit(EventNotify, func(ev *Event) {
		ev.Cell = c.ID()
		ev.Fields = fields
	})

	for _, d := range e.registry.collect(c, fields) {
		d.sub.deliver(d.changed)
	}
}

// HasSubscribers reports whether any subscription exists for the given
// fields of the cell, or for any field when none are given. It has no
// side effects.
func (e *Engine) HasSubscribers(c *Cell, fields ...string) bool {
	return e.registry.has(c, fields)
}

// Notify delivers a change notification on the default engine.
func Notify(c *Cell, fields ...string) {
	Default().Notify(c, fields...)
}
