package reagent

import (
	"reflect"
	"sort"
	"sync"
)

// ValueField is the field name under which scalar (non-object) values
// are stored when wrapped in a cell.
const ValueField = "value"

// Cell is a tracked unit of mutable state. A cell owns its data and
// exposes field-level accessors; reads register dependency edges with
// the active collection frame, writes notify subscribers when the
// value actually changed.
//
// Nested objects are not wrapped eagerly: the first Get of a field
// holding a map wraps it into a child cell and caches the wrapper in
// place of the raw value.
type Cell struct {
	eng  *Engine
	id   uint64
	path []string

	mu     sync.RWMutex
	fields map[string]any
}

// Wrap turns a value into a trackable cell.
//
// Wrapping is idempotent for cells and objects: passing an existing
// *Cell returns it unchanged, and wrapping the same map twice returns
// the same wrapper. Scalar values get a fresh single-field cell each
// time (their value carries no identity to deduplicate on); read and
// write them through Value and SetValue.
//
// The cell owns a copy of the object's entries. Mutations made to the
// original map after wrapping are not observed; mutate through the
// cell, or call Notify after batch-mutating out of band.
func (e *Engine) Wrap(value any) *Cell {
	switch v := value.(type) {
	case *Cell:
		return v
	case map[string]any:
		return e.wrapObject(v, nil)
	default:
		c := e.newCell(nil)
		c.fields[ValueField] = value
		return c
	}
}

// Wrap turns a value into a trackable cell on the default engine.
func Wrap(value any) *Cell {
	return Default().Wrap(value)
}

func (e *Engine) newCell(path []string) *Cell {
	c := &Cell{
		eng:    e,
		id:     e.nextID(),
		path:   path,
		fields: make(map[string]any),
	}
	e.hooks.CellWrapped()
	e.emit(EventWrap, func(ev *Event) { ev.Cell = c.id })
	return c
}

// wrapObject wraps a map, reusing an existing wrapper if this exact
// map was wrapped before. The first wrap fixes the cell's path.
func (e *Engine) wrapObject(m map[string]any, path []string) *Cell {
	key := reflect.ValueOf(m).Pointer()

	e.wrapMu.Lock()
	if c, ok := e.wrapped[key]; ok {
		e.wrapMu.Unlock()
		return c
	}
	e.wrapMu.Unlock()

	// Build outside the lock; registration below rechecks.
	c := e.newCell(path)
	for k, v := range m {
		c.fields[k] = v
	}

	e.wrapMu.Lock()
	if existing, ok := e.wrapped[key]; ok {
		e.wrapMu.Unlock()
		return existing
	}
	e.wrapped[key] = c
	e.wrapMu.Unlock()
	return c
}

// lookupWrapped returns the cell a map was wrapped into, or nil.
func (e *Engine) lookupWrapped(value any) *Cell {
	m, ok := value.(map[string]any)
	if !ok {
		return nil
	}
	key := reflect.ValueOf(m).Pointer()
	e.wrapMu.Lock()
	defer e.wrapMu.Unlock()
	return e.wrapped[key]
}

// ID returns the unique identifier for this cell.
func (c *Cell) ID() uint64 { return c.id }

// Path returns the structural path of this cell from its root cell.
// Root cells have a nil path.
func (c *Cell) Path() []string {
	out := make([]string, len(c.path))
	copy(out, c.path)
	return out
}

// Get reads a field, registering a dependency edge with the active
// collection frame (if any). If the field holds a not-yet-wrapped
// object, it is wrapped lazily and the wrapper is cached in place of
// the raw value, so Get returns a *Cell for nested objects.
func (c *Cell) Get(field string) any {
	c.mu.Lock()
	v := c.fields[field]
	if m, ok := v.(map[string]any); ok {
		child := c.eng.wrapObject(m, append(c.Path(), field))
		c.fields[field] = child
		v = child
	}
	c.mu.Unlock()

	c.eng.collector.track(c, field)
	return v
}

// Peek reads a field without registering a dependency edge and
// without wrapping nested objects.
func (c *Cell) Peek(field string) any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fields[field]
}

// Value reads a scalar cell's value. Equivalent to Get(ValueField).
func (c *Cell) Value() any { return c.Get(ValueField) }

// SetValue writes a scalar cell's value. Equivalent to
// Set(ValueField, value).
func (c *Cell) SetValue(value any) { c.Set(ValueField, value) }

// Set writes a field. Writing a value equal to the current one is a
// no-op; otherwise the value is stored and subscribers of the field
// are notified.
func (c *Cell) Set(field string, value any) {
	c.mu.Lock()
	old := c.fields[field]

	equal := valuesEqual(old, value)
	if !equal {
		// Writing the raw object a wrapped child was created from is
		// a rewrite of the same value, not a change.
		if oc, ok := old.(*Cell); ok && c.eng.lookupWrapped(value) == oc {
			equal = true
		}
	}
	if equal {
		c.mu.Unlock()
		return
	}

	c.fields[field] = value
	c.mu.Unlock()

	c.eng.Notify(c, field)
}

// Delete removes a field and notifies its subscribers. If the removed
// value was itself a cell, every nested field path under it is
// notified as well, so subscribers watching nested paths observe the
// removal rather than being silently orphaned.
//
// Deleting an absent field is a no-op. Returns whether a field was
// removed.
func (c *Cell) Delete(field string) bool {
	c.mu.Lock()
	old, existed := c.fields[field]
	if !existed {
		c.mu.Unlock()
		return false
	}
	delete(c.fields, field)
	c.mu.Unlock()

	c.eng.Notify(c, field)
	if child, ok := old.(*Cell); ok {
		child.notifyAllFields()
	}
	return true
}

// notifyAllFields notifies every field of this cell and, recursively,
// of every wrapped child cell. Used when a subtree is detached.
func (c *Cell) notifyAllFields() {
	c.mu.RLock()
	fields := make([]string, 0, len(c.fields))
	children := make([]*Cell, 0)
	for k, v := range c.fields {
		fields = append(fields, k)
		if child, ok := v.(*Cell); ok {
			children = append(children, child)
		}
	}
	c.mu.RUnlock()

	sort.Strings(fields)
	for _, f := range fields {
		c.eng.Notify(c, f)
	}
	for _, child := range children {
		child.notifyAllFields()
	}
}

// FieldNames returns the cell's field names in sorted order.
func (c *Cell) FieldNames() []string {
	c.mu.RLock()
	names := make([]string, 0, len(c.fields))
	for k := range c.fields {
		names = append(names, k)
	}
	c.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Snapshot returns a deep copy of the cell's current data with nested
// cells rendered back into plain maps. Reads do not register edges.
func (c *Cell) Snapshot() map[string]any {
	c.mu.RLock()
	out := make(map[string]any, len(c.fields))
	for k, v := range c.fields {
		if child, ok := v.(*Cell); ok {
			out[k] = child.Snapshot()
		} else {
			out[k] = v
		}
	}
	c.mu.RUnlock()
	return out
}
