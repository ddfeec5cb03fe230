package reagent

import "sort"

// GraphSnapshot is a point-in-time view of the engine's reactive
// graph, intended for inspection tooling. Taking a snapshot does not
// register dependency edges.
type GraphSnapshot struct {
	// Cells lists every wrapped object cell known to the engine.
	Cells []CellInfo `json:"cells"`

	// Queues maps lane name to pending job count.
	Queues map[string]int `json:"queues"`

	// ContextTags lists the tags currently present in the ambient
	// context store. Values are not exposed.
	ContextTags []string `json:"context_tags"`
}

// CellInfo describes one cell in a GraphSnapshot.
type CellInfo struct {
	ID     uint64   `json:"id"`
	Path   []string `json:"path,omitempty"`
	Fields []string `json:"fields"`

	// Subscriptions maps field name to the number of live
	// subscriptions registered under it.
	Subscriptions map[string]int `json:"subscriptions,omitempty"`
}

// Snapshot captures the engine's current graph: wrapped cells, their
// fields and subscription counts, queue depths, and context tags.
func (e *Engine) Snapshot() GraphSnapshot {
	e.wrapMu.Lock()
	cells := make([]*Cell, 0, len(e.wrapped))
	for _, c := range e.wrapped {
		cells = append(cells, c)
	}
	e.wrapMu.Unlock()
	sort.Slice(cells, func(i, j int) bool { return cells[i].ID() < cells[j].ID() })

	snap := GraphSnapshot{
		Queues: map[string]int{
			LanePre.String():  e.sched.Pending(LanePre),
			LaneMain.String(): e.sched.Pending(LaneMain),
			LanePost.String(): e.sched.Pending(LanePost),
		},
		ContextTags: e.store.Tags(),
	}

	for _, c := range cells {
		info := CellInfo{
			ID:     c.ID(),
			Path:   c.Path(),
			Fields: c.FieldNames(),
		}
		if subs := e.registry.countByField(c.ID()); len(subs) > 0 {
			info.Subscriptions = subs
		}
		snap.Cells = append(snap.Cells, info)
	}
	return snap
}

// countByField returns the number of live subscriptions per field of a
// cell. The wildcard entry is reported under "*".
func (r *registry) countByField(cellID uint64) map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	byField, ok := r.byCell[cellID]
	if !ok {
		return nil
	}
	out := make(map[string]int, len(byField))
	for f, subs := range byField {
		if len(subs) == 0 {
			continue
		}
		name := f
		if f == fieldAny {
			name = "*"
		}
		out[name] = len(subs)
	}
	return out
}
