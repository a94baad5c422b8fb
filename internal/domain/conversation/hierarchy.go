package conversation

import "sort"

// activityBucketSecs groups last-activity timestamps into coarse buckets for
// root ordering. Updates landing seconds apart stay in the same bucket, so the
// visible order does not churn as independent events trickle in.
const activityBucketSecs = 60

// ActivityBucket maps a Unix timestamp to its root-ordering bucket.
func ActivityBucket(ts int64) int64 {
	return ts / activityBucketSecs
}

// Hierarchy is a derived view over one snapshot of conversations: a
// parent-to-children index, a per-conversation "this or any descendant is
// active" flag, and a stable root ordering. It is immutable once built;
// structural changes rebuild a new Hierarchy and swap the pointer, so readers
// never observe a partially updated state.
type Hierarchy struct {
	byID     map[string]Conversation
	children map[string][]string
	active   map[string]bool
	roots    []string
}

// BuildHierarchy derives a Hierarchy from a flat snapshot of conversations.
// It never fails: duplicate ids resolve last-wins, a conversation whose parent
// is missing from the snapshot is promoted to root, and parent cycles resolve
// to inactive instead of recursing forever.
func BuildHierarchy(records []Conversation) *Hierarchy {
	h := &Hierarchy{
		byID:     make(map[string]Conversation, len(records)),
		children: make(map[string][]string),
		active:   make(map[string]bool, len(records)),
	}

	order := make([]string, 0, len(records))
	for _, rec := range records {
		if _, seen := h.byID[rec.ID]; !seen {
			order = append(order, rec.ID)
		}
		h.byID[rec.ID] = rec
	}

	for _, id := range order {
		rec := h.byID[id]
		if rec.ParentID == nil {
			h.roots = append(h.roots, id)
			continue
		}
		if _, ok := h.byID[*rec.ParentID]; !ok {
			// Dangling parent reference: promote to root rather than drop.
			h.roots = append(h.roots, id)
			continue
		}
		h.children[*rec.ParentID] = append(h.children[*rec.ParentID], id)
	}

	visiting := make(map[string]bool)
	for _, id := range order {
		h.computeActive(id, visiting)
	}

	h.sortRoots()
	return h
}

// computeActive memoizes whether id or any transitive descendant is active.
// The visiting set breaks parent cycles: a node already on the traversal stack
// answers false rather than recursing. Each memoized result is written once
// and never overwritten within a build.
func (h *Hierarchy) computeActive(id string, visiting map[string]bool) bool {
	if v, ok := h.active[id]; ok {
		return v
	}
	if visiting[id] {
		return false
	}
	visiting[id] = true

	result := h.byID[id].Active
	if !result {
		for _, child := range h.children[id] {
			if h.computeActive(child, visiting) {
				result = true
				break
			}
		}
	}

	delete(visiting, id)
	if _, ok := h.active[id]; !ok {
		h.active[id] = result
	}
	return h.active[id]
}

// sortRoots orders roots active-first, then by activity bucket descending,
// then by id for a deterministic total order.
func (h *Hierarchy) sortRoots() {
	sort.Slice(h.roots, func(i, j int) bool {
		a := h.byID[h.roots[i]]
		b := h.byID[h.roots[j]]

		aActive := h.active[a.ID]
		bActive := h.active[b.ID]
		if aActive != bActive {
			return aActive
		}

		aBucket := ActivityBucket(a.LastActivity)
		bBucket := ActivityBucket(b.LastActivity)
		if aBucket != bBucket {
			return aBucket > bBucket
		}

		return a.ID < b.ID
	})
}

// Get returns the conversation for id, if present in the snapshot.
func (h *Hierarchy) Get(id string) (Conversation, bool) {
	rec, ok := h.byID[id]
	return rec, ok
}

// Len returns the number of conversations in the snapshot.
func (h *Hierarchy) Len() int {
	return len(h.byID)
}

// Roots returns the root conversations in display order.
func (h *Hierarchy) Roots() []Conversation {
	out := make([]Conversation, 0, len(h.roots))
	for _, id := range h.roots {
		out = append(out, h.byID[id])
	}
	return out
}

// Children returns the direct children of id in input order.
func (h *Hierarchy) Children(id string) []Conversation {
	ids := h.children[id]
	out := make([]Conversation, 0, len(ids))
	for _, child := range ids {
		out = append(out, h.byID[child])
	}
	return out
}

// Active reports whether id or any of its transitive descendants is active.
// Unknown ids are inactive.
func (h *Hierarchy) Active(id string) bool {
	return h.active[id]
}

// AnyActive reports whether any conversation in the snapshot is active.
func (h *Hierarchy) AnyActive() bool {
	for _, v := range h.active {
		if v {
			return true
		}
	}
	return false
}

// Walk visits the snapshot depth-first in root order, children in input
// order. Depth is 0 for roots. Nodes reachable through a cycle are visited at
// most once.
func (h *Hierarchy) Walk(fn func(rec Conversation, depth int)) {
	seen := make(map[string]bool, len(h.byID))
	var visit func(id string, depth int)
	visit = func(id string, depth int) {
		if seen[id] {
			return
		}
		seen[id] = true
		fn(h.byID[id], depth)
		for _, child := range h.children[id] {
			visit(child, depth+1)
		}
	}
	for _, id := range h.roots {
		visit(id, 0)
	}
}
