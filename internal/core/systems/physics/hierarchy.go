package physics

// Hierarchy replaces a scene-graph parent/child tree: it records which
// RigidGroup each body belongs to and syncs the groups every fixed step.
// A nil group means the body is free in world space.
type Hierarchy struct {
	groups []*RigidGroup
	parent map[string]*RigidGroup
}

func NewHierarchy() *Hierarchy {
	return &Hierarchy{parent: make(map[string]*RigidGroup)}
}

// Parent returns the group the body currently belongs to, or nil.
func (h *Hierarchy) Parent(id string) *RigidGroup {
	return h.parent[id]
}

// Reparent moves b into g keeping its world pose. g may be nil.
func (h *Hierarchy) Reparent(b Body, g *RigidGroup) {
	h.detach(b.ID())
	if g == nil {
		return
	}
	h.track(g)
	g.JoinAt(b)
	h.parent[b.ID()] = g
}

// ReparentAt moves b into g at a fixed offset, snapping it there.
func (h *Hierarchy) ReparentAt(b Body, g *RigidGroup, offset Pose) {
	h.detach(b.ID())
	if g == nil {
		return
	}
	h.track(g)
	g.Join(b, offset)
	h.parent[b.ID()] = g
}

// Dissolve removes every member of g and stops syncing it.
func (h *Hierarchy) Dissolve(g *RigidGroup) {
	if g == nil {
		return
	}
	for _, id := range g.Members() {
		h.detach(id)
	}
	for i, tracked := range h.groups {
		if tracked == g {
			h.groups = append(h.groups[:i], h.groups[i+1:]...)
			break
		}
	}
}

// Groups returns the tracked groups in sync order.
func (h *Hierarchy) Groups() []*RigidGroup {
	return append([]*RigidGroup(nil), h.groups...)
}

// Sync writes member poses of every tracked group, in the order the groups
// were first used, so a group rooted on a member of an earlier group sees
// that member's fresh pose.
func (h *Hierarchy) Sync() {
	for _, g := range h.groups {
		g.Sync()
	}
}

func (h *Hierarchy) track(g *RigidGroup) {
	for _, tracked := range h.groups {
		if tracked == g {
			return
		}
	}
	h.groups = append(h.groups, g)
}

func (h *Hierarchy) detach(id string) {
	if g := h.parent[id]; g != nil {
		g.Leave(id)
		delete(h.parent, id)
	}
}
