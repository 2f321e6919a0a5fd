package physics

import "sort"

// RigidGroup is a set of bodies sharing one authoritative transform: the root
// frame. Each member keeps a fixed local offset from the root and is moved
// only by Sync. Membership changes are atomic; a body belongs to at most one
// group at a time, which callers enforce through Reparent-style helpers.
type RigidGroup struct {
	name    string
	root    Frame
	members map[string]*member
}

type member struct {
	body   Body
	offset Pose
}

func NewRigidGroup(name string, root Frame) *RigidGroup {
	return &RigidGroup{name: name, root: root, members: make(map[string]*member)}
}

func (g *RigidGroup) Name() string { return g.name }

func (g *RigidGroup) Root() Frame { return g.root }

// Join adds b at offset relative to the root and moves it there immediately.
func (g *RigidGroup) Join(b Body, offset Pose) {
	g.members[b.ID()] = &member{body: b, offset: offset}
	b.SetPose(g.root.Pose().Compose(offset))
}

// JoinAt adds b keeping its current world pose.
func (g *RigidGroup) JoinAt(b Body) {
	g.members[b.ID()] = &member{body: b, offset: b.Pose().RelativeTo(g.root.Pose())}
}

// Leave removes the body and returns the offset it had. The body keeps its
// current world pose.
func (g *RigidGroup) Leave(id string) (Pose, bool) {
	m, ok := g.members[id]
	if !ok {
		return Pose{}, false
	}
	delete(g.members, id)
	return m.offset, true
}

func (g *RigidGroup) Has(id string) bool {
	_, ok := g.members[id]
	return ok
}

// Offset returns the local offset of a member.
func (g *RigidGroup) Offset(id string) (Pose, bool) {
	m, ok := g.members[id]
	if !ok {
		return Pose{}, false
	}
	return m.offset, true
}

func (g *RigidGroup) Len() int { return len(g.members) }

// Members lists member IDs in a stable order.
func (g *RigidGroup) Members() []string {
	ids := make([]string, 0, len(g.members))
	for id := range g.members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Sync writes every member pose from the root and cancels their velocity.
func (g *RigidGroup) Sync() {
	root := g.root.Pose()
	for _, m := range g.members {
		m.body.SetPose(root.Compose(m.offset))
		Stop(m.body)
	}
}
