package sim

import (
	"sort"

	"github.com/zeusync/cabintrainer/internal/core/interaction"
	"github.com/zeusync/cabintrainer/internal/core/systems"
	"github.com/zeusync/cabintrainer/internal/core/systems/physics"
)

var _ interaction.Manipulator = (*Hands)(nil)

// Selectable is what the hands can grab.
type Selectable interface {
	ID() string
	Body() physics.Body
	OnSelectEntered(holder string) bool
	OnSelectExited(holder string) bool
}

// Hands is a manipulation system driven by scripted or test input. Each hand
// holds at most one object and drags it toward its target pose every fixed
// step.
type Hands struct {
	objects map[string]Selectable
	grips   map[string]*grip // hand -> grip
}

type grip struct {
	object string
	target physics.Pose
}

func NewHands() *Hands {
	return &Hands{objects: make(map[string]Selectable), grips: make(map[string]*grip)}
}

func (h *Hands) Register(s Selectable) { h.objects[s.ID()] = s }

// Grab selects object with hand. It fails when the hand is busy, the object is
// unknown or the object refuses the grab.
func (h *Hands) Grab(hand, object string) bool {
	if _, busy := h.grips[hand]; busy {
		return false
	}
	s, ok := h.objects[object]
	if !ok {
		return false
	}
	if !s.OnSelectEntered(hand) {
		return false
	}
	h.grips[hand] = &grip{object: object, target: s.Body().Pose()}
	return true
}

// Release deselects whatever hand holds.
func (h *Hands) Release(hand string) bool {
	g, ok := h.grips[hand]
	if !ok {
		return false
	}
	delete(h.grips, hand)
	h.objects[g.object].OnSelectExited(hand)
	return true
}

// Move sets the target position of the object held by hand.
func (h *Hands) Move(hand string, to physics.Vec3) bool {
	g, ok := h.grips[hand]
	if !ok {
		return false
	}
	g.target.Position = to
	return true
}

// MoveTo sets the full target pose of the object held by hand.
func (h *Hands) MoveTo(hand string, to physics.Pose) bool {
	g, ok := h.grips[hand]
	if !ok {
		return false
	}
	g.target = to.Normalized()
	return true
}

func (h *Hands) Holding(hand string) (string, bool) {
	g, ok := h.grips[hand]
	if !ok {
		return "", false
	}
	return g.object, true
}

// HoldsBody reports whether any hand holds the object owning body id.
func (h *Hands) HoldsBody(id string) bool {
	for _, g := range h.grips {
		if h.objects[g.object].Body().ID() == id {
			return true
		}
	}
	return false
}

func (h *Hands) Holders(object string) []string {
	var out []string
	for hand, g := range h.grips {
		if g.object == object {
			out = append(out, hand)
		}
	}
	sort.Strings(out)
	return out
}

func (h *Hands) ForceRelease(object string) {
	for _, hand := range h.Holders(object) {
		delete(h.grips, hand)
		if s, ok := h.objects[object]; ok {
			s.OnSelectExited(hand)
		}
	}
}

func (h *Hands) Name() string               { return "sim.hands" }
func (h *Hands) Priority() systems.Priority { return systems.PriorityHighest + 50 }

// FixedUpdate places held bodies at their hand targets. With two hands on one
// object the target is their average position.
func (h *Hands) FixedUpdate(float64) error {
	hands := make([]string, 0, len(h.grips))
	for hand := range h.grips {
		hands = append(hands, hand)
	}
	sort.Strings(hands)

	type acc struct {
		sum physics.Vec3
		n   int
		rot physics.Quat
	}
	targets := make(map[string]*acc)
	var order []string
	for _, hand := range hands {
		g := h.grips[hand]
		a, ok := targets[g.object]
		if !ok {
			a = &acc{rot: g.target.Rotation}
			targets[g.object] = a
			order = append(order, g.object)
		}
		a.sum = a.sum.Add(g.target.Position)
		a.n++
	}
	for _, id := range order {
		a := targets[id]
		body := h.objects[id].Body()
		if body.IsKinematic() {
			continue
		}
		body.SetPose(physics.Pose{Position: a.sum.Scale(1 / float64(a.n)), Rotation: a.rot})
		physics.Stop(body)
	}
	return nil
}
