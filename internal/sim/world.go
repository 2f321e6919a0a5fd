package sim

import (
	"errors"
	"fmt"

	"github.com/zeusync/cabintrainer/internal/core/systems"
	"github.com/zeusync/cabintrainer/internal/core/systems/physics"
)

var ErrDuplicate = errors.New("sim: duplicate id")

// World owns the bodies, hands and trigger volumes of one headless scene.
type World struct {
	gravity   physics.Vec3
	bodies    []*Body
	byID      map[string]*Body
	hands     *Hands
	triggers  *Triggers
	hierarchy *physics.Hierarchy
}

func NewWorld(gravity physics.Vec3, h *physics.Hierarchy) *World {
	if h == nil {
		h = physics.NewHierarchy()
	}
	return &World{
		gravity:   gravity,
		byID:      make(map[string]*Body),
		hands:     NewHands(),
		triggers:  NewTriggers(),
		hierarchy: h,
	}
}

func (w *World) Hands() *Hands                 { return w.hands }
func (w *World) Triggers() *Triggers           { return w.triggers }
func (w *World) Hierarchy() *physics.Hierarchy { return w.hierarchy }
func (w *World) Gravity() physics.Vec3         { return w.gravity }

func (w *World) AddBody(id string, pose physics.Pose, mass float64) (*Body, error) {
	if _, dup := w.byID[id]; dup {
		return nil, fmt.Errorf("%w: body %s", ErrDuplicate, id)
	}
	b := NewBody(id, pose, mass)
	w.bodies = append(w.bodies, b)
	w.byID[id] = b
	return b, nil
}

func (w *World) Body(id string) (*Body, bool) {
	b, ok := w.byID[id]
	return b, ok
}

// Systems returns the world's fixed-step systems. Per step the hands move
// held bodies, free bodies integrate, rigid groups sync and, after every
// constraint at lower priority has run, triggers are detected.
func (w *World) Systems() []systems.System {
	return []systems.System{
		w.hands,
		&systems.Func{ID: "sim.integrate", Order: systems.PriorityHighest, OnFixed: w.integrate},
		&systems.Func{ID: "physics.hierarchy", Order: systems.PriorityHigh, OnFixed: func(float64) error {
			w.hierarchy.Sync()
			return nil
		}},
		w.triggers,
	}
}

func (w *World) integrate(dt float64) error {
	for _, b := range w.bodies {
		if w.hands.HoldsBody(b.id) {
			b.force = physics.Vec3{}
			continue
		}
		b.Integrate(dt, w.gravity)
	}
	return nil
}
