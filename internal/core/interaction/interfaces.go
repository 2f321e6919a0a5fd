// Package interaction holds the manipulable object shared by every protocol
// and the ports through which the external manipulation and trigger systems
// talk to the core.
package interaction

import (
	"github.com/zeusync/cabintrainer/internal/core/events/bus"
	"github.com/zeusync/cabintrainer/internal/core/observability/log"
	"github.com/zeusync/cabintrainer/internal/core/systems/physics"
	"github.com/zeusync/cabintrainer/internal/core/tags"
)

// Manipulator is the external manipulation (holding) system.
type Manipulator interface {
	// Holders returns the live selection set of the object.
	Holders(objectID string) []string
	// ForceRelease cancels every selection of the object. It is idempotent
	// and reports the resulting deselect edges through Object.OnSelectExited.
	ForceRelease(objectID string)
}

// Volume is a trigger collider volume owned by an entity.
type Volume interface {
	ID() string
	Tag() tags.Tag
	Enabled() bool
	SetEnabled(bool)
}

// Contact describes the other side of a trigger enter/exit event.
type Contact struct {
	Volume string
	Tag    tags.Tag

	// Owner is the entity owning the other volume (an endpoint, an anchor,
	// a zone); nil for plain tagged colliders.
	Owner any
}

// TriggerHandler receives enter/exit events for volumes it owns. Events are
// delivered one at a time on the simulation thread.
type TriggerHandler interface {
	OnTriggerEnter(Contact)
	OnTriggerExit(Contact)
}

// Env bundles the collaborators every entity is built with.
type Env struct {
	Manipulator Manipulator
	Hierarchy   *physics.Hierarchy
	Bus         bus.EventBus
	Log         log.Log
}

// Logger returns a child logger scoped to one entity.
func (e Env) Logger(component, id string) log.Log {
	l := e.Log
	if l == nil {
		l = log.Nop()
	}
	return l.With(log.Component(component), log.ID(id))
}

// HoldChange describes one select or deselect edge.
type HoldChange struct {
	Object  string
	Holder  string
	Entered bool
	Before  int
	After   int
}

// Side of the hand holding an object.
type Side uint8

const (
	SideUnknown Side = iota
	SideLeft
	SideRight
)

func (s Side) String() string {
	switch s {
	case SideLeft:
		return "left"
	case SideRight:
		return "right"
	default:
		return "unknown"
	}
}
