package interaction

import (
	"strings"

	"github.com/zeusync/cabintrainer/internal/core/events"
	"github.com/zeusync/cabintrainer/internal/core/observability/log"
	"github.com/zeusync/cabintrainer/internal/core/systems/physics"
)

// ObjectConfig is the authoring-time description of a manipulable object.
type ObjectConfig struct {
	ID string

	// MaxHolders bounds simultaneous holders: 1 for exclusive objects,
	// 2 for objects held with both hands. Zero means 1.
	MaxHolders int

	// AttachPoints are per-hand grip offsets relative to the body.
	AttachPoints map[Side]physics.Pose
}

// Object wraps a physical body that zero, one or two external manipulators
// can hold. The holder list mirrors the manipulation system's live selection
// set; protocols force-release before they take the body over.
type Object struct {
	id          string
	body        physics.Body
	env         Env
	log         log.Log
	maxHolders  int
	holders     []string
	manipulable bool
	attach      map[Side]physics.Pose

	listeners []holdListener
	nextID    int
}

type holdListener struct {
	id int
	fn func(HoldChange)
}

func NewObject(cfg ObjectConfig, body physics.Body, env Env) *Object {
	maxHolders := cfg.MaxHolders
	if maxHolders <= 0 {
		maxHolders = 1
	}
	return &Object{
		id:          cfg.ID,
		body:        body,
		env:         env,
		log:         env.Logger("object", cfg.ID),
		maxHolders:  maxHolders,
		manipulable: true,
		attach:      cfg.AttachPoints,
	}
}

func (o *Object) ID() string          { return o.id }
func (o *Object) Body() physics.Body  { return o.body }
func (o *Object) MaxHolders() int     { return o.maxHolders }
func (o *Object) HolderCount() int    { return len(o.holders) }
func (o *Object) IsHeld() bool        { return len(o.holders) > 0 }
func (o *Object) IsManipulable() bool { return o.manipulable }
func (o *Object) Exclusive() bool     { return o.maxHolders == 1 }

// Holders returns a copy of the current holder list in grab order.
func (o *Object) Holders() []string {
	return append([]string(nil), o.holders...)
}

// OnSelectEntered records a select edge from the manipulation system.
// It returns false when the grab is refused: the object is not manipulable,
// already held by holder, or full.
func (o *Object) OnSelectEntered(holder string) bool {
	if !o.manipulable {
		o.log.Debug("grab refused, not manipulable", log.String("holder", holder))
		return false
	}
	if o.heldBy(holder) || len(o.holders) >= o.maxHolders {
		return false
	}
	before := len(o.holders)
	o.holders = append(o.holders, holder)
	o.emit(HoldChange{Object: o.id, Holder: holder, Entered: true, Before: before, After: len(o.holders)})
	return true
}

// OnSelectExited records a deselect edge. Unknown holders are ignored.
func (o *Object) OnSelectExited(holder string) bool {
	idx := -1
	for i, h := range o.holders {
		if h == holder {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	before := len(o.holders)
	o.holders = append(o.holders[:idx], o.holders[idx+1:]...)
	o.emit(HoldChange{Object: o.id, Holder: holder, Entered: false, Before: before, After: len(o.holders)})
	return true
}

// ForceRelease drops every holder. It always succeeds and is a no-op on an
// object nobody holds.
func (o *Object) ForceRelease() {
	if o.env.Manipulator != nil {
		o.env.Manipulator.ForceRelease(o.id)
	}
	for len(o.holders) > 0 {
		o.OnSelectExited(o.holders[len(o.holders)-1])
	}
}

// Reconcile aligns the holder list with the manipulation system's live
// selection set, emitting the missing edges.
func (o *Object) Reconcile() {
	if o.env.Manipulator == nil {
		return
	}
	live := o.env.Manipulator.Holders(o.id)
	for _, h := range o.Holders() {
		if !contains(live, h) {
			o.OnSelectExited(h)
		}
	}
	for _, h := range live {
		if !o.heldBy(h) && !o.OnSelectEntered(h) {
			// the manipulation system holds something the core refuses
			o.env.Manipulator.ForceRelease(o.id)
		}
	}
}

// SetManipulable toggles whether the object can be grabbed. Disabling
// force-releases current holders first.
func (o *Object) SetManipulable(on bool) {
	if !on {
		o.ForceRelease()
	}
	o.manipulable = on
}

// OnHoldChanged subscribes fn to select/deselect edges. The returned cancel
// func unsubscribes; calling it more than once is safe.
func (o *Object) OnHoldChanged(fn func(HoldChange)) (cancel func()) {
	o.nextID++
	id := o.nextID
	o.listeners = append(o.listeners, holdListener{id: id, fn: fn})
	return func() {
		for i, l := range o.listeners {
			if l.id == id {
				o.listeners = append(o.listeners[:i], o.listeners[i+1:]...)
				return
			}
		}
	}
}

// ListenerCount is the number of live hold subscriptions.
func (o *Object) ListenerCount() int { return len(o.listeners) }

// Parent returns the rigid group the body currently belongs to.
func (o *Object) Parent() *physics.RigidGroup {
	if o.env.Hierarchy == nil {
		return nil
	}
	return o.env.Hierarchy.Parent(o.body.ID())
}

// Reparent moves the body into g keeping its world pose; nil frees it.
func (o *Object) Reparent(g *physics.RigidGroup) {
	if o.env.Hierarchy != nil {
		o.env.Hierarchy.Reparent(o.body, g)
	}
}

// ReparentAt moves the body into g at a fixed local offset.
func (o *Object) ReparentAt(g *physics.RigidGroup, offset physics.Pose) {
	if o.env.Hierarchy != nil {
		o.env.Hierarchy.ReparentAt(o.body, g, offset)
	}
}

// AttachPointFor picks the grip offset matching the holder's hand side.
func (o *Object) AttachPointFor(holder string) (physics.Pose, bool) {
	p, ok := o.attach[SideOf(holder)]
	return p, ok
}

// SideOf infers the hand side from the holder name.
func SideOf(holder string) Side {
	h := strings.ToLower(holder)
	switch {
	case strings.Contains(h, "left"):
		return SideLeft
	case strings.Contains(h, "right"):
		return SideRight
	default:
		return SideUnknown
	}
}

func (o *Object) heldBy(holder string) bool { return contains(o.holders, holder) }

func (o *Object) emit(c HoldChange) {
	kind := events.ObjectReleased
	if c.Entered {
		kind = events.ObjectGrabbed
	}
	o.log.Debug(kind, log.String("holder", c.Holder), log.Int("holders", c.After))
	// listeners may cancel themselves while we iterate
	for _, l := range append([]holdListener(nil), o.listeners...) {
		l.fn(c)
	}
	if err := events.Publish(o.env.Bus, kind, o.id, events.Hold{Object: o.id, Holder: c.Holder, Holders: c.After}); err != nil {
		o.log.Warn("hold notification handler failed", log.Error(err))
	}
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
