// Package connector implements the connector pair protocol: two compatible,
// independently held endpoints that snap into one rigid union when their
// trigger volumes meet.
package connector

import (
	"errors"
	"fmt"

	"github.com/zeusync/cabintrainer/internal/core/events"
	"github.com/zeusync/cabintrainer/internal/core/interaction"
	"github.com/zeusync/cabintrainer/internal/core/observability/log"
	"github.com/zeusync/cabintrainer/internal/core/systems/physics"
	"github.com/zeusync/cabintrainer/internal/core/tags"
)

var (
	ErrMissingID        = errors.New("connector: id not set")
	ErrMissingTag       = errors.New("connector: tag not set")
	ErrMissingSnapFrame = errors.New("connector: snap frame not set")
	ErrMissingObject    = errors.New("connector: manipulable object not set")
	ErrMissingTrigger   = errors.New("connector: trigger volume not set")
)

type State uint8

const (
	Free State = iota
	Connected
)

func (s State) String() string {
	if s == Connected {
		return "connected"
	}
	return "free"
}

// Config is the authoring-time description of an endpoint.
type Config struct {
	ID  string   `yaml:"id" json:"id"`
	Tag tags.Tag `yaml:"tag" json:"tag"`

	// CompatibleTag is the tag a partner must carry; defaults to Tag.
	CompatibleTag tags.Tag `yaml:"compatible_tag,omitempty" json:"compatible_tag,omitempty"`

	// SnapFrame is where the partner lands, local to this endpoint's body.
	SnapFrame *physics.Pose `yaml:"snap_frame,omitempty" json:"snap_frame,omitempty"`

	// AllowUnheld lifts the hold precondition. Both endpoints must opt out;
	// otherwise a connect needs each side held by exactly one holder.
	AllowUnheld bool `yaml:"allow_unheld,omitempty" json:"allow_unheld,omitempty"`
}

// Validate reports every missing field at once.
func (c Config) Validate() error {
	var errs []error
	if c.ID == "" {
		errs = append(errs, ErrMissingID)
	}
	if c.Tag.IsZero() {
		errs = append(errs, ErrMissingTag)
	}
	if c.SnapFrame == nil {
		errs = append(errs, ErrMissingSnapFrame)
	}
	return errors.Join(errs...)
}

func (c Config) compatible() tags.Tag {
	if c.CompatibleTag.IsZero() {
		return c.Tag
	}
	return c.CompatibleTag
}

// Endpoint is one side of a connector pair. An endpoint built from an invalid
// configuration is degraded: it reports ConfigErr and never connects.
type Endpoint struct {
	cfg       Config
	obj       *interaction.Object
	vol       interaction.Volume
	env       interaction.Env
	log       log.Log
	configErr error

	state       State
	partner     *Endpoint
	interactive bool
	union       *physics.RigidGroup
	saved       restorePoint
	home        physics.Frame
}

// restorePoint is what Disconnect puts back. offset is relative to parent
// when set, to home otherwise; world is used only when neither exists.
type restorePoint struct {
	parent    *physics.RigidGroup
	offset    physics.Pose
	world     physics.Pose
	kinematic bool
}

func NewEndpoint(cfg Config, obj *interaction.Object, vol interaction.Volume, env interaction.Env) *Endpoint {
	e := &Endpoint{
		cfg:         cfg,
		obj:         obj,
		vol:         vol,
		env:         env,
		log:         env.Logger("connector", cfg.ID),
		interactive: true,
	}
	err := cfg.Validate()
	if obj == nil {
		err = errors.Join(err, ErrMissingObject)
	}
	if vol == nil {
		err = errors.Join(err, ErrMissingTrigger)
	}
	if err != nil {
		e.configErr = fmt.Errorf("endpoint %q: %w", cfg.ID, err)
		e.log.Error("endpoint misconfigured, it will never connect", log.Error(err))
		return e
	}
	if cfg.SnapFrame != nil {
		snap := cfg.SnapFrame.Normalized()
		e.cfg.SnapFrame = &snap
	}
	return e
}

func (e *Endpoint) ID() string                  { return e.cfg.ID }
func (e *Endpoint) Tag() tags.Tag               { return e.cfg.Tag }
func (e *Endpoint) State() State                { return e.state }
func (e *Endpoint) IsConnected() bool           { return e.state == Connected }
func (e *Endpoint) Partner() *Endpoint          { return e.partner }
func (e *Endpoint) Object() *interaction.Object { return e.obj }
func (e *Endpoint) ConfigErr() error            { return e.configErr }

// SetHome sets the frame an ungrouped endpoint travels with, typically the
// assembly it is sewn onto. A union rooted on this endpoint follows home, and
// Disconnect restores the endpoint relative to it.
func (e *Endpoint) SetHome(f physics.Frame) { e.home = f }

// IsInteractive reports whether the endpoint accepts grabs and detection.
func (e *Endpoint) IsInteractive() bool { return e.interactive }

// Accepts reports whether other's tag is the one this endpoint connects to.
func (e *Endpoint) Accepts(other *Endpoint) bool {
	return e.cfg.compatible().Matches(other.cfg.Tag)
}

// SetInteractive enables or disables grabbing and proximity detection. It only
// applies while the endpoint is Free; a connected endpoint stays locked.
func (e *Endpoint) SetInteractive(on bool) {
	if e.configErr != nil || e.state != Free {
		return
	}
	e.interactive = on
	e.vol.SetEnabled(on)
	e.obj.SetManipulable(on)
}

// ResetState disconnects the endpoint if needed and makes it interactive.
func (e *Endpoint) ResetState() {
	if e.configErr != nil {
		return
	}
	if e.state == Connected {
		e.Disconnect()
	}
	e.SetInteractive(true)
	e.log.Debug("grab state reset")
}

// OnTriggerEnter tries to connect with the endpoint owning the other volume.
func (e *Endpoint) OnTriggerEnter(c interaction.Contact) {
	other, ok := c.Owner.(*Endpoint)
	if !ok {
		return
	}
	TryConnect(e, other)
}

func (e *Endpoint) OnTriggerExit(interaction.Contact) {}

// TryConnect is TryConnect(e, other).
func (e *Endpoint) TryConnect(other *Endpoint) bool { return TryConnect(e, other) }

// TryConnect joins a and b into one rigid union. Either side may initiate with
// the same outcome. It returns false and changes nothing when a precondition
// is unmet.
func TryConnect(a, b *Endpoint) bool {
	if a == nil || b == nil || a == b {
		return false
	}
	if reason := connectBlocked(a, b); reason != "" {
		a.log.Debug("connect skipped", log.String("partner", b.ID()), log.String("reason", reason))
		return false
	}

	// Lock both sides before touching bodies so no trigger or grab re-enters.
	for _, e := range []*Endpoint{a, b} {
		e.vol.SetEnabled(false)
		e.obj.SetManipulable(false)
		e.saved = e.capture()
	}

	poseA, poseB := a.body().Pose(), b.body().Pose()
	mid := physics.Midpoint(poseA.Position, poseB.Position)
	midA := physics.Pose{Position: mid, Rotation: poseA.Rotation}
	midB := physics.Pose{Position: mid, Rotation: poseB.Rotation}
	targetA := midB.Compose(*b.cfg.SnapFrame)
	targetB := midA.Compose(*a.cfg.SnapFrame)

	root, other := a, b
	rootTarget, otherTarget := targetA, targetB
	if b.ID() < a.ID() {
		root, other = b, a
		rootTarget, otherTarget = targetB, targetA
	}
	union := physics.NewRigidGroup("union:"+root.ID()+"+"+other.ID(), root.unionFrame(rootTarget))
	for _, e := range []*Endpoint{root, other} {
		e.body().SetKinematic(true)
		physics.Stop(e.body())
	}
	root.body().SetPose(rootTarget)
	other.body().SetPose(otherTarget)
	root.obj.ReparentAt(union, physics.Pose{Rotation: physics.Identity()})
	other.obj.ReparentAt(union, otherTarget.RelativeTo(rootTarget))

	a.state, b.state = Connected, Connected
	a.partner, b.partner = b, a
	a.union, b.union = union, union
	a.interactive, b.interactive = false, false

	a.log.Info("connected", log.String("partner", b.ID()))
	a.publish(events.Connected)
	b.publish(events.Connected)
	return true
}

func connectBlocked(a, b *Endpoint) string {
	switch {
	case a.configErr != nil || b.configErr != nil:
		return "misconfigured"
	case a.state != Free || b.state != Free:
		return "already connected"
	case !a.interactive || !b.interactive:
		return "not interactive"
	case !a.Accepts(b) || !b.Accepts(a):
		return "incompatible tags"
	case a.cfg.AllowUnheld && b.cfg.AllowUnheld:
		return ""
	case !a.obj.IsHeld() || !b.obj.IsHeld():
		return "not held"
	case !heldExclusively(a.obj) || !heldExclusively(b.obj):
		return "not exclusively held"
	}
	return ""
}

func heldExclusively(o *interaction.Object) bool {
	return o.Exclusive() && o.HolderCount() == 1
}

// Disconnect splits the union and puts both endpoints back where they were
// before connecting. It is a no-op on a Free endpoint.
func (e *Endpoint) Disconnect() bool {
	if e.state != Connected {
		return false
	}
	p := e.partner
	if p == nil || p.partner != e || p.state != Connected {
		e.log.Error("partner asymmetry detected, disconnect aborted")
		return false
	}
	if h := e.env.Hierarchy; h != nil {
		h.Dissolve(e.union)
	}
	for _, x := range []*Endpoint{e, p} {
		x.restore()
		x.state = Free
		x.partner = nil
		x.union = nil
		x.interactive = true
		x.vol.SetEnabled(true)
		x.obj.SetManipulable(true)
	}

	e.log.Info("disconnected", log.String("partner", p.ID()))
	e.publishTo(events.Disconnected, p)
	p.publishTo(events.Disconnected, e)
	return true
}

func (e *Endpoint) body() physics.Body { return e.obj.Body() }

func (e *Endpoint) capture() restorePoint {
	rp := restorePoint{world: e.body().Pose(), kinematic: e.body().IsKinematic()}
	if g := e.obj.Parent(); g != nil {
		rp.parent = g
		rp.offset, _ = g.Offset(e.body().ID())
	} else if e.home != nil {
		rp.offset = rp.world.RelativeTo(e.home.Pose())
	}
	return rp
}

func (e *Endpoint) restore() {
	b := e.body()
	switch {
	case e.saved.parent != nil:
		e.obj.ReparentAt(e.saved.parent, e.saved.offset)
	case e.home != nil:
		e.obj.Reparent(nil)
		b.SetPose(e.home.Pose().Compose(e.saved.offset))
	default:
		e.obj.Reparent(nil)
		b.SetPose(e.saved.world)
	}
	b.SetKinematic(e.saved.kinematic)
	physics.Stop(b)
	e.saved = restorePoint{}
}

// unionFrame anchors the union where the root endpoint used to hang: on its
// previous parent group when it had one, on its home frame when set, in world
// space otherwise.
func (e *Endpoint) unionFrame(target physics.Pose) physics.Frame {
	var parent physics.Frame
	switch {
	case e.saved.parent != nil:
		parent = e.saved.parent.Root()
	case e.home != nil:
		parent = e.home
	default:
		return physics.Static(target)
	}
	return physics.Attachment{Parent: parent, Local: target.RelativeTo(parent.Pose())}
}

func (e *Endpoint) publish(kind string) { e.publishTo(kind, e.partner) }

func (e *Endpoint) publishTo(kind string, partner *Endpoint) {
	link := events.Link{Endpoint: e.ID()}
	if partner != nil {
		link.Partner = partner.ID()
	}
	if err := events.Publish(e.env.Bus, kind, e.ID(), link); err != nil {
		e.log.Warn("notification handler failed", log.String("kind", kind), log.Error(err))
	}
}
