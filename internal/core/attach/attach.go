// Package attach implements the body attachment protocol: an assembly such as
// the life vest or the oxygen mask snaps onto a tagged body anchor, and its
// child connectors only become interactive while it is attached.
package attach

import (
	"errors"
	"fmt"

	"github.com/zeusync/cabintrainer/internal/core/connector"
	"github.com/zeusync/cabintrainer/internal/core/events"
	"github.com/zeusync/cabintrainer/internal/core/interaction"
	"github.com/zeusync/cabintrainer/internal/core/observability/log"
	"github.com/zeusync/cabintrainer/internal/core/systems/physics"
	"github.com/zeusync/cabintrainer/internal/core/tags"
)

var (
	ErrMissingID      = errors.New("attach: id not set")
	ErrMissingObject  = errors.New("attach: manipulable object not set")
	ErrMissingTrigger = errors.New("attach: trigger volume not set")
	ErrMissingAnchor  = errors.New("attach: anchor frame not set")
)

// DefaultAnchorTag is the tag vests look for.
const DefaultAnchorTag = "BodyAnchor"

type State uint8

const (
	Detached State = iota
	Attached
)

func (s State) String() string {
	if s == Attached {
		return "attached"
	}
	return "detached"
}

// Anchor is a tagged body location an assembly can attach to.
type Anchor struct {
	ID    string
	Tag   tags.Tag
	Frame physics.Frame
}

// Validate reports an anchor that can never take an assembly.
func (a *Anchor) Validate() error {
	if a.Frame == nil {
		return fmt.Errorf("anchor %q: %w", a.ID, ErrMissingAnchor)
	}
	return nil
}

type Config struct {
	ID string `yaml:"id" json:"id"`

	// AnchorTag selects the anchors this assembly attaches to.
	AnchorTag tags.Tag `yaml:"anchor_tag" json:"anchor_tag"`

	// AttachOffset is the assembly pose relative to the anchor once attached.
	AttachOffset physics.Pose `yaml:"attach_offset" json:"attach_offset"`
}

func (c Config) Validate() error {
	if c.ID == "" {
		return ErrMissingID
	}
	return nil
}

// Assembly is a composite object with child connector endpoints.
type Assembly struct {
	cfg       Config
	obj       *interaction.Object
	vol       interaction.Volume
	children  []*connector.Endpoint
	env       interaction.Env
	log       log.Log
	configErr error

	state  State
	anchor *Anchor
	group  *physics.RigidGroup
	saved  struct {
		parent    *physics.RigidGroup
		kinematic bool
	}

	// rearm is the anchor last detached from; its trigger enters are ignored
	// until the two volumes separate.
	rearm *Anchor
}

// NewAssembly builds a Detached assembly and disables its children.
func NewAssembly(cfg Config, obj *interaction.Object, vol interaction.Volume, children []*connector.Endpoint, env interaction.Env) *Assembly {
	if cfg.AnchorTag.IsZero() {
		cfg.AnchorTag = tags.New(DefaultAnchorTag)
	}
	cfg.AttachOffset = cfg.AttachOffset.Normalized()
	a := &Assembly{
		cfg:      cfg,
		obj:      obj,
		vol:      vol,
		children: children,
		env:      env,
		log:      env.Logger("assembly", cfg.ID),
	}
	err := cfg.Validate()
	if obj == nil {
		err = errors.Join(err, ErrMissingObject)
	}
	if vol == nil {
		err = errors.Join(err, ErrMissingTrigger)
	}
	if err != nil {
		a.configErr = fmt.Errorf("assembly %q: %w", cfg.ID, err)
		a.log.Error("assembly misconfigured, it will never attach", log.Error(err))
		return a
	}
	for _, c := range children {
		c.SetHome(obj.Body())
		c.SetInteractive(false)
	}
	a.log.Debug("assembly ready", log.Int("children", len(children)))
	return a
}

func (a *Assembly) ID() string                  { return a.cfg.ID }
func (a *Assembly) State() State                { return a.state }
func (a *Assembly) IsAttached() bool            { return a.state == Attached }
func (a *Assembly) Anchor() *Anchor             { return a.anchor }
func (a *Assembly) Object() *interaction.Object { return a.obj }
func (a *Assembly) Volume() interaction.Volume  { return a.vol }
func (a *Assembly) ConfigErr() error            { return a.configErr }

func (a *Assembly) Children() []*connector.Endpoint {
	return append([]*connector.Endpoint(nil), a.children...)
}

// TryAttach snaps the assembly onto anchor. It returns false without changes
// when the assembly is misconfigured, already attached, or the anchor tag
// does not match.
func (a *Assembly) TryAttach(anchor *Anchor) bool {
	if a.configErr != nil || anchor == nil || a.state == Attached {
		return false
	}
	if !a.cfg.AnchorTag.Matches(anchor.Tag) {
		a.log.Debug("attach skipped, anchor tag mismatch", log.String("anchor", anchor.ID))
		return false
	}
	if err := anchor.Validate(); err != nil {
		a.log.Debug("attach skipped", log.Error(err))
		return false
	}

	a.vol.SetEnabled(false)
	a.obj.ForceRelease()

	body := a.obj.Body()
	a.saved.parent = a.obj.Parent()
	a.saved.kinematic = body.IsKinematic()
	body.SetKinematic(true)
	a.group = physics.NewRigidGroup("anchor:"+anchor.ID+"/"+a.cfg.ID, anchor.Frame)
	body.SetPose(anchor.Frame.Pose().Compose(a.cfg.AttachOffset))
	a.obj.ReparentAt(a.group, a.cfg.AttachOffset)

	for _, c := range a.children {
		c.ResetState()
	}
	a.obj.SetManipulable(false)

	a.state = Attached
	a.anchor = anchor
	a.rearm = nil
	a.log.Info("attached", log.String("anchor", anchor.ID))
	a.publish(events.Attached)
	return true
}

// CanDetach is false while any child connector is connected.
func (a *Assembly) CanDetach() bool {
	for _, c := range a.children {
		if c.IsConnected() {
			return false
		}
	}
	return true
}

// Detach releases the assembly from its anchor. It is refused while CanDetach
// is false; the assembly then stays attached.
func (a *Assembly) Detach() bool {
	if a.state != Attached {
		return false
	}
	if !a.CanDetach() {
		a.log.Debug("detach refused, children still connected")
		return false
	}
	a.detach()
	return true
}

// ForceDetach disconnects every connected child first, then detaches.
func (a *Assembly) ForceDetach() bool {
	if a.state != Attached {
		return false
	}
	for _, c := range a.children {
		if c.IsConnected() {
			c.Disconnect()
		}
	}
	if !a.CanDetach() {
		a.log.Error("force detach aborted, a child could not be disconnected")
		return false
	}
	a.detach()
	return true
}

func (a *Assembly) detach() {
	anchor := a.anchor
	if h := a.env.Hierarchy; h != nil {
		h.Dissolve(a.group)
	}
	body := a.obj.Body()
	a.obj.Reparent(a.saved.parent)
	body.SetKinematic(a.saved.kinematic)
	physics.Stop(body)

	a.obj.SetManipulable(true)
	for _, c := range a.children {
		c.SetInteractive(false)
	}
	a.vol.SetEnabled(true)

	a.state = Detached
	a.anchor = nil
	a.group = nil
	a.rearm = anchor
	a.log.Info("detached", log.String("anchor", anchor.ID))
	a.publishTo(events.Detached, anchor)
}

// OnTriggerEnter attaches to an anchor entering the assembly's volume. The
// anchor just detached from is skipped until it has left the volume once.
func (a *Assembly) OnTriggerEnter(c interaction.Contact) {
	anchor, ok := c.Owner.(*Anchor)
	if !ok {
		return
	}
	if anchor == a.rearm {
		a.log.Debug("attach skipped, anchor not yet cleared", log.String("anchor", anchor.ID))
		return
	}
	a.TryAttach(anchor)
}

func (a *Assembly) OnTriggerExit(c interaction.Contact) {
	if anchor, ok := c.Owner.(*Anchor); ok && anchor == a.rearm {
		a.rearm = nil
	}
}

func (a *Assembly) publish(kind string) { a.publishTo(kind, a.anchor) }

func (a *Assembly) publishTo(kind string, anchor *Anchor) {
	payload := events.Attachment{Assembly: a.cfg.ID}
	if anchor != nil {
		payload.Anchor = anchor.ID
	}
	if err := events.Publish(a.env.Bus, kind, a.cfg.ID, payload); err != nil {
		a.log.Warn("notification handler failed", log.String("kind", kind), log.Error(err))
	}
}
