package scenario

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/zeusync/cabintrainer/internal/core/attach"
	"github.com/zeusync/cabintrainer/internal/core/connector"
	"github.com/zeusync/cabintrainer/internal/core/dualcontact"
	"github.com/zeusync/cabintrainer/internal/core/events/bus"
	"github.com/zeusync/cabintrainer/internal/core/interaction"
	"github.com/zeusync/cabintrainer/internal/core/observability/log"
	"github.com/zeusync/cabintrainer/internal/core/steps"
	"github.com/zeusync/cabintrainer/internal/core/systems"
	"github.com/zeusync/cabintrainer/internal/core/systems/physics"
	"github.com/zeusync/cabintrainer/internal/core/tags"
	"github.com/zeusync/cabintrainer/internal/core/tether"
	"github.com/zeusync/cabintrainer/internal/sim"
)

const defaultAnchorRadius = 0.1

var tagZone = tags.New("Zone")

// Options configures how a scenario is built and replayed.
type Options struct {
	Systems systems.Options

	// Frame is the rendered frame length in seconds.
	Frame float64

	// Realtime paces replay to wall-clock time, one frame per Frame seconds.
	Realtime bool

	// Bus receives every notification; a fresh bus is used when nil.
	Bus bus.EventBus
	Log log.Log
}

func DefaultOptions() Options {
	return Options{Systems: systems.DefaultOptions(), Frame: 1.0 / 72}
}

// Session is a built scenario: the world, its scheduler and every entity,
// keyed by ID.
type Session struct {
	ID       string
	Scenario *Scenario

	World   *sim.World
	Manager *systems.Manager
	Bus     bus.EventBus

	Objects     map[string]*interaction.Object
	Endpoints   map[string]*connector.Endpoint
	Assemblies  map[string]*attach.Assembly
	Anchors     map[string]*attach.Anchor
	Tethers     map[string]*tether.Link
	Gates       map[string]*dualcontact.Gate
	Checkpoints map[string]*steps.Checkpoint
	Trackers    []*steps.Tracker

	frame    float64
	realtime bool
	log      log.Log
	notices  []Notice
}

// Build validates sc and constructs it. Validation problems fail the build;
// misconfigured entities are built degraded and listed by Degraded.
func Build(sc *Scenario, opts Options) (*Session, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	def := DefaultOptions()
	if opts.Frame <= 0 {
		opts.Frame = def.Frame
	}
	if opts.Bus == nil {
		opts.Bus = bus.New()
	}
	if opts.Log == nil {
		opts.Log = log.Nop()
	}

	id := uuid.NewString()
	logger := opts.Log.With(log.String("session", id), log.String("scenario", sc.Name))
	world := sim.NewWorld(sc.Gravity, physics.NewHierarchy())
	s := &Session{
		ID:          id,
		Scenario:    sc,
		World:       world,
		Manager:     systems.NewManager(opts.Systems, logger),
		Bus:         opts.Bus,
		Objects:     make(map[string]*interaction.Object),
		Endpoints:   make(map[string]*connector.Endpoint),
		Assemblies:  make(map[string]*attach.Assembly),
		Anchors:     make(map[string]*attach.Anchor),
		Tethers:     make(map[string]*tether.Link),
		Gates:       make(map[string]*dualcontact.Gate),
		Checkpoints: make(map[string]*steps.Checkpoint),
		frame:       opts.Frame,
		realtime:    opts.Realtime,
		log:         logger,
	}
	env := interaction.Env{Manipulator: world.Hands(), Hierarchy: world.Hierarchy(), Bus: opts.Bus, Log: logger}

	for _, sys := range world.Systems() {
		if err := s.Manager.Register(sys); err != nil {
			return nil, err
		}
	}
	if err := s.buildObjects(env); err != nil {
		return nil, err
	}
	if err := s.buildEntities(env); err != nil {
		return nil, err
	}
	if err := s.buildProcedures(); err != nil {
		s.Close()
		return nil, err
	}
	opts.Bus.AddObserver(s)

	logger.Info("scenario built",
		log.Int("objects", len(s.Objects)),
		log.Int("procedures", len(s.Trackers)),
		log.Int("degraded", len(s.Degraded())),
	)
	return s, nil
}

func (s *Session) buildObjects(env interaction.Env) error {
	sc := s.Scenario
	for _, o := range sc.Objects {
		body, err := s.World.AddBody(o.ID, o.Pose, o.Mass)
		if err != nil {
			return err
		}
		body.SetKinematic(o.Kinematic)
		obj := interaction.NewObject(interaction.ObjectConfig{
			ID:           o.ID,
			MaxHolders:   o.MaxHolders,
			AttachPoints: attachPoints(o.AttachPoints),
		}, body, env)
		s.World.Hands().Register(obj)
		s.Objects[o.ID] = obj
	}

	groups := make(map[string]*physics.RigidGroup)
	for _, o := range sc.Objects {
		if o.Parent == "" {
			continue
		}
		g, ok := groups[o.Parent]
		if !ok {
			g = physics.NewRigidGroup(o.Parent, s.Objects[o.Parent].Body())
			groups[o.Parent] = g
		}
		s.Objects[o.ID].Reparent(g)
	}

	for _, o := range sc.Objects {
		if o.Trigger == nil {
			continue
		}
		_, err := s.World.Triggers().Add(sim.SphereConfig{
			ID:     o.ID,
			Tag:    o.Trigger.Tag,
			Frame:  s.Objects[o.ID].Body(),
			Offset: o.Trigger.Offset,
			Radius: o.Trigger.Radius,
		})
		if err != nil {
			return err
		}
	}
	for _, a := range sc.Anchors {
		anchor := &attach.Anchor{ID: a.ID, Tag: a.Tag, Frame: s.frameOf(a.Frame)}
		if err := anchor.Validate(); err != nil {
			return err
		}
		radius := a.Radius
		if radius <= 0 {
			radius = defaultAnchorRadius
		}
		_, err := s.World.Triggers().Add(sim.SphereConfig{ID: a.ID, Tag: a.Tag, Frame: anchor.Frame, Radius: radius, Owner: anchor})
		if err != nil {
			return err
		}
		s.Anchors[a.ID] = anchor
	}
	return nil
}

func (s *Session) buildEntities(env interaction.Env) error {
	sc := s.Scenario
	triggers := s.World.Triggers()

	for _, c := range sc.Connectors {
		e := connector.NewEndpoint(c.Config, s.Objects[c.object()], s.volume(c.object()), env)
		triggers.Bind(c.object(), e, e)
		s.Endpoints[c.ID] = e
	}
	for _, a := range sc.Assemblies {
		children := make([]*connector.Endpoint, 0, len(a.Children))
		for _, id := range a.Children {
			children = append(children, s.Endpoints[id])
		}
		as := attach.NewAssembly(a.Config, s.Objects[a.object()], s.volume(a.object()), children, env)
		triggers.Bind(a.object(), as, as)
		s.Assemblies[a.ID] = as
	}
	for _, g := range sc.Gates {
		gate := dualcontact.New(g.Config, s.Objects[g.object()], s.volume(g.object()), env)
		triggers.Bind(g.object(), gate, gate)
		if err := s.Manager.Register(gate); err != nil {
			return err
		}
		s.Gates[g.ID] = gate
	}
	for _, t := range sc.Tethers {
		var anchor physics.Frame
		if t.Anchor != nil {
			anchor = s.frameOf(*t.Anchor)
		}
		link := tether.New(t.Config, s.Objects[t.Object], anchor, env)
		if err := s.Manager.Register(link); err != nil {
			return err
		}
		s.Tethers[t.ID] = link
	}
	for _, z := range sc.Zones {
		cp := steps.NewCheckpoint(z.ID, z.Visitors, env)
		_, err := triggers.Add(sim.SphereConfig{
			ID:      z.ID,
			Tag:     tagZone,
			Frame:   s.frameOf(z.Frame),
			Radius:  z.Radius,
			Owner:   cp,
			Handler: cp,
		})
		if err != nil {
			return err
		}
		s.Checkpoints[z.ID] = cp
	}
	return nil
}

func (s *Session) buildProcedures() error {
	for _, p := range s.Scenario.Procedures {
		var (
			t   *steps.Tracker
			err error
		)
		switch p.Kind {
		case steps.Seatbelt:
			t, err = steps.NewSeatbelt(s.Bus, s.log, p.Targets[0], p.Targets[1])
		case steps.Lifevest:
			t, err = steps.NewLifevest(s.Bus, s.log, p.Targets[0], p.Targets[1:])
		case steps.Airmask:
			t, err = steps.NewAirmask(s.Bus, s.log, p.Targets[0])
		case steps.Airsack:
			t, err = steps.NewAirsack(s.Bus, s.log, p.Targets[0])
		case steps.ExitDoors:
			t, err = steps.NewExitDoors(s.Bus, s.log, p.Targets)
		default:
			err = fmt.Errorf("%w: %s", ErrUnknownKind, p.Kind)
		}
		if t != nil {
			s.Trackers = append(s.Trackers, t)
		}
		if err != nil {
			return fmt.Errorf("procedure %s: %w", p.Kind, err)
		}
	}
	return nil
}

// volume returns the trigger of an object, or a nil interface when it has none.
func (s *Session) volume(id string) interaction.Volume {
	if v, ok := s.World.Triggers().Volume(id); ok {
		return v
	}
	return nil
}

func (s *Session) frameOf(ref FrameRef) physics.Frame {
	pose := ref.Pose.Normalized()
	if ref.Body == "" {
		return physics.Static(pose)
	}
	return physics.Attachment{Parent: s.Objects[ref.Body].Body(), Local: pose}
}

func attachPoints(in map[string]physics.Pose) map[interaction.Side]physics.Pose {
	if len(in) == 0 {
		return nil
	}
	out := make(map[interaction.Side]physics.Pose, len(in))
	for side, p := range in {
		switch side {
		case "left":
			out[interaction.SideLeft] = p.Normalized()
		case "right":
			out[interaction.SideRight] = p.Normalized()
		}
	}
	return out
}

// Degraded maps the ID of every misconfigured entity to its configuration error.
func (s *Session) Degraded() map[string]error {
	out := make(map[string]error)
	add := func(id string, err error) {
		if err != nil {
			out[id] = err
		}
	}
	for id, e := range s.Endpoints {
		add(id, e.ConfigErr())
	}
	for id, a := range s.Assemblies {
		add(id, a.ConfigErr())
	}
	for id, t := range s.Tethers {
		add(id, t.ConfigErr())
	}
	for id, g := range s.Gates {
		add(id, g.ConfigErr())
	}
	return out
}

// DegradedIDs lists Degraded keys in order.
func (s *Session) DegradedIDs() []string {
	d := s.Degraded()
	ids := make([]string, 0, len(d))
	for id := range d {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close cancels tracker subscriptions and stops recording notifications.
func (s *Session) Close() {
	s.Bus.RemoveObserver(s)
	for _, t := range s.Trackers {
		if err := t.Close(); err != nil {
			s.log.Warn("tracker close failed", log.String("procedure", t.Procedure()), log.Error(err))
		}
	}
}
