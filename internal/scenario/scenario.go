// Package scenario loads training scenes from YAML, builds them on the
// headless reference world and replays their scripts.
package scenario

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/zeusync/cabintrainer/internal/core/attach"
	"github.com/zeusync/cabintrainer/internal/core/connector"
	"github.com/zeusync/cabintrainer/internal/core/dualcontact"
	"github.com/zeusync/cabintrainer/internal/core/steps"
	"github.com/zeusync/cabintrainer/internal/core/systems/physics"
	"github.com/zeusync/cabintrainer/internal/core/tags"
	"github.com/zeusync/cabintrainer/internal/core/tether"
)

var (
	ErrMissingID       = errors.New("id is required")
	ErrDuplicateID     = errors.New("duplicate id")
	ErrUnknownObject   = errors.New("unknown object")
	ErrUnknownTarget   = errors.New("unknown target")
	ErrUnknownAction   = errors.New("unknown action")
	ErrUnknownKind     = errors.New("unknown procedure kind")
	ErrTriggerInUse    = errors.New("trigger already bound to another entity")
	ErrInvalidArgument = errors.New("invalid argument")
)

// Scenario is one training scene: the objects in it, the protocol entities
// built on them, the procedures tracked and an optional input script.
type Scenario struct {
	Name string `yaml:"name" json:"name"`

	// Gravity defaults to zero: the reference world has no colliders, so
	// unheld bodies would otherwise fall forever.
	Gravity physics.Vec3 `yaml:"gravity" json:"gravity"`

	Objects    []Object    `yaml:"objects" json:"objects"`
	Anchors    []Anchor    `yaml:"anchors,omitempty" json:"anchors,omitempty"`
	Zones      []Zone      `yaml:"zones,omitempty" json:"zones,omitempty"`
	Connectors []Connector `yaml:"connectors,omitempty" json:"connectors,omitempty"`
	Assemblies []Assembly  `yaml:"assemblies,omitempty" json:"assemblies,omitempty"`
	Tethers    []Tether    `yaml:"tethers,omitempty" json:"tethers,omitempty"`
	Gates      []Gate      `yaml:"gates,omitempty" json:"gates,omitempty"`
	Procedures []Procedure `yaml:"procedures,omitempty" json:"procedures,omitempty"`
	Script     []Action    `yaml:"script,omitempty" json:"script,omitempty"`
}

type Object struct {
	ID         string       `yaml:"id" json:"id"`
	Pose       physics.Pose `yaml:"pose" json:"pose"`
	Mass       float64      `yaml:"mass" json:"mass"`
	MaxHolders int          `yaml:"max_holders,omitempty" json:"max_holders,omitempty"`
	Kinematic  bool         `yaml:"kinematic,omitempty" json:"kinematic,omitempty"`

	// Parent makes the object a rigid member of another object's body.
	Parent string `yaml:"parent,omitempty" json:"parent,omitempty"`

	Trigger      *Trigger                `yaml:"trigger,omitempty" json:"trigger,omitempty"`
	AttachPoints map[string]physics.Pose `yaml:"attach_points,omitempty" json:"attach_points,omitempty"`
}

// Trigger is the sphere volume of an object. Its volume ID is the object ID.
type Trigger struct {
	Tag    tags.Tag     `yaml:"tag" json:"tag"`
	Radius float64      `yaml:"radius" json:"radius"`
	Offset physics.Vec3 `yaml:"offset" json:"offset"`
}

// FrameRef is a world pose, or a local pose on an object's body when Body is set.
type FrameRef struct {
	Body string       `yaml:"body,omitempty" json:"body,omitempty"`
	Pose physics.Pose `yaml:"pose" json:"pose"`
}

type Anchor struct {
	ID     string   `yaml:"id" json:"id"`
	Tag    tags.Tag `yaml:"tag" json:"tag"`
	Frame  FrameRef `yaml:"frame" json:"frame"`
	Radius float64  `yaml:"radius,omitempty" json:"radius,omitempty"`
}

// Zone is a checkpoint volume.
type Zone struct {
	ID       string   `yaml:"id" json:"id"`
	Frame    FrameRef `yaml:"frame" json:"frame"`
	Radius   float64  `yaml:"radius" json:"radius"`
	Visitors tags.Set `yaml:"visitors,omitempty" json:"visitors,omitempty"`
}

// Connector, Assembly and Gate reference the object whose trigger they use;
// Object defaults to the entity ID.
type Connector struct {
	connector.Config `yaml:",inline"`
	Object           string `yaml:"object,omitempty" json:"object,omitempty"`
}

type Assembly struct {
	attach.Config `yaml:",inline"`
	Object        string   `yaml:"object,omitempty" json:"object,omitempty"`
	Children      []string `yaml:"children,omitempty" json:"children,omitempty"`
}

type Tether struct {
	tether.Config `yaml:",inline"`
	Object        string    `yaml:"object" json:"object"`
	Anchor        *FrameRef `yaml:"anchor" json:"anchor"`
}

type Gate struct {
	dualcontact.Config `yaml:",inline"`
	Object             string `yaml:"object,omitempty" json:"object,omitempty"`
}

// Procedure selects a step aggregator and the entities it listens to.
type Procedure struct {
	Kind    string   `yaml:"kind" json:"kind"`
	Targets []string `yaml:"targets" json:"targets"`
}

// Script actions.
const (
	ActGrab       = "grab"
	ActRelease    = "release"
	ActMove       = "move"
	ActDisconnect = "disconnect"
	ActDetach     = "detach"
	ActWait       = "wait"
)

// Action is one scripted input. Move drives a hand, or a body directly when
// Body is set; with Seconds > 0 it travels linearly over that time.
type Action struct {
	Do      string        `yaml:"do" json:"do"`
	Hand    string        `yaml:"hand,omitempty" json:"hand,omitempty"`
	Object  string        `yaml:"object,omitempty" json:"object,omitempty"`
	Body    string        `yaml:"body,omitempty" json:"body,omitempty"`
	To      *physics.Vec3 `yaml:"to,omitempty" json:"to,omitempty"`
	Target  string        `yaml:"target,omitempty" json:"target,omitempty"`
	Force   bool          `yaml:"force,omitempty" json:"force,omitempty"`
	Seconds float64       `yaml:"seconds,omitempty" json:"seconds,omitempty"`
}

// Load decodes a scenario. Unknown keys are rejected.
func Load(r io.Reader) (*Scenario, error) {
	var sc Scenario
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	return &sc, nil
}

func LoadFile(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	sc, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sc, nil
}

func (c Connector) object() string {
	if c.Object == "" {
		return c.ID
	}
	return c.Object
}

func (a Assembly) object() string {
	if a.Object == "" {
		return a.ID
	}
	return a.Object
}

func (g Gate) object() string {
	if g.Object == "" {
		return g.ID
	}
	return g.Object
}

// Validate checks references between the parts of the scenario and reports
// every problem at once. Entity settings such as a missing snap frame are
// not checked here: those entities are built degraded instead.
func (sc *Scenario) Validate() error {
	var errs []error
	fail := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	objects := make(map[string]Object, len(sc.Objects))
	volumes := make(map[string]bool)
	addVolume := func(kind, id string) {
		if volumes[id] {
			fail("%s %s: %w", kind, id, ErrDuplicateID)
		}
		volumes[id] = true
	}
	for i, o := range sc.Objects {
		if o.ID == "" {
			fail("object #%d: %w", i, ErrMissingID)
			continue
		}
		if _, dup := objects[o.ID]; dup {
			fail("object %s: %w", o.ID, ErrDuplicateID)
		}
		objects[o.ID] = o
		if o.Trigger != nil {
			addVolume("object", o.ID)
			if o.Trigger.Radius <= 0 {
				fail("object %s: trigger radius: %w", o.ID, ErrInvalidArgument)
			}
		}
		for side := range o.AttachPoints {
			if side != "left" && side != "right" {
				fail("object %s: attach point %q: %w", o.ID, side, ErrInvalidArgument)
			}
		}
	}
	for _, o := range sc.Objects {
		if o.Parent == "" {
			continue
		}
		if _, ok := objects[o.Parent]; !ok || o.Parent == o.ID {
			fail("object %s: parent %s: %w", o.ID, o.Parent, ErrUnknownObject)
		}
	}
	checkFrame := func(kind, id string, f FrameRef) {
		if f.Body == "" {
			return
		}
		if _, ok := objects[f.Body]; !ok {
			fail("%s %s: frame body %s: %w", kind, id, f.Body, ErrUnknownObject)
		}
	}

	anchors := make(map[string]bool)
	for i, a := range sc.Anchors {
		if a.ID == "" {
			fail("anchor #%d: %w", i, ErrMissingID)
			continue
		}
		anchors[a.ID] = true
		addVolume("anchor", a.ID)
		checkFrame("anchor", a.ID, a.Frame)
	}
	zones := make(map[string]bool)
	for i, z := range sc.Zones {
		if z.ID == "" {
			fail("zone #%d: %w", i, ErrMissingID)
			continue
		}
		zones[z.ID] = true
		addVolume("zone", z.ID)
		checkFrame("zone", z.ID, z.Frame)
		if z.Radius <= 0 {
			fail("zone %s: radius: %w", z.ID, ErrInvalidArgument)
		}
	}

	// every object trigger serves at most one entity
	bound := make(map[string]string)
	bind := func(kind, id, object string) {
		if _, ok := objects[object]; !ok {
			fail("%s %s: object %s: %w", kind, id, object, ErrUnknownObject)
			return
		}
		if prev, ok := bound[object]; ok {
			fail("%s %s: object %s (also %s): %w", kind, id, object, prev, ErrTriggerInUse)
			return
		}
		bound[object] = kind + " " + id
	}

	connectors := make(map[string]Connector)
	for i, c := range sc.Connectors {
		if c.ID == "" {
			fail("connector #%d: %w", i, ErrMissingID)
			continue
		}
		if _, dup := connectors[c.ID]; dup {
			fail("connector %s: %w", c.ID, ErrDuplicateID)
		}
		connectors[c.ID] = c
		bind("connector", c.ID, c.object())
	}
	assemblies := make(map[string]Assembly)
	for i, a := range sc.Assemblies {
		if a.ID == "" {
			fail("assembly #%d: %w", i, ErrMissingID)
			continue
		}
		if _, dup := assemblies[a.ID]; dup {
			fail("assembly %s: %w", a.ID, ErrDuplicateID)
		}
		assemblies[a.ID] = a
		bind("assembly", a.ID, a.object())
		for _, child := range a.Children {
			if _, ok := connectors[child]; !ok {
				fail("assembly %s: child %s: %w", a.ID, child, ErrUnknownTarget)
			}
		}
	}
	tethers := make(map[string]bool)
	for i, t := range sc.Tethers {
		if t.ID == "" {
			fail("tether #%d: %w", i, ErrMissingID)
			continue
		}
		if tethers[t.ID] {
			fail("tether %s: %w", t.ID, ErrDuplicateID)
		}
		tethers[t.ID] = true
		if _, ok := objects[t.Object]; !ok {
			fail("tether %s: object %s: %w", t.ID, t.Object, ErrUnknownObject)
		}
		if t.Anchor != nil {
			checkFrame("tether", t.ID, *t.Anchor)
		}
	}
	gates := make(map[string]bool)
	for i, g := range sc.Gates {
		if g.ID == "" {
			fail("gate #%d: %w", i, ErrMissingID)
			continue
		}
		if gates[g.ID] {
			fail("gate %s: %w", g.ID, ErrDuplicateID)
		}
		gates[g.ID] = true
		bind("gate", g.ID, g.object())
	}

	for i, p := range sc.Procedures {
		errs = append(errs, p.validate(i, connectors, assemblies, gates, zones)...)
	}
	for i, a := range sc.Script {
		if err := a.validate(objects, connectors, assemblies); err != nil {
			fail("script #%d (%s): %w", i, a.Do, err)
		}
	}
	return errors.Join(errs...)
}

func (p Procedure) validate(i int, connectors map[string]Connector, assemblies map[string]Assembly, gates, zones map[string]bool) []error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("procedure #%d (%s): "+format, append([]any{i, p.Kind}, args...)...))
	}
	count := func(want int) bool {
		if len(p.Targets) != want {
			fail("want %d targets, got %d: %w", want, len(p.Targets), ErrInvalidArgument)
			return false
		}
		return true
	}

	switch p.Kind {
	case steps.Seatbelt:
		if !count(2) {
			return errs
		}
		for _, t := range p.Targets {
			c, ok := connectors[t]
			switch {
			case !ok:
				fail("connector %s: %w", t, ErrUnknownTarget)
			case c.object() != c.ID:
				// grabs are published on the object topic
				fail("connector %s must share its object's id: %w", t, ErrInvalidArgument)
			}
		}
	case steps.Lifevest:
		if len(p.Targets) < 1 {
			fail("vest target missing: %w", ErrInvalidArgument)
			return errs
		}
		if _, ok := assemblies[p.Targets[0]]; !ok {
			fail("assembly %s: %w", p.Targets[0], ErrUnknownTarget)
		}
		for _, t := range p.Targets[1:] {
			if _, ok := connectors[t]; !ok {
				fail("connector %s: %w", t, ErrUnknownTarget)
			}
		}
	case steps.Airmask:
		if !count(1) {
			return errs
		}
		a, ok := assemblies[p.Targets[0]]
		switch {
		case !ok:
			fail("assembly %s: %w", p.Targets[0], ErrUnknownTarget)
		case a.object() != a.ID:
			fail("assembly %s must share its object's id: %w", a.ID, ErrInvalidArgument)
		}
	case steps.Airsack:
		if count(1) && !gates[p.Targets[0]] {
			fail("gate %s: %w", p.Targets[0], ErrUnknownTarget)
		}
	case steps.ExitDoors:
		if len(p.Targets) == 0 {
			fail("no zones: %w", ErrInvalidArgument)
		}
		for _, t := range p.Targets {
			if !zones[t] {
				fail("zone %s: %w", t, ErrUnknownTarget)
			}
		}
	default:
		fail("%w", ErrUnknownKind)
	}
	return errs
}

func (a Action) validate(objects map[string]Object, connectors map[string]Connector, assemblies map[string]Assembly) error {
	switch a.Do {
	case ActGrab:
		if a.Hand == "" {
			return fmt.Errorf("hand: %w", ErrInvalidArgument)
		}
		if _, ok := objects[a.Object]; !ok {
			return fmt.Errorf("object %s: %w", a.Object, ErrUnknownObject)
		}
	case ActRelease:
		if a.Hand == "" {
			return fmt.Errorf("hand: %w", ErrInvalidArgument)
		}
	case ActMove:
		if (a.Hand == "") == (a.Body == "") {
			return fmt.Errorf("exactly one of hand and body: %w", ErrInvalidArgument)
		}
		if a.Body != "" {
			if _, ok := objects[a.Body]; !ok {
				return fmt.Errorf("body %s: %w", a.Body, ErrUnknownObject)
			}
		}
		if a.To == nil {
			return fmt.Errorf("to: %w", ErrInvalidArgument)
		}
		if a.Seconds < 0 {
			return fmt.Errorf("seconds: %w", ErrInvalidArgument)
		}
	case ActDisconnect:
		if _, ok := connectors[a.Target]; !ok {
			return fmt.Errorf("connector %s: %w", a.Target, ErrUnknownTarget)
		}
	case ActDetach:
		if _, ok := assemblies[a.Target]; !ok {
			return fmt.Errorf("assembly %s: %w", a.Target, ErrUnknownTarget)
		}
	case ActWait:
		if a.Seconds <= 0 {
			return fmt.Errorf("seconds: %w", ErrInvalidArgument)
		}
	default:
		return ErrUnknownAction
	}
	return nil
}
