package sim

import (
	"fmt"
	"sort"

	"github.com/zeusync/cabintrainer/internal/core/interaction"
	"github.com/zeusync/cabintrainer/internal/core/systems"
	"github.com/zeusync/cabintrainer/internal/core/systems/physics"
	"github.com/zeusync/cabintrainer/internal/core/tags"
)

var _ interaction.Volume = (*Sphere)(nil)

// SphereConfig describes a spherical trigger volume following a frame.
type SphereConfig struct {
	ID     string
	Tag    tags.Tag
	Frame  physics.Frame
	Offset physics.Vec3
	Radius float64

	// Owner is handed to the other side as Contact.Owner.
	Owner any

	// Handler receives this volume's enter/exit events; nil for passive
	// colliders.
	Handler interaction.TriggerHandler

	// Disabled volumes start with detection off.
	Disabled bool
}

type Sphere struct {
	cfg     SphereConfig
	enabled bool
	order   int
}

func (s *Sphere) ID() string           { return s.cfg.ID }
func (s *Sphere) Tag() tags.Tag        { return s.cfg.Tag }
func (s *Sphere) Enabled() bool        { return s.enabled }
func (s *Sphere) SetEnabled(on bool)   { s.enabled = on }
func (s *Sphere) Radius() float64      { return s.cfg.Radius }
func (s *Sphere) Center() physics.Vec3 { return s.cfg.Frame.Pose().Compose(physics.At(s.cfg.Offset)).Position }

func (s *Sphere) contact() interaction.Contact {
	return interaction.Contact{Volume: s.cfg.ID, Tag: s.cfg.Tag, Owner: s.cfg.Owner}
}

type pair struct{ a, b *Sphere }

func (p pair) key() string { return p.a.cfg.ID + "\x00" + p.b.cfg.ID }

// Triggers detects sphere overlaps once per fixed step and delivers enter and
// exit edges one at a time. An enter is skipped when a handler earlier in the
// same step disabled either volume.
type Triggers struct {
	volumes []*Sphere
	byID    map[string]*Sphere
	inside  map[string]pair
	seq     int
}

func NewTriggers() *Triggers {
	return &Triggers{byID: make(map[string]*Sphere), inside: make(map[string]pair)}
}

func (t *Triggers) Add(cfg SphereConfig) (*Sphere, error) {
	if _, dup := t.byID[cfg.ID]; dup {
		return nil, fmt.Errorf("%w: volume %s", ErrDuplicate, cfg.ID)
	}
	if cfg.Frame == nil {
		return nil, fmt.Errorf("volume %s: no frame", cfg.ID)
	}
	t.seq++
	s := &Sphere{cfg: cfg, enabled: !cfg.Disabled, order: t.seq}
	t.volumes = append(t.volumes, s)
	t.byID[cfg.ID] = s
	return s, nil
}

func (t *Triggers) Volume(id string) (*Sphere, bool) {
	s, ok := t.byID[id]
	return s, ok
}

// Bind sets the owner and handler of a volume, for entities built after
// their volume.
func (t *Triggers) Bind(id string, owner any, h interaction.TriggerHandler) bool {
	s, ok := t.byID[id]
	if ok {
		s.cfg.Owner = owner
		s.cfg.Handler = h
	}
	return ok
}

// Overlapping reports whether two volumes are currently inside each other.
func (t *Triggers) Overlapping(a, b string) bool {
	va, okA := t.byID[a]
	vb, okB := t.byID[b]
	if !okA || !okB {
		return false
	}
	if va.order > vb.order {
		va, vb = vb, va
	}
	_, ok := t.inside[pair{va, vb}.key()]
	return ok
}

func (t *Triggers) Name() string               { return "sim.triggers" }
func (t *Triggers) Priority() systems.Priority { return systems.PriorityLow }

func (t *Triggers) FixedUpdate(float64) error {
	now := make(map[string]pair)
	var entered []pair
	for i, a := range t.volumes {
		if !a.enabled {
			continue
		}
		for _, b := range t.volumes[i+1:] {
			if !b.enabled {
				continue
			}
			if a.Center().Dist(b.Center()) > a.cfg.Radius+b.cfg.Radius {
				continue
			}
			p := pair{a, b}
			now[p.key()] = p
			if _, was := t.inside[p.key()]; !was {
				entered = append(entered, p)
			}
		}
	}

	var exited []pair
	for k, p := range t.inside {
		if _, still := now[k]; !still {
			exited = append(exited, p)
		}
	}
	sort.Slice(exited, func(i, j int) bool {
		if exited[i].a.order != exited[j].a.order {
			return exited[i].a.order < exited[j].a.order
		}
		return exited[i].b.order < exited[j].b.order
	})
	t.inside = now

	for _, p := range exited {
		if h := p.a.cfg.Handler; h != nil {
			h.OnTriggerExit(p.b.contact())
		}
		if h := p.b.cfg.Handler; h != nil {
			h.OnTriggerExit(p.a.contact())
		}
	}
	for _, p := range entered {
		if !t.deliverable(p) {
			continue
		}
		if h := p.a.cfg.Handler; h != nil {
			h.OnTriggerEnter(p.b.contact())
		}
		if !t.deliverable(p) {
			continue
		}
		if h := p.b.cfg.Handler; h != nil {
			h.OnTriggerEnter(p.a.contact())
		}
	}
	return nil
}

// deliverable drops a pair whose volumes were disabled mid-step, so it never
// produces a later exit either.
func (t *Triggers) deliverable(p pair) bool {
	if p.a.enabled && p.b.enabled {
		return true
	}
	delete(t.inside, p.key())
	return false
}
