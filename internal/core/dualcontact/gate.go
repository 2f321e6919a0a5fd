// Package dualcontact detects an object held with both hands while it touches
// a designated zone, such as an airsickness bag held open against the mouth.
package dualcontact

import (
	"errors"
	"fmt"

	"github.com/zeusync/cabintrainer/internal/core/events"
	"github.com/zeusync/cabintrainer/internal/core/interaction"
	"github.com/zeusync/cabintrainer/internal/core/observability/log"
	"github.com/zeusync/cabintrainer/internal/core/systems"
	"github.com/zeusync/cabintrainer/internal/core/tags"
)

var (
	ErrMissingObject  = errors.New("dualcontact: object not set")
	ErrMissingTrigger = errors.New("dualcontact: trigger volume not set")
	ErrTooFewHolders  = errors.New("dualcontact: object cannot be held by two hands")
)

const DefaultContactTag = "VomitContactPoint"

type Config struct {
	ID         string   `yaml:"id" json:"id"`
	ContactTag tags.Tag `yaml:"contact_tag" json:"contact_tag"`
}

var (
	_ systems.Updater            = (*Gate)(nil)
	_ interaction.TriggerHandler = (*Gate)(nil)
)

// Gate edge-detects bothHeld and bothHeld∧contact once per frame against the
// previous frame's snapshot.
type Gate struct {
	cfg       Config
	obj       *interaction.Object
	vol       interaction.Volume
	env       interaction.Env
	log       log.Log
	configErr error

	contacts  int
	bothHeld  bool
	completed bool
}

func New(cfg Config, obj *interaction.Object, vol interaction.Volume, env interaction.Env) *Gate {
	if cfg.ContactTag.IsZero() {
		cfg.ContactTag = tags.New(DefaultContactTag)
	}
	g := &Gate{cfg: cfg, obj: obj, vol: vol, env: env, log: env.Logger("gate", cfg.ID)}
	var err error
	if obj == nil {
		err = ErrMissingObject
	} else if obj.MaxHolders() < 2 {
		err = ErrTooFewHolders
	}
	if vol == nil {
		err = errors.Join(err, ErrMissingTrigger)
	}
	if err != nil {
		g.configErr = fmt.Errorf("gate %q: %w", cfg.ID, err)
		g.log.Error("gate misconfigured, it will never complete", log.Error(err))
	}
	return g
}

func (g *Gate) Name() string               { return "gate." + g.cfg.ID }
func (g *Gate) Priority() systems.Priority { return systems.PriorityLow }

func (g *Gate) ID() string                 { return g.cfg.ID }
func (g *Gate) Volume() interaction.Volume { return g.vol }
func (g *Gate) ConfigErr() error           { return g.configErr }

// IsBothHeld is the both-hands condition as of the last Update.
func (g *Gate) IsBothHeld() bool { return g.bothHeld }

// IsInContact is the raw contact flag from the trigger volume.
func (g *Gate) IsInContact() bool { return g.contacts > 0 }

// Completed is bothHeld ∧ contact as of the last Update.
func (g *Gate) Completed() bool { return g.completed }

func (g *Gate) OnTriggerEnter(c interaction.Contact) {
	if g.cfg.ContactTag.Matches(c.Tag) {
		g.contacts++
	}
}

func (g *Gate) OnTriggerExit(c interaction.Contact) {
	if g.cfg.ContactTag.Matches(c.Tag) && g.contacts > 0 {
		g.contacts--
	}
}

// Update emits at most one hold edge and one contact edge per frame. When
// both conditions drop together, BothReleased precedes ContactLost.
func (g *Gate) Update(float64) error {
	if g.configErr != nil {
		return nil
	}
	bothHeld := g.obj.HolderCount() >= 2
	completed := bothHeld && g.IsInContact()

	var all error
	switch {
	case bothHeld && !g.bothHeld:
		all = errors.Join(all, g.emit(events.BothHeld, bothHeld))
	case !bothHeld && g.bothHeld:
		all = errors.Join(all, g.emit(events.BothReleased, bothHeld))
	}
	switch {
	case completed && !g.completed:
		all = errors.Join(all, g.emit(events.ContactEstablished, bothHeld))
	case !completed && g.completed:
		all = errors.Join(all, g.emit(events.ContactLost, bothHeld))
	}
	g.bothHeld, g.completed = bothHeld, completed
	return all
}

func (g *Gate) emit(kind string, bothHeld bool) error {
	g.log.Debug(kind, log.Int("holders", g.obj.HolderCount()), log.Bool("contact", g.IsInContact()))
	return events.Publish(g.env.Bus, kind, g.cfg.ID, events.Gate{
		Object:   g.obj.ID(),
		Holders:  g.obj.HolderCount(),
		Contact:  g.IsInContact(),
		BothHeld: bothHeld,
	})
}
