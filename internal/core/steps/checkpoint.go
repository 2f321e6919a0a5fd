package steps

import (
	"github.com/zeusync/cabintrainer/internal/core/events"
	"github.com/zeusync/cabintrainer/internal/core/interaction"
	"github.com/zeusync/cabintrainer/internal/core/observability/log"
	"github.com/zeusync/cabintrainer/internal/core/tags"
)

// DefaultVisitors are the tags that count as the trainee reaching a zone.
var DefaultVisitors = tags.Set{tags.New("Player"), tags.New("XR Rig")}

var _ interaction.TriggerHandler = (*Checkpoint)(nil)

// Checkpoint is a trigger zone that publishes ZoneReached the first time a
// visitor enters it.
type Checkpoint struct {
	id       string
	visitors tags.Set
	reached  bool
	env      interaction.Env
	log      log.Log
}

func NewCheckpoint(id string, visitors tags.Set, env interaction.Env) *Checkpoint {
	if len(visitors) == 0 {
		visitors = DefaultVisitors
	}
	return &Checkpoint{id: id, visitors: visitors, env: env, log: env.Logger("checkpoint", id)}
}

func (c *Checkpoint) ID() string    { return c.id }
func (c *Checkpoint) Reached() bool { return c.reached }
func (c *Checkpoint) Reset()        { c.reached = false }

func (c *Checkpoint) OnTriggerEnter(ct interaction.Contact) {
	if c.reached || !c.visitors.Contains(ct.Tag) {
		return
	}
	c.reached = true
	c.log.Info("zone reached", log.String("visitor", ct.Volume))
	if err := events.Publish(c.env.Bus, events.ZoneReached, c.id, events.Zone{Zone: c.id, Visitor: ct.Volume}); err != nil {
		c.log.Warn("notification handler failed", log.Error(err))
	}
}

func (c *Checkpoint) OnTriggerExit(interaction.Contact) {}
