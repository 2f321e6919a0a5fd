// Package steps turns protocol notifications into per-procedure progress:
// an ordered list of steps, each lit or unlit, plus edge-triggered
// "all steps completed" and "steps reset" notifications.
package steps

import (
	"errors"

	"github.com/zeusync/cabintrainer/internal/core/events"
	"github.com/zeusync/cabintrainer/internal/core/events/bus"
	"github.com/zeusync/cabintrainer/internal/core/observability/log"
)

type Step struct {
	Name string `json:"name" yaml:"name"`
	Done bool   `json:"done" yaml:"done"`
}

// Progress is a snapshot of one tracker.
type Progress struct {
	Procedure string `json:"procedure" yaml:"procedure"`
	Steps     []Step `json:"steps" yaml:"steps"`
	Completed bool   `json:"completed" yaml:"completed"`

	// Completions counts rising edges of Completed.
	Completions int `json:"completions" yaml:"completions"`
	Resets      int `json:"resets" yaml:"resets"`
}

// Lit counts the steps currently done.
func (p Progress) Lit() int {
	n := 0
	for _, s := range p.Steps {
		if s.Done {
			n++
		}
	}
	return n
}

// Tracker holds the indicator state of one procedure. It subscribes to the
// notifications it needs on construction; Close removes every subscription.
type Tracker struct {
	procedure   string
	steps       []Step
	completed   bool
	completions int
	resets      int

	bus  bus.EventBus
	log  log.Log
	subs []bus.Subscription
}

func NewTracker(procedure string, names []string, b bus.EventBus, logger log.Log) *Tracker {
	if logger == nil {
		logger = log.Nop()
	}
	t := &Tracker{
		procedure: procedure,
		steps:     make([]Step, len(names)),
		bus:       b,
		log:       logger.With(log.Component("steps"), log.String("procedure", procedure)),
	}
	for i, n := range names {
		t.steps[i].Name = n
	}
	return t
}

func (t *Tracker) Procedure() string { return t.procedure }
func (t *Tracker) Len() int          { return len(t.steps) }
func (t *Tracker) Completed() bool   { return t.completed }

func (t *Tracker) Done(i int) bool {
	return i >= 0 && i < len(t.steps) && t.steps[i].Done
}

func (t *Tracker) Progress() Progress {
	return Progress{
		Procedure:   t.procedure,
		Steps:       append([]Step(nil), t.steps...),
		Completed:   t.completed,
		Completions: t.completions,
		Resets:      t.resets,
	}
}

// Set lights or clears step i. AllStepsCompleted fires on the transition to
// every step lit, and only then.
func (t *Tracker) Set(i int, done bool) {
	if i < 0 || i >= len(t.steps) || t.steps[i].Done == done {
		return
	}
	t.steps[i].Done = done
	t.log.Debug("step changed", log.String("step", t.steps[i].Name), log.Bool("done", done))
	t.publish(events.StepChanged, events.Step{Procedure: t.procedure, Step: t.steps[i].Name, Index: i, Done: done})

	all := true
	for _, s := range t.steps {
		all = all && s.Done
	}
	if all && !t.completed {
		t.completions++
		t.log.Info("all steps completed")
		t.publish(events.AllStepsCompleted, events.Step{Procedure: t.procedure, Index: len(t.steps), Done: true})
	}
	t.completed = all
}

// SetThrough lights steps 0..i.
func (t *Tracker) SetThrough(i int) {
	for j := 0; j <= i && j < len(t.steps); j++ {
		t.Set(j, true)
	}
}

// Reset clears every step. StepsReset fires only when something was lit.
func (t *Tracker) Reset() {
	lit := false
	for i := range t.steps {
		if t.steps[i].Done {
			lit = true
			t.steps[i].Done = false
		}
	}
	t.completed = false
	if !lit {
		return
	}
	t.resets++
	t.log.Info("steps reset")
	t.publish(events.StepsReset, events.Step{Procedure: t.procedure})
}

// On subscribes fn to kind on every topic listed. Subscription failures are
// collected and returned together.
func (t *Tracker) On(kind string, fn func(topic string, ev bus.Event), topics ...string) error {
	if t.bus == nil {
		return nil
	}
	var all error
	for _, topic := range topics {
		topic := topic
		sub, err := t.bus.SubscribeTopic(topic, kind, func(ev bus.Event) error {
			fn(topic, ev)
			return nil
		})
		if err != nil {
			all = errors.Join(all, err)
			continue
		}
		t.subs = append(t.subs, sub)
	}
	return all
}

// Close cancels every subscription the tracker made.
func (t *Tracker) Close() error {
	var all error
	for _, s := range t.subs {
		all = errors.Join(all, s.Cancel())
	}
	t.subs = nil
	return all
}

func (t *Tracker) publish(kind string, payload events.Step) {
	if err := events.Publish(t.bus, kind, t.procedure, payload); err != nil {
		t.log.Warn("notification handler failed", log.String("kind", kind), log.Error(err))
	}
}
