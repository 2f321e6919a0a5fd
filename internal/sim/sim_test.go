package sim

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/cabintrainer/internal/core/interaction"
	"github.com/zeusync/cabintrainer/internal/core/observability/log"
	"github.com/zeusync/cabintrainer/internal/core/systems"
	"github.com/zeusync/cabintrainer/internal/core/systems/physics"
	"github.com/zeusync/cabintrainer/internal/core/tags"
)

type selectable struct {
	id     string
	body   *Body
	refuse bool
	exits  []string
}

func (s *selectable) ID() string                  { return s.id }
func (s *selectable) Body() physics.Body          { return s.body }
func (s *selectable) OnSelectEntered(string) bool { return !s.refuse }

func (s *selectable) OnSelectExited(hand string) bool {
	s.exits = append(s.exits, hand)
	return true
}

type recorder struct {
	name string
	log  *[]string
	on   func(interaction.Contact)
}

func (r *recorder) OnTriggerEnter(c interaction.Contact) {
	*r.log = append(*r.log, r.name+"+"+c.Volume)
	if r.on != nil {
		r.on(c)
	}
}

func (r *recorder) OnTriggerExit(c interaction.Contact) {
	*r.log = append(*r.log, r.name+"-"+c.Volume)
}

func TestBodyIntegrates(t *testing.T) {
	b := NewBody("crate", physics.At(physics.V(0, 0, 0)), 2)
	b.AddForce(physics.V(2, 0, 0))
	b.Integrate(0.1, physics.V(0, -10, 0))

	assert.InDelta(t, 0.1, b.Velocity().X, 1e-12)
	assert.InDelta(t, -1, b.Velocity().Y, 1e-12)
	assert.InDelta(t, -0.1, b.Pose().Position.Y, 1e-12)
	assert.Equal(t, physics.Vec3{}, b.PendingForce())

	b.AddImpulse(physics.V(0, 2, 0))
	assert.InDelta(t, 0, b.Velocity().Y, 1e-12)
}

func TestKinematicBodyIgnoresForces(t *testing.T) {
	b := NewBody("head", physics.At(physics.V(0, 1.6, 0)), 0)
	assert.Equal(t, 1.0, b.Mass())
	b.SetVelocity(physics.V(1, 0, 0))
	b.SetKinematic(true)
	assert.Equal(t, physics.Vec3{}, b.Velocity())

	b.AddForce(physics.V(5, 0, 0))
	b.AddImpulse(physics.V(5, 0, 0))
	b.Integrate(0.1, physics.V(0, -10, 0))
	assert.Equal(t, physics.V(0, 1.6, 0), b.Pose().Position)
}

func TestHandsDragHeldObjects(t *testing.T) {
	h := NewHands()
	box := &selectable{id: "box", body: NewBody("box", physics.At(physics.Vec3{}), 1)}
	h.Register(box)

	require.True(t, h.Grab("left", "box"))
	assert.False(t, h.Grab("left", "box"), "a hand holds one object")
	assert.False(t, h.Grab("right", "ghost"))
	require.True(t, h.Grab("right", "box"))
	assert.Equal(t, []string{"left", "right"}, h.Holders("box"))
	assert.True(t, h.HoldsBody("box"))

	require.True(t, h.Move("left", physics.V(1, 0, 0)))
	require.True(t, h.Move("right", physics.V(3, 0, 0)))
	require.NoError(t, h.FixedUpdate(0.02))
	assert.Equal(t, physics.V(2, 0, 0), box.body.Pose().Position)

	require.True(t, h.Release("left"))
	assert.False(t, h.Release("left"))
	h.ForceRelease("box")
	assert.Empty(t, h.Holders("box"))
	assert.Equal(t, []string{"left", "right"}, box.exits)
	assert.False(t, h.Move("right", physics.V(0, 0, 0)))
}

func TestHandsRespectRefusal(t *testing.T) {
	h := NewHands()
	h.Register(&selectable{id: "locked", body: NewBody("locked", physics.At(physics.Vec3{}), 1), refuse: true})
	assert.False(t, h.Grab("left", "locked"))
	_, holding := h.Holding("left")
	assert.False(t, holding)
}

func TestTriggerEdges(t *testing.T) {
	var seen []string
	tr := NewTriggers()
	mover := NewBody("mover", physics.At(physics.V(0, 0, 0)), 1)
	_, err := tr.Add(SphereConfig{ID: "a", Tag: tags.New("Buckle"), Frame: mover, Radius: 0.1, Handler: &recorder{name: "a", log: &seen}})
	require.NoError(t, err)
	_, err = tr.Add(SphereConfig{ID: "b", Frame: physics.Static(physics.At(physics.V(1, 0, 0))), Radius: 0.1, Handler: &recorder{name: "b", log: &seen}})
	require.NoError(t, err)
	_, err = tr.Add(SphereConfig{ID: "a", Frame: mover})
	assert.ErrorIs(t, err, ErrDuplicate)
	_, err = tr.Add(SphereConfig{ID: "frameless"})
	assert.Error(t, err)

	require.NoError(t, tr.FixedUpdate(0))
	assert.Empty(t, seen)

	mover.SetPose(physics.At(physics.V(0.85, 0, 0)))
	require.NoError(t, tr.FixedUpdate(0))
	require.NoError(t, tr.FixedUpdate(0))
	assert.Equal(t, []string{"a+b", "b+a"}, seen)
	assert.True(t, tr.Overlapping("b", "a"))

	mover.SetPose(physics.At(physics.V(0, 0, 0)))
	require.NoError(t, tr.FixedUpdate(0))
	assert.Equal(t, []string{"a+b", "b+a", "a-b", "b-a"}, seen)
	assert.False(t, tr.Overlapping("a", "b"))
}

func TestTriggerDisabledMidStep(t *testing.T) {
	var seen []string
	tr := NewTriggers()
	frame := physics.Static(physics.At(physics.Vec3{}))
	b, err := tr.Add(SphereConfig{ID: "b", Frame: frame, Radius: 0.1})
	require.NoError(t, err)
	_, err = tr.Add(SphereConfig{ID: "a", Frame: frame, Radius: 0.1, Disabled: true})
	require.NoError(t, err)
	require.True(t, tr.Bind("b", nil, &recorder{name: "b", log: &seen, on: func(interaction.Contact) { b.SetEnabled(false) }}))
	require.True(t, tr.Bind("a", nil, &recorder{name: "a", log: &seen}))
	assert.False(t, tr.Bind("ghost", nil, nil))

	require.NoError(t, tr.FixedUpdate(0))
	assert.Empty(t, seen, "disabled volumes detect nothing")

	v, ok := tr.Volume("a")
	require.True(t, ok)
	v.SetEnabled(true)
	require.NoError(t, tr.FixedUpdate(0))
	assert.Equal(t, []string{"b+a"}, seen, "a never hears of b once b switched itself off")
	assert.False(t, tr.Overlapping("a", "b"))
}

func TestWorldSkipsHeldBodies(t *testing.T) {
	w := NewWorld(physics.V(0, -10, 0), nil)
	held, err := w.AddBody("held", physics.At(physics.V(0, 1, 0)), 1)
	require.NoError(t, err)
	free, err := w.AddBody("free", physics.At(physics.V(1, 1, 0)), 1)
	require.NoError(t, err)
	_, err = w.AddBody("free", physics.At(physics.Vec3{}), 1)
	assert.ErrorIs(t, err, ErrDuplicate)
	w.Hands().Register(&selectable{id: "held", body: held})
	require.True(t, w.Hands().Grab("left", "held"))

	m := systems.NewManager(systems.Options{FixedStep: 0.1, MaxSubsteps: 5}, log.Nop())
	for _, sys := range w.Systems() {
		require.NoError(t, m.Register(sys))
	}
	require.NoError(t, m.Initialize(context.Background()))
	require.NoError(t, m.FixedStepOnce())

	assert.Equal(t, physics.V(0, 1, 0), held.Pose().Position)
	assert.Less(t, free.Pose().Position.Y, 1.0)
	got, ok := w.Body("free")
	require.True(t, ok)
	assert.Same(t, free, got)
	assert.Equal(t, []string{"sim.hands", "sim.integrate", "physics.hierarchy", "sim.triggers"}, m.ExecutionOrder())
}
