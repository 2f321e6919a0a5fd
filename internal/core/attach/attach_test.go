package attach

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/cabintrainer/internal/core/connector"
	"github.com/zeusync/cabintrainer/internal/core/events"
	"github.com/zeusync/cabintrainer/internal/core/events/bus"
	"github.com/zeusync/cabintrainer/internal/core/interaction"
	"github.com/zeusync/cabintrainer/internal/core/observability/log"
	"github.com/zeusync/cabintrainer/internal/core/systems"
	"github.com/zeusync/cabintrainer/internal/core/systems/physics"
	"github.com/zeusync/cabintrainer/internal/core/tags"
	"github.com/zeusync/cabintrainer/internal/sim"
)

const tol = 1e-9

type rig struct {
	world *sim.World
	mgr   *systems.Manager
	bus   bus.EventBus
	env   interaction.Env
	seen  []string
}

func newRig(t *testing.T) *rig {
	t.Helper()
	h := physics.NewHierarchy()
	w := sim.NewWorld(physics.Vec3{}, h)
	b := bus.New()
	r := &rig{
		world: w,
		mgr:   systems.NewManager(systems.DefaultOptions(), log.Nop()),
		bus:   b,
		env:   interaction.Env{Manipulator: w.Hands(), Hierarchy: h, Bus: b, Log: log.Nop()},
	}
	for _, s := range w.Systems() {
		require.NoError(t, r.mgr.Register(s))
	}
	return r
}

func (r *rig) record(t *testing.T, topic string, kinds ...string) {
	t.Helper()
	for _, kind := range kinds {
		_, err := r.bus.SubscribeTopic(topic, kind, func(ev bus.Event) error {
			r.seen = append(r.seen, ev.Type()+":"+ev.Source())
			return nil
		})
		require.NoError(t, err)
	}
}

func (r *rig) object(t *testing.T, id string, pose physics.Pose) *interaction.Object {
	t.Helper()
	body, err := r.world.AddBody(id, pose, 1)
	require.NoError(t, err)
	obj := interaction.NewObject(interaction.ObjectConfig{ID: id}, body, r.env)
	r.world.Hands().Register(obj)
	return obj
}

func (r *rig) volume(t *testing.T, id string, frame physics.Frame, tag string, radius float64) *sim.Sphere {
	t.Helper()
	vol, err := r.world.Triggers().Add(sim.SphereConfig{ID: id, Tag: tags.New(tag), Frame: frame, Radius: radius})
	require.NoError(t, err)
	return vol
}

// strap builds a vest child connector hanging in the vest's rigid group.
func (r *rig) strap(t *testing.T, id string, vest *physics.RigidGroup, local physics.Vec3) *connector.Endpoint {
	t.Helper()
	obj := r.object(t, id, vest.Root().Pose().Compose(physics.At(local)))
	r.world.Hierarchy().Reparent(obj.Body(), vest)
	vol := r.volume(t, id+"/trigger", obj.Body(), "strap", 0.03)
	snap := physics.At(physics.V(0, 0, 0.01))
	e := connector.NewEndpoint(connector.Config{
		ID:          id,
		Tag:         tags.New("strap"),
		SnapFrame:   &snap,
		AllowUnheld: true,
	}, obj, vol, r.env)
	r.world.Triggers().Bind(vol.ID(), e, e)
	r.record(t, id, events.Connected, events.Disconnected)
	return e
}

type vestRig struct {
	*rig
	vest     *Assembly
	anchor   *Anchor
	children []*connector.Endpoint
}

func newVestRig(t *testing.T, children int) *vestRig {
	t.Helper()
	r := newRig(t)
	obj := r.object(t, "vest", physics.At(physics.V(0, 1, 1)))
	vestGroup := physics.NewRigidGroup("vest", obj.Body())
	var eps []*connector.Endpoint
	for i := 0; i < children; i++ {
		id := string(rune('a'+i)) + "_strap"
		eps = append(eps, r.strap(t, id, vestGroup, physics.V(float64(i)*0.1, -0.2, 0)))
	}
	vol := r.volume(t, "vest/trigger", obj.Body(), "vest", 0.2)
	vest := NewAssembly(Config{ID: "vest", AttachOffset: physics.At(physics.V(0, -0.1, 0))}, obj, vol, eps, r.env)
	r.world.Triggers().Bind(vol.ID(), vest, vest)
	r.record(t, "vest", events.Attached, events.Detached)

	torso := physics.Static(physics.At(physics.V(0, 1.3, 0)))
	anchor := &Anchor{ID: "torso", Tag: tags.New(DefaultAnchorTag), Frame: torso}
	r.volume(t, "torso/trigger", torso, DefaultAnchorTag, 0.1)
	r.world.Triggers().Bind("torso/trigger", anchor, nil)
	return &vestRig{rig: r, vest: vest, anchor: anchor, children: eps}
}

func assertInteractive(t *testing.T, want bool, eps ...*connector.Endpoint) {
	t.Helper()
	for _, e := range eps {
		assert.Equal(t, want, e.IsInteractive(), e.ID())
		assert.Equal(t, want, e.Object().IsManipulable(), e.ID())
	}
}

func TestVestScenario(t *testing.T) {
	r := newVestRig(t, 4)
	a, b, c, d := r.children[0], r.children[1], r.children[2], r.children[3]

	require.Equal(t, Detached, r.vest.State())
	assertInteractive(t, false, r.children...)
	assert.False(t, connector.TryConnect(a, b))

	require.True(t, r.vest.TryAttach(r.anchor))
	assert.True(t, r.vest.IsAttached())
	assert.Same(t, r.anchor, r.vest.Anchor())
	assertInteractive(t, true, r.children...)

	require.True(t, connector.TryConnect(a, b))
	assert.False(t, r.vest.CanDetach())
	assert.False(t, r.vest.Detach())
	assert.True(t, r.vest.IsAttached())

	require.True(t, a.Disconnect())
	require.True(t, connector.TryConnect(c, d))
	assert.False(t, r.vest.Detach())
	require.True(t, d.Disconnect())

	assert.True(t, r.vest.CanDetach())
	require.True(t, r.vest.Detach())
	assert.Equal(t, Detached, r.vest.State())
	assert.Nil(t, r.vest.Anchor())
	assertInteractive(t, false, r.children...)
	assert.True(t, r.vest.Object().IsManipulable())
	assert.False(t, r.vest.Object().Body().IsKinematic())

	assert.Equal(t, []string{
		events.Attached + ":vest",
		events.Connected + ":a_strap",
		events.Connected + ":b_strap",
		events.Disconnected + ":a_strap",
		events.Disconnected + ":b_strap",
		events.Connected + ":c_strap",
		events.Connected + ":d_strap",
		events.Disconnected + ":d_strap",
		events.Disconnected + ":c_strap",
		events.Detached + ":vest",
	}, r.seen)
}

func TestAttachByTriggerSnapsAndReleases(t *testing.T) {
	r := newVestRig(t, 2)
	require.True(t, r.world.Hands().Grab("right_hand", "vest"))

	r.world.Hands().Move("right_hand", physics.V(0, 1.25, 0.1))
	require.NoError(t, r.mgr.FixedStepOnce())

	require.True(t, r.vest.IsAttached())
	assert.False(t, r.vest.Object().IsHeld())
	assert.Empty(t, r.world.Hands().Holders("vest"))
	assert.False(t, r.world.Hands().Grab("left_hand", "vest"))

	want := physics.V(0, 1.2, 0)
	assert.InDelta(t, 0, r.vest.Object().Body().Pose().Position.Dist(want), tol)

	// straps hang from the vest and move with it
	for i := 0; i < 3; i++ {
		require.NoError(t, r.mgr.FixedStepOnce())
	}
	strap := r.children[1].Object().Body().Pose().Position
	assert.InDelta(t, 0, strap.Dist(physics.V(0.1, 1.0, 0)), tol)

	// still touching the anchor, the state guard keeps it a single attach
	assert.False(t, r.vest.TryAttach(r.anchor))
	assert.Equal(t, []string{events.Attached + ":vest"}, r.seen)
}

func TestAttachedVolumeStaysQuietUntilAnchorClears(t *testing.T) {
	r := newVestRig(t, 0)
	vol := r.vest.Volume()
	body := r.vest.Object().Body()

	body.SetPose(physics.At(physics.V(0, 1.2, 0)))
	require.NoError(t, r.mgr.FixedStepOnce())
	require.True(t, r.vest.IsAttached())
	assert.False(t, vol.Enabled())

	require.True(t, r.vest.Detach())
	assert.True(t, vol.Enabled())

	// still on the torso, the volume re-enters the anchor but does not reattach
	for i := 0; i < 3; i++ {
		require.NoError(t, r.mgr.FixedStepOnce())
	}
	assert.False(t, r.vest.IsAttached())

	body.SetPose(physics.At(physics.V(0, 1, 1)))
	require.NoError(t, r.mgr.FixedStepOnce())
	body.SetPose(physics.At(physics.V(0, 1.2, 0)))
	require.NoError(t, r.mgr.FixedStepOnce())
	assert.True(t, r.vest.IsAttached())

	assert.Equal(t, []string{
		events.Attached + ":vest",
		events.Detached + ":vest",
		events.Attached + ":vest",
	}, r.seen)
}

func TestAttachFollowsMovingAnchor(t *testing.T) {
	r := newRig(t)
	seat, err := r.world.AddBody("seat", physics.At(physics.V(0, 0, 0)), 10)
	require.NoError(t, err)
	seat.SetKinematic(true)

	obj := r.object(t, "mask", physics.At(physics.V(1, 1, 1)))
	vol := r.volume(t, "mask/trigger", obj.Body(), "mask", 0.05)
	mask := NewAssembly(Config{ID: "mask", AnchorTag: tags.New("FaceAnchor")}, obj, vol, nil, r.env)

	face := &Anchor{ID: "face", Tag: tags.New("FaceAnchor"), Frame: physics.Attachment{Parent: seat, Local: physics.At(physics.V(0, 1.6, 0))}}
	require.True(t, mask.TryAttach(face))

	seat.SetPose(physics.At(physics.V(0, 0, 2)))
	require.NoError(t, r.mgr.FixedStepOnce())
	assert.InDelta(t, 0, obj.Body().Pose().Position.Dist(physics.V(0, 1.6, 2)), tol)

	require.True(t, mask.Detach())
	assert.Nil(t, obj.Parent())
	assert.InDelta(t, 0, obj.Body().Pose().Position.Dist(physics.V(0, 1.6, 2)), tol)
}

func TestAttachRejectsWrongTagAndRepeats(t *testing.T) {
	r := newVestRig(t, 0)
	wrong := &Anchor{ID: "face", Tag: tags.New("FaceAnchor"), Frame: physics.Static(physics.At(physics.Vec3{}))}

	assert.False(t, r.vest.TryAttach(wrong))
	assert.False(t, r.vest.TryAttach(nil))
	assert.False(t, r.vest.Detach())
	assert.False(t, r.vest.ForceDetach())

	require.True(t, r.vest.TryAttach(r.anchor))
	assert.False(t, r.vest.TryAttach(r.anchor))
	assert.Equal(t, []string{events.Attached + ":vest"}, r.seen)
}

func TestAnchorWithoutFrameIsRejected(t *testing.T) {
	r := newVestRig(t, 1)
	broken := &Anchor{ID: "torso", Tag: tags.New(DefaultAnchorTag)}
	require.ErrorIs(t, broken.Validate(), ErrMissingAnchor)
	require.NoError(t, r.anchor.Validate())

	assert.False(t, r.vest.TryAttach(broken))
	assert.Equal(t, Detached, r.vest.State())
	assert.True(t, r.vest.Object().IsManipulable())
}

func TestForceDetachCascades(t *testing.T) {
	r := newVestRig(t, 2)
	a, b := r.children[0], r.children[1]
	require.True(t, r.vest.TryAttach(r.anchor))
	require.True(t, connector.TryConnect(a, b))

	require.True(t, r.vest.ForceDetach())
	assert.False(t, a.IsConnected())
	assert.False(t, b.IsConnected())
	assertInteractive(t, false, a, b)
	assert.Equal(t, events.Detached+":vest", r.seen[len(r.seen)-1])
}

func TestDetachRestoresPreviousParent(t *testing.T) {
	r := newRig(t)
	cart, err := r.world.AddBody("cart", physics.At(physics.V(2, 0, 0)), 5)
	require.NoError(t, err)
	cartGroup := physics.NewRigidGroup("cart", cart)

	obj := r.object(t, "vest", physics.At(physics.V(2, 0.5, 0)))
	r.world.Hierarchy().Reparent(obj.Body(), cartGroup)
	vol := r.volume(t, "vest/trigger", obj.Body(), "vest", 0.1)
	vest := NewAssembly(Config{ID: "vest"}, obj, vol, nil, r.env)

	anchor := &Anchor{ID: "torso", Tag: tags.New(DefaultAnchorTag), Frame: physics.Static(physics.At(physics.V(0, 1.3, 0)))}
	require.True(t, vest.TryAttach(anchor))
	assert.NotSame(t, cartGroup, obj.Parent())

	require.True(t, vest.Detach())
	assert.Same(t, cartGroup, obj.Parent())
}

func TestMisconfiguredAssemblyNeverAttaches(t *testing.T) {
	r := newRig(t)
	obj := r.object(t, "vest", physics.At(physics.Vec3{}))
	vest := NewAssembly(Config{ID: "vest"}, obj, nil, nil, r.env)
	require.ErrorIs(t, vest.ConfigErr(), ErrMissingTrigger)

	anchor := &Anchor{ID: "torso", Tag: tags.New(DefaultAnchorTag), Frame: physics.Static(physics.At(physics.Vec3{}))}
	assert.False(t, vest.TryAttach(anchor))
	assert.Equal(t, Detached, vest.State())

	empty := NewAssembly(Config{}, nil, nil, nil, r.env)
	assert.ErrorIs(t, empty.ConfigErr(), ErrMissingID)
	assert.ErrorIs(t, empty.ConfigErr(), ErrMissingObject)
}
