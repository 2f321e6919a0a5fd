package interaction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/cabintrainer/internal/core/events"
	"github.com/zeusync/cabintrainer/internal/core/events/bus"
	"github.com/zeusync/cabintrainer/internal/core/systems/physics"
)

// fakeHands is a manipulation system that calls back into the objects it holds.
type fakeHands struct {
	objects map[string]*Object
	held    map[string][]string
}

func newFakeHands() *fakeHands {
	return &fakeHands{objects: map[string]*Object{}, held: map[string][]string{}}
}

func (h *fakeHands) grab(o *Object, hand string) bool {
	h.objects[o.ID()] = o
	if !o.OnSelectEntered(hand) {
		return false
	}
	h.held[o.ID()] = append(h.held[o.ID()], hand)
	return true
}

func (h *fakeHands) Holders(id string) []string { return append([]string(nil), h.held[id]...) }

func (h *fakeHands) ForceRelease(id string) {
	hands := h.held[id]
	delete(h.held, id)
	for _, hand := range hands {
		h.objects[id].OnSelectExited(hand)
	}
}

type staticBody struct {
	id   string
	pose physics.Pose
}

func (b *staticBody) ID() string             { return b.id }
func (b *staticBody) Pose() physics.Pose     { return b.pose }
func (b *staticBody) SetPose(p physics.Pose) { b.pose = p }
func (b *staticBody) Velocity() physics.Vec3            { return physics.Vec3{} }
func (b *staticBody) SetVelocity(physics.Vec3)          {}
func (b *staticBody) AngularVelocity() physics.Vec3     { return physics.Vec3{} }
func (b *staticBody) SetAngularVelocity(physics.Vec3)   {}
func (b *staticBody) AddForce(physics.Vec3)             {}
func (b *staticBody) AddImpulse(physics.Vec3)           {}
func (b *staticBody) IsKinematic() bool { return false }
func (b *staticBody) SetKinematic(bool)                 {}

func newTestObject(t *testing.T, max int) (*Object, *fakeHands, bus.EventBus) {
	t.Helper()
	hands := newFakeHands()
	b := bus.New()
	env := Env{Manipulator: hands, Hierarchy: physics.NewHierarchy(), Bus: b}
	o := NewObject(ObjectConfig{ID: "bag", MaxHolders: max}, &staticBody{id: "bag"}, env)
	return o, hands, b
}

func TestExclusiveObjectRejectsSecondHolder(t *testing.T) {
	o, hands, _ := newTestObject(t, 0)

	assert.True(t, hands.grab(o, "left_hand"))
	assert.False(t, hands.grab(o, "right_hand"))
	assert.Equal(t, 1, o.HolderCount())
	assert.True(t, o.Exclusive())
}

func TestDualObjectCountsBothHands(t *testing.T) {
	o, hands, b := newTestObject(t, 2)
	var grabbed []events.Hold
	_, err := b.SubscribeTopic("bag", events.ObjectGrabbed, func(e bus.Event) error {
		grabbed = append(grabbed, e.Data().(events.Hold))
		return nil
	})
	require.NoError(t, err)

	require.True(t, hands.grab(o, "left_hand"))
	require.True(t, hands.grab(o, "right_hand"))
	assert.False(t, hands.grab(o, "left_hand"))

	assert.Equal(t, []string{"left_hand", "right_hand"}, o.Holders())
	require.Len(t, grabbed, 2)
	assert.Equal(t, 2, grabbed[1].Holders)
}

func TestForceReleaseIsIdempotent(t *testing.T) {
	o, hands, _ := newTestObject(t, 2)
	var changes []HoldChange
	o.OnHoldChanged(func(c HoldChange) { changes = append(changes, c) })

	hands.grab(o, "left_hand")
	hands.grab(o, "right_hand")
	o.ForceRelease()
	o.ForceRelease()

	assert.Equal(t, 0, o.HolderCount())
	assert.Empty(t, hands.Holders("bag"))
	require.Len(t, changes, 4)
	assert.False(t, changes[3].Entered)
	assert.Equal(t, 0, changes[3].After)
}

func TestSetManipulableFalseReleasesAndBlocks(t *testing.T) {
	o, hands, _ := newTestObject(t, 1)
	hands.grab(o, "right_hand")

	o.SetManipulable(false)
	assert.False(t, o.IsHeld())
	assert.False(t, hands.grab(o, "right_hand"))

	o.SetManipulable(true)
	assert.True(t, hands.grab(o, "right_hand"))
}

func TestReconcileFollowsLiveSelection(t *testing.T) {
	o, hands, _ := newTestObject(t, 2)
	hands.objects["bag"] = o
	hands.held["bag"] = []string{"left_hand", "right_hand"}

	o.Reconcile()
	assert.Equal(t, 2, o.HolderCount())

	hands.held["bag"] = []string{"right_hand"}
	o.Reconcile()
	assert.Equal(t, []string{"right_hand"}, o.Holders())
}

func TestHoldSubscriptionCancelIsSymmetric(t *testing.T) {
	o, hands, _ := newTestObject(t, 1)
	calls := 0
	cancel := o.OnHoldChanged(func(HoldChange) { calls++ })
	assert.Equal(t, 1, o.ListenerCount())

	cancel()
	cancel()
	hands.grab(o, "left_hand")

	assert.Equal(t, 0, calls)
	assert.Equal(t, 0, o.ListenerCount())
}

func TestAttachPointBySide(t *testing.T) {
	hands := newFakeHands()
	o := NewObject(ObjectConfig{
		ID:         "bag",
		MaxHolders: 2,
		AttachPoints: map[Side]physics.Pose{
			SideLeft:  physics.At(physics.V(-0.2, 0, 0)),
			SideRight: physics.At(physics.V(0.2, 0, 0)),
		},
	}, &staticBody{id: "bag"}, Env{Manipulator: hands})

	p, ok := o.AttachPointFor("LeftHand Controller")
	require.True(t, ok)
	assert.Equal(t, -0.2, p.Position.X)

	_, ok = o.AttachPointFor("gaze")
	assert.False(t, ok)
	assert.Equal(t, "right", SideOf("XR Right Direct Interactor").String())
}
