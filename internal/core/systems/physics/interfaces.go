package physics

// The physics engine is an external collaborator. The interaction core only
// configures bodies through these ports; integration and collision live in
// the engine (or in the headless reference world under internal/sim).

// Frame is anything with a world pose: anchors, snap points, bodies.
type Frame interface {
	Pose() Pose
}

// Body is a rigid body owned by the physics engine.
type Body interface {
	Frame
	ID() string
	SetPose(Pose)

	Velocity() Vec3
	SetVelocity(Vec3)
	AngularVelocity() Vec3
	SetAngularVelocity(Vec3)

	// AddForce accumulates a continuous force for the next integration step.
	AddForce(Vec3)
	// AddImpulse changes velocity immediately.
	AddImpulse(Vec3)

	// Kinematic bodies ignore forces and keep the pose they are given.
	IsKinematic() bool
	SetKinematic(bool)
}

// Static is a fixed Frame.
type Static Pose

func (s Static) Pose() Pose { return Pose(s) }

// Attachment is a Frame following a moving parent at a fixed local offset,
// e.g. a strap anchor point sewn onto the vest.
type Attachment struct {
	Parent Frame
	Local  Pose
}

func (a Attachment) Pose() Pose {
	if a.Parent == nil {
		return a.Local
	}
	return a.Parent.Pose().Compose(a.Local)
}

// Stop zeroes linear and angular velocity.
func Stop(b Body) {
	b.SetVelocity(Vec3{})
	b.SetAngularVelocity(Vec3{})
}
