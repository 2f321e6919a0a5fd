// Package sim is a headless stand-in for the engine: rigid bodies with
// semi-implicit Euler integration, a hand-driven manipulation system and
// sphere trigger volumes. It implements the same ports a real engine adapter
// would, so protocols can be exercised and scenarios replayed without one.
package sim

import (
	"github.com/zeusync/cabintrainer/internal/core/systems/physics"
)

var _ physics.Body = (*Body)(nil)

type Body struct {
	id        string
	mass      float64
	pose      physics.Pose
	vel       physics.Vec3
	angVel    physics.Vec3
	force     physics.Vec3
	kinematic bool
}

func NewBody(id string, pose physics.Pose, mass float64) *Body {
	if mass <= 0 {
		mass = 1
	}
	return &Body{id: id, mass: mass, pose: pose.Normalized()}
}

func (b *Body) ID() string                        { return b.id }
func (b *Body) Mass() float64                     { return b.mass }
func (b *Body) Pose() physics.Pose                { return b.pose }
func (b *Body) SetPose(p physics.Pose)            { b.pose = p }
func (b *Body) Velocity() physics.Vec3            { return b.vel }
func (b *Body) SetVelocity(v physics.Vec3)        { b.vel = v }
func (b *Body) AngularVelocity() physics.Vec3     { return b.angVel }
func (b *Body) SetAngularVelocity(v physics.Vec3) { b.angVel = v }
func (b *Body) IsKinematic() bool                 { return b.kinematic }
func (b *Body) PendingForce() physics.Vec3        { return b.force }

func (b *Body) AddForce(f physics.Vec3) {
	if b.kinematic {
		return
	}
	b.force = b.force.Add(f)
}

func (b *Body) AddImpulse(j physics.Vec3) {
	if b.kinematic {
		return
	}
	b.vel = b.vel.Add(j.Scale(1 / b.mass))
}

func (b *Body) SetKinematic(k bool) {
	b.kinematic = k
	if k {
		b.force = physics.Vec3{}
		physics.Stop(b)
	}
}

// Integrate advances the body by dt under the accumulated force and gravity.
func (b *Body) Integrate(dt float64, gravity physics.Vec3) {
	defer func() { b.force = physics.Vec3{} }()
	if b.kinematic {
		return
	}
	acc := b.force.Scale(1 / b.mass).Add(gravity)
	b.vel = b.vel.Add(acc.Scale(dt))
	b.pose.Position = b.pose.Position.Add(b.vel.Scale(dt))
	if w := b.angVel.Len(); w > physics.Epsilon {
		step := physics.AxisAngle(b.angVel, w*dt)
		b.pose.Rotation = step.Mul(b.pose.Rotation).Normalize()
	}
}
