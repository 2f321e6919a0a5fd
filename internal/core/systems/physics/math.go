package physics

import "math"

// Vec3 is a 3D vector in world or local units.
type Vec3 struct {
	X float64 `yaml:"x" json:"x"`
	Y float64 `yaml:"y" json:"y"`
	Z float64 `yaml:"z" json:"z"`
}

func V(x, y, z float64) Vec3 { return Vec3{X: x, Y: y, Z: z} }

func (v Vec3) Add(o Vec3) Vec3      { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }
func (v Vec3) Sub(o Vec3) Vec3      { return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }
func (v Vec3) Scale(s float64) Vec3 { return Vec3{v.X * s, v.Y * s, v.Z * s} }
func (v Vec3) Dot(o Vec3) float64   { return v.X*o.X + v.Y*o.Y + v.Z*o.Z }
func (v Vec3) Len() float64         { return math.Sqrt(v.Dot(v)) }
func (v Vec3) Dist(o Vec3) float64  { return v.Sub(o).Len() }
func (v Vec3) Lerp(o Vec3, t float64) Vec3 {
	return v.Add(o.Sub(v).Scale(t))
}

func (v Vec3) Cross(o Vec3) Vec3 {
	return Vec3{
		v.Y*o.Z - v.Z*o.Y,
		v.Z*o.X - v.X*o.Z,
		v.X*o.Y - v.Y*o.X,
	}
}

// Normalize returns the unit vector along v, or the zero vector when v has
// no length.
func (v Vec3) Normalize() Vec3 {
	l := v.Len()
	if l < Epsilon {
		return Vec3{}
	}
	return v.Scale(1 / l)
}

// Project returns the component of v along the unit direction n.
func (v Vec3) Project(n Vec3) Vec3 { return n.Scale(v.Dot(n)) }

// Midpoint of two positions.
func Midpoint(a, b Vec3) Vec3 { return a.Add(b).Scale(0.5) }

const Epsilon = 1e-9

// Quat is a unit rotation quaternion.
type Quat struct {
	W float64 `yaml:"w" json:"w"`
	X float64 `yaml:"x" json:"x"`
	Y float64 `yaml:"y" json:"y"`
	Z float64 `yaml:"z" json:"z"`
}

func Identity() Quat { return Quat{W: 1} }

// AxisAngle builds a rotation of angle radians around axis.
func AxisAngle(axis Vec3, angle float64) Quat {
	a := axis.Normalize()
	s := math.Sin(angle / 2)
	return Quat{W: math.Cos(angle / 2), X: a.X * s, Y: a.Y * s, Z: a.Z * s}
}

// IsZero reports the zero value, which yaml leaves behind when a rotation is omitted.
func (q Quat) IsZero() bool { return q == Quat{} }

func (q Quat) Dot(o Quat) float64 { return q.W*o.W + q.X*o.X + q.Y*o.Y + q.Z*o.Z }

func (q Quat) Normalize() Quat {
	l := math.Sqrt(q.Dot(q))
	if l < Epsilon {
		return Identity()
	}
	return Quat{q.W / l, q.X / l, q.Y / l, q.Z / l}
}

// Mul composes rotations: the result applies o first, then q.
func (q Quat) Mul(o Quat) Quat {
	return Quat{
		W: q.W*o.W - q.X*o.X - q.Y*o.Y - q.Z*o.Z,
		X: q.W*o.X + q.X*o.W + q.Y*o.Z - q.Z*o.Y,
		Y: q.W*o.Y - q.X*o.Z + q.Y*o.W + q.Z*o.X,
		Z: q.W*o.Z + q.X*o.Y - q.Y*o.X + q.Z*o.W,
	}
}

// Inverse of a unit quaternion.
func (q Quat) Inverse() Quat { return Quat{q.W, -q.X, -q.Y, -q.Z} }

// Rotate applies q to v.
func (q Quat) Rotate(v Vec3) Vec3 {
	u := Vec3{q.X, q.Y, q.Z}
	t := u.Cross(v).Scale(2)
	return v.Add(t.Scale(q.W)).Add(u.Cross(t))
}

// Angle between two rotations in radians.
func (q Quat) Angle(o Quat) float64 {
	d := math.Abs(q.Normalize().Dot(o.Normalize()))
	if d > 1 {
		d = 1
	}
	return 2 * math.Acos(d)
}

// Slerp interpolates along the shortest arc; t is clamped to [0,1].
func Slerp(a, b Quat, t float64) Quat {
	t = math.Max(0, math.Min(1, t))
	a, b = a.Normalize(), b.Normalize()
	d := a.Dot(b)
	if d < 0 {
		b = Quat{-b.W, -b.X, -b.Y, -b.Z}
		d = -d
	}
	if d > 0.9995 {
		return Quat{
			a.W + (b.W-a.W)*t,
			a.X + (b.X-a.X)*t,
			a.Y + (b.Y-a.Y)*t,
			a.Z + (b.Z-a.Z)*t,
		}.Normalize()
	}
	theta := math.Acos(d)
	sin := math.Sin(theta)
	wa := math.Sin((1-t)*theta) / sin
	wb := math.Sin(t*theta) / sin
	return Quat{
		a.W*wa + b.W*wb,
		a.X*wa + b.X*wb,
		a.Y*wa + b.Y*wb,
		a.Z*wa + b.Z*wb,
	}
}

// Pose is a position plus orientation. Poses are either world poses or local
// offsets relative to a parent frame.
type Pose struct {
	Position Vec3 `yaml:"position" json:"position"`
	Rotation Quat `yaml:"rotation" json:"rotation"`
}

func At(p Vec3) Pose { return Pose{Position: p, Rotation: Identity()} }

// Normalized fills in an omitted rotation with identity.
func (p Pose) Normalized() Pose {
	if p.Rotation.IsZero() {
		p.Rotation = Identity()
	} else {
		p.Rotation = p.Rotation.Normalize()
	}
	return p
}

// Compose returns the world pose of local expressed in p's frame.
func (p Pose) Compose(local Pose) Pose {
	return Pose{
		Position: p.Position.Add(p.Rotation.Rotate(local.Position)),
		Rotation: p.Rotation.Mul(local.Rotation).Normalize(),
	}
}

// Inverse is the pose that undoes p.
func (p Pose) Inverse() Pose {
	inv := p.Rotation.Inverse()
	return Pose{Position: inv.Rotate(p.Position.Scale(-1)), Rotation: inv}
}

// RelativeTo expresses p as a local offset in parent's frame.
func (p Pose) RelativeTo(parent Pose) Pose {
	return parent.Inverse().Compose(p)
}

// ApproxEqual compares positions within tol and rotations within tol radians.
func (p Pose) ApproxEqual(o Pose, tol float64) bool {
	return p.Position.Dist(o.Position) <= tol && p.Rotation.Angle(o.Rotation) <= tol
}
