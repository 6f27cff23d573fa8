package mapping

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Transform is a rigid transform: rotation (unit quaternion) followed by
// translation. The zero value is not valid; use Identity or NewTransform.
type Transform struct {
	Rotation    quat.Number
	Translation r3.Vec
}

// Identity returns the identity transform.
func Identity() Transform {
	return Transform{Rotation: quat.Number{Real: 1}}
}

// NewTransform builds a transform from a rotation quaternion and translation.
// The quaternion is normalised so callers may pass unnormalised values.
func NewTransform(rot quat.Number, trans r3.Vec) Transform {
	n := quat.Abs(rot)
	if n == 0 {
		rot = quat.Number{Real: 1}
	} else {
		rot = quat.Scale(1/n, rot)
	}
	return Transform{Rotation: rot, Translation: trans}
}

// RotationAboutZ returns a transform rotating by angle radians about the
// world Z axis with the given translation. Convenient for planar test rigs.
func RotationAboutZ(angle float64, trans r3.Vec) Transform {
	half := angle / 2
	return Transform{
		Rotation:    quat.Number{Real: math.Cos(half), Kmag: math.Sin(half)},
		Translation: trans,
	}
}

// Apply maps a point from the source frame into the target frame.
func (t Transform) Apply(p r3.Vec) r3.Vec {
	q := quat.Mul(quat.Mul(t.Rotation, quat.Number{Imag: p.X, Jmag: p.Y, Kmag: p.Z}), quat.Conj(t.Rotation))
	return r3.Vec{
		X: q.Imag + t.Translation.X,
		Y: q.Jmag + t.Translation.Y,
		Z: q.Kmag + t.Translation.Z,
	}
}

// Compose returns the transform equivalent to applying o first, then t.
func (t Transform) Compose(o Transform) Transform {
	return Transform{
		Rotation:    quat.Mul(t.Rotation, o.Rotation),
		Translation: t.Apply(o.Translation),
	}
}

// Inverse returns the inverse rigid transform.
func (t Transform) Inverse() Transform {
	inv := quat.Conj(t.Rotation)
	q := quat.Mul(quat.Mul(inv, quat.Number{
		Imag: -t.Translation.X,
		Jmag: -t.Translation.Y,
		Kmag: -t.Translation.Z,
	}), t.Rotation)
	return Transform{
		Rotation:    inv,
		Translation: r3.Vec{X: q.Imag, Y: q.Jmag, Z: q.Kmag},
	}
}

// IsIdentity reports whether the transform is the identity within eps.
func (t Transform) IsIdentity(eps float64) bool {
	if r3.Norm(t.Translation) > eps {
		return false
	}
	// Both q and -q encode the same rotation.
	d := math.Min(
		quat.Abs(quat.Sub(t.Rotation, quat.Number{Real: 1})),
		quat.Abs(quat.Add(t.Rotation, quat.Number{Real: 1})),
	)
	return d <= eps
}
