// Package rigid holds the rigid transform type shared by the matching
// engine and its collaborators.
//
// A Transform is a rotation followed by a translation with no scale or
// shear. Matrices cross package boundaries as row-major [16]float64:
// m00,m01,m02,m03, m10,..., m33, with the translation in the last column.
package rigid

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
)

// Transform is a validated rigid transform. The zero value is not a valid
// transform; use Identity or one of the From* constructors.
type Transform struct {
	t mgl64.Vec3
	r mgl64.Mat3 // column-major, mgl64 convention
}

// IdentityMatrix4x4 is the row-major 4x4 identity.
var IdentityMatrix4x4 = [16]float64{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}

// Identity returns the identity transform.
func Identity() Transform {
	return Transform{r: mgl64.Ident3()}
}

// FromTranslation returns a pure translation.
func FromTranslation(x, y, z float64) Transform {
	return Transform{t: mgl64.Vec3{x, y, z}, r: mgl64.Ident3()}
}

// FromMatrix decodes a row-major homogeneous matrix. The bottom row must be
// [0 0 0 1] and the upper-left 3x3 block a proper rotation.
func FromMatrix(m [16]float64) (Transform, error) {
	if err := ValidateMatrix(m); err != nil {
		return Transform{}, err
	}
	return Transform{
		t: mgl64.Vec3{m[3], m[7], m[11]},
		r: rotationFromRowMajor(m),
	}, nil
}

// FromTranslationRotation builds a transform from a translation and a 3x3
// rotation matrix.
func FromTranslationRotation(t mgl64.Vec3, r mgl64.Mat3) (Transform, error) {
	if err := checkFinite(t[:]); err != nil {
		return Transform{}, err
	}
	if err := ValidateRotation(r); err != nil {
		return Transform{}, err
	}
	return Transform{t: t, r: r}, nil
}

// FromTranslationQuat builds a transform from a translation and a unit
// quaternion. Quaternions whose norm is off by more than RotationTolerance
// are rejected rather than renormalised.
func FromTranslationQuat(t mgl64.Vec3, q mgl64.Quat) (Transform, error) {
	if err := checkFinite([]float64{q.W, q.V[0], q.V[1], q.V[2]}); err != nil {
		return Transform{}, err
	}
	if n := q.Len(); n < 1-RotationTolerance || n > 1+RotationTolerance {
		return Transform{}, &DegenerateTransformError{
			Reason: fmt.Sprintf("quaternion norm %.6f is not 1", n),
		}
	}
	return FromTranslationRotation(t, q.Mat4().Mat3())
}

// Position returns the translation component.
func (x Transform) Position() mgl64.Vec3 { return x.t }

// Rotation returns the 3x3 rotation block.
func (x Transform) Rotation() mgl64.Mat3 { return x.r }

// Quat returns the rotation as a unit quaternion.
func (x Transform) Quat() mgl64.Quat {
	return mgl64.Mat4ToQuat(x.r.Mat4())
}

// Matrix returns the transform as a row-major 4x4 matrix.
func (x Transform) Matrix() [16]float64 {
	var m [16]float64
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			m[row*4+col] = x.r.At(row, col)
		}
		m[row*4+3] = x.t[row]
	}
	m[15] = 1
	return m
}

// Apply maps p from the transform's local frame into its parent frame.
func (x Transform) Apply(p mgl64.Vec3) mgl64.Vec3 {
	return x.r.Mul3x1(p).Add(x.t)
}

// Inverse returns the transform that undoes x.
func (x Transform) Inverse() Transform {
	rt := x.r.Transpose()
	return Transform{t: rt.Mul3x1(x.t).Mul(-1), r: rt}
}

// Compose returns x ∘ o: o is applied first, then x.
func (x Transform) Compose(o Transform) Transform {
	return Transform{
		t: x.r.Mul3x1(o.t).Add(x.t),
		r: x.r.Mul3(o.r),
	}
}

// Validate re-checks the invariants enforced at construction. It exists for
// values that did not come through a constructor, such as the zero value.
func (x Transform) Validate() error {
	if err := checkFinite(x.t[:]); err != nil {
		return err
	}
	return ValidateRotation(x.r)
}

// ApproxEqual reports whether every matrix component of x and o differs by
// at most eps.
func (x Transform) ApproxEqual(o Transform, eps float64) bool {
	return x.t.ApproxEqualThreshold(o.t, eps) && x.r.ApproxEqualThreshold(o.r, eps)
}

// String formats the translation and quaternion for log lines.
func (x Transform) String() string {
	q := x.Quat()
	return fmt.Sprintf("t=(%.4f, %.4f, %.4f) q=(%.4f, %.4f, %.4f, %.4f)",
		x.t[0], x.t[1], x.t[2], q.V[0], q.V[1], q.V[2], q.W)
}

// rotationFromRowMajor extracts the 3x3 block of a row-major 4x4 into the
// column-major layout mgl64 uses.
func rotationFromRowMajor(m [16]float64) mgl64.Mat3 {
	return mgl64.Mat3{
		m[0], m[4], m[8],
		m[1], m[5], m[9],
		m[2], m[6], m[10],
	}
}
