package rigid

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// RotationTolerance bounds how far R^T·R may drift from identity, and det(R)
// from 1, before a rotation is considered degenerate. Inputs often arrive as
// float32 matrices, so exact orthonormality is not expected.
const RotationTolerance = 1e-4

// HomogeneousRowTolerance bounds the deviation of m33 from 1.
const HomogeneousRowTolerance = 1e-6

// DegenerateTransformError reports a rotation block that is not a proper
// rotation, or matrix data that cannot describe a rigid transform.
type DegenerateTransformError struct {
	Reason string
	Det    float64
}

func (e *DegenerateTransformError) Error() string {
	if e.Det != 0 {
		return fmt.Sprintf("degenerate transform: %s (det=%.6f)", e.Reason, e.Det)
	}
	return "degenerate transform: " + e.Reason
}

// ValidateMatrix checks that a row-major 4x4 describes a rigid transform:
// all components finite, bottom row [0 0 0 1] and a proper rotation block.
func ValidateMatrix(m [16]float64) error {
	if err := checkFinite(m[:]); err != nil {
		return err
	}
	if m[12] != 0 || m[13] != 0 || m[14] != 0 || math.Abs(m[15]-1) > HomogeneousRowTolerance {
		return &DegenerateTransformError{
			Reason: fmt.Sprintf("bottom row is [%g %g %g %g], want [0 0 0 1]", m[12], m[13], m[14], m[15]),
		}
	}
	return ValidateRotation(rotationFromRowMajor(m))
}

// ValidateRotation checks that r is orthonormal with determinant +1.
// Reflections and scaled bases are rejected; nothing is renormalised.
func ValidateRotation(r mgl64.Mat3) error {
	if err := checkFinite(r[:]); err != nil {
		return err
	}

	det := r.Det()
	if math.Abs(det-1) > RotationTolerance {
		return &DegenerateTransformError{Reason: "determinant is not +1", Det: det}
	}

	rtr := r.Transpose().Mul3(r)
	ident := mgl64.Ident3()
	for i := range rtr {
		if math.Abs(rtr[i]-ident[i]) > RotationTolerance {
			return &DegenerateTransformError{
				Reason: fmt.Sprintf("rotation is not orthonormal (R^T·R[%d]=%.6f)", i, rtr[i]),
				Det:    det,
			}
		}
	}
	return nil
}

func checkFinite(vs []float64) error {
	for i, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &DegenerateTransformError{Reason: fmt.Sprintf("component %d is not finite (%v)", i, v)}
		}
	}
	return nil
}
