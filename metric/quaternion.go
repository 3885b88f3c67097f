// Package metric implements the pairwise relative pose error and mean average accuracy used to
// score pose submissions.
package metric

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"

	"github.com/viamrobotics/viam-sfm-eval/pose"
)

// Eps guards every division by a norm.
const Eps = 1e-15

// QuaternionFromMatrix returns the unit quaternion of a rotation matrix, scalar part
// non-negative. The quaternion is the eigenvector of the symmetric matrix K for its largest
// eigenvalue, which stays accurate for matrices that are not exactly orthonormal.
// Inputs that cannot be factorized (NaN entries) yield the zero quaternion.
func QuaternionFromMatrix(r pose.Rotation) quat.Number {
	m00, m01, m02 := r.At(0, 0), r.At(0, 1), r.At(0, 2)
	m10, m11, m12 := r.At(1, 0), r.At(1, 1), r.At(1, 2)
	m20, m21, m22 := r.At(2, 0), r.At(2, 1), r.At(2, 2)

	k := mat.NewSymDense(4, []float64{
		m00 - m11 - m22, m01 + m10, m02 + m20, m21 - m12,
		m01 + m10, m11 - m00 - m22, m12 + m21, m02 - m20,
		m02 + m20, m12 + m21, m22 - m00 - m11, m10 - m01,
		m21 - m12, m02 - m20, m10 - m01, m00 + m11 + m22,
	})
	k.ScaleSym(1.0/3.0, k)

	var eig mat.EigenSym
	if ok := eig.Factorize(k, true); !ok {
		return quat.Number{}
	}
	values := eig.Values(nil)
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	// K's eigenvector is ordered (x, y, z, w).
	q := quat.Number{
		Real: vectors.At(3, best),
		Imag: vectors.At(0, best),
		Jmag: vectors.At(1, best),
		Kmag: vectors.At(2, best),
	}
	if q.Real < 0 {
		q = quat.Scale(-1, q)
	}
	return q
}

// MatrixFromQuaternion returns the rotation matrix of q. q is normalized first; the zero
// quaternion maps to the identity.
func MatrixFromQuaternion(q quat.Number) pose.Rotation {
	n := quat.Abs(q)
	if n < Eps {
		return pose.IdentityRotation
	}
	q = quat.Scale(1/n, q)
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return pose.Rotation{
		1 - 2*(y*y+z*z), 2 * (x*y - z*w), 2 * (x*z + y*w),
		2 * (x*y + z*w), 1 - 2*(x*x+z*z), 2 * (y*z - x*w),
		2 * (x*z - y*w), 2 * (y*z + x*w), 1 - 2*(x*x+y*y),
	}
}

func normalize(q quat.Number) quat.Number {
	return quat.Scale(1/(quat.Abs(q)+Eps), q)
}

func dot(a, b quat.Number) float64 {
	return a.Real*b.Real + a.Imag*b.Imag + a.Jmag*b.Jmag + a.Kmag*b.Kmag
}

// AngularError returns the angle in radians between the rotations represented by q and qGT.
// It depends only on the squared dot product, so q and -q give the same result.
func AngularError(qGT, q quat.Number) float64 {
	q = normalize(q)
	qGT = normalize(qGT)
	d := dot(q, qGT)
	loss := math.Max(Eps, 1-d*d)
	return math.Acos(1 - 2*loss)
}
