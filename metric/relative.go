package metric

import (
	"math"

	"github.com/golang/geo/r3"
	rdkutils "go.viam.com/rdk/utils"
	"gonum.org/v1/gonum/mat"

	"github.com/viamrobotics/viam-sfm-eval/pose"
)

// PairError is the error of one predicted relative pose against ground truth.
type PairError struct {
	// RotationDegrees is the angular error in degrees.
	RotationDegrees float64
	// Translation is in the unit of the ground-truth translations.
	Translation float64
}

func rotationDense(r pose.Rotation) *mat.Dense {
	return mat.NewDense(3, 3, r[:])
}

func vecDense(v r3.Vector) *mat.VecDense {
	return mat.NewVecDense(3, []float64{v.X, v.Y, v.Z})
}

// RelativePose returns the pose of camera 2 relative to camera 1: dR = R2·R1ᵀ, dT = t2 − dR·t1.
func RelativePose(p1, p2 pose.Pose) pose.Pose {
	r1 := rotationDense(p1.Rotation)
	r2 := rotationDense(p2.Rotation)

	var dR mat.Dense
	dR.Mul(r2, r1.T())

	var rotated mat.VecDense
	rotated.MulVec(&dR, vecDense(p1.Translation))

	var rel pose.Pose
	copy(rel.Rotation[:], dR.RawMatrix().Data)
	rel.Translation = p2.Translation.Sub(r3.Vector{X: rotated.AtVec(0), Y: rotated.AtVec(1), Z: rotated.AtVec(2)})
	return rel
}

// TranslationError compares directions only: the prediction is rescaled to the ground-truth
// norm, and the sign that brings it closer is used.
func TranslationError(tGT, t r3.Vector) float64 {
	scaled := t.Mul(tGT.Norm() / (t.Norm() + Eps))
	return math.Min(tGT.Sub(scaled).Norm(), tGT.Add(scaled).Norm())
}

// EvaluateRT returns the rotation and translation error of a predicted relative pose.
// Inputs are not checked for orthonormality.
func EvaluateRT(gt, pred pose.Pose) PairError {
	errQ := AngularError(QuaternionFromMatrix(gt.Rotation), QuaternionFromMatrix(pred.Rotation))
	return PairError{
		RotationDegrees: rdkutils.RadToDeg(errQ),
		Translation:     TranslationError(gt.Translation, pred.Translation),
	}
}

// EvaluatePair computes the relative poses of images i and j in both ground truth and
// prediction and returns the error between them.
func EvaluatePair(gtI, gtJ, predI, predJ pose.Pose) PairError {
	return EvaluateRT(RelativePose(gtI, gtJ), RelativePose(predI, predJ))
}
