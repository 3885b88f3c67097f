package metric

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
)

var (
	// ErrNoPairs is returned when accuracy is requested over zero image pairs.
	ErrNoPairs = errors.New("no image pairs to evaluate")
	// ErrThresholdLength is returned when rotation and translation thresholds differ in length.
	ErrThresholdLength = errors.New("rotation and translation thresholds must have the same length")
)

// Accuracy holds, per threshold index, the fraction of pairs within tolerance.
type Accuracy struct {
	// Joint counts a pair only when both rotation and translation pass.
	Joint       []float64
	Rotation    []float64
	Translation []float64
}

// MAA is the mean of the joint accuracy over all thresholds.
func (a Accuracy) MAA() float64 {
	return stat.Mean(a.Joint, nil)
}

// MAARotation is the mean rotation-only accuracy.
func (a Accuracy) MAARotation() float64 {
	return stat.Mean(a.Rotation, nil)
}

// MAATranslation is the mean translation-only accuracy.
func (a Accuracy) MAATranslation() float64 {
	return stat.Mean(a.Translation, nil)
}

// ComputeMAA evaluates every pair against each (thsQ[i], thsT[i]) threshold pair. Thresholds are
// inclusive.
func ComputeMAA(errs []PairError, thsQ, thsT []float64) (Accuracy, error) {
	if len(thsQ) != len(thsT) {
		return Accuracy{}, errors.Wrapf(ErrThresholdLength, "got %d and %d", len(thsQ), len(thsT))
	}
	if len(thsQ) == 0 {
		return Accuracy{}, errors.New("no thresholds given")
	}
	if len(errs) == 0 {
		return Accuracy{}, ErrNoPairs
	}

	acc := Accuracy{
		Joint:       make([]float64, len(thsQ)),
		Rotation:    make([]float64, len(thsQ)),
		Translation: make([]float64, len(thsQ)),
	}
	n := float64(len(errs))
	for i := range thsQ {
		var joint, rot, trans int
		for _, e := range errs {
			okQ := e.RotationDegrees <= thsQ[i]
			okT := e.Translation <= thsT[i]
			if okQ {
				rot++
			}
			if okT {
				trans++
			}
			if okQ && okT {
				joint++
			}
		}
		acc.Joint[i] = float64(joint) / n
		acc.Rotation[i] = float64(rot) / n
		acc.Translation[i] = float64(trans) / n
	}
	return acc, nil
}
