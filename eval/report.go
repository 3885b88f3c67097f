package eval

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/viamrobotics/viam-sfm-eval/metric"
)

// SceneResult is the score of one scene.
type SceneResult struct {
	Dataset   string
	Scene     string
	NumImages int
	NumPairs  int
	// Undefined is set when the scene has no image pairs; the scores are then NaN.
	Undefined      bool
	Accuracy       metric.Accuracy
	MAA            float64
	MAARotation    float64
	MAATranslation float64
}

// DatasetResult is the mean score of the defined scenes of a dataset.
type DatasetResult struct {
	Name      string
	Scenes    []SceneResult
	Undefined bool
	MAA       float64
}

// Report is the result of one evaluation run.
type Report struct {
	Datasets []DatasetResult
	// MAA is the mean over defined datasets.
	MAA      float64
	Duration time.Duration
}

// Scene returns the result of a scene.
func (r *Report) Scene(dataset, scene string) (SceneResult, bool) {
	for _, ds := range r.Datasets {
		if ds.Name != dataset {
			continue
		}
		for _, res := range ds.Scenes {
			if res.Scene == scene {
				return res, true
			}
		}
	}
	return SceneResult{}, false
}

// Dataset returns the result of a dataset.
func (r *Report) Dataset(name string) (DatasetResult, bool) {
	for _, ds := range r.Datasets {
		if ds.Name == name {
			return ds, true
		}
	}
	return DatasetResult{}, false
}

// WriteTo writes the per-scene and per-dataset breakdown followed by the final metric.
func (r *Report) WriteTo(w io.Writer) (int64, error) {
	var sb strings.Builder
	sb.WriteString("*** METRICS ***\n")
	for _, ds := range r.Datasets {
		for _, res := range ds.Scenes {
			if res.Undefined {
				fmt.Fprintf(&sb, "%s / %s (%d images, %d pairs) -> mAA=undefined\n",
					res.Dataset, res.Scene, res.NumImages, res.NumPairs)
				continue
			}
			fmt.Fprintf(&sb, "%s / %s (%d images, %d pairs) -> mAA=%.06f, mAA_q=%.06f, mAA_t=%.06f\n",
				res.Dataset, res.Scene, res.NumImages, res.NumPairs, res.MAA, res.MAARotation, res.MAATranslation)
		}
		if ds.Undefined {
			fmt.Fprintf(&sb, "%s -> mAA=undefined\n\n", ds.Name)
		} else {
			fmt.Fprintf(&sb, "%s -> mAA=%.06f\n\n", ds.Name, ds.MAA)
		}
	}
	fmt.Fprintf(&sb, "Final metric -> mAA=%.06f (t: %s)\n", r.MAA, r.Duration)
	n, err := io.WriteString(w, sb.String())
	return int64(n), err
}

func (r *Report) String() string {
	var sb strings.Builder
	//nolint:errcheck
	r.WriteTo(&sb)
	return sb.String()
}
