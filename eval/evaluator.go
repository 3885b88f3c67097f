// Package eval scores a pose submission against ground truth with the mean average accuracy
// of pairwise relative poses, averaged per scene, then per dataset, then overall.
package eval

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"
	"gonum.org/v1/gonum/stat"

	"github.com/viamrobotics/viam-sfm-eval/metric"
	"github.com/viamrobotics/viam-sfm-eval/pose"
	"github.com/viamrobotics/viam-sfm-eval/thresholds"
)

// ErrNoScorableScenes is returned when no scene in the ground truth has at least two images.
var ErrNoScorableScenes = errors.New("no scene with at least two images to score")

// Evaluator scores submissions against a fixed threshold table.
type Evaluator struct {
	thresholds *thresholds.Table
	logger     golog.Logger
}

// New returns an evaluator that looks up per-scene thresholds in table.
func New(table *thresholds.Table, logger golog.Logger) *Evaluator {
	return &Evaluator{thresholds: table, logger: logger}
}

// sceneJob is one unit of parallel work.
type sceneJob struct {
	dataset string
	scene   string
	gt      pose.Scene
	pred    pose.Scene
	ths     thresholds.Thresholds
}

// Evaluate checks that submission covers groundTruth, then scores every ground-truth scene.
// Scenes are scored concurrently; the report does not depend on scheduling.
func (e *Evaluator) Evaluate(ctx context.Context, submission, groundTruth pose.Registry) (*Report, error) {
	ctx, span := trace.StartSpan(ctx, "eval::Evaluator::Evaluate")
	defer span.End()

	start := time.Now()
	if err := pose.CheckCoverage(groundTruth, submission); err != nil {
		return nil, err
	}

	var jobs []sceneJob
	for _, dsName := range groundTruth.Datasets() {
		for _, sceneName := range groundTruth[dsName].Scenes() {
			ths, ok := e.thresholds.Lookup(dsName, sceneName)
			if !ok {
				return nil, errors.Errorf("no thresholds configured for scene %s->%s", dsName, sceneName)
			}
			jobs = append(jobs, sceneJob{
				dataset: dsName,
				scene:   sceneName,
				gt:      groundTruth[dsName][sceneName],
				pred:    submission[dsName][sceneName],
				ths:     ths,
			})
		}
	}

	results := make([]SceneResult, len(jobs))
	errs := make([]error, len(jobs))
	var wg sync.WaitGroup
	for i := range jobs {
		if err := ctx.Err(); err != nil {
			wg.Wait()
			return nil, err
		}
		wg.Add(1)
		iLoop := i
		goutils.PanicCapturingGo(func() {
			defer wg.Done()
			job := jobs[iLoop]
			results[iLoop], errs[iLoop] = ScoreScene(job.dataset, job.scene, job.gt, job.pred, job.ths)
		})
	}
	wg.Wait()
	if err := multierr.Combine(errs...); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report := e.aggregate(results)
	report.Duration = time.Since(start)
	if math.IsNaN(report.MAA) {
		return report, ErrNoScorableScenes
	}
	return report, nil
}

// ScoreScene computes the accuracy of one scene over all its image pairs. A scene with fewer
// than two images has no pairs and is marked undefined.
func ScoreScene(dataset, scene string, gt, pred pose.Scene, ths thresholds.Thresholds) (SceneResult, error) {
	errs := PairErrors(gt, pred)
	res := SceneResult{
		Dataset:   dataset,
		Scene:     scene,
		NumImages: len(gt),
		NumPairs:  len(errs),
	}
	if len(errs) == 0 {
		res.Undefined = true
		res.MAA, res.MAARotation, res.MAATranslation = math.NaN(), math.NaN(), math.NaN()
		return res, nil
	}
	acc, err := metric.ComputeMAA(errs, ths.RotationDegrees, ths.Translation)
	if err != nil {
		return res, errors.Wrapf(err, "scene %s->%s", dataset, scene)
	}
	res.Accuracy = acc
	res.MAA = acc.MAA()
	res.MAARotation = acc.MAARotation()
	res.MAATranslation = acc.MAATranslation()
	return res, nil
}

// PairErrors returns the error of every unordered image pair of a scene. Images are enumerated
// in sorted order and pairs (i, j) with i < j. Every ground-truth image must be in pred.
func PairErrors(gt, pred pose.Scene) []metric.PairError {
	images := gt.Images()
	if len(images) < 2 {
		return nil
	}
	errs := make([]metric.PairError, 0, len(images)*(len(images)-1)/2)
	for i := 0; i < len(images); i++ {
		for j := i + 1; j < len(images); j++ {
			errs = append(errs, metric.EvaluatePair(
				gt[images[i]], gt[images[j]],
				pred[images[i]], pred[images[j]],
			))
		}
	}
	return errs
}

// aggregate averages defined scenes per dataset and defined datasets overall.
func (e *Evaluator) aggregate(scenes []SceneResult) *Report {
	report := &Report{}
	// scenes arrive grouped by dataset
	for _, res := range scenes {
		last := len(report.Datasets) - 1
		if last < 0 || report.Datasets[last].Name != res.Dataset {
			report.Datasets = append(report.Datasets, DatasetResult{Name: res.Dataset})
			last++
		}
		if res.Undefined {
			e.logger.Warnw("scene has fewer than two images, excluding it from the dataset score",
				"dataset", res.Dataset, "scene", res.Scene, "images", res.NumImages)
		}
		report.Datasets[last].Scenes = append(report.Datasets[last].Scenes, res)
	}

	var datasetScores []float64
	for i := range report.Datasets {
		ds := &report.Datasets[i]
		var sceneScores []float64
		for _, res := range ds.Scenes {
			if !res.Undefined {
				sceneScores = append(sceneScores, res.MAA)
			}
		}
		if len(sceneScores) == 0 {
			ds.Undefined = true
			ds.MAA = math.NaN()
			e.logger.Warnw("dataset has no scorable scene, excluding it from the final score", "dataset", ds.Name)
			continue
		}
		ds.MAA = stat.Mean(sceneScores, nil)
		datasetScores = append(datasetScores, ds.MAA)
	}

	if len(datasetScores) == 0 {
		report.MAA = math.NaN()
	} else {
		report.MAA = stat.Mean(datasetScores, nil)
	}
	return report
}
