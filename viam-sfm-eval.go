// Package viamsfmeval reconstructs camera poses for image sets with external structure-from-motion
// tools, writes them as a submission and optionally scores the submission against ground truth.
package viamsfmeval

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	slamConfig "go.viam.com/slam/config"
	"go.viam.com/slam/dataprocess"
	"go.viam.com/utils/pexec"
	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v2"

	"github.com/viamrobotics/viam-sfm-eval/dataset"
	"github.com/viamrobotics/viam-sfm-eval/eval"
	"github.com/viamrobotics/viam-sfm-eval/pose"
	"github.com/viamrobotics/viam-sfm-eval/reconstruction"
	"github.com/viamrobotics/viam-sfm-eval/thresholds"
)

var supportedModes = []Mode{Train, Test}

const (
	// DefaultRetrievalExecutable computes global descriptors and retrieval pairs.
	DefaultRetrievalExecutable = "sfm_retrieval"
	// DefaultMatcherExecutable runs dense matching over the retrieval pairs.
	DefaultMatcherExecutable = "sfm_match_dense"
	// DefaultReconstructionExecutable runs incremental mapping and refinement.
	DefaultReconstructionExecutable = "sfm_reconstruct"

	// SampleSubmissionFile lists the test images when running in test mode.
	SampleSubmissionFile = "sample_submission.csv"
	defaultSubmissionFile = "submission.csv"

	imageListFile         = "image_list.txt"
	pairsFile             = "pairs.txt"
	retrievalFeaturesFile = "features_retrieval.h5"
	featuresFile          = "features.h5"
	matchesFile           = "matches.h5"
	cacheDir              = "cache"
)

// Mode selects which image split is reconstructed.
type Mode string

const (
	// Train reconstructs every scene found under the train directory.
	Train Mode = "train"
	// Test reconstructs the images listed in the sample submission.
	Test Mode = "test"
)

// Executables names the external tools. Empty fields use the defaults.
type Executables struct {
	Retrieval      string `yaml:"retrieval"`
	Matcher        string `yaml:"matcher"`
	Reconstruction string `yaml:"reconstruction"`
}

// Config configures a pipeline run.
type Config struct {
	DataDirectory string   `yaml:"data_dir"`
	Mode          Mode     `yaml:"mode"`
	WorkDirectory string   `yaml:"work_dir"`
	Datasets      []string `yaml:"datasets"`
	// Submission defaults to work_dir/submission.csv.
	Submission   string            `yaml:"submission"`
	GroundTruth  string            `yaml:"ground_truth"`
	Thresholds   string            `yaml:"thresholds"`
	Executables  Executables       `yaml:"executables"`
	ConfigParams map[string]string `yaml:"config_params"`
}

// ReadConfig reads a YAML pipeline configuration.
func ReadConfig(configPath string) (*Config, error) {
	//nolint:gosec
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "error parsing pipeline config")
	}
	return &cfg, nil
}

// Validate checks required fields and fills in defaults.
func (cfg *Config) Validate() error {
	if cfg.DataDirectory == "" {
		return errors.New("data_dir is required")
	}
	if cfg.WorkDirectory == "" {
		return errors.New("work_dir is required")
	}
	if cfg.Mode == "" {
		cfg.Mode = Train
	}
	if !slices.Contains(supportedModes, cfg.Mode) {
		return errors.Errorf("unsupported mode %q", cfg.Mode)
	}
	if cfg.Submission == "" {
		cfg.Submission = filepath.Join(cfg.WorkDirectory, defaultSubmissionFile)
	}
	if cfg.Executables.Retrieval == "" {
		cfg.Executables.Retrieval = DefaultRetrievalExecutable
	}
	if cfg.Executables.Matcher == "" {
		cfg.Executables.Matcher = DefaultMatcherExecutable
	}
	if cfg.Executables.Reconstruction == "" {
		cfg.Executables.Reconstruction = DefaultReconstructionExecutable
	}
	if cfg.ConfigParams == nil {
		cfg.ConfigParams = map[string]string{}
	}
	return nil
}

// ToolRunner runs one external tool to completion.
type ToolRunner interface {
	Run(ctx context.Context, cfg pexec.ProcessConfig) error
}

type processRunner struct {
	logger golog.Logger
}

// NewProcessRunner returns a ToolRunner that executes each tool as a one-shot managed process.
func NewProcessRunner(logger golog.Logger) ToolRunner {
	return &processRunner{logger: logger}
}

func (r *processRunner) Run(ctx context.Context, cfg pexec.ProcessConfig) error {
	cfg.OneShot = true
	r.logger.Debugw("starting tool", "id", cfg.ID, "name", cfg.Name, "args", cfg.Args)
	if err := pexec.NewManagedProcess(cfg, r.logger).Start(ctx); err != nil {
		return errors.Wrapf(err, "problem running %s", cfg.ID)
	}
	return nil
}

// SceneMetrics counts the images of a scene and how many of them were registered.
type SceneMetrics struct {
	Dataset      string
	Scene        string
	NumImages    int
	NumRegImages int
}

// Result is the outcome of Pipeline.Run.
type Result struct {
	Metrics    []SceneMetrics
	Estimates  pose.Registry
	Submission string
	// Report is set when ground truth is configured.
	Report *eval.Report
}

// WriteSummary writes the registered image counts grouped by dataset.
func (r *Result) WriteSummary(w io.Writer) error {
	var sb strings.Builder
	last := ""
	for _, m := range r.Metrics {
		if m.Dataset != last {
			sb.WriteString(m.Dataset + "\n")
			last = m.Dataset
		}
		fmt.Fprintf(&sb, "\t%s: %d / %d\n", m.Scene, m.NumRegImages, m.NumImages)
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

// Pipeline reconstructs every selected scene in turn.
type Pipeline struct {
	cfg        *Config
	catalog    *pose.Catalog
	datasets   []string
	thresholds *thresholds.Table
	runner     ToolRunner
	logger     golog.Logger

	configParams map[string]string
	estimates    pose.Registry
}

// New validates cfg, prepares the work tree and resolves the image catalog.
// A nil runner runs the configured executables as processes.
func New(ctx context.Context, cfg *Config, runner ToolRunner, logger golog.Logger) (*Pipeline, error) {
	_, span := trace.StartSpan(ctx, "viamsfmeval::New")
	defer span.End()

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid pipeline config")
	}
	if err := os.MkdirAll(cfg.WorkDirectory, os.ModePerm); err != nil {
		return nil, err
	}
	if err := slamConfig.SetupDirectories(cfg.WorkDirectory, logger); err != nil {
		return nil, errors.Wrap(err, "unable to setup working directories")
	}

	var catalog *pose.Catalog
	var err error
	switch cfg.Mode {
	case Test:
		catalog, err = dataset.FromSubmission(filepath.Join(cfg.DataDirectory, SampleSubmissionFile))
	case Train:
		catalog, err = dataset.FromDirectory(cfg.DataDirectory, string(cfg.Mode), logger)
	}
	if err != nil {
		return nil, errors.Wrap(err, "error listing images")
	}

	selected := catalog.Datasets()
	if len(cfg.Datasets) > 0 {
		for _, name := range cfg.Datasets {
			if !slices.Contains(selected, name) {
				return nil, errors.Errorf("dataset %q not found in %s", name, cfg.DataDirectory)
			}
		}
		selected = cfg.Datasets
	}

	table := thresholds.Default()
	if cfg.Thresholds != "" {
		if table, err = thresholds.ReadFile(cfg.Thresholds); err != nil {
			return nil, err
		}
	}

	if runner == nil {
		runner = NewProcessRunner(logger)
	}

	p := &Pipeline{
		cfg:          cfg,
		catalog:      catalog,
		datasets:     selected,
		thresholds:   table,
		runner:       runner,
		logger:       logger,
		configParams: cfg.ConfigParams,
		estimates:    pose.Registry{},
	}
	// Fail on bad tool parameters before any tool runs.
	if _, err := p.toolSettings(1); err != nil {
		return nil, err
	}
	return p, nil
}

// Catalog returns the images the submission will list.
func (p *Pipeline) Catalog() *pose.Catalog {
	return p.catalog
}

// Run reconstructs each selected scene, writes the submission and, when ground truth is
// configured, evaluates it. Tool failures abort the run; a scene without a reconstructed
// model is recorded with zero registered images.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	ctx, span := trace.StartSpan(ctx, "viamsfmeval::Pipeline::Run")
	defer span.End()

	result := &Result{Estimates: p.estimates, Submission: p.cfg.Submission}
	for _, dsName := range p.datasets {
		for _, sceneName := range p.catalog.Scenes(dsName) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			metrics, err := p.runScene(ctx, dsName, sceneName)
			if err != nil {
				return nil, errors.Wrapf(err, "scene %s->%s", dsName, sceneName)
			}
			if metrics != nil {
				p.logger.Infow("scene reconstructed",
					"dataset", dsName, "scene", sceneName,
					"registered", metrics.NumRegImages, "images", metrics.NumImages)
				result.Metrics = append(result.Metrics, *metrics)
			}
		}
	}

	if err := p.WriteSubmission(p.cfg.Submission); err != nil {
		return nil, errors.Wrap(err, "error writing submission")
	}
	if p.cfg.GroundTruth == "" {
		return result, nil
	}

	report, err := p.evaluate(ctx)
	result.Report = report
	return result, err
}

// WriteSubmission writes one row per catalog image. Images that were not registered get the
// identity rotation and zero translation.
func (p *Pipeline) WriteSubmission(submissionPath string) error {
	return pose.WriteCSVFile(submissionPath, p.catalog, p.estimates)
}

func (p *Pipeline) evaluate(ctx context.Context) (*eval.Report, error) {
	groundTruth, err := pose.ReadCSVFile(p.cfg.GroundTruth)
	if err != nil {
		return nil, err
	}
	submission, err := pose.ReadCSVFile(p.cfg.Submission)
	if err != nil {
		return nil, err
	}
	return eval.New(p.thresholds, p.logger).Evaluate(ctx, submission, groundTruth)
}

// sceneWork holds the per-scene paths handed to the tools.
type sceneWork struct {
	imageDir          string
	dir               string
	imageList         string
	pairs             string
	retrievalFeatures string
	features          string
	matches           string
	sparseDir         string
	cacheDir          string
}

func (p *Pipeline) sceneWork(dsName, sceneName string) sceneWork {
	dir := filepath.Join(p.cfg.WorkDirectory, "data", dsName, sceneName)
	return sceneWork{
		imageDir:          filepath.Join(p.cfg.DataDirectory, string(p.cfg.Mode), dsName, sceneName, dataset.ImagesDir),
		dir:               dir,
		imageList:         filepath.Join(dir, imageListFile),
		pairs:             filepath.Join(dir, pairsFile),
		retrievalFeatures: filepath.Join(dir, retrievalFeaturesFile),
		features:          filepath.Join(dir, featuresFile),
		matches:           filepath.Join(dir, matchesFile),
		sparseDir:         filepath.Join(p.cfg.WorkDirectory, "map", dsName, sceneName),
		cacheDir:          filepath.Join(dir, cacheDir),
	}
}

// toolStage is one tool invocation and the files it produces.
type toolStage struct {
	process pexec.ProcessConfig
	outputs []string
}

func (p *Pipeline) runScene(ctx context.Context, dsName, sceneName string) (*SceneMetrics, error) {
	ctx, span := trace.StartSpan(ctx, "viamsfmeval::Pipeline::runScene")
	defer span.End()

	work := p.sceneWork(dsName, sceneName)
	if _, err := os.Stat(work.imageDir); os.IsNotExist(err) {
		p.logger.Infow("image directory not found, skipping scene", "dataset", dsName, "scene", sceneName)
		return nil, nil
	}

	images := p.catalog.Images(dsName, sceneName)
	names := make([]string, 0, len(images))
	for _, image := range images {
		names = append(names, path.Base(image))
	}
	if err := os.MkdirAll(work.cacheDir, os.ModePerm); err != nil {
		return nil, err
	}
	if err := dataprocess.WriteBytesToFile([]byte(strings.Join(names, "\n")+"\n"), work.imageList); err != nil {
		return nil, errors.Wrap(err, "error writing image list")
	}

	confPath, settings, err := p.genToolYAML(dsName, sceneName, len(names))
	if err != nil {
		return nil, errors.Wrap(err, "error generating tool config")
	}

	for _, stage := range p.stages(dsName, sceneName, work, confPath, settings.Retrieval.NumMatched) {
		for _, output := range stage.outputs {
			if err := os.RemoveAll(output); err != nil {
				return nil, errors.Wrapf(err, "error removing stale %s", output)
			}
		}
		if err := p.runner.Run(ctx, stage.process); err != nil {
			return nil, err
		}
	}

	metrics := &SceneMetrics{Dataset: dsName, Scene: sceneName, NumImages: len(names)}
	model, err := reconstruction.ReadModel(work.sparseDir)
	if errors.Is(err, reconstruction.ErrNoModel) {
		p.logger.Warnw("no model reconstructed", "dataset", dsName, "scene", sceneName)
		return metrics, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "error reading reconstructed model")
	}
	metrics.NumRegImages = model.NumRegImages()
	for _, img := range model.Images {
		key := pose.Key{Dataset: dsName, Scene: sceneName, Image: dataset.ImagePath(dsName, sceneName, img.Name)}
		p.estimates.Add(key, img.Pose)
	}
	return metrics, nil
}

// stages returns the retrieval, matching and reconstruction invocations for a scene.
func (p *Pipeline) stages(dsName, sceneName string, work sceneWork, confPath string, numMatched int) []toolStage {
	id := func(tool string) string {
		return tool + "_" + dsName + "_" + sceneName
	}
	return []toolStage{
		{
			process: pexec.ProcessConfig{
				ID:   id("retrieval"),
				Name: p.cfg.Executables.Retrieval,
				Args: []string{
					"-image_dir=" + work.imageDir,
					"-image_list=" + work.imageList,
					"-conf=" + confPath,
					"-features=" + work.retrievalFeatures,
					"-pairs=" + work.pairs,
					"-num_matched=" + strconv.Itoa(numMatched),
				},
				CWD:     work.dir,
				Log:     true,
				OneShot: true,
			},
			outputs: []string{work.pairs, work.retrievalFeatures},
		},
		{
			process: pexec.ProcessConfig{
				ID:   id("matcher"),
				Name: p.cfg.Executables.Matcher,
				Args: []string{
					"-image_dir=" + work.imageDir,
					"-pairs=" + work.pairs,
					"-conf=" + confPath,
					"-features=" + work.features,
					"-matches=" + work.matches,
				},
				CWD:     work.dir,
				Log:     true,
				OneShot: true,
			},
			outputs: []string{work.features, work.matches},
		},
		{
			process: pexec.ProcessConfig{
				ID:   id("reconstruction"),
				Name: p.cfg.Executables.Reconstruction,
				Args: []string{
					"-image_dir=" + work.imageDir,
					"-pairs=" + work.pairs,
					"-features=" + work.features,
					"-matches=" + work.matches,
					"-conf=" + confPath,
					"-output_dir=" + work.sparseDir,
					"-cache_dir=" + work.cacheDir,
				},
				CWD:     work.dir,
				Log:     true,
				OneShot: true,
			},
			outputs: []string{work.sparseDir},
		},
	}
}
