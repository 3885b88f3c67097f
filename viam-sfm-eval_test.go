package viamsfmeval_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gopkg.in/yaml.v2"

	viamsfmeval "github.com/viamrobotics/viam-sfm-eval"
	"github.com/viamrobotics/viam-sfm-eval/dataset"
	internaltesthelper "github.com/viamrobotics/viam-sfm-eval/internal/testhelper"
	"github.com/viamrobotics/viam-sfm-eval/pose"
	"github.com/viamrobotics/viam-sfm-eval/reconstruction"
	"github.com/viamrobotics/viam-sfm-eval/testhelper"
)

const testExecutableName = "true"

var trainLayout = map[string]map[string][]string{
	"heritage": {"cyprus": {"x.png"}, "wall": {"0.png", "1.png"}},
	"urban":    {"kyiv-puppet-theater": {"a.png", "b.png", "c.png"}},
}

func setupWorkTree(t *testing.T, logger golog.Logger) (dataDir, workDir string) {
	t.Helper()
	workDir, err := testhelper.CreateTempFolderArchitecture(logger)
	test.That(t, err, test.ShouldBeNil)
	t.Cleanup(func() { os.RemoveAll(workDir) })
	return t.TempDir(), workDir
}

func TestNew(t *testing.T) {
	logger := golog.NewTestLogger(t)
	dataDir, workDir := setupWorkTree(t, logger)
	testhelper.CreateImageTree(t, dataDir, "train", trainLayout)

	t.Run("defaults", func(t *testing.T) {
		cfg := &viamsfmeval.Config{DataDirectory: dataDir, WorkDirectory: workDir}
		p, err := viamsfmeval.New(context.Background(), cfg, nil, logger)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, cfg.Mode, test.ShouldEqual, viamsfmeval.Train)
		test.That(t, cfg.Submission, test.ShouldEqual, filepath.Join(workDir, "submission.csv"))
		test.That(t, cfg.Executables.Retrieval, test.ShouldEqual, viamsfmeval.DefaultRetrievalExecutable)
		test.That(t, p.Catalog().Len(), test.ShouldEqual, 6)
		for _, dir := range []string{"config", "data", "map"} {
			info, err := os.Stat(filepath.Join(workDir, dir))
			test.That(t, err, test.ShouldBeNil)
			test.That(t, info.IsDir(), test.ShouldBeTrue)
		}
	})

	for _, tc := range []struct {
		name   string
		cfg    viamsfmeval.Config
		reason string
	}{
		{"no data dir", viamsfmeval.Config{WorkDirectory: workDir}, "data_dir is required"},
		{"no work dir", viamsfmeval.Config{DataDirectory: dataDir}, "work_dir is required"},
		{"bad mode", viamsfmeval.Config{DataDirectory: dataDir, WorkDirectory: workDir, Mode: "val"}, "unsupported mode"},
		{
			"unknown dataset",
			viamsfmeval.Config{DataDirectory: dataDir, WorkDirectory: workDir, Datasets: []string{"haiper"}},
			`dataset "haiper" not found`,
		},
		{
			"unsupported retrieval",
			viamsfmeval.Config{
				DataDirectory: dataDir, WorkDirectory: workDir,
				ConfigParams: map[string]string{"retrieval_conf": "openibl"},
			},
			`unsupported retrieval_conf "openibl"`,
		},
		{
			"invalid int parameter",
			viamsfmeval.Config{
				DataDirectory: dataDir, WorkDirectory: workDir,
				ConfigParams: map[string]string{"resize_max": "big"},
			},
			"Parameter resize_max has an invalid definition",
		},
		{
			"test mode without sample submission",
			viamsfmeval.Config{DataDirectory: dataDir, WorkDirectory: workDir, Mode: viamsfmeval.Test},
			"error listing images",
		},
		{
			"missing thresholds file",
			viamsfmeval.Config{DataDirectory: dataDir, WorkDirectory: workDir, Thresholds: filepath.Join(dataDir, "nope.yaml")},
			"nope.yaml",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := tc.cfg
			_, err := viamsfmeval.New(context.Background(), &cfg, nil, logger)
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, err.Error(), test.ShouldContainSubstring, tc.reason)
		})
	}
}

func TestReadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	test.That(t, os.WriteFile(path, []byte(`
data_dir: /data/image-matching-challenge-2023
mode: test
work_dir: /tmp/work
datasets: [haiper]
executables:
  matcher: /usr/local/bin/match
config_params:
  retrieval_conf: cosplace
  n_retrieval: "30"
`), 0o600), test.ShouldBeNil)
	cfg, err := viamsfmeval.ReadConfig(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Mode, test.ShouldEqual, viamsfmeval.Test)
	test.That(t, cfg.Datasets, test.ShouldResemble, []string{"haiper"})
	test.That(t, cfg.Executables.Matcher, test.ShouldEqual, "/usr/local/bin/match")
	test.That(t, cfg.ConfigParams["n_retrieval"], test.ShouldEqual, "30")

	test.That(t, os.WriteFile(path, []byte("data_directory: /data\n"), 0o600), test.ShouldBeNil)
	_, err = viamsfmeval.ReadConfig(path)
	test.That(t, err.Error(), test.ShouldContainSubstring, "error parsing pipeline config")
}

func TestRunTrain(t *testing.T) {
	logger := golog.NewTestLogger(t)
	dataDir, workDir := setupWorkTree(t, logger)
	testhelper.CreateImageTree(t, dataDir, "train", trainLayout)

	registered := []reconstruction.Image{
		{ID: 1, CameraID: 1, Name: "a.png", Pose: pose.Pose{
			Rotation:    pose.Rotation{0, -1, 0, 1, 0, 0, 0, 0, 1},
			Translation: r3.Vector{X: 1, Y: 2, Z: 3},
		}},
		{ID: 2, CameraID: 1, Name: "c.png", Pose: pose.Pose{
			Rotation:    pose.IdentityRotation,
			Translation: r3.Vector{X: -1},
		}},
	}
	runner := &internaltesthelper.FakeToolRunner{
		Models: map[string][]reconstruction.Image{"urban/kyiv-puppet-theater": registered},
	}

	// a model left over from an earlier run must not be picked up
	staleDir := filepath.Join(workDir, "map", "heritage", "wall")
	test.That(t, os.MkdirAll(staleDir, 0o755), test.ShouldBeNil)
	var stale strings.Builder
	test.That(t, reconstruction.WriteImages(&stale, registered), test.ShouldBeNil)
	test.That(t, os.WriteFile(filepath.Join(staleDir, reconstruction.ImagesFile), []byte(stale.String()), 0o600),
		test.ShouldBeNil)

	cfg := &viamsfmeval.Config{
		DataDirectory: dataDir,
		WorkDirectory: workDir,
		ConfigParams:  map[string]string{"n_retrieval": "2", "retrieval_conf": "cosplace"},
	}
	p, err := viamsfmeval.New(context.Background(), cfg, runner, logger)
	test.That(t, err, test.ShouldBeNil)
	result, err := p.Run(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, result.Report, test.ShouldBeNil)

	test.That(t, result.Metrics, test.ShouldResemble, []viamsfmeval.SceneMetrics{
		{Dataset: "heritage", Scene: "cyprus", NumImages: 1, NumRegImages: 0},
		{Dataset: "heritage", Scene: "wall", NumImages: 2, NumRegImages: 0},
		{Dataset: "urban", Scene: "kyiv-puppet-theater", NumImages: 3, NumRegImages: 2},
	})
	var summary strings.Builder
	test.That(t, result.WriteSummary(&summary), test.ShouldBeNil)
	test.That(t, summary.String(), test.ShouldEqual,
		"heritage\n\tcyprus: 0 / 1\n\twall: 0 / 2\nurban\n\tkyiv-puppet-theater: 2 / 3\n")

	t.Run("tools run in order with scene paths", func(t *testing.T) {
		calls := runner.Calls()
		test.That(t, calls, test.ShouldHaveLength, 9)
		var ids []string
		for _, call := range calls {
			ids = append(ids, call.ID)
			test.That(t, call.OneShot, test.ShouldBeTrue)
		}
		test.That(t, ids[6:], test.ShouldResemble, []string{
			"retrieval_urban_kyiv-puppet-theater",
			"matcher_urban_kyiv-puppet-theater",
			"reconstruction_urban_kyiv-puppet-theater",
		})

		retrieval := internaltesthelper.ParseArgs(calls[6].Args)
		test.That(t, calls[6].Name, test.ShouldEqual, viamsfmeval.DefaultRetrievalExecutable)
		test.That(t, retrieval["image_dir"], test.ShouldEqual,
			filepath.Join(dataDir, "train", "urban", "kyiv-puppet-theater", "images"))
		test.That(t, retrieval["num_matched"], test.ShouldEqual, "2")
		// fewer images than n_retrieval
		test.That(t, internaltesthelper.ParseArgs(calls[0].Args)["num_matched"], test.ShouldEqual, "1")

		list, err := os.ReadFile(retrieval["image_list"])
		test.That(t, err, test.ShouldBeNil)
		test.That(t, string(list), test.ShouldEqual, "a.png\nb.png\nc.png\n")

		rec := internaltesthelper.ParseArgs(calls[8].Args)
		test.That(t, rec["output_dir"], test.ShouldEqual, filepath.Join(workDir, "map", "urban", "kyiv-puppet-theater"))
		test.That(t, rec["pairs"], test.ShouldEqual, retrieval["pairs"])

		data, err := os.ReadFile(rec["conf"])
		test.That(t, err, test.ShouldBeNil)
		var settings viamsfmeval.ToolSettings
		test.That(t, yaml.Unmarshal(data, &settings), test.ShouldBeNil)
		test.That(t, settings.Retrieval, test.ShouldResemble, viamsfmeval.RetrievalSettings{Conf: "cosplace", NumMatched: 2})
		test.That(t, settings.Matcher, test.ShouldResemble, viamsfmeval.MatcherSettings{
			Weights: "outdoor", Grayscale: true, ResizeMax: 840, DFactor: 8, MaxError: 1, CellSize: 1,
		})
		test.That(t, settings.Refiner.Conf, test.ShouldEqual, "low_memory")
		testhelper.CheckDirForExpectedFiles(t, filepath.Join(workDir, "config"), ".yaml", 3)
	})

	t.Run("submission lists every catalog image", func(t *testing.T) {
		sub, err := pose.ReadCSVFile(cfg.Submission)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, sub.Len(), test.ShouldEqual, 6)

		a, ok := sub.Lookup(pose.Key{Dataset: "urban", Scene: "kyiv-puppet-theater",
			Image: dataset.ImagePath("urban", "kyiv-puppet-theater", "a.png")})
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, a.Translation, test.ShouldResemble, r3.Vector{X: 1, Y: 2, Z: 3})
		for i, v := range registered[0].Pose.Rotation {
			test.That(t, a.Rotation[i], test.ShouldAlmostEqual, v, 1e-12)
		}

		b, ok := sub.Lookup(pose.Key{Dataset: "urban", Scene: "kyiv-puppet-theater",
			Image: dataset.ImagePath("urban", "kyiv-puppet-theater", "b.png")})
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, b, test.ShouldResemble, pose.DefaultPose())
	})
}

func TestRunWithGroundTruth(t *testing.T) {
	logger := golog.NewTestLogger(t)
	dataDir, workDir := setupWorkTree(t, logger)

	gt := internaltesthelper.RandomRegistry(map[string]map[string]int{"urban": {"kyiv-puppet-theater": 4}}, 3)
	scene := gt["urban"]["kyiv-puppet-theater"]
	names := scene.Images()
	testhelper.CreateImageTree(t, dataDir, "train", map[string]map[string][]string{
		"urban": {"kyiv-puppet-theater": names},
	})

	labels := pose.Registry{}
	var model []reconstruction.Image
	for i, name := range names {
		labels.Add(pose.Key{Dataset: "urban", Scene: "kyiv-puppet-theater",
			Image: dataset.ImagePath("urban", "kyiv-puppet-theater", name)}, scene[name])
		model = append(model, reconstruction.Image{ID: i + 1, CameraID: 1, Name: name, Pose: scene[name]})
	}
	gtPath := filepath.Join(dataDir, "train_labels.csv")
	test.That(t, pose.WriteCSVFile(gtPath, labels.Catalog(), labels), test.ShouldBeNil)

	runner := &internaltesthelper.FakeToolRunner{
		Models: map[string][]reconstruction.Image{"urban/kyiv-puppet-theater": model},
	}
	cfg := &viamsfmeval.Config{DataDirectory: dataDir, WorkDirectory: workDir, GroundTruth: gtPath}
	p, err := viamsfmeval.New(context.Background(), cfg, runner, logger)
	test.That(t, err, test.ShouldBeNil)
	result, err := p.Run(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, result.Report, test.ShouldNotBeNil)
	test.That(t, result.Report.MAA, test.ShouldAlmostEqual, 1, 1e-12)

	res, ok := result.Report.Scene("urban", "kyiv-puppet-theater")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, res.NumPairs, test.ShouldEqual, 6)
}

func TestRunTestMode(t *testing.T) {
	logger := golog.NewTestLogger(t)
	dataDir, workDir := setupWorkTree(t, logger)

	// only haiper/bike has images on disk
	testhelper.CreateImageTree(t, dataDir, "test", map[string]map[string][]string{
		"haiper": {"bike": {"image_000.jpeg", "image_001.jpeg"}},
	})
	testhelper.WriteSampleSubmission(t, filepath.Join(dataDir, viamsfmeval.SampleSubmissionFile), []string{
		"haiper/bike/images/image_000.jpeg",
		"haiper/bike/images/image_001.jpeg",
		"haiper/chairs/images/image_000.jpeg",
	})

	runner := &internaltesthelper.FakeToolRunner{}
	cfg := &viamsfmeval.Config{DataDirectory: dataDir, WorkDirectory: workDir, Mode: viamsfmeval.Test}
	p, err := viamsfmeval.New(context.Background(), cfg, runner, logger)
	test.That(t, err, test.ShouldBeNil)
	result, err := p.Run(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, result.Metrics, test.ShouldResemble, []viamsfmeval.SceneMetrics{
		{Dataset: "haiper", Scene: "bike", NumImages: 2, NumRegImages: 0},
	})
	test.That(t, runner.Calls(), test.ShouldHaveLength, 3)

	data, err := os.ReadFile(cfg.Submission)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(data), test.ShouldEqual, strings.Join([]string{
		pose.Header,
		"haiper/bike/images/image_000.jpeg,haiper,bike,1;0;0;0;1;0;0;0;1,0;0;0",
		"haiper/bike/images/image_001.jpeg,haiper,bike,1;0;0;0;1;0;0;0;1,0;0;0",
		"haiper/chairs/images/image_000.jpeg,haiper,chairs,1;0;0;0;1;0;0;0;1,0;0;0",
	}, "\n")+"\n")
}

func TestRunToolFailure(t *testing.T) {
	logger := golog.NewTestLogger(t)
	dataDir, workDir := setupWorkTree(t, logger)
	testhelper.CreateImageTree(t, dataDir, "train", trainLayout)

	runner := &internaltesthelper.FakeToolRunner{FailOn: "matcher"}
	cfg := &viamsfmeval.Config{DataDirectory: dataDir, WorkDirectory: workDir, Datasets: []string{"urban"}}
	p, err := viamsfmeval.New(context.Background(), cfg, runner, logger)
	test.That(t, err, test.ShouldBeNil)
	_, err = p.Run(context.Background())
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "scene urban->kyiv-puppet-theater")
	test.That(t, runner.Calls(), test.ShouldHaveLength, 2)

	_, err = os.Stat(cfg.Submission)
	test.That(t, os.IsNotExist(err), test.ShouldBeTrue)
}

func TestRunProcesses(t *testing.T) {
	logger := golog.NewTestLogger(t)
	dataDir, workDir := setupWorkTree(t, logger)
	testhelper.CreateImageTree(t, dataDir, "train", map[string]map[string][]string{
		"urban": {"kyiv-puppet-theater": {"a.png", "b.png"}},
	})

	t.Run("tools without a model", func(t *testing.T) {
		cfg := &viamsfmeval.Config{
			DataDirectory: dataDir,
			WorkDirectory: workDir,
			Executables: viamsfmeval.Executables{
				Retrieval:      testExecutableName,
				Matcher:        testExecutableName,
				Reconstruction: testExecutableName,
			},
		}
		p, err := viamsfmeval.New(context.Background(), cfg, nil, logger)
		test.That(t, err, test.ShouldBeNil)
		result, err := p.Run(context.Background())
		test.That(t, err, test.ShouldBeNil)
		test.That(t, result.Metrics, test.ShouldHaveLength, 1)
		test.That(t, result.Metrics[0].NumRegImages, test.ShouldEqual, 0)
	})

	t.Run("failing tool", func(t *testing.T) {
		test.That(t, testhelper.ResetFolder(filepath.Join(workDir, "data")), test.ShouldBeNil)
		cfg := &viamsfmeval.Config{
			DataDirectory: dataDir,
			WorkDirectory: workDir,
			Executables:   viamsfmeval.Executables{Retrieval: "false"},
		}
		p, err := viamsfmeval.New(context.Background(), cfg, nil, logger)
		test.That(t, err, test.ShouldBeNil)
		_, err = p.Run(context.Background())
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "problem running retrieval_urban_kyiv-puppet-theater")
	})
}
