// Package testhelper builds pose fixtures and a fake external tool runner for tests.
package testhelper

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/utils/pexec"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/num/quat"

	"github.com/viamrobotics/viam-sfm-eval/metric"
	"github.com/viamrobotics/viam-sfm-eval/pose"
	"github.com/viamrobotics/viam-sfm-eval/reconstruction"
)

// RandomRegistry builds a registry with layout[dataset][scene] images named img_NN.png, each with
// a random rotation and a translation in [-5, 5)^3.
func RandomRegistry(layout map[string]map[string]int, seed int64) pose.Registry {
	//nolint:gosec
	rng := rand.New(rand.NewSource(seed))
	reg := pose.Registry{}
	datasets := maps.Keys(layout)
	slices.Sort(datasets)
	for _, dsName := range datasets {
		scenes := maps.Keys(layout[dsName])
		slices.Sort(scenes)
		for _, sceneName := range scenes {
			for i := 0; i < layout[dsName][sceneName]; i++ {
				reg.Add(pose.Key{Dataset: dsName, Scene: sceneName, Image: imageName(i)}, randomPose(rng))
			}
		}
	}
	return reg
}

// PerturbRegistry returns a copy of reg with every rotation composed with a small random rotation
// and every translation component jittered by up to noise.
func PerturbRegistry(reg pose.Registry, noise float64, seed int64) pose.Registry {
	//nolint:gosec
	rng := rand.New(rand.NewSource(seed))
	out := pose.Registry{}
	for _, dsName := range reg.Datasets() {
		for _, sceneName := range reg[dsName].Scenes() {
			scene := reg[dsName][sceneName]
			for _, image := range scene.Images() {
				p := scene[image]
				jitter := metric.MatrixFromQuaternion(quat.Number{
					Real: 1,
					Imag: noise * (rng.Float64() - 0.5),
					Jmag: noise * (rng.Float64() - 0.5),
					Kmag: noise * (rng.Float64() - 0.5),
				})
				out.Add(pose.Key{Dataset: dsName, Scene: sceneName, Image: image}, pose.Pose{
					Rotation: multiply(jitter, p.Rotation),
					Translation: p.Translation.Add(r3.Vector{
						X: noise * (rng.Float64() - 0.5),
						Y: noise * (rng.Float64() - 0.5),
						Z: noise * (rng.Float64() - 0.5),
					}),
				})
			}
		}
	}
	return out
}

func imageName(i int) string {
	return fmt.Sprintf("img_%02d.png", i)
}

func randomPose(rng *rand.Rand) pose.Pose {
	q := quat.Number{Real: rng.NormFloat64(), Imag: rng.NormFloat64(), Jmag: rng.NormFloat64(), Kmag: rng.NormFloat64()}
	return pose.Pose{
		Rotation: metric.MatrixFromQuaternion(q),
		Translation: r3.Vector{
			X: rng.Float64()*10 - 5,
			Y: rng.Float64()*10 - 5,
			Z: rng.Float64()*10 - 5,
		},
	}
}

func multiply(a, b pose.Rotation) pose.Rotation {
	var out pose.Rotation
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 3; k++ {
				out[i*3+j] += a.At(i, k) * b.At(k, j)
			}
		}
	}
	return out
}

// ParseArgs splits -key=value process arguments into a map.
func ParseArgs(args []string) map[string]string {
	out := make(map[string]string, len(args))
	for _, arg := range args {
		key, value, _ := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		out[key] = value
	}
	return out
}

// FakeToolRunner stands in for the external structure-from-motion tools. It records every
// invocation, touches the files each stage is expected to produce, and writes a COLMAP text
// model for scenes present in Models.
type FakeToolRunner struct {
	mu    sync.Mutex
	calls []pexec.ProcessConfig

	// Models is keyed by "dataset/scene"; scenes without an entry get no model.
	Models map[string][]reconstruction.Image
	// FailOn makes any invocation whose ID has this prefix fail.
	FailOn string
}

// Run implements the pipeline's tool runner.
func (f *FakeToolRunner) Run(ctx context.Context, cfg pexec.ProcessConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	f.calls = append(f.calls, cfg)
	f.mu.Unlock()

	if f.FailOn != "" && strings.HasPrefix(cfg.ID, f.FailOn) {
		return errors.Errorf("error running process %q: exit status 1", cfg.Name)
	}

	args := ParseArgs(cfg.Args)
	for _, key := range []string{"pairs", "features", "matches"} {
		if p, ok := args[key]; ok {
			if _, err := os.Stat(p); err == nil {
				continue
			}
			if err := os.WriteFile(p, nil, 0o600); err != nil {
				return err
			}
		}
	}
	outputDir, ok := args["output_dir"]
	if !ok {
		return nil
	}
	sceneKey := filepath.Base(filepath.Dir(outputDir)) + "/" + filepath.Base(outputDir)
	images, ok := f.Models[sceneKey]
	if !ok {
		return nil
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return err
	}
	//nolint:gosec
	file, err := os.Create(filepath.Join(outputDir, reconstruction.ImagesFile))
	if err != nil {
		return err
	}
	if err := reconstruction.WriteImages(file, images); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// Calls returns the recorded invocations in order.
func (f *FakeToolRunner) Calls() []pexec.ProcessConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}
