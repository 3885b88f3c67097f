// Package pose defines camera poses keyed by dataset, scene and image, and the CSV format
// used to exchange them.
package pose

import (
	"github.com/golang/geo/r3"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Rotation is a 3x3 rotation matrix stored row-major.
type Rotation [9]float64

// IdentityRotation is the rotation assigned to images without an estimate.
var IdentityRotation = Rotation{1, 0, 0, 0, 1, 0, 0, 0, 1}

// At returns the entry at the given row and column.
func (r Rotation) At(row, col int) float64 {
	return r[3*row+col]
}

// Row returns the given row as a vector.
func (r Rotation) Row(row int) r3.Vector {
	return r3.Vector{X: r[3*row], Y: r[3*row+1], Z: r[3*row+2]}
}

// Pose is the absolute pose of one camera: world-to-camera rotation and translation.
type Pose struct {
	Rotation    Rotation
	Translation r3.Vector
}

// DefaultPose is the identity rotation with zero translation.
func DefaultPose() Pose {
	return Pose{Rotation: IdentityRotation}
}

// Key identifies a single image.
type Key struct {
	Dataset string
	Scene   string
	Image   string
}

// Scene maps image name to pose.
type Scene map[string]Pose

// Images returns the image names of the scene in canonical (sorted) order.
func (s Scene) Images() []string {
	images := maps.Keys(s)
	slices.Sort(images)
	return images
}

// Dataset maps scene name to scene.
type Dataset map[string]Scene

// Scenes returns the scene names of the dataset in sorted order.
func (d Dataset) Scenes() []string {
	scenes := maps.Keys(d)
	slices.Sort(scenes)
	return scenes
}

// Registry maps dataset name to dataset. A Registry is built once by Add (typically from ReadCSV)
// and then only read.
type Registry map[string]Dataset

// Add stores p under key, creating intermediate levels as needed. A later pose for the same key
// replaces an earlier one.
func (r Registry) Add(key Key, p Pose) {
	ds, ok := r[key.Dataset]
	if !ok {
		ds = Dataset{}
		r[key.Dataset] = ds
	}
	scene, ok := ds[key.Scene]
	if !ok {
		scene = Scene{}
		ds[key.Scene] = scene
	}
	scene[key.Image] = p
}

// Lookup returns the pose stored under key.
func (r Registry) Lookup(key Key) (Pose, bool) {
	p, ok := r[key.Dataset][key.Scene][key.Image]
	return p, ok
}

// Datasets returns the dataset names in sorted order.
func (r Registry) Datasets() []string {
	datasets := maps.Keys(r)
	slices.Sort(datasets)
	return datasets
}

// Len returns the number of poses in the registry.
func (r Registry) Len() int {
	var n int
	for _, ds := range r {
		for _, scene := range ds {
			n += len(scene)
		}
	}
	return n
}

// Catalog returns the images of the registry as a catalog in canonical order.
func (r Registry) Catalog() *Catalog {
	c := NewCatalog()
	for _, dsName := range r.Datasets() {
		for _, sceneName := range r[dsName].Scenes() {
			for _, image := range r[dsName][sceneName].Images() {
				c.Add(dsName, sceneName, image)
			}
		}
	}
	return c
}

// CheckCoverage verifies that every dataset, scene and image of groundTruth is present in
// submission. The first missing key is reported as a *MissingKeyError.
func CheckCoverage(groundTruth, submission Registry) error {
	for _, dsName := range groundTruth.Datasets() {
		subDataset, ok := submission[dsName]
		if !ok {
			return &MissingKeyError{Level: LevelDataset, Key: Key{Dataset: dsName}}
		}
		gtDataset := groundTruth[dsName]
		for _, sceneName := range gtDataset.Scenes() {
			subScene, ok := subDataset[sceneName]
			if !ok {
				return &MissingKeyError{Level: LevelScene, Key: Key{Dataset: dsName, Scene: sceneName}}
			}
			for _, image := range gtDataset[sceneName].Images() {
				if _, ok := subScene[image]; !ok {
					return &MissingKeyError{Level: LevelImage, Key: Key{Dataset: dsName, Scene: sceneName, Image: image}}
				}
			}
		}
	}
	return nil
}
