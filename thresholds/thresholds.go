// Package thresholds holds the per-scene accuracy thresholds used by the evaluator.
package thresholds

import (
	"fmt"

	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/floats"
)

// ErrLengthMismatch is returned when rotation and translation threshold lists differ in length.
var ErrLengthMismatch = errors.New("rotation and translation thresholds must have the same length")

// SceneKey identifies a scene within a dataset.
type SceneKey struct {
	Dataset string
	Scene   string
}

func (k SceneKey) String() string {
	return fmt.Sprintf("%s/%s", k.Dataset, k.Scene)
}

// Thresholds is an index-aligned list of joint tolerances: threshold i accepts a pair when its
// rotation error is at most RotationDegrees[i] and its translation error at most Translation[i].
type Thresholds struct {
	RotationDegrees []float64
	Translation     []float64
}

// Len returns the number of thresholds.
func (t Thresholds) Len() int {
	return len(t.RotationDegrees)
}

// Validate checks that both lists are non-empty, equally long and non-decreasing.
func (t Thresholds) Validate() error {
	if len(t.RotationDegrees) != len(t.Translation) {
		return errors.Wrapf(ErrLengthMismatch, "got %d rotation and %d translation thresholds",
			len(t.RotationDegrees), len(t.Translation))
	}
	if len(t.RotationDegrees) == 0 {
		return errors.New("thresholds must not be empty")
	}
	if !slices.IsSorted(t.RotationDegrees) {
		return errors.New("rotation thresholds must be non-decreasing")
	}
	if !slices.IsSorted(t.Translation) {
		return errors.New("translation thresholds must be non-decreasing")
	}
	return nil
}

// Linspace returns n evenly spaced values from start to stop inclusive.
func Linspace(start, stop float64, n int) []float64 {
	switch {
	case n <= 0:
		return nil
	case n == 1:
		return []float64{start}
	}
	return floats.Span(make([]float64, n), start, stop)
}

// Geomspace returns n values spaced evenly on a log scale from start to stop inclusive.
// start and stop must be positive.
func Geomspace(start, stop float64, n int) []float64 {
	switch {
	case n <= 0:
		return nil
	case n == 1:
		return []float64{start}
	}
	return floats.LogSpan(make([]float64, n), start, stop)
}

// Table maps scenes to their thresholds.
type Table struct {
	entries map[SceneKey]Thresholds
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{entries: map[SceneKey]Thresholds{}}
}

// Set validates and stores the thresholds of a scene, replacing any previous entry.
func (t *Table) Set(dataset, scene string, ths Thresholds) error {
	if err := ths.Validate(); err != nil {
		return errors.Wrapf(err, "invalid thresholds for %s", SceneKey{dataset, scene})
	}
	t.entries[SceneKey{Dataset: dataset, Scene: scene}] = Thresholds{
		RotationDegrees: slices.Clone(ths.RotationDegrees),
		Translation:     slices.Clone(ths.Translation),
	}
	return nil
}

// Lookup returns the thresholds of a scene.
func (t *Table) Lookup(dataset, scene string) (Thresholds, bool) {
	ths, ok := t.entries[SceneKey{Dataset: dataset, Scene: scene}]
	return ths, ok
}

// Keys returns the scenes of the table in sorted order.
func (t *Table) Keys() []SceneKey {
	keys := maps.Keys(t.entries)
	slices.SortFunc(keys, func(a, b SceneKey) bool {
		if a.Dataset != b.Dataset {
			return a.Dataset < b.Dataset
		}
		return a.Scene < b.Scene
	})
	return keys
}

// Merge copies every entry of other into t, overriding entries for the same scene.
func (t *Table) Merge(other *Table) {
	for k, v := range other.entries {
		t.entries[k] = v
	}
}

// Default returns the thresholds of the 2023 image matching challenge training scenes.
func Default() *Table {
	t := NewTable()
	add := func(dataset string, scenes []string, ths Thresholds) {
		for _, scene := range scenes {
			if err := t.Set(dataset, scene, ths); err != nil {
				panic(err)
			}
		}
	}
	add("haiper", []string{"bike", "chairs", "fountain"}, Thresholds{
		RotationDegrees: Linspace(1, 10, 10),
		Translation:     Geomspace(0.05, 0.5, 10),
	})
	add("heritage", []string{"cyprus", "dioscuri"}, Thresholds{
		RotationDegrees: Linspace(1, 10, 10),
		Translation:     Geomspace(0.1, 2, 10),
	})
	add("heritage", []string{"wall"}, Thresholds{
		RotationDegrees: Linspace(0.2, 10, 10),
		Translation:     Geomspace(0.05, 1, 10),
	})
	add("urban", []string{"kyiv-puppet-theater"}, Thresholds{
		RotationDegrees: Linspace(1, 10, 10),
		Translation:     Geomspace(0.5, 5, 10),
	})
	return t
}
