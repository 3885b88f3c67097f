package thresholds

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// Range describes a generated threshold sequence.
type Range struct {
	Start float64 `yaml:"start"`
	Stop  float64 `yaml:"stop"`
	Num   int     `yaml:"num"`
}

// Sequence is one of: explicit values, a linear range or a geometric range.
type Sequence struct {
	Values    []float64 `yaml:"values,omitempty"`
	Linspace  *Range    `yaml:"linspace,omitempty"`
	Geomspace *Range    `yaml:"geomspace,omitempty"`
}

// Build expands the sequence.
func (s Sequence) Build() ([]float64, error) {
	set := 0
	if len(s.Values) > 0 {
		set++
	}
	if s.Linspace != nil {
		set++
	}
	if s.Geomspace != nil {
		set++
	}
	if set != 1 {
		return nil, errors.New("exactly one of values, linspace or geomspace must be set")
	}

	switch {
	case s.Linspace != nil:
		if s.Linspace.Num <= 0 {
			return nil, errors.Errorf("linspace num must be positive, got %d", s.Linspace.Num)
		}
		return Linspace(s.Linspace.Start, s.Linspace.Stop, s.Linspace.Num), nil
	case s.Geomspace != nil:
		if s.Geomspace.Num <= 0 {
			return nil, errors.Errorf("geomspace num must be positive, got %d", s.Geomspace.Num)
		}
		if s.Geomspace.Start <= 0 || s.Geomspace.Stop <= 0 {
			return nil, errors.New("geomspace bounds must be positive")
		}
		return Geomspace(s.Geomspace.Start, s.Geomspace.Stop, s.Geomspace.Num), nil
	default:
		return s.Values, nil
	}
}

// Entry assigns thresholds to a group of scenes of one dataset.
type Entry struct {
	Dataset     string   `yaml:"dataset"`
	Scenes      []string `yaml:"scenes"`
	Rotation    Sequence `yaml:"rotation_degrees"`
	Translation Sequence `yaml:"translation"`
}

// Config is the YAML form of a threshold table.
//
//	include_defaults: true
//	entries:
//	  - dataset: haiper
//	    scenes: [bike, chairs]
//	    rotation_degrees: {linspace: {start: 1, stop: 10, num: 10}}
//	    translation: {geomspace: {start: 0.05, stop: 0.5, num: 10}}
type Config struct {
	// IncludeDefaults starts from Default() before applying Entries.
	IncludeDefaults bool    `yaml:"include_defaults"`
	Entries         []Entry `yaml:"entries"`
}

// Table builds the threshold table described by the config.
func (c *Config) Table() (*Table, error) {
	t := NewTable()
	if c.IncludeDefaults {
		t.Merge(Default())
	}
	for i, entry := range c.Entries {
		if entry.Dataset == "" {
			return nil, errors.Errorf("entry %d: dataset is required", i)
		}
		if len(entry.Scenes) == 0 {
			return nil, errors.Errorf("entry %d: at least one scene is required", i)
		}
		rot, err := entry.Rotation.Build()
		if err != nil {
			return nil, errors.Wrapf(err, "entry %d: rotation_degrees", i)
		}
		trans, err := entry.Translation.Build()
		if err != nil {
			return nil, errors.Wrapf(err, "entry %d: translation", i)
		}
		for _, scene := range entry.Scenes {
			if err := t.Set(entry.Dataset, scene, Thresholds{RotationDegrees: rot, Translation: trans}); err != nil {
				return nil, errors.Wrapf(err, "entry %d", i)
			}
		}
	}
	return t, nil
}

// Parse reads a threshold table from YAML.
func Parse(data []byte) (*Table, error) {
	var cfg Config
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "error parsing thresholds yaml")
	}
	return cfg.Table()
}

// ReadFile reads a threshold table from a YAML file.
func ReadFile(path string) (*Table, error) {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}
