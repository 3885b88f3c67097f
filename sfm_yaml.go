package viamsfmeval

import (
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/slam/dataprocess"
	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v2"
)

// RetrievalConf names the global descriptor used to pick image pairs.
type RetrievalConf string

const (
	// NetVLAD retrieval.
	NetVLAD RetrievalConf = "netvlad"
	// CosPlace retrieval.
	CosPlace RetrievalConf = "cosplace"
)

var supportedRetrievalConfs = []RetrievalConf{NetVLAD, CosPlace}

// ToolSettings is marshaled into the per-scene configuration file shared by the external tools.
type ToolSettings struct {
	Retrieval RetrievalSettings `yaml:"retrieval"`
	Matcher   MatcherSettings   `yaml:"matcher"`
	Refiner   RefinerSettings   `yaml:"refiner"`
}

// RetrievalSettings configures global descriptor extraction and pair selection.
type RetrievalSettings struct {
	Conf       string `yaml:"conf"`
	NumMatched int    `yaml:"num_matched"`
}

// MatcherSettings configures dense matching.
type MatcherSettings struct {
	Weights   string  `yaml:"weights"`
	Grayscale bool    `yaml:"grayscale"`
	ResizeMax int     `yaml:"resize_max"`
	DFactor   int     `yaml:"dfactor"`
	MaxError  float64 `yaml:"max_error"`
	CellSize  int     `yaml:"cell_size"`
}

// RefinerSettings configures featuremetric refinement.
type RefinerSettings struct {
	Conf string `yaml:"conf"`
}

// toolSettings builds the tool configuration for a scene of numImages images from config_params.
func (p *Pipeline) toolSettings(numImages int) (*ToolSettings, error) {
	var err error
	settings := &ToolSettings{}

	conf := p.configToString("retrieval_conf", string(NetVLAD))
	if !slices.Contains(supportedRetrievalConfs, RetrievalConf(conf)) {
		return nil, errors.Errorf("unsupported retrieval_conf %q", conf)
	}
	settings.Retrieval.Conf = conf
	numRetrieval, err := p.configToInt("n_retrieval", 20)
	if err != nil {
		return nil, err
	}
	if numRetrieval <= 0 {
		return nil, errors.Errorf("n_retrieval must be positive, got %d", numRetrieval)
	}
	settings.Retrieval.NumMatched = numRetrieval
	if numImages < numRetrieval {
		settings.Retrieval.NumMatched = numImages
	}

	settings.Matcher.Weights = p.configToString("matcher_weights", "outdoor")
	if settings.Matcher.Grayscale, err = p.configToBool("grayscale", true); err != nil {
		return nil, err
	}
	if settings.Matcher.ResizeMax, err = p.configToInt("resize_max", 840); err != nil {
		return nil, err
	}
	if settings.Matcher.DFactor, err = p.configToInt("dfactor", 8); err != nil {
		return nil, err
	}
	if settings.Matcher.MaxError, err = p.configToFloat("max_error", 1); err != nil {
		return nil, err
	}
	if settings.Matcher.CellSize, err = p.configToInt("cell_size", 1); err != nil {
		return nil, err
	}
	settings.Refiner.Conf = p.configToString("refiner_conf", "low_memory")

	return settings, nil
}

// genToolYAML writes the tool configuration of a scene into the config directory and returns its path.
func (p *Pipeline) genToolYAML(dsName, sceneName string, numImages int) (string, *ToolSettings, error) {
	settings, err := p.toolSettings(numImages)
	if err != nil {
		return "", nil, err
	}
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return "", nil, errors.Wrap(err, "Error while Marshaling YAML file")
	}
	yamlFileName := dataprocess.CreateTimestampFilename(
		filepath.Join(p.cfg.WorkDirectory, "config"), dsName+"_"+sceneName, ".yaml", time.Now())
	if err := dataprocess.WriteBytesToFile(yamlData, yamlFileName); err != nil {
		return "", nil, err
	}
	return yamlFileName, settings, nil
}

func (p *Pipeline) configToString(key, def string) string {
	val, ok := p.configParams[key]
	if !ok {
		p.logger.Debugf("Parameter %s not found, using default value %s", key, def)
		return def
	}
	return val
}

func (p *Pipeline) configToInt(key string, def int) (int, error) {
	valStr, ok := p.configParams[key]
	if !ok {
		p.logger.Debugf("Parameter %s not found, using default value %d", key, def)
		return def, nil
	}

	val, err := strconv.Atoi(valStr)
	if err != nil {
		return 0, errors.Errorf("Parameter %s has an invalid definition", key)
	}

	return val, nil
}

func (p *Pipeline) configToFloat(key string, def float64) (float64, error) {
	valStr, ok := p.configParams[key]
	if !ok {
		p.logger.Debugf("Parameter %s not found, using default value %f", key, def)
		return def, nil
	}

	val, err := strconv.ParseFloat(valStr, 64)
	if err != nil {
		return 0, errors.Errorf("Parameter %s has an invalid definition", key)
	}
	return val, nil
}

func (p *Pipeline) configToBool(key string, def bool) (bool, error) {
	valStr, ok := p.configParams[key]
	if !ok {
		p.logger.Debugf("Parameter %s not found, using default value %t", key, def)
		return def, nil
	}

	val, err := strconv.ParseBool(valStr)
	if err != nil {
		return false, errors.Errorf("Parameter %s has an invalid definition", key)
	}
	return val, nil
}
