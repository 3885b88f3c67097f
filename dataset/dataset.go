// Package dataset discovers the images to reconstruct for each dataset and scene.
package dataset

import (
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/viamrobotics/viam-sfm-eval/pose"
)

// ImagesDir is the per-scene directory holding the images.
const ImagesDir = "images"

// ImagePath returns the catalog path of an image, relative to the mode directory.
func ImagePath(dataset, scene, name string) string {
	return path.Join(dataset, scene, ImagesDir, name)
}

// FromDirectory scans root/mode/<dataset>/<scene>/images. Scenes without an image directory
// are skipped with a warning. Entries are sorted by name.
func FromDirectory(root, mode string, logger golog.Logger) (*pose.Catalog, error) {
	modeDir := filepath.Join(root, mode)
	datasets, err := subdirectories(modeDir)
	if err != nil {
		return nil, errors.Wrapf(err, "error listing datasets in %s", modeDir)
	}

	catalog := pose.NewCatalog()
	for _, dsName := range datasets {
		scenes, err := subdirectories(filepath.Join(modeDir, dsName))
		if err != nil {
			return nil, err
		}
		for _, sceneName := range scenes {
			imageDir := filepath.Join(modeDir, dsName, sceneName, ImagesDir)
			entries, err := os.ReadDir(imageDir)
			if err != nil {
				if os.IsNotExist(err) {
					logger.Warnw("scene has no image directory, skipping", "dataset", dsName, "scene", sceneName)
					continue
				}
				return nil, err
			}
			catalog.AddScene(dsName, sceneName)
			for _, entry := range entries {
				if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
					continue
				}
				catalog.Add(dsName, sceneName, ImagePath(dsName, sceneName, entry.Name()))
			}
		}
	}
	return catalog, nil
}

// FromSubmission reads the image list of a sample submission, keeping file order. Pose columns
// are ignored.
func FromSubmission(submissionPath string) (*pose.Catalog, error) {
	//nolint:gosec
	f, err := os.Open(submissionPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows, err := pose.ReadRows(f)
	if err != nil {
		return nil, errors.Wrapf(err, "error parsing %s", submissionPath)
	}
	catalog := pose.NewCatalog()
	for _, row := range rows {
		catalog.Add(row.Dataset, row.Scene, row.ImagePath)
	}
	return catalog, nil
}

func subdirectories(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}
