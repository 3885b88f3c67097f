// Package testhelper provides helper functions for testing the reconstruction pipeline on disk.
package testhelper

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/slam/config"
)

// CreateTempFolderArchitecture creates a new random temporary
// directory with the config, data, and map subdirectories used
// as the pipeline work tree.
func CreateTempFolderArchitecture(logger golog.Logger) (string, error) {
	tmpDir, err := os.MkdirTemp("", "*")
	if err != nil {
		return "nil", err
	}
	if err := config.SetupDirectories(tmpDir, logger); err != nil {
		return "", err
	}
	return tmpDir, nil
}

// ResetFolder removes all content in path and creates a new directory
// in its place.
func ResetFolder(path string) error {
	dirInfo, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !dirInfo.IsDir() {
		return errors.Errorf("the path passed ResetFolder does not point to a folder: %v", path)
	}
	if err = os.RemoveAll(path); err != nil {
		return err
	}
	return os.Mkdir(path, dirInfo.Mode())
}

// CreateImageTree lays out root/mode/<dataset>/<scene>/images/<name> with small placeholder files.
func CreateImageTree(t *testing.T, root, mode string, layout map[string]map[string][]string) {
	t.Helper()
	for dsName, scenes := range layout {
		for sceneName, images := range scenes {
			dir := filepath.Join(root, mode, dsName, sceneName, "images")
			test.That(t, os.MkdirAll(dir, 0o755), test.ShouldBeNil)
			for _, name := range images {
				test.That(t, os.WriteFile(filepath.Join(dir, name), []byte("png"), 0o600), test.ShouldBeNil)
			}
		}
	}
}

// WriteSampleSubmission writes a sample submission listing the given image paths, in order,
// with identity poses. Paths are dataset/scene/images/<name>.
func WriteSampleSubmission(t *testing.T, path string, imagePaths []string) {
	t.Helper()
	lines := []string{"image_path,dataset,scene,rotation_matrix,translation_vector"}
	for _, imagePath := range imagePaths {
		parts := strings.Split(imagePath, "/")
		test.That(t, len(parts), test.ShouldBeGreaterThanOrEqualTo, 3)
		lines = append(lines, strings.Join([]string{
			imagePath, parts[0], parts[1], "1;0;0;0;1;0;0;0;1", "0;0;0",
		}, ","))
	}
	test.That(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600), test.ShouldBeNil)
}

// CheckDirForExpectedFiles ensures that dir holds exactly count entries whose names have the given suffix.
func CheckDirForExpectedFiles(t *testing.T, dir, suffix string, count int) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	test.That(t, err, test.ShouldBeNil)
	var names []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), suffix) {
			names = append(names, filepath.Join(dir, entry.Name()))
		}
	}
	test.That(t, names, test.ShouldHaveLength, count)
	return names
}
