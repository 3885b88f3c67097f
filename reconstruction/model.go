// Package reconstruction reads the camera poses of a sparse model written by the external
// structure-from-motion tool in COLMAP text format.
package reconstruction

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"

	"github.com/viamrobotics/viam-sfm-eval/metric"
	"github.com/viamrobotics/viam-sfm-eval/pose"
)

// ImagesFile is the name of the per-image pose file inside a model directory.
const ImagesFile = "images.txt"

// ErrNoModel is returned when a model directory holds no reconstruction.
var ErrNoModel = errors.New("no reconstructed model")

// Image is one registered image of a model.
type Image struct {
	ID       int
	CameraID int
	Name     string
	// Pose maps world coordinates into the camera frame.
	Pose pose.Pose
}

// Model is a sparse reconstruction.
type Model struct {
	Images []Image
}

// NumRegImages returns the number of registered images.
func (m *Model) NumRegImages() int {
	return len(m.Images)
}

// ReadModel reads dir/images.txt. A missing directory or file yields ErrNoModel.
func ReadModel(dir string) (*Model, error) {
	//nolint:gosec
	f, err := os.Open(filepath.Join(dir, ImagesFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrNoModel, "in %s", dir)
		}
		return nil, err
	}
	defer f.Close()
	return ParseImages(f)
}

// ParseImages parses COLMAP images.txt content. Each image takes two lines: the pose line
//
//	IMAGE_ID QW QX QY QZ TX TY TZ CAMERA_ID NAME
//
// followed by its 2D points, which are ignored and may be empty. Lines starting with # are comments.
func ParseImages(r io.Reader) (*Model, error) {
	model := &Model{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)

	lineNum := 0
	expectPoints := false
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "#") {
			continue
		}
		if expectPoints {
			expectPoints = false
			continue
		}
		if line == "" {
			continue
		}
		img, err := parseImageLine(line)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", lineNum)
		}
		model.Images = append(model.Images, img)
		expectPoints = true
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return model, nil
}

func parseImageLine(line string) (Image, error) {
	fields := strings.Fields(line)
	if len(fields) < 10 {
		return Image{}, errors.Errorf("expected 10 fields, got %d", len(fields))
	}
	id, err := strconv.Atoi(fields[0])
	if err != nil {
		return Image{}, errors.Wrap(err, "image id")
	}
	values := make([]float64, 7)
	for i := range values {
		if values[i], err = strconv.ParseFloat(fields[i+1], 64); err != nil {
			return Image{}, errors.Wrapf(err, "pose value %d", i)
		}
	}
	cameraID, err := strconv.Atoi(fields[8])
	if err != nil {
		return Image{}, errors.Wrap(err, "camera id")
	}
	q := quat.Number{Real: values[0], Imag: values[1], Jmag: values[2], Kmag: values[3]}
	return Image{
		ID:       id,
		CameraID: cameraID,
		// names may contain spaces
		Name: strings.Join(fields[9:], " "),
		Pose: pose.Pose{
			Rotation:    metric.MatrixFromQuaternion(q),
			Translation: r3.Vector{X: values[4], Y: values[5], Z: values[6]},
		},
	}, nil
}

// WriteImages writes images in COLMAP text format with empty point lines.
func WriteImages(w io.Writer, images []Image) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString("# Image list with two lines of data per image:\n" +
		"#   IMAGE_ID, QW, QX, QY, QZ, TX, TY, TZ, CAMERA_ID, NAME\n" +
		"#   POINTS2D[] as (X, Y, POINT3D_ID)\n"); err != nil {
		return err
	}
	for _, img := range images {
		q := metric.QuaternionFromMatrix(img.Pose.Rotation)
		t := img.Pose.Translation
		fields := []string{
			strconv.Itoa(img.ID),
			formatFloat(q.Real), formatFloat(q.Imag), formatFloat(q.Jmag), formatFloat(q.Kmag),
			formatFloat(t.X), formatFloat(t.Y), formatFloat(t.Z),
			strconv.Itoa(img.CameraID),
			img.Name,
		}
		if _, err := bw.WriteString(strings.Join(fields, " ") + "\n\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
