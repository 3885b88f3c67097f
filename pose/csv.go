package pose

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

const (
	// Header is the column layout of submission and ground-truth files.
	Header = "image_path,dataset,scene,rotation_matrix,translation_vector"

	valueSeparator = ";"
	rotationLen    = 9
	translationLen = 3
)

// Row is one line of a pose CSV. Columns are matched by header name, so label files with a
// different column order (dataset,scene,image_path,...) parse the same way.
type Row struct {
	ImagePath         string `csv:"image_path"`
	Dataset           string `csv:"dataset"`
	Scene             string `csv:"scene"`
	RotationMatrix    string `csv:"rotation_matrix"`
	TranslationVector string `csv:"translation_vector"`
}

// Key returns the registry key of the row.
func (r *Row) Key() Key {
	return Key{Dataset: r.Dataset, Scene: r.Scene, Image: r.ImagePath}
}

// Pose parses the rotation and translation columns.
func (r *Row) Pose() (Pose, error) {
	rot, err := parseValues(r.RotationMatrix, rotationLen)
	if err != nil {
		return Pose{}, &ParseError{Field: "rotation_matrix", Err: err}
	}
	trans, err := parseValues(r.TranslationVector, translationLen)
	if err != nil {
		return Pose{}, &ParseError{Field: "translation_vector", Err: err}
	}
	var p Pose
	copy(p.Rotation[:], rot)
	p.Translation = r3.Vector{X: trans[0], Y: trans[1], Z: trans[2]}
	return p, nil
}

func parseValues(field string, expected int) ([]float64, error) {
	field = strings.TrimSpace(field)
	if field == "" {
		return nil, errors.Errorf("expected %d values, got none", expected)
	}
	parts := strings.Split(field, valueSeparator)
	if len(parts) != expected {
		return nil, errors.Errorf("expected %d values, got %d", expected, len(parts))
	}
	values := make([]float64, 0, expected)
	for _, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

// FormatValues flattens values with the CSV value separator.
func FormatValues(values ...float64) string {
	parts := make([]string, 0, len(values))
	for _, v := range values {
		parts = append(parts, strconv.FormatFloat(v, 'g', -1, 64))
	}
	return strings.Join(parts, valueSeparator)
}

// NewRow formats p as a CSV row for key.
func NewRow(key Key, p Pose) *Row {
	t := p.Translation
	return &Row{
		ImagePath:         key.Image,
		Dataset:           key.Dataset,
		Scene:             key.Scene,
		RotationMatrix:    FormatValues(p.Rotation[:]...),
		TranslationVector: FormatValues(t.X, t.Y, t.Z),
	}
}

// ReadRows reads the raw rows of a pose CSV without parsing pose columns.
func ReadRows(r io.Reader) ([]*Row, error) {
	var rows []*Row
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		var csvErr *csv.ParseError
		if errors.As(err, &csvErr) {
			return nil, &ParseError{Line: csvErr.Line, Err: csvErr.Err}
		}
		return nil, &ParseError{Err: err}
	}
	return rows, nil
}

// ReadCSV parses a pose CSV into a registry. Any malformed row aborts the parse.
func ReadCSV(r io.Reader) (Registry, error) {
	rows, err := ReadRows(r)
	if err != nil {
		return nil, err
	}
	reg := Registry{}
	for i, row := range rows {
		p, err := row.Pose()
		if err != nil {
			var parseErr *ParseError
			if errors.As(err, &parseErr) {
				// header is line 1
				parseErr.Line = i + 2
			}
			return nil, err
		}
		reg.Add(row.Key(), p)
	}
	return reg, nil
}

// ReadCSVFile parses the pose CSV at path.
func ReadCSVFile(path string) (Registry, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	reg, err := ReadCSV(f)
	if err != nil {
		return nil, errors.Wrapf(err, "error parsing %s", path)
	}
	return reg, nil
}

// WriteCSV writes one row per catalog image. Images without an estimate get DefaultPose.
func WriteCSV(w io.Writer, catalog *Catalog, estimates Registry) error {
	rows := make([]*Row, 0, catalog.Len())
	for _, dsName := range catalog.Datasets() {
		for _, sceneName := range catalog.Scenes(dsName) {
			for _, image := range catalog.Images(dsName, sceneName) {
				key := Key{Dataset: dsName, Scene: sceneName, Image: image}
				p, ok := estimates.Lookup(key)
				if !ok {
					p = DefaultPose()
				}
				rows = append(rows, NewRow(key, p))
			}
		}
	}
	return gocsv.Marshal(rows, w)
}

// WriteCSVFile writes the submission CSV to path.
func WriteCSVFile(path string, catalog *Catalog, estimates Registry) (err error) {
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
	}()
	return WriteCSV(f, catalog, estimates)
}
