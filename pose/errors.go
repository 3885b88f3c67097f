package pose

import (
	"fmt"
)

// Level names the registry level at which a key is missing.
type Level string

// Registry levels.
const (
	LevelDataset Level = "dataset"
	LevelScene   Level = "scene"
	LevelImage   Level = "image"
)

// MissingKeyError reports a ground-truth key absent from a submission.
type MissingKeyError struct {
	Level Level
	Key   Key
}

func (e *MissingKeyError) Error() string {
	switch e.Level {
	case LevelDataset:
		return fmt.Sprintf("unknown dataset: %s", e.Key.Dataset)
	case LevelScene:
		return fmt.Sprintf("unknown scene: %s->%s", e.Key.Dataset, e.Key.Scene)
	default:
		return fmt.Sprintf("unknown image: %s->%s->%s", e.Key.Dataset, e.Key.Scene, e.Key.Image)
	}
}

// ParseError is returned when a pose CSV cannot be parsed. Line is 1-based and counts the header.
type ParseError struct {
	Line  int
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("line %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("line %d: field %s: %v", e.Line, e.Field, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ParseError) Unwrap() error {
	return e.Err
}
