package transformio

import (
	"errors"
	"fmt"

	"github.com/banshee-data/pointmatch/internal/fsutil"
	"github.com/banshee-data/pointmatch/internal/match"
	"github.com/banshee-data/pointmatch/internal/rigid"
)

// MaxTransformFileSize caps the size of a transform file (64MB).
const MaxTransformFileSize = 64 << 20

// Source loads model and space transform sets from files.
type Source struct {
	fs      fsutil.FileSystem
	maxSize int64
}

// NewSource returns a Source reading through fsys.
func NewSource(fsys fsutil.FileSystem) *Source {
	return &Source{fs: fsys, maxSize: MaxTransformFileSize}
}

// Load reads the transform file at path. input names the set ("model" or
// "space") in validation errors. Parse and validation failures come back as
// *match.InputValidationError carrying the record index.
func (s *Source) Load(input, path string) ([]rigid.Transform, error) {
	info, err := s.fs.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s file: %w", input, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s file %s is a directory", input, path)
	}
	if info.Size() > s.maxSize {
		return nil, &match.InputValidationError{
			Input:  input,
			Index:  -1,
			Reason: fmt.Sprintf("file too large: %d bytes (max %d)", info.Size(), s.maxSize),
		}
	}

	data, err := s.fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s file: %w", input, err)
	}

	return UnmarshalInput(input, data)
}

// UnmarshalInput decodes data like Unmarshal but reports failures as
// *match.InputValidationError for the named input set.
func UnmarshalInput(input string, data []byte) ([]rigid.Transform, error) {
	ts, err := Unmarshal(data)
	if err != nil {
		var re *RecordError
		if errors.As(err, &re) {
			return nil, &match.InputValidationError{Input: input, Index: re.Index, Err: re.Err}
		}
		return nil, &match.InputValidationError{Input: input, Index: -1, Err: err}
	}
	return ts, nil
}

// LoadPair loads the model and space sets.
func (s *Source) LoadPair(modelPath, spacePath string) (model, space []rigid.Transform, err error) {
	model, err = s.Load(match.InputModel, modelPath)
	if err != nil {
		return nil, nil, err
	}
	space, err = s.Load(match.InputSpace, spacePath)
	if err != nil {
		return nil, nil, err
	}
	return model, space, nil
}
