// Package archive turns a staged package tree into an EPUB container file.
package archive

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/yuanying/md2epub/internal/book"
)

const stagePrefix = ".md2epub-"

// Stage is a private working directory for one conversion. Its name carries
// a fresh token so concurrent conversions into the same directory never share
// state.
type Stage struct {
	dir string
	log *zap.Logger
}

// NewStage creates a staging directory inside parent.
func NewStage(parent string, log *zap.Logger) (*Stage, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(parent, 0755); err != nil {
		return nil, book.NewError(book.ErrArchiveWrite, "stage", parent, fmt.Errorf("unable to create output directory: %w", err))
	}
	dir := filepath.Join(parent, stagePrefix+uuid.NewString())
	if err := os.Mkdir(dir, 0755); err != nil {
		return nil, book.NewError(book.ErrArchiveWrite, "stage", dir, err)
	}
	log.Debug("Staging directory created", zap.String("dir", dir))
	return &Stage{dir: dir, log: log}, nil
}

// Dir returns the root of the staged tree.
func (s *Stage) Dir() string {
	return s.dir
}

// Cleanup removes the staged tree. It is safe to call more than once.
func (s *Stage) Cleanup() error {
	if s == nil || s.dir == "" {
		return nil
	}
	if err := os.RemoveAll(s.dir); err != nil {
		return book.NewError(book.ErrArchiveWrite, "cleanup", s.dir, err)
	}
	s.log.Debug("Staging directory removed", zap.String("dir", s.dir))
	s.dir = ""
	return nil
}

// WithStage runs fn with a fresh staging directory in parent and removes the
// directory afterwards whatever fn returns.
func WithStage(parent string, log *zap.Logger, fn func(dir string) error) (err error) {
	stage, err := NewStage(parent, log)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, stage.Cleanup())
	}()
	return fn(stage.Dir())
}
