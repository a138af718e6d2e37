package book

import (
	"errors"
	"fmt"
)

// Error kinds. Every failure surfaced by the conversion pipeline matches one
// of these with errors.Is.
var (
	// ErrInputNotFound indicates a source document does not exist.
	ErrInputNotFound = errors.New("input not found")

	// ErrParse indicates the markdown transform failed for a document.
	ErrParse = errors.New("parse failed")

	// ErrAssetFetch indicates a remote image could not be downloaded.
	// Recoverable: the asset is omitted from the package.
	ErrAssetFetch = errors.New("asset fetch failed")

	// ErrAssetCopy indicates a local image could not be copied.
	// Recoverable: the asset is omitted from the package.
	ErrAssetCopy = errors.New("asset copy failed")

	// ErrArchiveWrite indicates staging or packaging I/O failed.
	ErrArchiveWrite = errors.New("archive write failed")

	// ErrConfiguration indicates an invalid combination of options.
	ErrConfiguration = errors.New("invalid configuration")
)

// Error carries the failing stage and file alongside the error kind.
type Error struct {
	Kind  error
	Stage string
	Path  string
	Err   error
}

// NewError wraps err with kind and context. A nil err is allowed.
func NewError(kind error, stage, path string, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Path: path, Err: err}
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Stage != "" {
		msg = e.Stage + ": " + msg
	}
	if e.Path != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Path)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// IsRecoverable reports whether err only degrades the output (asset failures).
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrAssetFetch) || errors.Is(err, ErrAssetCopy)
}
