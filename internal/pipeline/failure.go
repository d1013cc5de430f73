package pipeline

import (
	"errors"
	"io/fs"

	"github.com/starford/ansuz/internal/frontmatter"
	"github.com/starford/ansuz/internal/index"
	"github.com/starford/ansuz/internal/upload"
	"github.com/starford/ansuz/internal/vault"
)

// ErrTimeout is returned when the run exceeds its configured timeout.
var ErrTimeout = errors.New("pipeline: timeout")

// Failure kinds as logged for failed tasks.
const (
	FailureIO          = "io"
	FailureEncoding    = "encoding"
	FailureParse       = "parse"
	FailureInvalidPath = "invalid_path"
	FailureUpload      = "upload"
	FailureStore       = "store"
	FailureUnknown     = "unknown"
)

// FailureKind classifies a task error.
func FailureKind(err error) string {
	var (
		pathErr  *fs.PathError
		parseErr *frontmatter.ParseError
	)
	switch {
	case errors.Is(err, index.ErrStore):
		return FailureStore
	case errors.Is(err, upload.ErrUpload):
		return FailureUpload
	case errors.Is(err, vault.ErrInvalidPath):
		return FailureInvalidPath
	case errors.Is(err, frontmatter.ErrInvalidEncoding):
		return FailureEncoding
	case errors.As(err, &parseErr):
		return FailureParse
	case errors.As(err, &pathErr):
		return FailureIO
	default:
		return FailureUnknown
	}
}
