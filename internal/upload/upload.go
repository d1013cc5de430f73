// Package upload publishes media assets to their destination: an S3
// compatible bucket, a local mirror directory, or nowhere.
package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/starford/ansuz/internal/storage"
)

// ErrUpload is matched by every *Error.
var ErrUpload = errors.New("upload failed")

// Uploader stores the bytes of one asset under key.
type Uploader interface {
	Upload(ctx context.Context, key string, data []byte) error
}

// Error is a failed upload of one key.
type Error struct {
	Key string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("upload: %s: %v", e.Key, e.Err)
}

// Is reports whether target is ErrUpload.
func (e *Error) Is(target error) bool { return target == ErrUpload }

func (e *Error) Unwrap() error { return e.Err }

// Noop discards every upload.
type Noop struct{}

// Upload implements Uploader.
func (Noop) Upload(context.Context, string, []byte) error { return nil }

// Dir mirrors assets into a local directory.
type Dir struct {
	fs     storage.Provider
	logger *slog.Logger
}

// NewDir creates a Dir uploader writing under root, which must exist.
func NewDir(root string, logger *slog.Logger) (*Dir, error) {
	fs, err := storage.NewFS(root)
	if err != nil {
		return nil, fmt.Errorf("upload: dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dir{fs: fs, logger: logger}, nil
}

// Upload implements Uploader.
func (d *Dir) Upload(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := d.fs.Write(key, data); err != nil {
		return &Error{Key: key, Err: err}
	}
	d.logger.Debug("upload: copied", slog.String("key", key), slog.Int("bytes", len(data)))
	return nil
}
