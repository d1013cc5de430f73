// Package storage defines the vault file-system abstraction.
package storage

import "context"

// WalkFunc receives each regular file under the root as a root-relative,
// forward-slash path. err is non-nil when the entry could not be read; the
// walk continues unless WalkFunc returns an error.
type WalkFunc func(rel string, err error) error

// Provider is the interface for vault file operations.
type Provider interface {
	// Root returns the absolute vault directory.
	Root() string
	// Walk visits every regular file under the root.
	Walk(ctx context.Context, fn WalkFunc) error
	// Read returns the raw bytes of the file at path (relative to vault root).
	Read(path string) ([]byte, error)
	// Write atomically writes content to path (relative to vault root).
	Write(path string, content []byte) error
}
