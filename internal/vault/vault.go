// Package vault classifies vault files and derives slugs from their paths.
package vault

import (
	"errors"
	"fmt"
	"mime"
	"path"
	"path/filepath"
	"strings"

	"github.com/starford/ansuz/internal/models"
)

// Container directories, relative to the vault root.
const (
	AssetsDir   = "assets/"
	PostsDir    = "posts/"
	ProjectsDir = "projects/"
	TagsDir     = "tags/"
)

// DocumentExt is the suffix that marks a file as a document.
const DocumentExt = ".md"

// Class is the outcome of classifying a vault file.
type Class int

// Classes.
const (
	ClassIgnored Class = iota
	ClassDocument
	ClassMedia
)

func (c Class) String() string {
	switch c {
	case ClassDocument:
		return "document"
	case ClassMedia:
		return "media"
	default:
		return "ignored"
	}
}

var mediaExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".webp": true, ".avif": true, ".tiff": true, ".svg": true,
	".pdf": true,
}

var containers = []string{AssetsDir, PostsDir, ProjectsDir, TagsDir}

var kindByDir = map[string]models.Kind{
	PostsDir:    models.KindPost,
	ProjectsDir: models.KindProject,
	TagsDir:     models.KindTag,
}

// ErrInvalidPath is matched by every InvalidPathError.
var ErrInvalidPath = errors.New("invalid vault path")

// InvalidPathError reports a path outside the recognized containers.
type InvalidPathError struct {
	Path string
}

func (e *InvalidPathError) Error() string {
	return fmt.Sprintf("vault: %s: not under assets/, posts/, projects/ or tags/", e.Path)
}

// Is reports whether target is ErrInvalidPath.
func (e *InvalidPathError) Is(target error) bool {
	return target == ErrInvalidPath
}

// Classify maps a path to document, media or ignored. It never fails.
func Classify(p string) Class {
	if strings.HasSuffix(p, DocumentExt) {
		return ClassDocument
	}
	if mediaExtensions[strings.ToLower(path.Ext(p))] {
		return ClassMedia
	}
	return ClassIgnored
}

// Pathify strips the container prefix from a root-relative path.
func Pathify(p string) (string, error) {
	for _, dir := range containers {
		if rest, ok := strings.CutPrefix(p, dir); ok {
			return rest, nil
		}
	}
	return "", &InvalidPathError{Path: p}
}

// Slugify returns the slug for a root-relative path. Assets keep their
// extension; documents drop it.
//
//	Slugify("posts/hello-world.md") == "hello-world"
//	Slugify("assets/img/logo.png") == "img/logo.png"
func Slugify(p string) (string, error) {
	if rest, ok := strings.CutPrefix(p, AssetsDir); ok {
		return rest, nil
	}
	rest, err := Pathify(p)
	if err != nil {
		return "", err
	}
	rest = strings.TrimRight(rest, `/\`)
	if i := strings.IndexByte(path.Base(rest), '.'); i >= 0 {
		rest = rest[:len(rest)-len(path.Base(rest))+i]
	}
	return rest, nil
}

// KindOf returns the entity kind for a document path.
func KindOf(p string) (models.Kind, error) {
	for dir, kind := range kindByDir {
		if strings.HasPrefix(p, dir) {
			return kind, nil
		}
	}
	return 0, &InvalidPathError{Path: p}
}

// ContentType guesses the MIME type of a file from its extension.
func ContentType(p string) string {
	if ct := mime.TypeByExtension(strings.ToLower(path.Ext(p))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// Normalize turns an absolute path under root into the root-relative,
// forward-slash form used as the cache key.
func Normalize(root, abs string) (string, error) {
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return "", fmt.Errorf("vault: normalize %s: %w", abs, err)
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", &InvalidPathError{Path: abs}
	}
	return rel, nil
}
