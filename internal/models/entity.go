// Package models defines the domain types for ansuz.
package models

import "time"

// Kind identifies one of the three entity tables.
type Kind int

// Entity kinds.
const (
	KindPost Kind = iota
	KindProject
	KindTag
)

// Kinds lists every entity kind in schema order.
var Kinds = []Kind{KindPost, KindProject, KindTag}

// String returns the singular name of the kind.
func (k Kind) String() string {
	switch k {
	case KindPost:
		return "post"
	case KindProject:
		return "project"
	case KindTag:
		return "tag"
	default:
		return "unknown"
	}
}

// Table returns the entity table backing the kind.
func (k Kind) Table() string {
	return k.String() + "s"
}

// ParseKind maps a singular or plural kind name to a Kind.
func ParseKind(s string) (Kind, bool) {
	for _, k := range Kinds {
		if s == k.String() || s == k.Table() {
			return k, true
		}
	}
	return 0, false
}

// Entity is a persisted post, project or tag.
type Entity struct {
	ID          int64   `json:"id"`
	Kind        Kind    `json:"-"`
	Title       string  `json:"title"`
	Slug        string  `json:"slug"`
	Description string  `json:"description"`
	Content     string  `json:"content"`
	BannerPath  string  `json:"banner_path"`
	Icon        string  `json:"icon,omitempty"` // tags only
	CreatedAt   int64   `json:"created_at"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Z           float64 `json:"z"`
}

// CacheEntry is the last known state of one vault file. For documents Kind
// and Slug name the entity the file produced; Slug is empty for media.
type CacheEntry struct {
	Path string
	Hash string
	Kind Kind
	Slug string
	X    float64
	Y    float64
	Z    float64
}

// Reference is a slug reference from a stored entity whose target did not
// exist when the source was processed.
type Reference struct {
	Source Entity
	Kind   Kind
	Slug   string
}

// Document is the raw record parsed from a markdown file, before its slug
// references are resolved.
type Document struct {
	Title       string
	Slug        string
	Description string
	BannerPath  string
	Icon        string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Tags        []string
	Posts       []string
	Projects    []string
	X           float64
	Y           float64
	Z           float64
	Body        string
}

// Entity converts the document into an entity of the given kind.
func (d *Document) Entity(kind Kind) Entity {
	e := Entity{
		Kind:        kind,
		Title:       d.Title,
		Slug:        d.Slug,
		Description: d.Description,
		Content:     d.Body,
		BannerPath:  d.BannerPath,
		X:           d.X,
		Y:           d.Y,
		Z:           d.Z,
	}
	if kind == KindTag {
		e.Icon = d.Icon
	}
	if !d.CreatedAt.IsZero() {
		e.CreatedAt = d.CreatedAt.Unix()
	}
	return e
}

// References returns the slug list for the given target kind.
func (d *Document) References(target Kind) []string {
	switch target {
	case KindPost:
		return d.Posts
	case KindProject:
		return d.Projects
	case KindTag:
		return d.Tags
	}
	return nil
}
