// Package frontmatter splits a markdown document into its YAML metadata
// block and body and maps the metadata onto a models.Document.
package frontmatter

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/starford/ansuz/internal/models"
)

// DefaultDelimiter opens and closes the metadata block.
const DefaultDelimiter = "---"

// Failure kinds. Every error returned by Parse is a *ParseError that matches
// exactly one of these with errors.Is.
var (
	ErrInvalidEncoding         = errors.New("content is not valid UTF-8")
	ErrMissingOpeningDelimiter = errors.New("missing opening delimiter")
	ErrMissingClosingDelimiter = errors.New("missing closing delimiter")
	ErrInvalidMetadata         = errors.New("invalid metadata")
)

// ParseError describes why a document could not be parsed.
type ParseError struct {
	Kind error
	Line int   // 1-based line the failure was detected on, 0 when unknown
	Err  error // underlying decoder error, if any
}

func (e *ParseError) Error() string {
	msg := "frontmatter: " + e.Kind.Error()
	if e.Line > 0 {
		msg = fmt.Sprintf("frontmatter: line %d: %s", e.Line, e.Kind)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is reports whether target is the failure kind.
func (e *ParseError) Is(target error) bool { return target == e.Kind }

func (e *ParseError) Unwrap() error { return e.Err }

// Parser parses documents using a configurable delimiter line.
type Parser struct {
	Delimiter string
}

// Parse parses data with the default delimiter.
func Parse(data []byte) (*models.Document, error) {
	return Parser{}.Parse(data)
}

// Parse splits data into metadata and body. The first non-blank line must be
// the delimiter; metadata runs until the next delimiter line and everything
// after that line is the body, verbatim.
func (p Parser) Parse(data []byte) (*models.Document, error) {
	delim := p.Delimiter
	if delim == "" {
		delim = DefaultDelimiter
	}
	if !utf8.Valid(data) {
		return nil, &ParseError{Kind: ErrInvalidEncoding}
	}
	text := strings.TrimPrefix(string(data), "\ufeff")

	sc := lineScanner{text: text}
	for {
		line, ok := sc.next()
		if !ok {
			return nil, &ParseError{Kind: ErrMissingOpeningDelimiter, Line: sc.line}
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if trimmed != delim {
			return nil, &ParseError{Kind: ErrMissingOpeningDelimiter, Line: sc.line}
		}
		break
	}

	start, opened := sc.pos, sc.line
	var block, body string
	for {
		lineStart := sc.pos
		line, ok := sc.next()
		if !ok {
			return nil, &ParseError{Kind: ErrMissingClosingDelimiter, Line: opened}
		}
		if strings.TrimSpace(line) == delim {
			block = text[start:lineStart]
			body = text[sc.pos:]
			break
		}
	}

	var m metadata
	if err := yaml.Unmarshal([]byte(block), &m); err != nil {
		return nil, &ParseError{Kind: ErrInvalidMetadata, Line: opened + 1, Err: err}
	}

	return &models.Document{
		Title:       m.Title,
		Slug:        m.Slug,
		Description: m.Description,
		BannerPath:  m.BannerPath,
		Icon:        m.Icon,
		CreatedAt:   m.CreatedAt.Time,
		UpdatedAt:   m.UpdatedAt.Time,
		Tags:        nonNil(m.Tags),
		Posts:       nonNil(m.Posts),
		Projects:    nonNil(m.Projects),
		X:           m.X,
		Y:           m.Y,
		Z:           m.Z,
		Body:        body,
	}, nil
}

type lineScanner struct {
	text string
	pos  int
	line int
}

// next returns the next line without its terminator.
func (s *lineScanner) next() (string, bool) {
	if s.pos >= len(s.text) {
		return "", false
	}
	s.line++
	rest := s.text[s.pos:]
	i := strings.IndexByte(rest, '\n')
	if i < 0 {
		s.pos = len(s.text)
		return rest, true
	}
	s.pos += i + 1
	return rest[:i], true
}

// metadata holds the recognized keys; anything else is ignored.
type metadata struct {
	Title       string     `yaml:"title"`
	Slug        string     `yaml:"slug"`
	Description string     `yaml:"description"`
	BannerPath  string     `yaml:"banner_path"`
	Icon        string     `yaml:"icon"`
	Tags        stringList `yaml:"tags"`
	Posts       stringList `yaml:"posts"`
	Projects    stringList `yaml:"projects"`
	X           float64    `yaml:"x"`
	Y           float64    `yaml:"y"`
	Z           float64    `yaml:"z"`
	CreatedAt   timestamp  `yaml:"created_at"`
	UpdatedAt   timestamp  `yaml:"updated_at"`
}

// stringList accepts a sequence of scalars or a single scalar.
type stringList []string

func (l *stringList) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.ScalarNode:
		if n.Value != "" {
			*l = stringList{n.Value}
		}
		return nil
	case yaml.SequenceNode:
		out := make(stringList, 0, len(n.Content))
		for _, item := range n.Content {
			if item.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: list items must be scalars", item.Line)
			}
			if v := strings.TrimSpace(item.Value); v != "" {
				out = append(out, v)
			}
		}
		*l = out
		return nil
	default:
		return fmt.Errorf("line %d: expected a list of strings", n.Line)
	}
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// timestamp accepts YAML timestamps, common date layouts and epoch seconds.
type timestamp struct {
	time.Time
}

func (t *timestamp) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a timestamp", n.Line)
	}
	var tt time.Time
	if err := n.Decode(&tt); err == nil {
		t.Time = tt
		return nil
	}
	for _, layout := range timeLayouts {
		if tt, err := time.Parse(layout, n.Value); err == nil {
			t.Time = tt
			return nil
		}
	}
	if secs, err := strconv.ParseInt(n.Value, 10, 64); err == nil {
		t.Time = time.Unix(secs, 0).UTC()
		return nil
	}
	return fmt.Errorf("line %d: cannot parse %q as a timestamp", n.Line, n.Value)
}

func nonNil(s stringList) []string {
	if s == nil {
		return []string{}
	}
	return s
}
