package frontmatter

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/starford/ansuz/internal/models"
)

func TestParse_TitleSlugBody(t *testing.T) {
	doc, err := Parse([]byte("---\ntitle: Hello\nslug: hello\n---\nBody text"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Title != "Hello" {
		t.Errorf("title = %q, want %q", doc.Title, "Hello")
	}
	if doc.Slug != "hello" {
		t.Errorf("slug = %q, want %q", doc.Slug, "hello")
	}
	if doc.Body != "Body text" {
		t.Errorf("body = %q, want %q", doc.Body, "Body text")
	}
}

func TestParse_AllKeys(t *testing.T) {
	input := []byte(`
---
title: Building a site
slug: building-a-site
description: Notes on the rebuild
banner_path: img/banner.png
icon: nf-dev-go
tags:
  - go
  - sqlite
posts: [intro]
projects: site
x: 1.5
y: -2
z: 0.25
created_at: 2024-03-01
updated_at: 1709251200
extra: ignored
---
# Heading

Body with --- inside a line.
`)
	got, err := Parse(input)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := &models.Document{
		Title:       "Building a site",
		Slug:        "building-a-site",
		Description: "Notes on the rebuild",
		BannerPath:  "img/banner.png",
		Icon:        "nf-dev-go",
		CreatedAt:   time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt:   time.Unix(1709251200, 0).UTC(),
		Tags:        []string{"go", "sqlite"},
		Posts:       []string{"intro"},
		Projects:    []string{"site"},
		X:           1.5,
		Y:           -2,
		Z:           0.25,
		Body:        "# Heading\n\nBody with --- inside a line.\n",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("document mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_Timestamps(t *testing.T) {
	cases := []struct {
		name  string
		value string
		want  time.Time
	}{
		{"yaml date", "2024-03-01", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"rfc3339 offset", "2024-03-01T10:30:00+02:00", time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC)},
		{"space separated", `"2024-03-01 10:30:00"`, time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)},
		{"epoch", "1709251200", time.Unix(1709251200, 0).UTC()},
		{"quoted epoch", `"1709251200"`, time.Unix(1709251200, 0).UTC()},
		{"quoted date", `"2024-03-01"`, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			doc, err := Parse([]byte("---\ncreated_at: " + tc.value + "\n---\n"))
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if !doc.CreatedAt.Equal(tc.want) {
				t.Errorf("created_at = %v, want %v", doc.CreatedAt, tc.want)
			}
		})
	}
}

func TestParse_Defaults(t *testing.T) {
	doc, err := Parse([]byte("---\n---\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := &models.Document{Tags: []string{}, Posts: []string{}, Projects: []string{}}
	if diff := cmp.Diff(want, doc); diff != "" {
		t.Errorf("defaults mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_EmptySlugAccepted(t *testing.T) {
	doc, err := Parse([]byte("---\ntitle: No slug\n---\nbody"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if doc.Slug != "" {
		t.Errorf("slug = %q, want empty", doc.Slug)
	}
}

func TestParse_CRLF(t *testing.T) {
	doc, err := Parse([]byte("---\r\ntitle: Windows\r\n---\r\nbody\r\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if doc.Title != "Windows" {
		t.Errorf("title = %q", doc.Title)
	}
	if doc.Body != "body\r\n" {
		t.Errorf("body = %q", doc.Body)
	}
}

func TestParse_CustomDelimiter(t *testing.T) {
	p := Parser{Delimiter: "+++"}
	doc, err := p.Parse([]byte("+++\ntitle: Plus\n+++\nbody"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if doc.Title != "Plus" || doc.Body != "body" {
		t.Errorf("doc = %+v", doc)
	}
	if _, err := p.Parse([]byte("---\ntitle: Dash\n---\n")); !errors.Is(err, ErrMissingOpeningDelimiter) {
		t.Errorf("err = %v, want ErrMissingOpeningDelimiter", err)
	}
}

func TestParse_Errors(t *testing.T) {
	cases := []struct {
		name  string
		input []byte
		want  error
	}{
		{"missing closing", []byte("---\ntitle: Hello\nBody text"), ErrMissingClosingDelimiter},
		{"no frontmatter", []byte("# Just a heading\n"), ErrMissingOpeningDelimiter},
		{"empty", []byte(""), ErrMissingOpeningDelimiter},
		{"blank only", []byte("\n\n  \n"), ErrMissingOpeningDelimiter},
		{"invalid yaml", []byte("---\n: invalid: yaml: {{{\n---\nBody\n"), ErrInvalidMetadata},
		{"non-scalar title", []byte("---\ntitle: [a, b]\n---\n"), ErrInvalidMetadata},
		{"bad float", []byte("---\nx: far\n---\n"), ErrInvalidMetadata},
		{"nested tags", []byte("---\ntags:\n  - [a]\n---\n"), ErrInvalidMetadata},
		{"bad created_at", []byte("---\ncreated_at: someday\n---\n"), ErrInvalidMetadata},
		{"invalid utf8", []byte("---\ntitle: \xff\xfe\n---\n"), ErrInvalidEncoding},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.input)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("err %T is not *ParseError", err)
			}
		})
	}
}

func TestParse_LeadingBlankLines(t *testing.T) {
	doc, err := Parse([]byte("\n\n---\ntitle: Late\n---\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if doc.Title != "Late" {
		t.Errorf("title = %q", doc.Title)
	}
}

func TestParseError_Message(t *testing.T) {
	_, err := Parse([]byte("---\ntitle: Hello\nBody text"))
	want := "frontmatter: line 1: missing closing delimiter"
	if err == nil || err.Error() != want {
		t.Errorf("err = %v, want %q", err, want)
	}
}
