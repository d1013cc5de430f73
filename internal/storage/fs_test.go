package storage

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func tempVault(t *testing.T) *FS {
	t.Helper()
	dir := t.TempDir()
	fs, err := NewFS(dir)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

func TestWriteAndRead(t *testing.T) {
	s := tempVault(t)
	content := []byte("---\ntitle: Hello\n---\nWorld\n")
	if err := s.Write("posts/note.md", content); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("posts/note.md")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content mismatch: got %q", got)
	}
}

func TestWriteReplacesExisting(t *testing.T) {
	s := tempVault(t)
	_ = s.Write("assets/a.png", []byte("old"))
	if err := s.Write("assets/a.png", []byte("new")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, _ := s.Read("assets/a.png")
	if string(got) != "new" {
		t.Errorf("content = %q, want new", got)
	}
}

func TestWalk(t *testing.T) {
	s := tempVault(t)
	_ = s.Write("posts/a.md", []byte("a"))
	_ = s.Write("assets/img/b.png", []byte("b"))
	_ = s.Write("readme.txt", []byte("not md"))
	_ = s.Write(".git/HEAD", []byte("ref"))
	if err := os.MkdirAll(filepath.Join(s.Root(), "tags", "empty"), 0o755); err != nil {
		t.Fatal(err)
	}

	var got []string
	err := s.Walk(context.Background(), func(rel string, err error) error {
		if err != nil {
			t.Errorf("unexpected walk error for %s: %v", rel, err)
			return nil
		}
		got = append(got, rel)
		return nil
	})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	sort.Strings(got)
	want := []string{"assets/img/b.png", "posts/a.md", "readme.txt"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("walk mismatch (-want +got):\n%s", diff)
	}
}

func TestWalk_Cancelled(t *testing.T) {
	s := tempVault(t)
	_ = s.Write("posts/a.md", []byte("a"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Walk(ctx, func(string, error) error { return nil }); err == nil {
		t.Error("expected error from cancelled walk")
	}
}

func TestTraversalBlocked(t *testing.T) {
	s := tempVault(t)

	cases := []string{
		"../../etc/passwd",
		"../outside.md",
		"/etc/shadow",
	}
	for _, p := range cases {
		if _, err := s.Read(p); err == nil {
			t.Errorf("expected error for path %q", p)
		}
		if err := s.Write(p, []byte("x")); err == nil {
			t.Errorf("expected error for write to %q", p)
		}
	}
}

func TestNewFS_NonExistentDir(t *testing.T) {
	_, err := NewFS(filepath.Join(t.TempDir(), "does-not-exist"))
	if err == nil {
		t.Error("expected error for non-existent dir")
	}
}

func TestNewFS_FileNotDir(t *testing.T) {
	f, _ := os.CreateTemp("", "ansuz-test-*")
	_ = f.Close()
	defer os.Remove(f.Name())
	_, err := NewFS(f.Name())
	if err == nil {
		t.Error("expected error when root is a file")
	}
}
