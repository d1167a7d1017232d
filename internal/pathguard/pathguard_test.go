package pathguard

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestResolveWithinRoot(t *testing.T) {
	root := t.TempDir()
	g, err := New(root)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	resolved, err := g.Resolve("a.txt")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	want := filepath.Join(root, "a.txt")
	if resolved != want {
		t.Fatalf("Resolve() = %q, want %q", resolved, want)
	}
}

func TestResolveRejectsDotDotEscape(t *testing.T) {
	root := t.TempDir()
	g, err := New(root)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = g.Resolve("../../etc/passwd")
	var traversal *TraversalError
	if !errors.As(err, &traversal) {
		t.Fatalf("Resolve() error = %v, want *TraversalError", err)
	}
}

func TestResolveAllowsNonexistentDescendant(t *testing.T) {
	root := t.TempDir()
	g, err := New(root)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	resolved, err := g.Resolve("nested/new-file.txt")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	want := filepath.Join(root, "nested", "new-file.txt")
	if resolved != want {
		t.Fatalf("Resolve() = %q, want %q", resolved, want)
	}
}

func TestResolveRejectsSymlinkEscape(t *testing.T) {
	if os.Getenv("SKIP_SYMLINK_TESTS") != "" {
		t.Skip("symlinks unsupported in this environment")
	}
	root := t.TempDir()
	outside := t.TempDir()
	outsideFile := filepath.Join(outside, "secret.txt")
	if err := os.WriteFile(outsideFile, []byte("s"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	g, err := New(root)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	link := filepath.Join(root, "escape")
	if err := os.Symlink(outsideFile, link); err != nil {
		t.Skipf("symlink not supported: %v", err)
	}

	_, err = g.Resolve("escape")
	var traversal *TraversalError
	if !errors.As(err, &traversal) {
		t.Fatalf("Resolve() error = %v, want *TraversalError for a symlink escaping root", err)
	}
}

func TestRelProducesSlashSeparatedPath(t *testing.T) {
	root := t.TempDir()
	g, err := New(root)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	abs := filepath.Join(root, "a", "b.txt")
	rel, err := g.Rel(abs)
	if err != nil {
		t.Fatalf("Rel() error = %v", err)
	}
	if rel != "a/b.txt" {
		t.Fatalf("Rel() = %q, want %q", rel, "a/b.txt")
	}
}

func TestRelOfRootItselfIsEmpty(t *testing.T) {
	root := t.TempDir()
	g, err := New(root)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	rel, err := g.Rel(g.Root())
	if err != nil {
		t.Fatalf("Rel() error = %v", err)
	}
	if rel != "" {
		t.Fatalf("Rel(root) = %q, want empty string", rel)
	}
}
