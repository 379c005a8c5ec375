package tools

import (
	"os"
	"path/filepath"
	"testing"
)

func resolvedTempDir(t *testing.T) string {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatalf("resolve temp dir: %v", err)
	}
	return dir
}

func TestCanonicalize_RejectsEscape(t *testing.T) {
	root := resolvedTempDir(t)

	cases := []string{
		"../outside.txt",
		"sub/../../outside.txt",
		"/etc/passwd",
		"",
	}
	for _, raw := range cases {
		if _, _, ok := Canonicalize(raw, root); ok {
			t.Fatalf("expected %q to be rejected", raw)
		}
	}
}

func TestCanonicalize_RejectsSiblingPrefix(t *testing.T) {
	parent := resolvedTempDir(t)
	root := filepath.Join(parent, "ws")
	if err := os.MkdirAll(root, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if _, _, ok := Canonicalize(filepath.Join(parent, "ws-evil", "a.txt"), root); ok {
		t.Fatal("expected sibling directory sharing a prefix to be rejected")
	}
}

func TestCanonicalize_RejectsSymlinkEscape(t *testing.T) {
	root := resolvedTempDir(t)
	outside := resolvedTempDir(t)
	if err := os.Symlink(outside, filepath.Join(root, "link")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	if _, _, ok := Canonicalize("link/secret.txt", root); ok {
		t.Fatal("expected symlink escape to be rejected")
	}
}

func TestCanonicalize_DescendantRoundTrip(t *testing.T) {
	root := resolvedTempDir(t)

	canonical, relative, ok := Canonicalize("notes/todo.txt", root)
	if !ok {
		t.Fatal("expected relative descendant to be accepted")
	}
	if canonical != filepath.Join(root, "notes", "todo.txt") {
		t.Fatalf("unexpected canonical path %q", canonical)
	}
	if relative != "notes/todo.txt" {
		t.Fatalf("unexpected relative path %q", relative)
	}

	again, relAgain, ok := Canonicalize(canonical, root)
	if !ok || again != canonical || relAgain != relative {
		t.Fatalf("canonicalizing the canonical path changed it: %q %q %v", again, relAgain, ok)
	}
}

func TestCanonicalize_ResolvesSymlinkedRoot(t *testing.T) {
	real := resolvedTempDir(t)
	linkParent := resolvedTempDir(t)
	linkRoot := filepath.Join(linkParent, "ws")
	if err := os.Symlink(real, linkRoot); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	canonical, relative, ok := Canonicalize(filepath.Join(linkRoot, "a.txt"), linkRoot)
	if !ok {
		t.Fatal("expected path under symlinked root to be accepted")
	}
	if canonical != filepath.Join(real, "a.txt") || relative != "a.txt" {
		t.Fatalf("unexpected result %q %q", canonical, relative)
	}
}
