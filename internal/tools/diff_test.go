package tools

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRenderDiff_IdenticalContentHasNoDiff(t *testing.T) {
	root := resolvedTempDir(t)
	path := filepath.Join(root, "same.txt")
	if err := os.WriteFile(path, []byte("unchanged\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if diff, ok := RenderDiff(path, "same.txt", map[string]any{"content": "unchanged\n"}); ok {
		t.Fatalf("expected no diff, got %q", diff)
	}
}

func TestRenderDiff_OneLineChange(t *testing.T) {
	root := resolvedTempDir(t)
	path := filepath.Join(root, "note.txt")
	if err := os.WriteFile(path, []byte("hello\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	diff, ok := RenderDiff(path, "note.txt", map[string]any{"content": "world\n"})
	if !ok {
		t.Fatal("expected diff")
	}
	for _, want := range []string{"--- a/note.txt", "+++ b/note.txt", "-hello", "+world"} {
		if !strings.Contains(diff, want) {
			t.Fatalf("expected diff to contain %q:\n%s", want, diff)
		}
	}
}

func TestRenderDiff_MissingFileIsPureAddition(t *testing.T) {
	root := resolvedTempDir(t)
	path := filepath.Join(root, "new.txt")

	diff, ok := RenderDiff(path, "", map[string]any{"content": "hi\n"})
	if !ok {
		t.Fatal("expected diff for new file")
	}
	if !strings.Contains(diff, "+hi") {
		t.Fatalf("expected addition line:\n%s", diff)
	}
	if !strings.Contains(diff, "--- a/new.txt") {
		t.Fatalf("expected basename label when relative is empty:\n%s", diff)
	}
}

func TestRenderDiff_NonTextContent(t *testing.T) {
	root := resolvedTempDir(t)
	path := filepath.Join(root, "x.txt")
	if _, ok := RenderDiff(path, "x.txt", map[string]any{"content": 42}); ok {
		t.Fatal("expected no diff for non-string content")
	}
	if _, ok := RenderDiff(path, "x.txt", map[string]any{}); ok {
		t.Fatal("expected no diff without content")
	}
}

func TestRenderDiff_Truncates(t *testing.T) {
	root := resolvedTempDir(t)
	path := filepath.Join(root, "big.txt")

	var b strings.Builder
	for i := 0; i < 300; i++ {
		b.WriteString("line\n")
	}
	diff, ok := RenderDiff(path, "big.txt", map[string]any{"content": b.String()})
	if !ok {
		t.Fatal("expected diff")
	}
	lines := strings.Split(diff, "\n")
	if len(lines) != maxDiffLines+1 {
		t.Fatalf("expected %d lines, got %d", maxDiffLines+1, len(lines))
	}
	if lines[len(lines)-1] != truncatedLine {
		t.Fatalf("expected truncation marker, got %q", lines[len(lines)-1])
	}
}

func TestRenderDiff_NewFileHeader(t *testing.T) {
	root := resolvedTempDir(t)
	path := filepath.Join(root, "fresh.txt")

	diff, ok := RenderDiff(path, "fresh.txt", map[string]any{"content": "hi"})
	if !ok {
		t.Fatal("expected diff for new file")
	}
	want := "--- a/fresh.txt\n+++ b/fresh.txt\n@@ -0,0 +1 @@\n+hi"
	if diff != want {
		t.Fatalf("unexpected diff:\n%s", diff)
	}
}

func TestRenderDiff_EmptiedFileHeader(t *testing.T) {
	root := resolvedTempDir(t)
	path := filepath.Join(root, "gone.txt")
	if err := os.WriteFile(path, []byte("a\nb\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	diff, ok := RenderDiff(path, "gone.txt", map[string]any{"content": ""})
	if !ok {
		t.Fatal("expected diff")
	}
	if !strings.Contains(diff, "@@ -1,2 +0,0 @@") {
		t.Fatalf("unexpected header:\n%s", diff)
	}
}

func TestRenderDiff_TrailingNewlineOnlyIsNoChange(t *testing.T) {
	root := resolvedTempDir(t)
	path := filepath.Join(root, "eol.txt")
	if err := os.WriteFile(path, []byte("hi"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if diff, ok := RenderDiff(path, "eol.txt", map[string]any{"content": "hi\n"}); ok {
		t.Fatalf("expected no diff, got %q", diff)
	}
}

func TestRenderDiff_OmitsNoNewlineMarker(t *testing.T) {
	root := resolvedTempDir(t)
	path := filepath.Join(root, "tail.txt")
	if err := os.WriteFile(path, []byte("one\ntwo"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	diff, ok := RenderDiff(path, "tail.txt", map[string]any{"content": "one\nthree"})
	if !ok {
		t.Fatal("expected diff")
	}
	if strings.Contains(diff, "No newline at end of file") {
		t.Fatalf("unexpected newline marker:\n%s", diff)
	}
	want := "--- a/tail.txt\n+++ b/tail.txt\n@@ -1,2 +1,2 @@\n one\n-two\n+three"
	if diff != want {
		t.Fatalf("unexpected diff:\n%s", diff)
	}
}
