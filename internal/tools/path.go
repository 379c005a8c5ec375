package tools

import (
	"os"
	"path/filepath"
	"strings"
)

// Canonicalize resolves rawPath against workspaceRoot. Relative paths are joined to
// the root, symlinks are resolved through the longest existing ancestor, and the
// result must be the root itself or lie beneath it. ok is false otherwise.
func Canonicalize(rawPath, workspaceRoot string) (canonical, relative string, ok bool) {
	rawPath = strings.TrimSpace(rawPath)
	workspaceRoot = strings.TrimSpace(workspaceRoot)
	if rawPath == "" || workspaceRoot == "" {
		return "", "", false
	}

	root, err := resolveExisting(workspaceRoot)
	if err != nil {
		return "", "", false
	}

	candidate := rawPath
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(root, candidate)
	}
	canonical, err = resolveExisting(candidate)
	if err != nil {
		return "", "", false
	}

	if !withinRoot(canonical, root) {
		return "", "", false
	}
	relative, err = filepath.Rel(root, canonical)
	if err != nil {
		return "", "", false
	}
	return canonical, filepath.ToSlash(relative), true
}

func withinRoot(path, root string) bool {
	if path == root {
		return true
	}
	return strings.HasPrefix(path, strings.TrimSuffix(root, string(filepath.Separator))+string(filepath.Separator))
}

// resolveExisting makes path absolute and resolves symlinks of the longest
// prefix that exists on disk. The missing tail is appended unchanged.
func resolveExisting(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	abs = filepath.Clean(abs)

	var tail []string
	current := abs
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			parts := append([]string{resolved}, tail...)
			return filepath.Join(parts...), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(current)
		if parent == current {
			return abs, nil
		}
		tail = append([]string{filepath.Base(current)}, tail...)
		current = parent
	}
}
