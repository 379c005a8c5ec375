package tools

import (
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
)

// DefaultSnippetChars bounds tool-result file snippets.
const DefaultSnippetChars = 400

var writeTools = map[string]bool{
	"Write":        true,
	"Edit":         true,
	"MultiEdit":    true,
	"NotebookEdit": true,
}

var pathKeys = []string{"file_path", "path", "notebook_path"}

// IsWriteTool reports whether tool writes to the file system.
func IsWriteTool(tool string) bool {
	return writeTools[tool]
}

// TargetPath returns the first non-empty path argument of a tool input.
func TargetPath(input map[string]any) string {
	for _, key := range pathKeys {
		if value, ok := input[key].(string); ok && strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// Context describes a tool invocation after path resolution.
type Context struct {
	ToolName  string
	Write     bool
	RawPath   string
	Canonical string
	Relative  string
	// Outside is set when a write tool targets a path that does not resolve inside the workspace.
	Outside bool
	Diff    string
}

// Resolver holds the workspace root and remembered always-allow rules.
type Resolver struct {
	mu        sync.RWMutex
	workspace string
	rules     map[string]map[string]struct{}
	logger    *slog.Logger
}

func NewResolver(workspace string, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		workspace: workspace,
		rules:     make(map[string]map[string]struct{}),
		logger:    logger,
	}
}

func (r *Resolver) SetWorkspace(workspace string) {
	r.mu.Lock()
	r.workspace = workspace
	r.mu.Unlock()
}

func (r *Resolver) Workspace() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.workspace
}

// ConfigureAllowRules replaces all rules.
func (r *Resolver) ConfigureAllowRules(rules map[string][]string) {
	next := make(map[string]map[string]struct{}, len(rules))
	for tool, paths := range rules {
		set := make(map[string]struct{}, len(paths))
		for _, p := range paths {
			if p != "" {
				set[p] = struct{}{}
			}
		}
		next[tool] = set
	}

	r.mu.Lock()
	r.rules = next
	r.mu.Unlock()
}

// AllowRules returns the rules as sorted path lists.
func (r *Resolver) AllowRules() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string][]string, len(r.rules))
	for tool, set := range r.rules {
		paths := make([]string, 0, len(set))
		for p := range set {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		out[tool] = paths
	}
	return out
}

func (r *Resolver) ShouldAutoAllow(tool, canonical string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.rules[tool][canonical]
	return ok
}

// RecordAutoAllow remembers (tool, canonical). Recording twice is a no-op.
func (r *Resolver) RecordAutoAllow(tool, canonical string) {
	if tool == "" || canonical == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.rules[tool]
	if !ok {
		set = make(map[string]struct{})
		r.rules[tool] = set
	}
	set[canonical] = struct{}{}
}

// Resolve canonicalizes the target of a write tool and previews its diff.
func (r *Resolver) Resolve(tool string, input map[string]any) Context {
	ctx := Context{ToolName: tool, Write: IsWriteTool(tool)}
	if !ctx.Write {
		return ctx
	}
	ctx.RawPath = TargetPath(input)
	if ctx.RawPath == "" {
		return ctx
	}

	canonical, relative, ok := Canonicalize(ctx.RawPath, r.Workspace())
	if !ok {
		ctx.Outside = true
		return ctx
	}
	ctx.Canonical = canonical
	ctx.Relative = relative
	ctx.Diff, _ = RenderDiff(canonical, relative, input)
	return ctx
}

// Snippet returns the trailing maxChars characters of the file at canonical.
func (r *Resolver) Snippet(canonical string, maxChars int) (string, bool) {
	if canonical == "" {
		return "", false
	}
	if maxChars <= 0 {
		maxChars = DefaultSnippetChars
	}
	data, ok := bestEffort(r.logger, "read snippet", func() ([]byte, error) {
		return os.ReadFile(canonical)
	})
	if !ok {
		return "", false
	}
	runes := []rune(string(data))
	if len(runes) > maxChars {
		runes = runes[len(runes)-maxChars:]
	}
	return string(runes), true
}

// bestEffort runs fn and degrades any failure to the zero value, logging at debug.
func bestEffort[T any](logger *slog.Logger, op string, fn func() (T, error)) (T, bool) {
	value, err := fn()
	if err != nil {
		logger.Debug("best-effort operation failed", "op", op, "error", err)
		var zero T
		return zero, false
	}
	return value, true
}
