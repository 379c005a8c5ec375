package tools

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/hexops/gotextdiff/span"
)

const (
	maxDiffLines  = 200
	truncatedLine = "... diff truncated ..."
)

// RenderDiff previews a write of input["content"] to canonical as a unified diff.
// It returns false when the tool input has no textual content, the current file
// cannot be read, or nothing would change.
func RenderDiff(canonical, relative string, input map[string]any) (string, bool) {
	after, ok := input["content"].(string)
	if !ok {
		return "", false
	}

	before := ""
	data, err := os.ReadFile(canonical)
	switch {
	case err == nil:
		before = string(data)
	case os.IsNotExist(err):
	default:
		return "", false
	}
	beforeLines, afterLines := splitLines(before), splitLines(after)
	if slices.Equal(beforeLines, afterLines) {
		return "", false
	}

	label := relative
	if label == "" || label == "." {
		label = filepath.Base(canonical)
	}
	from, to := joinLines(beforeLines), joinLines(afterLines)
	edits := myers.ComputeEdits(span.URIFromPath(canonical), from, to)
	unified := gotextdiff.ToUnified("a/"+label, "b/"+label, from, edits)
	if len(unified.Hunks) == 0 {
		return "", false
	}
	return truncateLines(formatUnified(unified), maxDiffLines), true
}

// splitLines breaks text into lines without terminators, so a missing final
// newline does not count as a change.
func splitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

func joinLines(lines []string) string {
	var b strings.Builder
	for _, line := range lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

// formatUnified renders hunks with conventional range headers: an empty side
// is written as "start,0" where start is the line before the hunk.
func formatUnified(u gotextdiff.Unified) string {
	var b strings.Builder
	fmt.Fprintf(&b, "--- %s\n+++ %s\n", u.From, u.To)
	for _, h := range u.Hunks {
		fromCount, toCount := 0, 0
		for _, l := range h.Lines {
			switch l.Kind {
			case gotextdiff.Delete:
				fromCount++
			case gotextdiff.Insert:
				toCount++
			default:
				fromCount++
				toCount++
			}
		}
		fmt.Fprintf(&b, "@@ %s %s @@\n", hunkRange("-", h.FromLine, fromCount), hunkRange("+", h.ToLine, toCount))
		for _, l := range h.Lines {
			prefix := " "
			switch l.Kind {
			case gotextdiff.Delete:
				prefix = "-"
			case gotextdiff.Insert:
				prefix = "+"
			}
			b.WriteString(prefix)
			b.WriteString(strings.TrimSuffix(l.Content, "\n"))
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func hunkRange(sign string, start, count int) string {
	switch count {
	case 0:
		return fmt.Sprintf("%s%d,0", sign, start-1)
	case 1:
		return fmt.Sprintf("%s%d", sign, start)
	default:
		return fmt.Sprintf("%s%d,%d", sign, start, count)
	}
}

func truncateLines(text string, limit int) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) <= limit {
		return strings.Join(lines, "\n")
	}
	kept := append(lines[:limit:limit], truncatedLine)
	return strings.Join(kept, "\n")
}
