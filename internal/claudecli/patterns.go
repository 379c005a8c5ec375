package claudecli

import (
	"regexp"
	"strings"

	"github.com/charmbracelet/x/ansi"
)

var (
	urlPattern         = regexp.MustCompile(`https?://[^\s)]+`)
	claudeLoginPattern = regexp.MustCompile(`https?://(?:api\.)?claude\.ai/[^\s)]+`)
	emailPattern       = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
)

// StripANSI removes terminal escape sequences.
func StripANSI(text string) string {
	return ansi.Strip(text)
}

// ExtractURL returns the first claude.ai URL in text, falling back to any URL.
func ExtractURL(text string) string {
	if match := claudeLoginPattern.FindString(text); match != "" {
		return match
	}
	return strings.TrimRight(urlPattern.FindString(text), ")")
}

// ExtractEmail returns the first email address in text.
func ExtractEmail(text string) string {
	return emailPattern.FindString(text)
}

// OutputLines normalizes a chunk of CLI output into non-empty trimmed lines.
// Carriage returns count as line breaks so spinner frames are split apart.
func OutputLines(chunk string) []string {
	cleaned := strings.ReplaceAll(StripANSI(chunk), "\r", "\n")
	var lines []string
	for _, line := range strings.Split(cleaned, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
