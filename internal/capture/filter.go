package capture

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/charmbracelet/x/ansi"
)

var (
	optionPattern   = regexp.MustCompile(`^(❯\s*)?\d+\.\s+(Yes|No|Always)\b`)
	toolCallPattern = regexp.MustCompile(`^⏺\s*[\w.-]+\(`)
	pluginPattern   = regexp.MustCompile(`^plugin:\S`)
	// Token counts are chrome only in status-line shapes, not in prose.
	counterPattern = regexp.MustCompile(`(?i)^\d[\d.,]*k?\s+tokens?\b|[↑↓]\s*\d[\d.,]*k?\s+tokens?\b|\(\s*\d[\d.,]*k?\s+tokens?\s*\)|^context left\b|^auto-compact\b`)
	promptPrefixes = []string{">", "❯", "$ "}
	noiseMarkers   = []string{
		"? for shortcuts",
		"esc to interrupt",
		"Do you want to proceed",
		"Do you want to make this edit",
		"Running PreToolUse hook",
		"Running PostToolUse hook",
		"mcp__",
	}
)

// FilterNoise drops terminal chrome from captured lines and returns the
// remaining text joined by newlines.
func FilterNoise(lines []string) string {
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		clean := strings.TrimRightFunc(ansi.Strip(line), unicode.IsSpace)
		if isNoise(clean) {
			continue
		}
		kept = append(kept, clean)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// Clean strips escape sequences from a whole capture.
func Clean(text string) string {
	return ansi.Strip(text)
}

func isNoise(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return true
	}
	first, _ := utf8.DecodeRuneInString(trimmed)
	if isSpinner(first) || isBoxDrawing(first) {
		return true
	}
	if optionPattern.MatchString(trimmed) {
		return true
	}
	for _, prefix := range promptPrefixes {
		if strings.HasPrefix(trimmed, prefix) {
			return true
		}
	}
	if strings.HasPrefix(trimmed, "⎿") || toolCallPattern.MatchString(trimmed) {
		return true
	}
	if pluginPattern.MatchString(trimmed) {
		return true
	}
	for _, marker := range noiseMarkers {
		if strings.Contains(trimmed, marker) {
			return true
		}
	}
	return counterPattern.MatchString(trimmed)
}

// isSpinner matches braille spinner frames and the star glyphs used as
// progress markers.
func isSpinner(r rune) bool {
	if r >= 0x2800 && r <= 0x28FF {
		return true
	}
	return strings.ContainsRune("✻✽✶✳✢", r)
}

func isBoxDrawing(r rune) bool {
	return r >= 0x2500 && r <= 0x257F
}
