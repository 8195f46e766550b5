// Package textnorm normalizes user-entered labels and prompts.
package textnorm

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	MaxNameLen   = 80
	MaxPromptLen = 4000

	defaultNamePrefix = "Session"
)

// CollapseSpaces trims text and joins its words with single spaces.
func CollapseSpaces(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// Truncate shortens text to at most max runes, preferring to cut at the last
// space when that keeps at least minKeep runes.
func Truncate(text string, max, minKeep int) string {
	if max <= 0 || utf8.RuneCountInString(text) <= max {
		return text
	}
	runes := []rune(text)
	trimmed := string(runes[:max])
	if cut := strings.LastIndex(trimmed, " "); cut >= 0 && utf8.RuneCountInString(trimmed[:cut]) >= minKeep {
		trimmed = trimmed[:cut]
	}
	return strings.TrimSpace(trimmed)
}

// SnapshotName returns a one-line label for a saved session. An empty name
// becomes "Session <seq>".
func SnapshotName(name string, seq int) string {
	normalized := CollapseSpaces(name)
	if normalized == "" {
		return fmt.Sprintf("%s %d", defaultNamePrefix, seq)
	}
	return Truncate(normalized, MaxNameLen, 16)
}

// Prompt drops leading blank lines and trailing whitespace from a prompt
// while keeping its inner line structure, then bounds its length.
func Prompt(text string) string {
	text = strings.TrimRight(TrimLeadingBlankLines(text), " \t\r\n")
	if strings.TrimSpace(text) == "" {
		return ""
	}
	if utf8.RuneCountInString(text) > MaxPromptLen {
		text = string([]rune(text)[:MaxPromptLen])
	}
	return text
}

// TrimLeadingBlankLines removes leading blank lines while preserving
// intentional leading spaces on the first non-empty line.
func TrimLeadingBlankLines(text string) string {
	i := 0
	for i < len(text) {
		j := i
		for j < len(text) && (text[j] == ' ' || text[j] == '\t') {
			j++
		}
		if j >= len(text) {
			return text
		}

		switch text[j] {
		case '\n':
			i = j + 1
		case '\r':
			if j+1 < len(text) && text[j+1] == '\n' {
				i = j + 2
			} else {
				i = j + 1
			}
		default:
			return text[i:]
		}
	}
	return text[i:]
}
