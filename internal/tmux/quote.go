package tmux

import "strings"

// ShellQuote wraps value in single quotes for a POSIX shell. Embedded
// single quotes become '\''.
func ShellQuote(value string) string {
	return "'" + strings.ReplaceAll(value, "'", `'\''`) + "'"
}
