package capture

import "strings"

const DefaultTailLines = 10

// Diff returns the part of current that was not already in previous, and
// the snapshot to remember next (always current).
//
// The last non-blank line of previous is searched for in current starting
// at the index where previous ended; everything after the first hit is new.
// When nothing matches and current grew, the last tailLines lines are
// reported instead. That fallback is best effort and may repeat or skip
// content after the pane scrolls.
func Diff(previous, current string, tailLines int) (string, string) {
	if previous == "" {
		return current, current
	}
	if previous == current {
		return "", current
	}
	if tailLines <= 0 {
		tailLines = DefaultTailLines
	}

	prevLines := strings.Split(previous, "\n")
	curLines := strings.Split(current, "\n")

	last := len(prevLines) - 1
	for last >= 0 && strings.TrimSpace(prevLines[last]) == "" {
		last--
	}
	if last >= 0 {
		anchor := prevLines[last]
		for i := last; i < len(curLines); i++ {
			if curLines[i] == anchor {
				return strings.Join(curLines[i+1:], "\n"), current
			}
		}
	}

	if len(curLines) > len(prevLines) {
		start := len(curLines) - tailLines
		if start < 0 {
			start = 0
		}
		return strings.Join(curLines[start:], "\n"), current
	}
	return "", current
}
