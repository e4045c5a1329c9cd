package ui

import (
	"strings"

	"github.com/muesli/reflow/wordwrap"
)

func wrapWords(s string, width int) string {
	if width <= 0 {
		return s
	}
	return strings.TrimRight(wordwrap.String(s, width), "\n")
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
