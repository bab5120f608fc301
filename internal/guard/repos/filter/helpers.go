package filter

import "strings"

// stripLineBOM removes a potential UTF-8 BOM at the start of a line.
func stripLineBOM(s string) string {
	return strings.TrimPrefix(s, "﻿")
}

// classifyLine trims whitespace and classifies the line as empty or a
// whole-line comment. Returns (isEmpty, isComment).
func classifyLine(s string) (bool, bool) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return true, false
	}
	if strings.HasPrefix(trimmed, "#") {
		return false, true
	}
	return false, false
}

// stripInlineComment removes a trailing "# ..." comment from a line.
func stripInlineComment(s string) string {
	if idx := strings.IndexByte(s, '#'); idx >= 0 {
		return s[:idx]
	}
	return s
}
